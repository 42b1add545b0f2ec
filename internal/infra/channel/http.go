package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Config holds settings for one HTTP messaging gateway.
type Config struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPClient sends payloads through a JSON-over-HTTP messaging gateway.
type HTTPClient struct {
	name       string
	endpoint   string
	apiKey     string
	httpClient *http.Client

	mu           sync.RWMutex
	successCount int
	failureCount int
	lastSuccess  time.Time
	lastFailure  time.Time
}

// NewHTTPClient creates a gateway client.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		name:     cfg.Name,
		endpoint: cfg.URL,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name returns the configured gateway name.
func (c *HTTPClient) Name() string { return c.name }

type sendRequest struct {
	Recipient    string `json:"recipient"`
	Text         string `json:"text,omitempty"`
	ArtifactName string `json:"artifact_name,omitempty"`
	Artifact     string `json:"artifact,omitempty"` // base64
	ReferenceURL string `json:"reference_url,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// Send posts the payload to the gateway. Rate limiting and auth responses
// surface as errors with recognizable markers so the classifier can route
// them.
func (c *HTTPClient) Send(ctx context.Context, recipient string, payload Payload) (*SendResult, error) {
	body := sendRequest{
		Recipient:    recipient,
		Text:         payload.Text,
		ArtifactName: payload.ArtifactName,
		ReferenceURL: payload.ReferenceURL,
	}
	if len(payload.Artifact) > 0 {
		body.Artifact = base64.StdEncoding.EncodeToString(payload.Artifact)
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("channel send: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		c.recordFailure()
		return nil, fmt.Errorf("rate limited (429), retry after: %s", resp.Header.Get("Retry-After"))
	case http.StatusUnauthorized:
		c.recordFailure()
		return nil, fmt.Errorf("401 unauthorized: channel rejected credentials")
	case http.StatusForbidden:
		c.recordFailure()
		return nil, fmt.Errorf("403 forbidden")
	case http.StatusRequestEntityTooLarge:
		c.recordFailure()
		return nil, fmt.Errorf("payload too large (413)")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		c.recordFailure()
		return nil, fmt.Errorf("channel returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != "" {
		c.recordFailure()
		return nil, fmt.Errorf("channel error: %s", parsed.Error)
	}

	c.recordSuccess()
	return &SendResult{MessageID: parsed.MessageID, SentAt: time.Now()}, nil
}

// Healthy reports whether the most recent send outcome was a success.
func (c *HTTPClient) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.successCount == 0 && c.failureCount == 0 {
		return true // nothing sent yet
	}
	return c.lastSuccess.After(c.lastFailure)
}

func (c *HTTPClient) recordSuccess() {
	c.mu.Lock()
	c.successCount++
	c.lastSuccess = time.Now()
	c.mu.Unlock()
}

func (c *HTTPClient) recordFailure() {
	c.mu.Lock()
	c.failureCount++
	c.lastFailure = time.Now()
	c.mu.Unlock()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
