package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eventra/courier/internal/core/domain"
)

// Config holds settings for the HTTP render service.
type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPRenderer calls a render service over JSON/HTTP and returns the raw
// artifact bytes.
type HTTPRenderer struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPRenderer creates a render service client.
func NewHTTPRenderer(cfg Config) *HTTPRenderer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPRenderer{
		endpoint: cfg.URL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type renderRequest struct {
	Kind     string         `json:"kind"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

// Render posts the descriptor to the render service.
func (r *HTTPRenderer) Render(ctx context.Context, desc domain.ArtifactDescriptor) ([]byte, error) {
	body, err := json.Marshal(renderRequest{
		Kind:     string(desc.Kind),
		Template: desc.Template,
		Data:     desc.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("render service returned %d: %s", resp.StatusCode, raw)
	}

	artifact, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if len(artifact) == 0 {
		return nil, fmt.Errorf("render service returned empty artifact")
	}
	return artifact, nil
}
