package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Tier partitions the cache. Tiers share one memory budget but carry
// independent TTLs because eviction pressure differs per artifact kind
// (templates outlive rendered artifacts by roughly 4x).
type Tier string

const (
	TierMarkup    Tier = "markup"
	TierBinary    Tier = "binary"
	TierComponent Tier = "component"
	TierTemplate  Tier = "template"
)

// Tiers lists every cache tier.
var Tiers = []Tier{TierMarkup, TierBinary, TierComponent, TierTemplate}

// Config bounds the cache and tunes its behavior.
type Config struct {
	MaxEntries        int                    `yaml:"max_entries"`
	MaxBytes          int64                  `yaml:"max_bytes"`
	DefaultTTL        time.Duration          `yaml:"default_ttl"`
	TierTTL           map[Tier]time.Duration `yaml:"tier_ttl"`
	CompressThreshold int                    `yaml:"compress_threshold"`
	SweepInterval     time.Duration          `yaml:"sweep_interval"`
}

// DefaultConfig provides sensible defaults for a single-process deployment.
var DefaultConfig = Config{
	MaxEntries:        2000,
	MaxBytes:          64 << 20, // 64 MiB shared across tiers
	DefaultTTL:        30 * time.Minute,
	TierTTL:           map[Tier]time.Duration{TierTemplate: 2 * time.Hour},
	CompressThreshold: 32 << 10,
	SweepInterval:     5 * time.Minute,
}

type entry struct {
	key            string
	tier           Tier
	data           []byte
	compressed     bool
	createdAt      time.Time
	expiresAt      time.Time
	sizeBytes      int64
	accessCount    int64
	lastAccessedAt time.Time
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Entries     int
	Bytes       int64
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	HitRate     float64
	MissRate    float64
}

// Cache is a bounded, multi-tier TTL+LRU store for rendered artifacts. A
// single mutex serializes access; the lock is never held across render calls
// or compression of inbound payloads.
type Cache struct {
	cfg        Config
	compressor Compressor
	log        *slog.Logger

	mu          sync.Mutex
	tiers       map[Tier]map[string]*entry
	totalBytes  int64
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// New creates a cache with the given bounds. A nil compressor disables
// compression.
func New(cfg Config, compressor Compressor, log *slog.Logger) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig.MaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig.MaxBytes
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig.DefaultTTL
	}
	if compressor == nil {
		compressor = NopCompressor{}
	}
	if log == nil {
		log = slog.Default()
	}

	tiers := make(map[Tier]map[string]*entry, len(Tiers))
	for _, t := range Tiers {
		tiers[t] = make(map[string]*entry)
	}

	return &Cache{
		cfg:        cfg,
		compressor: compressor,
		log:        log,
		tiers:      tiers,
	}
}

// TTL returns the configured TTL for a tier, falling back to the default.
func (c *Cache) TTL(tier Tier) time.Duration {
	if ttl, ok := c.cfg.TierTTL[tier]; ok && ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}

// Get returns the payload stored under (tier, key). Expired entries are
// treated as misses and purged on the spot.
func (c *Cache) Get(tier Tier, key string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.tiers[tier][key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	if now.After(e.expiresAt) {
		c.removeLocked(e)
		c.expirations++
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	e.accessCount++
	e.lastAccessedAt = now
	c.hits++
	data := e.data
	compressed := e.compressed
	c.mu.Unlock()

	if !compressed {
		out := make([]byte, len(data))
		copy(out, data)
		return out, true
	}

	out, err := c.compressor.Decompress(data)
	if err != nil {
		// Corrupt entry: drop it and report a miss.
		c.log.Warn("cache decompress failed, dropping entry", "tier", tier, "key", key, "error", err)
		c.mu.Lock()
		if cur, ok := c.tiers[tier][key]; ok && cur == e {
			c.removeLocked(cur)
		}
		c.hits--
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	return out, true
}

// Put stores a payload under (tier, key), evicting least-recently-accessed
// entries across all tiers until both the entry and byte bounds hold. A ttl
// <= 0 stores the entry already expired. Payloads larger than the whole byte
// budget are not cached.
func (c *Cache) Put(tier Tier, key string, data []byte, ttl time.Duration) {
	stored := make([]byte, len(data))
	copy(stored, data)

	// Compression happens before taking the lock.
	compressed := false
	if c.cfg.CompressThreshold > 0 && len(stored) >= c.cfg.CompressThreshold {
		if small, err := c.compressor.Compress(stored); err == nil && len(small) < len(stored) {
			stored = small
			compressed = true
		}
	}

	size := int64(len(stored))
	if size > c.cfg.MaxBytes {
		c.log.Warn("payload exceeds cache byte budget, not cached",
			"tier", tier, "key", key, "size", size)
		return
	}

	now := time.Now()
	e := &entry{
		key:            key,
		tier:           tier,
		data:           stored,
		compressed:     compressed,
		createdAt:      now,
		expiresAt:      now.Add(ttl),
		sizeBytes:      size,
		lastAccessedAt: now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.tiers[tier][key]; ok {
		c.removeLocked(old)
	}

	for c.entryCountLocked()+1 > c.cfg.MaxEntries || c.totalBytes+size > c.cfg.MaxBytes {
		if !c.evictOneLocked() {
			break
		}
	}

	c.tiers[tier][key] = e
	c.totalBytes += size
}

// Invalidate removes every entry, in every tier, whose key contains the
// given correlation id. Returns the number of entries removed. Callers must
// invalidate after any data correction so stale artifacts are never served.
func (c *Cache) Invalidate(correlationID string) int {
	if correlationID == "" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, entries := range c.tiers {
		for key, e := range entries {
			if strings.Contains(key, correlationID) {
				c.removeLocked(e)
				removed++
			}
		}
	}
	return removed
}

// Sweep purges every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, entries := range c.tiers {
		for _, e := range entries {
			if now.After(e.expiresAt) {
				c.removeLocked(e)
				c.expirations++
				removed++
			}
		}
	}
	return removed
}

// Start runs the proactive expiry sweeper until ctx is cancelled.
func (c *Cache) Start(ctx context.Context) {
	interval := c.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig.SweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug("cache sweep removed expired entries", "count", n)
			}
		}
	}
}

// Stats returns a snapshot of cache usage and effectiveness.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:     c.entryCountLocked(),
		Bytes:       c.totalBytes,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
		s.MissRate = float64(c.misses) / float64(total)
	}
	return s
}

func (c *Cache) entryCountLocked() int {
	n := 0
	for _, entries := range c.tiers {
		n += len(entries)
	}
	return n
}

// evictOneLocked removes the least-recently-accessed entry across all tiers.
// Tiers compete for one shared budget, so eviction is global.
func (c *Cache) evictOneLocked() bool {
	var victim *entry
	for _, entries := range c.tiers {
		for _, e := range entries {
			if victim == nil || e.lastAccessedAt.Before(victim.lastAccessedAt) {
				victim = e
			}
		}
	}
	if victim == nil {
		return false
	}
	c.removeLocked(victim)
	c.evictions++
	return true
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.tiers[e.tier], e.key)
	c.totalBytes -= e.sizeBytes
}
