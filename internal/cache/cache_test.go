package cache

import (
	"bytes"
	"fmt"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxEntries:        100,
		MaxBytes:          1 << 20,
		DefaultTTL:        time.Minute,
		CompressThreshold: 0, // disabled unless a test opts in
		SweepInterval:     time.Hour,
	}
}

func TestRoundTrip(t *testing.T) {
	c := New(testConfig(), nil, nil)

	data := []byte{0x00, 0x01, 0xfe, 0xff, 0x42}
	c.Put(TierBinary, "k", data, 60*time.Second)

	got, ok := c.Get(TierBinary, "k")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %v, want %v", got, data)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(testConfig(), nil, nil)
	c.Put(TierMarkup, "k", []byte("original"), time.Minute)

	got, _ := c.Get(TierMarkup, "k")
	got[0] = 'X'

	again, _ := c.Get(TierMarkup, "k")
	if string(again) != "original" {
		t.Errorf("cache entry mutated through returned slice: %q", again)
	}
}

func TestTiersAreIndependent(t *testing.T) {
	c := New(testConfig(), nil, nil)
	c.Put(TierMarkup, "k", []byte("markup"), time.Minute)
	c.Put(TierBinary, "k", []byte("binary"), time.Minute)

	m, _ := c.Get(TierMarkup, "k")
	b, _ := c.Get(TierBinary, "k")
	if string(m) != "markup" || string(b) != "binary" {
		t.Errorf("tiers not partitioned: markup=%q binary=%q", m, b)
	}
}

func TestExpiry(t *testing.T) {
	c := New(testConfig(), nil, nil)

	c.Put(TierMarkup, "dead", []byte("x"), 0)
	if _, ok := c.Get(TierMarkup, "dead"); ok {
		t.Error("entry with ttl=0 should be a miss")
	}
	if got := c.Stats().Entries; got != 0 {
		t.Errorf("expired entry still counted: Entries = %d", got)
	}

	c.Put(TierMarkup, "past", []byte("x"), -time.Hour)
	if _, ok := c.Get(TierMarkup, "past"); ok {
		t.Error("entry with past expiry should be a miss")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	c := New(testConfig(), nil, nil)
	c.Put(TierMarkup, "dead", []byte("x"), -time.Second)
	c.Put(TierMarkup, "live", []byte("y"), time.Minute)

	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d entries, want 1", n)
	}
	if _, ok := c.Get(TierMarkup, "live"); !ok {
		t.Error("sweep removed a live entry")
	}
}

func TestEvictionIsGlobalLRU(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBytes = 300
	c := New(cfg, nil, nil)

	payload := make([]byte, 100)

	c.Put(TierBinary, "first", payload, time.Minute)
	time.Sleep(2 * time.Millisecond)
	c.Put(TierMarkup, "second", payload, time.Minute)
	time.Sleep(2 * time.Millisecond)
	c.Put(TierComponent, "third", payload, time.Minute)
	time.Sleep(2 * time.Millisecond)

	// Touch "first" so "second" becomes the LRU victim.
	if _, ok := c.Get(TierBinary, "first"); !ok {
		t.Fatal("expected hit on first")
	}
	time.Sleep(2 * time.Millisecond)

	// Over budget: one entry must go, and it must be "second" even though
	// "first" was inserted earlier and lives in a different tier.
	c.Put(TierTemplate, "fourth", payload, time.Minute)

	if _, ok := c.Get(TierMarkup, "second"); ok {
		t.Error("least-recently-accessed entry survived eviction")
	}
	if _, ok := c.Get(TierBinary, "first"); !ok {
		t.Error("recently accessed entry was evicted")
	}
	if _, ok := c.Get(TierTemplate, "fourth"); !ok {
		t.Error("newly inserted entry missing")
	}
	if got := c.Stats().Bytes; got > cfg.MaxBytes {
		t.Errorf("byte accounting over budget: %d > %d", got, cfg.MaxBytes)
	}
}

func TestEntryCountBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 3
	c := New(cfg, nil, nil)

	for i := 0; i < 5; i++ {
		c.Put(TierMarkup, fmt.Sprintf("k%d", i), []byte("x"), time.Minute)
		time.Sleep(time.Millisecond)
	}

	if got := c.Stats().Entries; got != 3 {
		t.Errorf("Entries = %d, want 3", got)
	}
	// Oldest two were evicted.
	if _, ok := c.Get(TierMarkup, "k0"); ok {
		t.Error("k0 should have been evicted")
	}
	if _, ok := c.Get(TierMarkup, "k4"); !ok {
		t.Error("k4 should be present")
	}
}

func TestOversizedPayloadNotCached(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBytes = 10
	c := New(cfg, nil, nil)

	c.Put(TierBinary, "huge", make([]byte, 100), time.Minute)
	if _, ok := c.Get(TierBinary, "huge"); ok {
		t.Error("payload larger than the byte budget should not be cached")
	}
}

func TestInvalidateByCorrelationID(t *testing.T) {
	c := New(testConfig(), nil, nil)

	c.Put(TierMarkup, "markup:tx-123", []byte("a"), time.Minute)
	c.Put(TierBinary, "doc:tx-123:v1", []byte("b"), time.Minute)
	c.Put(TierComponent, "qr:tx-123", []byte("c"), time.Minute)
	c.Put(TierBinary, "doc:tx-999", []byte("d"), time.Minute)

	if n := c.Invalidate("tx-123"); n != 3 {
		t.Errorf("Invalidate removed %d entries, want 3", n)
	}
	if _, ok := c.Get(TierBinary, "doc:tx-999"); !ok {
		t.Error("unrelated entry was invalidated")
	}
	if _, ok := c.Get(TierComponent, "qr:tx-123"); ok {
		t.Error("invalidated entry still served")
	}
}

func TestStaleReadWithoutInvalidation(t *testing.T) {
	// Documents the staleness contract: a correction that skips Invalidate
	// keeps serving the old artifact until TTL expiry.
	c := New(testConfig(), nil, nil)

	c.Put(TierBinary, "doc:tx-5", []byte("old"), time.Minute)
	// Correction happens upstream; caller forgets to invalidate.
	got, _ := c.Get(TierBinary, "doc:tx-5")
	if string(got) != "old" {
		t.Fatalf("unexpected payload %q", got)
	}

	// With the required invalidation the next read misses and forces re-render.
	c.Invalidate("tx-5")
	if _, ok := c.Get(TierBinary, "doc:tx-5"); ok {
		t.Error("expected miss after invalidation")
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.CompressThreshold = 64
	c := New(cfg, GzipCompressor{}, nil)

	// Highly compressible payload well above the threshold.
	data := bytes.Repeat([]byte("confirmation "), 200)
	c.Put(TierBinary, "doc", data, time.Minute)

	got, ok := c.Get(TierBinary, "doc")
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(got, data) {
		t.Error("compressed round-trip corrupted payload")
	}

	// The stored footprint should reflect the compressed size.
	if s := c.Stats(); s.Bytes >= int64(len(data)) {
		t.Errorf("Bytes = %d, expected smaller than raw %d", s.Bytes, len(data))
	}
}

func TestHitMissRates(t *testing.T) {
	c := New(testConfig(), nil, nil)
	c.Put(TierMarkup, "k", []byte("x"), time.Minute)

	c.Get(TierMarkup, "k")    // hit
	c.Get(TierMarkup, "nope") // miss
	c.Get(TierMarkup, "k")    // hit
	c.Get(TierMarkup, "gone") // miss

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 2 {
		t.Fatalf("hits=%d misses=%d, want 2/2", s.Hits, s.Misses)
	}
	if s.HitRate != 0.5 || s.MissRate != 0.5 {
		t.Errorf("hitRate=%v missRate=%v, want 0.5/0.5", s.HitRate, s.MissRate)
	}
}

func TestEmptyStats(t *testing.T) {
	c := New(testConfig(), nil, nil)
	s := c.Stats()
	if s.HitRate != 0 || s.MissRate != 0 {
		t.Errorf("rates on empty cache should be 0, got hit=%v miss=%v", s.HitRate, s.MissRate)
	}
}

func TestConcurrentAccess(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 50
	cfg.MaxBytes = 10 << 10
	c := New(cfg, nil, nil)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%60)
				c.Put(Tiers[i%len(Tiers)], key, []byte("payload"), time.Minute)
				c.Get(Tiers[(i+1)%len(Tiers)], key)
				if i%40 == 0 {
					c.Invalidate(key)
					c.Sweep()
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	s := c.Stats()
	if s.Entries > cfg.MaxEntries {
		t.Errorf("entry bound violated: %d > %d", s.Entries, cfg.MaxEntries)
	}
	if s.Bytes > cfg.MaxBytes {
		t.Errorf("byte bound violated: %d > %d", s.Bytes, cfg.MaxBytes)
	}
	if s.Bytes < 0 {
		t.Errorf("byte accounting went negative: %d", s.Bytes)
	}
}
