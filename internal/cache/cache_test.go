package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newFakeCache(defaultTTL time.Duration) (*MemoryCache, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := New(defaultTTL)
	c.SetClock(clk.Now)
	return c, clk
}

func TestTryGet_MissReturnsImmediately(t *testing.T) {
	c, _ := newFakeCache(time.Minute)
	if v, found := c.TryGet("absent"); found || v != nil {
		t.Fatalf("expected miss, got %v %v", v, found)
	}
}

func TestSetThenTryGet_Hit(t *testing.T) {
	c, _ := newFakeCache(time.Minute)
	c.Set("k", "v", 0)
	v, found := c.TryGet("k")
	if !found || v.(string) != "v" {
		t.Fatalf("expected hit with v, got %v %v", v, found)
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c, clk := newFakeCache(time.Minute)
	c.Set("k", 42, 10*time.Second)

	clk.Advance(9 * time.Second)
	if _, found := c.TryGet("k"); !found {
		t.Fatalf("entry expired before its TTL elapsed")
	}

	// The hit above slid the deadline forward by the TTL; jump past it.
	clk.Advance(11 * time.Second)
	if _, found := c.TryGet("k"); found {
		t.Fatalf("entry still present after TTL elapsed")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not swept, len=%d", c.Len())
	}
}

func TestSlidingExpiration_HitsExtendLife(t *testing.T) {
	c, clk := newFakeCache(time.Minute)
	c.Set("k", "v", 10*time.Second)

	// Touch the entry every 8s for 40s; it must survive well past the
	// original 10s deadline.
	for i := 0; i < 5; i++ {
		clk.Advance(8 * time.Second)
		if _, found := c.TryGet("k"); !found {
			t.Fatalf("entry expired at touch %d despite sliding hits", i)
		}
	}
}

func TestSet_RestartsExpiration(t *testing.T) {
	c, clk := newFakeCache(time.Minute)
	c.Set("k", 1, 10*time.Second)
	clk.Advance(9 * time.Second)
	c.Set("k", 2, 10*time.Second)
	clk.Advance(9 * time.Second)

	v, found := c.TryGet("k")
	if !found || v.(int) != 2 {
		t.Fatalf("expected renewed entry with value 2, got %v %v", v, found)
	}
}

func TestDefaultTTL_AppliesWhenUnspecified(t *testing.T) {
	c, clk := newFakeCache(30 * time.Second)
	c.Set("k", "v", 0)
	clk.Advance(29 * time.Second)
	if _, found := c.TryGet("k"); !found {
		t.Fatalf("entry expired before default TTL")
	}
	clk.Advance(31 * time.Second)
	if _, found := c.TryGet("k"); found {
		t.Fatalf("entry survived past default TTL")
	}
}

func TestInvalidateKey_RemovesOnlyThatKey(t *testing.T) {
	c, _ := newFakeCache(time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	c.InvalidateKey("a")
	if _, found := c.TryGet("a"); found {
		t.Fatalf("invalidated key still present")
	}
	if _, found := c.TryGet("b"); !found {
		t.Fatalf("unrelated key was removed")
	}
	// Removing an absent key must not panic or error.
	c.InvalidateKey("missing")
}

func TestInvalidateAll_RemovesEverything(t *testing.T) {
	c, _ := newFakeCache(time.Minute)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, 0)
	}
	c.InvalidateAll()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, len=%d", c.Len())
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	c := New(time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%17)
				switch i % 4 {
				case 0:
					c.Set(key, i, 0)
				case 1:
					c.TryGet(key)
				case 2:
					c.InvalidateKey(key)
				default:
					if i%50 == 0 {
						c.InvalidateAll()
					} else {
						c.TryGet(key)
					}
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestNew_NonPositiveDefaultFallsBack(t *testing.T) {
	c := New(0)
	if c.defaultTTL != DefaultTTL {
		t.Fatalf("expected fallback default TTL, got %v", c.defaultTTL)
	}
}
