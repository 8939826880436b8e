package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)

	c.Set("a", "alpha")
	c.Set("b", "beta")

	if v, ok := c.Get("a"); !ok || v != "alpha" {
		t.Errorf("Get(a) = %q, %v; want alpha, true", v, ok)
	}

	// "b" is now least recently used and is evicted.
	c.Set("c", "gamma")
	if _, ok := c.Get("b"); ok {
		t.Error("Get(b) should miss after eviction")
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) should miss after Delete")
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	clock := &fakeNow{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](10, time.Minute, WithNow(clock.now))

	c.Set("x", 1)
	c.Set("y", 2)
	clock.advance(30 * time.Second)
	c.Set("z", 3)
	clock.advance(45 * time.Second)

	if _, ok := c.Get("x"); ok {
		t.Error("Get(x) should miss after ttl")
	}
	if removed := c.CleanExpired(); removed != 1 {
		t.Errorf("CleanExpired() = %d, want 1", removed)
	}
	if v, ok := c.Get("z"); !ok || v != 3 {
		t.Errorf("Get(z) = %d, %v; want 3, true", v, ok)
	}
}

func TestLRUCache_GetOrLoad(t *testing.T) {
	c := NewLRUCache[string](10, time.Minute)

	var loads int32
	release := make(chan struct{})
	load := func() (string, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return "Groceries", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad("cat-1", load)
			if err != nil {
				t.Errorf("GetOrLoad() error = %v", err)
			}
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Errorf("load called %d times, want 1", n)
	}
	for i, v := range results {
		if v != "Groceries" {
			t.Errorf("results[%d] = %q, want Groceries", i, v)
		}
	}

	if _, err := c.GetOrLoad("cat-1", func() (string, error) {
		t.Error("load called for cached key")
		return "", nil
	}); err != nil {
		t.Errorf("GetOrLoad() cached error = %v", err)
	}
}

func TestLRUCache_GetOrLoadErrorNotCached(t *testing.T) {
	c := NewLRUCache[string](10, time.Minute)
	boom := errors.New("boom")

	if _, err := c.GetOrLoad("k", func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("GetOrLoad() error = %v, want %v", err, boom)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after failed load", c.Size())
	}

	v, err := c.GetOrLoad("k", func() (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Errorf("GetOrLoad() = %q, %v; want ok, nil", v, err)
	}
}

func TestManager_CleanAll(t *testing.T) {
	clock := &fakeNow{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewLRUCache[int](10, time.Second, WithNow(clock.now))
	b := NewLRUCache[string](10, time.Second, WithNow(clock.now))
	a.Set("1", 1)
	b.Set("2", "two")
	clock.advance(2 * time.Second)

	m := NewManager(nil)
	m.Register(a)
	m.Register(b)

	if n := m.CleanAll(); n != 2 {
		t.Errorf("CleanAll() = %d, want 2", n)
	}

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
