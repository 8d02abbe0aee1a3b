package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-wiki-engine/internal/logger"

	"github.com/google/go-cmp/cmp"
)

// failingBackend returns err from every call.
type failingBackend struct {
	err   error
	calls atomic.Int32
}

func (f *failingBackend) Get(string) ([]byte, error) {
	f.calls.Add(1)
	return nil, f.err
}
func (f *failingBackend) Set(string, []byte, time.Duration) error { f.calls.Add(1); return f.err }
func (f *failingBackend) Delete(string) error                     { f.calls.Add(1); return f.err }
func (f *failingBackend) DeletePrefix(string) error               { f.calls.Add(1); return f.err }
func (f *failingBackend) Clear() error                            { f.calls.Add(1); return f.err }

func setupCoordinatorTest(t *testing.T) (*Coordinator, *Memory) {
	t.Helper()
	mem := NewMemory()
	return NewCoordinator(mem, logger.Nop(), nil, 0), mem
}

func TestCoordinator_MemoComputesOnce(t *testing.T) {
	c, _ := setupCoordinatorTest(t)

	computeCalled := 0
	compute := func() (string, error) {
		computeCalled++
		return "<p>hi</p>", nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.RenderedBody("Home", compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "<p>hi</p>" {
			t.Errorf("unexpected body %q", got)
		}
	}
	if computeCalled != 1 {
		t.Errorf("expected compute to be called once, got %d", computeCalled)
	}
}

func TestCoordinator_MemoPropagatesComputeError(t *testing.T) {
	c, mem := setupCoordinatorTest(t)

	_, err := c.Hashbangs("X", func() ([]string, error) { return nil, errors.New("boom") })
	if err == nil {
		t.Fatal("expected compute error")
	}
	if mem.Len() != 0 {
		t.Error("failed computation must not be cached")
	}
}

func TestCoordinator_InvalidatePage(t *testing.T) {
	c, mem := setupCoordinatorTest(t)

	c.RenderedBody("A", func() (string, error) { return "a", nil })
	c.Metadata("A", func() (map[string]string, error) { return map[string]string{"k": "v"}, nil })
	c.RenderedBody("B", func() (string, error) { return "b", nil })

	c.InvalidatePage("A")

	if v, _ := mem.Get(RenderedBodyKey("A")); v != nil {
		t.Error("expected rendered body of A to be invalidated")
	}
	if v, _ := mem.Get(MetadataKey("A")); v != nil {
		t.Error("expected metadata of A to be invalidated")
	}
	if v, _ := mem.Get(RenderedBodyKey("B")); v == nil {
		t.Error("expected B to be untouched")
	}
}

func TestCoordinator_InvalidateLists(t *testing.T) {
	c, mem := setupCoordinatorTest(t)

	c.Titles("a@example.com", func() ([]string, error) { return []string{"A"}, nil })
	c.WikiQuery(`schema:"Book"`, "a@example.com", func() ([]string, error) { return []string{"B"}, nil })

	c.InvalidateLists()

	if mem.Len() != 0 {
		t.Errorf("expected list namespaces to be empty, %d items left", mem.Len())
	}
}

func TestCoordinator_InvalidationDuringComputeIsNotStored(t *testing.T) {
	c, mem := setupCoordinatorTest(t)

	_, err := c.RenderedBody("A", func() (string, error) {
		c.InvalidatePage("A")
		return "stale", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := mem.Get(RenderedBodyKey("A")); v != nil {
		t.Error("value computed across an invalidation must not be stored")
	}
}

func TestCoordinator_ConcurrentMemoSharesWork(t *testing.T) {
	c, _ := setupCoordinatorTest(t)

	var computeCalled atomic.Int32
	release := make(chan struct{})
	compute := func() ([]string, error) {
		computeCalled.Add(1)
		<-release
		return []string{"A", "B"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Titles("u", compute)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := computeCalled.Load(); n < 1 || n > 5 {
		t.Errorf("unexpected compute count %d", n)
	}
}

func TestWikiQueryTTL(t *testing.T) {
	tests := []struct {
		size int
		want time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 5 * time.Minute},
		{9, 5 * time.Minute},
		{10, time.Hour},
		{99, time.Hour},
		{100, 24 * time.Hour},
		{499, 24 * time.Hour},
		{500, time.Minute},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.size), func(t *testing.T) {
			if got := WikiQueryTTL(make([]string, tt.size)); got != tt.want {
				t.Errorf("WikiQueryTTL(%d) = %v, want %v", tt.size, got, tt.want)
			}
		})
	}
}

func TestCoordinator_RecentEditors(t *testing.T) {
	c, _ := setupCoordinatorTest(t)

	c.AddRecentEditor("a")
	c.AddRecentEditor("b")
	c.AddRecentEditor("a")
	c.AddRecentEditor("a")

	if diff := cmp.Diff([]string{"b", "a"}, c.RecentEditors()); diff != "" {
		t.Errorf("recent editors mismatch (-want +got):\n%s", diff)
	}

	for i := 0; i < 30; i++ {
		c.AddRecentEditor(fmt.Sprintf("u%d", i))
	}
	got := c.RecentEditors()
	if len(got) != 20 {
		t.Fatalf("expected 20 recent editors, got %d", len(got))
	}
	if got[19] != "u29" || got[0] != "u10" {
		t.Errorf("expected u10..u29, got %v", got)
	}
}

func TestCoordinator_BackendFailureIsAMiss(t *testing.T) {
	backend := &failingBackend{err: errors.New("disk full")}
	c := NewCoordinator(backend, logger.Nop(), nil, time.Minute)

	for i := 0; i < 20; i++ {
		got, err := c.RenderedBody("A", func() (string, error) { return "fresh", nil })
		if err != nil {
			t.Fatalf("backend failure leaked to caller: %v", err)
		}
		if got != "fresh" {
			t.Errorf("expected recomputed value, got %q", got)
		}
	}
	c.InvalidatePage("A")
	c.FlushAll()

	// After the breaker opens the backend is no longer called on every request.
	if n := backend.calls.Load(); n >= 46 {
		t.Errorf("expected the circuit breaker to short-circuit calls, backend saw %d", n)
	}
}

func TestCoordinator_FlushAll(t *testing.T) {
	c, mem := setupCoordinatorTest(t)
	c.RenderedBody("A", func() (string, error) { return "a", nil })
	c.AddRecentEditor("x")

	c.FlushAll()

	if mem.Len() != 0 {
		t.Errorf("expected empty cache, got %d items", mem.Len())
	}
}
