package lock

import (
	"sync"
	"testing"
	"time"
)

func TestKeyed_SerializesSameKey(t *testing.T) {
	k := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(Record + "A")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected 50 serialized increments, got %d", counter)
	}
	if k.Len() != 0 {
		t.Errorf("expected lock table to be empty, got %d entries", k.Len())
	}
}

func TestKeyed_IndependentKeys(t *testing.T) {
	k := New()
	unlockA := k.Lock(Edit + "A")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock(Edit + "B")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on B blocked behind A")
	}
}

func TestKeyed_UnlockIsIdempotent(t *testing.T) {
	k := New()
	unlock := k.Lock("x")
	unlock()
	unlock()

	// Still usable afterwards.
	k.Lock("x")()
	if k.Len() != 0 {
		t.Errorf("expected no entries, got %d", k.Len())
	}
}
