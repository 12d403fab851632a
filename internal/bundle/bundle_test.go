package bundle

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestImmediateBundleAppliesSynchronously(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	defer s.Close()

	applied := false
	s.Schedule("b1", "sess", time.Time{}, func() { applied = true })
	if !applied {
		t.Fatal("expected immediate bundle to apply synchronously")
	}
}

func TestScheduledBundlesFireInScheduledOrder(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	defer s.Close()

	var mu sync.Mutex
	var order []string

	var wg sync.WaitGroup
	wg.Add(2)

	s.Schedule("b1", "sess", time.Now().Add(50*time.Millisecond), func() {
		mu.Lock()
		order = append(order, "b1")
		mu.Unlock()
		wg.Done()
	})
	s.Schedule("b2", "sess", time.Now().Add(20*time.Millisecond), func() {
		mu.Lock()
		order = append(order, "b2")
		mu.Unlock()
		wg.Done()
	})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bundles did not fire in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "b2" || order[1] != "b1" {
		t.Errorf("expected bundles to fire in scheduled-time order, got %v", order)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	defer s.Close()

	applied := false
	s.Schedule("b1", "sess", time.Now().Add(100*time.Millisecond), func() { applied = true })

	if !s.Cancel("b1") {
		t.Fatal("expected first cancel to succeed")
	}
	if s.Cancel("b1") {
		t.Fatal("expected second cancel to be a no-op")
	}

	time.Sleep(200 * time.Millisecond)
	if applied {
		t.Error("expected cancelled bundle to never apply")
	}
}
