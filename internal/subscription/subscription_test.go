package subscription

import (
	"testing"
	"time"

	"github.com/lumencanvas/clasp-sub002/internal/value"
)

func TestIndexExactAndWildcardMatch(t *testing.T) {
	idx := NewIndex()
	idx.Add("s1", "sess", "/lights/room1/brightness", 0, 0)
	idx.Add("s2", "sess", "/lights/*/brightness", 0, 0)
	idx.Add("s3", "sess", "/lights/**", 0, 0)
	idx.Add("s4", "sess", "/audio/master/gain", 0, 0)

	got := idx.Get("/lights/room1/brightness")
	if len(got) != 3 {
		t.Fatalf("expected 3 matching subscriptions, got %d", len(got))
	}

	got2 := idx.Get("/lights/room2/color")
	if len(got2) != 1 {
		t.Fatalf("expected 1 match (only /lights/**), got %d", len(got2))
	}
}

func TestIndexRemove(t *testing.T) {
	idx := NewIndex()
	idx.Add("s1", "sess", "/a/*", 0, 0)
	if idx.Count() != 1 {
		t.Fatal("expected 1 subscription")
	}
	idx.Remove("s1")
	if idx.Count() != 0 {
		t.Fatal("expected 0 subscriptions after remove")
	}
	got := idx.Get("/a/b")
	if len(got) != 0 {
		t.Errorf("expected no matches after removal, got %d", len(got))
	}
}

func TestEpsilonCoalescing(t *testing.T) {
	idx := NewIndex()
	sub := idx.Add("s1", "sess", "/sensor/temp", 0, 0.5)

	if !sub.ShouldDeliver("/sensor/temp", value.OfFloat(20.0)) {
		t.Fatal("expected first value to be delivered")
	}
	if sub.ShouldDeliver("/sensor/temp", value.OfFloat(20.2)) {
		t.Fatal("expected small delta under epsilon to be suppressed")
	}
	if !sub.ShouldDeliver("/sensor/temp", value.OfFloat(20.6)) {
		t.Fatal("expected delta over epsilon to be delivered")
	}
}

func TestMaxRateThrottles(t *testing.T) {
	idx := NewIndex()
	sub := idx.Add("s1", "sess", "/stream/x", 10, 0) // 10/sec

	delivered := 0
	for i := 0; i < 100; i++ {
		if sub.ShouldDeliver("/stream/x", value.OfInt(int64(i))) {
			delivered++
		}
	}
	if delivered > 5 {
		t.Errorf("expected maxRate to sharply limit immediate bursts, delivered %d/100", delivered)
	}

	time.Sleep(150 * time.Millisecond)
	if !sub.ShouldDeliver("/stream/x", value.OfInt(999)) {
		t.Error("expected delivery to resume after waiting for the token bucket to refill")
	}
}

func TestMaxRateThrottlesPerAddress(t *testing.T) {
	idx := NewIndex()
	sub := idx.Add("s1", "sess", "/sensors/**", 10, 0) // 10/sec

	// Exhaust /sensors/a's token bucket.
	if !sub.ShouldDeliver("/sensors/a", value.OfInt(1)) {
		t.Fatal("expected first delivery to /sensors/a to go through")
	}
	if sub.ShouldDeliver("/sensors/a", value.OfInt(2)) {
		t.Fatal("expected /sensors/a's second immediate delivery to be throttled")
	}

	// /sensors/b has never been delivered to, so it must have its own
	// bucket rather than competing with /sensors/a for a shared one.
	if !sub.ShouldDeliver("/sensors/b", value.OfInt(1)) {
		t.Error("expected /sensors/b to be throttled independently of /sensors/a")
	}
}
