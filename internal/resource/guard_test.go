package resource

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestGoroutineLimiterCapsConcurrency(t *testing.T) {
	gl := NewGoroutineLimiter(2)
	if !gl.Acquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if !gl.Acquire() {
		t.Fatal("expected second acquire to succeed")
	}
	if gl.Acquire() {
		t.Fatal("expected third acquire to fail at capacity")
	}
	gl.Release()
	if !gl.Acquire() {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestGuardThresholds(t *testing.T) {
	g := New(Config{MaxGoroutines: 100000, CPURejectThreshold: 75, CPUPauseThreshold: 90}, zerolog.Nop())
	defer g.Close()

	g.currentCPU.Store(50.0)
	if g.ShouldRejectWrite() {
		t.Error("expected no rejection at 50% CPU")
	}
	g.currentCPU.Store(80.0)
	if !g.ShouldRejectWrite() {
		t.Error("expected rejection above CPURejectThreshold")
	}
	if g.ShouldPausePersistence() {
		t.Error("expected no pause below CPUPauseThreshold")
	}
	g.currentCPU.Store(95.0)
	if !g.ShouldPausePersistence() {
		t.Error("expected pause above CPUPauseThreshold")
	}
}
