// Package resource implements the session/goroutine ceilings and the
// CPU-based circuit breaker that degrades SET to Unavailable when the
// router is under load (spec.md §4.4 "failure semantics", §5).
//
// Grounded on ws/internal/shared/limits/resource_guard.go's
// ResourceGuard: same CPU-sample-then-threshold-compare shape, repointed
// from guarding connection accept / Kafka consumption to guarding the
// persistence queue and SET acceptance.
package resource

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/lumencanvas/clasp-sub002/internal/logging"
)

// GoroutineLimiter bounds concurrent goroutines using a semaphore.
// Grounded verbatim on ws/internal/shared/limits/resource_guard.go's
// GoroutineLimiter.
type GoroutineLimiter struct {
	sem chan struct{}
	max int
}

func NewGoroutineLimiter(max int) *GoroutineLimiter {
	return &GoroutineLimiter{sem: make(chan struct{}, max), max: max}
}

func (gl *GoroutineLimiter) Acquire() bool {
	select {
	case gl.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (gl *GoroutineLimiter) Release() { <-gl.sem }
func (gl *GoroutineLimiter) Current() int { return len(gl.sem) }
func (gl *GoroutineLimiter) Max() int     { return gl.max }

// Config configures the resource Guard.
type Config struct {
	MaxGoroutines      int
	CPURejectThreshold float64
	CPUPauseThreshold  float64
	SampleInterval     time.Duration
}

// Guard samples CPU usage periodically and exposes static threshold
// checks; the dispatcher consults ShouldRejectWrite before admitting new
// writes (spec.md §4.4: "under sustained overload, the router must
// degrade predictably rather than fall over").
type Guard struct {
	cfg    Config
	logger zerolog.Logger

	currentCPU atomic.Value // float64

	goroutines *GoroutineLimiter

	stop chan struct{}
	done chan struct{}
}

func New(cfg Config, logger zerolog.Logger) *Guard {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 2 * time.Second
	}
	g := &Guard{
		cfg:        cfg,
		logger:     logger.With().Str("component", "resource.guard").Logger(),
		goroutines: NewGoroutineLimiter(cfg.MaxGoroutines),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	g.currentCPU.Store(0.0)
	go g.sampleLoop()
	return g
}

func (g *Guard) sampleLoop() {
	defer close(g.done)
	defer logging.RecoverPanic(g.logger, "resource.sample", nil)

	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			percents, err := cpu.Percent(0, false)
			if err != nil || len(percents) == 0 {
				continue
			}
			g.currentCPU.Store(percents[0])
		}
	}
}

// CurrentCPU returns the last-sampled system CPU usage percentage.
func (g *Guard) CurrentCPU() float64 {
	return g.currentCPU.Load().(float64)
}

// ShouldRejectWrite reports whether SET/PUBLISH acceptance should be
// degraded to Unavailable under the current CPU load.
func (g *Guard) ShouldRejectWrite() bool {
	return g.CurrentCPU() > g.cfg.CPURejectThreshold
}

// ShouldPausePersistence reports whether the persistence writer should
// pause draining its queue to let CPU recover.
func (g *Guard) ShouldPausePersistence() bool {
	return g.CurrentCPU() > g.cfg.CPUPauseThreshold
}

// ShouldRejectGoroutine reports whether spawning another long-lived
// goroutine (e.g. a new session pump) would exceed MaxGoroutines.
func (g *Guard) ShouldRejectGoroutine() bool {
	return runtime.NumGoroutine() > g.cfg.MaxGoroutines
}

// Goroutines exposes the semaphore-based limiter for call sites that
// need to reserve and release a slot around a specific long-lived task
// rather than just checking the ambient goroutine count.
func (g *Guard) Goroutines() *GoroutineLimiter {
	return g.goroutines
}

func (g *Guard) Close() {
	close(g.stop)
	<-g.done
}
