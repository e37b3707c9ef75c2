package monitoring

import (
	"sync"
	"time"

	"github.com/sarchlab/cohsim/sim"
)

// A ProgressBar shows how far a run has advanced towards its horizon, in
// ticks.
type ProgressBar struct {
	sync.Mutex
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	StartTime time.Time        `json:"start_time"`
	StartTick sim.VTimeInCycle `json:"start_tick"`
	Total     uint64           `json:"total"`
	Finished  uint64           `json:"finished"`
}

// advanceTo marks the ticks up to now as finished.
func (b *ProgressBar) advanceTo(now sim.VTimeInCycle) {
	b.Lock()
	defer b.Unlock()

	if now <= b.StartTick {
		return
	}

	b.Finished = min(uint64(now-b.StartTick), b.Total)
}

// Fraction returns the finished share of the run.
func (b *ProgressBar) Fraction() float64 {
	b.Lock()
	defer b.Unlock()

	if b.Total == 0 {
		return 1
	}

	return float64(b.Finished) / float64(b.Total)
}

// progressHook moves every open bar with the engine time.
type progressHook struct {
	monitor *Monitor
}

func (h progressHook) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosAfterEvent {
		return
	}

	m := h.monitor
	now := m.engine.CurrentTime()

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	for _, b := range m.progressBars {
		b.advanceTo(now)
	}
}
