package cpu

import (
	"fmt"

	"github.com/sarchlab/cohsim/sim"
	"github.com/sirupsen/logrus"
)

// A LoopPointTarget marks the start of a region of interest: the Count-th
// commit of the instruction at PC, counted over all cores.
type LoopPointTarget struct {
	PC    uint64 `yaml:"pc"`
	Count uint64 `yaml:"count"`
}

// LoopPoint is a commit hook that requests an exit once a target is reached.
// Each target fires once.
type LoopPoint struct {
	exiter  sim.ExitRequester
	targets []LoopPointTarget
	counts  []uint64
}

// NewLoopPoint creates a LoopPoint. It panics if a target has a zero count.
func NewLoopPoint(
	exiter sim.ExitRequester,
	targets ...LoopPointTarget,
) *LoopPoint {
	for _, t := range targets {
		if t.Count == 0 {
			panic(fmt.Sprintf("loop point at pc %d has a zero count", t.PC))
		}
	}

	return &LoopPoint{
		exiter:  exiter,
		targets: targets,
		counts:  make([]uint64, len(targets)),
	}
}

// Count returns how many times the i-th target PC has committed.
func (l *LoopPoint) Count(i int) uint64 {
	return l.counts[i]
}

func (l *LoopPoint) Func(ctx sim.HookCtx) {
	if ctx.Pos != HookPosCommit {
		return
	}

	record := ctx.Item.(CommitRecord)

	for i, t := range l.targets {
		if record.PC != t.PC {
			continue
		}

		l.counts[i]++
		if l.counts[i] != t.Count {
			continue
		}

		logrus.WithFields(logrus.Fields{
			"pc":    t.PC,
			"count": t.Count,
			"core":  record.Core,
			"tick":  record.Time,
		}).Info("loop point reached")

		l.exiter.RequestExit(sim.ExitCauseLoopPoint)
	}
}
