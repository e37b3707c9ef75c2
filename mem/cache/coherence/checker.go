package coherence

import (
	"fmt"
	"slices"

	"github.com/sarchlab/cohsim/sim"
)

// An InvariantChecker verifies the single-writer/multiple-reader property of
// the L1s after every event. It also verifies that every L1 copy is recorded
// by the home of the line. It panics with a *sim.InvariantViolation when a
// check fails.
type InvariantChecker struct {
	timeTeller sim.TimeTeller
	l1s        []*L1Controller
	homes      map[sim.RemotePort]*Directory

	numChecks uint64
}

// NewInvariantChecker creates a checker that inspects the given caches. It
// should be hooked to the engine.
func NewInvariantChecker(
	timeTeller sim.TimeTeller,
	l1s []*L1Controller,
	dirs []*Directory,
) *InvariantChecker {
	c := &InvariantChecker{
		timeTeller: timeTeller,
		l1s:        l1s,
		homes:      make(map[sim.RemotePort]*Directory),
	}

	for _, d := range dirs {
		c.homes[d.TopPort().AsRemote()] = d
	}

	return c
}

// NumChecks returns the number of times that the caches were inspected.
func (c *InvariantChecker) NumChecks() uint64 {
	return c.numChecks
}

// Func runs the checks after each event.
func (c *InvariantChecker) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosAfterEvent {
		return
	}

	c.Check()
}

type lineHolders struct {
	exclusive []string
	shared    []string
}

// Check inspects the caches once.
func (c *InvariantChecker) Check() {
	c.numChecks++

	holders := make(map[uint64]*lineHolders)

	for _, l1 := range c.l1s {
		l1.visitLines(func(lineAddr uint64, state State) {
			h, ok := holders[lineAddr]
			if !ok {
				h = &lineHolders{}
				holders[lineAddr] = h
			}

			if state.IsExclusive() {
				h.exclusive = append(h.exclusive, l1.Name())
			} else {
				h.shared = append(h.shared, l1.Name())
			}

			c.checkRecorded(l1, lineAddr)
		})
	}

	for addr, h := range holders {
		if len(h.exclusive) > 1 {
			c.fail(addr, "more than one exclusive copy", h.exclusive)
		}

		if len(h.exclusive) == 1 && len(h.shared) > 0 {
			c.fail(addr, "exclusive copy coexists with shared copies",
				append(h.exclusive, h.shared...))
		}
	}
}

func (c *InvariantChecker) checkRecorded(l1 *L1Controller, lineAddr uint64) {
	home, ok := c.homes[l1.homeFinder.Find(lineAddr)]
	if !ok {
		return
	}

	if !slices.Contains(home.Sharers(lineAddr), l1.BottomPort().AsRemote()) {
		c.fail(lineAddr,
			fmt.Sprintf("copy in state %s is not recorded by the home",
				l1.LineState(lineAddr)),
			[]string{l1.Name(), home.Name()})
	}
}

func (c *InvariantChecker) fail(addr uint64, detail string, comps []string) {
	slices.Sort(comps)

	panic(&sim.InvariantViolation{
		Kind:       "swmr",
		Time:       c.timeTeller.CurrentTime(),
		Address:    addr,
		Components: comps,
		Detail:     detail,
	})
}
