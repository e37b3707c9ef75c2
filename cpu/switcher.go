package cpu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/cohsim/sim"
	"github.com/sirupsen/logrus"
)

// ErrSwitchInProgress is returned when a switch is requested while the
// previous one has not finished.
var ErrSwitchInProgress = errors.New("core switch in progress")

// SwitchState is the state of a Switcher.
type SwitchState int

// The states of a switch. A Switcher cycles through Running, Draining,
// Switched, and back to Running.
const (
	SwitchRunning SwitchState = iota
	SwitchDraining
	SwitchSwitched
)

func (s SwitchState) String() string {
	switch s {
	case SwitchRunning:
		return "Running"
	case SwitchDraining:
		return "Draining"
	case SwitchSwitched:
		return "Switched"
	default:
		return fmt.Sprintf("SwitchState(%d)", int(s))
	}
}

// A Switcher moves a hardware thread between two cores. Only one of the cores
// owns the context at any time, so that every instruction is executed
// exactly once.
type Switcher struct {
	name    string
	engine  sim.EventScheduler
	active  Core
	standby Core
	state   SwitchState

	numSwitches uint64
}

// NewSwitcher creates a switcher that starts with the first core active.
func NewSwitcher(name string, engine sim.EventScheduler, first, second Core) *Switcher {
	return &Switcher{
		name:    name,
		engine:  engine,
		active:  first,
		standby: second,
	}
}

// Name returns the name of the switcher.
func (s *Switcher) Name() string {
	return s.name
}

// Start gives the context to the active core.
func (s *Switcher) Start(ctx *ExecContext) {
	s.active.Activate(ctx, s.engine.CurrentTime())
}

// State returns the current state.
func (s *Switcher) State() SwitchState {
	return s.state
}

// Active returns the core that owns the context, or that will own it once the
// switch completes.
func (s *Switcher) Active() Core {
	return s.active
}

// NumSwitches returns the number of completed switches.
func (s *Switcher) NumSwitches() uint64 {
	return s.numSwitches
}

// RequestSwitch starts draining the active core. The context is handed to
// the other core once the active core has no outstanding operation. If the
// drain never finishes, the switch never happens.
func (s *Switcher) RequestSwitch() error {
	if s.state != SwitchRunning {
		return fmt.Errorf("%w: %s is %s", ErrSwitchInProgress, s.name, s.state)
	}

	s.state = SwitchDraining

	logrus.WithFields(logrus.Fields{
		"switcher": s.name,
		"from":     s.active.Name(),
		"to":       s.standby.Name(),
		"tick":     s.engine.CurrentTime(),
	}).Debug("draining core")

	s.active.RequestDrain(s.scheduleHandOff)

	return nil
}

func (s *Switcher) scheduleHandOff() {
	now := s.engine.CurrentTime()

	_, err := s.engine.Schedule(sim.NewCallbackEvent(now, s.handOff))
	if err != nil {
		panic(err)
	}
}

func (s *Switcher) handOff() {
	if !s.active.IsDrained() {
		panic(&sim.InvariantViolation{
			Kind:       "switch",
			Time:       s.engine.CurrentTime(),
			Components: []string{s.name, s.active.Name()},
			Detail:     "handing off the context of a core that is not drained",
		})
	}

	now := s.engine.CurrentTime()
	ctx := s.active.Deactivate()

	s.state = SwitchSwitched
	s.active, s.standby = s.standby, s.active
	first := s.active.Activate(ctx, now)

	_, err := s.engine.Schedule(sim.NewCallbackEvent(first, s.resume))
	if err != nil {
		panic(err)
	}

	logrus.WithFields(logrus.Fields{
		"switcher":  s.name,
		"core":      s.active.Name(),
		"pc":        ctx.PC,
		"committed": ctx.Committed,
		"tick":      now,
	}).Info("core switched")
}

func (s *Switcher) resume() {
	s.state = SwitchRunning
	s.numSwitches++
}
