package cpu

import (
	"fmt"
	"strings"

	"github.com/sarchlab/cohsim/sim"
	"github.com/sirupsen/logrus"
)

// CoreModel is the kind of a core.
type CoreModel int

// The core models.
const (
	// Functional executes instructions without timing, as a fast-forward
	// core does.
	Functional CoreModel = iota
	// Timing is an in-order core that waits for each memory access.
	Timing
)

func (m CoreModel) String() string {
	switch m {
	case Functional:
		return "functional"
	case Timing:
		return "timing"
	default:
		return fmt.Sprintf("CoreModel(%d)", int(m))
	}
}

// ParseCoreModel converts a name to a core model.
func ParseCoreModel(s string) (CoreModel, error) {
	switch strings.ToLower(s) {
	case "functional", "kvm", "atomic":
		return Functional, nil
	case "timing":
		return Timing, nil
	default:
		return 0, fmt.Errorf("unknown core model %q", s)
	}
}

// HookPosCommit marks the commit of an instruction. The item is a
// CommitRecord.
var HookPosCommit = &sim.HookPos{Name: "Commit"}

// A CommitRecord describes a committed instruction.
type CommitRecord struct {
	Core string
	Seq  uint64
	PC   uint64
	Inst Inst
	Time sim.VTimeInCycle
}

// A Core runs the hardware thread whose context it owns.
type Core interface {
	sim.Component
	sim.StatsReporter

	Model() CoreModel

	// Activate gives the context to the core. The core starts at its first
	// clock edge that is not earlier than the given time, which is returned.
	Activate(ctx *ExecContext, at sim.VTimeInCycle) sim.VTimeInCycle

	// RequestDrain stops the core from starting new instructions. The
	// callback is invoked once the core has no outstanding operation.
	RequestDrain(onDrained func())

	// IsDrained tells if the context can be taken away.
	IsDrained() bool

	// Deactivate takes the context away from a drained core.
	Deactivate() *ExecContext

	// Context returns the context that the core owns, if any.
	Context() *ExecContext
}

// A ThreadTracker requests an exit when the last running hardware thread
// halts.
type ThreadTracker struct {
	exiter  sim.ExitRequester
	running int
}

// NewThreadTracker creates a ThreadTracker.
func NewThreadTracker(exiter sim.ExitRequester) *ThreadTracker {
	return &ThreadTracker{exiter: exiter}
}

// Start records that a thread starts running.
func (t *ThreadTracker) Start() {
	t.running++
}

// Running returns the number of threads that have not halted.
func (t *ThreadTracker) Running() int {
	return t.running
}

func (t *ThreadTracker) halt() {
	t.running--
	if t.running == 0 {
		t.exiter.RequestExit(sim.ExitCauseLastThread)
	}
}

type coreStats struct {
	committed uint64
	loads     uint64
	stores    uint64
}

// coreBase holds what both core models share: the ownership of the context,
// the draining protocol, and the retirement of instructions.
type coreBase struct {
	*sim.TickingComponent

	model           CoreModel
	ctx             *ExecContext
	exiter          sim.ExitRequester
	threads         *ThreadTracker
	exitOnWorkItems bool

	draining  bool
	onDrained func()

	stats coreStats
}

func (c *coreBase) Model() CoreModel {
	return c.model
}

func (c *coreBase) Context() *ExecContext {
	return c.ctx
}

func (c *coreBase) Activate(
	ctx *ExecContext,
	at sim.VTimeInCycle,
) sim.VTimeInCycle {
	if c.ctx != nil {
		panic(fmt.Sprintf("%s already owns a context", c.Name()))
	}

	c.ctx = ctx
	c.ctx.Owner = c.Name()
	c.draining = false
	c.onDrained = nil

	first := c.ThisTick(at)
	c.Reset(first)
	c.TickAt(first)

	logrus.WithFields(logrus.Fields{
		"core":  c.Name(),
		"model": c.model.String(),
		"pc":    ctx.PC,
		"tick":  first,
	}).Debug("core activated")

	return first
}

func (c *coreBase) Deactivate() *ExecContext {
	if c.ctx == nil {
		panic(fmt.Sprintf("%s does not own a context", c.Name()))
	}

	ctx := c.ctx
	c.ctx = nil
	c.draining = false
	c.onDrained = nil

	return ctx
}

// isRunning tells if the core may start a new instruction.
func (c *coreBase) isRunning() bool {
	return c.ctx != nil && !c.ctx.Halted && !c.draining
}

func (c *coreBase) requestDrain(onDrained func(), drained bool) {
	c.draining = true
	c.onDrained = onDrained

	if drained {
		c.notifyDrained()
	}
}

func (c *coreBase) notifyDrained() {
	if c.onDrained == nil {
		return
	}

	f := c.onDrained
	c.onDrained = nil
	f()
}

// retire commits the instruction at the program counter. It returns false if
// the core should not continue in the same cycle.
func (c *coreBase) retire(inst Inst) bool {
	ctx := c.ctx
	record := CommitRecord{
		Core: c.Name(),
		Seq:  ctx.Committed,
		PC:   ctx.PC,
		Inst: inst,
		Time: c.CurrentTime(),
	}

	ctx.execute(inst)
	ctx.PC = ctx.nextPC(inst)
	ctx.Committed++
	c.stats.committed++

	switch inst.Op {
	case OpLoad:
		c.stats.loads++
	case OpStore:
		c.stats.stores++
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosCommit,
		Item:   record,
	})

	return c.handleMagic(inst)
}

func (c *coreBase) handleMagic(inst Inst) bool {
	switch inst.Op {
	case OpExit:
		c.exiter.RequestExit(sim.ExitCauseMagicExit)
	case OpWorkBegin:
		if !c.exitOnWorkItems {
			return true
		}

		c.exiter.RequestExit(sim.ExitCauseWorkBegin)
	case OpWorkEnd:
		if !c.exitOnWorkItems {
			return true
		}

		c.exiter.RequestExit(sim.ExitCauseWorkEnd)
	case OpHalt:
		c.halt()
	default:
		return true
	}

	return false
}

// haltIfFinished halts the thread if it has run past the last instruction.
func (c *coreBase) haltIfFinished() bool {
	if c.ctx.PC < uint64(len(c.ctx.Program.Insts)) {
		return false
	}

	c.ctx.Halted = true
	c.halt()

	return true
}

func (c *coreBase) halt() {
	logrus.WithFields(logrus.Fields{
		"core":      c.Name(),
		"committed": c.ctx.Committed,
		"tick":      c.CurrentTime(),
	}).Debug("thread halted")

	if c.threads != nil {
		c.threads.halt()
	}
}

func (c *coreBase) Stats() sim.Counters {
	return sim.Counters{
		"committed": c.stats.committed,
		"loads":     c.stats.loads,
		"stores":    c.stats.stores,
	}
}

func (c *coreBase) ResetStats() {
	c.stats = coreStats{}
}
