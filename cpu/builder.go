package cpu

import (
	"github.com/sarchlab/cohsim/sim"
	"github.com/sirupsen/logrus"
)

// Builder can build cores.
type Builder struct {
	engine          sim.EventScheduler
	clock           sim.Clock
	exiter          sim.ExitRequester
	threads         *ThreadTracker
	memory          FunctionalMemory
	width           int
	bufSize         int
	exitOnWorkItems bool
	hooks           []sim.Hook
}

// MakeBuilder creates a builder of cores that execute 8 instructions per
// cycle in the functional mode.
func MakeBuilder() Builder {
	return Builder{
		width:   8,
		bufSize: 4,
	}
}

// WithEngine sets the engine.
func (b Builder) WithEngine(engine sim.EventScheduler) Builder {
	b.engine = engine
	return b
}

// WithClock sets the clock domain of the core.
func (b Builder) WithClock(clock sim.Clock) Builder {
	b.clock = clock
	return b
}

// WithExitRequester sets who the magic instructions ask to stop the run.
func (b Builder) WithExitRequester(e sim.ExitRequester) Builder {
	b.exiter = e
	return b
}

// WithThreadTracker sets the tracker that is told when a thread halts.
func (b Builder) WithThreadTracker(t *ThreadTracker) Builder {
	b.threads = t
	return b
}

// WithFunctionalMemory sets the memory that a functional core accesses.
func (b Builder) WithFunctionalMemory(m FunctionalMemory) Builder {
	b.memory = m
	return b
}

// WithWidth sets the number of instructions that a functional core executes
// in each cycle.
func (b Builder) WithWidth(n int) Builder {
	b.width = n
	return b
}

// WithExitOnWorkItems makes the work item instructions stop the run.
func (b Builder) WithExitOnWorkItems() Builder {
	b.exitOnWorkItems = true
	return b
}

// WithAdditionalHooks adds a hook to the core, for example to observe the
// commits.
func (b Builder) WithAdditionalHooks(h sim.Hook) Builder {
	b.hooks = append(b.hooks, h)
	return b
}

func (b Builder) buildBase(name string, model CoreModel, ticker sim.Ticker) *coreBase {
	if b.exiter == nil {
		panic("core " + name + " needs an exit requester")
	}

	c := &coreBase{
		model:           model,
		exiter:          b.exiter,
		threads:         b.threads,
		exitOnWorkItems: b.exitOnWorkItems,
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.clock, ticker)

	for _, h := range b.hooks {
		c.AcceptHook(h)
	}

	logrus.WithFields(logrus.Fields{
		"name":   name,
		"model":  model.String(),
		"period": c.Period(),
	}).Info("core built")

	return c
}

// BuildFunctional creates a functional core.
func (b Builder) BuildFunctional(name string) *FunctionalCore {
	if b.memory == nil {
		panic("functional core " + name + " needs a functional memory")
	}

	if b.width <= 0 {
		panic("functional core " + name + " must execute at least one " +
			"instruction per cycle")
	}

	c := &FunctionalCore{
		memory: b.memory,
		width:  b.width,
	}
	c.coreBase = b.buildBase(name, Functional, c)

	return c
}

// BuildTiming creates a timing core. The L1 is set when the core is wired.
func (b Builder) BuildTiming(name string) *TimingCore {
	c := &TimingCore{}
	c.coreBase = b.buildBase(name, Timing, c)

	c.memPort = sim.NewPort(c, b.bufSize, b.bufSize, name+".MemPort")
	c.AddPort("Mem", c.memPort)

	return c
}
