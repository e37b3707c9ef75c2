package coherence

import (
	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/mem/cache/internal/mshr"
	"github.com/sarchlab/cohsim/mem/cache/internal/tagging"
	"github.com/sarchlab/cohsim/pipelining"
	"github.com/sarchlab/cohsim/sim"
	"github.com/sirupsen/logrus"
)

// A L1Builder can build private L1 caches.
type L1Builder struct {
	engine         sim.EventScheduler
	clock          sim.Clock
	numSets        int
	numWays        int
	lineSize       int
	latency        int
	mshrCapacity   int
	numReqPerCycle int
	bufSize        int
	homeFinder     mem.AddressToPortMapper
	hooks          []sim.Hook
}

// MakeL1Builder returns a builder of a 32KB 8-way L1 with 64B lines.
func MakeL1Builder() L1Builder {
	return L1Builder{
		numSets:        64,
		numWays:        8,
		lineSize:       64,
		latency:        2,
		mshrCapacity:   16,
		numReqPerCycle: 1,
		bufSize:        16,
	}
}

// WithEngine sets the engine.
func (b L1Builder) WithEngine(engine sim.EventScheduler) L1Builder {
	b.engine = engine
	return b
}

// WithClock sets the clock domain of the cache.
func (b L1Builder) WithClock(clock sim.Clock) L1Builder {
	b.clock = clock
	return b
}

// WithNumSets sets the number of sets.
func (b L1Builder) WithNumSets(n int) L1Builder {
	b.numSets = n
	return b
}

// WithNumWays sets the associativity.
func (b L1Builder) WithNumWays(n int) L1Builder {
	b.numWays = n
	return b
}

// WithLineSize sets the number of bytes in a line.
func (b L1Builder) WithLineSize(n int) L1Builder {
	b.lineSize = n
	return b
}

// WithLatency sets the number of cycles of the tag lookup pipeline.
func (b L1Builder) WithLatency(cycles int) L1Builder {
	b.latency = cycles
	return b
}

// WithMSHRCapacity sets the number of transactions that can be in flight. 0
// means unlimited.
func (b L1Builder) WithMSHRCapacity(n int) L1Builder {
	b.mshrCapacity = n
	return b
}

// WithNumReqPerCycle sets the number of requests that can be handled in each
// cycle.
func (b L1Builder) WithNumReqPerCycle(n int) L1Builder {
	b.numReqPerCycle = n
	return b
}

// WithBufSize sets the size of the port buffers.
func (b L1Builder) WithBufSize(n int) L1Builder {
	b.bufSize = n
	return b
}

// WithHomeFinder sets the mapper that finds the directory of a line.
func (b L1Builder) WithHomeFinder(f mem.AddressToPortMapper) L1Builder {
	b.homeFinder = f
	return b
}

// WithAdditionalHooks adds a hook to the cache.
func (b L1Builder) WithAdditionalHooks(h sim.Hook) L1Builder {
	b.hooks = append(b.hooks, h)
	return b
}

// Build creates an L1 cache.
func (b L1Builder) Build(name string) *L1Controller {
	shapeMustBeValid(name, b.numSets, b.numWays, b.lineSize, b.numReqPerCycle)

	if b.homeFinder == nil {
		panic("L1 " + name + " needs a home finder")
	}

	c := &L1Controller{
		tags:           tagging.NewTagArray(b.numSets, b.numWays, b.lineSize),
		victimFinder:   tagging.NewLRUVictimFinder(),
		mshr:           mshr.NewMSHR(0),
		mshrCapacity:   b.mshrCapacity,
		homeFinder:     b.homeFinder,
		numReqPerCycle: b.numReqPerCycle,
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.clock, c)

	c.lines = make([][]l1Line, b.numSets)
	for i := range c.lines {
		c.lines[i] = make([]l1Line, b.numWays)
	}

	c.postPipelineBuf = sim.NewBuffer(name+".PostPipelineBuf", b.numReqPerCycle)
	c.pipeline = pipelining.MakeBuilder().
		WithWidth(b.numReqPerCycle).
		WithNumStages(b.latency).
		WithOutput(c.postPipelineBuf).
		Build(name + ".Pipeline")

	c.topPort = sim.NewPort(c, b.bufSize, b.bufSize, name+".TopPort")
	c.bottomPort = sim.NewPort(c, b.bufSize, b.bufSize, name+".BottomPort")
	c.AddPort("Top", c.topPort)
	c.AddPort("Bottom", c.bottomPort)
	c.toCore.port = c.topPort
	c.toHome.port = c.bottomPort

	for _, h := range b.hooks {
		c.AcceptHook(h)
	}

	logrus.WithFields(logrus.Fields{
		"name":     name,
		"sets":     b.numSets,
		"ways":     b.numWays,
		"lineSize": b.lineSize,
	}).Info("L1 cache built")

	return c
}

// A DirectoryBuilder can build the banks of the shared cache.
type DirectoryBuilder struct {
	engine         sim.EventScheduler
	clock          sim.Clock
	numSets        int
	numWays        int
	lineSize       int
	latency        int
	mshrCapacity   int
	numReqPerCycle int
	bufSize        int
	memFinder      mem.AddressToPortMapper
	hooks          []sim.Hook
}

// MakeDirectoryBuilder returns a builder of a 1MB 16-way bank with 64B lines.
func MakeDirectoryBuilder() DirectoryBuilder {
	return DirectoryBuilder{
		numSets:        1024,
		numWays:        16,
		lineSize:       64,
		latency:        10,
		mshrCapacity:   32,
		numReqPerCycle: 1,
		bufSize:        64,
	}
}

// WithEngine sets the engine.
func (b DirectoryBuilder) WithEngine(engine sim.EventScheduler) DirectoryBuilder {
	b.engine = engine
	return b
}

// WithClock sets the clock domain of the directory.
func (b DirectoryBuilder) WithClock(clock sim.Clock) DirectoryBuilder {
	b.clock = clock
	return b
}

// WithNumSets sets the number of sets.
func (b DirectoryBuilder) WithNumSets(n int) DirectoryBuilder {
	b.numSets = n
	return b
}

// WithNumWays sets the associativity.
func (b DirectoryBuilder) WithNumWays(n int) DirectoryBuilder {
	b.numWays = n
	return b
}

// WithLineSize sets the number of bytes in a line. It must match the L1s.
func (b DirectoryBuilder) WithLineSize(n int) DirectoryBuilder {
	b.lineSize = n
	return b
}

// WithLatency sets the number of cycles of the tag lookup pipeline.
func (b DirectoryBuilder) WithLatency(cycles int) DirectoryBuilder {
	b.latency = cycles
	return b
}

// WithMSHRCapacity sets the number of transactions that can be in flight. 0
// means unlimited.
func (b DirectoryBuilder) WithMSHRCapacity(n int) DirectoryBuilder {
	b.mshrCapacity = n
	return b
}

// WithNumReqPerCycle sets the number of requests that can be started in each
// cycle.
func (b DirectoryBuilder) WithNumReqPerCycle(n int) DirectoryBuilder {
	b.numReqPerCycle = n
	return b
}

// WithBufSize sets the size of the port buffers.
func (b DirectoryBuilder) WithBufSize(n int) DirectoryBuilder {
	b.bufSize = n
	return b
}

// WithMemFinder sets the mapper that finds the memory controller of a line.
func (b DirectoryBuilder) WithMemFinder(
	f mem.AddressToPortMapper,
) DirectoryBuilder {
	b.memFinder = f
	return b
}

// WithAdditionalHooks adds a hook to the directory.
func (b DirectoryBuilder) WithAdditionalHooks(h sim.Hook) DirectoryBuilder {
	b.hooks = append(b.hooks, h)
	return b
}

// Build creates a directory.
func (b DirectoryBuilder) Build(name string) *Directory {
	shapeMustBeValid(name, b.numSets, b.numWays, b.lineSize, b.numReqPerCycle)

	if b.memFinder == nil {
		panic("directory " + name + " needs a memory finder")
	}

	if b.mshrCapacity == 1 {
		panic("directory " + name + " needs room for a recall and a fetch")
	}

	d := &Directory{
		tags:           tagging.NewTagArray(b.numSets, b.numWays, b.lineSize),
		victimFinder:   tagging.NewLRUVictimFinder(),
		mshr:           mshr.NewMSHR(0),
		mshrCapacity:   b.mshrCapacity,
		memFinder:      b.memFinder,
		memReqs:        make(map[string]uint64),
		recallFor:      make(map[uint64]uint64),
		numReqPerCycle: b.numReqPerCycle,
	}
	d.TickingComponent = sim.NewTickingComponent(name, b.engine, b.clock, d)

	d.lines = make([][]dirLine, b.numSets)
	for i := range d.lines {
		d.lines[i] = make([]dirLine, b.numWays)
	}

	d.postPipelineBuf = sim.NewBuffer(name+".PostPipelineBuf", b.numReqPerCycle)
	d.pipeline = pipelining.MakeBuilder().
		WithWidth(b.numReqPerCycle).
		WithNumStages(b.latency).
		WithOutput(d.postPipelineBuf).
		Build(name + ".Pipeline")

	d.topPort = sim.NewPort(d, b.bufSize, b.bufSize, name+".TopPort")
	d.bottomPort = sim.NewPort(d, b.bufSize, b.bufSize, name+".BottomPort")
	d.AddPort("Top", d.topPort)
	d.AddPort("Bottom", d.bottomPort)
	d.toL1.port = d.topPort
	d.toMem.port = d.bottomPort

	for _, h := range b.hooks {
		d.AcceptHook(h)
	}

	logrus.WithFields(logrus.Fields{
		"name":     name,
		"sets":     b.numSets,
		"ways":     b.numWays,
		"lineSize": b.lineSize,
	}).Info("directory built")

	return d
}

func shapeMustBeValid(name string, numSets, numWays, lineSize, width int) {
	if numSets <= 0 || numWays <= 0 {
		panic(name + " must have at least one set and one way")
	}

	if lineSize <= 0 || lineSize&(lineSize-1) != 0 {
		panic(name + " must have a power-of-two line size")
	}

	if width <= 0 {
		panic(name + " must handle at least one request per cycle")
	}
}
