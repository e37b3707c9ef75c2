package dram

import (
	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/mem/dram/internal/addressmapping"
	"github.com/sarchlab/cohsim/sim"
	"github.com/sirupsen/logrus"
)

// DDR3_1600 is the timing of a DDR3-1600 (11-11-11) device.
var DDR3_1600 = Timing{
	TCL:        11,
	TCWL:       8,
	TRCD:       11,
	TRP:        11,
	TWR:        12,
	TWTR:       6,
	TRTW:       2,
	BurstCycle: 4,
}

// Builder can build new memory controllers.
type Builder struct {
	engine      sim.EventScheduler
	clock       sim.Clock
	storage     *mem.Storage
	capacity    uint64
	timing      Timing
	timingModel TimingModel
	hooks       []sim.Hook

	topBufSize     int
	accessUnitSize uint64
	numChannel     int
	numBank        int
	rowSize        uint64
}

// MakeBuilder creates a builder with DDR3-1600 8x8 default configuration.
func MakeBuilder() Builder {
	return Builder{
		capacity:       512 * mem.MB,
		timing:         DDR3_1600,
		topBufSize:     16,
		accessUnitSize: 64,
		numChannel:     1,
		numBank:        8,
		rowSize:        8 * mem.KB,
	}
}

// WithEngine sets the engine that the memory controller uses.
func (b Builder) WithEngine(e sim.EventScheduler) Builder {
	b.engine = e
	return b
}

// WithClock sets the memory clock.
func (b Builder) WithClock(c sim.Clock) Builder {
	b.clock = c
	return b
}

// WithStorage sets the storage that the memory controller uses. If not set, a
// new storage with the capacity is created.
func (b Builder) WithStorage(s *mem.Storage) Builder {
	b.storage = s
	return b
}

// WithCapacity sets the capacity of the storage created by the builder.
func (b Builder) WithCapacity(capacity uint64) Builder {
	b.capacity = capacity
	return b
}

// WithTiming sets the timing parameters of the DRAM device.
func (b Builder) WithTiming(t Timing) Builder {
	b.timing = t
	return b
}

// WithTimingModel replaces the bank timing model.
func (b Builder) WithTimingModel(m TimingModel) Builder {
	b.timingModel = m
	return b
}

// WithTopBufSize sets the number of requests that the top port can buffer.
func (b Builder) WithTopBufSize(n int) Builder {
	b.topBufSize = n
	return b
}

// WithAccessUnitSize sets the number of bytes in a channel interleaving unit.
func (b Builder) WithAccessUnitSize(n uint64) Builder {
	b.accessUnitSize = n
	return b
}

// WithNumChannel sets the number of channels.
func (b Builder) WithNumChannel(n int) Builder {
	b.numChannel = n
	return b
}

// WithNumBank sets the number of banks in each channel.
func (b Builder) WithNumBank(n int) Builder {
	b.numBank = n
	return b
}

// WithRowSize sets the number of bytes in a row.
func (b Builder) WithRowSize(n uint64) Builder {
	b.rowSize = n
	return b
}

// WithAdditionalHooks adds the given hook to the memory controller.
func (b Builder) WithAdditionalHooks(h sim.Hook) Builder {
	b.hooks = append(b.hooks, h)
	return b
}

// Build builds a new memory controller.
func (b Builder) Build(name string) *Comp {
	b.parametersMustBeValid()

	c := &Comp{
		storage: b.storage,
		model:   b.timingModel,
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.clock, c)

	if c.storage == nil {
		c.storage = mem.NewStorage(b.capacity)
	}

	if c.model == nil {
		mapper := addressmapping.RoRaBaCoChMapper{
			AccessUnitSize: b.accessUnitSize,
			NumChannel:     uint64(b.numChannel),
			UnitsPerRow:    b.rowSize / b.accessUnitSize,
			NumBank:        uint64(b.numBank),
		}
		c.model = newBankTimingModel(
			b.timing, c.Period(), mapper, b.numChannel, b.numBank)
	}

	c.topPort = sim.NewPort(c, b.topBufSize, b.topBufSize, name+".TopPort")
	c.AddPort("Top", c.topPort)

	for _, h := range b.hooks {
		c.AcceptHook(h)
	}

	logrus.WithFields(logrus.Fields{
		"name":     name,
		"channels": b.numChannel,
		"banks":    b.numBank,
		"period":   c.Period(),
	}).Info("memory controller built")

	return c
}

func (b Builder) parametersMustBeValid() {
	if b.numChannel <= 0 || b.numBank <= 0 {
		panic("memory controller must have at least one channel and bank")
	}

	if b.accessUnitSize == 0 || b.rowSize < b.accessUnitSize {
		panic("row size must be at least one access unit")
	}
}
