package fixedlatency

import (
	"github.com/sarchlab/cohsim/sim"
)

// Builder can help building fixed-latency connections.
type Builder struct {
	engine  sim.EventScheduler
	clock   sim.Clock
	latency uint64
}

// MakeBuilder creates a builder with a latency of one cycle.
func MakeBuilder() Builder {
	return Builder{
		latency: 1,
	}
}

// WithEngine sets the engine that the connection uses.
func (b Builder) WithEngine(e sim.EventScheduler) Builder {
	b.engine = e
	return b
}

// WithClock sets the clock domain of the connection.
func (b Builder) WithClock(c sim.Clock) Builder {
	b.clock = c
	return b
}

// WithLatency sets the number of cycles a message spends in the connection.
// The latency must be at least one cycle.
func (b Builder) WithLatency(cycles uint64) Builder {
	b.latency = cycles
	return b
}

// Build creates a connection.
func (b Builder) Build(name string) *Comp {
	if b.latency == 0 {
		panic("connection latency must be at least one cycle")
	}

	c := &Comp{
		latency: b.latency,
		ports: ports{
			portMap: make(map[sim.RemotePort]int),
		},
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.clock, c)

	return c
}
