package pipelining

import (
	"fmt"

	"github.com/sarchlab/cohsim/sim"
)

// A Builder can build pipelines.
type Builder struct {
	width     int
	numStages int
	output    sim.Buffer
}

// MakeBuilder creates a builder for a one-lane pipeline with a single stage.
func MakeBuilder() Builder {
	return Builder{
		width:     1,
		numStages: 1,
	}
}

// WithWidth sets the number of items that can enter the pipeline in the same
// cycle.
func (b Builder) WithWidth(n int) Builder {
	b.width = n
	return b
}

// WithNumStages sets the number of cycles that an item spends in the
// pipeline when the output is not blocked. With 0 stages, accepted items go
// to the output directly.
func (b Builder) WithNumStages(n int) Builder {
	b.numStages = n
	return b
}

// WithOutput sets the buffer that receives the items leaving the pipeline.
func (b Builder) WithOutput(buf sim.Buffer) Builder {
	b.output = buf
	return b
}

// Build builds a pipeline.
func (b Builder) Build(name string) Pipeline {
	sim.NameMustBeValid(name)

	switch {
	case b.output == nil:
		panic(fmt.Sprintf("pipeline %s needs an output buffer", name))
	case b.width <= 0:
		panic(fmt.Sprintf("pipeline %s has width %d", name, b.width))
	case b.numStages < 0:
		panic(fmt.Sprintf("pipeline %s has %d stages", name, b.numStages))
	}

	return &grid{
		name:      name,
		width:     b.width,
		numStages: b.numStages,
		output:    b.output,
		slots:     make([]PipelineItem, b.width*b.numStages),
	}
}
