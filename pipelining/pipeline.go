// Package pipelining models fixed-latency pipelines that a request passes
// through before it is processed, such as a cache tag lookup.
package pipelining

import (
	"fmt"

	"github.com/sarchlab/cohsim/sim"
	"github.com/sarchlab/cohsim/tracing"
)

// PipelineItem is an item that can pass through a pipeline.
type PipelineItem interface {
	TaskID() string
}

// A Pipeline delays the items that it accepts by one cycle per stage. Items
// in the same lane never pass each other, so a blocked output stalls the
// lane.
type Pipeline interface {
	tracing.NamedHookable

	// Tick advances every item that is not blocked by one stage.
	Tick() (madeProgress bool)

	// CanAccept tells if the first stage has a free lane.
	CanAccept() bool

	// Accept puts the item in a free lane of the first stage. It panics if
	// there is none.
	Accept(item PipelineItem)

	// NumItems returns the number of items in the stages.
	NumItems() int

	// Clear drops every item in the stages.
	Clear()
}

// grid holds the items by stage. The slot of lane l at stage s is
// slots[s*width+l].
type grid struct {
	sim.HookableBase

	name      string
	width     int
	numStages int
	output    sim.Buffer
	slots     []PipelineItem
}

func (p *grid) Name() string {
	return p.name
}

func (p *grid) slot(stage, lane int) *PipelineItem {
	return &p.slots[stage*p.width+lane]
}

func (p *grid) Tick() (madeProgress bool) {
	if p.numStages == 0 {
		return false
	}

	last := p.numStages - 1

	for lane := 0; lane < p.width; lane++ {
		if item := *p.slot(last, lane); item != nil && p.output.CanPush() {
			p.output.Push(item)
			*p.slot(last, lane) = nil
			tracing.EndTask(item.TaskID()+"_pipeline", p)

			madeProgress = true
		}

		for stage := last - 1; stage >= 0; stage-- {
			from, to := p.slot(stage, lane), p.slot(stage+1, lane)
			if *from == nil || *to != nil {
				continue
			}

			*to, *from = *from, nil
			madeProgress = true
		}
	}

	return madeProgress
}

func (p *grid) CanAccept() bool {
	if p.numStages == 0 {
		return p.output.CanPush()
	}

	for lane := 0; lane < p.width; lane++ {
		if *p.slot(0, lane) == nil {
			return true
		}
	}

	return false
}

func (p *grid) Accept(item PipelineItem) {
	if p.numStages == 0 {
		p.output.Push(item)
		return
	}

	for lane := 0; lane < p.width; lane++ {
		if *p.slot(0, lane) != nil {
			continue
		}

		*p.slot(0, lane) = item
		tracing.StartTask(item.TaskID()+"_pipeline", item.TaskID(), p,
			"pipeline", fmt.Sprintf("%T", item), nil)

		return
	}

	panic(fmt.Sprintf("pipeline %s is full", p.name))
}

func (p *grid) NumItems() int {
	n := 0

	for _, item := range p.slots {
		if item != nil {
			n++
		}
	}

	return n
}

func (p *grid) Clear() {
	clear(p.slots)
}
