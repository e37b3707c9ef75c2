// Package dram provides a memory controller that models the row-buffer and
// bank timing of DRAM.
package dram

import (
	"fmt"

	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/sim"
	"github.com/sarchlab/cohsim/tracing"
	"github.com/sirupsen/logrus"
)

type pendingRsp struct {
	req        mem.AccessReq
	data       []byte
	completion sim.VTimeInCycle
}

// Comp is a memory controller that handles read and write requests. The data
// is applied to the storage in the order the requests arrive, while the
// responses are sent at the completion tick reported by the timing model.
type Comp struct {
	*sim.TickingComponent

	topPort sim.Port
	storage *mem.Storage
	model   TimingModel

	pending []pendingRsp

	numReads  uint64
	numWrites uint64
}

// TopPort returns the port that receives memory requests.
func (c *Comp) TopPort() sim.Port {
	return c.topPort
}

// Storage returns the storage that holds the data of the memory.
func (c *Comp) Storage() *mem.Storage {
	return c.storage
}

// Tick updates memory controller's internal state.
func (c *Comp) Tick() bool {
	madeProgress := false

	madeProgress = c.respond() || madeProgress
	madeProgress = c.parseTop() || madeProgress

	c.wakeUpForNextCompletion()

	return madeProgress
}

func (c *Comp) parseTop() bool {
	msg := c.topPort.RetrieveIncoming()
	if msg == nil {
		return false
	}

	now := c.CurrentTime()
	tracing.TraceReqReceive(msg, c)

	var (
		rsp  pendingRsp
		kind AccessKind
		err  error
	)

	switch req := msg.(type) {
	case *mem.ReadReq:
		kind = AccessRead
		rsp.req = req
		rsp.data, err = c.storage.Read(req.Address, req.AccessByteSize)
		c.numReads++
	case *mem.WriteReq:
		kind = AccessWrite
		rsp.req = req
		err = c.storage.Write(req.Address, req.Data)
		c.numWrites++
	default:
		panic(fmt.Sprintf("cannot handle message of type %T", msg))
	}

	if err != nil {
		panic(fmt.Errorf("%s: %w", c.Name(), err))
	}

	rsp.completion = c.model.EnqueueRequest(rsp.req.GetAddress(), kind, now)
	c.pending = append(c.pending, rsp)

	logrus.WithFields(logrus.Fields{
		"tick":       now,
		"comp":       c.Name(),
		"kind":       kind,
		"addr":       fmt.Sprintf("0x%x", rsp.req.GetAddress()),
		"completion": rsp.completion,
	}).Trace("dram access")

	return true
}

// respond sends the responses whose completion tick has been reached, earliest
// completion first.
func (c *Comp) respond() bool {
	now := c.CurrentTime()
	madeProgress := false

	for {
		i := c.nextReadyRsp(now)
		if i < 0 {
			return madeProgress
		}

		rsp := c.pending[i]
		if c.topPort.Send(c.buildRsp(rsp)) != nil {
			return madeProgress
		}

		tracing.TraceReqComplete(rsp.req, c)

		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		madeProgress = true
	}
}

func (c *Comp) nextReadyRsp(now sim.VTimeInCycle) int {
	chosen := -1

	for i, rsp := range c.pending {
		if rsp.completion > now {
			continue
		}

		if chosen < 0 || rsp.completion < c.pending[chosen].completion {
			chosen = i
		}
	}

	return chosen
}

func (c *Comp) buildRsp(rsp pendingRsp) sim.Msg {
	meta := rsp.req.Meta()

	if _, isWrite := rsp.req.(*mem.WriteReq); isWrite {
		return mem.WriteDoneRspBuilder{}.
			WithSrc(c.topPort.AsRemote()).
			WithDst(meta.Src).
			WithRspTo(meta.ID).
			Build()
	}

	return mem.DataReadyRspBuilder{}.
		WithSrc(c.topPort.AsRemote()).
		WithDst(meta.Src).
		WithRspTo(meta.ID).
		WithData(rsp.data).
		Build()
}

func (c *Comp) wakeUpForNextCompletion() {
	now := c.CurrentTime()
	earliest := sim.MaxTime

	for _, rsp := range c.pending {
		if rsp.completion > now && rsp.completion < earliest {
			earliest = rsp.completion
		}
	}

	if earliest != sim.MaxTime {
		c.TickAt(earliest)
	}
}

// NumPending returns the number of requests that have not been responded.
func (c *Comp) NumPending() int {
	return len(c.pending)
}

type rowBufferStatsReporter interface {
	rowBufferStats() RowBufferStats
	resetStats()
}

// RowBufferStats returns the row-buffer outcome counters. The counters are
// zero if the timing model does not track the row buffer.
func (c *Comp) RowBufferStats() RowBufferStats {
	if r, ok := c.model.(rowBufferStatsReporter); ok {
		return r.rowBufferStats()
	}

	return RowBufferStats{}
}

// Stats returns the performance counters of the memory controller.
func (c *Comp) Stats() sim.Counters {
	rb := c.RowBufferStats()

	return sim.Counters{
		"reads":         c.numReads,
		"writes":        c.numWrites,
		"row_hits":      rb.Hits,
		"row_misses":    rb.Misses,
		"row_conflicts": rb.Conflicts,
	}
}

// ResetStats clears the counters without touching the bank state.
func (c *Comp) ResetStats() {
	c.numReads = 0
	c.numWrites = 0

	if r, ok := c.model.(rowBufferStatsReporter); ok {
		r.resetStats()
	}
}
