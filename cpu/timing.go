package cpu

import (
	"fmt"

	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/sim"
	"github.com/sarchlab/cohsim/tracing"
)

// A TimingCore is an in-order core that executes one instruction per cycle
// and blocks on each memory access until the L1 responds.
type TimingCore struct {
	*coreBase

	memPort sim.Port
	l1      sim.RemotePort

	outstanding mem.AccessReq
	waitingInst Inst
}

// MemPort returns the port that connects to the L1 cache.
func (c *TimingCore) MemPort() sim.Port {
	return c.memPort
}

// SetL1 sets the port of the L1 cache that serves the core.
func (c *TimingCore) SetL1(l1 sim.RemotePort) {
	c.l1 = l1
}

// RequestDrain stops the core from starting new instructions. The core is
// drained once its outstanding access completes.
func (c *TimingCore) RequestDrain(onDrained func()) {
	c.requestDrain(onDrained, c.outstanding == nil)
}

// IsDrained tells if the context can be taken away.
func (c *TimingCore) IsDrained() bool {
	return c.ctx == nil || (c.draining && c.outstanding == nil) ||
		(c.ctx.Halted && c.outstanding == nil)
}

// Tick handles the response of the memory and starts the next instruction.
func (c *TimingCore) Tick() bool {
	madeProgress := c.processRsp()

	if c.outstanding != nil || !c.isRunning() || c.haltIfFinished() {
		return madeProgress
	}

	inst := c.ctx.fetch()
	if inst.Op.IsMemory() {
		return c.issue(inst) || madeProgress
	}

	c.retire(inst)

	return true
}

func (c *TimingCore) issue(inst Inst) bool {
	addr := c.ctx.effectiveAddr(inst)

	var req mem.AccessReq

	if inst.Op == OpLoad {
		req = mem.ReadReqBuilder{}.
			WithSrc(c.memPort.AsRemote()).
			WithDst(c.l1).
			WithAddress(addr).
			WithByteSize(8).
			Build()
	} else {
		req = mem.WriteReqBuilder{}.
			WithSrc(c.memPort.AsRemote()).
			WithDst(c.l1).
			WithAddress(addr).
			WithData(c.ctx.storeData(inst)).
			Build()
	}

	if c.memPort.Send(req) != nil {
		return false
	}

	tracing.TraceReqInitiate(req, c, "")

	c.outstanding = req
	c.waitingInst = inst

	return true
}

func (c *TimingCore) processRsp() bool {
	msg := c.memPort.RetrieveIncoming()
	if msg == nil {
		return false
	}

	rsp := msg.(mem.AccessRsp)
	if c.outstanding == nil || rsp.GetRspTo() != c.outstanding.Meta().ID {
		panic(fmt.Sprintf("%s received an unexpected response %s",
			c.Name(), rsp.Meta().ID))
	}

	if dr, ok := rsp.(*mem.DataReadyRsp); ok {
		c.ctx.loadData(c.waitingInst, dr.Data)
	}

	tracing.TraceReqFinalize(c.outstanding, c)
	c.outstanding = nil
	c.retire(c.waitingInst)

	if c.draining {
		c.notifyDrained()
	}

	return true
}
