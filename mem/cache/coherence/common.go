package coherence

import (
	"fmt"

	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/sim"
	"github.com/sirupsen/logrus"
)

// pipelineItem carries a request through the access pipeline.
type pipelineItem struct {
	msg sim.Msg
}

func (i pipelineItem) TaskID() string {
	return i.msg.Meta().ID
}

// outbox is an unbounded FIFO of messages waiting for a port to accept them.
// Controllers never stall on a full port while handling a protocol message.
type outbox struct {
	port sim.Port
	msgs []sim.Msg
}

func (o *outbox) push(msg sim.Msg) {
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) send() bool {
	madeProgress := false

	for len(o.msgs) > 0 {
		if o.port.Send(o.msgs[0]) != nil {
			break
		}

		o.msgs[0] = nil
		o.msgs = o.msgs[1:]
		madeProgress = true
	}

	return madeProgress
}

func (o *outbox) len() int {
	return len(o.msgs)
}

func protocolViolation(
	now sim.VTimeInCycle,
	addr uint64,
	detail string,
	components ...string,
) {
	panic(&sim.InvariantViolation{
		Kind:       "protocol",
		Time:       now,
		Address:    addr,
		Components: components,
		Detail:     detail,
	})
}

func logTransition(
	comp string,
	now sim.VTimeInCycle,
	addr uint64,
	from, to fmt.Stringer,
	cause MsgKind,
) {
	if !logrus.IsLevelEnabled(logrus.TraceLevel) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"tick":  now,
		"comp":  comp,
		"addr":  fmt.Sprintf("0x%x", addr),
		"from":  from.String(),
		"to":    to.String(),
		"cause": cause.String(),
	}).Trace("coherence transition")
}

func lineOffset(req mem.AccessReq, lineSize int) (lineAddr uint64, offset int) {
	addr := req.GetAddress()
	lineAddr = addr &^ uint64(lineSize-1)
	offset = int(addr - lineAddr)

	if offset+int(req.GetByteSize()) > lineSize {
		panic(fmt.Sprintf("access 0x%x+%d crosses a line boundary",
			addr, req.GetByteSize()))
	}

	return lineAddr, offset
}
