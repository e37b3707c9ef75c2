// Package fixedlatency provides a connection that delivers every message a
// fixed number of cycles after it is sent. Messages between the same pair of
// ports are delivered in the order they are sent.
package fixedlatency

import (
	"fmt"

	"github.com/sarchlab/cohsim/sim"
)

type transit struct {
	msg     sim.Msg
	readyAt sim.VTimeInCycle
}

type ports struct {
	ports   []sim.Port
	portMap map[sim.RemotePort]int
}

func (p *ports) addPort(port sim.Port) {
	if _, found := p.portMap[port.AsRemote()]; found {
		panic(fmt.Sprintf("port %s is already plugged in", port.Name()))
	}

	p.ports = append(p.ports, port)
	p.portMap[port.AsRemote()] = len(p.ports) - 1
}

func (p *ports) getPortByName(name sim.RemotePort) (sim.Port, int) {
	index, found := p.portMap[name]
	if !found {
		panic(fmt.Sprintf("port %s is not connected", name))
	}

	return p.ports[index], index
}

// Comp is a connection with a fixed latency and unlimited bandwidth.
type Comp struct {
	*sim.TickingComponent

	latency    uint64
	ports      ports
	inFlight   [][]transit
	nextPortID int

	numMsgs  uint64
	numBytes uint64
}

// PlugIn marks the port connects to this connection.
func (c *Comp) PlugIn(port sim.Port) {
	c.Lock()
	defer c.Unlock()

	c.ports.addPort(port)
	c.inFlight = append(c.inFlight, nil)

	port.SetConnection(c)
}

// Unplug marks the port no longer connects to this connection.
func (c *Comp) Unplug(_ sim.Port) {
	panic("not implemented")
}

// NotifyAvailable is called by a port to notify that the connection can
// deliver to the port again.
func (c *Comp) NotifyAvailable(_ sim.Port) {
	c.TickNow()
}

// NotifySend is called by a port to notify that the connection can start
// to tick now
func (c *Comp) NotifySend(_ sim.Port) {
	c.TickNow()
}

// Tick delivers the messages that have arrived and accepts new messages.
func (c *Comp) Tick() bool {
	madeProgress := false

	madeProgress = c.deliver() || madeProgress
	madeProgress = c.accept() || madeProgress

	c.wakeUpForNextArrival()

	return madeProgress
}

func (c *Comp) deliver() bool {
	now := c.CurrentTime()
	madeProgress := false

	for i, queue := range c.inFlight {
		dst := c.ports.ports[i]

		for len(queue) > 0 && queue[0].readyAt <= now {
			if dst.Deliver(queue[0].msg) != nil {
				break
			}

			c.InvokeHook(sim.HookCtx{
				Domain: c,
				Pos:    sim.HookPosConnDeliver,
				Item:   queue[0].msg,
			})

			c.numMsgs++
			c.numBytes += uint64(queue[0].msg.Meta().TrafficBytes)

			queue[0] = transit{}
			queue = queue[1:]
			madeProgress = true
		}

		c.inFlight[i] = queue
	}

	return madeProgress
}

func (c *Comp) accept() bool {
	now := c.CurrentTime()
	readyAt := now + sim.VTimeInCycle(c.latency)*c.Period()
	madeProgress := false
	numPorts := len(c.ports.ports)

	for i := 0; i < numPorts; i++ {
		src := c.ports.ports[(i+c.nextPortID)%numPorts]

		for {
			msg := src.PeekOutgoing()
			if msg == nil {
				break
			}

			_, dstIndex := c.ports.getPortByName(msg.Meta().Dst)

			c.InvokeHook(sim.HookCtx{
				Domain: c,
				Pos:    sim.HookPosConnStartTrans,
				Item:   msg,
			})

			c.inFlight[dstIndex] = append(c.inFlight[dstIndex],
				transit{msg: msg, readyAt: readyAt})
			src.RetrieveOutgoing()

			madeProgress = true
		}
	}

	if numPorts > 0 {
		c.nextPortID = (c.nextPortID + 1) % numPorts
	}

	return madeProgress
}

func (c *Comp) wakeUpForNextArrival() {
	now := c.CurrentTime()
	earliest := sim.MaxTime

	for _, queue := range c.inFlight {
		if len(queue) > 0 && queue[0].readyAt > now &&
			queue[0].readyAt < earliest {
			earliest = queue[0].readyAt
		}
	}

	if earliest != sim.MaxTime {
		c.TickAt(earliest)
	}
}

// NumInFlight returns the number of messages that are sent but not
// delivered.
func (c *Comp) NumInFlight() int {
	n := 0
	for _, queue := range c.inFlight {
		n += len(queue)
	}

	return n
}

// Stats returns the number of delivered messages and bytes.
func (c *Comp) Stats() sim.Counters {
	return sim.Counters{
		"msgs_delivered":  c.numMsgs,
		"bytes_delivered": c.numBytes,
	}
}

// ResetStats clears the counters.
func (c *Comp) ResetStats() {
	c.numMsgs = 0
	c.numBytes = 0
}
