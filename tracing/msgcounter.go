package tracing

import (
	"sync"

	"github.com/sarchlab/cohsim/sim"
)

// A MsgCounter counts the messages and bytes delivered by the connections
// it is hooked to, grouped by traffic class.
type MsgCounter struct {
	lock  sync.Mutex
	name  string
	msgs  map[string]uint64
	bytes uint64
	total uint64
}

// NewMsgCounter creates a MsgCounter.
func NewMsgCounter(name string) *MsgCounter {
	return &MsgCounter{
		name: name,
		msgs: make(map[string]uint64),
	}
}

// Name returns the name of the counter.
func (c *MsgCounter) Name() string {
	return c.name
}

// Func counts the message if the hook is triggered by a delivery.
func (c *MsgCounter) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosConnDeliver {
		return
	}

	msg := ctx.Item.(sim.Msg)
	class := msg.Meta().TrafficClass
	if class == "" {
		class = "unknown"
	}

	c.lock.Lock()
	c.msgs[class]++
	c.total++
	c.bytes += uint64(msg.Meta().TrafficBytes)
	c.lock.Unlock()
}

// Count returns the number of delivered messages of a traffic class.
func (c *MsgCounter) Count(class string) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.msgs[class]
}

// Stats returns the counters, one per traffic class, plus the totals.
func (c *MsgCounter) Stats() sim.Counters {
	c.lock.Lock()
	defer c.lock.Unlock()

	stats := sim.Counters{
		"msgs_total":  c.total,
		"bytes_total": c.bytes,
	}

	for class, n := range c.msgs {
		stats["msgs_"+class] = n
	}

	return stats
}

// ResetStats clears the counters.
func (c *MsgCounter) ResetStats() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.msgs = make(map[string]uint64)
	c.total = 0
	c.bytes = 0
}
