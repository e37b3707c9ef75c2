package coherence

import (
	"fmt"

	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/mem/cache/internal/mshr"
	"github.com/sarchlab/cohsim/mem/cache/internal/tagging"
	"github.com/sarchlab/cohsim/pipelining"
	"github.com/sarchlab/cohsim/sim"
	"github.com/sarchlab/cohsim/tracing"
)

type l1Line struct {
	state State
	data  []byte
}

type l1Stats struct {
	hits          uint64
	misses        uint64
	upgrades      uint64
	evictions     uint64
	writebacks    uint64
	invalidations uint64
	downgrades    uint64
}

// An L1Controller is a private cache of a core. It serves the loads and stores
// of the core in order, and keeps its lines coherent with the other L1s
// through the home directories.
type L1Controller struct {
	*sim.TickingComponent

	topPort    sim.Port
	bottomPort sim.Port

	tags         tagging.TagArray
	victimFinder tagging.VictimFinder
	lines        [][]l1Line
	mshr         mshr.MSHR
	mshrCapacity int

	pipeline        pipelining.Pipeline
	postPipelineBuf sim.Buffer

	homeFinder     mem.AddressToPortMapper
	toHome         outbox
	toCore         outbox
	numReqPerCycle int

	stats l1Stats
}

// TopPort returns the port that receives the requests from the core.
func (c *L1Controller) TopPort() sim.Port {
	return c.topPort
}

// BottomPort returns the port that connects to the coherence network.
func (c *L1Controller) BottomPort() sim.Port {
	return c.bottomPort
}

// Tick updates the state of the cache.
func (c *L1Controller) Tick() bool {
	madeProgress := false

	madeProgress = c.toCore.send() || madeProgress
	madeProgress = c.toHome.send() || madeProgress
	madeProgress = c.processNetwork() || madeProgress
	madeProgress = c.processCoreReq() || madeProgress
	madeProgress = c.pipeline.Tick() || madeProgress
	madeProgress = c.acceptCoreReq() || madeProgress

	return madeProgress
}

func (c *L1Controller) acceptCoreReq() bool {
	madeProgress := false

	for i := 0; i < c.numReqPerCycle; i++ {
		if !c.pipeline.CanAccept() {
			break
		}

		msg := c.topPort.RetrieveIncoming()
		if msg == nil {
			break
		}

		tracing.TraceReqReceive(msg, c)
		c.pipeline.Accept(pipelineItem{msg: msg})

		madeProgress = true
	}

	return madeProgress
}

func (c *L1Controller) processCoreReq() bool {
	item := c.postPipelineBuf.Peek()
	if item == nil {
		return false
	}

	req := item.(pipelineItem).msg.(mem.AccessReq)
	lineAddr, offset := lineOffset(req, c.tags.LineSize())

	if c.mshr.Lookup(lineAddr) != nil {
		return false
	}

	block, hit := c.tags.Lookup(lineAddr)

	var handled bool

	switch req := req.(type) {
	case *mem.ReadReq:
		handled = c.handleRead(req, lineAddr, offset, block, hit)
	case *mem.WriteReq:
		handled = c.handleWrite(req, lineAddr, offset, block, hit)
	default:
		panic(fmt.Sprintf("%s cannot handle %T", c.Name(), req))
	}

	if handled {
		c.postPipelineBuf.Pop()
	}

	return handled
}

func (c *L1Controller) handleRead(
	req *mem.ReadReq,
	lineAddr uint64,
	offset int,
	block tagging.Block,
	hit bool,
) bool {
	if !hit {
		return c.startMiss(req, lineAddr, mshr.KindLoad, StateIS, GetS)
	}

	c.stats.hits++
	tracing.AddTaskStep(tracing.MsgIDAtReceiver(req, c), c, "hit")
	c.tags.Visit(block)
	c.respondRead(req, c.lines[block.SetID][block.WayID].data, offset)

	return true
}

func (c *L1Controller) handleWrite(
	req *mem.WriteReq,
	lineAddr uint64,
	offset int,
	block tagging.Block,
	hit bool,
) bool {
	if !hit {
		return c.startMiss(req, lineAddr, mshr.KindStore, StateIM, GetM)
	}

	line := &c.lines[block.SetID][block.WayID]

	switch line.state {
	case StateM, StateE:
		if line.state == StateE {
			c.setState(lineAddr, line, StateM, GetM)
		}

		c.stats.hits++
		tracing.AddTaskStep(tracing.MsgIDAtReceiver(req, c), c, "hit")
		c.tags.Visit(block)
		c.respondWrite(req, line.data, offset)

		return true
	case StateS:
		return c.startUpgrade(req, lineAddr, block)
	default:
		protocolViolation(c.CurrentTime(), lineAddr,
			fmt.Sprintf("line in tag array with state %s", line.state),
			c.Name())
	}

	return false
}

func (c *L1Controller) hasRoomForMiss(numEntries int) bool {
	return c.mshrCapacity == 0 || c.mshr.Len()+numEntries <= c.mshrCapacity
}

func (c *L1Controller) startUpgrade(
	req *mem.WriteReq,
	lineAddr uint64,
	block tagging.Block,
) bool {
	if !c.hasRoomForMiss(1) {
		return false
	}

	c.stats.upgrades++
	tracing.AddTaskStep(tracing.MsgIDAtReceiver(req, c), c, "upgrade")
	c.tags.Lock(block.SetID, block.WayID)

	c.mustAddEntry(&mshr.Entry{
		Address:   lineAddr,
		Kind:      mshr.KindUpgrade,
		State:     int(StateSM),
		Requester: req.Src,
		Req:       req,
		SetID:     block.SetID,
		WayID:     block.WayID,
	})

	logTransition(c.Name(), c.CurrentTime(), lineAddr, StateS, StateSM, Upgrade)
	c.sendToHome(Upgrade, lineAddr, nil, false)

	return true
}

func (c *L1Controller) startMiss(
	req mem.AccessReq,
	lineAddr uint64,
	kind mshr.Kind,
	state State,
	request MsgKind,
) bool {
	if !c.hasRoomForMiss(2) {
		return false
	}

	victim, found := c.victimFinder.FindVictim(c.tags, lineAddr)
	if !found {
		return false
	}

	if victim.IsValid {
		c.evict(victim)
	}

	c.stats.misses++
	tracing.AddTaskStep(tracing.MsgIDAtReceiver(req, c), c, "miss")

	victim.Tag = lineAddr
	victim.IsValid = false
	victim.IsLocked = true
	c.tags.Update(victim)

	c.mustAddEntry(&mshr.Entry{
		Address:   lineAddr,
		Kind:      kind,
		State:     int(state),
		Requester: req.Meta().Src,
		Req:       req,
		SetID:     victim.SetID,
		WayID:     victim.WayID,
	})

	logTransition(c.Name(), c.CurrentTime(), lineAddr, StateI, state, request)
	c.sendToHome(request, lineAddr, nil, false)

	return true
}

// evict moves the line from the tag array into an eviction transaction so
// that the way can be reused before the home acknowledges the eviction.
func (c *L1Controller) evict(victim tagging.Block) {
	line := &c.lines[victim.SetID][victim.WayID]
	entry := &mshr.Entry{
		Address: victim.Tag,
		Kind:    mshr.KindEviction,
		SetID:   -1,
		WayID:   -1,
	}

	c.stats.evictions++

	cause := PutS
	if line.state.IsExclusive() {
		cause = PutX
		entry.State = int(StateMI)
		entry.Data = line.data
		entry.Dirty = line.state == StateM

		if entry.Dirty {
			c.stats.writebacks++
		}

		c.sendToHome(PutX, victim.Tag, entry.Data, entry.Dirty)
	} else {
		entry.State = int(StateSI)
		c.sendToHome(PutS, victim.Tag, nil, false)
	}

	logTransition(c.Name(), c.CurrentTime(), victim.Tag,
		line.state, State(entry.State), cause)

	c.mustAddEntry(entry)
	c.tags.Invalidate(victim.SetID, victim.WayID)
	*line = l1Line{}
}

func (c *L1Controller) mustAddEntry(entry *mshr.Entry) {
	if err := c.mshr.Add(entry); err != nil {
		panic(fmt.Errorf("%s: %w", c.Name(), err))
	}
}

func (c *L1Controller) sendToHome(
	kind MsgKind,
	lineAddr uint64,
	data []byte,
	dirty bool,
) {
	b := MsgBuilder{}.
		WithSrc(c.bottomPort.AsRemote()).
		WithDst(c.homeFinder.Find(lineAddr)).
		WithKind(kind).
		WithAddress(lineAddr)

	if data != nil {
		b = b.WithData(data, dirty)
	}

	c.toHome.push(b.Build())
}

func (c *L1Controller) respondRead(req *mem.ReadReq, data []byte, offset int) {
	rsp := mem.DataReadyRspBuilder{}.
		WithSrc(c.topPort.AsRemote()).
		WithDst(req.Src).
		WithRspTo(req.ID).
		WithData(append([]byte(nil), data[offset:offset+int(req.AccessByteSize)]...)).
		Build()

	c.toCore.push(rsp)
	tracing.TraceReqComplete(req, c)
}

func (c *L1Controller) respondWrite(req *mem.WriteReq, data []byte, offset int) {
	copy(data[offset:], req.Data)

	rsp := mem.WriteDoneRspBuilder{}.
		WithSrc(c.topPort.AsRemote()).
		WithDst(req.Src).
		WithRspTo(req.ID).
		Build()

	c.toCore.push(rsp)
	tracing.TraceReqComplete(req, c)
}

func (c *L1Controller) setState(
	lineAddr uint64,
	line *l1Line,
	state State,
	cause MsgKind,
) {
	logTransition(c.Name(), c.CurrentTime(), lineAddr, line.state, state, cause)
	line.state = state
}

func (c *L1Controller) processNetwork() bool {
	madeProgress := false

	for i := 0; i < c.numReqPerCycle; i++ {
		msg := c.bottomPort.RetrieveIncoming()
		if msg == nil {
			break
		}

		c.handleNetworkMsg(msg.(*Msg))

		madeProgress = true
	}

	return madeProgress
}

func (c *L1Controller) handleNetworkMsg(m *Msg) {
	switch m.Kind {
	case DataS, DataE, DataM:
		c.handleData(m)
	case UpgradeAck:
		c.handleUpgradeAck(m)
	case PutAck:
		c.handlePutAck(m)
	case Inv:
		c.handleInv(m)
	case Downgrade:
		c.handleDowngrade(m)
	default:
		c.unexpected(m, StateI)
	}
}

func (c *L1Controller) unexpected(m *Msg, state State) {
	protocolViolation(c.CurrentTime(), m.Address,
		fmt.Sprintf("unexpected %s in state %s", m.Kind, state),
		c.Name(), string(m.Src))
}

func (c *L1Controller) entryState(entry *mshr.Entry) State {
	if entry == nil {
		return StateI
	}

	return State(entry.State)
}

func (c *L1Controller) handleData(m *Msg) {
	entry := c.mshr.Lookup(m.Address)
	state := c.entryState(entry)

	var next State

	switch {
	case state == StateIS && m.Kind == DataS:
		next = StateS
	case state == StateIS && m.Kind == DataE:
		next = StateE
	case state == StateIM && m.Kind == DataM:
		next = StateM
	default:
		c.unexpected(m, state)
	}

	block := c.tags.GetBlock(entry.SetID, entry.WayID)
	block.Tag = m.Address
	block.IsValid = true
	block.IsLocked = false
	c.tags.Update(block)
	c.tags.Visit(block)

	line := &c.lines[entry.SetID][entry.WayID]
	line.data = append([]byte(nil), m.Data...)
	line.state = state
	c.setState(m.Address, line, next, m.Kind)

	c.completeEntry(entry, line)
}

func (c *L1Controller) handleUpgradeAck(m *Msg) {
	entry := c.mshr.Lookup(m.Address)
	state := c.entryState(entry)

	if state != StateSM {
		c.unexpected(m, state)
	}

	c.tags.Unlock(entry.SetID, entry.WayID)

	line := &c.lines[entry.SetID][entry.WayID]
	line.state = StateSM
	c.setState(m.Address, line, StateM, m.Kind)

	c.completeEntry(entry, line)
}

func (c *L1Controller) completeEntry(entry *mshr.Entry, line *l1Line) {
	if _, err := c.mshr.Remove(entry.Address); err != nil {
		panic(err)
	}

	offset := int(entry.Req.(mem.AccessReq).GetAddress() - entry.Address)

	switch req := entry.Req.(type) {
	case *mem.ReadReq:
		c.respondRead(req, line.data, offset)
	case *mem.WriteReq:
		c.respondWrite(req, line.data, offset)
	}
}

func (c *L1Controller) handlePutAck(m *Msg) {
	entry := c.mshr.Lookup(m.Address)
	state := c.entryState(entry)

	switch state {
	case StateMI, StateSI, StateII:
		logTransition(c.Name(), c.CurrentTime(), m.Address, state, StateI,
			m.Kind)

		if _, err := c.mshr.Remove(m.Address); err != nil {
			panic(err)
		}
	default:
		c.unexpected(m, state)
	}
}

func (c *L1Controller) handleInv(m *Msg) {
	c.stats.invalidations++

	entry := c.mshr.Lookup(m.Address)
	if entry != nil {
		c.handleInvInTransaction(m, entry)
		return
	}

	block, hit := c.tags.Lookup(m.Address)
	if !hit {
		c.unexpected(m, StateI)
	}

	line := &c.lines[block.SetID][block.WayID]
	if line.state.IsExclusive() {
		c.sendToHome(InvAck, m.Address, line.data, line.state == StateM)
	} else {
		c.sendToHome(InvAck, m.Address, nil, false)
	}

	c.setState(m.Address, line, StateI, m.Kind)
	c.tags.Invalidate(block.SetID, block.WayID)
	*line = l1Line{}
}

func (c *L1Controller) handleInvInTransaction(m *Msg, entry *mshr.Entry) {
	state := State(entry.State)

	switch state {
	case StateSM:
		line := &c.lines[entry.SetID][entry.WayID]
		c.tags.Invalidate(entry.SetID, entry.WayID)
		*line = l1Line{}

		entry.Kind = mshr.KindStore
		entry.State = int(StateIM)

		c.sendToHome(InvAck, m.Address, nil, false)
	case StateMI:
		entry.State = int(StateII)
		c.sendToHome(InvAck, m.Address, entry.Data, entry.Dirty)
	case StateSI:
		entry.State = int(StateII)
		c.sendToHome(InvAck, m.Address, nil, false)
	default:
		c.unexpected(m, state)
	}

	logTransition(c.Name(), c.CurrentTime(), m.Address, state,
		State(entry.State), m.Kind)
}

func (c *L1Controller) handleDowngrade(m *Msg) {
	c.stats.downgrades++

	entry := c.mshr.Lookup(m.Address)
	if entry != nil {
		if State(entry.State) != StateMI {
			c.unexpected(m, State(entry.State))
		}

		c.sendToHome(DowngradeAck, m.Address, entry.Data, entry.Dirty)
		entry.Dirty = false

		return
	}

	block, hit := c.tags.Lookup(m.Address)
	if !hit {
		c.unexpected(m, StateI)
	}

	line := &c.lines[block.SetID][block.WayID]
	if !line.state.IsExclusive() {
		c.unexpected(m, line.state)
	}

	c.sendToHome(DowngradeAck, m.Address, line.data, line.state == StateM)
	c.setState(m.Address, line, StateS, m.Kind)
}

// LineState returns the coherence state of the line that holds the address.
func (c *L1Controller) LineState(addr uint64) State {
	lineAddr := c.tags.LineAddr(addr)

	if entry := c.mshr.Lookup(lineAddr); entry != nil {
		return State(entry.State)
	}

	block, hit := c.tags.Lookup(lineAddr)
	if !hit {
		return StateI
	}

	return c.lines[block.SetID][block.WayID].state
}

// visitLines calls f on every line that the tag array holds.
func (c *L1Controller) visitLines(f func(lineAddr uint64, state State)) {
	for setID, set := range c.lines {
		for wayID, line := range set {
			if line.state == StateI {
				continue
			}

			block := c.tags.GetBlock(setID, wayID)
			f(block.Tag, line.state)
		}
	}
}

// functionalLine returns the newest copy that the cache owns, if any.
func (c *L1Controller) functionalLine(lineAddr uint64) ([]byte, bool) {
	if entry := c.mshr.Lookup(lineAddr); entry != nil &&
		entry.Kind == mshr.KindEviction && entry.Data != nil {
		return entry.Data, entry.Dirty
	}

	block, hit := c.tags.Lookup(lineAddr)
	if !hit {
		return nil, false
	}

	line := c.lines[block.SetID][block.WayID]

	return line.data, line.state == StateM
}

func (c *L1Controller) functionalWrite(lineAddr uint64, offset int, data []byte) {
	if entry := c.mshr.Lookup(lineAddr); entry != nil &&
		entry.Kind == mshr.KindEviction && entry.Data != nil {
		copy(entry.Data[offset:], data)
	}

	if block, hit := c.tags.Lookup(lineAddr); hit {
		copy(c.lines[block.SetID][block.WayID].data[offset:], data)
	}
}

// IsIdle tells if the cache has no request or transaction in flight.
func (c *L1Controller) IsIdle() bool {
	return c.mshr.Len() == 0 &&
		c.pipeline.NumItems() == 0 &&
		c.postPipelineBuf.Size() == 0 &&
		c.toHome.len() == 0 &&
		c.toCore.len() == 0
}

// Stats returns the performance counters of the cache.
func (c *L1Controller) Stats() sim.Counters {
	return sim.Counters{
		"hits":          c.stats.hits,
		"misses":        c.stats.misses,
		"upgrades":      c.stats.upgrades,
		"evictions":     c.stats.evictions,
		"writebacks":    c.stats.writebacks,
		"invalidations": c.stats.invalidations,
		"downgrades":    c.stats.downgrades,
	}
}

// ResetStats clears the counters. The lines are not affected.
func (c *L1Controller) ResetStats() {
	c.stats = l1Stats{}
}
