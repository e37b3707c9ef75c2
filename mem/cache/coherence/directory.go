package coherence

import (
	"fmt"
	"slices"

	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/mem/cache/internal/mshr"
	"github.com/sarchlab/cohsim/mem/cache/internal/tagging"
	"github.com/sarchlab/cohsim/pipelining"
	"github.com/sarchlab/cohsim/sim"
	"github.com/sarchlab/cohsim/tracing"
)

// dirState is the state of a line at its home, as seen in the logs.
type dirState int

const (
	dirIdle dirState = iota
	dirShared
	dirOwned
	dirFetching
	dirWaitAcks
	dirWaitOwner
	dirRecalling
	dirWritingBack
	dirInvalid
)

var dirStateNames = [...]string{
	"Idle", "Shared", "Owned", "Fetching", "WaitAcks", "WaitOwner",
	"Recalling", "WritingBack", "Invalid",
}

func (s dirState) String() string {
	return dirStateNames[s]
}

// dirLine is a line of the shared cache plus the directory entry that tracks
// the L1 copies of it.
type dirLine struct {
	data    []byte
	dirty   bool
	owner   sim.RemotePort
	sharers []sim.RemotePort
}

func (l *dirLine) state() dirState {
	switch {
	case l.owner != "":
		return dirOwned
	case len(l.sharers) > 0:
		return dirShared
	default:
		return dirIdle
	}
}

func (l *dirLine) isSharer(p sim.RemotePort) bool {
	_, found := slices.BinarySearch(l.sharers, p)
	return found
}

func (l *dirLine) addSharer(p sim.RemotePort) {
	i, found := slices.BinarySearch(l.sharers, p)
	if !found {
		l.sharers = slices.Insert(l.sharers, i, p)
	}
}

func (l *dirLine) removeHolder(p sim.RemotePort) {
	if l.owner == p {
		l.owner = ""
	}

	if i, found := slices.BinarySearch(l.sharers, p); found {
		l.sharers = slices.Delete(l.sharers, i, i+1)
	}
}

// holders lists the L1s that have a copy, in a deterministic order.
func (l *dirLine) holders() []sim.RemotePort {
	if l.owner != "" {
		return []sim.RemotePort{l.owner}
	}

	return slices.Clone(l.sharers)
}

type dirStats struct {
	hits          uint64
	misses        uint64
	evictions     uint64
	recalls       uint64
	writebacks    uint64
	invalidations uint64
	downgrades    uint64
}

// A Directory is a bank of the inclusive shared cache. It is the home of the
// lines that map to it and keeps a full-map record of the L1 copies. The
// directory handles one transaction per line at a time.
type Directory struct {
	*sim.TickingComponent

	topPort    sim.Port
	bottomPort sim.Port

	tags         tagging.TagArray
	victimFinder tagging.VictimFinder
	lines        [][]dirLine
	mshr         mshr.MSHR
	mshrCapacity int

	pipeline        pipelining.Pipeline
	postPipelineBuf sim.Buffer
	incoming        []*Msg
	retry           []*Msg

	memFinder mem.AddressToPortMapper
	toL1      outbox
	toMem     outbox
	memReqs   map[string]uint64
	recallFor map[uint64]uint64

	numReqPerCycle int

	stats dirStats
}

// TopPort returns the port that connects to the coherence network.
func (d *Directory) TopPort() sim.Port {
	return d.topPort
}

// BottomPort returns the port that connects to the memory.
func (d *Directory) BottomPort() sim.Port {
	return d.bottomPort
}

// Tick updates the state of the directory.
func (d *Directory) Tick() bool {
	madeProgress := false

	madeProgress = d.toL1.send() || madeProgress
	madeProgress = d.toMem.send() || madeProgress
	madeProgress = d.processMemRsp() || madeProgress
	madeProgress = d.processNetwork() || madeProgress
	madeProgress = d.processRequests() || madeProgress
	madeProgress = d.pipeline.Tick() || madeProgress
	madeProgress = d.acceptRequests() || madeProgress

	return madeProgress
}

// processNetwork handles the responses right away and queues the requests
// for the pipeline. Responses never wait behind requests.
func (d *Directory) processNetwork() bool {
	madeProgress := false

	for {
		msg := d.topPort.RetrieveIncoming()
		if msg == nil {
			return madeProgress
		}

		m := msg.(*Msg)
		madeProgress = true

		switch {
		case m.Kind.IsRequest():
			tracing.TraceReqReceive(m, d)
			d.incoming = append(d.incoming, m)
		case m.Kind == InvAck:
			d.handleInvAck(m)
		case m.Kind == DowngradeAck:
			d.handleDowngradeAck(m)
		default:
			d.unexpected(m, dirInvalid)
		}
	}
}

func (d *Directory) acceptRequests() bool {
	madeProgress := false

	for i := 0; i < d.numReqPerCycle; i++ {
		if len(d.incoming) == 0 || !d.pipeline.CanAccept() {
			break
		}

		d.pipeline.Accept(pipelineItem{msg: d.incoming[0]})
		d.incoming[0] = nil
		d.incoming = d.incoming[1:]
		madeProgress = true
	}

	return madeProgress
}

// processRequests starts the requests that are ready, the replayed ones
// first. The requests are started in order; a request that cannot start
// blocks the ones behind it.
func (d *Directory) processRequests() bool {
	madeProgress := false

	for i := 0; i < d.numReqPerCycle; i++ {
		if len(d.retry) > 0 {
			if !d.startRequest(d.retry[0]) {
				break
			}

			d.retry = d.retry[1:]
			madeProgress = true

			continue
		}

		item := d.postPipelineBuf.Peek()
		if item == nil {
			break
		}

		if !d.startRequest(item.(pipelineItem).msg.(*Msg)) {
			break
		}

		d.postPipelineBuf.Pop()
		madeProgress = true
	}

	return madeProgress
}

func (d *Directory) startRequest(m *Msg) bool {
	if entry := d.mshr.Lookup(m.Address); entry != nil {
		entry.Waiting = append(entry.Waiting, m)
		return true
	}

	block, hit := d.tags.Lookup(m.Address)

	if m.Kind == PutS || m.Kind == PutX {
		d.handlePut(m, block, hit)
		return true
	}

	if !hit {
		return d.startFetch(m)
	}

	if !d.hasRoom(1) {
		return false
	}

	d.stats.hits++
	d.tags.Visit(block)
	d.serve(m, block)

	return true
}

func (d *Directory) hasRoom(numEntries int) bool {
	return d.mshrCapacity == 0 || d.mshr.Len()+numEntries <= d.mshrCapacity
}

func (d *Directory) line(block tagging.Block) *dirLine {
	return &d.lines[block.SetID][block.WayID]
}

// serve handles a GetS, GetM, or Upgrade on a line that the cache holds.
func (d *Directory) serve(m *Msg, block tagging.Block) {
	l := d.line(block)
	from := l.state()

	switch m.Kind {
	case GetS:
		d.serveGetS(m, block, l)
	case GetM, Upgrade:
		d.serveGetM(m, block, l)
	default:
		d.unexpected(m, from)
	}

	logTransition(d.Name(), d.CurrentTime(), m.Address, from, d.stateOf(m.Address), m.Kind)
}

func (d *Directory) serveGetS(m *Msg, block tagging.Block, l *dirLine) {
	switch {
	case l.owner == m.Src:
		d.unexpected(m, dirOwned)
	case l.owner != "":
		d.stats.downgrades++
		d.startTransaction(m, block, mshr.KindDowngrade, dirWaitOwner, 1)
		d.sendToL1(Downgrade, l.owner, m.Address, nil, false)
	case len(l.sharers) == 0:
		l.owner = m.Src
		d.respond(m, DataE, l.data)
	default:
		l.addSharer(m.Src)
		d.respond(m, DataS, l.data)
	}
}

func (d *Directory) serveGetM(m *Msg, block tagging.Block, l *dirLine) {
	if l.owner == m.Src {
		d.unexpected(m, dirOwned)
	}

	var others []sim.RemotePort

	for _, h := range l.holders() {
		if h != m.Src {
			others = append(others, h)
		}
	}

	if len(others) == 0 {
		d.grantM(m, l)
		return
	}

	d.startTransaction(m, block, mshr.KindInvalidate, dirWaitAcks, len(others))

	for _, h := range others {
		d.stats.invalidations++
		d.sendToL1(Inv, h, m.Address, nil, false)
	}
}

func (d *Directory) grantM(m *Msg, l *dirLine) {
	if m.Kind == Upgrade && l.isSharer(m.Src) {
		d.respond(m, UpgradeAck, nil)
	} else {
		d.respond(m, DataM, l.data)
	}

	l.owner = m.Src
	l.sharers = nil
}

func (d *Directory) startTransaction(
	m *Msg,
	block tagging.Block,
	kind mshr.Kind,
	state dirState,
	acks int,
) {
	d.tags.Lock(block.SetID, block.WayID)
	d.mustAddEntry(&mshr.Entry{
		Address:     m.Address,
		Kind:        kind,
		State:       int(state),
		Requester:   m.Src,
		Req:         m,
		PendingAcks: acks,
		SetID:       block.SetID,
		WayID:       block.WayID,
	})
}

func (d *Directory) mustAddEntry(entry *mshr.Entry) {
	if err := d.mshr.Add(entry); err != nil {
		panic(fmt.Errorf("%s: %w", d.Name(), err))
	}
}

func (d *Directory) handlePut(m *Msg, block tagging.Block, hit bool) {
	if hit {
		l := d.line(block)
		from := l.state()

		if m.Kind == PutX && l.owner == m.Src {
			if m.Dirty {
				l.data = append([]byte(nil), m.Data...)
				l.dirty = true
			}

			l.owner = ""
		} else {
			l.removeHolder(m.Src)
		}

		logTransition(d.Name(), d.CurrentTime(), m.Address, from, l.state(),
			m.Kind)
	}

	d.respond(m, PutAck, nil)
}

// startFetch reserves a way for a line that the cache does not hold. If the
// way holds another line that has L1 copies or dirty data, the old line is
// recalled first.
func (d *Directory) startFetch(m *Msg) bool {
	if !d.hasRoom(2) {
		return false
	}

	victim, found := d.victimFinder.FindVictim(d.tags, m.Address)
	if !found {
		return false
	}

	d.stats.misses++
	d.tags.Lock(victim.SetID, victim.WayID)

	entry := &mshr.Entry{
		Address:   m.Address,
		Kind:      mshr.KindFetch,
		State:     int(dirFetching),
		Requester: m.Src,
		Req:       m,
		SetID:     victim.SetID,
		WayID:     victim.WayID,
	}
	d.mustAddEntry(entry)

	if victim.IsValid {
		l := d.line(victim)
		if len(l.holders()) > 0 || l.dirty {
			d.startRecall(victim, m.Address)
			return true
		}

		d.stats.evictions++
		d.dropLine(victim)
	}

	d.fetch(entry)

	return true
}

func (d *Directory) startRecall(victim tagging.Block, forAddr uint64) {
	l := d.line(victim)
	holders := l.holders()

	d.stats.recalls++
	d.recallFor[victim.Tag] = forAddr

	recall := &mshr.Entry{
		Address:     victim.Tag,
		Kind:        mshr.KindRecall,
		State:       int(dirRecalling),
		PendingAcks: len(holders),
		SetID:       victim.SetID,
		WayID:       victim.WayID,
	}
	d.mustAddEntry(recall)

	logTransition(d.Name(), d.CurrentTime(), victim.Tag, l.state(),
		dirRecalling, Inv)

	for _, h := range holders {
		d.stats.invalidations++
		d.sendToL1(Inv, h, victim.Tag, nil, false)
	}

	if len(holders) == 0 {
		d.finishRecall(recall)
	}
}

func (d *Directory) fetch(entry *mshr.Entry) {
	req := mem.ReadReqBuilder{}.
		WithSrc(d.bottomPort.AsRemote()).
		WithDst(d.memFinder.Find(entry.Address)).
		WithAddress(entry.Address).
		WithByteSize(uint64(d.tags.LineSize())).
		Build()

	d.memReqs[req.ID] = entry.Address
	d.toMem.push(req)
}

func (d *Directory) handleInvAck(m *Msg) {
	entry := d.mshr.Lookup(m.Address)
	if entry == nil ||
		(entry.Kind != mshr.KindInvalidate && entry.Kind != mshr.KindRecall) {
		d.unexpected(m, d.stateOf(m.Address))
	}

	l := &d.lines[entry.SetID][entry.WayID]
	if m.Dirty {
		l.data = append([]byte(nil), m.Data...)
		l.dirty = true
	}

	l.removeHolder(m.Src)

	entry.PendingAcks--
	if entry.PendingAcks > 0 {
		return
	}

	if entry.Kind == mshr.KindRecall {
		d.finishRecall(entry)
		return
	}

	d.grantM(entry.Req.(*Msg), l)
	d.finishTransaction(entry)
}

func (d *Directory) handleDowngradeAck(m *Msg) {
	entry := d.mshr.Lookup(m.Address)
	if entry == nil || entry.Kind != mshr.KindDowngrade {
		d.unexpected(m, d.stateOf(m.Address))
	}

	l := &d.lines[entry.SetID][entry.WayID]
	if m.Dirty {
		l.data = append([]byte(nil), m.Data...)
		l.dirty = true
	}

	req := entry.Req.(*Msg)
	l.owner = ""
	l.addSharer(m.Src)
	l.addSharer(req.Src)

	d.respond(req, DataS, l.data)
	d.finishTransaction(entry)
}

func (d *Directory) finishRecall(recall *mshr.Entry) {
	l := &d.lines[recall.SetID][recall.WayID]

	if !l.dirty {
		d.finishEviction(recall)
		return
	}

	d.stats.writebacks++
	recall.Kind = mshr.KindWriteback
	recall.State = int(dirWritingBack)

	req := mem.WriteReqBuilder{}.
		WithSrc(d.bottomPort.AsRemote()).
		WithDst(d.memFinder.Find(recall.Address)).
		WithAddress(recall.Address).
		WithData(append([]byte(nil), l.data...)).
		Build()

	d.memReqs[req.ID] = recall.Address
	d.toMem.push(req)
}

// finishEviction frees the way of a recalled line and lets the fetch that is
// waiting for the way proceed.
func (d *Directory) finishEviction(recall *mshr.Entry) {
	d.stats.evictions++
	d.dropLine(d.tags.GetBlock(recall.SetID, recall.WayID))

	if _, err := d.mshr.Remove(recall.Address); err != nil {
		panic(err)
	}

	forAddr := d.recallFor[recall.Address]
	delete(d.recallFor, recall.Address)

	d.fetch(d.mshr.Lookup(forAddr))
	d.replay(recall.Waiting)
}

func (d *Directory) dropLine(block tagging.Block) {
	d.tags.Invalidate(block.SetID, block.WayID)
	d.lines[block.SetID][block.WayID] = dirLine{}
}

func (d *Directory) processMemRsp() bool {
	madeProgress := false

	for {
		msg := d.bottomPort.RetrieveIncoming()
		if msg == nil {
			return madeProgress
		}

		madeProgress = true

		rsp := msg.(mem.AccessRsp)
		addr, found := d.memReqs[rsp.GetRspTo()]
		if !found {
			panic(fmt.Sprintf("%s received an unknown memory response %s",
				d.Name(), rsp.GetRspTo()))
		}

		delete(d.memReqs, rsp.GetRspTo())

		switch rsp := rsp.(type) {
		case *mem.DataReadyRsp:
			d.fill(addr, rsp.Data)
		case *mem.WriteDoneRsp:
			d.finishEviction(d.mshr.Lookup(addr))
		}
	}
}

func (d *Directory) fill(addr uint64, data []byte) {
	entry := d.mshr.Lookup(addr)

	block := d.tags.GetBlock(entry.SetID, entry.WayID)
	block.Tag = addr
	block.IsValid = true
	block.IsLocked = false
	d.tags.Update(block)
	d.tags.Visit(block)

	d.lines[entry.SetID][entry.WayID] = dirLine{
		data: append([]byte(nil), data...),
	}

	if _, err := d.mshr.Remove(addr); err != nil {
		panic(err)
	}

	d.serve(entry.Req.(*Msg), block)
	d.replay(entry.Waiting)
}

func (d *Directory) finishTransaction(entry *mshr.Entry) {
	d.tags.Unlock(entry.SetID, entry.WayID)

	if _, err := d.mshr.Remove(entry.Address); err != nil {
		panic(err)
	}

	d.replay(entry.Waiting)
}

// replay puts the requests that waited for a transaction in front of the
// requests that are not started yet.
func (d *Directory) replay(waiting []sim.Msg) {
	if len(waiting) == 0 {
		return
	}

	msgs := make([]*Msg, 0, len(waiting)+len(d.retry))
	for _, w := range waiting {
		msgs = append(msgs, w.(*Msg))
	}

	d.retry = append(msgs, d.retry...)
}

func (d *Directory) respond(req *Msg, kind MsgKind, data []byte) {
	d.sendToL1(kind, req.Src, req.Address, data, false)
	tracing.TraceReqComplete(req, d)
}

func (d *Directory) sendToL1(
	kind MsgKind,
	dst sim.RemotePort,
	addr uint64,
	data []byte,
	dirty bool,
) {
	b := MsgBuilder{}.
		WithSrc(d.topPort.AsRemote()).
		WithDst(dst).
		WithKind(kind).
		WithAddress(addr)

	if data != nil {
		b = b.WithData(data, dirty)
	}

	d.toL1.push(b.Build())
}

func (d *Directory) unexpected(m *Msg, state dirState) {
	protocolViolation(d.CurrentTime(), m.Address,
		fmt.Sprintf("unexpected %s in state %s", m.Kind, state),
		d.Name(), string(m.Src))
}

func (d *Directory) stateOf(addr uint64) dirState {
	if entry := d.mshr.Lookup(addr); entry != nil {
		return dirState(entry.State)
	}

	block, hit := d.tags.Lookup(addr)
	if !hit {
		return dirInvalid
	}

	return d.line(block).state()
}

// Sharers returns the L1s that the directory records as holders of the line.
func (d *Directory) Sharers(addr uint64) []sim.RemotePort {
	block, hit := d.tags.Lookup(addr)
	if !hit {
		return nil
	}

	return d.line(block).holders()
}

func (d *Directory) functionalLine(lineAddr uint64) ([]byte, bool) {
	block, hit := d.tags.Lookup(lineAddr)
	if !hit {
		return nil, false
	}

	return d.line(block).data, true
}

func (d *Directory) functionalWrite(lineAddr uint64, offset int, data []byte) {
	if block, hit := d.tags.Lookup(lineAddr); hit {
		copy(d.line(block).data[offset:], data)
	}
}

// IsIdle tells if the directory has no request or transaction in flight.
func (d *Directory) IsIdle() bool {
	return d.mshr.Len() == 0 &&
		len(d.incoming) == 0 &&
		len(d.retry) == 0 &&
		d.pipeline.NumItems() == 0 &&
		d.postPipelineBuf.Size() == 0 &&
		d.toL1.len() == 0 &&
		d.toMem.len() == 0
}

// Stats returns the performance counters of the directory.
func (d *Directory) Stats() sim.Counters {
	return sim.Counters{
		"hits":          d.stats.hits,
		"misses":        d.stats.misses,
		"evictions":     d.stats.evictions,
		"recalls":       d.stats.recalls,
		"writebacks":    d.stats.writebacks,
		"invalidations": d.stats.invalidations,
		"downgrades":    d.stats.downgrades,
	}
}

// ResetStats clears the counters. The lines are not affected.
func (d *Directory) ResetStats() {
	d.stats = dirStats{}
}
