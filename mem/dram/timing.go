package dram

import (
	"github.com/sarchlab/cohsim/mem/dram/internal/addressmapping"
	"github.com/sarchlab/cohsim/mem/dram/internal/org"
	"github.com/sarchlab/cohsim/sim"
)

// AccessKind tells if a request reads or writes the DRAM.
type AccessKind int

// The kinds of DRAM accesses.
const (
	AccessRead AccessKind = iota
	AccessWrite
)

func (k AccessKind) String() string {
	if k == AccessWrite {
		return "write"
	}

	return "read"
}

// Timing is the set of DRAM timing parameters, in memory clock cycles. TWTR
// and TRTW separate bursts on the data bus when its direction changes.
type Timing struct {
	TCL        uint64
	TCWL       uint64
	TRCD       uint64
	TRP        uint64
	TWR        uint64
	TWTR       uint64
	TRTW       uint64
	BurstCycle uint64
}

// A TimingModel calculates when a request completes. The row-buffer state
// that the calculation depends on is private to the model.
type TimingModel interface {
	EnqueueRequest(
		addr uint64,
		kind AccessKind,
		arrival sim.VTimeInCycle,
	) sim.VTimeInCycle
}

// RowBufferStats counts the outcome of row-buffer lookups.
type RowBufferStats struct {
	Hits      uint64
	Misses    uint64
	Conflicts uint64
}

type bankTimingModel struct {
	timing   Timing
	period   uint64
	mapper   addressmapping.Mapper
	channels []*org.Channel
	stats    RowBufferStats
}

func newBankTimingModel(
	timing Timing,
	period sim.VTimeInCycle,
	mapper addressmapping.Mapper,
	numChannel, numBank int,
) *bankTimingModel {
	m := &bankTimingModel{
		timing: timing,
		period: uint64(period),
		mapper: mapper,
	}

	for range numChannel {
		m.channels = append(m.channels, org.NewChannel(numBank))
	}

	return m
}

// EnqueueRequest reserves the bank and the data bus for the request and
// returns the time when the data transfer completes.
//
// An access to a bank starts no earlier than the completion of the previous
// access to the same bank. Accesses to different banks overlap except for the
// data bursts, which share the channel bus. A burst that reverses the
// direction of the previous burst on the bus waits for the turnaround.
func (m *bankTimingModel) EnqueueRequest(
	addr uint64,
	kind AccessKind,
	arrival sim.VTimeInCycle,
) sim.VTimeInCycle {
	loc := m.mapper.Map(addr)
	channel := m.channels[loc.Channel]
	bank := &channel.Banks[loc.Bank]

	start := max(m.alignToCycle(uint64(arrival)), bank.BusyUntil())

	columnLatency := m.timing.TCL
	if kind == AccessWrite {
		columnLatency = m.timing.TCWL
	}

	var accessCycles uint64

	switch bank.Classify(loc.Row) {
	case org.RowHit:
		m.stats.Hits++
		accessCycles = columnLatency
	case org.RowClosed:
		m.stats.Misses++
		accessCycles = m.timing.TRCD + columnLatency
	case org.RowConflict:
		m.stats.Conflicts++
		accessCycles = m.timing.TRP + m.timing.TRCD + columnLatency
	}

	busFree := channel.BusFreeAt()
	if channel.ReversesBus(kind == AccessWrite) {
		busFree += m.turnaround(kind) * m.period
	}

	burstStart := max(start+accessCycles*m.period, busFree)
	completion := burstStart + m.timing.BurstCycle*m.period
	channel.OccupyBus(completion, kind == AccessWrite)

	bankFree := completion
	if kind == AccessWrite {
		bankFree += m.timing.TWR * m.period
	}

	bank.Occupy(loc.Row, bankFree)

	return sim.VTimeInCycle(completion)
}

// turnaround returns the cycles between the last burst and a burst of the
// given kind in the other direction.
func (m *bankTimingModel) turnaround(kind AccessKind) uint64 {
	if kind == AccessWrite {
		return m.timing.TRTW
	}

	return m.timing.TWTR
}

func (m *bankTimingModel) alignToCycle(t uint64) uint64 {
	return (t + m.period - 1) / m.period * m.period
}

func (m *bankTimingModel) rowBufferStats() RowBufferStats {
	return m.stats
}

func (m *bankTimingModel) resetStats() {
	m.stats = RowBufferStats{}
}
