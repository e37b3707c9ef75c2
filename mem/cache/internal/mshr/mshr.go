// Package mshr keeps the in-flight transactions of a cache controller. There
// is at most one transaction per line.
package mshr

import (
	"errors"
	"fmt"

	"github.com/sarchlab/cohsim/sim"
)

// Errors returned by the MSHR.
var (
	ErrDuplicateEntry = errors.New("mshr: line already has a transaction")
	ErrFull           = errors.New("mshr: full")
	ErrNoEntry        = errors.New("mshr: line has no transaction")
)

// Kind is the kind of the transaction.
type Kind int

// The kinds of transactions.
const (
	KindLoad Kind = iota
	KindStore
	KindUpgrade
	KindEviction
	KindFetch
	KindInvalidate
	KindDowngrade
	KindRecall
	KindWriteback
)

var kindNames = [...]string{
	"Load", "Store", "Upgrade", "Eviction", "Fetch",
	"Invalidate", "Downgrade", "Recall", "Writeback",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

// An Entry is a transaction on one line. State is the protocol state that
// the owning controller tracks for the line while the transaction is open.
type Entry struct {
	Address     uint64
	Kind        Kind
	State       int
	Requester   sim.RemotePort
	Req         sim.Msg
	PendingAcks int

	// The way that the transaction has reserved.
	SetID, WayID int

	// A copy of the line, for the transactions that carry data.
	Data  []byte
	Dirty bool

	// Waiting holds the requests to the same line that arrived after the
	// transaction started, oldest first.
	Waiting []sim.Msg
}

// MSHR records the in-flight transactions of a controller.
type MSHR interface {
	Lookup(addr uint64) *Entry
	Add(entry *Entry) error
	Remove(addr uint64) (*Entry, error)
	Enqueue(addr uint64, msg sim.Msg) error
	Entries() []*Entry
	IsFull() bool
	Len() int
	Reset()
}

// NewMSHR creates a new MSHR. A capacity of 0 means unlimited.
func NewMSHR(capacity int) MSHR {
	return &mshrImpl{
		capacity: capacity,
		index:    make(map[uint64]*Entry),
	}
}

type mshrImpl struct {
	capacity int
	entries  []*Entry
	index    map[uint64]*Entry
}

func (m *mshrImpl) Lookup(addr uint64) *Entry {
	return m.index[addr]
}

func (m *mshrImpl) Add(entry *Entry) error {
	if _, found := m.index[entry.Address]; found {
		return fmt.Errorf("%w: 0x%x", ErrDuplicateEntry, entry.Address)
	}

	if m.IsFull() {
		return ErrFull
	}

	m.entries = append(m.entries, entry)
	m.index[entry.Address] = entry

	return nil
}

func (m *mshrImpl) Remove(addr uint64) (*Entry, error) {
	entry, found := m.index[addr]
	if !found {
		return nil, fmt.Errorf("%w: 0x%x", ErrNoEntry, addr)
	}

	delete(m.index, addr)

	for i, e := range m.entries {
		if e == entry {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}

	return entry, nil
}

func (m *mshrImpl) Enqueue(addr uint64, msg sim.Msg) error {
	entry, found := m.index[addr]
	if !found {
		return fmt.Errorf("%w: 0x%x", ErrNoEntry, addr)
	}

	entry.Waiting = append(entry.Waiting, msg)

	return nil
}

// Entries returns the entries in the order they are added.
func (m *mshrImpl) Entries() []*Entry {
	return m.entries
}

func (m *mshrImpl) IsFull() bool {
	return m.capacity > 0 && len(m.entries) >= m.capacity
}

func (m *mshrImpl) Len() int {
	return len(m.entries)
}

func (m *mshrImpl) Reset() {
	m.entries = nil
	m.index = make(map[uint64]*Entry)
}
