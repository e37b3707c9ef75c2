// Package org keeps the private state of the DRAM organization, the banks and
// the channels.
package org

// RowState tells how a request relates to the row buffer of a bank.
type RowState int

// The outcomes of a row-buffer lookup.
const (
	RowHit RowState = iota
	RowClosed
	RowConflict
)

// A Bank is a DRAM Bank with an open-page row buffer.
type Bank struct {
	openRow   uint64
	isOpen    bool
	busyUntil uint64
}

// Classify tells if accessing the row is a hit, a miss on a closed bank, or a
// conflict with another open row.
func (b *Bank) Classify(row uint64) RowState {
	switch {
	case !b.isOpen:
		return RowClosed
	case b.openRow == row:
		return RowHit
	default:
		return RowConflict
	}
}

// BusyUntil returns the time when the bank can start a new access.
func (b *Bank) BusyUntil() uint64 {
	return b.busyUntil
}

// Occupy records an access that leaves the row open and the bank busy until
// the given time.
func (b *Bank) Occupy(row uint64, until uint64) {
	b.openRow = row
	b.isOpen = true

	if until > b.busyUntil {
		b.busyUntil = until
	}
}

// A Channel is a group of banks that share one data bus.
type Channel struct {
	Banks     []Bank
	busFreeAt uint64
	busUsed   bool
	lastWrite bool
}

// NewChannel creates a channel with all the banks precharged.
func NewChannel(numBank int) *Channel {
	return &Channel{
		Banks: make([]Bank, numBank),
	}
}

// BusFreeAt returns the time when the data bus is free.
func (c *Channel) BusFreeAt() uint64 {
	return c.busFreeAt
}

// ReversesBus tells if a burst in the given direction follows a burst in the
// other direction.
func (c *Channel) ReversesBus(write bool) bool {
	return c.busUsed && c.lastWrite != write
}

// OccupyBus records a burst on the data bus that ends at the given time.
func (c *Channel) OccupyBus(until uint64, write bool) {
	if until > c.busFreeAt {
		c.busFreeAt = until
	}

	c.busUsed = true
	c.lastWrite = write
}
