package coherence

import (
	"errors"
	"fmt"

	"github.com/sarchlab/cohsim/mem"
)

// ErrNotQuiescent is returned by the functional accesses when some controller
// still has a transaction in flight, so that data may be in the network.
var ErrNotQuiescent = errors.New("coherence: hierarchy is not quiescent")

// A Hierarchy groups the L1s, the directories, and the backing storage of a
// coherent memory system. It provides functional accesses that bypass timing.
type Hierarchy struct {
	L1s         []*L1Controller
	Directories []*Directory
	Storage     *mem.Storage
	LineSize    int
}

// IsIdle tells if no controller has work in flight.
func (h *Hierarchy) IsIdle() bool {
	for _, l1 := range h.L1s {
		if !l1.IsIdle() {
			return false
		}
	}

	for _, d := range h.Directories {
		if !d.IsIdle() {
			return false
		}
	}

	return true
}

// FunctionalRead returns the newest value of the bytes. A modified L1 copy
// is preferred, then the shared cache, then the storage.
func (h *Hierarchy) FunctionalRead(addr, size uint64) ([]byte, error) {
	if !h.IsIdle() {
		return nil, ErrNotQuiescent
	}

	data, err := h.Storage.Read(addr, size)
	if err != nil {
		return nil, fmt.Errorf("functional read: %w", err)
	}

	h.forEachLine(addr, size, func(lineAddr uint64, lo, hi, off int) {
		if line := h.newestCopy(lineAddr); line != nil {
			copy(data[off:], line[lo:hi])
		}
	})

	return data, nil
}

// FunctionalWrite updates every copy of the bytes, including the storage.
func (h *Hierarchy) FunctionalWrite(addr uint64, data []byte) error {
	if !h.IsIdle() {
		return ErrNotQuiescent
	}

	if err := h.Storage.Write(addr, data); err != nil {
		return fmt.Errorf("functional write: %w", err)
	}

	h.forEachLine(addr, uint64(len(data)), func(lineAddr uint64, lo, hi, off int) {
		chunk := data[off : off+hi-lo]

		for _, l1 := range h.L1s {
			l1.functionalWrite(lineAddr, lo, chunk)
		}

		for _, d := range h.Directories {
			d.functionalWrite(lineAddr, lo, chunk)
		}
	})

	return nil
}

func (h *Hierarchy) newestCopy(lineAddr uint64) []byte {
	for _, l1 := range h.L1s {
		if data, dirty := l1.functionalLine(lineAddr); dirty {
			return data
		}
	}

	for _, d := range h.Directories {
		if data, found := d.functionalLine(lineAddr); found {
			return data
		}
	}

	return nil
}

// forEachLine splits the range into per-line pieces. For each piece, f gets
// the line address, the byte range within the line, and the offset of the
// piece within the range.
func (h *Hierarchy) forEachLine(
	addr, size uint64,
	f func(lineAddr uint64, lo, hi, off int),
) {
	lineSize := uint64(h.LineSize)
	end := addr + size

	for curr := addr; curr < end; {
		lineAddr := curr &^ (lineSize - 1)
		next := min(lineAddr+lineSize, end)

		f(lineAddr, int(curr-lineAddr), int(next-lineAddr), int(curr-addr))

		curr = next
	}
}
