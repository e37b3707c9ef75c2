package mem

import (
	"errors"
	"fmt"
)

// ErrAccessOutOfRange is returned when an access touches an address beyond
// the capacity of the storage.
var ErrAccessOutOfRange = errors.New("mem: access beyond storage capacity")

// A Storage keeps the data of the simulated system.
//
// The storage manages the data in units that are similar to pages. Units
// that are never touched are never allocated, so a large capacity costs
// nothing until it is used.
type Storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity
func NewStorage(capacity uint64) *Storage {
	return &Storage{
		unitSize: 4096,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of bytes that the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) checkRange(address, length uint64) error {
	if address+length < address || address+length > s.capacity {
		return fmt.Errorf("%w: [0x%x, 0x%x), capacity 0x%x",
			ErrAccessOutOfRange, address, address+length, s.capacity)
	}

	return nil
}

func (s *Storage) unit(baseAddr uint64) []byte {
	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

// Read returns a copy of length bytes starting at address.
func (s *Storage) Read(address, length uint64) ([]byte, error) {
	if err := s.checkRange(address, length); err != nil {
		return nil, err
	}

	res := make([]byte, length)
	offset := uint64(0)

	for offset < length {
		curr := address + offset
		inUnit := curr % s.unitSize
		n := min(s.unitSize-inUnit, length-offset)

		copy(res[offset:offset+n], s.unit(curr-inUnit)[inUnit:inUnit+n])
		offset += n
	}

	return res, nil
}

// Write copies data into the storage starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if err := s.checkRange(address, length); err != nil {
		return err
	}

	offset := uint64(0)

	for offset < length {
		curr := address + offset
		inUnit := curr % s.unitSize
		n := min(s.unitSize-inUnit, length-offset)

		copy(s.unit(curr-inUnit)[inUnit:inUnit+n], data[offset:offset+n])
		offset += n
	}

	return nil
}
