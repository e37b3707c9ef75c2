package mem

import (
	"fmt"

	"github.com/sarchlab/cohsim/sim"
)

// AddressToPortMapper tells which lower module owns an address.
type AddressToPortMapper interface {
	Find(address uint64) sim.RemotePort
}

// SinglePortMapper maps every address to the same port.
type SinglePortMapper struct {
	Port sim.RemotePort
}

func (f *SinglePortMapper) Find(_ uint64) sim.RemotePort {
	return f.Port
}

// InterleavedAddressPortMapper spreads consecutive blocks of InterleavingSize
// bytes over LowModules in round-robin order. A line-sized block makes each
// module the home of every N-th line.
type InterleavedAddressPortMapper struct {
	InterleavingSize uint64
	LowModules       []sim.RemotePort
}

// NewInterleavedAddressPortMapper creates a mapper with no module yet.
func NewInterleavedAddressPortMapper(
	interleavingSize uint64,
) *InterleavedAddressPortMapper {
	return &InterleavedAddressPortMapper{InterleavingSize: interleavingSize}
}

func (f *InterleavedAddressPortMapper) Find(address uint64) sim.RemotePort {
	if len(f.LowModules) == 0 {
		panic(fmt.Sprintf("no module to map address %#x to", address))
	}

	block := address / f.InterleavingSize

	return f.LowModules[block%uint64(len(f.LowModules))]
}
