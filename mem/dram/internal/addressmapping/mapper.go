// Package addressmapping converts a physical address into the coordinate of
// the DRAM cell that stores it.
package addressmapping

// Location determines where a byte is stored.
type Location struct {
	Channel uint64
	Bank    uint64
	Row     uint64
	Column  uint64
}

// A Mapper can find the location of an address.
type Mapper interface {
	Map(addr uint64) Location
}

// RoRaBaCoChMapper interleaves access units across channels first, then fills
// the columns of a row, then moves to the next bank, and finally the next row.
type RoRaBaCoChMapper struct {
	AccessUnitSize uint64
	NumChannel     uint64
	UnitsPerRow    uint64
	NumBank        uint64
}

// Map returns the location of the address.
func (m RoRaBaCoChMapper) Map(addr uint64) Location {
	l := Location{}
	unit := addr / m.AccessUnitSize

	l.Channel = unit % m.NumChannel
	unit /= m.NumChannel

	l.Column = unit % m.UnitsPerRow
	unit /= m.UnitsPerRow

	l.Bank = unit % m.NumBank
	l.Row = unit / m.NumBank

	return l
}
