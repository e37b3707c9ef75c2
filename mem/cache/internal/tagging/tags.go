// Package tagging keeps the tags of a set-associative cache.
package tagging

// A TagArray tracks which lines are stored in which ways of a cache.
type TagArray interface {
	// Lookup returns the valid block that holds the line of the address.
	Lookup(addr uint64) (Block, bool)

	// GetBlock returns the block at the set and way.
	GetBlock(setID, wayID int) Block

	// Update overwrites the block at its set and way.
	Update(block Block)

	// Visit marks the block as the most recently used one in its set.
	Visit(block Block)

	// GetSet returns the set that the address maps to.
	GetSet(addr uint64) (set *Set, setID int)

	// Lock prevents the way from being chosen as a victim.
	Lock(setID, wayID int)

	// Unlock allows the way to be chosen as a victim again.
	Unlock(setID, wayID int)

	// Invalidate marks the block as not holding any line.
	Invalidate(setID, wayID int)

	// LineAddr returns the address of the first byte of the line.
	LineAddr(addr uint64) uint64

	// LineSize returns the number of bytes in a line.
	LineSize() int

	// TotalSize returns the number of bytes that the cache can hold.
	TotalSize() uint64

	// Reset invalidates and unlocks all the blocks.
	Reset()
}

// NewTagArray creates a tag array. The line size must be a power of two.
func NewTagArray(numSets, numWays, lineSize int) TagArray {
	if numSets <= 0 || numWays <= 0 {
		panic("tag array must have at least one set and one way")
	}

	if lineSize <= 0 || lineSize&(lineSize-1) != 0 {
		panic("line size must be a power of two")
	}

	t := &tagArrayImpl{
		numSets:  numSets,
		numWays:  numWays,
		lineSize: lineSize,
	}

	t.Reset()

	return t
}

// A Block of a cache is the information that is associated with a cache line
type Block struct {
	Tag      uint64
	SetID    int
	WayID    int
	IsValid  bool
	IsLocked bool
}

// A Set is a list of blocks where a certain piece memory can be stored at.
// LRUQueue lists the ways from the least to the most recently used.
type Set struct {
	Blocks   []Block
	LRUQueue []int
}

type tagArrayImpl struct {
	numSets  int
	numWays  int
	lineSize int
	sets     []Set
}

func (d *tagArrayImpl) LineSize() int {
	return d.lineSize
}

func (d *tagArrayImpl) LineAddr(addr uint64) uint64 {
	return addr &^ uint64(d.lineSize-1)
}

func (d *tagArrayImpl) TotalSize() uint64 {
	return uint64(d.numSets) * uint64(d.numWays) * uint64(d.lineSize)
}

func (d *tagArrayImpl) GetSet(addr uint64) (set *Set, setID int) {
	setID = int(addr / uint64(d.lineSize) % uint64(d.numSets))
	set = &d.sets[setID]

	return set, setID
}

func (d *tagArrayImpl) Lookup(addr uint64) (Block, bool) {
	tag := d.LineAddr(addr)
	set, _ := d.GetSet(addr)

	for _, block := range set.Blocks {
		if block.IsValid && block.Tag == tag {
			return block, true
		}
	}

	return Block{}, false
}

func (d *tagArrayImpl) GetBlock(setID, wayID int) Block {
	return d.sets[setID].Blocks[wayID]
}

func (d *tagArrayImpl) Update(block Block) {
	d.sets[block.SetID].Blocks[block.WayID] = block
}

func (d *tagArrayImpl) Visit(block Block) {
	set := &d.sets[block.SetID]
	queue := set.LRUQueue[:0]

	for _, way := range set.LRUQueue {
		if way != block.WayID {
			queue = append(queue, way)
		}
	}

	set.LRUQueue = append(queue, block.WayID)
}

func (d *tagArrayImpl) Reset() {
	d.sets = make([]Set, d.numSets)
	for i := 0; i < d.numSets; i++ {
		for j := 0; j < d.numWays; j++ {
			d.sets[i].Blocks = append(d.sets[i].Blocks, Block{
				SetID: i,
				WayID: j,
			})
			d.sets[i].LRUQueue = append(d.sets[i].LRUQueue, j)
		}
	}
}

func (d *tagArrayImpl) Lock(setID, wayID int) {
	d.sets[setID].Blocks[wayID].IsLocked = true
}

func (d *tagArrayImpl) Unlock(setID, wayID int) {
	d.sets[setID].Blocks[wayID].IsLocked = false
}

func (d *tagArrayImpl) Invalidate(setID, wayID int) {
	d.sets[setID].Blocks[wayID].IsValid = false
}
