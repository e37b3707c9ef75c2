package tagging

// A VictimFinder decides which block should be evicted
type VictimFinder interface {
	FindVictim(tags TagArray, addr uint64) (Block, bool)
}

// LRUVictimFinder evicts the least recently used block to evict
type LRUVictimFinder struct {
}

// NewLRUVictimFinder returns a newly constructed lru evictor
func NewLRUVictimFinder() *LRUVictimFinder {
	e := new(LRUVictimFinder)
	return e
}

// FindVictim returns an empty block if there is one, or the least recently
// used block in a set otherwise. Locked blocks are never chosen.
func (e *LRUVictimFinder) FindVictim(
	tags TagArray,
	addr uint64,
) (Block, bool) {
	set, _ := tags.GetSet(addr)

	for _, wayID := range set.LRUQueue {
		block := set.Blocks[wayID]

		if !block.IsValid && !block.IsLocked {
			return block, true
		}
	}

	for _, wayID := range set.LRUQueue {
		block := set.Blocks[wayID]
		if !block.IsLocked {
			return block, true
		}
	}

	return Block{}, false
}
