package cpu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/cohsim/mem/cache/coherence"
)

// A FunctionalCore executes up to width instructions per cycle and accesses
// the memory functionally. It never has an outstanding memory operation.
type FunctionalCore struct {
	*coreBase

	memory FunctionalMemory
	width  int
}

// RequestDrain stops the core. A functional core is drained right away.
func (c *FunctionalCore) RequestDrain(onDrained func()) {
	c.requestDrain(onDrained, true)
}

// IsDrained tells if the context can be taken away.
func (c *FunctionalCore) IsDrained() bool {
	return c.ctx == nil || c.draining || c.ctx.Halted
}

// Tick executes the instructions of one cycle.
func (c *FunctionalCore) Tick() bool {
	madeProgress := false

	for i := 0; i < c.width; i++ {
		if !c.isRunning() || c.haltIfFinished() {
			break
		}

		inst := c.ctx.fetch()

		if inst.Op.IsMemory() {
			err := c.access(inst)
			if errors.Is(err, coherence.ErrNotQuiescent) {
				// The caches are finishing the work of a timing core.
				return true
			}

			if err != nil {
				panic(fmt.Errorf("%s: pc %d: %w", c.Name(), c.ctx.PC, err))
			}
		}

		madeProgress = true

		if !c.retire(inst) {
			break
		}
	}

	return madeProgress
}

func (c *FunctionalCore) access(inst Inst) error {
	addr := c.ctx.effectiveAddr(inst)

	if inst.Op == OpStore {
		return c.memory.FunctionalWrite(addr, c.ctx.storeData(inst))
	}

	data, err := c.memory.FunctionalRead(addr, 8)
	if err != nil {
		return err
	}

	c.ctx.loadData(inst, data)

	return nil
}
