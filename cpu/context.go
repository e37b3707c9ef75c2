package cpu

import (
	"encoding/binary"
	"fmt"
)

// FunctionalMemory reads and writes the memory without timing.
type FunctionalMemory interface {
	FunctionalRead(addr, size uint64) ([]byte, error)
	FunctionalWrite(addr uint64, data []byte) error
}

// An ExecContext is the architectural state of a hardware thread. Exactly one
// core model owns it at a time.
type ExecContext struct {
	Regs      [NumRegs]uint64
	PC        uint64
	Committed uint64
	Halted    bool
	Owner     string
	Program   *Program
}

// NewExecContext creates a context that starts at the entry of the program.
func NewExecContext(p *Program) *ExecContext {
	return &ExecContext{
		PC:      p.Entry,
		Program: p,
	}
}

// fetch returns the instruction at the program counter. Running past the
// last instruction has the same effect as a halt.
func (x *ExecContext) fetch() Inst {
	if x.PC >= uint64(len(x.Program.Insts)) {
		return Inst{Op: OpHalt}
	}

	return x.Program.Insts[x.PC]
}

func (x *ExecContext) effectiveAddr(inst Inst) uint64 {
	addr := x.Regs[inst.Rs] + uint64(inst.Imm)
	if addr%8 != 0 {
		panic(fmt.Sprintf("%s: pc %d: unaligned access to 0x%x",
			x.Owner, x.PC, addr))
	}

	return addr
}

func (x *ExecContext) storeData(inst Inst) []byte {
	return binary.LittleEndian.AppendUint64(nil, x.Regs[inst.Rd])
}

func (x *ExecContext) loadData(inst Inst, data []byte) {
	x.Regs[inst.Rd] = binary.LittleEndian.Uint64(data)
}

// execute applies the register effect of a non-memory instruction.
func (x *ExecContext) execute(inst Inst) {
	switch inst.Op {
	case OpAdd:
		x.Regs[inst.Rd] = x.Regs[inst.Rs] + uint64(inst.Imm)
	case OpHalt:
		x.Halted = true
	}
}

func (x *ExecContext) nextPC(inst Inst) uint64 {
	if inst.Op == OpBnz && x.Regs[inst.Rs] != 0 {
		return uint64(inst.Imm)
	}

	if inst.Op == OpHalt {
		return x.PC
	}

	return x.PC + 1
}
