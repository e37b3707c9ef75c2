// Package cpu provides the core models that run a workload and the
// coordinator that switches a hardware thread from one core model to another.
package cpu

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// NumRegs is the number of general purpose registers of a hardware thread.
const NumRegs = 16

// Opcode is the operation of an instruction.
type Opcode int

// The instructions of the simple load-store ISA.
const (
	// OpAdd sets Rd to Rs + Imm.
	OpAdd Opcode = iota
	// OpLoad sets Rd to the 8-byte little-endian word at Rs + Imm.
	OpLoad
	// OpStore writes Rd to the 8-byte word at Rs + Imm.
	OpStore
	// OpBnz jumps to the instruction at index Imm if Rs is not zero.
	OpBnz
	// OpExit is the magic instruction that stops the simulation.
	OpExit
	// OpWorkBegin marks the start of a work item.
	OpWorkBegin
	// OpWorkEnd marks the end of a work item.
	OpWorkEnd
	// OpHalt stops the hardware thread.
	OpHalt
)

var opcodeNames = [...]string{
	"add", "load", "store", "bnz", "exit", "workbegin", "workend", "halt",
}

func (op Opcode) String() string {
	if op >= 0 && int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}

	return fmt.Sprintf("Opcode(%d)", int(op))
}

// IsMemory tells if the instruction accesses the memory.
func (op Opcode) IsMemory() bool {
	return op == OpLoad || op == OpStore
}

// ParseOpcode converts the mnemonic of an instruction to its opcode.
func ParseOpcode(s string) (Opcode, error) {
	for i, name := range opcodeNames {
		if name == s {
			return Opcode(i), nil
		}
	}

	return 0, fmt.Errorf("unknown opcode %q", s)
}

// UnmarshalYAML reads the opcode from its mnemonic.
func (op *Opcode) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := ParseOpcode(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*op = parsed

	return nil
}

// MarshalYAML writes the mnemonic of the opcode.
func (op Opcode) MarshalYAML() (any, error) {
	return op.String(), nil
}

// An Inst is a decoded instruction.
type Inst struct {
	Op  Opcode `yaml:"op"`
	Rd  int    `yaml:"rd,omitempty"`
	Rs  int    `yaml:"rs,omitempty"`
	Imm int64  `yaml:"imm,omitempty"`
}

func (i Inst) String() string {
	switch i.Op {
	case OpAdd:
		return fmt.Sprintf("add r%d, r%d, %d", i.Rd, i.Rs, i.Imm)
	case OpLoad:
		return fmt.Sprintf("load r%d, %d(r%d)", i.Rd, i.Imm, i.Rs)
	case OpStore:
		return fmt.Sprintf("store r%d, %d(r%d)", i.Rd, i.Imm, i.Rs)
	case OpBnz:
		return fmt.Sprintf("bnz r%d, %d", i.Rs, i.Imm)
	default:
		return i.Op.String()
	}
}
