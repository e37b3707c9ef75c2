package cpu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidProgram is wrapped by the errors about malformed programs.
var ErrInvalidProgram = errors.New("invalid program")

// A Segment is a run of 8-byte words that is placed in the memory before the
// program starts.
type Segment struct {
	Addr  uint64   `yaml:"addr"`
	Words []uint64 `yaml:"words"`
}

// Bytes returns the little-endian image of the segment.
func (s Segment) Bytes() []byte {
	buf := make([]byte, 0, 8*len(s.Words))
	for _, w := range s.Words {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}

	return buf
}

// A Program is the image that a hardware thread runs. The program counter is
// the index of the instruction in Insts.
type Program struct {
	Name  string    `yaml:"name"`
	Entry uint64    `yaml:"entry"`
	Insts []Inst    `yaml:"insts"`
	Data  []Segment `yaml:"data"`
}

// LoadProgram reads a program image from a YAML file.
func LoadProgram(path string) (*Program, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}

	p, err := ParseProgram(content)
	if err != nil {
		return nil, fmt.Errorf("load program %s: %w", path, err)
	}

	return p, nil
}

// ParseProgram decodes a program image. Unknown fields are rejected.
func ParseProgram(content []byte) (*Program, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	p := &Program{}
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProgram, err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// Validate checks the registers, the branch targets, and the entry point.
func (p *Program) Validate() error {
	var errs []error

	if len(p.Insts) == 0 {
		errs = append(errs, fmt.Errorf("%w: no instruction", ErrInvalidProgram))
	} else if p.Entry >= uint64(len(p.Insts)) {
		errs = append(errs, fmt.Errorf("%w: entry %d is beyond the last instruction",
			ErrInvalidProgram, p.Entry))
	}

	for pc, inst := range p.Insts {
		if inst.Rd < 0 || inst.Rd >= NumRegs || inst.Rs < 0 || inst.Rs >= NumRegs {
			errs = append(errs, fmt.Errorf("%w: pc %d: register out of range",
				ErrInvalidProgram, pc))
		}

		if inst.Op == OpBnz && (inst.Imm < 0 || inst.Imm >= int64(len(p.Insts))) {
			errs = append(errs, fmt.Errorf("%w: pc %d: branch target %d out of range",
				ErrInvalidProgram, pc, inst.Imm))
		}
	}

	return errors.Join(errs...)
}

// LoadData writes the data segments into the memory.
func (p *Program) LoadData(m FunctionalMemory) error {
	for _, s := range p.Data {
		if err := m.FunctionalWrite(s.Addr, s.Bytes()); err != nil {
			return fmt.Errorf("load segment at 0x%x: %w", s.Addr, err)
		}
	}

	return nil
}
