package simulation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/cohsim/cpu"
	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/sim"
	"gopkg.in/yaml.v3"
)

// ISA is the only instruction set that the cores execute.
const ISA = "cohsim"

// ProtocolMESI is the only supported coherence protocol.
const ProtocolMESI = "MESI"

// A ConfigError reports a configuration field that cannot be used.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ByteSize is a size in bytes. In YAML, it can be written as a plain number
// or with a unit, such as 32KB or 1GB.
type ByteSize uint64

var byteUnits = []struct {
	suffix string
	size   uint64
}{
	{"TB", mem.TB},
	{"GB", mem.GB},
	{"MB", mem.MB},
	{"KB", mem.KB},
	{"B", 1},
}

// ParseByteSize converts a string such as 64KB into a number of bytes.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	unit := uint64(1)

	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			unit = u.size

			break
		}
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	hi, lo := bits.Mul64(n, unit)
	if hi != 0 {
		return 0, fmt.Errorf("size %q overflows", s)
	}

	return ByteSize(lo), nil
}

// UnmarshalYAML reads the size with an optional unit.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*b = parsed

	return nil
}

// Freq is a clock frequency. In YAML, it can be written as a number of Hz or
// with a unit, such as 3GHz or 800MHz.
type Freq sim.FreqInHz

var freqUnits = []struct {
	suffix string
	freq   sim.FreqInHz
}{
	{"GHZ", sim.GHz},
	{"MHZ", sim.MHz},
	{"KHZ", sim.KHz},
	{"HZ", sim.Hz},
}

// ParseFreq converts a string such as 2GHz into a frequency.
func ParseFreq(s string) (Freq, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	unit := sim.Hz

	for _, u := range freqUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			unit = u.freq

			break
		}
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}

	hi, lo := bits.Mul64(n, uint64(unit))
	if hi != 0 {
		return 0, fmt.Errorf("frequency %q overflows", s)
	}

	return Freq(lo), nil
}

// UnmarshalYAML reads the frequency with an optional unit.
func (f *Freq) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseFreq(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*f = parsed

	return nil
}

// CoreConfig configures the cores.
type CoreConfig struct {
	// Model is the core model that the threads start on.
	Model string `yaml:"model"`
	// SwitchTo is the model that the threads can be switched to. Empty means
	// that the cores cannot be switched.
	SwitchTo string `yaml:"switch_to"`
	Freq     Freq   `yaml:"freq"`
	// Width is the number of instructions that a functional core executes per
	// cycle.
	Width int `yaml:"width"`
}

// CacheConfig configures a level of cache.
type CacheConfig struct {
	Size    ByteSize `yaml:"size"`
	Assoc   int      `yaml:"assoc"`
	Latency int      `yaml:"latency"`
	MSHRs   int      `yaml:"mshrs"`
	Freq    Freq     `yaml:"freq"`
}

// L2Config configures the shared L2, which is split into banks. Each bank is
// the directory of the lines that it holds.
type L2Config struct {
	CacheConfig `yaml:",inline"`

	Banks int `yaml:"banks"`
}

// NetworkConfig configures the network between the L1s and the L2 banks.
type NetworkConfig struct {
	Latency uint64 `yaml:"latency"`
	Freq    Freq   `yaml:"freq"`
}

// MemoryConfig configures the DRAM.
type MemoryConfig struct {
	Size     ByteSize `yaml:"size"`
	Channels int      `yaml:"channels"`
	Banks    int      `yaml:"banks"`
	RowSize  ByteSize `yaml:"row_size"`
	Freq     Freq     `yaml:"freq"`
}

// Config describes the system to simulate.
type Config struct {
	NumCores        int           `yaml:"num_cores"`
	ISA             string        `yaml:"isa"`
	Protocol        string        `yaml:"protocol"`
	LineSize        int           `yaml:"line_size"`
	ExitOnWorkItems bool          `yaml:"exit_on_work_items"`
	CheckInvariants bool          `yaml:"check_invariants"`
	Core            CoreConfig    `yaml:"core"`
	L1              CacheConfig   `yaml:"l1"`
	L2              L2Config      `yaml:"l2"`
	Network         NetworkConfig `yaml:"network"`
	Memory          MemoryConfig  `yaml:"memory"`
}

// DefaultConfig returns a two-core system that starts on functional cores
// and can be switched to timing cores.
func DefaultConfig() Config {
	return Config{
		NumCores: 2,
		ISA:      ISA,
		Protocol: ProtocolMESI,
		LineSize: 64,
		Core: CoreConfig{
			Model:    "functional",
			SwitchTo: "timing",
			Freq:     Freq(3 * sim.GHz),
			Width:    8,
		},
		L1: CacheConfig{
			Size:    ByteSize(32 * mem.KB),
			Assoc:   8,
			Latency: 2,
			MSHRs:   16,
			Freq:    Freq(3 * sim.GHz),
		},
		L2: L2Config{
			CacheConfig: CacheConfig{
				Size:    ByteSize(1 * mem.MB),
				Assoc:   16,
				Latency: 10,
				MSHRs:   32,
				Freq:    Freq(3 * sim.GHz),
			},
			Banks: 2,
		},
		Network: NetworkConfig{
			Latency: 4,
			Freq:    Freq(1 * sim.GHz),
		},
		Memory: MemoryConfig{
			Size:     ByteSize(512 * mem.MB),
			Channels: 1,
			Banks:    8,
			RowSize:  ByteSize(8 * mem.KB),
			Freq:     Freq(800 * sim.MHz),
		},
	}
}

// LoadConfig reads a YAML file on top of the default configuration and
// validates the result.
func LoadConfig(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	return ParseConfig(content)
}

// ParseConfig decodes a YAML configuration on top of the default one and
// validates the result. Unknown fields are rejected.
func ParseConfig(content []byte) (Config, error) {
	c := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	err := dec.Decode(&c)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &ConfigError{Field: "yaml", Reason: err.Error()}
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

type validator struct {
	errs []error
}

func (v *validator) fail(field, format string, args ...any) {
	v.errs = append(v.errs, &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	})
}

func (v *validator) positive(field string, n int) {
	if n <= 0 {
		v.fail(field, "must be positive, got %d", n)
	}
}

func (v *validator) freq(field string, f Freq) {
	if f == 0 {
		v.fail(field, "must be positive")
	}
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// Validate checks every field and returns all the problems found, joined.
func (c Config) Validate() error {
	v := &validator{}

	v.positive("num_cores", c.NumCores)

	if c.ISA != ISA {
		v.fail("isa", "unsupported ISA %q, only %q is supported", c.ISA, ISA)
	}

	if !strings.EqualFold(c.Protocol, ProtocolMESI) {
		v.fail("protocol", "unsupported protocol %q, only %s is supported",
			c.Protocol, ProtocolMESI)
	}

	if c.LineSize < 8 || !isPowerOfTwo(uint64(c.LineSize)) {
		v.fail("line_size", "must be a power of 2 no less than 8, got %d",
			c.LineSize)
	}

	c.validateCores(v)
	c.validateCache(v, "l1", c.L1)
	v.positive("l2.banks", c.L2.Banks)

	if c.L2.Banks > 0 && uint64(c.L2.Size)%uint64(c.L2.Banks) != 0 {
		v.fail("l2.size", "cannot be split into %d banks", c.L2.Banks)
	} else {
		c.validateCache(v, "l2", c.l2Bank())
	}

	if c.Network.Latency == 0 {
		v.fail("network.latency", "must be positive")
	}

	v.freq("network.freq", c.Network.Freq)
	c.validateMemory(v)

	return errors.Join(v.errs...)
}

func (c Config) validateCores(v *validator) {
	first, err := cpu.ParseCoreModel(c.Core.Model)
	if err != nil {
		v.fail("core.model", "%s", err)
	}

	if c.Core.SwitchTo != "" {
		second, err := cpu.ParseCoreModel(c.Core.SwitchTo)
		if err != nil {
			v.fail("core.switch_to", "%s", err)
		} else if second == first {
			v.fail("core.switch_to", "must differ from core.model")
		}
	}

	v.freq("core.freq", c.Core.Freq)
	v.positive("core.width", c.Core.Width)
}

func (c Config) validateCache(v *validator, level string, cache CacheConfig) {
	v.positive(level+".assoc", cache.Assoc)
	v.positive(level+".latency", cache.Latency)
	v.freq(level+".freq", cache.Freq)

	if cache.MSHRs == 1 || cache.MSHRs < 0 {
		v.fail(level+".mshrs", "must be 0 (unlimited) or at least 2, got %d",
			cache.MSHRs)
	}

	if cache.Assoc <= 0 || c.LineSize <= 0 {
		return
	}

	setSize := uint64(cache.Assoc) * uint64(c.LineSize)
	if uint64(cache.Size) < setSize || uint64(cache.Size)%setSize != 0 {
		v.fail(level+".size", "%d bytes is not a multiple of assoc*line_size",
			cache.Size)
		return
	}

	if !isPowerOfTwo(uint64(cache.Size) / setSize) {
		v.fail(level+".size", "the number of sets must be a power of 2")
	}
}

func (c Config) validateMemory(v *validator) {
	v.positive("memory.channels", c.Memory.Channels)
	v.positive("memory.banks", c.Memory.Banks)
	v.freq("memory.freq", c.Memory.Freq)

	if !isPowerOfTwo(uint64(c.Memory.RowSize)) {
		v.fail("memory.row_size", "must be a power of 2, got %d",
			c.Memory.RowSize)
	}

	if c.LineSize > 0 &&
		(c.Memory.Size == 0 || uint64(c.Memory.Size)%uint64(c.LineSize) != 0) {
		v.fail("memory.size", "must be a positive multiple of line_size")
	}
}

// l2Bank returns the configuration of one bank of the L2.
func (c Config) l2Bank() CacheConfig {
	bank := c.L2.CacheConfig
	if c.L2.Banks > 0 {
		bank.Size /= ByteSize(c.L2.Banks)
	}

	return bank
}

func (c Config) numSets(cache CacheConfig) int {
	return int(uint64(cache.Size) / (uint64(cache.Assoc) * uint64(c.LineSize)))
}

func (c Config) coreModels() []cpu.CoreModel {
	first, _ := cpu.ParseCoreModel(c.Core.Model)
	if c.Core.SwitchTo == "" {
		return []cpu.CoreModel{first}
	}

	second, _ := cpu.ParseCoreModel(c.Core.SwitchTo)

	return []cpu.CoreModel{first, second}
}
