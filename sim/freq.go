package sim

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sync"
)

// FreqInHz defines the type of frequency.
type FreqInHz uint64

// Defines the unit of frequency.
const (
	Hz  FreqInHz = 1
	KHz FreqInHz = 1e3
	MHz FreqInHz = 1e6
	GHz FreqInHz = 1e9
)

// VTimeInCycle is the global simulation time. One unit is one tick of the
// global resolution, which is the least common multiple of all the registered
// clock frequencies.
type VTimeInCycle uint64

// MaxTime is the largest representable simulation time.
const MaxTime VTimeInCycle = math.MaxUint64

var (
	// ErrZeroFrequency is returned when registering a 0 Hz clock domain.
	ErrZeroFrequency = errors.New("sim: frequency cannot be zero")

	// ErrTickOverflow is returned when the global tick rate cannot be
	// represented.
	ErrTickOverflow = errors.New("sim: global tick rate overflows uint64")

	// ErrRegistryFrozen is returned when a new frequency would change the
	// global resolution after some domain has already handed out periods.
	ErrRegistryFrozen = errors.New(
		"sim: frequency registry is frozen, cannot change tick resolution")
)

// FrequencyRegistry coordinates multiple clock domains by deriving a single
// tick resolution in which every domain has an integer period.
type FrequencyRegistry struct {
	lock    sync.Mutex
	global  FreqInHz
	frozen  bool
	domains map[FreqInHz]*FreqDomain
}

// NewFrequencyRegistry builds an empty registry ready to accept clock domains.
func NewFrequencyRegistry() *FrequencyRegistry {
	return &FrequencyRegistry{
		domains: make(map[FreqInHz]*FreqDomain),
	}
}

// RegisterFrequency adds a clock domain and returns its descriptor.
// Registering the same frequency twice returns the same domain.
func (r *FrequencyRegistry) RegisterFrequency(
	freq FreqInHz,
) (*FreqDomain, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if freq == 0 {
		return nil, ErrZeroFrequency
	}

	if domain, exists := r.domains[freq]; exists {
		return domain, nil
	}

	newGlobal := freq
	if r.global != 0 {
		var err error

		newGlobal, err = lcmFreq(r.global, freq)
		if err != nil {
			return nil, err
		}
	}

	if r.frozen && newGlobal != r.global {
		return nil, fmt.Errorf("%w: adding %d Hz", ErrRegistryFrozen, freq)
	}

	r.global = newGlobal

	domain := &FreqDomain{
		freq:     freq,
		registry: r,
	}
	r.domains[freq] = domain

	return domain, nil
}

// MustRegisterFrequency is RegisterFrequency that panics on error.
func (r *FrequencyRegistry) MustRegisterFrequency(freq FreqInHz) *FreqDomain {
	d, err := r.RegisterFrequency(freq)
	if err != nil {
		panic(err)
	}

	return d
}

// TicksPerSecond returns the global tick rate.
func (r *FrequencyRegistry) TicksPerSecond() FreqInHz {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.global
}

// Seconds converts a number of ticks to seconds.
func (r *FrequencyRegistry) Seconds(t VTimeInCycle) float64 {
	g := r.TicksPerSecond()
	if g == 0 {
		return 0
	}

	return float64(t) / float64(g)
}

func (r *FrequencyRegistry) periodOf(freq FreqInHz) VTimeInCycle {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.frozen = true

	return VTimeInCycle(r.global / freq)
}

// A FreqDomain is one clock domain of the simulation.
type FreqDomain struct {
	freq     FreqInHz
	registry *FrequencyRegistry
}

// Freq returns the frequency of the domain.
func (d *FreqDomain) Freq() FreqInHz {
	return d.freq
}

// Period returns the number of global ticks between two consecutive edges of
// the domain. Asking for a period freezes the registry.
func (d *FreqDomain) Period() VTimeInCycle {
	return d.registry.periodOf(d.freq)
}

// Cycles converts a number of cycles of this domain into global ticks.
func (d *FreqDomain) Cycles(n uint64) VTimeInCycle {
	return VTimeInCycle(n) * d.Period()
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}

	return a
}

func lcmFreq(a, b FreqInHz) (FreqInHz, error) {
	g := gcd(uint64(a), uint64(b))
	hi, lo := bits.Mul64(uint64(a)/g, uint64(b))

	if hi != 0 {
		return 0, ErrTickOverflow
	}

	return FreqInHz(lo), nil
}
