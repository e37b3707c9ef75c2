package sim

// Counters is a set of named performance counters.
type Counters map[string]uint64

// A StatsReporter exposes counters that can be read and reset without
// touching the architectural or coherence state.
type StatsReporter interface {
	Named

	Stats() Counters
	ResetStats()
}
