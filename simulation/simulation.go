// Package simulation builds a coherent multi-core system from a
// configuration and controls how it runs.
package simulation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sarchlab/cohsim/cpu"
	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/mem/cache/coherence"
	"github.com/sarchlab/cohsim/mem/dram"
	"github.com/sarchlab/cohsim/monitoring"
	"github.com/sarchlab/cohsim/noc/fixedlatency"
	"github.com/sarchlab/cohsim/sim"
	"github.com/sarchlab/cohsim/tracing"
	"github.com/sirupsen/logrus"
)

var (
	// ErrWorkloadSet is returned when the workload is set twice.
	ErrWorkloadSet = errors.New("simulation: workload already set")

	// ErrWorkloadMismatch is returned when the number of programs does not
	// match the number of cores.
	ErrWorkloadMismatch = errors.New(
		"simulation: one program is needed for each core")

	// ErrNotSwitchable is returned when the cores are switched in a system
	// that has a single core model.
	ErrNotSwitchable = errors.New("simulation: cores cannot be switched")
)

// A Snapshot holds the counters of every component, keyed by the name of the
// component.
type Snapshot map[string]sim.Counters

// SimStatsName is the key of the counters that belong to the simulation
// itself in a Snapshot.
const SimStatsName = "sim"

// thread is a hardware thread and the cores that can run it.
type thread struct {
	cores    []cpu.Core
	switcher *cpu.Switcher
}

func (t *thread) start(ctx *cpu.ExecContext, now sim.VTimeInCycle) {
	if t.switcher != nil {
		t.switcher.Start(ctx)
		return
	}

	t.cores[0].Activate(ctx, now)
}

// A Simulation is a built system that can run a workload.
type Simulation struct {
	id     string
	config Config
	engine *sim.SerialEngine
	freqs  *sim.FrequencyRegistry
	clocks clocks

	dram       *dram.Comp
	memConn    *fixedlatency.Comp
	noc        *fixedlatency.Comp
	coreConn   *fixedlatency.Comp
	nocCounter *tracing.MsgCounter
	dirs       []*coherence.Directory
	l1s        []*coherence.L1Controller
	hierarchy  *coherence.Hierarchy
	checker    *coherence.InvariantChecker

	threads       []*thread
	threadTracker *cpu.ThreadTracker
	loopPoint     *cpu.LoopPoint

	components    []sim.Component
	compNameIndex map[string]int
	reporters     []sim.StatsReporter

	dataRecorder datarecording.DataRecorder
	execRecorder *datarecording.ExecRecorder
	tracer       *tracing.DBTracer
	monitor      *monitoring.Monitor
	progress     *monitoring.ProgressBar

	workloadSet bool
	statsStart  sim.VTimeInCycle
	numDumps    int64
	lastExit    sim.ExitEvent
}

func (s *Simulation) registerComponent(c sim.Component) {
	compName := c.Name()
	if _, found := s.compNameIndex[compName]; found {
		panic("component " + compName + " already registered")
	}

	s.components = append(s.components, c)
	s.compNameIndex[compName] = len(s.components) - 1

	if r, ok := c.(sim.StatsReporter); ok {
		s.reporters = append(s.reporters, r)
	}
}

// ID returns the unique id of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Config returns the configuration that the simulation is built from.
func (s *Simulation) Config() Config {
	return s.config
}

// GetEngine returns the engine used in the simulation.
func (s *Simulation) GetEngine() *sim.SerialEngine {
	return s.engine
}

// GetFrequencyRegistry returns the registry that defines the tick resolution.
func (s *Simulation) GetFrequencyRegistry() *sim.FrequencyRegistry {
	return s.freqs
}

// GetComponentByName returns the component with the given name, or nil.
func (s *Simulation) GetComponentByName(name string) sim.Component {
	i, found := s.compNameIndex[name]
	if !found {
		return nil
	}

	return s.components[i]
}

// Components returns the components in the order they were built.
func (s *Simulation) Components() []sim.Component {
	return s.components
}

// Hierarchy returns the caches and the memory as one functional memory.
func (s *Simulation) Hierarchy() *coherence.Hierarchy {
	return s.hierarchy
}

// Switchers returns the switch coordinators, one per core. It is empty if
// the cores cannot be switched.
func (s *Simulation) Switchers() []*cpu.Switcher {
	var switchers []*cpu.Switcher

	for _, t := range s.threads {
		if t.switcher != nil {
			switchers = append(switchers, t.switcher)
		}
	}

	return switchers
}

// ActiveCores returns the core that runs each thread.
func (s *Simulation) ActiveCores() []cpu.Core {
	cores := make([]cpu.Core, 0, len(s.threads))

	for _, t := range s.threads {
		if t.switcher != nil {
			cores = append(cores, t.switcher.Active())
		} else {
			cores = append(cores, t.cores[0])
		}
	}

	return cores
}

// LoopPoint returns the loop point tracker, or nil if no loop point is set.
func (s *Simulation) LoopPoint() *cpu.LoopPoint {
	return s.loopPoint
}

// GetMonitor returns the monitor, or nil if monitoring is disabled.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// GetDataRecorder returns the recorder, or nil if recording is disabled.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// SetWorkload loads one program per core and starts the threads. It can only
// be called once.
func (s *Simulation) SetWorkload(programs []*cpu.Program) error {
	if s.workloadSet {
		return ErrWorkloadSet
	}

	if len(programs) != len(s.threads) {
		return fmt.Errorf("%w: %d cores, %d programs",
			ErrWorkloadMismatch, len(s.threads), len(programs))
	}

	for i, p := range programs {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("program %d: %w", i, err)
		}

		if err := p.LoadData(s.hierarchy); err != nil {
			return fmt.Errorf("program %d: %w", i, err)
		}
	}

	s.workloadSet = true
	now := s.engine.CurrentTime()

	for i, p := range programs {
		s.threadTracker.Start()
		s.threads[i].start(cpu.NewExecContext(p), now)

		logrus.WithFields(logrus.Fields{
			"program": p.Name,
			"thread":  i,
		}).Debug("program loaded")
	}

	return nil
}

// Run runs until an exit is requested or there is no more event.
func (s *Simulation) Run() sim.ExitEvent {
	return s.RunUntil(sim.MaxTime)
}

// RunUntil runs until an exit is requested, there is no more event, or the
// next event is later than the horizon. It can be called again to resume.
func (s *Simulation) RunUntil(horizon sim.VTimeInCycle) sim.ExitEvent {
	s.startProgress(horizon)

	exit := s.engine.RunUntil(horizon)
	s.lastExit = exit

	s.completeProgress()

	logrus.WithFields(logrus.Fields{
		"cause": exit.Cause,
		"tick":  exit.Time,
		"sec":   s.freqs.Seconds(exit.Time),
	}).Info("exiting")

	return exit
}

// IsHung tells if the last run stopped because there was no more event
// while some thread has not halted. A drain that never completes or a
// deadlocked protocol ends this way.
func (s *Simulation) IsHung() bool {
	return s.lastExit.Cause == sim.ExitCauseQueueEmpty &&
		s.threadTracker.Running() > 0
}

// SwitchCores requests every thread to move to its other core.
func (s *Simulation) SwitchCores() error {
	switchers := s.Switchers()
	if len(switchers) == 0 {
		return ErrNotSwitchable
	}

	var errs []error

	for _, sw := range switchers {
		if err := sw.RequestSwitch(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Stats returns the counters of every component, plus the ticks elapsed
// since the last reset under SimStatsName.
func (s *Simulation) Stats() Snapshot {
	snapshot := make(Snapshot, len(s.reporters)+1)

	for _, r := range s.reporters {
		snapshot[r.Name()] = r.Stats()
	}

	now := s.engine.CurrentTime()
	snapshot[SimStatsName] = sim.Counters{
		"ticks":       uint64(now - s.statsStart),
		"final_tick":  uint64(now),
		"tick_rate":   uint64(s.freqs.TicksPerSecond()),
		"events_left": uint64(s.engine.PendingEvents()),
	}

	return snapshot
}

// ResetStats zeroes the counters. The architectural and the coherence states
// are not affected.
func (s *Simulation) ResetStats() {
	for _, r := range s.reporters {
		r.ResetStats()
	}

	s.statsStart = s.engine.CurrentTime()

	logrus.WithField("tick", s.statsStart).Debug("stats reset")
}

const statsTableName = "stats"

type statsEntry struct {
	Dump      int64
	Tick      int64
	Component string
	Counter   string
	Value     int64
}

// DumpStats writes the current snapshot into the data recorder. Every dump is
// numbered, starting from 0. Nothing is written if recording is disabled.
func (s *Simulation) DumpStats() error {
	if s.dataRecorder == nil {
		logrus.Warn("stats not dumped, data recording is disabled")
		return nil
	}

	snapshot := s.Stats()
	now := int64(s.engine.CurrentTime())

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		counters := snapshot[name]

		keys := make([]string, 0, len(counters))
		for k := range counters {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			s.dataRecorder.InsertData(statsTableName, statsEntry{
				Dump:      s.numDumps,
				Tick:      now,
				Component: name,
				Counter:   k,
				Value:     int64(counters[k]),
			})
		}
	}

	s.numDumps++

	if err := s.dataRecorder.Flush(); err != nil {
		return fmt.Errorf("dump stats: %w", err)
	}

	return nil
}

// Terminate flushes the records and stops the monitor.
func (s *Simulation) Terminate() error {
	var errs []error

	if s.tracer != nil {
		errs = append(errs, s.tracer.Terminate())
	}

	if s.execRecorder != nil {
		errs = append(errs, s.execRecorder.End())
	}

	if s.dataRecorder != nil {
		errs = append(errs, s.dataRecorder.Close())
	}

	if s.monitor != nil {
		errs = append(errs, s.monitor.StopServer())
	}

	return errors.Join(errs...)
}

// latencyReporter exposes the memory latency seen by a core as counters.
type latencyReporter struct {
	name   string
	tracer *tracing.AverageTimeTracer
}

func (r *latencyReporter) Name() string {
	return r.name
}

func (r *latencyReporter) Stats() sim.Counters {
	return sim.Counters{
		"accesses":      r.tracer.TotalCount(),
		"total_latency": uint64(r.tracer.TotalTime()),
		"max_latency":   uint64(r.tracer.MaxTime()),
	}
}

func (r *latencyReporter) ResetStats() {
	r.tracer.Reset()
}

func (s *Simulation) startProgress(horizon sim.VTimeInCycle) {
	if s.monitor == nil || horizon == sim.MaxTime {
		return
	}

	s.progress = s.monitor.CreateProgressBar("RunUntil", horizon)
}

func (s *Simulation) completeProgress() {
	if s.progress == nil {
		return
	}

	s.monitor.CompleteProgressBar(s.progress)
	s.progress = nil
}
