package simulation

import (
	"fmt"

	"github.com/rs/xid"
	"github.com/sarchlab/cohsim/cpu"
	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/mem/cache/coherence"
	"github.com/sarchlab/cohsim/mem/dram"
	"github.com/sarchlab/cohsim/monitoring"
	"github.com/sarchlab/cohsim/noc/fixedlatency"
	"github.com/sarchlab/cohsim/sim"
	"github.com/sarchlab/cohsim/tracing"
	"github.com/sirupsen/logrus"
)

// Builder can be used to build a simulation.
type Builder struct {
	config         Config
	monitorOn      bool
	monitorPort    int
	openBrowser    bool
	recordingOn    bool
	outputFileName string
	traceTasks     bool
	logEvents      bool
	commitHooks    []sim.Hook
	loopPoints     []cpu.LoopPointTarget
}

// MakeBuilder creates a new builder with the default configuration, without
// monitoring and without data recording.
func MakeBuilder() Builder {
	return Builder{
		config: DefaultConfig(),
	}
}

// WithConfig sets the system to simulate.
func (b Builder) WithConfig(c Config) Builder {
	b.config = c
	return b
}

// WithMonitoring serves the simulation over HTTP.
func (b Builder) WithMonitoring() Builder {
	b.monitorOn = true
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithBrowser opens the monitor in a browser.
func (b Builder) WithBrowser() Builder {
	b.openBrowser = true
	return b
}

// WithDataRecording records the stats dumps into an SQLite file. An empty
// file name lets the recorder generate one.
func (b Builder) WithDataRecording(filename string) Builder {
	b.recordingOn = true
	b.outputFileName = filename

	return b
}

// WithTaskTracing records the memory transactions in the data recorder.
func (b Builder) WithTaskTracing() Builder {
	b.traceTasks = true
	return b
}

// WithEventLogging logs every event at the trace level.
func (b Builder) WithEventLogging() Builder {
	b.logEvents = true
	return b
}

// WithCommitHook adds a hook to every core, which is triggered with a
// cpu.CommitRecord for each committed instruction.
func (b Builder) WithCommitHook(h sim.Hook) Builder {
	b.commitHooks = append(b.commitHooks, h)
	return b
}

// WithLoopPoints makes the run exit with sim.ExitCauseLoopPoint when the
// instruction at a target PC has committed the given number of times,
// counted over all cores.
func (b Builder) WithLoopPoints(targets ...cpu.LoopPointTarget) Builder {
	b.loopPoints = append(b.loopPoints, targets...)
	return b
}

func (b Builder) parametersMustBeValid() error {
	if !b.monitorOn && (b.monitorPort != 0 || b.openBrowser) {
		return &ConfigError{
			Field:  "monitor",
			Reason: "monitor options cannot be set when monitoring is disabled",
		}
	}

	for _, t := range b.loopPoints {
		if t.Count == 0 {
			return &ConfigError{
				Field:  "loop_points",
				Reason: fmt.Sprintf("loop point at pc %d has a zero count", t.PC),
			}
		}
	}

	if b.traceTasks && !b.recordingOn {
		return &ConfigError{
			Field:  "tracing",
			Reason: "task tracing requires data recording",
		}
	}

	return b.config.Validate()
}

// Build builds the simulation. Nothing is simulated if the configuration is
// invalid.
func (b Builder) Build() (*Simulation, error) {
	if err := b.parametersMustBeValid(); err != nil {
		return nil, err
	}

	s := &Simulation{
		id:            xid.New().String(),
		config:        b.config,
		engine:        sim.NewSerialEngine(),
		freqs:         sim.NewFrequencyRegistry(),
		compNameIndex: make(map[string]int),
	}
	s.threadTracker = cpu.NewThreadTracker(s.engine)

	if err := b.registerClocks(s); err != nil {
		return nil, err
	}

	b.buildMemory(s)
	b.buildCaches(s)
	b.buildCores(s)

	if b.logEvents {
		s.engine.AcceptHook(sim.NewEventLogger(logrus.StandardLogger()))
	}

	if b.config.CheckInvariants {
		s.checker = coherence.NewInvariantChecker(s.engine, s.l1s, s.dirs)
		s.engine.AcceptHook(s.checker)
	}

	if err := b.buildRecording(s); err != nil {
		return nil, err
	}

	if err := b.buildMonitor(s); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"id":         s.id,
		"cores":      b.config.NumCores,
		"l2_banks":   b.config.L2.Banks,
		"components": len(s.components),
		"tick_rate":  s.freqs.TicksPerSecond(),
	}).Info("simulation built")

	return s, nil
}

type clocks struct {
	core, l1, l2, network, memory *sim.FreqDomain
}

// registerClocks registers every frequency before any period is handed out,
// so that the tick resolution is final.
func (b Builder) registerClocks(s *Simulation) error {
	c := b.config
	domains := []**sim.FreqDomain{
		&s.clocks.core, &s.clocks.l1, &s.clocks.l2,
		&s.clocks.network, &s.clocks.memory,
	}
	freqs := []Freq{
		c.Core.Freq, c.L1.Freq, c.L2.Freq, c.Network.Freq, c.Memory.Freq,
	}

	for i, f := range freqs {
		d, err := s.freqs.RegisterFrequency(sim.FreqInHz(f))
		if err != nil {
			return &ConfigError{Field: "freq", Reason: err.Error()}
		}

		*domains[i] = d
	}

	return nil
}

func (b Builder) connection(
	s *Simulation,
	name string,
	clock sim.Clock,
	latency uint64,
) *fixedlatency.Comp {
	conn := fixedlatency.MakeBuilder().
		WithEngine(s.engine).
		WithClock(clock).
		WithLatency(latency).
		Build(name)
	s.registerComponent(conn)

	return conn
}

func (b Builder) buildMemory(s *Simulation) {
	c := b.config

	s.dram = dram.MakeBuilder().
		WithEngine(s.engine).
		WithClock(s.clocks.memory).
		WithCapacity(uint64(c.Memory.Size)).
		WithNumChannel(c.Memory.Channels).
		WithNumBank(c.Memory.Banks).
		WithRowSize(uint64(c.Memory.RowSize)).
		WithAccessUnitSize(uint64(c.LineSize)).
		Build("DRAM")
	s.registerComponent(s.dram)

	s.memConn = b.connection(s, "MemConn", s.clocks.memory, 1)
	s.memConn.PlugIn(s.dram.TopPort())
}

func (b Builder) buildCaches(s *Simulation) {
	c := b.config
	bank := c.l2Bank()

	s.noc = b.connection(s, "Noc", s.clocks.network, c.Network.Latency)
	s.nocCounter = tracing.NewMsgCounter("NocTraffic")
	s.noc.AcceptHook(s.nocCounter)
	s.reporters = append(s.reporters, s.nocCounter)

	homes := mem.NewInterleavedAddressPortMapper(uint64(c.LineSize))
	memFinder := &mem.SinglePortMapper{Port: s.dram.TopPort().AsRemote()}

	for i := 0; i < c.L2.Banks; i++ {
		d := coherence.MakeDirectoryBuilder().
			WithEngine(s.engine).
			WithClock(s.clocks.l2).
			WithNumSets(c.numSets(bank)).
			WithNumWays(bank.Assoc).
			WithLineSize(c.LineSize).
			WithLatency(bank.Latency).
			WithMSHRCapacity(bank.MSHRs).
			WithMemFinder(memFinder).
			Build(sim.BuildNameWithIndex("", "L2", i))
		s.registerComponent(d)

		s.noc.PlugIn(d.TopPort())
		s.memConn.PlugIn(d.BottomPort())
		homes.LowModules = append(homes.LowModules, d.TopPort().AsRemote())
		s.dirs = append(s.dirs, d)
	}

	s.coreConn = b.connection(s, "CoreConn", s.clocks.core, 1)

	for i := 0; i < c.NumCores; i++ {
		l1 := coherence.MakeL1Builder().
			WithEngine(s.engine).
			WithClock(s.clocks.l1).
			WithNumSets(c.numSets(c.L1)).
			WithNumWays(c.L1.Assoc).
			WithLineSize(c.LineSize).
			WithLatency(c.L1.Latency).
			WithMSHRCapacity(c.L1.MSHRs).
			WithHomeFinder(homes).
			Build(sim.BuildNameWithIndex("", "L1", i))
		s.registerComponent(l1)

		s.noc.PlugIn(l1.BottomPort())
		s.coreConn.PlugIn(l1.TopPort())
		s.l1s = append(s.l1s, l1)
	}

	s.hierarchy = &coherence.Hierarchy{
		L1s:         s.l1s,
		Directories: s.dirs,
		Storage:     s.dram.Storage(),
		LineSize:    c.LineSize,
	}
}

func (b Builder) buildCores(s *Simulation) {
	c := b.config

	builder := cpu.MakeBuilder().
		WithEngine(s.engine).
		WithClock(s.clocks.core).
		WithExitRequester(s.engine).
		WithThreadTracker(s.threadTracker).
		WithFunctionalMemory(s.hierarchy).
		WithWidth(c.Core.Width)

	if c.ExitOnWorkItems {
		builder = builder.WithExitOnWorkItems()
	}

	if len(b.loopPoints) > 0 {
		s.loopPoint = cpu.NewLoopPoint(s.engine, b.loopPoints...)
		builder = builder.WithAdditionalHooks(s.loopPoint)
	}

	for _, h := range b.commitHooks {
		builder = builder.WithAdditionalHooks(h)
	}

	for i := 0; i < c.NumCores; i++ {
		t := &thread{}
		coreName := sim.BuildNameWithIndex("", "Core", i)

		for _, model := range c.coreModels() {
			core := b.buildCore(s, builder, coreName, model, s.l1s[i])
			t.cores = append(t.cores, core)
		}

		if len(t.cores) > 1 {
			t.switcher = cpu.NewSwitcher(coreName+".Switcher", s.engine,
				t.cores[0], t.cores[1])
		}

		s.threads = append(s.threads, t)
	}
}

func (b Builder) buildCore(
	s *Simulation,
	builder cpu.Builder,
	coreName string,
	model cpu.CoreModel,
	l1 *coherence.L1Controller,
) cpu.Core {
	var core cpu.Core

	switch model {
	case cpu.Functional:
		core = builder.BuildFunctional(coreName + ".Functional")
	case cpu.Timing:
		tc := builder.BuildTiming(coreName + ".Timing")
		tc.SetL1(l1.TopPort().AsRemote())
		s.coreConn.PlugIn(tc.MemPort())

		latency := tracing.NewAverageTimeTracer(s.engine,
			func(t tracing.Task) bool { return t.Kind == tracing.KindReqOut })
		tracing.CollectTrace(tc, latency)
		s.reporters = append(s.reporters,
			&latencyReporter{name: tc.Name() + ".MemLatency", tracer: latency})

		core = tc
	default:
		panic(fmt.Sprintf("core model %s is not supported", model))
	}

	s.registerComponent(core)

	return core
}

func (b Builder) buildRecording(s *Simulation) error {
	if !b.recordingOn {
		return nil
	}

	recorder, err := datarecording.New(b.outputFileName)
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}

	s.dataRecorder = recorder

	if err := recorder.CreateTable(statsTableName, statsEntry{}); err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}

	s.execRecorder, err = datarecording.NewExecRecorder(recorder)
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}

	s.execRecorder.Start()

	if !b.traceTasks {
		return nil
	}

	s.tracer, err = tracing.NewDBTracer(s.engine, recorder)
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}

	for _, c := range s.components {
		if h, ok := c.(tracing.NamedHookable); ok {
			tracing.CollectTrace(h, s.tracer)
		}
	}

	return nil
}

func (b Builder) buildMonitor(s *Simulation) error {
	if !b.monitorOn {
		return nil
	}

	s.monitor = monitoring.NewMonitor()
	if b.monitorPort > 0 {
		s.monitor.WithPortNumber(b.monitorPort)
	}

	if b.openBrowser {
		s.monitor.WithBrowser()
	}

	s.monitor.RegisterEngine(s.engine)

	for _, c := range s.components {
		s.monitor.RegisterComponent(c)
	}

	for _, r := range s.reporters {
		s.monitor.RegisterStatsReporter(r)
	}

	return s.monitor.StartServer()
}
