package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/sarchlab/cohsim/cpu"
	"github.com/sarchlab/cohsim/sim"
	"github.com/sarchlab/cohsim/simulation"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// errHung is returned when the simulation stops with threads that never halt.
var errHung = errors.New("simulation hung")

type runOptions struct {
	configPath   string
	programPaths []string
	maxTicks     uint64
	monitor      bool
	monitorPort  int
	openBrowser  bool
	record       bool
	recordFile   string
	traceTasks   bool
	logEvents    bool
}

var runCmd = &cobra.Command{
	Use:   "run [flags] program.yaml...",
	Short: "Run one program per core.",
	Long: "Run loads the system configuration and one program per core. " +
		"A single program is copied to every core. On an m5_exit, the stats " +
		"are dumped and reset, and the cores are switched to their timing " +
		"models.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		opts.programPaths = args

		return runSimulation(opts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.String("config", envOr("COHSIM_CONFIG", ""),
		"The YAML file that describes the system. Defaults are used if empty.")
	f.Uint64("max-ticks", 0,
		"Stop after the given number of ticks. 0 runs to the end.")
	f.Bool("monitor", false, "Serve the simulation over HTTP.")
	f.Int("monitor-port", envInt("COHSIM_MONITOR_PORT"),
		"The port of the monitoring server. A free port is used if 0.")
	f.Bool("open-browser", false, "Open the monitor in a browser.")
	f.Bool("record", false, "Record the stats dumps into an SQLite file.")
	f.String("record-file", envOr("COHSIM_RECORD_FILE", ""),
		"The name of the SQLite file, without the extension.")
	f.Bool("trace-tasks", false, "Record the memory transactions.")
	f.Bool("log-events", false,
		"Log every event. Requires the trace log level.")
}

func envInt(key string) int {
	n, err := strconv.Atoi(envOr(key, "0"))
	if err != nil {
		logrus.WithField("key", key).Warn("not an integer, ignored")
		return 0
	}

	return n
}

func runOptionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	var (
		opts runOptions
		errs []error
	)

	f := cmd.Flags()
	get := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error

	opts.configPath, err = f.GetString("config")
	get(err)
	opts.maxTicks, err = f.GetUint64("max-ticks")
	get(err)
	opts.monitor, err = f.GetBool("monitor")
	get(err)
	opts.monitorPort, err = f.GetInt("monitor-port")
	get(err)
	opts.openBrowser, err = f.GetBool("open-browser")
	get(err)
	opts.record, err = f.GetBool("record")
	get(err)
	opts.recordFile, err = f.GetString("record-file")
	get(err)
	opts.traceTasks, err = f.GetBool("trace-tasks")
	get(err)
	opts.logEvents, err = f.GetBool("log-events")
	get(err)

	return opts, errors.Join(errs...)
}

func (o runOptions) builder(config simulation.Config) simulation.Builder {
	b := simulation.MakeBuilder().WithConfig(config)

	if o.monitor {
		b = b.WithMonitoring()

		if o.monitorPort > 0 {
			b = b.WithMonitorPort(o.monitorPort)
		}

		if o.openBrowser {
			b = b.WithBrowser()
		}
	}

	if o.logEvents {
		b = b.WithEventLogging()
	}

	if o.record {
		b = b.WithDataRecording(o.recordFile)

		if o.traceTasks {
			b = b.WithTaskTracing()
		}
	}

	return b
}

func loadWorkload(paths []string, numCores int) ([]*cpu.Program, error) {
	if len(paths) != 1 && len(paths) != numCores {
		return nil, fmt.Errorf("%w: %d cores, %d programs",
			simulation.ErrWorkloadMismatch, numCores, len(paths))
	}

	programs := make([]*cpu.Program, 0, numCores)

	for i := 0; i < numCores; i++ {
		path := paths[0]
		if len(paths) > 1 {
			path = paths[i]
		}

		p, err := cpu.LoadProgram(path)
		if err != nil {
			return nil, err
		}

		programs = append(programs, p)
	}

	return programs, nil
}

func runSimulation(opts runOptions, out io.Writer) (err error) {
	config := simulation.DefaultConfig()
	if opts.configPath != "" {
		config, err = simulation.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
	}

	programs, err := loadWorkload(opts.programPaths, config.NumCores)
	if err != nil {
		return err
	}

	s, err := opts.builder(config).Build()
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, s.Terminate())
	}()

	if err := s.SetWorkload(programs); err != nil {
		return err
	}

	return runAndReport(s, opts.maxTicks, out)
}

// runAndReport runs the loaded simulation and prints the final stats. It
// returns errHung if some thread can never halt.
func runAndReport(
	s *simulation.Simulation,
	maxTicks uint64,
	out io.Writer,
) error {
	exit, err := runLoop(s, maxTicks)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Exiting @ tick %d because %s\n", exit.Time, exit.Cause)

	if err := s.DumpStats(); err != nil {
		return err
	}

	printStats(out, s.Stats())

	if s.IsHung() {
		return errHung
	}

	return nil
}

// runLoop runs until the threads halt or the tick limit is reached. Every
// m5_exit dumps and resets the stats and switches the cores once.
func runLoop(s *simulation.Simulation, maxTicks uint64) (sim.ExitEvent, error) {
	horizon := sim.MaxTime
	if maxTicks > 0 {
		horizon = sim.VTimeInCycle(maxTicks)
	}

	switched := false

	for {
		exit := s.RunUntil(horizon)

		switch exit.Cause {
		case sim.ExitCauseMagicExit:
			if err := s.DumpStats(); err != nil {
				return exit, err
			}

			s.ResetStats()

			if switched {
				continue
			}

			err := s.SwitchCores()
			if errors.Is(err, simulation.ErrNotSwitchable) {
				logrus.Info("cores not switched, a single core model is used")
			} else if err != nil {
				return exit, err
			}

			switched = true
		case sim.ExitCauseWorkBegin, sim.ExitCauseWorkEnd:
			if err := s.DumpStats(); err != nil {
				return exit, err
			}
		default:
			return exit, nil
		}
	}
}

func printStats(out io.Writer, snapshot simulation.Snapshot) {
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
			fmt.Fprintf(out, "%-40s %d\n", name+"."+k, counters[k])
		}
	}
}
