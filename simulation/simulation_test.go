package simulation

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/cpu"
	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/sim"
)

const numIters = 12

func arrayBase(core int) uint64 {
	return 4096 * uint64(core+1)
}

// fillProgram makes a core read a shared word, write its own word of a shared
// line, and fill a private array in two loops. The loops are separated by an
// exit instruction if withExit is set.
func fillProgram(core int, withExit bool) *cpu.Program {
	insts := []cpu.Inst{
		{Op: cpu.OpAdd, Rd: 1, Imm: numIters},
		{Op: cpu.OpAdd, Rd: 4, Imm: int64(arrayBase(core))},
		{Op: cpu.OpLoad, Rd: 3},
		{Op: cpu.OpAdd, Rd: 3, Rs: 3, Imm: 1},
		{Op: cpu.OpStore, Rd: 3, Imm: int64(64 + 8*core)},
		{Op: cpu.OpStore, Rd: 1, Rs: 4},
		{Op: cpu.OpAdd, Rd: 4, Rs: 4, Imm: 8},
		{Op: cpu.OpAdd, Rd: 1, Rs: 1, Imm: -1},
		{Op: cpu.OpBnz, Rs: 1, Imm: 2},
	}

	if withExit {
		insts = append(insts, cpu.Inst{Op: cpu.OpExit})
	}

	loop := int64(len(insts) + 1)
	insts = append(insts,
		cpu.Inst{Op: cpu.OpAdd, Rd: 1, Imm: numIters},
		cpu.Inst{Op: cpu.OpStore, Rd: 1, Rs: 4},
		cpu.Inst{Op: cpu.OpAdd, Rd: 4, Rs: 4, Imm: 8},
		cpu.Inst{Op: cpu.OpAdd, Rd: 1, Rs: 1, Imm: -1},
		cpu.Inst{Op: cpu.OpBnz, Rs: 1, Imm: loop},
		cpu.Inst{Op: cpu.OpHalt},
	)

	return &cpu.Program{
		Name:  "fill",
		Insts: insts,
		Data:  []cpu.Segment{{Addr: 0, Words: []uint64{41}}},
	}
}

func smallConfig() Config {
	c := DefaultConfig()
	c.Core.Freq = Freq(2 * sim.GHz)
	c.L1.Size = ByteSize(1 * mem.KB)
	c.L1.Assoc = 2
	c.L1.Freq = Freq(2 * sim.GHz)
	c.L2.Size = ByteSize(8 * mem.KB)
	c.L2.Assoc = 4
	c.L2.Freq = Freq(1 * sim.GHz)
	c.Network.Freq = Freq(1 * sim.GHz)
	c.Memory.Size = ByteSize(1 * mem.MB)
	c.Memory.Freq = Freq(500 * sim.MHz)
	c.CheckInvariants = true

	return c
}

// commitTrace records every commit of every core.
type commitTrace struct {
	records []cpu.CommitRecord
}

func (t *commitTrace) Func(ctx sim.HookCtx) {
	if ctx.Pos == cpu.HookPosCommit {
		t.records = append(t.records, ctx.Item.(cpu.CommitRecord))
	}
}

// lostRequests drops every message a port sends, as if the link lost it.
type lostRequests struct {
	numLost int
}

func (l *lostRequests) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosPortMsgSend {
		return
	}

	if ctx.Domain.(sim.Port).RetrieveOutgoing() != nil {
		l.numLost++
	}
}

func readWord(s *Simulation, addr uint64) uint64 {
	data, err := s.Hierarchy().FunctionalRead(addr, 8)
	Expect(err).NotTo(HaveOccurred())

	return binary.LittleEndian.Uint64(data)
}

func expectArraysFilled(s *Simulation) {
	for core := 0; core < s.Config().NumCores; core++ {
		for k := uint64(0); k < 2*numIters; k++ {
			addr := arrayBase(core) + 8*k
			Expect(readWord(s, addr)).
				To(Equal(numIters-k%numIters), "core %d word %d", core, k)
		}

		Expect(readWord(s, 64+8*uint64(core))).To(Equal(uint64(42)))
	}
}

var _ = Describe("Simulation", func() {
	var s *Simulation

	AfterEach(func() {
		if s != nil {
			Expect(s.Terminate()).To(Succeed())
			s = nil
		}
	})

	build := func(b Builder) *Simulation {
		var err error

		s, err = b.Build()
		Expect(err).NotTo(HaveOccurred())

		return s
	}

	It("should build the topology", func() {
		build(MakeBuilder().WithConfig(smallConfig()))

		for _, name := range []string{
			"DRAM", "MemConn", "Noc", "CoreConn", "L2[0]", "L2[1]",
			"L1[0]", "L1[1]", "Core[0].Functional", "Core[1].Timing",
		} {
			Expect(s.GetComponentByName(name)).NotTo(BeNil(), name)
		}

		Expect(s.GetComponentByName("L3")).To(BeNil())
		Expect(s.Switchers()).To(HaveLen(2))
		Expect(s.ActiveCores()[0].Model()).To(Equal(cpu.Functional))
		Expect(s.GetFrequencyRegistry().TicksPerSecond()).
			To(Equal(2 * sim.GHz))
		Expect(s.ID()).NotTo(BeEmpty())
	})

	It("should not build from an invalid configuration", func() {
		c := smallConfig()
		c.NumCores = 0
		c.Protocol = "MOESI"

		_, err := MakeBuilder().WithConfig(c).Build()

		var cfgErr *ConfigError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("num_cores"))
		Expect(err.Error()).To(ContainSubstring("protocol"))
	})

	It("should not set monitor options without monitoring", func() {
		_, err := MakeBuilder().WithMonitorPort(8080).Build()

		Expect(err).To(MatchError(ContainSubstring("monitoring is disabled")))
	})

	It("should not trace tasks without data recording", func() {
		_, err := MakeBuilder().WithTaskTracing().Build()

		Expect(err).To(MatchError(ContainSubstring("requires data recording")))
	})

	It("should check the workload", func() {
		build(MakeBuilder().WithConfig(smallConfig()))

		err := s.SetWorkload([]*cpu.Program{fillProgram(0, false)})
		Expect(err).To(MatchError(ErrWorkloadMismatch))

		Expect(s.SetWorkload([]*cpu.Program{
			fillProgram(0, false), fillProgram(1, false),
		})).To(Succeed())

		err = s.SetWorkload([]*cpu.Program{
			fillProgram(0, false), fillProgram(1, false),
		})
		Expect(err).To(MatchError(ErrWorkloadSet))
	})

	It("should fast-forward, reset the stats, and switch to timing cores", func() {
		build(MakeBuilder().WithConfig(smallConfig()))
		Expect(s.SetWorkload([]*cpu.Program{
			fillProgram(0, true), fillProgram(1, false),
		})).To(Succeed())

		exit := s.Run()
		Expect(exit.Cause).To(Equal(sim.ExitCauseMagicExit))
		Expect(s.Stats()["Core[0].Functional"]["committed"]).
			To(BeNumerically(">", 0))

		s.ResetStats()
		stats := s.Stats()
		Expect(stats[SimStatsName]["ticks"]).To(BeZero())
		Expect(stats["Core[0].Functional"]["committed"]).To(BeZero())

		Expect(s.SwitchCores()).To(Succeed())
		Expect(s.SwitchCores()).To(MatchError(cpu.ErrSwitchInProgress))

		exit = s.Run()
		Expect(exit.Cause).To(Equal(sim.ExitCauseLastThread))
		Expect(s.Run().Cause).To(Equal(sim.ExitCauseQueueEmpty))
		Expect(s.IsHung()).To(BeFalse())

		for _, c := range s.ActiveCores() {
			Expect(c.Model()).To(Equal(cpu.Timing))
		}

		stats = s.Stats()
		Expect(stats[SimStatsName]["ticks"]).To(BeNumerically(">", 0))
		Expect(stats["Core[0].Timing"]["committed"]).To(BeNumerically(">", 0))
		Expect(stats["Core[0].Timing.MemLatency"]["accesses"]).
			To(BeNumerically(">", 0))
		Expect(stats["L1[0]"]["misses"]).To(BeNumerically(">", 0))
		Expect(stats["NocTraffic"]["msgs_total"]).To(BeNumerically(">", 0))
		Expect(stats["DRAM"]["reads"]).To(BeNumerically(">", 0))

		expectArraysFilled(s)
	})

	It("should refuse to switch a system with one core model", func() {
		c := smallConfig()
		c.Core.Model = "timing"
		c.Core.SwitchTo = ""
		build(MakeBuilder().WithConfig(c))

		Expect(s.SwitchCores()).To(MatchError(ErrNotSwitchable))
		Expect(s.Switchers()).To(BeEmpty())
	})

	It("should run to the same state when paused and resumed", func() {
		c := smallConfig()
		c.Core.Model = "timing"
		c.Core.SwitchTo = ""

		workload := func() []*cpu.Program {
			return []*cpu.Program{fillProgram(0, false), fillProgram(1, false)}
		}

		wholeTrace := &commitTrace{}
		whole, err := MakeBuilder().WithConfig(c).WithCommitHook(wholeTrace).Build()
		Expect(err).NotTo(HaveOccurred())
		Expect(whole.SetWorkload(workload())).To(Succeed())
		wholeExit := whole.Run()

		pausedTrace := &commitTrace{}
		build(MakeBuilder().WithConfig(c).WithCommitHook(pausedTrace))
		Expect(s.SetWorkload(workload())).To(Succeed())

		var exit sim.ExitEvent
		horizon := sim.VTimeInCycle(0)
		numPauses := 0

		for {
			horizon += 37
			exit = s.RunUntil(horizon)
			if exit.Cause != sim.ExitCauseHorizon {
				break
			}

			Expect(exit.Time).To(Equal(horizon))
			numPauses++
		}

		Expect(numPauses).To(BeNumerically(">", 1))
		Expect(exit).To(Equal(wholeExit))
		Expect(exit.Cause).To(Equal(sim.ExitCauseLastThread))
		Expect(pausedTrace.records).To(Equal(wholeTrace.records))

		wholeStats, pausedStats := whole.Stats(), s.Stats()
		delete(wholeStats, SimStatsName)
		delete(pausedStats, SimStatsName)
		Expect(pausedStats).To(Equal(wholeStats))

		expectArraysFilled(s)
		Expect(whole.Terminate()).To(Succeed())
	})

	It("should dump the stats into the data recorder", func() {
		path := filepath.Join(GinkgoT().TempDir(), "stats")
		build(MakeBuilder().
			WithConfig(smallConfig()).
			WithDataRecording(path).
			WithTaskTracing())
		Expect(s.SetWorkload([]*cpu.Program{
			fillProgram(0, true), fillProgram(1, false),
		})).To(Succeed())

		s.Run()
		Expect(s.DumpStats()).To(Succeed())
		s.ResetStats()
		Expect(s.SwitchCores()).To(Succeed())
		s.Run()
		Expect(s.DumpStats()).To(Succeed())

		Expect(s.Terminate()).To(Succeed())
		s = nil

		reader, err := datarecording.NewReader(path + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		reader.MapTable(statsTableName, statsEntry{})
		rows, err := reader.Query(context.Background(), statsTableName,
			datarecording.QueryParams{
				Where:   "Component = ? AND Counter = ?",
				Args:    []any{SimStatsName, "ticks"},
				OrderBy: "Dump",
			})
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(2))
		Expect(rows[0].(*statsEntry).Dump).To(Equal(int64(0)))
		Expect(rows[1].(*statsEntry).Dump).To(Equal(int64(1)))
		Expect(rows[1].(*statsEntry).Value).To(BeNumerically(">", 0))
	})

	It("should not fail to dump without data recording", func() {
		build(MakeBuilder().WithConfig(smallConfig()))

		Expect(s.DumpStats()).To(Succeed())
	})

	It("should stop at a loop point and resume", func() {
		c := smallConfig()
		c.Core.Model = "timing"
		c.Core.SwitchTo = ""
		build(MakeBuilder().
			WithConfig(c).
			WithLoopPoints(cpu.LoopPointTarget{PC: 5, Count: 3}))
		Expect(s.SetWorkload([]*cpu.Program{
			fillProgram(0, false), fillProgram(1, false),
		})).To(Succeed())

		exit := s.Run()
		Expect(exit.Cause).To(Equal(sim.ExitCauseLoopPoint))
		Expect(s.LoopPoint().Count(0)).To(BeNumerically(">=", 3))
		Expect(s.LoopPoint().Count(0)).To(BeNumerically("<", 2*numIters))

		exit = s.Run()
		Expect(exit.Cause).To(Equal(sim.ExitCauseLastThread))
		Expect(s.LoopPoint().Count(0)).To(Equal(uint64(2 * numIters)))
		expectArraysFilled(s)
	})

	It("should not build with a loop point that never fires", func() {
		_, err := MakeBuilder().
			WithConfig(smallConfig()).
			WithLoopPoints(cpu.LoopPointTarget{PC: 5}).
			Build()

		var cfgErr *ConfigError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(cfgErr.Field).To(Equal("loop_points"))
	})

	It("should report a drain that never completes as hung", func() {
		c := smallConfig()
		c.Core.Model = "timing"
		c.Core.SwitchTo = "functional"
		build(MakeBuilder().WithConfig(c))

		lost := &lostRequests{}
		s.GetComponentByName("Core[0].Timing").
			GetPortByName("Mem").
			AcceptHook(lost)

		Expect(s.SetWorkload([]*cpu.Program{
			fillProgram(0, false), fillProgram(1, false),
		})).To(Succeed())

		Expect(s.RunUntil(20).Cause).To(Equal(sim.ExitCauseHorizon))
		Expect(lost.numLost).To(Equal(1))
		Expect(s.SwitchCores()).To(Succeed())

		exit := s.Run()
		Expect(exit.Cause).To(Equal(sim.ExitCauseQueueEmpty))
		Expect(s.IsHung()).To(BeTrue())

		switcher := s.Switchers()[0]
		Expect(switcher.State()).To(Equal(cpu.SwitchDraining))
		Expect(switcher.NumSwitches()).To(BeZero())
		Expect(switcher.Active().Name()).To(Equal("Core[0].Timing"))
		Expect(switcher.Active().IsDrained()).To(BeFalse())
		Expect(s.ActiveCores()[0].Context().Committed).To(Equal(uint64(2)))
	})

	It("should report a run without events as not hung", func() {
		build(MakeBuilder().WithConfig(smallConfig()))

		Expect(s.Run().Cause).To(Equal(sim.ExitCauseQueueEmpty))
		Expect(s.IsHung()).To(BeFalse())
	})
})
