package coherence

import (
	"encoding/binary"
	"math/rand/v2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/mem"
	"github.com/sarchlab/cohsim/sim"
)

var _ = Describe("Coherent Hierarchy", func() {
	var s *testSystem

	Context("with roomy caches", func() {
		BeforeEach(func() {
			s = buildSystem(2, 1,
				MakeL1Builder().WithNumSets(4).WithNumWays(2).WithLatency(1),
				MakeDirectoryBuilder().WithNumSets(16).WithNumWays(4).
					WithLatency(2))
		})

		It("should hit on a load after a store", func() {
			var loaded []byte

			s.agents[0].write(0x100, []byte{1, 2, 3, 4})
			load := s.agents[0].read(0x100, 4)
			s.agents[0].onRsp = func(req mem.AccessReq, rsp sim.Msg) {
				if req == load {
					loaded = rsp.(*mem.DataReadyRsp).Data
				}
			}

			s.run()

			Expect(loaded).To(Equal([]byte{1, 2, 3, 4}))
			Expect(s.dram.Stats()["reads"]).To(Equal(uint64(1)))
			Expect(s.l1s[0].Stats()["misses"]).To(Equal(uint64(1)))
			Expect(s.l1s[0].Stats()["hits"]).To(Equal(uint64(1)))
			Expect(s.l1s[0].LineState(0x100)).To(Equal(StateM))
			Expect(s.checker.NumChecks()).NotTo(BeZero())
		})

		It("should grant an exclusive copy to the only reader", func() {
			s.agents[0].read(0x40, 8)
			s.run()

			Expect(s.l1s[0].LineState(0x40)).To(Equal(StateE))
			Expect(s.counter.Count("DataE")).To(Equal(uint64(1)))
		})

		It("should upgrade an exclusive copy silently", func() {
			s.agents[0].read(0x40, 8)
			s.agents[0].write(0x40, []byte{7})
			s.run()

			Expect(s.l1s[0].LineState(0x40)).To(Equal(StateM))
			Expect(s.counter.Count("GetM")).To(BeZero())
			Expect(s.counter.Count("Upgrade")).To(BeZero())
		})

		It("should invalidate the first writer exactly once", func() {
			var invsWhenDone uint64

			s.agents[0].write(0x200, []byte{1, 2, 3, 4})
			s.run()

			s.agents[1].write(0x201, []byte{9})
			s.agents[1].onRsp = func(_ mem.AccessReq, _ sim.Msg) {
				invsWhenDone = s.counter.Count("Inv")
			}
			s.run()

			Expect(invsWhenDone).To(Equal(uint64(1)))
			Expect(s.counter.Count("Inv")).To(Equal(uint64(1)))
			Expect(s.l1s[0].Stats()["invalidations"]).To(Equal(uint64(1)))
			Expect(s.l1s[0].LineState(0x200)).To(Equal(StateI))
			Expect(s.l1s[1].LineState(0x200)).To(Equal(StateM))

			data, err := s.hierarchy.FunctionalRead(0x200, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{1, 9, 3, 4}))
		})

		It("should downgrade the owner on a read from another core", func() {
			var loaded []byte

			s.agents[0].write(0x80, []byte{5, 6})
			s.run()

			load := s.agents[1].read(0x80, 2)
			s.agents[1].onRsp = func(req mem.AccessReq, rsp sim.Msg) {
				if req == load {
					loaded = rsp.(*mem.DataReadyRsp).Data
				}
			}
			s.run()

			Expect(loaded).To(Equal([]byte{5, 6}))
			Expect(s.l1s[0].LineState(0x80)).To(Equal(StateS))
			Expect(s.l1s[1].LineState(0x80)).To(Equal(StateS))
			Expect(s.l1s[0].Stats()["downgrades"]).To(Equal(uint64(1)))
			Expect(s.dirs[0].Sharers(0x80)).To(ConsistOf(
				s.l1s[0].BottomPort().AsRemote(),
				s.l1s[1].BottomPort().AsRemote()))
		})

		It("should upgrade a shared copy", func() {
			s.agents[0].read(0xC0, 4)
			s.run()
			s.agents[1].read(0xC0, 4)
			s.run()

			s.agents[1].write(0xC0, []byte{1, 1, 1, 1})
			s.run()

			Expect(s.counter.Count("Upgrade")).To(Equal(uint64(1)))
			Expect(s.counter.Count("UpgradeAck")).To(Equal(uint64(1)))
			Expect(s.l1s[1].Stats()["upgrades"]).To(Equal(uint64(1)))
			Expect(s.l1s[0].LineState(0xC0)).To(Equal(StateI))
			Expect(s.l1s[1].LineState(0xC0)).To(Equal(StateM))
			Expect(s.dirs[0].Sharers(0xC0)).To(ConsistOf(
				s.l1s[1].BottomPort().AsRemote()))
		})

		It("should update every copy on a functional write", func() {
			var loaded []byte

			s.agents[0].read(0x300, 4)
			s.agents[1].read(0x300, 4)
			s.run()

			Expect(s.hierarchy.FunctionalWrite(0x300, []byte{4, 3, 2, 1})).
				To(Succeed())

			load := s.agents[1].read(0x300, 4)
			s.agents[1].onRsp = func(req mem.AccessReq, rsp sim.Msg) {
				if req == load {
					loaded = rsp.(*mem.DataReadyRsp).Data
				}
			}
			s.run()

			Expect(loaded).To(Equal([]byte{4, 3, 2, 1}))

			stored, err := s.dram.Storage().Read(0x300, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(Equal([]byte{4, 3, 2, 1}))
		})

		It("should read across lines functionally", func() {
			s.agents[0].write(0x3C, []byte{1, 2, 3, 4})
			s.agents[1].write(0x40, []byte{5, 6, 7, 8})
			s.run()

			data, err := s.hierarchy.FunctionalRead(0x3C, 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
		})

		It("should refuse functional accesses while busy", func() {
			s.agents[0].write(0x0, []byte{1})
			s.agents[0].start()
			s.engine.RunUntil(3)

			_, err := s.hierarchy.FunctionalRead(0x0, 1)
			Expect(err).To(MatchError(ErrNotQuiescent))
			Expect(s.hierarchy.FunctionalWrite(0x0, []byte{2})).
				To(MatchError(ErrNotQuiescent))
		})
	})

	Context("with a direct-mapped L1", func() {
		BeforeEach(func() {
			s = buildSystem(1, 1,
				MakeL1Builder().WithNumSets(1).WithNumWays(1).WithLatency(1),
				MakeDirectoryBuilder().WithNumSets(16).WithNumWays(4).
					WithLatency(2))
		})

		It("should write back a dirty line on eviction", func() {
			var loaded []byte

			s.agents[0].write(0x0, []byte{0xAA})
			s.agents[0].read(0x40, 1)
			load := s.agents[0].read(0x0, 1)
			s.agents[0].onRsp = func(req mem.AccessReq, rsp sim.Msg) {
				if req == load {
					loaded = rsp.(*mem.DataReadyRsp).Data
				}
			}

			s.run()

			Expect(loaded).To(Equal([]byte{0xAA}))
			Expect(s.counter.Count("PutX")).To(Equal(uint64(2)))
			Expect(s.counter.Count("PutAck")).To(Equal(uint64(2)))
			Expect(s.l1s[0].Stats()["evictions"]).To(Equal(uint64(2)))
			Expect(s.l1s[0].Stats()["writebacks"]).To(Equal(uint64(1)))
			Expect(s.dram.Stats()["reads"]).To(Equal(uint64(2)))
		})
	})

	Context("with a one-line shared cache", func() {
		BeforeEach(func() {
			s = buildSystem(2, 1,
				MakeL1Builder().WithNumSets(4).WithNumWays(2).WithLatency(1),
				MakeDirectoryBuilder().WithNumSets(1).WithNumWays(1).
					WithLatency(2))
		})

		It("should recall the L1 copies before reusing the way", func() {
			s.agents[0].write(0x0, []byte{1, 2})
			s.run()

			s.agents[1].read(0x40, 2)
			s.run()

			Expect(s.l1s[0].LineState(0x0)).To(Equal(StateI))
			Expect(s.l1s[1].LineState(0x40)).To(Equal(StateE))
			Expect(s.dirs[0].Stats()["recalls"]).To(Equal(uint64(1)))
			Expect(s.dirs[0].Stats()["writebacks"]).To(Equal(uint64(1)))
			Expect(s.dram.Stats()["writes"]).To(Equal(uint64(1)))

			stored, err := s.dram.Storage().Read(0x0, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(Equal([]byte{1, 2}))
		})

		It("should drop a clean line without a write", func() {
			s.agents[0].read(0x0, 2)
			s.run()
			s.agents[0].read(0x40, 2)
			s.run()

			Expect(s.dirs[0].Stats()["recalls"]).To(Equal(uint64(1)))
			Expect(s.dirs[0].Stats()["writebacks"]).To(BeZero())
			Expect(s.dram.Stats()["writes"]).To(BeZero())
		})
	})

	Context("under random traffic", func() {
		const (
			numCores      = 4
			numOps        = 300
			numShared     = 8
			numPrivate    = 8
			privateRegion = 0x1000
		)

		BeforeEach(func() {
			s = buildSystem(numCores, 2,
				MakeL1Builder().WithNumSets(2).WithNumWays(2).WithLatency(1).
					WithMSHRCapacity(4),
				MakeDirectoryBuilder().WithNumSets(2).WithNumWays(2).
					WithLatency(2).WithMSHRCapacity(4))
		})

		It("should keep the caches coherent", func() {
			rng := rand.New(rand.NewPCG(1, 2))
			expected := make([]map[uint64]uint32, numCores)

			for i, a := range s.agents {
				expected[i] = make(map[uint64]uint32)
				model := expected[i]
				private := uint64(privateRegion * (i + 1))
				pending := make(map[*mem.ReadReq]uint32)

				for op := 0; op < numOps; op++ {
					var addr uint64

					isPrivate := rng.IntN(2) == 0
					if isPrivate {
						addr = private + uint64(rng.IntN(numPrivate))*64
					} else {
						addr = uint64(rng.IntN(numShared)) * 64
					}

					addr += uint64(rng.IntN(16)) * 4

					if rng.IntN(2) == 0 {
						value := uint32(i)<<24 | uint32(op)
						data := binary.LittleEndian.AppendUint32(nil, value)
						a.write(addr, data)

						if isPrivate {
							model[addr] = value
						}

						continue
					}

					req := a.read(addr, 4)
					if isPrivate {
						pending[req] = model[addr]
					}
				}

				a.onRsp = func(req mem.AccessReq, rsp sim.Msg) {
					read, ok := req.(*mem.ReadReq)
					if !ok {
						return
					}

					want, ok := pending[read]
					if !ok {
						return
					}

					got := rsp.(*mem.DataReadyRsp).Data
					Expect(binary.LittleEndian.Uint32(got)).To(Equal(want))
				}
			}

			s.run()

			for i := range s.agents {
				Expect(s.agents[i].numDone).To(Equal(numOps))

				for addr, want := range expected[i] {
					data, err := s.hierarchy.FunctionalRead(addr, 4)
					Expect(err).NotTo(HaveOccurred())
					Expect(binary.LittleEndian.Uint32(data)).To(Equal(want))
				}
			}

			Expect(s.checker.NumChecks()).To(BeNumerically(">", 1000))
			Expect(s.counter.Count("Inv")).NotTo(BeZero())
		})
	})
})
