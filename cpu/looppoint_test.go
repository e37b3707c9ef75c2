package cpu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/sim"
	"go.uber.org/mock/gomock"
)

var _ = Describe("LoopPoint", func() {
	var (
		mockCtrl *gomock.Controller
		exiter   *MockExitRequester
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		exiter = NewMockExitRequester(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	commit := func(l *LoopPoint, core string, pc uint64) {
		l.Func(sim.HookCtx{
			Pos:  HookPosCommit,
			Item: CommitRecord{Core: core, PC: pc},
		})
	}

	It("should exit once when the count is reached", func() {
		l := NewLoopPoint(exiter,
			LoopPointTarget{PC: 4, Count: 3},
			LoopPointTarget{PC: 9, Count: 1})

		commit(l, "Core[0]", 4)
		commit(l, "Core[1]", 4)
		commit(l, "Core[0]", 5)

		exiter.EXPECT().RequestExit(sim.ExitCauseLoopPoint).Times(1)
		commit(l, "Core[1]", 4)
		commit(l, "Core[0]", 4)

		Expect(l.Count(0)).To(Equal(uint64(4)))
		Expect(l.Count(1)).To(BeZero())
	})

	It("should ignore other hook positions", func() {
		l := NewLoopPoint(exiter, LoopPointTarget{PC: 0, Count: 1})

		l.Func(sim.HookCtx{Pos: sim.HookPosAfterEvent})

		Expect(l.Count(0)).To(BeZero())
	})

	It("should reject a zero count", func() {
		Expect(func() {
			NewLoopPoint(exiter, LoopPointTarget{PC: 4})
		}).To(Panic())
	})
})
