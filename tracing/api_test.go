package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/sim"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Api", func() {
	var (
		mockCtrl *gomock.Controller
		domain   *MockNamedHookable
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		domain = NewMockNamedHookable(mockCtrl)
		domain.EXPECT().NumHooks().Return(1).AnyTimes()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should panic if ID is not given", func() {
		domain.EXPECT().Name().Return("domain").AnyTimes()
		Expect(func() {
			StartTask("", "123", domain, "kind", "what", nil)
		}).Should(Panic())
	})

	It("should panic if domain is nil", func() {
		Expect(func() {
			StartTask("id", "123", nil, "kind", "what", nil)
		}).Should(Panic())
	})

	It("should panic if domain's name is empty", func() {
		domain.EXPECT().Name().Return("").AnyTimes()
		Expect(func() {
			StartTask("id", "123", domain, "kind", "what", nil)
		}).Should(Panic())
	})

	It("should panic if kind is empty", func() {
		domain.EXPECT().Name().Return("domain").AnyTimes()
		Expect(func() {
			StartTask("id", "123", domain, "", "what", nil)
		}).Should(Panic())
	})

	It("should not invoke hooks if there is no hook", func() {
		quiet := NewMockNamedHookable(mockCtrl)
		quiet.EXPECT().NumHooks().Return(0).AnyTimes()
		quiet.EXPECT().Name().Return("quiet").AnyTimes()

		StartTask("id", "", quiet, "kind", "what", nil)
		EndTask("id", quiet)
	})

	It("should trace request handling at the receiver", func() {
		msg := &sampleMsg{MsgMeta: sim.MsgMeta{ID: "m1"}}
		domain.EXPECT().Name().Return("DRAM").AnyTimes()

		var started, ended Task
		domain.EXPECT().
			InvokeHook(gomock.Any()).
			Do(func(ctx sim.HookCtx) {
				switch ctx.Pos {
				case HookPosTaskStart:
					started = ctx.Item.(Task)
				case HookPosTaskEnd:
					ended = ctx.Item.(Task)
				}
			}).
			Times(2)

		TraceReqReceive(msg, domain)
		TraceReqComplete(msg, domain)

		Expect(started.ID).To(Equal("m1@DRAM"))
		Expect(started.ParentID).To(Equal("m1_req_out"))
		Expect(started.Kind).To(Equal("req_in"))
		Expect(started.What).To(Equal("*tracing.sampleMsg"))
		Expect(started.Location).To(Equal("DRAM"))
		Expect(ended.ID).To(Equal("m1@DRAM"))
	})
})
