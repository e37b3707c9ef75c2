package pipelining

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/sim"
	"go.uber.org/mock/gomock"
)

type item struct {
	id string
}

func (i item) TaskID() string {
	return i.id
}

var _ = Describe("Pipeline", func() {
	var (
		mockCtrl *gomock.Controller
		output   *MockBuffer
		pipeline Pipeline
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		output = NewMockBuffer(mockCtrl)
		pipeline = MakeBuilder().
			WithWidth(2).
			WithNumStages(3).
			WithOutput(output).
			Build("L1.Pipeline")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should delay items by one cycle per stage", func() {
		a, b, c := item{"a"}, item{"b"}, item{"c"}

		pipeline.Accept(a)
		pipeline.Accept(b)
		Expect(pipeline.CanAccept()).To(BeFalse())
		Expect(func() { pipeline.Accept(c) }).
			To(PanicWith("pipeline L1.Pipeline is full"))

		Expect(pipeline.Tick()).To(BeTrue())
		Expect(pipeline.CanAccept()).To(BeTrue())
		pipeline.Accept(c)

		Expect(pipeline.Tick()).To(BeTrue())

		gomock.InOrder(
			output.EXPECT().CanPush().Return(true),
			output.EXPECT().Push(a),
			output.EXPECT().CanPush().Return(true),
			output.EXPECT().Push(b),
		)
		Expect(pipeline.Tick()).To(BeTrue())
		Expect(pipeline.NumItems()).To(Equal(1))

		output.EXPECT().CanPush().Return(true)
		output.EXPECT().Push(c)
		Expect(pipeline.Tick()).To(BeTrue())
		Expect(pipeline.NumItems()).To(BeZero())
		Expect(pipeline.Tick()).To(BeFalse())
	})

	It("should stall a lane behind a blocked output", func() {
		a, b := item{"a"}, item{"b"}

		pipeline.Accept(a)
		pipeline.Tick()
		pipeline.Tick()

		output.EXPECT().CanPush().Return(false).Times(2)
		Expect(pipeline.Tick()).To(BeFalse())

		pipeline.Accept(b)
		pipeline.Tick()
		Expect(pipeline.NumItems()).To(Equal(2))

		output.EXPECT().CanPush().Return(true)
		output.EXPECT().Push(a)
		Expect(pipeline.Tick()).To(BeTrue())

		output.EXPECT().CanPush().Return(true)
		output.EXPECT().Push(b)
		Expect(pipeline.Tick()).To(BeTrue())
	})

	It("should clear", func() {
		pipeline.Accept(item{"a"})
		pipeline.Accept(item{"b"})

		pipeline.Clear()

		Expect(pipeline.NumItems()).To(BeZero())
		Expect(pipeline.CanAccept()).To(BeTrue())
	})
})

var _ = Describe("Zero-Stage Pipeline", func() {
	var (
		mockCtrl *gomock.Controller
		output   *MockBuffer
		pipeline Pipeline
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		output = NewMockBuffer(mockCtrl)
		pipeline = MakeBuilder().
			WithNumStages(0).
			WithOutput(output).
			Build("Pipeline")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should not accept if the output is full", func() {
		output.EXPECT().CanPush().Return(false)

		Expect(pipeline.CanAccept()).To(BeFalse())
	})

	It("should forward to the output directly", func() {
		a := item{"a"}

		output.EXPECT().CanPush().Return(true)
		output.EXPECT().Push(a)

		Expect(pipeline.CanAccept()).To(BeTrue())
		pipeline.Accept(a)
		Expect(pipeline.Tick()).To(BeFalse())
	})
})

var _ = Describe("Builder", func() {
	It("should reject invalid shapes", func() {
		buf := sim.NewBuffer("Buf", 1)

		Expect(func() { MakeBuilder().Build("P") }).
			To(PanicWith(ContainSubstring("needs an output buffer")))
		Expect(func() { MakeBuilder().WithOutput(buf).WithWidth(0).Build("P") }).
			To(PanicWith(ContainSubstring("width 0")))
		Expect(func() {
			MakeBuilder().WithOutput(buf).WithNumStages(-1).Build("P")
		}).To(PanicWith(ContainSubstring("-1 stages")))
	})
})
