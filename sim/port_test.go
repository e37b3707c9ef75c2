package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

type sampleMsg struct {
	MsgMeta
}

func (m *sampleMsg) Meta() *MsgMeta {
	return &m.MsgMeta
}

func (m *sampleMsg) Clone() Msg {
	c := *m
	c.ID = GetIDGenerator().Generate()

	return &c
}

var _ = Describe("DefaultPort", func() {
	var (
		mockCtrl *gomock.Controller
		comp     *MockComponent
		conn     *MockConnection
		port     Port
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		comp = NewMockComponent(mockCtrl)
		conn = NewMockConnection(mockCtrl)
		port = NewPort(comp, 1, 1, "Comp.Port")
		port.SetConnection(conn)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should refuse a second connection", func() {
		other := NewMockConnection(mockCtrl)
		other.EXPECT().Name().Return("Other").AnyTimes()
		conn.EXPECT().Name().Return("Conn").AnyTimes()

		Expect(func() { port.SetConnection(other) }).To(Panic())
	})

	It("should send and notify the connection", func() {
		msg := &sampleMsg{MsgMeta{ID: "1", Src: "Comp.Port", Dst: "Other.Port"}}

		conn.EXPECT().NotifySend(port)

		Expect(port.Send(msg)).To(BeNil())
		Expect(port.CanSend()).To(BeFalse())
		Expect(port.Send(msg)).NotTo(BeNil())
		Expect(port.PeekOutgoing()).To(BeIdenticalTo(msg))
	})

	It("should notify the component when the outgoing buffer frees", func() {
		msg := &sampleMsg{MsgMeta{ID: "1", Src: "Comp.Port", Dst: "Other.Port"}}

		conn.EXPECT().NotifySend(port)
		Expect(port.Send(msg)).To(BeNil())

		comp.EXPECT().NotifyPortFree(port)
		Expect(port.RetrieveOutgoing()).To(BeIdenticalTo(msg))
		Expect(port.RetrieveOutgoing()).To(BeNil())
	})

	It("should panic when sending from another port", func() {
		msg := &sampleMsg{MsgMeta{ID: "1", Src: "Other.Port", Dst: "Comp.Port"}}

		Expect(func() { port.Send(msg) }).To(Panic())
	})

	It("should deliver and notify the component", func() {
		msg := &sampleMsg{MsgMeta{ID: "1", Src: "Other.Port", Dst: "Comp.Port"}}

		comp.EXPECT().NotifyRecv(port)

		Expect(port.Deliver(msg)).To(BeNil())
		Expect(port.Deliver(msg)).NotTo(BeNil())
		Expect(port.PeekIncoming()).To(BeIdenticalTo(msg))

		conn.EXPECT().NotifyAvailable(port)
		Expect(port.RetrieveIncoming()).To(BeIdenticalTo(msg))
	})
})
