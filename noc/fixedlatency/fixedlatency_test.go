package fixedlatency

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/sim"
)

type sampleMsg struct {
	sim.MsgMeta
	seq int
}

func (m *sampleMsg) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}

func (m *sampleMsg) Clone() sim.Msg {
	c := *m
	return &c
}

type arrival struct {
	seq  int
	time sim.VTimeInCycle
}

// agent is a component that records what it receives and only drains its
// port when asked to.
type agent struct {
	*sim.ComponentBase
	engine   *sim.SerialEngine
	port     sim.Port
	received []arrival
	hold     bool
}

func newAgent(name string, engine *sim.SerialEngine, bufSize int) *agent {
	a := &agent{
		ComponentBase: sim.NewComponentBase(name),
		engine:        engine,
	}
	a.port = sim.NewPort(a, bufSize, 4, name+".Port")
	a.AddPort("Port", a.port)

	return a
}

func (a *agent) Handle(_ sim.Event) error {
	return nil
}

func (a *agent) NotifyRecv(_ sim.Port) {
	if a.hold {
		return
	}

	a.drain()
}

func (a *agent) drain() {
	for {
		msg := a.port.RetrieveIncoming()
		if msg == nil {
			return
		}

		a.received = append(a.received, arrival{
			seq:  msg.(*sampleMsg).seq,
			time: a.engine.CurrentTime(),
		})
	}
}

func (a *agent) NotifyPortFree(_ sim.Port) {}

func (a *agent) send(dst *agent, seq int) {
	msg := &sampleMsg{
		MsgMeta: sim.MsgMeta{
			ID:           sim.GetIDGenerator().Generate(),
			Src:          a.port.AsRemote(),
			Dst:          dst.port.AsRemote(),
			TrafficBytes: 8,
		},
		seq: seq,
	}

	Expect(a.port.Send(msg)).To(BeNil())
}

var _ = Describe("Fixed latency connection", func() {
	var (
		engine *sim.SerialEngine
		conn   *Comp
		a, b   *agent
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		conn = MakeBuilder().
			WithEngine(engine).
			WithClock(sim.FixedPeriod(2)).
			WithLatency(3).
			Build("Conn")

		a = newAgent("A", engine, 4)
		b = newAgent("B", engine, 1)
		conn.PlugIn(a.port)
		conn.PlugIn(b.port)
	})

	It("should deliver after the latency", func() {
		_, err := engine.Schedule(sim.NewCallbackEvent(4, func() {
			a.send(b, 1)
		}))
		Expect(err).NotTo(HaveOccurred())

		engine.Run()

		Expect(b.received).To(Equal([]arrival{{seq: 1, time: 10}}))
		Expect(conn.Stats()["msgs_delivered"]).To(Equal(uint64(1)))
		Expect(conn.Stats()["bytes_delivered"]).To(Equal(uint64(8)))
	})

	It("should keep the order between the same pair of ports", func() {
		b.hold = true

		_, err := engine.Schedule(sim.NewCallbackEvent(0, func() {
			a.send(b, 1)
			a.send(b, 2)
		}))
		Expect(err).NotTo(HaveOccurred())
		_, err = engine.Schedule(sim.NewCallbackEvent(2, func() {
			a.send(b, 3)
		}))
		Expect(err).NotTo(HaveOccurred())
		_, err = engine.Schedule(sim.NewCallbackEvent(20, func() {
			b.hold = false
			b.drain()
		}))
		Expect(err).NotTo(HaveOccurred())

		engine.Run()

		seqs := []int{}
		for _, r := range b.received {
			seqs = append(seqs, r.seq)
		}

		Expect(seqs).To(Equal([]int{1, 2, 3}))
		Expect(conn.NumInFlight()).To(Equal(0))
	})

	It("should reject zero latency", func() {
		Expect(func() {
			MakeBuilder().
				WithEngine(engine).
				WithClock(sim.FixedPeriod(1)).
				WithLatency(0).
				Build("Conn")
		}).To(Panic())
	})
})
