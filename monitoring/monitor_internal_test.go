package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/sim"
)

type sampleStruct struct {
	field1 int
	field2 string
	field3 *sampleStruct
	field4 []sampleStruct
}

type sampleComponent struct {
	*sim.ComponentBase

	buffer sim.Buffer
	hits   uint64
}

func (c *sampleComponent) Handle(_ sim.Event) error {
	return nil
}

func (c *sampleComponent) NotifyRecv(_ sim.Port) {
	// Do nothing
}

func (c *sampleComponent) NotifyPortFree(_ sim.Port) {
	// Do nothing
}

func (c *sampleComponent) Stats() sim.Counters {
	return sim.Counters{"hits": c.hits}
}

func (c *sampleComponent) ResetStats() {
	c.hits = 0
}

func newSampleComponent() *sampleComponent {
	c := &sampleComponent{
		ComponentBase: sim.NewComponentBase("Comp"),
		buffer:        sim.NewBuffer("Comp.Buf", 10),
	}

	c.AddPort("Port1", sim.NewPort(c, 2, 2, "Comp.Port1"))

	return c
}

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		engine *sim.SerialEngine
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		m = NewMonitor()
		m.RegisterEngine(engine)
	})

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

		return rec
	}

	It("should register components and internal buffers", func() {
		c := newSampleComponent()
		m.RegisterComponent(c)

		Expect(m.components).To(HaveLen(1))
		Expect(m.buffers).To(HaveLen(3))
	})

	It("should list the components", func() {
		m.RegisterComponent(newSampleComponent())

		rec := get("/api/list_components")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`["Comp"]`))
	})

	It("should report the current time", func() {
		rec := get("/api/now")

		Expect(rec.Body.String()).To(MatchJSON(`{"now":0}`))
	})

	It("should report the stats", func() {
		c := newSampleComponent()
		c.hits = 4
		m.RegisterStatsReporter(c)

		Expect(get("/api/stats").Body.String()).
			To(MatchJSON(`{"Comp":{"hits":4}}`))
		Expect(get("/api/stats/Comp").Body.String()).
			To(MatchJSON(`{"hits":4}`))
		Expect(get("/api/stats/None").Code).To(Equal(http.StatusNotFound))
	})

	It("should return 404 for an unknown component", func() {
		rec := get("/api/component/None")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should sort the buffers by level", func() {
		c := newSampleComponent()
		c.buffer.Push(1)
		c.buffer.Push(2)
		m.RegisterComponent(c)

		rec := get("/api/hangdetector/buffers?sort=level&limit=1")

		levels := []bufferLevel{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &levels)).To(Succeed())
		Expect(levels).To(Equal([]bufferLevel{
			{Buffer: "Comp.Buf", Level: 2, Cap: 10},
		}))
	})

	It("should reject an unknown sort method", func() {
		rec := get("/api/hangdetector/buffers?sort=name")

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should move progress bars with the engine time", func() {
		bar := m.CreateProgressBar("Run", 100)
		Expect(bar.Total).To(Equal(uint64(100)))

		for _, t := range []sim.VTimeInCycle{40, 130} {
			_, err := engine.Schedule(sim.NewCallbackEvent(t, func() {}))
			Expect(err).NotTo(HaveOccurred())
		}

		engine.RunUntil(50)
		Expect(bar.Finished).To(Equal(uint64(40)))
		Expect(bar.Fraction()).To(BeNumerically("~", 0.4))
		Expect(get("/api/progress").Body.String()).To(ContainSubstring(`"Run"`))

		engine.Run()
		Expect(bar.Finished).To(Equal(uint64(100)))

		m.CompleteProgressBar(bar)
		Expect(m.progressBars).To(BeEmpty())
	})

	It("should show a finished bar for an empty run", func() {
		bar := m.CreateProgressBar("Empty", 0)

		Expect(bar.Total).To(BeZero())
		Expect(bar.Fraction()).To(Equal(1.0))
	})

	It("should serve the page", func() {
		rec := get("/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should start and stop the server", func() {
		Expect(m.StartServer()).To(Succeed())
		Expect(m.URL()).To(HavePrefix("http://localhost:"))

		rsp, err := http.Get(m.URL() + "/api/now")
		Expect(err).NotTo(HaveOccurred())
		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
		Expect(rsp.Body.Close()).To(Succeed())

		Expect(m.StopServer()).To(Succeed())
		Expect(m.URL()).To(BeEmpty())
	})

	It("should walk int fields", func() {
		s := &sampleStruct{
			field1: 1,
		}

		elem, err := walkFields(s, "field1")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.Int))
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should walk string fields", func() {
		s := &sampleStruct{
			field2: "abc",
		}

		elem, err := walkFields(s, "field2")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.String))
		Expect(elem.String()).To(Equal("abc"))
	})

	It("should walk recursively", func() {
		s := &sampleStruct{
			field3: &sampleStruct{
				field1: 1,
			},
		}

		elem, err := walkFields(s, "field3.field1")

		Expect(err).To(BeNil())
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should walk slice recursively", func() {
		s := &sampleStruct{
			field4: []sampleStruct{{
				field4: []sampleStruct{
					{field1: 1},
				},
			}, {}},
		}

		elem, err := walkFields(s, "field4.0.field4.0.field1")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.Int))
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should reject a bad slice index", func() {
		s := &sampleStruct{field4: []sampleStruct{{}}}

		_, err := walkFields(s, "field4.x")

		Expect(err).To(MatchError(errFieldPath))
	})

	It("should reject an unknown field", func() {
		_, err := walkFields(&sampleStruct{}, "field9")

		Expect(err).To(MatchError(errFieldPath))
	})

	It("should serve the value of a field", func() {
		c := newSampleComponent()
		c.hits = 4
		m.RegisterComponent(c)

		Expect(get("/api/value/Comp/hits").Body.String()).
			To(MatchJSON(`{"value":"4"}`))
		Expect(get("/api/value/Comp/misses").Code).
			To(Equal(http.StatusBadRequest))
	})
})
