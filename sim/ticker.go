package sim

import (
	"sync"
)

// TickEvent is a generic event that almost all the component can use to
// update their status.
type TickEvent struct {
	*EventBase
}

// MakeTickEvent creates a new TickEvent
func MakeTickEvent(handler Handler, time VTimeInCycle) TickEvent {
	return TickEvent{EventBase: NewEventBase(time, handler)}
}

// A Ticker is an object that updates states with ticks.
type Ticker interface {
	Tick() bool
}

// A Clock provides the period of a clock domain in global ticks.
type Clock interface {
	Period() VTimeInCycle
}

// FixedPeriod is a Clock with a constant period, mostly used in tests.
type FixedPeriod VTimeInCycle

// Period returns the period.
func (p FixedPeriod) Period() VTimeInCycle {
	return VTimeInCycle(p)
}

// TickScheduler can help schedule tick events. All the ticks it schedules are
// on its own clock edges, origin + k*period.
type TickScheduler struct {
	lock    sync.Mutex
	handler Handler
	Engine  EventScheduler

	period    VTimeInCycle
	origin    VTimeInCycle
	localTick VTimeInCycle

	pendingTicks map[VTimeInCycle]struct{}
}

// NewTickScheduler creates a scheduler for tick events.
func NewTickScheduler(
	handler Handler,
	engine EventScheduler,
	clock Clock,
) *TickScheduler {
	period := clock.Period()
	if period == 0 {
		panic("tick period must be positive")
	}

	origin := engine.CurrentTime()

	return &TickScheduler{
		handler:      handler,
		Engine:       engine,
		period:       period,
		origin:       origin,
		localTick:    origin,
		pendingTicks: make(map[VTimeInCycle]struct{}),
	}
}

// Period returns the number of global ticks in one cycle.
func (t *TickScheduler) Period() VTimeInCycle {
	return t.period
}

// LocalTick returns the last clock edge the scheduler has been at.
func (t *TickScheduler) LocalTick() VTimeInCycle {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.localTick
}

// ThisTick returns the earliest clock edge that is not earlier than now.
func (t *TickScheduler) ThisTick(now VTimeInCycle) VTimeInCycle {
	if now <= t.origin {
		return t.origin
	}

	cycles := (now - t.origin + t.period - 1) / t.period

	return t.origin + cycles*t.period
}

// NextTick returns the earliest clock edge that is later than now.
func (t *TickScheduler) NextTick(now VTimeInCycle) VTimeInCycle {
	if now < t.origin {
		return t.origin
	}

	cycles := (now-t.origin)/t.period + 1

	return t.origin + cycles*t.period
}

// Reset realigns the clock so that its edges start from origin. Ticks that are
// already scheduled are not affected.
func (t *TickScheduler) Reset(origin VTimeInCycle) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.origin = origin
	t.localTick = origin
}

// TickNow schedule a Tick event at the current time, or at the first clock
// edge after it if the current time is not on an edge.
func (t *TickScheduler) TickNow() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.scheduleTickAt(t.ThisTick(t.Engine.CurrentTime()))
}

// TickLater will schedule a tick event at the cycle after the now time.
func (t *TickScheduler) TickLater() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.scheduleTickAt(t.NextTick(t.Engine.CurrentTime()))
}

// TickAfter schedules a tick n cycles after the local clock.
func (t *TickScheduler) TickAfter(n uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.scheduleTickAt(t.relativeTime(n))
}

// TickAt schedules a tick at the first clock edge that is not earlier than t.
func (t *TickScheduler) TickAt(at VTimeInCycle) {
	t.lock.Lock()
	defer t.lock.Unlock()

	now := t.Engine.CurrentTime()
	if at < now {
		at = now
	}

	t.scheduleTickAt(t.ThisTick(at))
}

// ScheduleRelative schedules an event n cycles after the local clock. The
// build function receives the absolute time of the event.
func (t *TickScheduler) ScheduleRelative(
	n uint64,
	build func(at VTimeInCycle) Event,
) *EventHandle {
	t.lock.Lock()
	at := t.relativeTime(n)
	t.lock.Unlock()

	h, err := t.Engine.Schedule(build(at))
	if err != nil {
		panic(err)
	}

	return h
}

func (t *TickScheduler) relativeTime(n uint64) VTimeInCycle {
	edge := t.ThisTick(t.Engine.CurrentTime())
	if edge > t.localTick {
		t.localTick = edge
	}

	return t.localTick + VTimeInCycle(n)*t.period
}

func (t *TickScheduler) scheduleTickAt(at VTimeInCycle) {
	if _, pending := t.pendingTicks[at]; pending {
		return
	}

	t.pendingTicks[at] = struct{}{}

	_, err := t.Engine.Schedule(MakeTickEvent(t.handler, at))
	if err != nil {
		panic(err)
	}
}

// tickArrived records that the tick at the given time is being handled.
func (t *TickScheduler) tickArrived(at VTimeInCycle) {
	t.lock.Lock()
	defer t.lock.Unlock()

	delete(t.pendingTicks, at)
	t.localTick = at
}

// CurrentTime returns the current global time.
func (t *TickScheduler) CurrentTime() VTimeInCycle {
	return t.Engine.CurrentTime()
}

// TickingComponent is a type of component that update states from cycle to
// cycle. A programmer would only need to program a tick function for a ticking
// component.
type TickingComponent struct {
	*ComponentBase
	*TickScheduler

	ticker Ticker
}

// NotifyPortFree triggers the TickingComponent to start ticking again.
func (c *TickingComponent) NotifyPortFree(_ Port) {
	c.TickLater()
}

// NotifyRecv triggers the TickingComponent to start ticking again.
func (c *TickingComponent) NotifyRecv(_ Port) {
	c.TickLater()
}

// Handle triggers the tick function of the TickingComponent
func (c *TickingComponent) Handle(e Event) error {
	c.tickArrived(e.Time())

	madeProgress := c.ticker.Tick()
	if madeProgress {
		c.TickLater()
	}

	return nil
}

// NewTickingComponent creates a new ticking component
func NewTickingComponent(
	name string,
	engine EventScheduler,
	clock Clock,
	ticker Ticker,
) *TickingComponent {
	tc := new(TickingComponent)
	tc.TickScheduler = NewTickScheduler(tc, engine, clock)
	tc.ComponentBase = NewComponentBase(name)
	tc.ticker = ticker

	return tc
}
