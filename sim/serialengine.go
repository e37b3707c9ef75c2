package sim

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// A SerialEngine is an Engine that always run events one after another.
type SerialEngine struct {
	HookableBase

	timeLock sync.RWMutex
	time     VTimeInCycle
	nextSeq  uint64
	queue    EventQueue

	exitLock     sync.Mutex
	pendingExits []*EventHandle
	exitRecord   *ExitEvent

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex
}

// NewSerialEngine creates a SerialEngine
func NewSerialEngine() *SerialEngine {
	e := new(SerialEngine)
	e.queue = NewEventQueue()

	return e
}

// Schedule register an event to be happen in the future
func (e *SerialEngine) Schedule(evt Event) (*EventHandle, error) {
	now := e.readNow()
	if evt.Time() < now {
		return nil, &InvalidScheduleError{
			EventType: reflect.TypeOf(evt).String(),
			EventTime: evt.Time(),
			Now:       now,
		}
	}

	h := &EventHandle{
		evt: evt,
		seq: atomic.AddUint64(&e.nextSeq, 1),
	}
	e.queue.Push(h)

	return h, nil
}

// Cancel marks the event inert.
func (e *SerialEngine) Cancel(h *EventHandle) {
	if h == nil {
		return
	}

	h.cancelled = true
}

// RequestExit schedules an exit event at the current time. The exit event
// runs after the events that are already scheduled at the same time.
func (e *SerialEngine) RequestExit(cause string) {
	evt := &exitRequestEvent{
		EventBase: NewEventBase(e.readNow(), e),
		cause:     cause,
	}

	h, err := e.Schedule(evt)
	if err != nil {
		panic(err)
	}

	e.exitLock.Lock()
	e.pendingExits = append(e.pendingExits, h)
	e.exitLock.Unlock()
}

// Handle handles the exit events that the engine schedules for itself.
func (e *SerialEngine) Handle(evt Event) error {
	exitEvt, ok := evt.(*exitRequestEvent)
	if !ok {
		return fmt.Errorf("engine cannot handle %s", reflect.TypeOf(evt))
	}

	e.exitLock.Lock()
	defer e.exitLock.Unlock()

	// The first requester wins; later requests at the same tick are dropped.
	for _, h := range e.pendingExits {
		if h.evt != evt {
			h.cancelled = true
		}
	}

	e.pendingExits = nil
	e.exitRecord = &ExitEvent{
		Cause: exitEvt.cause,
		Time:  exitEvt.Time(),
	}

	return nil
}

func (e *SerialEngine) readNow() VTimeInCycle {
	e.timeLock.RLock()
	t := e.time
	e.timeLock.RUnlock()

	return t
}

func (e *SerialEngine) writeNow(t VTimeInCycle) {
	e.timeLock.Lock()
	e.time = t
	e.timeLock.Unlock()
}

// Run processes all the events scheduled in the SerialEngine
func (e *SerialEngine) Run() ExitEvent {
	return e.RunUntil(MaxTime)
}

// RunUntil processes the events no later than the horizon.
func (e *SerialEngine) RunUntil(horizon VTimeInCycle) ExitEvent {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	for {
		e.pauseLock.Lock()

		h := e.queue.Peek()
		if h == nil {
			e.pauseLock.Unlock()
			return ExitEvent{Cause: ExitCauseQueueEmpty, Time: e.readNow()}
		}

		if h.evt.Time() > horizon {
			now := e.readNow()
			if horizon > now {
				e.writeNow(horizon)
				now = horizon
			}

			e.pauseLock.Unlock()

			return ExitEvent{Cause: ExitCauseHorizon, Time: now}
		}

		e.queue.Pop()
		e.process(h)
		e.pauseLock.Unlock()

		if rec := e.takeExitRecord(); rec != nil {
			return *rec
		}
	}
}

func (e *SerialEngine) process(h *EventHandle) {
	evt := h.evt
	now := e.readNow()

	if evt.Time() < now {
		panic(&InvariantViolation{
			Kind: "negative-time",
			Time: now,
			Detail: fmt.Sprintf("cannot run event %s @ %d",
				reflect.TypeOf(evt), evt.Time()),
		})
	}

	e.writeNow(evt.Time())

	if h.cancelled {
		return
	}

	hookCtx := HookCtx{
		Domain: e,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	e.InvokeHook(hookCtx)

	err := evt.Handler().Handle(evt)
	if err != nil {
		panic(fmt.Errorf("sim: handling %s @ %d: %w",
			reflect.TypeOf(evt), evt.Time(), err))
	}

	hookCtx.Pos = HookPosAfterEvent
	e.InvokeHook(hookCtx)
}

func (e *SerialEngine) takeExitRecord() *ExitEvent {
	e.exitLock.Lock()
	defer e.exitLock.Unlock()

	rec := e.exitRecord
	e.exitRecord = nil

	return rec
}

// Pause prevents the SerialEngine to trigger more events.
func (e *SerialEngine) Pause() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if e.isPaused {
		return
	}

	e.pauseLock.Lock()
	e.isPaused = true
}

// Continue allows the SerialEngine to trigger more events.
func (e *SerialEngine) Continue() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if !e.isPaused {
		return
	}

	e.pauseLock.Unlock()
	e.isPaused = false
}

// CurrentTime returns the current time at which the engine is at.
// Specifically, the run time of the current event.
func (e *SerialEngine) CurrentTime() VTimeInCycle {
	return e.readNow()
}

// PendingEvents returns the number of entries in the queue, including the
// cancelled ones that have not been popped yet.
func (e *SerialEngine) PendingEvents() int {
	return e.queue.Len()
}
