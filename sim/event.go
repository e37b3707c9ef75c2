package sim

// An Event is a unit of work scheduled at a time. It is handled by a single
// Handler, which is the only state it may change directly.
type Event interface {
	Time() VTimeInCycle
	Handler() Handler
}

// A Handler carries out the events scheduled for it.
type Handler interface {
	Handle(e Event) error
}

// EventBase can be embedded to implement Event.
type EventBase struct {
	ID string

	time    VTimeInCycle
	handler Handler
}

// NewEventBase creates an EventBase with a fresh ID.
func NewEventBase(t VTimeInCycle, handler Handler) *EventBase {
	return &EventBase{
		ID:      GetIDGenerator().Generate(),
		time:    t,
		handler: handler,
	}
}

func (e EventBase) Time() VTimeInCycle {
	return e.time
}

func (e EventBase) Handler() Handler {
	return e.handler
}

// A CallbackEvent runs a function when it is handled.
type CallbackEvent struct {
	*EventBase
	fn func()
}

// NewCallbackEvent creates an event that runs fn at time t.
func NewCallbackEvent(t VTimeInCycle, fn func()) *CallbackEvent {
	return &CallbackEvent{
		EventBase: NewEventBase(t, callbackHandler{}),
		fn:        fn,
	}
}

type callbackHandler struct{}

func (callbackHandler) Handle(e Event) error {
	e.(*CallbackEvent).fn()
	return nil
}
