package sim

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTimeInCycle
}

// EventScheduler can be used to schedule future events.
type EventScheduler interface {
	TimeTeller

	// Schedule registers an event. It fails with an *InvalidScheduleError if
	// the event time is earlier than the current time.
	Schedule(e Event) (*EventHandle, error)

	// Cancel makes a scheduled event inert. The event stays in the queue and
	// is popped as a no-op at its time.
	Cancel(h *EventHandle)
}

// ExitRequester is implemented by anything that can stop the run loop.
type ExitRequester interface {
	// RequestExit asks the run loop to return at the current tick with the
	// given cause.
	RequestExit(cause string)
}

// An Engine is a unit that keeps the discrete event simulation run.
type Engine interface {
	Hookable
	EventScheduler
	ExitRequester

	// RunUntil processes events until the queue is empty, the next event is
	// later than the horizon, or an exit is requested. It can be called again
	// to resume from where it stopped.
	RunUntil(horizon VTimeInCycle) ExitEvent

	// Run is RunUntil without a horizon.
	Run() ExitEvent

	// Pause will pause the simulation until continue is called.
	Pause()

	// Continue will continue the paused simulation
	Continue()
}
