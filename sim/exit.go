package sim

// Exit causes produced by the simulation core. The strings are part of the
// stable interface; drivers pattern-match on them.
const (
	// ExitCauseHorizon is returned when RunUntil reaches its horizon.
	ExitCauseHorizon = "simulate() limit reached"

	// ExitCauseQueueEmpty is returned when there is no event left.
	ExitCauseQueueEmpty = "event queue empty"

	// ExitCauseMagicExit is requested by a committed magic exit instruction.
	ExitCauseMagicExit = "m5_exit instruction encountered"

	// ExitCauseWorkBegin is requested at the start of a work item.
	ExitCauseWorkBegin = "workbegin"

	// ExitCauseWorkEnd is requested at the end of a work item.
	ExitCauseWorkEnd = "workend"

	// ExitCauseLoopPoint is requested when a loop point is reached.
	ExitCauseLoopPoint = "simpoint starting point found"

	// ExitCauseLastThread is requested when the last running core halts.
	ExitCauseLastThread = "exiting with last active thread context"
)

// ExitEvent is the record returned by the run loop. It is never kept inside
// the simulation after being returned.
type ExitEvent struct {
	Cause string
	Time  VTimeInCycle
}

// exitRequestEvent stops the run loop when handled.
type exitRequestEvent struct {
	*EventBase
	cause string
}
