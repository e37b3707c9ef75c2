package sim

import (
	"fmt"
	"strings"
)

// InvalidScheduleError is returned when an event is scheduled into the past.
type InvalidScheduleError struct {
	EventType string
	EventTime VTimeInCycle
	Now       VTimeInCycle
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf(
		"sim: cannot schedule event in the past, evt %s @ %d, now %d",
		e.EventType, e.EventTime, e.Now,
	)
}

// InvariantViolation describes a broken simulation invariant. It is raised
// with panic and must never be recovered by the simulation itself.
type InvariantViolation struct {
	Kind       string
	Time       VTimeInCycle
	Address    uint64
	Components []string
	Detail     string
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf(
		"invariant violation [%s] @ tick %d, addr 0x%x, components [%s]: %s",
		v.Kind, v.Time, v.Address, strings.Join(v.Components, ", "), v.Detail,
	)
}
