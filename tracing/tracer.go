package tracing

import (
	"fmt"

	"github.com/sarchlab/cohsim/sim"
)

// A Tracer is told when the tasks of the domains it watches start, make
// progress, and end.
type Tracer interface {
	StartTask(task Task)
	StepTask(task Task)
	EndTask(task Task)
}

// CollectTrace makes the tracer watch the tasks of the domain. A tracer can
// only be attached to a domain once.
func CollectTrace(domain NamedHookable, tracer Tracer) {
	for _, h := range domain.Hooks() {
		if th, ok := h.(*traceHook); ok && th.tracer == tracer {
			panic(fmt.Sprintf("tracer %T already watches %s",
				tracer, domain.Name()))
		}
	}

	domain.AcceptHook(&traceHook{tracer: tracer})
}

// traceHook turns the task hook positions into tracer calls. Other positions
// are ignored.
type traceHook struct {
	tracer Tracer
}

func (h *traceHook) Func(ctx sim.HookCtx) {
	var call func(Task)

	switch ctx.Pos {
	case HookPosTaskStart:
		call = h.tracer.StartTask
	case HookPosTaskStep:
		call = h.tracer.StepTask
	case HookPosTaskEnd:
		call = h.tracer.EndTask
	default:
		return
	}

	task, ok := ctx.Item.(Task)
	if !ok {
		panic(fmt.Sprintf("hook %s carries %T, not a task", ctx.Pos.Name,
			ctx.Item))
	}

	call(task)
}
