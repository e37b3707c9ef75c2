package tracing

import (
	"fmt"

	"github.com/sarchlab/cohsim/sim"
)

// NamedHookable is a domain whose tasks can be traced.
type NamedHookable interface {
	sim.Named
	sim.Hookable
	InvokeHook(sim.HookCtx)
}

// The hook positions of task tracing. The item is a Task.
var (
	HookPosTaskStart = &sim.HookPos{Name: "TaskStart"}
	HookPosTaskStep  = &sim.HookPos{Name: "TaskStep"}
	HookPosTaskEnd   = &sim.HookPos{Name: "TaskEnd"}
)

// The kinds of the tasks that follow a message. A req_out task lives at the
// sender from the send to the response. A req_in task lives at the receiver
// while it handles the message.
const (
	KindReqOut = "req_out"
	KindReqIn  = "req_in"
)

func invoke(domain NamedHookable, pos *sim.HookPos, task Task) {
	domain.InvokeHook(sim.HookCtx{Domain: domain, Pos: pos, Item: task})
}

// StartTask tells the tracers of the domain that a task starts. The task is
// located at the domain. It panics if the id, the kind, the description, or
// the name of the domain is empty.
func StartTask(
	id string,
	parentID string,
	domain NamedHookable,
	kind string,
	what string,
	detail any,
) {
	if domain == nil {
		panic("tracing: task " + id + " has no domain")
	}

	if domain.NumHooks() == 0 {
		return
	}

	task := Task{
		ID:       id,
		ParentID: parentID,
		Kind:     kind,
		What:     what,
		Location: domain.Name(),
		Detail:   detail,
	}

	for field, v := range map[string]string{
		"id": task.ID, "kind": task.Kind, "what": task.What,
		"location": task.Location,
	} {
		if v == "" {
			panic(fmt.Sprintf("tracing: task %q has an empty %s", id, field))
		}
	}

	invoke(domain, HookPosTaskStart, task)
}

// AddTaskStep marks that a task reaches a milestone.
func AddTaskStep(id string, domain NamedHookable, what string) {
	if domain.NumHooks() == 0 {
		return
	}

	invoke(domain, HookPosTaskStep, Task{
		ID:    id,
		Steps: []TaskStep{{What: what}},
	})
}

// EndTask tells the tracers of the domain that a task ends.
func EndTask(id string, domain NamedHookable) {
	if domain.NumHooks() == 0 {
		return
	}

	invoke(domain, HookPosTaskEnd, Task{ID: id})
}

// MsgIDAtReceiver returns the id of the req_in task of a message.
func MsgIDAtReceiver(msg sim.Msg, domain NamedHookable) string {
	return msg.Meta().ID + "@" + domain.Name()
}

func reqOutID(msg sim.Msg) string {
	return msg.Meta().ID + "_" + KindReqOut
}

// TraceReqInitiate starts the req_out task of a message at its sender.
func TraceReqInitiate(msg sim.Msg, domain NamedHookable, parentID string) {
	StartTask(reqOutID(msg), parentID, domain, KindReqOut,
		fmt.Sprintf("%T", msg), msg)
}

// TraceReqReceive starts the req_in task of a message at its receiver.
func TraceReqReceive(msg sim.Msg, domain NamedHookable) {
	StartTask(MsgIDAtReceiver(msg, domain), reqOutID(msg), domain, KindReqIn,
		fmt.Sprintf("%T", msg), msg)
}

// TraceReqComplete ends the req_in task of a message.
func TraceReqComplete(msg sim.Msg, domain NamedHookable) {
	EndTask(MsgIDAtReceiver(msg, domain), domain)
}

// TraceReqFinalize ends the req_out task of a message once the sender gets
// the response.
func TraceReqFinalize(msg sim.Msg, domain NamedHookable) {
	EndTask(reqOutID(msg), domain)
}
