package sim

// A HookPos names a point in the simulation where hooks are triggered.
// Positions are compared by pointer.
type HookPos struct {
	Name string
}

// Positions triggered by an engine around every event. The item is the event.
var (
	HookPosBeforeEvent = &HookPos{Name: "BeforeEvent"}
	HookPosAfterEvent  = &HookPos{Name: "AfterEvent"}
)

// HookCtx describes the site where a hook is triggered. Domain is the object
// that triggers it. Item is what is being processed there, and Detail holds
// anything else the position defines.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// A Hook observes a Hookable. It must not change the simulated state.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// Hookable is an object that hooks can be attached to.
type Hookable interface {
	AcceptHook(hook Hook)
	NumHooks() int
	Hooks() []Hook
}

// A HookableBase can be embedded to implement Hookable. Hooks are triggered
// in the order they are accepted.
type HookableBase struct {
	hooks []Hook
}

func (h *HookableBase) AcceptHook(hook Hook) {
	h.hooks = append(h.hooks, hook)
}

func (h *HookableBase) NumHooks() int {
	return len(h.hooks)
}

func (h *HookableBase) Hooks() []Hook {
	return h.hooks
}

// InvokeHook triggers every hook with the context.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hooks {
		hook.Func(ctx)
	}
}
