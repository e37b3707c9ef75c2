package sim

import "fmt"

// HookPosBufPush marks when an element is pushed into the buffer.
var HookPosBufPush = &HookPos{Name: "Buffer Push"}

// HookPosBufPop marks when an element is popped from the buffer.
var HookPosBufPop = &HookPos{Name: "Buffer Pop"}

// A Buffer is a bounded FIFO queue. Pushing into a full buffer panics, so
// the producer must check CanPush first.
type Buffer interface {
	Named
	Hookable

	CanPush() bool
	Push(e any)
	Pop() any
	Peek() any
	Capacity() int
	Size() int

	// Clear drops every element.
	Clear()
}

// NewBuffer creates a buffer that holds up to capacity elements.
func NewBuffer(name string, capacity int) Buffer {
	NameMustBeValid(name)

	if capacity <= 0 {
		panic(fmt.Sprintf("buffer %s must have a positive capacity", name))
	}

	return &ringBuffer{
		name:  name,
		slots: make([]any, capacity),
	}
}

// ringBuffer stores the elements in a fixed array. head is the index of the
// oldest element.
type ringBuffer struct {
	HookableBase

	name  string
	slots []any
	head  int
	size  int
}

func (b *ringBuffer) Name() string {
	return b.name
}

func (b *ringBuffer) CanPush() bool {
	return b.size < len(b.slots)
}

func (b *ringBuffer) Push(e any) {
	if !b.CanPush() {
		panic(fmt.Sprintf("buffer %s overflow", b.name))
	}

	b.slots[(b.head+b.size)%len(b.slots)] = e
	b.size++

	b.invoke(HookPosBufPush, e)
}

func (b *ringBuffer) Pop() any {
	if b.size == 0 {
		return nil
	}

	e := b.slots[b.head]
	b.slots[b.head] = nil
	b.head = (b.head + 1) % len(b.slots)
	b.size--

	b.invoke(HookPosBufPop, e)

	return e
}

func (b *ringBuffer) invoke(pos *HookPos, e any) {
	if b.NumHooks() == 0 {
		return
	}

	b.InvokeHook(HookCtx{Domain: b, Pos: pos, Item: e})
}

func (b *ringBuffer) Peek() any {
	if b.size == 0 {
		return nil
	}

	return b.slots[b.head]
}

func (b *ringBuffer) Capacity() int {
	return len(b.slots)
}

func (b *ringBuffer) Size() int {
	return b.size
}

func (b *ringBuffer) Clear() {
	clear(b.slots)
	b.head = 0
	b.size = 0
}
