package sim

import (
	"container/heap"
	"sync"
)

// An EventHandle refers to an event that has been scheduled. It is the only
// way to cancel the event.
type EventHandle struct {
	evt       Event
	seq       uint64
	cancelled bool
}

// Event returns the scheduled event.
func (h *EventHandle) Event() Event {
	return h.evt
}

// Seq returns the sequence number assigned at scheduling time. Events at the
// same tick run in ascending sequence order.
func (h *EventHandle) Seq() uint64 {
	return h.seq
}

// Cancelled tells if the event has been made inert.
func (h *EventHandle) Cancelled() bool {
	return h.cancelled
}

// EventQueue are a queue of event ordered by the time and the sequence number
// of events
type EventQueue interface {
	Push(h *EventHandle)
	Pop() *EventHandle
	Len() int
	Peek() *EventHandle
}

// EventQueueImpl provides a thread safe event queue
type EventQueueImpl struct {
	sync.Mutex
	events eventHeap
}

// NewEventQueue creates and returns a newly created EventQueue
func NewEventQueue() *EventQueueImpl {
	q := new(EventQueueImpl)
	q.events = make([]*EventHandle, 0)
	heap.Init(&q.events)

	return q
}

// Push adds an event to the event queue
func (q *EventQueueImpl) Push(h *EventHandle) {
	q.Lock()
	heap.Push(&q.events, h)
	q.Unlock()
}

// Pop returns the next earliest event
func (q *EventQueueImpl) Pop() *EventHandle {
	q.Lock()
	defer q.Unlock()

	if q.events.Len() == 0 {
		return nil
	}

	return heap.Pop(&q.events).(*EventHandle)
}

// Len returns the number of event in the queue
func (q *EventQueueImpl) Len() int {
	q.Lock()
	l := q.events.Len()
	q.Unlock()

	return l
}

// Peek returns the event in front of the queue without removing it from the
// queue
func (q *EventQueueImpl) Peek() *EventHandle {
	q.Lock()
	defer q.Unlock()

	if q.events.Len() == 0 {
		return nil
	}

	return q.events[0]
}

type eventHeap []*EventHandle

// Len returns the length of the event queue
func (h eventHeap) Len() int {
	return len(h)
}

// Less determines the order between two events. Less returns true if the i-th
// event happens before the j-th event. Same-time events keep their scheduling
// order.
func (h eventHeap) Less(i, j int) bool {
	ti, tj := h[i].evt.Time(), h[j].evt.Time()
	if ti != tj {
		return ti < tj
	}

	return h[i].seq < h[j].seq
}

// Swap changes the position of two events in the event queue
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

// Push adds an event into the event queue
func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*EventHandle))
}

// Pop removes and returns the next event to happen
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	event := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]

	return event
}
