package tracing

import (
	"sync"

	"github.com/sarchlab/cohsim/sim"
)

type latencySummary struct {
	count uint64
	total sim.VTimeInCycle
	max   sim.VTimeInCycle
}

func (s *latencySummary) add(latency sim.VTimeInCycle) {
	s.count++
	s.total += latency
	s.max = max(s.max, latency)
}

// AverageTimeTracer measures how long the tasks selected by a filter take,
// from StartTask to EndTask.
type AverageTimeTracer struct {
	timeTeller sim.TimeTeller
	filter     TaskFilter

	lock    sync.Mutex
	started map[string]sim.VTimeInCycle
	summary latencySummary
}

// NewAverageTimeTracer creates a new AverageTimeTracer.
func NewAverageTimeTracer(
	timeTeller sim.TimeTeller,
	filter TaskFilter,
) *AverageTimeTracer {
	return &AverageTimeTracer{
		timeTeller: timeTeller,
		filter:     filter,
		started:    make(map[string]sim.VTimeInCycle),
	}
}

// AverageTime returns the mean latency of the completed tasks, in ticks.
func (t *AverageTimeTracer) AverageTime() float64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.summary.count == 0 {
		return 0
	}

	return float64(t.summary.total) / float64(t.summary.count)
}

// TotalTime returns the latency summed over the completed tasks.
func (t *AverageTimeTracer) TotalTime() sim.VTimeInCycle {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.summary.total
}

// MaxTime returns the longest latency of a completed task.
func (t *AverageTimeTracer) MaxTime() sim.VTimeInCycle {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.summary.max
}

// TotalCount returns the number of completed tasks.
func (t *AverageTimeTracer) TotalCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.summary.count
}

// Reset forgets the completed tasks. Tasks in flight are still measured.
func (t *AverageTimeTracer) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.summary = latencySummary{}
}

// StartTask starts the clock of a selected task.
func (t *AverageTimeTracer) StartTask(task Task) {
	now := t.timeTeller.CurrentTime()

	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.started[task.ID] = now
	t.lock.Unlock()
}

// StepTask is ignored.
func (t *AverageTimeTracer) StepTask(_ Task) {}

// EndTask stops the clock of the task, if it was started.
func (t *AverageTimeTracer) EndTask(task Task) {
	now := t.timeTeller.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	start, ok := t.started[task.ID]
	if !ok {
		return
	}

	delete(t.started, task.ID)
	t.summary.add(now - start)
}
