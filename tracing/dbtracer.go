package tracing

import (
	"sync"

	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/sim"
	"github.com/tebeka/atexit"
)

const (
	traceTableName = "trace"
	stepTableName  = "trace_step"
)

type taskTableEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime uint64
	EndTime   uint64
}

type stepTableEntry struct {
	TaskID string
	Time   uint64
	What   string
}

// DBTracer is a tracer that stores the completed tasks into a DataRecorder.
type DBTracer struct {
	lock       sync.Mutex
	timeTeller sim.TimeTeller
	backend    datarecording.DataRecorder

	startTime, endTime sim.VTimeInCycle

	tracingTasks map[string]Task
}

// NewDBTracer creates a new DBTracer.
func NewDBTracer(
	timeTeller sim.TimeTeller,
	dataRecorder datarecording.DataRecorder,
) (*DBTracer, error) {
	err := dataRecorder.CreateTable(traceTableName, taskTableEntry{})
	if err != nil {
		return nil, err
	}

	err = dataRecorder.CreateTable(stepTableName, stepTableEntry{})
	if err != nil {
		return nil, err
	}

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]Task),
	}

	atexit.Register(func() { _ = t.Terminate() })

	return t, nil
}

// SetTimeRange limits the tracer to the tasks that overlap with the range.
// An end time of 0 means no limit.
func (t *DBTracer) SetTimeRange(startTime, endTime sim.VTimeInCycle) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	task.StartTime = t.timeTeller.CurrentTime()
	if t.endTime > 0 && task.StartTime > t.endTime {
		return
	}

	t.tracingTasks[task.ID] = task
}

// StepTask adds the milestones of the task. They are written with the task.
func (t *DBTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	now := t.timeTeller.CurrentTime()
	for _, step := range task.Steps {
		step.Time = now
		original.Steps = append(original.Steps, step)
	}

	t.tracingTasks[task.ID] = original
}

// EndTask marks the end of a task and writes it.
func (t *DBTracer) EndTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	endTime := t.timeTeller.CurrentTime()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	if endTime < t.startTime {
		return
	}

	t.backend.InsertData(traceTableName, taskTableEntry{
		ID:        originalTask.ID,
		ParentID:  originalTask.ParentID,
		Kind:      originalTask.Kind,
		What:      originalTask.What,
		Location:  originalTask.Location,
		StartTime: uint64(originalTask.StartTime),
		EndTime:   uint64(endTime),
	})

	for _, step := range originalTask.Steps {
		t.backend.InsertData(stepTableName, stepTableEntry{
			TaskID: originalTask.ID,
			Time:   uint64(step.Time),
			What:   step.What,
		})
	}
}

// NumTasksInFlight returns the number of tasks started but not ended.
func (t *DBTracer) NumTasksInFlight() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.tracingTasks)
}

// Terminate drops the unfinished tasks and flushes the recorder.
func (t *DBTracer) Terminate() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.tracingTasks = make(map[string]Task)

	return t.backend.Flush()
}
