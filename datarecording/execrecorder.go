package datarecording

import (
	"os"
	"strings"
	"time"
)

const execTableName = "exec_info"

type execInfo struct {
	Property string
	Value    string
}

// ExecRecorder records how the simulator was launched.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []execInfo
}

// NewExecRecorder creates an ExecRecorder that writes into the recorder.
func NewExecRecorder(recorder DataRecorder) (*ExecRecorder, error) {
	if err := recorder.CreateTable(execTableName, execInfo{}); err != nil {
		return nil, err
	}

	return &ExecRecorder{recorder: recorder}, nil
}

func timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05.000000000")
}

// Start records the start time, the command, and the working directory.
func (e *ExecRecorder) Start() {
	e.entries = append(e.entries,
		execInfo{"Start Time", timestamp()},
		execInfo{"Command", strings.Join(os.Args, " ")},
	)

	if cwd, err := os.Getwd(); err == nil {
		e.entries = append(e.entries, execInfo{"Working Directory", cwd})
	}
}

// End writes the records along with the end time.
func (e *ExecRecorder) End() error {
	e.entries = append(e.entries, execInfo{"End Time", timestamp()})

	for _, entry := range e.entries {
		e.recorder.InsertData(execTableName, entry)
	}

	e.entries = nil

	return e.recorder.Flush()
}
