package datarecording

import (
	"os"
	"strings"
	"time"
)

const execTableName = "exec_info"

const timeLayout = "2006-01-02 15:04:05.000000000"

type execInfo struct {
	Property string
	Value    string
}

// An ExecRecorder records how a run was started and when it ended.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []execInfo
}

// NewExecRecorder creates the exec_info table in recorder.
func NewExecRecorder(recorder DataRecorder) *ExecRecorder {
	recorder.CreateTable(execTableName, execInfo{})

	return &ExecRecorder{recorder: recorder}
}

// Start notes the start time, the command line and the working directory.
// Extra properties, such as the configuration of the machine, are recorded
// as given.
func (e *ExecRecorder) Start(properties map[string]string) {
	e.add("Start Time", time.Now().Format(timeLayout))
	e.add("Command", strings.Join(os.Args, " "))

	if wd, err := os.Getwd(); err == nil {
		e.add("Working Directory", wd)
	}

	for k, v := range properties {
		e.add(k, v)
	}
}

// End writes the recorded properties with the end time.
func (e *ExecRecorder) End() {
	e.add("End Time", time.Now().Format(timeLayout))

	for _, entry := range e.entries {
		e.recorder.InsertData(execTableName, entry)
	}

	e.entries = nil

	e.recorder.Flush()
}

func (e *ExecRecorder) add(property, value string) {
	e.entries = append(e.entries, execInfo{Property: property, Value: value})
}
