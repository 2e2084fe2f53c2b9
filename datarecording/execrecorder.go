package datarecording

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
)

// ExecTable is the table that holds run information.
const ExecTable = "exec_info"

const timeFormat = "2006-01-02 15:04:05.000000000"

// ExecInfo is one property of a run.
type ExecInfo struct {
	Property string
	Value    string
}

// An ExecRecorder records how and when a run happened.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []ExecInfo
}

// NewExecRecorder creates the run information table in recorder.
func NewExecRecorder(recorder DataRecorder) *ExecRecorder {
	recorder.CreateTable(ExecTable, ExecInfo{})

	return &ExecRecorder{recorder: recorder}
}

// Start records the run ID, the start time, the command and the working
// directory.
func (e *ExecRecorder) Start() {
	e.Set("Run ID", xid.New().String())
	e.Set("Start Time", time.Now().Format(timeFormat))
	e.Set("Command", strings.Join(os.Args, " "))

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "unknown"
	}

	e.Set("Working Directory", cwd)
}

// Set adds a property.
func (e *ExecRecorder) Set(property, value string) {
	e.entries = append(e.entries, ExecInfo{Property: property, Value: value})
}

// End writes the properties along with the end time and the exit code.
func (e *ExecRecorder) End(exitCode int) {
	e.Set("End Time", time.Now().Format(timeFormat))
	e.Set("Exit Code", strconv.Itoa(exitCode))

	for _, entry := range e.entries {
		e.recorder.InsertData(ExecTable, entry)
	}

	e.entries = nil

	e.recorder.Flush()
}
