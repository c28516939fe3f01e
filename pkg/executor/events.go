package executor

import (
	"github.com/devicelab-dev/hap-runner/pkg/core"
)

// Event is sent by the runner while the sequence executes.
type Event interface {
	event()
}

// OutputEvent is one line of progress or device command output.
type OutputEvent struct {
	Line string
}

// StepEvent reports a step starting (StatusRunning) or finishing.
type StepEvent struct {
	Index  int
	Step   string
	Status core.StepStatus
	Err    error
}

// ResultEvent carries the result of a completed sequence.
type ResultEvent struct {
	Result *RunResult
}

// ErrorEvent reports why the sequence aborted. No ResultEvent follows.
type ErrorEvent struct {
	Err error
}

func (OutputEvent) event() {}
func (StepEvent) event()   {}
func (ResultEvent) event() {}
func (ErrorEvent) event()  {}
