// Package report writes a JSON report for each automation run.
//
// Layout of the output directory:
//   - report.json: run index, rewritten atomically after every step
//   - snapshot.jpeg, combined_log.log: artifacts referenced by the index
//
// Consumers poll report.json; UpdateSeq increases on every write.
package report

import (
	"errors"
	"time"

	"github.com/devicelab-dev/hap-runner/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// FileName is the index file inside the output directory.
const FileName = "report.json"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusErrored Status = "errored"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusErrored || s == StatusSkipped
}

// FromStepStatus converts a step status.
func FromStepStatus(s core.StepStatus) Status {
	switch s {
	case core.StatusRunning:
		return StatusRunning
	case core.StatusPassed:
		return StatusPassed
	case core.StatusFailed:
		return StatusFailed
	case core.StatusErrored:
		return StatusErrored
	case core.StatusSkipped:
		return StatusSkipped
	default:
		return StatusPending
	}
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the report file for one run.
type Index struct {
	Version        string          `json:"version"`
	RunID          string          `json:"runId"`
	UpdateSeq      uint64          `json:"updateSeq"`
	Status         Status          `json:"status"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        *time.Time      `json:"endTime,omitempty"`
	LastUpdated    time.Time       `json:"lastUpdated"`
	Device         Device          `json:"device"`
	Apps           []App           `json:"apps"`
	HapRunner      RunnerInfo      `json:"hapRunner"`
	Summary        Summary         `json:"summary"`
	Steps          []StepEntry     `json:"steps"`
	Match          *Match          `json:"match,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	Artifacts      Artifacts       `json:"artifacts"`
	Error          *Error          `json:"error,omitempty"`
}

// Device identifies the device the run used.
type Device struct {
	Target string `json:"target,omitempty"` // hdc connect key
	Bridge string `json:"bridge,omitempty"` // hdc binary
}

// App is an application installed by the run.
type App struct {
	HAP     string `json:"hap"`
	Bundle  string `json:"bundle"`
	Ability string `json:"ability"`
}

// RunnerInfo contains hap-runner information.
type RunnerInfo struct {
	Version string `json:"version"`
}

// Summary contains aggregated step counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// StepEntry is one step of the automation sequence.
type StepEntry struct {
	Index     int        `json:"index"`
	Name      string     `json:"name"`
	Status    Status     `json:"status"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Duration  *int64     `json:"duration,omitempty"` // milliseconds
	Message   string     `json:"message,omitempty"`
	Error     *Error     `json:"error,omitempty"`
}

// Match records where the permission button was found.
type Match struct {
	Score float64 `json:"score"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	TapX  int     `json:"tapX"`
	TapY  int     `json:"tapY"`
}

// Classification is the verdict over the merged logs.
type Classification struct {
	AllPassed    bool     `json:"allPassed"`
	FailureCount int      `json:"failureCount"`
	FailedLines  []string `json:"failedLines"`
	Markers      []string `json:"markers"`
}

// Artifacts are paths relative to the output directory.
type Artifacts struct {
	Screenshot  string `json:"screenshot,omitempty"`
	CombinedLog string `json:"combinedLog,omitempty"`
}

// Error contains error details.
type Error struct {
	Type    string `json:"type"` // command, connection, image, io, timeout, config
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewError describes err for the report. A nil err gives nil.
func NewError(err error) *Error {
	if err == nil {
		return nil
	}
	e := &Error{Type: core.CategoryOf(err).String(), Message: err.Error()}
	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		e.Code = ee.Code
	}
	return e
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// StepUpdate contains the fields to update in the index for a step.
type StepUpdate struct {
	Status    Status
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Message   string
	Error     error
}
