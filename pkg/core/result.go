package core

import (
	"time"
)

// StepResult captures the outcome of a single step of the automation sequence
type StepResult struct {
	// Identity
	Index int    `json:"index"` // 0-based position in the sequence
	Name  string `json:"name"`  // install_a, launch_a, screenshot, ...

	// Status
	Status   StepStatus    `json:"status"`
	Category ErrorCategory `json:"errorCategory,omitempty"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Output
	Message string `json:"message,omitempty"` // Human-readable explanation
	Error   string `json:"error,omitempty"`   // Technical error message

	// Files produced by the step
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SequenceResult captures the outcome of one run of the automation sequence
type SequenceResult struct {
	// Identity
	RunID string `json:"runId"`

	// Status (aggregated from steps)
	Status StepStatus `json:"status"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Results
	Steps []StepResult `json:"steps"`

	// Summary (computed)
	TotalSteps   int `json:"totalSteps"`
	PassedSteps  int `json:"passedSteps"`
	FailedSteps  int `json:"failedSteps"`
	SkippedSteps int `json:"skippedSteps"`

	// Error info (if the sequence aborted)
	Error string `json:"error,omitempty"`
}

// ComputeSummary calculates step counts from the Steps slice
func (r *SequenceResult) ComputeSummary() {
	r.TotalSteps = len(r.Steps)
	r.PassedSteps = 0
	r.FailedSteps = 0
	r.SkippedSteps = 0

	for _, step := range r.Steps {
		switch step.Status {
		case StatusPassed:
			r.PassedSteps++
		case StatusFailed, StatusErrored:
			r.FailedSteps++
		case StatusSkipped:
			r.SkippedSteps++
		}
	}
}

// AggregateStatus determines the sequence status from step results.
// Any failed/errored step fails the sequence; an empty sequence is pending.
func (r *SequenceResult) AggregateStatus() StepStatus {
	if len(r.Steps) == 0 {
		return StatusPending
	}
	for _, step := range r.Steps {
		if step.Status == StatusFailed || step.Status == StatusErrored {
			return StatusFailed
		}
	}
	for _, step := range r.Steps {
		if !step.Status.IsTerminal() {
			return StatusRunning
		}
	}
	return StatusPassed
}
