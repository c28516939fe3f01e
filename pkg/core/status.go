package core

// StepStatus represents the execution status of a sequence step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Device command or check failed
	StatusErrored                   // Unexpected error (local I/O, decode, timeout)
	StatusSkipped                   // Not reached because an earlier step aborted the sequence
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status indicates success
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed
}

// StatusFor maps a step error to its terminal status.
// Command and connection failures are StatusFailed; anything else is StatusErrored.
func StatusFor(err error) StepStatus {
	if err == nil {
		return StatusPassed
	}
	switch CategoryOf(err) {
	case ErrCategoryCommand, ErrCategoryConnection:
		return StatusFailed
	default:
		return StatusErrored
	}
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryCommand                         // Device command exited non-zero or produced unusable output
	ErrCategoryConnection                      // Bridge binary or device missing
	ErrCategoryImage                           // Screenshot/template decode or match precondition
	ErrCategoryIO                              // Local file transfer, merge, read
	ErrCategoryTimeout                         // Readiness wait timed out
	ErrCategoryConfig                          // Invalid configuration, missing required field
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryCommand:
		return "command"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryImage:
		return "image"
	case ErrCategoryIO:
		return "io"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
