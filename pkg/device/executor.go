// Package device runs commands against a HarmonyOS device through the hdc
// device bridge.
package device

import (
	"context"
	"strings"
)

// Result is the captured outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Message returns the most useful text for an error report: stderr if the
// command wrote any, otherwise stdout.
func (r Result) Message() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// Executor runs a command line such as "hdc shell snapshot_display".
//
// A non-nil error means the command could not be run at all; a command that
// ran and failed is reported through Result.ExitCode.
type Executor interface {
	Execute(ctx context.Context, commandLine string) (Result, error)
}

// LineHandler receives command output one line at a time, without the
// trailing newline.
type LineHandler func(line string)
