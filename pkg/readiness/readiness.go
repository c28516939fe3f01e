// Package readiness decides when the device has caught up with a launched app.
//
// The default Waiter sleeps a fixed delay. A Probe instead polls a device
// command and evaluates a JavaScript predicate against its output.
package readiness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/hap-runner/pkg/core"
	"github.com/devicelab-dev/hap-runner/pkg/device"
	"github.com/devicelab-dev/hap-runner/pkg/jsengine"
	"github.com/devicelab-dev/hap-runner/pkg/logger"
)

// Waiter blocks until the device is ready for the next step.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Delay waits a fixed duration.
type Delay time.Duration

// Wait sleeps for d or until ctx is done.
func (d Delay) Wait(ctx context.Context) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(d))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// String formats the delay like a time.Duration.
func (d Delay) String() string {
	return time.Duration(d).String()
}

// Probe polls Command until Predicate is truthy or Timeout passes.
//
// Command is expanded with ${...} against Vars before each run. Predicate is
// evaluated with output (stdout), stderr and exitCode bound.
type Probe struct {
	Exec      device.Executor
	Command   string
	Predicate string
	Interval  time.Duration
	Timeout   time.Duration
	Vars      map[string]interface{}
}

// DefaultPredicate accepts any successful command with non-empty output.
const DefaultPredicate = "exitCode === 0 && output.trim().length > 0"

// Wait polls until ready. It returns core.ErrReadinessTimeout when Timeout
// passes first; predicate script errors are returned immediately.
func (p *Probe) Wait(ctx context.Context) error {
	if p.Exec == nil || strings.TrimSpace(p.Command) == "" {
		return core.ErrInvalidConfig.WithMessage("readiness probe needs an executor and a command")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	predicate := p.Predicate
	if strings.TrimSpace(predicate) == "" {
		predicate = DefaultPredicate
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	engine := jsengine.New()
	engine.SetVariables(p.Vars)
	command := engine.ExpandVariables(ctx, p.Command)

	start := time.Now()
	for attempt := 1; ; attempt++ {
		res, err := p.Exec.Execute(ctx, command)
		if err != nil {
			if ctx.Err() != nil {
				return p.timeout(ctx, command, attempt, start)
			}
			return err
		}

		engine.SetVariables(map[string]interface{}{
			"output":   res.Stdout,
			"stderr":   res.Stderr,
			"exitCode": res.ExitCode,
		})
		ready, err := engine.EvalBool(ctx, predicate)
		if err != nil {
			if ctx.Err() != nil {
				return p.timeout(ctx, command, attempt, start)
			}
			return core.ErrInvalidConfig.WithCause(err).WithMessage(fmt.Sprintf("readiness predicate %q failed", predicate))
		}
		if ready {
			logger.Debug("ready after %d probe(s), %s: %s", attempt, time.Since(start).Round(time.Millisecond), command)
			return nil
		}

		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return p.timeout(ctx, command, attempt, start)
		}
	}
}

// String describes the probe for logs.
func (p *Probe) String() string {
	return fmt.Sprintf("probe %q", p.Command)
}

func (p *Probe) timeout(ctx context.Context, command string, attempts int, start time.Time) error {
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}
	return core.ErrReadinessTimeout.WithDetails(map[string]interface{}{
		"command":  command,
		"attempts": attempts,
	}).WithMessage(fmt.Sprintf("not ready after %s (%d probes of %q)", time.Since(start).Round(time.Millisecond), attempts, command))
}
