// Package executor runs the automation sequence against a device, connecting
// the bridge to the locator, the classifier and the run report.
package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/hap-runner/pkg/classifier"
	"github.com/devicelab-dev/hap-runner/pkg/config"
	"github.com/devicelab-dev/hap-runner/pkg/core"
	"github.com/devicelab-dev/hap-runner/pkg/device"
	"github.com/devicelab-dev/hap-runner/pkg/history"
	"github.com/devicelab-dev/hap-runner/pkg/locator"
	"github.com/devicelab-dev/hap-runner/pkg/logger"
	"github.com/devicelab-dev/hap-runner/pkg/readiness"
	"github.com/devicelab-dev/hap-runner/pkg/report"
)

// Recorder stores finished runs.
type Recorder interface {
	Record(ctx context.Context, r history.Run) error
}

// RunnerConfig configures the automation runner.
type RunnerConfig struct {
	Config    *config.Config // apps, template, logs, markers, delays
	OutputDir string         // snapshot, logs and report.json

	// Waiters override the settle and log waits built from Config.
	Settle    readiness.Waiter
	LogsReady readiness.Waiter

	// Events receives progress. The receiver must drain it until Run
	// returns; RunAsync closes it.
	Events chan Event

	// EchoOutput forwards the stdout of each finished command as an
	// OutputEvent. Leave it off when the executor already streams lines.
	EchoOutput bool

	// Recorder, when set, stores the verdict of every run.
	Recorder Recorder

	// ResolvePath locates HAP and template files. Defaults to
	// config.ResolveResource.
	ResolvePath func(string) string

	// Report metadata
	Device        report.Device
	RunnerVersion string
}

// RunResult contains the outcome of a completed sequence.
type RunResult struct {
	core.SequenceResult

	Match       locator.Result    // located permission button
	Report      classifier.Report // failure lines from the merged logs
	LogText     string            // merged log contents
	Screenshot  string            // local snapshot path
	CombinedLog string            // merged log path
	ReportPath  string            // report.json
}

// Passed reports whether the logs contained no failure markers.
func (r *RunResult) Passed() bool {
	return r.Report.AllPassed()
}

// Runner executes the automation sequence.
type Runner struct {
	config RunnerConfig
	exec   device.Executor
}

// New creates a new Runner.
func New(exec device.Executor, cfg RunnerConfig) *Runner {
	if cfg.ResolvePath == nil {
		cfg.ResolvePath = config.ResolveResource
	}
	return &Runner{
		config: cfg,
		exec:   exec,
	}
}

// Run executes the sequence once. The first failing step aborts it: Run
// then sends an ErrorEvent and returns the error with a nil result.
// report.json and the history record are written either way.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	cfg := r.config.Config
	if cfg == nil {
		err := core.ErrMissingRequired.WithMessage("runner needs a configuration")
		r.emit(ErrorEvent{Err: err})
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		r.emit(ErrorEvent{Err: err})
		return nil, err
	}
	if err := os.MkdirAll(r.config.OutputDir, 0o755); err != nil {
		err = core.ErrIO.WithCause(err).WithMessage("create output dir")
		r.emit(ErrorEvent{Err: err})
		return nil, err
	}

	runID := uuid.NewString()
	index := report.BuildSkeleton(StepNames, report.BuilderConfig{
		RunID:  runID,
		Device: r.config.Device,
		Apps: []report.App{
			{HAP: cfg.Primary.HAP, Bundle: cfg.Primary.Bundle, Ability: cfg.Primary.Ability},
			{HAP: cfg.Secondary.HAP, Bundle: cfg.Secondary.Bundle, Ability: cfg.Secondary.Ability},
		},
		RunnerVersion: r.config.RunnerVersion,
	})
	if err := report.WriteSkeleton(r.config.OutputDir, index); err != nil {
		err = core.ErrIO.WithCause(err)
		r.emit(ErrorEvent{Err: err})
		return nil, err
	}
	indexWriter := report.NewIndexWriter(r.config.OutputDir, index)
	indexWriter.Start()

	result := &RunResult{ReportPath: indexWriter.Path()}
	result.RunID = runID
	result.StartTime = time.Now()
	logger.Info("run %s started", runID)

	exec := r.exec
	if r.config.EchoOutput {
		exec = echoExecutor{Executor: exec, emit: r.say}
	}
	s := &sequence{
		ctx:         ctx,
		runner:      r,
		cfg:         cfg,
		bridge:      device.NewBridge(exec),
		exec:        exec,
		indexWriter: indexWriter,
		result:      result,
	}
	err := s.run()

	indexWriter.End(err)
	result.Duration = time.Since(result.StartTime)
	result.ComputeSummary()
	result.Status = result.AggregateStatus()
	if err != nil {
		result.Error = err.Error()
	} else if !result.Report.AllPassed() {
		result.Status = core.StatusFailed
	}

	r.record(ctx, result, indexWriter.GetIndex())

	if err != nil {
		logger.Error("run %s aborted: %v", runID, err)
		r.emit(ErrorEvent{Err: err})
		return nil, err
	}
	logger.Info("run %s finished: %d failure line(s)", runID, result.Report.FailureCount)
	r.emit(ResultEvent{Result: result})
	return result, nil
}

// RunAsync runs the sequence on a new goroutine and returns the events
// channel, which is closed once the sequence has finished.
func (r *Runner) RunAsync(ctx context.Context) <-chan Event {
	if r.config.Events == nil {
		r.config.Events = make(chan Event, 64)
	}
	events := r.config.Events
	go func() {
		defer close(events)
		_, _ = r.Run(ctx)
	}()
	return events
}

func (r *Runner) record(ctx context.Context, result *RunResult, idx report.Index) {
	if r.config.Recorder == nil {
		return
	}
	run := history.Run{
		RunID:        result.RunID,
		StartedAt:    result.StartTime,
		Duration:     result.Duration,
		Target:       r.config.Device.Target,
		Status:       string(idx.Status),
		FailureCount: result.Report.FailureCount,
		FailedLines:  result.Report.FailedLines,
		Error:        result.Error,
		ReportDir:    r.config.OutputDir,
	}
	if idx.Match != nil {
		score := idx.Match.Score
		run.MatchScore = &score
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.config.Recorder.Record(recordCtx, run); err != nil {
		logger.Warn("record run %s: %v", result.RunID, err)
	}
}

func (r *Runner) emit(ev Event) {
	if r.config.Events != nil {
		r.config.Events <- ev
	}
}

// say reports a progress line.
func (r *Runner) say(line string) {
	r.emit(OutputEvent{Line: line})
}

func (r *Runner) sayf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	logger.Info("%s", line)
	r.say(line)
}
