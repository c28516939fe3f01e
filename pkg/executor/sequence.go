package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/hap-runner/pkg/classifier"
	"github.com/devicelab-dev/hap-runner/pkg/config"
	"github.com/devicelab-dev/hap-runner/pkg/core"
	"github.com/devicelab-dev/hap-runner/pkg/device"
	"github.com/devicelab-dev/hap-runner/pkg/locator"
	"github.com/devicelab-dev/hap-runner/pkg/logger"
	"github.com/devicelab-dev/hap-runner/pkg/readiness"
	"github.com/devicelab-dev/hap-runner/pkg/report"
)

// Step names, in execution order.
const (
	StepInstallPrimary   = "install_primary"
	StepInstallSecondary = "install_secondary"
	StepLaunchPrimary    = "launch_primary"
	StepSettle           = "settle"
	StepScreenshot       = "screenshot"
	StepLocate           = "locate"
	StepTap              = "tap"
	StepLaunchSecondary  = "launch_secondary"
	StepWaitLogs         = "wait_logs"
	StepPullLogs         = "pull_logs"
	StepMergeLogs        = "merge_logs"
	StepClassify         = "classify"
)

// StepNames lists every step of the sequence.
var StepNames = []string{
	StepInstallPrimary,
	StepInstallSecondary,
	StepLaunchPrimary,
	StepSettle,
	StepScreenshot,
	StepLocate,
	StepTap,
	StepLaunchSecondary,
	StepWaitLogs,
	StepPullLogs,
	StepMergeLogs,
	StepClassify,
}

// sequence is the state of one run.
type sequence struct {
	ctx         context.Context
	runner      *Runner
	cfg         *config.Config
	bridge      *device.Bridge
	exec        device.Executor
	indexWriter *report.IndexWriter
	result      *RunResult

	next  int      // index of the next step
	local []string // pulled log copies
}

func (s *sequence) run() error {
	steps := []struct {
		name string
		fn   func() (string, error)
	}{
		{StepInstallPrimary, func() (string, error) { return s.install(s.cfg.Primary) }},
		{StepInstallSecondary, func() (string, error) { return s.install(s.cfg.Secondary) }},
		{StepLaunchPrimary, func() (string, error) { return s.launch(s.cfg.Primary) }},
		{StepSettle, func() (string, error) {
			return s.wait(s.runner.config.Settle, s.cfg.Probes.Settle, s.cfg.Delays.Settle)
		}},
		{StepScreenshot, s.screenshot},
		{StepLocate, s.locate},
		{StepTap, s.tap},
		{StepLaunchSecondary, func() (string, error) { return s.launch(s.cfg.Secondary) }},
		{StepWaitLogs, func() (string, error) {
			return s.wait(s.runner.config.LogsReady, s.cfg.Probes.Logs, s.cfg.Delays.Logs)
		}},
		{StepPullLogs, s.pullLogs},
		{StepMergeLogs, s.mergeLogs},
		{StepClassify, s.classify},
	}

	for _, st := range steps {
		if err := s.step(st.name, st.fn); err != nil {
			return err
		}
	}
	return nil
}

// step runs fn as the next step and records its outcome.
func (s *sequence) step(name string, fn func() (string, error)) error {
	idx := s.next
	s.next++

	start := time.Now()
	s.runner.emit(StepEvent{Index: idx, Step: name, Status: core.StatusRunning})
	s.indexWriter.UpdateStep(idx, report.StepUpdate{Status: report.StatusRunning, StartTime: &start})

	var (
		msg string
		err error
	)
	if err = s.ctx.Err(); err == nil {
		msg, err = fn()
	}

	end := time.Now()
	duration := end.Sub(start)
	ms := duration.Milliseconds()
	status := core.StatusFor(err)

	sr := core.StepResult{
		Index:     idx,
		Name:      name,
		Status:    status,
		Category:  core.CategoryOf(err),
		StartTime: start,
		Duration:  duration,
		Message:   msg,
	}
	if err != nil {
		sr.Error = err.Error()
	}
	switch name {
	case StepScreenshot:
		sr.Attachments = append(sr.Attachments, core.NewScreenshotAttachment(s.result.Screenshot, nil))
	case StepPullLogs:
		for _, p := range s.local {
			sr.Attachments = append(sr.Attachments, core.NewDeviceLogAttachment(p))
		}
	case StepMergeLogs:
		sr.Attachments = append(sr.Attachments, core.NewCombinedLogAttachment(s.result.CombinedLog))
	}
	s.result.Steps = append(s.result.Steps, sr)

	s.indexWriter.UpdateStep(idx, report.StepUpdate{
		Status:   report.FromStepStatus(status),
		EndTime:  &end,
		Duration: &ms,
		Message:  msg,
		Error:    err,
	})
	logger.Debug("step %s: %s in %s", name, status, duration.Round(time.Millisecond))
	s.runner.emit(StepEvent{Index: idx, Step: name, Status: status, Err: err})
	return err
}

func (s *sequence) install(app config.App) (string, error) {
	path := s.runner.config.ResolvePath(app.HAP)
	s.runner.sayf("Installing %s...", path)
	if err := s.bridge.Install(s.ctx, path); err != nil {
		return "", err
	}
	return "installed " + app.Bundle, nil
}

func (s *sequence) launch(app config.App) (string, error) {
	s.runner.sayf("Running %s with ability %s...", app.Bundle, app.Ability)
	if err := s.bridge.StartAbility(s.ctx, app.Bundle, app.Ability); err != nil {
		return "", err
	}
	return "started " + app.Bundle + "/" + app.Ability, nil
}

// wait uses the override waiter, else the configured probe, else the delay.
func (s *sequence) wait(override readiness.Waiter, probe *config.Probe, delay config.Duration) (string, error) {
	w := override
	if w == nil {
		w = waiterFor(s.exec, s.cfg, probe, delay)
	}
	logger.Debug("waiting: %v", w)
	if err := w.Wait(s.ctx); err != nil {
		return "", err
	}
	return fmt.Sprint(w), nil
}

func (s *sequence) screenshot() (string, error) {
	local := s.outputPath(s.cfg.Snapshot)
	s.runner.sayf("Deleting existing snapshots...")
	remote, err := s.bridge.Screenshot(s.ctx, local)
	if err != nil {
		return "", err
	}
	s.result.Screenshot = local
	s.indexWriter.SetArtifacts(report.Artifacts{Screenshot: local})
	return remote + " -> " + local, nil
}

func (s *sequence) locate() (string, error) {
	var opts []locator.Option
	if s.cfg.MinScore != nil {
		opts = append(opts, locator.WithMinScore(*s.cfg.MinScore))
	}
	res, err := locator.LocateFiles(s.result.Screenshot, s.runner.config.ResolvePath(s.cfg.Template), opts...)
	if err != nil {
		return "", err
	}
	s.result.Match = res
	s.indexWriter.SetMatch(report.Match{
		Score: res.Score,
		X:     res.TopLeft.X,
		Y:     res.TopLeft.Y,
		TapX:  res.Tap.X,
		TapY:  res.Tap.Y,
	})
	logger.Info("template matched at %v with score %.4f", res.TopLeft, res.Score)
	return fmt.Sprintf("matched at (%d, %d), score %.4f", res.TopLeft.X, res.TopLeft.Y, res.Score), nil
}

func (s *sequence) tap() (string, error) {
	p := s.result.Match.Tap
	s.runner.sayf("Tapping on screen at coordinates (%d, %d)...", p.X, p.Y)
	if err := s.bridge.Tap(s.ctx, p); err != nil {
		return "", err
	}
	return fmt.Sprintf("tapped (%d, %d)", p.X, p.Y), nil
}

func (s *sequence) pullLogs() (string, error) {
	for _, l := range s.cfg.Logs {
		local := s.outputPath(l.Local)
		if err := s.bridge.Recv(s.ctx, l.Remote, local); err != nil {
			return "", err
		}
		s.local = append(s.local, local)
	}
	return fmt.Sprintf("pulled %d log(s)", len(s.local)), nil
}

func (s *sequence) mergeLogs() (string, error) {
	enc, err := classifier.Encoding(s.cfg.LogEncoding)
	if err != nil {
		return "", err
	}
	combined := s.outputPath(s.cfg.CombinedLog)
	if err := classifier.MergeFiles(combined, enc, s.local...); err != nil {
		return "", err
	}
	s.result.CombinedLog = combined
	s.indexWriter.SetArtifacts(report.Artifacts{Screenshot: s.result.Screenshot, CombinedLog: combined})
	s.runner.sayf("Combined log file saved to %s", combined)

	for _, p := range s.local {
		if err := os.Remove(p); err != nil {
			logger.Warn("remove %s: %v", p, err)
		}
	}
	s.runner.sayf("Individual log files deleted.")

	if err := readiness.Delay(s.cfg.Delays.Merge).Wait(s.ctx); err != nil {
		return "", err
	}
	return "merged into " + combined, nil
}

func (s *sequence) classify() (string, error) {
	c := classifier.New(s.cfg.Markers...)
	rep, text, err := c.ClassifyFile(s.result.CombinedLog)
	if err != nil {
		return "", err
	}
	s.result.Report = rep
	s.result.LogText = text
	s.indexWriter.SetClassification(report.Classification{
		AllPassed:    rep.AllPassed(),
		FailureCount: rep.FailureCount,
		FailedLines:  rep.FailedLines,
		Markers:      c.Markers(),
	})
	return fmt.Sprintf("Number of tests failed: %d", rep.FailureCount), nil
}

func (s *sequence) outputPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.runner.config.OutputDir, name)
}

// waiterFor builds a probe when one is configured, else a fixed delay.
func waiterFor(exec device.Executor, cfg *config.Config, probe *config.Probe, delay config.Duration) readiness.Waiter {
	if probe == nil {
		return readiness.Delay(delay)
	}
	return &readiness.Probe{
		Exec:      exec,
		Command:   probe.Command,
		Predicate: probe.Predicate,
		Interval:  probe.Interval.Std(),
		Timeout:   probe.Timeout.Std(),
		Vars:      cfg.Vars(),
	}
}
