package executor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devicelab-dev/hap-runner/pkg/config"
	"github.com/devicelab-dev/hap-runner/pkg/core"
	"github.com/devicelab-dev/hap-runner/pkg/device"
	"github.com/devicelab-dev/hap-runner/pkg/device/mock"
	"github.com/devicelab-dev/hap-runner/pkg/history"
	"github.com/devicelab-dev/hap-runner/pkg/report"
)

const (
	infoLog       = "用例1 成功\n用例2 成功\n"
	automationLog = "用例3 成功\r\n  用例4 失败  \r\n没有找到USB设备\n"
)

// button is placed at this offset in the generated screenshot.
var buttonAt = image.Pt(37, 81)

type fixture struct {
	cfg    *config.Config
	files  map[string][]byte
	outDir string
	tap    image.Point
}

func newFixture(t *testing.T, automation string) *fixture {
	t.Helper()
	dir := t.TempDir()

	rng := rand.New(rand.NewSource(7))
	screen := image.NewRGBA(image.Rect(0, 0, 160, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 160; x++ {
			screen.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	button := image.NewRGBA(image.Rect(0, 0, 24, 11))
	for y := 0; y < 11; y++ {
		for x := 0; x < 24; x++ {
			button.Set(x, y, screen.At(buttonAt.X+x, buttonAt.Y+y))
		}
	}

	var shot bytes.Buffer
	require.NoError(t, png.Encode(&shot, screen))
	templatePath := filepath.Join(dir, "allow_button_template.png")
	var tpl bytes.Buffer
	require.NoError(t, png.Encode(&tpl, button))
	require.NoError(t, os.WriteFile(templatePath, tpl.Bytes(), 0o644))

	cfg := config.Default()
	cfg.Primary.HAP = "/haps/usbInfo-default-signed.hap"
	cfg.Secondary.HAP = "/haps/usb_fullAutomation_newsigned.hap"
	cfg.Template = templatePath
	cfg.Delays = config.Delays{}

	return &fixture{
		cfg: cfg,
		files: map[string][]byte{
			mock.DefaultSnapshotPath: shot.Bytes(),
			cfg.Logs[0].Remote:       []byte(infoLog),
			cfg.Logs[1].Remote:       []byte(automation),
		},
		outDir: filepath.Join(dir, "out"),
		tap:    buttonAt.Add(image.Pt(12, 5)),
	}
}

func (f *fixture) runner(m *mock.Executor, events chan Event) *Runner {
	return New(m, RunnerConfig{
		Config:        f.cfg,
		OutputDir:     f.outDir,
		Events:        events,
		ResolvePath:   func(p string) string { return p },
		Device:        report.Device{Target: "mock-device"},
		RunnerVersion: "test",
	})
}

// collect drains events until the channel is closed.
func collect(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func outputLines(events []Event) []string {
	var lines []string
	for _, ev := range events {
		if o, ok := ev.(OutputEvent); ok {
			lines = append(lines, o.Line)
		}
	}
	return lines
}

type memRecorder struct {
	mu   sync.Mutex
	runs []history.Run
}

func (r *memRecorder) Record(_ context.Context, run history.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

type countingWaiter struct{ n int }

func (w *countingWaiter) Wait(context.Context) error {
	w.n++
	return nil
}

func TestRunner_Run_CommandSequence(t *testing.T) {
	f := newFixture(t, "用例3 成功\n")
	m := mock.New(mock.Config{Files: f.files})

	result, err := f.runner(m, nil).Run(context.Background())
	require.NoError(t, err)

	local := func(name string) string { return filepath.Join(f.outDir, name) }
	want := []string{
		"hdc install /haps/usbInfo-default-signed.hap",
		"hdc install /haps/usb_fullAutomation_newsigned.hap",
		"hdc shell aa start -a UsbInfoAbility -b com.example.nomralapp",
		"hdc shell rm -f /data/local/tmp/snapshot_*.jpeg",
		"hdc shell snapshot_display",
		device.JoinCommandLine("hdc", "file", "recv", mock.DefaultSnapshotPath, local("snapshot.jpeg")),
		"hdc shell uinput -T -d 49 86",
		"hdc shell uinput -T -u 49 86",
		"hdc shell aa start -a UsbAutomationAbility -b com.example.automationapp",
		device.JoinCommandLine("hdc", "file", "recv", f.cfg.Logs[0].Remote, local("usb_info.log")),
		device.JoinCommandLine("hdc", "file", "recv", f.cfg.Logs[1].Remote, local("usb_automation.log")),
	}
	require.Equal(t, want, m.Calls())

	require.Equal(t, f.tap, result.Match.Tap)
	require.InDelta(t, 1.0, result.Match.Score, 1e-9)
	require.True(t, result.Passed())
	require.Equal(t, core.StatusPassed, result.Status)
	require.Len(t, result.Steps, len(StepNames))
	require.Equal(t, len(StepNames), result.PassedSteps)
	for i, st := range result.Steps {
		require.Equal(t, StepNames[i], st.Name)
	}
}

func TestRunner_Run_MergesAndClassifies(t *testing.T) {
	f := newFixture(t, automationLog)
	m := mock.New(mock.Config{Files: f.files})
	rec := &memRecorder{}

	r := f.runner(m, nil)
	r.config.Recorder = rec
	result, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"用例4 失败", "没有找到USB设备"}, result.Report.FailedLines)
	require.Equal(t, 2, result.Report.FailureCount)
	require.False(t, result.Passed())
	require.Equal(t, core.StatusFailed, result.Status)

	merged, err := os.ReadFile(result.CombinedLog)
	require.NoError(t, err)
	require.Equal(t, infoLog+"\n"+automationLog+"\n", string(merged))
	require.Equal(t, string(merged), result.LogText)

	// Pulled copies are removed once merged.
	for _, name := range []string{"usb_info.log", "usb_automation.log"} {
		_, err := os.Stat(filepath.Join(f.outDir, name))
		require.True(t, os.IsNotExist(err), "%s should be deleted", name)
	}

	idx, err := report.ReadIndex(result.ReportPath)
	require.NoError(t, err)
	require.Equal(t, report.StatusFailed, idx.Status)
	require.Equal(t, result.RunID, idx.RunID)
	require.NotNil(t, idx.Classification)
	require.Equal(t, 2, idx.Classification.FailureCount)
	require.NotNil(t, idx.Match)
	require.Equal(t, f.tap.X, idx.Match.TapX)
	require.Equal(t, "snapshot.jpeg", idx.Artifacts.Screenshot)
	require.Equal(t, "combined_log.log", idx.Artifacts.CombinedLog)
	require.Equal(t, report.Summary{Total: len(StepNames), Passed: len(StepNames)}, idx.Summary)

	require.Len(t, rec.runs, 1)
	require.Equal(t, result.RunID, rec.runs[0].RunID)
	require.Equal(t, "failed", rec.runs[0].Status)
	require.Equal(t, 2, rec.runs[0].FailureCount)
	require.NotNil(t, rec.runs[0].MatchScore)
}

func TestRunner_Run_Events(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, automationLog)
	m := mock.New(mock.Config{Files: f.files})

	events := collect(f.runner(m, nil).RunAsync(context.Background()))

	lines := outputLines(events)
	require.Contains(t, lines, "Installing /haps/usbInfo-default-signed.hap...")
	require.Contains(t, lines, "Running com.example.automationapp with ability UsbAutomationAbility...")
	require.Contains(t, lines, "Tapping on screen at coordinates (49, 86)...")
	require.Contains(t, lines, "Individual log files deleted.")

	var steps []StepEvent
	var results []ResultEvent
	for _, ev := range events {
		switch e := ev.(type) {
		case StepEvent:
			steps = append(steps, e)
		case ResultEvent:
			results = append(results, e)
		case ErrorEvent:
			t.Fatalf("unexpected ErrorEvent: %v", e.Err)
		}
	}
	require.Len(t, steps, 2*len(StepNames))
	require.Equal(t, StepEvent{Index: 0, Step: StepInstallPrimary, Status: core.StatusRunning}, steps[0])
	require.Equal(t, core.StatusPassed, steps[len(steps)-1].Status)
	require.Len(t, results, 1)
	require.Equal(t, 2, results[0].Result.Report.FailureCount)

	// The result is the last event.
	_, ok := events[len(events)-1].(ResultEvent)
	require.True(t, ok)
}

func TestRunner_Run_EchoOutput(t *testing.T) {
	f := newFixture(t, "")
	m := mock.New(mock.Config{Files: f.files})
	events := make(chan Event, 256)

	r := f.runner(m, events)
	r.config.EchoOutput = true
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	close(events)

	lines := outputLines(collect(events))
	require.Contains(t, lines, "start ability successfully.")
	require.Contains(t, lines, "AppMod finish")
}

func TestRunner_Run_AbortsOnFirstFailure(t *testing.T) {
	tests := []struct {
		name      string
		mock      mock.Config
		mutate    func(*fixture)
		wantErr   *core.ExecutionError
		failStep  string
		lastCall  string
		runStatus report.Status
	}{
		{
			name:      "install fails",
			mock:      mock.Config{FailOnCommand: 1},
			wantErr:   core.ErrCommandFailed,
			failStep:  StepInstallPrimary,
			lastCall:  "hdc install /haps/usbInfo-default-signed.hap",
			runStatus: report.StatusFailed,
		},
		{
			name:      "launch fails",
			mock:      mock.Config{FailMatching: "aa start"},
			wantErr:   core.ErrCommandFailed,
			failStep:  StepLaunchPrimary,
			lastCall:  "hdc shell aa start -a UsbInfoAbility -b com.example.nomralapp",
			runStatus: report.StatusFailed,
		},
		{
			name:      "no snapshot path",
			mock:      mock.Config{SnapshotOutput: "snapshot failed: display busy\n"},
			wantErr:   core.ErrSnapshotPathNotFound,
			failStep:  StepScreenshot,
			lastCall:  "hdc shell snapshot_display",
			runStatus: report.StatusFailed,
		},
		{
			name:      "tap fails",
			mock:      mock.Config{FailMatching: "uinput -T -d"},
			wantErr:   core.ErrCommandFailed,
			failStep:  StepTap,
			lastCall:  "hdc shell uinput -T -d 49 86",
			runStatus: report.StatusFailed,
		},
		{
			name: "template larger than screenshot",
			mutate: func(f *fixture) {
				big := image.NewRGBA(image.Rect(0, 0, 400, 10))
				var buf bytes.Buffer
				_ = png.Encode(&buf, big)
				_ = os.WriteFile(f.cfg.Template, buf.Bytes(), 0o644)
			},
			wantErr:   core.ErrTemplateTooLarge,
			failStep:  StepLocate,
			runStatus: report.StatusErrored,
		},
		{
			name:      "min score out of range",
			mutate:    func(f *fixture) { s := 1.5; f.cfg.MinScore = &s },
			wantErr:   core.ErrInvalidConfig,
			runStatus: "",
		},
		{
			name: "missing log on device",
			mutate: func(f *fixture) {
				delete(f.files, f.cfg.Logs[1].Remote)
			},
			wantErr:   core.ErrCommandFailed,
			failStep:  StepPullLogs,
			runStatus: report.StatusFailed,
		},
		{
			name:      "unknown log encoding",
			mutate:    func(f *fixture) { f.cfg.LogEncoding = "klingon" },
			wantErr:   core.ErrInvalidConfig,
			failStep:  StepMergeLogs,
			runStatus: report.StatusErrored,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, automationLog)
			if tt.mutate != nil {
				tt.mutate(f)
			}
			cfg := tt.mock
			cfg.Files = f.files
			m := mock.New(cfg)
			events := make(chan Event, 256)

			result, err := f.runner(m, events).Run(context.Background())
			close(events)

			require.Nil(t, result)
			require.True(t, errors.Is(err, tt.wantErr), "err = %v, want %s", err, tt.wantErr.Code)

			all := collect(events)
			var sawError bool
			for _, ev := range all {
				switch e := ev.(type) {
				case ResultEvent:
					t.Fatal("ResultEvent sent for an aborted run")
				case ErrorEvent:
					sawError = true
					require.Equal(t, err, e.Err)
				}
			}
			require.True(t, sawError)

			if tt.lastCall != "" {
				calls := m.Calls()
				require.Equal(t, tt.lastCall, calls[len(calls)-1])
			}
			if tt.runStatus == "" {
				// rejected before anything ran
				require.Empty(t, m.Calls())
				return
			}

			idx, err := report.ReadIndex(filepath.Join(f.outDir, report.FileName))
			require.NoError(t, err)
			require.Equal(t, tt.runStatus, idx.Status)
			require.NotNil(t, idx.Error)
			for _, st := range idx.Steps {
				switch {
				case st.Name == tt.failStep:
					require.NotEqual(t, report.StatusPassed, st.Status)
					require.NotNil(t, st.Error)
				case st.Status != report.StatusPassed:
					require.Equal(t, report.StatusSkipped, st.Status, "step %s", st.Name)
				}
			}
		})
	}
}

func TestRunner_Run_LowConfidence(t *testing.T) {
	f := newFixture(t, "")
	score := 0.9999
	f.cfg.MinScore = &score

	// Replace the template with one that is not in the screenshot.
	rng := rand.New(rand.NewSource(99))
	other := image.NewRGBA(image.Rect(0, 0, 24, 11))
	for i := range other.Pix {
		other.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, other))
	require.NoError(t, os.WriteFile(f.cfg.Template, buf.Bytes(), 0o644))

	m := mock.New(mock.Config{Files: f.files})
	_, err := f.runner(m, nil).Run(context.Background())
	require.True(t, errors.Is(err, core.ErrLowConfidence), "err = %v", err)
	for _, c := range m.Calls() {
		require.NotContains(t, c, "uinput", "must not tap after a rejected match")
	}
}

func TestRunner_Run_Canceled(t *testing.T) {
	f := newFixture(t, "")
	m := mock.New(mock.Config{Files: f.files})
	rec := &memRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := f.runner(m, nil)
	r.config.Recorder = rec
	_, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, m.Calls())

	// Still recorded despite the canceled context.
	require.Len(t, rec.runs, 1)
	require.Equal(t, "errored", rec.runs[0].Status)
	require.Equal(t, context.Canceled.Error(), rec.runs[0].Error)
}

func TestRunner_Run_MissingConfig(t *testing.T) {
	m := mock.New(mock.Config{})
	events := make(chan Event, 1)
	_, err := New(m, RunnerConfig{OutputDir: t.TempDir(), Events: events}).Run(context.Background())
	require.ErrorIs(t, err, core.ErrMissingRequired)
	require.IsType(t, ErrorEvent{}, <-events)
}

func TestRunner_Run_WaiterOverrides(t *testing.T) {
	f := newFixture(t, "")
	m := mock.New(mock.Config{Files: f.files})
	settle, logs := &countingWaiter{}, &countingWaiter{}

	r := f.runner(m, nil)
	r.config.Settle = settle
	r.config.LogsReady = logs
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, settle.n)
	require.Equal(t, 1, logs.n)
}

func TestRunner_Run_LogsProbe(t *testing.T) {
	f := newFixture(t, "")
	f.cfg.Probes.Logs = &config.Probe{Command: "hdc shell pidof ${secondaryBundle}"}
	m := mock.New(mock.Config{
		Files: f.files,
		Responses: map[string]device.Result{
			"hdc shell pidof com.example.automationapp": {Stdout: "4312\n"},
		},
	})

	result, err := f.runner(m, nil).Run(context.Background())
	require.NoError(t, err)
	require.Contains(t, m.Calls(), "hdc shell pidof com.example.automationapp")
	require.Equal(t, `probe "hdc shell pidof ${secondaryBundle}"`, result.Steps[8].Message)
}

func TestRunAsync_ClosesChannelOnAbort(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, "")
	m := mock.New(mock.Config{Files: f.files, FailOnCommand: 2})

	events := collect(f.runner(m, make(chan Event)).RunAsync(context.Background()))
	last, ok := events[len(events)-1].(ErrorEvent)
	require.True(t, ok, "last event = %#v", events[len(events)-1])
	require.True(t, strings.Contains(last.Err.Error(), "usb_fullAutomation_newsigned.hap"))
}
