package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/hap-runner/pkg/config"
	"github.com/devicelab-dev/hap-runner/pkg/device"
	"github.com/devicelab-dev/hap-runner/pkg/executor"
	"github.com/devicelab-dev/hap-runner/pkg/history"
	"github.com/devicelab-dev/hap-runner/pkg/logger"
	"github.com/devicelab-dev/hap-runner/pkg/report"
)

// ExecutorFactory creates the device executor for one run. onLine receives
// output lines while commands run; streams reports whether the executor
// calls it, so the runner knows whether to echo output itself.
type ExecutorFactory func(onLine device.LineHandler) (exec device.Executor, streams bool, err error)

// App is the application context built once per invocation and shared by
// the console runner, the window and the history store.
type App struct {
	Config      *config.Config
	OutputDir   string
	HistoryPath string
	NoWait      bool

	Stdout io.Writer
	Stdin  io.Reader

	NewExecutor ExecutorFactory
}

// newApp builds the App from global flags and the config file.
func newApp(c *cli.Context) (*App, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("hdc"); v != "" {
		cfg.HDC = v
	}
	if v := c.String("target"); v != "" {
		cfg.Target = v
	}
	if envs := parseEnvVars(c.StringSlice("env")); len(envs) > 0 {
		if cfg.Env == nil {
			cfg.Env = make(map[string]string)
		}
		for k, v := range envs {
			cfg.Env[k] = v
		}
	}

	outputDir, err := resolveOutputDir(c.String("output"), c.Bool("flatten"))
	if err != nil {
		return nil, err
	}

	historyPath := c.String("history")
	if historyPath == "" {
		historyPath = defaultHistoryPath()
	}

	a := &App{
		Config:      cfg,
		OutputDir:   outputDir,
		HistoryPath: historyPath,
		NoWait:      c.Bool("no-wait"),
		Stdout:      os.Stdout,
		Stdin:       os.Stdin,
	}
	a.NewExecutor = a.hdcExecutor
	return a, nil
}

func defaultHistoryPath() string {
	return filepath.Join(config.GetDataDir(), history.FileName)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromDir(".")
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: ./reports/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = "./reports"
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

// parseEnvVars parses KEY=VALUE pairs.
func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}

// hdcExecutor is the default ExecutorFactory. It selects the configured
// target, or the first attached device. The detected target stays on the
// returned HDC; Config is shared between runs and is not modified.
func (a *App) hdcExecutor(onLine device.LineHandler) (device.Executor, bool, error) {
	h, err := device.NewHDC(device.WithPath(a.Config.HDC), device.WithTarget(a.Config.Target), device.WithLineHandler(onLine))
	if err != nil {
		return nil, false, err
	}
	if h.Target() == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		target, err := device.DetectTarget(ctx, h)
		if err != nil {
			return nil, false, err
		}
		logger.Info("using device %s", target)
		h.SetTarget(target)
	}
	return h, onLine != nil, nil
}

// initLogging starts the run log in the output directory.
func (a *App) initLogging(verbose bool) func() {
	if err := os.MkdirAll(a.OutputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create output directory: %v\n", err)
		return func() {}
	}
	logPath := filepath.Join(a.OutputDir, "hap-runner.log")
	if err := logger.Init(logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logger: %v\n", err)
	}
	logger.SetVerbose(verbose)
	return logger.Close
}

// openHistory opens the history store. A store that cannot be opened is
// logged and skipped.
func (a *App) openHistory(ctx context.Context) *history.Store {
	if a.HistoryPath == "" {
		return nil
	}
	store, err := history.Open(ctx, a.HistoryPath)
	if err != nil {
		logger.Warn("history disabled: %v", err)
		return nil
	}
	return store
}

// newRunner creates a runner for one execution. Output lines from the device
// are delivered on events in order with the runner's own events.
func (a *App) newRunner(events chan executor.Event, store *history.Store) (*executor.Runner, error) {
	exec, streams, err := a.NewExecutor(func(line string) {
		events <- executor.OutputEvent{Line: line}
	})
	if err != nil {
		return nil, err
	}

	// Each run sees its own copy so a detected target never leaks into
	// the shared Config.
	runCfg := *a.Config
	var bridge string
	if h, ok := exec.(*device.HDC); ok {
		bridge = h.Path()
		runCfg.Target = h.Target()
	}

	cfg := executor.RunnerConfig{
		Config:        &runCfg,
		OutputDir:     a.OutputDir,
		Events:        events,
		EchoOutput:    !streams,
		Device:        report.Device{Target: runCfg.Target, Bridge: bridge},
		RunnerVersion: Version,
	}
	if store != nil {
		cfg.Recorder = store
	}
	return executor.New(exec, cfg), nil
}

// waitForEnter blocks until the user presses Enter, unless NoWait is set.
func (a *App) waitForEnter() {
	if a.NoWait || a.Stdin == nil {
		return
	}
	fmt.Fprint(a.Stdout, "Press Enter to exit...")
	_, _ = bufio.NewReader(a.Stdin).ReadString('\n')
}
