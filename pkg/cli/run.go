package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/hap-runner/pkg/executor"
	"github.com/devicelab-dev/hap-runner/pkg/history"
	"github.com/devicelab-dev/hap-runner/pkg/tui"
)

// errTestsFailed marks a completed run whose logs contained failure lines.
var errTestsFailed = errors.New("tests failed")

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run the automation sequence once and print the verdict",
	Description: `Install both apps, grant the permission dialog, pull and merge the
logs and print every failed test line.

Reports are generated in the output directory:
  - Default: ./reports/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

The process exits with status 1 when the run aborts or any test failed.

Examples:
  hap-runner run
  hap-runner --no-wait --output ./out --flatten run
  hap-runner -e PROBE_PID=1234 run`,
	Action: runConsoleAction,
}

var windowCommand = &cli.Command{
	Name:  "window",
	Usage: "Open the interactive window",
	Description: `Press enter (or e) to execute the sequence. Command output, the merged
log, the failure count and the failed lines are shown in separate panes.
Each execution clears the panes first.`,
	Action: runWindowAction,
}

func runConsoleAction(c *cli.Context) error {
	a, err := newApp(c)
	if err != nil {
		return err
	}
	defer a.initLogging(c.Bool("verbose"))()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := a.openHistory(ctx)
	if store != nil {
		defer store.Close()
	}

	if err := a.runConsole(ctx, store); err != nil {
		return cli.Exit("", 1)
	}
	return nil
}

// runConsole executes one run, streaming output to Stdout. It returns
// errTestsFailed when the logs contain failure lines.
func (a *App) runConsole(ctx context.Context, store *history.Store) error {
	events := make(chan executor.Event, 64)
	runner, err := a.newRunner(events, store)
	if err != nil {
		a.printError(err)
		a.waitForEnter()
		return err
	}

	var (
		result *executor.RunResult
		runErr error
	)
	for ev := range runner.RunAsync(ctx) {
		switch e := ev.(type) {
		case executor.OutputEvent:
			fmt.Fprintln(a.Stdout, e.Line)
		case executor.ResultEvent:
			result = e.Result
		case executor.ErrorEvent:
			runErr = e.Err
		}
	}

	if runErr != nil {
		a.printError(runErr)
		a.waitForEnter()
		return runErr
	}

	a.printResult(result)
	a.waitForEnter()
	if !result.Passed() {
		return errTestsFailed
	}
	return nil
}

func (a *App) printError(err error) {
	fmt.Fprintf(a.Stdout, "%sAn error occurred: %v%s\n", color(colorRed), err, color(colorReset))
}

func (a *App) printResult(result *executor.RunResult) {
	fmt.Fprintf(a.Stdout, "Number of tests failed: %d\n", result.Report.FailureCount)
	if result.Passed() {
		fmt.Fprintf(a.Stdout, "%sCongratulations! All tests passed.%s\n", color(colorGreen), color(colorReset))
	} else {
		fmt.Fprintf(a.Stdout, "%sExtracted failed tests:%s\n", color(colorBold), color(colorReset))
		for _, line := range result.Report.FailedLines {
			fmt.Fprintf(a.Stdout, "%s%s%s\n", color(colorRed), line, color(colorReset))
		}
	}
	fmt.Fprintf(a.Stdout, "%sReport: %s%s\n", color(colorGray), result.ReportPath, color(colorReset))
}

func runWindowAction(c *cli.Context) error {
	a, err := newApp(c)
	if err != nil {
		return err
	}
	defer a.initLogging(c.Bool("verbose"))()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := a.openHistory(ctx)
	if store != nil {
		defer store.Close()
	}

	styles := tui.DefaultStyles()
	if !colorsEnabled {
		styles = tui.PlainStyles()
	}
	return tui.Run(ctx, a.launcher(store), styles)
}

// launcher returns the window's Launcher. Every execution gets a fresh
// executor and runner, built on the run goroutine since opening the device
// can take seconds. A device that cannot be opened is reported as the run's
// error.
func (a *App) launcher(store *history.Store) tui.Launcher {
	return func(ctx context.Context) <-chan executor.Event {
		events := make(chan executor.Event, 64)
		go func() {
			defer close(events)
			runner, err := a.newRunner(events, store)
			if err != nil {
				events <- executor.ErrorEvent{Err: err}
				return
			}
			_, _ = runner.Run(ctx)
		}()
		return events
	}
}
