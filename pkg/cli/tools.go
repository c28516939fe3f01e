package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/text/encoding"

	"github.com/devicelab-dev/hap-runner/pkg/classifier"
	"github.com/devicelab-dev/hap-runner/pkg/config"
	"github.com/devicelab-dev/hap-runner/pkg/device"
	"github.com/devicelab-dev/hap-runner/pkg/history"
	"github.com/devicelab-dev/hap-runner/pkg/locator"
)

var locateCommand = &cli.Command{
	Name:      "locate",
	Usage:     "Find the permission button in a screenshot",
	ArgsUsage: "<screenshot> [template]",
	Description: `Match the button template against a screenshot and print the best
score and the tap point. The template defaults to the configured one.

Examples:
  hap-runner locate snapshot.jpeg
  hap-runner locate snapshot.jpeg allow_button_template.jpeg --json`,
	Flags: []cli.Flag{
		&cli.Float64Flag{
			Name:  "min-score",
			Usage: "Fail when the best score is below this value",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the match as JSON",
		},
	},
	Action: runLocate,
}

var classifyCommand = &cli.Command{
	Name:      "classify",
	Usage:     "Merge log files and list the failed test lines",
	ArgsUsage: "<log>...",
	Description: `Merge the log files in order and print the lines containing a failure
marker.

Examples:
  hap-runner classify usb_info.log usb_automation.log
  hap-runner classify --encoding gbk --out combined_log.log a.log b.log
  hap-runner classify --marker FAIL combined_log.log`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "marker",
			Usage: "Failure marker (default: the configured markers)",
		},
		&cli.StringFlag{
			Name:  "encoding",
			Usage: "Encoding of the input logs (default: the configured logEncoding)",
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "Write the merged log to this file",
		},
	},
	Action: runClassify,
}

var historyCommand = &cli.Command{
	Name:      "history",
	Usage:     "Show previous runs",
	ArgsUsage: "[run-id]",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Value: 20,
			Usage: "Number of runs to list",
		},
	},
	Action: runHistory,
}

var targetsCommand = &cli.Command{
	Name:   "targets",
	Usage:  "List attached devices",
	Action: runTargets,
}

func runLocate(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return fmt.Errorf("usage: hap-runner locate <screenshot> [template]")
	}
	screenshot := c.Args().Get(0)
	template := c.Args().Get(1)
	if template == "" {
		cfg, err := loadConfig(c.String("config"))
		if err != nil {
			return err
		}
		template = config.ResolveResource(cfg.Template)
	}

	var opts []locator.Option
	if c.IsSet("min-score") {
		opts = append(opts, locator.WithMinScore(c.Float64("min-score")))
	}
	res, err := locator.LocateFiles(screenshot, template, opts...)
	if err != nil {
		return err
	}
	return printLocate(c.App.Writer, res, c.Bool("json"))
}

func printLocate(w io.Writer, res locator.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(w, "Match score: %.4f\n", res.Score)
	fmt.Fprintf(w, "Button at (%d, %d), size %dx%d\n", res.TopLeft.X, res.TopLeft.Y, res.TemplateSize.X, res.TemplateSize.Y)
	fmt.Fprintf(w, "Tap at (%d, %d)\n", res.Tap.X, res.Tap.Y)
	return nil
}

func runClassify(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("usage: hap-runner classify <log>...")
	}
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	markers := c.StringSlice("marker")
	if len(markers) == 0 {
		markers = cfg.Markers
	}
	encName := cfg.LogEncoding
	if c.IsSet("encoding") {
		encName = c.String("encoding")
	}
	enc, err := classifier.Encoding(encName)
	if err != nil {
		return err
	}

	text, err := mergeLogs(enc, c.String("out"), c.Args().Slice())
	if err != nil {
		return err
	}

	rep := classifier.New(markers...).ClassifyText(text)
	printReport(c.App.Writer, rep)
	if !rep.AllPassed() {
		return cli.Exit("", 1)
	}
	return nil
}

// mergeLogs merges paths into out, or in memory when out is empty.
func mergeLogs(enc encoding.Encoding, out string, paths []string) (string, error) {
	if out == "" {
		var buf bytes.Buffer
		if err := classifier.Merge(&buf, enc, paths...); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	if err := classifier.MergeFiles(out, enc, paths...); err != nil {
		return "", err
	}
	return classifier.ReadText(out)
}

func printReport(w io.Writer, rep classifier.Report) {
	fmt.Fprintf(w, "Number of tests failed: %d\n", rep.FailureCount)
	if rep.AllPassed() {
		fmt.Fprintf(w, "%sCongratulations! All tests passed.%s\n", color(colorGreen), color(colorReset))
		return
	}
	fmt.Fprintf(w, "%sExtracted failed tests:%s\n", color(colorBold), color(colorReset))
	for _, line := range rep.FailedLines {
		fmt.Fprintf(w, "%s%s%s\n", color(colorRed), line, color(colorReset))
	}
}

func runHistory(c *cli.Context) error {
	path := c.String("history")
	if path == "" {
		path = defaultHistoryPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(c.App.Writer, "No runs recorded yet.")
		return nil
	}

	store, err := history.Open(c.Context, path)
	if err != nil {
		return err
	}
	defer store.Close()

	if id := c.Args().First(); id != "" {
		run, err := store.Get(c.Context, id)
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("no run with id %s", id)
		}
		if err != nil {
			return err
		}
		printRun(c.App.Writer, run)
		return nil
	}

	runs, err := store.List(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	printRuns(c.App.Writer, runs)
	return nil
}

func printRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}
	for _, r := range runs {
		statusColor := colorGreen
		if !r.Passed() {
			statusColor = colorRed
		}
		fmt.Fprintf(w, "%s  %s  %s%-8s%s  failed=%d  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.RunID,
			color(statusColor), r.Status, color(colorReset),
			r.FailureCount, r.Target)
	}
}

func printRun(w io.Writer, r history.Run) {
	fmt.Fprintf(w, "Run:      %s\n", r.RunID)
	fmt.Fprintf(w, "Started:  %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Target:   %s\n", r.Target)
	fmt.Fprintf(w, "Status:   %s\n", r.Status)
	if r.MatchScore != nil {
		fmt.Fprintf(w, "Match:    %.4f\n", *r.MatchScore)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", r.Error)
	}
	fmt.Fprintf(w, "Reports:  %s\n", r.ReportDir)
	fmt.Fprintf(w, "Failed:   %d\n", r.FailureCount)
	for _, line := range r.FailedLines {
		fmt.Fprintf(w, "  %s%s%s\n", color(colorRed), line, color(colorReset))
	}
}

func runTargets(c *cli.Context) error {
	h, err := device.NewHDC(device.WithPath(c.String("hdc")))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	targets, err := device.ListTargets(ctx, h)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(c.App.Writer, "No devices attached.")
		return nil
	}
	for _, t := range targets {
		fmt.Fprintln(c.App.Writer, t)
	}
	return nil
}
