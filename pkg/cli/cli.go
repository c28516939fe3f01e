// Package cli provides the command-line interface for hap-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to hap-runner.yaml (default: ./hap-runner.yaml or ./config.yaml)",
		EnvVars: []string{"HAP_RUNNER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "hdc",
		Usage:   "Path to the hdc binary",
		EnvVars: []string{"HAP_RUNNER_HDC"},
	},
	&cli.StringFlag{
		Name:    "target",
		Aliases: []string{"t"},
		Usage:   "Device connect key (default: first device from 'hdc list targets')",
		EnvVars: []string{"HAP_RUNNER_TARGET"},
	},
	&cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output directory for snapshots, logs and reports (default: ./reports)",
		EnvVars: []string{"HAP_RUNNER_OUTPUT"},
	},
	&cli.BoolFlag{
		Name:  "flatten",
		Usage: "Don't create timestamp subfolder (requires --output)",
	},
	&cli.StringFlag{
		Name:    "history",
		Usage:   "Run history database (default: <home>/data/history.db)",
		EnvVars: []string{"HAP_RUNNER_HISTORY"},
	},
	&cli.StringSliceFlag{
		Name:    "env",
		Aliases: []string{"e"},
		Usage:   "Probe variables (KEY=VALUE)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"HAP_RUNNER_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
	&cli.BoolFlag{
		Name:    "no-wait",
		Usage:   "Exit without waiting for Enter",
		EnvVars: []string{"HAP_RUNNER_NO_WAIT"},
	},
}

// NewApp builds the command-line application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "hap-runner",
		Usage:   "Install, unlock and verify HarmonyOS test apps over hdc",
		Version: Version,
		Description: `hap-runner installs two HAP packages, grants the permission dialog
of the first by matching and tapping its "allow" button, launches the
second, then pulls and merges both device logs and reports every line
marked as failed.

Examples:
  hap-runner run
  hap-runner --target 7001005458323933328a run
  hap-runner window
  hap-runner locate snapshot.jpeg allow_button_template.jpeg
  hap-runner classify usb_info.log usb_automation.log
  hap-runner history`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			windowCommand,
			locateCommand,
			classifyCommand,
			historyCommand,
			targetsCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv loads ./.env so its values reach the HAP_RUNNER_* flags.
// Variables already set in the environment win.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}
