// Package mock provides a scripted device executor for testing without a
// real device.
package mock

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/hap-runner/pkg/device"
)

// DefaultSnapshotPath is what the mock snapshot_display reports.
const DefaultSnapshotPath = "/data/local/tmp/snapshot_2024-05-01_12-30-05.jpeg"

// Executor is a mock implementation of device.Executor.
type Executor struct {
	// Configuration
	Config Config

	mu    sync.Mutex
	calls []string
}

// Config configures mock executor behavior.
type Config struct {
	// FailOnCommand makes command N exit 1 (1-indexed). 0 = never fail.
	FailOnCommand int
	// FailMatching makes any command containing this substring exit 1.
	FailMatching string
	// CommandDelay adds artificial delay per command.
	CommandDelay time.Duration
	// Targets reported by "hdc list targets".
	Targets []string
	// SnapshotOutput is the stdout of snapshot_display. Defaults to a line
	// naming DefaultSnapshotPath.
	SnapshotOutput string
	// Files maps device paths to contents delivered by "hdc file recv".
	Files map[string][]byte
	// Responses overrides the result for exact command lines.
	Responses map[string]device.Result
	// OnCommand is called with every command line before it is handled.
	OnCommand func(commandLine string)
}

// New creates a new mock executor.
func New(cfg Config) *Executor {
	if cfg.SnapshotOutput == "" {
		cfg.SnapshotOutput = "write to " + DefaultSnapshotPath + " as jpeg, width 1080, height 2340\n"
	}
	if cfg.Targets == nil {
		cfg.Targets = []string{"mock-device"}
	}
	return &Executor{Config: cfg}
}

// Calls returns the command lines executed so far.
func (e *Executor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Execute simulates executing a command line.
func (e *Executor) Execute(ctx context.Context, commandLine string) (device.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, commandLine)
	n := len(e.calls)
	e.mu.Unlock()

	if e.Config.OnCommand != nil {
		e.Config.OnCommand(commandLine)
	}

	// Simulate delay
	if e.Config.CommandDelay > 0 {
		select {
		case <-time.After(e.Config.CommandDelay):
		case <-ctx.Done():
			return device.Result{}, ctx.Err()
		}
	}

	// Check if this command should fail
	if (e.Config.FailOnCommand > 0 && n == e.Config.FailOnCommand) ||
		(e.Config.FailMatching != "" && strings.Contains(commandLine, e.Config.FailMatching)) {
		return device.Result{
			Stderr:   fmt.Sprintf("[Fail]mock failure on command %d", n),
			ExitCode: 1,
		}, nil
	}

	if res, ok := e.Config.Responses[commandLine]; ok {
		return res, nil
	}

	args, err := device.SplitCommandLine(commandLine)
	if err != nil {
		return device.Result{}, err
	}
	return e.handle(args), nil
}

func (e *Executor) handle(args []string) device.Result {
	if len(args) < 2 || args[0] != "hdc" {
		return device.Result{}
	}

	switch {
	case args[1] == "list" && len(args) > 2 && args[2] == "targets":
		if len(e.Config.Targets) == 0 {
			return device.Result{Stdout: "[Empty]\n"}
		}
		return device.Result{Stdout: strings.Join(e.Config.Targets, "\n") + "\n"}

	case args[1] == "install":
		return device.Result{Stdout: "[Info]App install path:" + strings.Join(args[2:], " ") + "\nAppMod finish\n"}

	case args[1] == "shell" && len(args) > 2 && args[2] == "snapshot_display":
		return device.Result{Stdout: e.Config.SnapshotOutput}

	case args[1] == "shell" && len(args) > 3 && args[2] == "aa" && args[3] == "start":
		return device.Result{Stdout: "start ability successfully.\n"}

	case args[1] == "file" && len(args) == 5 && args[2] == "recv":
		return e.recv(args[3], args[4])
	}
	return device.Result{}
}

// recv writes the scripted contents of remote to local.
func (e *Executor) recv(remote, local string) device.Result {
	data, ok := e.Config.Files[remote]
	if !ok {
		return device.Result{Stderr: "[Fail]Error opening file: no such file or directory, path:" + remote, ExitCode: 1}
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return device.Result{Stderr: "[Fail]" + err.Error(), ExitCode: 1}
	}
	return device.Result{Stdout: "FileTransfer finish, Size:" + fmt.Sprint(len(data)) + "\n"}
}
