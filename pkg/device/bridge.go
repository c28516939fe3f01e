package device

import (
	"context"
	"fmt"
	"image"
	"regexp"
	"strconv"

	"github.com/devicelab-dev/hap-runner/pkg/core"
	"github.com/devicelab-dev/hap-runner/pkg/logger"
)

// SnapshotDir is where snapshot_display writes its captures.
const SnapshotDir = "/data/local/tmp"

// SnapshotPathPattern matches the capture path printed by snapshot_display.
var SnapshotPathPattern = regexp.MustCompile(`/data/local/tmp/snapshot_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}\.jpeg`)

// Bridge issues typed hdc operations over an Executor. Any non-zero exit
// becomes core.ErrCommandFailed.
type Bridge struct {
	exec Executor
}

// NewBridge wraps e.
func NewBridge(e Executor) *Bridge {
	return &Bridge{exec: e}
}

// Run executes commandLine and returns its stdout.
func (b *Bridge) Run(ctx context.Context, commandLine string) (string, error) {
	logger.Debug("exec: %s", commandLine)
	res, err := b.exec.Execute(ctx, commandLine)
	if err != nil {
		logger.Error("exec %s: %v", commandLine, err)
		return "", err
	}
	if !res.Success() {
		logger.Error("exec %s: exit %d: %s", commandLine, res.ExitCode, res.Message())
		return res.Stdout, core.ErrCommandFailed.WithDetails(map[string]interface{}{
			"command":  commandLine,
			"exitCode": res.ExitCode,
			"stderr":   res.Stderr,
		}).WithMessage(fmt.Sprintf("error running command '%s': exit status %d: %s", commandLine, res.ExitCode, res.Message()))
	}
	return res.Stdout, nil
}

// Shell runs a device shell command.
func (b *Bridge) Shell(ctx context.Context, command string) (string, error) {
	return b.Run(ctx, "hdc shell "+command)
}

// Install installs a HAP file.
func (b *Bridge) Install(ctx context.Context, hapPath string) error {
	_, err := b.Run(ctx, JoinCommandLine("hdc", "install", hapPath))
	return err
}

// StartAbility launches an ability of an installed bundle.
func (b *Bridge) StartAbility(ctx context.Context, bundle, ability string) error {
	_, err := b.Shell(ctx, JoinCommandLine("aa", "start", "-a", ability, "-b", bundle))
	return err
}

// Recv copies a device file to a local path.
func (b *Bridge) Recv(ctx context.Context, remote, local string) error {
	_, err := b.Run(ctx, JoinCommandLine("hdc", "file", "recv", remote, local))
	return err
}

// RemoveSnapshots deletes earlier captures left on the device.
func (b *Bridge) RemoveSnapshots(ctx context.Context) error {
	_, err := b.Shell(ctx, "rm -f "+SnapshotDir+"/snapshot_*.jpeg")
	return err
}

// CaptureSnapshot takes a screenshot and returns its device path.
func (b *Bridge) CaptureSnapshot(ctx context.Context) (string, error) {
	out, err := b.Shell(ctx, "snapshot_display")
	if err != nil {
		return "", err
	}
	return ParseSnapshotPath(out)
}

// Screenshot clears old captures, takes a new one and pulls it to local.
func (b *Bridge) Screenshot(ctx context.Context, local string) (string, error) {
	if err := b.RemoveSnapshots(ctx); err != nil {
		return "", err
	}
	remote, err := b.CaptureSnapshot(ctx)
	if err != nil {
		return "", err
	}
	if err := b.Recv(ctx, remote, local); err != nil {
		return remote, err
	}
	return remote, nil
}

// Tap sends a touch down then up at p.
func (b *Bridge) Tap(ctx context.Context, p image.Point) error {
	x, y := strconv.Itoa(p.X), strconv.Itoa(p.Y)
	if _, err := b.Shell(ctx, JoinCommandLine("uinput", "-T", "-d", x, y)); err != nil {
		return err
	}
	_, err := b.Shell(ctx, JoinCommandLine("uinput", "-T", "-u", x, y))
	return err
}

// ParseSnapshotPath extracts the capture path from snapshot_display output.
func ParseSnapshotPath(output string) (string, error) {
	path := SnapshotPathPattern.FindString(output)
	if path == "" {
		return "", core.ErrSnapshotPathNotFound.WithDetails(map[string]interface{}{"output": output})
	}
	return path, nil
}
