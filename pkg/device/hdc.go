package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/devicelab-dev/hap-runner/pkg/core"
	"github.com/devicelab-dev/hap-runner/pkg/logger"
)

// HDC executes command lines whose first word is "hdc" with the real hdc
// binary. Other command lines are run as given.
type HDC struct {
	path   string
	target string // passed as -t when set
	onLine LineHandler
}

// HDCOption configures an HDC executor.
type HDCOption func(*HDC)

// WithPath sets the hdc binary. Defaults to "hdc" from PATH.
func WithPath(path string) HDCOption {
	return func(h *HDC) { h.path = path }
}

// WithTarget selects a device by its connect key (hdc -t).
func WithTarget(target string) HDCOption {
	return func(h *HDC) { h.target = target }
}

// WithLineHandler streams stdout and stderr lines while commands run.
func WithLineHandler(fn LineHandler) HDCOption {
	return func(h *HDC) { h.onLine = fn }
}

// NewHDC creates an HDC executor.
func NewHDC(opts ...HDCOption) (*HDC, error) {
	h := &HDC{}
	for _, opt := range opts {
		opt(h)
	}

	path, err := findHDC(h.path)
	if err != nil {
		return nil, err
	}
	h.path = path
	return h, nil
}

// Path returns the resolved hdc binary.
func (h *HDC) Path() string {
	return h.path
}

// Target returns the selected connect key, empty for hdc's default device.
func (h *HDC) Target() string {
	return h.target
}

// SetTarget changes the device used by later commands.
func (h *HDC) SetTarget(target string) {
	h.target = target
}

// Execute runs commandLine and captures its output.
func (h *HDC) Execute(ctx context.Context, commandLine string) (Result, error) {
	args, err := SplitCommandLine(commandLine)
	if err != nil {
		return Result{}, core.ErrCommandFailed.WithCause(err)
	}
	if len(args) == 0 {
		return Result{}, core.ErrCommandFailed.WithMessage("empty command line")
	}

	prog, rest := args[0], args[1:]
	if prog == "hdc" {
		prog = h.path
		// "list targets" is global; every other subcommand goes to one device.
		if h.target != "" && (len(rest) == 0 || rest[0] != "list") {
			rest = append([]string{"-t", h.target}, rest...)
		}
	}

	cmd := exec.CommandContext(ctx, prog, rest...) //#nosec G204 -- command lines are built by Bridge
	var stdout, stderr bytes.Buffer
	logw := logger.GetWriter()
	if h.onLine != nil {
		var mu sync.Mutex
		outLines := &lineWriter{mu: &mu, fn: h.onLine}
		errLines := &lineWriter{mu: &mu, fn: h.onLine}
		cmd.Stdout = io.MultiWriter(&stdout, logw, outLines)
		cmd.Stderr = io.MultiWriter(&stderr, logw, errLines)
		defer outLines.Flush()
		defer errLines.Flush()
	} else {
		cmd.Stdout = io.MultiWriter(&stdout, logw)
		cmd.Stderr = io.MultiWriter(&stderr, logw)
	}

	runErr := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, core.ErrBridgeNotFound.WithCause(runErr).WithDetails(map[string]interface{}{"command": prog})
}

// ListTargets returns the connect keys of attached devices.
func ListTargets(ctx context.Context, e Executor) ([]string, error) {
	res, err := e.Execute(ctx, "hdc list targets")
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, core.ErrCommandFailed.WithMessage(fmt.Sprintf("hdc list targets: %s", res.Message()))
	}

	var targets []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "[Empty]" {
			continue
		}
		targets = append(targets, strings.Fields(line)[0])
	}
	return targets, nil
}

// DetectTarget returns the first attached device.
func DetectTarget(ctx context.Context, e Executor) (string, error) {
	targets, err := ListTargets(ctx, e)
	if err != nil {
		return "", err
	}
	if len(targets) == 0 {
		return "", core.ErrNoTarget
	}
	return targets[0], nil
}

// findHDC locates the hdc binary.
func findHDC(path string) (string, error) {
	if path == "" {
		path = "hdc"
	}
	if resolved, err := exec.LookPath(path); err == nil {
		return resolved, nil
	}

	// The OpenHarmony SDK keeps hdc under toolchains.
	if sdk := os.Getenv("OHOS_SDK_HOME"); sdk != "" && path == "hdc" {
		for _, candidate := range []string{
			sdk + "/toolchains/hdc",
			sdk + "/default/openharmony/toolchains/hdc",
		} {
			if resolved, err := exec.LookPath(candidate); err == nil {
				return resolved, nil
			}
		}
	}
	return "", core.ErrBridgeNotFound.WithMessage(
		fmt.Sprintf("%s not found in PATH; install the HarmonyOS SDK toolchains or pass --hdc", path))
}
