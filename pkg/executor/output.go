package executor

import (
	"context"
	"strings"

	"github.com/devicelab-dev/hap-runner/pkg/device"
)

// echoExecutor forwards the stdout of every finished command as output lines,
// for executors that do not stream.
type echoExecutor struct {
	device.Executor
	emit func(line string)
}

func (e echoExecutor) Execute(ctx context.Context, commandLine string) (device.Result, error) {
	res, err := e.Executor.Execute(ctx, commandLine)
	if err == nil {
		for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\r\n"), "\n") {
			if line = strings.TrimRight(line, "\r"); line != "" {
				e.emit(line)
			}
		}
	}
	return res, err
}
