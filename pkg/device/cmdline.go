package device

import (
	"fmt"

	"github.com/kballard/go-shellquote"
)

// SplitCommandLine splits a command line into words with POSIX shell
// quoting rules. No expansion is done, so globs reach the device as written.
func SplitCommandLine(line string) ([]string, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("split %q: %w", line, err)
	}
	return words, nil
}

// Quote returns s as a single command-line word.
func Quote(s string) string {
	return shellquote.Join(s)
}

// JoinCommandLine quotes each word as needed and joins them with spaces.
func JoinCommandLine(words ...string) string {
	return shellquote.Join(words...)
}
