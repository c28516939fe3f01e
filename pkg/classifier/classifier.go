// Package classifier scans device test logs for failure markers.
package classifier

import (
	"strings"
)

// DefaultMarkers are the substrings the on-device test apps write for a
// failed case ("failed") and a missing resource ("none").
var DefaultMarkers = []string{"失败", "没有"}

// Classifier tests lines against a fixed set of literal markers.
type Classifier struct {
	markers []string
}

// New returns a classifier for the given markers. Empty markers are dropped;
// with none given it uses DefaultMarkers.
func New(markers ...string) *Classifier {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	c := &Classifier{}
	for _, m := range markers {
		if m != "" {
			c.markers = append(c.markers, m)
		}
	}
	return c
}

// Markers returns a copy of the active markers.
func (c *Classifier) Markers() []string {
	return append([]string(nil), c.markers...)
}

// IsFailure reports whether line contains any marker.
func (c *Classifier) IsFailure(line string) bool {
	for _, m := range c.markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// Classify returns the failing lines in input order, trimmed of
// surrounding whitespace.
func (c *Classifier) Classify(lines []string) Report {
	var failed []string
	for _, line := range lines {
		if c.IsFailure(line) {
			failed = append(failed, strings.TrimSpace(line))
		}
	}
	return Report{FailedLines: failed, FailureCount: len(failed)}
}

// ClassifyText splits text into lines and classifies them.
func (c *Classifier) ClassifyText(text string) Report {
	return c.Classify(SplitLines(text))
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// SplitLines splits on "\r\n", a lone "\r" or "\n", dropping the empty
// remainder after a final line break.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = newlines.Replace(text)
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// Report is the outcome of one classification.
type Report struct {
	FailedLines  []string `json:"failedLines"`
	FailureCount int      `json:"failureCount"`
}

// AllPassed reports whether no failure line was found.
func (r Report) AllPassed() bool {
	return r.FailureCount == 0
}
