package classifier

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/devicelab-dev/hap-runner/pkg/core"
)

// Encoding resolves a text encoding name ("utf-8", "gbk", "gb18030", ...).
// An empty name means UTF-8.
func Encoding(name string) (encoding.Encoding, error) {
	if strings.TrimSpace(name) == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err).WithMessage(fmt.Sprintf("unknown log encoding %q", name))
	}
	return enc, nil
}

// Merge copies each file into dst in order, decoding it from enc and
// writing "\n" after each one. Invalid input bytes become U+FFFD.
// A nil enc means UTF-8.
func Merge(dst io.Writer, enc encoding.Encoding, paths ...string) error {
	if enc == nil {
		enc = unicode.UTF8
	}
	for _, path := range paths {
		if err := appendFile(dst, enc, path); err != nil {
			return err
		}
	}
	return nil
}

func appendFile(dst io.Writer, enc encoding.Encoding, path string) error {
	f, err := os.Open(path) //#nosec G304 -- log file pulled from device
	if err != nil {
		return core.ErrIO.WithCause(err).WithDetails(map[string]interface{}{"path": path})
	}
	defer f.Close()

	if _, err := io.Copy(dst, transform.NewReader(f, enc.NewDecoder())); err != nil {
		return core.ErrIO.WithCause(err).WithDetails(map[string]interface{}{"path": path})
	}
	if _, err := io.WriteString(dst, "\n"); err != nil {
		return core.ErrIO.WithCause(err)
	}
	return nil
}

// MergeFiles merges paths into a new UTF-8 file at out, replacing it if it
// exists. The inputs are left in place.
func MergeFiles(out string, enc encoding.Encoding, paths ...string) error {
	f, err := os.Create(out) //#nosec G304 -- configured output path
	if err != nil {
		return core.ErrIO.WithCause(err).WithDetails(map[string]interface{}{"path": out})
	}
	if err := Merge(f, enc, paths...); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return core.ErrIO.WithCause(err).WithDetails(map[string]interface{}{"path": out})
	}
	return nil
}

// ReadText reads a UTF-8 file, replacing invalid bytes with U+FFFD.
func ReadText(path string) (string, error) {
	f, err := os.Open(path) //#nosec G304 -- combined log path
	if err != nil {
		return "", core.ErrIO.WithCause(err).WithDetails(map[string]interface{}{"path": path})
	}
	defer f.Close()

	data, err := io.ReadAll(transform.NewReader(f, unicode.UTF8.NewDecoder()))
	if err != nil {
		return "", core.ErrIO.WithCause(err).WithDetails(map[string]interface{}{"path": path})
	}
	return string(data), nil
}

// ClassifyFile reads path and classifies its lines.
func (c *Classifier) ClassifyFile(path string) (Report, string, error) {
	text, err := ReadText(path)
	if err != nil {
		return Report{}, "", err
	}
	return c.ClassifyText(text), text, nil
}
