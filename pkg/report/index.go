package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/hap-runner/pkg/logger"
)

// IndexWriter provides thread-safe updates to the report index.
// Every update is written to disk before the call returns.
type IndexWriter struct {
	mu        sync.Mutex
	outputDir string
	path      string
	index     *Index
}

// NewIndexWriter creates a new IndexWriter.
func NewIndexWriter(outputDir string, index *Index) *IndexWriter {
	return &IndexWriter{
		outputDir: outputDir,
		path:      indexPath(outputDir),
		index:     index,
	}
}

// Path returns the report.json path.
func (w *IndexWriter) Path() string {
	return w.path
}

// Start marks the run as started.
func (w *IndexWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.index.Status = StatusRunning
	w.index.StartTime = time.Now()

	w.flushLocked()
}

// UpdateStep updates the step with the given index.
func (w *IndexWriter) UpdateStep(i int, update StepUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i < 0 || i >= len(w.index.Steps) {
		return
	}
	s := &w.index.Steps[i]
	s.Status = update.Status
	if update.StartTime != nil {
		s.StartTime = update.StartTime
	}
	if update.EndTime != nil {
		s.EndTime = update.EndTime
	}
	if update.Duration != nil {
		s.Duration = update.Duration
	}
	if update.Message != "" {
		s.Message = update.Message
	}
	if update.Error != nil {
		s.Error = NewError(update.Error)
	}

	w.flushLocked()
}

// SetMatch records the located button.
func (w *IndexWriter) SetMatch(m Match) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index.Match = &m
	w.flushLocked()
}

// SetClassification records the verdict over the merged logs.
func (w *IndexWriter) SetClassification(c Classification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index.Classification = &c
	w.flushLocked()
}

// SetArtifacts records the artifact paths. Absolute paths inside the
// output directory are stored relative to it.
func (w *IndexWriter) SetArtifacts(a Artifacts) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index.Artifacts = Artifacts{
		Screenshot:  w.relative(a.Screenshot),
		CombinedLog: w.relative(a.CombinedLog),
	}
	w.flushLocked()
}

// End marks the run as complete. A non-nil err records why the sequence
// aborted; steps that never ran are marked skipped.
func (w *IndexWriter) End(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.index.Steps {
		if !w.index.Steps[i].Status.IsTerminal() {
			w.index.Steps[i].Status = StatusSkipped
		}
	}

	now := time.Now()
	w.index.EndTime = &now
	w.index.Error = NewError(err)
	w.index.Status = w.computeRunStatus()

	w.flushLocked()
}

// GetIndex returns a copy of the current index.
func (w *IndexWriter) GetIndex() Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := *w.index
	idx.Steps = append([]StepEntry(nil), w.index.Steps...)
	return idx
}

// flushLocked flushes while holding the lock.
func (w *IndexWriter) flushLocked() {
	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = w.computeSummary()

	if err := atomicWriteJSON(w.path, w.index); err != nil {
		logger.Warn("write report index: %v", err)
	}
}

func (w *IndexWriter) relative(path string) string {
	if path == "" || !filepath.IsAbs(path) {
		return path
	}
	base, err := filepath.Abs(w.outputDir)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// computeSummary calculates summary from step statuses.
func (w *IndexWriter) computeSummary() Summary {
	var s Summary
	for _, st := range w.index.Steps {
		s.Total++
		switch st.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed, StatusErrored:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
		case StatusPending:
			s.Pending++
		}
	}
	return s
}

// computeRunStatus determines overall run status.
// An aborted sequence is errored unless a step failed on the device; a
// completed sequence fails when the logs contain failure markers.
func (w *IndexWriter) computeRunStatus() Status {
	status := StatusPassed
	for _, st := range w.index.Steps {
		switch st.Status {
		case StatusFailed:
			return StatusFailed
		case StatusErrored:
			status = StatusErrored
		}
	}
	if status == StatusPassed && w.index.Error != nil {
		return StatusErrored
	}
	if status == StatusPassed && w.index.Classification != nil && !w.index.Classification.AllPassed {
		return StatusFailed
	}
	return status
}

// ReadIndex reads a report.json file.
func ReadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- report written by this tool
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &idx, nil
}

func indexPath(outputDir string) string {
	return filepath.Join(outputDir, FileName)
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// atomicWriteJSON writes v to a temp file in the same directory and renames
// it over path, so readers never see a partial document.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
