package report

import (
	"fmt"
	"time"
)

// BuilderConfig contains configuration for building the report skeleton.
type BuilderConfig struct {
	RunID         string
	Device        Device
	Apps          []App
	RunnerVersion string
}

// BuildSkeleton creates the initial index for the named steps.
// All steps are set to "pending" status.
func BuildSkeleton(steps []string, cfg BuilderConfig) *Index {
	now := time.Now()

	index := &Index{
		Version:     Version,
		RunID:       cfg.RunID,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		Device:      cfg.Device,
		Apps:        append([]App(nil), cfg.Apps...),
		HapRunner:   RunnerInfo{Version: cfg.RunnerVersion},
		Summary: Summary{
			Total:   len(steps),
			Pending: len(steps),
		},
		Steps: make([]StepEntry, len(steps)),
	}
	for i, name := range steps {
		index.Steps[i] = StepEntry{Index: i, Name: name, Status: StatusPending}
	}
	return index
}

// WriteSkeleton writes the initial skeleton to outputDir.
func WriteSkeleton(outputDir string, index *Index) error {
	if err := ensureDir(outputDir); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := atomicWriteJSON(indexPath(outputDir), index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}
