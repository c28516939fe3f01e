package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "HAP_RUNNER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the hap-runner home directory, where the bundled HAP
// files and the button template live.
//
// Resolution order:
//  1. $HAP_RUNNER_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetResourcesDir returns <home>/resources.
func GetResourcesDir() string {
	return filepath.Join(GetHome(), "resources")
}

// GetDataDir returns <home>/data, where the run history is kept.
func GetDataDir() string {
	return filepath.Join(GetHome(), "data")
}

// ResolveResource finds a bundled file.
//
// Absolute paths are returned unchanged. A relative path is looked up in the
// working directory, then <home>/resources, then <home>; the last candidate
// is returned when none exists so the caller's error names a real location.
func ResolveResource(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	inResources := filepath.Join(GetResourcesDir(), path)
	if _, err := os.Stat(inResources); err == nil {
		return inResources
	}
	return filepath.Join(GetHome(), path)
}

func resolveHome() string {
	// 1. Environment variable
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// 2. Binary-relative: if binary is at <home>/bin/hap-runner, use <home>
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	// 3. Current working directory
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
