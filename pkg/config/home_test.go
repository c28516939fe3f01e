package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetHome_EnvVar(t *testing.T) {
	ResetHome()
	t.Setenv("HAP_RUNNER_HOME", "/custom/path")

	got := GetHome()
	if got != "/custom/path" {
		t.Errorf("GetHome() = %q, want %q", got, "/custom/path")
	}
}

func TestGetHome_FallbackToCwd(t *testing.T) {
	ResetHome()
	t.Setenv("HAP_RUNNER_HOME", "")

	// When not in a bin/ directory and no env var, falls back to cwd
	// (unless the test binary happens to be in a bin/ directory)
	if got := GetHome(); got == "" {
		t.Error("GetHome() returned empty string")
	}
}

func TestGetHome_Cached(t *testing.T) {
	ResetHome()
	t.Setenv("HAP_RUNNER_HOME", "/first")

	first := GetHome()

	// Change env; should NOT affect cached value
	t.Setenv("HAP_RUNNER_HOME", "/second")
	second := GetHome()

	if first != second {
		t.Errorf("GetHome() not cached: first=%q, second=%q", first, second)
	}
}

func TestGetResourcesDir(t *testing.T) {
	ResetHome()
	t.Setenv("HAP_RUNNER_HOME", "/test/home")

	got := GetResourcesDir()
	want := filepath.Join("/test/home", "resources")
	if got != want {
		t.Errorf("GetResourcesDir() = %q, want %q", got, want)
	}
}

func TestGetDataDir(t *testing.T) {
	ResetHome()
	t.Setenv("HAP_RUNNER_HOME", "/test/home")
	t.Cleanup(ResetHome)

	if got, want := GetDataDir(), filepath.Join("/test/home", "data"); got != want {
		t.Errorf("GetDataDir() = %q, want %q", got, want)
	}
}

func TestResolveResource(t *testing.T) {
	home := t.TempDir()
	ResetHome()
	t.Setenv("HAP_RUNNER_HOME", home)
	t.Cleanup(ResetHome)

	if err := os.MkdirAll(filepath.Join(home, "resources"), 0o755); err != nil {
		t.Fatal(err)
	}
	bundled := filepath.Join(home, "resources", "allow_button_template.jpeg")
	if err := os.WriteFile(bundled, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"absolute", "/abs/usbInfo-default-signed.hap", "/abs/usbInfo-default-signed.hap"},
		{"empty", "", ""},
		{"bundled", "allow_button_template.jpeg", bundled},
		{"missing falls back to home", "usb_fullAutomation_newsigned.hap", filepath.Join(home, "usb_fullAutomation_newsigned.hap")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveResource(tt.in); got != tt.want {
				t.Errorf("ResolveResource(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveResource_WorkingDirWins(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if err := os.WriteFile("local.hap", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := ResolveResource("local.hap")
	want, _ := filepath.Abs("local.hap")
	if got != want {
		t.Errorf("ResolveResource = %q, want %q", got, want)
	}
}
