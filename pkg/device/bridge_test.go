package device_test

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devicelab-dev/hap-runner/pkg/core"
	"github.com/devicelab-dev/hap-runner/pkg/device"
	"github.com/devicelab-dev/hap-runner/pkg/device/mock"
)

func TestBridge_Install(t *testing.T) {
	m := mock.New(mock.Config{})
	b := device.NewBridge(m)

	if err := b.Install(context.Background(), "/opt/hap runner/usbInfo-default-signed.hap"); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	want := `hdc install '/opt/hap runner/usbInfo-default-signed.hap'`
	if got := m.Calls(); len(got) != 1 || got[0] != want {
		t.Errorf("calls = %q, want [%q]", got, want)
	}
}

func TestBridge_StartAbility(t *testing.T) {
	m := mock.New(mock.Config{})
	b := device.NewBridge(m)

	if err := b.StartAbility(context.Background(), "com.example.nomralapp", "UsbInfoAbility"); err != nil {
		t.Fatalf("StartAbility failed: %v", err)
	}
	want := "hdc shell aa start -a UsbInfoAbility -b com.example.nomralapp"
	if got := m.Calls()[0]; got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestBridge_NonZeroExitIsCommandFailed(t *testing.T) {
	m := mock.New(mock.Config{FailOnCommand: 1})
	b := device.NewBridge(m)

	err := b.Install(context.Background(), "a.hap")
	if !errors.Is(err, core.ErrCommandFailed) {
		t.Fatalf("err = %v, want ErrCommandFailed", err)
	}
	if !strings.Contains(err.Error(), "hdc install a.hap") {
		t.Errorf("error should name the command: %v", err)
	}
	if core.StatusFor(err) != core.StatusFailed {
		t.Errorf("StatusFor = %v, want failed", core.StatusFor(err))
	}
}

func TestBridge_Screenshot(t *testing.T) {
	local := filepath.Join(t.TempDir(), "snapshot.jpeg")
	m := mock.New(mock.Config{
		Files: map[string][]byte{mock.DefaultSnapshotPath: []byte("jpeg bytes")},
	})
	b := device.NewBridge(m)

	remote, err := b.Screenshot(context.Background(), local)
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if remote != mock.DefaultSnapshotPath {
		t.Errorf("remote = %q", remote)
	}

	want := []string{
		"hdc shell rm -f /data/local/tmp/snapshot_*.jpeg",
		"hdc shell snapshot_display",
		"hdc file recv " + mock.DefaultSnapshotPath + " " + local,
	}
	if got := m.Calls(); strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("calls:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
	data, err := os.ReadFile(local)
	if err != nil || string(data) != "jpeg bytes" {
		t.Errorf("local snapshot = %q, %v", data, err)
	}
}

func TestBridge_ScreenshotPathMissing(t *testing.T) {
	m := mock.New(mock.Config{SnapshotOutput: "fail to get screenshot\n"})
	b := device.NewBridge(m)

	_, err := b.Screenshot(context.Background(), filepath.Join(t.TempDir(), "snapshot.jpeg"))
	if !errors.Is(err, core.ErrSnapshotPathNotFound) {
		t.Fatalf("err = %v, want ErrSnapshotPathNotFound", err)
	}
	for _, c := range m.Calls() {
		if strings.Contains(c, "file recv") {
			t.Errorf("recv issued after parse failure: %q", c)
		}
	}
}

func TestBridge_Tap(t *testing.T) {
	m := mock.New(mock.Config{})
	b := device.NewBridge(m)

	if err := b.Tap(context.Background(), image.Pt(540, 1820)); err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	want := []string{
		"hdc shell uinput -T -d 540 1820",
		"hdc shell uinput -T -u 540 1820",
	}
	if got := m.Calls(); strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestBridge_TapStopsAfterFailedDown(t *testing.T) {
	m := mock.New(mock.Config{FailMatching: "-d"})
	b := device.NewBridge(m)

	if err := b.Tap(context.Background(), image.Pt(1, 2)); !errors.Is(err, core.ErrCommandFailed) {
		t.Fatalf("err = %v, want ErrCommandFailed", err)
	}
	if n := len(m.Calls()); n != 1 {
		t.Errorf("issued %d commands, want 1", n)
	}
}

func TestParseSnapshotPath(t *testing.T) {
	tests := []struct {
		output  string
		want    string
		wantErr bool
	}{
		{"write to /data/local/tmp/snapshot_2024-05-01_12-30-05.jpeg as jpeg\n", "/data/local/tmp/snapshot_2024-05-01_12-30-05.jpeg", false},
		{"noise /data/local/tmp/snapshot_2023-12-31_23-59-59.jpeg trailing", "/data/local/tmp/snapshot_2023-12-31_23-59-59.jpeg", false},
		{"/data/local/tmp/snapshot_2024-5-1_12-30-05.jpeg", "", true},
		{"/data/local/tmp/snapshot_2024-05-01_12-30-05.png", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := device.ParseSnapshotPath(tt.output)
		if tt.wantErr {
			if !errors.Is(err, core.ErrSnapshotPathNotFound) {
				t.Errorf("ParseSnapshotPath(%q) err = %v, want ErrSnapshotPathNotFound", tt.output, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseSnapshotPath(%q) = %q, %v; want %q", tt.output, got, err, tt.want)
		}
	}
}
