// Package config handles configuration for hap-runner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/hap-runner/pkg/core"
)

// Config represents the workspace configuration (hap-runner.yaml).
type Config struct {
	// Device settings
	HDC    string `yaml:"hdc"`    // hdc binary, "hdc" from PATH when empty
	Target string `yaml:"target"` // connect key; first attached device when empty

	// Apps under test. Primary shows the permission dialog; Secondary runs
	// the automated cases once permission is granted.
	Primary   App `yaml:"primary"`
	Secondary App `yaml:"secondary"`

	// Permission dialog
	Template string   `yaml:"template"` // reference image of the "allow" button
	MinScore *float64 `yaml:"minScore"` // reject weaker matches when set

	// Logs pulled after the run, merged in this order.
	Logs        []Log    `yaml:"logs"`
	CombinedLog string   `yaml:"combinedLog"`
	LogEncoding string   `yaml:"logEncoding"` // utf-8, gbk, gb18030, ...
	Markers     []string `yaml:"markers"`

	// Local copy of the screenshot
	Snapshot string `yaml:"snapshot"`

	Delays Delays `yaml:"delays"`
	Probes Probes `yaml:"probes"`

	// Variables available as ${name} in probe commands
	Env map[string]string `yaml:"env"`
}

// App identifies an installable HAP and its entry ability.
type App struct {
	HAP     string `yaml:"hap"`
	Bundle  string `yaml:"bundle"`
	Ability string `yaml:"ability"`
}

// Log is a device log file and where to put it locally.
type Log struct {
	Remote string `yaml:"remote"`
	Local  string `yaml:"local"`
}

// Delays are the fixed waits between device-dependent steps.
type Delays struct {
	Settle Duration `yaml:"settle"` // after launching the primary app
	Logs   Duration `yaml:"logs"`   // after launching the secondary app
	Merge  Duration `yaml:"merge"`  // after merging, before classifying
}

// Probes optionally replace the settle and log delays with polling.
type Probes struct {
	Settle *Probe `yaml:"settle"`
	Logs   *Probe `yaml:"logs"`
}

// Probe polls a device command until a JavaScript predicate holds.
type Probe struct {
	Command   string   `yaml:"command"`
	Predicate string   `yaml:"predicate"`
	Interval  Duration `yaml:"interval"`
	Timeout   Duration `yaml:"timeout"`
}

// Duration is a time.Duration that reads "3s"/"500ms" strings or plain
// numbers of seconds from YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)

	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration for the USB permission automation.
func Default() *Config {
	return &Config{
		Primary: App{
			HAP:     "usbInfo-default-signed.hap",
			Bundle:  "com.example.nomralapp",
			Ability: "UsbInfoAbility",
		},
		Secondary: App{
			HAP:     "usb_fullAutomation_newsigned.hap",
			Bundle:  "com.example.automationapp",
			Ability: "UsbAutomationAbility",
		},
		Template: "allow_button_template.jpeg",
		Logs: []Log{
			{
				Remote: "/data/app/el2/100/base/com.example.nomralapp/haps/usbInfo/files/usb_info.log",
				Local:  "usb_info.log",
			},
			{
				Remote: "/data/app/el2/100/base/com.example.automationapp/haps/usbAutomation/files/usb_automation.log",
				Local:  "usb_automation.log",
			},
		},
		CombinedLog: "combined_log.log",
		LogEncoding: "utf-8",
		Markers:     []string{"失败", "没有"},
		Snapshot:    "snapshot.jpeg",
		Delays: Delays{
			Settle: Duration(3 * time.Second),
			Logs:   Duration(8 * time.Second),
			Merge:  Duration(1 * time.Second),
		},
	}
}

// Load loads configuration from a file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err).WithDetails(map[string]interface{}{"path": path})
	}

	return cfg, nil
}

// configNames are tried in order by LoadFromDir.
var configNames = []string{"hap-runner.yaml", "hap-runner.yml", "config.yaml", "config.yml"}

// LoadFromDir looks for hap-runner.yaml, then config.yaml (or .yml) in the
// directory. With none present it returns Default.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range configNames {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults
	return Default(), nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	required := []struct {
		field, value string
	}{
		{"primary.hap", c.Primary.HAP},
		{"primary.bundle", c.Primary.Bundle},
		{"primary.ability", c.Primary.Ability},
		{"secondary.hap", c.Secondary.HAP},
		{"secondary.bundle", c.Secondary.Bundle},
		{"secondary.ability", c.Secondary.Ability},
		{"template", c.Template},
		{"combinedLog", c.CombinedLog},
		{"snapshot", c.Snapshot},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return core.ErrMissingRequired.WithMessage("missing required field: " + r.field)
		}
	}

	if len(c.Logs) == 0 {
		return core.ErrMissingRequired.WithMessage("missing required field: logs")
	}
	for i, l := range c.Logs {
		if l.Remote == "" || l.Local == "" {
			return core.ErrMissingRequired.WithMessage(fmt.Sprintf("logs[%d] needs remote and local", i))
		}
	}

	if c.MinScore != nil && (*c.MinScore < -1 || *c.MinScore > 1) {
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("minScore %v outside [-1, 1]", *c.MinScore))
	}
	for name, d := range map[string]Duration{"settle": c.Delays.Settle, "logs": c.Delays.Logs, "merge": c.Delays.Merge} {
		if d < 0 {
			return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("delays.%s is negative", name))
		}
	}
	for name, p := range map[string]*Probe{"settle": c.Probes.Settle, "logs": c.Probes.Logs} {
		if p != nil && strings.TrimSpace(p.Command) == "" {
			return core.ErrMissingRequired.WithMessage(fmt.Sprintf("probes.%s.command is required", name))
		}
	}
	return nil
}

// Vars returns the probe variables: Env plus the bundle names.
func (c *Config) Vars() map[string]interface{} {
	vars := map[string]interface{}{
		"primaryBundle":   c.Primary.Bundle,
		"secondaryBundle": c.Secondary.Bundle,
		"target":          c.Target,
	}
	for k, v := range c.Env {
		vars[k] = v
	}
	return vars
}
