// Package config loads fidex configuration: a YAML file, then FIDEX_*
// environment overrides, then defaults for anything still unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIDEX_"

// Config is the top-level configuration.
type Config struct {
	Browser     BrowserConfig     `yaml:"browser" envPrefix:"BROWSER_"`
	Interaction InteractionConfig `yaml:"interaction" envPrefix:"INTERACTION_"`
	Trace       TraceConfig       `yaml:"trace" envPrefix:"TRACE_"`
	Override    OverrideConfig    `yaml:"override" envPrefix:"OVERRIDE_"`
	Output      OutputConfig      `yaml:"output" envPrefix:"OUTPUT_"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig struct {
	Remote          string        `yaml:"remote" env:"REMOTE"`
	Bin             string        `yaml:"bin" env:"BIN"`
	Mode            string        `yaml:"mode" env:"MODE"` // headless | headful
	XvfbDisplay     string        `yaml:"xvfb_display" env:"XVFB_DISPLAY"`
	UserDataDir     string        `yaml:"user_data_dir" env:"USER_DATA_DIR"`
	Proxy           string        `yaml:"proxy" env:"PROXY"`
	ExtensionDir    string        `yaml:"extension_dir" env:"EXTENSION_DIR"`
	WindowWidth     int           `yaml:"window_width" env:"WINDOW_WIDTH"`
	WindowHeight    int           `yaml:"window_height" env:"WINDOW_HEIGHT"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout" env:"NAVIGATE_TIMEOUT"`
}

// InteractionConfig controls inventory and triggering.
type InteractionConfig struct {
	Cap             int           `yaml:"cap" env:"CAP"`
	Shuffle         bool          `yaml:"shuffle" env:"SHUFFLE"`
	Seed            uint64        `yaml:"seed" env:"SEED"`
	DisableGrouping bool          `yaml:"disable_grouping" env:"DISABLE_GROUPING"`
	LoadSettle      time.Duration `yaml:"load_settle" env:"LOAD_SETTLE"`
	Settle          time.Duration `yaml:"settle" env:"SETTLE"`
	ElementSettle   time.Duration `yaml:"element_settle" env:"ELEMENT_SETTLE"`
	ResolveAttempts int           `yaml:"resolve_attempts" env:"RESOLVE_ATTEMPTS"`
	ResolveInterval time.Duration `yaml:"resolve_interval" env:"RESOLVE_INTERVAL"`

	// FramePattern selects the archive viewer's inner frame by URL
	// substring. Empty means the top-level document is the surface.
	FramePattern string `yaml:"frame_pattern" env:"FRAME_PATTERN"`
}

// TraceConfig controls the provenance correlator.
type TraceConfig struct {
	AsyncStackDepth int      `yaml:"async_stack_depth" env:"ASYNC_STACK_DEPTH"`
	NoisePrefixes   []string `yaml:"noise_prefixes" env:"NOISE_PREFIXES"`
}

// Override modes.
const (
	OverrideNone       = ""
	OverrideStatic     = "static"
	OverrideTimeTravel = "timetravel"
)

// OverrideConfig selects at most one network override mode.
type OverrideConfig struct {
	Mode      string `yaml:"mode" env:"MODE"`
	RulesFile string `yaml:"rules_file" env:"RULES_FILE"`
	Primary   string `yaml:"primary" env:"PRIMARY"` // YYYYMMDDhhmmss
	Patch     string `yaml:"patch" env:"PATCH"`
	Subject   string `yaml:"subject" env:"SUBJECT"`
}

// OutputConfig says where artifacts go.
type OutputConfig struct {
	Dir    string `yaml:"dir" env:"DIR"`
	DB     string `yaml:"db" env:"DB"`
	Stdout bool   `yaml:"stdout" env:"STDOUT"`
	Listen string `yaml:"listen" env:"LISTEN"`
}

// TelemetryConfig enables OTLP tracing when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Load reads path (optional), applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseEnv overlays FIDEX_* environment variables onto target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.WindowWidth <= 0 {
		c.Browser.WindowWidth = 1920
	}
	if c.Browser.WindowHeight <= 0 {
		c.Browser.WindowHeight = 1080
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 60 * time.Second
	}
	if c.Interaction.Cap <= 0 {
		c.Interaction.Cap = 20
	}
	if c.Interaction.LoadSettle <= 0 {
		c.Interaction.LoadSettle = time.Second
	}
	if c.Interaction.Settle <= 0 {
		c.Interaction.Settle = 300 * time.Millisecond
	}
	if c.Interaction.ElementSettle <= 0 {
		c.Interaction.ElementSettle = time.Second
	}
	if c.Interaction.ResolveAttempts <= 0 {
		c.Interaction.ResolveAttempts = 10
	}
	if c.Interaction.ResolveInterval <= 0 {
		c.Interaction.ResolveInterval = 200 * time.Millisecond
	}
	if c.Trace.AsyncStackDepth <= 0 {
		c.Trace.AsyncStackDepth = 32
	}
	if c.Trace.NoisePrefixes == nil {
		c.Trace.NoisePrefixes = []string{"chrome-extension://"}
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "fidex-out"
	}
	if c.Output.DB == "" {
		c.Output.DB = filepath.Join(c.Output.Dir, "fidex.db")
	}
	if c.Output.Listen == "" {
		c.Output.Listen = "127.0.0.1:8087"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "fidex"
	}
}

// Validate checks the combinations defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	switch c.Override.Mode {
	case OverrideNone:
	case OverrideStatic:
		if c.Override.RulesFile == "" {
			return fmt.Errorf("config: override.mode static needs override.rules_file")
		}
	case OverrideTimeTravel:
		if c.Override.Primary == "" {
			return fmt.Errorf("config: override.mode timetravel needs override.primary")
		}
	default:
		return fmt.Errorf("config: override.mode %q: want static or timetravel", c.Override.Mode)
	}
	return nil
}
