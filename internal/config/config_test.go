package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fidex.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Interaction.Cap != 20 {
		t.Errorf("cap = %d, want 20", cfg.Interaction.Cap)
	}
	if cfg.Interaction.Settle != 300*time.Millisecond || cfg.Interaction.ElementSettle != time.Second {
		t.Errorf("settle = %v/%v", cfg.Interaction.Settle, cfg.Interaction.ElementSettle)
	}
	if cfg.Interaction.ResolveAttempts != 10 || cfg.Interaction.ResolveInterval != 200*time.Millisecond {
		t.Errorf("resolve = %d x %v", cfg.Interaction.ResolveAttempts, cfg.Interaction.ResolveInterval)
	}
	if cfg.Trace.AsyncStackDepth != 32 {
		t.Errorf("async stack depth = %d", cfg.Trace.AsyncStackDepth)
	}
	if diff := cmp.Diff([]string{"chrome-extension://"}, cfg.Trace.NoisePrefixes); diff != "" {
		t.Errorf("noise prefixes (-want +got):\n%s", diff)
	}
	if cfg.Interaction.DisableGrouping {
		t.Error("grouping should be on by default")
	}
	if cfg.Browser.WindowWidth != 1920 || cfg.Browser.WindowHeight != 1080 {
		t.Errorf("window = %dx%d", cfg.Browser.WindowWidth, cfg.Browser.WindowHeight)
	}
	if cfg.Output.DB != filepath.Join("fidex-out", "fidex.db") {
		t.Errorf("db = %q", cfg.Output.DB)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	p := writeFile(t, `
browser:
  mode: headful
  proxy: http://127.0.0.1:8080
interaction:
  cap: 5
  settle: 50ms
  frame_pattern: /replay/
override:
  mode: timetravel
  primary: "20200102030405"
output:
  dir: /tmp/out
`)
	t.Setenv("FIDEX_INTERACTION_CAP", "7")
	t.Setenv("FIDEX_TRACE_NOISE_PREFIXES", "chrome-extension://,moz-extension://")
	t.Setenv("FIDEX_TELEMETRY_ENDPOINT", "http://collector:4318")

	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.Mode != "headful" || cfg.Browser.Proxy != "http://127.0.0.1:8080" {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Interaction.Cap != 7 {
		t.Errorf("cap = %d, want env override 7", cfg.Interaction.Cap)
	}
	if cfg.Interaction.Settle != 50*time.Millisecond {
		t.Errorf("settle = %v", cfg.Interaction.Settle)
	}
	if cfg.Interaction.FramePattern != "/replay/" {
		t.Errorf("frame pattern = %q", cfg.Interaction.FramePattern)
	}
	if diff := cmp.Diff([]string{"chrome-extension://", "moz-extension://"}, cfg.Trace.NoisePrefixes); diff != "" {
		t.Errorf("noise prefixes (-want +got):\n%s", diff)
	}
	if cfg.Telemetry.Endpoint != "http://collector:4318" {
		t.Errorf("endpoint = %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Output.DB != "/tmp/out/fidex.db" {
		t.Errorf("db = %q", cfg.Output.DB)
	}
}

func TestLoad_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"static without rules":  "override:\n  mode: static\n",
		"timetravel without ts": "override:\n  mode: timetravel\n",
		"unknown override":      "override:\n  mode: replay\n",
		"unknown browser mode":  "browser:\n  mode: kiosk\n",
		"malformed yaml":        "interaction: [",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
