package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/raytheonbbn/iron-bpf/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Bpf.Osc.FftSampleSize != 2048 {
		t.Errorf("Bpf.Osc.FftSampleSize = %d, want 2048", cfg.Bpf.Osc.FftSampleSize)
	}

	if cfg.Bpf.WeightTauUsec != 5000 {
		t.Errorf("Bpf.WeightTauUsec = %d, want 5000", cfg.Bpf.WeightTauUsec)
	}

	if !cfg.Bpf.WeightUseDynamicTau {
		t.Error("Bpf.WeightUseDynamicTau = false, want true")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	// Defaults must pass validation (no path controllers configured yet).
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
bpf:
  osc:
    fft_sample_size: 4096
  weight_tau_usec: 8000
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
pathcontroller:
  - type: "sond"
    label: "east"
    endpoints: "10.0.0.1->10.0.0.2:30201"
    max_line_rate_kbps: 50000
    est_pdd_sec: 0.05
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Bpf.Osc.FftSampleSize != 4096 {
		t.Errorf("Bpf.Osc.FftSampleSize = %d, want 4096", cfg.Bpf.Osc.FftSampleSize)
	}

	if cfg.Bpf.WeightTauUsec != 8000 {
		t.Errorf("Bpf.WeightTauUsec = %d, want 8000", cfg.Bpf.WeightTauUsec)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if len(cfg.PathControllers) != 1 {
		t.Fatalf("len(PathControllers) = %d, want 1", len(cfg.PathControllers))
	}

	pc := cfg.PathControllers[0]
	if pc.Label != "east" || pc.Endpoints != "10.0.0.1->10.0.0.2:30201" || pc.MaxLineRateKbps != 50000 {
		t.Errorf("PathControllers[0] = %+v, unexpected", pc)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override metrics.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
metrics:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Metrics.Addr != ":55555" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Bpf.Osc.FftSampleSize != 2048 {
		t.Errorf("Bpf.Osc.FftSampleSize = %d, want default 2048", cfg.Bpf.Osc.FftSampleSize)
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty metrics addr",
			modify: func(cfg *config.Config) {
				cfg.Metrics.Addr = ""
			},
			wantErr: config.ErrEmptyMetricsAddr,
		},
		{
			name: "zero fft sample size",
			modify: func(cfg *config.Config) {
				cfg.Bpf.Osc.FftSampleSize = 0
			},
			wantErr: config.ErrInvalidFftSampleSize,
		},
		{
			name: "unknown pathcontroller type",
			modify: func(cfg *config.Config) {
				cfg.PathControllers = []config.PathControllerConfig{
					{Type: "udp", Endpoints: "10.0.0.1->10.0.0.2"},
				}
			},
			wantErr: config.ErrInvalidPathControllerType,
		},
		{
			name: "empty pathcontroller endpoints",
			modify: func(cfg *config.Config) {
				cfg.PathControllers = []config.PathControllerConfig{
					{Type: "sond"},
				}
			},
			wantErr: config.ErrInvalidPathControllerEndpoints,
		},
		{
			name: "duplicate pathcontroller label",
			modify: func(cfg *config.Config) {
				cfg.PathControllers = []config.PathControllerConfig{
					{Type: "sond", Label: "east", Endpoints: "10.0.0.1->10.0.0.2"},
					{Type: "sond", Label: "east", Endpoints: "10.0.0.3->10.0.0.4"},
				}
			},
			wantErr: config.ErrDuplicatePathControllerLabel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestToFlatMap(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.PathControllers = []config.PathControllerConfig{
		{Type: "sond", Label: "east", Endpoints: "10.0.0.1->10.0.0.2:30201", MaxLineRateKbps: 1000, EstPddSec: 0.02},
	}

	flat := cfg.ToFlatMap()

	if flat["Bpf.NumPathControllers"] != "1" {
		t.Errorf("Bpf.NumPathControllers = %q, want %q", flat["Bpf.NumPathControllers"], "1")
	}
	if flat["Bpf.Osc.FftSampleSize"] != "2048" {
		t.Errorf("Bpf.Osc.FftSampleSize = %q, want %q", flat["Bpf.Osc.FftSampleSize"], "2048")
	}
	if flat["PathController.0.Type"] != "sond" {
		t.Errorf("PathController.0.Type = %q, want %q", flat["PathController.0.Type"], "sond")
	}
	if flat["PathController.0.Endpoints"] != "10.0.0.1->10.0.0.2:30201" {
		t.Errorf("PathController.0.Endpoints = %q, want %q", flat["PathController.0.Endpoints"], "10.0.0.1->10.0.0.2:30201")
	}
	if flat["PathController.0.MaxLineRateKbps"] != "1000" {
		t.Errorf("PathController.0.MaxLineRateKbps = %q, want %q", flat["PathController.0.MaxLineRateKbps"], "1000")
	}
}

func TestParseEndpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in        string
		wantLocal string
		wantRem   string
		wantErr   bool
	}{
		{in: "10.0.0.1->10.0.0.2", wantLocal: "10.0.0.1:30200", wantRem: "10.0.0.2:30200"},
		{in: "10.0.0.1:4000->10.0.0.2:5000", wantLocal: "10.0.0.1:4000", wantRem: "10.0.0.2:5000"},
		{in: "malformed", wantErr: true},
		{in: "->10.0.0.2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			local, remote, err := config.ParseEndpoints(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEndpoints(%q) = nil error, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoints(%q) error: %v", tt.in, err)
			}
			if local != tt.wantLocal || remote != tt.wantRem {
				t.Errorf("ParseEndpoints(%q) = (%q, %q), want (%q, %q)", tt.in, local, remote, tt.wantLocal, tt.wantRem)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "ironbpfd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
