// Package config loads the IRON backpressure-forwarder daemon's
// configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides. The typed
// Config this package produces is consumed only by cmd/ironbpfd; the
// data-plane core never imports koanf, it only
// ever sees the flattened map ToFlatMap produces (spec.md §6).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/raytheonbbn/iron-bpf/internal/oscillator"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete ironbpfd configuration.
type Config struct {
	Bpf             BpfConfig              `koanf:"bpf"`
	PathControllers []PathControllerConfig `koanf:"pathcontroller"`
	Log             LogConfig              `koanf:"log"`
	Metrics         MetricsConfig          `koanf:"metrics"`
	Control         ControlConfig          `koanf:"control"`
}

// BpfConfig holds the data-plane core's tunables (spec.md §6's "Bpf.*"
// keys): the queue-depth oscillator, the per-bin EWMA weight, and the
// set of configured path controllers.
type BpfConfig struct {
	Osc OscConfig `koanf:"osc"`

	// WeightTauUsec is Bpf.WeightTauUsec, in microseconds.
	WeightTauUsec int64 `koanf:"weight_tau_usec"`
	// WeightUseDynamicTau is Bpf.WeightUseDynamicTau.
	WeightUseDynamicTau bool `koanf:"weight_use_dynamic_tau"`
	// WeightMaxIntervalUsec is Bpf.WeightMaxIntervalUsec, in microseconds.
	WeightMaxIntervalUsec int64 `koanf:"weight_max_interval_usec"`
}

// OscConfig holds the queue-depth oscillator's configuration
// (spec.md §6's "Bpf.Osc.*" keys, spec.md §4.5).
type OscConfig struct {
	FftSampleSize            int     `koanf:"fft_sample_size"`
	FftSampleTimeSecs        float64 `koanf:"fft_sample_time_secs"`
	FftComputeTimeSecs       float64 `koanf:"fft_compute_time_secs"`
	MaxConsideredPeriodSecs  float64 `koanf:"max_considered_period_secs"`
	MinTimeBetweenResetsSecs float64 `koanf:"min_time_between_resets_secs"`
	ResetTriggerFraction     float64 `koanf:"reset_trigger_fraction"`
	ResetTriggerTimeSecs     float64 `koanf:"reset_trigger_time_secs"`
	UseSoftReset             bool    `koanf:"use_soft_reset"`
}

// PathControllerConfig describes one declarative path controller
// (spec.md §6's "PathController.<n>.*" keys). Each entry creates one
// controller on daemon startup; a SIGHUP reload does not add, remove or
// rebuild controllers.
type PathControllerConfig struct {
	// Type selects the controller implementation; "sond" is the only
	// one this repo implements (internal/pathctl).
	Type string `koanf:"type"`
	// Label is a human-readable name used in logging/metrics labels.
	Label string `koanf:"label"`
	// Endpoints is "LOCAL_IP[:PORT]->REMOTE_IP[:PORT]"; a missing port
	// defaults to 30200 (spec.md §6).
	Endpoints string `koanf:"endpoints"`
	// MaxLineRateKbps is the configured pacing rate.
	MaxLineRateKbps uint64 `koanf:"max_line_rate_kbps"`
	// EstPddSec is the estimated one-way propagation delay, in seconds.
	EstPddSec float64 `koanf:"est_pdd_sec"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// ControlConfig holds the read-only local introspection endpoint's
// configuration, queried by cmd/ironbpfctl.
type ControlConfig struct {
	// Addr is the HTTP listen address for the introspection endpoint.
	Addr string `koanf:"addr"`
}

// DefaultEndpointPort is the default port assumed for either side of an
// Endpoints string that omits one (spec.md §6).
const DefaultEndpointPort = 30200

// DefaultPathControllerType is the controller implementation assumed
// when PathControllerConfig.Type is unset.
const DefaultPathControllerType = "sond"

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with spec.md §4.5/§4.4/§6's
// documented defaults. PathControllers is left empty; a daemon started
// with no configured path controllers has nowhere to forward and is
// expected to fail startup validation once any are required.
func DefaultConfig() *Config {
	return &Config{
		Bpf: BpfConfig{
			Osc: OscConfig{
				FftSampleSize:            oscillator.DefaultSampleSize,
				FftSampleTimeSecs:        oscillator.DefaultSampleInterval.Seconds(),
				FftComputeTimeSecs:       oscillator.DefaultComputeInterval.Seconds(),
				MaxConsideredPeriodSecs:  oscillator.DefaultMaxConsideredPeriod.Seconds(),
				MinTimeBetweenResetsSecs: oscillator.DefaultMinTimeBetweenResets.Seconds(),
				ResetTriggerFraction:     oscillator.DefaultResetTriggerFraction,
				ResetTriggerTimeSecs:     oscillator.DefaultResetTriggerTime.Seconds(),
				UseSoftReset:             false,
			},
			WeightTauUsec:         oscillator.DefaultWeightTau.Microseconds(),
			WeightUseDynamicTau:   true,
			WeightMaxIntervalUsec: 10000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Control: ControlConfig{
			Addr: "127.0.0.1:9101",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for ironbpfd configuration.
// Variables are named IRON_<section>_<key>, e.g., IRON_METRICS_ADDR.
const envPrefix = "IRON_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (IRON_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping strips the IRON_ prefix, lowercases the
// rest and turns every underscore into a dot:
//
//	IRON_METRICS_ADDR        -> metrics.addr
//	IRON_LOG_LEVEL           -> log.level
//	IRON_BPF_WEIGHT_TAU_USEC -> bpf.weight.tau.usec
//
// Keys whose own names contain an underscore (such as bpf.weight_tau_usec)
// therefore cannot be set from the environment.
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms IRON_METRICS_ADDR -> metrics.addr.
// Strips the IRON_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"bpf.osc.fft_sample_size":              defaults.Bpf.Osc.FftSampleSize,
		"bpf.osc.fft_sample_time_secs":         defaults.Bpf.Osc.FftSampleTimeSecs,
		"bpf.osc.fft_compute_time_secs":        defaults.Bpf.Osc.FftComputeTimeSecs,
		"bpf.osc.max_considered_period_secs":   defaults.Bpf.Osc.MaxConsideredPeriodSecs,
		"bpf.osc.min_time_between_resets_secs": defaults.Bpf.Osc.MinTimeBetweenResetsSecs,
		"bpf.osc.reset_trigger_fraction":        defaults.Bpf.Osc.ResetTriggerFraction,
		"bpf.osc.reset_trigger_time_secs":       defaults.Bpf.Osc.ResetTriggerTimeSecs,
		"bpf.osc.use_soft_reset":                defaults.Bpf.Osc.UseSoftReset,
		"bpf.weight_tau_usec":                   defaults.Bpf.WeightTauUsec,
		"bpf.weight_use_dynamic_tau":             defaults.Bpf.WeightUseDynamicTau,
		"bpf.weight_max_interval_usec":           defaults.Bpf.WeightMaxIntervalUsec,
		"log.level":                              defaults.Log.Level,
		"log.format":                             defaults.Log.Format,
		"metrics.addr":                           defaults.Metrics.Addr,
		"metrics.path":                           defaults.Metrics.Path,
		"control.addr":                           defaults.Control.Addr,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// ToFlatMap
// -------------------------------------------------------------------------

// ToFlatMap walks cfg and produces the flat string->string map spec.md
// §6 names as the core's actual configuration contract, preserving its
// dotted, PascalCase-segment key style ("Bpf.Osc.FftSampleSize",
// "PathController.0.Type", ...). The data-plane core consumes only this
// map; it never sees the typed Config or koanf.
func (cfg *Config) ToFlatMap() map[string]string {
	m := map[string]string{
		"Bpf.Osc.FftSampleSize":            strconv.Itoa(cfg.Bpf.Osc.FftSampleSize),
		"Bpf.Osc.FftSampleTimeSecs":        formatFloat(cfg.Bpf.Osc.FftSampleTimeSecs),
		"Bpf.Osc.FftComputeTimeSecs":       formatFloat(cfg.Bpf.Osc.FftComputeTimeSecs),
		"Bpf.Osc.MaxConsideredPeriodSecs":  formatFloat(cfg.Bpf.Osc.MaxConsideredPeriodSecs),
		"Bpf.Osc.MinTimeBetweenResetsSecs": formatFloat(cfg.Bpf.Osc.MinTimeBetweenResetsSecs),
		"Bpf.Osc.ResetTriggerFraction":     formatFloat(cfg.Bpf.Osc.ResetTriggerFraction),
		"Bpf.Osc.ResetTriggerTimeSecs":     formatFloat(cfg.Bpf.Osc.ResetTriggerTimeSecs),
		"Bpf.Osc.UseSoftReset":             strconv.FormatBool(cfg.Bpf.Osc.UseSoftReset),
		"Bpf.WeightTauUsec":                strconv.FormatInt(cfg.Bpf.WeightTauUsec, 10),
		"Bpf.WeightUseDynamicTau":          strconv.FormatBool(cfg.Bpf.WeightUseDynamicTau),
		"Bpf.WeightMaxIntervalUsec":        strconv.FormatInt(cfg.Bpf.WeightMaxIntervalUsec, 10),
		"Bpf.NumPathControllers":           strconv.Itoa(len(cfg.PathControllers)),
	}

	for i, pc := range cfg.PathControllers {
		prefix := fmt.Sprintf("PathController.%d.", i)
		m[prefix+"Type"] = pc.Type
		m[prefix+"Label"] = pc.Label
		m[prefix+"Endpoints"] = pc.Endpoints
		m[prefix+"MaxLineRateKbps"] = strconv.FormatUint(pc.MaxLineRateKbps, 10)
		m[prefix+"EstPddSec"] = formatFloat(pc.EstPddSec)
	}

	return m
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidFftSampleSize indicates the oscillator's FFT sample size
	// is not positive.
	ErrInvalidFftSampleSize = errors.New("bpf.osc.fft_sample_size must be > 0")

	// ErrInvalidPathControllerType indicates a path controller entry
	// names an implementation this daemon does not have.
	ErrInvalidPathControllerType = errors.New(`pathcontroller type must be "sond"`)

	// ErrInvalidPathControllerEndpoints indicates a path controller
	// entry's Endpoints string is empty.
	ErrInvalidPathControllerEndpoints = errors.New("pathcontroller endpoints must not be empty")

	// ErrDuplicatePathControllerLabel indicates two path controllers
	// share the same label.
	ErrDuplicatePathControllerLabel = errors.New("duplicate pathcontroller label")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if cfg.Bpf.Osc.FftSampleSize <= 0 {
		return ErrInvalidFftSampleSize
	}

	return validatePathControllers(cfg.PathControllers)
}

func validatePathControllers(pcs []PathControllerConfig) error {
	seen := make(map[string]struct{}, len(pcs))

	for i, pc := range pcs {
		if pc.Type != "" && pc.Type != DefaultPathControllerType {
			return fmt.Errorf("pathcontroller[%d] type %q: %w", i, pc.Type, ErrInvalidPathControllerType)
		}

		if pc.Endpoints == "" {
			return fmt.Errorf("pathcontroller[%d]: %w", i, ErrInvalidPathControllerEndpoints)
		}

		label := pc.Label
		if label == "" {
			label = pc.Endpoints
		}
		if _, dup := seen[label]; dup {
			return fmt.Errorf("pathcontroller[%d] label %q: %w", i, label, ErrDuplicatePathControllerLabel)
		}
		seen[label] = struct{}{}
	}

	return nil
}

// ParseEndpoints splits an Endpoints string of the form
// "LOCAL_IP[:PORT]->REMOTE_IP[:PORT]" into its local and remote halves,
// applying DefaultEndpointPort where a port is omitted.
func ParseEndpoints(endpoints string) (local, remote string, err error) {
	parts := strings.SplitN(endpoints, "->", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("parse endpoints %q: want LOCAL[:PORT]->REMOTE[:PORT]", endpoints)
	}
	local = withDefaultPort(parts[0])
	remote = withDefaultPort(parts[1])
	return local, remote, nil
}

func withDefaultPort(hostport string) string {
	if strings.Contains(hostport, ":") {
		return hostport
	}
	return fmt.Sprintf("%s:%d", hostport, DefaultEndpointPort)
}

// ParseLogLevel maps a LogConfig.Level string to an slog.Level,
// defaulting to slog.LevelInfo for anything unrecognized.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
