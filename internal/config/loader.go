package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides, applied after the file is parsed. They
// exist so that a .env file (or the process environment) can point the same
// config at a different deployment without editing YAML.
const (
	EnvEndpoint       = "VOXPIPE_ENDPOINT"
	EnvLogLevel       = "VOXPIPE_LOG_LEVEL"
	EnvMetricsAddr    = "VOXPIPE_METRICS_ADDR"
	EnvConnectTimeout = "VOXPIPE_CONNECT_TIMEOUT"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills unset fields from
// [Default], applies environment overrides, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields from [Default].
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Endpoint == "" {
		cfg.Server.Endpoint = def.Server.Endpoint
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = def.Audio.FrameSize
	}
	if cfg.Audio.ConnectTimeout == 0 {
		cfg.Audio.ConnectTimeout = def.Audio.ConnectTimeout
	}
}

// applyEnv overrides cfg fields from the process environment.
func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvEndpoint); v != "" {
		cfg.Server.Endpoint = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv(EnvConnectTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s %q: %w", EnvConnectTimeout, v, err)
		}
		cfg.Audio.ConnectTimeout = d
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.Endpoint == "" {
		errs = append(errs, errors.New("server.endpoint is required"))
	} else {
		u, err := url.Parse(cfg.Server.Endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("server.endpoint %q is not a valid URL: %w", cfg.Server.Endpoint, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("server.endpoint scheme %q is invalid; valid values: ws, wss", u.Scheme))
		}
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("audio.connect_timeout %s must not be negative", cfg.Audio.ConnectTimeout))
	}

	return errors.Join(errs...)
}
