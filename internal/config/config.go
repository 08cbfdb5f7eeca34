// Package config provides the configuration schema and loader for the
// voxpipe voice client.
package config

import "time"

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxpipe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server Server `yaml:"server"`
	Audio  Audio  `yaml:"audio"`
}

// Server holds the remote endpoint and process-level settings.
type Server struct {
	// Endpoint is the base WebSocket URL of the speech service
	// (e.g., "ws://localhost:8000"). The client identity is appended as
	// a path segment at connect time.
	Endpoint string `yaml:"endpoint"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address for the Prometheus scrape endpoint
	// (e.g., ":9091"). Empty disables the metrics listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Audio holds capture and connection timing parameters.
type Audio struct {
	// SampleRate is the microphone capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per captured frame. With the
	// defaults (16 kHz, 4096 samples) each frame covers 256 ms.
	FrameSize int `yaml:"frame_size"`

	// ConnectTimeout bounds the single connection attempt made when
	// listening starts while disconnected.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: Server{
			Endpoint: "ws://localhost:8000",
			LogLevel: LogInfo,
		},
		Audio: Audio{
			SampleRate:     16000,
			FrameSize:      4096,
			ConnectTimeout: 5 * time.Second,
		},
	}
}
