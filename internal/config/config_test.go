package config_test

import (
	"testing"

	"github.com/voxpipe/voxpipe/internal/config"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("Default() fails validation: %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = false", l)
		}
	}
	for _, l := range []config.LogLevel{"", "verbose", "INFO"} {
		if l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = true", l)
		}
	}
}
