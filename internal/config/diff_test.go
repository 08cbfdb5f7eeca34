package config_test

import (
	"testing"
	"time"

	"github.com/voxpipe/voxpipe/internal/config"
)

func TestCompare_NoChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()

	d := config.Compare(old, new)
	if d.Changed() {
		t.Errorf("identical configs reported as changed: %+v", d)
	}
}

func TestCompare_LogLevel(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Compare(old, new)
	if !d.LogLevelChanged {
		t.Error("LogLevelChanged = false")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.EndpointChanged || d.AudioChanged {
		t.Errorf("unrelated fields flagged: %+v", d)
	}
}

func TestCompare_Endpoint(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.Endpoint = "wss://other.example.com"

	d := config.Compare(old, new)
	if !d.EndpointChanged {
		t.Error("EndpointChanged = false")
	}
	if d.NewEndpoint != "wss://other.example.com" {
		t.Errorf("NewEndpoint = %q", d.NewEndpoint)
	}
}

func TestCompare_Audio(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Audio.ConnectTimeout = 10 * time.Second

	d := config.Compare(old, new)
	if !d.AudioChanged {
		t.Error("AudioChanged = false")
	}
	if !d.Changed() {
		t.Error("Changed() = false")
	}
}
