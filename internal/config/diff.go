package config

// Diff describes what changed between two configs. Only the fields that can
// be applied without restarting the client are tracked; everything else
// needs a new process.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EndpointChanged means the remote endpoint moved. The running
	// connection is not migrated; the change takes effect on the next
	// connect.
	EndpointChanged bool
	NewEndpoint     string

	// AudioChanged covers capture format and timing fields. These bind at
	// the next listening session.
	AudioChanged bool
}

// Changed reports whether the diff carries any change at all.
func (d Diff) Changed() bool {
	return d.LogLevelChanged || d.EndpointChanged || d.AudioChanged
}

// Compare returns what changed between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.Endpoint != new.Server.Endpoint {
		d.EndpointChanged = true
		d.NewEndpoint = new.Server.Endpoint
	}
	if old.Audio != new.Audio {
		d.AudioChanged = true
	}
	return d
}
