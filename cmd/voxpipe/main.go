// Command voxpipe is an interactive voice client for a duplex speech
// service: it streams the microphone upstream as raw PCM and plays the
// synthesized replies coming back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxpipe/voxpipe/internal/app"
	"github.com/voxpipe/voxpipe/internal/config"
	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/pkg/audio/beepout"
	"github.com/voxpipe/voxpipe/pkg/audio/portaudio"
	"github.com/voxpipe/voxpipe/pkg/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ───────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	flag.Parse()

	// ── Environment ─────────────────────────────────────────────────────
	// A .env next to the binary can carry the VOXPIPE_* overrides.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	// ── Load configuration ──────────────────────────────────────────────
	cfg, watcher, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxpipe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxpipe: %v\n", err)
		}
		return 1
	}
	if watcher != nil {
		defer watcher.Stop()
	}

	// ── Logger ──────────────────────────────────────────────────────────
	levelVar := &slog.LevelVar{}
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("voxpipe starting",
		"endpoint", cfg.Server.Endpoint,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ───────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Wiring ──────────────────────────────────────────────────────────
	clientID := transport.NewClientID()
	tr := transport.New(cfg.Server.Endpoint, clientID)
	device := &portaudio.Device{}
	player := beepout.New()
	defer player.Close()

	application, err := app.New(cfg, tr, device, player)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Log level follows config file edits while the client runs.
	if watcher != nil {
		watcher.SetOnChange(func(old, new *config.Config) {
			d := config.Compare(old, new)
			if d.LogLevelChanged {
				levelVar.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.EndpointChanged {
				slog.Warn("endpoint changed in config; restart to apply", "endpoint", d.NewEndpoint)
			}
		})
	}

	printStartupSummary(cfg, clientID)

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ───────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig resolves the effective configuration. With no -config flag the
// defaults (plus environment overrides) apply and no watcher is started.
func loadConfig(path string) (*config.Config, *config.Watcher, error) {
	if path == "" {
		cfg := config.Default()
		if err := config.Validate(cfg); err != nil {
			return nil, nil, err
		}
		return cfg, nil, nil
	}
	w, err := config.NewWatcher(path, nil)
	if err != nil {
		return nil, nil, err
	}
	return w.Current(), w, nil
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, clientID string) {
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║            voxpipe — voice client            ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	printRow("Endpoint", cfg.Server.Endpoint)
	printRow("Client ID", clientID)
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printRow("Frame size", fmt.Sprintf("%d samples", cfg.Audio.FrameSize))
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics", cfg.Server.MetricsAddr)
	} else {
		printRow("Metrics", "(disabled)")
	}
	fmt.Println("╚══════════════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 26 {
		value = value[:23] + "…"
	}
	fmt.Printf("║  %-14s : %-26s ║\n", key, value)
}

// ── Logger ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
