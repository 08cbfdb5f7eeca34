// Package app wires the voxpipe subsystems into a running client.
//
// The App struct owns the full lifecycle: New wires the session over the
// provided transport and audio devices, Run executes the dispatch loop, the
// optional metrics listener, and the interactive prompt, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations of the transport and audio
// interfaces; the prompt reads from any io.Reader.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxpipe/voxpipe/internal/config"
	"github.com/voxpipe/voxpipe/internal/health"
	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/internal/session"
	"github.com/voxpipe/voxpipe/pkg/audio"
)

// errQuit signals a user-requested exit from the prompt.
var errQuit = errors.New("app: quit requested")

// Option is a functional option for New.
type Option func(*App)

// WithMetrics overrides the metrics instance (default
// [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPrompt replaces the interactive prompt's input and output streams
// (default stdin/stdout).
func WithPrompt(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.promptIn = in
		a.promptOut = out
	}
}

// WithoutPrompt disables the interactive prompt entirely. Run then blocks
// until the context is cancelled.
func WithoutPrompt() Option {
	return func(a *App) { a.promptIn = nil }
}

// App owns the session and its supporting listeners.
type App struct {
	cfg     *config.Config
	sess    *session.Session
	metrics *observe.Metrics

	promptIn  io.Reader
	promptOut io.Writer

	metricsSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// New wires a session from the given transport and audio devices.
func New(cfg *config.Config, tr session.Transport, device audio.CaptureDevice, player audio.Player, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		promptIn:  os.Stdin,
		promptOut: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── Session ─────────────────────────────────────────────────────────
	a.sess = session.New(tr, device, player,
		session.WithMetrics(a.metrics),
		session.WithCaptureConfig(audio.CaptureConfig{
			SampleRate: cfg.Audio.SampleRate,
			FrameSize:  cfg.Audio.FrameSize,
		}),
		session.WithConnectTimeout(cfg.Audio.ConnectTimeout),
	)
	a.closers = append(a.closers, a.sess.Close)

	// ── Metrics + health listener (optional) ────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		health.New(health.Checker{
			Name: "transport",
			Check: func(context.Context) error {
				if !tr.Connected() {
					return errors.New("not connected")
				}
				return nil
			},
		}).Register(mux)
		a.metricsSrv = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// Session exposes the wired session, mainly for tests.
func (a *App) Session() *session.Session { return a.sess }

// Run executes the dispatch loop, the metrics listener, and the prompt
// until the context is cancelled or the user quits. The initial connection
// attempt is best-effort: a cold start without the server is fine, the
// client connects on demand when listening starts.
func (a *App) Run(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.Audio.ConnectTimeout)
	if err := a.sess.Connect(cctx); err != nil {
		slog.Warn("server not reachable yet, will connect on demand", "err", err)
	}
	cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.sess.Run(ctx)
	})

	if a.metricsSrv != nil {
		srv := a.metricsSrv
		g.Go(func() error {
			slog.Info("metrics listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.promptIn != nil {
		g.Go(func() error {
			return a.prompt(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// Shutdown tears down the session and listeners. Safe to call more than
// once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.metricsSrv != nil {
			if err := a.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
