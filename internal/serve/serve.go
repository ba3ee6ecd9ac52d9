// Package serve runs the HTTP servers of the binaries: signal-driven
// graceful shutdown, optional TLS and the Prometheus scrape endpoint.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/tooldelegate/observe"
)

// MetricsPath is where Prometheus metrics are served.
const MetricsPath = "/metrics"

// Options configures Run.
type Options struct {
	// Addr is the listen address.
	Addr string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// Prometheus mounts the scrape endpoint at /metrics.
	Prometheus bool

	Logger observe.Logger
}

// WithMetrics returns h with the Prometheus scrape endpoint mounted at
// /metrics when enabled.
func WithMetrics(h http.Handler, enabled bool) http.Handler {
	if !enabled {
		return h
	}
	mux := http.NewServeMux()
	mux.Handle("GET "+MetricsPath, promhttp.Handler())
	mux.Handle("/", h)
	return mux
}

// Run serves h until ctx is done, then shuts the server down. In-flight
// requests get ShutdownTimeout to finish.
func Run(ctx context.Context, h http.Handler, opts Options) error {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	logger := observe.LoggerOrNop(opts.Logger)
	tls := opts.CertFile != "" && opts.KeyFile != ""

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           WithMetrics(h, opts.Prometheus),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info(ctx, "listening",
			observe.Field{Key: "addr", Value: opts.Addr},
			observe.Field{Key: "tls", Value: tls},
		)
		var err error
		if tls {
			err = srv.ListenAndServeTLS(opts.CertFile, opts.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info(context.WithoutCancel(ctx), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}
	return nil
}
