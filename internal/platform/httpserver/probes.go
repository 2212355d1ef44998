package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/the-marketplace/project/internal/platform/metrics"
)

// Check reports whether one dependency is ready to serve traffic.
type Check func(ctx context.Context) error

// Mount registers /healthz, /readyz and /metrics on r.
func Mount(r chi.Router, checks ...Check) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			checkCtx, cancel := context.WithTimeout(r.Context(), 1500*time.Millisecond)
			err := check(checkCtx)
			cancel()
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		writeOK(w)
	})
	r.Method(http.MethodGet, "/metrics", metrics.DefaultHandler())
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// NATSCheck fails unless conn is connected.
func NATSCheck(conn *nats.Conn) Check {
	return func(context.Context) error {
		if conn == nil {
			return errors.New("nats connection is nil")
		}
		if conn.Status() != nats.CONNECTED {
			return fmt.Errorf("nats is not connected: %s", conn.Status().String())
		}
		return nil
	}
}

// PingCheck wraps anything with a Ping(ctx) method, such as a pgx pool.
func PingCheck(name string, pinger interface{ Ping(context.Context) error }) Check {
	return func(ctx context.Context) error {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
		return nil
	}
}
