package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/config"
	platformauth "github.com/the-marketplace/project/internal/platform/auth"
	"github.com/the-marketplace/project/internal/platform/logging"
	"github.com/the-marketplace/project/internal/platform/metrics"
)

func main() {
	cfg, err := config.Load[config.LoadGenerator]()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logger := logging.Setup(cfg.Logging, "load-generator")
	if cfg.Sellers <= 0 {
		logger.Fatal("LOADGEN_SELLERS must be > 0")
	}
	if cfg.Auth.Secret == "" {
		logger.Fatal("JWT_SECRET is required to sign seller tokens")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr, logger)

	tokens := platformauth.NewManager(cfg.Auth.Secret, cfg.Duration+time.Hour)
	r := newRunner(*cfg, tokens, logger)
	if err := r.waitForDependencies(ctx); err != nil {
		logger.WithError(err).Fatal("dependency readiness failed")
	}
	if err := r.Run(ctx); err != nil {
		logger.WithError(err).Fatal("load run failed")
	}
	logger.WithFields(log.Fields{
		"success_requests": r.requestsSuccess.Load(),
		"error_requests":   r.requestsError.Load(),
	}).Info("load test complete")
}

func runMetricsServer(addr string, logger *log.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.WithField("addr", addr).Info("load generator metrics endpoint listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("load generator metrics server failed")
	}
}
