package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/app/listing"
	"github.com/the-marketplace/project/internal/app/outbox"
	"github.com/the-marketplace/project/internal/config"
	"github.com/the-marketplace/project/internal/messaging"
	"github.com/the-marketplace/project/internal/platform/dbpool"
	"github.com/the-marketplace/project/internal/platform/httpserver"
	"github.com/the-marketplace/project/internal/platform/logging"
	"github.com/the-marketplace/project/internal/platform/metrics"
	"github.com/the-marketplace/project/internal/platform/natsutil"
	"github.com/the-marketplace/project/internal/platform/tracing"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.OutboxRelay]()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logger := logging.Setup(cfg.Logging, "outbox-relay")
	shutdownTracing := tracing.Setup(cfg.Tracing, "outbox-relay", logger)
	defer func() { _ = shutdownTracing(context.Background()) }()

	// The relay may start before the listing api has created the table.
	if err := listing.Migrate(cfg.Postgres.URL); err != nil {
		logger.WithError(err).Fatal("migrate listing schema")
	}
	pool, err := dbpool.New(runCtx, cfg.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("open postgres pool")
	}
	defer pool.Close()
	if err := dbpool.WaitReady(runCtx, pool, cfg.Postgres.ReadyTimeout, nil); err != nil {
		logger.WithError(err).Fatal("postgres not ready")
	}

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, "outbox-relay", cfg.NATS.ConnectTimeout)
	if err != nil {
		logger.WithError(err).Fatal("connect nats")
	}
	defer client.Close()

	store := outbox.NewStore(pool, nil)
	relay := outbox.NewRelay(store, messaging.NewJetStreamBroker(client.JS, logger), cfg.Outbox, logger)

	metrics.Default.MustRegister(metrics.NewGaugeFunc(metrics.Opts{
		Name: "outbox_pending_events",
		Help: "Outbox rows waiting to be relayed.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := store.PendingCount(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	}))

	router := httpserver.NewRouter(logger)
	httpserver.Mount(router, httpserver.NATSCheck(client.Conn), httpserver.PingCheck("postgres", pool))
	server := httpserver.New(cfg.Addr, cfg.HTTP, router)

	relayDone := make(chan error, 1)
	go func() { relayDone <- relay.Run(runCtx) }()

	logger.WithFields(log.Fields{
		"batch_size": relay.BatchSize,
		"interval":   relay.Interval.String(),
	}).Info("outbox relay started")
	if err := httpserver.Run(runCtx, server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.WithError(err).Error("probe server stopped with error")
		stop()
	}
	if err := <-relayDone; err != nil {
		logger.WithError(err).Error("outbox relay stopped with error")
	}
}
