package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/app/listing"
	"github.com/the-marketplace/project/internal/app/outbox"
	"github.com/the-marketplace/project/internal/config"
	"github.com/the-marketplace/project/internal/messaging"
	platformauth "github.com/the-marketplace/project/internal/platform/auth"
	"github.com/the-marketplace/project/internal/platform/dbpool"
	"github.com/the-marketplace/project/internal/platform/httpserver"
	"github.com/the-marketplace/project/internal/platform/logging"
	"github.com/the-marketplace/project/internal/platform/natsutil"
	"github.com/the-marketplace/project/internal/platform/tracing"
)

const (
	publishDirect = "direct"
	publishOutbox = "outbox"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.ListingAPI]()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logger := logging.Setup(cfg.Logging, "listing-api")
	shutdownTracing := tracing.Setup(cfg.Tracing, "listing-api", logger)
	defer func() { _ = shutdownTracing(context.Background()) }()

	if cfg.PublishMode != publishDirect && cfg.PublishMode != publishOutbox {
		logger.WithField("publish_mode", cfg.PublishMode).Fatal("PUBLISH_MODE must be direct or outbox")
	}

	tokens, err := platformauth.NewManagerFromConfig(cfg.Auth)
	if err != nil {
		logger.WithError(err).Fatal("configure auth")
	}

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

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, "listing-api", cfg.NATS.ConnectTimeout)
	if err != nil {
		logger.WithError(err).Fatal("connect nats")
	}
	defer client.Close()
	events := messaging.NewEventPublisher(messaging.NewJetStreamBroker(client.JS, logger))

	var (
		repository = listing.NewPostgresRepository(pool, nil)
		publisher  listing.EventPublisher
	)
	if cfg.PublishMode == publishOutbox {
		repository.Outbox = outbox.NewStore(pool, events)
	} else {
		publisher = events
	}
	service := listing.NewService(repository, publisher, logger)
	handler := listing.NewHandler(service, platformauth.Middleware(tokens, true), cfg.HTTP.AllowedOrigin, logger)

	router := httpserver.NewRouter(logger)
	httpserver.Mount(router, httpserver.NATSCheck(client.Conn), httpserver.PingCheck("postgres", pool))
	router.Mount("/", handler.Router())

	logger.WithField("publish_mode", cfg.PublishMode).Info("listing api starting")
	server := httpserver.New(cfg.Addr, cfg.HTTP, router)
	if err := httpserver.Run(runCtx, server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.WithError(err).Error("listing api stopped with error")
	}
}
