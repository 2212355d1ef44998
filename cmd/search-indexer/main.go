package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/app/indexer"
	"github.com/the-marketplace/project/internal/app/search"
	"github.com/the-marketplace/project/internal/config"
	"github.com/the-marketplace/project/internal/messaging"
	"github.com/the-marketplace/project/internal/platform/httpserver"
	"github.com/the-marketplace/project/internal/platform/logging"
	"github.com/the-marketplace/project/internal/platform/natsutil"
	"github.com/the-marketplace/project/internal/platform/tracing"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.SearchIndexer]()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logger := logging.Setup(cfg.Logging, "search-indexer")
	shutdownTracing := tracing.Setup(cfg.Tracing, "search-indexer", logger)
	defer func() { _ = shutdownTracing(context.Background()) }()

	repository, closeRepository, err := search.OpenBackend(runCtx, cfg.Search, cfg.Postgres, logger)
	if err != nil {
		logger.WithError(err).Fatal("open search backend")
	}
	defer closeRepository()

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, "search-indexer", cfg.NATS.ConnectTimeout)
	if err != nil {
		logger.WithError(err).Fatal("connect nats")
	}
	defer client.Close()

	checks := []httpserver.Check{
		httpserver.NATSCheck(client.Conn),
		httpserver.PingCheck(cfg.Search.Backend, repository),
	}

	ix := indexer.New(repository, logger)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		ix.Dedup = indexer.NewRedisDeduper(rdb, cfg.Redis.DedupTTL)
		logger.WithField("redis_addr", cfg.Redis.Addr).Info("processed-message de-duplication enabled")
	}

	router := messaging.NewRouter(messaging.NewJetStreamBroker(client.JS, logger), logger)
	ix.Register(router, cfg.Indexer)

	probes := httpserver.NewRouter(logger)
	httpserver.Mount(probes, checks...)
	server := httpserver.New(cfg.Addr, cfg.HTTP, probes)
	serverDone := make(chan error, 1)
	go func() { serverDone <- httpserver.Run(runCtx, server, cfg.HTTP.ShutdownTimeout, logger) }()

	if err := router.Run(runCtx); err != nil {
		logger.WithError(err).Error("indexer routes failed")
		stop()
	}
	if err := <-serverDone; err != nil {
		logger.WithError(err).Error("probe server stopped with error")
	}
}
