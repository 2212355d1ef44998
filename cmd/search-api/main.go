package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/app/search"
	"github.com/the-marketplace/project/internal/config"
	platformauth "github.com/the-marketplace/project/internal/platform/auth"
	"github.com/the-marketplace/project/internal/platform/httpserver"
	"github.com/the-marketplace/project/internal/platform/logging"
	"github.com/the-marketplace/project/internal/platform/tracing"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.SearchAPI]()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logger := logging.Setup(cfg.Logging, "search-api")
	shutdownTracing := tracing.Setup(cfg.Tracing, "search-api", logger)
	defer func() { _ = shutdownTracing(context.Background()) }()

	repository, closeRepository, err := search.OpenBackend(runCtx, cfg.Search, cfg.Postgres, logger)
	if err != nil {
		logger.WithError(err).Fatal("open search backend")
	}
	defer closeRepository()

	handler := search.NewHandler(search.NewService(repository, cfg.Search.MaxPageSize), logger)
	handler.RateLimit = cfg.RateLimitRPM
	if cfg.Auth.Secret != "" || cfg.Auth.JWKSURL != "" {
		tokens, err := platformauth.NewManagerFromConfig(cfg.Auth)
		if err != nil {
			logger.WithError(err).Fatal("configure auth")
		}
		handler.Auth = platformauth.Middleware(tokens, cfg.RequireAuth)
	} else if cfg.RequireAuth {
		logger.Fatal("SEARCH_REQUIRE_AUTH needs JWT_SECRET or JWT_JWKS_URL")
	}

	router := httpserver.NewRouter(logger)
	router.Use(httpserver.CORS(cfg.HTTP.AllowedOrigin))
	httpserver.Mount(router, httpserver.PingCheck(cfg.Search.Backend, repository))
	router.Mount("/", handler.Router())

	server := httpserver.New(cfg.Addr, cfg.HTTP, router)
	if err := httpserver.Run(runCtx, server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.WithError(err).Error("search api stopped with error")
	}
}
