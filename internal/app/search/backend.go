package search

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/config"
	"github.com/the-marketplace/project/internal/platform/dbpool"
)

const (
	BackendOpenSearch = "opensearch"
	BackendPostgres   = "postgres"
	BackendMemory     = "memory"
)

// Backend is a Repository that readiness probes can ping.
type Backend interface {
	Repository
	Ping(ctx context.Context) error
}

// OpenBackend builds the repository selected by cfg.Backend and prepares its
// schema or index. The returned close function releases its resources.
func OpenBackend(ctx context.Context, cfg config.Search, pg config.Postgres, logger *log.Entry) (Backend, func(), error) {
	logger = loggerOrDefault(logger).WithField("search_backend", cfg.Backend)
	switch cfg.Backend {
	case BackendOpenSearch:
		repo := NewOpenSearchRepository(cfg.OpenSearch, logger)
		if err := repo.EnsureIndex(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure index: %w", err)
		}
		return repo, func() {}, nil
	case BackendPostgres:
		pool, err := dbpool.New(ctx, pg)
		if err != nil {
			return nil, nil, err
		}
		repo := NewPostgresRepository(pool)
		if err := dbpool.WaitReady(ctx, pool, pg.ReadyTimeout, repo.EnsureSchema); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	case BackendMemory:
		logger.Warn("in-memory read model is process local")
		return NewMemoryRepository(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown search backend %q", cfg.Backend)
	}
}
