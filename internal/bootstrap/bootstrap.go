// Package bootstrap is the composition root shared by the Lambda and consumer binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecdex-ingest/internal/config"
	"github.com/kailas-cloud/vecdex-ingest/internal/db"
	dbBleve "github.com/kailas-cloud/vecdex-ingest/internal/db/bleve"
	dbOpenSearch "github.com/kailas-cloud/vecdex-ingest/internal/db/opensearch"
	dbRedis "github.com/kailas-cloud/vecdex-ingest/internal/db/redis"
	"github.com/kailas-cloud/vecdex-ingest/internal/metrics"
	documentrepo "github.com/kailas-cloud/vecdex-ingest/internal/repository/document"
	"github.com/kailas-cloud/vecdex-ingest/internal/usecase/ingest"
)

// App holds the wired components. Close releases the store.
type App struct {
	Store  db.Store
	Ingest *ingest.Service
}

// Close releases the index backend.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// backend is a store plus the repository that writes to it.
type backend struct {
	store   db.Store
	indexer ingest.BulkIndexer
	schema  documentrepo.Schema
}

// Build connects to the configured index backend, waits for it, optionally provisions
// the index and returns the ingest service bound to cfg.Index.Name.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	be, err := newBackend(ctx, cfg.Index)
	if err != nil {
		return nil, err
	}

	log.Info("Waiting for index backend",
		zap.String("driver", cfg.Index.Driver),
		zap.String("index", cfg.Index.Name),
	)
	timeout := time.Duration(cfg.Index.ReadinessTimeout) * time.Second
	if err := be.store.WaitForReady(ctx, timeout); err != nil {
		return nil, errors.Join(fmt.Errorf("index backend not ready: %w", err), be.store.Close())
	}

	if cfg.Index.EnsureIndex {
		if err := documentrepo.EnsureIndex(ctx, be.store, be.schema); err != nil {
			return nil, errors.Join(err, be.store.Close())
		}
		log.Info("Index ensured", zap.String("index", be.schema.Name), zap.Int("dimensions", be.schema.Dimensions))
	}

	metrics.RegisterIngestMetrics()

	svc := ingest.New(be.indexer, cfg.Index.Name, log).
		WithMaxBatchSize(cfg.Ingest.MaxBatchSize).
		WithParallelism(cfg.Ingest.Parallelism)

	return &App{Store: be.store, Ingest: svc}, nil
}

func newBackend(ctx context.Context, ic config.IndexConfig) (*backend, error) {
	distance, err := db.ParseDistance(ic.Distance)
	if err != nil {
		return nil, fmt.Errorf("index.distance: %w", err)
	}
	schema := documentrepo.Schema{
		Name:        ic.Name,
		Dimensions:  ic.Dimensions,
		Distance:    distance,
		M:           ic.HNSWM,
		EFConstruct: ic.HNSWEFConstruct,
		TextSearch:  true,
	}

	switch ic.Driver {
	case config.DriverOpenSearch:
		store, err := dbOpenSearch.NewStore(ctx, dbOpenSearch.Config{
			Host:            ic.Host,
			Port:            ic.Port,
			Region:          ic.Region,
			Service:         ic.Service,
			Username:        ic.Username,
			Password:        ic.Password,
			Timeout:         time.Duration(ic.TimeoutSec) * time.Second,
			MaxRetries:      ic.MaxRetries,
			PingIndex:       ic.Name,
			OmitDocumentIDs: ic.OmitDocumentIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("create opensearch store: %w", err)
		}
		return &backend{store: store, indexer: documentrepo.New(store), schema: schema}, nil

	case config.DriverRedis, config.DriverValkey:
		// valkey-search has no TEXT fields
		schema.TextSearch = ic.Driver == config.DriverRedis
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:      ic.Addrs,
			Username:   ic.Username,
			Password:   ic.Password,
			TextSearch: schema.TextSearch,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s store: %w", ic.Driver, err)
		}
		repo := documentrepo.NewHash(store, ic.KeyPrefix)
		schema.Name = repo.IndexName(ic.Name)
		schema.Prefix = repo.KeyPrefix(ic.Name)
		return &backend{store: store, indexer: repo, schema: schema}, nil

	case config.DriverBleve:
		store, err := dbBleve.NewStore(dbBleve.Config{Path: ic.Path})
		if err != nil {
			return nil, fmt.Errorf("create bleve store: %w", err)
		}
		return &backend{store: store, indexer: documentrepo.New(store), schema: schema}, nil

	default:
		return nil, fmt.Errorf("unknown index driver %q", ic.Driver)
	}
}
