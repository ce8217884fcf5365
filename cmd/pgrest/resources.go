package main

import (
	"context"
	"errors"
	"fmt"

	pg "github.com/edgeflare/pgrest/pkg/pgx"
	"github.com/edgeflare/pgrest/pkg/pgx/schema"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var errNoConnString = errors.New("PostgreSQL connection string required (--rest.pg.connString or PGREST_REST_PG_CONNSTRING)")

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.REST.PG.ConnString == "" {
		return nil, errNoConnString
	}
	return pg.NewPool(ctx, cfg.REST.PG.ConnString,
		pg.WithMaxConns(cfg.REST.PG.MaxConns),
		pg.WithApplicationName("pgrest"),
	)
}

// loadRegistry builds resources from the descriptor file or, without one,
// by introspecting the configured schemas through pool.
func loadRegistry(ctx context.Context, pool *pgxpool.Pool) (*resource.Registry, error) {
	if cfg.REST.ResourcesFile != "" {
		resources, err := resource.LoadFile(cfg.REST.ResourcesFile)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded resources", zap.String("file", cfg.REST.ResourcesFile), zap.Int("count", len(resources)))
		return resource.Build(resources...)
	}
	if pool == nil {
		return nil, errNoConnString
	}
	tables, err := schema.Load(ctx, pool, cfg.REST.Schemas)
	if err != nil {
		return nil, err
	}
	return resource.Build(resource.FromSchema(tables)...)
}

func newPipeline(db pg.Executor) (*rest.Pipeline, error) {
	mode, err := rest.ParseCountMode(cfg.REST.DefaultCount)
	if err != nil {
		return nil, fmt.Errorf("rest.defaultCount: %w", err)
	}
	return rest.New(db,
		rest.WithLogger(logger),
		rest.WithMaxLimit(cfg.REST.MaxLimit),
		rest.WithDefaultCount(mode),
	), nil
}
