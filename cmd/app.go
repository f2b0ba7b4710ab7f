package cmd

import (
	"context"
	"fmt"

	"github.com/koustreak/pgshape/internal/catalog"
	"github.com/koustreak/pgshape/internal/config"
	"github.com/koustreak/pgshape/internal/database"
	"github.com/koustreak/pgshape/internal/database/mysql"
	"github.com/koustreak/pgshape/internal/database/postgres"
	"github.com/koustreak/pgshape/internal/filestore/minio"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/koustreak/pgshape/internal/registry"
	"github.com/koustreak/pgshape/internal/schema"
	"github.com/koustreak/pgshape/internal/sink"
	"github.com/koustreak/pgshape/internal/snapshot"
	"github.com/koustreak/pgshape/internal/table"
)

// app is everything a command needs, wired from the config.
type app struct {
	db      database.DB
	catalog *catalog.Postgres
	gen     *schema.Generator
	cached  *snapshot.Cached
	models  *table.Registry
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	db, err := postgres.New(ctx, &cfg.Catalog.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to catalog database: %w", err)
	}
	a := &app{db: db, closers: []func(){db.Close}}

	types := registry.Default()
	a.catalog = catalog.NewPostgres(db,
		catalog.WithSchema(cfg.Catalog.Schema),
		catalog.WithQueryTimeout(cfg.Catalog.Database.QueryTimeout),
		catalog.WithLogger(log),
	)
	resolver := schema.NewResolver(a.catalog, a.catalog, types,
		schema.WithMaxDepth(cfg.Catalog.MaxDepth),
		schema.WithLogger(log),
	)
	a.gen = schema.NewGenerator(a.catalog, resolver, log)

	store, err := a.openCache(ctx, cfg.Cache)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cached = snapshot.NewCached(store, a.gen, log)
	a.models = table.NewRegistry(a.cached, types,
		table.WithTables(cfg.TableKeys()),
		table.WithKeyLookup(a.catalog.PrimaryKeys),
		table.WithRegistryLogger(log),
	)
	return a, nil
}

// openCache returns the configured snapshot store, or nil when caching is
// off.
func (a *app) openCache(ctx context.Context, c config.CacheConfig) (snapshot.Store, error) {
	switch c.Backend {
	case config.CacheRedis:
		r, err := snapshot.NewRedis(ctx, c.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect to redis cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = r.Close() })
		return r, nil
	case config.CacheMinIO:
		fs, err := minio.New(ctx, &c.MinIO)
		if err != nil {
			return nil, fmt.Errorf("connect to object store cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = fs.Close() })
		return snapshot.NewObject(fs, c.MinIO.Bucket, c.MinIO.Prefix), nil
	default:
		return nil, nil
	}
}

// openSink returns the configured row sink. The postgres sink reuses the
// catalog connection unless it has its own DSN.
func (a *app) openSink(ctx context.Context, cfg *config.Config, log *logger.Logger) (sink.Sink, error) {
	switch cfg.Sink.Backend {
	case config.SinkKafka:
		return sink.NewKafka(cfg.Sink.Kafka, log)
	case config.SinkMySQL:
		dbCfg := cfg.SinkDatabase()
		db, err := mysql.New(ctx, &dbCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to mysql sink: %w", err)
		}
		return sink.NewSQL(db, log), nil
	default:
		if cfg.Sink.Database.DSN == "" {
			return sink.NewSQL(nopClose{a.db}, log), nil
		}
		dbCfg := cfg.SinkDatabase()
		db, err := postgres.New(ctx, &dbCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres sink: %w", err)
		}
		return sink.NewSQL(db, log), nil
	}
}

// keysFor returns the primary keys of a table: configured ones first, then
// the catalog's. A table without a primary key gets the default keys.
func (a *app) keysFor(ctx context.Context, cfg *config.Config, tbl string) ([]string, error) {
	if keys, ok := cfg.TableKeys()[tbl]; ok && keys != nil {
		return keys, nil
	}
	keys, err := a.catalog.PrimaryKeys(ctx, tbl)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	return keys, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// nopClose shares a database with a sink that must not close it.
type nopClose struct{ database.DB }

func (nopClose) Close() {}
