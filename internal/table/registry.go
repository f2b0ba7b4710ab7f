package table

import (
	"context"
	"sort"
	"sync"

	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/koustreak/pgshape/internal/registry"
	"github.com/koustreak/pgshape/internal/schema"
	"github.com/koustreak/pgshape/internal/validate"
	"golang.org/x/sync/singleflight"
)

// Source produces the schema of a table, generating or loading it.
type Source interface {
	Schema(ctx context.Context, table string, primaryKeys []string) (*schema.TableSchema, error)
}

// KeyLookup discovers the primary keys of a table.
type KeyLookup func(ctx context.Context, table string) ([]string, error)

// Registry builds each table's Model on first use and keeps it for the life
// of the process.
type Registry struct {
	source Source
	types  *registry.Registry
	log    *logger.Logger

	tables  map[string][]string // configured tables and their keys; nil allows any table
	hooks   map[string][]validate.Option
	lookup  KeyLookup
	flights singleflight.Group

	mu     sync.RWMutex
	models map[string]*Model
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTables restricts the registry to the given tables. A nil key slice
// means the keys are looked up, or default to schema.DefaultPrimaryKeys.
// An empty map leaves the registry open to any table.
func WithTables(tables map[string][]string) RegistryOption {
	return func(r *Registry) {
		if len(tables) == 0 {
			return
		}
		r.tables = make(map[string][]string, len(tables))
		for name, keys := range tables {
			r.tables[name] = keys
		}
	}
}

// WithKeyLookup sets how primary keys are discovered for tables configured
// without them.
func WithKeyLookup(l KeyLookup) RegistryOption {
	return func(r *Registry) { r.lookup = l }
}

// WithFieldHooks attaches validator hooks to one table.
func WithFieldHooks(table string, opts ...validate.Option) RegistryOption {
	return func(r *Registry) { r.hooks[table] = append(r.hooks[table], opts...) }
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l *logger.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// NewRegistry returns a Registry that obtains schemas from source.
func NewRegistry(source Source, types *registry.Registry, opts ...RegistryOption) *Registry {
	r := &Registry{
		source: source,
		types:  types,
		log:    logger.L(),
		hooks:  map[string][]validate.Option{},
		models: map[string]*Model{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Types returns the type registry models validate with.
func (r *Registry) Types() *registry.Registry { return r.types }

// Tables returns the configured table names, sorted. It is empty when the
// registry accepts any table.
func (r *Registry) Tables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Model returns the model of table, building it on first use. Concurrent
// first calls for one table share a single build.
func (r *Registry) Model(ctx context.Context, table string) (*Model, error) {
	r.mu.RLock()
	m, ok := r.models[table]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	configured, known := r.tables[table]
	if r.tables != nil && !known {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %q is not configured", table)
	}

	// The build runs detached from ctx: a caller that gives up must not fail
	// the others waiting on the same table.
	build := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(table, func() (any, error) {
		return r.build(build, table, configured)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Model), nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.ErrKindTimeout, "build model of table "+table, ctx.Err())
	}
}

func (r *Registry) build(ctx context.Context, table string, configured []string) (*Model, error) {
	r.mu.RLock()
	built, ok := r.models[table]
	r.mu.RUnlock()
	if ok {
		return built, nil
	}

	keys, err := r.primaryKeys(ctx, table, configured)
	if err != nil {
		return nil, err
	}
	s, err := r.source.Schema(ctx, table, keys)
	if err != nil {
		return nil, err
	}
	m := NewModel(s, r.types, r.hooks[table]...)

	r.mu.Lock()
	r.models[table] = m
	r.mu.Unlock()

	r.log.InfoWith("table model ready", map[string]any{"table": table, "primary_keys": s.PrimaryKeys})
	return m, nil
}

func (r *Registry) primaryKeys(ctx context.Context, table string, configured []string) ([]string, error) {
	if configured != nil || r.lookup == nil {
		return configured, nil
	}
	keys, err := r.lookup(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return keys, nil
}
