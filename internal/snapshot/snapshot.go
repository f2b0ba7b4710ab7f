// Package snapshot caches generated table schemas so a restarted process can
// skip catalog introspection. Stores hold schemas as JSON; Cached falls back
// to the generator when a schema is missing and saves what it generates.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/koustreak/pgshape/internal/schema"
)

// Store persists table schemas.
type Store interface {
	// Load returns the stored schema of table, or an error of kind
	// errs.ErrKindNotFound when there is none.
	Load(ctx context.Context, table string) (*schema.TableSchema, error)

	// Save stores s under its table name, replacing any previous snapshot.
	Save(ctx context.Context, s *schema.TableSchema) error
}

// Generator produces a schema from the live catalog.
type Generator interface {
	Generate(ctx context.Context, table string, primaryKeys []string) (*schema.TableSchema, error)
}

// Cached serves schemas from a Store and generates the ones it lacks.
// A nil Store disables caching.
type Cached struct {
	store Store
	gen   Generator
	log   *logger.Logger
}

// NewCached returns a Cached source over store and gen.
func NewCached(store Store, gen Generator, log *logger.Logger) *Cached {
	if log == nil {
		log = logger.L()
	}
	return &Cached{store: store, gen: gen, log: log.Component("snapshot")}
}

// Schema returns the schema of table. A stored snapshot is used only when it
// was generated for the same primary keys. Store failures are logged and
// never fail the call.
func (c *Cached) Schema(ctx context.Context, table string, primaryKeys []string) (*schema.TableSchema, error) {
	if c.store != nil {
		s, err := c.store.Load(ctx, table)
		switch {
		case err == nil && sameKeys(s.PrimaryKeys, primaryKeys):
			c.log.DebugWith("schema loaded from snapshot", map[string]any{"table": table})
			return s, nil
		case err == nil:
			c.log.InfoWith("snapshot keys differ, regenerating", map[string]any{"table": table, "stored": s.PrimaryKeys})
		case !errs.IsNotFound(err):
			c.log.ErrorWith("snapshot load failed", err, map[string]any{"table": table})
		}
	}
	return c.Refresh(ctx, table, primaryKeys)
}

// Refresh generates the schema of table and saves it, ignoring any stored
// snapshot.
func (c *Cached) Refresh(ctx context.Context, table string, primaryKeys []string) (*schema.TableSchema, error) {
	s, err := c.gen.Generate(ctx, table, primaryKeys)
	if err != nil {
		return nil, err
	}
	if c.store != nil {
		if err := c.store.Save(ctx, s); err != nil {
			c.log.ErrorWith("snapshot save failed", err, map[string]any{"table": table})
		}
	}
	return s, nil
}

func sameKeys(stored, requested []string) bool {
	if requested == nil {
		requested = schema.DefaultPrimaryKeys
	}
	return slices.Equal(stored, requested)
}

func encode(s *schema.TableSchema) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("encode schema of table %q", s.Table), err)
	}
	return data, nil
}

func decode(table string, data []byte) (*schema.TableSchema, error) {
	var s schema.TableSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("decode snapshot of table %q", table), err)
	}
	if s.Table != table {
		return nil, errs.Newf(errs.ErrKindQueryFailed, "snapshot for table %q holds table %q", table, s.Table)
	}
	return &s, nil
}
