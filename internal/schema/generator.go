package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/koustreak/pgshape/internal/catalog"
	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
)

// DefaultPrimaryKeys are excluded from a table schema when the caller names
// none.
var DefaultPrimaryKeys = []string{"id"}

// TableSchema maps each non-key column of a table to its Node. It is built
// once and never modified afterwards.
type TableSchema struct {
	Table       string
	PrimaryKeys []string
	Columns     map[string]*Node
}

// Column returns the node for name.
func (s *TableSchema) Column(name string) (*Node, bool) {
	n, ok := s.Columns[name]
	return n, ok
}

// ColumnNames returns the column names, sorted.
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for name := range s.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rules renders every column's rule mapping.
func (s *TableSchema) Rules() map[string]any {
	out := make(map[string]any, len(s.Columns))
	for name, n := range s.Columns {
		out[name] = n.Rules()
	}
	return out
}

type tableSchemaJSON struct {
	Table       string           `json:"table"`
	PrimaryKeys []string         `json:"primary_keys"`
	Columns     map[string]*Node `json:"columns"`
}

// MarshalJSON implements json.Marshaler.
func (s *TableSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(tableSchemaJSON{Table: s.Table, PrimaryKeys: s.PrimaryKeys, Columns: s.Columns})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *TableSchema) UnmarshalJSON(data []byte) error {
	var v tableSchemaJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Table == "" {
		return errs.New(errs.ErrKindInvalidInput, "table schema without a table name")
	}
	if v.Columns == nil {
		v.Columns = map[string]*Node{}
	}
	*s = TableSchema{Table: v.Table, PrimaryKeys: v.PrimaryKeys, Columns: v.Columns}
	return nil
}

// Generator builds table schemas from the catalog.
type Generator struct {
	catalog  catalog.Catalog
	resolver *Resolver
	log      *logger.Logger
}

// NewGenerator returns a Generator that lists columns from cat and resolves
// them with resolver.
func NewGenerator(cat catalog.Catalog, resolver *Resolver, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.L()
	}
	return &Generator{catalog: cat, resolver: resolver, log: log}
}

// Resolver returns the resolver the generator uses.
func (g *Generator) Resolver() *Resolver { return g.resolver }

// Generate builds the schema of table, leaving out primaryKeys. A nil
// primaryKeys means DefaultPrimaryKeys; an empty non-nil slice excludes
// nothing. Any failure aborts the whole table.
func (g *Generator) Generate(ctx context.Context, table string, primaryKeys []string) (*TableSchema, error) {
	if table == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "table name is required")
	}
	if primaryKeys == nil {
		primaryKeys = DefaultPrimaryKeys
	}
	keys := append([]string(nil), primaryKeys...)

	start := time.Now()
	log := g.log.Table(table)
	ctx = log.WithContext(ctx)

	cols, err := g.catalog.Columns(ctx, table, keys)
	if err != nil {
		return nil, fmt.Errorf("table %q: %w", table, err)
	}

	s := &TableSchema{Table: table, PrimaryKeys: keys, Columns: make(map[string]*Node, len(cols))}
	for _, col := range cols {
		n, err := g.resolver.Resolve(ctx, col)
		if err != nil {
			log.ErrorWith("schema generation failed", err, map[string]any{"column": col.Name})
			return nil, fmt.Errorf("table %q: column %q: %w", table, col.Name, err)
		}
		s.Columns[col.Name] = n
	}

	log.InfoWith("schema generated", map[string]any{
		"columns":     len(s.Columns),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return s, nil
}
