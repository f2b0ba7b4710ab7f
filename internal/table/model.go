// Package table binds a generated table schema to its validator and to the
// INSERT and UPDATE statements that persist normalized rows.
package table

import (
	"github.com/koustreak/pgshape/internal/database"
	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/registry"
	"github.com/koustreak/pgshape/internal/schema"
	"github.com/koustreak/pgshape/internal/validate"
)

// Model is one table: its schema, primary keys and validator. It is
// immutable and safe for concurrent use.
type Model struct {
	schema    *schema.TableSchema
	validator *validate.Validator
}

// NewModel builds a Model over s.
func NewModel(s *schema.TableSchema, types *registry.Registry, opts ...validate.Option) *Model {
	return &Model{schema: s, validator: validate.New(s, types, opts...)}
}

// Name returns the table name.
func (m *Model) Name() string { return m.schema.Table }

// PrimaryKeys returns the key columns left out of the schema.
func (m *Model) PrimaryKeys() []string { return m.schema.PrimaryKeys }

// Schema returns the table schema.
func (m *Model) Schema() *schema.TableSchema { return m.schema }

// Normalize validates row and returns its normalized copy.
func (m *Model) Normalize(row map[string]any) (map[string]any, error) {
	return m.validator.Normalize(row)
}

// InsertStatement normalizes row and builds a parameterized INSERT for it.
func (m *Model) InsertStatement(row map[string]any, d database.Dialect) (database.Statement, error) {
	normalized, err := m.Normalize(row)
	if err != nil {
		return database.Statement{}, err
	}
	return database.Write(m.Name(), d).Values(normalized).Insert()
}

// UpdateStatement normalizes row and builds a parameterized UPDATE that
// filters on every primary key. keys must hold a value for each of them;
// other entries in keys are ignored.
func (m *Model) UpdateStatement(row, keys map[string]any, d database.Dialect) (database.Statement, error) {
	filters, err := m.KeyFilters(keys)
	if err != nil {
		return database.Statement{}, err
	}
	normalized, err := m.Normalize(row)
	if err != nil {
		return database.Statement{}, err
	}
	return database.Write(m.Name(), d).Values(normalized).Where(filters).Update()
}

// KeyFilters picks the primary key values out of keys. Every primary key
// must be present and non-null.
func (m *Model) KeyFilters(keys map[string]any) (map[string]any, error) {
	if len(m.schema.PrimaryKeys) == 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "table %q has no primary key to update by", m.Name())
	}
	filters := make(map[string]any, len(m.schema.PrimaryKeys))
	for _, k := range m.schema.PrimaryKeys {
		v, ok := keys[k]
		if !ok || v == nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "update %q: missing value for primary key %q", m.Name(), k)
		}
		filters[k] = v
	}
	return filters, nil
}
