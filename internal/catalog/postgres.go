package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/koustreak/pgshape/internal/database"
	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
)

// DefaultSchema is the namespace tables and types are looked up in when
// none is configured.
const DefaultSchema = "public"

const sqlColumns = `
SELECT column_name::text    AS column_name,
       data_type::text      AS data_type,
       udt_name::text       AS udt_name,
       is_nullable::text    AS is_nullable,
       column_default::text AS column_default
FROM information_schema.columns
WHERE table_schema = $1
  AND table_name = $2
  AND NOT (column_name::text = ANY($3::text[]))
ORDER BY ordinal_position`

const sqlTableExists = `
SELECT EXISTS (
    SELECT 1 FROM information_schema.tables
    WHERE table_schema = $1 AND table_name = $2
) AS found`

const sqlTables = `
SELECT table_name::text AS table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

const sqlPrimaryKeys = `
SELECT kcu.column_name::text AS column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name
   AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = $1
  AND tc.table_name = $2
ORDER BY kcu.ordinal_position`

const sqlCompositeFields = `
SELECT a.attname::text     AS attname,
       m.typname::text     AS typname,
       m.typcategory::text AS typcategory
FROM pg_type c
JOIN pg_namespace n ON n.oid = c.typnamespace
JOIN pg_attribute a ON a.attrelid = c.typrelid
JOIN pg_type m ON m.oid = a.atttypid
WHERE c.typname = $1
  AND n.nspname = $2
  AND c.typtype = 'c'
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum`

const sqlEnumLabels = `
SELECT e.enumlabel::text AS enumlabel
FROM pg_enum e
JOIN pg_type t ON t.oid = e.enumtypid
JOIN pg_namespace n ON n.oid = t.typnamespace
WHERE t.typname = $1
  AND n.nspname = $2
ORDER BY e.enumsortorder`

// Postgres is the Catalog and DefaultEvaluator backed by a live database
// connection. Tables and types are resolved in a single schema.
type Postgres struct {
	db           database.DB
	schema       string
	queryTimeout time.Duration
	log          *logger.Logger
}

// Option configures a Postgres catalog.
type Option func(*Postgres)

// WithSchema sets the namespace tables and types are read from.
func WithSchema(schema string) Option {
	return func(p *Postgres) {
		if schema != "" {
			p.schema = schema
		}
	}
}

// WithQueryTimeout bounds every catalog query. Zero leaves ctx untouched.
func WithQueryTimeout(d time.Duration) Option {
	return func(p *Postgres) { p.queryTimeout = d }
}

// WithLogger sets the logger used for query tracing.
func WithLogger(l *logger.Logger) Option {
	return func(p *Postgres) { p.log = l }
}

// NewPostgres borrows db for catalog reads. The caller keeps ownership of db.
func NewPostgres(db database.DB, opts ...Option) *Postgres {
	p := &Postgres{db: db, schema: DefaultSchema, log: logger.L()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Schema returns the namespace the catalog reads from.
func (p *Postgres) Schema() string { return p.schema }

// Columns implements Catalog. A table that does not exist is reported as
// errs.ErrKindNotFound rather than an empty column list.
func (p *Postgres) Columns(ctx context.Context, table string, exclude []string) ([]Column, error) {
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := p.query(ctx, sqlColumns, p.schema, table, exclude)
	if err != nil {
		return nil, catalogErr(err, "list columns of table %q", table)
	}

	if len(rows) == 0 {
		exists, err := p.tableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errs.Newf(errs.ErrKindNotFound, "table %q not found in schema %q", table, p.schema)
		}
	}

	cols := make([]Column, 0, len(rows))
	for _, r := range rows {
		c := Column{
			Name:       text(r["column_name"]),
			DataType:   text(r["data_type"]),
			UDTName:    text(r["udt_name"]),
			IsNullable: text(r["is_nullable"]) == "YES",
		}
		if r["column_default"] != nil {
			def := text(r["column_default"])
			c.Default = &def
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// Tables lists the base tables of the catalog's schema.
func (p *Postgres) Tables(ctx context.Context) ([]string, error) {
	rows, err := p.query(ctx, sqlTables, p.schema)
	if err != nil {
		return nil, catalogErr(err, "list tables of schema %q", p.schema)
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = text(r["table_name"])
	}
	return names, nil
}

// PrimaryKeys lists the primary key columns of table in key order. A table
// without a primary key yields no names.
func (p *Postgres) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	rows, err := p.query(ctx, sqlPrimaryKeys, p.schema, table)
	if err != nil {
		return nil, catalogErr(err, "list primary keys of table %q", table)
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = text(r["column_name"])
	}
	return names, nil
}

// CompositeFields implements Catalog.
func (p *Postgres) CompositeFields(ctx context.Context, typeName string) ([]CompositeField, error) {
	rows, err := p.query(ctx, sqlCompositeFields, typeName, p.schema)
	if err != nil {
		return nil, catalogErr(err, "list members of composite type %q", typeName)
	}
	fields := make([]CompositeField, len(rows))
	for i, r := range rows {
		fields[i] = CompositeField{
			Name:     text(r["attname"]),
			TypeName: text(r["typname"]),
			IsArray:  text(r["typcategory"]) == "A",
		}
	}
	return fields, nil
}

// EnumLabels implements Catalog.
func (p *Postgres) EnumLabels(ctx context.Context, typeName string) ([]string, error) {
	rows, err := p.query(ctx, sqlEnumLabels, typeName, p.schema)
	if err != nil {
		return nil, catalogErr(err, "list labels of enum %q", typeName)
	}
	labels := make([]string, len(rows))
	for i, r := range rows {
		labels[i] = text(r["enumlabel"])
	}
	return labels, nil
}

// EvaluateDefault implements DefaultEvaluator. The expression is executed
// as `SELECT <expr> AS "default"` after a parse check that it is a single
// value expression.
func (p *Postgres) EvaluateDefault(ctx context.Context, expr string) (any, error) {
	sql := probeQuery(expr)
	if err := checkProbe(sql); err != nil {
		return nil, err
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row, err := p.db.QueryRow(ctx, sql)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindDefaultEvaluation, fmt.Sprintf("evaluate default %s", expr), err)
	}
	var value any
	if err := row.Scan(&value); err != nil {
		return nil, errs.Wrap(errs.ErrKindDefaultEvaluation, fmt.Sprintf("evaluate default %s", expr), err)
	}
	return value, nil
}

func (p *Postgres) tableExists(ctx context.Context, table string) (bool, error) {
	rows, err := p.query(ctx, sqlTableExists, p.schema, table)
	if err != nil {
		return false, catalogErr(err, "look up table %q", table)
	}
	if len(rows) == 0 {
		return false, nil
	}
	found, _ := rows[0]["found"].(bool)
	return found, nil
}

func (p *Postgres) query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	p.log.DebugWith("catalog query", map[string]any{"schema": p.schema, "args": args})

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return database.ScanRows(rows)
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.queryTimeout)
}

// catalogErr wraps a failed metadata query. The driver error, timeouts
// included, stays reachable as the cause.
func catalogErr(err error, format string, args ...any) error {
	return errs.Wrap(errs.ErrKindCatalogQuery, fmt.Sprintf(format, args...), err)
}

// text reads a catalog value that was cast to text in SQL.
func text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
