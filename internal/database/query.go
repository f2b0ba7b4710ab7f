package database

import (
	"fmt"
	"sort"
	"strings"

	"github.com/koustreak/pgshape/internal/errs"
	"github.com/lib/pq"
)

// Dialect controls which SQL placeholder and quoting style the builders emit.
type Dialect int

const (
	// DialectPostgres uses $1, $2, … placeholders and "double quoted" identifiers.
	DialectPostgres Dialect = iota

	// DialectMySQL uses ? placeholders and `backtick` identifiers.
	DialectMySQL
)

// Statement is a parameterized SQL statement ready for Exec.
type Statement struct {
	SQL  string
	Args []any
}

// WriteBuilder constructs parameterized INSERT and UPDATE statements for one
// normalized row. Values are never interpolated into the SQL string.
//
// Usage:
//
//	stmt, err := database.Write("users", database.DialectPostgres).
//	    Values(row).
//	    Insert()
//
//	stmt, err := database.Write("users", database.DialectPostgres).
//	    Values(row).
//	    Where(map[string]any{"id": 7}).
//	    Update()
type WriteBuilder struct {
	table   string
	dialect Dialect
	values  map[string]any
	where   map[string]any
}

// Write starts a new WriteBuilder for the given table and dialect.
func Write(table string, d Dialect) *WriteBuilder {
	return &WriteBuilder{table: table, dialect: d}
}

// Values sets the column values to write.
func (b *WriteBuilder) Values(values map[string]any) *WriteBuilder {
	b.values = values
	return b
}

// Where sets the equality filters of an UPDATE, combined with AND.
func (b *WriteBuilder) Where(filters map[string]any) *WriteBuilder {
	b.where = filters
	return b
}

// Insert builds `INSERT INTO t (cols) VALUES (placeholders)`.
// Columns are emitted in sorted order so the statement text is stable.
func (b *WriteBuilder) Insert() (Statement, error) {
	if len(b.values) == 0 {
		return Statement{}, errs.Newf(errs.ErrKindInvalidInput, "insert into %q: no values", b.table)
	}

	cols := sortedKeys(b.values)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = b.quote(c)
		marks[i] = b.placeholder(i + 1)
		args[i] = b.values[c]
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.quote(b.table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return Statement{SQL: sql, Args: args}, nil
}

// Update builds `UPDATE t SET c = p, … WHERE k = p AND …`.
// An UPDATE without filters is rejected: it would rewrite the whole table.
func (b *WriteBuilder) Update() (Statement, error) {
	if len(b.values) == 0 {
		return Statement{}, errs.Newf(errs.ErrKindInvalidInput, "update %q: no values", b.table)
	}
	if len(b.where) == 0 {
		return Statement{}, errs.Newf(errs.ErrKindInvalidInput, "update %q: no key filters", b.table)
	}

	var args []any
	argIdx := 1

	cols := sortedKeys(b.values)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = %s", b.quote(c), b.placeholder(argIdx))
		args = append(args, b.values[c])
		argIdx++
	}

	keys := sortedKeys(b.where)
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("%s = %s", b.quote(k), b.placeholder(argIdx))
		args = append(args, b.where[k])
		argIdx++
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		b.quote(b.table), strings.Join(sets, ", "), strings.Join(conds, " AND "))
	return Statement{SQL: sql, Args: args}, nil
}

// placeholder returns the correct parameter placeholder for the dialect.
// Postgres: $1, $2, …   MySQL: ? (index is ignored)
func (b *WriteBuilder) placeholder(idx int) string {
	if b.dialect == DialectMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", idx)
}

func (b *WriteBuilder) quote(name string) string {
	if b.dialect == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return pq.QuoteIdentifier(name)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
