// Package dbtest provides an in-memory database.DB for unit tests. Queries are
// answered from scripted results matched by SQL substring; Exec calls are
// recorded.
package dbtest

import (
	"context"
	"strings"
	"sync"

	"github.com/koustreak/pgshape/internal/database"
	"github.com/koustreak/pgshape/internal/errs"
)

// Result is a scripted answer to a query.
type Result struct {
	Columns []string
	Rows    [][]any
	Err     error
}

// Call is one recorded statement.
type Call struct {
	SQL  string
	Args []any
}

// DB is a fake database.DB. The zero value answers every query with no rows.
type DB struct {
	DialectValue database.Dialect
	ExecErr      error
	Affected     int64

	mu      sync.Mutex
	scripts []script
	queries []Call
	execs   []Call
}

type script struct {
	match  string
	result func(args []any) Result
}

// On answers queries containing match with r.
func (d *DB) On(match string, r Result) *DB {
	return d.OnFunc(match, func([]any) Result { return r })
}

// OnFunc answers queries containing match with the result of fn, which sees
// the query arguments. Later registrations take precedence.
func (d *DB) OnFunc(match string, fn func(args []any) Result) *DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts = append([]script{{match: match, result: fn}}, d.scripts...)
	return d
}

// Queries returns every Query and QueryRow call seen so far.
func (d *DB) Queries() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.queries...)
}

// Execs returns every Exec call seen so far.
func (d *DB) Execs() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.execs...)
}

func (d *DB) Ping(context.Context) error { return nil }
func (d *DB) Close()                     {}
func (d *DB) Dialect() database.Dialect  { return d.DialectValue }

func (d *DB) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "query failed", err)
	}
	r := d.lookup(sql, args)
	if r.Err != nil {
		return nil, r.Err
	}
	return &Rows{Cols: r.Columns, Data: r.Rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, sql string, args ...any) (database.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "query failed", err)
	}
	r := d.lookup(sql, args)
	return &row{result: r}, nil
}

func (d *DB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	d.mu.Lock()
	d.execs = append(d.execs, Call{SQL: sql, Args: args})
	d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, errs.Wrap(errs.ErrKindTimeout, "exec failed", err)
	}
	if d.ExecErr != nil {
		return 0, d.ExecErr
	}
	if d.Affected == 0 {
		return 1, nil
	}
	return d.Affected, nil
}

func (d *DB) lookup(sql string, args []any) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, Call{SQL: sql, Args: args})
	for _, s := range d.scripts {
		if strings.Contains(sql, s.match) {
			return s.result(args)
		}
	}
	return Result{}
}

// Rows is a database.Rows over an in-memory slice.
type Rows struct {
	Cols    []string
	Data    [][]any
	IterErr error

	pos    int
	closed bool
}

func (r *Rows) Next() bool {
	if r.pos >= len(r.Data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	for i, v := range r.Data[r.pos-1] {
		*(dest[i].(*any)) = v
	}
	return nil
}

func (r *Rows) Columns() ([]string, error) { return r.Cols, nil }
func (r *Rows) Close()                     { r.closed = true }
func (r *Rows) Err() error                 { return r.IterErr }

// Closed reports whether Close was called.
func (r *Rows) Closed() bool { return r.closed }

type row struct {
	result Result
}

func (r *row) Scan(dest ...any) error {
	if r.result.Err != nil {
		return r.result.Err
	}
	if len(r.result.Rows) == 0 {
		return errs.New(errs.ErrKindNotFound, "no rows in result set")
	}
	for i, v := range r.result.Rows[0] {
		*(dest[i].(*any)) = v
	}
	return nil
}
