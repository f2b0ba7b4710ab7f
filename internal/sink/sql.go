package sink

import (
	"context"
	"fmt"

	"github.com/koustreak/pgshape/internal/database"
	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/koustreak/pgshape/internal/table"
)

// SQL executes INSERT and UPDATE statements on a database.DB, in the
// database's dialect.
type SQL struct {
	db  database.DB
	log *logger.Logger
}

// NewSQL returns a sink over db.
func NewSQL(db database.DB, log *logger.Logger) *SQL {
	if log == nil {
		log = logger.L()
	}
	return &SQL{db: db, log: log.Component("sink.sql")}
}

// Insert implements Sink.
func (s *SQL) Insert(ctx context.Context, m *table.Model, row map[string]any) error {
	stmt, err := m.InsertStatement(row, s.db.Dialect())
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, m.Name(), OpInsert, stmt)
	return err
}

// Update implements Sink. An update that matches no row is reported as
// not_found.
func (s *SQL) Update(ctx context.Context, m *table.Model, row, keys map[string]any) error {
	stmt, err := m.UpdateStatement(row, keys, s.db.Dialect())
	if err != nil {
		return err
	}
	n, err := s.exec(ctx, m.Name(), OpUpdate, stmt)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Newf(errs.ErrKindNotFound, "update %q: no row matches %v", m.Name(), keys)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQL) Close() error {
	s.db.Close()
	return nil
}

func (s *SQL) exec(ctx context.Context, tbl string, op Op, stmt database.Statement) (int64, error) {
	n, err := s.db.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		s.log.ErrorWith("row write failed", err, map[string]any{"table": tbl, "op": string(op)})
		return 0, fmt.Errorf("%s %q: %w", op, tbl, err)
	}
	s.log.DebugWith("row written", map[string]any{"table": tbl, "op": string(op), "affected": n})
	return n, nil
}
