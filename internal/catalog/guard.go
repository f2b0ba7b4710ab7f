package catalog

import (
	"github.com/koustreak/pgshape/internal/errs"
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// probeQuery builds the statement that evaluates a default expression.
func probeQuery(expr string) string {
	return `SELECT ` + expr + ` AS "default"`
}

// checkProbe parses the probe statement and rejects anything other than a
// single SELECT of one target with no FROM, WITH or set operation.
func checkProbe(sql string) error {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return errs.Wrap(errs.ErrKindDefaultEvaluation, "default expression does not parse", err)
	}
	if len(tree.Stmts) != 1 {
		return errs.Newf(errs.ErrKindDefaultEvaluation, "default expression expands to %d statements", len(tree.Stmts))
	}

	sel := tree.Stmts[0].GetStmt().GetSelectStmt()
	switch {
	case sel == nil:
		return errs.New(errs.ErrKindDefaultEvaluation, "default expression is not a SELECT target")
	case sel.GetOp() != pg_query.SetOperation_SETOP_NONE:
		return errs.New(errs.ErrKindDefaultEvaluation, "default expression contains a set operation")
	case sel.GetWithClause() != nil:
		return errs.New(errs.ErrKindDefaultEvaluation, "default expression contains a WITH clause")
	case len(sel.GetFromClause()) > 0:
		return errs.New(errs.ErrKindDefaultEvaluation, "default expression reads from a relation")
	case len(sel.GetTargetList()) != 1:
		return errs.Newf(errs.ErrKindDefaultEvaluation, "default expression yields %d values", len(sel.GetTargetList()))
	}
	return nil
}
