package schema

import (
	"context"
	"sync"

	"github.com/koustreak/pgshape/internal/catalog"
	"github.com/koustreak/pgshape/internal/errs"
)

// fakeCatalog is an in-memory catalog.Catalog and catalog.DefaultEvaluator.
type fakeCatalog struct {
	tables     map[string][]catalog.Column
	composites map[string][]catalog.CompositeField
	enums      map[string][]string
	defaults   map[string]any
	failOn     string // type or table name whose lookup fails

	mu    sync.Mutex
	calls []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tables:     map[string][]catalog.Column{},
		composites: map[string][]catalog.CompositeField{},
		enums:      map[string][]string{},
		defaults:   map[string]any{},
	}
}

func (f *fakeCatalog) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCatalog) Columns(_ context.Context, table string, exclude []string) ([]catalog.Column, error) {
	f.record("columns:" + table)
	if table == f.failOn {
		return nil, errs.Newf(errs.ErrKindCatalogQuery, "list columns of table %q", table)
	}
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}
	var out []catalog.Column
	for _, c := range f.tables[table] {
		if !skip[c.Name] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCatalog) CompositeFields(_ context.Context, typeName string) ([]catalog.CompositeField, error) {
	f.record("composite:" + typeName)
	if typeName == f.failOn {
		return nil, errs.Newf(errs.ErrKindCatalogQuery, "list members of composite type %q", typeName)
	}
	return f.composites[typeName], nil
}

func (f *fakeCatalog) EnumLabels(_ context.Context, typeName string) ([]string, error) {
	f.record("enum:" + typeName)
	return f.enums[typeName], nil
}

func (f *fakeCatalog) EvaluateDefault(_ context.Context, expr string) (any, error) {
	f.record("default:" + expr)
	v, ok := f.defaults[expr]
	if !ok {
		return nil, errs.Newf(errs.ErrKindDefaultEvaluation, "evaluate default %s", expr)
	}
	return v, nil
}

func (f *fakeCatalog) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func ptr(s string) *string { return &s }
