package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/pgshape/internal/catalog"
	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/koustreak/pgshape/internal/registry"
)

// DefaultMaxDepth bounds how many composite and array layers a column may
// nest before resolution gives up.
const DefaultMaxDepth = 32

// Resolver turns one column description into a Node, querying the catalog
// for composite members and enum labels and evaluating stored defaults.
type Resolver struct {
	catalog  catalog.Catalog
	defaults catalog.DefaultEvaluator
	types    *registry.Registry
	maxDepth int
	log      *logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxDepth overrides DefaultMaxDepth. Values below 1 are ignored.
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// WithLogger sets the logger branch decisions are traced to.
func WithLogger(l *logger.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// NewResolver builds a resolver over the given catalog, default evaluator
// and type registry.
func NewResolver(cat catalog.Catalog, defaults catalog.DefaultEvaluator, types *registry.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:  cat,
		defaults: defaults,
		types:    types,
		maxDepth: DefaultMaxDepth,
		log:      logger.L(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Registry returns the type registry the resolver classifies with.
func (r *Resolver) Registry() *registry.Registry { return r.types }

// Resolve builds the Node for col. col is not modified.
func (r *Resolver) Resolve(ctx context.Context, col catalog.Column) (*Node, error) {
	return r.resolve(ctx, col, trail{})
}

// trail is the chain of composite types entered on the way to the current
// descriptor.
type trail struct {
	depth int
	types []string
}

func (t trail) enter(typeName string) trail {
	types := make([]string, len(t.types), len(t.types)+1)
	copy(types, t.types)
	return trail{depth: t.depth + 1, types: append(types, typeName)}
}

func (t trail) descend() trail {
	return trail{depth: t.depth + 1, types: t.types}
}

func (t trail) contains(typeName string) bool {
	for _, name := range t.types {
		if name == typeName {
			return true
		}
	}
	return false
}

func (r *Resolver) resolve(ctx context.Context, col catalog.Column, t trail) (*Node, error) {
	if t.depth > r.maxDepth {
		return nil, errs.Newf(errs.ErrKindCatalogQuery,
			"type nesting deeper than %d levels at %q", r.maxDepth, col.UDTName)
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "resolve column", err)
	}

	switch {
	case r.isSimple(col):
		return r.resolveSimple(ctx, col)
	case col.IsUserDefined():
		return r.resolveUserDefined(ctx, col, t)
	default:
		return r.resolveArray(ctx, col, t)
	}
}

// isSimple reports whether col resolves to a leaf. A user-defined type the
// registry can check directly is treated as simple.
func (r *Resolver) isSimple(col catalog.Column) bool {
	if col.IsUserDefined() {
		return r.types.Known(col.BaseType())
	}
	return !col.IsArray()
}

// classify returns the data type a synthetic descriptor for typeName gets:
// simple when the registry knows the stripped name, user-defined otherwise.
func (r *Resolver) classify(typeName string) string {
	if r.types.Known(catalog.StripArrayMarker(typeName)) {
		return catalog.DataTypeSimple
	}
	return catalog.DataTypeUserDefined
}

func (r *Resolver) resolveSimple(ctx context.Context, col catalog.Column) (*Node, error) {
	n := &Node{Type: col.BaseType(), Required: !col.IsNullable}
	if !n.Required {
		n.Nullable = true
		n.Default = NullDefault
	}
	if err := r.applyDefault(ctx, col, n); err != nil {
		return nil, err
	}
	n.Coerce = r.coercion(n.Type)

	r.trace(ctx, col, "simple")
	return n, nil
}

func (r *Resolver) resolveUserDefined(ctx context.Context, col catalog.Column, t trail) (*Node, error) {
	typeName := col.BaseType()

	members, err := r.catalog.CompositeFields(ctx, typeName)
	if err != nil {
		return nil, err
	}
	if len(members) > 0 {
		return r.resolveComposite(ctx, col, typeName, members, t)
	}

	labels, err := r.catalog.EnumLabels(ctx, typeName)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, errs.Newf(errs.ErrKindUnresolvedType,
			"type %q is neither a composite nor an enum", typeName)
	}
	return r.resolveEnum(ctx, col, labels)
}

func (r *Resolver) resolveComposite(ctx context.Context, col catalog.Column, typeName string, members []catalog.CompositeField, t trail) (*Node, error) {
	if t.contains(typeName) {
		return nil, errs.Newf(errs.ErrKindCatalogQuery,
			"composite type %q contains itself via %s", typeName, strings.Join(append(t.types, typeName), " -> "))
	}
	inner := t.enter(typeName)

	n := &Node{Type: TypeComposite, Fields: make(map[string]*Node, len(members))}
	for _, m := range members {
		member := catalog.Column{
			Name:       m.Name,
			DataType:   r.classify(m.TypeName),
			UDTName:    m.TypeName,
			IsNullable: true,
		}
		if m.IsArray {
			member.DataType = catalog.DataTypeArray
		}

		child, err := r.resolve(ctx, member, inner)
		if err != nil {
			return nil, fmt.Errorf("field %q of %q: %w", m.Name, typeName, err)
		}
		n.Fields[m.Name] = child
	}
	n.Coerce = r.coercion(n.Type)

	r.trace(ctx, col, "composite")
	return n, nil
}

func (r *Resolver) resolveEnum(ctx context.Context, col catalog.Column, labels []string) (*Node, error) {
	allowed := make([]any, 0, len(labels)+1)
	for _, l := range labels {
		allowed = append(allowed, l)
	}

	n := &Node{Type: TypeString, Required: !col.IsNullable}
	if !n.Required {
		allowed = append(allowed, nil)
		n.Nullable = true
		n.Default = NullDefault
	}
	n.Allowed = allowed

	if err := r.applyDefault(ctx, col, n); err != nil {
		return nil, err
	}
	n.Coerce = r.coercion(n.Type)

	r.trace(ctx, col, "enum")
	return n, nil
}

func (r *Resolver) resolveArray(ctx context.Context, col catalog.Column, t trail) (*Node, error) {
	n := &Node{Type: TypeArray, Required: !col.IsNullable}
	if !n.Required {
		n.Default = Default{Set: true, Value: []any{}}
	}

	base := col.BaseType()
	element := catalog.Column{
		Name:       col.Name,
		DataType:   r.classify(base),
		UDTName:    base,
		IsNullable: true,
	}
	elem, err := r.resolve(ctx, element, t.descend())
	if err != nil {
		return nil, fmt.Errorf("element: %w", err)
	}
	n.Element = elem
	n.Coerce = r.coercion(n.Type)

	r.trace(ctx, col, "array")
	return n, nil
}

// applyDefault evaluates the stored default of col, if any. A non-null
// result replaces the node's default and makes the value optional.
func (r *Resolver) applyDefault(ctx context.Context, col catalog.Column, n *Node) error {
	if col.Default == nil || *col.Default == "" {
		return nil
	}
	if r.defaults == nil {
		return errs.Newf(errs.ErrKindDefaultEvaluation, "no evaluator for default %s", *col.Default)
	}

	v, err := r.defaults.EvaluateDefault(ctx, *col.Default)
	if err != nil {
		if errs.IsDefaultEvaluation(err) {
			return err
		}
		return errs.Wrap(errs.ErrKindDefaultEvaluation, fmt.Sprintf("evaluate default %s", *col.Default), err)
	}
	if v != nil {
		n.Default = Default{Set: true, Value: v}
		n.Required = false
	}
	return nil
}

func (r *Resolver) coercion(typeName string) string {
	if r.types.Coercible(typeName) {
		return typeName
	}
	return ""
}

func (r *Resolver) trace(ctx context.Context, col catalog.Column, branch string) {
	logger.FromContextOr(ctx, r.log).DebugWith("resolved column", map[string]any{
		"column": col.Name,
		"udt":    col.UDTName,
		"branch": branch,
	})
}
