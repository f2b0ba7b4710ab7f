// Package registry is the type capability registry: the statically declared
// set of type names the validator can check, and the subset that carries a
// named coercion.
//
// The resolver asks it two questions: "is this name a primitive I can check
// directly?" (which overrides the catalog's USER-DEFINED classification) and
// "does this name have a coercion?" (which attaches a coerce directive).
package registry

import (
	"sort"

	"github.com/koustreak/pgshape/internal/errs"
)

// Check reports whether v is an acceptable value for a type.
type Check func(v any) bool

// Coercer converts a raw input value into the type's Go representation.
// It must pass through values that already have that representation.
type Coercer func(v any) (any, error)

// Registry maps type names to checks and coercers. It is immutable once
// built and safe for concurrent use.
type Registry struct {
	checks   map[string]Check
	coercers map[string]Coercer
}

// New builds a registry from the given tables. Every coercible type must
// also have a check.
func New(checks map[string]Check, coercers map[string]Coercer) (*Registry, error) {
	r := &Registry{
		checks:   make(map[string]Check, len(checks)),
		coercers: make(map[string]Coercer, len(coercers)),
	}
	for name, c := range checks {
		r.checks[name] = c
	}
	for name, c := range coercers {
		if _, ok := r.checks[name]; !ok {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "coercer %q has no type check", name)
		}
		r.coercers[name] = c
	}
	return r, nil
}

// Extend returns a copy of r with extra checks and coercers layered on top.
func (r *Registry) Extend(checks map[string]Check, coercers map[string]Coercer) (*Registry, error) {
	mergedChecks := make(map[string]Check, len(r.checks)+len(checks))
	for k, v := range r.checks {
		mergedChecks[k] = v
	}
	for k, v := range checks {
		mergedChecks[k] = v
	}
	mergedCoercers := make(map[string]Coercer, len(r.coercers)+len(coercers))
	for k, v := range r.coercers {
		mergedCoercers[k] = v
	}
	for k, v := range coercers {
		mergedCoercers[k] = v
	}
	return New(mergedChecks, mergedCoercers)
}

// Known reports whether name is a type the validator checks directly.
func (r *Registry) Known(name string) bool {
	_, ok := r.checks[name]
	return ok
}

// Coercible reports whether name has a registered coercion.
func (r *Registry) Coercible(name string) bool {
	_, ok := r.coercers[name]
	return ok
}

// KnownTypes returns every known type name, sorted.
func (r *Registry) KnownTypes() []string {
	return sortedNames(r.checks)
}

// CoercibleTypes returns every type name with a coercion, sorted.
func (r *Registry) CoercibleTypes() []string {
	return sortedNames(r.coercers)
}

// Check runs the type check for name. ok is false when name is unknown.
func (r *Registry) Check(name string, v any) (valid, ok bool) {
	c, ok := r.checks[name]
	if !ok {
		return false, false
	}
	return c(v), true
}

// Coerce runs the coercion registered under name.
func (r *Registry) Coerce(name string, v any) (any, error) {
	c, ok := r.coercers[name]
	if !ok {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "no coercion registered for %q", name)
	}
	return c(v)
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
