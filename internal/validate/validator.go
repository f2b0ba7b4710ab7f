// Package validate normalizes and validates rows against a table schema.
//
// Normalization runs first: unknown keys are dropped, missing keys with a
// default are filled in, named coercions are applied and composite and array
// values are normalized recursively. The normalized value is then checked
// against the required, nullable, type and allowed rules of its node.
package validate

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/registry"
	"github.com/koustreak/pgshape/internal/schema"
)

// Hook post-processes one field of a normalized row.
type Hook func(value any) (any, error)

// Option configures a Validator.
type Option func(*Validator)

// WithHook registers a hook for a top-level field. Hooks run after the row
// passed validation, in field name order.
func WithHook(field string, h Hook) Option {
	return func(v *Validator) { v.hooks[field] = h }
}

// Validator normalizes rows for one table. It is immutable and safe for
// concurrent use.
type Validator struct {
	schema *schema.TableSchema
	types  *registry.Registry
	hooks  map[string]Hook
}

// New returns a Validator for s that checks types with types.
func New(s *schema.TableSchema, types *registry.Registry, opts ...Option) *Validator {
	v := &Validator{schema: s, types: types, hooks: map[string]Hook{}}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Schema returns the table schema the validator enforces.
func (v *Validator) Schema() *schema.TableSchema { return v.schema }

// Normalize returns the normalized copy of row. row itself is not modified.
// A rejected row yields an error of kind errs.ErrKindValidation carrying
// Errors.
func (v *Validator) Normalize(row map[string]any) (map[string]any, error) {
	var problems Errors
	out := v.normalizeFields(v.schema.Columns, row, "", &problems)
	if len(problems) > 0 {
		return nil, v.reject(problems)
	}

	for _, name := range sortedKeys(out) {
		hook, ok := v.hooks[name]
		if !ok {
			continue
		}
		val, err := hook(out[name])
		if err != nil {
			problems.add(name, err.Error())
			continue
		}
		out[name] = val
	}
	if len(problems) > 0 {
		return nil, v.reject(problems)
	}
	return out, nil
}

// Validate reports whether row is acceptable, discarding the normalized form.
func (v *Validator) Validate(row map[string]any) error {
	_, err := v.Normalize(row)
	return err
}

func (v *Validator) reject(problems Errors) error {
	return errs.Wrap(errs.ErrKindValidation, fmt.Sprintf("row rejected for table %q", v.schema.Table), problems)
}

func (v *Validator) normalizeFields(fields map[string]*schema.Node, in map[string]any, path string, problems *Errors) map[string]any {
	out := make(map[string]any, len(fields))
	for k, val := range in {
		if _, ok := fields[k]; ok {
			out[k] = val
		}
	}

	for _, name := range sortedKeys(fields) {
		node := fields[name]
		p := joinPath(path, name)

		val, present := out[name]
		if !present {
			if !node.Default.Set {
				if node.Required {
					problems.add(p, "required field")
				}
				continue
			}
			val = copyValue(node.Default.Value)
		}

		if nv, ok := v.normalizeValue(node, val, p, problems); ok {
			out[name] = nv
		}
	}
	return out
}

func (v *Validator) normalizeValue(node *schema.Node, val any, path string, problems *Errors) (any, bool) {
	if val == nil {
		if !node.Nullable {
			problems.add(path, "null value not allowed")
			return nil, false
		}
		return nil, true
	}

	if node.Coerce != "" {
		c, err := v.types.Coerce(node.Coerce, val)
		if err != nil {
			problems.add(path, fmt.Sprintf("cannot coerce to %s: %v", node.Coerce, err))
			return val, false
		}
		val = c
	}

	switch node.Type {
	case schema.TypeComposite:
		m, ok := val.(map[string]any)
		if !ok {
			problems.add(path, "must be of composite type")
			return val, false
		}
		return v.normalizeFields(node.Fields, m, path, problems), true

	case schema.TypeArray:
		items, ok := toSlice(val)
		if !ok {
			problems.add(path, "must be of array type")
			return val, false
		}
		out := make([]any, len(items))
		for i, item := range items {
			nv, _ := v.normalizeValue(node.Element, item, fmt.Sprintf("%s[%d]", path, i), problems)
			out[i] = nv
		}
		return out, true

	default:
		valid, known := v.types.Check(node.Type, val)
		switch {
		case !known:
			problems.add(path, fmt.Sprintf("unknown type %q", node.Type))
			return val, false
		case !valid:
			problems.add(path, fmt.Sprintf("must be of %s type", node.Type))
			return val, false
		}
	}

	if node.Allowed != nil && !allowed(node.Allowed, val) {
		problems.add(path, fmt.Sprintf("unallowed value %v", val))
		return val, false
	}
	return val, true
}

func allowed(set []any, val any) bool {
	for _, a := range set {
		if reflect.DeepEqual(a, val) {
			return true
		}
	}
	return false
}

// toSlice accepts []any and any other slice or array kind except []byte.
func toSlice(val any) ([]any, bool) {
	if s, ok := val.([]any); ok {
		return s, true
	}
	if _, ok := val.([]byte); ok {
		return nil, false
	}
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// copyValue deep-copies the JSON-shaped containers a default may hold so a
// filled-in row never shares state with the schema.
func copyValue(val any) any {
	switch t := val.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = copyValue(item)
		}
		return out
	default:
		return val
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
