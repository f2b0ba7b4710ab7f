// Package schema turns catalog column descriptions into a structural
// validation schema: one Node per column, nested for composite types and
// arrays.
package schema

import (
	"database/sql/driver"
	"encoding/json"
	"net"
	"sort"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/pgshape/internal/errs"
)

// Structural node types. Every other Node.Type is a registry type name.
const (
	TypeComposite = "composite"
	TypeArray     = "array"
	TypeString    = "string"
)

// Rule keys, as emitted by Node.Rules and in the JSON form of a node.
const (
	RuleType     = "type"
	RuleRequired = "required"
	RuleNullable = "nullable"
	RuleDefault  = "default"
	RuleCoerce   = "coerce"
	RuleAllowed  = "allowed"
	RuleFields   = "fields"
	RuleElement  = "element"
)

// Default is an optional default value. Set distinguishes an explicit
// null default from no default at all.
type Default struct {
	Set   bool
	Value any
}

// NullDefault is an explicit default of null.
var NullDefault = Default{Set: true}

// Node is the validation rule set for one value.
//
// Exactly one of Fields (Type == TypeComposite), Element (Type == TypeArray)
// or neither (leaf) is populated. Composite nodes carry no required or
// nullable rule, so an explicit null for a composite column is rejected
// even when the column is nullable; omit the key instead. Nodes are
// immutable once resolved.
type Node struct {
	Type     string
	Required bool
	Nullable bool
	Default  Default
	Coerce   string // registry coercion name, empty when none
	Allowed  []any  // enum labels, with a trailing nil when nullable
	Fields   map[string]*Node
	Element  *Node
}

// IsComposite reports whether the node has member fields.
func (n *Node) IsComposite() bool { return n.Type == TypeComposite }

// IsArray reports whether the node has an element schema.
func (n *Node) IsArray() bool { return n.Type == TypeArray }

// FieldNames returns the composite member names, sorted.
func (n *Node) FieldNames() []string {
	names := make([]string, 0, len(n.Fields))
	for name := range n.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rules renders the node as the rule mapping a validator consumes. Keys
// that do not apply to the node are absent.
func (n *Node) Rules() map[string]any {
	r := map[string]any{RuleType: n.Type}

	if !n.IsComposite() {
		r[RuleRequired] = n.Required
	}
	if n.Nullable {
		r[RuleNullable] = true
	}
	if n.Default.Set {
		r[RuleDefault] = textDefault(n.Default.Value)
	}
	if n.Coerce != "" {
		r[RuleCoerce] = n.Coerce
	}
	if n.Allowed != nil {
		r[RuleAllowed] = n.Allowed
	}
	if n.Fields != nil {
		fields := make(map[string]any, len(n.Fields))
		for name, f := range n.Fields {
			fields[name] = f.Rules()
		}
		r[RuleFields] = fields
	}
	if n.Element != nil {
		r[RuleElement] = n.Element.Rules()
	}
	return r
}

// MarshalJSON encodes the node as its rule mapping.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Rules())
}

// UnmarshalJSON restores a node from its rule mapping. Default values come
// back in their JSON form.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Node
	if err := decodeRule(raw, RuleType, &out.Type); err != nil {
		return err
	}
	if out.Type == "" {
		return errs.New(errs.ErrKindInvalidInput, "schema node without a type")
	}
	if err := decodeRule(raw, RuleRequired, &out.Required); err != nil {
		return err
	}
	if err := decodeRule(raw, RuleNullable, &out.Nullable); err != nil {
		return err
	}
	if v, ok := raw[RuleDefault]; ok {
		out.Default.Set = true
		if err := json.Unmarshal(v, &out.Default.Value); err != nil {
			return err
		}
	}
	if err := decodeRule(raw, RuleCoerce, &out.Coerce); err != nil {
		return err
	}
	if err := decodeRule(raw, RuleAllowed, &out.Allowed); err != nil {
		return err
	}
	if err := decodeRule(raw, RuleFields, &out.Fields); err != nil {
		return err
	}
	if err := decodeRule(raw, RuleElement, &out.Element); err != nil {
		return err
	}

	*n = out
	return nil
}

// textDefault renders evaluated defaults whose JSON encoding is not
// readable by their coercer (a struct or base64 bytes) in Postgres text
// form. Dates, ranges and addresses already encode in a coercible shape.
func textDefault(v any) any {
	switch d := v.(type) {
	case net.HardwareAddr:
		return d.String()
	case pgtype.Time, pgtype.Interval, pgtype.Bits:
		if s, err := d.(driver.Valuer).Value(); err == nil && s != nil {
			return s
		}
	}
	return v
}

func decodeRule(raw map[string]json.RawMessage, key string, dst any) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "decode rule "+key, err)
	}
	return nil
}
