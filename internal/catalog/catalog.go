// Package catalog reads the Postgres metadata the schema resolver needs:
// the columns of a table, the members of a composite type and the labels of
// an enum. It also evaluates stored column default expressions.
package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Values information_schema reports in columns.data_type that the resolver
// branches on. Anything else is a simple type.
const (
	DataTypeUserDefined = "USER-DEFINED"
	DataTypeArray       = "ARRAY"
	DataTypeSimple      = "SIMPLE"
)

// ArrayMarker prefixes the udt_name of Postgres array types.
const ArrayMarker = "_"

// Column describes one catalog column, or a synthetic descriptor built by
// the resolver for a composite member or an array element.
type Column struct {
	Name       string
	DataType   string
	UDTName    string
	IsNullable bool
	Default    *string // raw default expression, nil when the column has none
}

// IsUserDefined reports whether the catalog classifies the column as a
// user-defined type.
func (c Column) IsUserDefined() bool { return c.DataType == DataTypeUserDefined }

// IsArray reports whether the catalog classifies the column as an array.
func (c Column) IsArray() bool { return c.DataType == DataTypeArray }

// BaseType returns UDTName with one leading array marker removed.
func (c Column) BaseType() string { return StripArrayMarker(c.UDTName) }

// StripArrayMarker removes a single leading "_" from a type name.
func StripArrayMarker(name string) string {
	return strings.TrimPrefix(name, ArrayMarker)
}

func (c Column) String() string {
	return fmt.Sprintf("%s (%s/%s)", c.Name, c.DataType, c.UDTName)
}

// CompositeField is one member of a composite type.
type CompositeField struct {
	Name     string
	TypeName string // pg_type.typname of the member, array-prefixed for arrays
	IsArray  bool
}

// Catalog answers the three metadata questions the resolver asks.
// Implementations return errors of kind errs.ErrKindCatalogQuery when a
// query fails.
type Catalog interface {
	// Columns lists the columns of table in ordinal order, skipping the
	// names in exclude.
	Columns(ctx context.Context, table string, exclude []string) ([]Column, error)

	// CompositeFields lists the members of the composite type typeName in
	// attribute order. A type that is not composite yields no rows.
	CompositeFields(ctx context.Context, typeName string) ([]CompositeField, error)

	// EnumLabels lists the labels of the enum typeName in sort order.
	// A type that is not an enum yields no labels.
	EnumLabels(ctx context.Context, typeName string) ([]string, error)
}

// DefaultEvaluator turns a stored default expression into a value by running
// it against the live database.
//
// Only trusted catalog text may be passed: the expression is executed, so
// volatile defaults take effect. A nextval() default consumes a sequence value
// every time it is evaluated.
type DefaultEvaluator interface {
	EvaluateDefault(ctx context.Context, expr string) (any, error)
}
