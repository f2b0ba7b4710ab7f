package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func isInt4Range(v any) bool {
	_, ok := v.(pgtype.Range[pgtype.Int4])
	return ok
}

func isInt8Range(v any) bool {
	_, ok := v.(pgtype.Range[pgtype.Int8])
	return ok
}

func isNumRange(v any) bool {
	_, ok := v.(pgtype.Range[pgtype.Numeric])
	return ok
}

func isDateRange(v any) bool {
	_, ok := v.(pgtype.Range[pgtype.Date])
	return ok
}

func isTsRange(v any) bool {
	_, ok := v.(pgtype.Range[pgtype.Timestamp])
	return ok
}

func isTstzRange(v any) bool {
	_, ok := v.(pgtype.Range[pgtype.Timestamptz])
	return ok
}

func coerceInt4Range(v any) (any, error) {
	if r, ok := v.(pgtype.Range[pgtype.Int4]); ok {
		return r, nil
	}
	return buildRange(v, func(b any) (pgtype.Int4, error) {
		n, ok := toInt64(b)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return pgtype.Int4{}, fmt.Errorf("int4range bounds must be 32-bit integers, got %v", b)
		}
		return pgtype.Int4{Int32: int32(n), Valid: true}, nil
	})
}

func coerceInt8Range(v any) (any, error) {
	if r, ok := v.(pgtype.Range[pgtype.Int8]); ok {
		return r, nil
	}
	return buildRange(v, func(b any) (pgtype.Int8, error) {
		n, ok := toInt64(b)
		if !ok {
			return pgtype.Int8{}, fmt.Errorf("int8range bounds must be integers, got %v", b)
		}
		return pgtype.Int8{Int64: n, Valid: true}, nil
	})
}

func coerceNumRange(v any) (any, error) {
	if r, ok := v.(pgtype.Range[pgtype.Numeric]); ok {
		return r, nil
	}
	return buildRange(v, numericBound)
}

func coerceDateRange(v any) (any, error) {
	if r, ok := v.(pgtype.Range[pgtype.Date]); ok {
		return r, nil
	}
	return buildRange(v, func(b any) (pgtype.Date, error) {
		t, err := timeBound(b)
		if err != nil {
			return pgtype.Date{}, err
		}
		return pgtype.Date{Time: truncateDay(t), Valid: true}, nil
	})
}

func coerceTsRange(v any) (any, error) {
	if r, ok := v.(pgtype.Range[pgtype.Timestamp]); ok {
		return r, nil
	}
	return buildRange(v, func(b any) (pgtype.Timestamp, error) {
		t, err := timeBound(b)
		if err != nil {
			return pgtype.Timestamp{}, err
		}
		return pgtype.Timestamp{Time: t, Valid: true}, nil
	})
}

func coerceTstzRange(v any) (any, error) {
	if r, ok := v.(pgtype.Range[pgtype.Timestamptz]); ok {
		return r, nil
	}
	return buildRange(v, func(b any) (pgtype.Timestamptz, error) {
		t, err := timeBound(b)
		if err != nil {
			return pgtype.Timestamptz{}, err
		}
		return pgtype.Timestamptz{Time: t, Valid: true}, nil
	})
}

// buildRange converts any accepted range shape into a typed pgtype.Range,
// converting each finite bound with bound.
func buildRange[T any](v any, bound func(any) (T, error)) (pgtype.Range[T], error) {
	lo, hi, lt, ut, err := rangeParts(v)
	if err != nil {
		return pgtype.Range[T]{}, err
	}

	out := pgtype.Range[T]{LowerType: lt, UpperType: ut, Valid: true}
	if lt == pgtype.Empty || ut == pgtype.Empty {
		out.LowerType, out.UpperType = pgtype.Empty, pgtype.Empty
		return out, nil
	}
	if lt != pgtype.Unbounded {
		if out.Lower, err = bound(lo); err != nil {
			return pgtype.Range[T]{}, err
		}
	}
	if ut != pgtype.Unbounded {
		if out.Upper, err = bound(hi); err != nil {
			return pgtype.Range[T]{}, err
		}
	}
	return out, nil
}

// rangeParts unpacks the shapes a range arrives in: a [lower, upper] pair
// (inclusive lower, exclusive upper), a range decoded by pgx such as
// pgtype.Range[any], or the JSON object a pgtype.Range encodes to. A nil
// bound is unbounded.
func rangeParts(v any) (lo, hi any, lt, ut pgtype.BoundType, err error) {
	lt, ut = pgtype.Inclusive, pgtype.Exclusive

	switch r := v.(type) {
	case pgtype.RangeValuer:
		if r.IsNull() {
			return nil, nil, 0, 0, fmt.Errorf("null range")
		}
		lp, up := r.Bounds()
		lo, hi = deref(lp), deref(up)
		lt, ut = r.BoundTypes()
	case map[string]any:
		if valid, ok := r["Valid"].(bool); ok && !valid {
			return nil, nil, 0, 0, fmt.Errorf("null range")
		}
		lo, hi = r["Lower"], r["Upper"]
		if b, ok := boundType(r["LowerType"]); ok {
			lt = b
		}
		if b, ok := boundType(r["UpperType"]); ok {
			ut = b
		}
	default:
		if lo, hi, err = pair(v); err != nil {
			return nil, nil, 0, 0, err
		}
	}

	if lo == nil && lt != pgtype.Empty {
		lt = pgtype.Unbounded
	}
	if hi == nil && ut != pgtype.Empty {
		ut = pgtype.Unbounded
	}
	return lo, hi, lt, ut, nil
}

// pair unpacks a two-element slice of any element type.
func pair(v any) (any, any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, nil, fmt.Errorf("expected a [lower, upper] pair, got %T", v)
	}
	if rv.Len() != 2 {
		return nil, nil, fmt.Errorf("expected a [lower, upper] pair, got %d elements", rv.Len())
	}
	return rv.Index(0).Interface(), rv.Index(1).Interface(), nil
}

// boundType reads a pgtype.BoundType back from its JSON number form.
func boundType(v any) (pgtype.BoundType, bool) {
	n, ok := toInt64(v)
	if !ok || n < 0 || n > math.MaxUint8 {
		return 0, false
	}
	switch b := pgtype.BoundType(n); b {
	case pgtype.Inclusive, pgtype.Exclusive, pgtype.Unbounded, pgtype.Empty:
		return b, true
	}
	return 0, false
}

func deref(p any) any {
	rv := reflect.ValueOf(p)
	if rv.Kind() != reflect.Pointer {
		return p
	}
	if rv.IsNil() {
		return nil
	}
	return rv.Elem().Interface()
}

func timeBound(v any) (time.Time, error) {
	switch t := v.(type) {
	case pgtype.Date:
		return t.Time, nil
	case pgtype.Timestamp:
		return t.Time, nil
	case pgtype.Timestamptz:
		return t.Time, nil
	}
	t, err := coerceDatetime(v)
	if err != nil {
		return time.Time{}, err
	}
	return t.(time.Time), nil
}

func numericBound(v any) (pgtype.Numeric, error) {
	var text string
	switch n := v.(type) {
	case pgtype.Numeric:
		return n, nil
	case float64:
		text = strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		text = strconv.FormatFloat(float64(n), 'f', -1, 32)
	case json.Number:
		text = n.String()
	case string:
		text = n
	default:
		i, ok := toInt64(v)
		if !ok {
			return pgtype.Numeric{}, fmt.Errorf("numrange bounds must be numbers, got %v", v)
		}
		text = strconv.FormatInt(i, 10)
	}

	var out pgtype.Numeric
	if err := out.Scan(text); err != nil {
		return pgtype.Numeric{}, err
	}
	return out, nil
}
