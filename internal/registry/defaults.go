package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
)

// Default returns the registry pgshape ships with: generic structural type
// names, the Postgres scalar names information_schema reports as udt_name,
// and coercions from the string and JSON forms of the types pgx decodes
// into richer Go values.
func Default() *Registry {
	r, err := New(defaultChecks(), defaultCoercers())
	if err != nil {
		panic(err)
	}
	return r
}

func defaultChecks() map[string]Check {
	return map[string]Check{
		// generic names
		"boolean":  isBool,
		"binary":   isBytes,
		"date":     isTime,
		"datetime": isTime,
		"dict":     isDict,
		"float":    isNumber,
		"integer":  isInteger,
		"list":     isList,
		"number":   isNumber,
		"set":      isList,
		"string":   isString,

		// postgres udt names
		"bool":        isBool,
		"bpchar":      isString,
		"bytea":       isBytes,
		"char":        isString,
		"citext":      isString,
		"float4":      isNumber,
		"float8":      isNumber,
		"int":         isInteger,
		"int2":        isInteger,
		"int4":        isInteger,
		"int8":        isInteger,
		"json":        isJSON,
		"jsonb":       isJSON,
		"name":        isString,
		"numeric":     isNumber,
		"text":        isString,
		"timestamp":   isTime,
		"timestamptz": isTime,
		"uuid":        isUUID,
		"varchar":     isString,
		"oid":         isInteger,
		"money":       isMoney,
		"xml":         isText,
		"time":        isTimeOfDay,
		"timetz":      isString, // no pgx codec, decoded as text
		"interval":    isInterval,
		"inet":        isNetwork,
		"cidr":        isNetwork,
		"macaddr":     isHardwareAddr,
		"macaddr8":    isHardwareAddr,
		"bit":         isBits,
		"varbit":      isBits,

		// ranges
		"int4range": isInt4Range,
		"int8range": isInt8Range,
		"numrange":  isNumRange,
		"daterange": isDateRange,
		"tsrange":   isTsRange,
		"tstzrange": isTstzRange,
	}
}

func defaultCoercers() map[string]Coercer {
	return map[string]Coercer{
		"date":        coerceDate,
		"datetime":    coerceDatetime,
		"timestamp":   coerceDatetime,
		"timestamptz": coerceDatetime,
		"time":        coerceTimeOfDay,
		"interval":    coerceInterval,
		"inet":        coerceNetwork,
		"cidr":        coerceNetwork,
		"macaddr":     coerceHardwareAddr,
		"macaddr8":    coerceHardwareAddr,
		"bit":         coerceBits,
		"varbit":      coerceBits,
		"int4range":   coerceInt4Range,
		"int8range":   coerceInt8Range,
		"numrange":    coerceNumRange,
		"daterange":   coerceDateRange,
		"tsrange":     coerceTsRange,
		"tstzrange":   coerceTstzRange,
		"json":        coerceJSON,
		"jsonb":       coerceJSON,
		"uuid":        coerceUUID,
	}
}

// --- checks ---

func isString(v any) bool { _, ok := v.(string); return ok }
func isBool(v any) bool   { _, ok := v.(bool); return ok }
func isBytes(v any) bool  { _, ok := v.([]byte); return ok }
func isTime(v any) bool   { _, ok := v.(time.Time); return ok }
func isList(v any) bool   { _, ok := v.([]any); return ok }

func isDict(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func isJSON(v any) bool {
	_, ok := v.(json.RawMessage)
	return ok
}

func isUUID(v any) bool {
	switch v.(type) {
	case uuid.UUID, [16]byte:
		return true
	}
	return false
}

func isInteger(v any) bool {
	_, ok := toInt64(v)
	return ok
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case float32, float64:
		return true
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case pgtype.Numeric:
		return n.Valid
	}
	return isInteger(v)
}

func isText(v any) bool { return isString(v) || isBytes(v) }

func isMoney(v any) bool { return isString(v) || isNumber(v) }

func isTimeOfDay(v any) bool {
	_, ok := v.(pgtype.Time)
	return ok
}

func isInterval(v any) bool {
	switch v.(type) {
	case pgtype.Interval, time.Duration:
		return true
	}
	return false
}

func isNetwork(v any) bool {
	switch v.(type) {
	case netip.Prefix, netip.Addr:
		return true
	}
	return false
}

func isHardwareAddr(v any) bool {
	_, ok := v.(net.HardwareAddr)
	return ok
}

func isBits(v any) bool {
	_, ok := v.(pgtype.Bits)
	return ok
}

// toInt64 accepts Go integer kinds, integral floats (JSON numbers decode as
// float64) and json.Number.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// --- coercers ---

func coerceDate(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		if d, err := time.Parse(dateLayout, t); err == nil {
			return d, nil
		}
		// dates decoded by pgx are midnight UTC and encode as RFC 3339
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, fmt.Errorf("unrecognised date %q", t)
		}
		return truncateDay(ts), nil
	}
	return nil, fmt.Errorf("expected a %s date string, got %T", dateLayout, v)
}

func coerceDatetime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, datetimeLayout, "2006-01-02T15:04:05", dateLayout} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return nil, fmt.Errorf("unrecognised datetime %q", t)
	}
	return nil, fmt.Errorf("expected a datetime string, got %T", v)
}

func coerceTimeOfDay(v any) (any, error) {
	switch t := v.(type) {
	case pgtype.Time:
		return t, nil
	case time.Time:
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		return pgtype.Time{Microseconds: t.Sub(midnight).Microseconds(), Valid: true}, nil
	case string:
		var out pgtype.Time
		if err := out.Scan(t); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a HH:MM:SS time string, got %T", v)
}

func coerceInterval(v any) (any, error) {
	switch d := v.(type) {
	case pgtype.Interval:
		return d, nil
	case time.Duration:
		return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}, nil
	case string:
		var out pgtype.Interval
		if err := out.Scan(d); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected an interval string, got %T", v)
}

func coerceNetwork(v any) (any, error) {
	switch a := v.(type) {
	case netip.Prefix:
		return a, nil
	case netip.Addr:
		return netip.PrefixFrom(a, a.BitLen()), nil
	case string:
		if p, err := netip.ParsePrefix(a); err == nil {
			return p, nil
		}
		addr, err := netip.ParseAddr(a)
		if err != nil {
			return nil, err
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	return nil, fmt.Errorf("expected an address string, got %T", v)
}

func coerceHardwareAddr(v any) (any, error) {
	switch a := v.(type) {
	case net.HardwareAddr:
		return a, nil
	case string:
		return net.ParseMAC(a)
	}
	return nil, fmt.Errorf("expected a MAC address string, got %T", v)
}

func coerceBits(v any) (any, error) {
	switch b := v.(type) {
	case pgtype.Bits:
		return b, nil
	case string:
		var out pgtype.Bits
		if err := out.Scan(b); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a bit string, got %T", v)
}

func coerceJSON(v any) (any, error) {
	switch j := v.(type) {
	case json.RawMessage:
		return j, nil
	case []byte:
		if !json.Valid(j) {
			return nil, fmt.Errorf("invalid JSON document")
		}
		return json.RawMessage(j), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func coerceUUID(v any) (any, error) {
	switch u := v.(type) {
	case uuid.UUID:
		return u, nil
	case [16]byte:
		return uuid.UUID(u), nil
	case string:
		return uuid.Parse(u)
	}
	return nil, fmt.Errorf("expected a UUID string, got %T", v)
}

// --- helpers ---

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
