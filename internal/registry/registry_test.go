package registry

import (
	"encoding/json"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/pgshape/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_KnownAndCoercible(t *testing.T) {
	r := Default()

	for _, name := range []string{"varchar", "int4", "int", "text", "citext", "bool", "json", "jsonb",
		"int4range", "date", "datetime", "daterange", "tsrange", "integer", "string",
		"time", "timetz", "interval", "inet", "cidr", "macaddr", "money", "xml", "oid",
		"bit", "varbit", "int8range", "numrange", "tstzrange"} {
		assert.True(t, r.Known(name), name)
	}
	for _, name := range []string{"int4range", "date", "datetime", "daterange", "tsrange", "json", "jsonb"} {
		assert.True(t, r.Coercible(name), name)
	}

	assert.False(t, r.Known("mood"))
	assert.False(t, r.Known("_int4"))
	assert.False(t, r.Coercible("int4"))
	assert.False(t, r.Coercible("varchar"))
}

func TestKnownTypes_Sorted(t *testing.T) {
	names := Default().KnownTypes()
	require.NotEmpty(t, names)
	assert.IsNonDecreasing(t, names)
	assert.Contains(t, names, "int4range")
	assert.Subset(t, names, Default().CoercibleTypes())
}

func TestNew_CoercerWithoutCheck(t *testing.T) {
	_, err := New(nil, map[string]Coercer{"money": coerceJSON})
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestExtend(t *testing.T) {
	base := Default()
	ext, err := base.Extend(
		map[string]Check{"mood": isString},
		map[string]Coercer{"mood": func(v any) (any, error) { return v, nil }},
	)
	require.NoError(t, err)

	assert.True(t, ext.Known("mood"))
	assert.True(t, ext.Coercible("mood"))
	assert.False(t, base.Known("mood"), "base registry must not change")
}

func TestCheck(t *testing.T) {
	r := Default()

	tests := []struct {
		name  string
		typ   string
		value any
		want  bool
	}{
		{"int", "int4", 5, true},
		{"int32", "int4", int32(5), true},
		{"integral float", "int4", float64(5), true},
		{"fractional float", "int4", 5.5, false},
		{"json number", "int8", json.Number("12"), true},
		{"string as int", "int4", "5", false},
		{"varchar", "varchar", "abc", true},
		{"varchar int", "varchar", 1, false},
		{"bool", "bool", true, true},
		{"numeric float", "numeric", 1.25, true},
		{"time", "timestamptz", time.Now(), true},
		{"uuid", "uuid", uuid.New(), true},
		{"raw json", "jsonb", json.RawMessage(`{}`), true},
		{"map as json", "jsonb", map[string]any{}, false},
		{"list", "list", []any{1}, true},
		{"dict", "dict", map[string]any{"a": 1}, true},
		{"oid", "oid", uint32(16384), true},
		{"money string", "money", "$1.50", true},
		{"money number", "money", 1.5, true},
		{"xml", "xml", "<a/>", true},
		{"inet prefix", "inet", netip.MustParsePrefix("10.0.0.0/8"), true},
		{"inet string", "inet", "10.0.0.1", false},
		{"interval", "interval", pgtype.Interval{Days: 1, Valid: true}, true},
		{"duration", "interval", time.Hour, true},
		{"time of day", "time", pgtype.Time{Microseconds: 1, Valid: true}, true},
		{"timetz text", "timetz", "12:00:00+02", true},
		{"mac", "macaddr", net.HardwareAddr{0, 1, 2, 3, 4, 5}, true},
		{"bits", "varbit", pgtype.Bits{Bytes: []byte{0x80}, Len: 1, Valid: true}, true},
		{"untyped range", "int4range", pgtype.Range[any]{Valid: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, ok := r.Check(tt.typ, tt.value)
			require.True(t, ok)
			assert.Equal(t, tt.want, valid)
		})
	}

	_, ok := r.Check("mood", "happy")
	assert.False(t, ok)
}

func TestCoerce_Int4Range(t *testing.T) {
	got, err := Default().Coerce("int4range", []any{float64(1), float64(10)})
	require.NoError(t, err)

	r, ok := got.(pgtype.Range[pgtype.Int4])
	require.True(t, ok)
	assert.Equal(t, int32(1), r.Lower.Int32)
	assert.Equal(t, int32(10), r.Upper.Int32)
	assert.Equal(t, pgtype.Inclusive, r.LowerType)
	assert.Equal(t, pgtype.Exclusive, r.UpperType)

	// already coerced values pass through
	again, err := Default().Coerce("int4range", got)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	_, err = Default().Coerce("int4range", []any{1})
	assert.Error(t, err)
	_, err = Default().Coerce("int4range", "1,10")
	assert.Error(t, err)
	_, err = Default().Coerce("int4range", []any{1.5, 2})
	assert.Error(t, err)
}

func TestCoerce_Dates(t *testing.T) {
	r := Default()

	d, err := r.Coerce("date", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d)

	_, err = r.Coerce("date", "01/03/2024")
	assert.Error(t, err)

	dt, err := r.Coerce("datetime", "2024-03-01 12:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), dt)

	dt, err = r.Coerce("timestamptz", "2024-03-01T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), dt)

	dr, err := r.Coerce("daterange", []string{"2024-01-01", "2024-02-01"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), dr.(pgtype.Range[pgtype.Date]).Lower.Time)

	tr, err := r.Coerce("tsrange", []any{"2024-01-01 00:00:00", "2024-01-01 06:00:00"})
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, tr.(pgtype.Range[pgtype.Timestamp]).Upper.Time.Sub(tr.(pgtype.Range[pgtype.Timestamp]).Lower.Time))
}

func TestCoerce_JSONAndUUID(t *testing.T) {
	r := Default()

	j, err := r.Coerce("jsonb", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(j.(json.RawMessage)))

	_, err = r.Coerce("json", []byte("{nope"))
	assert.Error(t, err)

	id := uuid.New()
	u, err := r.Coerce("uuid", id.String())
	require.NoError(t, err)
	assert.Equal(t, id, u)

	u, err = r.Coerce("uuid", [16]byte(id))
	require.NoError(t, err)
	assert.Equal(t, id, u)

	_, err = r.Coerce("varchar", "x")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestCoerce_RangeShapes(t *testing.T) {
	want := pgtype.Range[pgtype.Int4]{
		Lower:     pgtype.Int4{Int32: 1, Valid: true},
		Upper:     pgtype.Int4{Int32: 5, Valid: true},
		LowerType: pgtype.Inclusive,
		UpperType: pgtype.Exclusive,
		Valid:     true,
	}

	tests := []struct {
		name  string
		value any
		want  pgtype.Range[pgtype.Int4]
	}{
		{"pair", []any{1, 5}, want},
		{"decoded by pgx", pgtype.Range[any]{Lower: int32(1), Upper: int32(5), LowerType: pgtype.Inclusive, UpperType: pgtype.Exclusive, Valid: true}, want},
		{"json object", map[string]any{"Lower": float64(1), "Upper": float64(5), "LowerType": float64('i'), "UpperType": float64('e'), "Valid": true}, want},
		{
			"closed bounds kept",
			map[string]any{"Lower": float64(1), "Upper": float64(5), "LowerType": float64('i'), "UpperType": float64('i'), "Valid": true},
			pgtype.Range[pgtype.Int4]{Lower: want.Lower, Upper: want.Upper, LowerType: pgtype.Inclusive, UpperType: pgtype.Inclusive, Valid: true},
		},
		{
			"unbounded upper",
			[]any{1, nil},
			pgtype.Range[pgtype.Int4]{Lower: want.Lower, LowerType: pgtype.Inclusive, UpperType: pgtype.Unbounded, Valid: true},
		},
		{
			"empty",
			pgtype.Range[any]{LowerType: pgtype.Empty, UpperType: pgtype.Empty, Valid: true},
			pgtype.Range[pgtype.Int4]{LowerType: pgtype.Empty, UpperType: pgtype.Empty, Valid: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Default().Coerce("int4range", tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Default().Coerce("int4range", map[string]any{"Lower": nil, "Upper": nil, "Valid": false})
	assert.Error(t, err)
}

func TestCoerce_OtherRanges(t *testing.T) {
	r := Default()

	i8, err := r.Coerce("int8range", []any{float64(1), float64(1 << 40)})
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), i8.(pgtype.Range[pgtype.Int8]).Upper.Int64)

	num, err := r.Coerce("numrange", []any{1.5, 3})
	require.NoError(t, err)
	lower, err := num.(pgtype.Range[pgtype.Numeric]).Lower.Float64Value()
	require.NoError(t, err)
	assert.Equal(t, 1.5, lower.Float64)

	tz, err := r.Coerce("tstzrange", []any{"2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z"})
	require.NoError(t, err)
	span := tz.(pgtype.Range[pgtype.Timestamptz])
	assert.Equal(t, 24*time.Hour, span.Upper.Time.Sub(span.Lower.Time))

	// a date range decoded by pgx, then encoded to JSON and back
	dr, err := r.Coerce("daterange", map[string]any{"Lower": "2024-01-01T00:00:00Z", "Upper": "2024-02-01T00:00:00Z", "Valid": true})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), dr.(pgtype.Range[pgtype.Date]).Upper.Time)
}

func TestCoerce_PostgresScalars(t *testing.T) {
	r := Default()

	ip, err := r.Coerce("inet", "192.168.0.7")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("192.168.0.7/32"), ip)

	block, err := r.Coerce("cidr", "10.0.0.0/8")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), block)

	_, err = r.Coerce("inet", "not-an-ip")
	assert.Error(t, err)

	mac, err := r.Coerce("macaddr", "08:00:2b:01:02:03")
	require.NoError(t, err)
	assert.Equal(t, net.HardwareAddr{0x08, 0x00, 0x2b, 0x01, 0x02, 0x03}, mac)

	iv, err := r.Coerce("interval", "1 day 02:00:00")
	require.NoError(t, err)
	assert.Equal(t, pgtype.Interval{Days: 1, Microseconds: (2 * time.Hour).Microseconds(), Valid: true}, iv)

	iv, err = r.Coerce("interval", 90*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, pgtype.Interval{Microseconds: (90 * time.Minute).Microseconds(), Valid: true}, iv)

	tod, err := r.Coerce("time", "12:30:00")
	require.NoError(t, err)
	assert.Equal(t, pgtype.Time{Microseconds: (12*time.Hour + 30*time.Minute).Microseconds(), Valid: true}, tod)

	bits, err := r.Coerce("varbit", "101")
	require.NoError(t, err)
	assert.Equal(t, int32(3), bits.(pgtype.Bits).Len)
}

func TestCoerce_DateFromTimestampText(t *testing.T) {
	d, err := Default().Coerce("date", "2024-01-02T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), d)
}
