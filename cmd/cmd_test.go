package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/koustreak/pgshape/internal/registry"
	"github.com/koustreak/pgshape/internal/schema"
	"github.com/koustreak/pgshape/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableSchema(name string) *schema.TableSchema {
	return &schema.TableSchema{
		Table:       name,
		PrimaryKeys: []string{"id"},
		Columns: map[string]*schema.Node{
			"name":  {Type: "varchar", Required: true},
			"since": {Type: "date", Coerce: "date", Nullable: true, Default: schema.NullDefault},
		},
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range RootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"generate", "validate", "serve", "types"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, RootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, RootCmd.PersistentFlags().Lookup("debug"))
	assert.NotNil(t, GenerateCmd.Flags().Lookup("save"))
}

func TestValidateCmd_Args(t *testing.T) {
	assert.Error(t, ValidateCmd.Args(ValidateCmd, nil))
	assert.NoError(t, ValidateCmd.Args(ValidateCmd, []string{"users"}))
	assert.NoError(t, ValidateCmd.Args(ValidateCmd, []string{"users", "row.json"}))
	assert.Error(t, ValidateCmd.Args(ValidateCmd, []string{"users", "a", "b"}))
}

func TestGenerateAll(t *testing.T) {
	var calls atomic.Int32
	gen := func(_ context.Context, tbl string) (*schema.TableSchema, error) {
		calls.Add(1)
		// finish out of order
		if tbl == "a" {
			time.Sleep(10 * time.Millisecond)
		}
		return tableSchema(tbl), nil
	}

	out, err := generateAll(context.Background(), []string{"a", "b", "c"}, 2, gen)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].Table)
	assert.Equal(t, "c", out[2].Table)
}

func TestGenerateAll_Failure(t *testing.T) {
	gen := func(_ context.Context, tbl string) (*schema.TableSchema, error) {
		if tbl == "broken" {
			return nil, errs.New(errs.ErrKindUnresolvedType, "mood is neither composite nor enum")
		}
		return tableSchema(tbl), nil
	}

	_, err := generateAll(context.Background(), []string{"users", "broken"}, 0, gen)
	require.Error(t, err)
	assert.True(t, errs.IsUnresolvedType(err))
	assert.Contains(t, err.Error(), `generate "broken"`)
}

func TestWriteSchemas(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSchemas(&buf, []*schema.TableSchema{tableSchema("users"), tableSchema("orders")}))

	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Len(t, out, 2)
	assert.Equal(t, "orders", out["orders"]["table"])
	assert.Equal(t, []any{"id"}, out["users"]["primary_keys"])
}

type staticSource map[string]*schema.TableSchema

func (s staticSource) Schema(_ context.Context, name string, _ []string) (*schema.TableSchema, error) {
	ts, ok := s[name]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %q does not exist", name)
	}
	return ts, nil
}

func testModels() *table.Registry {
	return table.NewRegistry(staticSource{"users": tableSchema("users")}, registry.Default(),
		table.WithRegistryLogger(logger.Nop()))
}

func TestValidateRow(t *testing.T) {
	var out, errOut bytes.Buffer
	err := validateRow(context.Background(), testModels(), "users",
		strings.NewReader(`{"name":"ada","since":"2024-02-29","extra":true}`), &out, &errOut)
	require.NoError(t, err)
	assert.Empty(t, errOut.String())

	var row map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &row))
	assert.Equal(t, "ada", row["name"])
	assert.Equal(t, "2024-02-29T00:00:00Z", row["since"])
	assert.NotContains(t, row, "extra")
}

func TestValidateRow_Rejected(t *testing.T) {
	var out, errOut bytes.Buffer
	err := validateRow(context.Background(), testModels(), "users",
		strings.NewReader(`{"since":"yesterday"}`), &out, &errOut)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 field error(s)")
	assert.Contains(t, errOut.String(), "name: required field")
	assert.Contains(t, errOut.String(), "since: ")
	assert.Empty(t, out.String())
}

func TestValidateRow_BadInput(t *testing.T) {
	var out, errOut bytes.Buffer
	err := validateRow(context.Background(), testModels(), "users", strings.NewReader(`[1]`), &out, &errOut)
	assert.True(t, errs.IsInvalidInput(err))

	err = validateRow(context.Background(), testModels(), "orders", strings.NewReader(`{}`), &out, &errOut)
	assert.True(t, errs.IsNotFound(err))
}

func TestWriteTypes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTypes(&buf, registry.Default()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "known:"))
	assert.Contains(t, lines[0], " int4range ")
	assert.Contains(t, lines[1], "tsrange")
}

func TestSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgshape.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog:\n  schema: billing\nlog:\n  level: warn\n"), 0o600))

	configPath, Debug = path, true
	defer func() { configPath, Debug = "", false }()

	require.NoError(t, setup())
	assert.Equal(t, "billing", cfg.Catalog.Schema)
	assert.Equal(t, "debug", cfg.Log.Level, "--debug wins over the file")
	assert.NotNil(t, log)

	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, setup())
}
