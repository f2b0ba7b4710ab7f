package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/koustreak/pgshape/internal/database"
	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/koustreak/pgshape/internal/registry"
	"github.com/koustreak/pgshape/internal/schema"
	"github.com/koustreak/pgshape/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersSchema(keys []string) *schema.TableSchema {
	return &schema.TableSchema{
		Table:       "users",
		PrimaryKeys: keys,
		Columns: map[string]*schema.Node{
			"name": {Type: "varchar", Required: true},
			"age":  {Type: "int4", Nullable: true, Default: schema.NullDefault},
		},
	}
}

func TestModel_InsertStatement(t *testing.T) {
	m := NewModel(usersSchema([]string{"id"}), registry.Default())

	stmt, err := m.InsertStatement(map[string]any{"name": "ada", "junk": 1}, database.DialectPostgres)
	require.NoError(t, err)

	assert.Equal(t, `INSERT INTO "users" ("age", "name") VALUES ($1, $2)`, stmt.SQL)
	assert.Equal(t, []any{nil, "ada"}, stmt.Args)
}

func TestModel_InsertStatement_Invalid(t *testing.T) {
	m := NewModel(usersSchema([]string{"id"}), registry.Default())

	_, err := m.InsertStatement(map[string]any{"age": 3}, database.DialectPostgres)
	assert.True(t, errs.IsValidation(err))
}

func TestModel_UpdateStatement(t *testing.T) {
	m := NewModel(usersSchema([]string{"tenant", "id"}), registry.Default())

	stmt, err := m.UpdateStatement(
		map[string]any{"name": "ada", "age": 36},
		map[string]any{"id": 7, "tenant": "acme", "ignored": true},
		database.DialectMySQL,
	)
	require.NoError(t, err)

	assert.Equal(t, "UPDATE `users` SET `age` = ?, `name` = ? WHERE `id` = ? AND `tenant` = ?", stmt.SQL)
	assert.Equal(t, []any{36, "ada", 7, "acme"}, stmt.Args)
}

func TestModel_UpdateStatement_MissingKey(t *testing.T) {
	m := NewModel(usersSchema([]string{"tenant", "id"}), registry.Default())

	_, err := m.UpdateStatement(map[string]any{"name": "ada"}, map[string]any{"id": 7}, database.DialectPostgres)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.Contains(t, err.Error(), `"tenant"`)
}

func TestModel_UpdateStatement_NoPrimaryKey(t *testing.T) {
	m := NewModel(usersSchema([]string{}), registry.Default())

	_, err := m.UpdateStatement(map[string]any{"name": "ada"}, map[string]any{"id": 7}, database.DialectPostgres)
	assert.True(t, errs.IsInvalidInput(err))
}

type countingSource struct {
	calls atomic.Int32
	keys  []string
	err   error
}

func (s *countingSource) Schema(_ context.Context, table string, keys []string) (*schema.TableSchema, error) {
	s.calls.Add(1)
	s.keys = keys
	if s.err != nil {
		return nil, s.err
	}
	if keys == nil {
		keys = schema.DefaultPrimaryKeys
	}
	sch := usersSchema(keys)
	sch.Table = table
	return sch, nil
}

func TestRegistry_BuildsOnce(t *testing.T) {
	src := &countingSource{}
	r := NewRegistry(src, registry.Default(), WithRegistryLogger(logger.Nop()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := r.Model(context.Background(), "users")
			assert.NoError(t, err)
			assert.Equal(t, "users", m.Name())
		}()
	}
	wg.Wait()

	_, err := r.Model(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
}

// blockingSource holds Schema until release is closed and records whether
// the build context was cancelled by then.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	ctxErr  atomic.Value
}

func (s *blockingSource) Schema(ctx context.Context, table string, keys []string) (*schema.TableSchema, error) {
	if s.calls.Add(1) == 1 {
		close(s.started)
	}
	<-s.release
	s.ctxErr.Store(fmt.Sprint(ctx.Err()))
	return usersSchema(schema.DefaultPrimaryKeys), nil
}

func TestRegistry_CancelledCallerDoesNotFailSharedBuild(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	r := NewRegistry(src, registry.Default(), WithRegistryLogger(logger.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.Model(ctx, "users")
		first <- err
	}()

	<-src.started
	cancel()
	err := <-first
	assert.True(t, errs.IsTimeout(err))
	assert.ErrorIs(t, err, context.Canceled)

	close(src.release)
	m, err := r.Model(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, "users", m.Name())
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, "<nil>", src.ctxErr.Load())
}

func TestRegistry_ConfiguredTables(t *testing.T) {
	src := &countingSource{}
	r := NewRegistry(src, registry.Default(),
		WithTables(map[string][]string{"users": {"uid"}}),
		WithRegistryLogger(logger.Nop()))

	m, err := r.Model(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"uid"}, m.PrimaryKeys())
	assert.Equal(t, []string{"users"}, r.Tables())

	_, err = r.Model(context.Background(), "orders")
	assert.True(t, errs.IsNotFound(err))
}

func TestRegistry_KeyLookup(t *testing.T) {
	src := &countingSource{}
	r := NewRegistry(src, registry.Default(),
		WithKeyLookup(func(context.Context, string) ([]string, error) { return []string{"tenant", "id"}, nil }),
		WithRegistryLogger(logger.Nop()))

	m, err := r.Model(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant", "id"}, m.PrimaryKeys())
}

func TestRegistry_EmptyLookupFallsBackToDefault(t *testing.T) {
	src := &countingSource{}
	r := NewRegistry(src, registry.Default(),
		WithKeyLookup(func(context.Context, string) ([]string, error) { return nil, nil }),
		WithRegistryLogger(logger.Nop()))

	m, err := r.Model(context.Background(), "users")
	require.NoError(t, err)
	assert.Nil(t, src.keys)
	assert.Equal(t, []string{"id"}, m.PrimaryKeys())
}

func TestRegistry_SourceFailureIsNotCached(t *testing.T) {
	src := &countingSource{err: errs.New(errs.ErrKindCatalogQuery, "boom")}
	r := NewRegistry(src, registry.Default(), WithRegistryLogger(logger.Nop()))

	_, err := r.Model(context.Background(), "users")
	assert.True(t, errs.IsCatalogQuery(err))

	src.err = nil
	_, err = r.Model(context.Background(), "users")
	assert.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestRegistry_Hooks(t *testing.T) {
	r := NewRegistry(&countingSource{}, registry.Default(),
		WithFieldHooks("users", validate.WithHook("name", func(any) (any, error) {
			return nil, errors.New("names are frozen")
		})),
		WithRegistryLogger(logger.Nop()))

	m, err := r.Model(context.Background(), "users")
	require.NoError(t, err)

	_, err = m.Normalize(map[string]any{"name": "ada"})
	assert.True(t, errs.IsValidation(err))
}
