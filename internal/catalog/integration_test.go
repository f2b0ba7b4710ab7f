//go:build integration

package catalog

import (
	"context"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/koustreak/pgshape/internal/database"
	"github.com/koustreak/pgshape/internal/database/postgres"
	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const fixture = `
CREATE TYPE status_enum AS ENUM ('active', 'inactive');
CREATE TYPE address AS (street text, zip int4, lines text[]);
CREATE TABLE users (
    id       serial PRIMARY KEY,
    name     varchar(64) NOT NULL,
    age      int4,
    status   status_enum NOT NULL DEFAULT 'active',
    home     address,
    tags     text[],
    score    int4 DEFAULT 10
);`

func postgresVersion() string {
	if v := os.Getenv("PGSHAPE_POSTGRES_VERSION"); v != "" {
		return v
	}
	return "17"
}

func startCatalog(ctx context.Context, t *testing.T) *Postgres {
	t.Helper()

	container, err := tcpostgres.Run(ctx,
		"postgres:"+postgresVersion()+"-alpine",
		tcpostgres.WithDatabase("pgshape"),
		tcpostgres.WithUsername("pgshape"),
		tcpostgres.WithPassword("pgshape"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(log.New(io.Discard, "", 0)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.New(ctx, database.DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Exec(ctx, fixture)
	require.NoError(t, err)

	return NewPostgres(db, WithLogger(logger.Nop()))
}

func TestPostgresCatalog(t *testing.T) {
	ctx := context.Background()
	cat := startCatalog(ctx, t)

	t.Run("columns", func(t *testing.T) {
		cols, err := cat.Columns(ctx, "users", []string{"id"})
		require.NoError(t, err)

		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
		}
		assert.Equal(t, []string{"name", "age", "status", "home", "tags", "score"}, names)

		assert.Equal(t, "varchar", cols[0].UDTName)
		assert.False(t, cols[0].IsNullable)
		assert.True(t, cols[2].IsUserDefined())
		assert.Equal(t, "address", cols[3].UDTName)
		assert.True(t, cols[4].IsArray())
		assert.Equal(t, "_text", cols[4].UDTName)
		require.NotNil(t, cols[5].Default)
	})

	t.Run("composite", func(t *testing.T) {
		fields, err := cat.CompositeFields(ctx, "address")
		require.NoError(t, err)
		assert.Equal(t, []CompositeField{
			{Name: "street", TypeName: "text"},
			{Name: "zip", TypeName: "int4"},
			{Name: "lines", TypeName: "_text", IsArray: true},
		}, fields)

		none, err := cat.CompositeFields(ctx, "status_enum")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("enum", func(t *testing.T) {
		labels, err := cat.EnumLabels(ctx, "status_enum")
		require.NoError(t, err)
		assert.Equal(t, []string{"active", "inactive"}, labels)
	})

	t.Run("default", func(t *testing.T) {
		v, err := cat.EvaluateDefault(ctx, "10")
		require.NoError(t, err)
		assert.EqualValues(t, 10, v)

		_, err = cat.EvaluateDefault(ctx, "no_such_function()")
		assert.True(t, errs.IsDefaultEvaluation(err))
	})

	t.Run("missing table", func(t *testing.T) {
		_, err := cat.Columns(ctx, "nope", nil)
		assert.True(t, errs.IsNotFound(err))
	})

	t.Run("primary keys", func(t *testing.T) {
		keys, err := cat.PrimaryKeys(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, []string{"id"}, keys)
	})

	t.Run("tables", func(t *testing.T) {
		names, err := cat.Tables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"users"}, names)
	})
}
