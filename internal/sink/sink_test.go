package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/koustreak/pgshape/internal/database"
	"github.com/koustreak/pgshape/internal/database/dbtest"
	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/koustreak/pgshape/internal/registry"
	"github.com/koustreak/pgshape/internal/schema"
	"github.com/koustreak/pgshape/internal/table"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersModel() *table.Model {
	return table.NewModel(&schema.TableSchema{
		Table:       "users",
		PrimaryKeys: []string{"id"},
		Columns: map[string]*schema.Node{
			"name": {Type: "varchar", Required: true},
			"age":  {Type: "int4", Nullable: true, Default: schema.NullDefault},
		},
	}, registry.Default())
}

func TestSQL_Insert(t *testing.T) {
	db := &dbtest.DB{DialectValue: database.DialectPostgres}
	s := NewSQL(db, logger.Nop())

	require.NoError(t, s.Insert(context.Background(), usersModel(), map[string]any{"name": "ada", "junk": true}))

	execs := db.Execs()
	require.Len(t, execs, 1)
	assert.Equal(t, `INSERT INTO "users" ("age", "name") VALUES ($1, $2)`, execs[0].SQL)
	assert.Equal(t, []any{nil, "ada"}, execs[0].Args)
}

func TestSQL_Update_MySQL(t *testing.T) {
	db := &dbtest.DB{DialectValue: database.DialectMySQL}
	s := NewSQL(db, logger.Nop())

	err := s.Update(context.Background(), usersModel(), map[string]any{"name": "ada", "age": 36}, map[string]any{"id": 7})
	require.NoError(t, err)

	execs := db.Execs()
	require.Len(t, execs, 1)
	assert.Equal(t, "UPDATE `users` SET `age` = ?, `name` = ? WHERE `id` = ?", execs[0].SQL)
}

func TestSQL_RejectedRowWritesNothing(t *testing.T) {
	db := &dbtest.DB{}
	s := NewSQL(db, logger.Nop())

	err := s.Insert(context.Background(), usersModel(), map[string]any{"age": "old"})
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, db.Execs())
}

func TestSQL_Errors(t *testing.T) {
	t.Run("exec failure keeps kind", func(t *testing.T) {
		db := &dbtest.DB{ExecErr: errs.New(errs.ErrKindPermissionDenied, "denied")}
		err := NewSQL(db, logger.Nop()).Insert(context.Background(), usersModel(), map[string]any{"name": "ada"})
		assert.True(t, errs.IsPermissionDenied(err))
		assert.Contains(t, err.Error(), `insert "users"`)
	})

	t.Run("missing key", func(t *testing.T) {
		db := &dbtest.DB{}
		err := NewSQL(db, logger.Nop()).Update(context.Background(), usersModel(), map[string]any{"name": "ada"}, nil)
		assert.True(t, errs.IsInvalidInput(err))
		assert.Empty(t, db.Execs())
	})

	t.Run("no matching row", func(t *testing.T) {
		db := &zeroAffected{}
		err := NewSQL(db, logger.Nop()).Update(context.Background(), usersModel(), map[string]any{"name": "ada"}, map[string]any{"id": 1})
		assert.True(t, errs.IsNotFound(err))
	})
}

// zeroAffected reports that no row matched.
type zeroAffected struct{ dbtest.DB }

func (z *zeroAffected) Exec(context.Context, string, ...any) (int64, error) { return 0, nil }

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed++
	return nil
}

func TestKafka_Insert(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafkaWithWriter(w, "rows", logger.Nop())

	require.NoError(t, k.Insert(context.Background(), usersModel(), map[string]any{"name": "ada", "junk": 1}))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "users", string(msg.Key))
	assert.Equal(t, []kafka.Header{{Key: "op", Value: []byte("insert")}, {Key: "table", Value: []byte("users")}}, msg.Headers)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "users", ev["table"])
	assert.Equal(t, "insert", ev["op"])
	assert.Equal(t, map[string]any{"name": "ada", "age": nil}, ev["row"])
	assert.NotContains(t, ev, "keys")
}

func TestKafka_Update(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafkaWithWriter(w, "rows", logger.Nop())

	err := k.Update(context.Background(), usersModel(), map[string]any{"name": "ada"}, map[string]any{"id": 7, "other": 1})
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, OpUpdate, ev.Op)
	assert.Equal(t, map[string]any{"id": float64(7)}, ev.Keys)
	assert.False(t, ev.Time.IsZero())
}

func TestKafka_Failures(t *testing.T) {
	t.Run("invalid row", func(t *testing.T) {
		w := &fakeWriter{}
		err := NewKafkaWithWriter(w, "rows", logger.Nop()).Insert(context.Background(), usersModel(), map[string]any{})
		assert.True(t, errs.IsValidation(err))
		assert.Empty(t, w.msgs)
	})

	t.Run("write failure", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("broker unreachable")}
		err := NewKafkaWithWriter(w, "rows", logger.Nop()).Insert(context.Background(), usersModel(), map[string]any{"name": "ada"})
		assert.True(t, errs.IsConnectionFailed(err))
	})

	t.Run("write timeout", func(t *testing.T) {
		w := &fakeWriter{err: context.DeadlineExceeded}
		err := NewKafkaWithWriter(w, "rows", logger.Nop()).Insert(context.Background(), usersModel(), map[string]any{"name": "ada"})
		assert.True(t, errs.IsTimeout(err))
	})

	t.Run("closed", func(t *testing.T) {
		w := &fakeWriter{}
		k := NewKafkaWithWriter(w, "rows", logger.Nop())
		require.NoError(t, k.Close())
		require.NoError(t, k.Close())
		assert.Equal(t, 1, w.closed)

		err := k.Insert(context.Background(), usersModel(), map[string]any{"name": "ada"})
		assert.True(t, errs.IsConnectionFailed(err))
	})
}

func TestNewKafka_Config(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Topic: "rows"}, logger.Nop())
	assert.True(t, errs.IsInvalidInput(err))

	_, err = NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}}, logger.Nop())
	assert.True(t, errs.IsInvalidInput(err))

	k, err := NewKafka(DefaultKafkaConfig(), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, k.Close())
}

func TestMapKafkaError(t *testing.T) {
	assert.Equal(t, errs.ErrKindQueryFailed, mapKafkaError(kafka.MessageSizeTooLarge, "op").Kind)
	assert.Equal(t, errs.ErrKindTimeout, mapKafkaError(context.Canceled, "op").Kind)
}
