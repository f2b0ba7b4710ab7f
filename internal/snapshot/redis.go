package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/schema"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the redis snapshot store.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	TTL         time.Duration `yaml:"ttl"` // zero keeps snapshots forever
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Redis stores schemas as JSON strings under <prefix><table>.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to redis and verifies the connection with PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	r := NewRedisFromClient(client, cfg.KeyPrefix, cfg.TTL)
	if err := r.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return r, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "pgshape:schema:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Ping verifies redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return mapRedisError(err, "ping failed")
	}
	return nil
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Load implements Store.
func (r *Redis) Load(ctx context.Context, table string) (*schema.TableSchema, error) {
	data, err := r.client.Get(ctx, r.key(table)).Bytes()
	if err != nil {
		return nil, mapRedisError(err, fmt.Sprintf("load snapshot of table %q", table))
	}
	return decode(table, data)
}

// Save implements Store.
func (r *Redis) Save(ctx context.Context, s *schema.TableSchema) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(s.Table), data, r.ttl).Err(); err != nil {
		return mapRedisError(err, fmt.Sprintf("save snapshot of table %q", s.Table))
	}
	return nil
}

func (r *Redis) key(table string) string {
	return r.prefix + table
}

// mapRedisError translates go-redis errors into *errs.Error.
func mapRedisError(err error, msg string) *errs.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	case errors.Is(err, redis.ErrClosed):
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	var rerr redis.Error
	if errors.As(err, &rerr) {
		return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
