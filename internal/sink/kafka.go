package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/koustreak/pgshape/internal/table"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka row event sink.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"` // 0, 1 or -1 (all)
}

// DefaultKafkaConfig returns a config for a local broker.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "pgshape.rows",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: -1,
	}
}

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON value of a published row message.
type Event struct {
	Table string         `json:"table"`
	Op    Op             `json:"op"`
	Keys  map[string]any `json:"keys,omitempty"`
	Row   map[string]any `json:"row"`
	Time  time.Time      `json:"time"`
}

// Kafka publishes normalized rows as Events, keyed by table name so the
// events of one table stay ordered within a partition.
type Kafka struct {
	writer MessageWriter
	topic  string
	log    *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewKafka returns a sink writing to cfg.Topic.
func NewKafka(cfg KafkaConfig, log *logger.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "kafka sink: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "kafka sink: topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  3,
	}
	return NewKafkaWithWriter(w, cfg.Topic, log), nil
}

// NewKafkaWithWriter returns a sink over an existing writer.
func NewKafkaWithWriter(w MessageWriter, topic string, log *logger.Logger) *Kafka {
	if log == nil {
		log = logger.L()
	}
	return &Kafka{writer: w, topic: topic, log: log.Component("sink.kafka")}
}

// Insert implements Sink.
func (k *Kafka) Insert(ctx context.Context, m *table.Model, row map[string]any) error {
	normalized, err := m.Normalize(row)
	if err != nil {
		return err
	}
	return k.publish(ctx, Event{Table: m.Name(), Op: OpInsert, Row: normalized})
}

// Update implements Sink.
func (k *Kafka) Update(ctx context.Context, m *table.Model, row, keys map[string]any) error {
	filters, err := m.KeyFilters(keys)
	if err != nil {
		return err
	}
	normalized, err := m.Normalize(row)
	if err != nil {
		return err
	}
	return k.publish(ctx, Event{Table: m.Name(), Op: OpUpdate, Keys: filters, Row: normalized})
}

// Close flushes pending messages and closes the writer. It is idempotent.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.writer.Close()
}

func (k *Kafka) publish(ctx context.Context, ev Event) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return errs.New(errs.ErrKindConnectionFailed, "kafka sink is closed")
	}

	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("encode %s event for table %q", ev.Op, ev.Table), err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.Table),
		Value: value,
		Time:  ev.Time,
		Headers: []kafka.Header{
			{Key: "op", Value: []byte(ev.Op)},
			{Key: "table", Value: []byte(ev.Table)},
		},
	}

	start := time.Now()
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.log.ErrorWith("row event not published", err, map[string]any{"table": ev.Table, "op": string(ev.Op), "topic": k.topic})
		return mapKafkaError(err, fmt.Sprintf("publish %s event for table %q", ev.Op, ev.Table))
	}
	k.log.DebugWith("row event published", map[string]any{
		"table":       ev.Table,
		"op":          string(ev.Op),
		"topic":       k.topic,
		"bytes":       len(value),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

func mapKafkaError(err error, msg string) *errs.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
