// Package sink persists normalized rows. The SQL sink writes them to a
// relational database; the Kafka sink publishes them as row events.
package sink

import (
	"context"

	"github.com/koustreak/pgshape/internal/table"
)

// Op names a row write.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Sink writes rows of a table. Rows are validated and normalized against the
// model before anything is written; a rejected row is returned as a
// validation_failed error and nothing is written.
type Sink interface {
	// Insert writes a new row.
	Insert(ctx context.Context, m *table.Model, row map[string]any) error

	// Update rewrites the row identified by keys, which must carry a value for
	// every primary key of the table.
	Update(ctx context.Context, m *table.Model, row, keys map[string]any) error

	// Close releases the sink's resources.
	Close() error
}
