package ledger

import "context"

// Backend defines the durable storage the Store delegates to
type Backend interface {
	// LoadAll returns every persisted record
	LoadAll(ctx context.Context) ([]Record, error)

	// SaveInsert persists a new record and returns it with its assigned ID
	SaveInsert(ctx context.Context, record Record) (Record, error)

	// SaveDelete removes a record by ID
	SaveDelete(ctx context.Context, id int64) error

	// Close closes the backend
	Close() error
}
