package store

import (
	"context"

	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
)

// Record is a serialized entity addressed by (Kind, ID)
type Record struct {
	Kind schema.Kind
	ID   string
	Data []byte
}

// Store is the entity store adapter. Lookups are by exact key only.
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore
type Store interface {
	// Load returns the serialized entity, or ok=false when no record exists
	Load(ctx context.Context, kind schema.Kind, id string) (data []byte, ok bool, err error)
	// Save upserts a single record
	Save(ctx context.Context, record Record) error
	// SaveBatch upserts all records atomically
	SaveBatch(ctx context.Context, records []Record) error
}
