// Package repository defines store access interfaces for records.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
)

// Reader is the admission-control-free read path used by find operations
// and by the lookup resolver.
type Reader interface {
	// Get returns a single record by id within a collection.
	Get(ctx context.Context, collection string, id uuid.UUID) (*model.Record, error)

	// Find executes a predicate with ordering and paging against a
	// collection. Field projection is applied by callers on the document
	// form, not by the driver.
	Find(ctx context.Context, collection string, f query.Filter) ([]*model.Record, error)

	// Count returns the number of records matching the predicate.
	Count(ctx context.Context, collection string, where *query.Cond) (int64, error)
}

// RecordRepository provides full read/write access to record collections.
type RecordRepository interface {
	Reader

	// Insert persists a new record, assigning an id when none is set.
	Insert(ctx context.Context, rec *model.Record) error

	// Update replaces the stored document for rec.ID.
	Update(ctx context.Context, rec *model.Record) error

	// Delete removes a record by id.
	Delete(ctx context.Context, collection string, id uuid.UUID) error
}
