// Package memory is an in-memory RecordRepository used by tests and
// embedded setups. Documents are evaluated with the query package's
// evaluator, which keeps it semantically aligned with the SQL driver.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
)

// Store keeps records per collection behind a RWMutex. All returned
// records are deep copies.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[uuid.UUID]*model.Record
}

// New constructs an empty store.
func New() *Store {
	return &Store{collections: map[string]map[uuid.UUID]*model.Record{}}
}

// Insert persists a new record, assigning an id when none is set.
func (s *Store) Insert(_ context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.Must(uuid.NewV4())
	}
	coll, ok := s.collections[rec.Collection]
	if !ok {
		coll = map[uuid.UUID]*model.Record{}
		s.collections[rec.Collection] = coll
	}
	coll[rec.ID] = rec.Clone()
	return nil
}

// Get returns a single record by id.
func (s *Store) Get(_ context.Context, collection string, id uuid.UUID) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.collections[collection][id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return rec.Clone(), nil
}

// Update replaces the stored document for rec.ID.
func (s *Store) Update(_ context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[rec.Collection]
	if _, ok := coll[rec.ID]; !ok {
		return errs.ErrNotFound
	}
	coll[rec.ID] = rec.Clone()
	return nil
}

// Delete removes a record by id.
func (s *Store) Delete(_ context.Context, collection string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[collection]
	if _, ok := coll[id]; !ok {
		return errs.ErrNotFound
	}
	delete(coll, id)
	return nil
}

// Find evaluates the predicate over the collection, then orders and pages.
// Default order is creation time, id as tie-break, which matches the SQL
// driver.
func (s *Store) Find(_ context.Context, collection string, f query.Filter) ([]*model.Record, error) {
	s.mu.RLock()
	matched := make([]*model.Record, 0)
	for _, rec := range s.collections[collection] {
		if query.Matches(rec.Doc(), f.Where) {
			matched = append(matched, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	if len(f.Order) > 0 {
		type pair struct {
			rec *model.Record
			doc map[string]any
		}
		pairs := make([]pair, len(matched))
		for i, rec := range matched {
			pairs[i] = pair{rec, rec.Doc()}
		}
		sort.SliceStable(pairs, func(i, j int) bool { return query.Less(pairs[i].doc, pairs[j].doc, f.Order) })
		for i, p := range pairs {
			matched[i] = p.rec
		}
	}

	lo, hi := query.Page(len(matched), f.Skip, f.Limit)
	return matched[lo:hi], nil
}

// Count returns the number of records matching the predicate.
func (s *Store) Count(_ context.Context, collection string, where *query.Cond) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rec := range s.collections[collection] {
		if query.Matches(rec.Doc(), where) {
			n++
		}
	}
	return n, nil
}
