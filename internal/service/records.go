// Package service orchestrates the record lifecycle: validation, defaults,
// admission control, versioning and lookup resolution over the repository.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mvetrov/recordgate/internal/admission"
	"github.com/mvetrov/recordgate/internal/config"
	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/lookup"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
	"github.com/mvetrov/recordgate/internal/repository"
	"github.com/mvetrov/recordgate/internal/scope"
)

// Identity carries the caller's user/group ids for scope compilation.
// Who supplies them is the transport layer's business.
type Identity struct {
	UserIDs  []string
	GroupIDs []string
}

// RecordService defines the operations exposed to the request layer.
type RecordService interface {
	// Create admits and persists a new record, or returns the existing
	// record an idempotency rule matched.
	Create(ctx context.Context, collection string, rec *model.Record) (*model.Record, error)
	// UpdateByID merges a partial document into an existing record.
	UpdateByID(ctx context.Context, collection string, id uuid.UUID, patch map[string]any) (*model.Record, error)
	// ReplaceByID replaces the caller-controlled portion of a record.
	ReplaceByID(ctx context.Context, collection string, id uuid.UUID, rec *model.Record) (*model.Record, error)
	// DeleteByID removes a record.
	DeleteByID(ctx context.Context, collection string, id uuid.UUID) error
	// Find returns matching records as documents, with scope merged into
	// the base filter and lookups resolved.
	Find(ctx context.Context, collection string, f query.Filter, sc *scope.Spec, lookups []lookup.Directive, ident Identity) ([]map[string]any, error)
	// FindByID returns one record as a document with lookups resolved.
	FindByID(ctx context.Context, collection string, id uuid.UUID, fields []string, lookups []lookup.Directive, ident Identity) (map[string]any, error)
	// Count returns the number of records matching filter and scope.
	Count(ctx context.Context, collection string, where *query.Cond, sc *scope.Spec, ident Identity) (int64, error)
}

type RecordServiceImpl struct {
	repo     repository.RecordRepository
	cfg      *config.Config
	gate     *admission.Gate
	resolver *lookup.Resolver
	codec    model.RefCodec
	log      *zap.Logger
	now      func() time.Time
}

// NewRecordService wires the lifecycle manager. The clock is injectable for
// tests; "now" is always the request instant, never a monotonic service.
func NewRecordService(
	repo repository.RecordRepository,
	cfg *config.Config,
	gate *admission.Gate,
	resolver *lookup.Resolver,
	log *zap.Logger,
) *RecordServiceImpl {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RecordServiceImpl{
		repo:     repo,
		cfg:      cfg,
		gate:     gate,
		resolver: resolver,
		codec:    model.DefaultCodec,
		log:      log,
		now:      time.Now,
	}
}

// Create validates the kind, applies configured defaults, checks reference
// constraints, runs the admission gate and persists.
func (s *RecordServiceImpl) Create(ctx context.Context, collection string, rec *model.Record) (*model.Record, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: empty collection", errs.ErrValidation)
	}
	if rec.Kind == "" {
		return nil, fmt.Errorf("%w: empty kind", errs.ErrValidation)
	}
	rec.Collection = collection
	// Ids are opaque and store-assigned; a caller-supplied id would let a
	// create overwrite an existing record.
	rec.ID = uuid.Nil
	rules := s.cfg.Resolve(collection, rec.Kind)
	if !rules.KindAllowed(rec.Kind) {
		return nil, fmt.Errorf("%w: kind %q is not allowed in %s", errs.ErrValidation, rec.Kind, collection)
	}
	if rec.Visibility == "" {
		rec.Visibility = rules.Visibility
	} else if !rec.Visibility.Valid() {
		return nil, fmt.Errorf("%w: invalid visibility %q", errs.ErrValidation, rec.Visibility)
	}
	now := s.now()
	if rules.AutoApprove && rec.ValidFrom == nil {
		rec.ValidFrom = &now
	}
	rec.Slug = model.Slugify(rec.Name)

	if err := s.checkRefConstraints(ctx, rules, rec); err != nil {
		return nil, err
	}

	if s.gate != nil {
		existing, err := s.gate.Admit(ctx, rules, rec, now)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info("record created",
		zap.String("collection", collection),
		zap.String("kind", rec.Kind),
		zap.String("id", rec.ID.String()),
	)
	return rec, nil
}

// UpdateByID merges a partial document. Attempts to change the kind or a
// configured linkage field fail without touching the record; version and
// timestamps are owner-maintained and stripped from the patch.
func (s *RecordServiceImpl) UpdateByID(ctx context.Context, collection string, id uuid.UUID, patch map[string]any) (*model.Record, error) {
	existing, err := s.repo.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	rules := s.cfg.Resolve(collection, existing.Kind)
	if err := checkImmutable(existing, patch, rules.LinkageFields); err != nil {
		return nil, err
	}

	updated := existing.Clone()
	for k, v := range patch {
		if ownerMaintained(k) {
			continue
		}
		if err := applyField(updated, k, v); err != nil {
			return nil, err
		}
	}
	if !updated.Visibility.Valid() {
		return nil, fmt.Errorf("%w: invalid visibility %q", errs.ErrValidation, updated.Visibility)
	}
	updated.Slug = model.Slugify(updated.Name)
	updated.Version = existing.Version + 1
	updated.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// ReplaceByID swaps the caller-controlled portion of the record wholesale.
// Identity, kind, linkage fields, creation time and version lineage are
// preserved from the stored record.
func (s *RecordServiceImpl) ReplaceByID(ctx context.Context, collection string, id uuid.UUID, rec *model.Record) (*model.Record, error) {
	existing, err := s.repo.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	rules := s.cfg.Resolve(collection, existing.Kind)
	if rec.Kind != "" && rec.Kind != existing.Kind {
		return nil, &errs.Immutable{Field: model.FieldKind, Current: existing.Kind}
	}
	for _, f := range rules.LinkageFields {
		incoming, ok := rec.Fields[f]
		current := existing.Fields[f]
		if ok && !query.Equal(incoming, current) {
			return nil, &errs.Immutable{Field: f, Current: current}
		}
	}

	next := rec.Clone()
	next.ID = existing.ID
	next.Collection = existing.Collection
	next.Kind = existing.Kind
	next.CreatedAt = existing.CreatedAt
	next.Version = existing.Version + 1
	next.UpdatedAt = s.now()
	if next.Visibility == "" {
		next.Visibility = rules.Visibility
	} else if !next.Visibility.Valid() {
		return nil, fmt.Errorf("%w: invalid visibility %q", errs.ErrValidation, next.Visibility)
	}
	next.Slug = model.Slugify(next.Name)
	if next.Fields == nil {
		next.Fields = map[string]any{}
	}
	for _, f := range rules.LinkageFields {
		if cur, ok := existing.Fields[f]; ok {
			next.Fields[f] = cur
		}
	}
	if err := s.repo.Update(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// DeleteByID removes the record. There is no soft delete; callers wanting
// one use the validity window instead.
func (s *RecordServiceImpl) DeleteByID(ctx context.Context, collection string, id uuid.UUID) error {
	return s.repo.Delete(ctx, collection, id)
}

// Find merges scope into the base filter, caps the page size, and resolves
// lookups on the result documents.
func (s *RecordServiceImpl) Find(
	ctx context.Context, collection string, f query.Filter,
	sc *scope.Spec, lookups []lookup.Directive, ident Identity,
) ([]map[string]any, error) {
	params := scope.Params{Now: s.now(), UserIDs: ident.UserIDs, GroupIDs: ident.GroupIDs}
	scoped, err := scope.Compile(sc, params)
	if err != nil {
		return nil, err
	}
	f.Where = query.Merge(f.Where, scoped)
	if f.Limit <= 0 || f.Limit > s.cfg.MaxResultSize {
		f.Limit = s.cfg.MaxResultSize
	}
	recs, err := s.repo.Find(ctx, collection, f)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]any, len(recs))
	for i, rec := range recs {
		docs[i] = rec.Doc()
	}
	if s.resolver != nil && len(lookups) > 0 {
		if err := s.resolver.Resolve(ctx, docs, lookups, params); err != nil {
			return nil, err
		}
	}
	if len(f.Fields) > 0 {
		for i, doc := range docs {
			docs[i] = query.Project(doc, f.Fields)
		}
	}
	return docs, nil
}

// FindByID returns one record as a document with lookups resolved.
func (s *RecordServiceImpl) FindByID(
	ctx context.Context, collection string, id uuid.UUID,
	fields []string, lookups []lookup.Directive, ident Identity,
) (map[string]any, error) {
	rec, err := s.repo.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	params := scope.Params{Now: s.now(), UserIDs: ident.UserIDs, GroupIDs: ident.GroupIDs}
	docs := []map[string]any{rec.Doc()}
	if s.resolver != nil && len(lookups) > 0 {
		if err := s.resolver.Resolve(ctx, docs, lookups, params); err != nil {
			return nil, err
		}
	}
	return query.Project(docs[0], fields), nil
}

// Count returns the number of records matching filter and scope.
func (s *RecordServiceImpl) Count(
	ctx context.Context, collection string, where *query.Cond,
	sc *scope.Spec, ident Identity,
) (int64, error) {
	scoped, err := scope.Compile(sc, scope.Params{Now: s.now(), UserIDs: ident.UserIDs, GroupIDs: ident.GroupIDs})
	if err != nil {
		return 0, err
	}
	return s.repo.Count(ctx, collection, query.Merge(where, scoped))
}

// checkRefConstraints validates configured reference fields at create time:
// values must parse, point into an allowed collection, and, for required
// constraints, exist. This write-time strictness is distinct from the read
// path, where bad references are silently skipped.
func (s *RecordServiceImpl) checkRefConstraints(ctx context.Context, rules config.Resolved, rec *model.Record) error {
	if len(rules.Refs) == 0 {
		return nil
	}
	doc := rec.Doc()
	for _, rc := range rules.Refs {
		v, _ := query.Path(doc, rc.Field)
		values := refValues(v)
		if len(values) == 0 {
			if rc.Required {
				return fmt.Errorf("%w: missing required reference field %q", errs.ErrValidation, rc.Field)
			}
			continue
		}
		for _, raw := range values {
			ref, ok := s.codec.Parse(raw)
			if !ok {
				return fmt.Errorf("%w: field %q holds %q", errs.ErrInvalidRef, rc.Field, raw)
			}
			if !collectionAllowed(ref.Collection, rc.Collections) {
				return fmt.Errorf("%w: field %q may not reference collection %q", errs.ErrRefConstraint, rc.Field, ref.Collection)
			}
			if rc.Required {
				if _, err := s.repo.Get(ctx, ref.Collection, ref.ID); err != nil {
					if errors.Is(err, errs.ErrNotFound) {
						return fmt.Errorf("referenced record %s: %w", raw, errs.ErrNotFound)
					}
					return err
				}
			}
		}
	}
	return nil
}

func refValues(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func collectionAllowed(collection string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, c := range allowed {
		if c == collection {
			return true
		}
	}
	return false
}

// checkImmutable rejects patches touching the kind or a linkage field with
// a different value. Re-sending the current value is a no-op.
func checkImmutable(existing *model.Record, patch map[string]any, linkage []string) error {
	if v, ok := patch[model.FieldKind]; ok {
		if s, _ := v.(string); s != existing.Kind {
			return &errs.Immutable{Field: model.FieldKind, Current: existing.Kind}
		}
	}
	for _, f := range linkage {
		v, ok := patch[f]
		if !ok {
			continue
		}
		if !query.Equal(v, existing.Fields[f]) {
			return &errs.Immutable{Field: f, Current: existing.Fields[f]}
		}
	}
	return nil
}

// ownerMaintained lists document keys no external payload may set.
func ownerMaintained(key string) bool {
	switch key {
	case model.FieldID, model.FieldCollection, model.FieldVersion, model.FieldCreatedAt, model.FieldUpdatedAt, model.FieldSlug:
		return true
	}
	return false
}

func applyField(rec *model.Record, key string, v any) error {
	doc := map[string]any{key: v}
	tmp, err := model.RecordFromDoc(doc)
	if err != nil {
		return err
	}
	switch key {
	case model.FieldKind:
		// already checked immutable; keep existing
	case model.FieldName:
		rec.Name = tmp.Name
	case model.FieldVisibility:
		rec.Visibility = tmp.Visibility
	case model.FieldValidFrom:
		rec.ValidFrom = tmp.ValidFrom
	case model.FieldValidUntil:
		rec.ValidUntil = tmp.ValidUntil
	case model.FieldOwnerUsers:
		rec.OwnerUsers = tmp.OwnerUsers
	case model.FieldOwnerGroups:
		rec.OwnerGroups = tmp.OwnerGroups
	case model.FieldViewerUsers:
		rec.ViewerUsers = tmp.ViewerUsers
	case model.FieldViewerGroups:
		rec.ViewerGroups = tmp.ViewerGroups
	default:
		if rec.Fields == nil {
			rec.Fields = map[string]any{}
		}
		if v == nil {
			delete(rec.Fields, key)
			return nil
		}
		rec.Fields[key] = model.CloneValue(v)
	}
	return nil
}
