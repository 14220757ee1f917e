package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
)

const recordColumns = "id, collection, kind, version, created_at, updated_at, doc"

// RecordRepo implements RecordRepository using PostgreSQL.
type RecordRepo struct {
	db *DB
	sb sq.StatementBuilderType
}

// NewRecordRepo constructs a record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// Insert persists a new record, assigning an id when none is set.
func (r *RecordRepo) Insert(ctx context.Context, rec *model.Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.Must(uuid.NewV4())
	}
	doc, err := marshalDoc(rec)
	if err != nil {
		return err
	}
	sqlStr, args, err := r.sb.Insert("records").
		Columns("id", "collection", "kind", "version", "created_at", "updated_at", "doc").
		Values(rec.ID, rec.Collection, rec.Kind, rec.Version, rec.CreatedAt, rec.UpdatedAt, doc).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, sqlStr, args...)
	return err
}

// Get returns a single record by id.
func (r *RecordRepo) Get(ctx context.Context, collection string, id uuid.UUID) (*model.Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM records WHERE collection=$1 AND id=$2`
	rec, err := scanRecord(r.db.Pool.QueryRow(ctx, q, collection, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Find compiles the predicate to SQL and executes it with ordering and
// paging. Default order is created_at, id.
func (r *RecordRepo) Find(ctx context.Context, collection string, f query.Filter) ([]*model.Record, error) {
	where, err := condSQL(f.Where)
	if err != nil {
		return nil, err
	}
	b := r.sb.Select(strings.Split(recordColumns, ", ")...).
		From("records").
		Where(sq.Eq{"collection": collection}).
		Where(where)

	for _, key := range f.Order {
		expr, err := orderExpr(key)
		if err != nil {
			return nil, err
		}
		b = b.OrderBy(expr)
	}
	// Trailing tie-break keeps equal-key pagination deterministic, matching
	// the memory store's pre-sort.
	b = b.OrderBy("created_at ASC", "id ASC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Skip > 0 {
		b = b.Offset(uint64(f.Skip))
	}

	sqlStr, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of records matching the predicate.
func (r *RecordRepo) Count(ctx context.Context, collection string, where *query.Cond) (int64, error) {
	cond, err := condSQL(where)
	if err != nil {
		return 0, err
	}
	sqlStr, args, err := r.sb.Select("COUNT(*)").
		From("records").
		Where(sq.Eq{"collection": collection}).
		Where(cond).
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.Pool.QueryRow(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Update replaces the stored document for rec.ID.
func (r *RecordRepo) Update(ctx context.Context, rec *model.Record) error {
	doc, err := marshalDoc(rec)
	if err != nil {
		return err
	}
	const q = `UPDATE records SET version=$3, updated_at=$4, doc=$5 WHERE collection=$1 AND id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, rec.Collection, rec.ID, rec.Version, rec.UpdatedAt, doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a record by id.
func (r *RecordRepo) Delete(ctx context.Context, collection string, id uuid.UUID) error {
	const q = `DELETE FROM records WHERE collection=$1 AND id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, collection, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// marshalDoc renders the JSONB body: everything except column-held
// attributes. Unset window bounds are omitted so "#>> IS NULL" covers both
// absent and null.
func marshalDoc(rec *model.Record) ([]byte, error) {
	doc := make(map[string]any, len(rec.Fields)+9)
	for k, v := range rec.Fields {
		doc[k] = v
	}
	doc[model.FieldName] = rec.Name
	doc[model.FieldSlug] = rec.Slug
	doc[model.FieldVisibility] = string(rec.Visibility)
	if rec.ValidFrom != nil {
		doc[model.FieldValidFrom] = rec.ValidFrom
	}
	if rec.ValidUntil != nil {
		doc[model.FieldValidUntil] = rec.ValidUntil
	}
	doc[model.FieldOwnerUsers] = emptyIfNil(rec.OwnerUsers)
	doc[model.FieldOwnerGroups] = emptyIfNil(rec.OwnerGroups)
	doc[model.FieldViewerUsers] = emptyIfNil(rec.ViewerUsers)
	doc[model.FieldViewerGroups] = emptyIfNil(rec.ViewerGroups)
	return json.Marshal(doc)
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var (
		id         uuid.UUID
		collection string
		kind       string
		version    int64
		createdAt  time.Time
		updatedAt  time.Time
		raw        []byte
	)
	if err := row.Scan(&id, &collection, &kind, &version, &createdAt, &updatedAt, &raw); err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode record doc: %w", err)
	}
	rec, err := model.RecordFromDoc(doc)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	rec.Collection = collection
	rec.Kind = kind
	rec.Version = version
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return rec, nil
}
