package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mvetrov/recordgate/internal/errs"
)

// RecordFromDoc rebuilds a record from its flat document form. Managed keys
// are parsed and removed; everything else becomes a free-form field. Keys
// that are absent stay zero-valued, so the same helper serves both full
// documents (store scans) and partial payloads (wire input).
func RecordFromDoc(doc map[string]any) (*Record, error) {
	rec := &Record{Fields: map[string]any{}}
	for k, v := range doc {
		if err := rec.setManaged(k, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (r *Record) setManaged(key string, v any) error {
	switch key {
	case FieldID:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: id must be a string", errs.ErrValidation)
		}
		id, err := uuid.FromString(s)
		if err != nil {
			return fmt.Errorf("%w: bad id %q", errs.ErrValidation, s)
		}
		r.ID = id
	case FieldCollection:
		return assignString(key, v, &r.Collection)
	case FieldKind:
		return assignString(key, v, &r.Kind)
	case FieldName:
		return assignString(key, v, &r.Name)
	case FieldSlug:
		return assignString(key, v, &r.Slug)
	case FieldVisibility:
		var s string
		if err := assignString(key, v, &s); err != nil {
			return err
		}
		vis := Visibility(s)
		if s != "" && !vis.Valid() {
			return fmt.Errorf("%w: invalid visibility %q", errs.ErrValidation, s)
		}
		r.Visibility = vis
	case FieldValidFrom:
		return assignTime(key, v, &r.ValidFrom)
	case FieldValidUntil:
		return assignTime(key, v, &r.ValidUntil)
	case FieldOwnerUsers:
		return assignStrings(key, v, &r.OwnerUsers)
	case FieldOwnerGroups:
		return assignStrings(key, v, &r.OwnerGroups)
	case FieldViewerUsers:
		return assignStrings(key, v, &r.ViewerUsers)
	case FieldViewerGroups:
		return assignStrings(key, v, &r.ViewerGroups)
	case FieldCreatedAt:
		var t *time.Time
		if err := assignTime(key, v, &t); err != nil {
			return err
		}
		if t != nil {
			r.CreatedAt = *t
		}
	case FieldUpdatedAt:
		var t *time.Time
		if err := assignTime(key, v, &t); err != nil {
			return err
		}
		if t != nil {
			r.UpdatedAt = *t
		}
	case FieldVersion:
		switch n := v.(type) {
		case int64:
			r.Version = n
		case int:
			r.Version = int64(n)
		case float64:
			r.Version = int64(n)
		case nil:
		default:
			return fmt.Errorf("%w: version must be a number", errs.ErrValidation)
		}
	default:
		r.Fields[key] = v
	}
	return nil
}

func assignString(key string, v any, dst *string) error {
	switch s := v.(type) {
	case string:
		*dst = s
	case nil:
	default:
		return fmt.Errorf("%w: %s must be a string", errs.ErrValidation, key)
	}
	return nil
}

func assignTime(key string, v any, dst **time.Time) error {
	switch t := v.(type) {
	case time.Time:
		*dst = &t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return fmt.Errorf("%w: %s must be an RFC3339 instant", errs.ErrValidation, key)
		}
		*dst = &parsed
	case nil:
		*dst = nil
	default:
		return fmt.Errorf("%w: %s must be an RFC3339 instant", errs.ErrValidation, key)
	}
	return nil
}

func assignStrings(key string, v any, dst *[]string) error {
	switch vs := v.(type) {
	case []string:
		*dst = append([]string(nil), vs...)
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("%w: %s must be a list of strings", errs.ErrValidation, key)
			}
			out = append(out, s)
		}
		*dst = out
	case nil:
		*dst = nil
	default:
		return fmt.Errorf("%w: %s must be a list of strings", errs.ErrValidation, key)
	}
	return nil
}
