// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Visibility is the access class of a record. There is no implicit widening:
// a record is public, protected or private strictly by this value.
type Visibility string

const (
	Public    Visibility = "public"
	Protected Visibility = "protected"
	Private   Visibility = "private"
)

// Valid reports whether v is one of the three known visibility values.
func (v Visibility) Valid() bool {
	switch v {
	case Public, Protected, Private:
		return true
	}
	return false
}

// Record is a kind-tagged document. Managed attributes are present on every
// record regardless of kind; caller-defined fields live in Fields and may
// contain embedded reference strings at any depth.
type Record struct {
	ID         uuid.UUID  // store-assigned PK
	Collection string     // record family this record belongs to
	Kind       string     // validated against the family allow-list, immutable
	Name       string
	Slug       string // derived from Name
	Visibility Visibility

	// Validity window. A record is active iff ValidFrom is set, lies in the
	// past, and ValidUntil is unset or in the future.
	ValidFrom  *time.Time
	ValidUntil *time.Time

	// Audience lists, each an unordered string collection.
	OwnerUsers   []string
	OwnerGroups  []string
	ViewerUsers  []string
	ViewerGroups []string

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64 // starts at 1, +1 per successful mutation

	Fields map[string]any // free-form caller fields
}

// Managed doc keys shared by the query evaluator, the scope compiler and the
// SQL translation in the postgres repository.
const (
	FieldID           = "id"
	FieldCollection   = "collection"
	FieldKind         = "kind"
	FieldName         = "name"
	FieldSlug         = "slug"
	FieldVisibility   = "visibility"
	FieldValidFrom    = "validFrom"
	FieldValidUntil   = "validUntil"
	FieldOwnerUsers   = "ownerUsers"
	FieldOwnerGroups  = "ownerGroups"
	FieldViewerUsers  = "viewerUsers"
	FieldViewerGroups = "viewerGroups"
	FieldCreatedAt    = "createdAt"
	FieldUpdatedAt    = "updatedAt"
	FieldVersion      = "version"
)

var managedKeys = map[string]bool{
	FieldID: true, FieldCollection: true, FieldKind: true, FieldName: true, FieldSlug: true,
	FieldVisibility: true, FieldValidFrom: true, FieldValidUntil: true,
	FieldOwnerUsers: true, FieldOwnerGroups: true, FieldViewerUsers: true,
	FieldViewerGroups: true, FieldCreatedAt: true, FieldUpdatedAt: true,
	FieldVersion: true,
}

// IsManagedField reports whether key names a managed record attribute.
func IsManagedField(key string) bool { return managedKeys[key] }

// Active reports the temporal state of the record at instant now.
func (r *Record) Active(now time.Time) bool {
	if r.ValidFrom == nil || !r.ValidFrom.Before(now) {
		return false
	}
	return r.ValidUntil == nil || r.ValidUntil.After(now)
}

// Expired reports whether the record's window has explicitly closed. A record
// that never started (ValidFrom unset) is neither active nor expired.
func (r *Record) Expired(now time.Time) bool {
	return r.ValidUntil != nil && !r.ValidUntil.After(now)
}

// Doc renders the record as a flat document: managed attributes merged with
// free-form fields. Managed keys shadow same-named caller fields.
func (r *Record) Doc() map[string]any {
	doc := make(map[string]any, len(r.Fields)+15)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc[FieldID] = r.ID.String()
	doc[FieldCollection] = r.Collection
	doc[FieldKind] = r.Kind
	doc[FieldName] = r.Name
	doc[FieldSlug] = r.Slug
	doc[FieldVisibility] = string(r.Visibility)
	if r.ValidFrom != nil {
		doc[FieldValidFrom] = *r.ValidFrom
	} else {
		doc[FieldValidFrom] = nil
	}
	if r.ValidUntil != nil {
		doc[FieldValidUntil] = *r.ValidUntil
	} else {
		doc[FieldValidUntil] = nil
	}
	doc[FieldOwnerUsers] = toAnySlice(r.OwnerUsers)
	doc[FieldOwnerGroups] = toAnySlice(r.OwnerGroups)
	doc[FieldViewerUsers] = toAnySlice(r.ViewerUsers)
	doc[FieldViewerGroups] = toAnySlice(r.ViewerGroups)
	doc[FieldCreatedAt] = r.CreatedAt
	doc[FieldUpdatedAt] = r.UpdatedAt
	doc[FieldVersion] = r.Version
	return doc
}

// Clone returns a deep copy; Fields values are copied one level deep for
// maps and slices, which is enough to keep resolver mutations local.
func (r *Record) Clone() *Record {
	c := *r
	c.OwnerUsers = append([]string(nil), r.OwnerUsers...)
	c.OwnerGroups = append([]string(nil), r.OwnerGroups...)
	c.ViewerUsers = append([]string(nil), r.ViewerUsers...)
	c.ViewerGroups = append([]string(nil), r.ViewerGroups...)
	if r.ValidFrom != nil {
		t := *r.ValidFrom
		c.ValidFrom = &t
	}
	if r.ValidUntil != nil {
		t := *r.ValidUntil
		c.ValidUntil = &t
	}
	if r.Fields != nil {
		c.Fields = CloneValue(r.Fields).(map[string]any)
	}
	return &c
}

// CloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = CloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = CloneValue(e)
		}
		return s
	default:
		return v
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Slugify normalizes a human name into a slug: lowercase, runs of
// non-alphanumerics collapsed to single dashes, trimmed.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	return b.String()
}
