package model

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
)

// Ref identifies a record in another collection.
type Ref struct {
	Collection string
	ID         uuid.UUID
}

// RefCodec is the pluggable parse/format pair for embedded reference strings.
// Parse returns ok=false for anything that is not a well-formed reference;
// the read path treats such values as "no match", never as an error.
type RefCodec interface {
	Parse(s string) (Ref, bool)
	Format(ref Ref) string
}

// URICodec encodes references as "<scheme>://<collection>/<uuid>".
type URICodec struct {
	Scheme string
}

// DefaultCodec is the codec used unless a caller plugs in its own.
var DefaultCodec RefCodec = URICodec{Scheme: "ref"}

// Parse extracts (collection, id) from a reference string.
func (c URICodec) Parse(s string) (Ref, bool) {
	rest, ok := strings.CutPrefix(s, c.Scheme+"://")
	if !ok {
		return Ref{}, false
	}
	collection, rawID, ok := strings.Cut(rest, "/")
	if !ok || collection == "" || rawID == "" {
		return Ref{}, false
	}
	id, err := uuid.FromString(rawID)
	if err != nil {
		return Ref{}, false
	}
	return Ref{Collection: collection, ID: id}, true
}

// Format renders a reference string for the given target.
func (c URICodec) Format(ref Ref) string {
	return fmt.Sprintf("%s://%s/%s", c.Scheme, ref.Collection, ref.ID)
}
