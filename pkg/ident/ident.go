package ident

import (
	"github.com/google/uuid"
)

// Kind tags how an account identifier is encoded.
// Legacy ids predate the uuid migration and are opaque strings; native ids are uuids.
// Callers resolve once at the system boundary and pass ID values from there on,
// instead of re-guessing the encoding at every query site.
type Kind int

const (
	KindLegacy Kind = iota
	KindNative
)

// ID is a tagged account identifier.
type ID struct {
	kind Kind
	raw  string
}

// Parse classifies raw. A well-formed uuid is native; anything else is legacy.
// A malformed uuid is never an error at this layer; legacy ids are free-form.
func Parse(raw string) ID {
	if u, err := uuid.Parse(raw); err == nil {
		return ID{kind: KindNative, raw: u.String()}
	}
	return ID{kind: KindLegacy, raw: raw}
}

// Native builds an ID from a known uuid.
func Native(u uuid.UUID) ID {
	return ID{kind: KindNative, raw: u.String()}
}

// Legacy builds an ID from a known legacy string.
func Legacy(raw string) ID {
	return ID{kind: KindLegacy, raw: raw}
}

func (id ID) Kind() Kind     { return id.kind }
func (id ID) String() string { return id.raw }
func (id ID) IsZero() bool   { return id.raw == "" }

// UUID returns the native uuid, or false for legacy ids.
func (id ID) UUID() (uuid.UUID, bool) {
	if id.kind != KindNative {
		return uuid.UUID{}, false
	}
	u, err := uuid.Parse(id.raw)
	if err != nil {
		return uuid.UUID{}, false
	}
	return u, true
}
