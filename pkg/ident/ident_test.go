package ident

import (
	"testing"

	"github.com/google/uuid"
)

func TestParse_ClassifiesNative(t *testing.T) {
	u := uuid.NewString()
	id := Parse(u)
	if id.Kind() != KindNative {
		t.Fatalf("expected native")
	}
	if id.String() != u {
		t.Fatalf("expected %s, got %s", u, id.String())
	}
	if _, ok := id.UUID(); !ok {
		t.Fatalf("expected uuid")
	}
}

func TestParse_ClassifiesLegacy(t *testing.T) {
	for _, raw := range []string{"USR-10042", "shopper_7", "not-quite-a-uuid-xxxx"} {
		id := Parse(raw)
		if id.Kind() != KindLegacy {
			t.Fatalf("expected legacy for %q", raw)
		}
		if _, ok := id.UUID(); ok {
			t.Fatalf("legacy id must not expose a uuid")
		}
	}
}

func TestID_Zero(t *testing.T) {
	var id ID
	if !id.IsZero() {
		t.Fatalf("expected zero")
	}
	if Parse("x").IsZero() {
		t.Fatalf("expected non-zero")
	}
}
