// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"regexp"
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	if _, err := goUUID.Parse(id1); err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
}

// TestGeneratorShortHex checks length and alphabet of short suffixes.
func TestGeneratorShortHex(t *testing.T) {
	t.Parallel()

	hexRe := regexp.MustCompile(`^[0-9a-f]{8}$`)
	got, err := New().ShortHex(8)
	if err != nil {
		t.Fatalf("ShortHex() error = %v", err)
	}
	if !hexRe.MatchString(got) {
		t.Fatalf("expected 8 hex chars, got %q", got)
	}
	full, err := New().ShortHex(0)
	if err != nil {
		t.Fatalf("ShortHex(0) error = %v", err)
	}
	if len(full) != 32 {
		t.Fatalf("expected full 32 char hex, got %d", len(full))
	}
}
