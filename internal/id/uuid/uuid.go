// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator creates UUID strings for jobs and batches.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// ShortHex returns the first n hex characters of a random UUIDv4, used to
// keep object keys unique.
func (Generator) ShortHex(n int) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	hex := strings.ReplaceAll(id.String(), "-", "")
	if n <= 0 || n > len(hex) {
		n = len(hex)
	}
	return hex[:n], nil
}
