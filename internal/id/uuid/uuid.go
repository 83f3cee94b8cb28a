// Package uuid generates handles for pagination sessions.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings.
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

// ShortID returns the first n hex characters of a fresh random UUID, dashes removed.
// Callback payloads use it where a full UUID is too long.
func (Generator) ShortID(n int) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	hex := make([]byte, 0, 32)
	for _, c := range id.String() {
		if c != '-' {
			hex = append(hex, byte(c))
		}
	}
	if n <= 0 || n > len(hex) {
		n = len(hex)
	}
	return string(hex[:n]), nil
}
