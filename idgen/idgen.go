// Package idgen provides short, URL-safe identifiers used to correlate ad
// loads and show cycles, backed by nanoid.
package idgen

import (
	"fmt"
	"sync/atomic"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	LoadPrefix = "load-"
	ShowPrefix = "show-"
	AdPrefix   = "ad-"
	HTTPPrefix = "req-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

var fallbackSeq atomic.Uint64

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Must returns a new ID, falling back to a process-local sequence when the
// random source is unavailable.
func Must(prefix string) string {
	id, err := GenerateWithPrefix(prefix)
	if err != nil {
		return fmt.Sprintf("%s%d", prefix, fallbackSeq.Add(1))
	}
	return id
}
