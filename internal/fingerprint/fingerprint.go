// Package fingerprint computes content digests of canonical records.
package fingerprint

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"

	"github.com/discsync/discsync-server/internal/normalize"
)

// Algorithm names a digest function.
type Algorithm string

// Supported algorithms. Changing the configured algorithm makes every stored
// hash differ, so the next run reports every record as updated.
const (
	SHA256  Algorithm = "sha256"
	BLAKE3  Algorithm = "blake3"
	BLAKE2B Algorithm = "blake2b"
)

// ParseAlgorithm resolves an algorithm name. Empty means SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	case BLAKE2B:
		return BLAKE2B, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q (valid: sha256, blake3, blake2b)", s)
	}
}

// Hasher digests canonical records. Safe for concurrent use.
type Hasher struct {
	algorithm Algorithm
	newHash   func() hash.Hash
}

// New creates a Hasher for the given algorithm.
func New(algorithm Algorithm) (*Hasher, error) {
	switch algorithm {
	case SHA256:
		return &Hasher{algorithm: algorithm, newHash: sha256.New}, nil
	case BLAKE3:
		return &Hasher{algorithm: algorithm, newHash: func() hash.Hash { return blake3.New() }}, nil
	case BLAKE2B:
		// blake2b.New256 only fails for keys longer than 64 bytes.
		return &Hasher{algorithm: algorithm, newHash: func() hash.Hash { h, _ := blake2b.New256(nil); return h }}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
}

var defaultHasher, _ = New(SHA256)

// Default returns the SHA256 hasher.
func Default() *Hasher { return defaultHasher }

// Algorithm returns the digest function in use.
func (h *Hasher) Algorithm() Algorithm { return h.algorithm }

// Hash returns the hex digest of the record's canonical encoding. Records
// that differ only in key order hash identically.
func (h *Hasher) Hash(r normalize.Record) (string, error) {
	d := h.newHash()
	w := bufio.NewWriter(d)
	if err := encode(w, map[string]any(r)); err != nil {
		return "", fmt.Errorf("canonical encoding: %w", err)
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// Hash digests r with SHA256.
func Hash(r normalize.Record) (string, error) {
	return defaultHasher.Hash(r)
}
