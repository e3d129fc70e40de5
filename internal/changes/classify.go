// Package changes classifies records against their stored fingerprints and
// drives a processing run from first record to deletion sweep.
package changes

import "github.com/discsync/discsync-server/internal/domain"

// Classification is the outcome of comparing a record's fingerprint with the
// stored one.
type Classification uint8

// Classifications.
const (
	Unchanged Classification = iota
	Created
	Updated
)

func (c Classification) String() string {
	switch c {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Classify decides what happened to a record. An empty oldHash means the
// record has no live stored state.
func Classify(oldHash, newHash string) Classification {
	switch {
	case oldHash == "":
		return Created
	case oldHash != newHash:
		return Updated
	default:
		return Unchanged
	}
}

// ChangeKind maps the classification onto the changelog vocabulary. Unchanged
// has no changelog kind.
func (c Classification) ChangeKind() (domain.ChangeKind, bool) {
	switch c {
	case Created:
		return domain.ChangeCreated, true
	case Updated:
		return domain.ChangeUpdated, true
	default:
		return "", false
	}
}
