package domain

import "strings"

// EntityType identifies the kind of record carried by a dump.
type EntityType string

// Entity types with a dedicated canonical shape.
const (
	EntityArtist  EntityType = "artist"
	EntityLabel   EntityType = "label"
	EntityMaster  EntityType = "master"
	EntityRelease EntityType = "release"
)

// KnownEntityTypes returns the entity types that have a dedicated canonical shape.
func KnownEntityTypes() []EntityType {
	return []EntityType{EntityArtist, EntityLabel, EntityMaster, EntityRelease}
}

// IsKnown reports whether t has a dedicated canonical shape.
func (t EntityType) IsKnown() bool {
	switch t {
	case EntityArtist, EntityLabel, EntityMaster, EntityRelease:
		return true
	default:
		return false
	}
}

func (t EntityType) String() string {
	return string(t)
}

// ParseEntityType converts a user-supplied name to an EntityType.
// Matching is case-insensitive and accepts plural forms ("Releases" -> release).
// Unrecognized names are returned lowercased so they can still be tracked.
func ParseEntityType(s string) EntityType {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, t := range KnownEntityTypes() {
		if name == string(t) || name == string(t)+"s" {
			return t
		}
	}
	return EntityType(name)
}

// RawRecord is an already-decoded source document tagged with its entity type.
// Data holds whatever the extraction front-end produced (maps, slices, strings,
// numbers); no particular shape is assumed.
type RawRecord struct {
	EntityType EntityType
	Data       any
}

// IDSet is a read-only view of the record ids seen during a run.
type IDSet interface {
	Contains(id string) bool
	Len() int
}

// StringSet is a simple IDSet backed by a map. It is not safe for concurrent writes.
type StringSet map[string]struct{}

// NewStringSet builds a StringSet from ids.
func NewStringSet(ids ...string) StringSet {
	s := make(StringSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s StringSet) Add(id string) {
	s[id] = struct{}{}
}

// Contains implements IDSet.
func (s StringSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Len implements IDSet.
func (s StringSet) Len() int {
	return len(s)
}
