// Package normalize reduces heterogeneous raw entity documents to one
// canonical shape per entity type so that equal logical content hashes equal.
package normalize

import "github.com/discsync/discsync-server/internal/domain"

// Canonicalizer turns a parsed source document into its canonical Record.
// Implementations never fail; malformed nested items are dropped.
type Canonicalizer interface {
	EntityType() domain.EntityType
	Canonicalize(v Value) Record
}

// For returns the canonicalizer for an entity type. Unknown types get the
// passthrough variant; the second result reports whether the type was known.
func For(t domain.EntityType) (Canonicalizer, bool) {
	switch t {
	case domain.EntityArtist:
		return artistCanonicalizer{}, true
	case domain.EntityLabel:
		return labelCanonicalizer{}, true
	case domain.EntityMaster:
		return masterCanonicalizer{}, true
	case domain.EntityRelease:
		return releaseCanonicalizer{}, true
	default:
		return passthrough{entityType: t}, false
	}
}

type artistCanonicalizer struct{}

func (artistCanonicalizer) EntityType() domain.EntityType { return domain.EntityArtist }

func (artistCanonicalizer) Canonicalize(v Value) Record {
	return newBuilder(v).
		text("name", "realname", "profile", "data_quality").
		related("aliases", "name").
		related("members", "name").
		related("groups", "name").
		strings("namevariations", "name").
		strings("urls", "url").
		attributes("images", "image").
		build()
}

type labelCanonicalizer struct{}

func (labelCanonicalizer) EntityType() domain.EntityType { return domain.EntityLabel }

func (labelCanonicalizer) Canonicalize(v Value) Record {
	b := newBuilder(v).
		text("name", "contactinfo", "profile", "data_quality").
		related("sublabels", "label").
		strings("urls", "url").
		attributes("images", "image")

	parent := v.Get("parent_label")
	if parent.IsNull() {
		parent = v.Get("parentLabel")
	}
	if p, ok := nested(parent); ok {
		b.set("parent_label", p)
	}
	return b.build()
}

type masterCanonicalizer struct{}

func (masterCanonicalizer) EntityType() domain.EntityType { return domain.EntityMaster }

func (masterCanonicalizer) Canonicalize(v Value) Record {
	b := newBuilder(v).
		text("title", "year", "notes", "data_quality").
		related("artists", "artist").
		strings("genres", "genre").
		strings("styles", "style").
		attributes("videos", "video").
		attributes("images", "image")

	if ref, ok := crossRef(v.Get("main_release")); ok {
		b.set("main_release", ref)
	}
	return b.build()
}

type releaseCanonicalizer struct{}

func (releaseCanonicalizer) EntityType() domain.EntityType { return domain.EntityRelease }

func (releaseCanonicalizer) Canonicalize(v Value) Record {
	b := newBuilder(v).
		text("title", "status", "country", "released", "notes", "data_quality").
		related("artists", "artist").
		related("extraartists", "artist").
		related("labels", "label").
		related("companies", "company").
		strings("genres", "genre").
		strings("styles", "style").
		attributes("identifiers", "identifier").
		attributes("videos", "video").
		attributes("images", "image").
		set("formats", formats(v.Get("formats").Relation("format"))).
		set("tracklist", tracklist(v.Get("tracklist").Relation("track")))

	master := v.Get("master_id")
	if ref, ok := crossRef(master); ok {
		b.set("master_id", ref)
	}
	if s, ok := master.Field("is_main_release"); ok {
		b.set("is_main_release", s == "true")
	} else if s, ok := v.Field("is_main_release"); ok {
		b.set("is_main_release", s == "true")
	}
	return b.build()
}

// formats keeps format attributes and flattens their descriptions.
func formats(items []Value) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if item.Kind() != KindObject {
			continue
		}
		f, ok := item.Plain().(map[string]any)
		if !ok {
			continue
		}
		f["descriptions"] = item.Get("descriptions").Strings("description")
		out = append(out, f)
	}
	return out
}

// tracklist keeps track fields and canonicalizes the credited artists.
func tracklist(items []Value) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if item.Kind() != KindObject {
			continue
		}
		t, ok := item.Plain().(map[string]any)
		if !ok {
			continue
		}
		t["artists"] = relatedList(item.Get("artists").Relation("artist"))
		t["extraartists"] = relatedList(item.Get("extraartists").Relation("artist"))
		if sub := item.Get("sub_tracks"); !sub.IsNull() {
			t["sub_tracks"] = tracklist(sub.Relation("track"))
		}
		out = append(out, t)
	}
	return out
}

// passthrough returns the document unmodified for entity types with no
// canonical shape.
type passthrough struct {
	entityType domain.EntityType
}

func (p passthrough) EntityType() domain.EntityType { return p.entityType }

func (passthrough) Canonicalize(v Value) Record {
	if m, ok := v.Raw().(map[string]any); ok {
		return Record(m)
	}
	return Record{"value": v.Raw()}
}
