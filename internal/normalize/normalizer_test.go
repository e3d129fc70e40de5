package normalize

import (
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discsync/discsync-server/internal/domain"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return v
}

// roundTrip feeds a Record back through JSON so it looks like raw input again.
func roundTrip(t *testing.T, r Record) any {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	return decode(t, string(data))
}

func TestNormalize_ArtistMinimal(t *testing.T) {
	rec := Normalize(domain.EntityArtist, decode(t, `{"id":"1","name":"X"}`))

	assert.Equal(t, "1", rec.ID())
	assert.Equal(t, "X", rec["name"])
	assert.NotContains(t, rec, "realname")
	assert.NotContains(t, rec, "profile")
	for _, field := range []string{"aliases", "members", "groups", "images"} {
		assert.Equal(t, []any{}, rec[field], field)
	}
	assert.Equal(t, []string{}, rec["namevariations"])
	assert.Equal(t, []string{}, rec["urls"])
}

func TestNormalize_MembersShapeVariance(t *testing.T) {
	want := []any{map[string]any{"id": "10", "name": "John"}}

	shapes := map[string]string{
		"wrapper list":   `{"id":"1","members":{"name":[{"@id":"10","#text":"John"}]}}`,
		"wrapper single": `{"id":"1","members":{"name":{"@id":"10","#text":"John"}}}`,
		"bare object":    `{"id":"1","members":{"@id":"10","#text":"John"}}`,
		"plain list":     `{"id":"1","members":[{"id":"10","name":"John"}]}`,
		"numeric id":     `{"id":"1","members":[{"id":10,"name":"John"}]}`,
		"single plain":   `{"id":"1","members":{"id":"10","name":"John"}}`,
		"single attr id": `{"id":"1","members":{"@id":"10","name":"John"}}`,
	}

	for name, raw := range shapes {
		t.Run(name, func(t *testing.T) {
			rec := Normalize(domain.EntityArtist, decode(t, raw))
			assert.Equal(t, want, rec["members"])
		})
	}
}

func TestNormalize_SingleRelatedObjectWithName(t *testing.T) {
	rec := Normalize(domain.EntityArtist, decode(t, `{
		"id": "1",
		"aliases": {"@id": "7", "name": "Alias"},
		"groups": {"id": "3", "name": "Band", "@active": "true"}
	}`))

	assert.Equal(t, []any{map[string]any{"id": "7", "name": "Alias"}}, rec["aliases"])
	assert.Equal(t, []any{map[string]any{"id": "3", "name": "Band", "active": "true"}}, rec["groups"])
}

func TestNormalize_DropsNestedItemsWithoutID(t *testing.T) {
	rec := Normalize(domain.EntityArtist, decode(t, `{
		"id": "1",
		"aliases": {"name": [{"#text": "No Id"}, {"@id": "2", "#text": "Alias"}, "bare"]}
	}`))

	assert.Equal(t, []any{map[string]any{"id": "2", "name": "Alias"}}, rec["aliases"])
}

func TestNormalize_NestedKeepsStrippedAttributes(t *testing.T) {
	rec := Normalize(domain.EntityRelease, decode(t, `{
		"@id": "5",
		"labels": {"label": {"@id": "9", "@name": "Warp", "@catno": "WAP 1"}}
	}`))

	assert.Equal(t, "5", rec.ID())
	assert.Equal(t,
		[]any{map[string]any{"id": "9", "name": "Warp", "catno": "WAP 1"}},
		rec["labels"],
	)
}

func TestNormalize_Label(t *testing.T) {
	rec := Normalize(domain.EntityLabel, decode(t, `{
		"id": "100",
		"name": "Planet E",
		"contactinfo": "Detroit",
		"parentLabel": {"@id": "7", "#text": "Parent Co"},
		"sublabels": {"label": [{"@id": "101", "#text": "Sub A"}, {"@id": "102", "#text": "Sub B"}]},
		"urls": {"url": ["http://a", "http://b"]}
	}`))

	assert.Equal(t, "Planet E", rec["name"])
	assert.Equal(t, "Detroit", rec["contactinfo"])
	assert.Equal(t, map[string]any{"id": "7", "name": "Parent Co"}, rec["parent_label"])
	assert.Len(t, rec["sublabels"], 2)
	assert.Equal(t, []string{"http://a", "http://b"}, rec["urls"])
}

func TestNormalize_MasterCrossReference(t *testing.T) {
	bare := Normalize(domain.EntityMaster, decode(t, `{"@id":"1","main_release":"55","title":"T"}`))
	wrapped := Normalize(domain.EntityMaster, decode(t, `{"@id":"1","main_release":{"#text":"55"},"title":"T"}`))
	numeric := Normalize(domain.EntityMaster, decode(t, `{"@id":"1","main_release":55,"title":"T"}`))

	assert.Equal(t, "55", bare["main_release"])
	assert.Equal(t, bare, wrapped)
	assert.Equal(t, bare, numeric)
}

func TestNormalize_ReleaseShape(t *testing.T) {
	rec := Normalize(domain.EntityRelease, decode(t, `{
		"@id": "1",
		"@status": "Accepted",
		"title": "Stockholm",
		"master_id": {"#text": "5427", "@is_main_release": "true"},
		"artists": {"artist": {"id": "1", "name": "The Persuader"}},
		"genres": {"genre": "Electronic"},
		"styles": {"style": ["Deep House"]},
		"formats": {"format": {"@name": "Vinyl", "@qty": "2", "descriptions": {"description": ["12\"", "33 ⅓ RPM"]}}},
		"tracklist": {"track": [
			{"position": "A", "title": "Östermalm", "duration": "4:45"},
			{"position": "B1", "title": "Vasastaden", "artists": {"artist": {"id": "2", "name": "Guest"}}}
		]}
	}`))

	assert.Equal(t, "1", rec.ID())
	assert.Equal(t, "Accepted", rec["status"])
	assert.Equal(t, "5427", rec["master_id"])
	assert.Equal(t, true, rec["is_main_release"])
	assert.Equal(t, []any{map[string]any{"id": "1", "name": "The Persuader"}}, rec["artists"])
	assert.Equal(t, []any{}, rec["extraartists"])
	assert.Equal(t, []string{"Electronic"}, rec["genres"])
	assert.Equal(t, []string{"Deep House"}, rec["styles"])

	formats, ok := rec["formats"].([]any)
	require.True(t, ok)
	require.Len(t, formats, 1)
	format := formats[0].(map[string]any)
	assert.Equal(t, "Vinyl", format["name"])
	assert.Equal(t, []string{"12\"", "33 ⅓ RPM"}, format["descriptions"])

	tracks, ok := rec["tracklist"].([]any)
	require.True(t, ok)
	require.Len(t, tracks, 2)
	assert.Equal(t, []any{}, tracks[0].(map[string]any)["artists"])
	assert.Equal(t, []any{map[string]any{"id": "2", "name": "Guest"}}, tracks[1].(map[string]any)["artists"])
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := map[domain.EntityType]string{
		domain.EntityArtist: `{"@id":"1","name":" X ","members":{"name":[{"@id":"10","#text":"John"}]},
			"namevariations":{"name":["Ex","X."]},"images":{"image":{"@type":"primary","@uri":""}}}`,
		domain.EntityLabel: `{"id":"2","name":"L","parentLabel":{"@id":"3","#text":"P"},
			"sublabels":{"label":{"@id":"4","#text":"S"}}}`,
		domain.EntityMaster: `{"@id":"5","main_release":{"#text":"6"},"year":"1999",
			"artists":{"artist":[{"id":"7","name":"A","anv":"AA"}]},"genres":{"genre":"Rock"}}`,
		domain.EntityRelease: `{"@id":"8","@status":"Accepted","master_id":{"#text":"5","@is_main_release":"false"},
			"labels":{"label":{"@id":"2","@name":"L","@catno":"C1"}},
			"formats":{"format":{"@name":"CD","descriptions":{"description":"Album"}}},
			"tracklist":{"track":{"position":"1","title":"T","extraartists":{"artist":{"id":"9","name":"E","role":"Mix"}}}}}`,
	}

	for entityType, raw := range inputs {
		t.Run(entityType.String(), func(t *testing.T) {
			once := Normalize(entityType, decode(t, raw))
			twice := Normalize(entityType, roundTrip(t, once))

			onceJSON, err := json.Marshal(once)
			require.NoError(t, err)
			twiceJSON, err := json.Marshal(twice)
			require.NoError(t, err)
			assert.JSONEq(t, string(onceJSON), string(twiceJSON))
		})
	}
}

func TestNormalize_UnknownTypePassesThrough(t *testing.T) {
	raw := map[string]any{"@id": "1", "payload": map[string]any{"x": "y"}}

	n := New(slog.New(slog.DiscardHandler))
	rec := n.Normalize(domain.EntityType("playlist"), raw)

	assert.Equal(t, "1", rec["@id"])
	assert.Equal(t, map[string]any{"x": "y"}, rec["payload"])

	// Second call takes the already-warned path.
	rec = n.Normalize(domain.EntityType("playlist"), raw)
	assert.Equal(t, "1", rec["@id"])
}

func TestRecord_IDFromPassthroughShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string id", `{"id":"7"}`, "7"},
		{"numeric id", `{"id":5}`, "5"},
		{"attribute id", `{"@id":"6"}`, "6"},
		{"numeric attribute id", `{"@id":8}`, "8"},
		{"text wrapped id", `{"id":{"#text":"9"}}`, "9"},
		{"plain id wins", `{"id":"1","@id":"2"}`, "1"},
		{"no id", `{"name":"x"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Normalize(domain.EntityType("track"), decode(t, tt.raw))
			assert.Equal(t, tt.want, rec.ID())
		})
	}

	// The document itself is not rewritten.
	rec := Normalize(domain.EntityType("track"), decode(t, `{"id":5}`))
	assert.Equal(t, json.Number("5"), rec["id"])
}

func TestFor(t *testing.T) {
	for _, entityType := range domain.KnownEntityTypes() {
		c, known := For(entityType)
		assert.True(t, known)
		assert.Equal(t, entityType, c.EntityType())
	}

	c, known := For(domain.EntityType("unknown"))
	assert.False(t, known)
	assert.Equal(t, domain.EntityType("unknown"), c.EntityType())
}
