package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discsync/discsync-server/internal/domain"
)

func TestGetRecordState(t *testing.T) {
	ts := setupTestServer(t)
	ts.ingest(t, domain.EntityArtist,
		map[string]any{"id": "1", "name": "A"},
		map[string]any{"id": "2", "name": "B"},
	)
	ts.ingest(t, domain.EntityArtist, map[string]any{"id": "1", "name": "A (renamed)"})

	resp := ts.api.Get("/api/v1/records/artist/1")
	require.Equal(t, http.StatusOK, resp.Code)
	rec := decodeBody[domain.RecordState](t, resp.Body.Bytes())
	assert.Equal(t, "1", rec.RecordID)
	assert.Equal(t, int64(2), rec.Version)
	assert.False(t, rec.IsTombstoned())
	assert.NotEmpty(t, rec.Hash)

	// Missing from the second run, so tombstoned but still inspectable.
	resp = ts.api.Get("/api/v1/records/artists/2")
	require.Equal(t, http.StatusOK, resp.Code)
	tomb := decodeBody[domain.RecordState](t, resp.Body.Bytes())
	assert.True(t, tomb.IsTombstoned())

	resp = ts.api.Get("/api/v1/records/artist/404")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
