package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discsync/discsync-server/internal/changes"
	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/metrics"
	"github.com/discsync/discsync-server/internal/store"
	"github.com/discsync/discsync-server/internal/store/storetest"
)

type testServer struct {
	server  *Server
	api     humatest.TestAPI
	store   *store.Store
	clock   *storetest.Clock
	metrics *metrics.Metrics
}

func setupTestServer(t *testing.T, cfgs ...Config) *testServer {
	t.Helper()

	clock := storetest.NewClock()
	st, err := store.NewInMemory(nil, store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m, err := metrics.New(metrics.NewRegistry())
	require.NoError(t, err)

	cfg := Config{MetricsEnabled: true}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	srv := NewServer(st, m, cfg, nil)
	t.Cleanup(srv.Close)

	return &testServer{
		server:  srv,
		api:     humatest.Wrap(t, srv.API()),
		store:   st,
		clock:   clock,
		metrics: m,
	}
}

// ingest runs one complete detection pass over records.
func (ts *testServer) ingest(t *testing.T, entityType domain.EntityType, records ...map[string]any) *changes.Summary {
	t.Helper()
	ctx := context.Background()

	run, err := changes.NewDetector(ts.store).Begin(ctx, entityType, domain.RunMetadata{SourceRef: "test.ndjson"})
	require.NoError(t, err)
	for _, rec := range records {
		_, err := run.Offer(ctx, rec)
		require.NoError(t, err)
	}
	summary, err := run.Finish(ctx)
	require.NoError(t, err)

	ts.clock.Advance(time.Minute)
	return summary
}

func decodeBody[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

// stripSchema removes the $schema link huma adds to object bodies.
func stripSchema(t *testing.T, body []byte) string {
	t.Helper()
	m := decodeBody[map[string]any](t, body)
	delete(m, "$schema")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}

func TestServer_UnknownRoute(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/api/v1/nope")

	assert.Equal(t, http.StatusNotFound, resp.Code)
	body := decodeBody[APIError](t, resp.Body.Bytes())
	assert.Equal(t, "NOT_FOUND", body.Code)
}

func TestServer_Metrics(t *testing.T) {
	ts := setupTestServer(t)
	ts.metrics.ObserveAcknowledged(2)

	resp := ts.api.Get("/metrics")

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "discsync_")
}

func TestServer_MetricsDisabled(t *testing.T) {
	ts := setupTestServer(t, Config{})

	resp := ts.api.Get("/metrics")

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestServer_OpenAPI(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/openapi.json")

	require.Equal(t, http.StatusOK, resp.Code)
	doc := decodeBody[map[string]any](t, resp.Body.Bytes())
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	for _, p := range []string{
		"/health",
		"/api/v1/changes",
		"/api/v1/changes/ack",
		"/api/v1/changes/pending/count",
		"/api/v1/state",
		"/api/v1/state/{entity_type}",
		"/api/v1/runs",
		"/api/v1/runs/{id}",
		"/api/v1/runs/reap",
		"/api/v1/records/{entity_type}/{id}",
	} {
		assert.Contains(t, paths, p)
	}
}

func TestServer_RateLimit(t *testing.T) {
	ts := setupTestServer(t, Config{RateLimit: 1, RateBurst: 2, RateIdleTTL: time.Minute})

	for range 2 {
		resp := ts.api.Get("/api/v1/state")
		require.Equal(t, http.StatusOK, resp.Code)
	}

	resp := ts.api.Get("/api/v1/state")
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeBody[APIError](t, resp.Body.Bytes()).Code)

	// Health checks are not throttled.
	assert.Equal(t, http.StatusOK, ts.api.Get("/health").Code)
}

func TestServer_CORS(t *testing.T) {
	ts := setupTestServer(t, Config{CORSOrigins: []string{"https://ops.example.com"}})

	resp := ts.api.Get("/api/v1/state", "Origin: https://ops.example.com")

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "https://ops.example.com", resp.Header().Get("Access-Control-Allow-Origin"))

	resp = ts.api.Get("/api/v1/state", "Origin: https://evil.example.com")
	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}
