package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discsync/discsync-server/internal/ingest"
)

type fakeIngester struct {
	mu    sync.Mutex
	paths []string
	busy  int // number of calls that report ErrBusy before succeeding
}

func (f *fakeIngester) IngestFile(_ context.Context, path string, _ ingest.Options) (*ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy > 0 {
		f.busy--
		return nil, ingest.ErrBusy
	}
	f.paths = append(f.paths, path)
	return &ingest.Result{}, nil
}

func (f *fakeIngester) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func startWatcher(t *testing.T, dir string, ing Ingester, opts Options) {
	t.Helper()
	w, err := New(dir, ing, nil, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
}

func TestNew_RequiresDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), &fakeIngester{}, nil, Options{})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.ndjson")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(file, &fakeIngester{}, nil, Options{})
	assert.Error(t, err)
}

func TestWatcher_IngestsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	startWatcher(t, dir, ing, Options{SettleDelay: 50 * time.Millisecond})

	// Ignored: wrong extension, hidden, temp.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".artists.ndjson"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artists.ndjson.tmp"), []byte("x"), 0o644))

	path := filepath.Join(dir, "artists_2024.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"1"}`+"\n"), 0o644))

	require.Eventually(t, func() bool {
		return len(ing.seen()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{path}, ing.seen())

	// Give stray events time to surface; nothing else should be ingested.
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, ing.seen(), 1)
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	startWatcher(t, dir, ing, Options{SettleDelay: 150 * time.Millisecond})

	path := filepath.Join(dir, "labels.ndjson")
	f, err := os.Create(path)
	require.NoError(t, err)
	for range 5 {
		_, err := f.WriteString(`{"id":"1","name":"L"}` + "\n")
		require.NoError(t, err)
		time.Sleep(30 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return len(ing.seen()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	assert.Len(t, ing.seen(), 1)
}

func TestWatcher_ScanExisting(t *testing.T) {
	dir := t.TempDir()
	b := filepath.Join(dir, "b_releases.ndjson")
	a := filepath.Join(dir, "a_masters.ndjson")
	require.NoError(t, os.WriteFile(b, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(a, []byte("{}\n"), 0o644))

	ing := &fakeIngester{}
	startWatcher(t, dir, ing, Options{SettleDelay: 20 * time.Millisecond, ScanExisting: true})

	require.Eventually(t, func() bool {
		return len(ing.seen()) == 2
	}, 3*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t, []string{a, b}, ing.seen())
}

func TestWatcher_RetriesBusy(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{busy: 1}

	var mu sync.Mutex
	var attempts int
	w, err := New(dir, ing, nil, Options{
		SettleDelay: 20 * time.Millisecond,
		RetryDelay:  50 * time.Millisecond,
	})
	require.NoError(t, err)
	w.OnResult(func(string, *ingest.Result, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	path := filepath.Join(dir, "artists.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	require.Eventually(t, func() bool {
		return len(ing.seen()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestOptions_ShouldIgnore(t *testing.T) {
	opts := Options{}
	opts.setDefaults()

	assert.True(t, opts.shouldIgnore("/in/.hidden.ndjson"))
	assert.True(t, opts.shouldIgnore("/in/artists.ndjson.part"))
	assert.True(t, opts.shouldIgnore("/in/x.tmp"))
	assert.False(t, opts.shouldIgnore("/in/artists.ndjson"))

	// Explicit empty patterns keep hidden files unless asked.
	custom := Options{IgnorePatterns: []string{}}
	custom.setDefaults()
	assert.False(t, custom.shouldIgnore("/in/.hidden.ndjson"))
	assert.Equal(t, 2*time.Second, custom.SettleDelay)
}
