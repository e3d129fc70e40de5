package ingest

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discsync/discsync-server/internal/domain"
)

func TestEntityTypeFromPath(t *testing.T) {
	tests := []struct {
		path string
		want domain.EntityType
	}{
		{"artists_2024.ndjson", domain.EntityArtist},
		{"/dumps/labels-2024-03.jsonl", domain.EntityLabel},
		{"masters.ndjson.gz", domain.EntityMaster},
		{"discogs_20240301_releases.ndjson", domain.EntityRelease},
		{"Releases.NDJSON", domain.EntityRelease},
		{"tracks_v2.ndjson", domain.EntityType("tracks")},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := EntityTypeFromPath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := EntityTypeFromPath("/dumps/_.ndjson")
	assert.Error(t, err)
}

func TestIsSourceFile(t *testing.T) {
	assert.True(t, IsSourceFile("artists.ndjson"))
	assert.True(t, IsSourceFile("/x/artists.JSONL"))
	assert.True(t, IsSourceFile("artists.ndjson.gz"))
	assert.False(t, IsSourceFile("artists.json"))
	assert.False(t, IsSourceFile("artists.ndjson.tmp"))
	assert.False(t, IsSourceFile("README"))
}

func TestInspect(t *testing.T) {
	content := []byte("{\"id\":\"1\"}\n{\"id\":\"2\"}\n")
	path := filepath.Join(t.TempDir(), "artists.ndjson")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	src, err := Inspect(path)
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), src.Checksum)
	assert.Equal(t, int64(len(content)), src.Size)
	assert.Equal(t, domain.RunMetadata{SourceRef: path, Checksum: src.Checksum, Size: src.Size}, src.Metadata())

	_, err = Inspect(filepath.Join(t.TempDir(), "missing.ndjson"))
	assert.Error(t, err)
}

func TestSourceOpen_Gzip(t *testing.T) {
	content := "{\"id\":\"1\"}\n"
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "artists.ndjson.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	src, err := Inspect(path)
	require.NoError(t, err)
	// Size and checksum describe the stored file, not the decompressed stream.
	assert.Equal(t, int64(buf.Len()), src.Size)

	rc, err := src.Open()
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestLineReader(t *testing.T) {
	input := "{\"id\":1}\n\n   \n{\"id\":2}\r\n{\"id\":3}"
	lr := NewLineReader(strings.NewReader(input))

	type line struct {
		no   int
		text string
	}
	var got []line
	for {
		no, b, err := lr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, line{no, string(b)})
	}

	assert.Equal(t, []line{
		{1, `{"id":1}`},
		{4, `{"id":2}`},
		{5, `{"id":3}`},
	}, got)
}

func TestLineReader_LongLine(t *testing.T) {
	// Longer than the bufio buffer, shorter than the limit.
	long := `{"profile":"` + strings.Repeat("x", 3<<20) + `"}`
	lr := NewLineReader(strings.NewReader(long + "\n"))

	_, b, err := lr.Next()
	require.NoError(t, err)
	assert.Len(t, b, len(long))

	_, _, err = lr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeLine(t *testing.T) {
	v, err := DecodeLine(1, []byte(`{"id":"7","year":1999,"ratio":0.5}`))
	require.NoError(t, err)

	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("1999"), m["year"])
	assert.Equal(t, json.Number("0.5"), m["ratio"])

	_, err = DecodeLine(3, []byte(`{"id":`))
	var mle *MalformedLineError
	require.ErrorAs(t, err, &mle)
	assert.Equal(t, 3, mle.Line)

	_, err = DecodeLine(4, []byte(`{"id":"1"} {"id":"2"}`))
	require.ErrorAs(t, err, &mle)
	assert.Contains(t, err.Error(), "trailing data")
}
