package ingest

import (
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/discsync/discsync-server/internal/domain"
)

// Extensions accepted as NDJSON sources. Order matters: longest suffix first.
var sourceExtensions = []string{".ndjson.gz", ".jsonl.gz", ".ndjson", ".jsonl"}

// IsSourceFile reports whether path has an NDJSON extension (optionally gzipped).
func IsSourceFile(path string) bool {
	return trimSourceExt(filepath.Base(path)) != filepath.Base(path)
}

func trimSourceExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range sourceExtensions {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// EntityTypeFromPath derives the entity type from a dump file name.
//
// The name is split on '_', '-' and '.'; the first token that names a known
// type wins ("discogs_20240101_artists.ndjson" -> artist). Otherwise the first
// token is used as-is ("labels_2024.ndjson" -> label, "tracks.ndjson" -> tracks).
func EntityTypeFromPath(path string) (domain.EntityType, error) {
	stem := trimSourceExt(filepath.Base(path))
	tokens := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	if len(tokens) == 0 {
		return "", fmt.Errorf("cannot derive entity type from %q", path)
	}

	for _, tok := range tokens {
		if t := domain.ParseEntityType(tok); t.IsKnown() {
			return t, nil
		}
	}
	return domain.ParseEntityType(tokens[0]), nil
}

// Source is an NDJSON dump file with the metadata recorded on its run.
type Source struct {
	Path     string
	Checksum string // hex SHA-256 of the file bytes as stored (compressed when gzipped)
	Size     int64
}

// Metadata returns the run metadata for this source.
func (s *Source) Metadata() domain.RunMetadata {
	return domain.RunMetadata{
		SourceRef: s.Path,
		Checksum:  s.Checksum,
		Size:      s.Size,
	}
}

// Inspect reads the whole file once to compute its checksum and size.
func Inspect(path string) (*Source, error) {
	f, err := os.Open(path) //#nosec G304 -- Ingest paths are operator supplied
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("checksum %s: %w", path, err)
	}

	return &Source{
		Path:     path,
		Checksum: hex.EncodeToString(h.Sum(nil)),
		Size:     n,
	}, nil
}

// Open returns a reader over the decoded content of the source, transparently
// decompressing gzipped files.
func (s *Source) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path) //#nosec G304 -- Ingest paths are operator supplied
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	if !strings.HasSuffix(strings.ToLower(s.Path), ".gz") {
		return f, nil
	}

	zr, err := gzip.NewReader(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip %s: %w", s.Path, err)
	}
	return &gzipFile{Reader: zr, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	ferr := g.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}
