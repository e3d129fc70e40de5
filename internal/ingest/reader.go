package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLineSize bounds a single NDJSON line. Release documents with long
// tracklists run to a few hundred KiB; anything past this is treated as corrupt.
const maxLineSize = 64 << 20

// ErrLineTooLong is returned for a line exceeding maxLineSize.
var ErrLineTooLong = errors.New("ndjson line too long")

// LineReader yields the non-blank lines of an NDJSON stream.
type LineReader struct {
	r    *bufio.Reader
	line int
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, 1<<20)}
}

// Next returns the next non-blank line and its 1-based number. The returned
// slice is owned by the caller. io.EOF signals the end of the stream.
func (lr *LineReader) Next() (int, []byte, error) {
	for {
		line, err := lr.readLine()
		if len(line) == 0 && err != nil {
			return lr.line, nil, err
		}
		lr.line++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return lr.line, nil, err
			}
			continue
		}
		// A final line without a trailing newline is still a record.
		if err != nil && !errors.Is(err, io.EOF) {
			return lr.line, nil, err
		}
		return lr.line, line, nil
	}
}

func (lr *LineReader) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := lr.r.ReadSlice('\n')
		if len(buf)+len(chunk) > maxLineSize {
			return nil, fmt.Errorf("line %d: %w", lr.line+1, ErrLineTooLong)
		}
		buf = append(buf, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, err
	}
}

// MalformedLineError describes a line that is not a single JSON value.
type MalformedLineError struct {
	Line int
	Err  error
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("line %d: malformed record: %v", e.Line, e.Err)
}

func (e *MalformedLineError) Unwrap() error { return e.Err }

// DecodeLine decodes one NDJSON line. Numbers are kept as json.Number so their
// textual form reaches the normalizer unchanged.
func DecodeLine(lineNo int, line []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &MalformedLineError{Line: lineNo, Err: err}
	}
	if dec.More() {
		return nil, &MalformedLineError{Line: lineNo, Err: errors.New("trailing data after value")}
	}
	return v, nil
}
