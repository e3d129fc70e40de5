package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/discsync/discsync-server/internal/normalize"
)

// Canonical returns the canonical JSON encoding of v: object keys sorted at
// every depth, no insignificant whitespace.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type writer interface {
	io.Writer
	io.ByteWriter
	io.StringWriter
}

func encode(w writer, v any) error {
	switch x := v.(type) {
	case nil:
		_, err := w.WriteString("null")
		return err
	case string:
		return encodeString(w, x)
	case bool:
		_, err := w.WriteString(strconv.FormatBool(x))
		return err
	case json.Number:
		_, err := w.WriteString(x.String())
		return err
	case float64:
		return encodeFloat(w, x)
	case float32:
		return encodeFloat(w, float64(x))
	case int:
		_, err := w.WriteString(strconv.Itoa(x))
		return err
	case int64:
		_, err := w.WriteString(strconv.FormatInt(x, 10))
		return err
	case int32:
		_, err := w.WriteString(strconv.FormatInt(int64(x), 10))
		return err
	case uint64:
		_, err := w.WriteString(strconv.FormatUint(x, 10))
		return err
	case []any:
		return encodeList(w, len(x), func(i int) error { return encode(w, x[i]) })
	case []string:
		return encodeList(w, len(x), func(i int) error { return encodeString(w, x[i]) })
	case []map[string]any:
		return encodeList(w, len(x), func(i int) error { return encode(w, x[i]) })
	case map[string]any:
		return encodeObject(w, x)
	case normalize.Record:
		return encodeObject(w, map[string]any(x))
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return encodeObject(w, m)
	default:
		// Named map types (normalize.Record) and anything else: round-trip
		// through encoding/json, then canonicalize the generic form.
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Errorf("encode %T: %w", x, err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return fmt.Errorf("decode %T: %w", x, err)
		}
		return encode(w, generic)
	}
}

// encodeString writes s as a JSON string. Valid UTF-8 is encoded exactly as
// encoding/json does. Each byte of an invalid sequence is written as a lone
// \udcXX escape: valid text never decodes to a surrogate, so distinct byte
// strings keep distinct encodings instead of collapsing to U+FFFD.
func encodeString(w writer, s string) error {
	if utf8.ValidString(s) {
		return writeJSONString(w, s, true)
	}

	if err := w.WriteByte('"'); err != nil {
		return err
	}
	for len(s) > 0 {
		n := validPrefix(s)
		if n > 0 {
			if err := writeJSONString(w, s[:n], false); err != nil {
				return err
			}
			s = s[n:]
			continue
		}
		if _, err := fmt.Fprintf(w, `\udc%02x`, s[0]); err != nil {
			return err
		}
		s = s[1:]
	}
	return w.WriteByte('"')
}

// validPrefix returns the length of the longest valid UTF-8 prefix of s.
func validPrefix(s string) int {
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			break
		}
		i += size
	}
	return i
}

func writeJSONString(w writer, s string, quoted bool) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if !quoted {
		data = data[1 : len(data)-1]
	}
	_, err = w.Write(data)
	return err
}

func encodeFloat(w writer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("unsupported number %v", f)
	}
	_, err := w.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	return err
}

func encodeList(w writer, n int, item func(int) error) error {
	if err := w.WriteByte('['); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if err := item(i); err != nil {
			return err
		}
	}
	return w.WriteByte(']')
}

func encodeObject(w writer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := w.WriteByte('{'); err != nil {
		return err
	}
	for i, k := range keys {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if err := encodeString(w, k); err != nil {
			return err
		}
		if err := w.WriteByte(':'); err != nil {
			return err
		}
		if err := encode(w, m[k]); err != nil {
			return err
		}
	}
	return w.WriteByte('}')
}
