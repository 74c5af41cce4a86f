package sagemaker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	// fallbackKey is consulted after the priority keys. Some HF containers
	// answer {"outputs": "..."} or {"outputs": ["..."]}.
	fallbackKey = "outputs"

	// MaxPreviewLen bounds the rendering returned for unrecognised shapes.
	MaxPreviewLen = 1000
)

// DefaultTextKeys is the lookup order for generated text in mapping-shaped
// responses.
var DefaultTextKeys = []string{"generated_text", "text", "output_text", "answer"}

// Shape labels reported for each extraction rule.
const (
	shapeString  = "string"
	shapePreview = "preview"
)

// extractor pulls generated text out of decoded endpoint responses. Every
// input yields a string.
type extractor struct {
	keys []string
}

// newExtractor tries keys in order. With no usable keys it falls back to
// DefaultTextKeys.
func newExtractor(keys ...string) *extractor {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultTextKeys...)
	}
	return &extractor{keys: cleaned}
}

func (e *extractor) extract(v any) (string, string) {
	switch t := v.(type) {
	case string:
		return t, shapeString
	case map[string]any:
		for _, k := range e.keys {
			if s, ok := firstString(t[k]); ok {
				return s, "key:" + k
			}
		}
		if s, ok := firstString(t[fallbackKey]); ok {
			return s, "key:" + fallbackKey
		}
	case []any:
		// Common HF response: [{"generated_text": "..."}]
		if len(t) > 0 {
			return e.extract(t[0])
		}
	}
	return preview(v), shapePreview
}

// firstString accepts a string, or a non-empty sequence whose first element
// is a string.
func firstString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []any:
		if len(t) > 0 {
			s, ok := t[0].(string)
			return s, ok
		}
	}
	return "", false
}

func preview(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return truncateRunes(fmt.Sprint(v), MaxPreviewLen)
	}
	return truncateRunes(strings.TrimSuffix(buf.String(), "\n"), MaxPreviewLen)
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// decodeBody interprets raw endpoint output. A single JSON document is
// preferred; otherwise the body is read as JSON lines (DJL Serving streams
// JSONL). An error is returned only when the body is exactly one non-blank
// line that is not JSON.
func decodeBody(raw []byte) (any, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if v, err := decodeLenient(raw); err == nil {
		return v, nil
	}

	text := strings.ToValidUTF8(string(raw), "")
	lines := nonBlankLines(text)
	if len(lines) == 1 {
		v, err := decodeLenient([]byte(lines[0]))
		if err != nil {
			return nil, errors.Wrap(err, "decode response line")
		}
		return v, nil
	}
	for _, l := range lines {
		if v, err := decodeLenient([]byte(l)); err == nil {
			return v, nil
		}
	}
	return map[string]any{fallbackKey: text}, nil
}

var utf8BOM = []byte("\xef\xbb\xbf")

// decodeLenient accepts the NaN, Infinity and -Infinity literals some model
// servers emit. They decode as null.
func decodeLenient(b []byte) (any, error) {
	v, err := decodeJSON(b)
	if err == nil {
		return v, nil
	}
	if sanitized, changed := sanitizeNonFinite(b); changed {
		if v, serr := decodeJSON(sanitized); serr == nil {
			return v, nil
		}
	}
	return nil, err
}

// decodeJSON strictly decodes exactly one JSON value, keeping numbers as
// written.
func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("multiple JSON values")
		}
		return nil, errors.Wrap(err, "trailing data")
	}
	return v, nil
}

var nonFiniteLiterals = [][]byte{[]byte("-Infinity"), []byte("Infinity"), []byte("NaN")}

// sanitizeNonFinite rewrites non-finite number literals outside string
// literals to null.
func sanitizeNonFinite(b []byte) ([]byte, bool) {
	var out bytes.Buffer
	changed, inString, escaped := false, false, false
	for i := 0; i < len(b); i++ {
		ch := b[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			out.WriteByte(ch)
			continue
		}
		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}
		matched := false
		for _, lit := range nonFiniteLiterals {
			if bytes.HasPrefix(b[i:], lit) {
				out.WriteString("null")
				i += len(lit) - 1
				changed, matched = true, true
				break
			}
		}
		if !matched {
			out.WriteByte(ch)
		}
	}
	return out.Bytes(), changed
}

// nonBlankLines splits on every line boundary, including the file, group and
// record separators and the Unicode line and paragraph separators.
func nonBlankLines(text string) []string {
	var lines []string
	for _, l := range strings.FieldsFunc(text, isLineBoundary) {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func isLineBoundary(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}
