package serializer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	nodetree "github.com/goliatone/go-nodetree"
)

// JSONCodec handles UTF-8 JSON documents indented with two spaces.
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier.
func (c *JSONCodec) Format() string {
	return "json"
}

// Extensions returns the file extensions handled by the codec.
func (c *JSONCodec) Extensions() []string {
	return []string{".json"}
}

// Decode parses one JSON object. Integral numbers decode as int, all others
// as float64.
func (c *JSONCodec) Decode(r io.Reader) (nodetree.Document, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var doc map[string]any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return normalizeNumbers(doc).(map[string]any), nil
}

// Encode writes doc as indented JSON.
func (c *JSONCodec) Encode(w io.Writer, doc nodetree.Document) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func normalizeNumbers(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		for key, elem := range typed {
			typed[key] = normalizeNumbers(elem)
		}
		return typed
	case []any:
		for i, elem := range typed {
			typed[i] = normalizeNumbers(elem)
		}
		return typed
	case json.Number:
		raw := typed.String()
		if !strings.ContainsAny(raw, ".eE") {
			if n, err := typed.Int64(); err == nil {
				return int(n)
			}
		}
		f, err := typed.Float64()
		if err != nil {
			return raw
		}
		return f
	}
	return value
}
