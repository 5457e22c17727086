package serializer

import (
	"errors"
	"fmt"
	"io"

	nodetree "github.com/goliatone/go-nodetree"
	"gopkg.in/yaml.v3"
)

// YAMLCodec handles YAML documents.
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec.
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier.
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// Extensions returns the file extensions handled by the codec.
func (c *YAMLCodec) Extensions() []string {
	return []string{".yaml", ".yml"}
}

// Decode parses one YAML mapping.
func (c *YAMLCodec) Decode(r io.Reader) (nodetree.Document, error) {
	var doc map[string]any
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// Encode writes doc as YAML indented with two spaces.
func (c *YAMLCodec) Encode(w io.Writer, doc nodetree.Document) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return nil
}
