package nodetree

import (
	"fmt"
	"reflect"
)

// FieldDescriptor describes one declared attribute of a node in a live tree.
type FieldDescriptor struct {
	Path     string `json:"path"`
	NodeType string `json:"node_type"`
	Kind     string `json:"kind"`
	Type     string `json:"type"`
	Set      bool   `json:"set"`
	Default  any    `json:"default,omitempty"`
	Check    string `json:"check,omitempty"`
}

// DefaultSchemaGenerator returns the built-in descriptor-based schema generator.
func DefaultSchemaGenerator() SchemaGenerator {
	return descriptorGenerator{}
}

type descriptorGenerator struct{}

// Generate lists every declared field of every node owned by root, in
// traversal order.
func (descriptorGenerator) Generate(root Node) (SchemaDocument, error) {
	descriptors := []FieldDescriptor{}
	if root != nil {
		for n := range All(root) {
			descriptors = append(descriptors, describeNode(n)...)
		}
	}
	return SchemaDocument{
		Format:   SchemaFormatDescriptors,
		Document: descriptors,
	}, nil
}

func describeNode(n Node) []FieldDescriptor {
	nb := n.nodeBase()
	base := Path(n)
	nodeType := TypeName(reflect.TypeOf(n))
	fields := n.Schema().fields
	out := make([]FieldDescriptor, 0, len(fields))
	for _, field := range fields {
		raw, set := nb.values[field.Name]
		d := FieldDescriptor{
			Path:     descriptorPath(base, field.Name),
			NodeType: nodeType,
			Kind:     field.Kind.String(),
			Type:     fieldTypeName(field, raw, set),
			Set:      set,
			Check:    field.Check,
		}
		if field.HasDefault && field.Kind == KindValue {
			d.Default = field.Default
		}
		out = append(out, d)
	}
	return out
}

func fieldTypeName(field Field, raw any, set bool) string {
	switch field.Kind {
	case KindNode:
		return slotTypeName(field.Type)
	case KindNodeList:
		return "[]" + slotTypeName(field.Type)
	case KindNodeMap:
		return "map[string]" + slotTypeName(field.Type)
	}
	switch {
	case set && raw != nil:
		if s, ok := raw.(string); ok && IsReference(s) {
			return "reference"
		}
		return fmt.Sprintf("%T", raw)
	case field.Default != nil:
		return fmt.Sprintf("%T", field.Default)
	default:
		return "any"
	}
}

func slotTypeName(t reflect.Type) string {
	if t == nil {
		return "node"
	}
	return TypeName(t)
}

func descriptorPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
