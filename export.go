package nodetree

import (
	"reflect"
)

// TypeTagKey is the reserved document key holding a node's type name.
const TypeTagKey = "__class__"

// Document is the plain nested representation of a node subtree.
type Document = map[string]any

type exportConfig struct {
	registry *Registry
	tagTop   bool
	resolved bool
}

// ExportOption configures Export.
type ExportOption func(*exportConfig)

// WithTypeTag tags the exported top-level node with its type name.
func WithTypeTag() ExportOption {
	return func(cfg *exportConfig) {
		cfg.tagTop = true
	}
}

// WithExportRegistry names runtime types through registry instead of
// DefaultRegistry.
func WithExportRegistry(registry *Registry) ExportOption {
	return func(cfg *exportConfig) {
		if registry != nil {
			cfg.registry = registry
		}
	}
}

// Export converts n into a document holding only explicitly set attributes
// that differ from their declared default. References are kept verbatim.
// Nodes sitting in a slot whose declared type differs from their runtime type
// carry TypeTagKey.
func Export(n Node, opts ...ExportOption) (Document, error) {
	cfg := exportConfig{registry: DefaultRegistry}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if n == nil {
		return Document{}, nil
	}
	unlock := lockTree(n)
	defer unlock()
	return exportNode(n, cfg.tagTop, &cfg)
}

// ExportResolved is Export with every reference replaced by the value it
// resolves to. References that land on a node are kept verbatim.
func ExportResolved(n Node, opts ...ExportOption) (Document, error) {
	opts = append(opts, func(cfg *exportConfig) { cfg.resolved = true })
	return Export(n, opts...)
}

func exportNode(n Node, tag bool, cfg *exportConfig) (Document, error) {
	nb := bind(n)
	doc := Document{}
	if tag {
		doc[TypeTagKey] = cfg.registry.Name(reflect.TypeOf(n))
	}
	for _, field := range n.Schema().fields {
		raw, set := nb.values[field.Name]
		if !set || isDefault(field, raw) {
			continue
		}
		value, err := exportValue(n, field, raw, cfg)
		if err != nil {
			return nil, err
		}
		doc[field.Name] = value
	}
	return doc, nil
}

func exportValue(owner Node, field Field, value any, cfg *exportConfig) (any, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case string:
		if cfg.resolved && IsReference(typed) {
			resolved, err := Resolve(owner, typed)
			if err != nil {
				return nil, err
			}
			if _, isNode := resolved.(Node); isNode {
				return typed, nil
			}
			return exportValue(owner, Field{Kind: KindValue}, resolved, cfg)
		}
		return typed, nil
	case Node:
		declared := field.Type
		if field.Kind == KindValue {
			declared = nil
		}
		return exportNode(typed, needsTag(declared, reflect.TypeOf(typed)), cfg)
	case []any:
		out := make([]any, len(typed))
		for i, elem := range typed {
			v, err := exportValue(owner, field, elem, cfg)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, elem := range typed {
			v, err := exportValue(owner, field, elem, cfg)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return value, nil
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			v, err := exportValue(owner, field, rv.Index(i).Interface(), cfg)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return value, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			v, err := exportValue(owner, field, iter.Value().Interface(), cfg)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = v
		}
		return out, nil
	}
	return value, nil
}

// needsTag reports whether a node of runtime type rt sitting in a slot of
// declared type must record its type name. Untyped and interface slots
// always need one.
func needsTag(declared, rt reflect.Type) bool {
	if declared == nil || declared.Kind() == reflect.Interface {
		return true
	}
	return declared != rt
}

func isDefault(field Field, value any) bool {
	if !field.HasDefault {
		return false
	}
	if len(ownedNodes(value)) > 0 {
		return false
	}
	if _, isNode := value.(Node); isNode {
		return false
	}
	return reflect.DeepEqual(value, field.defaultValue())
}
