package nodetree

import (
	"fmt"
	"reflect"
)

// FieldKind classifies what a declared attribute may hold.
type FieldKind int

const (
	// KindValue holds scalars, reference strings or plain containers.
	KindValue FieldKind = iota
	// KindNode holds one child node (or a reference to one).
	KindNode
	// KindNodeList holds an ordered sequence of child nodes.
	KindNodeList
	// KindNodeMap holds child nodes keyed by string.
	KindNodeMap
)

func (k FieldKind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindNode:
		return "node"
	case KindNodeList:
		return "node_list"
	case KindNodeMap:
		return "node_map"
	default:
		return "unknown"
	}
}

var nodeInterface = reflect.TypeFor[Node]()

// Field declares one attribute of a node type.
type Field struct {
	Name string
	Kind FieldKind
	// Type is the statically declared node type for node kinds. An interface
	// type marks a polymorphic slot.
	Type       reflect.Type
	Default    any
	HasDefault bool
	// Check is an optional expression evaluated by Tree.Validate with `value`
	// bound to the resolved attribute.
	Check string
}

// FieldOption configures a Field declaration.
type FieldOption func(*Field)

// Default declares the value returned by Get while the attribute is unset.
func Default(value any) FieldOption {
	return func(f *Field) {
		f.Default = value
		f.HasDefault = true
	}
}

// Optional declares a nil default.
func Optional() FieldOption {
	return Default(nil)
}

// Check attaches a validation expression to the field.
func Check(expr string) FieldOption {
	return func(f *Field) {
		f.Check = expr
	}
}

// Value declares a scalar/plain attribute.
func Value(name string, opts ...FieldOption) Field {
	return newField(name, KindValue, nil, opts)
}

// Child declares a single child node slot of declared type T.
func Child[T Node](name string, opts ...FieldOption) Field {
	return newField(name, KindNode, reflect.TypeFor[T](), opts)
}

// Children declares an ordered list of child nodes of declared type T.
func Children[T Node](name string, opts ...FieldOption) Field {
	return newField(name, KindNodeList, reflect.TypeFor[T](), opts)
}

// ChildMap declares string-keyed child nodes of declared type T.
func ChildMap[T Node](name string, opts ...FieldOption) Field {
	return newField(name, KindNodeMap, reflect.TypeFor[T](), opts)
}

func newField(name string, kind FieldKind, typ reflect.Type, opts []FieldOption) Field {
	f := Field{Name: name, Kind: kind, Type: typ}
	if kind == KindNodeList || kind == KindNodeMap {
		f.HasDefault = true
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&f)
		}
	}
	return f
}

// Polymorphic reports whether the declared slot type is an interface.
func (f Field) Polymorphic() bool {
	return f.Type != nil && f.Type.Kind() == reflect.Interface
}

// accepts reports whether a node of runtime type rt fits the slot.
func (f Field) accepts(rt reflect.Type) bool {
	if f.Type == nil {
		return rt.Implements(nodeInterface)
	}
	return rt.AssignableTo(f.Type)
}

func (f Field) defaultValue() any {
	if f.Default != nil {
		return f.Default
	}
	switch f.Kind {
	case KindNodeList:
		return []any{}
	case KindNodeMap:
		return map[string]any{}
	default:
		return nil
	}
}

// Schema is the ordered set of attributes a node type declares.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema from field declarations. Declaration order is the
// traversal and export order. Duplicate or empty names are programming errors
// and panic.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{index: make(map[string]int, len(fields))}
	for _, f := range fields {
		s.add(f)
	}
	return s
}

// Extend returns a new schema holding the receiver's fields followed by fields.
// A field with an existing name replaces the inherited declaration in place.
func (s *Schema) Extend(fields ...Field) *Schema {
	out := &Schema{
		fields: append([]Field(nil), s.fields...),
		index:  make(map[string]int, len(s.fields)+len(fields)),
	}
	for name, i := range s.index {
		out.index[name] = i
	}
	for _, f := range fields {
		if i, ok := out.index[f.Name]; ok {
			out.fields[i] = f
			continue
		}
		out.add(f)
	}
	return out
}

func (s *Schema) add(f Field) {
	if f.Name == "" {
		panic("nodetree: field name must not be empty")
	}
	if f.Name == TypeTagKey {
		panic(fmt.Sprintf("nodetree: field name %q is reserved", TypeTagKey))
	}
	if _, ok := s.index[f.Name]; ok {
		panic(fmt.Sprintf("nodetree: duplicate field %q", f.Name))
	}
	s.index[f.Name] = len(s.fields)
	s.fields = append(s.fields, f)
}

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	return append([]Field(nil), s.fields...)
}

// Field looks up a declared field by name.
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Has reports whether name is declared.
func (s *Schema) Has(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// HasDefault reports whether name is declared with a default value.
func (s *Schema) HasDefault(name string) bool {
	f, ok := s.Field(name)
	return ok && f.HasDefault
}

// Len returns the number of declared fields.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}
