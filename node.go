package nodetree

import (
	"fmt"
	"reflect"
	"strings"
)

// Node is implemented by every tree element. Concrete node types embed Base
// and return their declared Schema:
//
//	type Channel struct{ nodetree.Base }
//
//	func (*Channel) Schema() *nodetree.Schema { return channelSchema }
type Node interface {
	Schema() *Schema
	nodeBase() *Base
}

// Base carries attribute storage and the non-owning parent/root links of a
// node. Ownership flows strictly from parent to child; parent and root are
// observer references only.
type Base struct {
	self      Node
	parent    Node
	root      Node
	values    map[string]any
	attached  bool
	busy      int
	resolving map[string]struct{}
	// settling holds references met inside plain containers that are
	// currently being resolved against this node.
	settling map[string]struct{}
}

func (b *Base) nodeBase() *Base { return b }

// NewNode allocates and initialises a node of type T.
func NewNode[T any, PT interface {
	*T
	Node
}]() PT {
	n := PT(new(T))
	bind(n)
	return n
}

// Init initialises a node allocated by the caller and returns it.
func Init[N Node](n N) N {
	bind(n)
	return n
}

func bind(n Node) *Base {
	b := n.nodeBase()
	if b.self == nil {
		b.self = n
	}
	if b.values == nil {
		b.values = make(map[string]any)
	}
	return b
}

// Parent returns the owning node, or nil for a tree root.
func (b *Base) Parent() Node {
	return b.parent
}

// Root returns the top of the tree holding the node.
func (b *Base) Root() Node {
	if b.root != nil {
		return b.root
	}
	if b.parent == nil {
		return b.self
	}
	return b.parent.nodeBase().Root()
}

// IsSet reports whether name was explicitly assigned.
func (b *Base) IsSet(name string) bool {
	_, ok := b.values[name]
	return ok
}

// Raw returns the stored value without resolving references.
func (b *Base) Raw(name string) (any, bool) {
	value, ok := b.values[name]
	return value, ok
}

// Get returns the attribute value. Reference strings, stored or declared as
// defaults, are resolved against this node on every call.
func (b *Base) Get(name string) (any, error) {
	if b.self == nil {
		return nil, ErrUnbound
	}
	field, ok := b.self.Schema().Field(name)
	if !ok {
		return nil, validationError(b.self, name, ErrUnknownAttribute)
	}
	value, set := b.values[name]
	if !set {
		if !field.HasDefault {
			return nil, validationError(b.self, name, ErrMissingValue)
		}
		value = field.defaultValue()
	}
	if ref, ok := value.(string); ok && IsReference(ref) {
		return b.resolveAttribute(name, ref)
	}
	return value, nil
}

func (b *Base) resolveAttribute(name, ref string) (any, error) {
	if _, busy := b.resolving[name]; busy {
		return nil, &ReferenceError{Reference: ref, Err: ErrReferenceCycle}
	}
	if b.resolving == nil {
		b.resolving = make(map[string]struct{})
	}
	b.resolving[name] = struct{}{}
	defer delete(b.resolving, name)
	return Resolve(b.self, ref)
}

// Set assigns an attribute. Child nodes found in value are attached to this
// node; a node can only ever be attached once.
func (b *Base) Set(name string, value any) error {
	if b.self == nil {
		return ErrUnbound
	}
	field, ok := b.self.Schema().Field(name)
	if !ok {
		return validationError(b.self, name, ErrUnknownAttribute)
	}
	if b.treeBusy() {
		return validationError(b.self, name, ErrTreeBusy)
	}

	normalized, children, err := normalizeValue(field, value)
	if err != nil {
		return validationError(b.self, name, err)
	}

	previous := ownedNodes(b.values[name])
	kept := make(map[*Base]struct{}, len(previous))
	for _, child := range previous {
		kept[child.nodeBase()] = struct{}{}
	}
	seen := make(map[*Base]struct{}, len(children))
	for _, child := range children {
		cb := child.nodeBase()
		if _, dup := seen[cb]; dup {
			return validationError(b.self, name, ErrAlreadyAttached)
		}
		seen[cb] = struct{}{}
		if _, ours := kept[cb]; ours {
			continue
		}
		if cb.attached {
			return validationError(b.self, name, ErrAlreadyAttached)
		}
		if cb == b || b.Root() == child {
			return validationError(b.self, name, ErrAttachCycle)
		}
	}

	for _, old := range previous {
		if _, still := seen[old.nodeBase()]; !still {
			detach(old)
		}
	}
	b.values[name] = normalized
	root := b.Root()
	for _, child := range children {
		cb := child.nodeBase()
		cb.parent = b.self
		cb.attached = true
		propagateRoot(child, root)
	}
	return nil
}

// Unset removes an explicit value, dropping any child nodes it owned.
func (b *Base) Unset(name string) error {
	if b.self == nil {
		return ErrUnbound
	}
	if !b.self.Schema().Has(name) {
		return validationError(b.self, name, ErrUnknownAttribute)
	}
	if b.treeBusy() {
		return validationError(b.self, name, ErrTreeBusy)
	}
	for _, child := range ownedNodes(b.values[name]) {
		detach(child)
	}
	delete(b.values, name)
	return nil
}

// GetString reads a string attribute.
func (b *Base) GetString(name string) (string, error) {
	return getAs[string](b, name)
}

// GetInt reads an integer attribute; integral floats decoded from documents
// are accepted.
func (b *Base) GetInt(name string) (int, error) {
	value, err := b.Get(name)
	if err != nil {
		return 0, err
	}
	n, ok := toInt(value)
	if !ok {
		return 0, validationError(b.self, name, fmt.Errorf("%w: want int, got %T", ErrTypeMismatch, value))
	}
	return n, nil
}

// GetFloat reads a numeric attribute as float64.
func (b *Base) GetFloat(name string) (float64, error) {
	value, err := b.Get(name)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(value)
	if !ok {
		return 0, validationError(b.self, name, fmt.Errorf("%w: want number, got %T", ErrTypeMismatch, value))
	}
	return f, nil
}

// GetBool reads a boolean attribute.
func (b *Base) GetBool(name string) (bool, error) {
	return getAs[bool](b, name)
}

// GetAs reads an attribute and asserts it to T.
func GetAs[T any](n Node, name string) (T, error) {
	return getAs[T](bind(n), name)
}

func getAs[T any](b *Base, name string) (T, error) {
	var zero T
	value, err := b.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, validationError(b.self, name, fmt.Errorf("%w: want %s, got %T", ErrTypeMismatch, reflect.TypeFor[T](), value))
	}
	return typed, nil
}

func (b *Base) treeBusy() bool {
	root := b.Root()
	if root == nil {
		return b.busy > 0
	}
	return root.nodeBase().busy > 0
}

func detach(n Node) {
	nb := n.nodeBase()
	nb.parent = nil
	nb.root = nil
	propagateRoot(n, n)
	nb.root = nil
}

// propagateRoot caches root on n and every node n owns.
func propagateRoot(n Node, root Node) {
	nb := n.nodeBase()
	nb.root = root
	if nb.self == nil {
		return
	}
	for _, field := range nb.self.Schema().fields {
		for _, child := range ownedNodes(nb.values[field.Name]) {
			propagateRoot(child, root)
		}
	}
}

// normalizeValue converts value into its stored form for field and collects
// the child nodes it contains.
func normalizeValue(field Field, value any) (any, []Node, error) {
	if value == nil {
		return nil, nil, nil
	}
	if ref, ok := value.(string); ok && IsReference(ref) {
		return ref, nil, nil
	}

	switch field.Kind {
	case KindNode:
		n, ok := value.(Node)
		if !ok || !field.accepts(reflect.TypeOf(value)) {
			return nil, nil, fmt.Errorf("%w: %T does not fit %s", ErrTypeMismatch, value, describeType(field.Type))
		}
		bind(n)
		return n, []Node{n}, nil
	case KindNodeList:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, nil, fmt.Errorf("%w: want list, got %T", ErrTypeMismatch, value)
		}
		out := make([]any, rv.Len())
		var children []Node
		for i := range rv.Len() {
			elem, child, err := normalizeElement(field, rv.Index(i).Interface())
			if err != nil {
				return nil, nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = elem
			if child != nil {
				children = append(children, child)
			}
		}
		return out, children, nil
	case KindNodeMap:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return nil, nil, fmt.Errorf("%w: want map with string keys, got %T", ErrTypeMismatch, value)
		}
		out := make(map[string]any, rv.Len())
		var children []Node
		for _, key := range sortedMapKeys(rv) {
			elem, child, err := normalizeElement(field, rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return nil, nil, fmt.Errorf("[%s]: %w", key, err)
			}
			out[key] = elem
			if child != nil {
				children = append(children, child)
			}
		}
		return out, children, nil
	default:
		var children []Node
		out := normalizePlain(value, &children)
		return out, children, nil
	}
}

func normalizeElement(field Field, value any) (any, Node, error) {
	if ref, ok := value.(string); ok && IsReference(ref) {
		return ref, nil, nil
	}
	n, ok := value.(Node)
	if !ok || !field.accepts(reflect.TypeOf(value)) {
		return nil, nil, fmt.Errorf("%w: %T does not fit %s", ErrTypeMismatch, value, describeType(field.Type))
	}
	bind(n)
	return n, n, nil
}

// normalizePlain walks plain containers so nodes nested in them are owned.
// Containers holding no nodes are stored untouched.
func normalizePlain(value any, children *[]Node) any {
	switch typed := value.(type) {
	case Node:
		bind(typed)
		*children = append(*children, typed)
		return typed
	case []any:
		out := make([]any, len(typed))
		for i, elem := range typed {
			out[i] = normalizePlain(elem, children)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, elem := range typed {
			out[key] = normalizePlain(elem, children)
		}
		return out
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if !holdsNodes(rv.Type().Elem()) {
			return value
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			out[i] = normalizePlain(rv.Index(i).Interface(), children)
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String || !holdsNodes(rv.Type().Elem()) {
			return value
		}
		out := make(map[string]any, rv.Len())
		for _, key := range sortedMapKeys(rv) {
			out[key] = normalizePlain(rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key())).Interface(), children)
		}
		return out
	}
	return value
}

func holdsNodes(t reflect.Type) bool {
	return t.Implements(nodeInterface) || (t.Kind() == reflect.Interface && nodeInterface.Implements(t))
}

func describeType(t reflect.Type) string {
	if t == nil {
		return "any node"
	}
	return t.String()
}

// Path returns the location of n below its root, e.g. "qubit.xy.pulses[X180]".
// The root itself has an empty path.
func Path(n Node) string {
	if n == nil {
		return ""
	}
	var segments []string
	current := n
	for {
		cb := current.nodeBase()
		parent := cb.parent
		if parent == nil {
			break
		}
		segments = append(segments, locate(parent, current))
		current = parent
	}
	var sb strings.Builder
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if sb.Len() > 0 && !strings.HasPrefix(seg, "[") {
			sb.WriteByte('.')
		}
		sb.WriteString(seg)
	}
	return sb.String()
}

func locate(parent, child Node) string {
	pb := parent.nodeBase()
	for _, field := range parent.Schema().fields {
		if seg, ok := locateIn(pb.values[field.Name], child); ok {
			return field.Name + seg
		}
	}
	return "?"
}

func locateIn(value any, child Node) (string, bool) {
	switch typed := value.(type) {
	case Node:
		return "", typed.nodeBase() == child.nodeBase()
	case []any:
		for i, elem := range typed {
			if seg, ok := locateIn(elem, child); ok {
				return fmt.Sprintf("[%d]%s", i, seg), true
			}
		}
	case map[string]any:
		for _, key := range sortedKeys(typed) {
			if seg, ok := locateIn(typed[key], child); ok {
				return fmt.Sprintf("[%s]%s", key, seg), true
			}
		}
	}
	return "", false
}
