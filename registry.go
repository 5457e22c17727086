package nodetree

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Constructor returns a fresh, unattached node.
type Constructor func() Node

// Registry maps type-tag names to node constructors. Documents only ever name
// types that were registered explicitly; nothing is looked up by reflection on
// a string.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Constructor
	byType map[reflect.Type]string
}

// DefaultRegistry is used by Import and Export unless an option overrides it.
var DefaultRegistry = NewRegistry()

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Constructor),
		byType: make(map[reflect.Type]string),
	}
}

// TypeName returns the fully-qualified name used as the default type tag,
// e.g. "github.com/acme/devices.Transmon".
func TypeName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// Add registers ctor under name. An empty name uses TypeName of the
// constructed type.
func (r *Registry) Add(name string, ctor Constructor) error {
	if ctor == nil {
		return fmt.Errorf("nodetree: constructor %q is nil", name)
	}
	sample := ctor()
	if sample == nil {
		return fmt.Errorf("nodetree: constructor %q returned nil", name)
	}
	rt := reflect.TypeOf(sample)
	if name == "" {
		name = TypeName(rt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName == nil {
		r.byName = make(map[string]Constructor)
		r.byType = make(map[reflect.Type]string)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("nodetree: type %q already registered", name)
	}
	if _, exists := r.byType[rt]; exists {
		return fmt.Errorf("nodetree: type %s already registered as %q", rt, r.byType[rt])
	}
	r.byName[name] = ctor
	r.byType[rt] = name
	return nil
}

// RegisterIn registers T in r under name (TypeName when empty).
func RegisterIn[T any, PT interface {
	*T
	Node
}](r *Registry, name string) error {
	return r.Add(name, func() Node { return NewNode[T, PT]() })
}

// Register adds T to DefaultRegistry under its fully-qualified name. It is
// meant for init functions and panics on duplicates.
func Register[T any, PT interface {
	*T
	Node
}]() {
	if err := RegisterIn[T, PT](DefaultRegistry, ""); err != nil {
		panic(err)
	}
}

// RegisterAs adds T to DefaultRegistry under an explicit name.
func RegisterAs[T any, PT interface {
	*T
	Node
}](name string) {
	if err := RegisterIn[T, PT](DefaultRegistry, name); err != nil {
		panic(err)
	}
}

// New constructs the node registered under name.
func (r *Registry) New(name string) (Node, error) {
	r.mu.RLock()
	ctor := r.byName[name]
	r.mu.RUnlock()
	if ctor == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return Init(ctor()), nil
}

// NewOf constructs a node of the statically declared type t. Concrete pointer
// types are allocated directly when they were never registered; interface
// types need a type tag and fail with ErrUnknownType.
func (r *Registry) NewOf(t reflect.Type) (Node, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: no declared type", ErrUnknownType)
	}
	r.mu.RLock()
	name, ok := r.byType[t]
	var ctor Constructor
	if ok {
		ctor = r.byName[name]
	}
	r.mu.RUnlock()
	if ctor != nil {
		return Init(ctor()), nil
	}
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct || !t.Implements(nodeInterface) {
		return nil, fmt.Errorf("%w: %s needs a type tag", ErrUnknownType, t)
	}
	return Init(reflect.New(t.Elem()).Interface().(Node)), nil
}

// Name returns the tag name for runtime type t.
func (r *Registry) Name(t reflect.Type) string {
	r.mu.RLock()
	name, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return name
	}
	return TypeName(t)
}

// Names returns registered names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy of the registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &Registry{
		byName: make(map[string]Constructor, len(r.byName)),
		byType: make(map[reflect.Type]string, len(r.byType)),
	}
	for name, ctor := range r.byName {
		clone.byName[name] = ctor
	}
	for t, name := range r.byType {
		clone.byType[t] = name
	}
	return clone
}
