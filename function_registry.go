package nodetree

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Function represents a callable exposed to evaluator expressions.
type Function func(args ...any) (any, error)

// FunctionRegistry stores custom functions keyed by case-insensitive name.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		functions: make(map[string]Function),
	}
}

// NewTreeFunctions returns a registry preloaded with the helpers useful in
// field checks: is_reference(s) and within(a, b[, tol]).
func NewTreeFunctions() *FunctionRegistry {
	r := NewFunctionRegistry()
	_ = r.Register("is_reference", func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("nodetree: is_reference takes 1 argument, got %d", len(args))
		}
		s, ok := args[0].(string)
		return ok && IsReference(s), nil
	})
	_ = r.Register("within", func(args ...any) (any, error) {
		if len(args) < 2 || len(args) > 3 {
			return nil, fmt.Errorf("nodetree: within takes 2 or 3 arguments, got %d", len(args))
		}
		tol := DefaultTolerance
		if len(args) == 3 {
			t, ok := toFloat(args[2])
			if !ok {
				return nil, fmt.Errorf("nodetree: within tolerance must be numeric, got %T", args[2])
			}
			tol = t
		}
		a, aok := toFloat(args[0])
		b, bok := toFloat(args[1])
		if !aok || !bok {
			return false, nil
		}
		return math.Abs(a-b) <= tol+tol*1e-9, nil
	})
	return r
}

// Register stores fn under name guarding against duplicates.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	if fn == nil {
		return fmt.Errorf("nodetree: function %q is nil", name)
	}
	if name == "" {
		return fmt.Errorf("nodetree: function name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = make(map[string]Function)
	}
	key := strings.ToLower(name)
	if _, exists := r.functions[key]; exists {
		return fmt.Errorf("nodetree: function %q already registered", name)
	}
	r.functions[key] = fn
	return nil
}

// Has reports whether name is registered.
func (r *FunctionRegistry) Has(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.functions[strings.ToLower(name)]
	return ok
}

// Clone returns a shallow copy of the registry.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &FunctionRegistry{
		functions: make(map[string]Function, len(r.functions)),
	}
	for name, fn := range r.functions {
		clone.functions[name] = fn
	}
	return clone
}

// Call executes the function registered for name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("nodetree: function registry is nil")
	}
	r.mu.RLock()
	fn := r.functions[strings.ToLower(name)]
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("nodetree: function %q not registered", name)
	}
	return fn(args...)
}

// Names returns registered function names sorted alphabetically.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithFunctionRegistry configures a wrapper to use registry.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *treeConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithCustomFunction registers fn under name for the wrapper.
func WithCustomFunction(name string, fn Function) Option {
	return func(cfg *treeConfig) {
		if cfg.functions == nil {
			cfg.functions = NewTreeFunctions()
		}
		_ = cfg.functions.Register(name, fn)
	}
}
