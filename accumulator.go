package nodetree

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/goliatone/go-nodetree/layering"
)

// DefaultTolerance is the absolute difference under which two numeric
// contributions to one key count as the same value.
const DefaultTolerance = 5e-4

// Accumulator is the nested document node contributions are written into.
// Writes to an already populated key follow the conflict policy: equal values
// are a no-op, numbers within tolerance keep the first value, anything else
// is a *ConflictError.
type Accumulator struct {
	data          map[string]any
	tolerance     float64
	pathTolerance map[string]float64
}

// NewAccumulator returns an accumulator seeded with a deep copy of template.
func NewAccumulator(template map[string]any, opts ...AssembleOption) *Accumulator {
	cfg := newAssembleConfig(opts)
	return newAccumulator(template, cfg)
}

func newAccumulator(template map[string]any, cfg assembleConfig) *Accumulator {
	data := layering.Clone(template)
	if data == nil {
		data = map[string]any{}
	}
	return &Accumulator{
		data:          data,
		tolerance:     cfg.tolerance,
		pathTolerance: cfg.pathTolerance,
	}
}

// Get returns the value stored under path.
func (a *Accumulator) Get(path ...string) (any, bool) {
	var current any = a.data
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set writes value under path, creating intermediate mappings. Mapping values
// merge key by key under the conflict policy.
func (a *Accumulator) Set(value any, path ...string) error {
	if len(path) == 0 {
		incoming, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("nodetree: accumulator root needs a mapping, got %T", value)
		}
		merged, err := a.reconcile(a.data, incoming, nil)
		if err != nil {
			return err
		}
		a.data = merged.(map[string]any)
		return nil
	}

	parent := a.data
	for i, key := range path[:len(path)-1] {
		next, ok := parent[key]
		if !ok {
			child := map[string]any{}
			parent[key] = child
			parent = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return &ConflictError{Path: joinKeys(path[:i+1]), Existing: next, Incoming: map[string]any{}}
		}
		parent = child
	}

	last := path[len(path)-1]
	existing, ok := parent[last]
	if !ok {
		parent[last] = layering.Clone(value)
		return nil
	}
	merged, err := a.reconcile(existing, value, path)
	if err != nil {
		return err
	}
	parent[last] = merged
	return nil
}

// Document returns a deep copy of the accumulated data.
func (a *Accumulator) Document() map[string]any {
	return layering.Clone(a.data)
}

// Tolerance returns the numeric tolerance applied to path.
func (a *Accumulator) Tolerance(path ...string) float64 {
	key := joinKeys(path)
	best, bestLen := a.tolerance, -1
	for prefix, tol := range a.pathTolerance {
		if key != prefix && !strings.HasPrefix(key, prefix+".") {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = tol, len(prefix)
		}
	}
	return best
}

// reconcile returns the value to keep at path. existing is never mutated in
// place so a failed merge leaves the accumulator untouched.
func (a *Accumulator) reconcile(existing, incoming any, path []string) (any, error) {
	existingMap, eok := existing.(map[string]any)
	incomingMap, iok := incoming.(map[string]any)
	if eok && iok {
		out := make(map[string]any, len(existingMap)+len(incomingMap))
		for key, value := range existingMap {
			out[key] = value
		}
		for _, key := range sortedKeys(incomingMap) {
			value := incomingMap[key]
			current, ok := out[key]
			if !ok {
				out[key] = layering.Clone(value)
				continue
			}
			merged, err := a.reconcile(current, value, append(path[:len(path):len(path)], key))
			if err != nil {
				return nil, err
			}
			out[key] = merged
		}
		return out, nil
	}

	if reflect.DeepEqual(existing, incoming) {
		return existing, nil
	}
	if x, ok := toFloat(existing); ok {
		if y, ok := toFloat(incoming); ok {
			tol := a.Tolerance(path...)
			if math.Abs(x-y) <= tol+tol*1e-9 {
				return existing, nil
			}
		}
	}
	return nil, &ConflictError{Path: joinKeys(path), Existing: existing, Incoming: incoming}
}

func joinKeys(path []string) string {
	return strings.Join(path, ".")
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int(v), true
		}
		return 0, false
	case float32:
		if float64(v) == math.Trunc(float64(v)) {
			return int(v), true
		}
		return 0, false
	}
	f, ok := toFloat(value)
	if !ok {
		return 0, false
	}
	return int(f), true
}
