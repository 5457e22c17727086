package nodetree

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// DefaultSplitters separate attribute names inside a reference path.
const DefaultSplitters = ".["

// IsReference reports whether s is a reference string rather than a literal.
func IsReference(s string) bool {
	return strings.HasPrefix(s, ":/") || strings.HasPrefix(s, ":./") || strings.HasPrefix(s, ":../")
}

// IsAbsoluteReference reports whether s is evaluated from the tree root.
func IsAbsoluteReference(s string) bool {
	if !strings.HasPrefix(s, ":/") {
		return false
	}
	return len(s) == 2 || s[2] != '.'
}

// SplitNextAttribute splits s at the first occurrence of any splitter. The
// remainder keeps the splitter. Without a splitter the whole string is the
// attribute.
func SplitNextAttribute(s string, splitters string) (attr, rest string) {
	if splitters == "" {
		splitters = DefaultSplitters
	}
	idx := strings.IndexAny(s, splitters)
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx:]
}

// Resolve evaluates ref against node. Absolute references start from the root
// of node; relative ones from node itself.
func Resolve(node Node, ref string) (any, error) {
	return resolve(node, ref, nil)
}

// ResolveWithTrace resolves ref and records every hop taken.
func ResolveWithTrace(node Node, ref string) (any, Trace, error) {
	trace := Trace{Reference: ref}
	value, err := resolve(node, ref, &trace)
	return value, trace, err
}

func resolve(node Node, ref string, trace *Trace) (any, error) {
	if !IsReference(ref) {
		return nil, &ReferenceError{Reference: ref, Err: ErrNotReference}
	}
	if node == nil {
		return nil, &ReferenceError{Reference: ref, Err: ErrUnbound}
	}
	bind(node)

	var base any = node
	if IsAbsoluteReference(ref) {
		root := node.nodeBase().Root()
		base = root
		trace.add(":/", StepRoot, root)
	}

	value, err := evaluate(base, node, strings.TrimLeft(ref, ":/"), trace)
	if err != nil {
		var refErr *ReferenceError
		if errors.As(err, &refErr) && refErr.Reference == ref {
			return nil, err
		}
		return nil, &ReferenceError{Reference: ref, Err: err}
	}
	return value, nil
}

// evaluate consumes rest left to right. owner is the nearest node on the
// path; reference strings met inside plain containers resolve against it.
func evaluate(base any, owner Node, rest string, trace *Trace) (any, error) {
	for rest != "" {
		switch {
		case strings.HasPrefix(rest, "../"):
			n, ok := base.(Node)
			if !ok {
				return nil, fmt.Errorf("%w: parent of non-node %T", ErrUnknownAttribute, base)
			}
			parent := n.nodeBase().Parent()
			if parent == nil {
				return nil, fmt.Errorf("%w: node %q has no parent", ErrUnknownAttribute, Path(n))
			}
			base, owner = parent, parent
			rest = rest[3:]
			trace.add("../", StepParent, parent)
		case strings.HasPrefix(rest, "./"):
			rest = rest[2:]
			trace.add("./", StepSelf, base)
		case strings.HasPrefix(rest, "["):
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in %q", rest)
			}
			raw := rest[1:end]
			rest = rest[end+1:]
			value, err := lookupIndex(base, raw)
			if err != nil {
				return nil, err
			}
			value, owner, err = settle(value, owner)
			if err != nil {
				return nil, err
			}
			base = value
			trace.add("["+raw+"]", StepIndex, base)
		default:
			rest = strings.TrimPrefix(rest, ".")
			var attr string
			attr, rest = SplitNextAttribute(rest, DefaultSplitters)
			value, err := lookupAttribute(base, attr)
			if err != nil {
				return nil, err
			}
			value, owner, err = settle(value, owner)
			if err != nil {
				return nil, err
			}
			base = value
			trace.add(attr, StepAttribute, base)
		}
	}
	return base, nil
}

// settle resolves a reference string found inside a plain container and
// tracks the owning node for subsequent lookups.
func settle(value any, owner Node) (any, Node, error) {
	if ref, ok := value.(string); ok && IsReference(ref) {
		resolved, err := resolveContained(owner, ref)
		if err != nil {
			return nil, owner, err
		}
		value = resolved
	}
	if n, ok := value.(Node); ok {
		owner = n
	}
	return value, owner, nil
}

// resolveContained resolves ref on behalf of owner. Meeting the same ref
// again before it settles is a cycle.
func resolveContained(owner Node, ref string) (any, error) {
	b := bind(owner)
	if _, busy := b.settling[ref]; busy {
		return nil, &ReferenceError{Reference: ref, Err: ErrReferenceCycle}
	}
	if b.settling == nil {
		b.settling = make(map[string]struct{})
	}
	b.settling[ref] = struct{}{}
	defer delete(b.settling, ref)
	return Resolve(owner, ref)
}

func lookupAttribute(base any, name string) (any, error) {
	switch typed := base.(type) {
	case Node:
		return bind(typed).Get(name)
	case map[string]any:
		value, ok := typed[name]
		if !ok {
			return nil, fmt.Errorf("%w: key %q", ErrUnknownAttribute, name)
		}
		return value, nil
	case nil:
		return nil, fmt.Errorf("%w: %q on nil", ErrUnknownAttribute, name)
	}
	rv := reflect.ValueOf(base)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		value := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if value.IsValid() {
			return value.Interface(), nil
		}
	}
	return nil, fmt.Errorf("%w: %q on %T", ErrUnknownAttribute, name, base)
}

func lookupIndex(base any, raw string) (any, error) {
	if isDigits(raw) {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		return lookupPosition(base, idx)
	}
	key := strings.Trim(raw, `'"`)
	switch typed := base.(type) {
	case map[string]any:
		value, ok := typed[key]
		if !ok {
			return nil, fmt.Errorf("%w: key %q", ErrUnknownAttribute, key)
		}
		return value, nil
	case Node:
		return nil, fmt.Errorf("%w: key %q on node %q", ErrUnknownAttribute, key, Path(typed))
	}
	rv := reflect.ValueOf(base)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		value := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if value.IsValid() {
			return value.Interface(), nil
		}
	}
	return nil, fmt.Errorf("%w: key %q on %T", ErrUnknownAttribute, key, base)
}

func lookupPosition(base any, idx int) (any, error) {
	if list, ok := base.([]any); ok {
		if idx >= len(list) {
			return nil, fmt.Errorf("%w: index %d out of range (len %d)", ErrUnknownAttribute, idx, len(list))
		}
		return list[idx], nil
	}
	if base == nil {
		return nil, fmt.Errorf("%w: index %d on nil", ErrUnknownAttribute, idx)
	}
	rv := reflect.ValueOf(base)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if idx >= rv.Len() {
			return nil, fmt.Errorf("%w: index %d out of range (len %d)", ErrUnknownAttribute, idx, rv.Len())
		}
		return rv.Index(idx).Interface(), nil
	case reflect.Map:
		// integer-looking keys of string-keyed maps
		if rv.Type().Key().Kind() == reflect.String {
			value := rv.MapIndex(reflect.ValueOf(strconv.Itoa(idx)).Convert(rv.Type().Key()))
			if value.IsValid() {
				return value.Interface(), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: index %d on %T", ErrUnknownAttribute, idx, base)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
