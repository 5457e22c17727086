package nodetree

import (
	"iter"
	"reflect"
	"sort"
)

// All yields root and every node it owns: pre-order, depth-first, fields in
// declaration order, lists in order and map entries by sorted key. References
// are not followed. The whole tree rejects Set and Unset until iteration ends.
func All(root Node) iter.Seq[Node] {
	return func(yield func(Node) bool) {
		if root == nil {
			return
		}
		unlock := lockTree(root)
		defer unlock()
		walkNodes(root, yield)
	}
}

// lockTree marks the tree holding n as busy and returns the release func.
func lockTree(n Node) func() {
	top := bind(n).Root().nodeBase()
	top.busy++
	return func() { top.busy-- }
}

func walkNodes(n Node, yield func(Node) bool) bool {
	if !yield(n) {
		return false
	}
	nb := bind(n)
	for _, field := range n.Schema().fields {
		for _, child := range ownedNodes(nb.values[field.Name]) {
			if !walkNodes(child, yield) {
				return false
			}
		}
	}
	return true
}

// ownedNodes lists the nodes held directly in value, in traversal order.
func ownedNodes(value any) []Node {
	var out []Node
	collectNodes(value, &out)
	return out
}

func collectNodes(value any, out *[]Node) {
	switch typed := value.(type) {
	case nil:
	case Node:
		*out = append(*out, typed)
	case []any:
		for _, elem := range typed {
			collectNodes(elem, out)
		}
	case map[string]any:
		for _, key := range sortedKeys(typed) {
			collectNodes(typed[key], out)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedMapKeys(rv reflect.Value) []string {
	keys := make([]string, 0, rv.Len())
	for _, key := range rv.MapKeys() {
		keys = append(keys, key.String())
	}
	sort.Strings(keys)
	return keys
}
