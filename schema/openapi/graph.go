package openapi

import (
	"fmt"
	"reflect"
	"sort"

	nodetree "github.com/goliatone/go-nodetree"
)

// typeNode is one node type reachable from the root.
type typeNode struct {
	rt     reflect.Type
	tag    string
	name   string
	schema *nodetree.Schema
	// tagged is set when the type appears in a slot that cannot infer it, so
	// documents of this type must carry the type tag.
	tagged bool
}

type typeGraph struct {
	registry *nodetree.Registry
	names    *componentNames
	root     *typeNode
	nodes    map[reflect.Type]*typeNode
	order    []*typeNode
	ifaces   map[reflect.Type]bool
}

// buildTypeGraph collects the runtime types of the live tree, then every
// concrete slot type and every registered implementation of a polymorphic
// slot reachable from their schemas.
func buildTypeGraph(root nodetree.Node, registry *nodetree.Registry) (*typeGraph, error) {
	if registry == nil {
		registry = nodetree.DefaultRegistry
	}
	g := &typeGraph{
		registry: registry,
		names:    newComponentNames(),
		nodes:    map[reflect.Type]*typeNode{},
		ifaces:   map[reflect.Type]bool{},
	}
	for n := range nodetree.All(root) {
		g.add(reflect.TypeOf(n), n.Schema())
	}
	g.root = g.nodes[reflect.TypeOf(root)]

	for i := 0; i < len(g.order); i++ {
		for _, field := range g.order[i].schema.Fields() {
			if field.Kind == nodetree.KindValue {
				continue
			}
			if err := g.expandSlot(field); err != nil {
				return nil, fmt.Errorf("openapi: %s.%s: %w", g.order[i].name, field.Name, err)
			}
		}
	}
	for iface := range g.ifaces {
		for _, node := range g.implementations(iface) {
			node.tagged = true
		}
	}
	return g, nil
}

func (g *typeGraph) add(rt reflect.Type, schema *nodetree.Schema) *typeNode {
	if node, ok := g.nodes[rt]; ok {
		return node
	}
	node := &typeNode{
		rt:     rt,
		tag:    g.registry.Name(rt),
		name:   g.names.unique(shortTypeName(rt)),
		schema: schema,
	}
	g.nodes[rt] = node
	g.order = append(g.order, node)
	return node
}

func (g *typeGraph) expandSlot(field nodetree.Field) error {
	if field.Type == nil || field.Polymorphic() {
		iface := field.Type
		if iface == nil {
			iface = reflect.TypeFor[nodetree.Node]()
		}
		return g.registerVariants(iface)
	}
	if _, ok := g.nodes[field.Type]; ok {
		return nil
	}
	sample, err := g.registry.NewOf(field.Type)
	if err != nil {
		return err
	}
	g.add(field.Type, sample.Schema())
	return nil
}

// registerVariants adds every registered type implementing iface. Registered
// types are instantiated to read their schema.
func (g *typeGraph) registerVariants(iface reflect.Type) error {
	if g.ifaces[iface] {
		return nil
	}
	g.ifaces[iface] = true
	for _, name := range g.registry.Names() {
		sample, err := g.registry.New(name)
		if err != nil {
			return err
		}
		if rt := reflect.TypeOf(sample); rt.Implements(iface) {
			g.add(rt, sample.Schema())
		}
	}
	return nil
}

// implementations returns the collected types implementing iface, sorted by
// component name.
func (g *typeGraph) implementations(iface reflect.Type) []*typeNode {
	if iface == nil {
		iface = reflect.TypeFor[nodetree.Node]()
	}
	var out []*typeNode
	for _, node := range g.order {
		if node.rt.Implements(iface) {
			out = append(out, node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// rename publishes node under name.
func (g *typeGraph) rename(node *typeNode, name string) {
	delete(g.names.used, node.name)
	node.name = g.names.unique(name)
}

func shortTypeName(rt reflect.Type) string {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Name() != "" {
		return rt.Name()
	}
	return rt.String()
}
