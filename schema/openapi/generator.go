// Package openapi renders the node types reachable from a tree root as an
// OpenAPI 3 document whose request body accepts the exported tree document.
package openapi

import (
	nodetree "github.com/goliatone/go-nodetree"
)

type generator struct {
	config generatorConfig
}

// NewGenerator constructs an OpenAPI-compatible schema generator.
func NewGenerator(opts ...GeneratorOption) nodetree.SchemaGenerator {
	cfg := defaultGeneratorConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return generator{config: cfg}
}

// Option returns a nodetree.Option that wires the OpenAPI schema generator
// into a Tree.
func Option(opts ...GeneratorOption) nodetree.Option {
	return nodetree.WithSchemaGenerator(NewGenerator(opts...))
}

func (g generator) Generate(root nodetree.Node) (nodetree.SchemaDocument, error) {
	if root == nil {
		return nodetree.SchemaDocument{
			Format:   nodetree.SchemaFormatOpenAPI,
			Document: map[string]any{},
		}, nil
	}
	graph, err := buildTypeGraph(root, g.config.registry)
	if err != nil {
		return nodetree.SchemaDocument{}, err
	}
	document, err := newOpenAPIDocumentBuilder(g.config, graph).build()
	if err != nil {
		return nodetree.SchemaDocument{}, err
	}
	return nodetree.SchemaDocument{
		Format:   nodetree.SchemaFormatOpenAPI,
		Document: document,
	}, nil
}
