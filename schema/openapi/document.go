package openapi

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	nodetree "github.com/goliatone/go-nodetree"
)

type openAPIDocumentBuilder struct {
	config generatorConfig
	graph  *typeGraph
}

func newOpenAPIDocumentBuilder(config generatorConfig, graph *typeGraph) *openAPIDocumentBuilder {
	return &openAPIDocumentBuilder{
		config: config,
		graph:  graph,
	}
}

func (b *openAPIDocumentBuilder) build() (map[string]any, error) {
	if b.graph == nil || b.graph.root == nil {
		return nil, fmt.Errorf("openapi: root node type cannot be nil")
	}
	if b.config.rootComponent != "" {
		b.graph.rename(b.graph.root, b.config.rootComponent)
	}

	schemas := map[string]any{
		referenceComponent: referenceSchema(),
	}
	for _, node := range b.graph.order {
		schemas[node.name] = b.componentFor(node)
	}

	document := map[string]any{
		"openapi": b.config.openAPIVersion,
		"info":    b.buildInfo(),
		"paths":   b.buildPaths(),
		"components": map[string]any{
			"schemas": schemas,
		},
	}

	if err := validateDocument(document); err != nil {
		return nil, err
	}

	return document, nil
}

// componentFor renders the document shape Import accepts for node.
func (b *openAPIDocumentBuilder) componentFor(node *typeNode) map[string]any {
	tag := map[string]any{
		"type": "string",
		"enum": []any{node.tag},
	}
	properties := map[string]any{
		nodetree.TypeTagKey: tag,
	}
	for _, field := range node.schema.Fields() {
		properties[field.Name] = b.fieldSchema(field)
	}
	component := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
		"x-nodetree-type":      node.tag,
	}
	if node.tagged {
		component["required"] = []string{nodetree.TypeTagKey}
	}
	return component
}

func (b *openAPIDocumentBuilder) fieldSchema(field nodetree.Field) map[string]any {
	var result map[string]any
	switch field.Kind {
	case nodetree.KindNode:
		result = b.slotSchema(field)
	case nodetree.KindNodeList:
		result = map[string]any{
			"type":  "array",
			"items": b.slotSchema(field),
		}
	case nodetree.KindNodeMap:
		result = map[string]any{
			"type":                 "object",
			"additionalProperties": b.slotSchema(field),
		}
	default:
		result = valueSchema(field)
	}
	if field.Check != "" {
		result["x-nodetree-check"] = field.Check
	}
	return result
}

// slotSchema accepts a node document of a fitting type or a reference.
func (b *openAPIDocumentBuilder) slotSchema(field nodetree.Field) map[string]any {
	var target map[string]any
	if field.Type == nil || field.Polymorphic() {
		variants := b.graph.implementations(field.Type)
		refs := make([]any, 0, len(variants))
		for _, node := range variants {
			refs = append(refs, componentRef(node.name))
		}
		target = map[string]any{"oneOf": refs}
	} else if node, ok := b.graph.nodes[field.Type]; ok {
		target = componentRef(node.name)
	} else {
		target = map[string]any{"type": "object"}
	}
	return map[string]any{
		"anyOf": []any{target, componentRef(referenceComponent)},
	}
}

func valueSchema(field nodetree.Field) map[string]any {
	scalar := scalarSchema(field.Default)
	var result map[string]any
	if len(scalar) == 0 {
		result = map[string]any{}
	} else {
		result = map[string]any{
			"anyOf": []any{scalar, componentRef(referenceComponent)},
		}
	}
	if field.HasDefault && field.Default != nil {
		result["default"] = field.Default
	}
	return result
}

func scalarSchema(value any) map[string]any {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array"}
	case reflect.Map:
		return map[string]any{"type": "object"}
	}
	return nil
}

func (b *openAPIDocumentBuilder) buildInfo() map[string]any {
	info := map[string]any{
		"title":   b.config.info.Title,
		"version": b.config.info.Version,
	}
	if b.config.info.Description != "" {
		info["description"] = b.config.info.Description
	}
	return info
}

func (b *openAPIDocumentBuilder) buildPaths() map[string]any {
	method := strings.ToLower(b.config.operation.Method)
	if method == "" {
		method = "post"
	}

	content := map[string]any{
		b.config.contentType: map[string]any{
			"schema": componentRef(b.graph.root.name),
		},
	}

	responses := make(map[string]any, len(b.config.responses))
	statuses := make([]string, 0, len(b.config.responses))
	for status := range b.config.responses {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		resp := b.config.responses[status]
		responses[status] = map[string]any{
			"description": resp.Description,
		}
	}

	operation := map[string]any{
		"operationId": b.operationID(),
		"requestBody": map[string]any{
			"required": true,
			"content":  content,
		},
		"responses": responses,
	}
	if summary := strings.TrimSpace(b.config.operation.Summary); summary != "" {
		operation["summary"] = summary
	}

	return map[string]any{
		b.config.operation.Path: map[string]any{
			method: operation,
		},
	}
}

func (b *openAPIDocumentBuilder) operationID() string {
	if b.config.operation.OperationID != "" {
		return b.config.operation.OperationID
	}
	method := strings.ToLower(b.config.operation.Method)
	if method == "" {
		method = "post"
	}
	return fmt.Sprintf("%s:%s", method, b.config.operation.Path)
}

func validateDocument(document map[string]any) error {
	if document == nil {
		return fmt.Errorf("openapi: document cannot be nil")
	}
	openapi, _ := document["openapi"].(string)
	if openapi == "" {
		return fmt.Errorf("openapi: document missing version string")
	}
	info, _ := document["info"].(map[string]any)
	if info == nil {
		return fmt.Errorf("openapi: document missing info section")
	}
	if title, _ := info["title"].(string); title == "" {
		return fmt.Errorf("openapi: info.title must be set")
	}
	if version, _ := info["version"].(string); version == "" {
		return fmt.Errorf("openapi: info.version must be set")
	}
	paths, _ := document["paths"].(map[string]any)
	if len(paths) == 0 {
		return fmt.Errorf("openapi: document must define at least one path")
	}
	for pathKey, pathValue := range paths {
		pathItem, _ := pathValue.(map[string]any)
		if pathItem == nil {
			return fmt.Errorf("openapi: path %q invalid payload", pathKey)
		}
		if len(pathItem) == 0 {
			return fmt.Errorf("openapi: path %q missing operations", pathKey)
		}
		for method, operationValue := range pathItem {
			operation, _ := operationValue.(map[string]any)
			if operation == nil {
				return fmt.Errorf("openapi: operation %s %s invalid payload", method, pathKey)
			}
			if _, ok := operation["operationId"].(string); !ok {
				return fmt.Errorf("openapi: operation %s %s missing operationId", method, pathKey)
			}
			requestBody, _ := operation["requestBody"].(map[string]any)
			if requestBody == nil {
				return fmt.Errorf("openapi: operation %s %s missing requestBody", method, pathKey)
			}
			content, _ := requestBody["content"].(map[string]any)
			if len(content) == 0 {
				return fmt.Errorf("openapi: operation %s %s requestBody missing content", method, pathKey)
			}
			if _, ok := operation["responses"].(map[string]any); !ok {
				return fmt.Errorf("openapi: operation %s %s missing responses", method, pathKey)
			}
		}
	}
	return nil
}
