package openapi

import (
	"fmt"
	"regexp"
)

// referenceComponent is the component describing reference strings.
const referenceComponent = "Reference"

// referencePattern matches the three reference markers.
const referencePattern = `^:(/|\./|\.\./)`

type componentNames struct {
	used map[string]struct{}
}

func newComponentNames() *componentNames {
	return &componentNames{
		used: map[string]struct{}{referenceComponent: {}},
	}
}

func (r *componentNames) unique(name string) string {
	safe := sanitizeComponentName(name)
	if safe == "" {
		safe = "Node"
	}
	if _, exists := r.used[safe]; !exists {
		r.used[safe] = struct{}{}
		return safe
	}
	suffix := 1
	for {
		candidate := fmt.Sprintf("%s%d", safe, suffix)
		if _, exists := r.used[candidate]; !exists {
			r.used[candidate] = struct{}{}
			return candidate
		}
		suffix++
	}
}

func componentRef(name string) map[string]any {
	return map[string]any{"$ref": fmt.Sprintf("#/components/schemas/%s", name)}
}

func referenceSchema() map[string]any {
	return map[string]any{
		"type":        "string",
		"pattern":     referencePattern,
		"description": "Path to another value in the tree, resolved when read.",
	}
}

var componentNameRegexp = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func sanitizeComponentName(name string) string {
	name = componentNameRegexp.ReplaceAllString(name, "_")
	name = trimUnderscores(name)
	if name == "" {
		return ""
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

func trimUnderscores(input string) string {
	start := 0
	for start < len(input) && input[start] == '_' {
		start++
	}
	end := len(input)
	for end > start && input[end-1] == '_' {
		end--
	}
	return input[start:end]
}
