package nodetree

import (
	"fmt"
	"reflect"

	"github.com/goliatone/go-nodetree/internal/hydrate"
)

type importConfig struct {
	registry  *Registry
	target    reflect.Type
	source    string
	preHooks  []hydrate.PreHook
	postHooks []hydrate.PostHook[Node]
}

// ImportOption configures Import.
type ImportOption func(*importConfig)

// WithImportRegistry resolves type tags through registry instead of
// DefaultRegistry.
func WithImportRegistry(registry *Registry) ImportOption {
	return func(cfg *importConfig) {
		if registry != nil {
			cfg.registry = registry
		}
	}
}

// WithTarget sets the type used when the top-level document carries no tag.
func WithTarget(t reflect.Type) ImportOption {
	return func(cfg *importConfig) {
		cfg.target = t
	}
}

// WithSource names the document origin in hook contexts.
func WithSource(source string) ImportOption {
	return func(cfg *importConfig) {
		cfg.source = source
	}
}

// WithNormalizer runs hook on a copy of the document before any node is
// built.
func WithNormalizer(hook func(Document) (Document, error)) ImportOption {
	return func(cfg *importConfig) {
		if hook == nil {
			return
		}
		cfg.preHooks = append(cfg.preHooks, func(_ hydrate.Context, doc map[string]any) (map[string]any, error) {
			return hook(doc)
		})
	}
}

// WithNodeCheck runs check on the imported tree root before Import returns.
func WithNodeCheck(check func(Node) error) ImportOption {
	return func(cfg *importConfig) {
		if check == nil {
			return
		}
		cfg.postHooks = append(cfg.postHooks, func(_ hydrate.Context, n *Node) error {
			return check(*n)
		})
	}
}

// Import reconstructs a node tree from doc. The top-level type comes from the
// document's TypeTagKey or, failing that, WithTarget. Reference strings are
// stored verbatim and only resolved when read.
func Import(doc Document, opts ...ImportOption) (Node, error) {
	cfg := importConfig{registry: DefaultRegistry}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	decoderOpts := []hydrate.DecoderOption[Node]{
		hydrate.WithCustomDecoder[Node](func(_ hydrate.Context, payload map[string]any) (Node, error) {
			return importNode(payload, cfg.target, "", &cfg)
		}),
	}
	for _, hook := range cfg.preHooks {
		decoderOpts = append(decoderOpts, hydrate.WithPreHook[Node](hook))
	}
	for _, hook := range cfg.postHooks {
		decoderOpts = append(decoderOpts, hydrate.WithPostHook(hook))
	}

	ctx := hydrate.Context{Source: cfg.source}
	if cfg.target != nil {
		ctx.Type = TypeName(cfg.target)
	}
	if tag, ok := doc[TypeTagKey].(string); ok {
		ctx.Type = tag
	}
	if doc == nil {
		doc = Document{}
	}
	return hydrate.NewDecoder(decoderOpts...).Decode(ctx, doc)
}

// ImportAs reconstructs a tree whose root is T. A tagged document must name T
// (or a type registered for it).
func ImportAs[T any, PT interface {
	*T
	Node
}](doc Document, opts ...ImportOption) (PT, error) {
	opts = append(opts, WithTarget(reflect.TypeFor[PT]()))
	n, err := Import(doc, opts...)
	if err != nil {
		return nil, err
	}
	typed, ok := n.(PT)
	if !ok {
		return nil, &ValidationError{Err: fmt.Errorf("%w: document holds %T, want %s", ErrTypeMismatch, n, reflect.TypeFor[PT]())}
	}
	return typed, nil
}

func importNode(doc map[string]any, declared reflect.Type, path string, cfg *importConfig) (Node, error) {
	n, err := construct(doc, declared, cfg)
	if err != nil {
		return nil, &ValidationError{Node: path, Err: err}
	}
	nb := n.nodeBase()
	schema := n.Schema()
	for _, key := range sortedKeys(doc) {
		if key == TypeTagKey {
			continue
		}
		field, ok := schema.Field(key)
		if !ok {
			return nil, &ValidationError{Node: path, Field: key, Err: ErrUnknownAttribute}
		}
		value, err := importValue(doc[key], field, joinPath(path, key), cfg)
		if err != nil {
			return nil, err
		}
		if err := nb.Set(key, value); err != nil {
			return nil, &ValidationError{Node: path, Field: key, Err: unwrapValidation(err)}
		}
	}
	return n, nil
}

func construct(doc map[string]any, declared reflect.Type, cfg *importConfig) (Node, error) {
	raw, tagged := doc[TypeTagKey]
	if !tagged {
		return cfg.registry.NewOf(declared)
	}
	name, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string, got %T", ErrUnknownType, TypeTagKey, raw)
	}
	n, err := cfg.registry.New(name)
	if err != nil {
		return nil, err
	}
	if declared != nil && !reflect.TypeOf(n).AssignableTo(declared) {
		return nil, fmt.Errorf("%w: %q does not fit %s", ErrTypeMismatch, name, declared)
	}
	return n, nil
}

func importValue(value any, field Field, path string, cfg *importConfig) (any, error) {
	switch field.Kind {
	case KindNode:
		return importElement(value, field, path, cfg)
	case KindNodeList:
		list, ok := value.([]any)
		if !ok {
			if value == nil {
				return nil, nil
			}
			return nil, &ValidationError{Node: path, Err: fmt.Errorf("%w: want list, got %T", ErrTypeMismatch, value)}
		}
		out := make([]any, len(list))
		for i, elem := range list {
			v, err := importElement(elem, field, fmt.Sprintf("%s[%d]", path, i), cfg)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case KindNodeMap:
		entries, ok := value.(map[string]any)
		if !ok {
			if value == nil {
				return nil, nil
			}
			return nil, &ValidationError{Node: path, Err: fmt.Errorf("%w: want mapping, got %T", ErrTypeMismatch, value)}
		}
		out := make(map[string]any, len(entries))
		for _, key := range sortedKeys(entries) {
			v, err := importElement(entries[key], field, fmt.Sprintf("%s[%s]", path, key), cfg)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	default:
		return importPlain(value, path, cfg)
	}
}

func importElement(value any, field Field, path string, cfg *importConfig) (any, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case string:
		if IsReference(typed) {
			return typed, nil
		}
	case map[string]any:
		return importNode(typed, field.Type, path, cfg)
	}
	return nil, &ValidationError{Node: path, Err: fmt.Errorf("%w: want node document or reference, got %T", ErrTypeMismatch, value)}
}

// importPlain copies plain values. Tagged mappings become nodes.
func importPlain(value any, path string, cfg *importConfig) (any, error) {
	switch typed := value.(type) {
	case []any:
		out := make([]any, len(typed))
		for i, elem := range typed {
			v, err := importPlain(elem, fmt.Sprintf("%s[%d]", path, i), cfg)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		if _, tagged := typed[TypeTagKey]; tagged {
			return importNode(typed, nil, path, cfg)
		}
		out := make(map[string]any, len(typed))
		for key, elem := range typed {
			v, err := importPlain(elem, fmt.Sprintf("%s[%s]", path, key), cfg)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	}
	return value, nil
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func unwrapValidation(err error) error {
	if ve, ok := err.(*ValidationError); ok {
		return ve.Err
	}
	return err
}
