package nodetree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-nodetree/pkg/activity"
)

// Wrap constructs a Tree around root.
func Wrap[T Node](root T, opts ...Option) *Tree[T] {
	return &Tree[T]{
		Root: root,
		cfg:  applyOptions(opts),
	}
}

// Load constructs a Tree and runs Validate.
func Load[T Node](root T, opts ...Option) (*Tree[T], error) {
	tree := Wrap(root, opts...)
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	return tree, nil
}

// WithEvaluator configures the evaluator used by Evaluate and Validate.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *treeConfig) {
		cfg.evaluator = e
	}
}

// Export returns the document of the root, tagged with its type name.
func (t *Tree[T]) Export(opts ...ExportOption) (Document, error) {
	opts = append([]ExportOption{WithExportRegistry(t.registry()), WithTypeTag()}, opts...)
	return Export(t.Root, opts...)
}

// Resolve evaluates ref against the root.
func (t *Tree[T]) Resolve(ref string) (any, error) {
	return Resolve(t.Root, ref)
}

// Trace resolves ref against the root and returns the hops taken.
func (t *Tree[T]) Trace(ref string) (Trace, error) {
	_, trace, err := ResolveWithTrace(t.Root, ref)
	return trace, err
}

// Schema describes the node types of the tree.
func (t *Tree[T]) Schema() (SchemaDocument, error) {
	return t.schemaGenerator().Generate(t.Root)
}

// Assemble runs Assemble with the configured defaults followed by opts and
// reports a tree.assembled activity event.
func (t *Tree[T]) Assemble(ctx context.Context, opts ...AssembleOption) (*Accumulator, error) {
	opts = append(append([]AssembleOption(nil), t.cfg.assemble...), opts...)
	start := time.Now()
	acc, err := Assemble(t.Root, opts...)
	t.logger().Log(LogEvent{
		Op:       "assemble",
		Target:   TypeName(reflectType(t.Root)),
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return nil, err
	}
	input := t.activityInput()
	input.Metadata = mergeMetadata(input.Metadata, map[string]any{
		"keys": len(acc.data),
	})
	if err := t.emit(ctx, activity.BuildTreeAssembledEvent(input)); err != nil {
		return acc, err
	}
	return acc, nil
}

// Validate evaluates the Check expression of every explicitly set field and
// calls Validate() on nodes providing it. Each check sees value (the resolved
// attribute), node (the resolved document of its node) and root. All failures
// are returned joined.
func (t *Tree[T]) Validate() error {
	root := Node(t.Root)
	if root == nil {
		return nil
	}
	var evaluator Evaluator
	var rootDoc Document
	var errs []error
	for n := range All(root) {
		nb := n.nodeBase()
		var nodeDoc Document
		for _, field := range n.Schema().fields {
			if field.Check == "" || !nb.IsSet(field.Name) {
				continue
			}
			if evaluator == nil {
				var err error
				if evaluator, err = t.resolveEvaluator(); err != nil {
					return err
				}
				if rootDoc, err = ExportResolved(root, WithExportRegistry(t.registry())); err != nil {
					return err
				}
			}
			if nodeDoc == nil {
				doc, err := ExportResolved(n, WithExportRegistry(t.registry()))
				if err != nil {
					errs = append(errs, validationError(n, "", err))
					continue
				}
				nodeDoc = doc
			}
			if err := t.check(evaluator, n, field, nodeDoc, rootDoc); err != nil {
				errs = append(errs, err)
			}
		}
		if v, ok := n.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				errs = append(errs, validationError(n, "", err))
			}
		}
	}
	return errors.Join(errs...)
}

func (t *Tree[T]) check(evaluator Evaluator, n Node, field Field, nodeDoc, rootDoc Document) error {
	value, err := n.nodeBase().Get(field.Name)
	if err != nil {
		return err
	}
	ctx := RuleContext{
		Snapshot: map[string]any{
			"value": value,
			"node":  nodeDoc,
			"root":  rootDoc,
		},
		Node:  Path(n),
		Field: field.Name,
		Base:  n,
	}
	result, err := t.run(evaluator, ctx.withDefaults(), field.Check, "validate")
	if err != nil {
		return validationError(n, field.Name, err)
	}
	if ok, _ := result.(bool); !ok {
		return validationError(n, field.Name, fmt.Errorf("%w: %s (value=%v)", ErrCheckFailed, field.Check, value))
	}
	return nil
}
