package nodetree

import (
	"time"

	"github.com/goliatone/go-nodetree/pkg/activity"
)

// Tree wraps a root node with the registry, evaluator and logging
// configuration used by the higher level operations.
type Tree[T Node] struct {
	Root T

	cfg treeConfig
}

// SchemaFormat identifies the representation a schema document encodes.
type SchemaFormat string

const (
	// SchemaFormatDescriptors represents the flattened field descriptors.
	SchemaFormatDescriptors SchemaFormat = "descriptors"
	// SchemaFormatOpenAPI represents OpenAPI-compatible JSON Schema documents.
	SchemaFormatOpenAPI SchemaFormat = "openapi"
)

// SchemaDocument encapsulates a generated schema output alongside its format
// identifier. Implementations must ensure Document is JSON-serialisable.
type SchemaDocument struct {
	Format   SchemaFormat
	Document any
}

// SchemaGenerator describes the node types reachable from a root. All
// implementations MUST be safe for concurrent use and return an empty
// document for a nil root.
type SchemaGenerator interface {
	Generate(root Node) (SchemaDocument, error)
}

// Response stores a typed result produced by an evaluator.
type Response[T any] struct {
	Value T
}

// RuleContext carries inputs needed when evaluating an expression.
type RuleContext struct {
	// Snapshot is the resolved document of the tree, see ExportResolved.
	Snapshot any
	Now      *time.Time
	Args     map[string]any
	Metadata map[string]any
	// Node is the path of the node the expression concerns.
	Node string
	// Field names the attribute whose check is running.
	Field string
	// Base is the node `ref(...)` calls resolve against. Absolute references
	// reach the root from any base.
	Base Node
}

func (ctx RuleContext) withDefaultNow() RuleContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx RuleContext) withDefaultMaps() RuleContext {
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) withDefaults() RuleContext {
	return ctx.withDefaultNow().withDefaultMaps()
}

func (ctx RuleContext) resolve(ref string) (any, error) {
	if ctx.Base == nil {
		return nil, &ReferenceError{Reference: ref, Err: ErrUnbound}
	}
	return Resolve(ctx.Base, ref)
}

func (ctx RuleContext) target() string {
	if ctx.Node != "" {
		return ctx.Node
	}
	return "<root>"
}

// Evaluator executes expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct{}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// Option configures a Tree.
type Option func(*treeConfig)

type treeConfig struct {
	registry        *Registry
	evaluator       Evaluator
	programCache    ProgramCache
	functions       *FunctionRegistry
	logger          Logger
	schemaGenerator SchemaGenerator
	activityHooks   activity.Hooks
	activity        activity.TreeEventInput
	assemble        []AssembleOption
}

func applyOptions(opts []Option) treeConfig {
	cfg := treeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func (t *Tree[T]) registry() *Registry {
	if t.cfg.registry != nil {
		return t.cfg.registry
	}
	return DefaultRegistry
}

func (t *Tree[T]) evaluator() Evaluator {
	return t.cfg.evaluator
}

func (t *Tree[T]) withEvaluator(e Evaluator) {
	t.cfg.evaluator = e
}

func (t *Tree[T]) programCache() ProgramCache {
	return t.cfg.programCache
}

func (t *Tree[T]) functionRegistry() *FunctionRegistry {
	return t.cfg.functions
}

func (t *Tree[T]) logger() Logger {
	if t.cfg.logger != nil {
		return t.cfg.logger
	}
	return noopLogger{}
}

// WithSchemaGenerator configures a custom schema generator implementation.
func WithSchemaGenerator(generator SchemaGenerator) Option {
	return func(cfg *treeConfig) {
		cfg.schemaGenerator = generator
	}
}

// WithRegistry names and constructs node types through registry instead of
// DefaultRegistry.
func WithRegistry(registry *Registry) Option {
	return func(cfg *treeConfig) {
		cfg.registry = registry
	}
}

// WithAssembleOptions sets the defaults used by Tree.Assemble.
func WithAssembleOptions(opts ...AssembleOption) Option {
	return func(cfg *treeConfig) {
		cfg.assemble = append(cfg.assemble, opts...)
	}
}

func (t *Tree[T]) schemaGenerator() SchemaGenerator {
	if t == nil {
		return DefaultSchemaGenerator()
	}
	if t.cfg.schemaGenerator != nil {
		return t.cfg.schemaGenerator
	}
	return DefaultSchemaGenerator()
}
