package nodetree

import (
	"errors"
	"fmt"
	"time"
)

var ErrNoEvaluator = errors.New("nodetree: evaluator not configured")

// Evaluate runs expr against the resolved snapshot of the whole tree. Top-level
// attributes of the root are bound as variables.
func (t *Tree[T]) Evaluate(expr string) (Response[any], error) {
	return t.EvaluateWith(RuleContext{}, expr)
}

// EvaluateWith runs expr using ctx, falling back to the resolved snapshot of
// the tree when ctx.Snapshot is nil.
func (t *Tree[T]) EvaluateWith(ctx RuleContext, expr string) (Response[any], error) {
	if expr == "" {
		return Response[any]{}, fmt.Errorf("expression must not be empty")
	}
	evaluator, err := t.resolveEvaluator()
	if err != nil {
		return Response[any]{}, err
	}
	if ctx.Snapshot == nil {
		snapshot, err := ExportResolved(t.Root, WithExportRegistry(t.registry()))
		if err != nil {
			return Response[any]{}, err
		}
		ctx.Snapshot = snapshot
	}
	if ctx.Base == nil {
		ctx.Base = t.Root
	}
	value, err := t.run(evaluator, ctx.withDefaults(), expr, "evaluate")
	if err != nil {
		return Response[any]{}, err
	}
	return Response[any]{Value: value}, nil
}

func (t *Tree[T]) run(evaluator Evaluator, ctx RuleContext, expr, op string) (any, error) {
	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	value, evalErr := evaluator.Evaluate(ctx, expr)
	duration := time.Since(start)
	evalErr = wrapEvaluationError(engine, expr, ctx, evalErr)
	t.logger().Log(LogEvent{
		Op:       op,
		Target:   ctx.target(),
		Engine:   engine,
		Expr:     expr,
		Duration: duration,
		Err:      evalErr,
	})
	return value, evalErr
}

func (t *Tree[T]) resolveEvaluator() (Evaluator, error) {
	evaluator := t.evaluator()
	if evaluator != nil {
		return evaluator, nil
	}
	var exprOpts []ExprEvaluatorOption
	if cache := t.programCache(); cache != nil {
		exprOpts = append(exprOpts, ExprWithProgramCache(cache))
	}
	if registry := t.functionRegistry(); registry != nil {
		exprOpts = append(exprOpts, ExprWithFunctionRegistry(registry))
	}
	defaultEvaluator := NewExprEvaluator(exprOpts...)
	if defaultEvaluator == nil {
		return nil, ErrNoEvaluator
	}
	t.withEvaluator(defaultEvaluator)
	return defaultEvaluator, nil
}

func evaluatorEngineName(e Evaluator) string {
	switch e.(type) {
	case nil:
		return "unknown"
	case *exprEvaluator:
		return "expr"
	case *celEvaluator:
		return "cel"
	default:
		if name, ok := e.(interface{ engineName() string }); ok {
			return name.engineName()
		}
		return "custom"
	}
}
