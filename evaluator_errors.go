package nodetree

import (
	"errors"
	"fmt"
	"strings"
)

// EvaluationError reports an expression that failed to compile or run,
// together with where in the tree it was evaluated.
type EvaluationError struct {
	Engine string
	Expr   string
	// Node is the path of the node the expression concerns, "<root>" for the
	// tree root and empty when the failure happened while compiling.
	Node string
	// Field is the attribute whose check was running, empty for expressions
	// passed to Tree.Evaluate.
	Field string
	Err   error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "nodetree: %s ", e.Engine)
	if e.Field != "" {
		b.WriteString("check")
	} else {
		b.WriteString("expression")
	}
	if location := e.Location(); location != "" {
		fmt.Fprintf(&b, " at %s", location)
	}
	fmt.Fprintf(&b, " %s: %v", describeExpression(e.Expr), e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Location joins Node and Field into the attribute path the failure concerns,
// e.g. "qubits[q0].xy.frequency".
func (e *EvaluationError) Location() string {
	switch {
	case e.Field == "":
		return e.Node
	case e.Node == "" || e.Node == "<root>":
		return e.Field
	default:
		return e.Node + "." + e.Field
	}
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

// wrapEvaluatorError labels configuration failures that are not tied to an
// expression.
func wrapEvaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}

	if strings.HasPrefix(err.Error(), "nodetree:") {
		return err
	}
	return fmt.Errorf("nodetree: %s evaluator: %w", engine, err)
}

// wrapEvaluationError attaches engine, expression and the node and field of
// ctx to a failure raised while running expr.
func wrapEvaluationError(engine, expr string, ctx RuleContext, err error) error {
	return annotateEvaluation(engine, expr, ctx.target(), ctx.Field, err)
}

// wrapCompileError reports expr failing to compile. No node is involved yet.
func wrapCompileError(engine, expr string, err error) error {
	return annotateEvaluation(engine, expr, "", "", err)
}

// annotateEvaluation only fills the blanks of an existing EvaluationError.
func annotateEvaluation(engine, expr, node, field string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Engine == "" {
			evalErr.Engine = engine
		}
		if evalErr.Expr == "" {
			evalErr.Expr = expr
		}
		if evalErr.Node == "" {
			evalErr.Node = node
		}
		if evalErr.Field == "" {
			evalErr.Field = field
		}
		return evalErr
	}

	return &EvaluationError{
		Engine: engine,
		Expr:   expr,
		Node:   node,
		Field:  field,
		Err:    err,
	}
}
