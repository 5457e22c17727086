package nodetree

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapEvaluationErrorCreatesMetadata(t *testing.T) {
	base := errors.New("boom")
	ctx := RuleContext{Node: "qubits[q0].xy", Field: "intermediate_frequency"}
	err := wrapEvaluationError("expr", "value < 400e6 && missing", ctx, base)

	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "expr", evalErr.Engine)
	assert.Equal(t, "value < 400e6 && missing", evalErr.Expr)
	assert.Equal(t, "qubits[q0].xy", evalErr.Node)
	assert.Equal(t, "intermediate_frequency", evalErr.Field)
	assert.Equal(t, "qubits[q0].xy.intermediate_frequency", evalErr.Location())
	assert.ErrorIs(t, evalErr, base)
	assert.EqualError(t, err, `nodetree: expr check at qubits[q0].xy.intermediate_frequency expr="value < 400e6 && missing": boom`)
}

func TestEvaluationErrorLocation(t *testing.T) {
	tests := []struct {
		name string
		err  EvaluationError
		want string
		msg  string
	}{
		{
			name: "tree expression",
			err:  EvaluationError{Engine: "cel", Expr: "version == 1", Node: "<root>", Err: errors.New("no such key")},
			want: "<root>",
			msg:  `nodetree: cel expression at <root> expr="version == 1": no such key`,
		},
		{
			name: "root field check",
			err:  EvaluationError{Engine: "expr", Expr: "value > 0", Node: "<root>", Field: "version", Err: errors.New("x")},
			want: "version",
			msg:  `nodetree: expr check at version expr="value > 0": x`,
		},
		{
			name: "compile failure",
			err:  EvaluationError{Engine: "js", Err: errors.New("syntax")},
			want: "",
			msg:  `nodetree: js expression expr=<empty>: syntax`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Location())
			assert.EqualError(t, &tt.err, tt.msg)
		})
	}
}

func TestWrapEvaluationErrorAugmentsExisting(t *testing.T) {
	base := errors.New("compile failure")
	existing := &EvaluationError{
		Engine: "expr",
		Err:    base,
	}

	err := wrapEvaluationError("cel", "value > 0", RuleContext{Node: "qubits[q1]", Field: "frequency"}, existing)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "expr", existing.Engine, "existing engine should not be overwritten")
	assert.Equal(t, "value > 0", existing.Expr)
	assert.Equal(t, "qubits[q1]", existing.Node)
	assert.Equal(t, "frequency", existing.Field)
}

func TestWrapCompileErrorHasNoLocation(t *testing.T) {
	err := wrapCompileError("cel", "value >", errors.New("syntax error"))

	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Empty(t, evalErr.Node)
	assert.Empty(t, evalErr.Field)

	// A compile failure surfacing while a check runs gains its location.
	wrapEvaluationError("cel", "value >", RuleContext{Field: "amplitude"}, err)
	assert.Equal(t, "<root>", evalErr.Node)
	assert.Equal(t, "amplitude", evalErr.Location())
}

func TestWrapEvaluatorErrorKeepsPrefixedErrors(t *testing.T) {
	assert.Nil(t, wrapEvaluatorError("expr", nil))

	prefixed := errors.New("nodetree: already labelled")
	assert.Same(t, prefixed, wrapEvaluatorError("expr", prefixed))

	wrapped := wrapEvaluatorError("cel", errors.New("raw"))
	assert.EqualError(t, wrapped, "nodetree: cel evaluator: raw")
}

func TestApplyJSEvaluatorOptions(t *testing.T) {
	units := map[string]any{"GHz": 1e9}
	functions := NewFunctionRegistry()
	cfg := applyJSEvaluatorOptions([]JSEvaluatorOption{
		nil,
		JSWithFunctionRegistry(functions),
		JSWithBindings(units),
		JSWithBindings(map[string]any{"MHz": 1e6}),
		JSWithTimeout(-time.Second),
	})

	assert.NotSame(t, functions, cfg.registry)
	assert.Equal(t, map[string]any{"GHz": 1e9, "MHz": 1e6}, cfg.bindings)
	assert.Zero(t, cfg.timeout)

	units["GHz"] = 0
	assert.Equal(t, 1e9, cfg.bindings["GHz"], "bindings are copied")

	cfg = applyJSEvaluatorOptions([]JSEvaluatorOption{JSWithTimeout(50 * time.Millisecond)})
	assert.Equal(t, 50*time.Millisecond, cfg.timeout)
	assert.Nil(t, cfg.registry)
}
