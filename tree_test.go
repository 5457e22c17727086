package nodetree_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	nodetree "github.com/goliatone/go-nodetree"
	"github.com/goliatone/go-nodetree/internal/testtree"
	"github.com/goliatone/go-nodetree/pkg/activity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evaluatorFactories = []struct {
	name string
	new  func(cache nodetree.ProgramCache, functions *nodetree.FunctionRegistry) nodetree.Evaluator
}{
	{
		name: "expr",
		new: func(cache nodetree.ProgramCache, functions *nodetree.FunctionRegistry) nodetree.Evaluator {
			opts := []nodetree.ExprEvaluatorOption{}
			if cache != nil {
				opts = append(opts, nodetree.ExprWithProgramCache(cache))
			}
			if functions != nil {
				opts = append(opts, nodetree.ExprWithFunctionRegistry(functions))
			}
			return nodetree.NewExprEvaluator(opts...)
		},
	},
	{
		name: "cel",
		new: func(cache nodetree.ProgramCache, functions *nodetree.FunctionRegistry) nodetree.Evaluator {
			opts := []nodetree.CELEvaluatorOption{}
			if cache != nil {
				opts = append(opts, nodetree.CELWithProgramCache(cache))
			}
			if functions != nil {
				opts = append(opts, nodetree.CELWithFunctionRegistry(functions))
			}
			return nodetree.NewCELEvaluator(opts...)
		},
	},
}

func TestTreeExportTagsRoot(t *testing.T) {
	tree := nodetree.Wrap(testtree.NewMachine(), nodetree.WithRegistry(testtree.Registry()))
	doc, err := tree.Export()
	require.NoError(t, err)
	assert.Equal(t, machineTag, doc[nodetree.TypeTagKey])
}

func TestTreeResolveAndTrace(t *testing.T) {
	tree := nodetree.Wrap(testtree.NewMachine())

	value, err := tree.Resolve(":/qubits[q1].xy.port")
	require.NoError(t, err)
	assert.Equal(t, []any{"con1", 3}, value)

	trace, err := tree.Trace(":/qubits[q1].xy")
	require.NoError(t, err)
	require.Equal(t, 4, trace.Len())
	kinds := make([]nodetree.StepKind, 0, trace.Len())
	for _, step := range trace.Steps {
		kinds = append(kinds, step.Kind)
	}
	assert.Equal(t, []nodetree.StepKind{
		nodetree.StepRoot,
		nodetree.StepAttribute,
		nodetree.StepIndex,
		nodetree.StepAttribute,
	}, kinds)
	assert.Equal(t, "qubits[q1].xy", trace.Steps[3].Path)
}

func TestTreeValidate(t *testing.T) {
	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			m := testtree.NewMachine()
			_, err := nodetree.Load(m, nodetree.WithEvaluator(factory.new(nil, nil)))
			require.NoError(t, err)

			require.NoError(t, pulse(t, m, "q0", "X180").Set("amplitude", 2.0))
			require.NoError(t, qubit(t, m, "q1").Set("frequency", -1.0))

			_, err = nodetree.Load(m, nodetree.WithEvaluator(factory.new(nil, nil)))
			require.Error(t, err)
			assert.ErrorIs(t, err, nodetree.ErrCheckFailed)
			assert.Contains(t, err.Error(), "qubits[q0].pulses[X180]")
			assert.Contains(t, err.Error(), "qubits[q1]")
		})
	}
}

func TestTreeValidateSkipsUnsetFields(t *testing.T) {
	m := nodetree.NewNode[testtree.Machine]()
	q := nodetree.NewNode[testtree.Transmon]()
	require.NoError(t, q.Set("pulses", map[string]any{"X180": nodetree.NewNode[testtree.Pulse]()}))
	require.NoError(t, m.Set("qubits", map[string]any{"q0": q}))

	assert.NoError(t, nodetree.Wrap(m).Validate())
}

func TestTreeValidateResolvesReferences(t *testing.T) {
	m := testtree.NewMachine()
	require.NoError(t, m.Set("wiring", map[string]any{
		"q0": map[string]any{"I": []any{"con1", 1}, "Q": []any{"con1", 2}, "amp": 3.0},
		"q1": map[string]any{"port": []any{"con1", 3}},
	}))
	require.NoError(t, pulse(t, m, "q0", "X180").Set("amplitude", ":/wiring.q0.amp"))

	err := nodetree.Wrap(m).Validate()
	assert.ErrorIs(t, err, nodetree.ErrCheckFailed)
}

type selfCheckedMachine struct{ testtree.Machine }

func (m *selfCheckedMachine) Validate() error {
	version, err := m.GetInt("version")
	if err != nil {
		return err
	}
	if version > 1 {
		return errors.New("unsupported version")
	}
	return nil
}

func TestTreeValidateCallsNodeValidate(t *testing.T) {
	m := nodetree.NewNode[selfCheckedMachine]()
	require.NoError(t, m.Set("version", 2))

	err := nodetree.Wrap(m).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestTreeEvaluate(t *testing.T) {
	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			tree := nodetree.Wrap(testtree.NewMachine(), nodetree.WithEvaluator(factory.new(nil, nil)))

			resp, err := tree.Evaluate("qubits.q0.frequency > 5e9")
			require.NoError(t, err)
			assert.Equal(t, true, resp.Value)

			resp, err = tree.Evaluate(`qubits.q0.xy.id == "q0.xy"`)
			require.NoError(t, err)
			assert.Equal(t, true, resp.Value)

			_, err = tree.Evaluate("")
			assert.Error(t, err)
		})
	}
}

func TestTreeEvaluateWithSnapshot(t *testing.T) {
	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			tree := nodetree.Wrap(testtree.NewMachine(), nodetree.WithEvaluator(factory.new(nil, nil)))

			resp, err := tree.EvaluateWith(nodetree.RuleContext{
				Snapshot: map[string]any{"version": 7},
			}, "version == 7")
			require.NoError(t, err)
			assert.Equal(t, true, resp.Value)
		})
	}
}

func TestTreeEvaluateRef(t *testing.T) {
	tree := nodetree.Wrap(testtree.NewMachine())

	resp, err := tree.Evaluate(`ref(":/qubits[q1].xy.id")`)
	require.NoError(t, err)
	assert.Equal(t, "q1.xy", resp.Value)
}

func TestTreeEvaluateFunctions(t *testing.T) {
	functions := nodetree.NewTreeFunctions()

	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			tree := nodetree.Wrap(testtree.NewMachine(),
				nodetree.WithFunctionRegistry(functions),
				nodetree.WithEvaluator(factory.new(nil, functions)),
			)

			expression := "within(qubits.q0.xy.intermediate_frequency, 50000000.0004)"
			if factory.name == "cel" {
				expression = `call("within", [qubits.q0.xy.intermediate_frequency, 50000000.0004])`
			}
			resp, err := tree.Evaluate(expression)
			require.NoError(t, err)
			assert.Equal(t, true, resp.Value)
		})
	}
}

func TestTreeEvaluatorProgramCache(t *testing.T) {
	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			cache := nodetree.NewMemoryProgramCache()
			tree := nodetree.Wrap(testtree.NewMachine(), nodetree.WithEvaluator(factory.new(cache, nil)))

			for range 3 {
				_, err := tree.Evaluate(`qubits.q0.id == "q0"`)
				require.NoError(t, err)
			}
			assert.Equal(t, 1, cache.Len())
		})
	}
}

func TestTreeAssembleEmitsActivity(t *testing.T) {
	capture := &activity.CaptureHook{}
	tree := nodetree.Wrap(testtree.NewMachine(),
		nodetree.WithActivityHooks(activity.Hooks{nil, capture}),
		nodetree.WithActivityContext(activity.TreeEventInput{ActorID: "operator-1", Channel: "lab"}),
	)
	require.Len(t, tree.ActivityHooks(), 1)

	acc, err := tree.Assemble(context.Background())
	require.NoError(t, err)
	require.NotNil(t, acc)

	require.Equal(t, []string{activity.VerbTreeAssembled}, capture.Verbs())
	event := capture.Events[0]
	assert.Equal(t, "operator-1", event.ActorID)
	assert.Equal(t, "lab", event.Channel)
	assert.Equal(t, activity.ObjectTypeTree, event.ObjectType)
	assert.Equal(t, machineTag, event.ObjectID)
	assert.Equal(t, 3, event.Metadata["keys"])
	assert.Equal(t, machineTag, event.Metadata["root_type"])
}

func TestTreeAssembleHookErrorKeepsResult(t *testing.T) {
	capture := &activity.CaptureHook{Err: errors.New("audit offline")}
	tree := nodetree.Wrap(testtree.NewMachine(), nodetree.WithActivityHooks(activity.Hooks{capture}))

	acc, err := tree.Assemble(context.Background())
	assert.EqualError(t, err, "audit offline")
	assert.NotNil(t, acc)
}

func TestTreeAssembleOptions(t *testing.T) {
	tree := nodetree.Wrap(testtree.NewMachine(),
		nodetree.WithAssembleOptions(nodetree.WithTemplate(map[string]any{"version": 2})),
	)
	_, err := tree.Assemble(context.Background())
	assert.ErrorIs(t, err, nodetree.ErrConflict)
}

func TestTreeLogging(t *testing.T) {
	var events []nodetree.LogEvent
	tree := nodetree.Wrap(testtree.NewMachine(), nodetree.WithLogger(nodetree.LoggerFunc(func(event nodetree.LogEvent) {
		events = append(events, event)
	})))

	_, err := tree.Evaluate(`qubits.q0.id == "q0"`)
	require.NoError(t, err)
	_, err = tree.Assemble(context.Background())
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "evaluate", events[0].Op)
	assert.Equal(t, "expr", events[0].Engine)
	assert.Equal(t, `qubits.q0.id == "q0"`, events[0].Expr)
	assert.Equal(t, "assemble", events[1].Op)
	assert.Equal(t, machineTag, events[1].Target)
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tree := nodetree.Wrap(testtree.NewMachine(), nodetree.WithLogger(nodetree.SlogLogger(logger)))

	_, err := tree.Evaluate(`qubits.q0.id == "q0"`)
	require.NoError(t, err)
	_, err = tree.Evaluate("qubits ==")
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "op=evaluate")
}
