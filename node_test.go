package nodetree_test

import (
	"testing"

	nodetree "github.com/goliatone/go-nodetree"
	"github.com/goliatone/go-nodetree/internal/testtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeDefaults(t *testing.T) {
	m := nodetree.NewNode[testtree.Machine]()

	assert.False(t, m.IsSet("version"))
	version, err := m.GetInt("version")
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	qubits, err := m.Get("qubits")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, qubits)

	q := nodetree.NewNode[testtree.Transmon]()
	freq, err := q.Get("frequency")
	require.NoError(t, err)
	assert.Nil(t, freq)

	_, err = q.Get("id")
	assert.ErrorIs(t, err, nodetree.ErrMissingValue)

	_, err = q.Get("detuning")
	assert.ErrorIs(t, err, nodetree.ErrUnknownAttribute)
}

func TestNodeTypedGetters(t *testing.T) {
	m := testtree.NewMachine()
	q0 := qubit(t, m, "q0")

	id, err := q0.GetString("id")
	require.NoError(t, err)
	assert.Equal(t, "q0", id)

	freq, err := q0.GetFloat("frequency")
	require.NoError(t, err)
	assert.InDelta(t, 5.1e9, freq, 1)

	_, err = q0.GetInt("id")
	assert.ErrorIs(t, err, nodetree.ErrTypeMismatch)

	_, err = q0.GetBool("frequency")
	assert.ErrorIs(t, err, nodetree.ErrTypeMismatch)

	xy, err := nodetree.GetAs[testtree.Channel](q0, "xy")
	require.NoError(t, err)
	channelID, err := xy.ChannelID()
	require.NoError(t, err)
	assert.Equal(t, "q0.xy", channelID)
}

func TestNodeSetErrors(t *testing.T) {
	m := testtree.NewMachine()
	q0 := qubit(t, m, "q0")
	q1 := qubit(t, m, "q1")

	err := q0.Set("detuning", 1.0)
	assert.ErrorIs(t, err, nodetree.ErrUnknownAttribute)

	var validation *nodetree.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "qubits[q0]", validation.Node)
	assert.Equal(t, "detuning", validation.Field)

	assert.ErrorIs(t, q0.Set("z", nodetree.NewNode[testtree.IQChannel]()), nodetree.ErrTypeMismatch)
	assert.ErrorIs(t, q0.Set("xy", nodetree.NewNode[testtree.Pulse]()), nodetree.ErrTypeMismatch)
	assert.ErrorIs(t, q0.Set("pulses", []any{nodetree.NewNode[testtree.Pulse]()}), nodetree.ErrTypeMismatch)

	xy, err := q0.Get("xy")
	require.NoError(t, err)
	assert.ErrorIs(t, q1.Set("xy", xy), nodetree.ErrAlreadyAttached)

	shared := nodetree.NewNode[testtree.Pulse]()
	err = q1.Set("pulses", map[string]any{"a": shared, "b": shared})
	assert.ErrorIs(t, err, nodetree.ErrAlreadyAttached)
}

func TestNodeAttachCycle(t *testing.T) {
	g := nodetree.NewNode[groupNode]()
	assert.ErrorIs(t, g.Set("members", []any{g}), nodetree.ErrAttachCycle)

	child := nodetree.NewNode[groupNode]()
	require.NoError(t, g.Set("members", []*groupNode{child}))
	assert.ErrorIs(t, child.Set("members", []any{g}), nodetree.ErrAttachCycle)
}

func TestNodeAttachSetsParentAndRoot(t *testing.T) {
	m := testtree.NewMachine()
	q0 := qubit(t, m, "q0")
	x180 := pulse(t, m, "q0", "X180")

	assert.Same(t, q0, x180.Parent())
	assert.Same(t, m, x180.Root())
	assert.Nil(t, m.Parent())
	assert.Same(t, m, m.Root())
	assert.Equal(t, "qubits[q0].pulses[X180]", nodetree.Path(x180))
	assert.Empty(t, nodetree.Path(m))
}

func TestNodeReplaceDetachesPreviousChild(t *testing.T) {
	m := testtree.NewMachine()
	q0 := qubit(t, m, "q0")
	old, err := q0.Get("xy")
	require.NoError(t, err)

	replacement := nodetree.NewNode[testtree.SingleChannel]()
	require.NoError(t, replacement.Set("id", "q0.drive"))
	require.NoError(t, q0.Set("xy", replacement))

	detached := old.(*testtree.IQChannel)
	assert.Nil(t, detached.Parent())
	assert.Same(t, detached, detached.Root())
	assert.Same(t, m, replacement.Root())

	other := nodetree.NewNode[testtree.Transmon]()
	assert.ErrorIs(t, other.Set("xy", detached), nodetree.ErrAlreadyAttached)
}

func TestNodeSetKeepsExistingChildren(t *testing.T) {
	m := testtree.NewMachine()
	q0 := qubit(t, m, "q0")
	x180 := pulse(t, m, "q0", "X180")

	y90 := nodetree.NewNode[testtree.Pulse]()
	require.NoError(t, q0.Set("pulses", map[string]any{"X180": x180, "Y90": y90}))
	assert.Same(t, q0, x180.Parent())
	assert.Equal(t, "qubits[q0].pulses[Y90]", nodetree.Path(y90))
}

func TestNodeUnset(t *testing.T) {
	m := testtree.NewMachine()
	q0 := qubit(t, m, "q0")
	x180 := pulse(t, m, "q0", "X180")

	require.NoError(t, q0.Unset("pulses"))
	assert.False(t, q0.IsSet("pulses"))
	assert.Nil(t, x180.Parent())
	assert.Empty(t, nodetree.Path(x180))

	require.NoError(t, m.Unset("version"))
	assert.ErrorIs(t, m.Unset("missing"), nodetree.ErrUnknownAttribute)
}

func TestNodeRawKeepsReferences(t *testing.T) {
	m := testtree.NewMachine()
	value, err := qubit(t, m, "q1").Get("xy")
	require.NoError(t, err)
	drive := value.(*testtree.SingleChannel)

	raw, ok := drive.Raw("port")
	require.True(t, ok)
	assert.Equal(t, ":/wiring.q1.port", raw)

	resolved, err := drive.Get("port")
	require.NoError(t, err)
	assert.Equal(t, []any{"con1", 3}, resolved)
}

func TestNodeReferenceInNodeSlot(t *testing.T) {
	m := testtree.NewMachine()
	q1 := qubit(t, m, "q1")

	require.NoError(t, q1.Set("z", ":./xy"))
	z, err := q1.Get("z")
	require.NoError(t, err)
	assert.IsType(t, &testtree.SingleChannel{}, z)
}

func TestAllOrderAndLocking(t *testing.T) {
	m := testtree.NewMachine()
	q0 := qubit(t, m, "q0")

	var paths []string
	for n := range nodetree.All(m) {
		paths = append(paths, nodetree.Path(n))
		assert.ErrorIs(t, q0.Set("frequency", 4.9e9), nodetree.ErrTreeBusy)
		assert.ErrorIs(t, m.Unset("version"), nodetree.ErrTreeBusy)
	}
	assert.Equal(t, []string{
		"",
		"qubits[q0]",
		"qubits[q0].xy",
		"qubits[q0].pulses[X180]",
		"qubits[q1]",
		"qubits[q1].xy",
	}, paths)

	require.NoError(t, q0.Set("frequency", 4.9e9))
}

func TestAllReleasesLockOnBreak(t *testing.T) {
	m := testtree.NewMachine()
	for range nodetree.All(m) {
		break
	}
	assert.NoError(t, m.Set("version", 2))
}

func TestAllFromSubtree(t *testing.T) {
	m := testtree.NewMachine()
	q1 := qubit(t, m, "q1")

	count := 0
	for range nodetree.All(q1) {
		assert.ErrorIs(t, m.Set("version", 2), nodetree.ErrTreeBusy)
		count++
	}
	assert.Equal(t, 2, count)
}

func TestSchemaExtend(t *testing.T) {
	single := (&testtree.SingleChannel{}).Schema()
	iq := (&testtree.IQChannel{}).Schema()

	assert.Equal(t, 3, single.Len())
	assert.Equal(t, 4, iq.Len())
	assert.True(t, iq.Has("port_q"))
	assert.False(t, single.Has("port_q"))

	field, ok := iq.Field("intermediate_frequency")
	require.True(t, ok)
	assert.Equal(t, 100e6, field.Default)
	assert.Equal(t, "value >= 0", field.Check)

	base, ok := single.Field("intermediate_frequency")
	require.True(t, ok)
	assert.Equal(t, 0.0, base.Default)

	var names []string
	for _, f := range iq.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id", "port", "intermediate_frequency", "port_q"}, names)
}

// groupNode nests itself.
type groupNode struct{ nodetree.Base }

var groupSchema = nodetree.NewSchema(
	nodetree.Children[*groupNode]("members"),
)

func (*groupNode) Schema() *nodetree.Schema { return groupSchema }
