// Package testtree declares a small control-hardware node hierarchy used by
// the package tests and examples: a Machine owns Transmon qubits, each
// driving a polymorphic Channel and a set of Pulses.
package testtree

import (
	"strings"

	nodetree "github.com/goliatone/go-nodetree"
)

// Channel is the polymorphic slot type for qubit drive lines.
type Channel interface {
	nodetree.Node
	ChannelID() (string, error)
}

// Machine is the tree root.
type Machine struct{ nodetree.Base }

var machineSchema = nodetree.NewSchema(
	nodetree.ChildMap[*Transmon]("qubits"),
	nodetree.Value("wiring", nodetree.Default(map[string]any{})),
	nodetree.Value("version", nodetree.Default(1)),
)

func (*Machine) Schema() *nodetree.Schema { return machineSchema }

// Contribute writes the config version.
func (m *Machine) Contribute(acc *nodetree.Accumulator) error {
	version, err := m.Get("version")
	if err != nil {
		return err
	}
	return acc.Set(version, "version")
}

// Transmon is a qubit with a drive channel, an optional flux channel and
// named pulses.
type Transmon struct{ nodetree.Base }

var transmonSchema = nodetree.NewSchema(
	nodetree.Value("id"),
	nodetree.Child[Channel]("xy", nodetree.Optional()),
	nodetree.Child[*SingleChannel]("z", nodetree.Optional()),
	nodetree.Value("frequency", nodetree.Optional(), nodetree.Check("value > 0")),
	nodetree.ChildMap[*Pulse]("pulses"),
)

func (*Transmon) Schema() *nodetree.Schema { return transmonSchema }

// SingleChannel drives a single analog output port.
type SingleChannel struct{ nodetree.Base }

var singleChannelSchema = nodetree.NewSchema(
	nodetree.Value("id"),
	nodetree.Value("port"),
	nodetree.Value("intermediate_frequency", nodetree.Default(0.0)),
)

func (*SingleChannel) Schema() *nodetree.Schema { return singleChannelSchema }

// ChannelID returns the element name of the channel.
func (c *SingleChannel) ChannelID() (string, error) {
	return c.GetString("id")
}

// Contribute writes the element entry of the channel.
func (c *SingleChannel) Contribute(acc *nodetree.Accumulator) error {
	id, err := c.ChannelID()
	if err != nil {
		return err
	}
	port, err := c.Get("port")
	if err != nil {
		return err
	}
	freq, err := c.GetFloat("intermediate_frequency")
	if err != nil {
		return err
	}
	if err := acc.Set(map[string]any{"port": port}, "elements", id, "singleInput"); err != nil {
		return err
	}
	return acc.Set(freq, "elements", id, "intermediate_frequency")
}

// IQChannel drives an I/Q output port pair.
type IQChannel struct{ nodetree.Base }

var iqChannelSchema = singleChannelSchema.Extend(
	nodetree.Value("port_q"),
	nodetree.Value("intermediate_frequency", nodetree.Default(100e6), nodetree.Check("value >= 0")),
)

func (*IQChannel) Schema() *nodetree.Schema { return iqChannelSchema }

// ChannelID returns the element name of the channel.
func (c *IQChannel) ChannelID() (string, error) {
	return c.GetString("id")
}

// Contribute writes the element entry of the channel.
func (c *IQChannel) Contribute(acc *nodetree.Accumulator) error {
	id, err := c.ChannelID()
	if err != nil {
		return err
	}
	portI, err := c.Get("port")
	if err != nil {
		return err
	}
	portQ, err := c.Get("port_q")
	if err != nil {
		return err
	}
	freq, err := c.GetFloat("intermediate_frequency")
	if err != nil {
		return err
	}
	inputs := map[string]any{"I": portI, "Q": portQ}
	if err := acc.Set(inputs, "elements", id, "mixInputs"); err != nil {
		return err
	}
	return acc.Set(freq, "elements", id, "intermediate_frequency")
}

// Pulse is a named waveform played on the owning qubit's channel.
type Pulse struct{ nodetree.Base }

var pulseSchema = nodetree.NewSchema(
	nodetree.Value("length", nodetree.Default(100)),
	nodetree.Value("amplitude", nodetree.Default(0.1), nodetree.Check("value <= 1.0")),
	nodetree.Value("channel", nodetree.Default(":../xy")),
)

func (*Pulse) Schema() *nodetree.Schema { return pulseSchema }

// Contribute writes the pulse under its channel element.
func (p *Pulse) Contribute(acc *nodetree.Accumulator) error {
	value, err := p.Get("channel")
	if err != nil {
		return err
	}
	channel, ok := value.(Channel)
	if !ok {
		return nil
	}
	id, err := channel.ChannelID()
	if err != nil {
		return err
	}
	length, err := p.GetInt("length")
	if err != nil {
		return err
	}
	amplitude, err := p.GetFloat("amplitude")
	if err != nil {
		return err
	}
	return acc.Set(map[string]any{
		"length":    length,
		"amplitude": amplitude,
	}, "pulses", id, pulseName(p))
}

// pulseName is the key the pulse is stored under in its qubit.
func pulseName(p *Pulse) string {
	path := nodetree.Path(p)
	if i := strings.LastIndexByte(path, '['); i >= 0 {
		return strings.TrimSuffix(path[i+1:], "]")
	}
	return path
}

// Registry returns a registry holding every fixture type under its
// fully-qualified name.
func Registry() *nodetree.Registry {
	r := nodetree.NewRegistry()
	mustRegister(nodetree.RegisterIn[Machine](r, ""))
	mustRegister(nodetree.RegisterIn[Transmon](r, ""))
	mustRegister(nodetree.RegisterIn[SingleChannel](r, ""))
	mustRegister(nodetree.RegisterIn[IQChannel](r, ""))
	mustRegister(nodetree.RegisterIn[Pulse](r, ""))
	return r
}

func mustRegister(err error) {
	if err != nil {
		panic(err)
	}
}

// NewMachine builds a machine with two qubits. q0 drives an IQ channel and
// owns an X180 pulse; q1 drives a single channel whose port refers to the
// machine wiring.
func NewMachine() *Machine {
	m := nodetree.NewNode[Machine]()
	must(m.Set("wiring", map[string]any{
		"q0": map[string]any{"I": []any{"con1", 1}, "Q": []any{"con1", 2}},
		"q1": map[string]any{"port": []any{"con1", 3}},
	}))

	q0 := nodetree.NewNode[Transmon]()
	must(q0.Set("id", "q0"))
	must(q0.Set("frequency", 5.1e9))
	xy := nodetree.NewNode[IQChannel]()
	must(xy.Set("id", "q0.xy"))
	must(xy.Set("port", ":/wiring.q0.I"))
	must(xy.Set("port_q", ":/wiring.q0.Q"))
	must(xy.Set("intermediate_frequency", 50e6))
	must(q0.Set("xy", xy))
	x180 := nodetree.NewNode[Pulse]()
	must(x180.Set("amplitude", 0.25))
	must(q0.Set("pulses", map[string]any{"X180": x180}))

	q1 := nodetree.NewNode[Transmon]()
	must(q1.Set("id", "q1"))
	drive := nodetree.NewNode[SingleChannel]()
	must(drive.Set("id", "q1.xy"))
	must(drive.Set("port", ":/wiring.q1.port"))
	must(q1.Set("xy", drive))

	must(m.Set("qubits", map[string]any{"q0": q0, "q1": q1}))
	return m
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
