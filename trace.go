package nodetree

import (
	"encoding/json"
)

// StepKind names the operation performed by one resolution hop.
type StepKind string

const (
	StepRoot      StepKind = "root"
	StepParent    StepKind = "parent"
	StepSelf      StepKind = "self"
	StepAttribute StepKind = "attribute"
	StepIndex     StepKind = "index"
)

// Trace captures the hops taken while resolving a reference string.
type Trace struct {
	Reference string `json:"reference"`
	Steps     []Step `json:"steps"`
}

// Step details one hop. Path is the location of the node reached, when the
// hop landed on a node.
type Step struct {
	Segment string   `json:"segment"`
	Kind    StepKind `json:"kind"`
	Path    string   `json:"path,omitempty"`
	Node    bool     `json:"node"`
}

func (t *Trace) add(segment string, kind StepKind, reached any) {
	if t == nil {
		return
	}
	step := Step{Segment: segment, Kind: kind}
	if n, ok := reached.(Node); ok {
		step.Node = true
		step.Path = Path(n)
	}
	t.Steps = append(t.Steps, step)
}

// Len returns the number of recorded hops.
func (t Trace) Len() int {
	return len(t.Steps)
}

// ToJSON serialises the trace into JSON for logging or transport helpers.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON deserialises a JSON payload that was previously generated via
// ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}
