package nodetree

import (
	"fmt"

	"github.com/goliatone/go-nodetree/layering"
)

// Contributor is implemented by nodes that write a fragment of the assembled
// configuration. Contribute must fail with ErrMissingValue (typically via Get)
// when an identifying attribute it needs is unset.
type Contributor interface {
	Contribute(*Accumulator) error
}

type assembleConfig struct {
	templates     []map[string]any
	tolerance     float64
	pathTolerance map[string]float64
}

// AssembleOption configures Assemble and NewAccumulator.
type AssembleOption func(*assembleConfig)

// WithTemplate seeds the accumulator. Several templates are layered strongest
// first, so WithTemplate(site, defaults) lets site override defaults.
// Templates are copied; callers keep ownership of theirs.
func WithTemplate(templates ...map[string]any) AssembleOption {
	return func(cfg *assembleConfig) {
		cfg.templates = append(cfg.templates, templates...)
	}
}

// WithTolerance replaces DefaultTolerance for every numeric key. Zero demands
// exact equality.
func WithTolerance(tol float64) AssembleOption {
	return func(cfg *assembleConfig) {
		if tol >= 0 {
			cfg.tolerance = tol
		}
	}
}

// WithPathTolerance sets the tolerance for keys at or below the dotted path
// prefix, e.g. "elements.q0.intermediate_frequency". The longest matching
// prefix wins.
func WithPathTolerance(prefix string, tol float64) AssembleOption {
	return func(cfg *assembleConfig) {
		if tol < 0 {
			return
		}
		if cfg.pathTolerance == nil {
			cfg.pathTolerance = make(map[string]float64)
		}
		cfg.pathTolerance[prefix] = tol
	}
}

func newAssembleConfig(opts []AssembleOption) assembleConfig {
	cfg := assembleConfig{tolerance: DefaultTolerance}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Assemble walks root in traversal order and lets every Contributor write into
// a fresh accumulator. The first failing contribution aborts assembly.
func Assemble(root Node, opts ...AssembleOption) (*Accumulator, error) {
	cfg := newAssembleConfig(opts)
	var template map[string]any
	if len(cfg.templates) > 0 {
		template = layering.Merge(cfg.templates...)
	}
	acc := newAccumulator(template, cfg)
	if root == nil {
		return acc, nil
	}
	for n := range All(root) {
		contributor, ok := n.(Contributor)
		if !ok {
			continue
		}
		if err := contributor.Contribute(acc); err != nil {
			return nil, fmt.Errorf("nodetree: assemble %s: %w", nodeLabel(n), err)
		}
	}
	return acc, nil
}

func nodeLabel(n Node) string {
	if path := Path(n); path != "" {
		return path
	}
	return "<root>"
}
