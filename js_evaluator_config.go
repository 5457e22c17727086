package nodetree

import (
	"maps"
	"time"
)

type jsEvaluatorConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
	bindings map[string]any
	timeout  time.Duration
}

// JSEvaluatorOption configures the JS evaluator.
type JSEvaluatorOption func(*jsEvaluatorConfig)

// JSWithProgramCache shares cache with the other evaluators of a tree. Keys
// are prefixed with "js:".
func JSWithProgramCache(cache ProgramCache) JSEvaluatorOption {
	return func(cfg *jsEvaluatorConfig) {
		cfg.cache = cache
	}
}

// JSWithFunctionRegistry exposes every registered function as a global and
// through call(name, ...args).
func JSWithFunctionRegistry(registry *FunctionRegistry) JSEvaluatorOption {
	return func(cfg *jsEvaluatorConfig) {
		if registry == nil {
			return
		}
		cfg.registry = registry.Clone()
	}
}

// JSWithBindings adds constant globals, e.g. unit factors such as
// {"GHz": 1e9}, to every field check and tree expression. Snapshot attributes
// of the same name win.
func JSWithBindings(bindings map[string]any) JSEvaluatorOption {
	return func(cfg *jsEvaluatorConfig) {
		if len(bindings) == 0 {
			return
		}
		if cfg.bindings == nil {
			cfg.bindings = make(map[string]any, len(bindings))
		}
		maps.Copy(cfg.bindings, bindings)
	}
}

// JSWithTimeout interrupts a script still running after d with ErrJSTimeout.
// Non-positive durations disable the limit.
func JSWithTimeout(d time.Duration) JSEvaluatorOption {
	return func(cfg *jsEvaluatorConfig) {
		if d < 0 {
			d = 0
		}
		cfg.timeout = d
	}
}

func applyJSEvaluatorOptions(opts []JSEvaluatorOption) jsEvaluatorConfig {
	cfg := jsEvaluatorConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
