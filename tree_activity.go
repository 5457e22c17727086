package nodetree

import (
	"context"
	"reflect"

	"github.com/goliatone/go-nodetree/pkg/activity"
)

// WithActivityHooks attaches activity hooks to the Tree configuration.
// Hooks are cloned and nil entries dropped to preserve immutability.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := cloneActivityHooks(hooks)
	return func(cfg *treeConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActivityContext sets the actor, tenant and channel reported on every
// event the Tree emits.
func WithActivityContext(input activity.TreeEventInput) Option {
	return func(cfg *treeConfig) {
		cfg.activity = input
	}
}

// ActivityHooks returns a cloned slice of the configured activity hooks. The
// returned slice can be safely mutated by the caller.
func (t *Tree[T]) ActivityHooks() activity.Hooks {
	if t == nil {
		return nil
	}
	return cloneActivityHooks(t.cfg.activityHooks)
}

func (t *Tree[T]) activityInput() activity.TreeEventInput {
	input := t.cfg.activity
	if input.RootType == "" {
		input.RootType = TypeName(reflectType(t.Root))
	}
	return input
}

func (t *Tree[T]) emit(ctx context.Context, event activity.Event) error {
	if len(t.cfg.activityHooks) == 0 {
		return nil
	}
	return t.cfg.activityHooks.Notify(ctx, event)
}

func cloneActivityHooks(hooks activity.Hooks) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range extra {
		out[key] = value
	}
	return out
}

func reflectType(n Node) reflect.Type {
	if n == nil {
		return nil
	}
	return reflect.TypeOf(n)
}
