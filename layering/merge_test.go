package layering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneDocumentIsDeep(t *testing.T) {
	src := map[string]any{
		"controllers": map[string]any{
			"con1": map[string]any{"type": "opx1"},
		},
		"elements": []any{"q0", map[string]any{"port": 1}},
	}

	out := Clone(src)
	require.Equal(t, src, out)

	out["controllers"].(map[string]any)["con1"].(map[string]any)["type"] = "changed"
	out["elements"].([]any)[0] = "q9"

	assert.Equal(t, "opx1", src["controllers"].(map[string]any)["con1"].(map[string]any)["type"])
	assert.Equal(t, "q0", src["elements"].([]any)[0])
}

func TestCloneNil(t *testing.T) {
	var doc map[string]any
	assert.Nil(t, Clone(doc))

	var anything any
	assert.Nil(t, Clone(anything))
}

func TestMergeStrongestFirst(t *testing.T) {
	strong := map[string]any{
		"version": 2,
		"controllers": map[string]any{
			"con1": map[string]any{"type": "opx1000"},
		},
	}
	weak := map[string]any{
		"version": 1,
		"controllers": map[string]any{
			"con1": map[string]any{"type": "opx1", "fems": 1},
			"con2": map[string]any{"type": "opx1"},
		},
		"elements": map[string]any{},
	}

	got := Merge(strong, weak)

	assert.Equal(t, map[string]any{
		"version": 2,
		"controllers": map[string]any{
			"con1": map[string]any{"type": "opx1000", "fems": 1},
			"con2": map[string]any{"type": "opx1"},
		},
		"elements": map[string]any{},
	}, got)
	assert.Equal(t, 1, weak["version"], "inputs must not be mutated")
	assert.NotContains(t, strong["controllers"].(map[string]any)["con1"], "fems")
}

func TestMergeReplacesLists(t *testing.T) {
	got := Merge(
		map[string]any{"ports": []any{3}},
		map[string]any{"ports": []any{1, 2}},
	)
	assert.Equal(t, map[string]any{"ports": []any{3}}, got)
}

func TestMergeStructsFillZeroFields(t *testing.T) {
	type limits struct {
		Max   int
		Label string
		Tags  map[string]string
	}

	got := Merge(
		limits{Max: 5, Tags: map[string]string{"a": "strong"}},
		limits{Max: 1, Label: "weak", Tags: map[string]string{"a": "weak", "b": "weak"}},
	)

	assert.Equal(t, limits{
		Max:   5,
		Label: "weak",
		Tags:  map[string]string{"a": "strong", "b": "weak"},
	}, got)
}

func TestMergeZeroInput(t *testing.T) {
	assert.Nil(t, Merge[map[string]any]())
}
