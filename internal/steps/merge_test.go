package steps

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeepMergeNestedObjects(t *testing.T) {
	t.Parallel()

	base := map[string]any{
		"app": map[string]any{"name": "demo", "port": 8080},
		"log": "info",
	}
	patch := map[string]any{
		"app": map[string]any{"port": 9090, "debug": true},
	}

	merged := DeepMerge(base, patch)
	require.Equal(t, map[string]any{
		"app": map[string]any{"name": "demo", "port": 9090, "debug": true},
		"log": "info",
	}, merged)
}

func TestDeepMergeScalarReplacesObject(t *testing.T) {
	t.Parallel()

	base := map[string]any{"settings": map[string]any{"volume": 50}}
	patch := map[string]any{"settings": "disabled"}

	merged := DeepMerge(base, patch)
	require.Equal(t, "disabled", merged["settings"])
}

func TestDeepMergeListsReplaceWholesale(t *testing.T) {
	t.Parallel()

	base := map[string]any{"tags": []any{"a", "b"}}
	patch := map[string]any{"tags": []any{"c"}}

	merged := DeepMerge(base, patch)
	require.Equal(t, []any{"c"}, merged["tags"])
}

func TestDeepMergeDoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	base := map[string]any{"nested": map[string]any{"keep": 1}}
	patch := map[string]any{"nested": map[string]any{"add": 2}}

	_ = DeepMerge(base, patch)
	require.Equal(t, map[string]any{"keep": 1}, base["nested"])
	require.Equal(t, map[string]any{"add": 2}, patch["nested"])
}
