package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDocumentReadsJSON(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "task.json", `{"task_id": "t-1", "input": {"file": "a.txt"}}`)

	doc, err := Document(path)
	require.NoError(t, err)
	require.Equal(t, "t-1", doc["task_id"])
}

func TestDocumentReadsYAMLByExtension(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "task.yaml", "task_id: t-2\ninput:\n  file: a.txt\n  patch:\n    mode: safe\n")

	doc, err := Document(path)
	require.NoError(t, err)
	require.Equal(t, "t-2", doc["task_id"])

	input, ok := doc["input"].(map[string]any)
	require.True(t, ok)
	patch, ok := input["patch"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "safe", patch["mode"])
}

func TestDocumentFallsBackToYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "task.txt", "task_id: t-3\n")

	doc, err := Document(path)
	require.NoError(t, err)
	require.Equal(t, "t-3", doc["task_id"])
}

func TestDocumentRejectsNonObject(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "list.json", `[1, 2, 3]`)

	_, err := Document(path)
	require.Error(t, err)
}

func TestDocumentMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Document(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read")
}

func TestDocumentRejectsGarbage(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "bad.json", `{not valid at all`)

	_, err := Document(path)
	require.Error(t, err)
}
