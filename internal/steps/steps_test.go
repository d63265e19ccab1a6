package steps

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/planecraft/saferun/internal/model"
	"github.com/planecraft/saferun/internal/runlog"
)

func testContext(t *testing.T) Context {
	t.Helper()
	return Context{
		SandboxRoot: t.TempDir(),
		Log:         runlog.Discard(),
	}
}

func TestExecuteRejectsUnknownOp(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	result := Execute(model.Step{Op: "delete"}, ctx, "bad-op", 1)
	require.False(t, result.Success)
	require.Equal(t, model.CodeFatal, result.Code)
	require.Contains(t, result.Stderr, "unsupported op")
}

func TestReadReturnsFileContent(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(ctx.SandboxRoot, "in.txt"), []byte("payload"), 0o644))

	result := Execute(model.Step{
		Op:   model.OpRead,
		Args: map[string]any{"path": "in.txt"},
	}, ctx, "read-1", 1)

	require.True(t, result.Success)
	require.Equal(t, "payload", result.Stdout)
}

func TestReadMissingFileFails(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	result := Execute(model.Step{
		Op:   model.OpRead,
		Args: map[string]any{"path": "absent.txt"},
	}, ctx, "read-1", 1)

	require.False(t, result.Success)
	require.Equal(t, model.CodeFatal, result.Code)
}

func TestReadBlocksSandboxEscape(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	result := Execute(model.Step{
		Op:   model.OpRead,
		Args: map[string]any{"path": "../../etc/passwd"},
	}, ctx, "escape", 1)

	require.False(t, result.Success)
	require.Equal(t, model.CodeFatal, result.Code)
	require.Contains(t, result.Stderr, "outside sandbox")
}

func TestWriteCreatesFileWithoutBackup(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	result := Execute(model.Step{
		Op:   model.OpWrite,
		Args: map[string]any{"path": "note.txt", "content": "hello"},
	}, ctx, "write-1", 1)
	require.True(t, result.Success)

	data, err := os.ReadFile(filepath.Join(ctx.SandboxRoot, "note.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	_, err = os.Stat(filepath.Join(ctx.SandboxRoot, "note.txt.bak"))
	require.True(t, os.IsNotExist(err))
}

func TestWriteBacksUpExistingTarget(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	step := model.Step{
		Op:   model.OpWrite,
		Args: map[string]any{"path": "note.txt", "content": "hello"},
	}
	require.True(t, Execute(step, ctx, "write-1", 1).Success)

	step.Args = map[string]any{"path": "note.txt", "content": "updated"}
	require.True(t, Execute(step, ctx, "write-2", 1).Success)

	current, err := os.ReadFile(filepath.Join(ctx.SandboxRoot, "note.txt"))
	require.NoError(t, err)
	require.Equal(t, "updated", string(current))

	backup, err := os.ReadFile(filepath.Join(ctx.SandboxRoot, "note.txt.bak"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(backup))
}

func TestWriteCreatesParentDirectories(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	result := Execute(model.Step{
		Op:   model.OpWrite,
		Args: map[string]any{"path": "deep/nested/out.txt", "content": "x"},
	}, ctx, "write-1", 1)
	require.True(t, result.Success)

	_, err := os.Stat(filepath.Join(ctx.SandboxRoot, "deep", "nested", "out.txt"))
	require.NoError(t, err)
}

func TestWriteDryRunLeavesNoFile(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctx.DryRun = true

	result := Execute(model.Step{
		Op:   model.OpWrite,
		Args: map[string]any{"path": "note.txt", "content": "hello"},
	}, ctx, "write-1", 1)
	require.True(t, result.Success)
	require.Contains(t, result.Stdout, "DRY-RUN")

	_, err := os.Stat(filepath.Join(ctx.SandboxRoot, "note.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestPatchJSONMergesAndBacksUp(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	target := filepath.Join(ctx.SandboxRoot, "config.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"app":{"name":"demo","port":8080},"log":"info"}`), 0o644))

	result := Execute(model.Step{
		Op: model.OpPatchJSON,
		Args: map[string]any{
			"path":  "config.json",
			"patch": map[string]any{"app": map[string]any{"port": 9090}},
		},
	}, ctx, "patch-1", 1)
	require.True(t, result.Success)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, map[string]any{"name": "demo", "port": float64(9090)}, doc["app"])
	require.Equal(t, "info", doc["log"])

	backup, err := os.ReadFile(target + ".bak")
	require.NoError(t, err)
	require.JSONEq(t, `{"app":{"name":"demo","port":8080},"log":"info"}`, string(backup))
}

func TestPatchJSONMissingTargetFails(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	result := Execute(model.Step{
		Op:   model.OpPatchJSON,
		Args: map[string]any{"path": "absent.json", "patch": map[string]any{"a": 1}},
	}, ctx, "patch-1", 1)
	require.False(t, result.Success)
	require.Equal(t, model.CodeFatal, result.Code)
	require.Contains(t, result.Stderr, "failed to read json")
}

func TestPatchJSONValidatesInlineSchema(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	target := filepath.Join(ctx.SandboxRoot, "config.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"port":8080}`), 0o644))

	result := Execute(model.Step{
		Op: model.OpPatchJSON,
		Args: map[string]any{
			"path":  "config.json",
			"patch": map[string]any{"port": "not-a-number"},
			"schema": map[string]any{
				"type":       "object",
				"properties": map[string]any{"port": map[string]any{"type": "integer"}},
			},
		},
	}, ctx, "patch-1", 1)
	require.False(t, result.Success)
	require.Equal(t, model.CodeFatal, result.Code)
	require.Contains(t, result.Stderr, "schema validation failed")

	// The rejected patch must not have touched the target.
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.JSONEq(t, `{"port":8080}`, string(data))
}

func TestPatchJSONSchemaFromSandboxFile(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	target := filepath.Join(ctx.SandboxRoot, "config.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"port":8080}`), 0o644))
	schemaPath := filepath.Join(ctx.SandboxRoot, "config.schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{"type":"object","required":["port"]}`), 0o644))

	result := Execute(model.Step{
		Op: model.OpPatchJSON,
		Args: map[string]any{
			"path":   "config.json",
			"patch":  map[string]any{"mode": "safe"},
			"schema": "config.schema.json",
		},
	}, ctx, "patch-1", 1)
	require.True(t, result.Success)
}

func TestPatchJSONDryRunLeavesTargetUntouched(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctx.DryRun = true
	target := filepath.Join(ctx.SandboxRoot, "config.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"a":1}`), 0o644))

	result := Execute(model.Step{
		Op:   model.OpPatchJSON,
		Args: map[string]any{"path": "config.json", "patch": map[string]any{"b": 2}},
	}, ctx, "patch-1", 1)
	require.True(t, result.Success)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(data))
	_, err = os.Stat(target + ".bak")
	require.True(t, os.IsNotExist(err))
}
