// Package steps implements the four sandboxed step handlers. Every handler
// returns a uniform StepResult and never propagates errors past its
// boundary.
package steps

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/planecraft/saferun/internal/model"
	"github.com/planecraft/saferun/internal/runlog"
	"github.com/planecraft/saferun/internal/sandbox"
)

// Context carries the per-run execution settings every handler needs. It is
// owned by exactly one run; concurrent runs sharing a sandbox are only
// discouraged via the advisory lock convention.
type Context struct {
	SandboxRoot string
	AllowExec   bool
	DryRun      bool
	Log         *runlog.Log
	Launcher    Launcher
}

func (c Context) launcher() Launcher {
	if c.Launcher != nil {
		return c.Launcher
	}
	return ExecLauncher{}
}

// Execute dispatches one step to its handler, logging start and outcome.
func Execute(step model.Step, ctx Context, label string, attempt int) model.StepResult {
	if !model.ValidOp(step.Op) {
		result := model.Fail(step.Op, label, attempt, model.CodeFatal, fmt.Sprintf("unsupported op: %s", step.Op))
		logResult(ctx, result)
		return result
	}

	ctx.Log.Event("STEP_START").Str("label", label).Str("op", step.Op).Int("attempt", attempt).Send()

	var result model.StepResult
	switch step.Op {
	case model.OpRead:
		result = performRead(step, ctx, label, attempt)
	case model.OpWrite:
		result = performWrite(step, ctx, label, attempt)
	case model.OpPatchJSON:
		result = performPatchJSON(step, ctx, label, attempt)
	case model.OpRunScript:
		result = performRunScript(step, ctx, label, attempt)
	}

	logResult(ctx, result)
	return result
}

func logResult(ctx Context, result model.StepResult) {
	status := "fail"
	if result.Success {
		status = "success"
	}
	ctx.Log.Event("STEP_DONE").
		Str("label", result.Label).
		Str("op", result.Op).
		Int("attempt", result.Attempt).
		Int("rc", result.Code).
		Str("status", status).
		Send()
	if result.Stdout != "" {
		ctx.Log.Event("STDOUT").Str("label", result.Label).Int("len", len(result.Stdout)).Str("text", result.Stdout).Send()
	}
	if result.Stderr != "" {
		ctx.Log.Event("STDERR").Str("label", result.Label).Int("len", len(result.Stderr)).Str("text", result.Stderr).Send()
	}
}

func performRead(step model.Step, ctx Context, label string, attempt int) model.StepResult {
	decoded, err := model.DecodeArgs(model.OpRead, step.Args)
	if err != nil {
		return model.Fail(model.OpRead, label, attempt, model.CodeFatal, err.Error())
	}
	args := decoded.(model.ReadArgs)

	path, err := sandbox.Resolve(args.Path, ctx.SandboxRoot)
	if err != nil {
		return model.Fail(model.OpRead, label, attempt, model.CodeFatal, err.Error())
	}
	if ctx.DryRun {
		return model.Ok(model.OpRead, label, attempt, fmt.Sprintf("DRY-RUN read %s", path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.Fail(model.OpRead, label, attempt, model.CodeFatal, err.Error())
	}
	return model.Ok(model.OpRead, label, attempt, string(data))
}

func performWrite(step model.Step, ctx Context, label string, attempt int) model.StepResult {
	decoded, err := model.DecodeArgs(model.OpWrite, step.Args)
	if err != nil {
		return model.Fail(model.OpWrite, label, attempt, model.CodeFatal, err.Error())
	}
	args := decoded.(model.WriteArgs)

	path, err := sandbox.Resolve(args.Path, ctx.SandboxRoot)
	if err != nil {
		return model.Fail(model.OpWrite, label, attempt, model.CodeFatal, err.Error())
	}
	if ctx.DryRun {
		return model.Ok(model.OpWrite, label, attempt, fmt.Sprintf("DRY-RUN write to %s", path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.Fail(model.OpWrite, label, attempt, model.CodeFatal, err.Error())
	}
	backup, err := sandbox.Backup(path)
	if err != nil {
		return model.Fail(model.OpWrite, label, attempt, model.CodeFatal, err.Error())
	}
	if backup != "" {
		ctx.Log.Event("BACKUP").Str("path", path).Str("backup", backup).Send()
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return model.Fail(model.OpWrite, label, attempt, model.CodeFatal, err.Error())
	}
	return model.Ok(model.OpWrite, label, attempt, fmt.Sprintf("wrote %d bytes to %s", len(args.Content), path))
}

func performPatchJSON(step model.Step, ctx Context, label string, attempt int) model.StepResult {
	decoded, err := model.DecodeArgs(model.OpPatchJSON, step.Args)
	if err != nil {
		return model.Fail(model.OpPatchJSON, label, attempt, model.CodeFatal, err.Error())
	}
	args := decoded.(model.PatchJSONArgs)

	path, err := sandbox.Resolve(args.Path, ctx.SandboxRoot)
	if err != nil {
		return model.Fail(model.OpPatchJSON, label, attempt, model.CodeFatal, err.Error())
	}

	originalText, err := os.ReadFile(path)
	if err != nil {
		return model.Fail(model.OpPatchJSON, label, attempt, model.CodeFatal, fmt.Sprintf("failed to read json: %v", err))
	}
	var original map[string]any
	if err := json.Unmarshal(originalText, &original); err != nil {
		return model.Fail(model.OpPatchJSON, label, attempt, model.CodeFatal, fmt.Sprintf("failed to read json: %v", err))
	}

	updated := DeepMerge(original, args.Patch)

	schema, err := loadPatchSchema(args.Schema, ctx.SandboxRoot)
	if err != nil {
		return model.Fail(model.OpPatchJSON, label, attempt, model.CodeFatal, fmt.Sprintf("schema load failed: %v", err))
	}
	if schema != nil {
		if err := schema.Validate(toPlainValue(updated)); err != nil {
			return model.Fail(model.OpPatchJSON, label, attempt, model.CodeFatal, fmt.Sprintf("schema validation failed: %v", err))
		}
	}

	if ctx.DryRun {
		return model.Ok(model.OpPatchJSON, label, attempt, fmt.Sprintf("DRY-RUN patch_json %s", path))
	}

	backup, err := sandbox.Backup(path)
	if err != nil {
		return model.Fail(model.OpPatchJSON, label, attempt, model.CodeFatal, err.Error())
	}
	if backup != "" {
		ctx.Log.Event("BACKUP").Str("path", path).Str("backup", backup).Send()
	}

	formatted, err := json.MarshalIndent(updated, "", "  ")
	if err != nil {
		return model.Fail(model.OpPatchJSON, label, attempt, model.CodeFatal, err.Error())
	}
	if err := os.WriteFile(path, formatted, 0o644); err != nil {
		return model.Fail(model.OpPatchJSON, label, attempt, model.CodeFatal, err.Error())
	}
	return model.Ok(model.OpPatchJSON, label, attempt, fmt.Sprintf("patched json at %s", path))
}
