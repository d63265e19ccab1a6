// Package normalize flattens heterogeneous task and plan shapes into the
// canonical plan schema: stable operation names, one argument shape, paths
// anchored to the sandbox root, defaults injected on request.
package normalize

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/planecraft/saferun/internal/model"
)

// Options controls a normalization pass.
type Options struct {
	// SandboxRoot anchors every relative path immediately, so later stages
	// never re-resolve a relative path ambiguously.
	SandboxRoot string
	// InjectDefaults adds the default expectation {status: "ok"} to steps
	// that declare none.
	InjectDefaults bool
}

// legacyOps maps legacy operation names to canonical ones.
var legacyOps = map[string]string{
	"patch":      model.OpPatchJSON,
	"run":        model.OpRunScript,
	"read":       model.OpRead,
	"write":      model.OpWrite,
	"patch_json": model.OpPatchJSON,
	"run_script": model.OpRunScript,
}

// Plan turns a raw task or plan document into a canonical plan. Normalizing
// an already-normalized plan is a no-op apart from identifier stability.
func Plan(raw map[string]any, opts Options) *model.Plan {
	plan := &model.Plan{
		PlanID:   stringField(raw, "plan_id"),
		Metadata: map[string]any{},
	}
	if plan.PlanID == "" {
		plan.PlanID = "plan-" + uuid.NewString()
	}
	if metadata, ok := raw["metadata"].(map[string]any); ok {
		plan.Metadata = metadata
	}

	for _, step := range flattenSteps(raw["steps"]) {
		plan.Steps = append(plan.Steps, adaptStep(step, opts))
	}

	canonicalizeCompensation(plan.Metadata, opts)
	return plan
}

// canonicalizeCompensation adapts the plan-level compensation step list in
// place, so the executor sees canonical steps when it falls back to
// metadata.compensate at runtime.
func canonicalizeCompensation(metadata map[string]any, opts Options) {
	list, ok := metadata["compensate"].([]any)
	if !ok || len(list) == 0 {
		return
	}
	adapted := make([]any, 0, len(list))
	for _, entry := range list {
		sub, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		step := adaptStep(sub, opts)
		data, err := json.Marshal(step)
		if err != nil {
			continue
		}
		var wire map[string]any
		if err := json.Unmarshal(data, &wire); err != nil {
			continue
		}
		adapted = append(adapted, wire)
	}
	metadata["compensate"] = adapted
}

// flattenSteps walks nested steps arrays depth-first, discarding each
// nesting wrapper but keeping every leaf step.
func flattenSteps(raw any) []map[string]any {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}

	var flattened []map[string]any
	for _, entry := range list {
		step, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		leaf := make(map[string]any, len(step))
		for key, value := range step {
			if key != "steps" {
				leaf[key] = value
			}
		}
		if len(leaf) > 0 {
			flattened = append(flattened, leaf)
		}
		flattened = append(flattened, flattenSteps(step["steps"])...)
	}
	return flattened
}

func adaptStep(step map[string]any, opts Options) model.Step {
	op := stringField(step, "op")
	if op == "" {
		op = stringField(step, "action")
	}
	if canonical, ok := legacyOps[op]; ok {
		op = canonical
	}

	args := map[string]any{}
	if rawArgs, ok := step["args"].(map[string]any); ok {
		for key, value := range rawArgs {
			args[key] = value
		}
	}
	for _, key := range []string{"target", "path", "file"} {
		if value, ok := step[key]; ok {
			if _, present := args[key]; !present {
				args[key] = value
			}
		}
	}
	if target := targetPath(args); target != "" {
		args["path"] = anchorPath(target, opts.SandboxRoot)
		delete(args, "target")
		delete(args, "file")
	}
	if patch, ok := step["patch"]; ok {
		if _, present := args["patch"]; !present {
			args["patch"] = patch
		}
	}
	if updates, ok := args["updates"]; ok {
		if _, present := args["patch"]; !present {
			args["patch"] = updates
		}
		delete(args, "updates")
	}
	if content, ok := step["content"]; ok {
		if _, present := args["content"]; !present {
			args["content"] = content
		}
	}

	normalized := model.Step{
		ID:          stepID(step),
		Op:          op,
		Args:        args,
		Description: stringField(step, "description"),
		SafeWrite:   boolField(step, "safe_write"),
		Produces:    stringList(step["produces"]),
		Requires:    stringList(step["requires"]),
	}

	if expect, ok := step["expect"].(map[string]any); ok {
		normalized.Expect = expect
	} else if opts.InjectDefaults {
		normalized.Expect = map[string]any{"status": "ok"}
	}

	if retry, ok := step["retry"]; ok {
		normalized.Retry = retryPolicy(retry)
	}

	onFail := step["on_fail"]
	if onFail == nil {
		// Legacy plans declare step-level compensation as "compensate".
		onFail = step["compensate"]
	}
	if list, ok := onFail.([]any); ok {
		for _, entry := range list {
			if sub, ok := entry.(map[string]any); ok {
				normalized.OnFail = append(normalized.OnFail, adaptStep(sub, opts))
			}
		}
	}

	return normalized
}

// targetPath finds the step's path under any of its accepted aliases.
func targetPath(args map[string]any) string {
	for _, key := range []string{"target", "path", "file"} {
		if value, ok := args[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// anchorPath resolves a raw target against the sandbox root. A leading
// "sandbox/" segment on relative paths is the legacy way of naming the root
// and is stripped.
func anchorPath(raw, root string) string {
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	rel := filepath.ToSlash(raw)
	if rel == "sandbox" {
		rel = "."
	} else {
		rel = strings.TrimPrefix(rel, "sandbox/")
	}
	return filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
}

func stepID(step map[string]any) string {
	for _, key := range []string{"id", "label", "name"} {
		if value := stringField(step, key); value != "" {
			return value
		}
	}
	return "step-" + uuid.NewString()
}

func retryPolicy(raw any) *model.RetryPolicy {
	switch value := raw.(type) {
	case float64:
		return &model.RetryPolicy{Limit: int(value)}
	case int:
		return &model.RetryPolicy{Limit: value}
	case map[string]any:
		policy := &model.RetryPolicy{
			Backoff:   stringField(value, "backoff"),
			Predicate: stringField(value, "predicate"),
		}
		switch limit := value["limit"].(type) {
		case float64:
			policy.Limit = int(limit)
		case int:
			policy.Limit = limit
		}
		return policy
	default:
		return nil
	}
}

func stringField(m map[string]any, key string) string {
	value, _ := m[key].(string)
	return value
}

func boolField(m map[string]any, key string) bool {
	value, _ := m[key].(bool)
	return value
}

func stringList(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, entry := range list {
		if value, ok := entry.(string); ok {
			out = append(out, value)
		}
	}
	return out
}
