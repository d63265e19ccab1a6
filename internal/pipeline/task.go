package pipeline

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// isCanonical reports whether a raw task is already a canonical plan.
func isCanonical(raw map[string]any) bool {
	for _, key := range []string{"plan_id", "steps", "metadata"} {
		if _, ok := raw[key]; !ok {
			return false
		}
	}
	return true
}

// taskMeta extracts the task's free-form meta block. Canonical plans carry
// their knobs in metadata directly.
func taskMeta(raw map[string]any) map[string]any {
	if isCanonical(raw) {
		if metadata, ok := raw["metadata"].(map[string]any); ok {
			return metadata
		}
		return map[string]any{}
	}
	if meta, ok := raw["meta"].(map[string]any); ok {
		return meta
	}
	return map[string]any{}
}

// buildPlanFromTask turns a free-form task description into a raw plan
// document. Canonical plans pass through untouched.
func buildPlanFromTask(raw map[string]any, taskPath string) map[string]any {
	if isCanonical(raw) {
		return raw
	}

	meta := taskMeta(raw)
	input, _ := raw["input"].(map[string]any)
	if input == nil {
		input = map[string]any{}
	}

	script, _ := input["script"].(string)
	if script != "" && runtime.GOOS == "windows" && strings.HasSuffix(script, ".sh") {
		script = strings.TrimSuffix(script, ".sh") + ".ps1"
	}

	target := firstString(input, "file", "path")
	if target == "" {
		target = script
	}
	if target == "" {
		target = "sandbox/input.json"
	}

	patch, _ := input["patch"].(map[string]any)
	if patch == nil {
		patch, _ = input["updates"].(map[string]any)
	}

	expect := map[string]any{"status": "ok"}
	if rawExpect, ok := raw["expect"].(map[string]any); ok {
		for key, value := range rawExpect {
			expect[key] = value
		}
	}

	taskID, _ := raw["task_id"].(string)
	planID := taskID
	if planID == "" {
		planID = "plan-" + uuid.NewString()
	}
	description, _ := raw["description"].(string)

	metadata := map[string]any{
		"task_source": taskPath,
		"created_by":  "conductor",
		"description": description,
		"meta":        meta,
	}

	var planSteps []any
	if truthyAny(meta["force_corrupt_plan"]) {
		// Deliberately omits the expectation so validation fails and the
		// compensation path is exercised.
		planSteps = append(planSteps, map[string]any{
			"id":   "corrupt-step",
			"op":   "patch",
			"args": map[string]any{"target": target, "patch": patch},
		})
		metadata["compensate"] = []any{
			map[string]any{
				"id":     "compensate-patch",
				"op":     "patch",
				"args":   map[string]any{"target": target, "patch": patch},
				"expect": expect,
			},
		}
	} else {
		if len(patch) > 0 {
			planSteps = append(planSteps, map[string]any{
				"id":         "apply-patch",
				"op":         "patch",
				"args":       map[string]any{"target": target, "patch": patch},
				"expect":     expect,
				"safe_write": truthyAny(meta["safe_write"]) || strings.HasSuffix(taskID, "safe-write-conflict"),
			})
		}
		if content, ok := input["content"]; ok {
			planSteps = append(planSteps, map[string]any{
				"id":     "write-content",
				"op":     "write",
				"args":   map[string]any{"target": target, "content": content},
				"expect": expect,
			})
		}
	}

	if script != "" {
		shell, _ := input["shell"].(string)
		if shell == "" {
			switch strings.ToLower(filepath.Ext(script)) {
			case ".sh":
				shell = "bash"
			case ".ps1":
				shell = "powershell"
			}
		}
		planSteps = append(planSteps, map[string]any{
			"id":     "run-script",
			"op":     "run",
			"args":   map[string]any{"target": script, "shell": shell},
			"expect": expect,
		})
	}

	if len(planSteps) == 0 {
		planSteps = append(planSteps, map[string]any{
			"id":     "noop-read",
			"op":     "read",
			"args":   map[string]any{"target": target},
			"expect": expect,
		})
	}

	return map[string]any{
		"plan_id":  planID,
		"steps":    planSteps,
		"metadata": metadata,
	}
}

// buildCompensationPlan derives the substitute plan used when the primary
// plan fails validation: the plan's declared compensation steps when
// present, otherwise a synthesized fallback patch against the task's own
// target.
func buildCompensationPlan(planRaw, task map[string]any) map[string]any {
	metadata, _ := planRaw["metadata"].(map[string]any)
	if metadata == nil {
		metadata = map[string]any{}
	}

	compensate, _ := metadata["compensate"].([]any)
	if len(compensate) == 0 {
		compensate, _ = planRaw["compensate"].([]any)
	}
	if len(compensate) == 0 {
		input, _ := task["input"].(map[string]any)
		if input == nil {
			input = map[string]any{}
		}
		target := firstString(input, "file", "path", "script")
		if target == "" {
			target = "sandbox/input.json"
		}
		patch, _ := input["patch"].(map[string]any)
		if patch == nil {
			patch, _ = input["updates"].(map[string]any)
		}
		if patch == nil {
			patch = map[string]any{}
		}
		expect := map[string]any{"status": "ok"}
		if rawExpect, ok := task["expect"].(map[string]any); ok {
			for key, value := range rawExpect {
				expect[key] = value
			}
		}
		compensate = []any{
			map[string]any{
				"id":     "fallback-patch",
				"op":     "patch",
				"args":   map[string]any{"target": target, "patch": patch},
				"expect": expect,
			},
		}
	}

	planID, _ := planRaw["plan_id"].(string)
	if planID == "" {
		planID = "plan"
	}
	compMetadata := map[string]any{}
	for key, value := range metadata {
		compMetadata[key] = value
	}
	compMetadata["compensate_used"] = true

	return map[string]any{
		"plan_id":  planID + "-compensate",
		"metadata": compMetadata,
		"steps":    compensate,
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := m[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
