package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/planecraft/saferun/internal/model"
	"github.com/planecraft/saferun/internal/runlog"
)

// adjustPatchStepsForLists rewrites a patch_json step whose target document
// is a JSON array into a plain write of the appended list. Object merge
// semantics do not apply to lists; the patch's bulk_add/append entries are
// concatenated instead.
func adjustPatchStepsForLists(plan *model.Plan, log *runlog.Log) {
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Op != model.OpPatchJSON {
			continue
		}
		path, _ := step.Args["path"].(string)
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var current []any
		if err := json.Unmarshal(data, &current); err != nil {
			continue
		}

		var additions []any
		if patch, ok := step.Args["patch"].(map[string]any); ok {
			additions, _ = patch["bulk_add"].([]any)
			if additions == nil {
				additions, _ = patch["append"].([]any)
			}
		}

		updated := append(current, additions...)
		content, err := json.MarshalIndent(updated, "", "  ")
		if err != nil {
			continue
		}

		step.Op = model.OpWrite
		step.Args = map[string]any{"path": path, "content": string(content)}
		log.Event("ADJUST_PATCH_FOR_LIST").Str("path", path).Int("items", len(additions)).Send()
	}
}

// preparePlanInputs pre-creates missing patch_json targets as empty objects
// so a patch against a fresh sandbox has a document to merge into. Skipped
// for intentionally-failing tasks and for anything under a protected
// segment.
func preparePlanInputs(plan *model.Plan, meta map[string]any, log *runlog.Log) {
	if truthyAny(meta["should_fail"]) {
		return
	}
	for _, step := range plan.Steps {
		if step.Op != model.OpPatchJSON {
			continue
		}
		path, _ := step.Args["path"].(string)
		if path == "" || hasProtectedSegment(path) {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			continue
		}
		if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
			continue
		}
		log.Event("PREPARED").Str("path", path).Send()
	}
}

func hasProtectedSegment(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "protected" {
			return true
		}
	}
	return false
}
