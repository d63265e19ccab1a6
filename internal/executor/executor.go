// Package executor runs canonical plans step by step with bounded retry and
// saga-style compensation.
package executor

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/planecraft/saferun/internal/model"
	"github.com/planecraft/saferun/internal/steps"
)

// retryDelay is the fixed pause before the single extra attempt. No backoff
// beyond this.
const retryDelay = 2 * time.Second

// Engine executes one plan at a time against a single execution context.
type Engine struct {
	Ctx steps.Context

	// Sleep is swappable so tests do not wait out the retry delay.
	Sleep func(time.Duration)
}

// New builds an engine over the given context.
func New(ctx steps.Context) *Engine {
	return &Engine{Ctx: ctx, Sleep: time.Sleep}
}

// ExecuteWithRetry invokes a step once, and once more if the first attempt
// failed with anything other than the exec-blocked gate. The limit is fixed
// at one extra attempt; a step's own retry.limit is a hint for higher-level
// callers, not enforced here.
func (e *Engine) ExecuteWithRetry(step model.Step, label string) model.StepResult {
	result := steps.Execute(step, e.Ctx, label, 1)
	if result.Success || result.Code == model.CodeExecBlocked {
		return result
	}

	e.Ctx.Log.Event("RETRY").Str("label", label).Int("attempt", 2).Send()
	e.Sleep(retryDelay)
	return steps.Execute(step, e.Ctx, label, 2)
}

// RunCompensation executes every compensating step through the retry
// controller, continuing past individual failures, and reports whether all
// of them succeeded. It never raises; every result is logged by the
// handlers.
func (e *Engine) RunCompensation(compensation []model.Step) bool {
	allOK := true
	for i, step := range compensation {
		label := step.ID
		if label == "" {
			label = "compensate-" + strconv.Itoa(i+1)
		}
		if result := e.ExecuteWithRetry(step, label); !result.Success {
			allOK = false
		}
	}
	return allOK
}

// Run executes the plan's steps strictly in order. The first failing step
// halts the sequence; declared compensation runs before returning. The
// return value is the executor exit code: 0 ok, 2 blocked, 3 compensated,
// 4 failed or structural error.
func (e *Engine) Run(plan *model.Plan) int {
	if plan == nil || len(plan.Steps) == 0 {
		e.Ctx.Log.Error("PLAN_ERROR").Str("reason", "missing steps list").Send()
		return model.CodeFatal
	}

	finalRC := model.CodeOK
	for i, step := range plan.Steps {
		label := step.Label(i)
		result := e.ExecuteWithRetry(step, label)
		if result.Success {
			continue
		}

		finalRC = model.CodeFatal
		if result.Code == model.CodeExecBlocked {
			finalRC = model.CodeExecBlocked
		}

		compensation := compensationSteps(step, plan)
		if len(compensation) > 0 {
			e.logCompensation(label, compensation)
			if e.RunCompensation(compensation) && finalRC != model.CodeExecBlocked {
				finalRC = model.CodeCompensated
			}
			e.Ctx.Log.Event("COMPENSATE_DONE").Str("for", label).Send()
		}
		break
	}
	return finalRC
}

// compensationSteps picks the compensating sequence for a failed step: the
// step's own on_fail list first, then the plan's metadata.compensate.
func compensationSteps(step model.Step, plan *model.Plan) []model.Step {
	if len(step.OnFail) > 0 {
		return step.OnFail
	}
	return MetadataCompensation(plan.Metadata)
}

// MetadataCompensation decodes the metadata.compensate step list, if any.
func MetadataCompensation(metadata map[string]any) []model.Step {
	raw, ok := metadata["compensate"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var decoded []model.Step
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil
	}
	return decoded
}

// logCompensation records the compensating sequence verbatim before it runs,
// for auditability.
func (e *Engine) logCompensation(forLabel string, compensation []model.Step) {
	payload, err := json.Marshal(compensation)
	if err != nil {
		payload = []byte("[]")
	}
	e.Ctx.Log.Event("COMPENSATE_START").Str("for", forLabel).RawJSON("steps", payload).Send()
}
