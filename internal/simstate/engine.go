package simstate

import "fmt"

// Simulated-step effects. There is no generic interpreter, only these four.
const (
	CallAppendLog      = "append_log"
	CallOpenWindow     = "open_window"
	CallWriteClipboard = "write_clipboard"
	CallUpdateSetting  = "update_setting"
)

// Step is one simulated operation with the state fragment it promises will
// hold after application.
type Step struct {
	Label  string         `json:"step_label"`
	Call   string         `json:"api_call"`
	Args   map[string]any `json:"args,omitempty"`
	Expect map[string]any `json:"expected_state,omitempty"`
}

// Plan is an ordered simulated-step sequence.
type Plan struct {
	Intent     string         `json:"intent"`
	Slots      map[string]any `json:"slots,omitempty"`
	Steps      []Step         `json:"steps"`
	Sources    []string       `json:"sources,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

// RunResult is what Run and Undo return. On mismatch, Expected and Current
// carry both sides of the failed comparison.
type RunResult struct {
	Applied      bool                 `json:"applied"`
	Reason       string               `json:"reason,omitempty"`
	Expected     map[string]any       `json:"expected,omitempty"`
	Current      Document             `json:"current,omitempty"`
	State        Document             `json:"state,omitempty"`
	AppliedSteps []string             `json:"applied_steps,omitempty"`
	Diff         map[string]FieldDiff `json:"diff,omitempty"`
}

// DryRunResult is the before/after pair a dry run computes without touching
// live state.
type DryRunResult struct {
	OriginalState  Document             `json:"original_state"`
	PredictedState Document             `json:"predicted_state"`
	Diff           map[string]FieldDiff `json:"diff"`
	Steps          []string             `json:"steps"`
}

// ReasonStateMismatch is the structured failure reason for a failed
// expected-state verification.
const ReasonStateMismatch = "STATE_MISMATCH"

// Engine owns the live document and its checkpoint history. Construct one
// per run or test; Snapshot, Checkpoint, Restore and the step application in
// Run are its only mutation surface.
type Engine struct {
	state   Document
	history []Document
}

// NewEngine starts from the default document.
func NewEngine() *Engine {
	return &Engine{state: DefaultDocument()}
}

// Snapshot returns a deep copy of the live document.
func (e *Engine) Snapshot() Document {
	return e.state.Copy()
}

// Checkpoint pushes a snapshot onto the history stack.
func (e *Engine) Checkpoint() {
	e.history = append(e.history, e.Snapshot())
}

// Restore pops the most recent checkpoint into the live document. With an
// empty history it returns the current state unchanged.
func (e *Engine) Restore() Document {
	if len(e.history) == 0 {
		return e.Snapshot()
	}
	last := len(e.history) - 1
	e.state = e.history[last]
	e.history = e.history[:last]
	return e.Snapshot()
}

// Run pushes a checkpoint, applies steps in order with the look-back
// expectation check, and on any mismatch restores the checkpoint and
// returns a STATE_MISMATCH result. The live document is never left
// partially mutated on mismatch.
func (e *Engine) Run(plan Plan) RunResult {
	before := e.Snapshot()
	e.Checkpoint()

	var previousExpect map[string]any
	applied := make([]string, 0, len(plan.Steps))

	for _, step := range plan.Steps {
		if previousExpect != nil && !e.state.Matches(previousExpect) {
			return e.mismatch(previousExpect)
		}
		apply(e.state, step)
		applied = append(applied, step.Label)
		previousExpect = step.Expect
		if previousExpect == nil {
			previousExpect = map[string]any{}
		}
	}
	if previousExpect != nil && !e.state.Matches(previousExpect) {
		return e.mismatch(previousExpect)
	}

	current := e.Snapshot()
	return RunResult{
		Applied:      true,
		State:        current,
		AppliedSteps: applied,
		Diff:         Diff(before, current),
	}
}

func (e *Engine) mismatch(expected map[string]any) RunResult {
	current := e.Snapshot()
	e.Restore()
	return RunResult{
		Applied:  false,
		Reason:   ReasonStateMismatch,
		Expected: expected,
		Current:  current,
	}
}

// Undo pops one checkpoint and replaces the live document with it.
func (e *Engine) Undo() RunResult {
	return RunResult{Applied: true, State: e.Restore()}
}

// DryRun applies all steps to a private copy and reports the before/after
// pair and field-level diff without mutating live state.
func (e *Engine) DryRun(plan Plan) DryRunResult {
	original := e.Snapshot()
	simulated := e.Snapshot()

	labels := make([]string, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		apply(simulated, step)
		labels = append(labels, step.Label)
	}
	return DryRunResult{
		OriginalState:  original,
		PredictedState: simulated,
		Diff:           Diff(original, simulated),
		Steps:          labels,
	}
}

// apply merges one step's declared effect into the document according to its
// operation tag.
func apply(state Document, step Step) {
	args := step.Args
	if args == nil {
		args = map[string]any{}
	}

	switch step.Call {
	case CallAppendLog:
		logs, _ := state["logs"].([]any)
		message, _ := args["message"].(string)
		state["logs"] = append(logs, message)
	case CallOpenWindow:
		windows, _ := state["windows"].([]any)
		window, ok := args["window"].(map[string]any)
		if !ok {
			title, _ := args["title"].(string)
			if title == "" {
				title = "Window"
			}
			window = map[string]any{
				"id":     fmt.Sprintf("win-%d", len(windows)+1),
				"title":  title,
				"active": true,
			}
		}
		state["windows"] = append(windows, deepCopy(window))
	case CallWriteClipboard:
		text, _ := args["text"].(string)
		state["clipboard"] = text
	case CallUpdateSetting:
		settings, ok := state["settings"].(map[string]any)
		if !ok {
			settings = map[string]any{}
			state["settings"] = settings
		}
		key, _ := args["key"].(string)
		if key == "" {
			key = "unknown"
		}
		settings[key] = args["value"]
	}
}
