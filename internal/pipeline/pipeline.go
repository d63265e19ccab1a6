// Package pipeline is the conductor: it sequences normalize → validate →
// (on invalid) build-and-validate a compensation plan → execute → classify,
// one run per invocation.
package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/planecraft/saferun/internal/executor"
	"github.com/planecraft/saferun/internal/loader"
	"github.com/planecraft/saferun/internal/model"
	"github.com/planecraft/saferun/internal/normalize"
	"github.com/planecraft/saferun/internal/runlog"
	"github.com/planecraft/saferun/internal/sandbox"
	"github.com/planecraft/saferun/internal/schema"
	"github.com/planecraft/saferun/internal/steps"
)

// Conductor exit codes. 2 (exec blocked) and 4 (execution failure) come
// straight from the executor.
const (
	ExitOK         = 0
	ExitStructural = 1
)

// Options configures one conductor run.
type Options struct {
	TaskPath          string
	DryRun            bool
	AllowExec         bool
	ForceExec         bool
	Reindex           bool
	DumpPlanOnly      bool
	AllowExpectedFail bool

	SandboxRoot string
	ReportsDir  string

	// Out receives the MASTER_DONE line; defaults to os.Stdout.
	Out io.Writer
	// Launcher overrides subprocess invocation in tests.
	Launcher steps.Launcher
	// Env overrides environment lookup in tests; defaults to os.Getenv.
	Env func(string) string
	// Sleep overrides the retry pause in tests.
	Sleep func(time.Duration)
}

// Conductor owns one pipeline run.
type Conductor struct {
	opts      Options
	log       *runlog.Log
	validator *schema.Validator
	runID     string
}

// New builds a conductor around the given per-run log.
func New(opts Options, log *runlog.Log) (*Conductor, error) {
	validator, err := schema.New()
	if err != nil {
		return nil, err
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Conductor{
		opts:      opts,
		log:       log,
		validator: validator,
		runID:     uuid.NewString(),
	}, nil
}

func (c *Conductor) env(key string) string {
	if c.opts.Env != nil {
		return c.opts.Env(key)
	}
	return os.Getenv(key)
}

// Run executes the full pipeline and returns the process exit code.
func (c *Conductor) Run() int {
	finalRC, err := c.run()
	if err != nil {
		if finalRC == ExitOK {
			finalRC = ExitStructural
		}
		c.log.Error("PIPELINE_ERROR").Err(err).Send()
	}
	masterLine := fmt.Sprintf("MASTER_DONE id=%s rc=%d out=%s", c.runID, finalRC, c.log.Path)
	c.log.Event("MASTER_DONE").Str("id", c.runID).Int("rc", finalRC).Str("out", c.log.Path).Send()
	fmt.Fprintln(c.opts.Out, masterLine)
	return finalRC
}

func (c *Conductor) run() (int, error) {
	raw, err := loader.Document(c.opts.TaskPath)
	if err != nil {
		return ExitStructural, err
	}

	c.log.Event("PIPELINE_START").
		Str("id", c.runID).
		Str("task", c.opts.TaskPath).
		Bool("dry_run", c.opts.DryRun).
		Bool("allow_exec", c.opts.AllowExec).
		Send()

	meta := taskMeta(raw)
	planRaw := buildPlanFromTask(raw, c.opts.TaskPath)
	c.logJSON("TASK_JSON", raw)
	c.logJSON("PLAN_RAW", planRaw)

	allowExpected := c.opts.AllowExpectedFail || truthyEnv(c.env("ALLOW_EXPECTED_FAIL"), false)

	if !c.opts.DumpPlanOnly {
		c.ensureIndex(meta)
	}

	plan, rc, err := c.validatedPlan(planRaw, raw)
	if err != nil {
		return rc, err
	}

	adjustPatchStepsForLists(plan, c.log)
	preparePlanInputs(plan, meta, c.log)

	if err := c.writePlan(plan); err != nil {
		return ExitStructural, err
	}

	if c.opts.DumpPlanOnly {
		c.log.Event("DUMP_PLAN_ONLY").Send()
		return ExitOK, nil
	}

	var rcExec int
	if c.opts.DryRun && truthyAny(meta["should_fail"]) {
		c.log.Event("DRY_RUN_SKIP").Str("reason", "meta_should_fail").Send()
	} else {
		rcExec = c.runExecutor(plan, meta)
	}

	finalRC := c.applyExpectedFail(meta, rcExec, allowExpected)
	if finalRC == model.CodeCompensated {
		c.log.Event("COMPENSATED_OK").Int("rc", finalRC).Send()
		finalRC = ExitOK
	}
	if finalRC != ExitOK {
		c.log.Error("EXECUTOR_FAILED").Int("rc", finalRC).Send()
	}
	return finalRC, nil
}

// validatedPlan runs the normalize/validate gate, falling back to the
// compensation plan when the primary plan is structurally invalid.
func (c *Conductor) validatedPlan(planRaw, task map[string]any) (*model.Plan, int, error) {
	bare := normalize.Options{SandboxRoot: c.opts.SandboxRoot}
	withDefaults := normalize.Options{SandboxRoot: c.opts.SandboxRoot, InjectDefaults: true}

	candidate := normalize.Plan(planRaw, bare)
	if err := c.validator.ValidatePlan(candidate); err != nil {
		c.log.Error("CORRUPTED_PLAN").Err(err).Send()
		compensation := normalize.Plan(buildCompensationPlan(planRaw, task), withDefaults)
		if err := c.validator.ValidatePlan(compensation); err != nil {
			c.log.Error("PLAN_VALIDATION_FAIL").Err(err).Send()
			return nil, ExitStructural, fmt.Errorf("compensation plan validation failed: %w", err)
		}
		c.log.Event("PLAN_VALIDATION_OK").Str("plan_id", compensation.PlanID).Bool("compensation", true).Send()
		return compensation, ExitOK, nil
	}

	plan := normalize.Plan(planRaw, withDefaults)
	c.log.Event("PLAN_VALIDATION_OK").Str("plan_id", plan.PlanID).Send()
	return plan, ExitOK, nil
}

// ensureIndex honors the task's index requirements. Retrieval indexing is an
// external collaborator; the conductor only records the decision.
func (c *Conductor) ensureIndex(meta map[string]any) {
	if value, ok := meta["require_index"].(bool); ok && !value {
		c.log.Event("INDEX_SKIP").Str("reason", "meta require_index=false").Send()
		return
	}
	if c.opts.Reindex {
		c.log.Event("INDEX_REQUESTED").Str("reason", "reindex flag set").Send()
		return
	}
	c.log.Event("INDEX_SKIP").Str("reason", "existing index assumed").Send()
}

// runExecutor hands the validated plan to the execution engine, honoring the
// exec gate and the transient/concurrency simulation knobs.
func (c *Conductor) runExecutor(plan *model.Plan, meta map[string]any) int {
	allowExec := c.allowExecEffective()
	if c.opts.DryRun {
		// Nothing executes in a dry run; the gate stays out of the way so
		// previews cover run_script steps too.
		allowExec = true
	}
	c.log.Event("EXEC_GATE").
		Bool("allow_exec_cli", c.opts.AllowExec).
		Bool("force_exec", c.opts.ForceExec).
		Str("protected", c.env("PROTECTED_BRANCH")).
		Bool("effective", allowExec).
		Send()

	ctx := steps.Context{
		SandboxRoot: c.opts.SandboxRoot,
		AllowExec:   allowExec,
		DryRun:      c.opts.DryRun,
		Log:         c.log,
		Launcher:    c.opts.Launcher,
	}
	engine := executor.New(ctx)
	if c.opts.Sleep != nil {
		engine.Sleep = c.opts.Sleep
	}

	c.log.Event("RUN_START").Str("id", c.runID).Str("plan", plan.PlanID).
		Bool("dry_run", c.opts.DryRun).Bool("allow_exec", allowExec).Send()

	var rc int
	switch {
	case truthyAny(meta["simulate_transient"]):
		first := engine.Run(plan)
		if first == ExitOK {
			c.log.Event("SIMULATE_TRANSIENT").Str("reason", "forcing retry despite rc=0").Send()
		}
		engine.Sleep(2 * time.Second)
		c.log.Event("RETRY").Str("label", "executor-retry").Int("attempt", 2).Send()
		rc = engine.Run(plan)
	case truthyAny(meta["simulate_concurrent"]):
		if lockPath, err := sandbox.Lock(c.opts.SandboxRoot, c.runID); err == nil {
			c.log.Event("CONCURRENCY_LOCK").Str("path", lockPath).Send()
		}
		rc = engine.Run(plan)
		sandbox.Unlock(c.opts.SandboxRoot)
	default:
		rc = engine.Run(plan)
	}

	c.log.Event("RUN_END").Int("rc", rc).Send()
	return rc
}

// writePlan records the executed plan verbatim for auditability.
func (c *Conductor) writePlan(plan *model.Plan) error {
	if err := os.MkdirAll(c.opts.ReportsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create reports dir: %w", err)
	}
	path := filepath.Join(c.opts.ReportsDir, "plan-"+uuid.NewString()+".json")
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	c.log.Event("PLAN_WRITTEN").Str("path", path).Send()
	c.log.Event("PLAN_JSON").RawJSON("plan", mustCompact(data)).Send()
	return nil
}

func (c *Conductor) logJSON(event string, doc map[string]any) {
	data, err := json.Marshal(doc)
	if err != nil {
		data = []byte("{}")
	}
	c.log.Event(event).RawJSON("doc", data).Send()
}

func mustCompact(data []byte) []byte {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return []byte("{}")
	}
	compact, err := json.Marshal(value)
	if err != nil {
		return []byte("{}")
	}
	return compact
}
