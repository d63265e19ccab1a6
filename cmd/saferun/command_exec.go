package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/planecraft/saferun/internal/executor"
	"github.com/planecraft/saferun/internal/loader"
	"github.com/planecraft/saferun/internal/normalize"
	"github.com/planecraft/saferun/internal/runlog"
	"github.com/planecraft/saferun/internal/sandbox"
	"github.com/planecraft/saferun/internal/steps"
	"github.com/spf13/cobra"
)

var (
	execPlanFile  string
	execDryRun    bool
	execAllowExec bool
	execRunID     string
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute a plan against the sandbox",
	Long:  "Execute the steps of a plan file in order. Mutating steps back up their target first; a failed step triggers any declared compensation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return execPlan()
	},
}

func registerExecCommand(root *cobra.Command) {
	root.AddCommand(execCmd)

	execCmd.Flags().StringVarP(&execPlanFile, "plan", "p", "", "Path to plan file (json or yaml)")
	execCmd.Flags().BoolVar(&execDryRun, "dry-run", false, "Preview actions without changing disk")
	execCmd.Flags().BoolVar(&execAllowExec, "allow-exec", false, "Allow run_script steps to execute")
	execCmd.Flags().StringVar(&execRunID, "id", "", "Optional run id")
	execCmd.MarkFlagRequired("plan")
}

func execPlan() error {
	root, err := sandbox.Ensure(sandboxBase())
	if err != nil {
		return err
	}

	runID := execRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	logPath := filepath.Join(reportsDir, fmt.Sprintf("executor-%s.log", runID))
	log, err := runlog.New(logPath, verbose)
	if err != nil {
		return err
	}
	defer log.Close()

	raw, err := loader.Document(execPlanFile)
	if err != nil {
		log.Error("PLAN_LOAD_ERROR").Err(err).Send()
		fmt.Printf("MASTER_DONE id=%s rc=4 out=%s\n", runID, logPath)
		exitCode = 4
		return nil
	}

	plan := normalize.Plan(raw, normalize.Options{SandboxRoot: root, InjectDefaults: true})

	log.Event("RUN_START").Str("id", runID).Str("plan", execPlanFile).
		Bool("dry_run", execDryRun).Bool("allow_exec", execAllowExec).Send()

	engine := executor.New(steps.Context{
		SandboxRoot: root,
		AllowExec:   execAllowExec,
		DryRun:      execDryRun,
		Log:         log,
	})
	rc := engine.Run(plan)

	log.Event("RUN_END").Int("rc", rc).Send()
	fmt.Printf("MASTER_DONE id=%s rc=%d out=%s\n", runID, rc, logPath)
	exitCode = rc
	return nil
}
