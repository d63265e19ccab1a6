package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/planecraft/saferun/internal/pipeline"
	"github.com/planecraft/saferun/internal/runlog"
	"github.com/planecraft/saferun/internal/sandbox"
	"github.com/spf13/cobra"
)

var (
	taskFile          string
	dryRun            bool
	allowExec         bool
	forceExec         bool
	reindex           bool
	dumpPlanOnly      bool
	allowExpectedFail bool
	sandboxDir        string
	reportsDir        string
	verbose           bool
)

var exitCode int

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Pipeline conductor: task → plan → sandboxed execution",
	Long:  "conductor normalizes a task into a canonical plan, validates it, builds a compensation plan when validation fails, and hands the result to the plan executor.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&taskFile, "task", "t", "", "Path to task file (json or yaml)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run the executor in dry-run mode")
	rootCmd.Flags().BoolVar(&allowExec, "allow-exec", false, "Allow run_script steps during execution")
	rootCmd.Flags().BoolVar(&forceExec, "force-exec", false, "Force allow exec regardless of env gating")
	rootCmd.Flags().BoolVar(&reindex, "reindex", false, "Request a retrieval index rebuild")
	rootCmd.Flags().BoolVar(&dumpPlanOnly, "dump-plan-only", false, "Write the normalized plan and exit without executing")
	rootCmd.Flags().BoolVar(&allowExpectedFail, "allow-expected-fail", false, "Treat meta.should_fail tasks as expected failures")
	rootCmd.Flags().StringVar(&sandboxDir, "sandbox", "", "Sandbox root (default: discovered next to the task, SAFERUN_SANDBOX_ROOT overrides)")
	rootCmd.Flags().StringVar(&reportsDir, "reports", "reports", "Directory for run logs and plan dumps")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Mirror run log events to stderr")
	rootCmd.MarkFlagRequired("task")
}

func runPipeline() error {
	root, err := sandbox.Ensure(resolveSandbox())
	if err != nil {
		return err
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	logPath := filepath.Join(reportsDir, fmt.Sprintf("pipeline-%s.log", timestamp))
	log, err := runlog.New(logPath, verbose)
	if err != nil {
		return err
	}
	defer log.Close()

	conductor, err := pipeline.New(pipeline.Options{
		TaskPath:          taskFile,
		DryRun:            dryRun,
		AllowExec:         allowExec,
		ForceExec:         forceExec,
		Reindex:           reindex,
		DumpPlanOnly:      dumpPlanOnly,
		AllowExpectedFail: allowExpectedFail,
		SandboxRoot:       root,
		ReportsDir:        reportsDir,
	}, log)
	if err != nil {
		return err
	}

	exitCode = conductor.Run()
	return nil
}

// resolveSandbox picks the sandbox root: environment override first, then
// the flag, then a sandbox directory discovered next to the task file, then
// the working directory default.
func resolveSandbox() string {
	if override := os.Getenv("SAFERUN_SANDBOX_ROOT"); override != "" {
		return override
	}
	if sandboxDir != "" {
		return sandboxDir
	}
	candidate := filepath.Join(filepath.Dir(filepath.Dir(taskFile)), "sandbox")
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate
	}
	return "sandbox"
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}
