package steps

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/planecraft/saferun/internal/model"
	"github.com/planecraft/saferun/internal/sandbox"
)

// Launcher abstracts interpreter discovery and subprocess invocation so
// shell selection can be simulated deterministically in tests.
type Launcher interface {
	LookPath(name string) (string, error)
	Run(name string, args []string, dir string) (code int, stdout, stderr string, err error)
}

// ExecLauncher is the production Launcher backed by os/exec.
type ExecLauncher struct{}

func (ExecLauncher) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (ExecLauncher) Run(name string, args []string, dir string) (int, string, string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), stdout.String(), stderr.String(), nil
		}
		return 0, stdout.String(), stderr.String(), err
	}
	return 0, stdout.String(), stderr.String(), nil
}

// shellCandidate pairs an interpreter name with the base invocation used for
// both script files and inline bodies.
type shellCandidate struct {
	name string
	argv []string
}

var (
	powershellShells = []shellCandidate{
		{name: "pwsh", argv: []string{"-NoLogo", "-NonInteractive"}},
		{name: "powershell", argv: []string{"-NoLogo", "-NonInteractive"}},
	}
	posixShells = []shellCandidate{
		{name: "bash"},
		{name: "sh"},
	}
)

// chooseShell resolves the interpreter for a run_script step. A hint narrows
// the candidate family; without one the full ordered list is tried. The
// first interpreter the launcher can find wins.
func chooseShell(hint string, launcher Launcher) (shellCandidate, error) {
	var candidates []shellCandidate
	switch strings.ToLower(hint) {
	case "pwsh", "powershell", "ps":
		candidates = powershellShells
	case "bash", "sh":
		candidates = posixShells
	default:
		candidates = append(append([]shellCandidate{}, powershellShells...), posixShells...)
	}

	for _, candidate := range candidates {
		if _, err := launcher.LookPath(candidate.name); err == nil {
			return candidate, nil
		}
	}
	return shellCandidate{}, fmt.Errorf("no shell available for run_script")
}

func isPosix(shell shellCandidate) bool {
	return shell.name == "bash" || shell.name == "sh"
}

func performRunScript(step model.Step, ctx Context, label string, attempt int) model.StepResult {
	if !ctx.AllowExec {
		return model.Fail(model.OpRunScript, label, attempt, model.CodeExecBlocked, "run_script blocked: --allow-exec not set")
	}

	decoded, err := model.DecodeArgs(model.OpRunScript, step.Args)
	if err != nil {
		return model.Fail(model.OpRunScript, label, attempt, model.CodeFatal, err.Error())
	}
	args := decoded.(model.RunScriptArgs)

	scriptPath := ""
	if args.Path != "" {
		resolved, err := sandbox.Resolve(args.Path, ctx.SandboxRoot)
		if err != nil {
			return model.Fail(model.OpRunScript, label, attempt, model.CodeFatal, err.Error())
		}
		scriptPath = resolved
	}

	shell, err := chooseShell(args.Shell, ctx.launcher())
	if err != nil {
		return model.Fail(model.OpRunScript, label, attempt, model.CodeFatal, err.Error())
	}

	if ctx.DryRun {
		location := "<inline>"
		if scriptPath != "" {
			location = scriptPath
		}
		return model.Ok(model.OpRunScript, label, attempt, fmt.Sprintf("DRY-RUN run_script %s using %s", location, shell.name))
	}

	argv := append([]string{}, shell.argv...)
	switch {
	case scriptPath != "" && isPosix(shell):
		argv = append(argv, scriptPath)
	case scriptPath != "":
		argv = append(argv, "-File", scriptPath)
	case isPosix(shell):
		argv = append(argv, "-lc", args.Script)
	default:
		argv = append(argv, "-Command", args.Script)
	}

	code, stdout, stderr, err := ctx.launcher().Run(shell.name, argv, ctx.SandboxRoot)
	if err != nil {
		return model.Fail(model.OpRunScript, label, attempt, model.CodeFatal, err.Error())
	}
	return model.StepResult{
		Success: code == 0,
		Code:    code,
		Stdout:  stdout,
		Stderr:  stderr,
		Attempt: attempt,
		Label:   label,
		Op:      model.OpRunScript,
	}
}
