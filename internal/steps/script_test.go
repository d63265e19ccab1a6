package steps

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/planecraft/saferun/internal/model"
)

// fakeLauncher simulates interpreter discovery and subprocess runs.
type fakeLauncher struct {
	available map[string]bool
	code      int
	stdout    string
	stderr    string

	runs     int
	lastName string
	lastArgs []string
	lastDir  string
}

func (f *fakeLauncher) LookPath(name string) (string, error) {
	if f.available[name] {
		return "/usr/bin/" + name, nil
	}
	return "", errors.New("not found")
}

func (f *fakeLauncher) Run(name string, args []string, dir string) (int, string, string, error) {
	f.runs++
	f.lastName = name
	f.lastArgs = args
	f.lastDir = dir
	return f.code, f.stdout, f.stderr, nil
}

func TestChooseShellPrefersPowershellFamily(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{available: map[string]bool{"pwsh": true, "bash": true}}

	shell, err := chooseShell("", launcher)
	require.NoError(t, err)
	require.Equal(t, "pwsh", shell.name)
}

func TestChooseShellFallsBackToPosix(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{available: map[string]bool{"sh": true}}

	shell, err := chooseShell("", launcher)
	require.NoError(t, err)
	require.Equal(t, "sh", shell.name)
}

func TestChooseShellHonorsHint(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{available: map[string]bool{"pwsh": true, "bash": true}}

	shell, err := chooseShell("bash", launcher)
	require.NoError(t, err)
	require.Equal(t, "bash", shell.name)
}

func TestChooseShellHintedFamilyUnavailable(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{available: map[string]bool{"bash": true}}

	_, err := chooseShell("powershell", launcher)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no shell available")
}

func TestRunScriptBlockedWithoutAllowExec(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	launcher := &fakeLauncher{available: map[string]bool{"bash": true}}
	ctx.Launcher = launcher

	result := Execute(model.Step{
		Op:   model.OpRunScript,
		Args: map[string]any{"script": "echo hi"},
	}, ctx, "run-1", 1)

	require.False(t, result.Success)
	require.Equal(t, model.CodeExecBlocked, result.Code)
	require.Contains(t, result.Stderr, "--allow-exec")
	require.Zero(t, launcher.runs)
}

func TestRunScriptInlinePosix(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctx.AllowExec = true
	launcher := &fakeLauncher{available: map[string]bool{"bash": true}, stdout: "hi\n"}
	ctx.Launcher = launcher

	result := Execute(model.Step{
		Op:   model.OpRunScript,
		Args: map[string]any{"script": "echo hi", "shell": "bash"},
	}, ctx, "run-1", 1)

	require.True(t, result.Success)
	require.Equal(t, "hi\n", result.Stdout)
	require.Equal(t, "bash", launcher.lastName)
	require.Equal(t, []string{"-lc", "echo hi"}, launcher.lastArgs)
	require.Equal(t, ctx.SandboxRoot, launcher.lastDir)
}

func TestRunScriptFileViaPowershell(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctx.AllowExec = true
	launcher := &fakeLauncher{available: map[string]bool{"powershell": true}}
	ctx.Launcher = launcher
	script := filepath.Join(ctx.SandboxRoot, "task.ps1")
	require.NoError(t, os.WriteFile(script, []byte("Write-Output ok"), 0o644))

	result := Execute(model.Step{
		Op:   model.OpRunScript,
		Args: map[string]any{"path": "task.ps1", "shell": "powershell"},
	}, ctx, "run-1", 1)

	require.True(t, result.Success)
	require.Equal(t, "powershell", launcher.lastName)
	require.Equal(t, []string{"-NoLogo", "-NonInteractive", "-File", script}, launcher.lastArgs)
}

func TestRunScriptPropagatesExitCode(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctx.AllowExec = true
	launcher := &fakeLauncher{available: map[string]bool{"sh": true}, code: 7, stderr: "boom"}
	ctx.Launcher = launcher

	result := Execute(model.Step{
		Op:   model.OpRunScript,
		Args: map[string]any{"script": "exit 7", "shell": "sh"},
	}, ctx, "run-1", 1)

	require.False(t, result.Success)
	require.Equal(t, 7, result.Code)
	require.Equal(t, "boom", result.Stderr)
}

func TestRunScriptDryRunSkipsLaunch(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctx.AllowExec = true
	ctx.DryRun = true
	launcher := &fakeLauncher{available: map[string]bool{"bash": true}}
	ctx.Launcher = launcher

	result := Execute(model.Step{
		Op:   model.OpRunScript,
		Args: map[string]any{"script": "echo hi", "shell": "bash"},
	}, ctx, "run-1", 1)

	require.True(t, result.Success)
	require.Contains(t, result.Stdout, "DRY-RUN run_script")
	require.Zero(t, launcher.runs)
}

func TestRunScriptPathOutsideSandboxFails(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctx.AllowExec = true
	ctx.Launcher = &fakeLauncher{available: map[string]bool{"bash": true}}

	result := Execute(model.Step{
		Op:   model.OpRunScript,
		Args: map[string]any{"path": "../evil.sh"},
	}, ctx, "run-1", 1)

	require.False(t, result.Success)
	require.Equal(t, model.CodeFatal, result.Code)
	require.Contains(t, result.Stderr, "outside sandbox")
}
