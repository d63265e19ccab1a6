package model

// Result codes shared by step handlers, the executor, and both CLIs. Codes
// other than the ones named here are treated as transient by the retry
// controller.
const (
	CodeOK          = 0
	CodeExecBlocked = 2 // run_script without the exec gate; never retried
	CodeCompensated = 3 // executor exit: a step failed but compensation fully succeeded
	CodeFatal       = 4 // structural or I/O failure
)

// StepResult is the uniform record produced by exactly one handler
// invocation. Immutable once returned.
type StepResult struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Stdout  string `json:"stdout,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
	Attempt int    `json:"attempt"`
	Label   string `json:"label"`
	Op      string `json:"op"`
}

// Ok builds a successful result.
func Ok(op, label string, attempt int, stdout string) StepResult {
	return StepResult{Success: true, Code: CodeOK, Stdout: stdout, Attempt: attempt, Label: label, Op: op}
}

// Fail builds a failed result with the given code and message.
func Fail(op, label string, attempt, code int, stderr string) StepResult {
	return StepResult{Success: false, Code: code, Stderr: stderr, Attempt: attempt, Label: label, Op: op}
}
