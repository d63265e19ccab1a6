package pipeline

import "strings"

// truthy environment values, matching the original convention.
var truthyValues = map[string]bool{
	"1": true, "true": true, "yes": true, "y": true, "on": true,
}

func truthyEnv(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	return truthyValues[strings.ToLower(strings.TrimSpace(value))]
}

func truthyAny(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return truthyEnv(typed, false)
	default:
		return false
	}
}

// allowExecEffective computes the exec gate: the logical AND of the explicit
// CLI opt-in and at least one of force-exec, a local default (absence of a
// CI indicator, overridable via LOCAL_ALLOW_EXEC), or a protected-branch
// indicator. Never implicit in CI.
func (c *Conductor) allowExecEffective() bool {
	if !c.opts.AllowExec {
		return false
	}
	localDefault := !truthyEnv(c.env("CI"), false)
	localAllow := truthyEnv(c.env("LOCAL_ALLOW_EXEC"), localDefault)
	protected := truthyEnv(c.env("PROTECTED_BRANCH"), false)
	return c.opts.ForceExec || localAllow || protected
}

// applyExpectedFail remaps a non-zero result to success when, and only
// when, the caller opted in and the task flags itself as intentionally
// failing. Applied once, here; the executor never remaps its own exit code.
func (c *Conductor) applyExpectedFail(meta map[string]any, rc int, allowExpected bool) int {
	if rc == 0 || !allowExpected || !truthyAny(meta["should_fail"]) {
		return rc
	}
	c.log.Event("EXPECTED_FAIL_HANDLED").Int("rc", rc).Int("remapped", 0).Send()
	return 0
}
