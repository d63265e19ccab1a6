package schema

import (
	"fmt"

	"github.com/planecraft/saferun/internal/model"
)

// CheckDataFlow verifies that every key a step requires was produced by an
// earlier step. Plans execute strictly in order, so later producers cannot
// satisfy earlier consumers.
func CheckDataFlow(plan *model.Plan) error {
	produced := map[string]bool{}
	for i, step := range plan.Steps {
		for _, key := range step.Requires {
			if !produced[key] {
				return fmt.Errorf("%w: step %s requires %q which no earlier step produces",
					ErrPlanStructureInvalid, step.Label(i), key)
			}
		}
		for _, key := range step.Produces {
			produced[key] = true
		}
	}
	return nil
}
