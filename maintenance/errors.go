/*
errors.go - Error types for plan scheduling and generation

ERROR CATEGORIES:
  1. Configuration - malformed frequency descriptors (schedule.DescriptorError),
                     rejected before a plan is persisted
  2. Not found     - plan or asset does not exist
  3. Ledger        - run bookkeeping misuse (complete without begin, twice)
  4. Per-plan      - failures inside a run, collected as PlanFailure and
                     never propagated out of the batch

Contention on the ledger key is NOT an error: TryBeginRun returns AlreadyRan.

SEE ALSO:
  - schedule/errors.go: descriptor sentinels
  - api/handlers.go:    HTTP status mapping
*/
package maintenance

import (
	"errors"
	"fmt"

	"github.com/warp/maintenance-engine/schedule"
)

var (
	// ErrPlanNotFound is returned when a referenced plan doesn't exist.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrAssetNotFound is returned when a plan's asset doesn't exist.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrDuplicatePlan is returned when creating a plan whose code is taken.
	ErrDuplicatePlan = errors.New("plan code already exists")

	// ErrInvalidPlan is returned for plans missing required fields.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrRunNotStarted is returned by CompleteRun when no reservation exists.
	ErrRunNotStarted = errors.New("generation run was never started")

	// ErrRunAlreadyCompleted is returned by CompleteRun for a finished run.
	ErrRunAlreadyCompleted = errors.New("generation run already completed")

	// ErrNonMonotonicSchedule guards the forward-only NextExecution invariant.
	ErrNonMonotonicSchedule = errors.New("next execution did not advance")

	// ErrPlanNotSchedulable is returned when forcing an inactive plan.
	ErrPlanNotSchedulable = errors.New("plan is inactive")

	// ErrPlanChanged is returned when a plan's NextExecution moved between
	// listing it and advancing it, usually because another run generated it.
	ErrPlanChanged = errors.New("plan changed during generation")
)

// PlanFailure describes one plan that could not be generated in a run.
type PlanFailure struct {
	PlanCode string
	Err      error
}

func (f PlanFailure) Error() string {
	return fmt.Sprintf("plan %s: %v", f.PlanCode, f.Err)
}

func (f PlanFailure) Unwrap() error { return f.Err }

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return schedule.IsDescriptorError(err) ||
		errors.Is(err, ErrInvalidPlan) ||
		errors.Is(err, ErrDuplicatePlan) ||
		errors.Is(err, ErrPlanNotSchedulable)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) || errors.Is(err, ErrAssetNotFound)
}
