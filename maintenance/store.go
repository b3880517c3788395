/*
store.go - Persistence interfaces for plans, work orders and assets

PURPOSE:
  Defines the boundary between the scheduling logic and the database. The
  generator only needs two plan operations (list due, update) and one
  work-order operation (create from plan); the API needs the readers.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:      production
  - maintenance/store/memory.go: tests and dev

SEE ALSO:
  - ledger.go: GenerationLedger, the other store the generator depends on
*/
package maintenance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PLANS
// =============================================================================

// PlanRepository is what the OrderGenerator needs.
type PlanRepository interface {
	// ListDuePlans returns Active, AutoGeneration plans with
	// NextExecution <= now, ordered by code.
	ListDuePlans(ctx context.Context, now time.Time) ([]Plan, error)

	// AdvancePlan sets only LastExecution and NextExecution, and only while
	// the stored NextExecution still equals expectedNext (nil matches an
	// unscheduled plan). Otherwise it fails with ErrPlanChanged.
	AdvancePlan(ctx context.Context, code string, expectedNext *time.Time, last, next time.Time) error
}

// PlanStore adds the reads and writes used by the plan API and the projector.
type PlanStore interface {
	PlanRepository

	CreatePlan(ctx context.Context, p Plan) error

	// UpdatePlan overwrites every mutable field of an existing plan.
	UpdatePlan(ctx context.Context, p Plan) error

	GetPlan(ctx context.Context, code string) (Plan, error)

	// ListPlans returns every plan ordered by code.
	ListPlans(ctx context.Context) ([]Plan, error)

	// ListSchedulablePlans returns Active, AutoGeneration plans regardless of
	// their NextExecution.
	ListSchedulablePlans(ctx context.Context) ([]Plan, error)
}

// =============================================================================
// WORK ORDERS
// =============================================================================

// WorkOrderRepository creates work orders for due plans.
type WorkOrderRepository interface {
	// CreateFromPlan creates a work order for p due at dueDate. It fails with
	// ErrAssetNotFound when the plan's asset does not exist.
	CreateFromPlan(ctx context.Context, p Plan, dueDate time.Time, typ GenerationType) (WorkOrder, error)
}

// AtomicOrderCreator is implemented by stores that can create the order and
// advance the plan in one transaction. p.NextExecution is the expected stored
// value, as for AdvancePlan; on ErrPlanChanged no order is written.
type AtomicOrderCreator interface {
	GenerateFromPlan(ctx context.Context, p Plan, due, next time.Time, typ GenerationType) (WorkOrder, error)
}

// WorkOrderStore adds range reads for the calendar.
type WorkOrderStore interface {
	WorkOrderRepository

	// WorkOrdersDueBetween returns orders with DueDate in [start, end].
	WorkOrdersDueBetween(ctx context.Context, start, end time.Time) ([]WorkOrder, error)
}

// =============================================================================
// ASSETS
// =============================================================================

type AssetStore interface {
	CreateAsset(ctx context.Context, a Asset) error
	GetAsset(ctx context.Context, id string) (Asset, error)
	ListAssets(ctx context.Context) ([]Asset, error)
}

// NewWorkOrder builds the order CreateFromPlan persists.
func NewWorkOrder(id string, p Plan, dueDate time.Time, typ GenerationType, now time.Time) WorkOrder {
	hours := p.EstimatedHours
	if hours.IsNegative() {
		hours = decimal.Zero
	}
	return WorkOrder{
		ID:             id,
		PlanCode:       p.Code,
		AssetID:        p.AssetID,
		Title:          "Preventive: " + p.Name,
		DueDate:        dueDate,
		EstimatedHours: hours,
		GenerationType: typ,
		CreatedAt:      now,
	}
}
