/*
Package maintenance turns preventive-maintenance plans into work orders.

PURPOSE:
  This package owns the domain records (plans, generated work orders, ledger
  entries) and the three orchestration components built on top of the
  schedule.Engine:

    GenerationLedger   at-most-once reservation per (date, generation type)
    OrderGenerator     materializes due plans into work orders
    CalendarProjector  read-only projection of future due dates

KEY CONCEPTS IN THIS FILE (types.go):
  - Plan:        recurring rule attached to an asset, plus scheduling state
  - WorkOrder:   what a generation run produces (lifecycle owned elsewhere)
  - LedgerEntry: one row per generation run, keyed by (date, type)

PLAN INVARIANTS:
  1. Active + AutoGeneration => NextExecution is set
  2. NextExecution only moves forward, and only the OrderGenerator moves it
     once a work order was generated for it

SEE ALSO:
  - schedule/rule.go: due-date arithmetic
  - ledger.go:        GenerationLedger contract
  - generator.go:     OrderGenerator
  - projection.go:    CalendarProjector
*/
package maintenance

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/maintenance-engine/schedule"
)

// =============================================================================
// PLAN
// =============================================================================

type PlanStatus string

const (
	StatusActive   PlanStatus = "active"
	StatusInactive PlanStatus = "inactive"
)

// Plan is a preventive-maintenance rule attached to an asset.
type Plan struct {
	Code        string // e.g. "PM-2025-0001"
	Name        string
	Description string
	AssetID     string

	Frequency schedule.Frequency

	// Labor estimate copied onto every generated work order.
	EstimatedHours decimal.Decimal

	LastExecution  *time.Time
	NextExecution  *time.Time
	AutoGeneration bool
	Status         PlanStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedulable reports whether the plan takes part in automatic generation.
func (p Plan) Schedulable() bool {
	return p.Status == StatusActive && p.AutoGeneration
}

// IsDue reports whether the plan should be generated by a run at now.
func (p Plan) IsDue(now time.Time) bool {
	return p.Schedulable() && p.NextExecution != nil && !p.NextExecution.After(now)
}

// =============================================================================
// ASSET
// =============================================================================

// Asset is the equipment a plan maintains. Assets are owned by the asset
// registry; only existence matters here.
type Asset struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// =============================================================================
// WORK ORDER
// =============================================================================

// WorkOrder is produced by a generation run. Its lifecycle after creation
// belongs to the work-order subsystem.
type WorkOrder struct {
	ID             string
	PlanCode       string
	AssetID        string
	Title          string
	DueDate        time.Time
	EstimatedHours decimal.Decimal
	GenerationType GenerationType
	CreatedAt      time.Time
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// GenerationType partitions the ledger key space.
type GenerationType string

const (
	GenerationAutomatic GenerationType = "automatic"
	GenerationManual    GenerationType = "manual"
)

// ManualGenerationType is the ledger type of a forced run for one plan. Each
// plan can be forced once per day without touching the automatic key.
func ManualGenerationType(planCode string) GenerationType {
	return GenerationType(string(GenerationManual) + ":" + planCode)
}

// LedgerEntry records one generation run.
type LedgerEntry struct {
	Date            string // YYYY-MM-DD in the engine's location
	Type            GenerationType
	StartedAt       time.Time
	CompletedAt     *time.Time
	OrdersGenerated int
	TriggeredBy     string
	Details         string
}

// Completed reports whether CompleteRun was recorded for the entry.
func (e LedgerEntry) Completed() bool { return e.CompletedAt != nil }

// DateKey formats the ledger date for t.
func DateKey(t time.Time) string { return t.Format("2006-01-02") }
