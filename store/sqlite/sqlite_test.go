package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/maintenance"
	"github.com/warp/maintenance-engine/maintenance/ledgertest"
	"github.com/warp/maintenance-engine/schedule"
	"github.com/warp/maintenance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func seedPlan(t *testing.T, s *sqlite.Store, code string, freq schedule.Frequency, next *time.Time, auto bool, status maintenance.PlanStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateAsset(ctx, maintenance.Asset{ID: "CHILLER-1", Name: "Chiller 1"}))
	require.NoError(t, s.CreatePlan(ctx, maintenance.Plan{
		Code:           code,
		Name:           "Inspect " + code,
		AssetID:        "CHILLER-1",
		Frequency:      freq,
		EstimatedHours: decimal.RequireFromString("2.25"),
		NextExecution:  next,
		AutoGeneration: auto,
		Status:         status,
		CreatedAt:      at(2025, time.January, 1, 0),
		UpdatedAt:      at(2025, time.January, 1, 0),
	}))
}

// =============================================================================
// LEDGER
// =============================================================================

func TestStore_LedgerContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) maintenance.GenerationLedger {
		return newStore(t)
	})
}

// =============================================================================
// PLANS
// =============================================================================

func TestStore_PlanRoundTrip(t *testing.T) {
	s := newStore(t)
	next := at(2025, time.January, 31, 6)
	freq := schedule.MonthlyOnNth(2, schedule.LastOccurrence, schedule.Friday).WithRunHour(8).SkippingNonWorkingDays()
	seedPlan(t, s, "PM-2025-0001", freq, &next, true, maintenance.StatusActive)

	got, err := s.GetPlan(context.Background(), "PM-2025-0001")

	require.NoError(t, err)
	assert.Equal(t, freq, got.Frequency)
	assert.Equal(t, next, *got.NextExecution)
	assert.Nil(t, got.LastExecution)
	assert.True(t, decimal.RequireFromString("2.25").Equal(got.EstimatedHours))
	assert.True(t, got.AutoGeneration)
	assert.Equal(t, maintenance.StatusActive, got.Status)
}

func TestStore_CreatePlanTwiceIsDuplicate(t *testing.T) {
	s := newStore(t)
	seedPlan(t, s, "PM-1", schedule.Daily(1), nil, false, maintenance.StatusActive)

	err := s.CreatePlan(context.Background(), maintenance.Plan{Code: "PM-1", Name: "x", AssetID: "CHILLER-1", Frequency: schedule.Daily(1)})
	assert.ErrorIs(t, err, maintenance.ErrDuplicatePlan)
}

func TestStore_ListDuePlans(t *testing.T) {
	// GIVEN: due, future, disabled and inactive plans
	s := newStore(t)
	due := at(2025, time.January, 6, 6)
	future := at(2025, time.January, 7, 6)
	seedPlan(t, s, "PM-DUE", schedule.Daily(1), &due, true, maintenance.StatusActive)
	seedPlan(t, s, "PM-FUTURE", schedule.Daily(1), &future, true, maintenance.StatusActive)
	seedPlan(t, s, "PM-OFF", schedule.Daily(1), &due, false, maintenance.StatusActive)
	seedPlan(t, s, "PM-INACTIVE", schedule.Daily(1), &due, true, maintenance.StatusInactive)

	// WHEN
	plans, err := s.ListDuePlans(context.Background(), at(2025, time.January, 6, 7))

	// THEN: only the active, enabled, due plan
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "PM-DUE", plans[0].Code)

	schedulable, err := s.ListSchedulablePlans(context.Background())
	require.NoError(t, err)
	assert.Len(t, schedulable, 2)
}

func TestStore_DueComparisonIsChronologicalAcrossZones(t *testing.T) {
	s := newStore(t)
	santiago := time.FixedZone("CLT", -3*3600)
	// 06:00 in Santiago is 09:00 UTC.
	next := time.Date(2025, time.January, 6, 6, 0, 0, 0, santiago)
	seedPlan(t, s, "PM-1", schedule.Daily(1), &next, true, maintenance.StatusActive)

	early, err := s.ListDuePlans(context.Background(), at(2025, time.January, 6, 8))
	require.NoError(t, err)
	assert.Empty(t, early)

	onTime, err := s.ListDuePlans(context.Background(), at(2025, time.January, 6, 9))
	require.NoError(t, err)
	assert.Len(t, onTime, 1)
}

func TestStore_UpdatePlan(t *testing.T) {
	s := newStore(t)
	next := at(2025, time.January, 6, 6)
	seedPlan(t, s, "PM-1", schedule.Daily(1), &next, true, maintenance.StatusActive)

	p, err := s.GetPlan(context.Background(), "PM-1")
	require.NoError(t, err)
	newNext := at(2025, time.January, 7, 6)
	p.LastExecution = &next
	p.NextExecution = &newNext
	require.NoError(t, s.UpdatePlan(context.Background(), p))

	got, err := s.GetPlan(context.Background(), "PM-1")
	require.NoError(t, err)
	assert.Equal(t, next, *got.LastExecution)
	assert.Equal(t, newNext, *got.NextExecution)

	err = s.UpdatePlan(context.Background(), maintenance.Plan{Code: "PM-404", Frequency: schedule.Daily(1)})
	assert.ErrorIs(t, err, maintenance.ErrPlanNotFound)
}

// =============================================================================
// WORK ORDERS
// =============================================================================

func TestStore_CreateFromPlan(t *testing.T) {
	s := newStore(t)
	next := at(2025, time.January, 6, 6)
	seedPlan(t, s, "PM-1", schedule.Daily(1), &next, true, maintenance.StatusActive)
	p, err := s.GetPlan(context.Background(), "PM-1")
	require.NoError(t, err)

	wo, err := s.CreateFromPlan(context.Background(), p, next, maintenance.GenerationAutomatic)
	require.NoError(t, err)
	assert.Equal(t, "PM-1", wo.PlanCode)

	orders, err := s.WorkOrdersDueBetween(context.Background(), at(2025, time.January, 6, 0), at(2025, time.January, 6, 23))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, wo.ID, orders[0].ID)
	assert.Equal(t, next, orders[0].DueDate)
	assert.True(t, decimal.RequireFromString("2.25").Equal(orders[0].EstimatedHours))

	p.AssetID = "GONE"
	_, err = s.CreateFromPlan(context.Background(), p, next, maintenance.GenerationAutomatic)
	assert.ErrorIs(t, err, maintenance.ErrAssetNotFound)
}

func TestStore_AdvancePlanTouchesOnlyExecutionDates(t *testing.T) {
	// GIVEN: a due plan the operator deactivated after it was read
	s := newStore(t)
	ctx := context.Background()
	next := at(2025, time.January, 6, 6)
	seedPlan(t, s, "PM-1", schedule.Daily(1), &next, true, maintenance.StatusActive)
	p, err := s.GetPlan(ctx, "PM-1")
	require.NoError(t, err)
	p.Status = maintenance.StatusInactive
	p.AutoGeneration = false
	require.NoError(t, s.UpdatePlan(ctx, p))

	// WHEN: advancing from the NextExecution read earlier
	require.NoError(t, s.AdvancePlan(ctx, "PM-1", &next, next, at(2025, time.January, 7, 6)))

	// THEN: dates move, status and auto-generation are untouched
	got, err := s.GetPlan(ctx, "PM-1")
	require.NoError(t, err)
	assert.Equal(t, maintenance.StatusInactive, got.Status)
	assert.False(t, got.AutoGeneration)
	assert.Equal(t, next, *got.LastExecution)
	assert.Equal(t, at(2025, time.January, 7, 6), *got.NextExecution)

	// A second advance from the same read no longer matches.
	err = s.AdvancePlan(ctx, "PM-1", &next, next, at(2025, time.January, 7, 6))
	assert.ErrorIs(t, err, maintenance.ErrPlanChanged)

	err = s.AdvancePlan(ctx, "PM-404", &next, next, at(2025, time.January, 7, 6))
	assert.ErrorIs(t, err, maintenance.ErrPlanNotFound)
}

func TestStore_AdvancePlanMatchesUnscheduledPlan(t *testing.T) {
	s := newStore(t)
	seedPlan(t, s, "PM-1", schedule.Daily(1), nil, false, maintenance.StatusActive)

	require.NoError(t, s.AdvancePlan(context.Background(), "PM-1", nil, at(2025, time.January, 7, 6), at(2025, time.January, 8, 6)))

	got, err := s.GetPlan(context.Background(), "PM-1")
	require.NoError(t, err)
	assert.Equal(t, at(2025, time.January, 8, 6), *got.NextExecution)
}

func TestStore_GenerateFromPlanIsAllOrNothing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	due := at(2025, time.January, 6, 6)
	seedPlan(t, s, "PM-1", schedule.Daily(1), &due, true, maintenance.StatusActive)
	p, err := s.GetPlan(ctx, "PM-1")
	require.NoError(t, err)
	window := func() []maintenance.WorkOrder {
		orders, err := s.WorkOrdersDueBetween(ctx, at(2025, time.January, 1, 0), at(2025, time.January, 31, 0))
		require.NoError(t, err)
		return orders
	}

	// Missing asset: the advance is rolled back with the insert.
	gone := p
	gone.AssetID = "GONE"
	_, err = s.GenerateFromPlan(ctx, gone, due, at(2025, time.January, 7, 6), maintenance.GenerationAutomatic)
	assert.ErrorIs(t, err, maintenance.ErrAssetNotFound)
	got, err := s.GetPlan(ctx, "PM-1")
	require.NoError(t, err)
	assert.Equal(t, due, *got.NextExecution)
	assert.Nil(t, got.LastExecution)
	assert.Empty(t, window())

	// Success writes both.
	wo, err := s.GenerateFromPlan(ctx, p, due, at(2025, time.January, 7, 6), maintenance.GenerationAutomatic)
	require.NoError(t, err)
	assert.Equal(t, due, wo.DueDate)
	got, err = s.GetPlan(ctx, "PM-1")
	require.NoError(t, err)
	assert.Equal(t, at(2025, time.January, 7, 6), *got.NextExecution)
	require.Len(t, window(), 1)

	// The same stale copy again: nothing more is written.
	_, err = s.GenerateFromPlan(ctx, p, due, at(2025, time.January, 7, 6), maintenance.GenerationManual)
	assert.ErrorIs(t, err, maintenance.ErrPlanChanged)
	assert.Len(t, window(), 1)
}

// =============================================================================
// GENERATOR AGAINST SQLITE
// =============================================================================

func TestStore_GeneratorRunsOncePerDay(t *testing.T) {
	s := newStore(t)
	next := at(2025, time.January, 6, 6)
	seedPlan(t, s, "PM-1", schedule.Weekly(1, schedule.Monday, schedule.Wednesday, schedule.Friday), &next, true, maintenance.StatusActive)
	gen := maintenance.NewOrderGenerator(maintenance.GeneratorConfig{Plans: s, Orders: s, Ledger: s})

	first, err := gen.RunDailyGeneration(context.Background(), at(2025, time.January, 6, 7), "cron")
	require.NoError(t, err)
	second, err := gen.RunDailyGeneration(context.Background(), at(2025, time.January, 6, 8), "cron")
	require.NoError(t, err)

	assert.Equal(t, 1, first.Generated)
	assert.Equal(t, maintenance.SkippedAlreadyRan, second.SkippedReason)

	p, err := s.GetPlan(context.Background(), "PM-1")
	require.NoError(t, err)
	assert.Equal(t, at(2025, time.January, 8, 6), *p.NextExecution)

	runs, err := s.Runs(context.Background(), "2025-01-06", "2025-01-06")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].OrdersGenerated)
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func TestStore_Holidays(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveHoliday(ctx, schedule.Holiday{Name: "Fiestas Patrias", Date: at(2025, time.September, 18, 0), Recurring: true}))
	require.NoError(t, s.SaveHoliday(ctx, schedule.Holiday{Name: "Viernes Santo", Date: at(2025, time.April, 18, 0)}))
	// Same (date, name) upserts.
	require.NoError(t, s.SaveHoliday(ctx, schedule.Holiday{Name: "Viernes Santo", Date: at(2025, time.April, 18, 0)}))

	holidays, err := s.Holidays(ctx)
	require.NoError(t, err)
	require.Len(t, holidays, 2)
	assert.Equal(t, "Viernes Santo", holidays[0].Name)
	assert.True(t, holidays[1].Recurring)

	cal, err := schedule.NewStaticCalendar("es-CL", schedule.DefaultWeekend(), holidays)
	require.NoError(t, err)
	assert.False(t, cal.IsWorkingDay(at(2026, time.September, 18, 6)))

	require.NoError(t, s.DeleteHoliday(ctx, at(2025, time.April, 18, 0), "Viernes Santo"))
	holidays, err = s.Holidays(ctx)
	require.NoError(t, err)
	assert.Len(t, holidays, 1)
}
