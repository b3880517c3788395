// Package store provides in-memory implementations of the maintenance stores.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/maintenance-engine/maintenance"
	"github.com/warp/maintenance-engine/schedule"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements PlanStore, WorkOrderStore, AssetStore, GenerationLedger
// and LedgerReader.
type Memory struct {
	mu     sync.RWMutex
	plans  map[string]maintenance.Plan
	orders []maintenance.WorkOrder
	assets map[string]maintenance.Asset
	runs   map[runKey]maintenance.LedgerEntry

	// Now stamps ledger and order rows. Defaults to time.Now.
	Now func() time.Time
}

var _ maintenance.AtomicOrderCreator = (*Memory)(nil)

type runKey struct {
	Date string
	Type maintenance.GenerationType
}

func NewMemory() *Memory {
	return &Memory{
		plans:  make(map[string]maintenance.Plan),
		assets: make(map[string]maintenance.Asset),
		runs:   make(map[runKey]maintenance.LedgerEntry),
		Now:    time.Now,
	}
}

// =============================================================================
// PLANS
// =============================================================================

func (m *Memory) CreatePlan(_ context.Context, p maintenance.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.Code]; ok {
		return fmt.Errorf("%w: %s", maintenance.ErrDuplicatePlan, p.Code)
	}
	m.plans[p.Code] = clonePlan(p)
	return nil
}

func (m *Memory) UpdatePlan(_ context.Context, p maintenance.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.Code]; !ok {
		return fmt.Errorf("%w: %s", maintenance.ErrPlanNotFound, p.Code)
	}
	m.plans[p.Code] = clonePlan(p)
	return nil
}

// AdvancePlan moves the execution dates when NextExecution still matches.
func (m *Memory) AdvancePlan(_ context.Context, code string, expectedNext *time.Time, last, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advanceLocked(code, expectedNext, last, next)
}

func (m *Memory) advanceLocked(code string, expectedNext *time.Time, last, next time.Time) error {
	p, ok := m.plans[code]
	if !ok {
		return fmt.Errorf("%w: %s", maintenance.ErrPlanNotFound, code)
	}
	if !sameInstant(p.NextExecution, expectedNext) {
		return fmt.Errorf("%w: %s", maintenance.ErrPlanChanged, code)
	}
	p.LastExecution = &last
	p.NextExecution = &next
	p.UpdatedAt = m.Now()
	m.plans[code] = p
	return nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (m *Memory) GetPlan(_ context.Context, code string) (maintenance.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[code]
	if !ok {
		return maintenance.Plan{}, fmt.Errorf("%w: %s", maintenance.ErrPlanNotFound, code)
	}
	return clonePlan(p), nil
}

func (m *Memory) ListPlans(_ context.Context) ([]maintenance.Plan, error) {
	return m.filterPlans(func(maintenance.Plan) bool { return true }), nil
}

func (m *Memory) ListSchedulablePlans(_ context.Context) ([]maintenance.Plan, error) {
	return m.filterPlans(maintenance.Plan.Schedulable), nil
}

func (m *Memory) ListDuePlans(_ context.Context, now time.Time) ([]maintenance.Plan, error) {
	return m.filterPlans(func(p maintenance.Plan) bool { return p.IsDue(now) }), nil
}

func (m *Memory) filterPlans(keep func(maintenance.Plan) bool) []maintenance.Plan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]maintenance.Plan, 0, len(m.plans))
	for _, p := range m.plans {
		if keep(p) {
			result = append(result, clonePlan(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result
}

// clonePlan copies the pointer and slice fields so callers never share state
// with the store.
func clonePlan(p maintenance.Plan) maintenance.Plan {
	if p.LastExecution != nil {
		t := *p.LastExecution
		p.LastExecution = &t
	}
	if p.NextExecution != nil {
		t := *p.NextExecution
		p.NextExecution = &t
	}
	if p.Frequency.RunHour != nil {
		h := *p.Frequency.RunHour
		p.Frequency.RunHour = &h
	}
	p.Frequency.Weekdays = append([]schedule.Weekday(nil), p.Frequency.Weekdays...)
	return p
}

// =============================================================================
// WORK ORDERS
// =============================================================================

func (m *Memory) CreateFromPlan(_ context.Context, p maintenance.Plan, dueDate time.Time, typ maintenance.GenerationType) (maintenance.WorkOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[p.AssetID]; !ok {
		return maintenance.WorkOrder{}, fmt.Errorf("%w: %s", maintenance.ErrAssetNotFound, p.AssetID)
	}
	wo := maintenance.NewWorkOrder(uuid.NewString(), p, dueDate, typ, m.Now())
	m.orders = append(m.orders, wo)
	return wo, nil
}

// GenerateFromPlan creates the order and advances the plan under one lock.
func (m *Memory) GenerateFromPlan(_ context.Context, p maintenance.Plan, due, next time.Time, typ maintenance.GenerationType) (maintenance.WorkOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[p.AssetID]; !ok {
		return maintenance.WorkOrder{}, fmt.Errorf("%w: %s", maintenance.ErrAssetNotFound, p.AssetID)
	}
	if err := m.advanceLocked(p.Code, p.NextExecution, due, next); err != nil {
		return maintenance.WorkOrder{}, err
	}
	wo := maintenance.NewWorkOrder(uuid.NewString(), p, due, typ, m.Now())
	m.orders = append(m.orders, wo)
	return wo, nil
}

func (m *Memory) WorkOrdersDueBetween(_ context.Context, start, end time.Time) ([]maintenance.WorkOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []maintenance.WorkOrder
	for _, wo := range m.orders {
		if !wo.DueDate.Before(start) && !wo.DueDate.After(end) {
			result = append(result, wo)
		}
	}
	return result, nil
}

// WorkOrders returns every order in creation order.
func (m *Memory) WorkOrders() []maintenance.WorkOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]maintenance.WorkOrder(nil), m.orders...)
}

// =============================================================================
// ASSETS
// =============================================================================

func (m *Memory) CreateAsset(_ context.Context, a maintenance.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.ID] = a
	return nil
}

func (m *Memory) GetAsset(_ context.Context, id string) (maintenance.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return maintenance.Asset{}, fmt.Errorf("%w: %s", maintenance.ErrAssetNotFound, id)
	}
	return a, nil
}

func (m *Memory) ListAssets(_ context.Context) ([]maintenance.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]maintenance.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// GENERATION LEDGER
// =============================================================================

// TryBeginRun checks and inserts under one write lock.
func (m *Memory) TryBeginRun(_ context.Context, date string, typ maintenance.GenerationType, triggeredBy string) (maintenance.BeginResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := runKey{Date: date, Type: typ}
	if _, ok := m.runs[k]; ok {
		return maintenance.AlreadyRan, nil
	}
	m.runs[k] = maintenance.NewLedgerEntry(date, typ, triggeredBy, m.Now())
	return maintenance.Acquired, nil
}

func (m *Memory) CompleteRun(_ context.Context, date string, typ maintenance.GenerationType, ordersGenerated int, details string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := runKey{Date: date, Type: typ}
	e, ok := m.runs[k]
	if !ok {
		return maintenance.ErrRunNotStarted
	}
	if e.Completed() {
		return maintenance.ErrRunAlreadyCompleted
	}
	now := m.Now()
	e.CompletedAt = &now
	e.OrdersGenerated = ordersGenerated
	e.Details = details
	m.runs[k] = e
	return nil
}

func (m *Memory) Runs(_ context.Context, from, to string) ([]maintenance.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []maintenance.LedgerEntry
	for _, e := range m.runs {
		if e.Date >= from && e.Date <= to {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].Type < result[j].Type
	})
	return result, nil
}
