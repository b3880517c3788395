/*
generator.go - Turns due plans into work orders

PURPOSE:
  RunDailyGeneration is the body of the daily cron trigger. It reserves the
  day in the GenerationLedger, generates one work order per due plan, moves
  each plan's NextExecution forward and records the count.

FLOW:
  1. TryBeginRun(today, automatic)       AlreadyRan -> skipped summary
  2. ListDuePlans(now)
  3. per plan:
       prev := NextExecution
       next := engine.NextOccurrence(frequency, prev)   // from prev, never now
       GenerateFromPlan(plan, prev, next)                // one transaction
         or CreateFromPlan(plan, prev) + AdvancePlan(prev -> next)
  4. CompleteRun(today, automatic, generated)
  5. Notifier.OrdersGenerated (errors logged only)

WHY NEXT IS COMPUTED FROM prev:
  Using "now" would let a late trigger shift the whole cadence. A plan that is
  several periods behind catches up one order per run.

FAILURE ISOLATION:
  A failing plan is logged, collected in RunSummary.Failures and skipped. Its
  NextExecution is untouched, so it is due again on the next day's run.

CONCURRENT EDITS:
  The advance is conditional on the NextExecution read at listing time and
  writes only the execution columns. An operator changing status or
  auto-generation mid-run keeps that change; a plan already advanced by a
  concurrent run fails with ErrPlanChanged instead of generating twice.

SEE ALSO:
  - ledger.go:         reservation contract
  - projection.go:     same engine, read-only
  - api/handlers.go:   HTTP cron trigger and manual override
*/
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/maintenance-engine/schedule"
	"go.uber.org/zap"
)

// SkippedAlreadyRan is the SkippedReason of a run that lost the reservation.
const SkippedAlreadyRan = "AlreadyRan"

// SkippedLedgerError is the SkippedReason when the reservation itself failed.
const SkippedLedgerError = "LedgerError"

// RunSummary describes one generation run.
type RunSummary struct {
	Date          string
	Type          GenerationType
	Generated     int
	SkippedReason string
	Orders        []WorkOrder
	Failures      []PlanFailure

	// Err is an infrastructure error (ledger, due-plan listing). Per-plan
	// errors go to Failures.
	Err error
}

// Skipped reports whether the run did not process any plan.
func (s RunSummary) Skipped() bool { return s.SkippedReason != "" }

// OrderGenerator materializes due plans. Safe for concurrent use: the ledger
// is the only serialization point.
type OrderGenerator struct {
	plans    PlanStore
	orders   WorkOrderRepository
	ledger   GenerationLedger
	engine   *schedule.Engine
	notifier Notifier
	observer Observer
	logger   *zap.Logger
}

// GeneratorConfig wires an OrderGenerator. Notifier, Observer and Logger are
// optional.
type GeneratorConfig struct {
	Plans    PlanStore
	Orders   WorkOrderRepository
	Ledger   GenerationLedger
	Engine   *schedule.Engine
	Notifier Notifier
	Observer Observer
	Logger   *zap.Logger
}

func NewOrderGenerator(cfg GeneratorConfig) *OrderGenerator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := cfg.Engine
	if engine == nil {
		engine = schedule.NewEngine(time.UTC, nil)
	}
	return &OrderGenerator{
		plans:    cfg.Plans,
		orders:   cfg.Orders,
		ledger:   cfg.Ledger,
		engine:   engine,
		notifier: cfg.Notifier,
		observer: cfg.Observer,
		logger:   logger.Named("generator"),
	}
}

// Engine returns the rule engine, shared with the CalendarProjector.
func (g *OrderGenerator) Engine() *schedule.Engine { return g.engine }

// RunDailyGeneration runs the automatic generation for the day of now.
// The returned error equals summary.Err; the summary is always usable.
func (g *OrderGenerator) RunDailyGeneration(ctx context.Context, now time.Time, triggeredBy string) (RunSummary, error) {
	started := time.Now()
	date := g.dateKey(now)
	summary := RunSummary{Date: date, Type: GenerationAutomatic}
	log := g.logger.With(zap.String("date", date), zap.String("triggered_by", triggeredBy))

	res, err := g.ledger.TryBeginRun(ctx, date, GenerationAutomatic, triggeredBy)
	if err != nil {
		log.Error("could not reserve generation run", zap.Error(err))
		summary.SkippedReason = SkippedLedgerError
		summary.Err = fmt.Errorf("reserve run: %w", err)
		g.observe(summary, OutcomeError, started)
		return summary, summary.Err
	}
	if res == AlreadyRan {
		log.Info("generation already ran for this date")
		summary.SkippedReason = SkippedAlreadyRan
		g.observe(summary, OutcomeAlreadyRan, started)
		return summary, nil
	}

	due, err := g.plans.ListDuePlans(ctx, now)
	if err != nil {
		log.Error("could not list due plans", zap.Error(err))
		summary.Err = fmt.Errorf("list due plans: %w", err)
		g.complete(ctx, &summary, log)
		g.observe(summary, OutcomeError, started)
		return summary, summary.Err
	}
	log.Info("processing due plans", zap.Int("due", len(due)))

	for _, p := range due {
		if ctx.Err() != nil {
			summary.Failures = append(summary.Failures, PlanFailure{PlanCode: p.Code, Err: ctx.Err()})
			continue
		}
		if p.NextExecution == nil {
			summary.Failures = append(summary.Failures, PlanFailure{PlanCode: p.Code, Err: fmt.Errorf("%w: no next execution", ErrInvalidPlan)})
			continue
		}
		wo, err := g.generate(ctx, p, *p.NextExecution, GenerationAutomatic)
		if err != nil {
			log.Warn("plan generation failed", zap.String("plan", p.Code), zap.Error(err))
			summary.Failures = append(summary.Failures, PlanFailure{PlanCode: p.Code, Err: err})
			continue
		}
		summary.Orders = append(summary.Orders, wo)
		summary.Generated++
	}

	g.complete(ctx, &summary, log)
	outcome := OutcomeCompleted
	if summary.Err != nil {
		outcome = OutcomeError
	}
	g.observe(summary, outcome, started)
	g.notify(ctx, summary, log)
	return summary, summary.Err
}

// GeneratePlanNow forces one work order for a single plan, ignoring whether
// it is due. It is reserved under ManualGenerationType(code), so each plan can
// be forced once per day. Unknown or inactive plans return an error before
// anything is reserved.
func (g *OrderGenerator) GeneratePlanNow(ctx context.Context, code string, now time.Time, triggeredBy string) (RunSummary, error) {
	started := time.Now()
	typ := ManualGenerationType(code)
	date := g.dateKey(now)
	summary := RunSummary{Date: date, Type: typ}
	log := g.logger.With(zap.String("date", date), zap.String("plan", code), zap.String("triggered_by", triggeredBy))

	p, err := g.plans.GetPlan(ctx, code)
	if err != nil {
		return summary, err
	}
	if p.Status != StatusActive {
		return summary, fmt.Errorf("%w: %s", ErrPlanNotSchedulable, code)
	}
	var due time.Time
	if p.NextExecution != nil {
		due = *p.NextExecution
	} else if due, err = g.engine.NextOccurrence(p.Frequency, now); err != nil {
		return summary, err
	}

	res, err := g.ledger.TryBeginRun(ctx, date, typ, triggeredBy)
	if err != nil {
		log.Error("could not reserve manual run", zap.Error(err))
		summary.SkippedReason = SkippedLedgerError
		summary.Err = fmt.Errorf("reserve run: %w", err)
		g.observe(summary, OutcomeError, started)
		return summary, summary.Err
	}
	if res == AlreadyRan {
		log.Info("plan was already forced today")
		summary.SkippedReason = SkippedAlreadyRan
		g.observe(summary, OutcomeAlreadyRan, started)
		return summary, nil
	}

	wo, err := g.generate(ctx, p, due, typ)
	if err != nil {
		log.Warn("manual generation failed", zap.Error(err))
		summary.Failures = append(summary.Failures, PlanFailure{PlanCode: p.Code, Err: err})
	} else {
		summary.Orders = append(summary.Orders, wo)
		summary.Generated = 1
	}

	g.complete(ctx, &summary, log)
	outcome := OutcomeCompleted
	if summary.Err != nil {
		outcome = OutcomeError
	}
	g.observe(summary, outcome, started)
	g.notify(ctx, summary, log)
	return summary, summary.Err
}

// generate creates the order due at due and advances the plan from its
// stored NextExecution. The next date is computed first so descriptor errors
// leave no side effects.
func (g *OrderGenerator) generate(ctx context.Context, p Plan, due time.Time, typ GenerationType) (WorkOrder, error) {
	next, err := g.engine.NextOccurrence(p.Frequency, due)
	if err != nil {
		return WorkOrder{}, err
	}
	if !next.After(due) {
		return WorkOrder{}, fmt.Errorf("%w: %s -> %s", ErrNonMonotonicSchedule, due.Format(time.RFC3339), next.Format(time.RFC3339))
	}

	if creator, ok := g.orders.(AtomicOrderCreator); ok {
		wo, err := creator.GenerateFromPlan(ctx, p, due, next, typ)
		if err != nil {
			return WorkOrder{}, fmt.Errorf("generate work order: %w", err)
		}
		return wo, nil
	}

	wo, err := g.orders.CreateFromPlan(ctx, p, due, typ)
	if err != nil {
		return WorkOrder{}, fmt.Errorf("create work order: %w", err)
	}
	if err := g.plans.AdvancePlan(ctx, p.Code, p.NextExecution, due, next); err != nil {
		// Without a transactional store the order stays and the plan is
		// generated again on the next run.
		return wo, fmt.Errorf("advance plan after creating order %s: %w", wo.ID, err)
	}
	return wo, nil
}

func (g *OrderGenerator) complete(ctx context.Context, summary *RunSummary, log *zap.Logger) {
	details := runDetails(*summary)
	if err := g.ledger.CompleteRun(ctx, summary.Date, summary.Type, summary.Generated, details); err != nil {
		log.Error("could not complete generation run", zap.Int("generated", summary.Generated), zap.Error(err))
		summary.Err = errors.Join(summary.Err, fmt.Errorf("complete run: %w", err))
		return
	}
	log.Info("generation run completed",
		zap.Int("generated", summary.Generated),
		zap.Int("failed", len(summary.Failures)))
}

func (g *OrderGenerator) notify(ctx context.Context, summary RunSummary, log *zap.Logger) {
	if g.notifier == nil || summary.Generated == 0 {
		return
	}
	if err := g.notifier.OrdersGenerated(ctx, summary); err != nil {
		log.Warn("notifier failed", zap.Error(err))
	}
}

func (g *OrderGenerator) observe(summary RunSummary, outcome RunOutcome, started time.Time) {
	if g.observer == nil {
		return
	}
	g.observer.ObserveRun(generationTypeLabel(summary.Type), outcome, summary.Generated, len(summary.Failures), time.Since(started))
}

func (g *OrderGenerator) dateKey(now time.Time) string {
	if g.engine.Location != nil {
		now = now.In(g.engine.Location)
	}
	return DateKey(now)
}

// runDetails is the ledger's free-form details column.
func runDetails(s RunSummary) string {
	var parts []string
	if s.Err != nil {
		parts = append(parts, "error: "+s.Err.Error())
	}
	for _, f := range s.Failures {
		parts = append(parts, f.Error())
	}
	return strings.Join(parts, "; ")
}
