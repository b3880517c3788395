/*
projection.go - Calendar of upcoming preventive work

PURPOSE:
  ProjectRange answers "what maintenance falls between start and end?"
  without writing anything. Projected dates come from the same
  schedule.Engine the generator uses, starting at each plan's NextExecution,
  so the calendar shows exactly what daily runs would generate (assuming the
  plan is not edited in between).

EVENTS:
  projected - future occurrence computed from the plan
  generated - work order already created by a run, due inside the window

SEE ALSO:
  - generator.go: the writer side
*/
package maintenance

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/warp/maintenance-engine/schedule"
	"go.uber.org/zap"
)

// maxEventsPerPlan caps one plan's contribution to a single projection.
const maxEventsPerPlan = 1000

// ErrInvalidRange is returned when end is before start.
var ErrInvalidRange = errors.New("calendar range end is before start")

type EventSource string

const (
	SourceProjected EventSource = "projected"
	SourceGenerated EventSource = "generated"
)

// CalendarEvent is one maintenance occurrence on the calendar.
type CalendarEvent struct {
	PlanCode    string
	PlanName    string
	AssetID     string
	DueDate     time.Time
	Source      EventSource
	WorkOrderID string // set for generated events
	Frequency   string // human summary of the plan's rule
}

// CalendarProjector is read-only and needs no locking of its own.
type CalendarProjector struct {
	plans  PlanStore
	orders WorkOrderStore
	engine *schedule.Engine
	logger *zap.Logger
}

// NewCalendarProjector shares engine with the OrderGenerator. orders may be
// nil, in which case only projected events are returned.
func NewCalendarProjector(plans PlanStore, orders WorkOrderStore, engine *schedule.Engine, logger *zap.Logger) *CalendarProjector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarProjector{plans: plans, orders: orders, engine: engine, logger: logger.Named("projector")}
}

// ProjectRange returns the events inside [start, end], ordered by due date
// then plan code. Plans with a malformed rule are logged and left out.
func (p *CalendarProjector) ProjectRange(ctx context.Context, start, end time.Time) ([]CalendarEvent, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}

	plans, err := p.plans.ListSchedulablePlans(ctx)
	if err != nil {
		return nil, err
	}

	var events []CalendarEvent
	for _, plan := range plans {
		if plan.NextExecution == nil {
			continue
		}
		dates, err := p.engine.Occurrences(plan.Frequency, *plan.NextExecution, start, end, maxEventsPerPlan)
		if err != nil {
			p.logger.Warn("skipping plan with invalid frequency", zap.String("plan", plan.Code), zap.Error(err))
			continue
		}
		desc := plan.Frequency.Describe()
		for _, d := range dates {
			events = append(events, CalendarEvent{
				PlanCode:  plan.Code,
				PlanName:  plan.Name,
				AssetID:   plan.AssetID,
				DueDate:   d,
				Source:    SourceProjected,
				Frequency: desc,
			})
		}
	}

	if p.orders != nil {
		generated, err := p.generatedEvents(ctx, start, end)
		if err != nil {
			return nil, err
		}
		events = append(events, generated...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].DueDate.Equal(events[j].DueDate) {
			return events[i].DueDate.Before(events[j].DueDate)
		}
		return events[i].PlanCode < events[j].PlanCode
	})
	return events, nil
}

func (p *CalendarProjector) generatedEvents(ctx context.Context, start, end time.Time) ([]CalendarEvent, error) {
	orders, err := p.orders.WorkOrdersDueBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	names := make(map[string]Plan)
	events := make([]CalendarEvent, 0, len(orders))
	for _, wo := range orders {
		plan, ok := names[wo.PlanCode]
		if !ok {
			// Orders can outlive their plan; fall back to the order's title.
			if found, err := p.plans.GetPlan(ctx, wo.PlanCode); err == nil {
				plan = found
			} else {
				plan = Plan{Code: wo.PlanCode, Name: wo.Title}
			}
			names[wo.PlanCode] = plan
		}
		ev := CalendarEvent{
			PlanCode:    wo.PlanCode,
			PlanName:    plan.Name,
			AssetID:     wo.AssetID,
			DueDate:     wo.DueDate,
			Source:      SourceGenerated,
			WorkOrderID: wo.ID,
		}
		if plan.Frequency.Kind != "" {
			ev.Frequency = plan.Frequency.Describe()
		}
		events = append(events, ev)
	}
	return events, nil
}
