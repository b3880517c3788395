package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/maintenance-engine/schedule"
	"go.uber.org/zap"
)

// =============================================================================
// PLAN SERVICE - plan lifecycle outside generation runs
// =============================================================================

// PlanService creates plans and toggles their scheduling flags. It computes
// the first NextExecution; after that only the OrderGenerator moves it.
type PlanService struct {
	plans  PlanStore
	assets AssetStore
	engine *schedule.Engine
	logger *zap.Logger

	// runHour is stamped on new plans whose frequency has no run hour.
	runHour *int
}

// NewPlanService returns a PlanService. assets may be nil to skip the asset
// existence check.
func NewPlanService(plans PlanStore, assets AssetStore, engine *schedule.Engine, logger *zap.Logger) *PlanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanService{plans: plans, assets: assets, engine: engine, logger: logger.Named("plans")}
}

// SetDefaultRunHour makes Create stamp hour on frequencies that leave the
// run hour unset. Plans created earlier keep their stored rule.
func (s *PlanService) SetDefaultRunHour(hour int) {
	s.runHour = &hour
}

// Create validates and stores a new plan. Malformed frequencies are rejected
// here, never at generation time.
func (s *PlanService) Create(ctx context.Context, p Plan, now time.Time) (Plan, error) {
	p.Code = strings.TrimSpace(p.Code)
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Code == "":
		return Plan{}, fmt.Errorf("%w: code is required", ErrInvalidPlan)
	case p.Name == "":
		return Plan{}, fmt.Errorf("%w: name is required", ErrInvalidPlan)
	case p.AssetID == "":
		return Plan{}, fmt.Errorf("%w: asset is required", ErrInvalidPlan)
	case p.EstimatedHours.IsNegative():
		return Plan{}, fmt.Errorf("%w: estimated hours cannot be negative", ErrInvalidPlan)
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.Status != StatusActive && p.Status != StatusInactive {
		return Plan{}, fmt.Errorf("%w: unknown status %q", ErrInvalidPlan, p.Status)
	}
	if p.Frequency.RunHour == nil && s.runHour != nil {
		p.Frequency = p.Frequency.WithRunHour(*s.runHour)
	}
	if err := p.Frequency.Validate(); err != nil {
		return Plan{}, err
	}
	p.Frequency = p.Frequency.Normalize()

	if s.assets != nil {
		if _, err := s.assets.GetAsset(ctx, p.AssetID); err != nil {
			return Plan{}, err
		}
	}

	p.LastExecution = nil
	p.NextExecution = nil
	if p.Schedulable() {
		if err := s.schedule(&p, now); err != nil {
			return Plan{}, err
		}
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.plans.CreatePlan(ctx, p); err != nil {
		return Plan{}, err
	}
	s.logger.Info("plan created", zap.String("plan", p.Code), zap.String("frequency", p.Frequency.Describe()))
	return p, nil
}

// SetAutoGeneration enables or disables automatic generation. Enabling a plan
// that has no NextExecution computes it from now.
func (s *PlanService) SetAutoGeneration(ctx context.Context, code string, enabled bool, now time.Time) (Plan, error) {
	p, err := s.plans.GetPlan(ctx, code)
	if err != nil {
		return Plan{}, err
	}
	p.AutoGeneration = enabled
	return s.save(ctx, p, now)
}

// SetStatus activates or deactivates a plan.
func (s *PlanService) SetStatus(ctx context.Context, code string, status PlanStatus, now time.Time) (Plan, error) {
	if status != StatusActive && status != StatusInactive {
		return Plan{}, fmt.Errorf("%w: unknown status %q", ErrInvalidPlan, status)
	}
	p, err := s.plans.GetPlan(ctx, code)
	if err != nil {
		return Plan{}, err
	}
	p.Status = status
	return s.save(ctx, p, now)
}

// Preview returns the next n due dates of a plan: its NextExecution when set,
// followed by what the engine computes from there.
func (s *PlanService) Preview(ctx context.Context, code string, n int, now time.Time) ([]time.Time, error) {
	p, err := s.plans.GetPlan(ctx, code)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []time.Time{}, nil
	}
	if p.NextExecution == nil {
		return s.engine.Upcoming(p.Frequency, now, n)
	}
	rest, err := s.engine.Upcoming(p.Frequency, *p.NextExecution, n-1)
	if err != nil {
		return nil, err
	}
	return append([]time.Time{*p.NextExecution}, rest...), nil
}

func (s *PlanService) save(ctx context.Context, p Plan, now time.Time) (Plan, error) {
	if p.Schedulable() && p.NextExecution == nil {
		if err := s.schedule(&p, now); err != nil {
			return Plan{}, err
		}
	}
	p.UpdatedAt = now
	if err := s.plans.UpdatePlan(ctx, p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func (s *PlanService) schedule(p *Plan, now time.Time) error {
	next, err := s.engine.NextOccurrence(p.Frequency, now)
	if err != nil {
		return err
	}
	p.NextExecution = &next
	return nil
}
