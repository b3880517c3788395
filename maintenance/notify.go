package maintenance

import (
	"context"
	"time"
)

// Notifier is told about orders after a run completes. It is fire-and-forget:
// the generator logs its errors and moves on.
type Notifier interface {
	OrdersGenerated(ctx context.Context, summary RunSummary) error
}

// Observer receives run measurements. metrics.Collector implements it.
type Observer interface {
	ObserveRun(typ GenerationType, outcome RunOutcome, generated, failed int, elapsed time.Duration)
}

// RunOutcome labels how a run ended.
type RunOutcome string

const (
	OutcomeCompleted  RunOutcome = "completed"
	OutcomeAlreadyRan RunOutcome = "already_ran"
	OutcomeError      RunOutcome = "error"
)

// generationTypeLabel folds per-plan manual keys into "manual" so metric
// label cardinality stays bounded.
func generationTypeLabel(typ GenerationType) GenerationType {
	if typ == GenerationAutomatic {
		return typ
	}
	return GenerationManual
}
