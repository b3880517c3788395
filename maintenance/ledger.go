/*
ledger.go - At-most-once reservation of generation runs

PURPOSE:
  Several triggers can fire for the same day (cron retries, overlapping
  instances, an operator clicking twice). The GenerationLedger makes sure
  only one of them processes plans for a given (date, generation type).

CRITICAL INVARIANTS:
  1. UNIQUE KEY: at most one entry per (date, type), enforced by the backend
     (unique index, SETNX, mutex-guarded map) and never by read-then-write
  2. COMPLETE ONCE: an entry is created once and completed once
  3. AT-MOST-ONCE: a crash between TryBeginRun and CompleteRun leaves an
     incomplete entry, and further same-day triggers see AlreadyRan

LOSING THE RACE:
  AlreadyRan is a normal result, not an error. Callers log it at info and
  return a skipped summary.

IMPLEMENTATIONS:
  - maintenance/store/memory.go: in-memory map
  - store/sqlite/sqlite.go:      UNIQUE(generation_date, generation_type)
  - store/redis/ledger.go:       SETNX

SEE ALSO:
  - generator.go: the only writer
*/
package maintenance

import (
	"context"
	"time"
)

// BeginResult is the outcome of TryBeginRun.
type BeginResult int

const (
	// Acquired means the caller owns the run and must call CompleteRun.
	Acquired BeginResult = iota
	// AlreadyRan means another trigger already reserved the key.
	AlreadyRan
)

func (r BeginResult) String() string {
	if r == Acquired {
		return "Acquired"
	}
	return "AlreadyRan"
}

// GenerationLedger reserves and completes generation runs.
type GenerationLedger interface {
	// TryBeginRun atomically inserts the (date, type) entry. It never
	// overwrites: a second call for the same key returns AlreadyRan.
	TryBeginRun(ctx context.Context, date string, typ GenerationType, triggeredBy string) (BeginResult, error)

	// CompleteRun records the number of orders generated and free-form
	// details. Returns ErrRunNotStarted or ErrRunAlreadyCompleted on misuse.
	CompleteRun(ctx context.Context, date string, typ GenerationType, ordersGenerated int, details string) error
}

// LedgerReader lists runs for operators.
type LedgerReader interface {
	// Runs returns entries with date in [from, to] (YYYY-MM-DD, inclusive),
	// ordered by date then type.
	Runs(ctx context.Context, from, to string) ([]LedgerEntry, error)
}

// NewLedgerEntry is the row a backend stores on a successful TryBeginRun.
func NewLedgerEntry(date string, typ GenerationType, triggeredBy string, now time.Time) LedgerEntry {
	return LedgerEntry{
		Date:        date,
		Type:        typ,
		StartedAt:   now,
		TriggeredBy: triggeredBy,
	}
}
