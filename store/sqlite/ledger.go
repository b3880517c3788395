package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/maintenance-engine/maintenance"
)

// =============================================================================
// GENERATION LEDGER (maintenance.GenerationLedger, maintenance.LedgerReader)
// =============================================================================

// TryBeginRun inserts the (date, type) row. The unique index decides
// contention; a violation means another trigger got there first.
func (s *Store) TryBeginRun(ctx context.Context, date string, typ maintenance.GenerationType, triggeredBy string) (maintenance.BeginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_ledger (generation_date, generation_type, started_at, triggered_by)
		VALUES (?, ?, ?, ?)`,
		date, string(typ), formatTime(s.now()), nullString(triggeredBy))
	if err != nil {
		if isUniqueConstraintError(err) {
			return maintenance.AlreadyRan, nil
		}
		return maintenance.AlreadyRan, fmt.Errorf("failed to reserve generation run: %w", err)
	}
	return maintenance.Acquired, nil
}

// CompleteRun sets the completion columns once.
func (s *Store) CompleteRun(ctx context.Context, date string, typ maintenance.GenerationType, ordersGenerated int, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_ledger
		SET completed_at = ?, orders_generated = ?, details = ?
		WHERE generation_date = ? AND generation_type = ? AND completed_at IS NULL`,
		formatTime(s.now()), ordersGenerated, nullString(details), date, string(typ))
	if err != nil {
		return fmt.Errorf("failed to complete generation run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var count int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM generation_ledger
		WHERE generation_date = ? AND generation_type = ?`, date, string(typ)).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check generation run: %w", err)
	}
	if count == 0 {
		return maintenance.ErrRunNotStarted
	}
	return maintenance.ErrRunAlreadyCompleted
}

// Runs returns ledger rows with generation_date in [from, to].
func (s *Store) Runs(ctx context.Context, from, to string) ([]maintenance.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT generation_date, generation_type, started_at, completed_at,
		       orders_generated, triggered_by, details
		FROM generation_ledger
		WHERE generation_date >= ? AND generation_date <= ?
		ORDER BY generation_date, generation_type`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation runs: %w", err)
	}
	defer rows.Close()

	var entries []maintenance.LedgerEntry
	for rows.Next() {
		var (
			e                             maintenance.LedgerEntry
			typ, startedAt                string
			completedAt, trigger, details sql.NullString
		)
		if err := rows.Scan(&e.Date, &typ, &startedAt, &completedAt, &e.OrdersGenerated, &trigger, &details); err != nil {
			return nil, fmt.Errorf("failed to scan generation run: %w", err)
		}
		e.Type = maintenance.GenerationType(typ)
		e.StartedAt = parseTime(startedAt)
		e.CompletedAt = parseNullTime(completedAt)
		e.TriggeredBy = trigger.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
