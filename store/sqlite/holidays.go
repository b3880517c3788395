package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/maintenance-engine/schedule"
)

// =============================================================================
// HOLIDAYS
// =============================================================================

// SaveHoliday upserts a holiday keyed by (date, name).
func (s *Store) SaveHoliday(ctx context.Context, h schedule.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, name) DO UPDATE SET
			recurring = excluded.recurring`,
		uuid.NewString(),
		h.Date.Format("2006-01-02"),
		h.Name,
		h.Recurring,
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save holiday: %w", err)
	}
	return nil
}

// DeleteHoliday removes the holiday named name on date.
func (s *Store) DeleteHoliday(ctx context.Context, date time.Time, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM holidays WHERE date = ? AND name = ?`,
		date.Format("2006-01-02"), name)
	return err
}

// Holidays returns every stored holiday ordered by date, for building a
// schedule.StaticCalendar at startup.
func (s *Store) Holidays(ctx context.Context) ([]schedule.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT date, name, recurring FROM holidays ORDER BY date, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var holidays []schedule.Holiday
	for rows.Next() {
		var h schedule.Holiday
		var date string
		if err := rows.Scan(&date, &h.Name, &h.Recurring); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		h.Date, _ = time.Parse("2006-01-02", date)
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}
