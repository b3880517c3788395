/*
Package sqlite provides a SQLite-backed implementation of the maintenance stores.

PURPOSE:
  Implements every persistence interface the service needs with one
  database file, so a single deployment unit carries plans, generated work
  orders, the generation ledger and the holiday calendar.

INTERFACES IMPLEMENTED:
  maintenance.PlanStore:        plans (due listing, updates, API reads)
  maintenance.WorkOrderStore:   generated work orders
  maintenance.AssetStore:       asset registry
  maintenance.GenerationLedger: at-most-once run reservation
  maintenance.LedgerReader:     run listing for operators

KEY TABLES:
  assets:             equipment registry
  plans:              preventive plans, frequency kept as canonical JSON
  work_orders:        orders produced by generation runs
  generation_ledger:  one row per (generation_date, generation_type)
  holidays:           working-calendar exceptions

RESERVATION:
  TryBeginRun is a plain INSERT. The unique index on
  (generation_date, generation_type) makes the database decide the winner;
  a constraint violation is reported as AlreadyRan, never as an error.

TIME STORAGE:
  Instants are stored as RFC3339 in UTC so that string comparison in SQL
  matches chronological order (next_execution <= ?).

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, and a single connection for
  ":memory:" databases (each connection would otherwise get its own DB).

USAGE:
  store, err := sqlite.New("./data/maintenance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - maintenance/store.go, maintenance/ledger.go: interface definitions
  - maintenance/store/memory.go: in-memory implementation for tests
  - factory/frequency.go: frequency_json encoding
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/maintenance-engine/factory"
	"github.com/warp/maintenance-engine/maintenance"
	"github.com/warp/maintenance-engine/schedule"
)

// unparseableKind marks a stored frequency that no longer parses. Validation
// rejects it, so the generator reports the plan as a per-plan failure.
const unparseableKind schedule.Kind = "unparseable"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// now stamps created_at/started_at columns.
	now func() time.Time
}

var _ maintenance.AtomicOrderCreator = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plans (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		asset_id TEXT NOT NULL,
		frequency_json TEXT NOT NULL,
		estimated_hours TEXT NOT NULL DEFAULT '0',
		last_execution TEXT,
		next_execution TEXT,
		auto_generation INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Due-plan scan (hot path of every generation run)
	CREATE INDEX IF NOT EXISTS idx_plans_due
		ON plans(status, auto_generation, next_execution);

	CREATE TABLE IF NOT EXISTS work_orders (
		id TEXT PRIMARY KEY,
		plan_code TEXT NOT NULL REFERENCES plans(code),
		asset_id TEXT NOT NULL REFERENCES assets(id),
		title TEXT NOT NULL,
		due_date TEXT NOT NULL,
		estimated_hours TEXT NOT NULL,
		generation_type TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_work_orders_due
		ON work_orders(due_date);
	CREATE INDEX IF NOT EXISTS idx_work_orders_plan
		ON work_orders(plan_code, due_date);

	-- Generation ledger: the unique index IS the reservation
	CREATE TABLE IF NOT EXISTS generation_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		generation_date TEXT NOT NULL,
		generation_type TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		orders_generated INTEGER NOT NULL DEFAULT 0,
		triggered_by TEXT,
		details TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_generation_ledger_unique
		ON generation_ledger(generation_date, generation_type);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_unique
		ON holidays(date, name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PLANS (maintenance.PlanStore)
// =============================================================================

const planColumns = `code, name, description, asset_id, frequency_json, estimated_hours,
	last_execution, next_execution, auto_generation, status, created_at, updated_at`

// CreatePlan inserts a new plan. A taken code is ErrDuplicatePlan.
func (s *Store) CreatePlan(ctx context.Context, p maintenance.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	freq, err := factory.MarshalFrequency(p.Frequency)
	if err != nil {
		return fmt.Errorf("failed to encode frequency: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Code,
		p.Name,
		nullString(p.Description),
		p.AssetID,
		string(freq),
		p.EstimatedHours.String(),
		nullTime(p.LastExecution),
		nullTime(p.NextExecution),
		p.AutoGeneration,
		string(p.Status),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", maintenance.ErrDuplicatePlan, p.Code)
		}
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

// UpdatePlan overwrites the mutable columns of an existing plan.
func (s *Store) UpdatePlan(ctx context.Context, p maintenance.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	freq, err := factory.MarshalFrequency(p.Frequency)
	if err != nil {
		return fmt.Errorf("failed to encode frequency: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET
			name = ?, description = ?, asset_id = ?, frequency_json = ?, estimated_hours = ?,
			last_execution = ?, next_execution = ?, auto_generation = ?, status = ?, updated_at = ?
		WHERE code = ?`,
		p.Name,
		nullString(p.Description),
		p.AssetID,
		string(freq),
		p.EstimatedHours.String(),
		nullTime(p.LastExecution),
		nullTime(p.NextExecution),
		p.AutoGeneration,
		string(p.Status),
		formatTime(p.UpdatedAt),
		p.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", maintenance.ErrPlanNotFound, p.Code)
	}
	return nil
}

// execQuerier is satisfied by *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AdvancePlan sets last_execution and next_execution only, guarded by the
// next_execution the caller read.
func (s *Store) AdvancePlan(ctx context.Context, code string, expectedNext *time.Time, last, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advancePlan(ctx, s.db, code, expectedNext, last, next)
}

func (s *Store) advancePlan(ctx context.Context, q execQuerier, code string, expectedNext *time.Time, last, next time.Time) error {
	// IS compares NULL to NULL as equal.
	res, err := q.ExecContext(ctx, `
		UPDATE plans SET last_execution = ?, next_execution = ?, updated_at = ?
		WHERE code = ? AND next_execution IS ?`,
		formatTime(last),
		formatTime(next),
		formatTime(s.now()),
		code,
		nullTime(expectedNext),
	)
	if err != nil {
		return fmt.Errorf("failed to advance plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM plans WHERE code = ?`, code).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check plan: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", maintenance.ErrPlanNotFound, code)
	}
	return fmt.Errorf("%w: %s", maintenance.ErrPlanChanged, code)
}

func (s *Store) GetPlan(ctx context.Context, code string) (maintenance.Plan, error) {
	plans, err := s.queryPlans(ctx, `SELECT `+planColumns+` FROM plans WHERE code = ?`, code)
	if err != nil {
		return maintenance.Plan{}, err
	}
	if len(plans) == 0 {
		return maintenance.Plan{}, fmt.Errorf("%w: %s", maintenance.ErrPlanNotFound, code)
	}
	return plans[0], nil
}

func (s *Store) ListPlans(ctx context.Context) ([]maintenance.Plan, error) {
	return s.queryPlans(ctx, `SELECT `+planColumns+` FROM plans ORDER BY code`)
}

func (s *Store) ListSchedulablePlans(ctx context.Context) ([]maintenance.Plan, error) {
	return s.queryPlans(ctx, `SELECT `+planColumns+` FROM plans
		WHERE status = ? AND auto_generation = 1
		ORDER BY code`, string(maintenance.StatusActive))
}

// ListDuePlans returns active, auto-generating plans with next_execution <= now.
func (s *Store) ListDuePlans(ctx context.Context, now time.Time) ([]maintenance.Plan, error) {
	return s.queryPlans(ctx, `SELECT `+planColumns+` FROM plans
		WHERE status = ? AND auto_generation = 1
		  AND next_execution IS NOT NULL AND next_execution <= ?
		ORDER BY code`, string(maintenance.StatusActive), formatTime(now))
}

func (s *Store) queryPlans(ctx context.Context, query string, args ...any) ([]maintenance.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []maintenance.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func scanPlan(rows *sql.Rows) (maintenance.Plan, error) {
	var (
		p                       maintenance.Plan
		description             sql.NullString
		freqJSON, hours, status string
		last, next              sql.NullString
		createdAt, updatedAt    string
	)
	err := rows.Scan(&p.Code, &p.Name, &description, &p.AssetID, &freqJSON, &hours,
		&last, &next, &p.AutoGeneration, &status, &createdAt, &updatedAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan plan: %w", err)
	}

	p.Description = description.String
	p.Frequency = decodeFrequency(freqJSON)
	p.EstimatedHours, _ = decimal.NewFromString(hours)
	p.LastExecution = parseNullTime(last)
	p.NextExecution = parseNullTime(next)
	p.Status = maintenance.PlanStatus(status)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// decodeFrequency accepts every legacy encoding factory understands. A row
// that still fails keeps an invalid kind instead of failing the whole query.
func decodeFrequency(raw string) schedule.Frequency {
	f, err := factory.ParseFrequency([]byte(raw))
	if err != nil {
		return schedule.Frequency{Kind: unparseableKind, Interval: 1}
	}
	return f
}

// =============================================================================
// WORK ORDERS (maintenance.WorkOrderStore)
// =============================================================================

// CreateFromPlan inserts a work order for p due at dueDate.
func (s *Store) CreateFromPlan(ctx context.Context, p maintenance.Plan, dueDate time.Time, typ maintenance.GenerationType) (maintenance.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertWorkOrder(ctx, s.db, p, dueDate, typ)
}

// GenerateFromPlan advances the plan and inserts its work order in one
// transaction. A plan whose next_execution moved is ErrPlanChanged and
// nothing is written.
func (s *Store) GenerateFromPlan(ctx context.Context, p maintenance.Plan, due, next time.Time, typ maintenance.GenerationType) (maintenance.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return maintenance.WorkOrder{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.advancePlan(ctx, sqlTx, p.Code, p.NextExecution, due, next); err != nil {
		return maintenance.WorkOrder{}, err
	}
	wo, err := s.insertWorkOrder(ctx, sqlTx, p, due, typ)
	if err != nil {
		return maintenance.WorkOrder{}, err
	}
	if err := sqlTx.Commit(); err != nil {
		return maintenance.WorkOrder{}, fmt.Errorf("failed to commit work order: %w", err)
	}
	return wo, nil
}

func (s *Store) insertWorkOrder(ctx context.Context, q execQuerier, p maintenance.Plan, dueDate time.Time, typ maintenance.GenerationType) (maintenance.WorkOrder, error) {
	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE id = ?`, p.AssetID).Scan(&exists); err != nil {
		return maintenance.WorkOrder{}, fmt.Errorf("failed to check asset: %w", err)
	}
	if exists == 0 {
		return maintenance.WorkOrder{}, fmt.Errorf("%w: %s", maintenance.ErrAssetNotFound, p.AssetID)
	}

	wo := maintenance.NewWorkOrder(uuid.NewString(), p, dueDate, typ, s.now())
	_, err := q.ExecContext(ctx, `
		INSERT INTO work_orders (id, plan_code, asset_id, title, due_date, estimated_hours, generation_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wo.ID,
		wo.PlanCode,
		wo.AssetID,
		wo.Title,
		formatTime(wo.DueDate),
		wo.EstimatedHours.String(),
		string(wo.GenerationType),
		formatTime(wo.CreatedAt),
	)
	if err != nil {
		return maintenance.WorkOrder{}, fmt.Errorf("failed to insert work order: %w", err)
	}
	return wo, nil
}

// WorkOrdersDueBetween returns orders with due_date in [start, end].
func (s *Store) WorkOrdersDueBetween(ctx context.Context, start, end time.Time) ([]maintenance.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_code, asset_id, title, due_date, estimated_hours, generation_type, created_at
		FROM work_orders
		WHERE due_date >= ? AND due_date <= ?
		ORDER BY due_date, plan_code`,
		formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query work orders: %w", err)
	}
	defer rows.Close()

	var orders []maintenance.WorkOrder
	for rows.Next() {
		var (
			wo                         maintenance.WorkOrder
			due, hours, typ, createdAt string
		)
		if err := rows.Scan(&wo.ID, &wo.PlanCode, &wo.AssetID, &wo.Title, &due, &hours, &typ, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		wo.DueDate = parseTime(due)
		wo.EstimatedHours, _ = decimal.NewFromString(hours)
		wo.GenerationType = maintenance.GenerationType(typ)
		wo.CreatedAt = parseTime(createdAt)
		orders = append(orders, wo)
	}
	return orders, rows.Err()
}

// =============================================================================
// ASSETS (maintenance.AssetStore)
// =============================================================================

func (s *Store) CreateAsset(ctx context.Context, a maintenance.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		a.ID, a.Name, formatTime(a.CreatedAt))
	return err
}

func (s *Store) GetAsset(ctx context.Context, id string) (maintenance.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a maintenance.Asset
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM assets WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("%w: %s", maintenance.ErrAssetNotFound, id)
	}
	if err != nil {
		return a, fmt.Errorf("failed to get asset: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

func (s *Store) ListAssets(ctx context.Context) ([]maintenance.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []maintenance.Asset
	for rows.Next() {
		var a maintenance.Asset
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
