/*
handlers.go - HTTP API handlers for the preventive maintenance engine

PURPOSE:
  Exposes plan management, order generation and the calendar projection
  via REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the maintenance package.

ENDPOINTS:
  Generation:
    GET    /cron/generate-preventive-orders     Daily generation trigger
    POST   /api/admin/plans/{code}/generate     Force one plan (operator)
    GET    /api/admin/generation-runs           Ledger history (operator)

  Calendar:
    GET    /api/calendar/events?start=&end=     Projected and generated events

  Plans:
    GET    /api/plans                           List plans
    POST   /api/plans                           Create plan
    GET    /api/plans/{code}                    Get plan
    POST   /api/plans/{code}/auto-generation    Enable/disable generation
    POST   /api/plans/{code}/status             Activate/deactivate
    GET    /api/plans/{code}/preview?count=N    Next N due dates

  Assets and holidays:
    GET    /api/assets, POST /api/assets
    GET    /api/holidays, POST /api/holidays, DELETE /api/holidays/{date}

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags, then factory.ParseFrequency)
  3. Call domain logic (PlanService, OrderGenerator, CalendarProjector)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed frequency descriptors
  - 404: Plan or asset not found
  - 409: Duplicate plan code, forcing an inactive plan
  - 500: Internal errors
  The cron endpoint is the exception: it always answers 200 with the run
  summary, so the external scheduler never retries a partial run.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/maintenance-engine/factory"
	"github.com/warp/maintenance-engine/maintenance"
	"github.com/warp/maintenance-engine/schedule"
	"go.uber.org/zap"
)

const (
	defaultCalendarDays = 31
	maxCalendarDays     = 366
	defaultPreviewCount = 5
	maxPreviewCount     = 100
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HolidayStore persists working-calendar holidays.
type HolidayStore interface {
	SaveHoliday(ctx context.Context, h schedule.Holiday) error
	DeleteHoliday(ctx context.Context, date time.Time, name string) error
	Holidays(ctx context.Context) ([]schedule.Holiday, error)
}

// ProjectionObserver records calendar response sizes.
type ProjectionObserver interface {
	ObserveProjection(events int)
}

// Deps are the handler dependencies. Runs, Holidays, Metrics, Logger and Now
// are optional.
type Deps struct {
	Plans     *maintenance.PlanService
	PlanStore maintenance.PlanStore
	Assets    maintenance.AssetStore
	Generator *maintenance.OrderGenerator
	Projector *maintenance.CalendarProjector
	Runs      maintenance.LedgerReader
	Holidays  HolidayStore
	Metrics   ProjectionObserver
	Logger    *zap.Logger
	Now       func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Deps
	loc *time.Location
}

// NewHandler creates a handler. Dates in query strings are read in the
// generator engine's location.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	d.Logger = d.Logger.Named("api")
	if d.Now == nil {
		d.Now = time.Now
	}
	loc := time.UTC
	if d.Generator != nil && d.Generator.Engine().Location != nil {
		loc = d.Generator.Engine().Location
	}
	return &Handler{Deps: d, loc: loc}
}

// =============================================================================
// GENERATION HANDLERS
// =============================================================================

// GeneratePreventiveOrders runs the daily generation.
// GET /cron/generate-preventive-orders
func (h *Handler) GeneratePreventiveOrders(w http.ResponseWriter, r *http.Request) {
	triggeredBy := r.Header.Get("X-Triggered-By")
	if triggeredBy == "" {
		triggeredBy = "cron"
	}

	summary, err := h.Generator.RunDailyGeneration(r.Context(), h.Now(), triggeredBy)
	if err != nil {
		h.Logger.Error("generation run reported an error", zap.String("date", summary.Date), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, NewGenerationResponse(summary))
}

// GeneratePlanNow forces one order for a plan, once per plan per day.
// POST /api/admin/plans/{code}/generate
func (h *Handler) GeneratePlanNow(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	summary, err := h.Generator.GeneratePlanNow(r.Context(), code, h.Now(), "operator")
	if err != nil && summary.Err == nil {
		writeDomainError(w, "Failed to generate plan", err)
		return
	}

	writeJSON(w, http.StatusOK, NewGenerationResponse(summary))
}

// ListGenerationRuns returns ledger entries between from and to (inclusive,
// YYYY-MM-DD). Defaults to the last 30 days.
// GET /api/admin/generation-runs
func (h *Handler) ListGenerationRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeError(w, http.StatusNotImplemented, "Ledger backend does not support listing", nil)
		return
	}

	today := h.Now().In(h.loc)
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" {
		from = maintenance.DateKey(today.AddDate(0, 0, -30))
	}
	if to == "" {
		to = maintenance.DateKey(today)
	}
	for _, d := range []string{from, to} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
	}

	runs, err := h.Runs.Runs(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get generation runs", err)
		return
	}

	dtos := make([]LedgerEntryDTO, 0, len(runs))
	for _, e := range runs {
		dtos = append(dtos, toLedgerEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// CalendarEvents returns the projection for [start, end]. Both accept
// YYYY-MM-DD (end covers the whole day) or RFC3339.
// GET /api/calendar/events
func (h *Handler) CalendarEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := startOfDay(h.Now().In(h.loc))
	if s := q.Get("start"); s != "" {
		t, err := h.parseBound(s, false)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start", err)
			return
		}
		start = t
	}
	end := start.AddDate(0, 0, defaultCalendarDays).Add(-time.Nanosecond)
	if s := q.Get("end"); s != "" {
		t, err := h.parseBound(s, true)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end", err)
			return
		}
		end = t
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "End must not be before start", maintenance.ErrInvalidRange)
		return
	}
	if end.Sub(start) > maxCalendarDays*24*time.Hour {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Range is limited to %d days", maxCalendarDays), nil)
		return
	}

	events, err := h.Projector.ProjectRange(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to project calendar", err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.ObserveProjection(len(events))
	}

	dtos := make([]CalendarEventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, NewCalendarEventDTO(e))
	}
	writeJSON(w, http.StatusOK, CalendarResponse{
		Start:  start.Format(time.RFC3339),
		End:    end.Format(time.RFC3339),
		Events: dtos,
	})
}

func (h *Handler) parseBound(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, h.loc); err == nil {
		if endOfDay {
			return t.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("use YYYY-MM-DD or RFC3339: %q", s)
	}
	return t.In(h.loc), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// ListPlans returns all plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.PlanStore.ListPlans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list plans", err)
		return
	}

	dtos := make([]PlanDTO, 0, len(plans))
	for _, p := range plans {
		dtos = append(dtos, toPlanDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": dtos})
}

// CreatePlan creates a plan from JSON. The frequency is normalized here,
// once, and stored in canonical form.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EstimatedHours.IsNegative() {
		writeError(w, http.StatusBadRequest, "estimated_hours must not be negative", nil)
		return
	}

	freq, err := factory.ParseFrequency(req.Frequency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid frequency", err)
		return
	}

	plan, err := h.Plans.Create(r.Context(), maintenance.Plan{
		Code:           req.Code,
		Name:           req.Name,
		Description:    req.Description,
		AssetID:        req.AssetID,
		Frequency:      freq,
		EstimatedHours: req.EstimatedHours,
		AutoGeneration: req.AutoGeneration,
		Status:         maintenance.PlanStatus(req.Status),
	}, h.Now())
	if err != nil {
		writeDomainError(w, "Failed to create plan", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPlanDTO(plan))
}

// GetPlan returns one plan.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.PlanStore.GetPlan(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, "Failed to get plan", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// SetAutoGeneration toggles automatic generation.
func (h *Handler) SetAutoGeneration(w http.ResponseWriter, r *http.Request) {
	var req SetAutoGenerationRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, err := h.Plans.SetAutoGeneration(r.Context(), chi.URLParam(r, "code"), *req.Enabled, h.Now())
	if err != nil {
		writeDomainError(w, "Failed to update plan", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// SetPlanStatus activates or deactivates a plan.
func (h *Handler) SetPlanStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, err := h.Plans.SetStatus(r.Context(), chi.URLParam(r, "code"), maintenance.PlanStatus(req.Status), h.Now())
	if err != nil {
		writeDomainError(w, "Failed to update plan", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// PreviewPlan lists the next due dates of a plan.
func (h *Handler) PreviewPlan(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	count := defaultPreviewCount
	if s := r.URL.Query().Get("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPreviewCount {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxPreviewCount), err)
			return
		}
		count = n
	}

	dates, err := h.Plans.Preview(r.Context(), code, count, h.Now())
	if err != nil {
		writeDomainError(w, "Failed to preview plan", err)
		return
	}

	resp := PreviewResponse{PlanCode: code, Occurrences: make([]string, 0, len(dates))}
	for _, d := range dates {
		resp.Occurrences = append(resp.Occurrences, d.Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ASSET HANDLERS
// =============================================================================

func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.Assets.ListAssets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list assets", err)
		return
	}

	dtos := make([]AssetDTO, 0, len(assets))
	for _, a := range assets {
		dto := AssetDTO{ID: a.ID, Name: a.Name}
		if !a.CreatedAt.IsZero() {
			dto.CreatedAt = a.CreatedAt.Format(time.RFC3339)
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": dtos})
}

func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	asset := maintenance.Asset{ID: strings.TrimSpace(req.ID), Name: strings.TrimSpace(req.Name), CreatedAt: h.Now()}
	if err := h.Assets.CreateAsset(r.Context(), asset); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, AssetDTO{ID: asset.ID, Name: asset.Name, CreatedAt: asset.CreatedAt.Format(time.RFC3339)})
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

// The working calendar is built at startup; holiday changes apply to the
// engine after a restart.

// ListHolidays returns all stored holidays.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Holidays.Holidays(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get holidays", err)
		return
	}

	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, HolidayDTO{
			Date:      hol.Date.Format("2006-01-02"),
			Name:      hol.Name,
			Recurring: hol.Recurring,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": dtos})
}

// CreateHoliday stores a holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, _ := time.Parse("2006-01-02", req.Date)
	hol := schedule.Holiday{Name: req.Name, Date: date, Recurring: req.Recurring}
	if err := h.Holidays.SaveHoliday(r.Context(), hol); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create holiday", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":  "created",
		"holiday": HolidayDTO{Date: req.Date, Name: req.Name, Recurring: req.Recurring},
	})
}

// DeleteHoliday deletes the holiday named ?name= on a date.
// DELETE /api/holidays/{date}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	if err := h.Holidays.DeleteHoliday(r.Context(), date, name); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete holiday", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps maintenance errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case maintenance.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, maintenance.ErrDuplicatePlan), errors.Is(err, maintenance.ErrPlanNotSchedulable):
		writeError(w, http.StatusConflict, message, err)
	case maintenance.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
