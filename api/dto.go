/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in maintenance/ from the external API contract, so that
  field names and date formats can evolve without touching the engine.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Plans:
    PlanDTO, CreatePlanRequest, SetAutoGenerationRequest, SetStatusRequest,
    PreviewResponse

  Generation:
    GenerationResponse, PlanFailureDTO, WorkOrderDTO, LedgerEntryDTO

  Calendar:
    CalendarEventDTO, CalendarResponse

  Assets and holidays:
    AssetDTO, CreateAssetRequest, HolidayDTO, CreateHolidayRequest

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  decodeAndValidate before touching the domain. Rule-level validation of
  frequencies stays in schedule.Frequency.Validate.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/frequency.go: FrequencyJSON type
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/maintenance-engine/factory"
	"github.com/warp/maintenance-engine/maintenance"
)

// =============================================================================
// PLANS
// =============================================================================

// PlanDTO represents a maintenance plan in API responses.
type PlanDTO struct {
	Code             string                `json:"code"`
	Name             string                `json:"name"`
	Description      string                `json:"description,omitempty"`
	AssetID          string                `json:"asset_id"`
	Frequency        factory.FrequencyJSON `json:"frequency"`
	FrequencySummary string                `json:"frequency_summary"`
	EstimatedHours   decimal.Decimal       `json:"estimated_hours"`
	LastExecution    *string               `json:"last_execution,omitempty"`
	NextExecution    *string               `json:"next_execution,omitempty"`
	AutoGeneration   bool                  `json:"auto_generation"`
	Status           string                `json:"status"`
	CreatedAt        string                `json:"created_at,omitempty"`
	UpdatedAt        string                `json:"updated_at,omitempty"`
}

// CreatePlanRequest is the request to create a plan. Frequency accepts every
// encoding factory.ParseFrequency understands.
type CreatePlanRequest struct {
	Code           string          `json:"code" validate:"required,max=64"`
	Name           string          `json:"name" validate:"required,max=200"`
	Description    string          `json:"description"`
	AssetID        string          `json:"asset_id" validate:"required"`
	Frequency      json.RawMessage `json:"frequency" validate:"required"`
	EstimatedHours decimal.Decimal `json:"estimated_hours"`
	AutoGeneration bool            `json:"auto_generation"`
	Status         string          `json:"status" validate:"omitempty,oneof=active inactive"`
}

type SetAutoGenerationRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive"`
}

// PreviewResponse lists the next occurrences of one plan.
type PreviewResponse struct {
	PlanCode    string   `json:"plan_code"`
	Occurrences []string `json:"occurrences"`
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerationResponse is the body of the cron and manual-override endpoints.
// SkippedReason and Error are null when not applicable.
type GenerationResponse struct {
	Generated     int              `json:"generated"`
	SkippedReason *string          `json:"skipped_reason"`
	Date          string           `json:"date"`
	Type          string           `json:"type"`
	Orders        []WorkOrderDTO   `json:"orders"`
	Failures      []PlanFailureDTO `json:"failures"`
	Error         *string          `json:"error"`
}

type PlanFailureDTO struct {
	PlanCode string `json:"plan_code"`
	Error    string `json:"error"`
}

type WorkOrderDTO struct {
	ID             string          `json:"id"`
	PlanCode       string          `json:"plan_code"`
	AssetID        string          `json:"asset_id"`
	Title          string          `json:"title"`
	DueDate        string          `json:"due_date"`
	EstimatedHours decimal.Decimal `json:"estimated_hours"`
	GenerationType string          `json:"generation_type"`
}

// LedgerEntryDTO represents one generation run for operators.
type LedgerEntryDTO struct {
	Date            string `json:"date"`
	Type            string `json:"type"`
	StartedAt       string `json:"started_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
	OrdersGenerated int    `json:"orders_generated"`
	TriggeredBy     string `json:"triggered_by,omitempty"`
	Details         string `json:"details,omitempty"`
	Status          string `json:"status"`
}

// =============================================================================
// CALENDAR
// =============================================================================

type CalendarEventDTO struct {
	PlanCode    string `json:"plan_code"`
	PlanName    string `json:"plan_name"`
	AssetID     string `json:"asset_id"`
	DueDate     string `json:"due_date"`
	Source      string `json:"source"`
	WorkOrderID string `json:"work_order_id,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
}

type CalendarResponse struct {
	Start  string             `json:"start"`
	End    string             `json:"end"`
	Events []CalendarEventDTO `json:"events"`
}

// =============================================================================
// ASSETS AND HOLIDAYS
// =============================================================================

type AssetDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreateAssetRequest struct {
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=200"`
}

type HolidayDTO struct {
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

type CreateHolidayRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Name      string `json:"name" validate:"required"`
	Recurring bool   `json:"recurring"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPlanDTO(p maintenance.Plan) PlanDTO {
	dto := PlanDTO{
		Code:             p.Code,
		Name:             p.Name,
		Description:      p.Description,
		AssetID:          p.AssetID,
		Frequency:        factory.ToJSON(p.Frequency),
		FrequencySummary: p.Frequency.Describe(),
		EstimatedHours:   p.EstimatedHours,
		LastExecution:    timePtr(p.LastExecution),
		NextExecution:    timePtr(p.NextExecution),
		AutoGeneration:   p.AutoGeneration,
		Status:           string(p.Status),
	}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.Format(time.RFC3339)
	}
	if !p.UpdatedAt.IsZero() {
		dto.UpdatedAt = p.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toWorkOrderDTO(o maintenance.WorkOrder) WorkOrderDTO {
	return WorkOrderDTO{
		ID:             o.ID,
		PlanCode:       o.PlanCode,
		AssetID:        o.AssetID,
		Title:          o.Title,
		DueDate:        o.DueDate.Format(time.RFC3339),
		EstimatedHours: o.EstimatedHours,
		GenerationType: string(o.GenerationType),
	}
}

// NewGenerationResponse renders a run summary.
func NewGenerationResponse(s maintenance.RunSummary) GenerationResponse {
	resp := GenerationResponse{
		Generated: s.Generated,
		Date:      s.Date,
		Type:      string(s.Type),
		Orders:    make([]WorkOrderDTO, 0, len(s.Orders)),
		Failures:  make([]PlanFailureDTO, 0, len(s.Failures)),
	}
	if s.SkippedReason != "" {
		resp.SkippedReason = strPtr(s.SkippedReason)
	}
	if s.Err != nil {
		resp.Error = strPtr(s.Err.Error())
	}
	for _, o := range s.Orders {
		resp.Orders = append(resp.Orders, toWorkOrderDTO(o))
	}
	for _, f := range s.Failures {
		resp.Failures = append(resp.Failures, PlanFailureDTO{PlanCode: f.PlanCode, Error: f.Err.Error()})
	}
	return resp
}

func toLedgerEntryDTO(e maintenance.LedgerEntry) LedgerEntryDTO {
	dto := LedgerEntryDTO{
		Date:            e.Date,
		Type:            string(e.Type),
		StartedAt:       e.StartedAt.Format(time.RFC3339),
		OrdersGenerated: e.OrdersGenerated,
		TriggeredBy:     e.TriggeredBy,
		Details:         e.Details,
		Status:          "running",
	}
	if e.Completed() {
		dto.CompletedAt = e.CompletedAt.Format(time.RFC3339)
		dto.Status = "completed"
	}
	return dto
}

// NewCalendarEventDTO renders one calendar event.
func NewCalendarEventDTO(e maintenance.CalendarEvent) CalendarEventDTO {
	return CalendarEventDTO{
		PlanCode:    e.PlanCode,
		PlanName:    e.PlanName,
		AssetID:     e.AssetID,
		DueDate:     e.DueDate.Format(time.RFC3339),
		Source:      string(e.Source),
		WorkOrderID: e.WorkOrderID,
		Frequency:   e.Frequency,
	}
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func strPtr(s string) *string {
	return &s
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errValidation marks request bodies rejected before reaching the domain.
var errValidation = errors.New("validation failed")

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", errValidation, err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", errValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s=%s'", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s'", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", errValidation, strings.Join(msgs, "; "))
}
