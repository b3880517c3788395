/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Cron trigger (once per day, always 200)
- Plan creation, validation and status mapping
- Calendar projection endpoint and alias
- Operator endpoints behind the bearer token
- Holidays and demo scenarios
*/
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/maintenance"
	"github.com/warp/maintenance-engine/schedule"
	"github.com/warp/maintenance-engine/store/sqlite"
)

const operatorToken = "s3cret"

type fixture struct {
	t      *testing.T
	store  *sqlite.Store
	router http.Handler
	now    time.Time
}

// newFixture wires the handler to an in-memory SQLite store. The clock
// starts on Monday 2025-03-03 07:00 UTC.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{t: t, store: store, now: time.Date(2025, time.March, 3, 7, 0, 0, 0, time.UTC)}
	engine := schedule.NewEngine(time.UTC, nil)
	h := NewHandler(Deps{
		Plans:     maintenance.NewPlanService(store, store, engine, nil),
		PlanStore: store,
		Assets:    store,
		Generator: maintenance.NewOrderGenerator(maintenance.GeneratorConfig{
			Plans: store, Orders: store, Ledger: store, Engine: engine,
		}),
		Projector: maintenance.NewCalendarProjector(store, store, engine, nil),
		Runs:      store,
		Holidays:  store,
		Now:       func() time.Time { return f.now },
	})
	f.router = NewRouter(h, RouterOptions{OperatorToken: operatorToken})
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) admin(method, path string) *httptest.ResponseRecorder {
	return f.do(method, path, "", "Authorization", "Bearer "+operatorToken)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedPlan creates asset A-1 and a plan with the given frequency JSON.
func (f *fixture) seedPlan(code, frequency string) PlanDTO {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/assets", `{"id":"A-1","name":"Chiller"}`)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/plans", `{
		"code": "`+code+`",
		"name": "Inspection `+code+`",
		"asset_id": "A-1",
		"frequency": `+frequency+`,
		"estimated_hours": "1.5",
		"auto_generation": true
	}`)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[PlanDTO](f.t, rec)
}

// =============================================================================
// PLANS
// =============================================================================

func TestCreatePlan_NormalizesLegacyFrequency(t *testing.T) {
	f := newFixture(t)

	// GIVEN/WHEN: a weekly plan sent with Spanish, accent-free names
	plan := f.seedPlan("PM-1", `{"type":"semanal","weekdays":"miercoles, lunes"}`)

	// THEN: the rule is stored canonically and scheduled from now
	assert.Equal(t, "weekly", plan.Frequency.Type)
	assert.JSONEq(t, `["monday","wednesday"]`, string(plan.Frequency.Weekdays))
	require.NotNil(t, plan.NextExecution)
	assert.Equal(t, "2025-03-05T06:00:00Z", *plan.NextExecution)
	assert.Equal(t, "1.5", plan.EstimatedHours.String())

	rec := f.do(http.MethodGet, "/api/plans/PM-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, plan.NextExecution, decode[PlanDTO](t, rec).NextExecution)
}

func TestCreatePlan_Errors(t *testing.T) {
	f := newFixture(t)
	f.seedPlan("PM-1", `{"type":"daily"}`)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing code", `{"name":"x","asset_id":"A-1","frequency":{"type":"daily"}}`, http.StatusBadRequest},
		{"missing frequency", `{"code":"PM-2","name":"x","asset_id":"A-1"}`, http.StatusBadRequest},
		{"bad status", `{"code":"PM-2","name":"x","asset_id":"A-1","frequency":{"type":"daily"},"status":"paused"}`, http.StatusBadRequest},
		{"empty weekdays", `{"code":"PM-2","name":"x","asset_id":"A-1","frequency":{"type":"weekly","weekdays":[]}}`, http.StatusBadRequest},
		{"day of month 32", `{"code":"PM-2","name":"x","asset_id":"A-1","frequency":{"type":"monthly","day_of_month":32}}`, http.StatusBadRequest},
		{"negative hours", `{"code":"PM-2","name":"x","asset_id":"A-1","frequency":{"type":"daily"},"estimated_hours":"-1"}`, http.StatusBadRequest},
		{"unknown asset", `{"code":"PM-2","name":"x","asset_id":"NOPE","frequency":{"type":"daily"}}`, http.StatusNotFound},
		{"duplicate code", `{"code":"PM-1","name":"x","asset_id":"A-1","frequency":{"type":"daily"}}`, http.StatusConflict},
		{"not json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/plans", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestGetPlan_NotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/plans/NOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetAutoGenerationAndStatus(t *testing.T) {
	f := newFixture(t)
	f.seedPlan("PM-1", `{"type":"daily"}`)

	rec := f.do(http.MethodPost, "/api/plans/PM-1/auto-generation", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[PlanDTO](t, rec).AutoGeneration)

	rec = f.do(http.MethodPost, "/api/plans/PM-1/auto-generation", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/plans/PM-1/status", `{"status":"inactive"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "inactive", decode[PlanDTO](t, rec).Status)

	rec = f.do(http.MethodPost, "/api/plans/PM-1/status", `{"status":"paused"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewPlan(t *testing.T) {
	f := newFixture(t)
	f.seedPlan("PM-1", `{"type":"daily","interval":2}`)

	rec := f.do(http.MethodGet, "/api/plans/PM-1/preview?count=3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{
		"2025-03-05T06:00:00Z",
		"2025-03-07T06:00:00Z",
		"2025-03-09T06:00:00Z",
	}, decode[PreviewResponse](t, rec).Occurrences)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/plans/PM-1/preview?count=0", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/plans/NOPE/preview", "").Code)
}

// =============================================================================
// CRON
// =============================================================================

func TestCron_GeneratesOncePerDay(t *testing.T) {
	f := newFixture(t)
	f.seedPlan("PM-1", `{"type":"weekly","weekdays":["monday","wednesday"]}`)

	// GIVEN: the plan falls due on Wednesday
	f.now = time.Date(2025, time.March, 5, 7, 0, 0, 0, time.UTC)

	// WHEN: the scheduler calls twice
	first := f.do(http.MethodGet, "/cron/generate-preventive-orders", "")
	second := f.do(http.MethodGet, "/cron/generate-preventive-orders", "")

	// THEN: one order, and the retry is a 200 skip
	require.Equal(t, http.StatusOK, first.Code)
	resp := decode[GenerationResponse](t, first)
	assert.Equal(t, 1, resp.Generated)
	assert.Nil(t, resp.SkippedReason)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "2025-03-05", resp.Date)
	require.Len(t, resp.Orders, 1)
	assert.Equal(t, "2025-03-05T06:00:00Z", resp.Orders[0].DueDate)
	assert.Empty(t, resp.Failures)

	require.Equal(t, http.StatusOK, second.Code)
	resp = decode[GenerationResponse](t, second)
	assert.Equal(t, 0, resp.Generated)
	require.NotNil(t, resp.SkippedReason)
	assert.Equal(t, maintenance.SkippedAlreadyRan, *resp.SkippedReason)

	// AND: the plan moved to the following Monday
	plan := decode[PlanDTO](t, f.do(http.MethodGet, "/api/plans/PM-1", ""))
	assert.Equal(t, "2025-03-10T06:00:00Z", *plan.NextExecution)
	assert.Equal(t, "2025-03-05T06:00:00Z", *plan.LastExecution)
}

func TestCron_ResponseShapeHasNulls(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/cron/generate-preventive-orders", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"generated": 0,
		"skipped_reason": null,
		"date": "2025-03-03",
		"type": "automatic",
		"orders": [],
		"failures": [],
		"error": null
	}`, rec.Body.String())
}

// =============================================================================
// CALENDAR
// =============================================================================

func TestCalendarEvents(t *testing.T) {
	f := newFixture(t)
	f.seedPlan("PM-1", `{"type":"daily"}`)

	for _, path := range []string{"/api/calendar/events", "/calendar/events"} {
		t.Run(path, func(t *testing.T) {
			rec := f.do(http.MethodGet, path+"?start=2025-03-04&end=2025-03-06", "")

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			resp := decode[CalendarResponse](t, rec)
			require.Len(t, resp.Events, 3)
			assert.Equal(t, "2025-03-04T06:00:00Z", resp.Events[0].DueDate)
			assert.Equal(t, "2025-03-06T06:00:00Z", resp.Events[2].DueDate)
			assert.Equal(t, "projected", resp.Events[0].Source)
			assert.Equal(t, "PM-1", resp.Events[0].PlanCode)
		})
	}
}

func TestCalendarEvents_IncludesGeneratedOrders(t *testing.T) {
	f := newFixture(t)
	f.seedPlan("PM-1", `{"type":"daily"}`)
	f.now = time.Date(2025, time.March, 4, 7, 0, 0, 0, time.UTC)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/cron/generate-preventive-orders", "").Code)

	rec := f.do(http.MethodGet, "/api/calendar/events?start=2025-03-04&end=2025-03-05", "")

	resp := decode[CalendarResponse](t, rec)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "generated", resp.Events[0].Source)
	assert.NotEmpty(t, resp.Events[0].WorkOrderID)
	assert.Equal(t, "projected", resp.Events[1].Source)
}

func TestCalendarEvents_BadRange(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/calendar/events?start=2025-03-10&end=2025-03-01", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/calendar/events?start=tomorrow", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/calendar/events?start=2025-01-01&end=2026-06-01", "").Code)
}

// =============================================================================
// OPERATOR
// =============================================================================

func TestAdmin_RequiresToken(t *testing.T) {
	f := newFixture(t)
	f.seedPlan("PM-1", `{"type":"daily"}`)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/admin/plans/PM-1/generate", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/admin/plans/PM-1/generate", "",
		"Authorization", "Bearer wrong").Code)
}

func TestAdmin_EmptyTokenDisablesGroup(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireBearerToken("")(http.NotFoundHandler()).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/admin/generation-runs", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_GeneratePlanNow(t *testing.T) {
	f := newFixture(t)
	f.seedPlan("PM-1", `{"type":"weekly","weekdays":["friday"]}`)

	// WHEN: an operator forces the plan before it is due
	rec := f.admin(http.MethodPost, "/api/admin/plans/PM-1/generate")

	// THEN: one manual order at the plan's next date
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[GenerationResponse](t, rec)
	assert.Equal(t, 1, resp.Generated)
	assert.Equal(t, "manual:PM-1", resp.Type)
	require.Len(t, resp.Orders, 1)
	assert.Equal(t, "2025-03-07T06:00:00Z", resp.Orders[0].DueDate)

	// AND: a second force the same day is skipped
	resp = decode[GenerationResponse](t, f.admin(http.MethodPost, "/api/admin/plans/PM-1/generate"))
	require.NotNil(t, resp.SkippedReason)
	assert.Equal(t, maintenance.SkippedAlreadyRan, *resp.SkippedReason)

	// AND: the run shows up in the ledger listing
	runs := decode[struct {
		Runs []LedgerEntryDTO `json:"runs"`
	}](t, f.admin(http.MethodGet, "/api/admin/generation-runs?from=2025-03-01&to=2025-03-31"))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, "manual:PM-1", runs.Runs[0].Type)
	assert.Equal(t, "completed", runs.Runs[0].Status)
	assert.Equal(t, 1, runs.Runs[0].OrdersGenerated)
	assert.Equal(t, "operator", runs.Runs[0].TriggeredBy)
}

func TestAdmin_GeneratePlanNowErrors(t *testing.T) {
	f := newFixture(t)
	f.seedPlan("PM-1", `{"type":"daily"}`)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/plans/PM-1/status", `{"status":"inactive"}`).Code)

	assert.Equal(t, http.StatusNotFound, f.admin(http.MethodPost, "/api/admin/plans/NOPE/generate").Code)
	assert.Equal(t, http.StatusConflict, f.admin(http.MethodPost, "/api/admin/plans/PM-1/generate").Code)
	assert.Equal(t, http.StatusBadRequest, f.admin(http.MethodGet, "/api/admin/generation-runs?from=March").Code)
}

// =============================================================================
// ASSETS, HOLIDAYS, SCENARIOS
// =============================================================================

func TestAssets(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/assets", `{"id":"A-1"}`).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/assets", `{"id":"A-1","name":"Chiller"}`).Code)

	resp := decode[struct {
		Assets []AssetDTO `json:"assets"`
	}](t, f.do(http.MethodGet, "/api/assets", ""))
	require.Len(t, resp.Assets, 1)
	assert.Equal(t, "Chiller", resp.Assets[0].Name)
}

func TestHolidays(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/holidays", `{"date":"2025-09-18","name":"Fiestas Patrias","recurring":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/holidays", `{"date":"18/09","name":"x"}`).Code)

	list := decode[struct {
		Holidays []HolidayDTO `json:"holidays"`
	}](t, f.do(http.MethodGet, "/api/holidays", ""))
	require.Len(t, list.Holidays, 1)
	assert.True(t, list.Holidays[0].Recurring)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/api/holidays/2025-09-18", "").Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodDelete, "/api/holidays/2025-09-18?name=Fiestas%20Patrias", "").Code)

	list = decode[struct {
		Holidays []HolidayDTO `json:"holidays"`
	}](t, f.do(http.MethodGet, "/api/holidays", ""))
	assert.Empty(t, list.Holidays)
}

func TestScenarios_LoadEveryScenario(t *testing.T) {
	f := newFixture(t)

	for _, id := range ScenarioIDs() {
		rec := f.do(http.MethodPost, "/api/scenarios/load", `{"scenario_id":"`+id+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	plans := decode[struct {
		Plans []PlanDTO `json:"plans"`
	}](t, f.do(http.MethodGet, "/api/plans", ""))
	assert.Len(t, plans.Plans, 9)
	for _, p := range plans.Plans {
		assert.NotNil(t, p.NextExecution, p.Code)
	}

	// Loading again creates nothing.
	resp := decode[map[string]any](t, f.do(http.MethodPost, "/api/scenarios/load", `{"scenario_id":"plant-floor"}`))
	assert.Equal(t, float64(0), resp["plans_created"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/scenarios/load", `{"scenario_id":"nope"}`).Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "").Code)
}
