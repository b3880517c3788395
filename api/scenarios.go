/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with assets and
	maintenance plans covering each frequency variant, so the calendar and
	the cron endpoint have something to show on a fresh database.

AVAILABLE SCENARIOS:

	plant-floor:       Daily, weekly multi-day, month-end and last-Friday plans
	working-days:      Plans that skip weekends and holidays
	legacy-encodings:  Frequencies written the way older clients send them
	                   (Spanish weekday names, comma lists, numeric strings)

HOW SCENARIOS WORK:
 1. Create the assets (upsert)
 2. Parse each frequency JSON via factory.ParseFrequency
 3. Create the plan through PlanService, which computes NextExecution
 4. Plans whose code already exists are left untouched, so loading twice
    is harmless

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "plant-floor"}

USAGE VIA CLI:

	server seed --scenario plant-floor

SEE ALSO:
  - handlers.go: plan endpoints
  - factory/frequency.go: accepted frequency encodings
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/maintenance-engine/factory"
	"github.com/warp/maintenance-engine/maintenance"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type scenarioPlan struct {
	code, name, asset string
	hours             string
	frequency         string
}

type scenario struct {
	ScenarioDTO
	assets []maintenance.Asset
	plans  []scenarioPlan
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "plant-floor",
			Name:        "Plant Floor",
			Description: "One plan per frequency variant on the main production assets",
		},
		assets: []maintenance.Asset{
			{ID: "CHILLER-1", Name: "Chiller #1"},
			{ID: "COMP-2", Name: "Air compressor #2"},
			{ID: "BOILER-1", Name: "Steam boiler"},
			{ID: "GEN-1", Name: "Standby generator"},
		},
		plans: []scenarioPlan{
			{"PM-CHILLER-INSP", "Chiller inspection", "CHILLER-1", "1.5",
				`{"type":"weekly","interval":1,"weekdays":["monday","wednesday","friday"]}`},
			{"PM-COMP-OIL", "Compressor oil change", "COMP-2", "3",
				`{"type":"monthly","interval":1,"day_of_month":31}`},
			{"PM-BOILER-BLOWDOWN", "Boiler blowdown", "BOILER-1", "2",
				`{"type":"monthly","interval":1,"nth_occurrence":"last","weekday":"friday"}`},
			{"PM-GEN-RUN", "Generator test run", "GEN-1", "0.5",
				`{"type":"daily","interval":3}`},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "working-days",
			Name:        "Working Days",
			Description: "Plans that move to the next working day on weekends and holidays",
		},
		assets: []maintenance.Asset{
			{ID: "HVAC-ROOF", Name: "Rooftop HVAC unit"},
			{ID: "FIRE-PANEL", Name: "Fire alarm panel"},
		},
		plans: []scenarioPlan{
			{"PM-HVAC-FILTER", "HVAC filter replacement", "HVAC-ROOF", "1",
				`{"type":"monthly","interval":1,"day_of_month":1,"skip_non_working_days":true}`},
			{"PM-FIRE-TEST", "Fire panel test", "FIRE-PANEL", "0.75",
				`{"type":"weekly","interval":2,"weekdays":["saturday"],"skip_non_working_days":true,"run_hour":9}`},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "legacy-encodings",
			Name:        "Legacy Encodings",
			Description: "Frequencies in the loosely typed formats older clients still send",
		},
		assets: []maintenance.Asset{
			{ID: "PUMP-7", Name: "Bomba de agua #7"},
			{ID: "CONV-3", Name: "Cinta transportadora #3"},
		},
		plans: []scenarioPlan{
			{"PM-PUMP-LUBE", "Lubricación bomba", "PUMP-7", "1",
				`{"type":"semanal","interval":"1","weekdays":"lunes, miercoles, sábado"}`},
			{"PM-CONV-BELT", "Revisión de cinta", "CONV-3", "2",
				`{"type":"mensual","interval":"2","nth_occurrence":"ultimo","weekday":"viernes"}`},
			{"PM-CONV-CLEAN", "Limpieza de cinta", "CONV-3", "0.5",
				`{"type":"weekly","weekdays":"[\"2\",\"4\"]"}`},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ScenarioIDs lists the loadable scenario IDs.
func ScenarioIDs() []string {
	ids := make([]string, len(scenarios))
	for i, s := range scenarios {
		ids[i] = s.ID
	}
	return ids
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := h.SeedScenario(r.Context(), req.ScenarioID)
	if err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusNotFound, "Unknown scenario", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "loaded",
		"scenario":      req.ScenarioID,
		"plans_created": created,
	})
}

var errUnknownScenario = errors.New("unknown scenario")

// SeedScenario creates the scenario's assets and plans and returns the
// number of plans created. Existing plan codes are skipped.
func (h *Handler) SeedScenario(ctx context.Context, id string) (int, error) {
	s, ok := findScenario(id)
	if !ok {
		return 0, fmt.Errorf("%w: %q", errUnknownScenario, id)
	}

	now := h.Now()
	for _, a := range s.assets {
		a.CreatedAt = now
		if err := h.Assets.CreateAsset(ctx, a); err != nil {
			return 0, fmt.Errorf("asset %s: %w", a.ID, err)
		}
	}

	created := 0
	for _, sp := range s.plans {
		freq, err := factory.ParseFrequency([]byte(sp.frequency))
		if err != nil {
			return created, fmt.Errorf("plan %s: %w", sp.code, err)
		}
		_, err = h.Plans.Create(ctx, maintenance.Plan{
			Code:           sp.code,
			Name:           sp.name,
			AssetID:        sp.asset,
			Frequency:      freq,
			EstimatedHours: decimal.RequireFromString(sp.hours),
			AutoGeneration: true,
			Status:         maintenance.StatusActive,
		}, now)
		if errors.Is(err, maintenance.ErrDuplicatePlan) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("plan %s: %w", sp.code, err)
		}
		created++
	}

	h.Logger.Info("scenario loaded", zap.String("scenario", id), zap.Int("plans_created", created))
	return created, nil
}
