package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mise/internal/diff"
	applog "mise/internal/log"
	"mise/internal/rollback"
	"mise/internal/versioning"
	"mise/models"
)

type versionResponse struct {
	ID                 uint      `json:"id"`
	RecipeID           uint      `json:"recipe_id"`
	VersionNumber      int       `json:"version_number"`
	Name               string    `json:"name"`
	Category           string    `json:"category"`
	IsBase             bool      `json:"is_base"`
	Servings           int       `json:"servings"`
	YieldAmount        *float64  `json:"yield_amount,omitempty"`
	YieldUnit          string    `json:"yield_unit,omitempty"`
	WasteBufferPercent float64   `json:"waste_buffer_percent"`
	TargetCostPercent  float64   `json:"target_cost_percent"`
	SellingPrice       float64   `json:"selling_price"`
	Currency           string    `json:"currency"`
	TotalCost          float64   `json:"total_cost"`
	ProfitMargin       float64   `json:"profit_margin"`
	ComponentCount     int       `json:"component_count"`
	ChangeReason       string    `json:"change_reason"`
	ChangeNotes        string    `json:"change_notes,omitempty"`
	CreatedBy          string    `json:"created_by,omitempty"`
	IsCurrent          bool      `json:"is_current"`
	CreatedAt          time.Time `json:"created_at"`

	Components []models.ComponentSnapshot `json:"components,omitempty"`
}

type rollbackRequest struct {
	VersionNumber int    `json:"version_number"`
	Reason        string `json:"reason"`
}

type bulkRollbackRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

type bulkRollbackResponse struct {
	Affected int      `json:"affected"`
	Skipped  int      `json:"skipped"`
	Failures []string `json:"failures,omitempty"`
}

func versionSubresource(w http.ResponseWriter, r *http.Request, recipeID uint, segments []string) {
	if versionStore == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	if len(segments) == 0 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		listVersions(w, r, recipeID)
		return
	}

	if segments[0] == "export" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		exportVersions(w, r, recipeID)
		return
	}

	versionNumber, err := strconv.Atoi(segments[0])
	if err != nil {
		applog.Debug(r.Context(), "invalid version number", "value", segments[0], "error", err)
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	showVersion(w, r, recipeID, versionNumber)
}

func listVersions(w http.ResponseWriter, r *http.Request, recipeID uint) {
	ctx := r.Context()
	versions, err := versionStore.List(ctx, recipeID)
	if err != nil {
		applog.Error(ctx, "failed to list versions", "error", err, "recipeID", recipeID)
		writeJSONError(w, http.StatusInternalServerError, "unable to load version history")
		return
	}

	responses := make([]versionResponse, 0, len(versions))
	for i := range versions {
		responses = append(responses, projectVersion(&versions[i], false))
	}
	writeJSON(w, http.StatusOK, responses)
}

func showVersion(w http.ResponseWriter, r *http.Request, recipeID uint, versionNumber int) {
	ctx := r.Context()
	version, err := versionStore.Get(ctx, recipeID, versionNumber)
	if err != nil {
		if errors.Is(err, versioning.ErrVersionNotFound) {
			http.NotFound(w, r)
			return
		}
		applog.Error(ctx, "failed to load version", "error", err, "recipeID", recipeID, "version", versionNumber)
		writeJSONError(w, http.StatusInternalServerError, "unable to load version")
		return
	}
	writeJSON(w, http.StatusOK, projectVersion(version, true))
}

func exportVersions(w http.ResponseWriter, r *http.Request, recipeID uint) {
	ctx := r.Context()
	versions, err := versionStore.List(ctx, recipeID)
	if err != nil {
		applog.Error(ctx, "failed to load versions for export", "error", err, "recipeID", recipeID)
		writeJSONError(w, http.StatusInternalServerError, "unable to export version history")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"recipe-%d-versions.csv\"", recipeID))
	if err := versioning.ExportCSV(w, versions); err != nil {
		applog.Error(ctx, "failed to write version export", "error", err, "recipeID", recipeID)
	}
}

func diffRecipeVersions(w http.ResponseWriter, r *http.Request, recipeID uint) {
	ctx := r.Context()

	from, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "from must be a version number")
		return
	}
	to, err := strconv.Atoi(r.URL.Query().Get("to"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "to must be a version number")
		return
	}

	oldVersion, err := versionStore.Get(ctx, recipeID, from)
	if err != nil {
		if errors.Is(err, versioning.ErrVersionNotFound) {
			http.NotFound(w, r)
			return
		}
		applog.Error(ctx, "failed to load diff base version", "error", err, "recipeID", recipeID, "version", from)
		writeJSONError(w, http.StatusInternalServerError, "unable to load versions")
		return
	}
	newVersion, err := versionStore.Get(ctx, recipeID, to)
	if err != nil {
		if errors.Is(err, versioning.ErrVersionNotFound) {
			http.NotFound(w, r)
			return
		}
		applog.Error(ctx, "failed to load diff target version", "error", err, "recipeID", recipeID, "version", to)
		writeJSONError(w, http.StatusInternalServerError, "unable to load versions")
		return
	}

	result, err := diff.CompareDetailed(oldVersion, newVersion)
	if err != nil {
		applog.Error(ctx, "failed to diff versions", "error", err, "recipeID", recipeID, "from", from, "to", to)
		writeJSONError(w, http.StatusInternalServerError, "unable to compare versions")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func rollbackRecipe(w http.ResponseWriter, r *http.Request, recipeID uint) {
	if rollbacker == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	ctx := r.Context()
	var payload rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(ctx, "invalid rollback payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if payload.VersionNumber <= 0 {
		writeJSONError(w, http.StatusBadRequest, "version_number is required")
		return
	}

	result, err := rollbacker.ToVersion(ctx, recipeID, payload.VersionNumber, payload.Reason, currentUserEmail(r))
	if err != nil {
		if errors.Is(err, versioning.ErrVersionNotFound) {
			http.NotFound(w, r)
			return
		}
		applog.Error(ctx, "rollback failed", "error", err, "recipeID", recipeID, "version", payload.VersionNumber)
		writeJSONError(w, http.StatusInternalServerError, "unable to roll back recipe")
		return
	}

	writeJSON(w, http.StatusOK, projectRecipe(result.Recipe, result.LineErrors))
}

// BulkRollback restores every recipe to its state at the given date.
func BulkRollback(w http.ResponseWriter, r *http.Request) {
	if rollbacker == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	if _, ok := currentUserID(r); !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var payload bulkRollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(ctx, "invalid bulk rollback payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	cutoff, err := time.Parse(time.RFC3339, payload.Date)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "date must be an RFC 3339 timestamp")
		return
	}

	result, err := rollbacker.BulkToDate(ctx, cutoff, payload.Reason, currentUserEmail(r))
	if err != nil {
		if errors.Is(err, rollback.ErrBulkInProgress) {
			writeJSONError(w, http.StatusConflict, "a bulk rollback is already running")
			return
		}
		applog.Error(ctx, "bulk rollback failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to run bulk rollback")
		return
	}

	response := bulkRollbackResponse{Affected: result.Affected, Skipped: result.Skipped}
	for _, failure := range result.Failures {
		response.Failures = append(response.Failures, failure.Error())
	}
	writeJSON(w, http.StatusOK, response)
}

func projectVersion(version *models.RecipeVersion, includeComponents bool) versionResponse {
	response := versionResponse{
		ID:                 version.ID,
		RecipeID:           version.RecipeID,
		VersionNumber:      version.VersionNumber,
		Name:               version.Name,
		Category:           version.Category,
		IsBase:             version.IsBase,
		Servings:           version.Servings,
		YieldAmount:        version.YieldAmount,
		YieldUnit:          version.YieldUnit,
		WasteBufferPercent: version.WasteBufferPercent,
		TargetCostPercent:  version.TargetCostPercent,
		SellingPrice:       version.SellingPrice,
		Currency:           version.Currency,
		TotalCost:          version.TotalCost,
		ProfitMargin:       version.ProfitMargin,
		ComponentCount:     version.ComponentCount,
		ChangeReason:       version.ChangeReason,
		ChangeNotes:        version.ChangeNotes,
		CreatedBy:          version.CreatedBy,
		IsCurrent:          version.IsCurrent,
		CreatedAt:          version.CreatedAt,
	}

	if includeComponents {
		if components, err := version.Components(); err == nil {
			response.Components = components
		}
	}
	return response
}
