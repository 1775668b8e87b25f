package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	applog "mise/internal/log"
	"mise/internal/units"
	"mise/models"
)

type ingredientResponse struct {
	ID               uint      `json:"id"`
	Name             string    `json:"name"`
	Category         string    `json:"category"`
	Supplier         string    `json:"supplier"`
	BaseUnit         string    `json:"base_unit"`
	PricePerBaseUnit float64   `json:"price_per_base_unit"`
	Currency         string    `json:"currency"`
	Notes            string    `json:"notes"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ingredientRequest struct {
	Name             string  `json:"name"`
	Category         string  `json:"category"`
	Supplier         string  `json:"supplier"`
	BaseUnit         string  `json:"base_unit"`
	PricePerBaseUnit float64 `json:"price_per_base_unit"`
	Currency         string  `json:"currency"`
	Notes            string  `json:"notes"`
}

// IngredientResource handles REST-style interactions for ingredient records.
func IngredientResource(w http.ResponseWriter, r *http.Request) {
	if database == nil {
		applog.Debug(r.Context(), "ingredient request without database")
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	if _, ok := currentUserID(r); !ok {
		applog.Debug(r.Context(), "ingredient request missing authenticated user")
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/app/api/ingredients")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			listIngredients(w, r)
		case http.MethodPost:
			createIngredient(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	idValue, err := strconv.ParseUint(path, 10, 64)
	if err != nil {
		applog.Debug(r.Context(), "invalid ingredient identifier", "identifier", path, "error", err)
		http.NotFound(w, r)
		return
	}
	ingredientID := uint(idValue)

	switch r.Method {
	case http.MethodGet:
		showIngredient(w, r, ingredientID)
	case http.MethodPut:
		updateIngredient(w, r, ingredientID)
	case http.MethodDelete:
		deleteIngredient(w, r, ingredientID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func listIngredients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var results []models.Ingredient
	query := database.WithContext(ctx).Order("name asc")
	if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Find(&results).Error; err != nil {
		applog.Error(ctx, "failed to list ingredients", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to load ingredients")
		return
	}

	responses := make([]ingredientResponse, 0, len(results))
	for _, ingredient := range results {
		responses = append(responses, projectIngredient(ingredient))
	}
	writeJSON(w, http.StatusOK, responses)
}

func showIngredient(w http.ResponseWriter, r *http.Request, ingredientID uint) {
	ctx := r.Context()
	var ingredient models.Ingredient
	if err := database.WithContext(ctx).First(&ingredient, ingredientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			applog.Debug(ctx, "ingredient not found", "id", ingredientID)
			http.NotFound(w, r)
			return
		}
		applog.Error(ctx, "failed to load ingredient", "error", err, "id", ingredientID)
		writeJSONError(w, http.StatusInternalServerError, "unable to load ingredient")
		return
	}
	writeJSON(w, http.StatusOK, projectIngredient(ingredient))
}

func createIngredient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload ingredientRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(ctx, "invalid ingredient payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	if message, ok := validateIngredientRequest(payload); !ok {
		writeJSONError(w, http.StatusBadRequest, message)
		return
	}

	baseUnit, _ := units.Normalize(payload.BaseUnit)
	ingredient := models.Ingredient{
		Name:             strings.TrimSpace(payload.Name),
		Category:         strings.TrimSpace(payload.Category),
		Supplier:         strings.TrimSpace(payload.Supplier),
		BaseUnit:         baseUnit,
		PricePerBaseUnit: payload.PricePerBaseUnit,
		Currency:         strings.TrimSpace(payload.Currency),
		Notes:            strings.TrimSpace(payload.Notes),
	}
	if ingredient.Currency == "" {
		ingredient.Currency = "USD"
	}

	if err := database.WithContext(ctx).Create(&ingredient).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			writeJSONError(w, http.StatusConflict, "an ingredient with that name already exists")
			return
		}
		applog.Error(ctx, "failed to create ingredient", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to create ingredient")
		return
	}

	writeJSON(w, http.StatusCreated, projectIngredient(ingredient))
}

func updateIngredient(w http.ResponseWriter, r *http.Request, ingredientID uint) {
	ctx := r.Context()
	var ingredient models.Ingredient
	if err := database.WithContext(ctx).First(&ingredient, ingredientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			applog.Debug(ctx, "update denied: ingredient not found", "id", ingredientID)
			http.NotFound(w, r)
			return
		}
		applog.Error(ctx, "failed to load ingredient for update", "error", err, "id", ingredientID)
		writeJSONError(w, http.StatusInternalServerError, "unable to load ingredient")
		return
	}

	var payload ingredientRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(ctx, "invalid ingredient update payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	if message, ok := validateIngredientRequest(payload); !ok {
		writeJSONError(w, http.StatusBadRequest, message)
		return
	}

	baseUnit, _ := units.Normalize(payload.BaseUnit)
	updates := map[string]any{
		"name":                strings.TrimSpace(payload.Name),
		"category":            strings.TrimSpace(payload.Category),
		"supplier":            strings.TrimSpace(payload.Supplier),
		"base_unit":           baseUnit,
		"price_per_base_unit": payload.PricePerBaseUnit,
		"currency":            strings.TrimSpace(payload.Currency),
		"notes":               strings.TrimSpace(payload.Notes),
	}

	if err := database.WithContext(ctx).Model(&ingredient).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			writeJSONError(w, http.StatusConflict, "an ingredient with that name already exists")
			return
		}
		applog.Error(ctx, "failed to update ingredient", "error", err, "id", ingredientID)
		writeJSONError(w, http.StatusInternalServerError, "unable to update ingredient")
		return
	}

	if err := database.WithContext(ctx).First(&ingredient, ingredientID).Error; err != nil {
		applog.Error(ctx, "failed to reload ingredient after update", "error", err, "id", ingredientID)
		writeJSONError(w, http.StatusInternalServerError, "unable to load updated record")
		return
	}

	writeJSON(w, http.StatusOK, projectIngredient(ingredient))
}

func deleteIngredient(w http.ResponseWriter, r *http.Request, ingredientID uint) {
	ctx := r.Context()
	var ingredient models.Ingredient
	if err := database.WithContext(ctx).First(&ingredient, ingredientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			applog.Debug(ctx, "delete denied: ingredient not found", "id", ingredientID)
			http.NotFound(w, r)
			return
		}
		applog.Error(ctx, "failed to load ingredient for delete", "error", err, "id", ingredientID)
		writeJSONError(w, http.StatusInternalServerError, "unable to load ingredient")
		return
	}

	var used int64
	if err := database.WithContext(ctx).Model(&models.RecipeComponent{}).Where("ingredient_id = ?", ingredientID).Count(&used).Error; err != nil {
		applog.Error(ctx, "failed to check ingredient usage", "error", err, "id", ingredientID)
		writeJSONError(w, http.StatusInternalServerError, "unable to delete ingredient")
		return
	}
	if used > 0 {
		writeJSONError(w, http.StatusConflict, "ingredient is used by existing recipes")
		return
	}

	if err := database.WithContext(ctx).Delete(&ingredient).Error; err != nil {
		applog.Error(ctx, "failed to delete ingredient", "error", err, "id", ingredientID)
		writeJSONError(w, http.StatusInternalServerError, "unable to delete ingredient")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func validateIngredientRequest(payload ingredientRequest) (string, bool) {
	if strings.TrimSpace(payload.Name) == "" {
		return "name is required", false
	}
	if strings.TrimSpace(payload.BaseUnit) == "" {
		return "base_unit is required", false
	}
	if _, err := units.ClassOf(payload.BaseUnit); err != nil {
		return "base_unit is not a recognized unit", false
	}
	if payload.PricePerBaseUnit < 0 {
		return "price_per_base_unit must not be negative", false
	}
	return "", true
}

func projectIngredient(ingredient models.Ingredient) ingredientResponse {
	return ingredientResponse{
		ID:               ingredient.ID,
		Name:             ingredient.Name,
		Category:         ingredient.Category,
		Supplier:         ingredient.Supplier,
		BaseUnit:         ingredient.BaseUnit,
		PricePerBaseUnit: ingredient.PricePerBaseUnit,
		Currency:         ingredient.Currency,
		Notes:            ingredient.Notes,
		CreatedAt:        ingredient.CreatedAt,
		UpdatedAt:        ingredient.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		applog.Error(context.Background(), "failed to encode json response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
