package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	applog "mise/internal/log"
	"mise/internal/costing"
	"mise/internal/recipes"
	"mise/models"
)

type componentResponse struct {
	ID           uint    `json:"id"`
	IngredientID *uint   `json:"ingredient_id,omitempty"`
	SubRecipeID  *uint   `json:"sub_recipe_id,omitempty"`
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	UnitCost     float64 `json:"unit_cost"`
	LineCost     float64 `json:"line_cost"`
	Notes        string  `json:"notes,omitempty"`
}

type recipeResponse struct {
	ID                 uint                `json:"id"`
	Name               string              `json:"name"`
	Category           string              `json:"category"`
	IsBase             bool                `json:"is_base"`
	Servings           int                 `json:"servings"`
	YieldAmount        *float64            `json:"yield_amount,omitempty"`
	YieldUnit          string              `json:"yield_unit,omitempty"`
	WasteBufferPercent float64             `json:"waste_buffer_percent"`
	TargetCostPercent  float64             `json:"target_cost_percent"`
	SellingPrice       float64             `json:"selling_price"`
	Currency           string              `json:"currency"`
	TotalCost          float64             `json:"total_cost"`
	CostPerServing     float64             `json:"cost_per_serving"`
	SuggestedPrice     float64             `json:"suggested_price"`
	ProfitMargin       float64             `json:"profit_margin"`
	FoodCostPercent    float64             `json:"food_cost_percent"`
	CurrentVersion     int                 `json:"current_version"`
	Components         []componentResponse `json:"components,omitempty"`
	CostingIssues      []string            `json:"costing_issues,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

type recipeCreateRequest struct {
	Name               string   `json:"name"`
	Category           string   `json:"category"`
	IsBase             bool     `json:"is_base"`
	Servings           int      `json:"servings"`
	YieldAmount        *float64 `json:"yield_amount"`
	YieldUnit          string   `json:"yield_unit"`
	WasteBufferPercent float64  `json:"waste_buffer_percent"`
	TargetCostPercent  float64  `json:"target_cost_percent"`
	SellingPrice       float64  `json:"selling_price"`
	Currency           string   `json:"currency"`
	ChangeReason       string   `json:"change_reason"`
	ChangeNotes        string   `json:"change_notes"`
}

type recipeSettingsRequest struct {
	Name               *string  `json:"name"`
	Category           *string  `json:"category"`
	Servings           *int     `json:"servings"`
	YieldAmount        *float64 `json:"yield_amount"`
	YieldUnit          *string  `json:"yield_unit"`
	WasteBufferPercent *float64 `json:"waste_buffer_percent"`
	TargetCostPercent  *float64 `json:"target_cost_percent"`
	SellingPrice       *float64 `json:"selling_price"`
	Currency           *string  `json:"currency"`
	ChangeReason       string   `json:"change_reason"`
	ChangeNotes        string   `json:"change_notes"`
}

type componentRequest struct {
	IngredientID *uint   `json:"ingredient_id"`
	SubRecipeID  *uint   `json:"sub_recipe_id"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	Notes        string  `json:"notes"`
	ChangeReason string  `json:"change_reason"`
	ChangeNotes  string  `json:"change_notes"`
}

// RecipeResource routes REST-style interactions for recipes and their
// nested components, versions, and rollbacks.
func RecipeResource(w http.ResponseWriter, r *http.Request) {
	if recipeService == nil {
		applog.Debug(r.Context(), "recipe request without configured service")
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	if _, ok := currentUserID(r); !ok {
		applog.Debug(r.Context(), "recipe request missing authenticated user")
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/app/api/recipes")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			listRecipes(w, r)
		case http.MethodPost:
			createRecipe(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	segments := strings.Split(path, "/")
	idValue, err := strconv.ParseUint(segments[0], 10, 64)
	if err != nil {
		applog.Debug(r.Context(), "invalid recipe identifier", "identifier", segments[0], "error", err)
		http.NotFound(w, r)
		return
	}
	recipeID := uint(idValue)

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			showRecipe(w, r, recipeID)
		case http.MethodDelete:
			deleteRecipe(w, r, recipeID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch segments[1] {
	case "settings":
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		updateRecipeSettings(w, r, recipeID)
	case "recompute":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		recomputeRecipe(w, r, recipeID)
	case "components":
		componentSubresource(w, r, recipeID, segments[2:])
	case "versions":
		versionSubresource(w, r, recipeID, segments[2:])
	case "diff":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		diffRecipeVersions(w, r, recipeID)
	case "rollback":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rollbackRecipe(w, r, recipeID)
	default:
		http.NotFound(w, r)
	}
}

func listRecipes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	results, err := recipeService.List(ctx)
	if err != nil {
		applog.Error(ctx, "failed to list recipes", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to load recipes")
		return
	}

	responses := make([]recipeResponse, 0, len(results))
	for i := range results {
		responses = append(responses, projectRecipe(&results[i], nil))
	}
	writeJSON(w, http.StatusOK, responses)
}

func showRecipe(w http.ResponseWriter, r *http.Request, recipeID uint) {
	ctx := r.Context()
	recipe, err := recipeService.Get(ctx, recipeID)
	if err != nil {
		if errors.Is(err, recipes.ErrRecipeNotFound) {
			http.NotFound(w, r)
			return
		}
		applog.Error(ctx, "failed to load recipe", "error", err, "id", recipeID)
		writeJSONError(w, http.StatusInternalServerError, "unable to load recipe")
		return
	}
	writeJSON(w, http.StatusOK, projectRecipe(recipe, nil))
}

func createRecipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload recipeCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(ctx, "invalid recipe payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	result, err := recipeService.Create(ctx, recipes.RecipeInput{
		Name:               strings.TrimSpace(payload.Name),
		Category:           strings.TrimSpace(payload.Category),
		IsBase:             payload.IsBase,
		Servings:           payload.Servings,
		YieldAmount:        payload.YieldAmount,
		YieldUnit:          strings.TrimSpace(payload.YieldUnit),
		WasteBufferPercent: payload.WasteBufferPercent,
		TargetCostPercent:  payload.TargetCostPercent,
		SellingPrice:       payload.SellingPrice,
		Currency:           strings.TrimSpace(payload.Currency),
	}, commitMeta(r, payload.ChangeReason, payload.ChangeNotes))
	if err != nil {
		writeRecipeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, projectRecipe(result.Recipe, result.LineErrors))
}

func deleteRecipe(w http.ResponseWriter, r *http.Request, recipeID uint) {
	ctx := r.Context()
	if err := recipeService.Delete(ctx, recipeID); err != nil {
		if errors.Is(err, recipes.ErrRecipeNotFound) {
			http.NotFound(w, r)
			return
		}
		if errors.Is(err, recipes.ErrRecipeInUse) {
			writeJSONError(w, http.StatusConflict, "recipe is used as a sub-recipe of other recipes")
			return
		}
		applog.Error(ctx, "failed to delete recipe", "error", err, "id", recipeID)
		writeJSONError(w, http.StatusInternalServerError, "unable to delete recipe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func updateRecipeSettings(w http.ResponseWriter, r *http.Request, recipeID uint) {
	ctx := r.Context()
	var payload recipeSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(ctx, "invalid settings payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	result, err := recipeService.UpdateSettings(ctx, recipeID, recipes.SettingsInput{
		Name:               payload.Name,
		Category:           payload.Category,
		Servings:           payload.Servings,
		YieldAmount:        payload.YieldAmount,
		YieldUnit:          payload.YieldUnit,
		WasteBufferPercent: payload.WasteBufferPercent,
		TargetCostPercent:  payload.TargetCostPercent,
		SellingPrice:       payload.SellingPrice,
		Currency:           payload.Currency,
	}, commitMeta(r, payload.ChangeReason, payload.ChangeNotes))
	if err != nil {
		writeRecipeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, projectRecipe(result.Recipe, result.LineErrors))
}

func recomputeRecipe(w http.ResponseWriter, r *http.Request, recipeID uint) {
	ctx := r.Context()
	result, err := recipeService.Recompute(ctx, recipeID, commitMeta(r, "Recomputed at current prices", ""))
	if err != nil {
		writeRecipeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectRecipe(result.Recipe, result.LineErrors))
}

func componentSubresource(w http.ResponseWriter, r *http.Request, recipeID uint, segments []string) {
	if len(segments) == 0 {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		addComponent(w, r, recipeID)
		return
	}

	idValue, err := strconv.ParseUint(segments[0], 10, 64)
	if err != nil {
		applog.Debug(r.Context(), "invalid component identifier", "identifier", segments[0], "error", err)
		http.NotFound(w, r)
		return
	}
	componentID := uint(idValue)

	switch r.Method {
	case http.MethodPut:
		updateComponent(w, r, recipeID, componentID)
	case http.MethodDelete:
		removeComponent(w, r, recipeID, componentID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func addComponent(w http.ResponseWriter, r *http.Request, recipeID uint) {
	ctx := r.Context()
	var payload componentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(ctx, "invalid component payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	result, err := recipeService.AddComponent(ctx, recipeID, recipes.ComponentInput{
		IngredientID: payload.IngredientID,
		SubRecipeID:  payload.SubRecipeID,
		Quantity:     payload.Quantity,
		Unit:         strings.TrimSpace(payload.Unit),
		Notes:        strings.TrimSpace(payload.Notes),
	}, commitMeta(r, payload.ChangeReason, payload.ChangeNotes))
	if err != nil {
		writeRecipeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, projectRecipe(result.Recipe, result.LineErrors))
}

func updateComponent(w http.ResponseWriter, r *http.Request, recipeID, componentID uint) {
	ctx := r.Context()
	var payload componentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(ctx, "invalid component payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	result, err := recipeService.UpdateComponent(ctx, recipeID, componentID, payload.Quantity, strings.TrimSpace(payload.Unit), commitMeta(r, payload.ChangeReason, payload.ChangeNotes))
	if err != nil {
		writeRecipeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, projectRecipe(result.Recipe, result.LineErrors))
}

func removeComponent(w http.ResponseWriter, r *http.Request, recipeID, componentID uint) {
	ctx := r.Context()
	result, err := recipeService.RemoveComponent(ctx, recipeID, componentID, commitMeta(r, "", ""))
	if err != nil {
		writeRecipeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectRecipe(result.Recipe, result.LineErrors))
}

// commitMeta stamps mutation metadata with the signed-in user.
func commitMeta(r *http.Request, reason, notes string) recipes.CommitMeta {
	return recipes.CommitMeta{
		Reason: strings.TrimSpace(reason),
		Notes:  strings.TrimSpace(notes),
		Author: currentUserEmail(r),
	}
}

// writeRecipeError maps service errors onto HTTP statuses. Validation and
// reference problems are the caller's fault; everything else is ours.
func writeRecipeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, recipes.ErrRecipeNotFound), errors.Is(err, recipes.ErrComponentNotFound):
		http.NotFound(w, r)
	case errors.Is(err, recipes.ErrCyclicSubRecipe),
		errors.Is(err, recipes.ErrNotBaseRecipe),
		errors.Is(err, recipes.ErrInvalidComponent),
		errors.Is(err, recipes.ErrInvalidSettings):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, recipes.ErrRecipeInUse):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, costing.ErrNotFound):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		applog.Error(r.Context(), "recipe operation failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to complete the operation")
	}
}

func projectRecipe(recipe *models.Recipe, lineErrors []costing.LineError) recipeResponse {
	response := recipeResponse{
		ID:                 recipe.ID,
		Name:               recipe.Name,
		Category:           recipe.Category,
		IsBase:             recipe.IsBase,
		Servings:           recipe.Servings,
		YieldAmount:        recipe.YieldAmount,
		YieldUnit:          recipe.YieldUnit,
		WasteBufferPercent: recipe.WasteBufferPercent,
		TargetCostPercent:  recipe.TargetCostPercent,
		SellingPrice:       recipe.SellingPrice,
		Currency:           recipe.Currency,
		TotalCost:          recipe.TotalCost,
		SuggestedPrice:     costing.SuggestedPrice(recipe.TotalCost, recipe.TargetCostPercent),
		ProfitMargin:       recipe.ProfitMargin,
		FoodCostPercent:    costing.FoodCostPercent(recipe.TotalCost, recipe.SellingPrice),
		CurrentVersion:     recipe.CurrentVersion,
		CreatedAt:          recipe.CreatedAt,
		UpdatedAt:          recipe.UpdatedAt,
	}
	if recipe.Servings > 0 {
		response.CostPerServing = recipe.TotalCost / float64(recipe.Servings)
	}

	for _, component := range recipe.Components {
		entry := componentResponse{
			ID:           component.ID,
			IngredientID: component.IngredientID,
			SubRecipeID:  component.SubRecipeID,
			Quantity:     component.Quantity,
			Unit:         component.Unit,
			UnitCost:     component.UnitCost,
			LineCost:     component.LineCost,
			Notes:        component.Notes,
		}
		if component.Ingredient != nil {
			entry.Name = component.Ingredient.Name
		} else if component.SubRecipe != nil {
			entry.Name = component.SubRecipe.Name
		}
		response.Components = append(response.Components, entry)
	}

	for _, lineError := range lineErrors {
		response.CostingIssues = append(response.CostingIssues, lineError.Error())
	}
	return response
}
