package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"mise/internal/recipes"
	"mise/internal/rollback"
	"mise/internal/versioning"
	"mise/models"
)

// withConfiguredHandlers wires the package globals against a fresh in-memory
// database and returns a helper that builds authenticated requests.
func withConfiguredHandlers(t *testing.T) (*gorm.DB, func(method, target string, body any) *http.Request) {
	t.Helper()

	originalSession := sessionManager
	originalDatabase := database
	originalService := recipeService
	originalStore := versionStore
	originalRollbacker := rollbacker

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	if err := db.AutoMigrate(&models.Ingredient{}, &models.Recipe{}, &models.RecipeComponent{}, &models.RecipeVersion{}, &models.User{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	sm, smCleanup := withTestSessionManager(t)
	store := versioning.NewStore(db)
	service := recipes.NewService(db, store, 0)

	database = db
	recipeService = service
	versionStore = store
	rollbacker = rollback.NewOrchestrator(service, store)

	t.Cleanup(func() {
		smCleanup()
		sessionManager = originalSession
		database = originalDatabase
		recipeService = originalService
		versionStore = originalStore
		rollbacker = originalRollbacker
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	authedRequest := func(method, target string, body any) *http.Request {
		var reader *bytes.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("failed to encode request body: %v", err)
			}
			reader = bytes.NewReader(encoded)
		} else {
			reader = bytes.NewReader(nil)
		}

		req := httptest.NewRequest(method, target, reader)
		ctx, err := sm.Load(req.Context(), "")
		if err != nil {
			t.Fatalf("failed to load session context: %v", err)
		}
		req = req.WithContext(ctx)
		sm.Put(req.Context(), sessionAuthenticatedKey, true)
		sm.Put(req.Context(), sessionUserIDKey, 1)
		sm.Put(req.Context(), sessionUserEmailKey, "chef@mise.app")
		return req
	}

	return db, authedRequest
}

func seedTestIngredient(t *testing.T, db *gorm.DB, name, unit string, price float64) *models.Ingredient {
	t.Helper()
	ingredient := models.Ingredient{Name: name, BaseUnit: unit, PricePerBaseUnit: price, Currency: "USD"}
	if err := db.Create(&ingredient).Error; err != nil {
		t.Fatalf("failed to seed ingredient: %v", err)
	}
	return &ingredient
}

func decodeRecipeResponse(t *testing.T, w *httptest.ResponseRecorder) recipeResponse {
	t.Helper()
	var resp recipeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode recipe response: %v (body %s)", err, w.Body.String())
	}
	return resp
}

func TestRecipeLifecycleOverHTTP(t *testing.T) {
	db, authedRequest := withConfiguredHandlers(t)

	beef := seedTestIngredient(t, db, "Ground Beef", "kg", 10)
	bun := seedTestIngredient(t, db, "Brioche Bun", "piece", 0.50)

	// Create.
	w := httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, "/app/api/recipes", map[string]any{
		"name":                 "Burger",
		"servings":             1,
		"waste_buffer_percent": 5.0,
		"target_cost_percent":  25.0,
		"selling_price":        14.0,
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("create recipe status = %d, body %s", w.Code, w.Body.String())
	}
	created := decodeRecipeResponse(t, w)
	if created.CurrentVersion != 1 {
		t.Fatalf("new recipe current version = %d, want 1", created.CurrentVersion)
	}

	// Add components.
	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, fmt.Sprintf("/app/api/recipes/%d/components", created.ID), map[string]any{
		"ingredient_id": beef.ID,
		"quantity":      1.0,
		"unit":          "kg",
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("add beef status = %d, body %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, fmt.Sprintf("/app/api/recipes/%d/components", created.ID), map[string]any{
		"ingredient_id": bun.ID,
		"quantity":      1.0,
		"unit":          "piece",
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("add bun status = %d, body %s", w.Code, w.Body.String())
	}
	withBun := decodeRecipeResponse(t, w)

	// (10.00 + 0.50) * 1.05 waste buffer.
	if diff := withBun.TotalCost - 11.025; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("total cost = %v, want 11.025", withBun.TotalCost)
	}
	if withBun.CurrentVersion != 3 {
		t.Fatalf("current version = %d, want 3", withBun.CurrentVersion)
	}

	// Version history.
	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodGet, fmt.Sprintf("/app/api/recipes/%d/versions", created.ID), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list versions status = %d", w.Code)
	}
	var versions []versionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if !versions[0].IsCurrent || versions[0].VersionNumber != 3 {
		t.Fatalf("newest version should be current number 3: %+v", versions[0])
	}
	if versions[0].CreatedBy != "chef@mise.app" {
		t.Fatalf("version author = %q, want session user", versions[0].CreatedBy)
	}

	// Diff between versions 2 and 3: the bun was added.
	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodGet, fmt.Sprintf("/app/api/recipes/%d/diff?from=2&to=3", created.ID), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("diff status = %d, body %s", w.Code, w.Body.String())
	}
	var diffBody struct {
		Components []struct {
			ChangeType   string `json:"change_type"`
			IngredientID *uint  `json:"ingredient_id"`
		} `json:"component_diff"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &diffBody); err != nil {
		t.Fatalf("decode diff: %v", err)
	}
	added := 0
	for _, change := range diffBody.Components {
		if change.ChangeType == "added" {
			added++
			if change.IngredientID == nil || *change.IngredientID != bun.ID {
				t.Fatalf("added component should reference the bun: %+v", change)
			}
		}
	}
	if added != 1 {
		t.Fatalf("expected exactly one added component, got %d", added)
	}

	// Rollback to version 2 (just the beef).
	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, fmt.Sprintf("/app/api/recipes/%d/rollback", created.ID), map[string]any{
		"version_number": 2,
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("rollback status = %d, body %s", w.Code, w.Body.String())
	}
	rolledBack := decodeRecipeResponse(t, w)
	if rolledBack.CurrentVersion != 4 {
		t.Fatalf("post-rollback version = %d, want 4", rolledBack.CurrentVersion)
	}
	if diff := rolledBack.TotalCost - 10.5; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("post-rollback total cost = %v, want 10.5", rolledBack.TotalCost)
	}
}

func TestAddComponentRejectsCycleOverHTTP(t *testing.T) {
	_, authedRequest := withConfiguredHandlers(t)

	w := httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, "/app/api/recipes", map[string]any{
		"name":                "Stock",
		"is_base":             true,
		"target_cost_percent": 30.0,
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	stock := decodeRecipeResponse(t, w)

	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, fmt.Sprintf("/app/api/recipes/%d/components", stock.ID), map[string]any{
		"sub_recipe_id": stock.ID,
		"quantity":      1.0,
		"unit":          "l",
	}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("self-reference status = %d, want 400 (body %s)", w.Code, w.Body.String())
	}
}

func TestAddComponentRejectsRegularSubRecipeOverHTTP(t *testing.T) {
	_, authedRequest := withConfiguredHandlers(t)

	w := httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, "/app/api/recipes", map[string]any{
		"name":                "Plated Dish",
		"target_cost_percent": 30.0,
	}))
	regular := decodeRecipeResponse(t, w)

	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, "/app/api/recipes", map[string]any{
		"name":                "Another Dish",
		"target_cost_percent": 30.0,
	}))
	parent := decodeRecipeResponse(t, w)

	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, fmt.Sprintf("/app/api/recipes/%d/components", parent.ID), map[string]any{
		"sub_recipe_id": regular.ID,
		"quantity":      1.0,
		"unit":          "piece",
	}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("regular sub-recipe status = %d, want 400 (body %s)", w.Code, w.Body.String())
	}
}

func TestUnitMismatchDegradesResponseOverHTTP(t *testing.T) {
	db, authedRequest := withConfiguredHandlers(t)

	beef := seedTestIngredient(t, db, "Ground Beef", "kg", 10)

	w := httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, "/app/api/recipes", map[string]any{
		"name":                "Soup",
		"target_cost_percent": 30.0,
	}))
	soup := decodeRecipeResponse(t, w)

	// Liters of a mass-priced ingredient cannot be costed; the request
	// still succeeds and reports the issue.
	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, fmt.Sprintf("/app/api/recipes/%d/components", soup.ID), map[string]any{
		"ingredient_id": beef.ID,
		"quantity":      2.0,
		"unit":          "l",
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("mismatched unit add status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	resp := decodeRecipeResponse(t, w)
	if len(resp.CostingIssues) == 0 {
		t.Fatal("expected costing issues to be reported")
	}
	if resp.TotalCost != 0 {
		t.Fatalf("unpriceable line should contribute nothing, total = %v", resp.TotalCost)
	}
}

func TestIngredientCRUDOverHTTP(t *testing.T) {
	_, authedRequest := withConfiguredHandlers(t)

	w := httptest.NewRecorder()
	IngredientResource(w, authedRequest(http.MethodPost, "/app/api/ingredients", map[string]any{
		"name":                "Fresh Basil",
		"category":            "Produce",
		"base_unit":           "g",
		"price_per_base_unit": 0.04,
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("create ingredient status = %d, body %s", w.Code, w.Body.String())
	}
	var created ingredientResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode ingredient: %v", err)
	}
	if created.Currency != "USD" {
		t.Fatalf("currency default = %q, want USD", created.Currency)
	}

	// Duplicate name conflicts.
	w = httptest.NewRecorder()
	IngredientResource(w, authedRequest(http.MethodPost, "/app/api/ingredients", map[string]any{
		"name":                "Fresh Basil",
		"base_unit":           "g",
		"price_per_base_unit": 0.05,
	}))
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate ingredient status = %d, want 409", w.Code)
	}

	// Unknown base unit rejected.
	w = httptest.NewRecorder()
	IngredientResource(w, authedRequest(http.MethodPost, "/app/api/ingredients", map[string]any{
		"name":                "Mystery",
		"base_unit":           "carton",
		"price_per_base_unit": 1.0,
	}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown unit status = %d, want 400", w.Code)
	}

	// Update price.
	w = httptest.NewRecorder()
	IngredientResource(w, authedRequest(http.MethodPut, fmt.Sprintf("/app/api/ingredients/%d", created.ID), map[string]any{
		"name":                "Fresh Basil",
		"base_unit":           "g",
		"price_per_base_unit": 0.06,
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
	var updated ingredientResponse
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated ingredient: %v", err)
	}
	if updated.PricePerBaseUnit != 0.06 {
		t.Fatalf("updated price = %v, want 0.06", updated.PricePerBaseUnit)
	}

	// Delete.
	w = httptest.NewRecorder()
	IngredientResource(w, authedRequest(http.MethodDelete, fmt.Sprintf("/app/api/ingredients/%d", created.ID), nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", w.Code)
	}
}

func TestDeleteIngredientInUseConflicts(t *testing.T) {
	db, authedRequest := withConfiguredHandlers(t)

	beef := seedTestIngredient(t, db, "Ground Beef", "kg", 10)

	w := httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, "/app/api/recipes", map[string]any{
		"name":                "Burger",
		"target_cost_percent": 25.0,
	}))
	burger := decodeRecipeResponse(t, w)

	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, fmt.Sprintf("/app/api/recipes/%d/components", burger.ID), map[string]any{
		"ingredient_id": beef.ID,
		"quantity":      0.2,
		"unit":          "kg",
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("add component status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	IngredientResource(w, authedRequest(http.MethodDelete, fmt.Sprintf("/app/api/ingredients/%d", beef.ID), nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("delete in-use ingredient status = %d, want 409", w.Code)
	}
}

func TestVersionExportOverHTTP(t *testing.T) {
	_, authedRequest := withConfiguredHandlers(t)

	w := httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodPost, "/app/api/recipes", map[string]any{
		"name":                "Burger",
		"target_cost_percent": 25.0,
	}))
	burger := decodeRecipeResponse(t, w)

	w = httptest.NewRecorder()
	RecipeResource(w, authedRequest(http.MethodGet, fmt.Sprintf("/app/api/recipes/%d/versions/export", burger.ID), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("export content type = %q, want text/csv", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "recipe_id,version,name") {
		t.Fatalf("export should carry a header row, got %q", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Burger") {
		t.Fatal("export should contain the recipe snapshot")
	}
}

func TestBulkRollbackOverHTTP(t *testing.T) {
	_, authedRequest := withConfiguredHandlers(t)

	w := httptest.NewRecorder()
	BulkRollback(w, authedRequest(http.MethodPost, "/app/api/rollback", map[string]any{
		"date": "not-a-date",
	}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid date status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	BulkRollback(w, authedRequest(http.MethodPost, "/app/api/rollback", map[string]any{
		"date": "2026-08-27T00:00:00Z",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("bulk rollback status = %d, body %s", w.Code, w.Body.String())
	}
	var resp bulkRollbackResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode bulk response: %v", err)
	}
	if resp.Affected != 0 {
		t.Fatalf("empty catalog affected = %d, want 0", resp.Affected)
	}
}
