package recipes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"mise/internal/versioning"
	"mise/models"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	if err := db.AutoMigrate(&models.Ingredient{}, &models.Recipe{}, &models.RecipeComponent{}, &models.RecipeVersion{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewService(db, versioning.NewStore(db), 0), db
}

func seedIngredient(t *testing.T, db *gorm.DB, name, baseUnit string, price float64) *models.Ingredient {
	t.Helper()
	ingredient := models.Ingredient{Name: name, BaseUnit: baseUnit, PricePerBaseUnit: price, Currency: "USD"}
	if err := db.Create(&ingredient).Error; err != nil {
		t.Fatalf("failed to seed ingredient %s: %v", name, err)
	}
	return &ingredient
}

func createBurger(t *testing.T, service *Service) *models.Recipe {
	t.Helper()
	result, err := service.Create(context.Background(), RecipeInput{
		Name:               "Burger",
		Category:           "mains",
		Servings:           4,
		WasteBufferPercent: 5,
		TargetCostPercent:  25,
		SellingPrice:       30,
	}, CommitMeta{Author: "chef"})
	if err != nil {
		t.Fatalf("failed to create recipe: %v", err)
	}
	return result.Recipe
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

func TestMutationsKeepDerivedTotalsFresh(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	bun := seedIngredient(t, db, "Burger Bun", "piece", 0.50)
	beef := seedIngredient(t, db, "Ground Beef", "kg", 10)
	recipe := createBurger(t, service)

	if _, err := service.AddComponent(ctx, recipe.ID, ComponentInput{
		IngredientID: &bun.ID, Quantity: 4, Unit: "piece",
	}, CommitMeta{}); err != nil {
		t.Fatalf("add bun: %v", err)
	}

	result, err := service.AddComponent(ctx, recipe.ID, ComponentInput{
		IngredientID: &beef.ID, Quantity: 0.8, Unit: "kg",
	}, CommitMeta{})
	if err != nil {
		t.Fatalf("add beef: %v", err)
	}
	if len(result.LineErrors) != 0 {
		t.Fatalf("unexpected line errors: %v", result.LineErrors)
	}

	if !almostEqual(result.Recipe.TotalCost, 10.50) {
		t.Fatalf("total cost = %v, want 10.50", result.Recipe.TotalCost)
	}
	if !almostEqual(result.Recipe.ProfitMargin, 65) {
		t.Fatalf("profit margin = %v, want 65", result.Recipe.ProfitMargin)
	}

	// Component caches were refreshed inside the same commit.
	loaded, err := service.Get(ctx, recipe.ID)
	if err != nil {
		t.Fatalf("reload recipe: %v", err)
	}
	if len(loaded.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(loaded.Components))
	}
	for _, component := range loaded.Components {
		if component.LineCost == 0 {
			t.Fatalf("component %d cache not refreshed: %+v", component.ID, component)
		}
	}
}

func TestVersionNumbersAreGapless(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	flour := seedIngredient(t, db, "Flour", "kg", 1.2)
	recipe := createBurger(t, service) // version 1

	if _, err := service.AddComponent(ctx, recipe.ID, ComponentInput{
		IngredientID: &flour.ID, Quantity: 500, Unit: "g",
	}, CommitMeta{}); err != nil { // version 2
		t.Fatalf("add component: %v", err)
	}
	componentID := mustOnlyComponentID(t, db, recipe.ID)

	if _, err := service.UpdateComponent(ctx, recipe.ID, componentID, 750, "g", CommitMeta{}); err != nil { // version 3
		t.Fatalf("update component: %v", err)
	}
	newPrice := 28.0
	if _, err := service.UpdateSettings(ctx, recipe.ID, SettingsInput{SellingPrice: &newPrice}, CommitMeta{}); err != nil { // version 4
		t.Fatalf("update settings: %v", err)
	}
	if _, err := service.RemoveComponent(ctx, recipe.ID, componentID, CommitMeta{}); err != nil { // version 5
		t.Fatalf("remove component: %v", err)
	}

	store := versioning.NewStore(db)
	versions, err := store.List(ctx, recipe.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 5 {
		t.Fatalf("expected 5 versions, got %d", len(versions))
	}
	for i, version := range versions {
		want := 5 - i
		if version.VersionNumber != want {
			t.Fatalf("version numbers must be gapless: index %d has %d, want %d", i, version.VersionNumber, want)
		}
	}
}

func mustOnlyComponentID(t *testing.T, db *gorm.DB, recipeID uint) uint {
	t.Helper()
	var components []models.RecipeComponent
	if err := db.Where("recipe_id = ?", recipeID).Find(&components).Error; err != nil {
		t.Fatalf("load components: %v", err)
	}
	if len(components) != 1 {
		t.Fatalf("expected exactly one component, got %d", len(components))
	}
	return components[0].ID
}

func TestAddComponentRejectsRegularSubRecipe(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	parent := createBurger(t, service)
	regular, err := service.Create(ctx, RecipeInput{Name: "Daily Special", TargetCostPercent: 30}, CommitMeta{})
	if err != nil {
		t.Fatalf("create regular recipe: %v", err)
	}

	_, err = service.AddComponent(ctx, parent.ID, ComponentInput{
		SubRecipeID: &regular.Recipe.ID, Quantity: 1, Unit: "piece",
	}, CommitMeta{})
	if !errors.Is(err, ErrNotBaseRecipe) {
		t.Fatalf("expected ErrNotBaseRecipe, got %v", err)
	}
}

func TestAddComponentRejectsCycle(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	sauceBase, err := service.Create(ctx, RecipeInput{Name: "Mother Sauce", IsBase: true, TargetCostPercent: 100}, CommitMeta{})
	if err != nil {
		t.Fatalf("create base A: %v", err)
	}
	derived, err := service.Create(ctx, RecipeInput{Name: "Derived Sauce", IsBase: true, TargetCostPercent: 100}, CommitMeta{})
	if err != nil {
		t.Fatalf("create base B: %v", err)
	}

	if _, err := service.AddComponent(ctx, derived.Recipe.ID, ComponentInput{
		SubRecipeID: &sauceBase.Recipe.ID, Quantity: 100, Unit: "ml",
	}, CommitMeta{}); err != nil {
		t.Fatalf("derived should accept mother sauce: %v", err)
	}

	// Closing the loop must fail before anything is written.
	_, err = service.AddComponent(ctx, sauceBase.Recipe.ID, ComponentInput{
		SubRecipeID: &derived.Recipe.ID, Quantity: 100, Unit: "ml",
	}, CommitMeta{})
	if !errors.Is(err, ErrCyclicSubRecipe) {
		t.Fatalf("expected ErrCyclicSubRecipe, got %v", err)
	}

	// Self-reference is the smallest cycle.
	_, err = service.AddComponent(ctx, sauceBase.Recipe.ID, ComponentInput{
		SubRecipeID: &sauceBase.Recipe.ID, Quantity: 1, Unit: "ml",
	}, CommitMeta{})
	if !errors.Is(err, ErrCyclicSubRecipe) {
		t.Fatalf("expected ErrCyclicSubRecipe for self reference, got %v", err)
	}
}

func TestComponentValidation(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	salt := seedIngredient(t, db, "Salt", "kg", 0.9)
	recipe := createBurger(t, service)

	cases := []struct {
		name  string
		input ComponentInput
	}{
		{"no reference", ComponentInput{Quantity: 1, Unit: "g"}},
		{"both references", ComponentInput{IngredientID: &salt.ID, SubRecipeID: &recipe.ID, Quantity: 1, Unit: "g"}},
		{"zero quantity", ComponentInput{IngredientID: &salt.ID, Quantity: 0, Unit: "g"}},
		{"unknown unit", ComponentInput{IngredientID: &salt.ID, Quantity: 1, Unit: "smidgen"}},
	}

	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.AddComponent(ctx, recipe.ID, tt.input, CommitMeta{}); !errors.Is(err, ErrInvalidComponent) {
				t.Fatalf("expected ErrInvalidComponent, got %v", err)
			}
		})
	}
}

func TestUnitMismatchDegradesNotFails(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	oil := seedIngredient(t, db, "Olive Oil", "l", 8)
	beef := seedIngredient(t, db, "Ground Beef", "kg", 10)
	recipe := createBurger(t, service)

	if _, err := service.AddComponent(ctx, recipe.ID, ComponentInput{
		IngredientID: &beef.ID, Quantity: 1, Unit: "kg",
	}, CommitMeta{}); err != nil {
		t.Fatalf("add beef: %v", err)
	}

	// Grams of a litre-priced ingredient cannot convert; the line errors
	// out but the commit still lands with the partial total.
	result, err := service.AddComponent(ctx, recipe.ID, ComponentInput{
		IngredientID: &oil.ID, Quantity: 50, Unit: "g",
	}, CommitMeta{})
	if err != nil {
		t.Fatalf("adding a mismatched component must not fail the commit: %v", err)
	}
	if len(result.LineErrors) != 1 {
		t.Fatalf("expected one line error, got %v", result.LineErrors)
	}
	wantTotal := 10.0 * 1.05
	if !almostEqual(result.Recipe.TotalCost, wantTotal) {
		t.Fatalf("partial total = %v, want %v", result.Recipe.TotalCost, wantTotal)
	}
}

func TestSubRecipeCosting(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	tomato := seedIngredient(t, db, "Tomatoes", "kg", 2)
	yield := 2.0
	sauce, err := service.Create(ctx, RecipeInput{
		Name: "Tomato Sauce", IsBase: true, TargetCostPercent: 100,
		YieldAmount: &yield, YieldUnit: "l",
	}, CommitMeta{})
	if err != nil {
		t.Fatalf("create sauce: %v", err)
	}
	if _, err := service.AddComponent(ctx, sauce.Recipe.ID, ComponentInput{
		IngredientID: &tomato.ID, Quantity: 3, Unit: "kg",
	}, CommitMeta{}); err != nil {
		t.Fatalf("add tomatoes: %v", err)
	}

	pasta := createBurger(t, service)
	result, err := service.AddComponent(ctx, pasta.ID, ComponentInput{
		SubRecipeID: &sauce.Recipe.ID, Quantity: 250, Unit: "ml",
	}, CommitMeta{})
	if err != nil {
		t.Fatalf("add sauce component: %v", err)
	}
	if len(result.LineErrors) != 0 {
		t.Fatalf("unexpected line errors: %v", result.LineErrors)
	}

	// Sauce costs 6.00 for 2 l; 250 ml is 0.75, plus the 5% waste buffer.
	want := 0.75 * 1.05
	if !almostEqual(result.Recipe.TotalCost, want) {
		t.Fatalf("total = %v, want %v", result.Recipe.TotalCost, want)
	}
}

func TestDeleteRejectsRecipeInUse(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	base, err := service.Create(ctx, RecipeInput{Name: "Stock", IsBase: true, TargetCostPercent: 100}, CommitMeta{})
	if err != nil {
		t.Fatalf("create base: %v", err)
	}
	parent := createBurger(t, service)
	if _, err := service.AddComponent(ctx, parent.ID, ComponentInput{
		SubRecipeID: &base.Recipe.ID, Quantity: 100, Unit: "ml",
	}, CommitMeta{}); err != nil {
		t.Fatalf("add sub-recipe: %v", err)
	}

	if err := service.Delete(ctx, base.Recipe.ID); !errors.Is(err, ErrRecipeInUse) {
		t.Fatalf("expected ErrRecipeInUse, got %v", err)
	}
	if err := service.Delete(ctx, parent.ID); err != nil {
		t.Fatalf("parent delete should succeed: %v", err)
	}
	if err := service.Delete(ctx, base.Recipe.ID); err != nil {
		t.Fatalf("base delete after parent removal should succeed: %v", err)
	}
}

func TestSettingsValidation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	recipe := createBurger(t, service)

	negative := -1.0
	if _, err := service.UpdateSettings(ctx, recipe.ID, SettingsInput{WasteBufferPercent: &negative}, CommitMeta{}); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("negative waste buffer must be rejected, got %v", err)
	}
	zero := 0.0
	if _, err := service.UpdateSettings(ctx, recipe.ID, SettingsInput{TargetCostPercent: &zero}, CommitMeta{}); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("zero target cost must be rejected, got %v", err)
	}
}
