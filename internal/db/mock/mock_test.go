package mock

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"mise/models"
)

func TestNewSeedsExpectedRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := New(ctx)
	if err != nil {
		t.Fatalf("mock database initialization failed: %v", err)
	}

	var ingredients []models.Ingredient
	if err := db.WithContext(ctx).Find(&ingredients).Error; err != nil {
		t.Fatalf("query ingredients: %v", err)
	}
	if len(ingredients) == 0 {
		t.Fatal("expected seeded ingredients")
	}

	var recipes []models.Recipe
	if err := db.WithContext(ctx).Find(&recipes).Error; err != nil {
		t.Fatalf("query recipes: %v", err)
	}
	if len(recipes) == 0 {
		t.Fatal("expected seeded recipes")
	}
	for _, recipe := range recipes {
		if recipe.CurrentVersion == 0 {
			t.Fatalf("recipe %q has no current version pointer", recipe.Name)
		}
	}

	var burger models.Recipe
	if err := db.WithContext(ctx).Where("name = ?", "Classic Burger").First(&burger).Error; err != nil {
		t.Fatalf("query burger: %v", err)
	}
	if burger.TotalCost <= 0 {
		t.Fatalf("seeded burger should carry a computed total cost, got %v", burger.TotalCost)
	}

	var versions int64
	if err := db.WithContext(ctx).Model(&models.RecipeVersion{}).Where("recipe_id = ?", burger.ID).Count(&versions).Error; err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if versions != 4 {
		t.Fatalf("burger should have 4 versions (create plus three components), got %d", versions)
	}

	var user models.User
	if err := db.WithContext(ctx).First(&user).Error; err != nil {
		t.Fatalf("query user: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("brigade")); err != nil {
		t.Fatalf("unexpected password hash: %v", err)
	}
}
