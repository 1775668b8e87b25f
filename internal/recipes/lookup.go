package recipes

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mise/internal/costing"
	"mise/models"
)

// ingredientSource adapts a transaction handle to costing.IngredientSource.
type ingredientSource struct {
	tx *gorm.DB
}

func (s ingredientSource) IngredientPricing(ctx context.Context, ingredientID uint) (costing.IngredientPricing, error) {
	var ingredient models.Ingredient
	if err := s.tx.WithContext(ctx).First(&ingredient, ingredientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return costing.IngredientPricing{}, fmt.Errorf("%w: ingredient %d", costing.ErrNotFound, ingredientID)
		}
		return costing.IngredientPricing{}, err
	}
	return costing.IngredientPricing{
		BaseUnit:         ingredient.BaseUnit,
		PricePerBaseUnit: ingredient.PricePerBaseUnit,
		Currency:         ingredient.Currency,
	}, nil
}

// recipeSource adapts a transaction handle to costing.RecipeSource. The
// sub-recipe's stored TotalCost is trusted as-is; it is the sub-recipe's own
// job to keep it fresh on its own mutations.
type recipeSource struct {
	tx *gorm.DB
}

func (s recipeSource) SubRecipePricing(ctx context.Context, recipeID uint) (costing.SubRecipePricing, error) {
	var recipe models.Recipe
	if err := s.tx.WithContext(ctx).First(&recipe, recipeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return costing.SubRecipePricing{}, fmt.Errorf("%w: recipe %d", costing.ErrNotFound, recipeID)
		}
		return costing.SubRecipePricing{}, err
	}
	return costing.SubRecipePricing{
		TotalCost:  recipe.TotalCost,
		YieldBasis: recipe.YieldBasis(),
		YieldUnit:  recipe.YieldUnit,
	}, nil
}
