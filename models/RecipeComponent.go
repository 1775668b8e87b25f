package models

import (
	"gorm.io/gorm"
)

type RecipeComponent struct {
	gorm.Model
	RecipeID uint    `gorm:"not null;index" json:"recipe_id"` // Parent Recipe
	Quantity float64 `gorm:"not null" json:"quantity"`
	Unit     string  `gorm:"not null" json:"unit"`

	// --- Component Link ---
	// Exactly one of these is set; the other stays null.
	IngredientID *uint `json:"ingredient_id,omitempty"`
	SubRecipeID  *uint `json:"sub_recipe_id,omitempty"`

	// UnitCost and LineCost are cached calculator outputs. They can be
	// stale between edits and are rewritten on every recompute.
	UnitCost float64 `json:"unit_cost"`
	LineCost float64 `json:"line_cost"`

	Notes string `gorm:"type:text" json:"notes"`

	// --- Preloadable Data ---
	Ingredient *Ingredient `gorm:"foreignKey:IngredientID" json:"ingredient,omitempty"`
	SubRecipe  *Recipe     `gorm:"foreignKey:SubRecipeID" json:"sub_recipe,omitempty"`
}
