// Package diff computes structured differences between two recipe version
// snapshots. Component rows are matched in three strictly ordered passes over
// shrinking unmatched pools: stable row identity first, then the referenced
// ingredient or sub-recipe, then residual added/removed classification. The
// ordering matters: letting a semantic match run before an exact row match is
// available can pair up two unrelated rows that happen to share an
// ingredient.
package diff

import (
	"fmt"
	"math"

	"mise/models"
)

type ChangeType string

const (
	Added     ChangeType = "added"
	Removed   ChangeType = "removed"
	Modified  ChangeType = "modified"
	Unchanged ChangeType = "unchanged"
)

// ScalarChange describes one tracked scalar field across the two snapshots.
// PercentChange is set for numeric fields when both sides are non-zero and
// the value moved.
type ScalarChange struct {
	Field         string     `json:"field"`
	Old           any        `json:"old_value"`
	New           any        `json:"new_value"`
	Change        ChangeType `json:"change_type"`
	PercentChange *float64   `json:"percent_change,omitempty"`
}

// ComponentChange describes one matched (or unmatched) component row.
// Removed rows report a new quantity of 0 and a nil new cost; added rows
// mirror that on the old side.
type ComponentChange struct {
	IngredientID *uint      `json:"ingredient_id,omitempty"`
	SubRecipeID  *uint      `json:"sub_recipe_id,omitempty"`
	Change       ChangeType `json:"change_type"`
	OldQuantity  float64    `json:"old_quantity"`
	NewQuantity  float64    `json:"new_quantity"`
	OldUnit      string     `json:"old_unit,omitempty"`
	NewUnit      string     `json:"new_unit,omitempty"`
	OldCost      *float64   `json:"old_cost,omitempty"`
	NewCost      *float64   `json:"new_cost,omitempty"`
}

// Result is the full structured difference between two snapshots.
type Result struct {
	Scalars    []ScalarChange    `json:"scalar_diff"`
	Components []ComponentChange `json:"component_diff"`
}

const costTolerance = 1e-9

// CompareDetailed diffs two version snapshots of the same recipe.
func CompareDetailed(oldVersion, newVersion *models.RecipeVersion) (Result, error) {
	oldComponents, err := oldVersion.Components()
	if err != nil {
		return Result{}, fmt.Errorf("decode old snapshot (version %d): %w", oldVersion.VersionNumber, err)
	}
	newComponents, err := newVersion.Components()
	if err != nil {
		return Result{}, fmt.Errorf("decode new snapshot (version %d): %w", newVersion.VersionNumber, err)
	}

	return Result{
		Scalars:    compareScalars(oldVersion, newVersion),
		Components: compareComponents(oldComponents, newComponents),
	}, nil
}

func compareScalars(oldVersion, newVersion *models.RecipeVersion) []ScalarChange {
	changes := []ScalarChange{
		stringChange("name", oldVersion.Name, newVersion.Name),
		stringChange("category", oldVersion.Category, newVersion.Category),
		numericChange("servings", float64(oldVersion.Servings), float64(newVersion.Servings)),
		numericChange("yield_amount", derefOrZero(oldVersion.YieldAmount), derefOrZero(newVersion.YieldAmount)),
		stringChange("yield_unit", oldVersion.YieldUnit, newVersion.YieldUnit),
		numericChange("waste_buffer_percent", oldVersion.WasteBufferPercent, newVersion.WasteBufferPercent),
		numericChange("target_cost_percent", oldVersion.TargetCostPercent, newVersion.TargetCostPercent),
		numericChange("selling_price", oldVersion.SellingPrice, newVersion.SellingPrice),
		stringChange("currency", oldVersion.Currency, newVersion.Currency),
		numericChange("total_cost", oldVersion.TotalCost, newVersion.TotalCost),
		numericChange("profit_margin", oldVersion.ProfitMargin, newVersion.ProfitMargin),
	}
	return changes
}

func stringChange(field, oldValue, newValue string) ScalarChange {
	change := ScalarChange{Field: field, Old: oldValue, New: newValue, Change: Unchanged}
	if oldValue != newValue {
		change.Change = Modified
	}
	return change
}

func numericChange(field string, oldValue, newValue float64) ScalarChange {
	change := ScalarChange{Field: field, Old: oldValue, New: newValue, Change: Unchanged}
	if math.Abs(oldValue-newValue) > costTolerance {
		change.Change = Modified
		if oldValue != 0 && newValue != 0 {
			percent := (newValue - oldValue) / oldValue * 100
			change.PercentChange = &percent
		}
	}
	return change
}

func derefOrZero(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}

func compareComponents(oldComponents, newComponents []models.ComponentSnapshot) []ComponentChange {
	oldMatched := make([]bool, len(oldComponents))
	newMatched := make([]bool, len(newComponents))
	changes := make([]ComponentChange, 0, len(oldComponents)+len(newComponents))

	// Phase 1: stable row identity.
	for i, oldComponent := range oldComponents {
		for j, newComponent := range newComponents {
			if newMatched[j] {
				continue
			}
			if oldComponent.ComponentID != 0 && oldComponent.ComponentID == newComponent.ComponentID {
				oldMatched[i] = true
				newMatched[j] = true
				changes = append(changes, classifyPair(oldComponent, newComponent))
				break
			}
		}
	}

	// Phase 2: semantic identity. Recovers delete-and-reinsert cycles where
	// the row identifier changed but the referenced ingredient did not.
	for i, oldComponent := range oldComponents {
		if oldMatched[i] {
			continue
		}
		for j, newComponent := range newComponents {
			if newMatched[j] {
				continue
			}
			if sameReference(oldComponent, newComponent) {
				oldMatched[i] = true
				newMatched[j] = true
				changes = append(changes, classifyPair(oldComponent, newComponent))
				break
			}
		}
	}

	// Phase 3: residuals.
	for i, oldComponent := range oldComponents {
		if oldMatched[i] {
			continue
		}
		oldCost := oldComponent.LineCost
		changes = append(changes, ComponentChange{
			IngredientID: oldComponent.IngredientID,
			SubRecipeID:  oldComponent.SubRecipeID,
			Change:       Removed,
			OldQuantity:  oldComponent.Quantity,
			NewQuantity:  0,
			OldUnit:      oldComponent.Unit,
			OldCost:      &oldCost,
		})
	}
	for j, newComponent := range newComponents {
		if newMatched[j] {
			continue
		}
		newCost := newComponent.LineCost
		changes = append(changes, ComponentChange{
			IngredientID: newComponent.IngredientID,
			SubRecipeID:  newComponent.SubRecipeID,
			Change:       Added,
			OldQuantity:  0,
			NewQuantity:  newComponent.Quantity,
			NewUnit:      newComponent.Unit,
			NewCost:      &newCost,
		})
	}

	return changes
}

func sameReference(a, b models.ComponentSnapshot) bool {
	if a.IngredientID != nil && b.IngredientID != nil {
		return *a.IngredientID == *b.IngredientID
	}
	if a.SubRecipeID != nil && b.SubRecipeID != nil {
		return *a.SubRecipeID == *b.SubRecipeID
	}
	return false
}

func classifyPair(oldComponent, newComponent models.ComponentSnapshot) ComponentChange {
	oldCost := oldComponent.LineCost
	newCost := newComponent.LineCost
	change := ComponentChange{
		IngredientID: newComponent.IngredientID,
		SubRecipeID:  newComponent.SubRecipeID,
		Change:       Unchanged,
		OldQuantity:  oldComponent.Quantity,
		NewQuantity:  newComponent.Quantity,
		OldUnit:      oldComponent.Unit,
		NewUnit:      newComponent.Unit,
		OldCost:      &oldCost,
		NewCost:      &newCost,
	}

	if math.Abs(oldComponent.Quantity-newComponent.Quantity) > costTolerance ||
		oldComponent.Unit != newComponent.Unit ||
		math.Abs(oldComponent.LineCost-newComponent.LineCost) > costTolerance {
		change.Change = Modified
	}
	return change
}
