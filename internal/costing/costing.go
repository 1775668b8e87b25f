// Package costing turns a recipe's component list into money. Lines are
// priced independently so one bad unit never sinks the whole computation:
// callers always get the best-effort totals plus the per-line errors.
package costing

import (
	"context"
	"errors"
	"fmt"

	"mise/internal/units"
	"mise/models"
)

// ErrNotFound is returned by lookups when the referenced ingredient or
// recipe does not exist.
var ErrNotFound = errors.New("costing: referenced record not found")

// IngredientPricing is the slice of an ingredient the calculator needs.
type IngredientPricing struct {
	BaseUnit         string
	PricePerBaseUnit float64
	Currency         string
}

// SubRecipePricing is the slice of a recipe the calculator needs when the
// recipe appears as a component of another recipe.
type SubRecipePricing struct {
	TotalCost  float64
	YieldBasis float64
	YieldUnit  string
}

// IngredientSource resolves current ingredient prices.
type IngredientSource interface {
	IngredientPricing(ctx context.Context, ingredientID uint) (IngredientPricing, error)
}

// RecipeSource resolves sub-recipe cost and yield.
type RecipeSource interface {
	SubRecipePricing(ctx context.Context, recipeID uint) (SubRecipePricing, error)
}

// Line is one priceable row: a quantity in some unit against a reference
// price expressed per one reference unit.
type Line struct {
	ComponentID    uint
	Label          string
	Quantity       float64
	Unit           string
	ReferencePrice float64
	ReferenceUnit  string
}

// LinePrice is the successful output for a single line.
type LinePrice struct {
	// UnitCost is the cost of one Line.Unit of the component.
	UnitCost float64
	// LineCost is UnitCost multiplied by the line quantity.
	LineCost float64
}

// LineError names the component whose line could not be priced.
type LineError struct {
	ComponentID uint
	Label       string
	Err         error
}

func (e LineError) Error() string {
	return fmt.Sprintf("component %d (%s): %v", e.ComponentID, e.Label, e.Err)
}

func (e LineError) Unwrap() error { return e.Err }

// Totals is the aggregate output of TotalForRecipe. Errors holds the lines
// excluded from Subtotal; the totals remain valid partial results.
type Totals struct {
	Subtotal  float64
	WasteCost float64
	TotalCost float64
	Errors    []LineError
}

// PriceLine converts the line quantity into the reference unit's terms and
// prices it. Unknown or cross-class units fail the line, never the batch.
func PriceLine(line Line) (LinePrice, error) {
	perUnit, err := units.Convert(1, line.Unit, line.ReferenceUnit)
	if err != nil {
		return LinePrice{}, err
	}

	unitCost := perUnit * line.ReferencePrice
	return LinePrice{
		UnitCost: unitCost,
		LineCost: unitCost * line.Quantity,
	}, nil
}

// TotalForRecipe prices every line, sums the successes, and applies the waste
// buffer. Failed lines are reported in Totals.Errors and excluded from the
// subtotal.
func TotalForRecipe(lines []Line, wasteBufferPercent float64) Totals {
	var totals Totals
	for _, line := range lines {
		price, err := PriceLine(line)
		if err != nil {
			totals.Errors = append(totals.Errors, LineError{
				ComponentID: line.ComponentID,
				Label:       line.Label,
				Err:         err,
			})
			continue
		}
		totals.Subtotal += price.LineCost
	}

	if wasteBufferPercent > 0 {
		totals.WasteCost = totals.Subtotal * wasteBufferPercent / 100
	}
	totals.TotalCost = totals.Subtotal + totals.WasteCost
	return totals
}

// SuggestedPrice derives a menu price from cost and the kitchen's target cost
// percentage. A non-positive target yields 0 rather than dividing by zero.
func SuggestedPrice(totalCost, targetCostPercent float64) float64 {
	if targetCostPercent <= 0 {
		return 0
	}
	return totalCost / (targetCostPercent / 100)
}

// ProfitMargin reports the margin percentage for a cost at a selling price.
func ProfitMargin(cost, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return (price - cost) / price * 100
}

// FoodCostPercent reports cost as a percentage of the selling price.
func FoodCostPercent(cost, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return cost / price * 100
}

// ResolveLines builds priceable lines from live components. Ingredient lines
// price against the ingredient's base unit; sub-recipe lines price against
// the sub-recipe's total cost spread over its yield. Resolution failures are
// line-scoped, mirroring pricing failures.
func ResolveLines(ctx context.Context, components []models.RecipeComponent, ingredients IngredientSource, recipes RecipeSource) ([]Line, []LineError) {
	lines := make([]Line, 0, len(components))
	var lineErrors []LineError

	for _, component := range components {
		line := Line{
			ComponentID: component.ID,
			Quantity:    component.Quantity,
			Unit:        component.Unit,
		}

		switch {
		case component.IngredientID != nil:
			pricing, err := ingredients.IngredientPricing(ctx, *component.IngredientID)
			if err != nil {
				lineErrors = append(lineErrors, LineError{
					ComponentID: component.ID,
					Label:       fmt.Sprintf("ingredient %d", *component.IngredientID),
					Err:         err,
				})
				continue
			}
			line.Label = fmt.Sprintf("ingredient %d", *component.IngredientID)
			line.ReferencePrice = pricing.PricePerBaseUnit
			line.ReferenceUnit = pricing.BaseUnit

		case component.SubRecipeID != nil:
			pricing, err := recipes.SubRecipePricing(ctx, *component.SubRecipeID)
			if err != nil {
				lineErrors = append(lineErrors, LineError{
					ComponentID: component.ID,
					Label:       fmt.Sprintf("sub-recipe %d", *component.SubRecipeID),
					Err:         err,
				})
				continue
			}
			yield := pricing.YieldBasis
			if yield <= 0 {
				yield = 1
			}
			unit := pricing.YieldUnit
			if unit == "" {
				unit = units.DefaultCountUnit
			}
			line.Label = fmt.Sprintf("sub-recipe %d", *component.SubRecipeID)
			line.ReferencePrice = pricing.TotalCost / yield
			line.ReferenceUnit = unit

		default:
			lineErrors = append(lineErrors, LineError{
				ComponentID: component.ID,
				Label:       "unlinked component",
				Err:         errors.New("costing: component references neither ingredient nor sub-recipe"),
			})
			continue
		}

		lines = append(lines, line)
	}

	return lines, lineErrors
}

// TotalForComponents is the resolve-then-total convenience used by the
// recipe service: lookup errors and pricing errors land in the same Errors
// slice.
func TotalForComponents(ctx context.Context, components []models.RecipeComponent, wasteBufferPercent float64, ingredients IngredientSource, recipes RecipeSource) Totals {
	_, totals := PriceComponents(ctx, components, wasteBufferPercent, ingredients, recipes)
	return totals
}

// PriceComponents resolves and prices every component, returning the per-line
// prices keyed by component row ID alongside the aggregate totals. Components
// absent from the map appear in Totals.Errors instead.
func PriceComponents(ctx context.Context, components []models.RecipeComponent, wasteBufferPercent float64, ingredients IngredientSource, recipes RecipeSource) (map[uint]LinePrice, Totals) {
	lines, resolveErrors := ResolveLines(ctx, components, ingredients, recipes)

	prices := make(map[uint]LinePrice, len(lines))
	var totals Totals
	for _, line := range lines {
		price, err := PriceLine(line)
		if err != nil {
			totals.Errors = append(totals.Errors, LineError{
				ComponentID: line.ComponentID,
				Label:       line.Label,
				Err:         err,
			})
			continue
		}
		prices[line.ComponentID] = price
		totals.Subtotal += price.LineCost
	}

	if wasteBufferPercent > 0 {
		totals.WasteCost = totals.Subtotal * wasteBufferPercent / 100
	}
	totals.TotalCost = totals.Subtotal + totals.WasteCost
	totals.Errors = append(resolveErrors, totals.Errors...)
	return prices, totals
}
