package models

import "testing"

func floatPtr(v float64) *float64 { return &v }

func TestYieldBasis(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		recipe Recipe
		want   float64
	}{
		{"yield amount wins", Recipe{Servings: 4, YieldAmount: floatPtr(2.5)}, 2.5},
		{"servings fallback", Recipe{Servings: 4}, 4},
		{"zero yield ignored", Recipe{Servings: 6, YieldAmount: floatPtr(0)}, 6},
		{"nothing set", Recipe{}, 1},
	}

	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.recipe.YieldBasis(); got != tt.want {
				t.Fatalf("YieldBasis() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVersionComponentSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	ingredientID := uint(7)
	components := []RecipeComponent{
		{RecipeID: 1, Quantity: 0.8, Unit: "kg", IngredientID: &ingredientID, UnitCost: 10, LineCost: 8},
	}
	components[0].ID = 42

	var version RecipeVersion
	if err := version.SnapshotComponents(components); err != nil {
		t.Fatalf("SnapshotComponents failed: %v", err)
	}
	if version.ComponentCount != 1 {
		t.Fatalf("expected component count 1, got %d", version.ComponentCount)
	}

	decoded, err := version.Components()
	if err != nil {
		t.Fatalf("Components failed: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(decoded))
	}
	if decoded[0].ComponentID != 42 {
		t.Fatalf("expected stable row id 42, got %d", decoded[0].ComponentID)
	}
	if decoded[0].IngredientID == nil || *decoded[0].IngredientID != ingredientID {
		t.Fatalf("ingredient reference lost in snapshot: %+v", decoded[0])
	}
}
