package models

import (
	"encoding/json"

	"gorm.io/gorm"
)

// RecipeVersion is one immutable row in a recipe's append-only history. The
// scalar fields are copied flat from the recipe at creation time; the
// component list is kept as a JSON document so a snapshot survives later
// ingredient or component deletions.
type RecipeVersion struct {
	gorm.Model
	RecipeID      uint `gorm:"not null;uniqueIndex:idx_recipe_version,priority:1" json:"recipe_id"`
	VersionNumber int  `gorm:"not null;uniqueIndex:idx_recipe_version,priority:2" json:"version_number"`

	// Scalar snapshot.
	Name               string   `gorm:"not null" json:"name"`
	Category           string   `json:"category"`
	IsBase             bool     `json:"is_base"`
	Servings           int      `json:"servings"`
	YieldAmount        *float64 `json:"yield_amount,omitempty"`
	YieldUnit          string   `json:"yield_unit,omitempty"`
	WasteBufferPercent float64  `json:"waste_buffer_percent"`
	TargetCostPercent  float64  `json:"target_cost_percent"`
	SellingPrice       float64  `json:"selling_price"`
	Currency           string   `json:"currency"`
	TotalCost          float64  `json:"total_cost"`
	ProfitMargin       float64  `json:"profit_margin"`

	// Component snapshot.
	ComponentsJSON string `gorm:"type:text" json:"-"`
	ComponentCount int    `gorm:"not null;default:0" json:"component_count"`

	ChangeReason string `json:"change_reason"`
	ChangeNotes  string `gorm:"type:text" json:"change_notes"`
	CreatedBy    string `json:"created_by"`
	IsCurrent    bool   `gorm:"not null;default:false;index" json:"is_current"`
}

// ComponentSnapshot is the serialized form of one RecipeComponent inside a
// version. ComponentID preserves the live row's primary key so later diffs
// and rollbacks can match rows by stable identity.
type ComponentSnapshot struct {
	ComponentID  uint    `json:"component_id"`
	IngredientID *uint   `json:"ingredient_id,omitempty"`
	SubRecipeID  *uint   `json:"sub_recipe_id,omitempty"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	UnitCost     float64 `json:"unit_cost"`
	LineCost     float64 `json:"line_cost"`
	Notes        string  `json:"notes,omitempty"`
}

// SnapshotComponents serializes the given live components into the version.
func (v *RecipeVersion) SnapshotComponents(components []RecipeComponent) error {
	snapshots := make([]ComponentSnapshot, 0, len(components))
	for _, component := range components {
		snapshots = append(snapshots, ComponentSnapshot{
			ComponentID:  component.ID,
			IngredientID: component.IngredientID,
			SubRecipeID:  component.SubRecipeID,
			Quantity:     component.Quantity,
			Unit:         component.Unit,
			UnitCost:     component.UnitCost,
			LineCost:     component.LineCost,
			Notes:        component.Notes,
		})
	}

	encoded, err := json.Marshal(snapshots)
	if err != nil {
		return err
	}

	v.ComponentsJSON = string(encoded)
	v.ComponentCount = len(snapshots)
	return nil
}

// Components decodes the stored component snapshot.
func (v *RecipeVersion) Components() ([]ComponentSnapshot, error) {
	if v.ComponentsJSON == "" {
		return nil, nil
	}

	var snapshots []ComponentSnapshot
	if err := json.Unmarshal([]byte(v.ComponentsJSON), &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}
