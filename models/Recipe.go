package models

import (
	"gorm.io/gorm"
)

type Recipe struct {
	gorm.Model
	Name     string `gorm:"not null" json:"name"`
	Category string `json:"category"`

	// IsBase marks recipes that exist to be used inside other recipes
	// (stocks, sauces, doughs). Base recipes may only contain ingredients
	// or other base recipes; regular recipes may not contain regular
	// recipes.
	IsBase bool `gorm:"not null;default:false" json:"is_base"`

	Servings    int      `gorm:"not null;default:1" json:"servings"`
	YieldAmount *float64 `json:"yield_amount,omitempty"`
	YieldUnit   string   `json:"yield_unit,omitempty"`

	WasteBufferPercent float64 `gorm:"not null;default:0" json:"waste_buffer_percent"`
	TargetCostPercent  float64 `gorm:"not null;default:30" json:"target_cost_percent"`
	SellingPrice       float64 `json:"selling_price"`
	Currency           string  `gorm:"type:varchar(8);default:USD" json:"currency"`

	// TotalCost and ProfitMargin are outputs of the cost calculator. They
	// are rewritten on every committed mutation and must never be set by
	// hand.
	TotalCost    float64 `json:"total_cost"`
	ProfitMargin float64 `json:"profit_margin"`

	// CurrentVersion caches the version ledger's IsCurrent pointer. It is
	// refreshed inside the same transaction that creates a version.
	CurrentVersion int `gorm:"not null;default:0" json:"current_version"`

	Components []RecipeComponent `gorm:"foreignKey:RecipeID" json:"components"`
}

// YieldBasis returns the divisor used when this recipe is costed as a
// sub-recipe of another: the explicit yield amount when present, otherwise the
// serving count.
func (r *Recipe) YieldBasis() float64 {
	if r.YieldAmount != nil && *r.YieldAmount > 0 {
		return *r.YieldAmount
	}
	if r.Servings > 0 {
		return float64(r.Servings)
	}
	return 1
}
