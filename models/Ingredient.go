package models

import (
	"gorm.io/gorm"
)

// Ingredient is a purchasable raw material. Its price is always expressed per
// one BaseUnit; recipe components convert their own quantities into that unit
// before costing.
type Ingredient struct {
	gorm.Model
	Name             string  `gorm:"uniqueIndex;not null" json:"name"`
	Category         string  `json:"category"`
	Supplier         string  `json:"supplier"`
	BaseUnit         string  `gorm:"not null;default:kg" json:"base_unit"`
	PricePerBaseUnit float64 `gorm:"not null" json:"price_per_base_unit"`
	Currency         string  `gorm:"type:varchar(8);default:USD" json:"currency"`
	Notes            string  `gorm:"type:text" json:"notes"`
}
