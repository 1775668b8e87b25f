package versioning

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"mise/models"
)

var exportHeader = []string{
	"recipe_id", "version", "name", "category", "is_base",
	"servings", "yield_amount", "yield_unit",
	"waste_buffer_percent", "target_cost_percent", "selling_price", "currency",
	"total_cost", "profit_margin", "component_count",
	"change_reason", "created_by", "created_at", "is_current",
}

// ExportCSV writes one row per version, flattening the scalar snapshot for
// audit and reporting use. It is a pure projection of the rows it is given.
func ExportCSV(w io.Writer, versions []models.RecipeVersion) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return fmt.Errorf("write export header: %w", err)
	}

	for _, version := range versions {
		yieldAmount := ""
		if version.YieldAmount != nil {
			yieldAmount = formatFloat(*version.YieldAmount)
		}
		record := []string{
			strconv.FormatUint(uint64(version.RecipeID), 10),
			strconv.Itoa(version.VersionNumber),
			version.Name,
			version.Category,
			strconv.FormatBool(version.IsBase),
			strconv.Itoa(version.Servings),
			yieldAmount,
			version.YieldUnit,
			formatFloat(version.WasteBufferPercent),
			formatFloat(version.TargetCostPercent),
			formatFloat(version.SellingPrice),
			version.Currency,
			formatFloat(version.TotalCost),
			formatFloat(version.ProfitMargin),
			strconv.Itoa(version.ComponentCount),
			version.ChangeReason,
			version.CreatedBy,
			version.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(version.IsCurrent),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write export row for version %d: %w", version.VersionNumber, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
