// Command import_ingredients loads a supplier price list into the ingredient
// catalog. It accepts a CSV export (name, category, supplier, unit, price,
// currency, notes) or a PDF price sheet, from which it extracts lines of the
// form "Name  12.34 / kg". Existing ingredients are matched by name and
// updated in place.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"gorm.io/gorm"

	"mise/internal/config"
	"mise/internal/db"
	"mise/internal/units"
	"mise/models"
)

var (
	// priceLinePattern matches "Brioche Bun 0.50 / piece" and the common
	// variants "Brioche Bun ... $0.50 per piece" found in supplier sheets.
	priceLinePattern = regexp.MustCompile(`^(.+?)[\s.]*[\$€£]?\s*(\d+(?:[.,]\d+)?)\s*(?:/|per)\s*([A-Za-z]+)\s*$`)
	cleanWhitespace  = regexp.MustCompile(`\s+`)
)

func main() {
	path := "price-list.csv"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	if err := run(path); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("price list path must not be empty")
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("locate price list: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	database, err := db.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(database); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	rows, err := readPriceList(path)
	if err != nil {
		return fmt.Errorf("read price list: %w", err)
	}

	imported, err := importRows(context.Background(), database, rows)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Imported %d ingredients from %s\n", imported, filepath.Base(path))
	return nil
}

// priceRow is one parsed line of a price list regardless of source format.
type priceRow struct {
	Name     string
	Category string
	Supplier string
	Unit     string
	Price    float64
	Currency string
	Notes    string
}

func readPriceList(path string) ([]priceRow, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		text, err := extractTextFromPDF(data)
		if err != nil {
			return nil, fmt.Errorf("extract pdf text: %w", err)
		}
		return parsePriceText(text), nil
	}
	return readCSV(path)
}

func readCSV(path string) ([]priceRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, errors.New("csv is empty")
	}

	header := records[0]
	index := make(map[string]int, len(header))
	for idx, key := range header {
		index[strings.ToLower(strings.TrimSpace(key))] = idx
	}

	field := func(row []string, key string) string {
		idx, ok := index[key]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	rows := make([]priceRow, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) == 0 {
			continue
		}

		name := field(record, "name")
		if name == "" {
			continue
		}

		price, err := strconv.ParseFloat(strings.ReplaceAll(field(record, "price"), ",", "."), 64)
		if err != nil {
			continue
		}

		rows = append(rows, priceRow{
			Name:     name,
			Category: field(record, "category"),
			Supplier: field(record, "supplier"),
			Unit:     field(record, "unit"),
			Price:    price,
			Currency: field(record, "currency"),
			Notes:    normalizeText(field(record, "notes")),
		})
	}

	return rows, nil
}

// parsePriceText scans free-form text (typically a PDF extraction) for price
// lines. Lines that do not look like "name price / unit" are skipped.
func parsePriceText(text string) []priceRow {
	var rows []priceRow
	for _, line := range strings.Split(text, "\n") {
		line = normalizeText(line)
		if line == "" {
			continue
		}

		match := priceLinePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		unit, ok := units.Normalize(match[3])
		if !ok {
			continue
		}

		price, err := strconv.ParseFloat(strings.ReplaceAll(match[2], ",", "."), 64)
		if err != nil {
			continue
		}

		rows = append(rows, priceRow{
			Name:  strings.TrimSpace(match[1]),
			Unit:  unit,
			Price: price,
		})
	}
	return rows
}

func importRows(ctx context.Context, database *gorm.DB, rows []priceRow) (int, error) {
	imported := 0
	for idx, row := range rows {
		if err := database.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ingredient, err := buildIngredient(row)
			if err != nil {
				return err
			}

			var existing models.Ingredient
			err = tx.Where("name = ?", ingredient.Name).First(&existing).Error
			switch {
			case err == nil:
				updates := map[string]any{
					"base_unit":           ingredient.BaseUnit,
					"price_per_base_unit": ingredient.PricePerBaseUnit,
					"currency":            ingredient.Currency,
				}
				if ingredient.Category != "" {
					updates["category"] = ingredient.Category
				}
				if ingredient.Supplier != "" {
					updates["supplier"] = ingredient.Supplier
				}
				if ingredient.Notes != "" {
					updates["notes"] = ingredient.Notes
				}
				if err := tx.Model(&existing).Updates(updates).Error; err != nil {
					return fmt.Errorf("update ingredient %q: %w", ingredient.Name, err)
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&ingredient).Error; err != nil {
					return fmt.Errorf("create ingredient %q: %w", ingredient.Name, err)
				}
			default:
				return fmt.Errorf("find ingredient %q: %w", ingredient.Name, err)
			}
			return nil
		}); err != nil {
			return imported, fmt.Errorf("row %d (%s): %w", idx+1, row.Name, err)
		}
		imported++
	}
	return imported, nil
}

func buildIngredient(row priceRow) (models.Ingredient, error) {
	unit, ok := units.Normalize(row.Unit)
	if !ok {
		return models.Ingredient{}, fmt.Errorf("unknown unit %q", row.Unit)
	}
	if row.Price < 0 {
		return models.Ingredient{}, fmt.Errorf("negative price %v", row.Price)
	}

	currency := strings.ToUpper(strings.TrimSpace(row.Currency))
	if currency == "" {
		currency = "USD"
	}

	return models.Ingredient{
		Name:             row.Name,
		Category:         row.Category,
		Supplier:         row.Supplier,
		BaseUnit:         unit,
		PricePerBaseUnit: row.Price,
		Currency:         currency,
		Notes:            row.Notes,
	}, nil
}

func extractTextFromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

func normalizeText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	return strings.TrimSpace(cleanWhitespace.ReplaceAllString(value, " "))
}
