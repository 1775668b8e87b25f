// Package units maps measurement unit tokens into compatibility classes and
// converts quantities between units of the same class. Factors are exact
// decimal constants relative to each class base unit (g for mass, ml for
// volume, piece for count). Count units never convert to mass or volume.
package units

import (
	"errors"
	"fmt"
	"strings"
)

// Class groups units that can be converted into one another.
type Class string

const (
	Mass   Class = "mass"
	Volume Class = "volume"
	Count  Class = "count"
)

var (
	// ErrUnknownUnit is returned when a unit token is not in the table.
	ErrUnknownUnit = errors.New("units: unknown unit")
	// ErrIncompatible is returned when a conversion crosses classes.
	ErrIncompatible = errors.New("units: incompatible unit classes")
)

type definition struct {
	class Class
	// toBase multiplies a quantity in this unit into the class base unit.
	toBase float64
}

var table = map[string]definition{
	// Mass, base unit g.
	"mg": {Mass, 0.001},
	"g":  {Mass, 1},
	"kg": {Mass, 1000},
	"oz": {Mass, 28.349523125},
	"lb": {Mass, 453.59237},

	// Volume, base unit ml.
	"ml":   {Volume, 1},
	"cl":   {Volume, 10},
	"dl":   {Volume, 100},
	"l":    {Volume, 1000},
	"tsp":  {Volume, 4.92892159375},
	"tbsp": {Volume, 14.78676478125},
	"floz": {Volume, 29.5735295625},
	"cup":  {Volume, 236.5882365},
	"pt":   {Volume, 473.176473},
	"qt":   {Volume, 946.352946},
	"gal":  {Volume, 3785.411784},

	// Count, base unit piece. Discrete units convert only among
	// themselves via explicit ratios.
	"piece": {Count, 1},
	"pc":    {Count, 1},
	"each":  {Count, 1},
	"unit":  {Count, 1},
	"dozen": {Count, 12},
	"pair":  {Count, 2},
}

var aliases = map[string]string{
	"gram":        "g",
	"grams":       "g",
	"kilogram":    "kg",
	"kilograms":   "kg",
	"milligram":   "mg",
	"milligrams":  "mg",
	"ounce":       "oz",
	"ounces":      "oz",
	"pound":       "lb",
	"pounds":      "lb",
	"lbs":         "lb",
	"milliliter":  "ml",
	"milliliters": "ml",
	"liter":       "l",
	"liters":      "l",
	"litre":       "l",
	"litres":      "l",
	"teaspoon":    "tsp",
	"teaspoons":   "tsp",
	"tablespoon":  "tbsp",
	"tablespoons": "tbsp",
	"cups":        "cup",
	"pint":        "pt",
	"pints":       "pt",
	"quart":       "qt",
	"quarts":      "qt",
	"gallon":      "gal",
	"gallons":     "gal",
	"pieces":      "piece",
	"pcs":         "pc",
	"ea":          "each",
	"units":       "unit",
	"dz":          "dozen",
}

// DefaultCountUnit is the discrete unit assumed when a sub-recipe declares no
// yield unit of its own.
const DefaultCountUnit = "piece"

// Normalize lowercases, trims, and resolves aliases for a unit token. The
// returned token is the table key; ok reports whether the unit is known.
func Normalize(unit string) (string, bool) {
	token := strings.ToLower(strings.TrimSpace(unit))
	if alias, found := aliases[token]; found {
		token = alias
	}
	_, known := table[token]
	return token, known
}

// ClassOf reports the compatibility class of a unit.
func ClassOf(unit string) (Class, error) {
	token, ok := Normalize(unit)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
	return table[token].class, nil
}

// ToCanonical converts a quantity into its class base unit (g, ml, or piece).
func ToCanonical(quantity float64, unit string) (float64, error) {
	token, ok := Normalize(unit)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
	return quantity * table[token].toBase, nil
}

// Convert converts a quantity between two units of the same class. It fails
// with ErrIncompatible when the classes differ, including any attempt to
// convert a count unit into mass or volume.
func Convert(quantity float64, fromUnit, toUnit string) (float64, error) {
	fromToken, ok := Normalize(fromUnit)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, fromUnit)
	}
	toToken, ok := Normalize(toUnit)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, toUnit)
	}

	from := table[fromToken]
	to := table[toToken]
	if from.class != to.class {
		return 0, fmt.Errorf("%w: %s (%s) -> %s (%s)", ErrIncompatible, fromUnit, from.class, toUnit, to.class)
	}

	return quantity * from.toBase / to.toBase, nil
}
