// Package units converts household measures to grams.
//
// Nutrition databases report macros per 100 g, so every quantity a user
// mentions ("1 cup", "2 slices", "150g") has to end up in grams before any
// scaling can happen. Conversions for volume and count units are necessarily
// approximate; callers learn about that through the Approximate flag.
package units

import (
	"strconv"
	"strings"
)

// Gram weights for supported units. Volume units assume water-like density,
// which is the usual kitchen approximation.
const (
	gramsPerCup  = 240
	gramsPerTbsp = 15
	gramsPerTsp  = 5
	gramsPerOz   = 28.35
	gramsPerLb   = 453.59
)

// Default piece weights, used when the unit is a count ("2 eggs", "a slice of
// bread"). Matching is done against the food name.
const (
	gramsPerEgg          = 50
	gramsPerSlice        = 30
	gramsPerPieceDefault = 100
)

// gramsPerServing is the last-resort assumption when the unit is unknown or
// missing entirely.
const gramsPerServing = 100

// Quantity is an amount of food normalized to grams.
type Quantity struct {
	// Grams is the estimated weight.
	Grams float64
	// Approximate reports that the conversion relied on a guessed density or
	// piece weight rather than an exact mass unit.
	Approximate bool
}

// unit name → grams per unit, for units convertible without knowing the food.
var unitGrams = map[string]struct {
	grams       float64
	approximate bool
}{
	"g":           {1, false},
	"gram":        {1, false},
	"grams":       {1, false},
	"gr":          {1, false},
	"kg":          {1000, false},
	"kilogram":    {1000, false},
	"kilograms":   {1000, false},
	"mg":          {0.001, false},
	"ml":          {1, true},
	"milliliter":  {1, true},
	"milliliters": {1, true},
	"l":           {1000, true},
	"liter":       {1000, true},
	"liters":      {1000, true},
	"cup":         {gramsPerCup, true},
	"cups":        {gramsPerCup, true},
	"tbsp":        {gramsPerTbsp, true},
	"tablespoon":  {gramsPerTbsp, true},
	"tablespoons": {gramsPerTbsp, true},
	"tsp":         {gramsPerTsp, true},
	"teaspoon":    {gramsPerTsp, true},
	"teaspoons":   {gramsPerTsp, true},
	"oz":          {gramsPerOz, true},
	"ounce":       {gramsPerOz, true},
	"ounces":      {gramsPerOz, true},
	"lb":          {gramsPerLb, true},
	"lbs":         {gramsPerLb, true},
	"pound":       {gramsPerLb, true},
	"pounds":      {gramsPerLb, true},
}

// count units resolve through the food name instead of a fixed weight.
var countUnits = map[string]bool{
	"":       true,
	"piece":  true,
	"pieces": true,
	"pc":     true,
	"pcs":    true,
	"item":   true,
	"items":  true,
	"whole":  true,
	"slice":  true,
	"slices": true,
	"egg":    true,
	"eggs":   true,
}

// servingUnits always fall back to the default serving weight.
var servingUnits = map[string]bool{
	"serving":  true,
	"servings": true,
	"portion":  true,
	"portions": true,
	"bowl":     true,
	"bowls":    true,
	"plate":    true,
	"plates":   true,
}

// Normalize converts quantity of unit of the named food to grams. A zero or
// negative quantity is treated as a single serving. Unknown units fall back to
// a 100 g serving and are flagged approximate, so a garbled unit degrades the
// estimate instead of dropping the item.
func Normalize(quantity float64, unit, foodName string) Quantity {
	if quantity <= 0 {
		quantity = 1
	}
	u := canonicalUnit(unit)

	if conv, ok := unitGrams[u]; ok {
		return Quantity{Grams: quantity * conv.grams, Approximate: conv.approximate}
	}
	if countUnits[u] {
		return Quantity{Grams: quantity * pieceGrams(u, foodName), Approximate: true}
	}
	if servingUnits[u] {
		return Quantity{Grams: quantity * gramsPerServing, Approximate: true}
	}
	// Unknown unit.
	return Quantity{Grams: quantity * gramsPerServing, Approximate: true}
}

func canonicalUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.TrimSuffix(u, ".")
	return u
}

func pieceGrams(unit, foodName string) float64 {
	name := strings.ToLower(foodName)
	switch {
	case strings.HasPrefix(unit, "slice"):
		return gramsPerSlice
	case strings.HasPrefix(unit, "egg"), strings.Contains(name, "egg"):
		return gramsPerEgg
	case strings.Contains(name, "bread"), strings.Contains(name, "toast"):
		return gramsPerSlice
	default:
		return gramsPerPieceDefault
	}
}

// ParseQuantity parses a numeric quantity as it appears in user text or model
// output: "150", "1.5", "1/2" and "1 1/2" are all accepted.
func ParseQuantity(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	// Mixed number: "1 1/2".
	if whole, frac, ok := strings.Cut(s, " "); ok {
		w, err := strconv.ParseFloat(whole, 64)
		if err != nil {
			return 0, false
		}
		f, ok := parseFraction(frac)
		if !ok {
			return 0, false
		}
		return w + f, true
	}
	return parseFraction(s)
}

func parseFraction(s string) (float64, bool) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, false
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
	if err != nil || d == 0 {
		return 0, false
	}
	return n / d, true
}
