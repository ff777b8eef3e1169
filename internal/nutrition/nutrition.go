// Package nutrition resolves food items against a nutrition database and
// aggregates per-item results into meal totals.
//
// Resolution is best-effort by design: a lookup failure, a timeout or a food
// the database simply doesn't know all degrade to an unresolved item that is
// reported back to the user, never to an error that loses the rest of the
// meal.
package nutrition

import (
	"context"

	"macrolog/internal/meal"
)

// Confidence describes how trustworthy a resolution is.
type Confidence string

const (
	// ConfidenceExact means the database entry matches the food name and the
	// quantity was given in an exact mass unit.
	ConfidenceExact Confidence = "exact"
	// ConfidenceFuzzy means the match or the quantity conversion involved
	// guesswork (similarity ranking, volume-to-mass density, a model
	// estimate).
	ConfidenceFuzzy Confidence = "fuzzy"
	// ConfidenceUnresolved means no usable match was found; macro fields are
	// zero and the item is excluded from totals.
	ConfidenceUnresolved Confidence = "unresolved"
)

// Macros holds the tracked macronutrients. Depending on context the values
// are either per 100 g of a food or scaled to an actual quantity.
type Macros struct {
	CaloriesKcal float64 `json:"calories_kcal"`
	ProteinG     float64 `json:"protein_g"`
	CarbsG       float64 `json:"carbs_g"`
	FatG         float64 `json:"fat_g"`
	FiberG       float64 `json:"fiber_g"`
}

func (m Macros) add(o Macros) Macros {
	return Macros{
		CaloriesKcal: m.CaloriesKcal + o.CaloriesKcal,
		ProteinG:     m.ProteinG + o.ProteinG,
		CarbsG:       m.CarbsG + o.CarbsG,
		FatG:         m.FatG + o.FatG,
		FiberG:       m.FiberG + o.FiberG,
	}
}

func (m Macros) scale(factor float64) Macros {
	return Macros{
		CaloriesKcal: m.CaloriesKcal * factor,
		ProteinG:     m.ProteinG * factor,
		CarbsG:       m.CarbsG * factor,
		FatG:         m.FatG * factor,
		FiberG:       m.FiberG * factor,
	}
}

// clampNonNegative zeroes out negative values. Databases occasionally report
// garbage, and totals must never go negative.
func (m Macros) clampNonNegative() Macros {
	return Macros{
		CaloriesKcal: max(m.CaloriesKcal, 0),
		ProteinG:     max(m.ProteinG, 0),
		CarbsG:       max(m.CarbsG, 0),
		FatG:         max(m.FatG, 0),
		FiberG:       max(m.FiberG, 0),
	}
}

// Resolved is the outcome of resolving one meal item.
type Resolved struct {
	// Item is the original item as interpreted from the user's description.
	Item meal.Item
	// Grams is the normalized quantity the macros are scaled to.
	Grams float64
	// MatchedFoodID identifies the database entry used, empty when the macros
	// came from a model estimate or the item is unresolved.
	MatchedFoodID string
	// MatchedName is the database entry's own description.
	MatchedName string
	// Macros are scaled to Grams. All zero when unresolved.
	Macros Macros
	// Confidence reports how the resolution went.
	Confidence Confidence
}

// Aggregate is the combined result of resolving a whole meal.
type Aggregate struct {
	// Totals sums the macros of all resolved items.
	Totals Macros
	// ResolvedCount and UnresolvedCount partition the meal's items.
	ResolvedCount   int
	UnresolvedCount int
	// UnresolvedNames lists unresolved items in the order the user submitted
	// them, for user-facing reporting.
	UnresolvedNames []string
	// Items holds every per-item result in submission order.
	Items []Resolved
}

// merge folds one resolved item into the aggregate.
func (a *Aggregate) merge(r Resolved) {
	a.Items = append(a.Items, r)
	if r.Confidence == ConfidenceUnresolved {
		a.UnresolvedCount++
		a.UnresolvedNames = append(a.UnresolvedNames, r.Item.Name)
		return
	}
	a.ResolvedCount++
	a.Totals = a.Totals.add(r.Macros)
}

// Add folds another aggregate into this one. Used when a logging session
// accumulates several meals before a single commit.
func (a *Aggregate) Add(o Aggregate) {
	a.Totals = a.Totals.add(o.Totals)
	a.ResolvedCount += o.ResolvedCount
	a.UnresolvedCount += o.UnresolvedCount
	a.UnresolvedNames = append(a.UnresolvedNames, o.UnresolvedNames...)
	a.Items = append(a.Items, o.Items...)
}

// Provider is the nutrition database capability the resolver needs.
// [USDAProvider] adapts *usda.Client to it.
type Provider interface {
	// Search returns candidate foods for a query, best match first, with
	// macros per 100 g.
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Candidate is one nutrition database search result.
type Candidate struct {
	FoodID      string
	Description string
	// PerHundredGrams may have zero fields when the database doesn't report a
	// nutrient.
	PerHundredGrams Macros
}
