package nutrition

import (
	"context"
	"strconv"

	"macrolog/internal/api/usda"
)

// USDAProvider adapts the FoodData Central client to the Provider interface.
type USDAProvider struct {
	Client *usda.Client
}

// Search implements Provider.
func (p USDAProvider) Search(ctx context.Context, query string) ([]Candidate, error) {
	foods, err := p.Client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	cands := make([]Candidate, 0, len(foods))
	for _, f := range foods {
		cands = append(cands, Candidate{
			FoodID:      strconv.FormatInt(f.FDCID, 10),
			Description: f.Description,
			PerHundredGrams: Macros{
				CaloriesKcal: deref(f.CaloriesKcal),
				ProteinG:     deref(f.ProteinG),
				CarbsG:       deref(f.CarbsG),
				FatG:         deref(f.FatG),
				FiberG:       deref(f.FiberG),
			},
		})
	}
	return cands, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
