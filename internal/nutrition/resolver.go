package nutrition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"macrolog/internal/api/gemini"
	"macrolog/internal/logger"
	"macrolog/internal/meal"
	"macrolog/internal/store"
	"macrolog/internal/units"
)

// Retry policy for nutrition database lookups. Failures past the last retry
// degrade to an unresolved item.
const (
	searchRetries      = 2
	searchRetryBackoff = 250 * time.Millisecond
)

// minMatchScore is the similarity threshold a candidate has to clear.
// github.com/sahilm/fuzzy only returns candidates the query is a subsequence
// of; a negative score means the match sits so deep inside the description
// that it's likely spurious.
const minMatchScore = 0

// Resolver matches food items against a nutrition database and scales the
// matched macros to the requested quantity.
type Resolver struct {
	// Provider is the nutrition database.
	Provider Provider
	// Estimator, if set, is asked for a macro estimate when the database has
	// no match. Estimates are always fuzzy-confidence.
	Estimator meal.TextGenerator
	// Cache, if set, caches database matches by food name.
	Cache store.Store
	// Logf logs resolution failures. Defaults to a no-op.
	Logf logger.Logf
}

func (r *Resolver) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// Resolve looks the item up and returns its macros scaled to the normalized
// quantity. It never returns an error: every failure mode produces an
// unresolved result instead.
func (r *Resolver) Resolve(ctx context.Context, item meal.Item) Resolved {
	q := units.Normalize(item.Quantity, item.Unit, item.Name)
	res := Resolved{
		Item:       item,
		Grams:      q.Grams,
		Confidence: ConfidenceUnresolved,
	}

	cand, ok := r.lookup(ctx, item.Name)
	if !ok {
		cand, ok = r.estimate(ctx, item.Name)
		if !ok {
			return res
		}
		res.MatchedName = cand.Description
		res.Macros = cand.PerHundredGrams.scale(q.Grams / 100).clampNonNegative()
		res.Confidence = ConfidenceFuzzy
		return res
	}

	res.MatchedFoodID = cand.FoodID
	res.MatchedName = cand.Description
	res.Macros = cand.PerHundredGrams.scale(q.Grams / 100).clampNonNegative()
	if sameFoodName(cand.Description, item.Name) && !q.Approximate {
		res.Confidence = ConfidenceExact
	} else {
		res.Confidence = ConfidenceFuzzy
	}
	return res
}

// lookup finds the best database candidate for a food name, consulting the
// cache first.
func (r *Resolver) lookup(ctx context.Context, name string) (Candidate, bool) {
	key := "nutrition/v1:" + strings.ToLower(strings.TrimSpace(name))

	if r.Cache != nil {
		if b, err := r.Cache.Get(ctx, key); err == nil && b != nil {
			var cand Candidate
			if err := json.Unmarshal(b, &cand); err == nil {
				return cand, true
			}
		}
	}

	cands, err := r.search(ctx, name)
	if err != nil {
		r.logf("nutrition: search %q failed: %v", name, err)
		return Candidate{}, false
	}
	cand, ok := rankCandidates(name, cands)
	if !ok {
		return Candidate{}, false
	}

	if r.Cache != nil {
		if b, err := json.Marshal(cand); err == nil {
			if err := r.Cache.Set(ctx, key, b); err != nil {
				r.logf("nutrition: caching %q failed: %v", name, err)
			}
		}
	}
	return cand, true
}

func (r *Resolver) search(ctx context.Context, name string) ([]Candidate, error) {
	var lastErr error
	for attempt := 0; attempt <= searchRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*searchRetryBackoff); err != nil {
				return nil, err
			}
		}
		cands, err := r.Provider.Search(ctx, name)
		if err == nil {
			return cands, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// rankCandidates picks the candidate most similar to the queried name.
func rankCandidates(name string, cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	descs := make([]string, len(cands))
	for i, c := range cands {
		descs[i] = strings.ToLower(c.Description)
	}
	matches := fuzzy.Find(strings.ToLower(name), descs)
	if len(matches) == 0 || matches[0].Score < minMatchScore {
		return Candidate{}, false
	}
	return cands[matches[0].Index], true
}

const estimatePrompt = `Estimate the nutritional values of 100 grams of the food named below.

Respond with ONLY a JSON object with these numeric keys, no other text:
  "calories_kcal", "protein_g", "carbs_g", "fat_g", "fiber_g"

Food: `

// estimate asks the generative model for per-100g macros when the database
// has no match.
func (r *Resolver) estimate(ctx context.Context, name string) (Candidate, bool) {
	if r.Estimator == nil {
		return Candidate{}, false
	}
	raw, err := r.Estimator.GenerateText(ctx, 0, gemini.TextPart(estimatePrompt+name))
	if err != nil {
		r.logf("nutrition: estimating %q failed: %v", name, err)
		return Candidate{}, false
	}
	var m Macros
	if err := json.Unmarshal([]byte(stripFence(raw)), &m); err != nil {
		r.logf("nutrition: estimate for %q is not valid JSON: %v", name, err)
		return Candidate{}, false
	}
	return Candidate{
		Description:     fmt.Sprintf("%s (estimated)", name),
		PerHundredGrams: m,
	}, true
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i != -1 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func sameFoodName(desc, name string) bool {
	clean := func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return clean(desc) == clean(name)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
