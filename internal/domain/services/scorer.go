package services

import (
	"fmt"
	"sort"
	"strings"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

// field name fragments used to find the columns a secondary criterion should be checked against
var (
	nameFields     = []string{"name", "holder", "owner", "customer", "person", "beneficiary"}
	locationFields = []string{"city", "state", "address", "location", "district", "area", "place", "town", "pincode", "pin"}
	companyFields  = []string{"company", "employer", "organisation", "organization", "firm", "business"}
)

// Scorer applies secondary criteria to fetched records, then ranks them
type Scorer struct {
	config config.ScoringConfig
	logger *logger.Logger
}

// NewScorer creates a new Scorer
func NewScorer(cfg config.ScoringConfig, log *logger.Logger) *Scorer {
	if cfg.NameFuzzy <= 0 {
		cfg.NameFuzzy = 0.8
	}
	return &Scorer{
		config: cfg,
		logger: log.WithComponent("scorer"),
	}
}

// Rank marks secondary matches in the store, freezes it and returns every
// record ranked by relevance. Records are never dropped: a record that matched
// only its primary criterion is returned as a partial match.
func (s *Scorer) Rank(plan *models.SearchPlan, store *CrossReferenceStore) []models.RankedResult {
	byID := make(map[string]models.Criterion, len(plan.Criteria))
	for _, c := range plan.Criteria {
		byID[c.ID] = c
	}

	explanations := make(map[string][]string)
	secondary := plan.Secondary()
	for _, rec := range store.Records() {
		for _, crit := range secondary {
			field, ok := s.matchSecondary(rec.Fields, crit)
			if !ok {
				continue
			}
			if err := store.MarkMatched(rec.Key, crit.ID); err != nil {
				s.logger.Warn().Err(err).Str("record", rec.Key).Msg("failed to mark secondary match")
				continue
			}
			explanations[rec.Key] = append(explanations[rec.Key],
				fmt.Sprintf("%s %q matched field %q", crit.Category, crit.NormalizedValue, field))
		}
	}
	store.Freeze()

	bonus := 0.0
	if plan.Strategy == models.StrategyIntersection {
		bonus = s.config.MatchBonus
	}
	total := len(plan.Criteria)

	records := store.Records()
	results := make([]models.RankedResult, 0, len(records))
	for _, rec := range records {
		breakdown := make(map[models.Category]float64)
		var weights []float64
		var why []string
		for _, id := range rec.MatchedCriteria {
			crit, ok := byID[id]
			if !ok {
				continue
			}
			w := s.weight(crit)
			weights = append(weights, w)
			breakdown[crit.Category] += w
			if crit.Role == models.RolePrimary {
				why = append(why, fmt.Sprintf("returned by search for %s %q", crit.Category, crit.NormalizedValue))
			}
		}
		why = append(why, explanations[rec.Key]...)

		score := RelevanceScore(weights, bonus)
		rec.RelevanceScore = score

		match := models.MatchPartial
		if total > 0 && rec.MatchCount >= total {
			match = models.MatchExact
		}
		results = append(results, models.RankedResult{
			Record:       rec,
			MatchType:    match,
			Score:        score,
			Breakdown:    breakdown,
			Explanations: why,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.Key < results[j].Record.Key
	})

	s.logger.Debug().
		Int("records", len(results)).
		Int("secondary", len(secondary)).
		Msg("ranking complete")

	return results
}

// RelevanceScore sums the weights of the matched criteria and scales the sum
// by 1 + bonus*(matches-1). With non-negative weights the score never
// decreases as matches are added.
func RelevanceScore(weights []float64, bonus float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	var sum float64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if bonus < 0 {
		bonus = 0
	}
	return sum * (1 + bonus*float64(len(weights)-1))
}

func (s *Scorer) weight(c models.Criterion) float64 {
	if w, ok := s.config.Weights[string(c.Category)]; ok {
		return w
	}
	if c.Weight > 0 {
		return c.Weight
	}
	return 1
}

// matchSecondary returns the field that satisfied the criterion
func (s *Scorer) matchSecondary(fields map[string]any, crit models.Criterion) (string, bool) {
	var hints []string
	switch crit.Category {
	case models.CategoryName:
		hints = nameFields
	case models.CategoryLocation:
		hints = locationFields
	case models.CategoryCompany:
		hints = companyFields
	}

	keys := sortedStringFields(fields)
	candidates := filterFields(keys, hints)
	if len(candidates) == 0 {
		candidates = keys
	}

	want := strings.ToLower(crit.NormalizedValue)
	if want == "" {
		want = strings.ToLower(crit.Value)
	}
	for _, key := range candidates {
		value := fieldString(fields[key])
		if value == "" {
			continue
		}
		have := strings.ToLower(value)
		if strings.Contains(have, want) {
			return key, true
		}
		if crit.Category == models.CategoryName && FuzzyContainsTokens(have, want, s.config.NameFuzzy) {
			return key, true
		}
	}
	return "", false
}

// sortedStringFields returns the keys of scalar fields in a stable order
func sortedStringFields(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if fieldString(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func filterFields(keys, hints []string) []string {
	if len(hints) == 0 {
		return nil
	}
	var out []string
	for _, k := range keys {
		lk := strings.ToLower(k)
		for _, h := range hints {
			if strings.Contains(lk, h) {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

// fieldString renders a scalar record value; nested values are ignored
func fieldString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case bool, nil:
		return ""
	default:
		return ""
	}
}
