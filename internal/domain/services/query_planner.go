package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

// QueryPlanner turns extracted entities into primary search terms and secondary filters
type QueryPlanner struct {
	weights map[string]float64
	logger  *logger.Logger
}

// NewQueryPlanner creates a new QueryPlanner
func NewQueryPlanner(cfg config.ScoringConfig, log *logger.Logger) *QueryPlanner {
	return &QueryPlanner{
		weights: cfg.Weights,
		logger:  log.WithComponent("query-planner"),
	}
}

// Plan classifies every entity of the extraction. If no identifier was found,
// the secondary criterion with the longest normalized value is promoted.
func (p *QueryPlanner) Plan(extraction *models.ExtractionResult) *models.SearchPlan {
	plan := &models.SearchPlan{Criteria: []models.Criterion{}}

	for _, e := range extraction.Entities {
		category := models.CategoryOf(e.Type)
		role := models.RoleSecondary
		if category.IsIdentifier() {
			role = models.RolePrimary
		}
		plan.Criteria = append(plan.Criteria, models.Criterion{
			ID:              fmt.Sprintf("c%d", len(plan.Criteria)+1),
			Role:            role,
			Category:        category,
			EntityType:      e.Type,
			Value:           e.Value,
			NormalizedValue: e.Normalized,
			Confidence:      e.Confidence,
			Weight:          p.weight(category),
		})
	}

	if len(plan.Primary()) == 0 && len(plan.Criteria) > 0 {
		best := 0
		for i, c := range plan.Criteria {
			if utf8.RuneCountInString(c.NormalizedValue) > utf8.RuneCountInString(plan.Criteria[best].NormalizedValue) {
				best = i
			}
		}
		plan.Criteria[best].Role = models.RolePrimary
		plan.Criteria[best].Promoted = true
		p.logger.Debug().
			Str("criterion", plan.Criteria[best].ID).
			Str("category", string(plan.Criteria[best].Category)).
			Msg("no identifiers in query, promoted secondary criterion")
	}

	plan.Strategy = models.StrategyUnion
	if len(plan.Criteria) >= 2 {
		plan.Strategy = models.StrategyIntersection
	}
	plan.Intent = detectIntent(plan.Criteria)

	return plan
}

func (p *QueryPlanner) weight(c models.Category) float64 {
	if w, ok := p.weights[string(c)]; ok {
		return w
	}
	return 1
}

// detectIntent produces a display label. Nothing downstream branches on it.
func detectIntent(criteria []models.Criterion) string {
	if len(criteria) == 0 {
		return "empty query"
	}
	has := make(map[models.Category]bool)
	for _, c := range criteria {
		has[c.Category] = true
	}

	switch {
	case has[models.CategoryAccount] || (has[models.CategoryKeyword] && has[models.CategoryID]):
		return "financial trace"
	case has[models.CategoryName] && (has[models.CategoryPhone] || has[models.CategoryEmail]):
		return "person lookup"
	case has[models.CategoryPhone]:
		return "phone lookup"
	case has[models.CategoryEmail]:
		return "email lookup"
	case has[models.CategoryID]:
		return "identity document lookup"
	case has[models.CategoryCompany]:
		return "organisation lookup"
	case has[models.CategoryName]:
		return "name search"
	case has[models.CategoryLocation]:
		return "location search"
	default:
		var parts []string
		for _, c := range criteria {
			parts = append(parts, string(c.Category))
		}
		return "search by " + strings.Join(parts, ", ")
	}
}
