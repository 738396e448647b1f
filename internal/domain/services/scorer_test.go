package services

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

func rahulPlan() *models.SearchPlan {
	return &models.SearchPlan{
		Strategy: models.StrategyIntersection,
		Criteria: []models.Criterion{
			{ID: "c1", Role: models.RolePrimary, Category: models.CategoryPhone, EntityType: models.EntityPhone, NormalizedValue: "9876543210"},
			{ID: "c2", Role: models.RoleSecondary, Category: models.CategoryName, EntityType: models.EntityName, NormalizedValue: "Rahul Sharma"},
			{ID: "c3", Role: models.RoleSecondary, Category: models.CategoryLocation, EntityType: models.EntityLocation, NormalizedValue: "Delhi"},
		},
	}
}

func TestScorer_ExactMatchesRankFirst(t *testing.T) {
	store := NewCrossReferenceStore()
	rows := []map[string]any{
		{"name": "Rahul Sharma", "city": "New Delhi", "mobile": "9876543210"},
		{"name": "RAHUL SHARMAA", "city": "Delhi", "mobile": "9876543210"},
		{"name": "Amit Verma", "city": "Mumbai", "mobile": "9876543210"},
		{"name": "Rahul Sharma", "city": "Pune", "mobile": "9876543210"},
	}
	for _, r := range rows {
		_, _, err := store.Upsert("customers", r, "c1")
		require.NoError(t, err)
	}

	scorer := NewScorer(config.Default().Scoring, logger.NewNop())
	results := scorer.Rank(rahulPlan(), store)
	require.Len(t, results, 4)
	assert.True(t, store.Frozen())

	assert.Equal(t, models.MatchExact, results[0].MatchType)
	assert.Equal(t, models.MatchExact, results[1].MatchType)
	assert.Equal(t, models.MatchPartial, results[2].MatchType)
	assert.Equal(t, models.MatchPartial, results[3].MatchType)

	last := results[3]
	assert.Equal(t, "Amit Verma", last.Record.Fields["name"])
	assert.Equal(t, 1, last.Record.MatchCount)

	top := results[0]
	assert.Equal(t, 3, top.Record.MatchCount)
	assert.Greater(t, top.Score, results[2].Score)
	assert.Contains(t, top.Breakdown, models.CategoryName)
	assert.Len(t, top.Explanations, 3)
}

func TestScorer_NoSecondaryKeepsAllRecords(t *testing.T) {
	store := NewCrossReferenceStore()
	_, _, _ = store.Upsert("t", map[string]any{"email": "a@b.com"}, "c1")
	_, _, _ = store.Upsert("t", map[string]any{"email": "a@b.com", "x": 1.0}, "c1")

	plan := &models.SearchPlan{
		Strategy: models.StrategyUnion,
		Criteria: []models.Criterion{{ID: "c1", Role: models.RolePrimary, Category: models.CategoryEmail, NormalizedValue: "a@b.com"}},
	}
	results := NewScorer(config.Default().Scoring, logger.NewNop()).Rank(plan, store)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, models.MatchExact, r.MatchType)
		assert.Equal(t, 10.0, r.Score)
	}
	assert.Less(t, results[0].Record.Key, results[1].Record.Key, "ties are ordered by key")
}

func TestRelevanceScore(t *testing.T) {
	assert.Equal(t, 0.0, RelevanceScore(nil, 0.5))
	assert.Equal(t, 10.0, RelevanceScore([]float64{10}, 0.5))
	assert.InDelta(t, 22.5, RelevanceScore([]float64{10, 5}, 0.5), 1e-9)
	assert.InDelta(t, 36.0, RelevanceScore([]float64{10, 5, 3}, 0.5), 1e-9)
}

func TestRelevanceScore_Monotonic(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("adding a matched criterion never lowers the score", prop.ForAll(
		func(weights []float64, extra float64, bonus float64) bool {
			return RelevanceScore(append(append([]float64{}, weights...), extra), bonus) >= RelevanceScore(weights, bonus)
		},
		gen.SliceOf(gen.Float64Range(0, 20)),
		gen.Float64Range(0, 20),
		gen.Float64Range(0, 2),
	))

	properties.TestingRun(t)
}

func TestFieldString(t *testing.T) {
	assert.Equal(t, "9876543210", fieldString(9876543210.0))
	assert.Equal(t, "1.5", fieldString(1.5))
	assert.Equal(t, "x", fieldString(" x "))
	assert.Equal(t, "", fieldString(map[string]any{"a": 1}))
	assert.Equal(t, "", fieldString(nil))
}
