package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

func newTestPlanner() *QueryPlanner {
	return NewQueryPlanner(config.Default().Scoring, logger.NewNop())
}

func TestPlan_InvestigatorQuery(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	plan := newTestPlanner().Plan(ee.Extract("rahul sharma from delhi with phone 9876543210"))

	require.Len(t, plan.Criteria, 3)
	primary := plan.Primary()
	require.Len(t, primary, 1)
	assert.Equal(t, models.CategoryPhone, primary[0].Category)
	assert.Equal(t, "9876543210", primary[0].NormalizedValue)

	secondary := plan.Secondary()
	require.Len(t, secondary, 2)
	assert.Equal(t, models.CategoryName, secondary[0].Category)
	assert.Equal(t, "Rahul Sharma", secondary[0].NormalizedValue)
	assert.Equal(t, models.CategoryLocation, secondary[1].Category)
	assert.Equal(t, "Delhi", secondary[1].NormalizedValue)

	assert.Equal(t, models.StrategyIntersection, plan.Strategy)
	assert.Equal(t, "person lookup", plan.Intent)

	ids := map[string]bool{}
	for _, c := range plan.Criteria {
		assert.False(t, ids[c.ID], "criterion ids must be unique")
		ids[c.ID] = true
	}
}

func TestPlan_PromotesLongestSecondary(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	plan := newTestPlanner().Plan(ee.Extract("priya agarwal in pune"))

	primary := plan.Primary()
	require.Len(t, primary, 1)
	assert.Equal(t, "Priya Agarwal", primary[0].NormalizedValue)
	assert.True(t, primary[0].Promoted)
	assert.Len(t, plan.Secondary(), 1)
}

func TestPlan_SingleCriterionIsUnion(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	plan := newTestPlanner().Plan(ee.Extract("9876543210"))
	require.Len(t, plan.Criteria, 1)
	assert.Equal(t, models.StrategyUnion, plan.Strategy)
	assert.Equal(t, 10.0, plan.Criteria[0].Weight)
}

func TestPlan_Empty(t *testing.T) {
	plan := newTestPlanner().Plan(&models.ExtractionResult{})
	assert.Empty(t, plan.Criteria)
	assert.Equal(t, models.StrategyUnion, plan.Strategy)
}
