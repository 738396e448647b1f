package services

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

func newTestEngine() *CorrelationEngine {
	return NewCorrelationEngine(config.Default().Correlation, logger.NewNop())
}

type graphFixture struct {
	t *testing.T
	g *Graph
}

func newFixture(t *testing.T) *graphFixture {
	return &graphFixture{t: t, g: NewGraph(config.Default().Graph)}
}

func (f *graphFixture) node(typ models.EntityType, value string) string {
	f.g.AddNode(typ, value, nil, "t", graphClock)
	return NodeID(typ, value)
}

func (f *graphFixture) link(a, b string, rel models.RelationType, times int, at time.Time) {
	for i := 0; i < times; i++ {
		_, err := f.g.AddEdge(a, b, rel, 0.5, "", at)
		require.NoError(f.t, err)
	}
}

func patternsOfType(res *models.CorrelationResult, t models.PatternType) []models.DetectedPattern {
	var out []models.DetectedPattern
	for _, p := range res.Patterns {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func anomaliesOfType(res *models.CorrelationResult, t models.AnomalyType) []models.Anomaly {
	var out []models.Anomaly
	for _, a := range res.Anomalies {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

func TestAnalyze_EmptyGraph(t *testing.T) {
	e := newTestEngine()
	for _, kg := range []*models.KnowledgeGraph{nil, NewGraph(config.Default().Graph).Snapshot()} {
		res := e.Analyze(kg)
		require.NotNil(t, res)
		assert.Empty(t, res.Patterns)
		assert.Empty(t, res.Anomalies)
		assert.Empty(t, res.RiskIndicators)
		assert.Empty(t, res.Insights)
		assert.Empty(t, res.Timeline)
	}
	assert.Equal(t, int64(2), e.GetStats().Runs)
}

func TestCircular_ThreeHopOutranksTwoHop(t *testing.T) {
	f := newFixture(t)
	a := f.node(models.EntityAccount, "111111111")
	b := f.node(models.EntityAccount, "222222222")
	c := f.node(models.EntityAccount, "333333333")
	f.link(a, b, models.RelationFinancial, 1, graphClock)
	f.link(b, a, models.RelationFinancial, 1, graphClock)
	f.link(b, c, models.RelationFinancial, 1, graphClock)
	f.link(c, a, models.RelationFinancial, 1, graphClock)

	res := newTestEngine().Analyze(f.g.Snapshot())
	cycles := patternsOfType(res, models.PatternCircular)
	require.Len(t, cycles, 2)

	var two, three models.DetectedPattern
	for _, p := range cycles {
		switch len(p.NodeIDs) {
		case 2:
			two = p
		case 3:
			three = p
		}
	}
	require.NotEmpty(t, two.ID)
	require.NotEmpty(t, three.ID)
	assert.GreaterOrEqual(t, three.Significance, two.Significance)
	assert.Equal(t, []string{a, b, c}, three.NodeIDs)
	assert.Len(t, three.EdgeIDs, 3)
}

func TestPatternThresholds_PerDetector(t *testing.T) {
	f := newFixture(t)
	a := f.node(models.EntityAccount, "111111111")
	b := f.node(models.EntityAccount, "222222222")
	c := f.node(models.EntityAccount, "333333333")
	f.link(a, b, models.RelationFinancial, 1, graphClock)
	f.link(b, a, models.RelationFinancial, 1, graphClock)
	f.link(b, c, models.RelationFinancial, 1, graphClock)
	f.link(c, a, models.RelationFinancial, 1, graphClock)
	loc := f.node(models.EntityLocation, "Delhi")
	for _, n := range []string{"Rahul Sharma", "Amit Verma", "Priya Agarwal"} {
		f.link(f.node(models.EntityName, n), loc, models.RelationLocation, 1, graphClock)
	}
	kg := f.g.Snapshot()

	tests := []struct {
		name     string
		tweak    func(*config.CorrelationConfig)
		circular int
		spatial  int
	}{
		{"defaults keep both cycles", func(*config.CorrelationConfig) {}, 2, 1},
		{"circular significance drops the round trip", func(c *config.CorrelationConfig) {
			c.Thresholds.Circular.MinSignificance = 0.7
		}, 1, 1},
		{"spatial occurrences drop the shared address", func(c *config.CorrelationConfig) {
			c.Thresholds.Spatial.MinOccurrences = 4
		}, 2, 0},
		{"zero significance falls back to the global value", func(c *config.CorrelationConfig) {
			c.Thresholds.Circular.MinSignificance = 0
			c.MinSignificance = 0.9
		}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Correlation
			tt.tweak(&cfg)

			res := NewCorrelationEngine(cfg, logger.NewNop()).Analyze(kg)
			assert.Len(t, patternsOfType(res, models.PatternCircular), tt.circular)
			assert.Len(t, patternsOfType(res, models.PatternSpatial), tt.spatial)
		})
	}
}

func TestCircular_IgnoresNonFinancialAndOpenChains(t *testing.T) {
	f := newFixture(t)
	a := f.node(models.EntityAccount, "111111111")
	b := f.node(models.EntityAccount, "222222222")
	c := f.node(models.EntityAccount, "333333333")
	f.link(a, b, models.RelationFinancial, 1, graphClock)
	f.link(b, c, models.RelationFinancial, 1, graphClock)
	f.link(c, a, models.RelationCoOccurrence, 1, graphClock)

	res := newTestEngine().Analyze(f.g.Snapshot())
	assert.Empty(t, patternsOfType(res, models.PatternCircular))
}

func TestCircular_FourHopLoopIsBeyondBound(t *testing.T) {
	f := newFixture(t)
	ids := []string{
		f.node(models.EntityAccount, "111111111"),
		f.node(models.EntityAccount, "222222222"),
		f.node(models.EntityAccount, "333333333"),
		f.node(models.EntityAccount, "444444444"),
	}
	for i := range ids {
		f.link(ids[i], ids[(i+1)%len(ids)], models.RelationFinancial, 1, graphClock)
	}
	res := newTestEngine().Analyze(f.g.Snapshot())
	assert.Empty(t, patternsOfType(res, models.PatternCircular))
}

func TestFrequencyAndHub(t *testing.T) {
	f := newFixture(t)
	hub := f.node(models.EntityName, "Rahul Sharma")
	for i := 0; i < 9; i++ {
		f.link(hub, f.node(models.EntityPhone, fmt.Sprintf("98765432%02d", i)), models.RelationCoOccurrence, 1, graphClock)
	}
	f.link(hub, f.node(models.EntityEmail, "rahul@example.com"), models.RelationCoOccurrence, 1, graphClock)
	f.link(hub, f.node(models.EntityLocation, "Delhi"), models.RelationCoOccurrence, 1, graphClock)

	res := newTestEngine().Analyze(f.g.Snapshot())

	freq := patternsOfType(res, models.PatternFrequency)
	require.Len(t, freq, 1)
	assert.Equal(t, []string{hub}, freq[0].NodeIDs)
	assert.Equal(t, 11, freq[0].Occurrences)

	hubs := anomaliesOfType(res, models.AnomalyRelational)
	require.Len(t, hubs, 1)
	assert.Equal(t, hub, hubs[0].NodeIDs[0])

	outliers := anomaliesOfType(res, models.AnomalyStatistical)
	require.Len(t, outliers, 1)
	assert.Equal(t, []string{hub}, outliers[0].NodeIDs)
}

func TestDegreeOutlier_UniformGraphHasNone(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, f.node(models.EntityPhone, fmt.Sprintf("98765432%02d", i)))
	}
	for i := range ids {
		f.link(ids[i], ids[(i+1)%len(ids)], models.RelationCommunication, 1, graphClock)
	}
	res := newTestEngine().Analyze(f.g.Snapshot())
	assert.Empty(t, anomaliesOfType(res, models.AnomalyStatistical))
}

func TestSpatialPattern(t *testing.T) {
	f := newFixture(t)
	loc := f.node(models.EntityLocation, "Delhi")
	for _, n := range []string{"Rahul Sharma", "Amit Verma", "Priya Agarwal"} {
		f.link(f.node(models.EntityName, n), loc, models.RelationLocation, 1, graphClock)
	}
	f.link(loc, f.node(models.EntityLocation, "Noida"), models.RelationLocation, 1, graphClock)

	res := newTestEngine().Analyze(f.g.Snapshot())
	spatial := patternsOfType(res, models.PatternSpatial)
	require.Len(t, spatial, 1)
	assert.Equal(t, 3, spatial[0].Occurrences)
	assert.Equal(t, loc, spatial[0].NodeIDs[0])
}

func TestTemporalBurst(t *testing.T) {
	f := newFixture(t)
	hub := f.node(models.EntityName, "Rahul Sharma")
	day := func(d int) time.Time { return time.Date(2024, 3, d, 10, 0, 0, 0, time.UTC) }
	for i, d := range []int{1, 2, 3} {
		f.link(hub, f.node(models.EntityPhone, fmt.Sprintf("900000000%d", i)), models.RelationCoOccurrence, 1, day(d))
	}
	for i := 0; i < 7; i++ {
		f.link(hub, f.node(models.EntityEmail, fmt.Sprintf("u%d@example.com", i)), models.RelationCoOccurrence, 1, day(4))
	}

	res := newTestEngine().Analyze(f.g.Snapshot())
	bursts := patternsOfType(res, models.PatternTemporal)
	require.Len(t, bursts, 1)
	assert.Equal(t, 7, bursts[0].Occurrences)
	assert.InDelta(t, 0.7, bursts[0].Significance, 1e-9)
	assert.Contains(t, bursts[0].Description, "2024-03-04")
}

func TestTypeMismatch(t *testing.T) {
	f := newFixture(t)
	vehicle := f.node(models.EntityVehicle, "DL3CAB1234")
	account := f.node(models.EntityAccount, "123456789012")
	name := f.node(models.EntityName, "Rahul Sharma")
	f.link(vehicle, account, models.RelationCoOccurrence, 1, graphClock)
	f.link(name, account, models.RelationCoOccurrence, 1, graphClock)

	res := newTestEngine().Analyze(f.g.Snapshot())
	mismatches := anomaliesOfType(res, models.AnomalyBehavioral)
	require.Len(t, mismatches, 1)
	assert.ElementsMatch(t, []string{vehicle, account}, mismatches[0].NodeIDs)
	assert.Equal(t, models.SeverityMedium, mismatches[0].Severity)
}

func TestRiskIndicators(t *testing.T) {
	f := newFixture(t)
	src := f.node(models.EntityAccount, "111111111")
	for _, v := range []string{"222222222", "333333333", "444444444"} {
		f.link(src, f.node(models.EntityAccount, v), models.RelationFinancial, 3, graphClock)
	}
	kg := f.g.Snapshot()

	res := newTestEngine().Analyze(kg)
	var top models.RiskIndicator
	for _, r := range res.RiskIndicators {
		if r.NodeID == src {
			top = r
		}
	}
	require.Equal(t, src, top.NodeID)
	assert.Equal(t, models.SeverityCritical, top.Severity)
	assert.InDelta(t, (0.9*0.25+1*0.2+1*0.1)/0.55, top.Score, 1e-9)

	names := make([]string, 0, len(top.Factors))
	for _, fct := range top.Factors {
		assert.Greater(t, fct.Score, 0.5)
		names = append(names, fct.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"account_linkage", "degree_imbalance", "transfer_frequency"}, names)

	// receiving accounts carry only the one-sided flow
	for _, r := range res.RiskIndicators {
		if r.NodeID != src {
			require.Len(t, r.Factors, 1)
			assert.Equal(t, "degree_imbalance", r.Factors[0].Name)
		}
	}

	ApplyRiskScores(kg, res)
	for _, n := range kg.Nodes {
		if n.ID == src {
			assert.Equal(t, top.Score, n.RiskScore)
		}
	}
}

func TestRiskFactors(t *testing.T) {
	f := newFixture(t)
	acct := f.node(models.EntityAccount, "111111111")
	f.link(acct, f.node(models.EntityAmount, "10000000"), models.RelationCoOccurrence, 1, graphClock)
	f.link(acct, f.node(models.EntityAmount, "abc"), models.RelationCoOccurrence, 1, graphClock)
	v := NewGraphView(f.g.Snapshot())

	assert.InDelta(t, 1.0, transactionVolume(v, acct), 1e-6)
	assert.Equal(t, 0.0, transferFrequency(v, acct))
	assert.Equal(t, 0.0, degreeImbalance(v, acct))
}

func TestInsightsAndTimeline(t *testing.T) {
	f := newFixture(t)
	hub := f.node(models.EntityName, "Rahul Sharma")
	for i := 0; i < 12; i++ {
		f.link(hub, f.node(models.EntityPhone, fmt.Sprintf("98765432%02d", i)), models.RelationCoOccurrence, 1,
			time.Date(2024, 3, 1+i%3, 0, 0, 0, 0, time.UTC))
	}
	f.link(f.node(models.EntityVehicle, "DL3CAB1234"), f.node(models.EntityIP, "10.0.0.1"), models.RelationCoOccurrence, 1, graphClock)

	cfg := config.Default().Correlation
	cfg.TopInsights = 2
	e := NewCorrelationEngine(cfg, logger.NewNop())
	kg := f.g.Snapshot()
	res := e.Analyze(kg)

	require.Len(t, res.Insights, 2)
	assert.GreaterOrEqual(t, res.Insights[0].Confidence, res.Insights[1].Confidence)
	for _, in := range res.Insights {
		assert.NotEmpty(t, in.ID)
		assert.NotEmpty(t, in.SuggestedActions)
		assert.NotEmpty(t, in.Title)
	}

	require.Len(t, res.Timeline, len(kg.Nodes)+len(kg.Edges))
	for i := 1; i < len(res.Timeline); i++ {
		assert.False(t, res.Timeline[i].Timestamp.Before(res.Timeline[i-1].Timestamp))
	}

	again := e.Analyze(kg)
	assert.Equal(t, res, again)
	assert.Equal(t, int64(2), e.GetStats().Runs)
}
