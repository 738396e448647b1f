package services

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

var graphClock = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestBuilder() *KnowledgeGraphBuilder {
	cfg := config.Default()
	extractor := NewEntityExtractor(cfg.Extraction, logger.NewNop())
	mapper := NewMentionMapper(extractor, func() time.Time { return graphClock })
	resolver := NewEntityResolver(cfg.Resolution, logger.NewNop())
	return NewKnowledgeGraphBuilder(cfg.Graph, mapper, resolver, logger.NewNop())
}

func record(table string, fields map[string]any) models.StoredRecord {
	return models.StoredRecord{Key: RecordKey(table, fields), Table: table, Fields: fields}
}

func edgesBetween(kg *models.KnowledgeGraph, a, b string) []models.GraphEdge {
	var out []models.GraphEdge
	for _, e := range kg.Edges {
		if (e.Source == a && e.Target == b) || (e.Source == b && e.Target == a) {
			out = append(out, e)
		}
	}
	return out
}

func TestBuild_SharedEmailEdgeAccumulates(t *testing.T) {
	b := newTestBuilder()
	records := []models.StoredRecord{
		record("users", map[string]any{"name": "Rahul Sharma", "email": "shared@example.com"}),
		record("users", map[string]any{"name": "Amit Verma", "email": "shared@example.com"}),
	}

	rahul := NodeID(models.EntityName, "Rahul Sharma")
	amit := NodeID(models.EntityName, "Amit Verma")

	kg := b.Build(records).Snapshot()
	between := edgesBetween(kg, rahul, amit)
	require.Len(t, between, 1)
	assert.Equal(t, models.RelationSharedIdentifier, between[0].Relationship)
	assert.Equal(t, 1, between[0].Weight)

	records = append(records, record("orders", map[string]any{"customer_name": "Amit Verma", "email": "shared@example.com", "city": "Pune"}))
	kg = b.Build(records).Snapshot()
	between = edgesBetween(kg, rahul, amit)
	require.Len(t, between, 1)
	assert.Equal(t, 2, between[0].Weight)
}

func TestBuild_DeterministicAcrossOrder(t *testing.T) {
	records := []models.StoredRecord{
		record("customers", map[string]any{"name": "Rahul Sharma", "mobile": "9876543210", "city": "Delhi"}),
		record("customers", map[string]any{"name": "RAHUL SHARMA", "mobile": "9876543210", "email": "rahul@example.com"}),
		record("txns", map[string]any{"account_number": "123456789012", "amount": "50000", "txn_date": "2024-03-05"}),
		record("txns", map[string]any{"account_number": "123456789012", "holder": "R. Sharma", "notes": "rahul sharma from delhi"}),
		record("kyc", map[string]any{"pan": "ABCDE1234F", "name": "Priya Agarwal", "email": "rahul@example.com"}),
	}

	first := newTestBuilder().Build(records).Snapshot()

	shuffled := append([]models.StoredRecord(nil), records...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	second := newTestBuilder().Build(shuffled).Snapshot()

	assert.Equal(t, first, second)
	seen := map[string]bool{}
	for _, n := range first.Nodes {
		assert.False(t, seen[n.ID], "duplicate node %s", n.ID)
		seen[n.ID] = true
	}
}

func TestBuild_MergesVariantsIntoOneNode(t *testing.T) {
	records := []models.StoredRecord{
		record("a", map[string]any{"name": "Rahul Sharma", "mobile": "9876543210"}),
		record("b", map[string]any{"name": "RAHUL SHARMA", "mobile": "+91 98765 43210"}),
		record("c", map[string]any{"holder": "R. Sharma", "mobile": "9876543210"}),
	}
	kg := newTestBuilder().Build(records).Snapshot()

	assert.Equal(t, 1, kg.Stats.NodesByType[models.EntityName])
	assert.Equal(t, 1, kg.Stats.NodesByType[models.EntityPhone])
	assert.Equal(t, 1, kg.Stats.MergedAway)

	var rahul models.GraphNode
	for _, n := range kg.Nodes {
		if n.Type == models.EntityName {
			rahul = n
		}
	}
	assert.Equal(t, "name:rahul sharma", rahul.ID)
	assert.Equal(t, 3, rahul.OccurrenceCount)
	assert.Contains(t, rahul.Aliases, "RAHUL SHARMA")
	assert.Contains(t, rahul.Aliases, "R. Sharma")
	assert.Equal(t, []string{"a", "b", "c"}, rahul.SourceTables)

	phone := NodeID(models.EntityPhone, "9876543210")
	edge := edgesBetween(kg, rahul.ID, phone)
	require.Len(t, edge, 1)
	assert.Equal(t, 3, edge[0].Weight)
	assert.Len(t, edge[0].Evidence, 3)
}

func TestBuild_ExplicitRelationFromFreeText(t *testing.T) {
	kg := newTestBuilder().Build([]models.StoredRecord{
		record("notes", map[string]any{"remarks": "rahul sharma from delhi"}),
	}).Snapshot()

	var found bool
	for _, e := range kg.Edges {
		if e.Relationship == models.RelationLocation {
			found = true
			assert.ElementsMatch(t, []string{"name:rahul sharma", "location:delhi"}, []string{e.Source, e.Target})
		}
	}
	assert.True(t, found)
}

func TestBuild_TimestampsFromRecords(t *testing.T) {
	kg := newTestBuilder().Build([]models.StoredRecord{
		record("t", map[string]any{"name": "Rahul Sharma", "created_at": "2024-03-05"}),
		record("t", map[string]any{"name": "Rahul Sharma", "created_at": "2024-04-10", "mobile": "9876543210"}),
	}).Snapshot()

	for _, n := range kg.Nodes {
		if n.ID == "name:rahul sharma" {
			assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), n.FirstSeen)
			assert.Equal(t, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), n.LastSeen)
		}
	}
}

func TestGraph_EdgeStrengthAndConfidence(t *testing.T) {
	g := NewGraph(config.Default().Graph)
	g.AddNode(models.EntityName, "Rahul Sharma", nil, "t", graphClock)
	g.AddNode(models.EntityPhone, "9876543210", nil, "t", graphClock)
	a, b := NodeID(models.EntityName, "Rahul Sharma"), NodeID(models.EntityPhone, "9876543210")

	var edge *models.GraphEdge
	var err error
	prev := 0
	for i := 1; i <= 12; i++ {
		edge, err = g.AddEdge(a, b, models.RelationCoOccurrence, 0.3, "r", graphClock)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, edge.Weight, prev)
		prev = edge.Weight
		switch i {
		case 4:
			assert.Equal(t, models.StrengthWeak, edge.Strength)
		case 5:
			assert.Equal(t, models.StrengthModerate, edge.Strength)
		case 10:
			assert.Equal(t, models.StrengthStrong, edge.Strength)
		}
	}
	assert.Equal(t, 12, edge.Weight)
	assert.Equal(t, 1.0, edge.Confidence)
	assert.Equal(t, []string{"r"}, edge.Evidence)
	assert.Equal(t, 1, g.EdgeCount())

	// reverse direction of a symmetric relation is the same edge
	_, err = g.AddEdge(b, a, models.RelationCoOccurrence, 0.3, "r2", graphClock)
	require.NoError(t, err)
	assert.Equal(t, 1, g.EdgeCount())

	_, err = g.AddEdge(a, a, models.RelationContact, 0.5, "", graphClock)
	assert.Error(t, err)
	_, err = g.AddEdge(a, "phone:missing", models.RelationContact, 0.5, "", graphClock)
	assert.Error(t, err)
}

func TestEdgeID(t *testing.T) {
	id1, _, _ := EdgeID("b", "a", models.RelationCoOccurrence)
	id2, _, _ := EdgeID("a", "b", models.RelationCoOccurrence)
	assert.Equal(t, id1, id2)
	assert.Equal(t, "a|co_occurrence|b", id1)

	f1, src, tgt := EdgeID("b", "a", models.RelationFinancial)
	f2, _, _ := EdgeID("a", "b", models.RelationFinancial)
	assert.NotEqual(t, f1, f2)
	assert.Equal(t, "b", src)
	assert.Equal(t, "a", tgt)
}

func chainGraph(t *testing.T) *Graph {
	g := NewGraph(config.Default().Graph)
	for _, v := range []string{"111111111", "222222222", "333333333", "444444444"} {
		g.AddNode(models.EntityAccount, v, nil, "t", graphClock)
	}
	g.AddNode(models.EntityName, "Lonely Person", nil, "t", graphClock)
	g.AddNode(models.EntityEmail, "a@b.com", nil, "t", graphClock)

	link := func(a, b string) {
		_, err := g.AddEdge(NodeID(models.EntityAccount, a), NodeID(models.EntityAccount, b), models.RelationFinancial, 0.7, "", graphClock)
		require.NoError(t, err)
	}
	link("111111111", "222222222")
	link("222222222", "333333333")
	link("333333333", "444444444")
	_, err := g.AddEdge(NodeID(models.EntityName, "Lonely Person"), NodeID(models.EntityEmail, "a@b.com"), models.RelationContact, 0.6, "", graphClock)
	require.NoError(t, err)
	return g
}

func TestGraph_Clusters(t *testing.T) {
	kg := chainGraph(t).Snapshot()
	require.Len(t, kg.Clusters, 1)
	c := kg.Clusters[0]
	assert.Equal(t, "cluster-1", c.ID)
	assert.Equal(t, 4, c.Size)
	assert.Equal(t, models.EntityAccount, c.Dominant)
	assert.InDelta(t, 1.0, c.RiskScore, 1e-9)
	assert.Equal(t, 1, kg.Stats.ClusterCount)
}

func TestGraph_ShortestPathAndNeighbors(t *testing.T) {
	g := chainGraph(t)
	a := NodeID(models.EntityAccount, "111111111")
	d := NodeID(models.EntityAccount, "444444444")

	path, ok := g.ShortestPath(a, d)
	require.True(t, ok)
	assert.Equal(t, 3, path.Length)
	assert.Equal(t, a, path.NodeIDs[0])
	assert.Equal(t, d, path.NodeIDs[3])
	assert.Len(t, path.EdgeIDs, 3)

	_, ok = g.ShortestPath(a, NodeID(models.EntityEmail, "a@b.com"))
	assert.False(t, ok)

	assert.Len(t, g.Neighbors(a, 1), 1)
	assert.Len(t, g.Neighbors(a, 2), 2)
	assert.Len(t, g.Neighbors(a, 10), 3)
	assert.Empty(t, g.Neighbors("missing", 2))
}
