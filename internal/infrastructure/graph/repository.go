package graph

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

// exportBatchSize bounds the rows sent in one UNWIND
const exportBatchSize = 500

var relLabelPattern = regexp.MustCompile(`^[A-Z][A-Z_]*$`)

// GraphRepository persists session knowledge graphs to Neo4j
type GraphRepository struct {
	client *Neo4jClient
	logger *logger.Logger
}

// NewGraphRepository creates a new graph repository
func NewGraphRepository(client *Neo4jClient, log *logger.Logger) *GraphRepository {
	return &GraphRepository{
		client: client,
		logger: log.WithComponent("graph-repo"),
	}
}

const cypherMergeEntities = `
	UNWIND $batch AS n
	MERGE (e:Entity {id: n.id})
	SET e.type = n.type,
		e.label = n.label,
		e.value = n.value,
		e.aliases = n.aliases,
		e.source_tables = n.source_tables,
		e.risk_score = CASE WHEN e.risk_score IS NULL OR n.risk_score > e.risk_score THEN n.risk_score ELSE e.risk_score END,
		e.first_seen = CASE WHEN e.first_seen IS NULL OR n.first_seen < e.first_seen THEN n.first_seen ELSE e.first_seen END,
		e.last_seen = CASE WHEN e.last_seen IS NULL OR n.last_seen > e.last_seen THEN n.last_seen ELSE e.last_seen END,
		e.sessions = CASE WHEN n.session IN coalesce(e.sessions, []) THEN e.sessions ELSE coalesce(e.sessions, []) + n.session END,
		e.updated_at = timestamp()
	RETURN count(e) AS merged`

// cypherMergeEdges is formatted with a relationship label from relLabel only
const cypherMergeEdges = `
	UNWIND $batch AS r
	MATCH (s:Entity {id: r.source})
	MATCH (t:Entity {id: r.target})
	MERGE (s)-[rel:%s {session: r.session}]->(t)
	SET rel.id = r.id,
		rel.weight = r.weight,
		rel.confidence = r.confidence,
		rel.strength = r.strength,
		rel.evidence = r.evidence,
		rel.first_seen = r.first_seen,
		rel.last_seen = r.last_seen
	RETURN count(rel) AS merged`

// ExportGraph merges every node and edge of kg, tagged with the session id.
// Re-exporting the same session overwrites its edges rather than duplicating them.
func (r *GraphRepository) ExportGraph(ctx context.Context, sessionID string, kg *models.KnowledgeGraph) error {
	if kg == nil || len(kg.Nodes) == 0 {
		return nil
	}

	nodes := nodeParams(sessionID, kg.Nodes)
	edges := edgeParams(sessionID, kg.Edges)

	_, err := r.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, batch := range chunk(nodes, exportBatchSize) {
			if _, err := tx.Run(ctx, cypherMergeEntities, map[string]any{"batch": batch}); err != nil {
				return nil, fmt.Errorf("merge entities: %w", err)
			}
		}
		for _, label := range sortedLabels(edges) {
			cypher := fmt.Sprintf(cypherMergeEdges, label)
			for _, batch := range chunk(edges[label], exportBatchSize) {
				if _, err := tx.Run(ctx, cypher, map[string]any{"batch": batch}); err != nil {
					return nil, fmt.Errorf("merge %s edges: %w", label, err)
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	r.logger.Debug().
		Str("session_id", sessionID).
		Int("nodes", len(kg.Nodes)).
		Int("edges", len(kg.Edges)).
		Msg("graph exported")
	return nil
}

// SessionsForEntity lists the sessions an entity was exported from
func (r *GraphRepository) SessionsForEntity(ctx context.Context, nodeID string) ([]string, error) {
	result, err := r.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (e:Entity {id: $id}) RETURN coalesce(e.sessions, []) AS sessions`, map[string]any{"id": nodeID})
		if err != nil {
			return nil, err
		}
		sessions := []string{}
		if res.Next(ctx) {
			raw, _ := res.Record().Get("sessions")
			if list, ok := raw.([]any); ok {
				for _, v := range list {
					if s, ok := v.(string); ok {
						sessions = append(sessions, s)
					}
				}
			}
		}
		return sessions, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load entity sessions: %w", err)
	}
	return result.([]string), nil
}

// Neighborhood returns the entities within depth hops of nodeID across all sessions
func (r *GraphRepository) Neighborhood(ctx context.Context, nodeID string, depth, limit int) ([]models.GraphNode, error) {
	if depth <= 0 || depth > 4 {
		depth = 2
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	cypher := fmt.Sprintf(`
		MATCH (start:Entity {id: $id})-[*1..%d]-(n:Entity)
		WHERE n.id <> $id
		RETURN DISTINCT n
		LIMIT $limit`, depth)

	result, err := r.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{"id": nodeID, "limit": limit})
		if err != nil {
			return nil, err
		}
		nodes := []models.GraphNode{}
		for res.Next(ctx) {
			raw, _ := res.Record().Get("n")
			if node, ok := raw.(neo4j.Node); ok {
				nodes = append(nodes, entityFromProps(node.Props))
			}
		}
		return nodes, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load neighborhood: %w", err)
	}
	return result.([]models.GraphNode), nil
}

func nodeParams(sessionID string, nodes []models.GraphNode) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, map[string]any{
			"id":            n.ID,
			"type":          string(n.Type),
			"label":         n.Label,
			"value":         n.Value,
			"aliases":       nonNil(n.Aliases),
			"source_tables": nonNil(n.SourceTables),
			"risk_score":    n.RiskScore,
			"first_seen":    n.FirstSeen.Unix(),
			"last_seen":     n.LastSeen.Unix(),
			"session":       sessionID,
		})
	}
	return out
}

// edgeParams groups edges by relationship label
func edgeParams(sessionID string, edges []models.GraphEdge) map[string][]map[string]any {
	out := make(map[string][]map[string]any)
	for _, e := range edges {
		label, ok := relLabel(e.Relationship)
		if !ok {
			continue
		}
		out[label] = append(out[label], map[string]any{
			"id":         e.ID,
			"source":     e.Source,
			"target":     e.Target,
			"weight":     e.Weight,
			"confidence": e.Confidence,
			"strength":   string(e.Strength),
			"evidence":   nonNil(e.Evidence),
			"first_seen": e.FirstSeen.Unix(),
			"last_seen":  e.LastSeen.Unix(),
			"session":    sessionID,
		})
	}
	return out
}

// relLabel turns a relation type into a Cypher relationship label. Anything
// outside [A-Z_] is refused since labels cannot be passed as parameters.
func relLabel(t models.RelationType) (string, bool) {
	label := strings.ToUpper(string(t))
	return label, relLabelPattern.MatchString(label)
}

func entityFromProps(props map[string]any) models.GraphNode {
	n := models.GraphNode{}
	n.ID, _ = props["id"].(string)
	if t, ok := props["type"].(string); ok {
		n.Type = models.EntityType(t)
	}
	n.Label, _ = props["label"].(string)
	n.Value, _ = props["value"].(string)
	n.RiskScore, _ = props["risk_score"].(float64)
	n.Aliases = stringList(props["aliases"])
	n.SourceTables = stringList(props["source_tables"])
	return n
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func sortedLabels(m map[string][]map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
