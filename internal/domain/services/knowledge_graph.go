package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

// typeRiskWeights ranks how much a member of each type adds to cluster risk
var typeRiskWeights = map[models.EntityType]float64{
	models.EntityAccount:  1.0,
	models.EntityPAN:      0.9,
	models.EntityAadhaar:  0.9,
	models.EntityPhone:    0.8,
	models.EntityAmount:   0.8,
	models.EntityEmail:    0.7,
	models.EntityVehicle:  0.7,
	models.EntityIFSC:     0.6,
	models.EntityIP:       0.6,
	models.EntityURL:      0.5,
	models.EntityCompany:  0.5,
	models.EntityName:     0.3,
	models.EntityLocation: 0.3,
	models.EntityPincode:  0.3,
	models.EntityDate:     0.1,
}

const maxTypeRiskWeight = 1.0

// Edge confidences for each relationship source
const (
	coOccurrenceConfidence     = 0.3
	sharedIdentifierConfidence = 0.8
	confidenceStep             = 0.1
)

// NodeID is the canonical identity of an entity node
func NodeID(t models.EntityType, canonical string) string {
	return string(t) + ":" + strings.ToLower(canonical)
}

// EdgeID is the identity of an edge. Symmetric relationships order their
// endpoints so both directions map to one edge.
func EdgeID(source, target string, rel models.RelationType) (id, src, tgt string) {
	if rel.Symmetric() && target < source {
		source, target = target, source
	}
	return source + "|" + string(rel) + "|" + target, source, target
}

// Graph is a mutable knowledge graph owned by one search session
type Graph struct {
	cfg   config.GraphConfig
	nodes map[string]*models.GraphNode
	edges map[string]*models.GraphEdge
	adj   map[string]map[string][]string

	merged int
}

// NewGraph creates an empty graph
func NewGraph(cfg config.GraphConfig) *Graph {
	if cfg.ModerateAt <= 0 {
		cfg.ModerateAt = 5
	}
	if cfg.StrongAt <= 0 {
		cfg.StrongAt = 10
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = 3
	}
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = 20
	}
	return &Graph{
		cfg:   cfg,
		nodes: make(map[string]*models.GraphNode),
		edges: make(map[string]*models.GraphEdge),
		adj:   make(map[string]map[string][]string),
	}
}

// AddNode adds an entity or updates the existing node with the same identity
func (g *Graph) AddNode(t models.EntityType, canonical string, aliases []string, table string, seen time.Time) *models.GraphNode {
	id := NodeID(t, canonical)
	node, ok := g.nodes[id]
	if !ok {
		node = &models.GraphNode{
			ID:           id,
			Type:         t,
			Label:        canonical,
			Value:        canonical,
			Aliases:      []string{},
			SourceTables: []string{},
			FirstSeen:    seen,
			LastSeen:     seen,
		}
		g.nodes[id] = node
		g.adj[id] = make(map[string][]string)
	}

	node.OccurrenceCount++
	for _, a := range aliases {
		if a != canonical && !containsString(node.Aliases, a) {
			node.Aliases = append(node.Aliases, a)
		}
	}
	if table != "" && !containsString(node.SourceTables, table) {
		node.SourceTables = append(node.SourceTables, table)
	}
	if seen.Before(node.FirstSeen) {
		node.FirstSeen = seen
	}
	if seen.After(node.LastSeen) {
		node.LastSeen = seen
	}
	return node
}

// AddEdge links two existing nodes. Re-adding an edge raises its weight and
// confidence and appends evidence; it never creates a second edge.
func (g *Graph) AddEdge(source, target string, rel models.RelationType, confidence float64, evidence string, seen time.Time) (*models.GraphEdge, error) {
	if source == target {
		return nil, fmt.Errorf("self-loop on %s", source)
	}
	if _, ok := g.nodes[source]; !ok {
		return nil, fmt.Errorf("unknown node %s", source)
	}
	if _, ok := g.nodes[target]; !ok {
		return nil, fmt.Errorf("unknown node %s", target)
	}

	id, src, tgt := EdgeID(source, target, rel)
	edge, ok := g.edges[id]
	if !ok {
		edge = &models.GraphEdge{
			ID:           id,
			Source:       src,
			Target:       tgt,
			Relationship: rel,
			Weight:       1,
			Confidence:   min(confidence, 1),
			Evidence:     []string{},
			FirstSeen:    seen,
			LastSeen:     seen,
		}
		g.edges[id] = edge
		g.adj[src][tgt] = append(g.adj[src][tgt], id)
		g.adj[tgt][src] = append(g.adj[tgt][src], id)
	} else {
		edge.Weight++
		edge.Confidence = min(edge.Confidence+confidenceStep, 1)
		if seen.Before(edge.FirstSeen) {
			edge.FirstSeen = seen
		}
		if seen.After(edge.LastSeen) {
			edge.LastSeen = seen
		}
	}

	if evidence != "" && len(edge.Evidence) < g.cfg.MaxEvidence && !containsString(edge.Evidence, evidence) {
		edge.Evidence = append(edge.Evidence, evidence)
	}
	edge.Strength = g.strength(edge.Weight)
	return edge, nil
}

func (g *Graph) strength(weight int) models.EdgeStrength {
	switch {
	case weight >= g.cfg.StrongAt:
		return models.StrengthStrong
	case weight >= g.cfg.ModerateAt:
		return models.StrengthModerate
	default:
		return models.StrengthWeak
	}
}

// Node returns a node by id
func (g *Graph) Node(id string) (*models.GraphNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edge returns an edge by id
func (g *Graph) Edge(id string) (*models.GraphEdge, bool) {
	e, ok := g.edges[id]
	return e, ok
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int { return len(g.edges) }

func (g *Graph) neighborIDs(id string) []string {
	out := make([]string, 0, len(g.adj[id]))
	for n := range g.adj[id] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ShortestPath returns the fewest-hop path between two nodes, ignoring direction
func (g *Graph) ShortestPath(from, to string) (*models.GraphPath, bool) {
	if _, ok := g.nodes[from]; !ok {
		return nil, false
	}
	if _, ok := g.nodes[to]; !ok {
		return nil, false
	}
	if from == to {
		return &models.GraphPath{NodeIDs: []string{from}, EdgeIDs: []string{}}, true
	}

	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.neighborIDs(cur) {
			if _, seen := prev[n]; seen {
				continue
			}
			prev[n] = cur
			if n == to {
				return g.tracePath(prev, from, to), true
			}
			queue = append(queue, n)
		}
	}
	return nil, false
}

func (g *Graph) tracePath(prev map[string]string, from, to string) *models.GraphPath {
	nodes := []string{to}
	for cur := to; cur != from; {
		cur = prev[cur]
		nodes = append(nodes, cur)
	}
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}

	edges := make([]string, 0, len(nodes)-1)
	for i := 0; i+1 < len(nodes); i++ {
		ids := append([]string(nil), g.adj[nodes[i]][nodes[i+1]]...)
		sort.Strings(ids)
		edges = append(edges, ids[0])
	}
	return &models.GraphPath{NodeIDs: nodes, EdgeIDs: edges, Length: len(edges)}
}

// Neighbors returns every node within depth hops of id, nearest first
func (g *Graph) Neighbors(id string, depth int) []string {
	if _, ok := g.nodes[id]; !ok || depth <= 0 {
		return []string{}
	}
	visited := map[string]bool{id: true}
	frontier := []string{id}
	out := []string{}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, cur := range frontier {
			for _, n := range g.neighborIDs(cur) {
				if visited[n] {
					continue
				}
				visited[n] = true
				out = append(out, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	return out
}

// Snapshot returns an immutable copy with nodes and edges ordered by id,
// connection counts filled in and clusters detected
func (g *Graph) Snapshot() *models.KnowledgeGraph {
	kg := &models.KnowledgeGraph{
		Nodes:    make([]models.GraphNode, 0, len(g.nodes)),
		Edges:    make([]models.GraphEdge, 0, len(g.edges)),
		Clusters: []models.Cluster{},
		Stats: models.GraphStats{
			NodesByType: make(map[models.EntityType]int),
			MergedAway:  g.merged,
		},
	}

	for _, id := range sortedKeys(g.nodes) {
		n := *g.nodes[id]
		n.Aliases = sortedCopy(n.Aliases)
		n.SourceTables = sortedCopy(n.SourceTables)
		n.Connections = len(g.adj[id])
		kg.Nodes = append(kg.Nodes, n)
		kg.Stats.NodesByType[n.Type]++
	}
	for _, id := range sortedKeys(g.edges) {
		e := *g.edges[id]
		e.Evidence = append([]string(nil), e.Evidence...)
		kg.Edges = append(kg.Edges, e)
	}

	kg.Clusters = g.clusters()
	kg.Stats.NodeCount = len(kg.Nodes)
	kg.Stats.EdgeCount = len(kg.Edges)
	kg.Stats.ClusterCount = len(kg.Clusters)
	return kg
}

// clusters runs a breadth-first connected-component search
func (g *Graph) clusters() []models.Cluster {
	visited := make(map[string]bool, len(g.nodes))
	var out []models.Cluster

	for _, start := range sortedKeys(g.nodes) {
		if visited[start] {
			continue
		}
		visited[start] = true
		component := []string{start}
		queue := []string{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, n := range g.neighborIDs(cur) {
				if !visited[n] {
					visited[n] = true
					component = append(component, n)
					queue = append(queue, n)
				}
			}
		}
		if len(component) < g.cfg.MinClusterSize {
			continue
		}
		sort.Strings(component)
		out = append(out, g.describeCluster(fmt.Sprintf("cluster-%d", len(out)+1), component))
	}
	if out == nil {
		out = []models.Cluster{}
	}
	return out
}

func (g *Graph) describeCluster(id string, members []string) models.Cluster {
	typeCount := make(map[models.EntityType]int)
	var risk float64
	var anchor *models.GraphNode
	for _, nid := range members {
		n := g.nodes[nid]
		typeCount[n.Type]++
		risk += typeRiskWeights[n.Type]
		if anchor == nil || betterAnchor(n, anchor, len(g.adj[nid]), len(g.adj[anchor.ID])) {
			anchor = n
		}
	}

	var dominant models.EntityType
	for t, c := range typeCount {
		if c > typeCount[dominant] || (c == typeCount[dominant] && t < dominant) {
			dominant = t
		}
	}

	return models.Cluster{
		ID:        id,
		Name:      anchor.Label + " network",
		NodeIDs:   members,
		Size:      len(members),
		RiskScore: risk / (float64(len(members)) * maxTypeRiskWeight),
		Dominant:  dominant,
	}
}

// betterAnchor prefers person-like nodes, then higher degree, then id order
func betterAnchor(n, cur *models.GraphNode, nDeg, curDeg int) bool {
	if n.Type.IsPersonLike() != cur.Type.IsPersonLike() {
		return n.Type.IsPersonLike()
	}
	if nDeg != curDeg {
		return nDeg > curDeg
	}
	return n.ID < cur.ID
}

// KnowledgeGraphBuilder turns a finalized record set into a knowledge graph
type KnowledgeGraphBuilder struct {
	cfg      config.GraphConfig
	mapper   *MentionMapper
	resolver *EntityResolver
	logger   *logger.Logger
}

// NewKnowledgeGraphBuilder creates a new KnowledgeGraphBuilder
func NewKnowledgeGraphBuilder(cfg config.GraphConfig, mapper *MentionMapper, resolver *EntityResolver, log *logger.Logger) *KnowledgeGraphBuilder {
	return &KnowledgeGraphBuilder{
		cfg:      cfg,
		mapper:   mapper,
		resolver: resolver,
		logger:   log.WithComponent("graph-builder"),
	}
}

// Build creates a graph from records. The result does not depend on the order
// of records.
func (b *KnowledgeGraphBuilder) Build(records []models.StoredRecord) *Graph {
	sorted := append([]models.StoredRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	mapped := make([]RecordMentions, 0, len(sorted))
	var all []Mention
	for _, rec := range sorted {
		rm := b.mapper.Map(rec)
		mapped = append(mapped, rm)
		all = append(all, rm.Mentions...)
	}

	res := b.resolver.Resolve(all)
	g := NewGraph(b.cfg)
	for _, c := range res.Clusters {
		g.merged += len(c.Forms) - 1
	}

	// identifier node -> person node -> record keys
	shared := make(map[string]map[string][]string)
	seenAt := make(map[string]time.Time, len(mapped))

	for _, rm := range mapped {
		key := rm.Record.Key
		seenAt[key] = rm.SeenAt

		nodeIDs, aliases := b.groupMentions(rm.Mentions, res)
		for _, id := range nodeIDs {
			m := aliases[id][0]
			canonical, _ := res.Canonical(m.Type, m.Normalized)
			values := make([]string, 0, len(aliases[id]))
			for _, a := range aliases[id] {
				values = append(values, a.Value)
			}
			g.AddNode(m.Type, canonical, values, rm.Record.Table, rm.SeenAt)
		}

		b.linkCoOccurrences(g, nodeIDs, key, rm.SeenAt)
		b.linkRelations(g, rm, res)

		for _, idNode := range nodeIDs {
			if !g.nodes[idNode].Type.IsIdentifier() {
				continue
			}
			for _, person := range nodeIDs {
				if !g.nodes[person].Type.IsPersonLike() {
					continue
				}
				if shared[idNode] == nil {
					shared[idNode] = make(map[string][]string)
				}
				shared[idNode][person] = append(shared[idNode][person], key)
			}
		}
	}

	b.linkSharedIdentifiers(g, shared, seenAt)

	b.logger.Debug().
		Int("records", len(sorted)).
		Int("nodes", g.NodeCount()).
		Int("edges", g.EdgeCount()).
		Int("merged", g.merged).
		Msg("knowledge graph built")

	return g
}

// groupMentions maps the mentions of one record to distinct node ids in id order
func (b *KnowledgeGraphBuilder) groupMentions(mentions []Mention, res *Resolution) ([]string, map[string][]Mention) {
	byNode := make(map[string][]Mention)
	for _, m := range mentions {
		canonical, ok := res.Canonical(m.Type, m.Normalized)
		if !ok {
			continue
		}
		id := NodeID(m.Type, canonical)
		byNode[id] = append(byNode[id], m)
	}
	return sortedKeys(byNode), byNode
}

// linkCoOccurrences weakly links every pair of differently typed entities of a record
func (b *KnowledgeGraphBuilder) linkCoOccurrences(g *Graph, nodeIDs []string, recordKey string, seen time.Time) {
	for i := 0; i < len(nodeIDs); i++ {
		for j := i + 1; j < len(nodeIDs); j++ {
			if g.nodes[nodeIDs[i]].Type == g.nodes[nodeIDs[j]].Type {
				continue
			}
			if _, err := g.AddEdge(nodeIDs[i], nodeIDs[j], models.RelationCoOccurrence, coOccurrenceConfidence, recordKey, seen); err != nil {
				b.logger.Debug().Err(err).Msg("co-occurrence edge skipped")
			}
		}
	}
}

// linkRelations adds the relations recognized in the record's free text
func (b *KnowledgeGraphBuilder) linkRelations(g *Graph, rm RecordMentions, res *Resolution) {
	for _, rel := range rm.Relations {
		from, okFrom := res.Canonical(rel.From.Type, rel.From.Normalized)
		to, okTo := res.Canonical(rel.To.Type, rel.To.Normalized)
		if !okFrom || !okTo {
			continue
		}
		evidence := rm.Record.Key
		if rel.Keyword != "" {
			evidence += " (" + rel.Keyword + ")"
		}
		_, err := g.AddEdge(NodeID(rel.From.Type, from), NodeID(rel.To.Type, to), rel.Type, rel.Confidence, evidence, rm.SeenAt)
		if err != nil {
			b.logger.Debug().Err(err).Str("relation", string(rel.Type)).Msg("relation edge skipped")
		}
	}
}

// linkSharedIdentifiers joins people that appear with the same identifier in
// different records. The edge weight is the number of such records minus one.
func (b *KnowledgeGraphBuilder) linkSharedIdentifiers(g *Graph, shared map[string]map[string][]string, seenAt map[string]time.Time) {
	for _, idNode := range sortedKeys(shared) {
		persons := sortedKeys(shared[idNode])
		for i := 0; i < len(persons); i++ {
			for j := i + 1; j < len(persons); j++ {
				recs := unionSorted(shared[idNode][persons[i]], shared[idNode][persons[j]])
				if len(recs) > 1 {
					recs = recs[1:]
				}
				for _, key := range recs {
					evidence := key + " via " + idNode
					if _, err := g.AddEdge(persons[i], persons[j], models.RelationSharedIdentifier, sharedIdentifierConfidence, evidence, seenAt[key]); err != nil {
						b.logger.Debug().Err(err).Msg("shared identifier edge skipped")
					}
				}
			}
		}
	}
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
