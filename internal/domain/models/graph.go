package models

import "time"

// EdgeStrength is the co-occurrence band of an edge
type EdgeStrength string

const (
	StrengthWeak     EdgeStrength = "weak"
	StrengthModerate EdgeStrength = "moderate"
	StrengthStrong   EdgeStrength = "strong"
)

// GraphNode is one resolved entity in the knowledge graph
type GraphNode struct {
	ID              string     `json:"id"`
	Type            EntityType `json:"type"`
	Label           string     `json:"label"`
	Value           string     `json:"value"`
	Aliases         []string   `json:"aliases"`
	OccurrenceCount int        `json:"occurrence_count"`
	SourceTables    []string   `json:"source_tables"`
	Connections     int        `json:"connections"`
	RiskScore       float64    `json:"risk_score"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`
}

// GraphEdge is one typed relationship between two nodes
type GraphEdge struct {
	ID           string       `json:"id"`
	Source       string       `json:"source"`
	Target       string       `json:"target"`
	Relationship RelationType `json:"relationship"`
	Weight       int          `json:"weight"`
	Confidence   float64      `json:"confidence"`
	Strength     EdgeStrength `json:"strength"`
	Evidence     []string     `json:"evidence"`
	FirstSeen    time.Time    `json:"first_seen"`
	LastSeen     time.Time    `json:"last_seen"`
}

// Cluster is a connected component of the graph
type Cluster struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	NodeIDs   []string   `json:"node_ids"`
	Size      int        `json:"size"`
	RiskScore float64    `json:"risk_score"`
	Dominant  EntityType `json:"dominant_type"`
}

// GraphStats summarises a knowledge graph
type GraphStats struct {
	NodeCount    int                `json:"node_count"`
	EdgeCount    int                `json:"edge_count"`
	ClusterCount int                `json:"cluster_count"`
	NodesByType  map[EntityType]int `json:"nodes_by_type"`
	MergedAway   int                `json:"merged_mentions"`
}

// KnowledgeGraph is an immutable snapshot of a built graph
type KnowledgeGraph struct {
	Nodes    []GraphNode `json:"nodes"`
	Edges    []GraphEdge `json:"edges"`
	Clusters []Cluster   `json:"clusters"`
	Stats    GraphStats  `json:"stats"`
}

// GraphPath is the result of a shortest path query
type GraphPath struct {
	NodeIDs []string `json:"node_ids"`
	EdgeIDs []string `json:"edge_ids"`
	Length  int      `json:"length"`
}
