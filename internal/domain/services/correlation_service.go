package services

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

// GraphView is a read-only index over a graph snapshot shared by all detectors
type GraphView struct {
	Nodes []models.GraphNode
	Edges []models.GraphEdge

	node      map[string]*models.GraphNode
	incident  map[string][]int
	neighbors map[string][]string
}

// NewGraphView indexes a snapshot
func NewGraphView(kg *models.KnowledgeGraph) *GraphView {
	v := &GraphView{
		node:      make(map[string]*models.GraphNode),
		incident:  make(map[string][]int),
		neighbors: make(map[string][]string),
	}
	if kg == nil {
		return v
	}
	v.Nodes, v.Edges = kg.Nodes, kg.Edges
	for i := range v.Nodes {
		v.node[v.Nodes[i].ID] = &v.Nodes[i]
	}
	seen := make(map[string]map[string]bool)
	for i, e := range v.Edges {
		v.incident[e.Source] = append(v.incident[e.Source], i)
		v.incident[e.Target] = append(v.incident[e.Target], i)
		for _, pair := range [][2]string{{e.Source, e.Target}, {e.Target, e.Source}} {
			if seen[pair[0]] == nil {
				seen[pair[0]] = make(map[string]bool)
			}
			if !seen[pair[0]][pair[1]] {
				seen[pair[0]][pair[1]] = true
				v.neighbors[pair[0]] = append(v.neighbors[pair[0]], pair[1])
			}
		}
	}
	for id := range v.neighbors {
		sort.Strings(v.neighbors[id])
	}
	return v
}

// Node returns a node by id
func (v *GraphView) Node(id string) (*models.GraphNode, bool) {
	n, ok := v.node[id]
	return n, ok
}

// Neighbors returns the distinct neighbours of a node in id order
func (v *GraphView) Neighbors(id string) []string { return v.neighbors[id] }

// Degree is the number of distinct neighbours
func (v *GraphView) Degree(id string) int { return len(v.neighbors[id]) }

// IncidentEdges returns the edges touching a node
func (v *GraphView) IncidentEdges(id string) []models.GraphEdge {
	out := make([]models.GraphEdge, 0, len(v.incident[id]))
	for _, i := range v.incident[id] {
		out = append(out, v.Edges[i])
	}
	return out
}

// PatternDetector finds one kind of structural pattern
type PatternDetector interface {
	Name() string
	Detect(v *GraphView) []models.DetectedPattern
}

// AnomalyDetector finds one kind of outlier
type AnomalyDetector interface {
	Name() string
	Detect(v *GraphView) []models.Anomaly
}

// RiskFactorScorer scores one risk factor of a node in [0,1]
type RiskFactorScorer interface {
	Name() string
	Weight() float64
	Score(v *GraphView, nodeID string) float64
}

// CorrelationStats reports what the engine has produced since start
type CorrelationStats struct {
	Runs            int64            `json:"runs"`
	PatternsByType  map[string]int64 `json:"patterns_by_type"`
	AnomaliesByType map[string]int64 `json:"anomalies_by_type"`
	LastDuration    time.Duration    `json:"last_duration"`
	LastProcessed   time.Time        `json:"last_processed"`
}

// CorrelationEngine runs pattern, anomaly and risk analysis over a knowledge graph
type CorrelationEngine struct {
	cfg       config.CorrelationConfig
	patterns  []PatternDetector
	anomalies []AnomalyDetector
	factors   []RiskFactorScorer
	logger    *logger.Logger

	// Statistics
	statsMu       sync.RWMutex
	runs          int64
	byPattern     map[string]int64
	byAnomaly     map[string]int64
	lastDuration  time.Duration
	lastProcessed time.Time
}

// NewCorrelationEngine creates a correlation engine with the default detectors
func NewCorrelationEngine(cfg config.CorrelationConfig, log *logger.Logger) *CorrelationEngine {
	if cfg.TopInsights <= 0 {
		cfg.TopInsights = 10
	}
	return &CorrelationEngine{
		cfg: cfg,
		patterns: []PatternDetector{
			&frequencyDetector{minDegree: cfg.FrequencyDegree},
			&circularDetector{},
			&temporalDetector{ratio: cfg.TemporalRatio},
			&spatialDetector{minEntities: cfg.SpatialMinEntities},
		},
		anomalies: []AnomalyDetector{
			&degreeOutlierDetector{threshold: cfg.ZScoreThreshold},
			&typeMismatchDetector{},
			&hiddenHubDetector{minNeighbors: cfg.HubMinNeighbors, minTypes: cfg.HubMinTypes},
		},
		factors:   defaultRiskFactors(),
		logger:    log.WithComponent("correlation-engine"),
		byPattern: make(map[string]int64),
		byAnomaly: make(map[string]int64),
	}
}

// Analyze runs every detector in parallel over the graph. An empty graph
// yields empty results, not an error.
func (e *CorrelationEngine) Analyze(kg *models.KnowledgeGraph) *models.CorrelationResult {
	start := time.Now()
	view := NewGraphView(kg)

	patternOut := make([][]models.DetectedPattern, len(e.patterns))
	anomalyOut := make([][]models.Anomaly, len(e.anomalies))
	var risks []models.RiskIndicator

	var g errgroup.Group
	for i, d := range e.patterns {
		g.Go(func() error {
			patternOut[i] = d.Detect(view)
			return nil
		})
	}
	for i, d := range e.anomalies {
		g.Go(func() error {
			anomalyOut[i] = d.Detect(view)
			return nil
		})
	}
	g.Go(func() error {
		risks = e.scoreRisk(view)
		return nil
	})
	_ = g.Wait()

	result := &models.CorrelationResult{
		Patterns:       []models.DetectedPattern{},
		Anomalies:      []models.Anomaly{},
		RiskIndicators: risks,
	}
	for i, ps := range patternOut {
		th := e.threshold(e.patterns[i].Name())
		for _, p := range ps {
			if p.Occurrences >= th.MinOccurrences && p.Significance >= th.MinSignificance {
				result.Patterns = append(result.Patterns, p)
			}
		}
	}
	for _, as := range anomalyOut {
		result.Anomalies = append(result.Anomalies, as...)
	}

	sort.SliceStable(result.Patterns, func(i, j int) bool {
		a, b := result.Patterns[i], result.Patterns[j]
		if a.Significance != b.Significance {
			return a.Significance > b.Significance
		}
		return a.ID < b.ID
	})
	sort.SliceStable(result.Anomalies, func(i, j int) bool {
		a, b := result.Anomalies[i], result.Anomalies[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID < b.ID
	})

	result.Insights = e.generateInsights(result)
	result.Timeline = buildTimeline(view)

	e.updateStats(result, time.Since(start))
	e.logger.Debug().
		Int("patterns", len(result.Patterns)).
		Int("anomalies", len(result.Anomalies)).
		Int("risks", len(result.RiskIndicators)).
		Int("insights", len(result.Insights)).
		Msg("correlation analysis complete")

	return result
}

// threshold returns the filter for a pattern detector by name
func (e *CorrelationEngine) threshold(name string) config.PatternThreshold {
	var th config.PatternThreshold
	switch name {
	case "frequency":
		th = e.cfg.Thresholds.Frequency
	case "circular":
		th = e.cfg.Thresholds.Circular
	case "temporal":
		th = e.cfg.Thresholds.Temporal
	case "spatial":
		th = e.cfg.Thresholds.Spatial
	}
	if th.MinSignificance <= 0 {
		th.MinSignificance = e.cfg.MinSignificance
	}
	return th
}

// ApplyRiskScores copies indicator scores onto the matching graph nodes
func ApplyRiskScores(kg *models.KnowledgeGraph, result *models.CorrelationResult) {
	if kg == nil || result == nil {
		return
	}
	scores := make(map[string]float64, len(result.RiskIndicators))
	for _, r := range result.RiskIndicators {
		scores[r.NodeID] = r.Score
	}
	for i := range kg.Nodes {
		if s, ok := scores[kg.Nodes[i].ID]; ok {
			kg.Nodes[i].RiskScore = s
		}
	}
}

func (e *CorrelationEngine) updateStats(result *models.CorrelationResult, d time.Duration) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.runs++
	for _, p := range result.Patterns {
		e.byPattern[string(p.Type)]++
	}
	for _, a := range result.Anomalies {
		e.byAnomaly[string(a.Type)]++
	}
	e.lastDuration = d
	e.lastProcessed = time.Now()
}

// GetStats returns a copy of the engine statistics
func (e *CorrelationEngine) GetStats() CorrelationStats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	stats := CorrelationStats{
		Runs:            e.runs,
		PatternsByType:  make(map[string]int64, len(e.byPattern)),
		AnomaliesByType: make(map[string]int64, len(e.byAnomaly)),
		LastDuration:    e.lastDuration,
		LastProcessed:   e.lastProcessed,
	}
	for k, v := range e.byPattern {
		stats.PatternsByType[k] = v
	}
	for k, v := range e.byAnomaly {
		stats.AnomaliesByType[k] = v
	}
	return stats
}

// derivedID gives analysis outputs stable ids across runs over the same graph
func derivedID(kind string, parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+"|"+strings.Join(parts, "|"))).String()
}

// severityFor maps a [0,1] score to a band; ok is false below the lowest band
func severityFor(score float64) (models.Severity, bool) {
	switch {
	case score >= 0.8:
		return models.SeverityCritical, true
	case score >= 0.6:
		return models.SeverityHigh, true
	case score >= 0.4:
		return models.SeverityMedium, true
	default:
		return models.SeverityLow, false
	}
}

// ============================================================================
// PATTERN DETECTORS
// ============================================================================

type frequencyDetector struct {
	minDegree int
}

func (d *frequencyDetector) Name() string { return "frequency" }

func (d *frequencyDetector) Detect(v *GraphView) []models.DetectedPattern {
	threshold := d.minDegree
	if threshold <= 0 {
		threshold = 10
	}
	var out []models.DetectedPattern
	for _, n := range v.Nodes {
		degree := v.Degree(n.ID)
		if degree <= threshold {
			continue
		}
		out = append(out, models.DetectedPattern{
			ID:           derivedID("pattern", string(models.PatternFrequency), n.ID),
			Type:         models.PatternFrequency,
			Description:  fmt.Sprintf("%s %q is linked to %d entities", n.Type, n.Label, degree),
			NodeIDs:      []string{n.ID},
			Occurrences:  degree,
			Significance: math.Min(1, float64(degree)/float64(2*threshold)),
		})
	}
	return out
}

// circularDetector finds directed 2- and 3-hop cycles over financial edges.
// The walk uses an explicit stack bounded by maxCycleHops.
type circularDetector struct{}

const maxCycleHops = 3

func (d *circularDetector) Name() string { return "circular" }

type cycleFrame struct {
	path  []string
	edges []string
}

func (d *circularDetector) Detect(v *GraphView) []models.DetectedPattern {
	out := make(map[string][]string)
	edgeOf := make(map[[2]string]models.GraphEdge)
	for _, e := range v.Edges {
		if e.Relationship != models.RelationFinancial {
			continue
		}
		out[e.Source] = append(out[e.Source], e.Target)
		edgeOf[[2]string{e.Source, e.Target}] = e
	}
	for k := range out {
		sort.Strings(out[k])
	}

	var patterns []models.DetectedPattern
	for _, start := range sortedKeys(out) {
		stack := []cycleFrame{{path: []string{start}}}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cur := top.path[len(top.path)-1]

			for _, next := range out[cur] {
				edge := edgeOf[[2]string{cur, next}]
				if next == start && len(top.path) >= 2 {
					patterns = append(patterns, cyclePattern(v, top.path, append(append([]string{}, top.edges...), edge.ID), edgeOf))
					continue
				}
				// only walk through nodes above start so each cycle is seen from its smallest node
				if next <= start || containsString(top.path, next) || len(top.path) >= maxCycleHops {
					continue
				}
				stack = append(stack, cycleFrame{
					path:  append(append([]string{}, top.path...), next),
					edges: append(append([]string{}, top.edges...), edge.ID),
				})
			}
		}
	}
	return patterns
}

func cyclePattern(v *GraphView, path, edgeIDs []string, edgeOf map[[2]string]models.GraphEdge) models.DetectedPattern {
	hops := len(path)
	minWeight := math.MaxInt
	for i := range path {
		e := edgeOf[[2]string{path[i], path[(i+1)%hops]}]
		minWeight = min(minWeight, e.Weight)
	}

	base := 0.6
	kind := "round-trip transfer"
	if hops >= 3 {
		base = 0.85
		kind = "layered transfer loop"
	}
	significance := math.Min(1, base+math.Min(0.1, 0.02*float64(minWeight-1)))

	labels := make([]string, 0, hops)
	for _, id := range path {
		if n, ok := v.Node(id); ok {
			labels = append(labels, n.Label)
		} else {
			labels = append(labels, id)
		}
	}

	return models.DetectedPattern{
		ID:           derivedID("pattern", string(models.PatternCircular), strings.Join(path, ">")),
		Type:         models.PatternCircular,
		Description:  fmt.Sprintf("%d-hop %s: %s -> %s", hops, kind, strings.Join(labels, " -> "), labels[0]),
		NodeIDs:      append([]string{}, path...),
		EdgeIDs:      edgeIDs,
		Occurrences:  minWeight,
		Significance: significance,
	}
}

type temporalDetector struct {
	ratio float64
}

func (d *temporalDetector) Name() string { return "temporal" }

func (d *temporalDetector) Detect(v *GraphView) []models.DetectedPattern {
	ratio := d.ratio
	if ratio <= 0 {
		ratio = 2
	}

	byDay := make(map[string][]models.GraphEdge)
	for _, e := range v.Edges {
		if e.FirstSeen.IsZero() {
			continue
		}
		day := e.FirstSeen.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], e)
	}
	if len(byDay) < 2 {
		return nil
	}

	total := 0
	for _, edges := range byDay {
		total += len(edges)
	}
	mean := float64(total) / float64(len(byDay))

	var out []models.DetectedPattern
	for _, day := range sortedKeys(byDay) {
		edges := byDay[day]
		r := float64(len(edges)) / mean
		if r <= ratio {
			continue
		}
		nodes := make(map[string]struct{})
		edgeIDs := make([]string, 0, len(edges))
		for _, e := range edges {
			nodes[e.Source] = struct{}{}
			nodes[e.Target] = struct{}{}
			edgeIDs = append(edgeIDs, e.ID)
		}
		sort.Strings(edgeIDs)
		out = append(out, models.DetectedPattern{
			ID:           derivedID("pattern", string(models.PatternTemporal), day),
			Type:         models.PatternTemporal,
			Description:  fmt.Sprintf("%d links on %s, %.1fx the daily mean", len(edges), day, r),
			NodeIDs:      sortedKeys(nodes),
			EdgeIDs:      edgeIDs,
			Occurrences:  len(edges),
			Significance: math.Min(1, r/(2*ratio)),
		})
	}
	return out
}

type spatialDetector struct {
	minEntities int
}

func (d *spatialDetector) Name() string { return "spatial" }

func (d *spatialDetector) Detect(v *GraphView) []models.DetectedPattern {
	minEntities := d.minEntities
	if minEntities <= 0 {
		minEntities = 3
	}
	var out []models.DetectedPattern
	for _, n := range v.Nodes {
		if n.Type != models.EntityLocation {
			continue
		}
		var linked []string
		for _, nb := range v.Neighbors(n.ID) {
			if other, ok := v.Node(nb); ok && other.Type != models.EntityLocation {
				linked = append(linked, nb)
			}
		}
		if len(linked) < minEntities {
			continue
		}
		out = append(out, models.DetectedPattern{
			ID:           derivedID("pattern", string(models.PatternSpatial), n.ID),
			Type:         models.PatternSpatial,
			Description:  fmt.Sprintf("%d entities share location %q", len(linked), n.Label),
			NodeIDs:      append([]string{n.ID}, linked...),
			Occurrences:  len(linked),
			Significance: math.Min(1, float64(len(linked))/float64(2*minEntities)),
		})
	}
	return out
}

// ============================================================================
// ANOMALY DETECTORS
// ============================================================================

type degreeOutlierDetector struct {
	threshold float64
}

func (d *degreeOutlierDetector) Name() string { return "degree_outlier" }

func (d *degreeOutlierDetector) Detect(v *GraphView) []models.Anomaly {
	threshold := d.threshold
	if threshold <= 0 {
		threshold = 2.5
	}
	if len(v.Nodes) < 3 {
		return nil
	}

	var sum float64
	for _, n := range v.Nodes {
		sum += float64(v.Degree(n.ID))
	}
	mean := sum / float64(len(v.Nodes))
	var variance float64
	for _, n := range v.Nodes {
		diff := float64(v.Degree(n.ID)) - mean
		variance += diff * diff
	}
	std := math.Sqrt(variance / float64(len(v.Nodes)))
	if std == 0 {
		return nil
	}

	var out []models.Anomaly
	for _, n := range v.Nodes {
		z := (float64(v.Degree(n.ID)) - mean) / std
		if z <= threshold {
			continue
		}
		score := math.Min(1, z/(2*threshold))
		sev, _ := severityFor(score)
		out = append(out, models.Anomaly{
			ID:          derivedID("anomaly", string(models.AnomalyStatistical), n.ID),
			Type:        models.AnomalyStatistical,
			Description: fmt.Sprintf("%q has %d links, %.1f standard deviations above the mean", n.Label, v.Degree(n.ID), z),
			NodeIDs:     []string{n.ID},
			Score:       score,
			Severity:    sev,
		})
	}
	return out
}

// allowedTypePairs are the entity type combinations an edge is expected to join.
// Pairs involving names, companies or dates are always expected.
var allowedTypePairs = map[[2]models.EntityType]bool{
	pair(models.EntityPhone, models.EntityPhone):       true,
	pair(models.EntityPhone, models.EntityEmail):       true,
	pair(models.EntityPhone, models.EntityLocation):    true,
	pair(models.EntityPhone, models.EntityPincode):     true,
	pair(models.EntityPhone, models.EntityIP):          true,
	pair(models.EntityPhone, models.EntityAadhaar):     true,
	pair(models.EntityPhone, models.EntityPAN):         true,
	pair(models.EntityPhone, models.EntityAccount):     true,
	pair(models.EntityEmail, models.EntityURL):         true,
	pair(models.EntityEmail, models.EntityIP):          true,
	pair(models.EntityEmail, models.EntityLocation):    true,
	pair(models.EntityEmail, models.EntityAccount):     true,
	pair(models.EntityEmail, models.EntityPAN):         true,
	pair(models.EntityURL, models.EntityIP):            true,
	pair(models.EntityAccount, models.EntityAccount):   true,
	pair(models.EntityAccount, models.EntityIFSC):      true,
	pair(models.EntityAccount, models.EntityAmount):    true,
	pair(models.EntityAccount, models.EntityPAN):       true,
	pair(models.EntityAccount, models.EntityLocation):  true,
	pair(models.EntityIFSC, models.EntityLocation):     true,
	pair(models.EntityPAN, models.EntityAadhaar):       true,
	pair(models.EntityAadhaar, models.EntityLocation):  true,
	pair(models.EntityAadhaar, models.EntityPincode):   true,
	pair(models.EntityVehicle, models.EntityLocation):  true,
	pair(models.EntityLocation, models.EntityLocation): true,
	pair(models.EntityLocation, models.EntityPincode):  true,
	pair(models.EntityAmount, models.EntityLocation):   true,
}

func pair(a, b models.EntityType) [2]models.EntityType {
	if b < a {
		a, b = b, a
	}
	return [2]models.EntityType{a, b}
}

type typeMismatchDetector struct{}

func (d *typeMismatchDetector) Name() string { return "type_mismatch" }

func (d *typeMismatchDetector) Detect(v *GraphView) []models.Anomaly {
	var out []models.Anomaly
	for _, e := range v.Edges {
		src, ok1 := v.Node(e.Source)
		tgt, ok2 := v.Node(e.Target)
		if !ok1 || !ok2 || typePairExpected(src.Type, tgt.Type) {
			continue
		}
		score := math.Min(1, 0.4+0.1*float64(e.Weight))
		sev, _ := severityFor(score)
		out = append(out, models.Anomaly{
			ID:          derivedID("anomaly", string(models.AnomalyBehavioral), e.ID),
			Type:        models.AnomalyBehavioral,
			Description: fmt.Sprintf("unexpected %s link between %s %q and %s %q", e.Relationship, src.Type, src.Label, tgt.Type, tgt.Label),
			NodeIDs:     []string{src.ID, tgt.ID},
			EdgeIDs:     []string{e.ID},
			Score:       score,
			Severity:    sev,
		})
	}
	return out
}

func typePairExpected(a, b models.EntityType) bool {
	for _, t := range []models.EntityType{a, b} {
		if t.IsPersonLike() || t == models.EntityDate {
			return true
		}
	}
	return allowedTypePairs[pair(a, b)]
}

type hiddenHubDetector struct {
	minNeighbors int
	minTypes     int
}

func (d *hiddenHubDetector) Name() string { return "hidden_hub" }

func (d *hiddenHubDetector) Detect(v *GraphView) []models.Anomaly {
	minNeighbors, minTypes := d.minNeighbors, d.minTypes
	if minNeighbors <= 0 {
		minNeighbors = 5
	}
	if minTypes <= 0 {
		minTypes = 3
	}

	var out []models.Anomaly
	for _, n := range v.Nodes {
		neighbors := v.Neighbors(n.ID)
		if len(neighbors) <= minNeighbors {
			continue
		}
		types := make(map[models.EntityType]struct{})
		for _, nb := range neighbors {
			if other, ok := v.Node(nb); ok {
				types[other.Type] = struct{}{}
			}
		}
		if len(types) < minTypes {
			continue
		}
		score := math.Min(1, 0.5+0.1*float64(len(types)-minTypes)+0.02*float64(len(neighbors)-minNeighbors))
		sev, _ := severityFor(score)
		out = append(out, models.Anomaly{
			ID:          derivedID("anomaly", string(models.AnomalyRelational), n.ID),
			Type:        models.AnomalyRelational,
			Description: fmt.Sprintf("%q connects %d entities of %d different types", n.Label, len(neighbors), len(types)),
			NodeIDs:     append([]string{n.ID}, neighbors...),
			Score:       score,
			Severity:    sev,
		})
	}
	return out
}

// ============================================================================
// RISK SCORING
// ============================================================================

type riskFactor struct {
	name   string
	weight float64
	score  func(v *GraphView, id string) float64
}

func (f riskFactor) Name() string                           { return f.name }
func (f riskFactor) Weight() float64                        { return f.weight }
func (f riskFactor) Score(v *GraphView, id string) float64 { return f.score(v, id) }

func defaultRiskFactors() []RiskFactorScorer {
	return []RiskFactorScorer{
		riskFactor{"transaction_volume", 0.3, transactionVolume},
		riskFactor{"transfer_frequency", 0.25, transferFrequency},
		riskFactor{"location_spread", 0.15, neighborTypeCount(models.EntityLocation, 3)},
		riskFactor{"account_linkage", 0.2, neighborTypeCount(models.EntityAccount, 3)},
		riskFactor{"degree_imbalance", 0.1, degreeImbalance},
	}
}

// transactionVolume scales the summed amounts linked to a node; 1e7 saturates
func transactionVolume(v *GraphView, id string) float64 {
	var total float64
	for _, nb := range v.Neighbors(id) {
		n, ok := v.Node(nb)
		if !ok || n.Type != models.EntityAmount {
			continue
		}
		if amt, err := strconv.ParseFloat(n.Value, 64); err == nil && amt > 0 {
			total += amt
		}
	}
	if total <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(1+total)/7)
}

func transferFrequency(v *GraphView, id string) float64 {
	count := 0
	for _, e := range v.IncidentEdges(id) {
		if e.Relationship == models.RelationFinancial {
			count += e.Weight
		}
	}
	return math.Min(1, float64(count)/10)
}

func neighborTypeCount(t models.EntityType, saturation int) func(*GraphView, string) float64 {
	return func(v *GraphView, id string) float64 {
		count := 0
		for _, nb := range v.Neighbors(id) {
			if n, ok := v.Node(nb); ok && n.Type == t {
				count++
			}
		}
		return math.Min(1, float64(count)/float64(saturation))
	}
}

// degreeImbalance compares outgoing and incoming directed edges
func degreeImbalance(v *GraphView, id string) float64 {
	var in, out int
	for _, e := range v.IncidentEdges(id) {
		if e.Relationship.Symmetric() {
			continue
		}
		if e.Source == id {
			out += e.Weight
		} else {
			in += e.Weight
		}
	}
	if in+out < 2 {
		return 0
	}
	return math.Abs(float64(out-in)) / float64(out+in)
}

func (e *CorrelationEngine) scoreRisk(v *GraphView) []models.RiskIndicator {
	out := []models.RiskIndicator{}
	for _, n := range v.Nodes {
		var weighted, weights float64
		var factors []models.RiskFactor
		for _, f := range e.factors {
			s := f.Score(v, n.ID)
			if s <= 0.5 {
				continue
			}
			weighted += s * f.Weight()
			weights += f.Weight()
			factors = append(factors, models.RiskFactor{Name: f.Name(), Score: s, Weight: f.Weight()})
		}
		if weights == 0 {
			continue
		}
		score := weighted / weights
		sev, ok := severityFor(score)
		if !ok {
			continue
		}
		names := make([]string, len(factors))
		for i, f := range factors {
			names[i] = strings.ReplaceAll(f.Name, "_", " ")
		}
		out = append(out, models.RiskIndicator{
			ID:          derivedID("risk", n.ID),
			NodeID:      n.ID,
			Score:       score,
			Severity:    sev,
			Factors:     factors,
			Description: fmt.Sprintf("%s %q scored %.2f on %s", n.Type, n.Label, score, strings.Join(names, ", ")),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}

// ============================================================================
// INSIGHTS AND TIMELINE
// ============================================================================

var patternActions = map[models.PatternType][]string{
	models.PatternFrequency: {"Review all records linked to this entity", "Check whether the entity is a shared or public identifier"},
	models.PatternCircular:  {"Trace the full transaction chain", "Request statements for every account in the loop", "Check for layering across linked accounts"},
	models.PatternTemporal:  {"Compare the burst against known incident dates", "Review records created on this day"},
	models.PatternSpatial:   {"Verify the shared address", "Check whether the entities are related households or businesses"},
}

var anomalyActions = map[models.AnomalyType][]string{
	models.AnomalyStatistical: {"Prioritise this entity for review", "Check for data quality issues in linked records"},
	models.AnomalyBehavioral:  {"Verify the records that link these entities", "Check for identity misuse"},
	models.AnomalyRelational:  {"Map the hub's neighbours", "Check whether the hub is an intermediary or mule"},
}

var riskActions = map[models.Severity][]string{
	models.SeverityCritical: {"Escalate for immediate review", "Freeze or flag linked accounts where authorised"},
	models.SeverityHigh:     {"Schedule detailed review", "Collect supporting records"},
	models.SeverityMedium:   {"Monitor for further activity"},
}

var patternTitles = map[models.PatternType]string{
	models.PatternFrequency: "High-activity entity",
	models.PatternCircular:  "Circular money flow",
	models.PatternTemporal:  "Activity burst",
	models.PatternSpatial:   "Shared location",
}

var anomalyTitles = map[models.AnomalyType]string{
	models.AnomalyStatistical: "Statistical outlier",
	models.AnomalyBehavioral:  "Unexpected link",
	models.AnomalyRelational:  "Hidden hub",
}

func (e *CorrelationEngine) generateInsights(result *models.CorrelationResult) []models.Insight {
	candidates := make([]models.Insight, 0, len(result.Patterns)+len(result.Anomalies)+len(result.RiskIndicators))
	for _, p := range result.Patterns {
		candidates = append(candidates, models.Insight{
			Category:         models.InsightPattern,
			Title:            patternTitles[p.Type],
			Description:      p.Description,
			Confidence:       p.Significance,
			NodeIDs:          p.NodeIDs,
			SuggestedActions: patternActions[p.Type],
			SourceID:         p.ID,
		})
	}
	for _, a := range result.Anomalies {
		candidates = append(candidates, models.Insight{
			Category:         models.InsightAnomaly,
			Title:            anomalyTitles[a.Type],
			Description:      a.Description,
			Confidence:       a.Score,
			NodeIDs:          a.NodeIDs,
			SuggestedActions: anomalyActions[a.Type],
			SourceID:         a.ID,
		})
	}
	for _, r := range result.RiskIndicators {
		candidates = append(candidates, models.Insight{
			Category:         models.InsightRisk,
			Title:            fmt.Sprintf("%s risk entity", strings.ToUpper(string(r.Severity[:1]))+string(r.Severity[1:])),
			Description:      r.Description,
			Confidence:       r.Score,
			NodeIDs:          []string{r.NodeID},
			SuggestedActions: riskActions[r.Severity],
			SourceID:         r.ID,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].SourceID < candidates[j].SourceID
	})
	if len(candidates) > e.cfg.TopInsights {
		candidates = candidates[:e.cfg.TopInsights]
	}
	for i := range candidates {
		candidates[i].ID = derivedID("insight", candidates[i].SourceID)
		if candidates[i].SuggestedActions == nil {
			candidates[i].SuggestedActions = []string{}
		}
	}
	return candidates
}

func buildTimeline(v *GraphView) []models.TimelineEvent {
	events := []models.TimelineEvent{}
	for _, n := range v.Nodes {
		if n.FirstSeen.IsZero() {
			continue
		}
		events = append(events, models.TimelineEvent{
			Timestamp:   n.FirstSeen,
			Kind:        models.TimelineNodeCreated,
			RefID:       n.ID,
			Description: fmt.Sprintf("%s %q first seen", n.Type, n.Label),
		})
	}
	for _, e := range v.Edges {
		if e.FirstSeen.IsZero() {
			continue
		}
		events = append(events, models.TimelineEvent{
			Timestamp:   e.FirstSeen,
			Kind:        models.TimelineEdgeCreated,
			RefID:       e.ID,
			Description: fmt.Sprintf("%s linked to %s (%s)", e.Source, e.Target, e.Relationship),
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Kind != b.Kind {
			return a.Kind > b.Kind // nodes before the edges that join them
		}
		return a.RefID < b.RefID
	})
	return events
}
