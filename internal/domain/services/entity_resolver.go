package services

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

// MentionCluster is a set of mentions that refer to one real-world entity
type MentionCluster struct {
	Type      models.EntityType
	Canonical string
	Forms     []string
	Aliases   []string
	Mentions  int
}

// Resolution maps every mention form to its cluster
type Resolution struct {
	Clusters    []MentionCluster
	Comparisons int
	index       map[string]int
}

// Canonical returns the canonical normalized value for a mention form
func (r *Resolution) Canonical(t models.EntityType, normalized string) (string, bool) {
	i, ok := r.index[formKey(t, normalized)]
	if !ok {
		return "", false
	}
	return r.Clusters[i].Canonical, true
}

// Cluster returns the cluster a mention form belongs to
func (r *Resolution) Cluster(t models.EntityType, normalized string) (MentionCluster, bool) {
	i, ok := r.index[formKey(t, normalized)]
	if !ok {
		return MentionCluster{}, false
	}
	return r.Clusters[i], true
}

// form is one distinct (type, lower normalized value) pair with its occurrences
type form struct {
	key      string
	typ      models.EntityType
	value    string
	lower    string
	count    int
	variants map[string]int
	aliases  map[string]struct{}
	context  map[string]struct{}
	phonetic string
}

// EntityResolver collapses near-duplicate mentions before graph construction
type EntityResolver struct {
	cfg    config.ResolutionConfig
	logger *logger.Logger
}

// NewEntityResolver creates a new EntityResolver
func NewEntityResolver(cfg config.ResolutionConfig, log *logger.Logger) *EntityResolver {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.85
	}
	if cfg.MaxBlockSize <= 0 {
		cfg.MaxBlockSize = 250
	}
	return &EntityResolver{
		cfg:    cfg,
		logger: log.WithComponent("entity-resolver"),
	}
}

// Resolve groups mentions into clusters. Only forms sharing a blocking key are
// compared; merging is transitive. Identifier types merge on exact value only.
func (r *EntityResolver) Resolve(mentions []Mention) *Resolution {
	forms := collectForms(mentions)

	uf := newUnionFind(len(forms))
	blocks := make(map[string][]int)
	for i, f := range forms {
		if f.typ.IsIdentifier() {
			continue
		}
		for _, k := range blockingKeys(f) {
			blocks[k] = append(blocks[k], i)
		}
	}

	blockKeys := make([]string, 0, len(blocks))
	for k := range blocks {
		blockKeys = append(blockKeys, k)
	}
	sort.Strings(blockKeys)

	compared := make(map[[2]int]struct{})
	comparisons := 0
	for _, bk := range blockKeys {
		members := blocks[bk]
		if len(members) < 2 {
			continue
		}
		if len(members) > r.cfg.MaxBlockSize {
			r.logger.Debug().Str("block", bk).Int("size", len(members)).Msg("skipping oversized block")
			continue
		}
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				pair := [2]int{members[x], members[y]}
				if _, done := compared[pair]; done {
					continue
				}
				compared[pair] = struct{}{}
				if uf.find(pair[0]) == uf.find(pair[1]) {
					continue
				}
				comparisons++
				if Similarity(forms[pair[0]], forms[pair[1]]) >= r.cfg.Threshold {
					uf.union(pair[0], pair[1])
				}
			}
		}
	}

	res := buildClusters(forms, uf)
	res.Comparisons = comparisons

	r.logger.Debug().
		Int("mentions", len(mentions)).
		Int("forms", len(forms)).
		Int("clusters", len(res.Clusters)).
		Int("comparisons", comparisons).
		Msg("entity resolution complete")

	return res
}

func formKey(t models.EntityType, normalized string) string {
	return string(t) + "\x00" + strings.ToLower(normalized)
}

func collectForms(mentions []Mention) []*form {
	byKey := make(map[string]*form)
	for _, m := range mentions {
		if m.Normalized == "" {
			continue
		}
		k := formKey(m.Type, m.Normalized)
		f, ok := byKey[k]
		if !ok {
			f = &form{
				key:      k,
				typ:      m.Type,
				lower:    strings.ToLower(m.Normalized),
				variants: make(map[string]int),
				aliases:  make(map[string]struct{}),
				context:  make(map[string]struct{}),
			}
			byKey[k] = f
		}
		f.count++
		f.variants[m.Normalized]++
		f.aliases[m.Value] = struct{}{}
		for _, c := range m.Context {
			f.context[c] = struct{}{}
		}
	}

	forms := make([]*form, 0, len(byKey))
	for _, f := range byKey {
		f.value = mostFrequent(f.variants)
		if f.typ.IsPersonLike() || f.typ == models.EntityLocation {
			f.phonetic = PhoneticCode(f.lower)
		}
		forms = append(forms, f)
	}
	sort.Slice(forms, func(i, j int) bool { return forms[i].key < forms[j].key })
	return forms
}

// mostFrequent picks the most common spelling, then the lexicographically smallest
func mostFrequent(variants map[string]int) string {
	best, bestN := "", -1
	for v, n := range variants {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}

// blockingKeys returns type-scoped prefix, phonetic, surname and length-bucket keys
func blockingKeys(f *form) []string {
	t := string(f.typ)
	runes := []rune(f.lower)
	keys := make([]string, 0, 4)

	prefix := string(runes[:min(2, len(runes))])
	keys = append(keys, t+"|p:"+prefix)

	if f.phonetic != "" {
		keys = append(keys, t+"|s:"+f.phonetic)
	}
	if f.typ == models.EntityName {
		if tokens := strings.Fields(f.lower); len(tokens) >= 2 {
			keys = append(keys, t+"|t:"+PhoneticCode(tokens[len(tokens)-1]))
		}
	}

	keys = append(keys, t+"|l:"+strconv.Itoa(len(runes)/4)+":"+string(runes[0]))
	return keys
}

// Similarity scores two forms of the same type in [0,1]
func Similarity(a, b *form) float64 {
	if a.typ != b.typ {
		return 0
	}
	if a.lower == b.lower {
		return 1
	}

	score := 0.6 * SimilarityRatio(a.lower, b.lower)

	initials := initialsCompatible(a.lower, b.lower)
	if a.typ.IsPersonLike() && (a.phonetic == b.phonetic || initials) {
		score += 0.3
	}
	if strings.Contains(a.lower, b.lower) || strings.Contains(b.lower, a.lower) || initials || sharesAlias(a, b) {
		score += 0.2
	}
	for c := range a.context {
		if _, ok := b.context[c]; ok {
			score += 0.1
			break
		}
	}
	return min(score, 1)
}

func sharesAlias(a, b *form) bool {
	for alias := range a.aliases {
		if _, ok := b.aliases[alias]; ok {
			return true
		}
	}
	return false
}

// initialsCompatible reports "r. sharma" against "rahul sharma": same token
// count, same surname sound, and every other token equal or an initial of the other.
func initialsCompatible(a, b string) bool {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) < 2 || len(ta) != len(tb) {
		return false
	}
	last := len(ta) - 1
	if PhoneticCode(ta[last]) != PhoneticCode(tb[last]) {
		return false
	}
	sawInitial := false
	for i := 0; i < last; i++ {
		x, y := strings.TrimSuffix(ta[i], "."), strings.TrimSuffix(tb[i], ".")
		switch {
		case x == y:
		case utf8.RuneCountInString(x) == 1 && strings.HasPrefix(y, x):
			sawInitial = true
		case utf8.RuneCountInString(y) == 1 && strings.HasPrefix(x, y):
			sawInitial = true
		default:
			return false
		}
	}
	return sawInitial
}

// buildClusters assigns every form to its root and picks canonical values:
// most mentions first, then the longest value, then lexicographic order.
func buildClusters(forms []*form, uf *unionFind) *Resolution {
	groups := make(map[int][]int)
	var roots []int
	for i := range forms {
		root := uf.find(i)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], i)
	}

	res := &Resolution{index: make(map[string]int, len(forms))}
	for _, root := range roots {
		members := groups[root]
		best := forms[members[0]]
		cluster := MentionCluster{Type: best.typ}
		aliases := make(map[string]struct{})
		for _, i := range members {
			f := forms[i]
			cluster.Forms = append(cluster.Forms, f.value)
			cluster.Mentions += f.count
			for a := range f.aliases {
				aliases[a] = struct{}{}
			}
			if betterCanonical(f, best) {
				best = f
			}
		}
		cluster.Canonical = best.value
		for a := range aliases {
			cluster.Aliases = append(cluster.Aliases, a)
		}
		sort.Strings(cluster.Aliases)
		sort.Strings(cluster.Forms)

		idx := len(res.Clusters)
		res.Clusters = append(res.Clusters, cluster)
		for _, i := range members {
			res.index[forms[i].key] = idx
		}
	}
	return res
}

func betterCanonical(f, best *form) bool {
	if f.count != best.count {
		return f.count > best.count
	}
	lf, lb := utf8.RuneCountInString(f.value), utf8.RuneCountInString(best.value)
	if lf != lb {
		return lf > lb
	}
	return f.value < best.value
}

// unionFind is a disjoint-set forest with path compression and union by size
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (u *unionFind) find(x int) int {
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
