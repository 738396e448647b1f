package services

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

// Extraction modes
const (
	ModeRegex  = "regex"
	ModeHybrid = "hybrid"
)

// Extractor turns free text into structured entities
type Extractor interface {
	Extract(text string) *models.ExtractionResult
}

// ExtractionStrategy is one stage of the extraction chain. Strategies run in
// order and share the claimed spans, so later stages only see free text.
type ExtractionStrategy interface {
	Name() string
	Extract(text string, claims *spanClaims) []models.Entity
}

// EntityExtractor extracts identifiers, names and places from investigator queries
// and record text
type EntityExtractor struct {
	cfg        config.ExtractionConfig
	strategies []ExtractionStrategy
	logger     *logger.Logger
}

// NewEntityExtractor creates an extractor whose strategy chain follows cfg.Mode
func NewEntityExtractor(cfg config.ExtractionConfig, log *logger.Logger) *EntityExtractor {
	if cfg.RelationWindow <= 0 {
		cfg.RelationWindow = 60
	}
	if cfg.ContactWindow <= 0 {
		cfg.ContactWindow = 50
	}

	ee := &EntityExtractor{
		cfg:    cfg,
		logger: log.WithComponent("entity-extractor"),
	}

	ee.strategies = []ExtractionStrategy{
		&patternStrategy{name: "identifiers", rules: highPriorityRules()},
		&patternStrategy{name: "contextual", rules: mediumPriorityRules(cfg)},
		&dictionaryStrategy{fuzzy: cfg.Mode == ModeHybrid},
	}

	return ee
}

// Strategies returns the names of the configured strategies in run order
func (ee *EntityExtractor) Strategies() []string {
	names := make([]string, len(ee.strategies))
	for i, s := range ee.strategies {
		names[i] = s.Name()
	}
	return names
}

// Extract never fails: text it cannot read simply yields no entities
func (ee *EntityExtractor) Extract(text string) *models.ExtractionResult {
	result := &models.ExtractionResult{
		Entities:      []models.Entity{},
		HighValue:     []models.Entity{},
		MediumValue:   []models.Entity{},
		LowValue:      []models.Entity{},
		Relationships: []models.EntityRelation{},
	}
	if strings.TrimSpace(text) == "" {
		return result
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, " ")
	}

	claims := &spanClaims{}
	var found []models.Entity
	for _, s := range ee.strategies {
		found = append(found, s.Extract(text, claims)...)
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Span.Start < found[j].Span.Start
	})

	if ee.cfg.InferRelationship || ee.cfg.Mode == ModeHybrid {
		result.Relationships = inferRelations(text, found, ee.cfg.RelationWindow, ee.cfg.ContactWindow)
	}

	result.Entities = dedupeEntities(found)
	for _, e := range result.Entities {
		switch e.Priority {
		case models.PriorityHigh:
			result.HighValue = append(result.HighValue, e)
		case models.PriorityMedium:
			result.MediumValue = append(result.MediumValue, e)
		default:
			result.LowValue = append(result.LowValue, e)
		}
	}

	ee.logger.Debug().
		Int("entities", len(result.Entities)).
		Int("relationships", len(result.Relationships)).
		Msg("extraction complete")

	return result
}

// dedupeEntities merges entities sharing (type, normalized value), keeping the
// most confident instance at the position of the first occurrence
func dedupeEntities(in []models.Entity) []models.Entity {
	index := make(map[string]int, len(in))
	out := make([]models.Entity, 0, len(in))
	for _, e := range in {
		key := string(e.Type) + ":" + strings.ToLower(e.Normalized)
		if i, ok := index[key]; ok {
			if e.Confidence > out[i].Confidence {
				out[i] = e
			}
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out
}

var wordTokenRe = regexp.MustCompile(`\p{L}[\p{L}']*\.?`)

type wordToken struct {
	text    string // as written, without a trailing dot
	lower   string
	span    models.Span
	initial bool
}

func tokenize(text string, claims *spanClaims) []wordToken {
	var tokens []wordToken
	for _, loc := range wordTokenRe.FindAllStringIndex(text, -1) {
		span := models.Span{Start: loc[0], End: loc[1]}
		if claims.overlaps(span) {
			continue
		}
		raw := text[loc[0]:loc[1]]
		bare := strings.TrimSuffix(raw, ".")
		tok := wordToken{
			text:    bare,
			lower:   strings.ToLower(bare),
			span:    span,
			initial: utf8.RuneCountInString(bare) == 1 && strings.HasSuffix(raw, "."),
		}
		if !tok.initial {
			tok.span.End = loc[0] + len(bare)
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// dictionaryStrategy finds names and places by dictionary membership over
// unclaimed text. With fuzzy set, tokens of five or more letters also match
// dictionary words one edit away.
type dictionaryStrategy struct {
	fuzzy bool
}

func (s *dictionaryStrategy) Name() string {
	if s.fuzzy {
		return "dictionary+fuzzy"
	}
	return "dictionary"
}

type tokenClass struct {
	name, place, fuzzy bool
}

func (s *dictionaryStrategy) classify(text string, tokens []wordToken, i int) tokenClass {
	t := tokens[i]
	if inSet(queryStopwords, t.lower) && !t.initial {
		return tokenClass{}
	}
	c := tokenClass{name: isNameWord(t.lower), place: isPlaceWord(t.lower)}
	if t.initial && i+1 < len(tokens) && adjacent(text, t, tokens[i+1]) && isNameWord(tokens[i+1].lower) {
		c.name = true
	}
	if !c.name && !c.place && s.fuzzy && utf8.RuneCountInString(t.lower) >= 5 {
		switch {
		case fuzzyInSet(firstNames, t.lower) || fuzzyInSet(surnames, t.lower):
			c.name, c.fuzzy = true, true
		case fuzzyInSet(cities, t.lower):
			c.place, c.fuzzy = true, true
		}
	}
	return c
}

func (s *dictionaryStrategy) Extract(text string, claims *spanClaims) []models.Entity {
	tokens := tokenize(text, claims)
	var out []models.Entity

	for i := 0; i < len(tokens); {
		t := tokens[i]
		afterPreposition := i > 0 && inSet(locationPrepositions, tokens[i-1].lower) && adjacent(text, tokens[i-1], t)

		// two-word places ("new delhi", "uttar pradesh")
		if i+1 < len(tokens) && adjacent(text, t, tokens[i+1]) && isPlaceWord(t.lower+" "+tokens[i+1].lower) {
			out = append(out, placeEntity(text, t.span.Start, tokens[i+1].span.End, afterPreposition, false))
			i += 2
			continue
		}

		c := s.classify(text, tokens, i)
		switch {
		case c.place && (!c.name || afterPreposition):
			out = append(out, placeEntity(text, t.span.Start, t.span.End, afterPreposition, c.fuzzy))
			i++
		case c.name:
			j := i
			fuzzy := c.fuzzy
			for j+1 < len(tokens) && adjacent(text, tokens[j], tokens[j+1]) {
				next := s.classify(text, tokens, j+1)
				if !next.name || (next.place && !isNameWord(tokens[j+1].lower)) {
					break
				}
				fuzzy = fuzzy || next.fuzzy
				j++
			}
			out = append(out, nameEntity(text, tokens[i:j+1], fuzzy))
			i = j + 1
		default:
			i++
		}
	}

	for _, e := range out {
		claims.claim(e.Span)
	}
	return out
}

func nameEntity(text string, run []wordToken, fuzzy bool) models.Entity {
	parts := make([]string, len(run))
	for k, t := range run {
		if t.initial {
			parts[k] = strings.ToUpper(t.text) + "."
		} else {
			parts[k] = TitleCase(t.text)
		}
	}

	confidence := 0.5
	if len(run) > 1 {
		confidence = 0.85
	}
	source := models.SourceDictionary
	if fuzzy {
		confidence *= 0.8
		source = models.SourceFuzzy
	}

	span := models.Span{Start: run[0].span.Start, End: run[len(run)-1].span.End}
	return models.Entity{
		Type:       models.EntityName,
		Value:      text[span.Start:span.End],
		Normalized: strings.Join(parts, " "),
		Confidence: confidence,
		Priority:   models.PriorityLow,
		Span:       span,
		Source:     source,
	}
}

func placeEntity(text string, start, end int, afterPreposition, fuzzy bool) models.Entity {
	confidence := 0.75
	if afterPreposition {
		confidence = 0.85
	}
	source := models.SourceDictionary
	if fuzzy {
		confidence *= 0.8
		source = models.SourceFuzzy
	}
	value := text[start:end]
	return models.Entity{
		Type:       models.EntityLocation,
		Value:      value,
		Normalized: TitleCase(value),
		Confidence: confidence,
		Priority:   models.PriorityLow,
		Span:       models.Span{Start: start, End: end},
		Source:     source,
	}
}

// adjacent reports whether only whitespace separates two tokens
func adjacent(text string, a, b wordToken) bool {
	if b.span.Start <= a.span.End {
		return false
	}
	return strings.TrimSpace(text[a.span.End:b.span.Start]) == ""
}

func fuzzyInSet(set map[string]struct{}, w string) bool {
	n := len(w)
	for candidate := range set {
		if d := len(candidate) - n; d > 1 || d < -1 {
			continue
		}
		if Levenshtein(candidate, w) <= 1 {
			return true
		}
	}
	return false
}
