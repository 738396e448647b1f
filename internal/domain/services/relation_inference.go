package services

import (
	"strings"

	"tracelink-lab/internal/domain/models"
)

// relationBridge is a phrase that links the entity before it to the entity after it
type relationBridge struct {
	relation models.RelationType
	phrases  []string
	reversed []string
	accepts  func(from, to models.EntityType) bool
}

func anyPair(_, _ models.EntityType) bool { return true }

var relationBridges = []relationBridge{
	{
		relation: models.RelationFamily,
		phrases: []string{"son of", "daughter of", "wife of", "husband of", "father of",
			"mother of", "brother of", "sister of", "s/o", "d/o", "w/o"},
		accepts: func(from, to models.EntityType) bool {
			return from == models.EntityName && to == models.EntityName
		},
	},
	{
		relation: models.RelationFinancial,
		phrases: []string{"paid", "sent", "transferred", "transferred to", "transfer to",
			"deposited", "deposited in", "credited to", "debited", "sent money to"},
		reversed: []string{"received from", "got money from"},
		accepts:  anyPair,
	},
	{
		relation: models.RelationCommunication,
		phrases:  []string{"called", "messaged", "contacted", "spoke to", "texted", "emailed", "whatsapp", "whatsapped"},
		accepts:  anyPair,
	},
	{
		relation: models.RelationEmployment,
		phrases:  []string{"works at", "works for", "working at", "employed at", "employed by", "employee of"},
		accepts: func(from, to models.EntityType) bool {
			return from == models.EntityName && to.IsPersonLike()
		},
	},
	{
		relation: models.RelationOwnership,
		phrases:  []string{"owns", "owner of", "registered owner of"},
		reversed: []string{"owned by", "belongs to", "registered to", "registered in the name of"},
		accepts:  anyPair,
	},
	{
		relation: models.RelationLocation,
		phrases:  []string{"from", "in", "at", "lives in", "living in", "resident of", "based in", "near", "of"},
		accepts: func(from, to models.EntityType) bool {
			return to == models.EntityLocation && from != models.EntityLocation
		},
	},
}

// inferRelations links neighbouring entities through bridge phrases and pairs
// each name with phones close to it. entities must be sorted by span start.
func inferRelations(text string, entities []models.Entity, window, contactWindow int) []models.EntityRelation {
	var out []models.EntityRelation
	seen := make(map[string]bool)
	add := func(r models.EntityRelation) {
		key := string(r.Type) + "|" + r.From.Key() + "|" + r.To.Key()
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, r)
	}

	for i := 0; i+1 < len(entities); i++ {
		a, b := entities[i], entities[i+1]
		if b.Span.Start < a.Span.End || b.Span.Start-a.Span.End > window {
			continue
		}
		between := strings.ToLower(text[a.Span.End:b.Span.Start])
		if crossesSentence(between) {
			continue
		}
		if r, ok := bridgeRelation(a, b, between); ok {
			add(r)
		}
	}

	for i, a := range entities {
		if a.Type != models.EntityName {
			continue
		}
		for j, b := range entities {
			if i == j || b.Type != models.EntityPhone {
				continue
			}
			if spanDistance(a.Span, b.Span) > contactWindow {
				continue
			}
			add(models.EntityRelation{
				Type:       models.RelationContact,
				From:       a,
				To:         b,
				Confidence: 0.6,
			})
		}
	}

	return out
}

func bridgeRelation(a, b models.Entity, between string) (models.EntityRelation, bool) {
	padded := " " + strings.Join(strings.Fields(between), " ") + " "
	for _, bridge := range relationBridges {
		for _, p := range bridge.reversed {
			if strings.Contains(padded, " "+p+" ") && bridge.accepts(b.Type, a.Type) {
				return models.EntityRelation{Type: bridge.relation, From: b, To: a, Keyword: p, Confidence: 0.7}, true
			}
		}
		for _, p := range bridge.phrases {
			if strings.Contains(padded, " "+p+" ") && bridge.accepts(a.Type, b.Type) {
				return models.EntityRelation{Type: bridge.relation, From: a, To: b, Keyword: p, Confidence: 0.7}, true
			}
		}
	}
	return models.EntityRelation{}, false
}

func crossesSentence(between string) bool {
	return strings.ContainsAny(between, "\n;") || strings.Contains(between, ". ")
}

func spanDistance(a, b models.Span) int {
	if a.End <= b.Start {
		return b.Start - a.End
	}
	if b.End <= a.Start {
		return a.Start - b.End
	}
	return 0
}
