package services

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"tracelink-lab/internal/domain/models"
)

// Mention is one occurrence of an entity value inside a record
type Mention struct {
	Type       models.EntityType
	Value      string
	Normalized string
	RecordKey  string
	Table      string
	Field      string
	// Context holds the identifiers found in the same record, as "type:value"
	Context []string
	SeenAt  time.Time
}

// RecordMentions is everything the graph needs from one record
type RecordMentions struct {
	Record    models.StoredRecord
	Mentions  []Mention
	Relations []models.EntityRelation
	SeenAt    time.Time
}

type fieldHint struct {
	fragment string
	token    bool // match a whole key token instead of a substring
	typ      models.EntityType
}

// Order matters: the first hint that fits a key wins.
var fieldHints = []fieldHint{
	{"email", false, models.EntityEmail},
	{"mail", false, models.EntityEmail},
	{"phone", false, models.EntityPhone},
	{"mobile", false, models.EntityPhone},
	{"msisdn", false, models.EntityPhone},
	{"contact", false, models.EntityPhone},
	{"aadhaar", false, models.EntityAadhaar},
	{"aadhar", false, models.EntityAadhaar},
	{"uid", true, models.EntityAadhaar},
	{"pan", true, models.EntityPAN},
	{"ifsc", false, models.EntityIFSC},
	{"account", false, models.EntityAccount},
	{"acct", true, models.EntityAccount},
	{"acc", true, models.EntityAccount},
	{"vehicle", false, models.EntityVehicle},
	{"registration", false, models.EntityVehicle},
	{"ip", true, models.EntityIP},
	{"url", true, models.EntityURL},
	{"website", false, models.EntityURL},
	{"amount", false, models.EntityAmount},
	{"amt", true, models.EntityAmount},
	{"balance", false, models.EntityAmount},
	{"pincode", false, models.EntityPincode},
	{"pin", true, models.EntityPincode},
	{"zip", true, models.EntityPincode},
	{"date", false, models.EntityDate},
	{"dob", true, models.EntityDate},
	{"timestamp", false, models.EntityDate},
	{"created", true, models.EntityDate},
	{"company", false, models.EntityCompany},
	{"employer", false, models.EntityCompany},
	{"organisation", false, models.EntityCompany},
	{"organization", false, models.EntityCompany},
	{"city", false, models.EntityLocation},
	{"state", false, models.EntityLocation},
	{"district", false, models.EntityLocation},
	{"location", false, models.EntityLocation},
	{"town", false, models.EntityLocation},
	{"name", false, models.EntityName},
	{"holder", false, models.EntityName},
	{"owner", false, models.EntityName},
	{"beneficiary", false, models.EntityName},
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2 January 2006",
	"2 Jan 2006",
}

// MentionMapper turns raw records into entity mentions. Typed columns are
// read directly; free-text columns go through the extractor.
type MentionMapper struct {
	extractor Extractor
	now       func() time.Time
}

// NewMentionMapper creates a mapper. now supplies the timestamp of records without a date column.
func NewMentionMapper(extractor Extractor, now func() time.Time) *MentionMapper {
	if now == nil {
		now = time.Now
	}
	return &MentionMapper{extractor: extractor, now: now}
}

// Map extracts the mentions and explicit relations of one record
func (m *MentionMapper) Map(rec models.StoredRecord) RecordMentions {
	out := RecordMentions{Record: rec}

	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var seenAt time.Time
	for _, key := range keys {
		raw := fieldString(rec.Fields[key])
		if raw == "" {
			continue
		}

		typ, typed := classifyField(key)
		if typed {
			if typ == models.EntityDate {
				if t, ok := parseRecordTime(raw); ok {
					if seenAt.IsZero() {
						seenAt = t
					}
					raw = t.Format("2006-01-02")
				}
			}
			if norm := normalizeField(typ, raw); norm != "" {
				out.Mentions = append(out.Mentions, Mention{
					Type: typ, Value: raw, Normalized: norm,
					RecordKey: rec.Key, Table: rec.Table, Field: key,
				})
				continue
			}
		}

		if m.extractor == nil || !isFreeText(raw) {
			continue
		}
		extraction := m.extractor.Extract(raw)
		for _, e := range extraction.Entities {
			out.Mentions = append(out.Mentions, Mention{
				Type: e.Type, Value: e.Value, Normalized: e.Normalized,
				RecordKey: rec.Key, Table: rec.Table, Field: key,
			})
		}
		out.Relations = append(out.Relations, extraction.Relationships...)
	}

	if seenAt.IsZero() {
		seenAt = m.now()
	}
	out.SeenAt = seenAt

	var context []string
	for _, mention := range out.Mentions {
		if mention.Type.IsIdentifier() {
			context = append(context, string(mention.Type)+":"+strings.ToLower(mention.Normalized))
		}
	}
	for i := range out.Mentions {
		out.Mentions[i].SeenAt = seenAt
		out.Mentions[i].Context = context
	}
	return out
}

// classifyField guesses the entity type stored in a column from its name
func classifyField(key string) (models.EntityType, bool) {
	lower := strings.ToLower(key)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, h := range fieldHints {
		if h.token {
			for _, t := range tokens {
				if t == h.fragment {
					return h.typ, true
				}
			}
			continue
		}
		if strings.Contains(lower, h.fragment) {
			return h.typ, true
		}
	}
	return "", false
}

func normalizeField(t models.EntityType, raw string) string {
	switch t {
	case models.EntityAmount:
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) || r == '.' {
				return r
			}
			return -1
		}, raw)
		v, err := strconv.ParseFloat(cleaned, 64)
		if err != nil || v <= 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case models.EntityDate:
		if t, ok := parseRecordTime(raw); ok {
			return t.Format("2006-01-02")
		}
		return ""
	case models.EntityName, models.EntityLocation, models.EntityCompany:
		if !strings.ContainsFunc(raw, unicode.IsLetter) {
			return ""
		}
	}
	return NormalizeValue(t, raw)
}

func parseRecordTime(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// isFreeText reports values worth running the extractor over
func isFreeText(s string) bool {
	return utf8.RuneCountInString(s) >= 12 && strings.ContainsRune(s, ' ')
}
