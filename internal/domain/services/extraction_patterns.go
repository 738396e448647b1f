package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
)

// patternRule recognises one entity type with a regular expression.
// group selects the capture group holding the value; 0 means the whole match.
type patternRule struct {
	entityType models.EntityType
	re         *regexp.Regexp
	group      int
	confidence float64
	source     models.ExtractionSource
	normalize  func(value string, groups []string) (string, bool)
}

var (
	emailRe = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	urlRe   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"'\)]+`)
	ipRe    = regexp.MustCompile(
		`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`,
	)
	aadhaarRe = regexp.MustCompile(
		`(?i)\b(?:aadhaar|aadhar|uidai|uid)(?:\s*(?:card|no\.?|number|#))*\s*[:\-]?\s*(\d{4}[\s-]?\d{4}[\s-]?\d{4})\b`,
	)
	accountRe = regexp.MustCompile(
		`(?i)(?:\ba/c|\bacct|\bacc(?:ount)?)(?:\s*(?:no\.?|number|#))?\s*[:\-.]?\s*(\d{9,18})\b`,
	)
	panRe     = regexp.MustCompile(`(?i)\b[A-Z]{5}[0-9]{4}[A-Z]\b`)
	ifscRe    = regexp.MustCompile(`(?i)\b[A-Z]{4}0[A-Z0-9]{6}\b`)
	vehicleRe = regexp.MustCompile(`(?i)\b[A-Z]{2}[\s-]?\d{1,2}[A-Z]?[\s-]?[A-Z]{1,3}[\s-]?\d{4}\b`)
	phoneRe   = regexp.MustCompile(`(?:\+?\b91[\s-]?|\b0|\b)[6-9]\d{4}[\s-]?\d{5}\b`)
	ctxPhone  = regexp.MustCompile(
		`(?i)\b(?:(?:ph|phone|mob|mobile|tel|telephone|contact|cell|landline)(?:\s*(?:no\.?|number|#))?|number|no\.)\s*[:\-.]?\s*(\+?\d[\d\s-]{6,16}\d)\b`,
	)

	amountRe = regexp.MustCompile(
		`(?i)(?:₹|\brs\.?|\binr)\s*(\d[\d,]*(?:\.\d+)?)(?:\s*(lakhs?|lacs?|crores?|cr|k)\b)?` +
			`|\b(\d[\d,]*(?:\.\d+)?)(?:\s*(lakhs?|lacs?|crores?|cr|k))?\s*(?:rupees|rs|inr)\b`,
	)
	dateDMYRe   = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})\b`)
	dateISORe   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dateWordsRe = regexp.MustCompile(
		`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+(\d{4})\b`,
	)
	pincodeRe = regexp.MustCompile(`(?i)\b(?:pin\s*code|pincode|pin|postal\s*code|zip)\s*[:\-]?\s*([1-9]\d{2}\s?\d{3})\b`)
	companyRe = regexp.MustCompile(
		`\b(?:[A-Z][A-Za-z&]+\s+){1,4}(?i:pvt\.?\s*ltd\.?|private\s+limited|ltd\.?|limited|llp|inc\.?|corp\.?|corporation|enterprises|industries|traders|solutions|technologies)`,
	)
)

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// highPriorityRules run first and claim their spans in this order
func highPriorityRules() []patternRule {
	return []patternRule{
		{entityType: models.EntityEmail, re: emailRe, confidence: 0.95, source: models.SourcePattern},
		{entityType: models.EntityURL, re: urlRe, confidence: 0.9, source: models.SourcePattern},
		{entityType: models.EntityIP, re: ipRe, confidence: 0.9, source: models.SourcePattern},
		{entityType: models.EntityAadhaar, re: aadhaarRe, group: 1, confidence: 0.95, source: models.SourceContext},
		{entityType: models.EntityAccount, re: accountRe, group: 1, confidence: 0.9, source: models.SourceContext},
		{entityType: models.EntityPAN, re: panRe, confidence: 0.95, source: models.SourcePattern},
		{entityType: models.EntityIFSC, re: ifscRe, confidence: 0.9, source: models.SourcePattern},
		{entityType: models.EntityVehicle, re: vehicleRe, confidence: 0.85, source: models.SourcePattern},
		{entityType: models.EntityPhone, re: phoneRe, confidence: 0.95, source: models.SourcePattern, normalize: acceptMobile},
		{entityType: models.EntityPhone, re: ctxPhone, group: 1, confidence: 0.7, source: models.SourceContext},
	}
}

// mediumPriorityRules run after identifiers and before the dictionary scan
func mediumPriorityRules(cfg config.ExtractionConfig) []patternRule {
	return []patternRule{
		{entityType: models.EntityAmount, re: amountRe, confidence: 0.8, source: models.SourceContext, normalize: amountNormalizer(cfg)},
		{entityType: models.EntityDate, re: dateISORe, confidence: 0.85, source: models.SourcePattern, normalize: dateFromGroups(1, 2, 3)},
		{entityType: models.EntityDate, re: dateDMYRe, confidence: 0.8, source: models.SourcePattern, normalize: dateFromGroups(3, 2, 1)},
		{entityType: models.EntityDate, re: dateWordsRe, confidence: 0.8, source: models.SourcePattern, normalize: dateFromGroups(3, 2, 1)},
		{entityType: models.EntityPincode, re: pincodeRe, group: 1, confidence: 0.85, source: models.SourceContext},
		{entityType: models.EntityCompany, re: companyRe, confidence: 0.7, source: models.SourcePattern},
	}
}

func acceptMobile(value string, _ []string) (string, bool) {
	n := NormalizePhone(value)
	return n, IsMobile(n)
}

// amountNormalizer rejects bare numbers that look like phones, pincodes or IDs
func amountNormalizer(cfg config.ExtractionConfig) func(string, []string) (string, bool) {
	return func(_ string, groups []string) (string, bool) {
		num, unit := groups[1], groups[2]
		if num == "" {
			num, unit = groups[3], groups[4]
		}
		if num == "" {
			return "", false
		}

		hasComma := strings.Contains(num, ",")
		plain := strings.ReplaceAll(num, ",", "")
		intPart := plain
		if i := strings.IndexByte(plain, '.'); i >= 0 {
			intPart = plain[:i]
		}

		if cfg.MaxAmountDigits > 0 && len(intPart) > cfg.MaxAmountDigits {
			return "", false
		}
		if !hasComma && unit == "" {
			if IsMobile(intPart) {
				return "", false
			}
			if len(intPart) == 6 && !strings.Contains(plain, ".") {
				return "", false
			}
		}

		v, err := strconv.ParseFloat(plain, 64)
		if err != nil {
			return "", false
		}
		switch u := strings.ToLower(unit); {
		case strings.HasPrefix(u, "la"):
			v *= 1e5
		case strings.HasPrefix(u, "cr"):
			v *= 1e7
		case u == "k":
			v *= 1e3
		}
		if v < cfg.MinAmount {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
}

// dateFromGroups builds YYYY-MM-DD from the year, month and day groups
func dateFromGroups(yi, mi, di int) func(string, []string) (string, bool) {
	return func(_ string, groups []string) (string, bool) {
		year, err := strconv.Atoi(groups[yi])
		if err != nil {
			return "", false
		}
		day, err := strconv.Atoi(groups[di])
		if err != nil {
			return "", false
		}
		var month time.Month
		if m, ok := monthIndex[strings.ToLower(groups[mi])]; ok {
			month = m
		} else {
			n, err := strconv.Atoi(groups[mi])
			if err != nil {
				return "", false
			}
			month = time.Month(n)
		}
		if month < time.January || month > time.December || year < 1900 || year > 2100 {
			return "", false
		}
		t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day {
			return "", false
		}
		return t.Format("2006-01-02"), true
	}
}

// patternStrategy runs an ordered set of regex rules, claiming matched spans
type patternStrategy struct {
	name  string
	rules []patternRule
}

func (s *patternStrategy) Name() string { return s.name }

func (s *patternStrategy) Extract(text string, claims *spanClaims) []models.Entity {
	var out []models.Entity
	for _, rule := range s.rules {
		for _, loc := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*rule.group], loc[2*rule.group+1]
			if start < 0 {
				continue
			}
			span := models.Span{Start: start, End: end}
			if claims.overlaps(span) {
				continue
			}

			value := strings.TrimRight(text[start:end], " .,;:")
			span.End = start + len(value)

			var normalized string
			ok := true
			if rule.normalize != nil {
				normalized, ok = rule.normalize(value, submatches(text, loc))
			} else {
				normalized = NormalizeValue(rule.entityType, value)
				ok = normalized != ""
			}
			if !ok {
				continue
			}

			confidence := rule.confidence
			if rule.entityType == models.EntityPhone && !IsMobile(normalized) {
				confidence = 0.6
			}

			claims.claim(span)
			out = append(out, models.Entity{
				Type:       rule.entityType,
				Value:      value,
				Normalized: normalized,
				Confidence: confidence,
				Priority:   models.PriorityOf(rule.entityType),
				Span:       span,
				Source:     rule.source,
			})
		}
	}
	return out
}

func submatches(text string, loc []int) []string {
	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] >= 0 {
			groups[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return groups
}

// spanClaims records byte ranges already owned by an extracted entity
type spanClaims struct {
	spans []models.Span
}

func (c *spanClaims) overlaps(s models.Span) bool {
	for _, claimed := range c.spans {
		if claimed.Overlaps(s) {
			return true
		}
	}
	return false
}

func (c *spanClaims) claim(s models.Span) {
	c.spans = append(c.spans, s)
}
