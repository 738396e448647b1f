package services

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

func newTestExtractor(mode string) *EntityExtractor {
	cfg := config.Default().Extraction
	cfg.Mode = mode
	return NewEntityExtractor(cfg, logger.NewNop())
}

func findEntity(t *testing.T, res *models.ExtractionResult, typ models.EntityType) models.Entity {
	t.Helper()
	got := res.OfType(typ)
	require.Len(t, got, 1, "expected exactly one %s entity in %+v", typ, res.Entities)
	return got[0]
}

func TestExtract_InvestigatorQuery(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	res := ee.Extract("rahul sharma from delhi with phone 9876543210")

	phone := findEntity(t, res, models.EntityPhone)
	assert.Equal(t, "9876543210", phone.Normalized)
	assert.Equal(t, models.PriorityHigh, phone.Priority)

	name := findEntity(t, res, models.EntityName)
	assert.Equal(t, "Rahul Sharma", name.Normalized)
	assert.InDelta(t, 0.85, name.Confidence, 1e-9)

	loc := findEntity(t, res, models.EntityLocation)
	assert.Equal(t, "Delhi", loc.Normalized)

	assert.Len(t, res.Entities, 3)
	assert.Len(t, res.HighValue, 1)
	assert.Len(t, res.LowValue, 2)

	var kinds []models.RelationType
	for _, r := range res.Relationships {
		kinds = append(kinds, r.Type)
	}
	assert.Contains(t, kinds, models.RelationLocation)
	assert.Contains(t, kinds, models.RelationContact)
}

func TestExtract_ClaimedSpansAreNotRescanned(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	res := ee.Extract("mail rahul.sharma@example.com now")

	email := findEntity(t, res, models.EntityEmail)
	assert.Equal(t, "rahul.sharma@example.com", email.Normalized)
	assert.Empty(t, res.OfType(models.EntityName), "name tokens inside the email must not be extracted")
}

func TestExtract_ContextualIdentifiers(t *testing.T) {
	ee := newTestExtractor(ModeRegex)

	t.Run("aadhaar needs keyword", func(t *testing.T) {
		res := ee.Extract("ref 234567891234")
		assert.Empty(t, res.OfType(models.EntityAadhaar))

		res = ee.Extract("aadhaar: 2345 6789 1234")
		a := findEntity(t, res, models.EntityAadhaar)
		assert.Equal(t, "234567891234", a.Normalized)
	})

	t.Run("bare number keyword introduces a landline", func(t *testing.T) {
		for _, q := range []string{"number 02223456789", "call on no. 022 2345 6789", "landline: 022-2345-6789"} {
			res := ee.Extract(q)
			p := findEntity(t, res, models.EntityPhone)
			assert.Equal(t, NormalizePhone("02223456789"), p.Normalized, q)
			assert.Equal(t, models.SourceContext, p.Source, q)
		}

		res := ee.Extract("account number 123456789012")
		assert.Empty(t, res.OfType(models.EntityPhone))
		assert.NotEmpty(t, res.OfType(models.EntityAccount))
	})

	t.Run("account needs keyword", func(t *testing.T) {
		res := ee.Extract("id 123456789012345")
		assert.Empty(t, res.OfType(models.EntityAccount))

		res = ee.Extract("a/c: 123456789012345")
		a := findEntity(t, res, models.EntityAccount)
		assert.Equal(t, "123456789012345", a.Normalized)
		assert.Empty(t, res.OfType(models.EntityPhone))
	})
}

func TestExtract_Identifiers(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	res := ee.Extract("pan ABCDE1234F ifsc SBIN0001234 vehicle DL 3C AB 1234 from 10.20.30.40")

	assert.Equal(t, "ABCDE1234F", findEntity(t, res, models.EntityPAN).Normalized)
	assert.Equal(t, "SBIN0001234", findEntity(t, res, models.EntityIFSC).Normalized)
	assert.Equal(t, "DL3CAB1234", findEntity(t, res, models.EntityVehicle).Normalized)
	assert.Equal(t, "10.20.30.40", findEntity(t, res, models.EntityIP).Normalized)
}

func TestExtract_Amounts(t *testing.T) {
	ee := newTestExtractor(ModeRegex)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"symbol with commas", "paid Rs. 2,50,000 yesterday", "250000"},
		{"lakh multiplier", "sent rs 5 lakh", "500000"},
		{"trailing word", "deposited 1500 rupees", "1500"},
		{"phone shaped", "rs 9876543210", ""},
		{"pincode shaped", "rs 110001", ""},
		{"below minimum", "rs 20", ""},
		{"too many digits", "rs 1234567890123456", ""},
		{"no currency", "got 250000 today", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ee.Extract(tt.text).OfType(models.EntityAmount)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Normalized)
		})
	}
}

func TestExtract_Dates(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	res := ee.Extract("transfer on 05/03/2024 and again on 12 March 2024")
	dates := res.OfType(models.EntityDate)
	require.Len(t, dates, 2)
	assert.Equal(t, "2024-03-05", dates[0].Normalized)
	assert.Equal(t, "2024-03-12", dates[1].Normalized)
}

func TestExtract_SingleTokenNameConfidence(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	name := findEntity(t, ee.Extract("records of sharma"), models.EntityName)
	assert.InDelta(t, 0.5, name.Confidence, 1e-9)
}

func TestExtract_InitialsJoinName(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	name := findEntity(t, ee.Extract("find R. Sharma"), models.EntityName)
	assert.Equal(t, "R. Sharma", name.Normalized)
}

func TestExtract_MultiWordPlace(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	loc := findEntity(t, ee.Extract("amit lives in new delhi"), models.EntityLocation)
	assert.Equal(t, "New Delhi", loc.Normalized)
}

func TestExtract_Dedup(t *testing.T) {
	ee := newTestExtractor(ModeRegex)
	res := ee.Extract("call 9876543210 or +91 98765 43210")
	phones := res.OfType(models.EntityPhone)
	require.Len(t, phones, 1)
	assert.Equal(t, "9876543210", phones[0].Normalized)
}

func TestExtract_HybridFuzzy(t *testing.T) {
	regex := newTestExtractor(ModeRegex)
	hybrid := newTestExtractor(ModeHybrid)

	assert.Empty(t, regex.Extract("show sharmaa").OfType(models.EntityName))

	got := hybrid.Extract("show sharmaa").OfType(models.EntityName)
	require.Len(t, got, 1)
	assert.Equal(t, models.SourceFuzzy, got[0].Source)
	assert.Equal(t, []string{"identifiers", "contextual", "dictionary+fuzzy"}, hybrid.Strategies())
}

func TestExtract_MalformedInput(t *testing.T) {
	ee := newTestExtractor(ModeHybrid)
	assert.NotPanics(t, func() {
		res := ee.Extract("\xff\xfe rahul \x00")
		assert.NotNil(t, res)
	})
	assert.Empty(t, ee.Extract("   ").Entities)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+91 98765-43210", "9876543210"},
		{"9876543210", "9876543210"},
		{"09876543210", "9876543210"},
		{"919876543210", "9876543210"},
		{"022 2345 6789", "2223456789"},
		{"12345", ""},
		{"1234567890123456", ""},
		{"phone", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), tt.in)
	}
}

func TestNormalizePhone_Properties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	mobile := gen.SliceOfN(10, gen.IntRange(0, 9)).Map(func(digits []int) string {
		b := make([]byte, len(digits))
		for i, d := range digits {
			b[i] = byte('0' + d)
		}
		b[0] = byte('6' + digits[0]%4)
		return string(b)
	})

	properties.Property("country code and separators do not change the number", prop.ForAll(
		func(m string) bool {
			formatted := "+91 " + m[:5] + "-" + m[5:]
			return NormalizePhone(formatted) == m && NormalizePhone(m) == m
		},
		mobile,
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(s string) bool {
			n := NormalizePhone(s)
			return n == "" || NormalizePhone(n) == n
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
