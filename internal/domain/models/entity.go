package models

// EntityType represents the kind of structured value recognized in free text
type EntityType string

const (
	EntityPhone    EntityType = "phone"
	EntityEmail    EntityType = "email"
	EntityPAN      EntityType = "pan"
	EntityAadhaar  EntityType = "aadhaar"
	EntityIFSC     EntityType = "ifsc"
	EntityAccount  EntityType = "account"
	EntityVehicle  EntityType = "vehicle"
	EntityIP       EntityType = "ip"
	EntityURL      EntityType = "url"
	EntityAmount   EntityType = "amount"
	EntityDate     EntityType = "date"
	EntityPincode  EntityType = "pincode"
	EntityCompany  EntityType = "company"
	EntityName     EntityType = "name"
	EntityLocation EntityType = "location"
)

// AllEntityTypes lists every recognized type in extraction order
var AllEntityTypes = []EntityType{
	EntityEmail, EntityURL, EntityIP, EntityAadhaar, EntityAccount, EntityPAN,
	EntityIFSC, EntityVehicle, EntityPhone, EntityAmount, EntityDate,
	EntityPincode, EntityCompany, EntityName, EntityLocation,
}

// Priority groups entity types by how selective they are as search terms
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PriorityOf returns the extraction priority of an entity type
func PriorityOf(t EntityType) Priority {
	switch t {
	case EntityPhone, EntityEmail, EntityPAN, EntityAadhaar, EntityIFSC,
		EntityAccount, EntityVehicle, EntityIP, EntityURL:
		return PriorityHigh
	case EntityAmount, EntityDate, EntityPincode, EntityCompany:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// IsIdentifier reports whether values of this type identify a single real-world entity
func (t EntityType) IsIdentifier() bool {
	return PriorityOf(t) == PriorityHigh
}

// IsPersonLike reports whether the type names a person or organisation
func (t EntityType) IsPersonLike() bool {
	return t == EntityName || t == EntityCompany
}

// Span is a half-open byte range [Start, End) in the source text
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether two spans share at least one byte
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// ExtractionSource records which strategy produced an entity
type ExtractionSource string

const (
	SourcePattern    ExtractionSource = "pattern"
	SourceContext    ExtractionSource = "context"
	SourceDictionary ExtractionSource = "dictionary"
	SourceFuzzy      ExtractionSource = "fuzzy"
)

// Entity is one recognized value in a piece of text
type Entity struct {
	Type       EntityType       `json:"type"`
	Value      string           `json:"value"`
	Normalized string           `json:"normalized"`
	Confidence float64          `json:"confidence"`
	Priority   Priority         `json:"priority"`
	Span       Span             `json:"span"`
	Source     ExtractionSource `json:"source"`
}

// Key returns the deduplication key of the entity
func (e Entity) Key() string {
	return string(e.Type) + ":" + e.Normalized
}

// RelationType is the kind of link between two entities
type RelationType string

const (
	RelationFamily           RelationType = "family"
	RelationFinancial        RelationType = "financial"
	RelationCommunication    RelationType = "communication"
	RelationLocation         RelationType = "location"
	RelationEmployment       RelationType = "employment"
	RelationOwnership        RelationType = "ownership"
	RelationContact          RelationType = "contact"
	RelationCoOccurrence     RelationType = "co_occurrence"
	RelationSharedIdentifier RelationType = "shared_identifier"
)

// Symmetric reports whether the relation has no direction
func (r RelationType) Symmetric() bool {
	switch r {
	case RelationFinancial, RelationOwnership, RelationEmployment:
		return false
	default:
		return true
	}
}

// EntityRelation is a relationship inferred between two entities of one text
type EntityRelation struct {
	Type       RelationType `json:"type"`
	From       Entity       `json:"from"`
	To         Entity       `json:"to"`
	Keyword    string       `json:"keyword,omitempty"`
	Confidence float64      `json:"confidence"`
}

// ExtractionResult holds everything recognized in one text
type ExtractionResult struct {
	Entities      []Entity         `json:"entities"`
	HighValue     []Entity         `json:"high_value"`
	MediumValue   []Entity         `json:"medium_value"`
	LowValue      []Entity         `json:"low_value"`
	Relationships []EntityRelation `json:"relationships"`
}

// OfType returns entities of the given type in text order
func (r *ExtractionResult) OfType(t EntityType) []Entity {
	var out []Entity
	for _, e := range r.Entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
