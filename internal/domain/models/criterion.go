package models

// CriterionRole says how a criterion is used during a search
type CriterionRole string

const (
	RolePrimary   CriterionRole = "primary"
	RoleSecondary CriterionRole = "secondary"
)

// Category is the scoring bucket of a criterion
type Category string

const (
	CategoryPhone    Category = "phone"
	CategoryEmail    Category = "email"
	CategoryID       Category = "id"
	CategoryAccount  Category = "account"
	CategoryName     Category = "name"
	CategoryLocation Category = "location"
	CategoryCompany  Category = "company"
	CategoryKeyword  Category = "keyword"
)

// CategoryOf maps an entity type to its criterion category
func CategoryOf(t EntityType) Category {
	switch t {
	case EntityPhone:
		return CategoryPhone
	case EntityEmail:
		return CategoryEmail
	case EntityPAN, EntityAadhaar, EntityVehicle, EntityIFSC, EntityIP, EntityURL:
		return CategoryID
	case EntityAccount:
		return CategoryAccount
	case EntityName:
		return CategoryName
	case EntityLocation, EntityPincode:
		return CategoryLocation
	case EntityCompany:
		return CategoryCompany
	default:
		return CategoryKeyword
	}
}

// IsIdentifier reports whether the category is selective enough to search by
func (c Category) IsIdentifier() bool {
	switch c {
	case CategoryPhone, CategoryEmail, CategoryID, CategoryAccount:
		return true
	}
	return false
}

// Criterion is one parsed search condition. Criteria are never mutated after planning.
type Criterion struct {
	ID              string        `json:"id"`
	Role            CriterionRole `json:"role"`
	Category        Category      `json:"category"`
	EntityType      EntityType    `json:"entity_type"`
	Value           string        `json:"value"`
	NormalizedValue string        `json:"normalized_value"`
	Confidence      float64       `json:"confidence"`
	Weight          float64       `json:"weight"`
	Promoted        bool          `json:"promoted,omitempty"`
}

// SearchStrategy is a scoring hint derived from the number of criteria
type SearchStrategy string

const (
	StrategyIntersection SearchStrategy = "intersection"
	StrategyUnion        SearchStrategy = "union"
)

// SearchPlan is the output of query planning
type SearchPlan struct {
	Criteria []Criterion    `json:"criteria"`
	Intent   string         `json:"intent"`
	Strategy SearchStrategy `json:"strategy"`
}

// Primary returns the criteria used as literal search terms
func (p *SearchPlan) Primary() []Criterion {
	return p.byRole(RolePrimary)
}

// Secondary returns the criteria used only for filtering
func (p *SearchPlan) Secondary() []Criterion {
	return p.byRole(RoleSecondary)
}

func (p *SearchPlan) byRole(role CriterionRole) []Criterion {
	var out []Criterion
	for _, c := range p.Criteria {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}
