// Package relationship implements the core-referenced contact/relationship
// taxonomy (§3/§4.18): a seeded catalogue of relationship types grouped by
// category, directional relationship edges with auto-generated reverse
// labels, and a per-contact activity feed. Grounded on
// original_source/tests/tools/test_relationship_types.py.
package relationship

import (
	"time"

	"github.com/google/uuid"
)

// RelationshipType is one (forward_label, reverse_label) taxonomy entry,
// grouped for display (§3 "Relationship Type").
type RelationshipType struct {
	ID           uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	Group        string    `gorm:"column:group"`
	ForwardLabel string    `gorm:"column:forward_label"`
	ReverseLabel string    `gorm:"column:reverse_label"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (RelationshipType) TableName() string { return "relationship_types" }

// Contact is one person tracked by the relationship graph.
type Contact struct {
	ID         uuid.UUID  `gorm:"column:id;primaryKey;type:uuid"`
	Name       string     `gorm:"column:name"`
	Details    []byte     `gorm:"column:details"`
	ArchivedAt *time.Time `gorm:"column:archived_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (Contact) TableName() string { return "contacts" }

// Relationship is one directional edge between two contacts. A typed
// relationship_add call inserts two rows, one per direction, sharing the
// same relationship_type_id but carrying each direction's own label.
type Relationship struct {
	ID                 uuid.UUID  `gorm:"column:id;primaryKey;type:uuid"`
	ContactA           uuid.UUID  `gorm:"column:contact_a;type:uuid"`
	ContactB           uuid.UUID  `gorm:"column:contact_b;type:uuid"`
	Type               string     `gorm:"column:type"`
	RelationshipTypeID *uuid.UUID `gorm:"column:relationship_type_id;type:uuid"`
	Notes              string     `gorm:"column:notes"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
}

func (Relationship) TableName() string { return "relationships" }

// ActivityFeed is one entry in a contact's activity log.
type ActivityFeed struct {
	ID          uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	ContactID   uuid.UUID `gorm:"column:contact_id;type:uuid"`
	Type        string    `gorm:"column:type"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (ActivityFeed) TableName() string { return "activity_feed" }

// AllModels is the set of tables this package owns, for AutoMigrate callers.
func AllModels() []any {
	return []any{&RelationshipType{}, &Contact{}, &Relationship{}, &ActivityFeed{}}
}

// seedType is one row of the relationship type taxonomy seeded on first use.
type seedType struct {
	group        string
	forwardLabel string
	reverseLabel string
}

// seedTypes mirrors the taxonomy's fixed catalogue: symmetric types repeat
// the same label in both directions, asymmetric ones (parent/child,
// boss/subordinate, mentor/protege, uncle-aunt/nephew-niece,
// grandparent/grandchild) carry distinct forward and reverse labels. The
// trailing "custom" entry is the fallback freetext resolves to when no
// label matches.
var seedTypes = []seedType{
	{"Love", "spouse", "spouse"},
	{"Love", "partner", "partner"},
	{"Love", "ex-partner", "ex-partner"},
	{"Family", "parent", "child"},
	{"Family", "sibling", "sibling"},
	{"Family", "grandparent", "grandchild"},
	{"Family", "uncle/aunt", "nephew/niece"},
	{"Family", "cousin", "cousin"},
	{"Family", "in-law", "in-law"},
	{"Friend", "friend", "friend"},
	{"Friend", "best friend", "best friend"},
	{"Work", "colleague", "colleague"},
	{"Work", "boss", "subordinate"},
	{"Work", "mentor", "protege"},
	{"Custom", "custom", "custom"},
}

const customLabel = "custom"
