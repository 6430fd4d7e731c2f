// Package memory implements the core-referenced memory contract (§3/§4 —
// episodes, facts, rules, their links, and an append-only event trail).
// Facts carry a permanence-to-decay mapping and atomic supersession;
// episodes and rules use type-specific soft-delete strategies. Grounded on
// original_source/roster/memory/storage.py and its integration tests.
package memory

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Validity values for a Fact row.
const (
	ValidityActive     = "active"
	ValiditySuperseded = "superseded"
	ValidityRetracted  = "retracted"
)

// permanenceDecay maps a fact's declared permanence to its decay rate.
// Unrecognized permanence strings fall back to "standard" (0.008).
var permanenceDecay = map[string]float64{
	"permanent": 0.0,
	"stable":    0.002,
	"standard":  0.008,
	"volatile":  0.03,
	"ephemeral": 0.1,
}

const defaultPermanence = "standard"

func decayRateFor(permanence string) float64 {
	if rate, ok := permanenceDecay[permanence]; ok {
		return rate
	}
	return permanenceDecay[defaultPermanence]
}

// Episode is one remembered interaction (§3 "Episode").
type Episode struct {
	ID               uuid.UUID  `gorm:"column:id;primaryKey;type:uuid"`
	Content          string     `gorm:"column:content"`
	SourceButler     string     `gorm:"column:source_butler"`
	SessionID        *uuid.UUID `gorm:"column:session_id;type:uuid"`
	Embedding        []byte     `gorm:"column:embedding"`
	DecayRate        float64    `gorm:"column:decay_rate"`
	ReferenceCount   int        `gorm:"column:reference_count"`
	LastReferencedAt *time.Time `gorm:"column:last_referenced_at"`
	ExpiresAt        *time.Time `gorm:"column:expires_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
}

func (Episode) TableName() string { return "episodes" }

// Fact is one subject/predicate/content triple with permanence-driven decay
// and a supersession chain (§3 "Fact").
type Fact struct {
	ID               uuid.UUID  `gorm:"column:id;primaryKey;type:uuid"`
	Subject          string     `gorm:"column:subject"`
	Predicate        string     `gorm:"column:predicate"`
	Content          string     `gorm:"column:content"`
	Scope            string     `gorm:"column:scope"`
	Permanence       string     `gorm:"column:permanence"`
	DecayRate        float64    `gorm:"column:decay_rate"`
	Validity         string     `gorm:"column:validity"`
	SupersedesID     *uuid.UUID `gorm:"column:supersedes_id;type:uuid"`
	Embedding        []byte     `gorm:"column:embedding"`
	ReferenceCount   int        `gorm:"column:reference_count"`
	LastReferencedAt *time.Time `gorm:"column:last_referenced_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
}

func (Fact) TableName() string { return "facts" }

// Rule is a standing instruction, soft-deleted via a metadata flag rather
// than a validity/expiry column (§3 "Rule").
type Rule struct {
	ID               uuid.UUID       `gorm:"column:id;primaryKey;type:uuid"`
	Content          string          `gorm:"column:content"`
	Scope            string          `gorm:"column:scope"`
	Metadata         json.RawMessage `gorm:"column:metadata"`
	Embedding        []byte          `gorm:"column:embedding"`
	ReferenceCount   int             `gorm:"column:reference_count"`
	LastReferencedAt *time.Time      `gorm:"column:last_referenced_at"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
}

func (Rule) TableName() string { return "rules" }

// MemoryLink is a typed relation between two memory items, e.g. a fact that
// supersedes another (§3 "Memory Link").
type MemoryLink struct {
	ID        uuid.UUID `gorm:"column:id;primaryKey;type:uuid"`
	SourceID  uuid.UUID `gorm:"column:source_id;type:uuid"`
	TargetID  uuid.UUID `gorm:"column:target_id;type:uuid"`
	Relation  string    `gorm:"column:relation"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (MemoryLink) TableName() string { return "memory_links" }

// MemoryEvent is an append-only audit trail entry for a memory item (§3
// "Memory Event").
type MemoryEvent struct {
	ID         int64           `gorm:"column:id;primaryKey"`
	MemoryType string          `gorm:"column:memory_type"`
	MemoryID   uuid.UUID       `gorm:"column:memory_id;type:uuid"`
	EventType  string          `gorm:"column:event_type"`
	Payload    json.RawMessage `gorm:"column:payload"`
	OccurredAt time.Time       `gorm:"column:occurred_at"`
}

func (MemoryEvent) TableName() string { return "memory_events" }

// AllModels is the set of tables this package owns, for AutoMigrate callers.
func AllModels() []any {
	return []any{&Episode{}, &Fact{}, &Rule{}, &MemoryLink{}, &MemoryEvent{}}
}
