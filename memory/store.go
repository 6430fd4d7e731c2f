package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/internal/idgen"
)

// ErrInvalidMemoryType is returned by GetMemory/ForgetMemory for any type
// outside {"episode", "fact", "rule"}.
var ErrInvalidMemoryType = errors.New("memory: invalid memory_type")

// EpisodeOption customizes a StoreEpisode call.
type EpisodeOption func(*Episode)

// WithEpisodeSession attaches the originating spawner session.
func WithEpisodeSession(sessionID uuid.UUID) EpisodeOption {
	return func(e *Episode) { e.SessionID = &sessionID }
}

// WithEpisodeEmbedding attaches a precomputed embedding vector.
func WithEpisodeEmbedding(embedding []byte) EpisodeOption {
	return func(e *Episode) { e.Embedding = embedding }
}

// StoreEpisode inserts a new episode and returns its id.
func StoreEpisode(db *gorm.DB, content, sourceButler string, opts ...EpisodeOption) (uuid.UUID, error) {
	ep := &Episode{
		ID:           idgen.TimeOrdered(),
		Content:      content,
		SourceButler: sourceButler,
		CreatedAt:    time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(ep)
	}
	if err := db.Create(ep).Error; err != nil {
		return uuid.Nil, fmt.Errorf("memory: store episode: %w", err)
	}
	return ep.ID, nil
}

// RuleOption customizes a StoreRule call.
type RuleOption func(*Rule)

// WithRuleScope sets the rule's scope (defaults to empty, i.e. global).
func WithRuleScope(scope string) RuleOption {
	return func(r *Rule) { r.Scope = scope }
}

// StoreRule inserts a new rule and returns its id.
func StoreRule(db *gorm.DB, content string, opts ...RuleOption) (uuid.UUID, error) {
	r := &Rule{
		ID:        idgen.TimeOrdered(),
		Content:   content,
		Metadata:  []byte("{}"),
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := db.Create(r).Error; err != nil {
		return uuid.Nil, fmt.Errorf("memory: store rule: %w", err)
	}
	return r.ID, nil
}

// FactOption customizes a StoreFact call.
type FactOption func(*Fact)

// WithFactScope sets the fact's scope (defaults to empty, i.e. global).
func WithFactScope(scope string) FactOption {
	return func(f *Fact) { f.Scope = scope }
}

// WithFactPermanence sets the permanence tier, which determines decay_rate.
// Unrecognized values fall back to "standard".
func WithFactPermanence(permanence string) FactOption {
	return func(f *Fact) { f.Permanence = permanence }
}

// StoreFact inserts a new fact for (subject, predicate, scope). If an active
// fact already exists for that key, it is atomically marked 'superseded',
// the new fact records a supersedes_id pointing to it, and a memory_links
// row records the 'supersedes' relation — all within one transaction.
func StoreFact(db *gorm.DB, subject, predicate, content string, opts ...FactOption) (uuid.UUID, error) {
	f := &Fact{
		ID:         idgen.TimeOrdered(),
		Subject:    subject,
		Predicate:  predicate,
		Content:    content,
		Permanence: defaultPermanence,
		Validity:   ValidityActive,
		CreatedAt:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.DecayRate = decayRateFor(f.Permanence)

	err := db.Transaction(func(tx *gorm.DB) error {
		var existing Fact
		err := tx.Where("subject = ? AND predicate = ? AND scope = ? AND validity = ?",
			subject, predicate, f.Scope, ValidityActive).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// no existing active fact: plain insert, no supersession
		case err != nil:
			return err
		default:
			if err := tx.Model(&Fact{}).Where("id = ?", existing.ID).
				Update("validity", ValiditySuperseded).Error; err != nil {
				return err
			}
			f.SupersedesID = &existing.ID
		}

		if err := tx.Create(f).Error; err != nil {
			return err
		}

		if f.SupersedesID != nil {
			link := &MemoryLink{
				ID:        idgen.TimeOrdered(),
				SourceID:  f.ID,
				TargetID:  *f.SupersedesID,
				Relation:  "supersedes",
				CreatedAt: time.Now().UTC(),
			}
			if err := tx.Create(link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("memory: store fact: %w", err)
	}
	return f.ID, nil
}

// Record is the generic projection GetMemory returns: a type-agnostic view
// over whichever of the three tables was addressed, since callers dispatch
// on memory_type at runtime rather than through a Go interface per type.
type Record map[string]any

// GetMemory atomically bumps reference_count and sets last_referenced_at on
// the addressed row, returning its updated fields, or (nil, false) if no
// such row exists.
func GetMemory(db *gorm.DB, memoryType string, id uuid.UUID) (Record, bool, error) {
	now := time.Now().UTC()
	switch memoryType {
	case "episode":
		return bumpAndLoad[Episode](db, id, now)
	case "fact":
		return bumpAndLoad[Fact](db, id, now)
	case "rule":
		return bumpAndLoad[Rule](db, id, now)
	default:
		return nil, false, ErrInvalidMemoryType
	}
}

func bumpAndLoad[T any](db *gorm.DB, id uuid.UUID, now time.Time) (Record, bool, error) {
	var row T
	res := db.Model(&row).Where("id = ?", id).
		Updates(map[string]any{
			"reference_count":    gorm.Expr("reference_count + 1"),
			"last_referenced_at": now,
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("memory: get memory: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, false, fmt.Errorf("memory: get memory: reload: %w", err)
	}
	return toRecord(row), true, nil
}

func toRecord(v any) Record {
	switch t := v.(type) {
	case Episode:
		return Record{
			"id": t.ID, "content": t.Content, "source_butler": t.SourceButler,
			"session_id": t.SessionID, "reference_count": t.ReferenceCount,
			"last_referenced_at": t.LastReferencedAt, "expires_at": t.ExpiresAt,
			"created_at": t.CreatedAt,
		}
	case Fact:
		return Record{
			"id": t.ID, "subject": t.Subject, "predicate": t.Predicate,
			"content": t.Content, "scope": t.Scope, "permanence": t.Permanence,
			"decay_rate": t.DecayRate, "validity": t.Validity,
			"supersedes_id": t.SupersedesID, "reference_count": t.ReferenceCount,
			"last_referenced_at": t.LastReferencedAt, "created_at": t.CreatedAt,
		}
	case Rule:
		return Record{
			"id": t.ID, "content": t.Content, "scope": t.Scope,
			"metadata": t.Metadata, "reference_count": t.ReferenceCount,
			"last_referenced_at": t.LastReferencedAt, "created_at": t.CreatedAt,
		}
	default:
		return nil
	}
}

// ForgetMemory applies the type-specific soft-delete strategy: a fact is
// marked 'retracted', an episode's expires_at is set to now, and a rule's
// metadata gets {"forgotten": true} merged in. Returns false if no matching
// row existed.
func ForgetMemory(db *gorm.DB, memoryType string, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	var res *gorm.DB
	switch memoryType {
	case "fact":
		res = db.Model(&Fact{}).Where("id = ? AND validity <> ?", id, ValidityRetracted).
			Update("validity", ValidityRetracted)
	case "episode":
		res = db.Model(&Episode{}).Where("id = ?", id).Update("expires_at", now)
	case "rule":
		var r Rule
		if err := db.Where("id = ?", id).First(&r).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("memory: forget rule: %w", err)
		}
		merged := map[string]any{}
		if len(r.Metadata) > 0 {
			_ = json.Unmarshal(r.Metadata, &merged)
		}
		merged["forgotten"] = true
		body, err := json.Marshal(merged)
		if err != nil {
			return false, fmt.Errorf("memory: forget rule: marshal metadata: %w", err)
		}
		res = db.Model(&Rule{}).Where("id = ?", id).Update("metadata", body)
	default:
		return false, ErrInvalidMemoryType
	}
	if res.Error != nil {
		return false, fmt.Errorf("memory: forget memory: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
