package relationship

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/internal/idgen"
)

// ErrTypeNotFound is returned when an explicit type_id does not resolve to
// any row in relationship_types.
var ErrTypeNotFound = errors.New("relationship: type not found")

// ErrMissingType is returned when neither a type id nor a freetext type
// string was given to Add.
var ErrMissingType = errors.New("relationship: either type_id or type must be given")

// Store is the gorm-backed relationship/contact graph.
type Store struct {
	db    *gorm.DB
	cache *Cache
}

// StoreOption customizes a New call.
type StoreOption func(*Store)

// WithCache enables a read-through cache for the relationship type
// taxonomy. Without it every lookup hits the database directly, which is
// the package's prior behavior and remains correct — the cache is purely
// an optimization over a table that is written only when New seeds it.
func WithCache(cache *Cache) StoreOption {
	return func(s *Store) { s.cache = cache }
}

// New builds a Store backed by db and seeds the relationship type
// taxonomy if it is not already present.
func New(db *gorm.DB, opts ...StoreOption) (*Store, error) {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureSeeded(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSeeded() error {
	for _, t := range seedTypes {
		row := &RelationshipType{
			ID:           idgen.TimeOrdered(),
			Group:        t.group,
			ForwardLabel: t.forwardLabel,
			ReverseLabel: t.reverseLabel,
			CreatedAt:    time.Now().UTC(),
		}
		err := s.db.Where("forward_label = ? AND reverse_label = ?", t.forwardLabel, t.reverseLabel).
			FirstOrCreate(row).Error
		if err != nil {
			return fmt.Errorf("relationship: seed types: %w", err)
		}
	}
	return nil
}

// CreateContact inserts a new contact.
func (s *Store) CreateContact(name string) (*Contact, error) {
	c := &Contact{
		ID:        idgen.TimeOrdered(),
		Name:      name,
		Details:   []byte("{}"),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(c).Error; err != nil {
		return nil, fmt.Errorf("relationship: create contact: %w", err)
	}
	return c, nil
}

// TypesByGroup is relationship_types_list's return shape: group name to the
// types within it.
type TypesByGroup map[string][]RelationshipType

// TypesList returns the taxonomy, optionally filtered to a single group.
func (s *Store) TypesList(group string) (TypesByGroup, error) {
	types, err := s.allTypes(context.Background())
	if err != nil {
		return nil, err
	}

	grouped := TypesByGroup{}
	for _, t := range types {
		if group != "" && t.Group != group {
			continue
		}
		grouped[t.Group] = append(grouped[t.Group], t)
	}
	return grouped, nil
}

// allTypes returns every relationship type, serving from s.cache when one
// is configured and populated, falling back to (and repopulating from) the
// database otherwise.
func (s *Store) allTypes(ctx context.Context) ([]RelationshipType, error) {
	if s.cache != nil {
		if cached, ok := s.cache.loadTypes(ctx); ok {
			return cached, nil
		}
	}

	var types []RelationshipType
	if err := s.db.Order("created_at").Find(&types).Error; err != nil {
		return nil, fmt.Errorf("relationship: list types: %w", err)
	}

	if s.cache != nil {
		s.cache.storeTypes(ctx, types)
	}
	return types, nil
}

// TypeGet fetches a single type by id, or nil if it doesn't exist.
func (s *Store) TypeGet(typeID uuid.UUID) (*RelationshipType, error) {
	var t RelationshipType
	err := s.db.Where("id = ?", typeID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relationship: get type: %w", err)
	}
	return &t, nil
}

// AddOption customizes an Add call.
type AddOption func(*addParams)

type addParams struct {
	typeID *uuid.UUID
	typ    string
	notes  string
}

// WithTypeID resolves the relationship by an explicit relationship_types id.
func WithTypeID(typeID uuid.UUID) AddOption {
	return func(p *addParams) { p.typeID = &typeID }
}

// WithFreetextType resolves the relationship by matching typ case-
// insensitively against either a forward_label or reverse_label; an unknown
// label falls back to the shared "custom" type.
func WithFreetextType(typ string) AddOption {
	return func(p *addParams) { p.typ = typ }
}

// WithNotes attaches a free-text note to the relationship.
func WithNotes(notes string) AddOption {
	return func(p *addParams) { p.notes = notes }
}

// Add creates a typed relationship between two contacts. Exactly one of
// WithTypeID or WithFreetextType must be given. Two Relationship rows are
// inserted, one per direction, using the type's forward_label for the
// contactA->contactB edge and its reverse_label for the contactB->contactA
// edge (identical for symmetric types). An activity_feed entry is appended
// for each contact.
func (s *Store) Add(contactA, contactB uuid.UUID, opts ...AddOption) (*Relationship, error) {
	var p addParams
	for _, opt := range opts {
		opt(&p)
	}
	if p.typeID == nil && p.typ == "" {
		return nil, ErrMissingType
	}

	var forward *Relationship
	err := s.db.Transaction(func(tx *gorm.DB) error {
		relType, err := s.resolveType(tx, p)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		forward = &Relationship{
			ID:                 idgen.TimeOrdered(),
			ContactA:           contactA,
			ContactB:           contactB,
			Type:               relType.ForwardLabel,
			RelationshipTypeID: &relType.ID,
			Notes:              p.notes,
			CreatedAt:          now,
		}
		reverse := &Relationship{
			ID:                 idgen.TimeOrdered(),
			ContactA:           contactB,
			ContactB:           contactA,
			Type:               relType.ReverseLabel,
			RelationshipTypeID: &relType.ID,
			Notes:              p.notes,
			CreatedAt:          now,
		}
		if err := tx.Create(forward).Error; err != nil {
			return err
		}
		if err := tx.Create(reverse).Error; err != nil {
			return err
		}

		var a, b Contact
		if err := tx.Where("id = ?", contactA).First(&a).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", contactB).First(&b).Error; err != nil {
			return err
		}

		if err := tx.Create(&ActivityFeed{
			ID:          idgen.TimeOrdered(),
			ContactID:   contactA,
			Type:        "relationship_added",
			Description: fmt.Sprintf("Added %s as %s", b.Name, relType.ForwardLabel),
			CreatedAt:   now,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&ActivityFeed{
			ID:          idgen.TimeOrdered(),
			ContactID:   contactB,
			Type:        "relationship_added",
			Description: fmt.Sprintf("Added %s as %s", a.Name, relType.ReverseLabel),
			CreatedAt:   now,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("relationship: add: %w", err)
	}
	return forward, nil
}

// resolveType picks the RelationshipType for an Add call: an explicit
// type_id must exist, a freetext type matches case-insensitively against
// either label column and otherwise falls back to the shared custom type.
func (s *Store) resolveType(tx *gorm.DB, p addParams) (*RelationshipType, error) {
	if p.typeID != nil {
		var t RelationshipType
		err := tx.Where("id = ?", *p.typeID).First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTypeNotFound
		}
		if err != nil {
			return nil, err
		}
		return &t, nil
	}

	label := strings.ToLower(strings.TrimSpace(p.typ))
	var t RelationshipType
	err := tx.Where("LOWER(forward_label) = ? OR LOWER(reverse_label) = ?", label, label).First(&t).Error
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = tx.Where("forward_label = ? AND reverse_label = ?", customLabel, customLabel).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListItem is one relationship_list row, carrying the other contact's name
// for display convenience.
type ListItem struct {
	Relationship
	RelatedName string
}

// List returns every outbound relationship edge from contactID.
func (s *Store) List(contactID uuid.UUID) ([]ListItem, error) {
	var rels []Relationship
	if err := s.db.Where("contact_a = ?", contactID).Order("created_at").Find(&rels).Error; err != nil {
		return nil, fmt.Errorf("relationship: list: %w", err)
	}

	items := make([]ListItem, 0, len(rels))
	for _, r := range rels {
		var other Contact
		if err := s.db.Where("id = ?", r.ContactB).First(&other).Error; err != nil {
			return nil, fmt.Errorf("relationship: list: load related contact: %w", err)
		}
		items = append(items, ListItem{Relationship: r, RelatedName: other.Name})
	}
	return items, nil
}

// Remove deletes both directional edges between two contacts.
func (s *Store) Remove(contactA, contactB uuid.UUID) error {
	err := s.db.Where(
		"(contact_a = ? AND contact_b = ?) OR (contact_a = ? AND contact_b = ?)",
		contactA, contactB, contactB, contactA,
	).Delete(&Relationship{}).Error
	if err != nil {
		return fmt.Errorf("relationship: remove: %w", err)
	}
	return nil
}

// FeedGet returns a contact's activity feed, most recent first.
func (s *Store) FeedGet(contactID uuid.UUID) ([]ActivityFeed, error) {
	var entries []ActivityFeed
	if err := s.db.Where("contact_id = ?", contactID).
		Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("relationship: feed: %w", err)
	}
	return entries, nil
}
