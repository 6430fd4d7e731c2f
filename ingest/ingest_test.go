package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&MessageInbox{}))
	return db
}

func validEnvelope() *Envelope {
	return &Envelope{
		Source:  Source{Channel: "telegram", Provider: "telegram", EndpointIdentity: "bot-1"},
		Event:   Event{ObservedAt: time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)},
		Sender:  Sender{Identity: "user-1"},
		Payload: Payload{NormalizedText: "hello"},
		Control: Control{IngestionTier: TierFull},
	}
}

func TestAccept_RejectsInvalidEnvelope(t *testing.T) {
	env := validEnvelope()
	env.Sender.Identity = ""

	_, err := Accept(context.Background(), newTestDB(t), env, Options{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAccept_FirstSubmissionIsNotDuplicate(t *testing.T) {
	resp, err := Accept(context.Background(), newTestDB(t), validEnvelope(), Options{})
	require.NoError(t, err)
	assert.False(t, resp.Duplicate)
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.RequestID)
}

func TestAccept_SameIdempotencyKeyIsDuplicate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	env := validEnvelope()
	env.Control.IdempotencyKey = "key-1"

	first, err := Accept(ctx, db, env, Options{})
	require.NoError(t, err)

	second, err := Accept(ctx, db, env, Options{})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.RequestID, second.RequestID)
}

func TestAccept_DifferentContentIsNotDuplicate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	env1 := validEnvelope()
	env2 := validEnvelope()
	env2.Payload.NormalizedText = "goodbye"

	first, err := Accept(ctx, db, env1, Options{})
	require.NoError(t, err)
	second, err := Accept(ctx, db, env2, Options{})
	require.NoError(t, err)

	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestAccept_FullTierIsAccepted(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	resp, err := Accept(ctx, db, validEnvelope(), Options{})
	require.NoError(t, err)

	var row MessageInbox
	require.NoError(t, db.Where("id = ?", resp.RequestID).First(&row).Error)
	assert.Equal(t, "accepted", row.LifecycleState)
}

func TestAccept_MetadataTierSetsLifecycleStateMetadataRef(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	env := validEnvelope()
	env.Control.IngestionTier = TierMetadata

	resp, err := Accept(ctx, db, env, Options{})
	require.NoError(t, err)

	var row MessageInbox
	require.NoError(t, db.Where("id = ?", resp.RequestID).First(&row).Error)
	assert.Equal(t, "metadata_ref", row.LifecycleState)
}

func TestAccept_DuplicateDoesNotReapplyTriage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	env := validEnvelope()
	env.Control.IdempotencyKey = "key-2"

	opts := Options{TriageRulesProvided: true, TriageCacheAvailable: true}
	first, err := Accept(ctx, db, env, opts)
	require.NoError(t, err)
	assert.Equal(t, "pass_through", first.TriageDecision)

	second, err := Accept(ctx, db, env, opts)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Empty(t, second.TriageDecision)
}
