package memory

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(AllModels()...))
	return db
}

func TestStoreEpisode_ThenGetMemory(t *testing.T) {
	db := newTestDB(t)
	id, err := StoreEpisode(db, "User had a meeting", "test-butler")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	rec, ok, err := GetMemory(db, "episode", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, rec["id"])
	assert.EqualValues(t, 1, rec["reference_count"])
}

func TestStoreFact_ThenGetMemory(t *testing.T) {
	db := newTestDB(t)
	id, err := StoreFact(db, "user", "city", "Berlin")
	require.NoError(t, err)

	rec, ok, err := GetMemory(db, "fact", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, rec["id"])
}

func TestStoreRule_ThenGetMemory(t *testing.T) {
	db := newTestDB(t)
	id, err := StoreRule(db, "Always greet the user politely")
	require.NoError(t, err)

	rec, ok, err := GetMemory(db, "rule", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, rec["id"])
}

func TestGetMemory_BumpsReferenceCountAcrossCalls(t *testing.T) {
	db := newTestDB(t)
	id, err := StoreEpisode(db, "User mentioned a trip", "test-butler")
	require.NoError(t, err)

	_, _, err = GetMemory(db, "episode", id)
	require.NoError(t, err)
	rec, ok, err := GetMemory(db, "episode", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, rec["reference_count"])
}

func TestGetMemory_ReturnsFalseForNonexistent(t *testing.T) {
	db := newTestDB(t)
	_, ok, err := GetMemory(db, "fact", uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetMemory_InvalidTypeRejected(t *testing.T) {
	db := newTestDB(t)
	_, _, err := GetMemory(db, "invalid", uuid.New())
	assert.ErrorIs(t, err, ErrInvalidMemoryType)
}

func TestForgetMemory_FactSetsRetracted(t *testing.T) {
	db := newTestDB(t)
	id, err := StoreFact(db, "user", "city", "Berlin")
	require.NoError(t, err)

	ok, err := ForgetMemory(db, "fact", id)
	require.NoError(t, err)
	assert.True(t, ok)

	var f Fact
	require.NoError(t, db.Where("id = ?", id).First(&f).Error)
	assert.Equal(t, ValidityRetracted, f.Validity)
}

func TestForgetMemory_EpisodeSetsExpiresAt(t *testing.T) {
	db := newTestDB(t)
	id, err := StoreEpisode(db, "User mentioned a trip", "test-butler")
	require.NoError(t, err)

	ok, err := ForgetMemory(db, "episode", id)
	require.NoError(t, err)
	assert.True(t, ok)

	var ep Episode
	require.NoError(t, db.Where("id = ?", id).First(&ep).Error)
	require.NotNil(t, ep.ExpiresAt)
}

func TestForgetMemory_RuleMergesForgottenFlag(t *testing.T) {
	db := newTestDB(t)
	id, err := StoreRule(db, "Never delete without confirmation")
	require.NoError(t, err)

	ok, err := ForgetMemory(db, "rule", id)
	require.NoError(t, err)
	assert.True(t, ok)

	var r Rule
	require.NoError(t, db.Where("id = ?", id).First(&r).Error)
	assert.Contains(t, string(r.Metadata), `"forgotten":true`)
}

func TestForgetMemory_ReturnsFalseWhenNotFound(t *testing.T) {
	db := newTestDB(t)
	ok, err := ForgetMemory(db, "fact", uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreFact_FullSupersessionFlow(t *testing.T) {
	db := newTestDB(t)
	firstID, err := StoreFact(db, "user", "city", "Berlin")
	require.NoError(t, err)

	newID, err := StoreFact(db, "user", "city", "Munich")
	require.NoError(t, err)
	assert.NotEqual(t, firstID, newID)

	var old Fact
	require.NoError(t, db.Where("id = ?", firstID).First(&old).Error)
	assert.Equal(t, ValiditySuperseded, old.Validity)

	var updated Fact
	require.NoError(t, db.Where("id = ?", newID).First(&updated).Error)
	require.NotNil(t, updated.SupersedesID)
	assert.Equal(t, firstID, *updated.SupersedesID)

	var link MemoryLink
	require.NoError(t, db.Where("source_id = ? AND target_id = ?", newID, firstID).First(&link).Error)
	assert.Equal(t, "supersedes", link.Relation)
}

func TestStoreFact_NoSupersessionWithoutExisting(t *testing.T) {
	db := newTestDB(t)
	id, err := StoreFact(db, "user", "city", "Berlin")
	require.NoError(t, err)

	var f Fact
	require.NoError(t, db.Where("id = ?", id).First(&f).Error)
	assert.Nil(t, f.SupersedesID)

	var count int64
	db.Model(&MemoryLink{}).Count(&count)
	assert.Zero(t, count)
}

func TestStoreFact_PermanenceMapsToDecayRate(t *testing.T) {
	cases := map[string]float64{
		"permanent": 0.0,
		"stable":    0.002,
		"standard":  0.008,
		"volatile":  0.03,
		"ephemeral": 0.1,
		"nonexistent": 0.008,
	}
	for permanence, expected := range cases {
		db := newTestDB(t)
		id, err := StoreFact(db, "user", "data", "value", WithFactPermanence(permanence))
		require.NoError(t, err)

		var f Fact
		require.NoError(t, db.Where("id = ?", id).First(&f).Error)
		assert.Equal(t, expected, f.DecayRate)
	}
}
