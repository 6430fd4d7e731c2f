package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Secret{}))
	return db
}

func TestStore_EmptyKeyRejected(t *testing.T) {
	s := New(newTestDB(t))
	err := s.Store(context.Background(), "  ", "value")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "key", verr.Field)
}

func TestStore_EmptyValueRejected(t *testing.T) {
	s := New(newTestDB(t))
	err := s.Store(context.Background(), "KEY", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "value", verr.Field)
}

func TestStore_TrimsKeyWhitespace(t *testing.T) {
	s := New(newTestDB(t))
	require.NoError(t, s.Store(context.Background(), "  MY_KEY  ", "v"))

	ok, err := s.Has(context.Background(), "MY_KEY")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_UpsertUpdatesValue(t *testing.T) {
	ctx := context.Background()
	s := New(newTestDB(t))
	require.NoError(t, s.Store(ctx, "K", "v1"))
	require.NoError(t, s.Store(ctx, "K", "v2"))

	v, ok, err := s.Load(ctx, "K")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestLoad_MissingReturnsNotFound(t *testing.T) {
	_, ok, err := New(newTestDB(t)).Load(context.Background(), "MISSING")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve_DBWinsOverEnv(t *testing.T) {
	ctx := context.Background()
	s := New(newTestDB(t), WithEnvLookup(func(k string) (string, bool) {
		return "env-value", true
	}))
	require.NoError(t, s.Store(ctx, "K", "db-value"))

	v, source, ok, err := s.Resolve(ctx, "K", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "db-value", v)
	assert.Equal(t, SourceLocal, source)
}

func TestResolve_FallsBackToFallbackPoolThenEnv(t *testing.T) {
	ctx := context.Background()
	fallbackDB := newTestDB(t)
	require.NoError(t, New(fallbackDB).Store(ctx, "K", "shared-value"))

	s := New(newTestDB(t),
		WithFallbackPools(FallbackPool{Name: SourceShared, DB: fallbackDB}),
		WithEnvLookup(func(k string) (string, bool) { return "env-value", true }),
	)

	v, source, ok, err := s.Resolve(ctx, "K", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "shared-value", v)
	assert.Equal(t, SourceShared, source)
}

func TestResolve_EnvFallbackFalseSkipsEnv(t *testing.T) {
	ctx := context.Background()
	s := New(newTestDB(t), WithEnvLookup(func(k string) (string, bool) { return "env-value", true }))

	_, _, ok, err := s.Resolve(ctx, "MISSING", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve_EmptyEnvValueIsIgnored(t *testing.T) {
	ctx := context.Background()
	s := New(newTestDB(t), WithEnvLookup(func(k string) (string, bool) { return "", true }))

	_, _, ok, err := s.Resolve(ctx, "MISSING", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete_ReturnsTrueWhenRemoved(t *testing.T) {
	ctx := context.Background()
	s := New(newTestDB(t))
	require.NoError(t, s.Store(ctx, "K", "v"))

	ok, err := s.Delete(ctx, "K")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDelete_ReturnsFalseWhenMissing(t *testing.T) {
	ok, err := New(newTestDB(t)).Delete(context.Background(), "MISSING")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSecrets_NeverExposesValues(t *testing.T) {
	ctx := context.Background()
	s := New(newTestDB(t))
	require.NoError(t, s.Store(ctx, "K1", "super-secret-value"))

	secrets, err := s.ListSecrets(ctx, "")
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.NotContains(t, secrets[0].String(), "super-secret-value")
}

func TestListSecrets_FiltersByCategory(t *testing.T) {
	ctx := context.Background()
	s := New(newTestDB(t))
	require.NoError(t, s.Store(ctx, "K1", "v", WithCategory("telegram")))
	require.NoError(t, s.Store(ctx, "K2", "v", WithCategory("gmail")))

	secrets, err := s.ListSecrets(ctx, "telegram")
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, "K1", secrets[0].Key)
}

func TestValidateCredentials_AggregatesMissingAcrossScopes(t *testing.T) {
	ctx := context.Background()
	s := New(newTestDB(t), WithEnvLookup(func(k string) (string, bool) { return "", false }))

	_, err := ValidateCredentials(ctx, s, RequiredVars{
		Core:    []string{"CORE_VAR"},
		Butler:  []string{"BUTLER_VAR"},
		Modules: map[string][]string{"gmail": {"GMAIL_TOKEN"}},
	})

	var cerr *CredentialError
	require.ErrorAs(t, err, &cerr)
	assert.Len(t, cerr.Missing, 3)
}

func TestDetectSecretLiterals_SkipsURLsAndPaths(t *testing.T) {
	warnings := DetectSecretLiterals(map[string]string{
		"endpoint": "https://example.com/api_key",
		"path":     "/etc/secrets/token",
	})
	assert.Empty(t, warnings)
}

func TestDetectSecretLiterals_FlagsKnownPrefixes(t *testing.T) {
	warnings := DetectSecretLiterals(map[string]string{
		"anthropic_key": "sk-ant-1234567890abcdef",
	})
	assert.Len(t, warnings, 1)
}

func TestBackfillSharedSecrets_SkipsExistingKeys(t *testing.T) {
	ctx := context.Background()
	legacy := newTestDB(t)
	require.NoError(t, New(legacy).Store(ctx, "EXISTING", "legacy-value"))
	require.NoError(t, New(legacy).Store(ctx, "NEW_KEY", "legacy-value-2"))

	shared := newTestDB(t)
	require.NoError(t, New(shared).Store(ctx, "EXISTING", "shared-value"))

	copied, err := BackfillSharedSecrets(ctx, shared, legacy)
	require.NoError(t, err)
	assert.Equal(t, 1, copied)

	v, _, err := New(shared).Load(ctx, "EXISTING")
	require.NoError(t, err)
	assert.Equal(t, "shared-value", v, "existing shared value must not be overwritten")
}
