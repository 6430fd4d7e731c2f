package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/credential"
)

func newGuardTestStore(t *testing.T, env map[string]string) *credential.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&credential.Secret{}))
	return credential.New(db, credential.WithEnvLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok && v != ""
	}))
}

func TestCheckGoogleCredentials_ReportsMissingVars(t *testing.T) {
	store := newGuardTestStore(t, map[string]string{"GOOGLE_OAUTH_CLIENT_ID": "present-id"})

	status := CheckGoogleCredentials(t.Context(), store)

	assert.False(t, status.OK)
	assert.Contains(t, status.MissingVars, "GOOGLE_OAUTH_CLIENT_SECRET")
	assert.Contains(t, status.MissingVars, "GOOGLE_REFRESH_TOKEN")
	assert.NotContains(t, status.MissingVars, "GOOGLE_OAUTH_CLIENT_ID")
	assert.Contains(t, status.Remediation, "dashboard")
}

func TestCheckGoogleCredentials_OKWhenAllPresent(t *testing.T) {
	store := newGuardTestStore(t, map[string]string{
		"GOOGLE_OAUTH_CLIENT_ID":     "id",
		"GOOGLE_OAUTH_CLIENT_SECRET": "secret",
		"GOOGLE_REFRESH_TOKEN":       "refresh",
	})

	status := CheckGoogleCredentials(t.Context(), store)

	assert.True(t, status.OK)
	assert.Empty(t, status.MissingVars)
}

func TestRequireGoogleCredentialsOrExit_NeverPanicsWhenSatisfied(t *testing.T) {
	store := newGuardTestStore(t, map[string]string{
		"GOOGLE_OAUTH_CLIENT_ID":     "id",
		"GOOGLE_OAUTH_CLIENT_SECRET": "secret",
		"GOOGLE_REFRESH_TOKEN":       "refresh",
	})

	RequireGoogleCredentialsOrExit(t.Context(), store, "test-caller")
}
