package credential

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Secret is the butler_secrets row. Value is intentionally excluded from any
// JSON/log-friendly projection — see SecretMetadata.
type Secret struct {
	ID          uint `gorm:"primaryKey"`
	Key         string `gorm:"column:key;uniqueIndex"`
	Value       string `gorm:"column:value"`
	Category    string `gorm:"column:category"`
	Description string `gorm:"column:description"`
	IsSensitive bool   `gorm:"column:is_sensitive"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Secret) TableName() string { return "butler_secrets" }

// Source names the chain link that resolved a value.
type Source string

const (
	SourceLocal  Source = "local"
	SourceShared Source = "shared"
	SourceLegacy Source = "legacy"
	SourceEnv    Source = "env"
)

// SecretMetadata is the list_secrets projection: no raw value field exists,
// so it is impossible for a %v/%+v format verb to leak one by accident.
type SecretMetadata struct {
	Key         string
	Category    string
	Description string
	IsSensitive bool
	Source      Source
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// String renders a safe, value-free summary. Satisfies fmt.Stringer so
// %v/%s on a SecretMetadata never needs reflection into unexported fields.
func (m SecretMetadata) String() string {
	return fmt.Sprintf("SecretMetadata{key=%s category=%s source=%s}", m.Key, m.Category, m.Source)
}

// ValidationError reports malformed store() input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// CredentialError aggregates every missing required credential across all
// scopes discovered during ValidateCredentials.
type CredentialError struct {
	Missing []MissingCredential
}

// MissingCredential names one missing variable and the scope that needed it.
type MissingCredential struct {
	Scope string // "core", "butler.env", or "module:<name>"
	Key   string
}

func (e *CredentialError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s (%s)", m.Key, m.Scope))
	}
	return fmt.Sprintf("missing required credentials: %s", strings.Join(parts, ", "))
}

// FallbackPool is one link in the resolve() chain after the local pool.
type FallbackPool struct {
	Name Source
	DB   *gorm.DB
}

// Store resolves secrets through local DB -> fallback DBs (in registration
// order) -> environment variables (§4.1).
type Store struct {
	local     *gorm.DB
	fallbacks []FallbackPool
	envLookup func(string) (string, bool)
}

// Option configures a Store at construction.
type Option func(*Store)

// WithFallbackPools registers fallback pools in the order they should be
// consulted (typically [shared, legacy]).
func WithFallbackPools(pools ...FallbackPool) Option {
	return func(s *Store) { s.fallbacks = pools }
}

// WithEnvLookup overrides os.LookupEnv, for testing.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(s *Store) { s.envLookup = fn }
}

// New constructs a Store backed by localDB.
func New(localDB *gorm.DB, opts ...Option) *Store {
	s := &Store{local: localDB}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store upserts key/value. Empty key or value fails with *ValidationError.
// The value is never logged or returned by this call.
func (s *Store) Store(ctx context.Context, key, value string, opts ...StoreOption) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return &ValidationError{Field: "key", Message: "must not be empty"}
	}
	if value == "" {
		return &ValidationError{Field: "value", Message: "must not be empty"}
	}

	cfg := storeConfig{category: "general", isSensitive: true}
	for _, o := range opts {
		o(&cfg)
	}

	row := Secret{
		Key:         key,
		Value:       value,
		Category:    cfg.category,
		Description: cfg.description,
		IsSensitive: cfg.isSensitive,
		ExpiresAt:   cfg.expiresAt,
	}

	return s.local.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "category", "description", "is_sensitive", "expires_at", "updated_at",
		}),
	}).Create(&row).Error
}

// StoreOption configures an optional field of Store.Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	category    string
	description string
	isSensitive bool
	expiresAt   *time.Time
}

func WithCategory(c string) StoreOption       { return func(sc *storeConfig) { sc.category = c } }
func WithDescription(d string) StoreOption    { return func(sc *storeConfig) { sc.description = d } }
func WithIsSensitive(b bool) StoreOption      { return func(sc *storeConfig) { sc.isSensitive = b } }
func WithExpiresAt(t time.Time) StoreOption   { return func(sc *storeConfig) { sc.expiresAt = &t } }

// Load performs a DB-only lookup of the local pool.
func (s *Store) Load(ctx context.Context, key string) (string, bool, error) {
	var row Secret
	err := s.local.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

// Resolve runs the full local -> fallback -> env chain. envFallback=false
// skips the environment-variable link entirely.
func (s *Store) Resolve(ctx context.Context, key string, envFallback bool) (string, Source, bool, error) {
	if v, ok, err := s.Load(ctx, key); err != nil {
		return "", "", false, err
	} else if ok {
		return v, SourceLocal, true, nil
	}

	for _, fb := range s.fallbacks {
		var row Secret
		err := fb.DB.WithContext(ctx).Where("key = ?", key).First(&row).Error
		if err == nil {
			return row.Value, fb.Name, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", false, err
		}
	}

	if envFallback {
		lookup := s.envLookup
		if lookup == nil {
			lookup = osLookupEnv
		}
		if v, ok := lookup(key); ok && v != "" {
			return v, SourceEnv, true, nil
		}
	}

	return "", "", false, nil
}

// Has reports whether key exists in the local pool.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Load(ctx, key)
	return ok, err
}

// Delete removes key from the local pool, reporting whether a row was removed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res := s.local.WithContext(ctx).Where("key = ?", key).Delete(&Secret{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListSecrets returns metadata only (no values), optionally filtered by
// category.
func (s *Store) ListSecrets(ctx context.Context, category string) ([]SecretMetadata, error) {
	q := s.local.WithContext(ctx).Model(&Secret{})
	if category != "" {
		q = q.Where("category = ?", category)
	}

	var rows []Secret
	if err := q.Order("key").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]SecretMetadata, 0, len(rows))
	for _, r := range rows {
		out = append(out, SecretMetadata{
			Key:         r.Key,
			Category:    r.Category,
			Description: r.Description,
			IsSensitive: r.IsSensitive,
			Source:      SourceLocal,
			ExpiresAt:   r.ExpiresAt,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
		})
	}
	return out, nil
}

// RequiredVars groups required environment variable names by the scope that
// needs them, for ValidateCredentials.
type RequiredVars struct {
	Core     []string
	Butler   []string          // "butler.env" scope
	Modules  map[string][]string // "module:<name>" scope
	Optional []string
}

// ValidateCredentials resolves every required var through store and returns a
// single aggregated *CredentialError naming every missing one. Optional vars
// that are missing are reported to warn via the returned warning slice rather
// than failing the call.
func ValidateCredentials(ctx context.Context, store *Store, required RequiredVars) (warnings []string, err error) {
	var missing []MissingCredential

	check := func(scope, key string) {
		if _, _, ok, resolveErr := store.Resolve(ctx, key, true); resolveErr == nil && !ok {
			missing = append(missing, MissingCredential{Scope: scope, Key: key})
		}
	}

	for _, k := range required.Core {
		check("core", k)
	}
	for _, k := range required.Butler {
		check("butler.env", k)
	}
	for mod, keys := range required.Modules {
		for _, k := range keys {
			check(fmt.Sprintf("module:%s", mod), k)
		}
	}

	for _, k := range required.Optional {
		if _, _, ok, resolveErr := store.Resolve(ctx, k, true); resolveErr == nil && !ok {
			warnings = append(warnings, fmt.Sprintf("optional credential %s not set", k))
		}
	}

	if len(missing) > 0 {
		return warnings, &CredentialError{Missing: missing}
	}
	return warnings, nil
}

var (
	secretPrefixes = []string{"sk-", "ghp_", "gho_", "github_pat_"}
	secretOAuthRE  = regexp.MustCompile(`(?i)^xox[bapsa]-`)
	secretKeyNameRE = regexp.MustCompile(`(?i)(password|secret|token|api_key|key)$`)
	base64LikeRE   = regexp.MustCompile(`^[A-Za-z0-9+/]{24,}={0,2}$`)
	urlLikeRE      = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)
	pathLikeRE     = regexp.MustCompile(`^(/|\./|[A-Za-z]:\\)`)
)

// DetectSecretLiterals scans config key/value pairs for values that look like
// hardcoded secrets, returning one warning string per suspicious entry.
// URLs and filesystem paths are excluded even if they otherwise match.
func DetectSecretLiterals(values map[string]string) []string {
	var warnings []string
	for k, v := range values {
		if v == "" || urlLikeRE.MatchString(v) || pathLikeRE.MatchString(v) {
			continue
		}

		looksLikeSecret := false
		for _, p := range secretPrefixes {
			if strings.HasPrefix(v, p) {
				looksLikeSecret = true
				break
			}
		}
		if !looksLikeSecret && secretOAuthRE.MatchString(v) {
			looksLikeSecret = true
		}
		if !looksLikeSecret && len(v) >= 16 && secretKeyNameRE.MatchString(k) {
			looksLikeSecret = true
		}
		if !looksLikeSecret && len(v) >= 24 && base64LikeRE.MatchString(v) {
			looksLikeSecret = true
		}

		if looksLikeSecret {
			warnings = append(warnings, fmt.Sprintf("config key %q looks like a hardcoded secret", k))
		}
	}
	return warnings
}

// BackfillSharedSecrets copies keys present in legacyDB but absent from
// newSharedDB. Missing source tables are tolerated (fresh installs).
func BackfillSharedSecrets(ctx context.Context, newSharedDB, legacyDB *gorm.DB) (copied int, err error) {
	var legacyRows []Secret
	if lerr := legacyDB.WithContext(ctx).Find(&legacyRows).Error; lerr != nil {
		if isMissingTableError(lerr) {
			return 0, nil
		}
		return 0, lerr
	}

	for _, row := range legacyRows {
		var existing Secret
		findErr := newSharedDB.WithContext(ctx).Where("key = ?", row.Key).First(&existing).Error
		if findErr == nil {
			continue // already present, never overwrite
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return copied, findErr
		}

		row.ID = 0
		if createErr := newSharedDB.WithContext(ctx).Create(&row).Error; createErr != nil {
			return copied, createErr
		}
		copied++
	}

	return copied, nil
}

func isMissingTableError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "undefined_table") || strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")
}
