package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tzeusy/butlers-sub006/credential"
)

const (
	clientIDKey     = "GOOGLE_OAUTH_CLIENT_ID"
	clientSecretKey = "GOOGLE_OAUTH_CLIENT_SECRET"
	redirectURIKey  = "GOOGLE_OAUTH_REDIRECT_URI"
	scopesKey       = "GOOGLE_OAUTH_SCOPES"
	refreshTokenKey = "GOOGLE_REFRESH_TOKEN"
	grantedScopeKey = "GOOGLE_OAUTH_GRANTED_SCOPE"
	dashboardURLKey = "OAUTH_DASHBOARD_URL"
)

type exchangeFunc func(ctx context.Context, client *http.Client, clientID, clientSecret, redirectURI, code string) (*tokenResponse, error)

// Handler serves the Google OAuth bootstrap endpoints described in §6.5.
// Client credentials are resolved per-request through the shared credential
// store (local DB, then environment) rather than captured once at
// construction, so an operator can rotate them without restarting the
// daemon.
type Handler struct {
	store      *credential.Store
	redis      *redis.Client
	httpClient *http.Client
	signingKey []byte
	stateTTL   time.Duration
	logger     *zap.Logger
	exchange   exchangeFunc
}

// New constructs a Handler. signingKey must be non-empty and stable across
// the process lifetime (and across processes, if multiple instances share
// redis) since a state token minted by one process must verify in another.
func New(store *credential.Store, rdb *redis.Client, signingKey []byte, logger *zap.Logger) *Handler {
	return &Handler{
		store:      store,
		redis:      rdb,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		signingKey: signingKey,
		stateTTL:   DefaultStateTTL,
		logger:     logger,
		exchange:   exchangeCodeForTokens,
	}
}

// RegisterRoutes mounts this handler's endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/oauth/google/start", h.handleStart)
	mux.HandleFunc("/api/oauth/google/callback", h.handleCallback)
	mux.HandleFunc("/api/oauth/status", h.handleStatus)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientID, _, ok, err := h.store.Resolve(ctx, clientIDKey, true)
	if err != nil || !ok || clientID == "" {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"message": "Google OAuth client is not configured",
		})
		return
	}
	redirectURI, _, _, _ := h.store.Resolve(ctx, redirectURIKey, true)
	scopesRaw, _, _, _ := h.store.Resolve(ctx, scopesKey, true)
	scopes := parseScopes(scopesRaw)

	wantRedirect := r.URL.Query().Get("redirect") != "false"
	state, err := mintState(h.signingKey, h.stateTTL, wantRedirect)
	if err != nil {
		h.logger.Error("failed to mint oauth state token", zap.Error(err))
		writeJSONStatus(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "failed to start the authorization flow",
		})
		return
	}

	authURL := buildAuthorizationURL(clientID, redirectURI, scopes, state)

	if !wantRedirect {
		writeJSONStatus(w, http.StatusOK, map[string]any{
			"authorization_url": authURL,
			"state":             state,
		})
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dashboardURL, _, hasDashboard, _ := h.store.Resolve(ctx, dashboardURLKey, true)

	if providerErr := r.URL.Query().Get("error"); providerErr != "" {
		message := sanitizeProviderError(providerErr)
		h.respondError(w, r, hasDashboard, dashboardURL, http.StatusBadRequest, "provider_error", message)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.respondError(w, r, hasDashboard, dashboardURL, http.StatusBadRequest, "missing_code", "the callback is missing the authorization code")
		return
	}

	stateTok := r.URL.Query().Get("state")
	if stateTok == "" {
		h.respondError(w, r, hasDashboard, dashboardURL, http.StatusBadRequest, "missing_state", "the callback is missing the state parameter; this request may not have originated from the authorization flow")
		return
	}

	if h.redis == nil {
		h.logger.Error("oauth callback invoked without a redis client", zap.Error(errNilRedisClient))
		h.respondError(w, r, hasDashboard, dashboardURL, http.StatusInternalServerError, "invalid_state", "the authorization flow could not be verified")
		return
	}

	consumed, err := consumeState(ctx, h.redis, h.signingKey, h.stateTTL, stateTok)
	if err != nil {
		h.logger.Error("failed to consume oauth state token", zap.Error(err))
		h.respondError(w, r, hasDashboard, dashboardURL, http.StatusBadRequest, "invalid_state", "the state token could not be verified")
		return
	}
	if !consumed {
		h.respondError(w, r, hasDashboard, dashboardURL, http.StatusBadRequest, "invalid_state", "the state token is invalid, expired, or already used")
		return
	}

	clientID, _, idOK, _ := h.store.Resolve(ctx, clientIDKey, true)
	clientSecret, _, secretOK, _ := h.store.Resolve(ctx, clientSecretKey, true)
	if !idOK || clientID == "" || !secretOK || clientSecret == "" {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"message": "Google OAuth client is not configured",
		})
		return
	}
	redirectURI, _, _, _ := h.store.Resolve(ctx, redirectURIKey, true)

	tok, err := h.exchange(ctx, h.httpClient, clientID, clientSecret, redirectURI, code)
	if err != nil {
		h.logger.Warn("oauth token exchange failed", zap.Error(err))
		h.respondError(w, r, hasDashboard, dashboardURL, http.StatusBadRequest, "token_exchange_failed", "the token exchange with the provider failed")
		return
	}

	if tok.RefreshToken == "" {
		h.respondError(w, r, hasDashboard, dashboardURL, http.StatusBadRequest, "no_refresh_token",
			"Google did not return a refresh token; revoke this app's access in your Google Account and retry — access_type=offline and prompt=consent must both take effect")
		return
	}

	if err := h.store.Store(ctx, refreshTokenKey, tok.RefreshToken, credential.WithCategory("oauth"), credential.WithDescription("Google OAuth refresh token")); err != nil {
		h.logger.Error("failed to persist google refresh token", zap.Error(err))
		writeJSONStatus(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "failed to persist the issued credentials",
		})
		return
	}
	if tok.Scope != "" {
		_ = h.store.Store(ctx, grantedScopeKey, tok.Scope, credential.WithCategory("oauth"), credential.WithIsSensitive(false), credential.WithDescription("Scopes granted by the last successful Google OAuth consent"))
	}

	if hasDashboard && dashboardURL != "" {
		http.Redirect(w, r, dashboardURL+"?oauth_success=true", http.StatusFound)
		return
	}

	writeJSONStatus(w, http.StatusOK, map[string]any{
		"success":  true,
		"provider": "google",
		"scope":    tok.Scope,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, hasDashboard bool, dashboardURL string, status int, code, message string) {
	if hasDashboard && dashboardURL != "" {
		http.Redirect(w, r, dashboardURL+"?oauth_error="+code, http.StatusFound)
		return
	}
	writeJSONStatus(w, status, map[string]any{
		"success":    false,
		"error_code": code,
		"message":    message,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := h.googleStatus(ctx)
	writeJSONStatus(w, http.StatusOK, map[string]any{"google": status})
}

func (h *Handler) googleStatus(ctx context.Context) map[string]any {
	clientID, _, idOK, _ := h.store.Resolve(ctx, clientIDKey, true)
	clientSecret, _, secretOK, _ := h.store.Resolve(ctx, clientSecretKey, true)
	if !idOK || clientID == "" || !secretOK || clientSecret == "" {
		return map[string]any{"state": "not_configured", "connected": false}
	}

	refreshToken, _, rtOK, _ := h.store.Resolve(ctx, refreshTokenKey, true)
	if !rtOK || refreshToken == "" {
		return map[string]any{"state": "pending", "connected": false}
	}

	scope, _, _, _ := h.store.Resolve(ctx, grantedScopeKey, true)
	return map[string]any{
		"state":          "connected",
		"connected":      true,
		"scopes_granted": parseScopes(scope),
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
