package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	googleAuthorizationEndpoint = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenEndpoint         = "https://oauth2.googleapis.com/token"
)

// defaultGoogleScopes covers the two connector surfaces this platform ships
// out of the box; GOOGLE_OAUTH_SCOPES overrides it entirely.
var defaultGoogleScopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/calendar",
}

func parseScopes(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultGoogleScopes
	}
	return strings.Fields(raw)
}

// buildAuthorizationURL constructs the Google consent-screen URL. access_type
// and prompt are fixed, never caller-configurable: the flow must always be
// able to mint a fresh refresh token (§4.16).
func buildAuthorizationURL(clientID, redirectURI string, scopes []string, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	q.Set("state", state)
	return googleAuthorizationEndpoint + "?" + q.Encode()
}

// tokenResponse is Google's token-endpoint JSON payload. RefreshToken is
// omitted by Google when a user has already granted offline consent for
// this client and access_type/prompt did not force re-issuance.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// exchangeCodeForTokens trades an authorization code for tokens. Any
// transport or non-2xx response is reported as *TokenExchangeError with the
// provider detail attached for logging only.
func exchangeCodeForTokens(ctx context.Context, client *http.Client, clientID, clientSecret, redirectURI, code string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TokenExchangeError{Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TokenExchangeError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TokenExchangeError{Detail: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &TokenExchangeError{Detail: err.Error()}
	}
	return &tok, nil
}
