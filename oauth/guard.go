package oauth

import (
	"context"
	"fmt"
	"os"

	"github.com/Tzeusy/butlers-sub006/credential"
)

// CredentialStatus reports whether a butler module that depends on Google
// credentials can start, and if not, what is missing and how to fix it.
type CredentialStatus struct {
	OK          bool
	MissingVars []string
	Remediation string
}

var googleRequiredVars = []string{clientIDKey, clientSecretKey, refreshTokenKey}

// CheckGoogleCredentials resolves the three vars a Google-dependent module
// needs (client id/secret, refresh token) through store and reports which,
// if any, are missing. It never exits the process — callers decide whether
// a missing credential is fatal (see RequireGoogleCredentialsOrExit) or
// merely a degraded-mode warning (e.g. a dev workflow with --skip-oauth-check).
func CheckGoogleCredentials(ctx context.Context, store storeResolver) CredentialStatus {
	var missing []string
	for _, key := range googleRequiredVars {
		if v, _, ok, err := store.Resolve(ctx, key, true); err != nil || !ok || v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return CredentialStatus{OK: true}
	}
	return CredentialStatus{
		OK:          false,
		MissingVars: missing,
		Remediation: "visit the dashboard and complete the Google OAuth flow at /api/oauth/google/start, or set " + joinVars(missing) + " directly",
	}
}

// RequireGoogleCredentialsOrExit calls os.Exit(1) if Google credentials are
// not resolvable, printing which vars are missing and how to fix it. caller
// names the module requesting the check, for the printed message only.
func RequireGoogleCredentialsOrExit(ctx context.Context, store storeResolver, caller string) {
	status := CheckGoogleCredentials(ctx, store)
	if status.OK {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: missing Google OAuth credentials: %s\n%s\n", caller, joinVars(status.MissingVars), status.Remediation)
	os.Exit(1)
}

func joinVars(vars []string) string {
	out := ""
	for i, v := range vars {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}

// storeResolver is the subset of *credential.Store this package needs,
// narrowed so guard tests can supply a stub without a real DB.
type storeResolver interface {
	Resolve(ctx context.Context, key string, envFallback bool) (string, credential.Source, bool, error)
}
