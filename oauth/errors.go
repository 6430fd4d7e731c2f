package oauth

import "fmt"

// TokenExchangeError reports that the provider's token endpoint could not be
// completed. The wrapped detail is for logs only — handler responses never
// include it, so a provider-side message never reaches the caller.
type TokenExchangeError struct {
	Detail string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("oauth: token exchange failed: %s", e.Detail)
}

// knownProviderErrors maps a provider error code to a friendly, fixed
// message. Anything absent from this map falls back to a generic message —
// the raw code is never echoed either way.
var knownProviderErrors = map[string]string{
	"access_denied": "Google denied the requested access. Grant consent and try again.",
}

const genericProviderErrorMessage = "The authorization flow failed unexpectedly. Please restart the process."

// sanitizeProviderError converts a provider-supplied error code into a
// message safe to show the caller. The raw code itself never appears in the
// returned string.
func sanitizeProviderError(code string) string {
	if msg, ok := knownProviderErrors[code]; ok {
		return msg
	}
	return genericProviderErrorMessage
}
