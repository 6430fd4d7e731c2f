// Package oauth implements the Google OAuth bootstrap flow exposed by the
// switchboard's HTTP surface: a /start endpoint that redirects the operator
// to Google's consent screen, and a /callback endpoint that exchanges the
// returned authorization code for tokens and persists them to the shared
// credential store.
//
// State tokens are signed JWTs (exp + jti claims) rather than a server-side
// session table; replay protection comes from recording each jti in a redis
// consumed-set at the moment a callback consumes it, so a state can only
// ever complete the flow once even though the token itself is stateless and
// self-verifying until then.
package oauth
