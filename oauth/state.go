package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/Tzeusy/butlers-sub006/internal/idgen"
)

// DefaultStateTTL is how long an issued state token remains valid.
const DefaultStateTTL = 10 * time.Minute

const consumedKeyPrefix = "oauth:state:consumed:"

// stateClaims is the JWT payload minted by mintState. redirect distinguishes
// the /start caller's requested response shape (302 vs JSON) so the callback
// need not re-derive it, though the callback itself never reads it back —
// it is carried for symmetry with the source system's state record.
type stateClaims struct {
	jwt.RegisteredClaims
	Redirect bool `json:"redirect"`
}

// mintState signs a one-time-use state token. The token is self-verifying
// (signature + exp); no issuance-side store is required.
func mintState(signingKey []byte, ttl time.Duration, redirect bool) (string, error) {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	jti := idgen.TimeOrdered().String()
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Redirect: redirect,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}

// consumeState verifies the token's signature and expiry, then atomically
// records its jti in the redis consumed-set. It reports true only the first
// time a given valid, unexpired token is presented; any subsequent call
// (replay) or any malformed/expired/unsigned token reports false.
func consumeState(ctx context.Context, rdb *redis.Client, signingKey []byte, ttl time.Duration, tokenStr string) (bool, error) {
	if tokenStr == "" {
		return false, nil
	}

	claims := &stateClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return false, nil
	}
	if claims.ID == "" {
		return false, nil
	}

	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	ok, err := rdb.SetNX(ctx, consumedKeyPrefix+claims.ID, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("recording consumed oauth state: %w", err)
	}
	return ok, nil
}

var errNilRedisClient = errors.New("oauth: redis client is required to consume state tokens")
