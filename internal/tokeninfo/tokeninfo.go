// Package tokeninfo does best-effort, unverified introspection of the
// configured x-api-key: if it happens to be JWT-shaped, it extracts the
// exp claim so the host can warn before the credential lapses. The host
// holds no signing key for the orchestrator's tokens, so this never
// verifies a signature — it only parses the claims a caller already
// trusts enough to send on every connection.
package tokeninfo

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expiry reports the exp claim of token, if token parses as a JWT and
// carries one. ok is false for a non-JWT API key (e.g. an opaque secret)
// or a JWT without an exp claim — neither is an error, just not
// applicable.
func Expiry(token string) (exp time.Time, ok bool, err error) {
	if token == "" {
		return time.Time{}, false, nil
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, err = parser.ParseUnverified(token, claims)
	if err != nil {
		// Not JWT-shaped; nothing to report.
		return time.Time{}, false, nil
	}

	expClaim, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("tokeninfo: reading exp claim: %w", err)
	}
	if expClaim == nil {
		return time.Time{}, false, nil
	}
	return expClaim.Time, true, nil
}

// WarnIfExpiringSoon returns a human-readable warning if token's exp claim
// falls within within of now, or the empty string otherwise.
func WarnIfExpiringSoon(token string, now time.Time, within time.Duration) string {
	exp, ok, err := Expiry(token)
	if err != nil || !ok {
		return ""
	}
	if exp.Before(now) {
		return fmt.Sprintf("configured API key appears to have expired at %s", exp.Format(time.RFC3339))
	}
	if exp.Sub(now) <= within {
		return fmt.Sprintf("configured API key expires at %s", exp.Format(time.RFC3339))
	}
	return ""
}
