package oauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// maxIssuedAtSkew is how far in the future an id token's iat may be.
const maxIssuedAtSkew = 5 * time.Minute

var idTokenSigningMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// IDTokenClaims is a validated id token. WebID is the webid claim when the
// provider sets one and the subject otherwise.
type IDTokenClaims struct {
	WebID  string
	Sub    string
	Issuer string
	Claims jwt.MapClaims
}

// ValidateIDToken verifies the token's signature against the key named by its
// kid and checks issuer, audience and lifetime.
func ValidateIDToken(raw string, keys jwk.Set, expectedIssuer, expectedAudience string) (*IDTokenClaims, error) {
	return validateIDToken(raw, keys, expectedIssuer, expectedAudience, time.Now)
}

func validateIDToken(raw string, keys jwk.Set, expectedIssuer, expectedAudience string, now func() time.Time) (*IDTokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(idTokenSigningMethods),
		jwt.WithIssuer(expectedIssuer),
		jwt.WithAudience(expectedAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)

	unverified, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode id token: %w", ErrInvalidClaim, err)
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: id token header has no kid", ErrUnknownKeyID)
	}

	if keys == nil {
		return nil, fmt.Errorf("%w: no key set for %s", ErrUnknownKeyID, kid)
	}

	key, ok := keys.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("%w: no key found with kid %s", ErrUnknownKeyID, kid)
	}

	pubJwk, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: key %s has no public key: %w", ErrInvalidSignature, kid, err)
	}

	var pubKey any
	if err := pubJwk.Raw(&pubKey); err != nil {
		return nil, fmt.Errorf("%w: could not load key %s: %w", ErrInvalidSignature, kid, err)
	}

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return pubKey, nil
	}); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %w", ErrExpiredToken, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrInvalidClaim, err)
		}
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidClaim)
	}

	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, fmt.Errorf("%w: missing iat claim", ErrInvalidClaim)
	}

	if iat.After(now().Add(maxIssuedAtSkew)) {
		return nil, fmt.Errorf("%w: token issued in the future: iat=%d", ErrInvalidClaim, iat.Unix())
	}

	webid, _ := claims["webid"].(string)
	if webid == "" {
		webid = sub
	}

	iss, _ := claims.GetIssuer()

	return &IDTokenClaims{
		WebID:  webid,
		Sub:    sub,
		Issuer: iss,
		Claims: claims,
	}, nil
}
