package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

type dpopOptions struct {
	accessToken string
	nonce       string
}

type DPoPOption func(*dpopOptions)

// WithAccessToken binds the proof to an access token with the ath claim.
func WithAccessToken(accessToken string) DPoPOption {
	return func(o *dpopOptions) {
		o.accessToken = accessToken
	}
}

// WithNonce adds a nonce previously handed out by the server.
func WithNonce(nonce string) DPoPOption {
	return func(o *dpopOptions) {
		o.nonce = nonce
	}
}

// NewDPoPProof signs a proof of possession of key for one request. Proofs are
// never reused, every call has a new jti.
func NewDPoPProof(key jwk.Key, method, htu string, opts ...DPoPOption) (string, error) {
	var o dpopOptions
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(htu)
	if err != nil {
		return "", fmt.Errorf("could not parse dpop target url: %w", err)
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	pubMap, err := publicJwkMap(key)
	if err != nil {
		return "", fmt.Errorf("could not export public key: %w", err)
	}

	rawKey, signingMethod, err := signingKey(key)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"jti": uuid.NewString(),
		"htm": method,
		"htu": u.String(),
		"iat": time.Now().Unix(),
	}

	if o.nonce != "" {
		claims["nonce"] = o.nonce
	}

	if o.accessToken != "" {
		ath := sha256.Sum256([]byte(o.accessToken))
		claims["ath"] = base64.RawURLEncoding.EncodeToString(ath[:])
	}

	token := jwt.NewWithClaims(signingMethod, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = pubMap

	tokenString, err := token.SignedString(rawKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}
