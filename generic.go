package oauth

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// GenerateKey creates a P-256 key for signing DPoP proofs. The kid is the
// creation time, optionally prefixed.
func GenerateKey(kidPrefix *string) (jwk.Key, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	key, err := jwk.FromRaw(privKey)
	if err != nil {
		return nil, err
	}

	var kid string
	if kidPrefix != nil {
		kid = fmt.Sprintf("%s-%d", *kidPrefix, time.Now().Unix())

	} else {
		kid = fmt.Sprintf("%d", time.Now().Unix())
	}

	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, err
	}
	return key, nil
}

// ParseJWKFromBytes loads a key previously exported with json.Marshal.
func ParseJWKFromBytes(b []byte) (jwk.Key, error) {
	return jwk.ParseKey(b)
}

// validateURL rejects urls that cannot be fetched or carry credentials.
func validateURL(ustr string) (*url.URL, error) {
	u, err := url.Parse(ustr)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("url hostname was empty")
	}

	if u.User != nil {
		return nil, fmt.Errorf("url user was not empty")
	}

	return u, nil
}

// publicJwkMap returns the public half of key as a plain map for embedding in
// a JOSE header.
func publicJwkMap(key jwk.Key) (map[string]any, error) {
	pubJwk, err := key.PublicKey()
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(pubJwk)
	if err != nil {
		return nil, err
	}

	var pubMap map[string]any
	if err := json.Unmarshal(b, &pubMap); err != nil {
		return nil, err
	}

	return pubMap, nil
}

// signingKey returns the raw private key and the jwt signing method that matches it.
func signingKey(key jwk.Key) (any, jwt.SigningMethod, error) {
	var rawKey any
	if err := key.Raw(&rawKey); err != nil {
		return nil, nil, err
	}

	switch k := rawKey.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve.Params().BitSize {
		case 256:
			return k, jwt.SigningMethodES256, nil
		case 384:
			return k, jwt.SigningMethodES384, nil
		case 521:
			return k, jwt.SigningMethodES512, nil
		}
		return nil, nil, fmt.Errorf("unsupported curve %s", k.Curve.Params().Name)
	case *rsa.PrivateKey:
		return k, jwt.SigningMethodRS256, nil
	case ed25519.PrivateKey:
		return k, jwt.SigningMethodEdDSA, nil
	}

	return nil, nil, fmt.Errorf("key is not a supported private key (%T)", rawKey)
}

type JwksResponseObject struct {
	Keys []jwk.Key `json:"keys"`
}

// CreateJwksResponseObject publishes the public half of key.
func CreateJwksResponseObject(key jwk.Key) (*JwksResponseObject, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return nil, err
	}

	return &JwksResponseObject{
		Keys: []jwk.Key{pub},
	}, nil
}
