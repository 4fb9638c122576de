package helpers

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"hash/adler32"
	"strconv"
	"strings"
)

// GenerateToken returns len random bytes encoded as an alphanumeric string.
func GenerateToken(len int) (string, error) {
	b := make([]byte, len)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return -1
		}
		return r
	}, base64.RawURLEncoding.EncodeToString(b)), nil
}

func GenerateCodeChallenge(pkceVerifier string) string {
	h := sha256.New()
	h.Write([]byte(pkceVerifier))
	hash := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(hash)
}

// IssuerHash is a short stable identifier for an issuer url.
func IssuerHash(issuer string) string {
	return strconv.FormatUint(uint64(adler32.Checksum([]byte(issuer))), 10)
}
