package helpers

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var alnum = regexp.MustCompile(`^[A-Za-z0-9]+$`)

func TestGenerateToken(t *testing.T) {
	assert := assert.New(t)

	tok, err := GenerateToken(40)
	assert.NoError(err)
	assert.Regexp(alnum, tok)
	// 40 bytes is 54 base64 characters before '-' and '_' are dropped
	assert.Greater(len(tok), 40)
}

func TestGenerateCodeChallenge(t *testing.T) {
	assert := assert.New(t)

	sum := sha256.Sum256([]byte("verifier"))
	assert.Equal(base64.RawURLEncoding.EncodeToString(sum[:]), GenerateCodeChallenge("verifier"))
	// RFC 7636 appendix B
	assert.Equal("E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", GenerateCodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestIssuerHash(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(IssuerHash("https://op.example"), IssuerHash("https://op.example"))
	assert.NotEqual(IssuerHash("https://op.example"), IssuerHash("https://op.example/"))
	assert.Regexp(`^[0-9]+$`, IssuerHash("https://op.example"))
}
