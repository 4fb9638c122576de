package oauth

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/haileyok/solid-oauth-golang/internal/helpers"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer      = "https://op.example"
	testWebID       = "https://alice.example/profile#me"
	testSub         = "alice-sub"
	testClientID    = "abc123"
	testSecret      = "secret-1"
	testBaseURL     = "https://rp.example/"
	testRedirectURL = "https://rp.example/redirect"
)

// rewriteTransport sends every request to target while keeping the original
// Host, so one test server can play several origins.
type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Host == "" {
		r.Host = req.URL.Host
	}
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	return rt.base.RoundTrip(r)
}

// testProvider is an OpenID provider and a few profile servers.
type testProvider struct {
	t   *testing.T
	srv *httptest.Server
	key jwk.Key

	mu            sync.Mutex
	discovery     map[string]any
	discoveryHits int
	jwksHits      int
	registrations int
	codes         map[string]string
	codeCount     int
	refreshToken  string
	accessCount   int
	tokenForms    []url.Values
	tokenAuth     []string
	tokenError    string
	omitWebID     bool
	omitIDToken   bool
	rotateRefresh bool
	expiresIn     int
}

func newTestProvider(t *testing.T) *testProvider {
	prefix := "op"
	key, err := GenerateKey(&prefix)
	require.NoError(t, err)

	p := &testProvider{
		t:     t,
		key:   key,
		codes: map[string]string{},
		discovery: map[string]any{
			"issuer":                                testIssuer,
			"authorization_endpoint":                testIssuer + "/authorize",
			"token_endpoint":                        testIssuer + "/token",
			"registration_endpoint":                 testIssuer + "/register",
			"jwks_uri":                              testIssuer + "/jwks",
			"scopes_supported":                      []string{"openid", "webid", "offline_access"},
			"response_types_supported":              []string{"code"},
			"code_challenge_methods_supported":      []string{"S256"},
			"token_endpoint_auth_methods_supported": []string{"client_secret_basic"},
			"dpop_signing_alg_values_supported":     []string{"ES256"},
		},
		expiresIn: 3600,
	}

	p.srv = httptest.NewServer(http.HandlerFunc(p.serveHTTP))
	t.Cleanup(p.srv.Close)

	return p
}

func (p *testProvider) httpClient() *http.Client {
	target, _ := url.Parse(p.srv.URL)
	return &http.Client{
		Transport: &rewriteTransport{target: target, base: http.DefaultTransport},
		Timeout:   5 * time.Second,
	}
}

func (p *testProvider) newClient(store Store) *Client {
	c, err := NewClient(ClientArgs{
		H:           p.httpClient(),
		Store:       store,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		BaseURL:     testBaseURL,
		RedirectURL: testRedirectURL,
	})
	require.NoError(p.t, err)
	return c
}

func (p *testProvider) lastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokenForms) == 0 {
		return nil
	}
	return p.tokenForms[len(p.tokenForms)-1]
}

func (p *testProvider) lastTokenAuth() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokenAuth) == 0 {
		return ""
	}
	return p.tokenAuth[len(p.tokenAuth)-1]
}

func (p *testProvider) counts() (discovery, jwks, registrations int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryHits, p.jwksHits, p.registrations
}

func (p *testProvider) set(f func(p *testProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(p)
}

func (p *testProvider) serveHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Host + r.URL.Path {
	case "op.example/.well-known/openid-configuration":
		p.mu.Lock()
		p.discoveryHits++
		doc := p.discovery
		p.mu.Unlock()
		writeJSON(w, http.StatusOK, doc)
	case "op.example/jwks":
		p.mu.Lock()
		p.jwksHits++
		p.mu.Unlock()
		jwks, err := CreateJwksResponseObject(p.key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, jwks)
	case "op.example/register":
		p.handleRegister(w, r)
	case "op.example/token":
		p.handleToken(w, r)
	case "alice.example/profile":
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "text/turtle")
		fmt.Fprintf(w, "@prefix solid: <http://www.w3.org/ns/solid/terms#> .\n<#me> solid:oidcIssuer <%s> .\n", testIssuer)
	case "bob.example/profile":
		if r.Method == "OPTIONS" {
			w.Header().Add("Link", `<https://bob.example/acl>; rel="acl"`)
			w.Header().Add("Link", fmt.Sprintf(`<%s>; rel="%s"`, testIssuer, OIDCIssuerRel))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		// the Link header must be enough
		w.WriteHeader(http.StatusInternalServerError)
	case "carol.example/profile":
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/n-triples")
		fmt.Fprintf(w, "<https://carol.example/profile#me> <%s> <%s> .\n", SolidOIDCIssuer, testIssuer)
	case "dave.example/profile":
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "text/turtle")
		io.WriteString(w, "@prefix foaf: <http://xmlns.com/foaf/0.1/> .\n<#me> foaf:name \"Dave\" .\n")
	default:
		http.NotFound(w, r)
	}
}

func (p *testProvider) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_client_metadata"})
		return
	}

	p.mu.Lock()
	p.registrations++
	p.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":     testClientID,
		"client_secret": testSecret,
		"redirect_uris": req["redirect_uris"],
	})
}

// authorize plays the user consenting at the provider and returns the code the
// provider would send to the redirect url.
func (p *testProvider) authorize(authURL string) string {
	u, err := url.Parse(authURL)
	require.NoError(p.t, err)

	q := u.Query()
	require.Equal(p.t, "S256", q.Get("code_challenge_method"))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.codeCount++
	code := fmt.Sprintf("code-%d", p.codeCount)
	p.codes[code] = q.Get("code_challenge")
	return code
}

func (p *testProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	if err := verifyDPoP(r.Header.Get("DPoP"), "POST", testIssuer+"/token"); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_dpop_proof", "error_description": err.Error()})
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.tokenForms = append(p.tokenForms, r.PostForm)
	user, _, _ := r.BasicAuth()
	p.tokenAuth = append(p.tokenAuth, user)

	if p.tokenError != "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": p.tokenError})
		return
	}

	resp := map[string]any{
		"token_type": "DPoP",
		"expires_in": p.expiresIn,
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		challenge, ok := p.codes[r.PostForm.Get("code")]
		if !ok || helpers.GenerateCodeChallenge(r.PostForm.Get("code_verifier")) != challenge {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
		delete(p.codes, r.PostForm.Get("code"))
		p.refreshToken = "rt-1"
		resp["refresh_token"] = p.refreshToken
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != p.refreshToken {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
		if p.rotateRefresh {
			p.refreshToken = fmt.Sprintf("rt-%d", p.accessCount+2)
			resp["refresh_token"] = p.refreshToken
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}

	p.accessCount++
	resp["access_token"] = fmt.Sprintf("at-%d", p.accessCount)

	if !p.omitIDToken {
		claims := jwt.MapClaims{
			"iss": testIssuer,
			"aud": r.PostForm.Get("client_id"),
			"sub": testSub,
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		if !p.omitWebID {
			claims["webid"] = testWebID
		}
		resp["id_token"] = signTestToken(p.t, p.key, claims)
	}

	writeJSON(w, http.StatusOK, resp)
}

func signTestToken(t *testing.T, key jwk.Key, claims jwt.MapClaims) string {
	raw, method, err := signingKey(key)
	require.NoError(t, err)

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = key.KeyID()

	s, err := token.SignedString(raw)
	require.NoError(t, err)
	return s
}

// verifyDPoP checks a proof the way a provider would, using the key embedded
// in its header.
func verifyDPoP(proof, method, htu string) error {
	if proof == "" {
		return fmt.Errorf("missing DPoP header")
	}

	token, err := jwt.Parse(proof, func(token *jwt.Token) (any, error) {
		if typ, _ := token.Header["typ"].(string); typ != "dpop+jwt" {
			return nil, fmt.Errorf("bad typ %q", typ)
		}

		b, err := json.Marshal(token.Header["jwk"])
		if err != nil {
			return nil, err
		}

		key, err := jwk.ParseKey(b)
		if err != nil {
			return nil, err
		}

		var pub any
		if err := key.Raw(&pub); err != nil {
			return nil, err
		}
		return pub, nil
	})
	if err != nil {
		return err
	}

	claims := token.Claims.(jwt.MapClaims)
	if claims["htm"] != method {
		return fmt.Errorf("htm was %v", claims["htm"])
	}
	if claims["htu"] != htu {
		return fmt.Errorf("htu was %v", claims["htu"])
	}
	if jti, _ := claims["jti"].(string); strings.TrimSpace(jti) == "" {
		return fmt.Errorf("missing jti")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
