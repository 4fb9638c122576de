package oauth

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"time"

	"golang.org/x/oauth2"
)

// ProviderConfiguration is the subset of an OpenID Provider discovery document
// the relying party uses.
type ProviderConfiguration struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	JwksURI                           string   `json:"jwks_uri"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	DpopSigningAlgValuesSupported     []string `json:"dpop_signing_alg_values_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

func (pc *ProviderConfiguration) UnmarshalJSON(b []byte) error {
	type Tmp ProviderConfiguration
	var tmp Tmp

	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}

	*pc = ProviderConfiguration(tmp)

	return nil
}

// Validate checks that the document can drive an authorization code flow with PKCE.
func (pc *ProviderConfiguration) Validate() error {
	if pc.Issuer == "" {
		return fmt.Errorf("%w: issuer is empty", ErrConfiguration)
	}

	if _, err := url.Parse(pc.Issuer); err != nil {
		return fmt.Errorf("%w: issuer is not a url: %w", ErrConfiguration, err)
	}

	if pc.AuthorizationEndpoint == "" {
		return fmt.Errorf("%w: authorization_endpoint is empty", ErrConfiguration)
	}

	if pc.TokenEndpoint == "" {
		return fmt.Errorf("%w: token_endpoint is empty", ErrConfiguration)
	}

	if len(pc.ResponseTypesSupported) > 0 && !tokenInSet("code", pc.ResponseTypesSupported) {
		return fmt.Errorf("%w: `code` is not in response_types_supported", ErrConfiguration)
	}

	if len(pc.CodeChallengeMethodsSupported) > 0 && !tokenInSet("S256", pc.CodeChallengeMethodsSupported) {
		return fmt.Errorf("%w: `S256` is not in code_challenge_methods_supported", ErrConfiguration)
	}

	return nil
}

func (pc *ProviderConfiguration) SupportsDynamicRegistration() bool {
	return pc.RegistrationEndpoint != ""
}

// SupportsClientIDDocument reports whether the provider advertises the `webid`
// scope. Providers that implement Solid-OIDC accept a dereferenceable client id.
func (pc *ProviderConfiguration) SupportsClientIDDocument() bool {
	return tokenInSet("webid", pc.ScopesSupported)
}

// UsesClientSecretPost is true when the provider only accepts client secrets in
// the request body.
func (pc *ProviderConfiguration) UsesClientSecretPost() bool {
	return tokenInSet("client_secret_post", pc.TokenEndpointAuthMethodsSupported) &&
		!tokenInSet("client_secret_basic", pc.TokenEndpointAuthMethodsSupported)
}

// ClientRegistration is the result of dynamic client registration with a provider.
type ClientRegistration struct {
	ClientID                string          `json:"client_id"`
	ClientSecret            string          `json:"client_secret,omitempty"`
	ClientSecretExpiresAt   int64           `json:"client_secret_expires_at,omitempty"`
	RegistrationAccessToken string          `json:"registration_access_token,omitempty"`
	Raw                     json.RawMessage `json:"-"`
}

// ClientIdentity is how the relying party identifies itself to one provider.
type ClientIdentity struct {
	ClientID     string
	ClientSecret string
	// Static is set when ClientID is a client identifier document URL.
	Static bool
}

// AuthorizationState is one pending authorization attempt.
type AuthorizationState struct {
	State        string
	CodeVerifier string
	Issuer       string
	CreatedAt    time.Time
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Expiry returns the absolute expiry of the access token, or the zero time when
// the provider did not send expires_in.
func (tr *TokenResponse) Expiry(now time.Time) time.Time {
	if tr.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
}

// TokenRecord is the persisted credential for one (issuer, webid) pair.
type TokenRecord struct {
	Issuer       string
	WebID        string
	Sub          string
	ClientID     string
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Scope        string
	Raw          json.RawMessage
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// Expired is false when no expiry is known.
func (r *TokenRecord) Expired(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(r.ExpiresAt)
}

func (r *TokenRecord) NeedsRefresh(now time.Time, skew time.Duration) bool {
	return r.Expired(now.Add(skew))
}

func (r *TokenRecord) OAuth2Token() *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       r.ExpiresAt,
	}
	return t.WithExtra(map[string]any{"id_token": r.IDToken})
}

// applyTokenResponse updates the record from a token endpoint response. The old
// refresh token is kept when the provider does not rotate it.
func (r *TokenRecord) applyTokenResponse(resp *TokenResponse, raw json.RawMessage, now time.Time) {
	r.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		r.RefreshToken = resp.RefreshToken
	}
	if resp.IDToken != "" {
		r.IDToken = resp.IDToken
	}
	if resp.TokenType != "" {
		r.TokenType = resp.TokenType
	}
	if resp.Scope != "" {
		r.Scope = resp.Scope
	}
	r.Raw = raw
	r.ExpiresAt = resp.Expiry(now)
	r.UpdatedAt = now
}

func tokenInSet(tok string, set []string) bool {
	return slices.Contains(set, tok)
}
