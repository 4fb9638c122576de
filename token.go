package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ClientAuth carries a client secret for the token endpoint. Post sends it in
// the form body (client_secret_post) instead of basic auth.
type ClientAuth struct {
	ClientID     string
	ClientSecret string
	Post         bool
}

// ClientAuthFor returns the token endpoint authentication for id, or nil for
// clients without a secret.
func ClientAuthFor(cfg *ProviderConfiguration, id *ClientIdentity) *ClientAuth {
	if id == nil || id.ClientSecret == "" {
		return nil
	}
	return &ClientAuth{
		ClientID:     id.ClientID,
		ClientSecret: id.ClientSecret,
		Post:         cfg.UsesClientSecretPost(),
	}
}

// TokenResult is the outcome of a token request that reached the provider. A
// rejection by the provider is a normal result with OK false, not an error.
type TokenResult struct {
	OK         bool
	StatusCode int
	// Token is set when OK.
	Token *TokenResponse
	// Body is the decoded JSON body, nil if the body was not a JSON object.
	Body    map[string]any
	RawBody string
}

func (tr *TokenResult) Err() error {
	if tr.OK {
		return nil
	}
	return &TokenRequestError{
		StatusCode: tr.StatusCode,
		Body:       tr.Body,
		RawBody:    tr.RawBody,
	}
}

// ExchangeCode redeems an authorization code at the provider's token endpoint.
func (c *Client) ExchangeCode(
	ctx context.Context,
	key jwk.Key,
	codeVerifier,
	code string,
	cfg *ProviderConfiguration,
	clientID,
	redirectURL string,
	auth *ClientAuth,
) (*TokenResult, error) {
	params := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURL},
		"code":          {code},
		"code_verifier": {codeVerifier},
	}

	return c.tokenRequest(ctx, key, cfg, params, auth)
}

// RefreshToken asks for a new access token. Deciding whether a refresh is due
// is up to the caller.
func (c *Client) RefreshToken(
	ctx context.Context,
	key jwk.Key,
	cfg *ProviderConfiguration,
	clientID,
	refreshToken string,
	auth *ClientAuth,
) (*TokenResult, error) {
	params := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}

	return c.tokenRequest(ctx, key, cfg, params, auth)
}

func (c *Client) tokenRequest(ctx context.Context, key jwk.Key, cfg *ProviderConfiguration, params url.Values, auth *ClientAuth) (*TokenResult, error) {
	if cfg == nil || cfg.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: no token_endpoint", ErrConfiguration)
	}

	if _, err := validateURL(cfg.TokenEndpoint); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if auth != nil && auth.Post {
		params.Set("client_secret", auth.ClientSecret)
	}

	dpopProof, err := NewDPoPProof(key, "POST", cfg.TokenEndpoint)
	if err != nil {
		return nil, fmt.Errorf("error getting dpop proof: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", cfg.TokenEndpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("DPoP", dpopProof)

	if auth != nil && !auth.Post {
		req.SetBasicAuth(url.QueryEscape(auth.ClientID), url.QueryEscape(auth.ClientSecret))
	}

	resp, err := c.tokenH.Do(req)
	if err != nil {
		return nil, transportError("token request failed", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, transportError("could not read token response", err)
	}

	result := &TokenResult{
		OK:         resp.StatusCode >= 200 && resp.StatusCode <= 299,
		StatusCode: resp.StatusCode,
		RawBody:    string(b),
	}

	var body map[string]any
	if err := json.Unmarshal(b, &body); err == nil {
		result.Body = body
	}

	if !result.OK {
		c.logger.Debug("token request rejected", "status", resp.StatusCode, "grant_type", params.Get("grant_type"), "error", body["error"])
		return result, nil
	}

	var tokenResponse TokenResponse
	if err := json.Unmarshal(b, &tokenResponse); err != nil {
		return nil, fmt.Errorf("%w: could not unmarshal token response: %w", ErrTransport, err)
	}
	result.Token = &tokenResponse

	return result, nil
}
