package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/haileyok/solid-oauth-golang/internal/helpers"
)

// Scope is requested in every authorization request. offline_access asks for
// a refresh token.
const Scope = "openid webid offline_access"

const solidOIDCContext = "https://www.w3.org/ns/solid/oidc-context.jsonld"

// ClientIDURL is the static client identifier used with issuer. It is stable
// for a given base url and issuer.
func ClientIDURL(baseURL, issuer string) string {
	return withTrailingSlash(baseURL) + "client/" + helpers.IssuerHash(issuer) + ".jsonld"
}

// EstablishClient decides how the relying party identifies itself to the
// provider described by cfg. With useStaticClientURL the client id is a
// client identifier document url and nothing is sent to the provider.
// Otherwise the client registers dynamically, at most once per issuer.
func (c *Client) EstablishClient(ctx context.Context, cfg *ProviderConfiguration, useStaticClientURL bool) (*ClientIdentity, error) {
	if useStaticClientURL {
		if !cfg.SupportsClientIDDocument() {
			c.logger.Warn("provider does not advertise the webid scope, client id document may be rejected", "issuer", cfg.Issuer)
		}

		return &ClientIdentity{
			ClientID: ClientIDURL(c.baseURL, cfg.Issuer),
			Static:   true,
		}, nil
	}

	if !cfg.SupportsDynamicRegistration() {
		return nil, fmt.Errorf("%w: %s has no registration_endpoint", ErrDynamicRegistrationUnsupported, cfg.Issuer)
	}

	reg, err := c.store.GetClientRegistration(ctx, cfg.Issuer)
	switch {
	case err == nil:
		c.logger.Debug("registration already exists, skipping", "issuer", cfg.Issuer, "client_id", reg.ClientID)
	case errors.Is(err, ErrNotFound):
		reg, err = c.RegisterClient(ctx, cfg)
		if err != nil {
			return nil, err
		}

		if err := c.store.SaveClientRegistration(ctx, cfg.Issuer, reg); err != nil {
			return nil, fmt.Errorf("could not save client registration: %w", err)
		}

		c.logger.Info("registered client with provider", "issuer", cfg.Issuer, "client_id", reg.ClientID)
	default:
		return nil, fmt.Errorf("could not load client registration: %w", err)
	}

	return &ClientIdentity{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
	}, nil
}

// ExistingClient returns the identity a token was issued to without registering
// anything new. A clientID equal to the static client id url is the static
// identity, anything else must match a stored registration.
func (c *Client) ExistingClient(ctx context.Context, issuer, clientID string) (*ClientIdentity, error) {
	if clientID == ClientIDURL(c.baseURL, issuer) {
		return &ClientIdentity{ClientID: clientID, Static: true}, nil
	}

	reg, err := c.store.GetClientRegistration(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: no registration for %s: %w", ErrRegistration, issuer, err)
	}

	if reg.ClientID != clientID {
		return nil, fmt.Errorf("%w: stored registration for %s has client id %s, token was issued to %s", ErrRegistration, issuer, reg.ClientID, clientID)
	}

	return &ClientIdentity{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
	}, nil
}

type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ClientName              string   `json:"client_name"`
	ApplicationType         string   `json:"application_type"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// RegisterClient performs dynamic client registration without consulting the
// store.
func (c *Client) RegisterClient(ctx context.Context, cfg *ProviderConfiguration) (*ClientRegistration, error) {
	if cfg.RegistrationEndpoint == "" {
		return nil, fmt.Errorf("%w: %s has no registration_endpoint", ErrDynamicRegistrationUnsupported, cfg.Issuer)
	}

	if _, err := validateURL(cfg.RegistrationEndpoint); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistration, err)
	}

	authMethod := "client_secret_basic"
	if cfg.UsesClientSecretPost() {
		authMethod = "client_secret_post"
	}

	body, err := json.Marshal(registrationRequest{
		RedirectURIs:            []string{c.redirectURL},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ClientName:              c.clientName,
		ApplicationType:         "web",
		Scope:                   Scope,
		TokenEndpointAuthMethod: authMethod,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", cfg.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.h.Do(req)
	if err != nil {
		return nil, transportError("could not get registration response", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, transportError("could not read registration response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status code was %d: %s", ErrRegistration, resp.StatusCode, string(b))
	}

	var reg ClientRegistration
	if err := json.Unmarshal(b, &reg); err != nil {
		return nil, fmt.Errorf("%w: could not unmarshal registration response: %w", ErrRegistration, err)
	}

	if reg.ClientID == "" {
		return nil, fmt.Errorf("%w: registration response has no client_id", ErrRegistration)
	}

	reg.Raw = b

	return &reg, nil
}

// ClientIDDocument is the JSON-LD document a provider dereferences when the
// client id is a url.
type ClientIDDocument struct {
	Context                 []string `json:"@context"`
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	PostLogoutRedirectURIs  []string `json:"post_logout_redirect_uris"`
	ClientURI               string   `json:"client_uri"`
	LogoURI                 string   `json:"logo_uri"`
	TosURI                  string   `json:"tos_uri"`
	Scope                   string   `json:"scope"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	DefaultMaxAge           int      `json:"default_max_age"`
	RequireAuthTime         bool     `json:"require_auth_time"`
}

// ClientIDDocument describes this client at baseURL + "client/" + cid + ".jsonld".
func (c *Client) ClientIDDocument(cid string) *ClientIDDocument {
	return &ClientIDDocument{
		Context:                 []string{solidOIDCContext},
		ClientID:                c.baseURL + "client/" + cid + ".jsonld",
		ClientName:              c.clientName,
		RedirectURIs:            []string{c.redirectURL},
		PostLogoutRedirectURIs:  []string{c.baseURL + "logout"},
		ClientURI:               c.baseURL,
		LogoURI:                 c.baseURL + "logo.png",
		TosURI:                  c.baseURL + "tos.html",
		Scope:                   Scope,
		GrantTypes:              []string{"refresh_token", "authorization_code"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		DefaultMaxAge:           3600,
		RequireAuthTime:         true,
	}
}
