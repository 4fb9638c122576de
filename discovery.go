package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

const wellKnownOpenIDConfiguration = ".well-known/openid-configuration"

// DiscoveryURL returns the location of the provider's discovery document. An
// issuer may contain a path, so the well-known suffix is appended to it.
func DiscoveryURL(issuer string) string {
	return withTrailingSlash(issuer) + wellKnownOpenIDConfiguration
}

// ProviderConfiguration returns the discovery document for issuer, fetching and
// saving it on first use. The document is saved under its own issuer claim,
// which callers should use from then on.
func (c *Client) ProviderConfiguration(ctx context.Context, issuer string) (*ProviderConfiguration, error) {
	// a profile may name the issuer with or without a trailing slash
	for _, key := range issuerCacheKeys(issuer) {
		cfg, err := c.store.GetProviderConfiguration(ctx, key)
		if err == nil {
			c.logger.Debug("provider configuration already cached", "issuer", key)
			return cfg, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("could not load provider configuration: %w", err)
		}
	}

	cfg, err := c.FetchProviderConfiguration(ctx, issuer)
	if err != nil {
		return nil, err
	}

	if err := c.store.SaveProviderConfiguration(ctx, cfg.Issuer, cfg); err != nil {
		return nil, fmt.Errorf("could not save provider configuration: %w", err)
	}

	c.logger.Info("saved provider configuration", "issuer", cfg.Issuer)

	return cfg, nil
}

func issuerCacheKeys(issuer string) []string {
	if trimmed := strings.TrimSuffix(issuer, "/"); trimmed != issuer {
		return []string{issuer, trimmed}
	}
	return []string{issuer, issuer + "/"}
}

// FetchProviderConfiguration downloads and validates a discovery document
// without consulting the store.
func (c *Client) FetchProviderConfiguration(ctx context.Context, issuer string) (*ProviderConfiguration, error) {
	var cfg ProviderConfiguration
	if _, err := c.getJSON(ctx, DiscoveryURL(issuer), &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("could not validate provider configuration: %w", err)
	}

	return &cfg, nil
}

// ProviderKeySet returns the provider's JSON Web Key Set, fetching and saving
// it on first use.
func (c *Client) ProviderKeySet(ctx context.Context, issuer string, cfg *ProviderConfiguration) (jwk.Set, error) {
	raw, err := c.store.GetProviderKeys(ctx, issuer)
	if err == nil {
		set, err := jwk.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: could not parse stored key set: %w", ErrConfiguration, err)
		}
		return set, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("could not load provider keys: %w", err)
	}

	if cfg == nil || cfg.JwksURI == "" {
		return nil, fmt.Errorf("%w: cannot find jwks_uri for %s", ErrConfiguration, issuer)
	}

	var keys json.RawMessage
	b, err := c.getJSON(ctx, cfg.JwksURI, &keys)
	if err != nil {
		return nil, err
	}

	set, err := jwk.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse key set from %s: %w", ErrConfiguration, cfg.JwksURI, err)
	}

	if err := c.store.SaveProviderKeys(ctx, issuer, b); err != nil {
		return nil, fmt.Errorf("could not save provider keys: %w", err)
	}

	c.logger.Info("saved provider keys", "issuer", issuer, "count", set.Len())

	return set, nil
}
