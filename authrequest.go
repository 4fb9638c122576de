package oauth

import (
	"golang.org/x/oauth2"
)

type authRequestOptions struct {
	consent bool
}

type AuthRequestOption func(*authRequestOptions)

// WithoutConsentPrompt leaves prompt=consent out of the request.
func WithoutConsentPrompt() AuthRequestOption {
	return func(o *authRequestOptions) {
		o.consent = false
	}
}

// BuildAuthorizationURL composes the url the user is sent to at the provider.
func BuildAuthorizationURL(cfg *ProviderConfiguration, redirectURL, clientID, state, codeChallenge string, opts ...AuthRequestOption) string {
	o := authRequestOptions{consent: true}
	for _, opt := range opts {
		opt(&o)
	}

	oauth2Config := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthorizationEndpoint,
			TokenURL: cfg.TokenEndpoint,
		},
		Scopes: []string{Scope},
	}

	authCodeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if o.consent {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", "consent"))
	}

	return oauth2Config.AuthCodeURL(state, authCodeOpts...)
}
