package oauth

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound               = errors.New("provider not found")
	ErrConfiguration                  = errors.New("provider configuration error")
	ErrDynamicRegistrationUnsupported = errors.New("provider does not support dynamic client registration")
	ErrRegistration                   = errors.New("client registration failed")
	ErrUnknownState                   = errors.New("unknown or already used state")
	ErrStateCollision                 = errors.New("state already exists")
	ErrTransport                      = errors.New("transport error")
	ErrTokenExchangeRejected          = errors.New("token request rejected by provider")
	ErrUnknownKeyID                   = errors.New("unknown key id")
	ErrInvalidSignature               = errors.New("invalid signature")
	ErrExpiredToken                   = errors.New("token is expired")
	ErrInvalidClaim                   = errors.New("invalid claim")
	ErrNotFound                       = errors.New("not found")
	ErrMissingIDToken                 = errors.New("id_token is missing from token response")
	ErrAuthorizationDenied            = errors.New("authorization denied by provider")
	ErrNoRefreshToken                 = errors.New("no refresh token available")
)

// TokenRequestError is returned by the flow when the provider answers a token
// request with a non-2xx status. Body holds the provider's OAuth error object.
type TokenRequestError struct {
	StatusCode int
	Body       map[string]any
	RawBody    string
}

func (e *TokenRequestError) Error() string {
	if code, ok := e.Body["error"].(string); ok {
		if desc, ok := e.Body["error_description"].(string); ok && desc != "" {
			return fmt.Sprintf("token request rejected (%d): %s: %s", e.StatusCode, code, desc)
		}
		return fmt.Sprintf("token request rejected (%d): %s", e.StatusCode, code)
	}
	return fmt.Sprintf("token request rejected (%d)", e.StatusCode)
}

func (e *TokenRequestError) Unwrap() error {
	return ErrTokenExchangeRejected
}

// FlowError records the stage an authentication attempt was leaving when it failed.
type FlowError struct {
	Stage FlowStage
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func transportError(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, msg, err)
}
