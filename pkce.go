package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/haileyok/solid-oauth-golang/internal/helpers"
)

// tokenEntropy is the number of random bytes behind each verifier and state.
const tokenEntropy = 40

type PKCEChallenge struct {
	State         string
	CodeVerifier  string
	CodeChallenge string
}

// BeginAuthorization creates and stores a single-use authorization attempt for
// issuer. A state that is already stored is never overwritten.
func (c *Client) BeginAuthorization(ctx context.Context, issuer string) (*PKCEChallenge, error) {
	pkceVerifier, err := helpers.GenerateToken(tokenEntropy)
	if err != nil {
		return nil, fmt.Errorf("could not generate pkce verifier: %w", err)
	}

	state, err := helpers.GenerateToken(tokenEntropy)
	if err != nil {
		return nil, fmt.Errorf("could not generate state token: %w", err)
	}

	_, err = c.store.GetState(ctx, state)
	switch {
	case err == nil:
		return nil, ErrStateCollision
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("could not check state: %w", err)
	}

	if err := c.store.SaveState(ctx, &AuthorizationState{
		State:        state,
		CodeVerifier: pkceVerifier,
		Issuer:       issuer,
		CreatedAt:    c.now(),
	}); err != nil {
		return nil, fmt.Errorf("could not save state: %w", err)
	}

	return &PKCEChallenge{
		State:         state,
		CodeVerifier:  pkceVerifier,
		CodeChallenge: helpers.GenerateCodeChallenge(pkceVerifier),
	}, nil
}

// ConsumeAuthorization returns the stored attempt for state and deletes it.
// Only one caller can consume a given state.
func (c *Client) ConsumeAuthorization(ctx context.Context, state string) (*AuthorizationState, error) {
	if state == "" {
		return nil, ErrUnknownState
	}

	st, err := c.store.GetState(ctx, state)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnknownState
	}
	if err != nil {
		return nil, fmt.Errorf("could not load state: %w", err)
	}

	if err := c.store.DeleteState(ctx, state); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownState
		}
		return nil, fmt.Errorf("could not delete state: %w", err)
	}

	if c.now().Sub(st.CreatedAt) > StateTTL {
		return nil, fmt.Errorf("%w: state expired", ErrUnknownState)
	}

	return st, nil
}
