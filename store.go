package oauth

import (
	"context"
	"encoding/json"
	"time"
)

// StateTTL is how long an authorization attempt may wait for its callback.
const StateTTL = 10 * time.Minute

// Store is the durable backend shared by every process serving the relying
// party. Lookups of absent entries return ErrNotFound.
//
// Implementations must tolerate concurrent readers. Concurrent first writers of
// the same provider entry may both succeed; the last write wins.
type Store interface {
	Ping(ctx context.Context) error

	GetRelyingPartyKey(ctx context.Context) ([]byte, error)
	// SaveRelyingPartyKey stores key unless a key is already stored, in which
	// case the stored key is kept.
	SaveRelyingPartyKey(ctx context.Context, key []byte) error

	GetProviderConfiguration(ctx context.Context, issuer string) (*ProviderConfiguration, error)
	SaveProviderConfiguration(ctx context.Context, issuer string, cfg *ProviderConfiguration) error

	GetProviderKeys(ctx context.Context, issuer string) (json.RawMessage, error)
	SaveProviderKeys(ctx context.Context, issuer string, keys json.RawMessage) error

	GetClientRegistration(ctx context.Context, issuer string) (*ClientRegistration, error)
	SaveClientRegistration(ctx context.Context, issuer string, reg *ClientRegistration) error

	// GetTokenRecord looks up the record for a WebID at an issuer.
	GetTokenRecord(ctx context.Context, issuer, webid string) (*TokenRecord, error)
	// SaveTokenRecord inserts or replaces the record keyed by (Issuer, WebID).
	SaveTokenRecord(ctx context.Context, rec *TokenRecord) error
	ListTokenRecords(ctx context.Context) ([]*TokenRecord, error)

	GetState(ctx context.Context, state string) (*AuthorizationState, error)
	// SaveState returns ErrStateCollision if the state is already stored.
	SaveState(ctx context.Context, st *AuthorizationState) error
	// DeleteState returns ErrNotFound if no entry was removed.
	DeleteState(ctx context.Context, state string) error
}
