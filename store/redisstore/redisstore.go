// Package redisstore keeps relying party state in Redis. Authorization states
// expire on their own after oauth.StateTTL.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	oauth "github.com/haileyok/solid-oauth-golang"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "solidauth-"

	keyRelyingPartyKey = "local-key"
	keyConfiguration   = "rs-configuration-"
	keyJwks            = "rs-jwks-"
	keyRegistration    = "rs-registration-"
	keyToken           = "rs-token-"
	keyTokensList      = "rs-tokens-list"
	keyState           = "state-"
)

type Store struct {
	rdb    *redis.Client
	prefix string
}

// Open connects with a redis:// or rediss:// url.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	s := New(redis.NewClient(opts))
	if err := s.Ping(ctx); err != nil {
		return nil, fmt.Errorf("could not reach redis: %w", err)
	}
	return s, nil
}

func New(rdb *redis.Client) *Store {
	return &Store{
		rdb:    rdb,
		prefix: DefaultPrefix,
	}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += p
	}
	return k
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oauth.ErrNotFound
	}
	return b, err
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	b, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("stored value at %s is invalid: %w", key, err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, 0).Err()
}

func (s *Store) GetRelyingPartyKey(ctx context.Context) ([]byte, error) {
	return s.get(ctx, s.key(keyRelyingPartyKey))
}

func (s *Store) SaveRelyingPartyKey(ctx context.Context, key []byte) error {
	return s.rdb.SetNX(ctx, s.key(keyRelyingPartyKey), key, 0).Err()
}

func (s *Store) GetProviderConfiguration(ctx context.Context, issuer string) (*oauth.ProviderConfiguration, error) {
	var cfg oauth.ProviderConfiguration
	if err := s.getJSON(ctx, s.key(keyConfiguration, issuer), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) SaveProviderConfiguration(ctx context.Context, issuer string, cfg *oauth.ProviderConfiguration) error {
	return s.setJSON(ctx, s.key(keyConfiguration, issuer), cfg)
}

func (s *Store) GetProviderKeys(ctx context.Context, issuer string) (json.RawMessage, error) {
	return s.get(ctx, s.key(keyJwks, issuer))
}

func (s *Store) SaveProviderKeys(ctx context.Context, issuer string, keys json.RawMessage) error {
	return s.rdb.Set(ctx, s.key(keyJwks, issuer), []byte(keys), 0).Err()
}

// registration keeps the provider's full response next to the fields we use.
type registration struct {
	ClientID                string          `json:"client_id"`
	ClientSecret            string          `json:"client_secret,omitempty"`
	ClientSecretExpiresAt   int64           `json:"client_secret_expires_at,omitempty"`
	RegistrationAccessToken string          `json:"registration_access_token,omitempty"`
	Raw                     json.RawMessage `json:"raw,omitempty"`
}

func (s *Store) GetClientRegistration(ctx context.Context, issuer string) (*oauth.ClientRegistration, error) {
	var reg registration
	if err := s.getJSON(ctx, s.key(keyRegistration, issuer), &reg); err != nil {
		return nil, err
	}

	return &oauth.ClientRegistration{
		ClientID:                reg.ClientID,
		ClientSecret:            reg.ClientSecret,
		ClientSecretExpiresAt:   reg.ClientSecretExpiresAt,
		RegistrationAccessToken: reg.RegistrationAccessToken,
		Raw:                     reg.Raw,
	}, nil
}

func (s *Store) SaveClientRegistration(ctx context.Context, issuer string, reg *oauth.ClientRegistration) error {
	return s.setJSON(ctx, s.key(keyRegistration, issuer), registration{
		ClientID:                reg.ClientID,
		ClientSecret:            reg.ClientSecret,
		ClientSecretExpiresAt:   reg.ClientSecretExpiresAt,
		RegistrationAccessToken: reg.RegistrationAccessToken,
		Raw:                     reg.Raw,
	})
}

func (s *Store) tokenKey(issuer, webid string) string {
	return s.key(keyToken, issuer, "-", webid)
}

func (s *Store) GetTokenRecord(ctx context.Context, issuer, webid string) (*oauth.TokenRecord, error) {
	var rec oauth.TokenRecord
	if err := s.getJSON(ctx, s.tokenKey(issuer, webid), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) SaveTokenRecord(ctx context.Context, rec *oauth.TokenRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := s.tokenKey(rec.Issuer, rec.WebID)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, b, 0)
		pipe.SAdd(ctx, s.key(keyTokensList), key)
		return nil
	})
	return err
}

func (s *Store) ListTokenRecords(ctx context.Context) ([]*oauth.TokenRecord, error) {
	keys, err := s.rdb.SMembers(ctx, s.key(keyTokensList)).Result()
	if err != nil {
		return nil, err
	}

	recs := make([]*oauth.TokenRecord, 0, len(keys))
	for _, k := range keys {
		var rec oauth.TokenRecord
		if err := s.getJSON(ctx, k, &rec); err != nil {
			if errors.Is(err, oauth.ErrNotFound) {
				continue
			}
			return nil, err
		}
		recs = append(recs, &rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Issuer != recs[j].Issuer {
			return recs[i].Issuer < recs[j].Issuer
		}
		return recs[i].WebID < recs[j].WebID
	})

	return recs, nil
}

func (s *Store) GetState(ctx context.Context, state string) (*oauth.AuthorizationState, error) {
	var st oauth.AuthorizationState
	if err := s.getJSON(ctx, s.key(keyState, state), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) SaveState(ctx context.Context, st *oauth.AuthorizationState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, s.key(keyState, st.State), b, oauth.StateTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return oauth.ErrStateCollision
	}
	return nil
}

func (s *Store) DeleteState(ctx context.Context, state string) error {
	n, err := s.rdb.Del(ctx, s.key(keyState, state)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return oauth.ErrNotFound
	}
	return nil
}
