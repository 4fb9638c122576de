package sqlstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	oauth "github.com/haileyok/solid-oauth-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// every connection to :memory: is a new database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRelyingPartyKeyIsWrittenOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetRelyingPartyKey(ctx)
	assert.ErrorIs(err, oauth.ErrNotFound)

	assert.NoError(s.SaveRelyingPartyKey(ctx, []byte(`{"kid":"first"}`)))
	assert.NoError(s.SaveRelyingPartyKey(ctx, []byte(`{"kid":"second"}`)))

	b, err := s.GetRelyingPartyKey(ctx)
	assert.NoError(err)
	assert.JSONEq(`{"kid":"first"}`, string(b))
}

func TestProviderEntries(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestStore(t)
	iss := "https://op.example"

	_, err := s.GetProviderConfiguration(ctx, iss)
	assert.ErrorIs(err, oauth.ErrNotFound)

	cfg := &oauth.ProviderConfiguration{
		Issuer:                iss,
		AuthorizationEndpoint: iss + "/auth",
		TokenEndpoint:         iss + "/token",
		ScopesSupported:       []string{"openid", "webid"},
	}
	assert.NoError(s.SaveProviderConfiguration(ctx, iss, cfg))

	cfg.TokenEndpoint = iss + "/token2"
	assert.NoError(s.SaveProviderConfiguration(ctx, iss, cfg))

	got, err := s.GetProviderConfiguration(ctx, iss)
	assert.NoError(err)
	assert.Equal(iss+"/token2", got.TokenEndpoint)
	assert.Equal([]string{"openid", "webid"}, got.ScopesSupported)

	keys := json.RawMessage(`{"keys":[]}`)
	assert.NoError(s.SaveProviderKeys(ctx, iss, keys))
	gotKeys, err := s.GetProviderKeys(ctx, iss)
	assert.NoError(err)
	assert.JSONEq(string(keys), string(gotKeys))

	_, err = s.GetClientRegistration(ctx, iss)
	assert.ErrorIs(err, oauth.ErrNotFound)

	assert.NoError(s.SaveClientRegistration(ctx, iss, &oauth.ClientRegistration{
		ClientID:     "abc123",
		ClientSecret: "shh",
		Raw:          json.RawMessage(`{"client_id":"abc123"}`),
	}))
	reg, err := s.GetClientRegistration(ctx, iss)
	assert.NoError(err)
	assert.Equal("abc123", reg.ClientID)
	assert.Equal("shh", reg.ClientSecret)
}

func TestTokenRecordUpsert(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	expires := time.Unix(1700000000, 0)
	rec := &oauth.TokenRecord{
		Issuer:       "https://op.example",
		WebID:        "https://alice.example/profile#me",
		Sub:          "alice-sub",
		ClientID:     "abc123",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    expires,
	}
	assert.NoError(s.SaveTokenRecord(ctx, rec))

	rec.AccessToken = "at-2"
	rec.ExpiresAt = time.Time{}
	assert.NoError(s.SaveTokenRecord(ctx, rec))

	assert.NoError(s.SaveTokenRecord(ctx, &oauth.TokenRecord{
		Issuer:      "https://op.example",
		WebID:       "https://bob.example/profile#me",
		AccessToken: "bob-at",
	}))

	got, err := s.GetTokenRecord(ctx, rec.Issuer, rec.WebID)
	assert.NoError(err)
	assert.Equal("at-2", got.AccessToken)
	assert.Equal("rt-1", got.RefreshToken)
	assert.True(got.ExpiresAt.IsZero())

	recs, err := s.ListTokenRecords(ctx)
	assert.NoError(err)
	assert.Len(recs, 2)
	assert.Equal("https://alice.example/profile#me", recs[0].WebID)

	_, err = s.GetTokenRecord(ctx, rec.Issuer, "https://carol.example/profile#me")
	assert.ErrorIs(err, oauth.ErrNotFound)
}

func TestStateDeletedOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	st := &oauth.AuthorizationState{
		State:        "state-1",
		CodeVerifier: "verifier",
		Issuer:       "https://op.example",
		CreatedAt:    time.Now(),
	}
	assert.NoError(s.SaveState(ctx, st))

	got, err := s.GetState(ctx, "state-1")
	assert.NoError(err)
	assert.Equal("verifier", got.CodeVerifier)
	assert.Equal("https://op.example", got.Issuer)

	assert.NoError(s.DeleteState(ctx, "state-1"))
	assert.ErrorIs(s.DeleteState(ctx, "state-1"), oauth.ErrNotFound)

	_, err = s.GetState(ctx, "state-1")
	assert.ErrorIs(err, oauth.ErrNotFound)
}

func TestPurgeStates(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	assert.NoError(s.SaveState(ctx, &oauth.AuthorizationState{State: "old", CreatedAt: now.Add(-time.Hour)}))
	assert.NoError(s.SaveState(ctx, &oauth.AuthorizationState{State: "new", CreatedAt: now}))

	n, err := s.PurgeStates(ctx, now.Add(-oauth.StateTTL))
	assert.NoError(err)
	assert.EqualValues(1, n)

	_, err = s.GetState(ctx, "new")
	assert.NoError(err)
}

func TestSaveStateCollision(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	st := &oauth.AuthorizationState{
		State:        "state-1",
		CodeVerifier: "first",
		Issuer:       "https://op.example",
		CreatedAt:    time.Now(),
	}
	assert.NoError(s.SaveState(ctx, st))

	again := *st
	again.CodeVerifier = "second"
	assert.ErrorIs(s.SaveState(ctx, &again), oauth.ErrStateCollision)

	// the stored attempt is untouched
	got, err := s.GetState(ctx, "state-1")
	assert.NoError(err)
	assert.Equal("first", got.CodeVerifier)
}
