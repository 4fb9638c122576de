package oauth

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// memStore is an in-process Store for tests.
type memStore struct {
	mu            sync.Mutex
	key           []byte
	configs       map[string]*ProviderConfiguration
	keys          map[string]json.RawMessage
	registrations map[string]*ClientRegistration
	tokens        map[[2]string]*TokenRecord
	states        map[string]*AuthorizationState
}

func newMemStore() *memStore {
	return &memStore{
		configs:       map[string]*ProviderConfiguration{},
		keys:          map[string]json.RawMessage{},
		registrations: map[string]*ClientRegistration{},
		tokens:        map[[2]string]*TokenRecord{},
		states:        map[string]*AuthorizationState{},
	}
}

func (m *memStore) Ping(ctx context.Context) error {
	return nil
}

func (m *memStore) GetRelyingPartyKey(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		return nil, ErrNotFound
	}
	return m.key, nil
}

func (m *memStore) SaveRelyingPartyKey(ctx context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		m.key = key
	}
	return nil
}

func (m *memStore) GetProviderConfiguration(ctx context.Context, issuer string) (*ProviderConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[issuer]
	if !ok {
		return nil, ErrNotFound
	}
	c := *cfg
	return &c, nil
}

func (m *memStore) SaveProviderConfiguration(ctx context.Context, issuer string, cfg *ProviderConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cfg
	m.configs[issuer] = &c
	return nil
}

func (m *memStore) GetProviderKeys(ctx context.Context, issuer string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, ok := m.keys[issuer]
	if !ok {
		return nil, ErrNotFound
	}
	return keys, nil
}

func (m *memStore) SaveProviderKeys(ctx context.Context, issuer string, keys json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[issuer] = keys
	return nil
}

func (m *memStore) GetClientRegistration(ctx context.Context, issuer string) (*ClientRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.registrations[issuer]
	if !ok {
		return nil, ErrNotFound
	}
	r := *reg
	return &r, nil
}

func (m *memStore) SaveClientRegistration(ctx context.Context, issuer string, reg *ClientRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *reg
	m.registrations[issuer] = &r
	return nil
}

func (m *memStore) GetTokenRecord(ctx context.Context, issuer, webid string) (*TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[[2]string{issuer, webid}]
	if !ok {
		return nil, ErrNotFound
	}
	r := *rec
	return &r, nil
}

func (m *memStore) SaveTokenRecord(ctx context.Context, rec *TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *rec
	m.tokens[[2]string{rec.Issuer, rec.WebID}] = &r
	return nil
}

func (m *memStore) ListTokenRecords(ctx context.Context) ([]*TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := make([]*TokenRecord, 0, len(m.tokens))
	for _, rec := range m.tokens {
		r := *rec
		recs = append(recs, &r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Issuer != recs[j].Issuer {
			return recs[i].Issuer < recs[j].Issuer
		}
		return recs[i].WebID < recs[j].WebID
	})
	return recs, nil
}

func (m *memStore) GetState(ctx context.Context, state string) (*AuthorizationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[state]
	if !ok {
		return nil, ErrNotFound
	}
	s := *st
	return &s, nil
}

func (m *memStore) SaveState(ctx context.Context, st *AuthorizationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[st.State]; ok {
		return ErrStateCollision
	}
	s := *st
	m.states[st.State] = &s
	return nil
}

func (m *memStore) DeleteState(ctx context.Context, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[state]; !ok {
		return ErrNotFound
	}
	delete(m.states, state)
	return nil
}
