// Package sqlstore keeps relying party state in a SQL database through gorm.
// SQLite and MySQL are supported.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	oauth "github.com/haileyok/solid-oauth-golang"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const relyingPartyKeyID = 1

type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema. A dsn starting with mysql:// is
// a MySQL dsn after the prefix; sqlite:// or anything else is a SQLite path.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "mysql://"):
		dialector = mysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	case strings.HasPrefix(dsn, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return New(db)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return oauth.ErrNotFound
	}
	return err
}

func (s *Store) GetRelyingPartyKey(ctx context.Context) ([]byte, error) {
	var k RelyingPartyKey
	if err := s.db.WithContext(ctx).First(&k, relyingPartyKeyID).Error; err != nil {
		return nil, notFound(err)
	}
	return []byte(k.Jwk), nil
}

func (s *Store) SaveRelyingPartyKey(ctx context.Context, key []byte) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&RelyingPartyKey{
		ID:  relyingPartyKeyID,
		Jwk: string(key),
	}).Error
}

func (s *Store) GetProviderConfiguration(ctx context.Context, issuer string) (*oauth.ProviderConfiguration, error) {
	var row ProviderConfiguration
	if err := s.db.WithContext(ctx).Where("issuer = ?", issuer).First(&row).Error; err != nil {
		return nil, notFound(err)
	}

	var cfg oauth.ProviderConfiguration
	if err := json.Unmarshal([]byte(row.Document), &cfg); err != nil {
		return nil, fmt.Errorf("stored provider configuration for %s is invalid: %w", issuer, err)
	}
	return &cfg, nil
}

func (s *Store) SaveProviderConfiguration(ctx context.Context, issuer string, cfg *oauth.ProviderConfiguration) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "issuer"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(&ProviderConfiguration{
		Issuer:   issuer,
		Document: string(b),
	}).Error
}

func (s *Store) GetProviderKeys(ctx context.Context, issuer string) (json.RawMessage, error) {
	var row ProviderKeys
	if err := s.db.WithContext(ctx).Where("issuer = ?", issuer).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return json.RawMessage(row.KeySet), nil
}

func (s *Store) SaveProviderKeys(ctx context.Context, issuer string, keys json.RawMessage) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "issuer"}},
		DoUpdates: clause.AssignmentColumns([]string{"key_set", "updated_at"}),
	}).Create(&ProviderKeys{
		Issuer: issuer,
		KeySet: string(keys),
	}).Error
}

func (s *Store) GetClientRegistration(ctx context.Context, issuer string) (*oauth.ClientRegistration, error) {
	var row ClientRegistration
	if err := s.db.WithContext(ctx).Where("issuer = ?", issuer).First(&row).Error; err != nil {
		return nil, notFound(err)
	}

	return &oauth.ClientRegistration{
		ClientID:                row.ClientID,
		ClientSecret:            row.ClientSecret,
		ClientSecretExpiresAt:   row.ClientSecretExpiresAt,
		RegistrationAccessToken: row.RegistrationAccessToken,
		Raw:                     json.RawMessage(row.Raw),
	}, nil
}

func (s *Store) SaveClientRegistration(ctx context.Context, issuer string, reg *oauth.ClientRegistration) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "issuer"}},
		UpdateAll: true,
	}).Create(&ClientRegistration{
		Issuer:                  issuer,
		ClientID:                reg.ClientID,
		ClientSecret:            reg.ClientSecret,
		ClientSecretExpiresAt:   reg.ClientSecretExpiresAt,
		RegistrationAccessToken: reg.RegistrationAccessToken,
		Raw:                     string(reg.Raw),
	}).Error
}

func (s *Store) GetTokenRecord(ctx context.Context, issuer, webid string) (*oauth.TokenRecord, error) {
	var row TokenRecord
	if err := s.db.WithContext(ctx).Where("issuer = ? AND web_id = ?", issuer, webid).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toRecord(), nil
}

func (s *Store) SaveTokenRecord(ctx context.Context, rec *oauth.TokenRecord) error {
	row := &TokenRecord{
		Issuer:       rec.Issuer,
		WebID:        rec.WebID,
		Sub:          rec.Sub,
		ClientID:     rec.ClientID,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		IDToken:      rec.IDToken,
		TokenType:    rec.TokenType,
		Scope:        rec.Scope,
		Raw:          string(rec.Raw),
		UpdatedAt:    rec.UpdatedAt,
	}
	if !rec.ExpiresAt.IsZero() {
		row.ExpiresAt = rec.ExpiresAt.Unix()
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "issuer"}, {Name: "web_id"}},
		UpdateAll: true,
	}).Create(row).Error
}

func (s *Store) ListTokenRecords(ctx context.Context) ([]*oauth.TokenRecord, error) {
	var rows []TokenRecord
	if err := s.db.WithContext(ctx).Order("issuer, web_id").Find(&rows).Error; err != nil {
		return nil, err
	}

	recs := make([]*oauth.TokenRecord, 0, len(rows))
	for i := range rows {
		recs = append(recs, rows[i].toRecord())
	}
	return recs, nil
}

func (row *TokenRecord) toRecord() *oauth.TokenRecord {
	rec := &oauth.TokenRecord{
		Issuer:       row.Issuer,
		WebID:        row.WebID,
		Sub:          row.Sub,
		ClientID:     row.ClientID,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		IDToken:      row.IDToken,
		TokenType:    row.TokenType,
		Scope:        row.Scope,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.Raw != "" {
		rec.Raw = json.RawMessage(row.Raw)
	}
	if row.ExpiresAt != 0 {
		rec.ExpiresAt = time.Unix(row.ExpiresAt, 0)
	}
	return rec
}

func (s *Store) GetState(ctx context.Context, state string) (*oauth.AuthorizationState, error) {
	var row AuthorizationState
	if err := s.db.WithContext(ctx).Where("state = ?", state).First(&row).Error; err != nil {
		return nil, notFound(err)
	}

	return &oauth.AuthorizationState{
		State:        row.State,
		CodeVerifier: row.CodeVerifier,
		Issuer:       row.Issuer,
		CreatedAt:    row.CreatedAt,
	}, nil
}

func (s *Store) SaveState(ctx context.Context, st *oauth.AuthorizationState) error {
	err := s.db.WithContext(ctx).Create(&AuthorizationState{
		State:        st.State,
		CodeVerifier: st.CodeVerifier,
		Issuer:       st.Issuer,
		CreatedAt:    st.CreatedAt,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return oauth.ErrStateCollision
	}
	return err
}

func (s *Store) DeleteState(ctx context.Context, state string) error {
	res := s.db.WithContext(ctx).Where("state = ?", state).Delete(&AuthorizationState{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return oauth.ErrNotFound
	}
	return nil
}

// PurgeStates removes attempts created before cutoff that never saw a callback.
func (s *Store) PurgeStates(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&AuthorizationState{})
	return res.RowsAffected, res.Error
}
