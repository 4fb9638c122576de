package sqlstore

import "time"

type RelyingPartyKey struct {
	ID        uint   `gorm:"primaryKey;autoIncrement:false"`
	Jwk       string `gorm:"type:text"`
	CreatedAt time.Time
}

type ProviderConfiguration struct {
	ID        uint
	Issuer    string `gorm:"size:512;uniqueIndex"`
	Document  string `gorm:"type:text"`
	UpdatedAt time.Time
}

type ProviderKeys struct {
	ID        uint
	Issuer    string `gorm:"size:512;uniqueIndex"`
	KeySet    string `gorm:"type:text"`
	UpdatedAt time.Time
}

type ClientRegistration struct {
	ID                      uint
	Issuer                  string `gorm:"size:512;uniqueIndex"`
	ClientID                string `gorm:"size:512"`
	ClientSecret            string `gorm:"size:512"`
	ClientSecretExpiresAt   int64
	RegistrationAccessToken string `gorm:"type:text"`
	Raw                     string `gorm:"type:text"`
	UpdatedAt               time.Time
}

type TokenRecord struct {
	ID           uint
	Issuer       string `gorm:"size:255;uniqueIndex:idx_token_issuer_webid"`
	WebID        string `gorm:"size:255;uniqueIndex:idx_token_issuer_webid"`
	Sub          string `gorm:"size:255"`
	ClientID     string `gorm:"size:512"`
	AccessToken  string `gorm:"type:text"`
	RefreshToken string `gorm:"type:text"`
	IDToken      string `gorm:"type:text"`
	TokenType    string `gorm:"size:64"`
	Scope        string `gorm:"size:512"`
	Raw          string `gorm:"type:text"`
	// ExpiresAt is a unix timestamp, 0 when the provider gave no expiry.
	ExpiresAt int64
	UpdatedAt time.Time
}

type AuthorizationState struct {
	ID           uint
	State        string    `gorm:"size:128;uniqueIndex"`
	CodeVerifier string    `gorm:"size:128"`
	Issuer       string    `gorm:"size:512"`
	CreatedAt    time.Time `gorm:"index"`
}

var models = []any{
	&RelyingPartyKey{},
	&ProviderConfiguration{},
	&ProviderKeys{},
	&ClientRegistration{},
	&TokenRecord{},
	&AuthorizationState{},
}
