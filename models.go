package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DurationUnit is the unit of an access policy lifetime
type DurationUnit = string

const (
	UnitSeconds DurationUnit = "seconds"
	UnitMinutes DurationUnit = "minutes"
	UnitHours   DurationUnit = "hours"
	UnitDays    DurationUnit = "days"
)

// AccessPolicy is a named signing policy for one token purpose
type AccessPolicy struct {
	bun.BaseModel `bun:"table:access_policies,alias:acp"`
	ID            int64        `bun:"id,pk,autoincrement" json:"id"`
	Name          string       `bun:"name,notnull,unique" json:"name"`
	SigningSecret string       `bun:"signing_secret,notnull,unique" json:"-"`
	Algorithm     string       `bun:"algorithm,notnull" json:"algorithm"`
	Duration      int          `bun:"duration,notnull" json:"duration"`
	DurationUnit  DurationUnit `bun:"duration_unit,notnull" json:"duration_unit"`
	CreatedAt     *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Account holds the session related fields of a user account
type Account struct {
	bun.BaseModel  `bun:"table:accounts,alias:acc"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	SubjectKey     string     `bun:"subject_key,notnull,unique" json:"ukey"`
	Email          string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	Confirmed      bool       `bun:"confirmed,notnull" json:"confirmed"`
	RefreshCounter int        `bun:"refresh_counter,notnull" json:"refresh_counter"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// NewAccount returns an unconfirmed account with a fresh subject key and a
// zero refresh counter
func NewAccount(email, passwordHash string) *Account {
	now := time.Now()
	return &Account{
		ID:             uuid.New(),
		SubjectKey:     uuid.NewString(),
		Email:          email,
		PasswordHash:   passwordHash,
		Confirmed:      false,
		RefreshCounter: 0,
		CreatedAt:      &now,
		UpdatedAt:      &now,
	}
}

// Profile is the public view of an account
type Profile struct {
	SubjectKey string `json:"ukey"`
	Email      string `json:"email"`
}

// TokenPair is the result of login and refresh
type TokenPair struct {
	SubjectKey       string    `json:"ukey"`
	RefreshCounter   int       `json:"-"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"expires_at"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}
