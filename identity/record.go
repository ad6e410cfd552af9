package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Record is the stored identity. Passwords are kept as bcrypt hashes only.
type Record struct {
	bun.BaseModel `bun:"table:identities,alias:idn"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	FullName      string     `bun:"full_name" json:"full_name,omitempty"`
	Phone         string     `bun:"phone" json:"phone,omitempty"`
	LoginAttempts int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LastLoginAt   *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}
