package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivatedSentinel is stored in ActivationKey once an account has been
// activated. It is distinct from any real key and never validates again.
const ActivatedSentinel = "ACCOUNT_ACTIVATED"

// Account is the account model
type Account struct {
	bun.BaseModel             `bun:"table:accounts,alias:acc"`
	ID                        uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username                  string         `bun:"username,notnull,unique" json:"username,omitempty"`
	Email                     string         `bun:"email,notnull" json:"email,omitempty"`
	PasswordHash              string         `bun:"password_hash" json:"password_hash,omitempty"`
	IsActive                  bool           `bun:"is_active" json:"is_active,omitempty"`
	IsStaff                   bool           `bun:"is_staff" json:"is_staff,omitempty"`
	ActivationKey             string         `bun:"activation_key" json:"activation_key,omitempty"`
	PendingEmail              string         `bun:"pending_email" json:"pending_email,omitempty"`
	EmailConfirmationKey      string         `bun:"email_confirmation_key" json:"email_confirmation_key,omitempty"`
	EmailConfirmationIssuedAt *time.Time     `bun:"email_confirmation_issued_at,nullzero" json:"email_confirmation_issued_at,omitempty"`
	PasswordChangedAt         *time.Time     `bun:"password_changed_at,nullzero" json:"password_changed_at,omitempty"`
	Metadata                  map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt                 *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt                 *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt                 *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Activated reports whether the activation key has already been consumed.
func (a *Account) Activated() bool {
	return a.ActivationKey == ActivatedSentinel
}

// HasPendingEmail reports whether an email change is in flight. PendingEmail
// and EmailConfirmationKey are both empty or both set, never partially.
func (a *Account) HasPendingEmail() bool {
	return a.PendingEmail != "" && a.EmailConfirmationKey != ""
}

// EmailMatches compares an address against the confirmed email,
// case-insensitively.
func (a *Account) EmailMatches(email string) bool {
	return strings.EqualFold(a.Email, email)
}

// AddMetadata will append information to a metadata attribute
func (a *Account) AddMetadata(key string, val any) *Account {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = val
	return a
}
