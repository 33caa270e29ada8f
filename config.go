package accounts

import (
	"errors"
	"strings"
	"time"
)

// DefaultForbiddenUsernames lists usernames that clash with well known
// routes and support addresses, rejected at registration.
var DefaultForbiddenUsernames = []string{
	"login",
	"logout",
	"register",
	"activate",
	"signin",
	"signout",
	"signup",
	"me",
	"user",
	"account",
	"email",
	"password",
	"profile",
	"about",
	"contact",
	"test",
}

// Config holds the lifecycle options. It is passed explicitly to the
// manager; nothing in this package reads process-wide settings.
type Config struct {
	// ActivationDays is the window in which a pending account must be
	// activated before its key expires and the sweep may delete it.
	ActivationDays int
	// ConfirmationDays is the window in which an email change must be
	// confirmed.
	ConfirmationDays int
	// ActivationRequired controls whether new accounts start pending with
	// an activation key. When false, Register creates active accounts and
	// mints no key.
	ActivationRequired bool
	// ForbiddenUsernames is the registration denylist, matched
	// case-insensitively.
	ForbiddenUsernames []string
	// ResetSigningKey is the service-wide secret mixed into password reset
	// token keys.
	ResetSigningKey []byte
	// ResetTokenTTL bounds the life of a password reset token.
	ResetTokenTTL time.Duration
	// Issuer is stamped into reset token claims when set.
	Issuer string
}

// DefaultConfig returns a Config mirroring the stock policy: 7 day
// activation and confirmation windows, activation required, 24h reset
// tokens, and the default username denylist.
func DefaultConfig(resetSigningKey []byte) Config {
	return Config{
		ActivationDays:     7,
		ConfirmationDays:   7,
		ActivationRequired: true,
		ForbiddenUsernames: DefaultForbiddenUsernames,
		ResetSigningKey:    resetSigningKey,
		ResetTokenTTL:      24 * time.Hour,
	}
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	if c.ActivationDays <= 0 {
		return errors.New("config: ActivationDays must be positive")
	}
	if c.ConfirmationDays <= 0 {
		return errors.New("config: ConfirmationDays must be positive")
	}
	if len(c.ResetSigningKey) == 0 {
		return errors.New("config: ResetSigningKey must be set")
	}
	if c.ResetTokenTTL <= 0 {
		return errors.New("config: ResetTokenTTL must be positive")
	}
	return nil
}

// UsernameForbidden reports whether username is denylisted.
func (c Config) UsernameForbidden(username string) bool {
	lowered := strings.ToLower(username)
	for _, forbidden := range c.ForbiddenUsernames {
		if lowered == strings.ToLower(forbidden) {
			return true
		}
	}
	return false
}
