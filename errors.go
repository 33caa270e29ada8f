package accounts

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// TextCodeUsernameTaken signals a username collision during registration.
	TextCodeUsernameTaken = "USERNAME_TAKEN"
	// TextCodeForbiddenUsername signals a denylisted username.
	TextCodeForbiddenUsername = "USERNAME_FORBIDDEN"
	// TextCodeEmailTaken signals an email collision against a confirmed or
	// pending address.
	TextCodeEmailTaken = "EMAIL_IN_USE"
	// TextCodeSameEmail signals an email change to the current address.
	TextCodeSameEmail = "SAME_EMAIL"
	// TextCodeResetTokenInvalid covers unknown, tampered, and consumed reset
	// tokens alike.
	TextCodeResetTokenInvalid = "RESET_TOKEN_INVALID"
	// TextCodeResetTokenExpired signals a reset token past its window.
	TextCodeResetTokenExpired = "RESET_TOKEN_EXPIRED"
)

// ErrUsernameTaken is returned by Register when the username exists,
// compared case-insensitively.
var ErrUsernameTaken = goerrors.New("a user with that username already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeUsernameTaken).
	WithCode(goerrors.CodeConflict)

// ErrForbiddenUsername is returned by Register for denylisted usernames.
var ErrForbiddenUsername = goerrors.New("this username is not allowed", goerrors.CategoryValidation).
	WithTextCode(TextCodeForbiddenUsername).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailTaken is returned when an email collides with another account's
// confirmed or pending address.
var ErrEmailTaken = goerrors.New("this email address is already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrSameEmail is returned by RequestEmailChange when the new address equals
// the account's confirmed address.
var ErrSameEmail = goerrors.New("account is already known under this email address", goerrors.CategoryValidation).
	WithTextCode(TextCodeSameEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrResetTokenInvalid is returned for reset tokens that do not verify.
// Unknown subjects, bad signatures, and replays all collapse into this one
// value so the reset endpoint is not a token-guessing oracle.
var ErrResetTokenInvalid = goerrors.New("invalid or expired password reset token", goerrors.CategoryNotFound).
	WithTextCode(TextCodeResetTokenInvalid).
	WithCode(goerrors.CodeNotFound)

// ErrResetTokenExpired is returned for reset tokens past their time window.
var ErrResetTokenExpired = goerrors.New("password reset token has expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeResetTokenExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found")

// ErrNoEmptyString rejects empty passwords before hashing
var ErrNoEmptyString = errors.New("password must not be empty")

// ErrMismatchedHashAndPassword is returned when a password does not match
// its stored hash
var ErrMismatchedHashAndPassword = errors.New("password does not match hash")
