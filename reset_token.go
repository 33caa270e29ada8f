package accounts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ResetTokenService mints and verifies password reset tokens. Tokens are
// HS256 JWTs signed with a per-account key derived from the service secret,
// the current password hash, and the last password change time: changing
// the password rotates the key and invalidates every outstanding link
// without any server-side token storage.
type ResetTokenService struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	logger     Logger
	now        func() time.Time
}

// NewResetTokenService creates a ResetTokenService instance
func NewResetTokenService(signingKey []byte, ttl time.Duration, issuer string, logger Logger) *ResetTokenService {
	if logger == nil {
		logger = defLogger{}
	}
	return &ResetTokenService{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source (useful for tests).
func (s *ResetTokenService) WithClock(clock func() time.Time) *ResetTokenService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Generate signs a reset token for the account, valid for the configured
// TTL.
func (s *ResetTokenService) Generate(account *Account) (string, error) {
	if account == nil {
		return "", goerrors.New("account must not be nil", goerrors.CategoryInternal)
	}

	now := s.now()
	claims := &jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   account.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(s.keyFor(account))
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign password reset token")
	}

	return signed, nil
}

// Subject extracts the account id a token claims to be for, without
// verifying the signature. The claimed account must be loaded first
// because its credential state is part of the signing key; Validate does
// the actual verification.
func (s *ResetTokenService) Subject(tokenString string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return uuid.Nil, ErrResetTokenInvalid
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrResetTokenInvalid
	}

	return id, nil
}

// Validate verifies the token against the account's current credential
// state. A token minted before the last password change fails here.
func (s *ResetTokenService) Validate(tokenString string, account *Account) error {
	if account == nil {
		return ErrResetTokenInvalid
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return s.keyFor(account), nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return ErrResetTokenExpired
		}
		s.logger.Debug("reset token rejected: %v", err)
		return ErrResetTokenInvalid
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return ErrResetTokenInvalid
	}

	if claims.Subject != account.ID.String() {
		return ErrResetTokenInvalid
	}

	return nil
}

func (s *ResetTokenService) keyFor(account *Account) []byte {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(account.ID.String()))
	mac.Write([]byte(account.PasswordHash))
	if account.PasswordChangedAt != nil {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(account.PasswordChangedAt.Unix()))
		mac.Write(buf[:])
	}
	return mac.Sum(nil)
}
