package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const opTimeout = time.Second * 10

// LifecycleManager orchestrates account state transitions: registration,
// activation, email change confirmation, password reset, and the expiry
// sweep. It is the only component that talks to the account store; callers
// (HTTP handlers, CLI commands, jobs) invoke its operations synchronously.
//
// Every operation runs its uniqueness checks and writes inside one
// transaction, so two concurrent registrations for the same username
// resolve to exactly one success. Lifecycle events are published after
// commit and are best-effort.
type LifecycleManager struct {
	config   Config
	repo     RepositoryManager
	resets   *ResetTokenService
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewLifecycleManager creates a manager with sane defaults. Use the With*
// setters to attach an activity sink, logger, or test clock.
func NewLifecycleManager(config Config, repo RepositoryManager) *LifecycleManager {
	return &LifecycleManager{
		config:   config,
		repo:     repo,
		resets:   NewResetTokenService(config.ResetSigningKey, config.ResetTokenTTL, config.Issuer, nil),
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit lifecycle events.
func (m *LifecycleManager) WithActivitySink(sink ActivitySink) *LifecycleManager {
	m.activity = normalizeActivitySink(sink)
	return m
}

// WithLogger overrides the logger used by the manager.
func (m *LifecycleManager) WithLogger(logger Logger) *LifecycleManager {
	if logger != nil {
		m.logger = logger
		m.resets.logger = logger
	}
	return m
}

// WithClock injects a custom clock (useful for tests).
func (m *LifecycleManager) WithClock(clock func() time.Time) *LifecycleManager {
	if clock != nil {
		m.now = clock
		m.resets.WithClock(clock)
	}
	return m
}

// Register creates a new account. When activation is required the account
// starts pending with a fresh activation key; otherwise it is created
// active and no key is minted. The record is persisted before the
// registration event is published, so subscribers never observe a missing
// account.
//
// Returns ErrForbiddenUsername, ErrUsernameTaken, or ErrEmailTaken for the
// respective validation failures.
func (m *LifecycleManager) Register(ctx context.Context, username, email, password string, metadata ...map[string]any) (*Account, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during registration")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if m.config.UsernameForbidden(username) {
		return nil, ErrForbiddenUsername.WithMetadata(map[string]any{"username": username})
	}

	account := &Account{}

	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := m.repo.Accounts().UsernameTakenTx(ctx, tx, username)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username uniqueness")
		}
		if taken {
			return ErrUsernameTaken.WithMetadata(map[string]any{"username": username})
		}

		inUse, err := m.repo.Accounts().EmailInUseTx(ctx, tx, email, uuid.Nil)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email uniqueness")
		}
		if inUse {
			return ErrEmailTaken
		}

		hash, err := HashPassword(password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
		}

		now := m.now()
		account.Username = username
		account.Email = email
		account.PasswordHash = hash
		account.CreatedAt = &now

		if m.config.ActivationRequired {
			_, key := GenerateKey(username)
			account.ActivationKey = key
			account.IsActive = false
		} else {
			account.IsActive = true
		}

		if account, err = m.repo.Accounts().CreateTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
		}

		return nil
	})

	if err != nil {
		return nil, richError(err, "registration transaction failed")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRegistrationComplete,
		Account:   account,
		Metadata:  mergeMetadata(metadata...),
	})

	return account, nil
}

// Activate consumes an activation key and flips the account to active.
// This is the only transition out of the pending state.
//
// The boolean result is deliberately coarse: malformed keys, unknown
// (username, key) pairs, expired windows, and already-consumed keys all
// come back false so callers cannot tell which case occurred. Re-invoking
// with a consumed key finds no row holding it and returns false.
func (m *LifecycleManager) Activate(ctx context.Context, username, key string) (*Account, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during activation")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if !WellFormedKey(key) {
		m.logger.Debug("activation rejected for %q: malformed key", username)
		return nil, false, nil
	}

	var account *Account
	activated := false

	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := m.repo.Accounts().GetByActivationKeyTx(ctx, tx, username, key)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				m.logger.Debug("activation rejected for %q: no matching key", username)
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up activation key")
		}

		if record.CreatedAt == nil {
			return goerrors.New("account record is missing creation date", goerrors.CategoryInternal)
		}

		if ActivationKeyExpired(record.ActivationKey, *record.CreatedAt, m.now(), m.config.ActivationDays) {
			m.logger.Debug("activation rejected for %q: key expired", username)
			return nil
		}

		rows, err := m.repo.Accounts().RawTx(ctx, tx, ActivateAccountSQL, ActivatedSentinel, key, record.ID.String())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate account")
		}
		if len(rows) == 0 {
			// lost the race against a concurrent activation
			m.logger.Debug("activation rejected for %q: key already consumed", username)
			return nil
		}

		account = rows[0]
		activated = true
		return nil
	})

	if err != nil {
		return nil, false, richError(err, "activation transaction failed")
	}

	if !activated {
		return nil, false, nil
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventActivationComplete,
		Account:   account,
	})

	return account, true, nil
}

// RequestEmailChange parks newEmail as the account's pending address and
// mints a confirmation key. The change takes effect only once ConfirmEmail
// verifies the key.
//
// Two notifications are published after commit: an informational one to
// the current address and one carrying the key to the new address. Both
// are attempted; a sink failure never rolls back the pending state.
//
// Returns ErrSameEmail or ErrEmailTaken for the validation failures.
func (m *LifecycleManager) RequestEmailChange(ctx context.Context, account *Account, newEmail string) (*Account, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email change request")
	default:
	}

	if account == nil {
		return nil, goerrors.New("account must not be nil", goerrors.CategoryBadInput)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if account.EmailMatches(newEmail) {
		return nil, ErrSameEmail
	}

	oldEmail := account.Email

	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		inUse, err := m.repo.Accounts().EmailInUseTx(ctx, tx, newEmail, account.ID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email uniqueness")
		}
		if inUse {
			return ErrEmailTaken
		}

		_, key := GenerateKey(account.Username)
		now := m.now()

		record := &Account{}
		record.ID = account.ID
		record.PendingEmail = newEmail
		record.EmailConfirmationKey = key
		record.EmailConfirmationIssuedAt = &now

		if _, err := m.repo.Accounts().UpdateTx(ctx, tx, record, repository.UpdateByID(account.ID.String())); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store pending email change")
		}

		account.PendingEmail = newEmail
		account.EmailConfirmationKey = key
		account.EmailConfirmationIssuedAt = &now
		return nil
	})

	if err != nil {
		return nil, richError(err, "email change transaction failed")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventEmailChangeRequested,
		Account:   account,
		Metadata: map[string]any{
			"recipient": oldEmail,
			"notice":    "email_change_requested",
		},
	})
	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventEmailChangeRequested,
		Account:   account,
		Metadata: map[string]any{
			"recipient":        account.PendingEmail,
			"confirmation_key": account.EmailConfirmationKey,
		},
	})

	return account, nil
}

// ConfirmEmail promotes the pending address to the confirmed one. The
// pending fields are cleared in the same statement, so re-confirming with
// the old key finds nothing and returns false.
//
// Confirmation keys live in their own column: an activation key never
// validates here even if the 40-hex shapes happen to match, and vice
// versa.
func (m *LifecycleManager) ConfirmEmail(ctx context.Context, username, key string) (*Account, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email confirmation")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if !WellFormedKey(key) {
		m.logger.Debug("email confirmation rejected for %q: malformed key", username)
		return nil, false, nil
	}

	var account *Account
	confirmed := false

	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := m.repo.Accounts().GetByConfirmationKeyTx(ctx, tx, username, key)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				m.logger.Debug("email confirmation rejected for %q: no matching key", username)
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up confirmation key")
		}

		if ConfirmationKeyExpired(record.EmailConfirmationIssuedAt, m.now(), m.config.ConfirmationDays) {
			m.logger.Debug("email confirmation rejected for %q: key expired", username)
			return nil
		}

		rows, err := m.repo.Accounts().RawTx(ctx, tx, ConfirmAccountEmailSQL, key, record.ID.String())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm email change")
		}
		if len(rows) == 0 {
			m.logger.Debug("email confirmation rejected for %q: key already consumed", username)
			return nil
		}

		account = rows[0]
		confirmed = true
		return nil
	})

	if err != nil {
		return nil, false, richError(err, "email confirmation transaction failed")
	}

	if !confirmed {
		return nil, false, nil
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventConfirmationComplete,
		Account:   account,
	})

	return account, true, nil
}

// SweepExpired hard-deletes pending accounts whose activation window has
// elapsed and returns the deleted set. Staff accounts are exempt
// regardless of activation state. Selection and deletion share one
// transaction, so a registration committing concurrently is never swept
// mid-flight; the sweep is idempotent and safe to trigger from any
// scheduler.
func (m *LifecycleManager) SweepExpired(ctx context.Context) ([]*Account, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during expiry sweep")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var swept []*Account

	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		pending, err := m.repo.Accounts().ListPendingTx(ctx, tx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list pending accounts")
		}

		now := m.now()
		for _, record := range pending {
			if record.CreatedAt == nil {
				m.logger.Warn("sweep skipping account %s: missing creation date", record.ID)
				continue
			}
			if !ActivationKeyExpired(record.ActivationKey, *record.CreatedAt, now, m.config.ActivationDays) {
				continue
			}
			if err := m.repo.Accounts().PurgeTx(ctx, tx, record); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete expired account")
			}
			swept = append(swept, record)
		}

		return nil
	})

	if err != nil {
		return nil, richError(err, "expiry sweep transaction failed")
	}

	for _, record := range swept {
		m.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventAccountSwept,
			Account:   record,
			Metadata: map[string]any{
				"reason": "activation window elapsed",
			},
		})
	}

	return swept, nil
}

// AccountByIdentifier retrieves an account by username, email, or id.
//
// Returns ErrIdentityNotFound when no account matches.
func (m *LifecycleManager) AccountByIdentifier(ctx context.Context, identification string) (*Account, error) {
	account, err := m.repo.Accounts().GetByIdentifier(ctx, identification)
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account")
	}
	return account, nil
}

// InitiatePasswordReset looks up an account by identification (username,
// email, or id) and returns a signed reset token for it. Reset targets any
// account that passes identity lookup, active or not.
//
// Returns ErrIdentityNotFound when no account matches.
func (m *LifecycleManager) InitiatePasswordReset(ctx context.Context, identification string) (string, error) {
	select {
	case <-ctx.Done():
		return "", goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password reset request")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	account, err := m.repo.Accounts().GetByIdentifier(ctx, identification)
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
			return "", ErrIdentityNotFound
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
	}

	token, err := m.resets.Generate(account)
	if err != nil {
		return "", err
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Account:   account,
		Metadata: map[string]any{
			"recipient":   account.Email,
			"reset_token": token,
		},
	})

	return token, nil
}

// FinalizePasswordReset verifies a reset token and replaces the account's
// password. The per-account token key covers the password hash and last
// change time, so finishing one reset invalidates every other outstanding
// link for the account.
//
// Returns ErrResetTokenInvalid or ErrResetTokenExpired when the token does
// not verify; unknown subjects report the same invalid-token error.
func (m *LifecycleManager) FinalizePasswordReset(ctx context.Context, token, newPassword string) (*Account, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password reset finalization")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	subject, err := m.resets.Subject(token)
	if err != nil {
		return nil, err
	}

	var account *Account

	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := m.repo.Accounts().GetByIdentifierTx(ctx, tx, subject.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrResetTokenInvalid
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve account for password reset")
		}

		if err := m.resets.Validate(token, record); err != nil {
			return err
		}

		hash, err := HashPassword(newPassword)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		now := m.now()
		rows, err := m.repo.Accounts().RawTx(ctx, tx, ResetAccountPasswordSQL, hash, now, record.ID.String())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account password")
		}
		if len(rows) == 0 {
			return ErrResetTokenInvalid
		}

		account = rows[0]
		return nil
	})

	if err != nil {
		return nil, richError(err, "password reset transaction failed")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetComplete,
		Account:   account,
	})

	return account, nil
}

func (m *LifecycleManager) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}

	if err := normalizeActivitySink(m.activity).Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error for %s: %v", event.EventType, err)
	}
}

// richError passes through go-errors values untouched and wraps anything
// else as internal, mirroring how validation failures survive transaction
// boundaries.
func richError(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

func mergeMetadata(metadata ...map[string]any) map[string]any {
	var merged map[string]any
	for _, md := range metadata {
		if len(md) == 0 {
			continue
		}
		if merged == nil {
			merged = make(map[string]any, len(md))
		}
		for k, v := range md {
			merged[k] = v
		}
	}
	return merged
}
