package accounts

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivateAccountSQL flips an account to active and consumes its activation
// key in one conditional write. The key predicate makes concurrent
// activations race safely: exactly one statement matches, the rest observe
// the sentinel.
var ActivateAccountSQL = `UPDATE "accounts" AS "acc"
SET
	"is_active" = TRUE,
	"activation_key" = ?
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."activation_key" = ?
AND (
	"acc"."id" = ?
) RETURNING *;`

// ConfirmAccountEmailSQL promotes the pending address to the confirmed one
// and clears the change-in-flight fields atomically. The ORM omits
// zero-valued columns on update, so clearing must happen in raw SQL.
var ConfirmAccountEmailSQL = `UPDATE "accounts" AS "acc"
SET
	"email" = "acc"."pending_email",
	"pending_email" = '',
	"email_confirmation_key" = '',
	"email_confirmation_issued_at" = NULL
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."email_confirmation_key" = ?
AND "acc"."pending_email" <> ''
AND (
	"acc"."id" = ?
) RETURNING *;`

// ResetAccountPasswordSQL replaces the credential and stamps the change
// time, which rotates the per-account reset token key.
var ResetAccountPasswordSQL = `UPDATE "accounts" AS "acc"
SET
	"password_hash" = ?,
	"password_changed_at" = ?
WHERE
	"acc"."deleted_at" IS NULL
AND (
	"acc"."id" = ?
) RETURNING *;`

type Accounts interface {
	repository.Repository[*Account]

	GetByUsername(ctx context.Context, username string) (*Account, error)
	GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*Account, error)
	GetByActivationKeyTx(ctx context.Context, tx bun.IDB, username, key string) (*Account, error)
	GetByConfirmationKeyTx(ctx context.Context, tx bun.IDB, username, key string) (*Account, error)

	UsernameTakenTx(ctx context.Context, tx bun.IDB, username string) (bool, error)
	EmailInUseTx(ctx context.Context, tx bun.IDB, email string, exclude uuid.UUID) (bool, error)

	ListPendingTx(ctx context.Context, tx bun.IDB) ([]*Account, error)
	PurgeTx(ctx context.Context, tx bun.IDB, record *Account) error
}

type accountsRepo struct {
	repository.Repository[*Account]
	db *bun.DB
}

var (
	_ Accounts                        = (*accountsRepo)(nil)
	_ repository.Repository[*Account] = (*accountsRepo)(nil)
)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})

	return &accountsRepo{
		Repository: repo,
		db:         db,
	}
}

func (a *accountsRepo) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return a.GetByUsernameTx(ctx, a.db, username)
}

func (a *accountsRepo) GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("lower(?TableAlias.username) = lower(?)", username).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"username": username,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *accountsRepo) GetByActivationKeyTx(ctx context.Context, tx bun.IDB, username, key string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.username = ?", username).
		Where("?TableAlias.activation_key = ?", key).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"username": username,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *accountsRepo) GetByConfirmationKeyTx(ctx context.Context, tx bun.IDB, username, key string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.username = ?", username).
		Where("?TableAlias.email_confirmation_key = ?", key).
		Where("?TableAlias.pending_email <> ''").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"username": username,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *accountsRepo) UsernameTakenTx(ctx context.Context, tx bun.IDB, username string) (bool, error) {
	return tx.NewSelect().
		Model((*Account)(nil)).
		Where("lower(?TableAlias.username) = lower(?)", username).
		Exists(ctx)
}

// EmailInUseTx checks email against every account's confirmed and pending
// addresses. Pending collisions are rejected at issuance so a second
// claimant fails fast instead of at confirmation time. exclude skips the
// requesting account's own row.
func (a *accountsRepo) EmailInUseTx(ctx context.Context, tx bun.IDB, email string, exclude uuid.UUID) (bool, error) {
	q := tx.NewSelect().
		Model((*Account)(nil)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("lower(?TableAlias.email) = lower(?)", email).
				WhereOr("lower(?TableAlias.pending_email) = lower(?)", email)
		})

	if exclude != uuid.Nil {
		q = q.Where("?TableAlias.id != ?", exclude)
	}

	return q.Exists(ctx)
}

func (a *accountsRepo) ListPendingTx(ctx context.Context, tx bun.IDB) ([]*Account, error) {
	var records []*Account
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.is_active = ?", false).
		Where("?TableAlias.is_staff = ?", false).
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return records, nil
}

// PurgeTx hard-deletes the record, bypassing soft delete. Used by the
// expiry sweep only.
func (a *accountsRepo) PurgeTx(ctx context.Context, tx bun.IDB, record *Account) error {
	_, err := tx.NewDelete().
		Model(record).
		WherePK().
		ForceDelete().
		Exec(ctx)

	return err
}

func (a *accountsRepo) Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *accountsRepo) CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	prepareAccountDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *accountsRepo) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *accountsRepo) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	options := resolveAccountIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &Account{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveAccountIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	options = append(options, identifierOption{
		column: "username",
		value:  trimmed,
	})

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
