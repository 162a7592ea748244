package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

const pgUniqueViolation = "23505"

// Accounts is the bun backed AccountStore.
type Accounts interface {
	repository.Repository[*Account]
	AccountStore
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var (
	_ Accounts     = (*accounts)(nil)
	_ AccountStore = (*accounts)(nil)
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
			return "email"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (a *accounts) LoadAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	record, err := a.Repository.GetByID(ctx, id.String())
	if err != nil {
		return nil, mapStoreError(err, "id", id.String())
	}
	return record, nil
}

func (a *accounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	record, err := a.Repository.GetByIdentifier(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, mapStoreError(err, "email", NormalizeEmail(email))
	}
	return record, nil
}

func (a *accounts) CreateAccount(ctx context.Context, account *Account) (*Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = NormalizeEmail(account.Email)
	if account.Version == 0 {
		account.Version = 1
	}

	created, err := a.Repository.Create(ctx, account)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return created, nil
}

// SaveAccount writes every column guarded by the version the account was
// loaded with. Zero affected rows means another writer got there first.
func (a *accounts) SaveAccount(ctx context.Context, account *Account) error {
	expected := account.Version
	account.Version = expected + 1

	res, err := a.db.NewUpdate().
		Model(account).
		ExcludeColumn("created_at").
		WherePK().
		Where("?TableAlias.version = ?", expected).
		Exec(ctx)
	if err != nil {
		account.Version = expected
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		account.Version = expected
		return err
	}

	if rows == 0 {
		account.Version = expected
		return ErrStorageConflict.Clone().WithMetadata(map[string]any{
			"id":      account.ID.String(),
			"version": expected,
		})
	}

	return nil
}

func mapStoreError(err error, key, value string) error {
	if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound.Clone().WithMetadata(map[string]any{key: value})
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
