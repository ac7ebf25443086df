package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/essaypay/internal/apperrors"
	"github.com/nkiryanov/essaypay/internal/models"
)

type AccountRepo struct {
	DB DBTX
}

// No-op update on conflict makes RETURNING yield the stored row
const createAccount = `-- name: CreateAccount
INSERT INTO accounts (user_id, free_credits, purchased_credits, lifetime_uses)
VALUES ($1, $2, 0, 0)
ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING user_id, free_credits, purchased_credits, lifetime_uses, created_at
`

func (r *AccountRepo) CreateAccount(ctx context.Context, userID int64, freeCredits int64) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, createAccount, userID, freeCredits)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return account, fmt.Errorf("free credits must not be negative: %w", err)
		}

		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const getAccount = `-- name: GetAccount
SELECT user_id, free_credits, purchased_credits, lifetime_uses, created_at
FROM accounts
WHERE user_id = $1
`

func (r *AccountRepo) GetAccount(ctx context.Context, userID int64) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccount, userID)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

const addPurchasedCredits = `-- name: AddPurchasedCredits
UPDATE accounts
SET purchased_credits = GREATEST(purchased_credits + $2, 0)
WHERE user_id = $1
RETURNING user_id, free_credits, purchased_credits, lifetime_uses, created_at
`

func (r *AccountRepo) AddPurchasedCredits(ctx context.Context, userID int64, n int64) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, addPurchasedCredits, userID, n)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

// SET expressions see the row values before the update
const consumeCredit = `-- name: ConsumeCredit
UPDATE accounts
SET free_credits = CASE WHEN free_credits > 0 THEN free_credits - 1 ELSE free_credits END,
	purchased_credits = CASE WHEN free_credits = 0 THEN purchased_credits - 1 ELSE purchased_credits END,
	lifetime_uses = lifetime_uses + 1
WHERE user_id = $1 AND (free_credits > 0 OR purchased_credits > 0)
RETURNING user_id, free_credits, purchased_credits, lifetime_uses, created_at
`

func (r *AccountRepo) ConsumeCredit(ctx context.Context, userID int64) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, consumeCredit, userID)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Either there is no such account or nothing to spend
		account, err = r.GetAccount(ctx, userID)
		if err != nil {
			return account, err
		}
		return account, apperrors.ErrNoCreditsLeft
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.UserID, &a.FreeCredits, &a.PurchasedCredits, &a.LifetimeUses, &a.CreatedAt)
	return a, err
}
