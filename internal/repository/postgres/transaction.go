package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/essaypay/internal/apperrors"
	"github.com/nkiryanov/essaypay/internal/models"
	"github.com/nkiryanov/essaypay/internal/repository"
)

type TransactionRepo struct {
	DB DBTX
}

const transactionColumns = `id, external_id, user_id, amount, credits, state, create_time, perform_time, cancel_time, cancel_reason`

// Create transaction with provided options
// If transaction with the external id already exists return it as is
const createTransaction = `-- name: CreateTransaction
WITH insert_transaction AS (
	INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (external_id) DO NOTHING
	RETURNING ` + transactionColumns + `
)
SELECT ` + transactionColumns + ` FROM insert_transaction
UNION ALL
SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = $2
LIMIT 1
`

func (r *TransactionRepo) CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, bool, error) {
	rows, _ := r.DB.Query(ctx, createTransaction,
		t.ID, t.ExternalID, t.UserID, t.Amount, t.Credits, int16(t.State),
		t.CreateTime, t.PerformTime, t.CancelTime, t.CancelReason,
	)
	got, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return got, got.ID == t.ID, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Concurrent insert committed after the statement snapshot was taken:
		// the row exists but was invisible to the UNION branch
		got, err = r.GetTransaction(ctx, t.ExternalID, false)
		return got, false, err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
		return got, false, apperrors.ErrAccountNotFound
	}

	return got, false, fmt.Errorf("db error: %w", err)
}

const getTransaction = `-- name: GetTransaction
SELECT ` + transactionColumns + `
FROM transactions
WHERE external_id = $1
`

func (r *TransactionRepo) GetTransaction(ctx context.Context, externalID string, forUpdate bool) (models.Transaction, error) {
	query := getTransaction
	if forUpdate {
		query += "FOR UPDATE"
	}

	rows, _ := r.DB.Query(ctx, query, externalID)
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

const updateTransaction = `-- name: UpdateTransaction
UPDATE transactions
SET state = $2, perform_time = $3, cancel_time = $4, cancel_reason = $5
WHERE external_id = $1
RETURNING ` + transactionColumns + `
`

func (r *TransactionRepo) UpdateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, updateTransaction, t.ExternalID, int16(t.State), t.PerformTime, t.CancelTime, t.CancelReason)
	got, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return got, nil
	case errors.Is(err, pgx.ErrNoRows):
		return got, apperrors.ErrTransactionNotFound
	default:
		return got, fmt.Errorf("db error: %w", err)
	}
}

func (r *TransactionRepo) ListTransactions(ctx context.Context, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	var (
		where []string
		args  []any
	)

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if len(opts.States) > 0 {
		states := make([]int16, 0, len(opts.States))
		for _, s := range opts.States {
			states = append(states, int16(s))
		}
		where = append(where, "state = ANY("+arg(states)+")")
	}
	if opts.CreatedFrom != 0 {
		where = append(where, "create_time >= "+arg(opts.CreatedFrom))
	}
	if opts.CreatedTo != 0 {
		where = append(where, "create_time <= "+arg(opts.CreatedTo))
	}

	var b strings.Builder
	b.WriteString("SELECT " + transactionColumns + " FROM transactions")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY create_time, external_id")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + arg(opts.Limit))
	}

	rows, _ := r.DB.Query(ctx, b.String(), args...)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var (
		t     models.Transaction
		state int16
	)
	err := row.Scan(&t.ID, &t.ExternalID, &t.UserID, &t.Amount, &t.Credits, &state,
		&t.CreateTime, &t.PerformTime, &t.CancelTime, &t.CancelReason)
	t.State = models.TransactionState(state)
	return t, err
}
