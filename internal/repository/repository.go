package repository

import (
	"context"

	"github.com/nkiryanov/essaypay/internal/models"
)

type Storage interface {
	Account() AccountRepo
	Transaction() TransactionRepo

	// Run fn in one database transaction
	// Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}

// Account repository interface
type AccountRepo interface {
	// Create account with seeded free credits
	// If the account exists already return it unchanged
	CreateAccount(ctx context.Context, userID int64, freeCredits int64) (models.Account, error)

	// Must return apperrors.ErrAccountNotFound if account not exists
	GetAccount(ctx context.Context, userID int64) (models.Account, error)

	// Atomically add n (may be negative) to purchased credits
	// The result is floored at zero
	// Must return apperrors.ErrAccountNotFound if account not exists
	AddPurchasedCredits(ctx context.Context, userID int64, n int64) (models.Account, error)

	// Spend one credit: free first, then purchased
	// Must return apperrors.ErrNoCreditsLeft if nothing to spend
	ConsumeCredit(ctx context.Context, userID int64) (models.Account, error)
}

type ListTransactionsOpts struct {
	// Filter by states, all states if empty
	States []models.TransactionState

	// Filter by create_time, inclusive. Zero means no bound
	CreatedFrom int64
	CreatedTo   int64

	// Zero means no limit
	Limit int
}

// Transaction repository interface
type TransactionRepo interface {
	// Create transaction if transaction with the same external id not exists
	// Otherwise return the stored one and created=false
	CreateTransaction(ctx context.Context, t models.Transaction) (tx models.Transaction, created bool, err error)

	// Get transaction by external id
	// forUpdate locks the row until the surrounding db transaction ends
	// Must return apperrors.ErrTransactionNotFound if not exists
	GetTransaction(ctx context.Context, externalID string, forUpdate bool) (models.Transaction, error)

	// Save state, times and cancel reason of the transaction
	UpdateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error)

	// Ordered by create_time ascending
	ListTransactions(ctx context.Context, opts ListTransactionsOpts) ([]models.Transaction, error)
}
