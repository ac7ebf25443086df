package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/essaypay/internal/apperrors"
	"github.com/nkiryanov/essaypay/internal/models"
	"github.com/nkiryanov/essaypay/internal/repository"
	"github.com/nkiryanov/essaypay/internal/service/pricing"
)

type Config struct {
	// Amount to credits table
	// If not set than pricing.Default is used
	Pricing *pricing.Table

	// Clock used when the gateway did not send an explicit time
	// If not set than time.Now is used
	Now func() time.Time

	// Notified after every committed state change, may be nil
	Recorder TransitionRecorder
}

type TransitionRecorder interface {
	Transition(from models.TransactionState, to models.TransactionState, credits int64)
}

type noopRecorder struct{}

func (noopRecorder) Transition(models.TransactionState, models.TransactionState, int64) {}

// Engine moves transactions through the state machine
// and credits accounts exactly once per paid transaction
type Engine struct {
	storage  repository.Storage
	pricing  *pricing.Table
	now      func() time.Time
	recorder TransitionRecorder
}

func New(cfg Config, storage repository.Storage) (*Engine, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}

	if cfg.Pricing == nil {
		cfg.Pricing = pricing.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}

	return &Engine{
		storage:  storage,
		pricing:  cfg.Pricing,
		now:      cfg.Now,
		recorder: cfg.Recorder,
	}, nil
}

type CreateParams struct {
	ExternalID string
	UserID     int64
	Amount     int64

	// Milliseconds since epoch, zero means now
	CreateTime int64
}

// Check the account exists and the amount buys something
// Has no side effects
func (e *Engine) CheckCanCreate(ctx context.Context, userID int64, amount int64) error {
	_, err := e.creditsFor(ctx, e.storage, userID, amount)
	return err
}

// Create pending transaction
// Repeated calls with the same external id return the stored transaction
func (e *Engine) Create(ctx context.Context, p CreateParams) (models.Transaction, error) {
	var t models.Transaction

	if p.ExternalID == "" {
		return t, errors.New("external id must not be empty")
	}

	existed, err := e.storage.Transaction().GetTransaction(ctx, p.ExternalID, false)
	switch {
	case err == nil:
		return existed, sameRequest(existed, p)
	case errors.Is(err, apperrors.ErrTransactionNotFound):
	default:
		return t, err
	}

	credits, err := e.creditsFor(ctx, e.storage, p.UserID, p.Amount)
	if err != nil {
		return t, err
	}

	createTime := p.CreateTime
	if createTime == 0 {
		createTime = e.nowMillis()
	}

	t, _, err = e.storage.Transaction().CreateTransaction(ctx, models.Transaction{
		ID:         uuid.New(),
		ExternalID: p.ExternalID,
		UserID:     p.UserID,
		Amount:     p.Amount,
		Credits:    credits,
		State:      models.StateCreated,
		CreateTime: createTime,
	})
	if err != nil {
		return t, fmt.Errorf("can't create transaction. Err: %w", err)
	}

	// A concurrent create with the same external id may have won the insert
	return t, sameRequest(t, p)
}

// Mark transaction paid and credit the account
// Replays on a paid transaction return it unchanged
func (e *Engine) Perform(ctx context.Context, externalID string, performTime int64) (models.Transaction, error) {
	var (
		t    models.Transaction
		from models.TransactionState
	)

	err := e.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		t, err = s.Transaction().GetTransaction(ctx, externalID, true)
		if err != nil {
			return err
		}
		from = t.State

		switch t.State {
		case models.StatePaid:
			return nil
		case models.StateCreated:
		default:
			return fmt.Errorf("can't perform %s transaction: %w", t.State, apperrors.ErrInvalidState)
		}

		if _, err := s.Account().AddPurchasedCredits(ctx, t.UserID, t.Credits); err != nil {
			return fmt.Errorf("can't credit account %d. Err: %w", t.UserID, err)
		}

		t.State = models.StatePaid
		t.PerformTime = e.orNow(performTime)

		t, err = s.Transaction().UpdateTransaction(ctx, t)
		return err
	})

	if err == nil && from != t.State {
		e.recorder.Transition(from, t.State, t.Credits)
	}

	return t, err
}

// Cancel transaction
// A paid transaction gets its credits reversed, floored at zero
// Replays on a cancelled transaction return it unchanged
func (e *Engine) Cancel(ctx context.Context, externalID string, reason int, cancelTime int64) (models.Transaction, error) {
	var (
		t    models.Transaction
		from models.TransactionState
	)

	err := e.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		t, err = s.Transaction().GetTransaction(ctx, externalID, true)
		if err != nil {
			return err
		}
		from = t.State

		switch t.State {
		case models.StateCreated:
			t.State = models.StateCancelled
		case models.StatePaid:
			if _, err := s.Account().AddPurchasedCredits(ctx, t.UserID, -t.Credits); err != nil {
				return fmt.Errorf("can't reverse credits of account %d. Err: %w", t.UserID, err)
			}
			t.State = models.StateCancelledAfterPaid
		default:
			return nil
		}

		t.CancelTime = e.orNow(cancelTime)
		t.CancelReason = &reason

		t, err = s.Transaction().UpdateTransaction(ctx, t)
		return err
	})

	if err == nil && from != t.State {
		e.recorder.Transition(from, t.State, t.Credits)
	}

	return t, err
}

func (e *Engine) Status(ctx context.Context, externalID string) (models.Transaction, error) {
	return e.storage.Transaction().GetTransaction(ctx, externalID, false)
}

// Transactions created within [from, to], ordered by create time
func (e *Engine) Statement(ctx context.Context, from int64, to int64) ([]models.Transaction, error) {
	if from > to {
		return nil, fmt.Errorf("statement window [%d, %d] is empty", from, to)
	}

	return e.storage.Transaction().ListTransactions(ctx, repository.ListTransactionsOpts{
		CreatedFrom: from,
		CreatedTo:   to,
	})
}

// Pending transactions created before the deadline
func (e *Engine) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Transaction, error) {
	return e.storage.Transaction().ListTransactions(ctx, repository.ListTransactionsOpts{
		States:    []models.TransactionState{models.StateCreated},
		CreatedTo: createdBefore.UnixMilli(),
		Limit:     limit,
	})
}

func (e *Engine) creditsFor(ctx context.Context, s repository.Storage, userID int64, amount int64) (int64, error) {
	if _, err := s.Account().GetAccount(ctx, userID); err != nil {
		return 0, err
	}

	return e.pricing.Credits(amount)
}

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

func (e *Engine) orNow(ms int64) int64 {
	if ms == 0 {
		return e.nowMillis()
	}
	return ms
}

func sameRequest(t models.Transaction, p CreateParams) error {
	if t.UserID != p.UserID || t.Amount != p.Amount {
		return fmt.Errorf("transaction %s: %w", t.ExternalID, apperrors.ErrTransactionConflict)
	}
	return nil
}
