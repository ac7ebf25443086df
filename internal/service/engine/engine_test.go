package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/essaypay/internal/apperrors"
	"github.com/nkiryanov/essaypay/internal/models"
	"github.com/nkiryanov/essaypay/internal/repository"
	"github.com/nkiryanov/essaypay/internal/repository/postgres"
	"github.com/nkiryanov/essaypay/internal/testutil"
)

func TestEngine(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	fixedNow := time.UnixMilli(1700000000000)
	const userID = int64(1001)

	// Engine over a rolled back db transaction with one account seeded
	withTx := func(t *testing.T, fn func(e *Engine, s repository.Storage)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			e, err := New(Config{Now: func() time.Time { return fixedNow }}, storage)
			require.NoError(t, err)

			_, err = storage.Account().CreateAccount(t.Context(), userID, 0)
			require.NoError(t, err, "account must be seeded")

			fn(e, storage)
		})
	}

	purchased := func(t *testing.T, s repository.Storage) int64 {
		account, err := s.Account().GetAccount(t.Context(), userID)
		require.NoError(t, err)
		return account.PurchasedCredits
	}

	t.Run("New", func(t *testing.T) {
		_, err := New(Config{}, nil)

		require.Error(t, err, "storage is required")
	})

	t.Run("CheckCanCreate", func(t *testing.T) {
		withTx(t, func(e *Engine, _ repository.Storage) {
			require.NoError(t, e.CheckCanCreate(t.Context(), userID, 5000))
			require.ErrorIs(t, e.CheckCanCreate(t.Context(), 404, 5000), apperrors.ErrAccountNotFound)
			require.ErrorIs(t, e.CheckCanCreate(t.Context(), userID, 10), apperrors.ErrInvalidAmount)
		})
	})

	t.Run("Create", func(t *testing.T) {
		t.Run("idempotent", func(t *testing.T) {
			withTx(t, func(e *Engine, s repository.Storage) {
				params := CreateParams{ExternalID: "tx1", UserID: userID, Amount: 5000, CreateTime: 1700000000123}

				first, err := e.Create(t.Context(), params)
				require.NoError(t, err)
				second, err := e.Create(t.Context(), params)
				require.NoError(t, err)

				require.Equal(t, first, second, "same transaction has to be returned both times")
				require.Equal(t, models.StateCreated, first.State)
				require.Equal(t, int64(5), first.Credits)
				require.Equal(t, int64(1700000000123), first.CreateTime)

				all, err := s.Transaction().ListTransactions(t.Context(), repository.ListTransactionsOpts{})
				require.NoError(t, err)
				require.Len(t, all, 1, "exactly one row has to be stored")
			})
		})

		t.Run("create time defaults to now", func(t *testing.T) {
			withTx(t, func(e *Engine, _ repository.Storage) {
				tr, err := e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: userID, Amount: 5000})

				require.NoError(t, err)
				require.Equal(t, fixedNow.UnixMilli(), tr.CreateTime)
			})
		})

		t.Run("conflict", func(t *testing.T) {
			withTx(t, func(e *Engine, s repository.Storage) {
				_, err := s.Account().CreateAccount(t.Context(), 2002, 0)
				require.NoError(t, err)
				stored, err := e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: userID, Amount: 5000})
				require.NoError(t, err)

				_, err = e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: userID, Amount: 10000})
				require.ErrorIs(t, err, apperrors.ErrTransactionConflict, "different amount is a conflict")

				_, err = e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: 2002, Amount: 5000})
				require.ErrorIs(t, err, apperrors.ErrTransactionConflict, "different account is a conflict")

				got, err := e.Status(t.Context(), "tx1")
				require.NoError(t, err)
				require.Equal(t, stored, got, "stored transaction must stay untouched")
			})
		})

		t.Run("validation", func(t *testing.T) {
			withTx(t, func(e *Engine, _ repository.Storage) {
				_, err := e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: 404, Amount: 5000})
				require.ErrorIs(t, err, apperrors.ErrAccountNotFound)

				_, err = e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: userID, Amount: 0})
				require.ErrorIs(t, err, apperrors.ErrInvalidAmount)

				_, err = e.Create(t.Context(), CreateParams{UserID: userID, Amount: 5000})
				require.Error(t, err, "empty external id must be rejected")

				_, err = e.Status(t.Context(), "tx1")
				require.ErrorIs(t, err, apperrors.ErrTransactionNotFound, "nothing must be stored")
			})
		})
	})

	t.Run("Perform", func(t *testing.T) {
		t.Run("credit once and replay", func(t *testing.T) {
			withTx(t, func(e *Engine, s repository.Storage) {
				_, err := e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: userID, Amount: 5000})
				require.NoError(t, err)

				paid, err := e.Perform(t.Context(), "tx1", 1700000000999)
				require.NoError(t, err)
				require.Equal(t, models.StatePaid, paid.State)
				require.Equal(t, int64(1700000000999), paid.PerformTime)
				require.Equal(t, int64(5), purchased(t, s))

				replay, err := e.Perform(t.Context(), "tx1", 1800000000000)
				require.NoError(t, err)
				require.Equal(t, paid, replay, "replay has to return the same paid record")
				require.Equal(t, int64(5), purchased(t, s), "replay must not credit again")
			})
		})

		t.Run("not found", func(t *testing.T) {
			withTx(t, func(e *Engine, _ repository.Storage) {
				_, err := e.Perform(t.Context(), "missing", 0)

				require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
			})
		})

		t.Run("cancelled rejected", func(t *testing.T) {
			withTx(t, func(e *Engine, s repository.Storage) {
				_, err := e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: userID, Amount: 5000})
				require.NoError(t, err)
				_, err = e.Cancel(t.Context(), "tx1", 1, 0)
				require.NoError(t, err)

				_, err = e.Perform(t.Context(), "tx1", 0)

				require.ErrorIs(t, err, apperrors.ErrInvalidState)
				require.Zero(t, purchased(t, s), "purchased credits must not change")
				got, err := e.Status(t.Context(), "tx1")
				require.NoError(t, err)
				require.Equal(t, models.StateCancelled, got.State)
			})
		})
	})

	t.Run("Cancel", func(t *testing.T) {
		t.Run("created", func(t *testing.T) {
			withTx(t, func(e *Engine, s repository.Storage) {
				_, err := e.Create(t.Context(), CreateParams{ExternalID: "tx2", UserID: userID, Amount: 3000})
				require.NoError(t, err)

				cancelled, err := e.Cancel(t.Context(), "tx2", 1, 0)

				require.NoError(t, err)
				require.Equal(t, models.StateCancelled, cancelled.State)
				require.Equal(t, fixedNow.UnixMilli(), cancelled.CancelTime)
				require.NotNil(t, cancelled.CancelReason)
				require.Equal(t, 1, *cancelled.CancelReason)
				require.Zero(t, purchased(t, s), "purchased credits unaffected")
			})
		})

		t.Run("paid is reversed", func(t *testing.T) {
			withTx(t, func(e *Engine, s repository.Storage) {
				_, err := s.Account().AddPurchasedCredits(t.Context(), userID, 2)
				require.NoError(t, err)
				_, err = e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: userID, Amount: 5000})
				require.NoError(t, err)
				_, err = e.Perform(t.Context(), "tx1", 0)
				require.NoError(t, err)
				require.Equal(t, int64(7), purchased(t, s))

				cancelled, err := e.Cancel(t.Context(), "tx1", 5, 0)

				require.NoError(t, err)
				require.Equal(t, models.StateCancelledAfterPaid, cancelled.State)
				require.Equal(t, int64(2), purchased(t, s), "net effect of pay and cancel must be zero")
			})
		})

		t.Run("reversal floored at zero", func(t *testing.T) {
			withTx(t, func(e *Engine, s repository.Storage) {
				_, err := e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: userID, Amount: 5000})
				require.NoError(t, err)
				_, err = e.Perform(t.Context(), "tx1", 0)
				require.NoError(t, err)
				for range 4 {
					_, err = s.Account().ConsumeCredit(t.Context(), userID)
					require.NoError(t, err)
				}

				_, err = e.Cancel(t.Context(), "tx1", 5, 0)

				require.NoError(t, err)
				require.Zero(t, purchased(t, s), "purchased credits must not go negative")
			})
		})

		t.Run("idempotent", func(t *testing.T) {
			withTx(t, func(e *Engine, _ repository.Storage) {
				_, err := e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: userID, Amount: 5000})
				require.NoError(t, err)
				first, err := e.Cancel(t.Context(), "tx1", 1, 0)
				require.NoError(t, err)

				second, err := e.Cancel(t.Context(), "tx1", 3, 1900000000000)

				require.NoError(t, err)
				require.Equal(t, first, second, "second cancel must return the stored record")
			})
		})

		t.Run("not found", func(t *testing.T) {
			withTx(t, func(e *Engine, _ repository.Storage) {
				_, err := e.Cancel(t.Context(), "missing", 1, 0)

				require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
			})
		})
	})

	t.Run("Statement", func(t *testing.T) {
		withTx(t, func(e *Engine, _ repository.Storage) {
			for i, id := range []string{"a", "b", "c"} {
				_, err := e.Create(t.Context(), CreateParams{ExternalID: id, UserID: userID, Amount: 5000, CreateTime: int64(1000 * (i + 1))})
				require.NoError(t, err)
			}

			got, err := e.Statement(t.Context(), 1500, 3000)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "b", got[0].ExternalID)
			assert.Equal(t, "c", got[1].ExternalID)

			_, err = e.Statement(t.Context(), 3000, 1000)
			require.Error(t, err, "reversed window must be rejected")
		})
	})

	t.Run("ListPending", func(t *testing.T) {
		withTx(t, func(e *Engine, _ repository.Storage) {
			_, err := e.Create(t.Context(), CreateParams{ExternalID: "old", UserID: userID, Amount: 5000, CreateTime: 1000})
			require.NoError(t, err)
			_, err = e.Create(t.Context(), CreateParams{ExternalID: "paid", UserID: userID, Amount: 5000, CreateTime: 1000})
			require.NoError(t, err)
			_, err = e.Perform(t.Context(), "paid", 0)
			require.NoError(t, err)
			_, err = e.Create(t.Context(), CreateParams{ExternalID: "fresh", UserID: userID, Amount: 5000, CreateTime: 5000})
			require.NoError(t, err)

			got, err := e.ListPending(t.Context(), time.UnixMilli(2000), 10)

			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Equal(t, "old", got[0].ExternalID)
		})
	})

	t.Run("recorder notified on change only", func(t *testing.T) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			rec := &recorder{}
			e, err := New(Config{Recorder: rec}, storage)
			require.NoError(t, err)
			_, err = storage.Account().CreateAccount(t.Context(), userID, 0)
			require.NoError(t, err)
			_, err = e.Create(t.Context(), CreateParams{ExternalID: "tx1", UserID: userID, Amount: 5000})
			require.NoError(t, err)

			_, err = e.Perform(t.Context(), "tx1", 0)
			require.NoError(t, err)
			_, err = e.Perform(t.Context(), "tx1", 0)
			require.NoError(t, err)
			_, err = e.Cancel(t.Context(), "tx1", 5, 0)
			require.NoError(t, err)
			_, err = e.Cancel(t.Context(), "tx1", 5, 0)
			require.NoError(t, err)

			require.Equal(t, []string{"created->paid:5", "paid->cancelled_after_paid:5"}, rec.seen)
		})
	})

	// Runs on the pool itself, so every perform is its own db transaction
	t.Run("exactly once under concurrency", func(t *testing.T) {
		const (
			n          = 16
			concUserID = int64(777001)
			externalID = "concurrent-tx"
		)

		storage := postgres.NewStorage(pg.Pool)
		e, err := New(Config{}, storage)
		require.NoError(t, err)

		_, err = storage.Account().CreateAccount(t.Context(), concUserID, 0)
		require.NoError(t, err)
		_, err = e.Create(t.Context(), CreateParams{ExternalID: externalID, UserID: concUserID, Amount: 10000})
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			errs = make(chan error, n)
		)
		start := make(chan struct{})
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				tr, err := e.Perform(t.Context(), externalID, 0)
				if err == nil && tr.State != models.StatePaid {
					err = apperrors.ErrInvalidState
				}
				errs <- err
			}()
		}
		close(start)
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err, "every concurrent perform has to succeed")
		}

		account, err := storage.Account().GetAccount(t.Context(), concUserID)
		require.NoError(t, err)
		require.Equal(t, int64(10), account.PurchasedCredits, "credits must be applied exactly once")
	})

	t.Run("concurrent creates converge", func(t *testing.T) {
		const (
			n          = 8
			concUserID = int64(777002)
			externalID = "concurrent-create"
		)

		storage := postgres.NewStorage(pg.Pool)
		e, err := New(Config{}, storage)
		require.NoError(t, err)
		_, err = storage.Account().CreateAccount(t.Context(), concUserID, 0)
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make(chan models.Transaction, n)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tr, err := e.Create(t.Context(), CreateParams{ExternalID: externalID, UserID: concUserID, Amount: 5000})
				assert.NoError(t, err)
				results <- tr
			}()
		}
		wg.Wait()
		close(results)

		first, err := e.Status(t.Context(), externalID)
		require.NoError(t, err)
		for tr := range results {
			require.Equal(t, first.ID, tr.ID, "all creates must return the single stored row")
		}
	})
}

type recorder struct {
	seen []string
}

func (r *recorder) Transition(from models.TransactionState, to models.TransactionState, credits int64) {
	r.seen = append(r.seen, fmt.Sprintf("%s->%s:%d", from, to, credits))
}
