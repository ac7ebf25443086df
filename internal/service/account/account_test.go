package account

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/essaypay/internal/apperrors"
	"github.com/nkiryanov/essaypay/internal/repository/postgres"
	"github.com/nkiryanov/essaypay/internal/testutil"
)

func TestAccount(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withTx := func(t *testing.T, fn func(s *Service)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			s, err := NewService(DefaultFreeCredits, postgres.NewStorage(tx).Account())
			require.NoError(t, err)

			fn(s)
		})
	}

	t.Run("NewService", func(t *testing.T) {
		_, err := NewService(-1, postgres.NewStorage(pg.Pool).Account())
		require.Error(t, err, "negative free credits must be rejected")

		_, err = NewService(3, nil)
		require.Error(t, err, "repo is required")
	})

	t.Run("EnsureAccount", func(t *testing.T) {
		t.Run("seed free credits", func(t *testing.T) {
			withTx(t, func(s *Service) {
				account, err := s.EnsureAccount(t.Context(), 1001)

				require.NoError(t, err)
				require.Equal(t, int64(DefaultFreeCredits), account.FreeCredits)
				require.Equal(t, int64(DefaultFreeCredits), account.Available())
			})
		})

		t.Run("existing account untouched", func(t *testing.T) {
			withTx(t, func(s *Service) {
				_, err := s.EnsureAccount(t.Context(), 1001)
				require.NoError(t, err)
				_, err = s.ConsumeCredit(t.Context(), 1001)
				require.NoError(t, err)

				account, err := s.EnsureAccount(t.Context(), 1001)

				require.NoError(t, err)
				require.Equal(t, int64(DefaultFreeCredits-1), account.FreeCredits, "free credits must not be reseeded")
			})
		})

		t.Run("bad user id", func(t *testing.T) {
			withTx(t, func(s *Service) {
				_, err := s.EnsureAccount(t.Context(), 0)

				require.Error(t, err)
			})
		})
	})

	t.Run("GetAccount", func(t *testing.T) {
		withTx(t, func(s *Service) {
			_, err := s.GetAccount(t.Context(), 1001)
			require.ErrorIs(t, err, apperrors.ErrAccountNotFound)

			created, err := s.EnsureAccount(t.Context(), 1001)
			require.NoError(t, err)

			got, err := s.GetAccount(t.Context(), 1001)
			require.NoError(t, err)
			require.Equal(t, created, got)
		})
	})

	t.Run("ConsumeCredit", func(t *testing.T) {
		withTx(t, func(s *Service) {
			_, err := s.EnsureAccount(t.Context(), 1001)
			require.NoError(t, err)

			for i := range DefaultFreeCredits {
				account, err := s.ConsumeCredit(t.Context(), 1001)
				require.NoError(t, err)
				require.Equal(t, int64(i+1), account.LifetimeUses)
			}

			_, err = s.ConsumeCredit(t.Context(), 1001)
			require.ErrorIs(t, err, apperrors.ErrNoCreditsLeft)
		})
	})
}
