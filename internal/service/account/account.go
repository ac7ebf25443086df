package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/nkiryanov/essaypay/internal/models"
	"github.com/nkiryanov/essaypay/internal/repository"
)

const DefaultFreeCredits = 3

type Service struct {
	// Free credits every new account starts with
	freeCredits int64

	accountRepo repository.AccountRepo
}

func NewService(freeCredits int64, accountRepo repository.AccountRepo) (*Service, error) {
	if freeCredits < 0 {
		return nil, fmt.Errorf("free credits must not be negative, got %d", freeCredits)
	}
	if accountRepo == nil {
		return nil, errors.New("account repo must not be nil")
	}

	return &Service{
		freeCredits: freeCredits,
		accountRepo: accountRepo,
	}, nil
}

// Create account with seeded free credits if it does not exist yet
func (s *Service) EnsureAccount(ctx context.Context, userID int64) (models.Account, error) {
	if userID <= 0 {
		return models.Account{}, fmt.Errorf("user id must be positive, got %d", userID)
	}

	account, err := s.accountRepo.CreateAccount(ctx, userID, s.freeCredits)
	if err != nil {
		return account, fmt.Errorf("can't ensure account. Err: %w", err)
	}

	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, userID int64) (models.Account, error) {
	return s.accountRepo.GetAccount(ctx, userID)
}

// Spend one credit, free ones first
func (s *Service) ConsumeCredit(ctx context.Context, userID int64) (models.Account, error) {
	return s.accountRepo.ConsumeCredit(ctx, userID)
}
