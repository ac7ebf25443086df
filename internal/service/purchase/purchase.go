package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/essaypay/internal/apperrors"
	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/models"
	"github.com/nkiryanov/essaypay/internal/service/engine"
	"github.com/nkiryanov/essaypay/internal/service/gateway"
	"github.com/nkiryanov/essaypay/internal/service/pricing"
)

// Reason stored when the gateway reports a cancellation without one
// Gateway reason code 4 is "cancelled by timeout"
const defaultCancelReason = 4

type gatewayClient interface {
	CreateInvoice(ctx context.Context, userID int64, amount int64, returnURL string) (gateway.Invoice, error)
	CheckInvoice(ctx context.Context, invoiceID string) (gateway.InvoiceStatus, error)
}

type transactionEngine interface {
	CheckCanCreate(ctx context.Context, userID int64, amount int64) error
	Create(ctx context.Context, p engine.CreateParams) (models.Transaction, error)
	Perform(ctx context.Context, externalID string, performTime int64) (models.Transaction, error)
	Cancel(ctx context.Context, externalID string, reason int, cancelTime int64) (models.Transaction, error)
	Status(ctx context.Context, externalID string) (models.Transaction, error)
}

type Config struct {
	// Where the payer lands after paying
	ReturnURL string

	// If not set than pricing.Default is used
	Pricing *pricing.Table
}

// Purchase the payer has to complete on the gateway page
type Purchase struct {
	ExternalID string
	PayURL     string
	Amount     int64
	Sum        decimal.Decimal
	Credits    int64
}

type Outcome string

const (
	OutcomeSettled Outcome = "settled"
	OutcomeExpired Outcome = "expired"
)

type PollResult struct {
	Outcome     Outcome
	Transaction models.Transaction
	Attempts    int
}

type Service struct {
	returnURL string
	pricing   *pricing.Table

	gateway gatewayClient
	engine  transactionEngine
	logger  logger.Logger
}

func NewService(cfg Config, gw gatewayClient, e transactionEngine, l logger.Logger) (*Service, error) {
	if gw == nil || e == nil {
		return nil, errors.New("gateway and engine must not be nil")
	}
	if cfg.Pricing == nil {
		cfg.Pricing = pricing.Default()
	}

	return &Service{
		returnURL: cfg.ReturnURL,
		pricing:   cfg.Pricing,
		gateway:   gw,
		engine:    e,
		logger:    l,
	}, nil
}

// Open invoice on the gateway and record it locally as pending
func (s *Service) BeginPurchase(ctx context.Context, userID int64, credits int64) (Purchase, error) {
	var p Purchase

	amount, err := s.pricing.AmountFor(credits)
	if err != nil {
		return p, err
	}

	// Fail before the gateway is bothered with an unknown account
	if err := s.engine.CheckCanCreate(ctx, userID, amount); err != nil {
		return p, err
	}

	invoice, err := s.gateway.CreateInvoice(ctx, userID, amount, s.returnURL)
	if err != nil {
		return p, fmt.Errorf("%w: %w", apperrors.ErrGatewayUnavailable, err)
	}

	t, err := s.engine.Create(ctx, engine.CreateParams{
		ExternalID: invoice.ID,
		UserID:     userID,
		Amount:     amount,
	})
	if err != nil {
		return p, fmt.Errorf("can't record invoice %s. Err: %w", invoice.ID, err)
	}

	s.logger.Info("Purchase started", "external_id", t.ExternalID, "user_id", userID, "credits", t.Credits, "amount", amount)

	return Purchase{
		ExternalID: t.ExternalID,
		PayURL:     invoice.PaymentURL,
		Amount:     t.Amount,
		Sum:        t.Sum(),
		Credits:    t.Credits,
	}, nil
}

// Local view of the transaction, the gateway is not asked
func (s *Service) Status(ctx context.Context, externalID string) (models.Transaction, error) {
	return s.engine.Status(ctx, externalID)
}

// Bring local transaction in line with the gateway
// Settled transactions are returned without asking the gateway
func (s *Service) Reconcile(ctx context.Context, externalID string) (models.Transaction, error) {
	t, err := s.engine.Status(ctx, externalID)
	if err != nil {
		return t, err
	}
	if t.State.IsSettled() {
		return t, nil
	}

	status, err := s.gateway.CheckInvoice(ctx, externalID)
	if err != nil {
		return t, fmt.Errorf("%w: %w", apperrors.ErrGatewayUnavailable, err)
	}

	reason := defaultCancelReason
	if status.Reason != nil {
		reason = *status.Reason
	}

	switch status.State {
	case models.StateCreated:
		return t, nil

	case models.StatePaid:
		t, err = s.engine.Perform(ctx, externalID, status.PerformTime)

	case models.StateCancelled:
		t, err = s.engine.Cancel(ctx, externalID, reason, status.CancelTime)

	case models.StateCancelledAfterPaid:
		// Paid and refunded while we were not looking: book both legs
		t, err = s.engine.Perform(ctx, externalID, status.PerformTime)
		if err == nil {
			t, err = s.engine.Cancel(ctx, externalID, reason, status.CancelTime)
		}

	default:
		return t, fmt.Errorf("%w: gateway reported unknown state %d for %s", apperrors.ErrGatewayUnavailable, status.State, externalID)
	}

	if err != nil {
		return t, fmt.Errorf("can't apply gateway state %s to %s. Err: %w", status.State, externalID, err)
	}

	s.logger.Info("Transaction reconciled", "external_id", externalID, "state", t.State)
	return t, nil
}

// Reconcile every interval until the transaction settles or attempts run out
// Gateway failures count as unsettled attempts
func (s *Service) PollUntilSettled(ctx context.Context, externalID string, interval time.Duration, maxAttempts int) (PollResult, error) {
	var result PollResult

	if maxAttempts <= 0 || interval <= 0 {
		return result, fmt.Errorf("interval and attempts must be positive, got %s and %d", interval, maxAttempts)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result.Attempts++

		t, err := s.Reconcile(ctx, externalID)
		switch {
		case err == nil:
			result.Transaction = t
			if t.State.IsSettled() {
				result.Outcome = OutcomeSettled
				return result, nil
			}
		case errors.Is(err, apperrors.ErrGatewayUnavailable):
			result.Transaction = t
			s.logger.Warn("Gateway check failed while polling", "external_id", externalID, "attempt", result.Attempts, "error", err)
		default:
			return result, err
		}

		if result.Attempts >= maxAttempts {
			result.Outcome = OutcomeExpired
			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}
