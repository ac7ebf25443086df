package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nkiryanov/essaypay/internal/handlers/middleware"
	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/models"
	"github.com/nkiryanov/essaypay/internal/service/purchase"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// How long GET /api/purchases/{id}?wait=true may poll the gateway
type PollConfig struct {
	// If not set than 2s is used
	Interval time.Duration

	// If not set than 10 is used
	MaxAttempts int
}

func (c *PollConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
}

func NewRouter(
	accountService accountService,
	purchaseService purchaseService,
	merchant http.Handler,
	tokens tokenParser,
	metrics routerMetrics,
	db pinger,
	poll PollConfig,
	logger logger.Logger,
) http.Handler {
	poll.setDefaults()

	authMiddleware := middleware.AuthMiddleware(tokens)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}

	// Single mux so middlewares see the matched pattern
	root := http.NewServeMux()

	root.Handle("PUT /api/accounts/{user_id}", withAuth(handleEnsureAccount(accountService, logger)))
	root.Handle("GET /api/accounts/{user_id}", withAuth(handleGetAccount(accountService, logger)))
	root.Handle("POST /api/accounts/{user_id}/consume", withAuth(handleConsumeCredit(accountService, logger)))

	root.Handle("POST /api/purchases", withAuth(handleBeginPurchase(purchaseService, logger)))
	root.Handle("GET /api/purchases/{external_id}", withAuth(handleGetPurchase(purchaseService, poll, logger)))

	root.Handle("POST /merchant/callback", merchant)

	root.Handle("GET /metrics", metrics.Handler())
	root.Handle("GET /healthz", handleHealth(db, logger))

	handler := chain(root,
		middleware.RequestID,
		middleware.RecoverMiddleware(logger),
		middleware.LoggerMiddleware(logger),
		middleware.MetricsMiddleware(metrics),
	)

	return handler
}

type accountService interface {
	// Create account with free credits if not exists, return it otherwise
	EnsureAccount(ctx context.Context, userID int64) (models.Account, error)

	// Has to return apperrors.ErrAccountNotFound if account not exists
	GetAccount(ctx context.Context, userID int64) (models.Account, error)

	// Has to return apperrors.ErrNoCreditsLeft if nothing to spend
	ConsumeCredit(ctx context.Context, userID int64) (models.Account, error)
}

type purchaseService interface {
	// Has to wrap gateway failures with apperrors.ErrGatewayUnavailable
	BeginPurchase(ctx context.Context, userID int64, credits int64) (purchase.Purchase, error)

	Status(ctx context.Context, externalID string) (models.Transaction, error)
	Reconcile(ctx context.Context, externalID string) (models.Transaction, error)
	PollUntilSettled(ctx context.Context, externalID string, interval time.Duration, maxAttempts int) (purchase.PollResult, error)
}

type tokenParser interface {
	Parse(token string) (string, error)
}

type routerMetrics interface {
	Handler() http.Handler
	ObserveHTTP(method string, route string, status int, took time.Duration)
}

type pinger interface {
	Ping(ctx context.Context) error
}
