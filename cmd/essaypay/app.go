package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/essaypay/internal/db"
	"github.com/nkiryanov/essaypay/internal/handlers"
	"github.com/nkiryanov/essaypay/internal/handlers/merchant"
	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/metrics"
	"github.com/nkiryanov/essaypay/internal/repository/postgres"
	"github.com/nkiryanov/essaypay/internal/service/account"
	"github.com/nkiryanov/essaypay/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/essaypay/internal/service/engine"
	"github.com/nkiryanov/essaypay/internal/service/gateway"
	"github.com/nkiryanov/essaypay/internal/service/purchase"
	"github.com/nkiryanov/essaypay/internal/service/reconciler"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	reconciler *reconciler.Processor
	pool       *pgxpool.Pool
	logger     logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	app, err := newServerApp(c, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return app, nil
}

func newServerApp(c *Config, pool *pgxpool.Pool, logger logger.Logger) (*ServerApp, error) {
	// Initialize repositories
	storage := postgres.NewStorage(pool)
	m := metrics.New()

	// Initialize services
	transactions, err := engine.New(engine.Config{Recorder: m}, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating transaction engine. Err: %w", err)
	}

	gatewayClient, err := gateway.NewClient(gateway.Config{
		URL:        c.GatewayURL,
		MerchantID: c.MerchantID,
		Key:        c.MerchantKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating gateway client. Err: %w", err)
	}

	purchaseService, err := purchase.NewService(purchase.Config{ReturnURL: c.ReturnURL}, gatewayClient, transactions, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating purchase service. Err: %w", err)
	}

	accountService, err := account.NewService(c.FreeCredits, storage.Account())
	if err != nil {
		return nil, fmt.Errorf("error while creating account service. Err: %w", err)
	}

	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	// Initialize gateway callback endpoint
	endpoint, err := merchant.New(merchant.Config{Login: c.MerchantLogin, Key: c.MerchantKey}, transactions, m, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating merchant endpoint. Err: %w", err)
	}

	mux := handlers.NewRouter(
		accountService,
		purchaseService,
		endpoint,
		tokenManager,
		m,
		pool,
		handlers.PollConfig{},
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		reconciler: reconciler.New(reconciler.Config{}, transactions, purchaseService, logger),
		pool:       pool,
		logger:     logger,
	}, nil
}

// Run starts http server and the reconciler
// Both stop gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	reconcilerStopped := s.reconciler.Process(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-reconcilerStopped

	return err
}

func (s *ServerApp) Close() {
	s.pool.Close()
}
