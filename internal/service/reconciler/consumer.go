package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/models"
	"github.com/nkiryanov/essaypay/internal/service/gateway"
)

type Consumer struct {
	countWorkers int

	// Gateway may throttle us
	// If so, every worker waits until the time is up
	waitUntil atomic.Int64

	service reconcileService
	logger  logger.Logger
}

func (c *Consumer) Consume(ctx context.Context, in <-chan models.Transaction) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range c.countWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, in)
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan models.Transaction) {
	for {
		// Wait until rate limit is passed or context is done
		waitUntil := time.UnixMilli(c.waitUntil.Load())
		if waitUntil.After(time.Now()) {
			c.logger.Debug("Worker is waiting for rate limit to reset", "wait_until", waitUntil)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case t, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}

			got, err := c.service.Reconcile(ctx, t.ExternalID)
			var gwErr *gateway.Error

			switch {
			case err == nil:
				if got.State != t.State {
					c.logger.Info("Pending transaction settled", "external_id", t.ExternalID, "state", got.State)
				}

			case errors.As(err, &gwErr) && gwErr.Code == gateway.CodeRetryAfter:
				c.logger.Info("Gateway rate limit exceeded, waiting", "retry_after", gwErr.RetryAfter)
				c.waitUntil.Store(time.Now().Add(gwErr.RetryAfter).UnixMilli())

			default:
				c.logger.Error("Failed to reconcile transaction", "error", err, "external_id", t.ExternalID)
			}
		}
	}
}
