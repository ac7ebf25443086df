package reconciler

import (
	"context"
	"time"

	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/models"
)

type Producer struct {
	interval    time.Duration
	gracePeriod time.Duration
	batchSize   int

	lister pendingLister
	logger logger.Logger
	now    func() time.Time
}

func (p *Producer) Produce(ctx context.Context, out chan<- models.Transaction) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting producer", "interval", p.interval, "grace_period", p.gracePeriod, "batch_size", p.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				transactions, err := p.lister.ListPending(ctx, p.now().Add(-p.gracePeriod), p.batchSize)
				if err != nil {
					p.logger.Error("Failed to list pending transactions", "error", err)
					continue
				}
				p.logger.Debug("Producer tick", "pending", len(transactions))

				for _, t := range transactions {
					select {
					case <-ctx.Done():
						p.logger.Debug("Producer stopped by context while sending transactions")
						return
					case out <- t:
					}
				}
			}
		}
	}()

	return idleStopped
}
