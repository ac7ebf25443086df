package reconciler

import (
	"context"
	"time"

	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/models"
)

const (
	defaultCountWorkers    = 4                // Number of workers to reconcile transactions
	defaultProduceInterval = 30 * time.Second // Interval for listing pending transactions
	defaultGracePeriod     = 5 * time.Minute  // Pending younger than this are left to callbacks
	defaultBatchSize       = 100
)

type pendingLister interface {
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Transaction, error)
}

type reconcileService interface {
	Reconcile(ctx context.Context, externalID string) (models.Transaction, error)
}

type Config struct {
	// If not set than default is used
	CountWorkers int
	Interval     time.Duration
	GracePeriod  time.Duration
	BatchSize    int
}

// Processor settles pending transactions the gateway callbacks never reached
type Processor struct {
	consumer *Consumer
	producer *Producer
}

func New(cfg Config, lister pendingLister, service reconcileService, logger logger.Logger) *Processor {
	setDefault := func(field *int, def int) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefault(&cfg.CountWorkers, defaultCountWorkers)
	setDefault(&cfg.BatchSize, defaultBatchSize)
	setDefaultDuration(&cfg.Interval, defaultProduceInterval)
	setDefaultDuration(&cfg.GracePeriod, defaultGracePeriod)

	return &Processor{
		consumer: &Consumer{
			countWorkers: cfg.CountWorkers,
			service:      service,
			logger:       logger,
		},
		producer: &Producer{
			interval:    cfg.Interval,
			gracePeriod: cfg.GracePeriod,
			batchSize:   cfg.BatchSize,
			lister:      lister,
			logger:      logger,
			now:         time.Now,
		},
	}
}

// Process runs until ctx is done
// The returned channel is closed when producer and all workers stopped
func (p *Processor) Process(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	pending := make(chan models.Transaction)

	producerStopped := p.producer.Produce(ctx, pending)
	consumerStopped := p.consumer.Consume(ctx, pending)

	go func() {
		defer close(idleStopped)
		defer close(pending)
		<-producerStopped
		<-consumerStopped
		p.consumer.logger.Debug("Reconciler stopped")
	}()

	return idleStopped
}
