package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tabstream/tabstream-be/internal/analysis"
	"github.com/tabstream/tabstream-be/internal/jobs"
	"github.com/tabstream/tabstream-be/internal/jobs/store"
)

// Consumer is the queue side the worker reads from. The RabbitMQ client
// satisfies this.
type Consumer interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration.
type Config struct {
	Logger        *slog.Logger
	Store         store.Store
	Consumer      Consumer
	Analyzer      analysis.Analyzer
	Notifier      jobs.Notifier
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
}

// Worker consumes dispatched jobs and runs the derivation pipeline for
// each, reporting every state write to the notifier.
type Worker struct {
	logger        *slog.Logger
	store         store.Store
	consumer      Consumer
	analyzer      analysis.Analyzer
	notifier      jobs.Notifier
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	workerID      string

	jobsChan chan *jobMessage
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// jobMessage pairs a parsed job id with its queue delivery for ack/nack.
type jobMessage struct {
	JobID    string
	Delivery amqp.Delivery
}

// NewWorker creates a worker instance.
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:        cfg.Logger,
		store:         cfg.Store,
		consumer:      cfg.Consumer,
		analyzer:      cfg.Analyzer,
		notifier:      cfg.Notifier,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		jobTimeout:    cfg.JobTimeout,
		workerID:      "worker-" + uuid.New().String()[:8],
		jobsChan:      make(chan *jobMessage, cfg.Concurrency),
		stopChan:      make(chan struct{}),
	}
}

// Start wires up the consumer, spawns the pool and blocks dispatching
// deliveries until the context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.dispatchDeliveries(ctx, deliveries)
	return nil
}

// Stop gracefully stops the worker pool.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker pool",
		slog.String("worker_id", w.workerID),
	)
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker pool stopped")
}

// spawnWorkerPool spawns N worker goroutines based on concurrency.
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the processing loop for one pool goroutine.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				return
			}

			err := w.processJob(ctx, msg.JobID)
			if err != nil {
				w.logger.Error("Job processing failed",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.Any("error", err),
				)

				requeue := shouldRequeue(err)
				if nackErr := msg.Delivery.Nack(false, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("job_id", msg.JobID),
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			if ackErr := msg.Delivery.Ack(false); ackErr != nil {
				w.logger.Error("Failed to ACK message",
					slog.String("job_id", msg.JobID),
					slog.Any("error", ackErr),
				)
			}
		}
	}
}
