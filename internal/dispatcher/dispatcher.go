// Package dispatcher manages the delivery worker pool over the dispatch queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/metrics"
	"github.com/JakeFAU/comicfeed/internal/worker"
)

// Dispatcher fans out queued deliveries to a pool of workers. Both the update
// scanner and the chat front end enqueue through it.
type Dispatcher struct {
	queue   feed.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue feed.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("starting delivery workers", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("delivery workers stopped")
}

// Enqueue keys the delivery by its recipient and pushes it onto the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, delivery feed.Delivery) error {
	if delivery.RecipientID == "" {
		return fmt.Errorf("queue enqueue: empty recipient for %s", delivery.Chapter.URL)
	}
	if delivery.Origin == "" {
		delivery.Origin = feed.OriginManual
		if delivery.Pass > 0 {
			delivery.Origin = feed.OriginUpdate
		}
	}
	if err := d.queue.Put(ctx, delivery, delivery.RecipientID); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.SetQueueDepth(d.queue.Len())
	return nil
}

// Pending reports queued deliveries not yet picked up.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Workers reports the pool size.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}
