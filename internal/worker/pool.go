package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/janhq/catalog-api/internal/domain/activity"
	"github.com/janhq/catalog-api/internal/infrastructure/metrics"
	"github.com/janhq/catalog-api/internal/infrastructure/observability"
)

// Pool delivers activity events to a sink on background workers. It is the
// activity.Publisher used by the revision service, so moderation never waits
// on the sink.
type Pool struct {
	workers      []*Worker
	sink         activity.Sink
	queue        chan activity.Event
	workerCount  int
	taskTimeout  time.Duration
	instrumenter *observability.DeliveryInstrumenter
	log          zerolog.Logger
	wg           sync.WaitGroup
	stopped      atomic.Bool
	dropped      atomic.Int64
}

// Config contains worker pool configuration.
type Config struct {
	WorkerCount int
	QueueSize   int
	TaskTimeout time.Duration
}

// NewPool creates a new worker pool. instrumenter may be nil.
func NewPool(sink activity.Sink, cfg Config, instrumenter *observability.DeliveryInstrumenter, log zerolog.Logger) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}
	return &Pool{
		sink:         sink,
		queue:        make(chan activity.Event, cfg.QueueSize),
		workerCount:  cfg.WorkerCount,
		taskTimeout:  cfg.TaskTimeout,
		instrumenter: instrumenter,
		log:          log.With().Str("component", "worker-pool").Logger(),
	}
}

var _ activity.Publisher = (*Pool)(nil)

// Start initializes and starts all workers.
func (p *Pool) Start(ctx context.Context) error {
	p.log.Info().Int("worker_count", p.workerCount).Int("queue_size", cap(p.queue)).Msg("starting worker pool")

	p.workers = make([]*Worker, p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		worker := NewWorker(i+1, p.queue, p.sink, p.taskTimeout, p.instrumenter, p.log)
		p.workers[i] = worker

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(worker)
	}

	return nil
}

// Publish enqueues event without blocking. When the queue is full or the pool
// is stopped the event is dropped and logged.
func (p *Pool) Publish(event activity.Event) {
	if p.stopped.Load() {
		p.drop(event, "pool stopped")
		return
	}
	select {
	case p.queue <- event:
		metrics.SetActivityQueueDepth(len(p.queue))
	default:
		p.drop(event, "queue full")
	}
}

func (p *Pool) drop(event activity.Event, reason string) {
	p.dropped.Add(1)
	metrics.RecordActivityDelivery(string(event.Type), "dropped")
	p.log.Warn().Str("patch_id", event.PatchID).Str("event", string(event.Type)).Str("reason", reason).Msg("activity event dropped")
}

// Dropped reports how many events were discarded.
func (p *Pool) Dropped() int64 {
	return p.dropped.Load()
}

// Stop gracefully shuts down all workers. Events already queued are
// delivered before the workers exit.
func (p *Pool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.log.Info().Msg("stopping worker pool")

	for _, worker := range p.workers {
		worker.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("all workers stopped gracefully")
	case <-time.After(30 * time.Second):
		p.log.Warn().Msg("worker pool shutdown timed out")
	}
}
