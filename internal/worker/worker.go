package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/janhq/catalog-api/internal/domain/activity"
	"github.com/janhq/catalog-api/internal/infrastructure/metrics"
	"github.com/janhq/catalog-api/internal/infrastructure/observability"
)

// Worker hands queued activity events to the sink.
type Worker struct {
	id           int
	queue        <-chan activity.Event
	sink         activity.Sink
	taskTimeout  time.Duration
	instrumenter *observability.DeliveryInstrumenter
	log          zerolog.Logger
	stopChan     chan struct{}
}

// NewWorker creates a new background worker.
func NewWorker(
	id int,
	queue <-chan activity.Event,
	sink activity.Sink,
	taskTimeout time.Duration,
	instrumenter *observability.DeliveryInstrumenter,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		id:           id,
		queue:        queue,
		sink:         sink,
		taskTimeout:  taskTimeout,
		instrumenter: instrumenter,
		log:          log.With().Int("worker_id", id).Str("component", "worker").Logger(),
		stopChan:     make(chan struct{}),
	}
}

// Start processes events until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Debug().Msg("worker stopped by context")
			return
		case <-w.stopChan:
			w.drain(ctx)
			w.log.Debug().Msg("worker stopped")
			return
		case event := <-w.queue:
			w.deliver(ctx, event)
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	close(w.stopChan)
}

func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case event := <-w.queue:
			w.deliver(context.WithoutCancel(ctx), event)
		default:
			return
		}
	}
}

func (w *Worker) deliver(ctx context.Context, event activity.Event) {
	metrics.SetActivityQueueDepth(len(w.queue))

	taskCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	notify := func(ctx context.Context) error {
		return w.sink.Notify(ctx, event)
	}

	var err error
	if w.instrumenter != nil {
		err = w.instrumenter.Deliver(taskCtx, event, notify)
	} else {
		err = notify(taskCtx)
	}

	if err != nil {
		metrics.RecordActivityDelivery(string(event.Type), "error")
		w.log.Error().Err(err).Str("patch_id", event.PatchID).Str("event", string(event.Type)).Msg("activity delivery failed")
		return
	}
	metrics.RecordActivityDelivery(string(event.Type), "success")
}
