package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/janhq/catalog-api/internal/domain/allocator"
	"github.com/janhq/catalog-api/internal/domain/catalog"
	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
	"github.com/janhq/catalog-api/internal/domain/patch"
)

// Catalog-API Metrics
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "submissions_total",
			Help:      "Submitted patches by kind, entity type and outcome",
		},
		[]string{"kind", "entity_type", "outcome"},
	)

	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "submission_duration_seconds",
			Help:      "Time to resolve and persist one submission",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"kind"},
	)

	DraftsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "drafts_created_total",
			Help:      "Entities created as unverified drafts by submissions",
		},
		[]string{"kind"},
	)

	ModerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "moderations_total",
			Help:      "Moderation actions by action, patch kind and outcome",
		},
		[]string{"action", "kind", "outcome"},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "identifier_operations_total",
			Help:      "Identifier reserve, commit and release calls",
		},
		[]string{"collection", "operation"},
	)

	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "saga_rollbacks_total",
			Help:      "Submissions rolled back, by failing step",
		},
		[]string{"step"},
	)

	ActivityDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "activity_deliveries_total",
			Help:      "Activity notifications handed to sinks",
		},
		[]string{"event", "status"},
	)

	ActivityQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "activity_queue_depth",
			Help:      "Activity notifications waiting for a worker",
		},
	)

	PatchesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "catalog_api",
			Name:      "patches_pruned_total",
			Help:      "Terminal patches removed by the retention job",
		},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordActivityDelivery records one sink delivery attempt.
func RecordActivityDelivery(event, status string) {
	ActivityDeliveries.WithLabelValues(event, status).Inc()
}

// SetActivityQueueDepth sets the current queue depth
func SetActivityQueueDepth(depth int) {
	ActivityQueueDepth.Set(float64(depth))
}

// RecordPruned records patches removed by retention.
func RecordPruned(n int64) {
	PatchesPruned.Add(float64(n))
}

// AllocatorHooks counts identifier operations per collection.
func AllocatorHooks() allocator.Hooks {
	return allocator.Hooks{
		OnReserve: func(collection string) { ReservationsTotal.WithLabelValues(collection, "reserve").Inc() },
		OnCommit:  func(collection string) { ReservationsTotal.WithLabelValues(collection, "commit").Inc() },
		OnRelease: func(collection string) { ReservationsTotal.WithLabelValues(collection, "release").Inc() },
	}
}

// RevisionObserver feeds revision outcomes into the vectors above.
type RevisionObserver struct{}

func (RevisionObserver) Submitted(kind patch.Kind, t catalog.EntityType, drafts int, err error, took time.Duration) {
	SubmissionsTotal.WithLabelValues(kind.String(), t.String(), outcome(err)).Inc()
	SubmissionDuration.WithLabelValues(kind.String()).Observe(took.Seconds())
	if err == nil && drafts > 0 {
		DraftsCreated.WithLabelValues(kind.String()).Add(float64(drafts))
	}
}

func (RevisionObserver) Moderated(action patch.Action, kind patch.Kind, err error) {
	ModerationsTotal.WithLabelValues(action.String(), kind.String(), outcome(err)).Inc()
}

func (RevisionObserver) RolledBack(step string) {
	RollbacksTotal.WithLabelValues(stepLabel(step)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := revErrors.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

// stepLabel drops the entity or patch id from a saga step name so the label
// stays low-cardinality.
func stepLabel(step string) string {
	for i, r := range step {
		if r == ' ' {
			rest := step[i+1:]
			if len(rest) >= 6 && rest[:6] == "patch " {
				return step[:i] + " patch"
			}
			return step[:i]
		}
	}
	return step
}
