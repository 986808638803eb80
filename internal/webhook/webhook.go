package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/janhq/catalog-api/internal/domain/activity"
	"github.com/janhq/catalog-api/internal/domain/retry"
)

// Payload is the JSON body posted for each activity event.
type Payload struct {
	ID string `json:"id"`
	activity.Event
}

// Redactor scrubs personal data before it leaves the service.
type Redactor interface {
	SanitizeRef(ref string) string
	SanitizeNote(note string) string
}

// HTTPSink posts activity events to a webhook endpoint.
type HTTPSink struct {
	client   *resty.Client
	url      string
	policy   retry.Policy
	redactor Redactor
	log      zerolog.Logger
}

// Option customises an HTTPSink.
type Option func(*HTTPSink)

// WithRetryPolicy overrides the delivery retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *HTTPSink) { s.policy = p }
}

// WithRedactor scrubs actor refs and notes before sending.
func WithRedactor(r Redactor) Option {
	return func(s *HTTPSink) { s.redactor = r }
}

// NewHTTPSink creates a webhook sink posting to url.
func NewHTTPSink(url string, timeout time.Duration, log zerolog.Logger, opts ...Option) *HTTPSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "jan-catalog-api/1.0")

	s := &HTTPSink{
		client: client,
		url:    url,
		policy: retry.DefaultPolicy(),
		log:    log.With().Str("component", "webhook").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify implements activity.Sink.
func (s *HTTPSink) Notify(ctx context.Context, event activity.Event) error {
	if s.redactor != nil {
		event.ActorRef = s.redactor.SanitizeRef(event.ActorRef)
		event.Note = s.redactor.SanitizeNote(event.Note)
	}
	payload := Payload{
		ID:    fmt.Sprintf("%s:%s:%d", event.PatchID, event.Type, event.OccurredAt.UnixNano()),
		Event: event,
	}

	return retry.NewExecutor(s.policy).Execute(ctx, func(ctx context.Context, attempt int) error {
		resp, err := s.client.R().
			SetContext(ctx).
			SetHeader("X-Jan-Event", string(event.Type)).
			SetHeader("X-Jan-Delivery", payload.ID).
			SetBody(payload).
			Post(s.url)
		if err != nil {
			s.log.Warn().Err(err).Str("url", s.url).Int("attempt", attempt).Msg("webhook delivery failed")
			return fmt.Errorf("send webhook: %w", err)
		}

		status := resp.StatusCode()
		if status >= 200 && status < 300 {
			s.log.Debug().Str("patch_id", event.PatchID).Int("status", status).Msg("webhook delivered")
			return nil
		}

		s.log.Warn().Int("status", status).Str("url", s.url).Int("attempt", attempt).Msg("webhook delivery failed")
		statusErr := fmt.Errorf("webhook returned status %d", status)
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return retry.Permanent(statusErr)
		}
		return statusErr
	})
}
