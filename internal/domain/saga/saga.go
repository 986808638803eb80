// Package saga runs ordered steps with compensations that undo the completed
// ones when a later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Step is one forward action and its compensation. Undo may be nil.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// StepError reports the failed step and any compensation that also failed.
type StepError struct {
	Step          string
	Err           error
	Compensations []error
}

func (e *StepError) Error() string {
	if len(e.Compensations) == 0 {
		return fmt.Sprintf("step %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %s: %v (%d compensations failed)", e.Step, e.Err, len(e.Compensations))
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// CompensationError joins the compensation failures.
func (e *StepError) CompensationError() error {
	return errors.Join(e.Compensations...)
}

// Runner executes sagas.
type Runner struct {
	log zerolog.Logger
}

// NewRunner creates a Runner.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log.With().Str("component", "saga").Logger()}
}

// Run executes steps in order. When a step fails, the Undo of every completed
// step runs in reverse order. Compensation is best effort and ignores ctx
// cancellation; its failures are logged and attached to the returned
// StepError.
func (r *Runner) Run(ctx context.Context, steps ...Step) error {
	done := make([]Step, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return r.compensate(ctx, done, step.Name, err)
		}
		if err := step.Do(ctx); err != nil {
			return r.compensate(ctx, done, step.Name, err)
		}
		done = append(done, step)
	}
	return nil
}

func (r *Runner) compensate(ctx context.Context, done []Step, failed string, cause error) error {
	stepErr := &StepError{Step: failed, Err: cause}
	undoCtx := context.WithoutCancel(ctx)

	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(undoCtx); err != nil {
			r.log.Error().Err(err).
				Str("step", step.Name).
				Str("failed_step", failed).
				Msg("compensation failed")
			stepErr.Compensations = append(stepErr.Compensations, fmt.Errorf("undo %s: %w", step.Name, err))
		}
	}

	r.log.Warn().Err(cause).
		Str("failed_step", failed).
		Int("compensated", len(done)).
		Msg("saga rolled back")
	return stepErr
}
