package revision

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/janhq/catalog-api/internal/domain/allocator"
	"github.com/janhq/catalog-api/internal/domain/catalog"
	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
	"github.com/janhq/catalog-api/internal/domain/patch"
	"github.com/janhq/catalog-api/internal/domain/resolver"
	"github.com/janhq/catalog-api/internal/domain/retry"
	"github.com/janhq/catalog-api/internal/domain/saga"
)

// Transactor runs fn inside a store transaction bound to the context it
// receives. Returning an error from fn rolls the transaction back.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Overwrite replaces the stored fields of an existing unverified draft.
type Overwrite struct {
	Entity          *catalog.Entity
	ExpectedVersion int64
	Previous        *catalog.Entity
}

// Unit is everything one submission persists.
type Unit struct {
	// Batch holds new nested drafts, children before parents.
	Batch []resolver.Draft
	// Root is the new target entity of a create submission.
	Root *resolver.Draft
	// Overwrite rewrites the target draft of a resubmitted create patch.
	Overwrite *Overwrite
	Patch     *patch.Patch
	// PatchExpected, when set, updates an existing patch whose stored status
	// must still equal it. Otherwise the patch is created.
	PatchExpected patch.Status
}

func (u Unit) drafts() []resolver.Draft {
	drafts := make([]resolver.Draft, 0, len(u.Batch)+1)
	drafts = append(drafts, u.Batch...)
	if u.Root != nil {
		drafts = append(drafts, *u.Root)
	}
	return drafts
}

// Coordinator persists a Unit or rolls all of it back.
type Coordinator struct {
	entities     catalog.EntityStore
	patches      patch.Repository
	ids          allocator.Allocator
	tx           Transactor
	runner       *saga.Runner
	commitPolicy retry.Policy
	observer     Observer
	log          zerolog.Logger
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTransactor runs the persist steps inside one store transaction and
// defers identifier commits until it commits.
func WithTransactor(tx Transactor) CoordinatorOption {
	return func(c *Coordinator) { c.tx = tx }
}

// WithCommitPolicy sets the retry policy for deferred identifier commits.
func WithCommitPolicy(p retry.Policy) CoordinatorOption {
	return func(c *Coordinator) { c.commitPolicy = p }
}

// WithCoordinatorObserver reports rollbacks.
func WithCoordinatorObserver(o Observer) CoordinatorOption {
	return func(c *Coordinator) { c.observer = o }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(entities catalog.EntityStore, patches patch.Repository, ids allocator.Allocator, log zerolog.Logger, opts ...CoordinatorOption) *Coordinator {
	log = log.With().Str("component", "save-coordinator").Logger()
	c := &Coordinator{
		entities:     entities,
		patches:      patches,
		ids:          ids,
		runner:       saga.NewRunner(log),
		commitPolicy: retry.BookkeepingPolicy(),
		observer:     NopObserver{},
		log:          log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit persists the batch drafts, then the root or overwrite, then the
// patch. On failure everything persisted by this call is deleted, every
// reservation not yet committed is released and a PersistFailure is returned.
func (c *Coordinator) Commit(ctx context.Context, unit Unit) error {
	if unit.Patch == nil {
		return fmt.Errorf("commit: patch is required")
	}
	if c.tx != nil {
		return c.commitInTransaction(ctx, unit)
	}

	drafts := unit.drafts()
	committed := make(map[allocator.Reservation]bool, len(drafts))

	steps := make([]saga.Step, 0, len(drafts)+2)
	for _, d := range drafts {
		steps = append(steps, c.draftStep(d, committed))
	}
	if unit.Overwrite != nil {
		steps = append(steps, c.overwriteStep(unit.Overwrite))
	}
	steps = append(steps, c.patchStep(unit))

	if err := c.runner.Run(ctx, steps...); err != nil {
		c.releaseUncommitted(ctx, drafts, committed)
		return c.failure(err)
	}
	return nil
}

func (c *Coordinator) draftStep(d resolver.Draft, committed map[allocator.Reservation]bool) saga.Step {
	return saga.Step{
		Name: "persist " + d.Entity.Ref().Path(),
		Do: func(ctx context.Context) error {
			if err := c.entities.Create(ctx, d.Entity); err != nil {
				return fmt.Errorf("create %s: %w", d.Entity.Ref().Path(), err)
			}
			if err := c.ids.Commit(ctx, d.Reservation.Collection, d.Reservation.Value); err != nil {
				// The step did not complete, so its own undo will not run.
				if delErr := c.entities.Delete(context.WithoutCancel(ctx), d.Entity.Type, d.Entity.ID); delErr != nil {
					c.log.Error().Err(delErr).Str("target", d.Entity.Ref().Path()).Msg("delete draft after failed identifier commit")
				}
				return fmt.Errorf("commit identifier %s: %w", d.Entity.Ref().Path(), err)
			}
			committed[d.Reservation] = true
			return nil
		},
		Undo: func(ctx context.Context) error {
			return c.entities.Delete(ctx, d.Entity.Type, d.Entity.ID)
		},
	}
}

func (c *Coordinator) overwriteStep(ow *Overwrite) saga.Step {
	return saga.Step{
		Name: "overwrite " + ow.Entity.Ref().Path(),
		Do: func(ctx context.Context) error {
			return c.entities.Update(ctx, ow.Entity, ow.ExpectedVersion)
		},
		Undo: func(ctx context.Context) error {
			if ow.Previous == nil {
				return nil
			}
			return c.entities.Update(ctx, ow.Previous, ow.Entity.Version)
		},
	}
}

func (c *Coordinator) patchStep(unit Unit) saga.Step {
	return saga.Step{
		Name: "persist patch " + unit.Patch.ID,
		Do: func(ctx context.Context) error {
			if unit.PatchExpected != "" {
				return c.patches.Update(ctx, unit.Patch, unit.PatchExpected)
			}
			return c.patches.Create(ctx, unit.Patch)
		},
	}
}

func (c *Coordinator) commitInTransaction(ctx context.Context, unit Unit) error {
	drafts := unit.drafts()
	err := c.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		for _, d := range drafts {
			if err := c.entities.Create(txCtx, d.Entity); err != nil {
				return fmt.Errorf("create %s: %w", d.Entity.Ref().Path(), err)
			}
		}
		if ow := unit.Overwrite; ow != nil {
			if err := c.entities.Update(txCtx, ow.Entity, ow.ExpectedVersion); err != nil {
				return fmt.Errorf("overwrite %s: %w", ow.Entity.Ref().Path(), err)
			}
		}
		if unit.PatchExpected != "" {
			return c.patches.Update(txCtx, unit.Patch, unit.PatchExpected)
		}
		return c.patches.Create(txCtx, unit.Patch)
	})
	if err != nil {
		c.releaseUncommitted(ctx, drafts, nil)
		return c.failure(err)
	}

	// Reservations are only removed once the rows are visible to other
	// writers, otherwise a concurrent Reserve could hand the same value out.
	for _, d := range drafts {
		res := d.Reservation
		commitErr := retry.NewExecutor(c.commitPolicy).Execute(context.WithoutCancel(ctx), func(ctx context.Context, _ int) error {
			err := c.ids.Commit(ctx, res.Collection, res.Value)
			if errors.Is(err, allocator.ErrReservationNotFound) {
				return retry.Permanent(err)
			}
			return err
		})
		if commitErr != nil {
			c.log.Error().Err(commitErr).
				Str("collection", res.Collection).
				Int64("id", res.Value).
				Msg("identifier commit after transaction failed; reservation kept")
		}
	}
	return nil
}

func (c *Coordinator) releaseUncommitted(ctx context.Context, drafts []resolver.Draft, committed map[allocator.Reservation]bool) {
	ctx = context.WithoutCancel(ctx)
	for i := len(drafts) - 1; i >= 0; i-- {
		res := drafts[i].Reservation
		if committed[res] {
			continue
		}
		if err := c.ids.Release(ctx, res.Collection, res.Value); err != nil {
			c.log.Error().Err(err).
				Str("collection", res.Collection).
				Int64("id", res.Value).
				Msg("release reservation during rollback")
		}
	}
}

func (c *Coordinator) failure(err error) error {
	step := "transaction"
	var stepErr *saga.StepError
	if errors.As(err, &stepErr) {
		step = stepErr.Step
	}
	c.observer.RolledBack(step)
	c.log.Warn().Err(err).Str("step", step).Msg("submission rolled back")
	return revErrors.PersistFailure(err)
}
