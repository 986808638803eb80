// Package revision implements the submission and moderation workflow of the
// catalog: resolving nested entities, diffing against the canonical record,
// persisting drafts and patches, and applying moderator decisions.
package revision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/janhq/catalog-api/internal/domain/activity"
	"github.com/janhq/catalog-api/internal/domain/allocator"
	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/diff"
	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
	"github.com/janhq/catalog-api/internal/domain/patch"
	"github.com/janhq/catalog-api/internal/domain/resolver"
	"github.com/janhq/catalog-api/internal/domain/saga"
)

const tracerName = "catalog-api/revision"

// CreateResult is returned by SubmitCreate.
type CreateResult struct {
	EntityID string `json:"entityId"`
	PatchID  string `json:"patchId"`
}

// UpdateResult is returned by SubmitUpdate.
type UpdateResult struct {
	PatchID string `json:"patchId"`
}

// StatusResult is returned by Moderate and Resubmit.
type StatusResult struct {
	PatchID string       `json:"patchId"`
	Status  patch.Status `json:"status"`
}

// Operations is the revision surface exposed to transports.
type Operations interface {
	SubmitCreate(ctx context.Context, t catalog.EntityType, payload map[string]any, author string) (*CreateResult, error)
	SubmitUpdate(ctx context.Context, t catalog.EntityType, id string, payload map[string]any, author string) (*UpdateResult, error)
	Moderate(ctx context.Context, patchID string, action patch.Action, note, moderator string) (*StatusResult, error)
	Resubmit(ctx context.Context, patchID string, payload map[string]any, author string) (*StatusResult, error)
	GetPatch(ctx context.Context, patchID string) (*patch.Patch, error)
	GetEntity(ctx context.Context, t catalog.EntityType, id string) (*catalog.Entity, error)
}

var _ Operations = (*Service)(nil)

// Deps groups the collaborators of the Service.
type Deps struct {
	Entities    catalog.EntityStore
	Patches     patch.Repository
	IDs         allocator.Allocator
	Resolver    *resolver.Resolver
	Differ      *diff.Differ
	Coordinator *Coordinator
	Publisher   activity.Publisher
	Observer    Observer
	// Redact is applied to actor refs before they are attached to spans.
	Redact func(string) string
}

// Service exposes the revision operations.
type Service struct {
	entities    catalog.EntityStore
	patches     patch.Repository
	ids         allocator.Allocator
	resolver    *resolver.Resolver
	differ      *diff.Differ
	coordinator *Coordinator
	publisher   activity.Publisher
	observer    Observer
	redact      func(string) string
	runner      *saga.Runner
	tracer      trace.Tracer
	now         func() time.Time
	log         zerolog.Logger
}

// NewService creates a Service.
func NewService(deps Deps, log zerolog.Logger) *Service {
	log = log.With().Str("component", "revision").Logger()
	s := &Service{
		entities:    deps.Entities,
		patches:     deps.Patches,
		ids:         deps.IDs,
		resolver:    deps.Resolver,
		differ:      deps.Differ,
		coordinator: deps.Coordinator,
		publisher:   deps.Publisher,
		observer:    deps.Observer,
		redact:      deps.Redact,
		runner:      saga.NewRunner(log),
		tracer:      otel.Tracer(tracerName),
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
	if s.differ == nil {
		s.differ = diff.NewDiffer(diff.DefaultIgnoredKeys...)
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.redact == nil {
		s.redact = func(v string) string { return v }
	}
	return s
}

// SubmitCreate stores payload as a new unverified entity of type t together
// with any new nested entities, and opens a create patch for it.
func (s *Service) SubmitCreate(ctx context.Context, t catalog.EntityType, payload map[string]any, author string) (result *CreateResult, err error) {
	ctx, span := s.startSpan(ctx, "revision.submit_create", author, attribute.String("entity.type", t.String()))
	start := time.Now()
	drafts := 0
	defer func() {
		s.endSpan(span, err)
		s.observer.Submitted(patch.KindCreate, t, drafts, err, time.Since(start))
	}()

	if err := requireActor("author", author); err != nil {
		return nil, err
	}
	fields, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolver.ResolvePayload(ctx, t, fields)
	if err != nil {
		return nil, err
	}
	root, err := s.resolver.NewDraft(ctx, t, resolved.Fields)
	if err != nil {
		s.resolver.ReleaseDrafts(ctx, resolved.Drafts)
		return nil, err
	}

	p := patch.New(patch.Params{
		Kind:        patch.KindCreate,
		Target:      root.Entity.Ref(),
		AuthorRef:   author,
		Changes:     s.differ.Diff(map[string]any{}, root.Entity.Fields),
		Before:      map[string]any{},
		Payload:     root.Entity.Fields,
		BaseVersion: root.Entity.Version,
		CreatedRefs: resolver.Refs(resolved.Drafts),
	}, s.now())

	if err := s.coordinator.Commit(ctx, Unit{Batch: resolved.Drafts, Root: &root, Patch: p}); err != nil {
		return nil, err
	}
	drafts = len(resolved.Drafts)

	span.SetAttributes(attribute.String("patch.id", p.ID), attribute.String("entity.id", root.Entity.ID))
	s.log.Info().
		Str("patch_id", p.ID).
		Str("target", p.TargetPath).
		Int("drafts", drafts).
		Msg("create submitted")
	s.publish(activity.EventPatchSubmitted, p, "", author, "")
	return &CreateResult{EntityID: root.Entity.ID, PatchID: p.ID}, nil
}

// SubmitUpdate proposes payload as an edit of an existing entity. Top-level
// keys of payload replace the canonical fields; a null value removes one.
func (s *Service) SubmitUpdate(ctx context.Context, t catalog.EntityType, id string, payload map[string]any, author string) (result *UpdateResult, err error) {
	ctx, span := s.startSpan(ctx, "revision.submit_update", author,
		attribute.String("entity.type", t.String()),
		attribute.String("entity.id", id),
	)
	start := time.Now()
	drafts := 0
	defer func() {
		s.endSpan(span, err)
		s.observer.Submitted(patch.KindUpdate, t, drafts, err, time.Since(start))
	}()

	if err := requireActor("author", author); err != nil {
		return nil, err
	}
	fields, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}
	current, err := s.loadEntity(ctx, t, id)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolver.ResolvePayload(ctx, t, fields)
	if err != nil {
		return nil, err
	}
	after := overlay(current.Fields, resolved.Fields)
	changes := s.differ.Diff(current.Fields, after)
	if changes.IsEmpty() {
		s.resolver.ReleaseDrafts(ctx, resolved.Drafts)
		return nil, revErrors.ValidationFailed("payload", "no changes against the current version")
	}

	p := patch.New(patch.Params{
		Kind:        patch.KindUpdate,
		Target:      current.Ref(),
		AuthorRef:   author,
		Changes:     changes,
		Before:      current.Fields,
		Payload:     after,
		BaseVersion: current.Version,
		CreatedRefs: resolver.Refs(resolved.Drafts),
	}, s.now())

	if err := s.coordinator.Commit(ctx, Unit{Batch: resolved.Drafts, Patch: p}); err != nil {
		return nil, err
	}
	drafts = len(resolved.Drafts)

	span.SetAttributes(attribute.String("patch.id", p.ID))
	s.log.Info().
		Str("patch_id", p.ID).
		Str("target", p.TargetPath).
		Int("changes", changes.Leaves()).
		Int("drafts", drafts).
		Msg("update submitted")
	s.publish(activity.EventPatchSubmitted, p, "", author, "")
	return &UpdateResult{PatchID: p.ID}, nil
}

// Moderate applies a moderator decision to a pending patch.
func (s *Service) Moderate(ctx context.Context, patchID string, action patch.Action, note, moderator string) (result *StatusResult, err error) {
	ctx, span := s.startSpan(ctx, "revision.moderate", moderator,
		attribute.String("patch.id", patchID),
		attribute.String("patch.action", action.String()),
	)
	var kind patch.Kind
	defer func() {
		s.endSpan(span, err)
		s.observer.Moderated(action, kind, err)
	}()

	if err := requireActor("moderator", moderator); err != nil {
		return nil, err
	}
	if !action.IsModeration() {
		return nil, revErrors.ValidationFailed("action", fmt.Sprintf("%s is not a moderation action", action))
	}
	original, err := s.loadPatch(ctx, patchID)
	if err != nil {
		return nil, err
	}
	kind = original.Kind

	work := original.Clone()
	if _, err := work.Apply(action, moderator, note, s.now()); err != nil {
		return nil, err
	}

	steps := []saga.Step{s.claimStep(original, work)}
	if action == patch.ActionAccept {
		switch work.Kind {
		case patch.KindCreate:
			steps = append(steps, s.verifyStep(append([]catalog.Ref{work.Target}, work.CreatedRefs...)))
		case patch.KindUpdate:
			steps = append(steps, s.applyUpdateStep(work), s.verifyStep(work.CreatedRefs))
		}
	}
	if err := s.runner.Run(ctx, steps...); err != nil {
		var revErr *revErrors.RevisionError
		if errors.As(err, &revErr) {
			return nil, revErr
		}
		return nil, revErrors.PersistFailure(err)
	}

	if action == patch.ActionReject {
		s.discardDrafts(ctx, work)
	}

	s.log.Info().
		Str("patch_id", work.ID).
		Str("target", work.TargetPath).
		Str("action", action.String()).
		Str("status", work.Status.String()).
		Msg("patch moderated")
	s.publish(activity.EventPatchModerated, work, action, moderator, note)
	return &StatusResult{PatchID: work.ID, Status: work.Status}, nil
}

// Resubmit replaces the proposal of a patch awaiting author changes and puts
// it back into the moderation queue. Only the author may resubmit.
func (s *Service) Resubmit(ctx context.Context, patchID string, payload map[string]any, author string) (result *StatusResult, err error) {
	ctx, span := s.startSpan(ctx, "revision.resubmit", author, attribute.String("patch.id", patchID))
	defer func() { s.endSpan(span, err) }()

	if err := requireActor("author", author); err != nil {
		return nil, err
	}
	fields, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}
	original, err := s.loadPatch(ctx, patchID)
	if err != nil {
		return nil, err
	}
	if original.AuthorRef != author {
		return nil, revErrors.Forbidden("only the author can resubmit a patch")
	}

	now := s.now()
	work := original.Clone()
	if _, err := work.Apply(patch.ActionResubmit, author, "", now); err != nil {
		return nil, err
	}

	current, err := s.loadEntity(ctx, work.Target.Type, work.Target.ID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolver.ResolvePayload(ctx, work.Target.Type, fields)
	if err != nil {
		return nil, err
	}

	unit := Unit{Batch: resolved.Drafts, Patch: work, PatchExpected: original.Status}
	switch work.Kind {
	case patch.KindCreate:
		replaced := *current
		replaced.Fields = resolved.Fields
		replaced.Version = current.Version + 1
		replaced.UpdatedAt = now
		unit.Overwrite = &Overwrite{Entity: &replaced, ExpectedVersion: current.Version, Previous: current}

		work.Changes = s.differ.Diff(map[string]any{}, replaced.Fields)
		work.BeforeChanges = map[string]any{}
		work.Payload = replaced.Fields
		work.BaseVersion = replaced.Version
	default:
		after := overlay(current.Fields, resolved.Fields)
		changes := s.differ.Diff(current.Fields, after)
		if changes.IsEmpty() {
			s.resolver.ReleaseDrafts(ctx, resolved.Drafts)
			return nil, revErrors.ValidationFailed("payload", "no changes against the current version")
		}
		work.Changes = changes
		work.BeforeChanges = current.Fields
		work.Payload = after
		work.BaseVersion = current.Version
	}
	kept, superseded := s.splitEarlierDrafts(ctx, original, work.Payload, resolved.Drafts)
	created := make([]catalog.Ref, 0, len(kept)+len(resolved.Drafts))
	created = append(created, kept...)
	work.CreatedRefs = append(created, resolver.Refs(resolved.Drafts)...)

	if err := s.coordinator.Commit(ctx, unit); err != nil {
		if errors.Is(err, patch.ErrStatusChanged) {
			return nil, revErrors.IllegalTransition(original.Status.String(), patch.StatusPending.String())
		}
		return nil, err
	}
	s.discardRefs(ctx, superseded)

	s.log.Info().
		Str("patch_id", work.ID).
		Str("target", work.TargetPath).
		Int("new_drafts", len(resolved.Drafts)).
		Int("discarded_drafts", len(superseded)).
		Msg("patch resubmitted")
	s.publish(activity.EventPatchResubmitted, work, patch.ActionResubmit, author, "")
	return &StatusResult{PatchID: work.ID, Status: work.Status}, nil
}

// GetPatch returns a patch by ID.
func (s *Service) GetPatch(ctx context.Context, patchID string) (*patch.Patch, error) {
	return s.loadPatch(ctx, patchID)
}

// GetEntity returns a stored entity, verified or not.
func (s *Service) GetEntity(ctx context.Context, t catalog.EntityType, id string) (*catalog.Entity, error) {
	return s.loadEntity(ctx, t, id)
}

func (s *Service) claimStep(original, work *patch.Patch) saga.Step {
	return saga.Step{
		Name: "claim patch " + work.ID,
		Do: func(ctx context.Context) error {
			err := s.patches.Update(ctx, work, original.Status)
			if errors.Is(err, patch.ErrStatusChanged) {
				status := original.Status
				if latest, findErr := s.patches.FindByID(ctx, work.ID); findErr == nil {
					status = latest.Status
				}
				return revErrors.IllegalTransition(status.String(), work.Status.String())
			}
			return err
		},
		Undo: func(ctx context.Context) error {
			return s.patches.Update(ctx, original, work.Status)
		},
	}
}

func (s *Service) verifyStep(refs []catalog.Ref) saga.Step {
	return saga.Step{
		Name: "verify entities",
		Do: func(ctx context.Context) error {
			if len(refs) == 0 {
				return nil
			}
			return s.entities.MarkVerified(ctx, refs)
		},
	}
}

func (s *Service) applyUpdateStep(p *patch.Patch) saga.Step {
	var previous, updated *catalog.Entity
	return saga.Step{
		Name: "apply " + p.TargetPath,
		Do: func(ctx context.Context) error {
			current, err := s.loadEntity(ctx, p.Target.Type, p.Target.ID)
			if err != nil {
				return err
			}
			if current.Version != p.BaseVersion {
				return revErrors.VersionConflict(p.Target.Type.String(), p.Target.ID, p.BaseVersion, current.Version)
			}
			fields, err := diff.Apply(current.Fields, p.Changes)
			if err != nil {
				return fmt.Errorf("apply changes to %s: %w", p.TargetPath, err)
			}

			next := *current
			next.Fields = fields
			next.Version = current.Version + 1
			next.UpdatedAt = s.now()
			if err := s.entities.Update(ctx, &next, current.Version); err != nil {
				if errors.Is(err, catalog.ErrVersionMismatch) {
					actual := current.Version
					if latest, findErr := s.entities.FindByID(ctx, p.Target.Type, p.Target.ID); findErr == nil {
						actual = latest.Version
					}
					return revErrors.VersionConflict(p.Target.Type.String(), p.Target.ID, p.BaseVersion, actual)
				}
				return err
			}
			previous, updated = current, &next
			return nil
		},
		Undo: func(ctx context.Context) error {
			if previous == nil {
				return nil
			}
			return s.entities.Update(ctx, previous, updated.Version)
		},
	}
}

// discardDrafts deletes the unverified entities a rejected patch created and
// releases any of their reservations still outstanding. The rejection stands
// even if cleanup fails.
func (s *Service) discardDrafts(ctx context.Context, p *patch.Patch) {
	refs := make([]catalog.Ref, 0, len(p.CreatedRefs)+1)
	if p.Kind == patch.KindCreate {
		refs = append(refs, p.Target)
	}
	for i := len(p.CreatedRefs) - 1; i >= 0; i-- {
		refs = append(refs, p.CreatedRefs[i])
	}
	s.discardRefs(ctx, refs)
}

// discardRefs deletes each unverified entity in refs, in order, and releases
// its reservation. Verified entities are left alone.
func (s *Service) discardRefs(ctx context.Context, refs []catalog.Ref) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		entity, err := s.entities.FindByID(ctx, ref.Type, ref.ID)
		switch {
		case errors.Is(err, catalog.ErrEntityNotFound):
		case err != nil:
			s.log.Error().Err(err).Str("target", ref.Path()).Msg("load draft for discard")
			continue
		case entity.Verified:
			continue
		default:
			if err := s.entities.Delete(ctx, ref.Type, ref.ID); err != nil && !errors.Is(err, catalog.ErrEntityNotFound) {
				s.log.Error().Err(err).Str("target", ref.Path()).Msg("delete discarded draft")
				continue
			}
		}
		s.releaseIfOutstanding(ctx, ref)
	}
}

// splitEarlierDrafts partitions the drafts created by earlier submissions of
// original into those the new proposal still reaches through its relations
// and those it no longer does. Superseded drafts are returned children
// first. When a draft cannot be loaded every earlier draft is kept.
func (s *Service) splitEarlierDrafts(ctx context.Context, original *patch.Patch, fields map[string]any, drafts []resolver.Draft) (kept, superseded []catalog.Ref) {
	if len(original.CreatedRefs) == 0 {
		return nil, nil
	}
	owned := make(map[catalog.Ref]struct{}, len(original.CreatedRefs))
	for _, ref := range original.CreatedRefs {
		owned[ref] = struct{}{}
	}

	live := make(map[catalog.Ref]struct{})
	queue := s.resolver.Related(original.Target.Type, fields)
	for _, d := range drafts {
		queue = append(queue, s.resolver.Related(d.Entity.Type, d.Entity.Fields)...)
	}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, ok := owned[ref]; !ok {
			continue
		}
		if _, seen := live[ref]; seen {
			continue
		}
		live[ref] = struct{}{}
		entity, err := s.entities.FindByID(ctx, ref.Type, ref.ID)
		if errors.Is(err, catalog.ErrEntityNotFound) {
			continue
		}
		if err != nil {
			s.log.Warn().Err(err).Str("target", ref.Path()).Msg("load earlier draft; keeping all")
			return append([]catalog.Ref(nil), original.CreatedRefs...), nil
		}
		queue = append(queue, s.resolver.Related(entity.Type, entity.Fields)...)
	}

	for _, ref := range original.CreatedRefs {
		if _, ok := live[ref]; ok {
			kept = append(kept, ref)
		}
	}
	for i := len(original.CreatedRefs) - 1; i >= 0; i-- {
		ref := original.CreatedRefs[i]
		if _, ok := live[ref]; !ok {
			superseded = append(superseded, ref)
		}
	}
	return kept, superseded
}

func (s *Service) releaseIfOutstanding(ctx context.Context, ref catalog.Ref) {
	value, err := strconv.ParseInt(ref.ID, 10, 64)
	if err != nil {
		return
	}
	err = s.ids.Release(ctx, ref.Type.String(), value)
	if err != nil && !errors.Is(err, allocator.ErrReservationNotFound) {
		s.log.Warn().Err(err).Str("target", ref.Path()).Msg("release reservation of discarded draft")
	}
}

func (s *Service) loadEntity(ctx context.Context, t catalog.EntityType, id string) (*catalog.Entity, error) {
	entity, err := s.entities.FindByID(ctx, t, id)
	if errors.Is(err, catalog.ErrEntityNotFound) {
		return nil, revErrors.NotFound(t.String(), id)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", t, id, err)
	}
	return entity, nil
}

func (s *Service) loadPatch(ctx context.Context, id string) (*patch.Patch, error) {
	p, err := s.patches.FindByID(ctx, id)
	if errors.Is(err, patch.ErrPatchNotFound) {
		return nil, revErrors.NotFound("Patch", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load patch %s: %w", id, err)
	}
	return p, nil
}

func (s *Service) publish(eventType activity.EventType, p *patch.Patch, action patch.Action, actor, note string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(activity.Event{
		Type:       eventType,
		PatchID:    p.ID,
		PatchKind:  p.Kind.String(),
		TargetPath: p.TargetPath,
		Status:     p.Status.String(),
		Action:     action.String(),
		ActorRef:   actor,
		Note:       note,
		OccurredAt: s.now(),
	})
}

func (s *Service) startSpan(ctx context.Context, name, actor string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("actor.ref", s.redact(actor)))
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

func (s *Service) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.code", string(revErrors.CodeOf(err))))
	}
	span.End()
}

func requireActor(field, ref string) error {
	if ref == "" {
		return revErrors.ValidationFailed(field, "actor reference is required")
	}
	return nil
}

func normalizePayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	fields, err := diff.Normalize(payload)
	if err != nil {
		return nil, revErrors.ValidationFailed("payload", err.Error())
	}
	return fields, nil
}

// overlay returns base with the top-level keys of changes applied. A nil
// value removes the key.
func overlay(base, changes map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changes {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
