// Package resolver turns submitted relation descriptors into resolved ID lists,
// reserving identifiers for new nested entities and collecting their drafts.
package resolver

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/janhq/catalog-api/internal/domain/allocator"
	"github.com/janhq/catalog-api/internal/domain/catalog"
	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
)

const (
	defaultMaxDepth             = 3
	defaultExistenceConcurrency = 8
)

// ExistenceChecker answers whether an entity is stored.
type ExistenceChecker interface {
	Exists(ctx context.Context, t catalog.EntityType, id string) (bool, error)
}

// Draft is an unsaved entity together with the identifier reserved for it.
type Draft struct {
	Entity      *catalog.Entity
	Reservation allocator.Reservation
}

// Result is the outcome of resolving one payload.
type Result struct {
	// Fields is the payload with every relation field replaced by its
	// resolved [{id, role?}] list.
	Fields map[string]any
	// Drafts holds every new nested entity, children before their parents.
	Drafts []Draft
}

// Refs lists the entities the drafts will create.
func Refs(drafts []Draft) []catalog.Ref {
	refs := make([]catalog.Ref, len(drafts))
	for i, d := range drafts {
		refs[i] = d.Entity.Ref()
	}
	return refs
}

// Config tunes the resolver.
type Config struct {
	MaxDepth             int
	ExistenceConcurrency int
}

// Resolver resolves relation fields generically from the catalog schema.
type Resolver struct {
	schema *catalog.Schema
	store  ExistenceChecker
	ids    allocator.Allocator
	cfg    Config
	now    func() time.Time
	log    zerolog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(schema *catalog.Schema, store ExistenceChecker, ids allocator.Allocator, cfg Config, log zerolog.Logger) *Resolver {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.ExistenceConcurrency <= 0 {
		cfg.ExistenceConcurrency = defaultExistenceConcurrency
	}
	return &Resolver{
		schema: schema,
		store:  store,
		ids:    ids,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.With().Str("component", "resolver").Logger(),
	}
}

// ResolvePayload resolves every relation field of payload for type t. On
// failure every identifier reserved during the call is released.
func (r *Resolver) ResolvePayload(ctx context.Context, t catalog.EntityType, payload map[string]any) (*Result, error) {
	acc := &batch{}
	fields, err := r.resolveFields(ctx, t, payload, "", 0, acc)
	if err != nil {
		r.ReleaseDrafts(ctx, acc.drafts)
		return nil, err
	}
	return &Result{Fields: fields, Drafts: acc.drafts}, nil
}

// NewDraft reserves an identifier in t's collection and wraps fields into an
// unverified draft.
func (r *Resolver) NewDraft(ctx context.Context, t catalog.EntityType, fields map[string]any) (Draft, error) {
	value, err := r.ids.Reserve(ctx, t.String())
	if err != nil {
		return Draft{}, err
	}
	now := r.now()
	return Draft{
		Entity: &catalog.Entity{
			Type:      t,
			ID:        strconv.FormatInt(value, 10),
			Verified:  false,
			Version:   1,
			Fields:    fields,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Reservation: allocator.Reservation{Collection: t.String(), Value: value},
	}, nil
}

// ReleaseDrafts hands back the reservations of drafts that will never be
// persisted. Failures are logged; cancellation of ctx is ignored.
func (r *Resolver) ReleaseDrafts(ctx context.Context, drafts []Draft) {
	ctx = context.WithoutCancel(ctx)
	for i := len(drafts) - 1; i >= 0; i-- {
		res := drafts[i].Reservation
		if err := r.ids.Release(ctx, res.Collection, res.Value); err != nil {
			r.log.Error().Err(err).
				Str("collection", res.Collection).
				Int64("id", res.Value).
				Msg("release reservation after failed resolution")
		}
	}
}

// Related lists the entities the resolved relation fields of one entity of
// type t point at, in schema order.
func (r *Resolver) Related(t catalog.EntityType, fields map[string]any) []catalog.Ref {
	var refs []catalog.Ref
	for _, spec := range r.schema.Relations(t) {
		items, ok := fields[spec.Field].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := obj["id"].(string); ok && id != "" {
				refs = append(refs, catalog.Ref{Type: spec.Target, ID: id})
			}
		}
	}
	return refs
}

type batch struct {
	drafts []Draft
}

func (b *batch) add(d Draft) {
	b.drafts = append(b.drafts, d)
}

func (r *Resolver) resolveFields(ctx context.Context, t catalog.EntityType, payload map[string]any, path string, depth int, acc *batch) (map[string]any, error) {
	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		fields[k] = v
	}

	for _, spec := range r.schema.Relations(t) {
		raw, ok := payload[spec.Field]
		if !ok {
			continue
		}
		fieldPath := joinPath(path, spec.Field)
		inputs, err := ParseRelationList(fieldPath, raw)
		if err != nil {
			return nil, err
		}
		refs, err := r.resolveList(ctx, spec, inputs, fieldPath, depth, acc)
		if err != nil {
			return nil, err
		}
		fields[spec.Field] = catalog.RefsAsField(refs)
	}
	return fields, nil
}

func (r *Resolver) resolveList(ctx context.Context, spec catalog.RelationSpec, inputs []RelationInput, path string, depth int, acc *batch) ([]catalog.ResolvedRef, error) {
	if err := r.checkExisting(ctx, spec.Target, inputs); err != nil {
		return nil, err
	}

	refs := make([]catalog.ResolvedRef, len(inputs))
	for i, input := range inputs {
		switch in := input.(type) {
		case Existing:
			refs[i] = catalog.ResolvedRef{ID: in.ID, Role: in.Role}
		case New:
			itemPath := fmt.Sprintf("%s[%d].new", path, i)
			if depth+1 > r.cfg.MaxDepth {
				return nil, revErrors.ValidationFailed(itemPath, fmt.Sprintf("nested entities deeper than %d levels", r.cfg.MaxDepth))
			}
			fields, err := r.resolveFields(ctx, spec.Target, in.Payload, itemPath, depth+1, acc)
			if err != nil {
				return nil, err
			}
			draft, err := r.NewDraft(ctx, spec.Target, fields)
			if err != nil {
				return nil, err
			}
			acc.add(draft)
			refs[i] = catalog.ResolvedRef{ID: draft.Entity.ID, Role: in.Role}
		default:
			return nil, revErrors.ValidationFailed(fmt.Sprintf("%s[%d]", path, i), fmt.Sprintf("unsupported relation input %T", input))
		}
	}

	if spec.Unique {
		seen := make(map[string]struct{}, len(refs))
		for i, ref := range refs {
			if _, dup := seen[ref.ID]; dup {
				return nil, revErrors.ValidationFailed(fmt.Sprintf("%s[%d]", path, i), fmt.Sprintf("duplicate reference to %s %s", spec.Target, ref.ID))
			}
			seen[ref.ID] = struct{}{}
		}
	}
	return refs, nil
}

// checkExisting verifies every Existing item of one list concurrently and
// reports the failure with the lowest index so results are deterministic.
func (r *Resolver) checkExisting(ctx context.Context, target catalog.EntityType, inputs []RelationInput) error {
	type outcome struct {
		checked bool
		exists  bool
		err     error
	}
	outcomes := make([]outcome, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ExistenceConcurrency)
	for i, input := range inputs {
		existing, ok := input.(Existing)
		if !ok {
			continue
		}
		g.Go(func() error {
			exists, err := r.store.Exists(gctx, target, existing.ID)
			outcomes[i] = outcome{checked: true, exists: exists, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	for i, o := range outcomes {
		if !o.checked {
			continue
		}
		id := inputs[i].(Existing).ID
		if o.err != nil {
			return fmt.Errorf("check %s %s: %w", target, id, o.err)
		}
		if !o.exists {
			return revErrors.ReferenceNotFound(target.String(), id)
		}
	}
	return nil
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}
