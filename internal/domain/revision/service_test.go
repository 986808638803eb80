package revision_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janhq/catalog-api/internal/domain/activity"
	"github.com/janhq/catalog-api/internal/domain/allocator"
	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/diff"
	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
	"github.com/janhq/catalog-api/internal/domain/patch"
	"github.com/janhq/catalog-api/internal/domain/resolver"
	"github.com/janhq/catalog-api/internal/domain/retry"
	"github.com/janhq/catalog-api/internal/domain/revision"
)

type env struct {
	entities *memoryEntities
	patches  *memoryPatches
	counters *allocator.MemoryCounters
	ids      *allocator.Service
	events   *activity.Recorder
	svc      *revision.Service
}

func newEnv(t *testing.T, opts ...revision.CoordinatorOption) *env {
	t.Helper()
	collections := make([]string, 0, len(catalog.AllEntityTypes))
	for _, et := range catalog.AllEntityTypes {
		collections = append(collections, et.String())
	}

	e := &env{
		entities: newMemoryEntities(),
		patches:  newMemoryPatches(),
		counters: allocator.NewMemoryCounters(collections...),
		events:   &activity.Recorder{},
	}
	e.ids = allocator.NewService(e.counters, allocator.NewMemoryReservations(), allocator.NewKeyedMutex(), zerolog.Nop())

	res := resolver.NewResolver(catalog.DefaultSchema(), e.entities, e.ids, resolver.Config{}, zerolog.Nop())
	coord := revision.NewCoordinator(e.entities, e.patches, e.ids, zerolog.Nop(), opts...)
	e.svc = revision.NewService(revision.Deps{
		Entities:    e.entities,
		Patches:     e.patches,
		IDs:         e.ids,
		Resolver:    res,
		Differ:      diff.NewDiffer(diff.DefaultIgnoredKeys...),
		Coordinator: coord,
		Publisher:   e.events,
	}, zerolog.Nop())
	return e
}

func (e *env) outstanding(t *testing.T) int {
	t.Helper()
	total := 0
	for _, et := range catalog.AllEntityTypes {
		n, err := e.ids.Outstanding(context.Background(), et.String())
		require.NoError(t, err)
		total += n
	}
	return total
}

func (e *env) counter(t *testing.T, et catalog.EntityType) int64 {
	t.Helper()
	v, err := e.counters.Current(context.Background(), et.String())
	require.NoError(t, err)
	return v
}

func (e *env) seedCanonical(t catalog.EntityType, id string, fields map[string]any) {
	now := time.Now().UTC()
	e.entities.put(&catalog.Entity{Type: t, ID: id, Verified: true, Version: 1, Fields: fields, CreatedAt: now, UpdatedAt: now})
}

func codeOf(t *testing.T, err error) revErrors.Code {
	t.Helper()
	require.Error(t, err)
	return revErrors.CodeOf(err)
}

func TestSubmitCreate_ExistingAndNewCompany(t *testing.T) {
	e := newEnv(t)
	e.seedCanonical(catalog.EntityTypeCompany, "co1", map[string]any{"name": "Existing"})

	res, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"title": map[string]any{"default": "A"},
		"companies": []any{
			map[string]any{"id": "co1"},
			map[string]any{"new": map[string]any{"name": "Foo"}},
		},
	}, "author-1")
	require.NoError(t, err)

	assert.Equal(t, "1", res.EntityID)
	assert.Equal(t, []string{"1", "co1"}, e.entities.ids(catalog.EntityTypeCompany))

	company, ok := e.entities.get(catalog.EntityTypeCompany, "1")
	require.True(t, ok)
	assert.False(t, company.Verified)
	assert.Equal(t, "Foo", company.Fields["name"])

	anime, ok := e.entities.get(catalog.EntityTypeAnime, res.EntityID)
	require.True(t, ok)
	assert.False(t, anime.Verified)
	assert.Equal(t, []any{map[string]any{"id": "co1"}, map[string]any{"id": "1"}}, anime.Fields["companies"])

	require.Equal(t, 1, e.patches.count())
	p, err := e.svc.GetPatch(context.Background(), res.PatchID)
	require.NoError(t, err)
	assert.Equal(t, patch.KindCreate, p.Kind)
	assert.Equal(t, patch.StatusPending, p.Status)
	assert.Equal(t, "Anime/1", p.TargetPath)
	assert.Equal(t, []catalog.Ref{{Type: catalog.EntityTypeCompany, ID: "1"}}, p.CreatedRefs)

	assert.Equal(t, int64(1), e.counter(t, catalog.EntityTypeCompany))
	assert.Equal(t, int64(1), e.counter(t, catalog.EntityTypeAnime))
	assert.Zero(t, e.outstanding(t))

	require.Len(t, e.events.Events, 1)
	assert.Equal(t, activity.EventPatchSubmitted, e.events.Events[0].Type)
}

func TestSubmitCreate_MissingStaffPersistsNothing(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"companies": []any{map[string]any{"new": map[string]any{"name": "Foo"}}},
		"staff":     []any{map[string]any{"id": "zzz"}},
	}, "author-1")

	var revErr *revErrors.RevisionError
	require.ErrorAs(t, err, &revErr)
	assert.Equal(t, revErrors.CodeReferenceNotFound, revErr.Code)
	assert.Equal(t, "Person", revErr.Collection)
	assert.Equal(t, "zzz", revErr.ID)

	assert.Zero(t, e.entities.count(catalog.EntityTypeCompany))
	assert.Zero(t, e.entities.count(catalog.EntityTypeAnime))
	assert.Zero(t, e.patches.count())
	assert.Zero(t, e.counter(t, catalog.EntityTypeCompany))
	assert.Zero(t, e.counter(t, catalog.EntityTypeAnime))
	assert.Zero(t, e.outstanding(t))
	assert.Empty(t, e.events.Events)
}

func TestSubmitCreate_RequiresAuthor(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{}, "")

	assert.Equal(t, revErrors.CodeValidationFailed, codeOf(t, err))
}

func TestSubmitCreate_RollsBackWhenRootFails(t *testing.T) {
	e := newEnv(t)
	e.entities.failOn = func(op string, ent *catalog.Entity) error {
		if op == "create" && ent.Type == catalog.EntityTypeAnime {
			return errStore
		}
		return nil
	}

	_, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"companies": []any{
			map[string]any{"new": map[string]any{"name": "A"}},
			map[string]any{"new": map[string]any{"name": "B"}},
		},
	}, "author-1")

	assert.Equal(t, revErrors.CodePersistFailure, codeOf(t, err))
	assert.ErrorIs(t, err, errStore)
	assert.Zero(t, e.entities.count(catalog.EntityTypeCompany))
	assert.Zero(t, e.entities.count(catalog.EntityTypeAnime))
	assert.Equal(t, []catalog.Ref{
		{Type: catalog.EntityTypeCompany, ID: "2"},
		{Type: catalog.EntityTypeCompany, ID: "1"},
	}, e.entities.deleted)
	assert.Zero(t, e.patches.count())
	assert.Zero(t, e.outstanding(t))
	// Committed identifiers leave a permanent gap; the released root does not.
	assert.Equal(t, int64(2), e.counter(t, catalog.EntityTypeCompany))
	assert.Zero(t, e.counter(t, catalog.EntityTypeAnime))
}

func TestSubmitCreate_RollsBackWhenPatchFails(t *testing.T) {
	e := newEnv(t)
	e.patches.failCreate = errStore

	_, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"companies": []any{map[string]any{"new": map[string]any{"name": "A"}}},
	}, "author-1")

	assert.Equal(t, revErrors.CodePersistFailure, codeOf(t, err))
	assert.Zero(t, e.entities.count(catalog.EntityTypeCompany))
	assert.Zero(t, e.entities.count(catalog.EntityTypeAnime))
	assert.Zero(t, e.outstanding(t))
}

func TestSubmitCreate_Transactional(t *testing.T) {
	tx := &fakeTransactor{}
	e := newEnv(t, revision.WithTransactor(tx), revision.WithCommitPolicy(retry.NoRetryPolicy()))

	res, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"companies": []any{map[string]any{"new": map[string]any{"name": "A"}}},
	}, "author-1")
	require.NoError(t, err)

	assert.Equal(t, 1, tx.calls)
	assert.Equal(t, "1", res.EntityID)
	assert.Equal(t, int64(1), e.counter(t, catalog.EntityTypeCompany))
	assert.Equal(t, int64(1), e.counter(t, catalog.EntityTypeAnime))
	assert.Zero(t, e.outstanding(t))
}

func TestSubmitCreate_TransactionFailureReleasesReservations(t *testing.T) {
	tx := &fakeTransactor{err: errStore}
	e := newEnv(t, revision.WithTransactor(tx))

	_, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"companies": []any{map[string]any{"new": map[string]any{"name": "A"}}},
	}, "author-1")

	assert.Equal(t, revErrors.CodePersistFailure, codeOf(t, err))
	assert.Zero(t, e.outstanding(t))
	assert.Zero(t, e.counter(t, catalog.EntityTypeCompany))
	assert.Zero(t, e.counter(t, catalog.EntityTypeAnime))
}

func TestSubmitUpdate_TitleDiff(t *testing.T) {
	e := newEnv(t)
	e.seedCanonical(catalog.EntityTypeAnime, "7", map[string]any{
		"title":    map[string]any{"default": "A", "native": "N"},
		"episodes": 12.0,
	})

	res, err := e.svc.SubmitUpdate(context.Background(), catalog.EntityTypeAnime, "7", map[string]any{
		"title": map[string]any{"default": "B", "native": "N"},
	}, "author-1")
	require.NoError(t, err)

	p, err := e.svc.GetPatch(context.Background(), res.PatchID)
	require.NoError(t, err)
	assert.Equal(t, patch.KindUpdate, p.Kind)
	assert.Equal(t, diff.Tree{"title": diff.Tree{"default": diff.Change{Before: "A", After: "B"}}}, p.Changes)
	assert.Equal(t, int64(1), p.BaseVersion)

	canonical, _ := e.entities.get(catalog.EntityTypeAnime, "7")
	assert.Equal(t, "A", canonical.Fields["title"].(map[string]any)["default"])
}

func TestSubmitUpdate_Errors(t *testing.T) {
	e := newEnv(t)
	e.seedCanonical(catalog.EntityTypeAnime, "7", map[string]any{"title": "A"})

	_, err := e.svc.SubmitUpdate(context.Background(), catalog.EntityTypeAnime, "404", map[string]any{"title": "B"}, "author-1")
	assert.Equal(t, revErrors.CodeNotFound, codeOf(t, err))

	_, err = e.svc.SubmitUpdate(context.Background(), catalog.EntityTypeAnime, "7", map[string]any{"title": "A"}, "author-1")
	assert.Equal(t, revErrors.CodeValidationFailed, codeOf(t, err))
	assert.Zero(t, e.patches.count())
}

func TestModerate_RejectCreateLeavesNothing(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"characters": []any{map[string]any{"new": map[string]any{
			"name":        "Hero",
			"voiceActors": []any{map[string]any{"new": map[string]any{"name": "Actor"}}},
		}}},
	}, "author-1")
	require.NoError(t, err)

	out, err := e.svc.Moderate(context.Background(), res.PatchID, patch.ActionReject, "spam", "mod-1")
	require.NoError(t, err)

	assert.Equal(t, patch.StatusRejected, out.Status)
	assert.Zero(t, e.entities.count(catalog.EntityTypeAnime))
	assert.Zero(t, e.entities.count(catalog.EntityTypeCharacter))
	assert.Zero(t, e.entities.count(catalog.EntityTypePerson))
	assert.Zero(t, e.outstanding(t))

	p, err := e.svc.GetPatch(context.Background(), res.PatchID)
	require.NoError(t, err)
	require.Len(t, p.Actions, 1)
	assert.Equal(t, "mod-1", p.Actions[0].ModeratorRef)
	assert.Equal(t, "spam", p.Actions[0].Note)
	assert.Equal(t, patch.StatusPending, p.Actions[0].From)
}

func TestModerate_AcceptCreateVerifies(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"companies": []any{map[string]any{"new": map[string]any{"name": "Foo"}}},
	}, "author-1")
	require.NoError(t, err)

	out, err := e.svc.Moderate(context.Background(), res.PatchID, patch.ActionAccept, "", "mod-1")
	require.NoError(t, err)
	assert.Equal(t, patch.StatusAccepted, out.Status)

	anime, _ := e.entities.get(catalog.EntityTypeAnime, res.EntityID)
	company, _ := e.entities.get(catalog.EntityTypeCompany, "1")
	assert.True(t, anime.Verified)
	assert.True(t, company.Verified)

	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionReject, "", "mod-2")
	assert.Equal(t, revErrors.CodeIllegalTransition, codeOf(t, err))
	_, ok := e.entities.get(catalog.EntityTypeAnime, res.EntityID)
	assert.True(t, ok)

	require.Len(t, e.events.Events, 2)
	assert.Equal(t, activity.EventPatchModerated, e.events.Events[1].Type)
	assert.Equal(t, "accept", e.events.Events[1].Action)
}

func TestModerate_AcceptUpdateAppliesDiff(t *testing.T) {
	e := newEnv(t)
	e.seedCanonical(catalog.EntityTypeAnime, "7", map[string]any{
		"title":    map[string]any{"default": "A"},
		"episodes": 12.0,
	})
	res, err := e.svc.SubmitUpdate(context.Background(), catalog.EntityTypeAnime, "7", map[string]any{
		"title":     map[string]any{"default": "B"},
		"companies": []any{map[string]any{"new": map[string]any{"name": "Studio"}}},
	}, "author-1")
	require.NoError(t, err)

	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionAccept, "", "mod-1")
	require.NoError(t, err)

	anime, _ := e.entities.get(catalog.EntityTypeAnime, "7")
	assert.Equal(t, int64(2), anime.Version)
	assert.Equal(t, map[string]any{
		"title":     map[string]any{"default": "B"},
		"episodes":  12.0,
		"companies": []any{map[string]any{"id": "1"}},
	}, anime.Fields)
	company, _ := e.entities.get(catalog.EntityTypeCompany, "1")
	assert.True(t, company.Verified)
}

func TestModerate_AcceptAfterDriftConflicts(t *testing.T) {
	e := newEnv(t)
	e.seedCanonical(catalog.EntityTypeAnime, "7", map[string]any{"title": "A", "episodes": 12.0})

	first, err := e.svc.SubmitUpdate(context.Background(), catalog.EntityTypeAnime, "7", map[string]any{"title": "B"}, "author-1")
	require.NoError(t, err)
	second, err := e.svc.SubmitUpdate(context.Background(), catalog.EntityTypeAnime, "7", map[string]any{"episodes": 13.0}, "author-2")
	require.NoError(t, err)

	_, err = e.svc.Moderate(context.Background(), second.PatchID, patch.ActionAccept, "", "mod-1")
	require.NoError(t, err)

	_, err = e.svc.Moderate(context.Background(), first.PatchID, patch.ActionAccept, "", "mod-1")
	var revErr *revErrors.RevisionError
	require.ErrorAs(t, err, &revErr)
	assert.Equal(t, revErrors.CodeVersionConflict, revErr.Code)
	assert.Equal(t, int64(1), revErr.Details["base_version"])
	assert.Equal(t, int64(2), revErr.Details["current_version"])

	p, err := e.svc.GetPatch(context.Background(), first.PatchID)
	require.NoError(t, err)
	assert.Equal(t, patch.StatusPending, p.Status)
	assert.Empty(t, p.Actions)

	anime, _ := e.entities.get(catalog.EntityTypeAnime, "7")
	assert.Equal(t, "A", anime.Fields["title"])
	assert.Equal(t, 13.0, anime.Fields["episodes"])
}

func TestModerate_RejectUpdateKeepsCanonical(t *testing.T) {
	e := newEnv(t)
	e.seedCanonical(catalog.EntityTypeAnime, "7", map[string]any{"title": "A"})
	res, err := e.svc.SubmitUpdate(context.Background(), catalog.EntityTypeAnime, "7", map[string]any{
		"title": "B",
		"staff": []any{map[string]any{"new": map[string]any{"name": "P"}}},
	}, "author-1")
	require.NoError(t, err)
	require.Equal(t, 1, e.entities.count(catalog.EntityTypePerson))

	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionReject, "", "mod-1")
	require.NoError(t, err)

	anime, ok := e.entities.get(catalog.EntityTypeAnime, "7")
	require.True(t, ok)
	assert.Equal(t, "A", anime.Fields["title"])
	assert.Zero(t, e.entities.count(catalog.EntityTypePerson))
}

func TestModerate_VerifyFailureRevertsClaim(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{"title": "A"}, "author-1")
	require.NoError(t, err)
	e.entities.failOn = func(op string, _ *catalog.Entity) error {
		if op == "verify" {
			return errStore
		}
		return nil
	}

	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionAccept, "", "mod-1")

	assert.Equal(t, revErrors.CodePersistFailure, codeOf(t, err))
	p, err := e.svc.GetPatch(context.Background(), res.PatchID)
	require.NoError(t, err)
	assert.Equal(t, patch.StatusPending, p.Status)
}

func TestModerate_RacingModeratorsOneWins(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{"title": "A"}, "author-1")
	require.NoError(t, err)

	actions := []patch.Action{patch.ActionAccept, patch.ActionReject, patch.ActionRequestChanges, patch.ActionAccept}
	errs := make([]error, len(actions))
	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.svc.Moderate(context.Background(), res.PatchID, action, "", "mod")
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, revErrors.ErrIllegalTransition), "unexpected error %v", err)
	}
	assert.Equal(t, 1, wins)

	p, err := e.svc.GetPatch(context.Background(), res.PatchID)
	require.NoError(t, err)
	assert.Len(t, p.Actions, 1)
}

func TestModerate_Errors(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{"title": "A"}, "author-1")
	require.NoError(t, err)

	_, err = e.svc.Moderate(context.Background(), "missing", patch.ActionAccept, "", "mod")
	assert.Equal(t, revErrors.CodeNotFound, codeOf(t, err))

	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionResubmit, "", "mod")
	assert.Equal(t, revErrors.CodeValidationFailed, codeOf(t, err))

	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionAccept, "", "")
	assert.Equal(t, revErrors.CodeValidationFailed, codeOf(t, err))
}

func TestResubmit_CreateFlow(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{"title": "Draft"}, "author-1")
	require.NoError(t, err)

	_, err = e.svc.Resubmit(context.Background(), res.PatchID, map[string]any{"title": "Final"}, "author-1")
	assert.Equal(t, revErrors.CodeIllegalTransition, codeOf(t, err))

	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionRequestChanges, "add a studio", "mod-1")
	require.NoError(t, err)

	_, err = e.svc.Resubmit(context.Background(), res.PatchID, map[string]any{"title": "Final"}, "someone-else")
	assert.Equal(t, revErrors.CodeForbidden, codeOf(t, err))

	out, err := e.svc.Resubmit(context.Background(), res.PatchID, map[string]any{
		"title":     "Final",
		"companies": []any{map[string]any{"new": map[string]any{"name": "Studio"}}},
	}, "author-1")
	require.NoError(t, err)
	assert.Equal(t, patch.StatusPending, out.Status)

	anime, _ := e.entities.get(catalog.EntityTypeAnime, res.EntityID)
	assert.Equal(t, "Final", anime.Fields["title"])
	assert.Equal(t, int64(2), anime.Version)
	assert.False(t, anime.Verified)

	p, err := e.svc.GetPatch(context.Background(), res.PatchID)
	require.NoError(t, err)
	assert.Equal(t, []catalog.Ref{{Type: catalog.EntityTypeCompany, ID: "1"}}, p.CreatedRefs)
	assert.Equal(t, diff.Change{Before: diff.Undefined, After: "Final"}, p.Changes["title"])
	require.Len(t, p.Actions, 2)
	assert.Equal(t, patch.ActionResubmit, p.Actions[1].Action)

	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionAccept, "", "mod-1")
	require.NoError(t, err)
	company, _ := e.entities.get(catalog.EntityTypeCompany, "1")
	assert.True(t, company.Verified)
}

func TestResubmit_DiscardsSupersededDrafts(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"title":     "Draft",
		"companies": []any{map[string]any{"new": map[string]any{"name": "Orphan"}}},
	}, "author-1")
	require.NoError(t, err)
	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionRequestChanges, "drop the studio", "mod-1")
	require.NoError(t, err)

	_, err = e.svc.Resubmit(context.Background(), res.PatchID, map[string]any{"title": "Final"}, "author-1")
	require.NoError(t, err)

	_, exists := e.entities.get(catalog.EntityTypeCompany, "1")
	assert.False(t, exists)
	assert.Zero(t, e.outstanding(t))

	p, err := e.svc.GetPatch(context.Background(), res.PatchID)
	require.NoError(t, err)
	assert.Empty(t, p.CreatedRefs)

	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionAccept, "", "mod-1")
	require.NoError(t, err)
	assert.Zero(t, e.entities.count(catalog.EntityTypeCompany))
	anime, _ := e.entities.get(catalog.EntityTypeAnime, res.EntityID)
	assert.True(t, anime.Verified)
	assert.Equal(t, map[string]any{"title": "Final"}, anime.Fields)
}

func TestResubmit_KeepsReferencedEarlierDrafts(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.SubmitCreate(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"title": "Draft",
		"companies": []any{
			map[string]any{"new": map[string]any{"name": "Kept"}},
			map[string]any{"new": map[string]any{"name": "Dropped"}},
		},
	}, "author-1")
	require.NoError(t, err)
	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionRequestChanges, "one studio only", "mod-1")
	require.NoError(t, err)

	_, err = e.svc.Resubmit(context.Background(), res.PatchID, map[string]any{
		"title":     "Final",
		"companies": []any{map[string]any{"id": "1", "role": "studio"}},
	}, "author-1")
	require.NoError(t, err)

	p, err := e.svc.GetPatch(context.Background(), res.PatchID)
	require.NoError(t, err)
	assert.Equal(t, []catalog.Ref{{Type: catalog.EntityTypeCompany, ID: "1"}}, p.CreatedRefs)
	_, exists := e.entities.get(catalog.EntityTypeCompany, "2")
	assert.False(t, exists)

	_, err = e.svc.Moderate(context.Background(), res.PatchID, patch.ActionAccept, "", "mod-1")
	require.NoError(t, err)
	kept, ok := e.entities.get(catalog.EntityTypeCompany, "1")
	require.True(t, ok)
	assert.True(t, kept.Verified)
	assert.Equal(t, []string{"1"}, e.entities.ids(catalog.EntityTypeCompany))
}

func TestResubmit_UpdateRebases(t *testing.T) {
	e := newEnv(t)
	e.seedCanonical(catalog.EntityTypeAnime, "7", map[string]any{"title": "A", "episodes": 12.0})
	stale, err := e.svc.SubmitUpdate(context.Background(), catalog.EntityTypeAnime, "7", map[string]any{"title": "B"}, "author-1")
	require.NoError(t, err)
	other, err := e.svc.SubmitUpdate(context.Background(), catalog.EntityTypeAnime, "7", map[string]any{"episodes": 13.0}, "author-2")
	require.NoError(t, err)
	_, err = e.svc.Moderate(context.Background(), other.PatchID, patch.ActionAccept, "", "mod-1")
	require.NoError(t, err)
	_, err = e.svc.Moderate(context.Background(), stale.PatchID, patch.ActionRequestChanges, "rebase", "mod-1")
	require.NoError(t, err)

	_, err = e.svc.Resubmit(context.Background(), stale.PatchID, map[string]any{"title": "B"}, "author-1")
	require.NoError(t, err)

	p, err := e.svc.GetPatch(context.Background(), stale.PatchID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.BaseVersion)
	assert.Equal(t, 13.0, p.BeforeChanges["episodes"])

	_, err = e.svc.Moderate(context.Background(), stale.PatchID, patch.ActionAccept, "", "mod-1")
	require.NoError(t, err)
	anime, _ := e.entities.get(catalog.EntityTypeAnime, "7")
	assert.Equal(t, map[string]any{"title": "B", "episodes": 13.0}, anime.Fields)
	assert.Equal(t, int64(3), anime.Version)
}

func TestGetEntity_NotFound(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.GetEntity(context.Background(), catalog.EntityTypeAnime, "1")

	assert.Equal(t, revErrors.CodeNotFound, codeOf(t, err))
}
