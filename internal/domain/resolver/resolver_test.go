package resolver_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janhq/catalog-api/internal/domain/allocator"
	"github.com/janhq/catalog-api/internal/domain/catalog"
	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
	"github.com/janhq/catalog-api/internal/domain/resolver"
)

type fakeExistence struct {
	mu      sync.Mutex
	entries map[catalog.EntityType]map[string]struct{}
	failOn  string
}

func newFakeExistence() *fakeExistence {
	return &fakeExistence{entries: map[catalog.EntityType]map[string]struct{}{}}
}

func (f *fakeExistence) put(t catalog.EntityType, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries[t] == nil {
		f.entries[t] = map[string]struct{}{}
	}
	for _, id := range ids {
		f.entries[t][id] = struct{}{}
	}
}

func (f *fakeExistence) Exists(_ context.Context, t catalog.EntityType, id string) (bool, error) {
	if id == f.failOn {
		return false, errors.New("store unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[t][id]
	return ok, nil
}

type fixture struct {
	store    *fakeExistence
	counters *allocator.MemoryCounters
	ids      *allocator.Service
	resolver *resolver.Resolver
}

func newFixture(cfg resolver.Config) *fixture {
	collections := make([]string, 0, len(catalog.AllEntityTypes))
	for _, t := range catalog.AllEntityTypes {
		collections = append(collections, t.String())
	}
	store := newFakeExistence()
	counters := allocator.NewMemoryCounters(collections...)
	ids := allocator.NewService(counters, allocator.NewMemoryReservations(), allocator.NewKeyedMutex(), zerolog.Nop())
	return &fixture{
		store:    store,
		counters: counters,
		ids:      ids,
		resolver: resolver.NewResolver(catalog.DefaultSchema(), store, ids, cfg, zerolog.Nop()),
	}
}

func (f *fixture) outstanding(t *testing.T) int {
	t.Helper()
	total := 0
	for _, et := range catalog.AllEntityTypes {
		n, err := f.ids.Outstanding(context.Background(), et.String())
		require.NoError(t, err)
		total += n
	}
	return total
}

func TestResolvePayload_ExistingAndNewCompany(t *testing.T) {
	f := newFixture(resolver.Config{})
	f.store.put(catalog.EntityTypeCompany, "co1")

	result, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"title": map[string]any{"default": "A"},
		"companies": []any{
			map[string]any{"id": "co1"},
			map[string]any{"new": map[string]any{"name": "Foo"}},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Drafts, 1)
	draft := result.Drafts[0]
	assert.Equal(t, catalog.EntityTypeCompany, draft.Entity.Type)
	assert.False(t, draft.Entity.Verified)
	assert.Equal(t, "Foo", draft.Entity.Fields["name"])
	assert.Equal(t, allocator.Reservation{Collection: "Company", Value: 1}, draft.Reservation)

	assert.Equal(t, []any{
		map[string]any{"id": "co1"},
		map[string]any{"id": draft.Entity.ID},
	}, result.Fields["companies"])
	assert.Equal(t, map[string]any{"default": "A"}, result.Fields["title"])
	assert.Equal(t, 1, f.outstanding(t))
}

func TestResolvePayload_DepthFirstDraftOrder(t *testing.T) {
	f := newFixture(resolver.Config{})

	result, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"characters": []any{
			map[string]any{
				"role": "MAIN",
				"new": map[string]any{
					"name":        "Hero",
					"voiceActors": []any{map[string]any{"new": map[string]any{"name": "Actor"}, "role": "JP"}},
				},
			},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Drafts, 2)
	person, character := result.Drafts[0], result.Drafts[1]
	assert.Equal(t, catalog.EntityTypePerson, person.Entity.Type)
	assert.Equal(t, catalog.EntityTypeCharacter, character.Entity.Type)

	assert.Equal(t, []any{map[string]any{"id": person.Entity.ID, "role": "JP"}}, character.Entity.Fields["voiceActors"])
	assert.Equal(t, []any{map[string]any{"id": character.Entity.ID, "role": "MAIN"}}, result.Fields["characters"])
}

func TestResolvePayload_PreservesOrderAndRoles(t *testing.T) {
	f := newFixture(resolver.Config{})
	f.store.put(catalog.EntityTypePerson, "p1", "p2")

	result, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"staff": []any{
			map[string]any{"id": "p2", "role": "Director"},
			map[string]any{"new": map[string]any{"name": "N"}, "role": "Writer"},
			map[string]any{"id": "p1", "role": "Music"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Drafts, 1)

	assert.Equal(t, []any{
		map[string]any{"id": "p2", "role": "Director"},
		map[string]any{"id": result.Drafts[0].Entity.ID, "role": "Writer"},
		map[string]any{"id": "p1", "role": "Music"},
	}, result.Fields["staff"])
}

func TestResolvePayload_MissingReferenceReleasesEverything(t *testing.T) {
	f := newFixture(resolver.Config{})

	_, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"companies": []any{map[string]any{"new": map[string]any{"name": "Foo"}}},
		"staff":     []any{map[string]any{"id": "zzz"}},
	})

	var revErr *revErrors.RevisionError
	require.ErrorAs(t, err, &revErr)
	assert.Equal(t, revErrors.CodeReferenceNotFound, revErr.Code)
	assert.Equal(t, "Person", revErr.Collection)
	assert.Equal(t, "zzz", revErr.ID)
	assert.Zero(t, f.outstanding(t))

	current, err := f.counters.Current(context.Background(), "Company")
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestResolvePayload_ReportsLowestFailingIndex(t *testing.T) {
	f := newFixture(resolver.Config{})
	f.store.put(catalog.EntityTypePerson, "ok")

	for i := 0; i < 20; i++ {
		_, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
			"staff": []any{
				map[string]any{"id": "ok"},
				map[string]any{"id": "missing-a"},
				map[string]any{"id": "missing-b"},
			},
		})
		var revErr *revErrors.RevisionError
		require.ErrorAs(t, err, &revErr)
		assert.Equal(t, "missing-a", revErr.ID)
	}
}

func TestResolvePayload_StoreErrorPropagates(t *testing.T) {
	f := newFixture(resolver.Config{})
	f.store.failOn = "p1"

	_, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"staff": []any{map[string]any{"id": "p1"}},
	})

	require.Error(t, err)
	assert.Equal(t, revErrors.Code(""), revErrors.CodeOf(err))
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestResolvePayload_DepthLimit(t *testing.T) {
	f := newFixture(resolver.Config{MaxDepth: 1})

	_, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"characters": []any{map[string]any{"new": map[string]any{
			"voiceActors": []any{map[string]any{"new": map[string]any{"name": "deep"}}},
		}}},
	})

	var revErr *revErrors.RevisionError
	require.ErrorAs(t, err, &revErr)
	assert.Equal(t, revErrors.CodeValidationFailed, revErr.Code)
	assert.Equal(t, "characters[0].new.voiceActors[0].new", revErr.Path)
	assert.Zero(t, f.outstanding(t))
}

func TestResolvePayload_DuplicateInUniqueRelation(t *testing.T) {
	f := newFixture(resolver.Config{})
	f.store.put(catalog.EntityTypeCharacter, "c1")

	_, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"characters": []any{
			map[string]any{"id": "c1"},
			map[string]any{"new": map[string]any{"name": "x"}},
			map[string]any{"id": "c1"},
		},
	})

	var revErr *revErrors.RevisionError
	require.ErrorAs(t, err, &revErr)
	assert.Equal(t, revErrors.CodeValidationFailed, revErr.Code)
	assert.Equal(t, "characters[2]", revErr.Path)
	assert.Zero(t, f.outstanding(t))
}

func TestResolvePayload_DuplicateAllowedInNonUniqueRelation(t *testing.T) {
	f := newFixture(resolver.Config{})
	f.store.put(catalog.EntityTypePerson, "p1")

	result, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"staff": []any{
			map[string]any{"id": "p1", "role": "Director"},
			map[string]any{"id": "p1", "role": "Storyboard"},
		},
	})

	require.NoError(t, err)
	assert.Len(t, result.Fields["staff"], 2)
}

func TestResolvePayload_NewIDsNeverCollideWithStored(t *testing.T) {
	f := newFixture(resolver.Config{})
	stored := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		stored = append(stored, strconv.Itoa(i))
	}
	f.store.put(catalog.EntityTypeCompany, stored...)
	f.counters.Set("Company", 5)

	items := make([]any, 0, 4)
	for i := 0; i < 4; i++ {
		items = append(items, map[string]any{"new": map[string]any{"name": "n" + strconv.Itoa(i)}})
	}
	result, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{"companies": items})
	require.NoError(t, err)

	seen := map[string]struct{}{}
	for _, d := range result.Drafts {
		exists, err := f.store.Exists(context.Background(), catalog.EntityTypeCompany, d.Entity.ID)
		require.NoError(t, err)
		assert.False(t, exists, "id %s already stored", d.Entity.ID)
		_, dup := seen[d.Entity.ID]
		assert.False(t, dup)
		seen[d.Entity.ID] = struct{}{}
	}
}

func TestResolvePayload_AllocatorUninitialized(t *testing.T) {
	store := newFakeExistence()
	counters := allocator.NewMemoryCounters("Anime")
	ids := allocator.NewService(counters, allocator.NewMemoryReservations(), allocator.NewKeyedMutex(), zerolog.Nop())
	r := resolver.NewResolver(catalog.DefaultSchema(), store, ids, resolver.Config{}, zerolog.Nop())

	_, err := r.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"companies": []any{map[string]any{"new": map[string]any{"name": "Foo"}}},
	})

	assert.True(t, errors.Is(err, revErrors.ErrAllocatorUninitialized))
}

func TestResolvePayload_CancelledContext(t *testing.T) {
	f := newFixture(resolver.Config{})
	f.store.put(catalog.EntityTypePerson, "p1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.resolver.ResolvePayload(ctx, catalog.EntityTypeAnime, map[string]any{
		"staff": []any{map[string]any{"id": "p1"}},
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelated_ListsResolvedReferences(t *testing.T) {
	f := newFixture(resolver.Config{})
	f.store.put(catalog.EntityTypeCompany, "40")

	res, err := f.resolver.ResolvePayload(context.Background(), catalog.EntityTypeAnime, map[string]any{
		"title": "X",
		"companies": []any{
			map[string]any{"id": "40", "role": "studio"},
			map[string]any{"new": map[string]any{"name": "Fresh"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []catalog.Ref{
		{Type: catalog.EntityTypeCompany, ID: "40"},
		{Type: catalog.EntityTypeCompany, ID: res.Drafts[0].Entity.ID},
	}, f.resolver.Related(catalog.EntityTypeAnime, res.Fields))
	assert.Empty(t, f.resolver.Related(catalog.EntityTypeAnime, map[string]any{"companies": "not a list"}))
}
