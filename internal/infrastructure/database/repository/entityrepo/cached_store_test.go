package entityrepo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/infrastructure/database/repository/entityrepo"
)

type countingStore struct {
	catalog.EntityStore
	rows     map[catalog.Ref]bool
	checks   int
	err      error
	onDelete func()
}

func (s *countingStore) Exists(_ context.Context, t catalog.EntityType, id string) (bool, error) {
	s.checks++
	if s.err != nil {
		return false, s.err
	}
	return s.rows[catalog.Ref{Type: t, ID: id}], nil
}

func (s *countingStore) Delete(_ context.Context, t catalog.EntityType, id string) error {
	if s.onDelete != nil {
		s.onDelete()
	}
	delete(s.rows, catalog.Ref{Type: t, ID: id})
	return nil
}

func TestCachedStore_CachesOnlyPositiveHits(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{rows: map[catalog.Ref]bool{{Type: catalog.EntityTypeCompany, ID: "co1"}: true}}
	store, err := entityrepo.NewCachedStore(inner, 8)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := store.Exists(ctx, catalog.EntityTypeCompany, "co1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, inner.checks)

	for i := 0; i < 2; i++ {
		ok, err := store.Exists(ctx, catalog.EntityTypeCompany, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 3, inner.checks)
	assert.Equal(t, 1, store.Len())
}

func TestCachedStore_DeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{rows: map[catalog.Ref]bool{{Type: catalog.EntityTypePerson, ID: "7"}: true}}
	store, err := entityrepo.NewCachedStore(inner, 8)
	require.NoError(t, err)

	ok, err := store.Exists(ctx, catalog.EntityTypePerson, "7")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Delete(ctx, catalog.EntityTypePerson, "7"))

	ok, err = store.Exists(ctx, catalog.EntityTypePerson, "7")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, inner.checks)
}

func TestCachedStore_DeleteEvictsEntryCachedDuringDelete(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{rows: map[catalog.Ref]bool{{Type: catalog.EntityTypeCompany, ID: "3"}: true}}
	store, err := entityrepo.NewCachedStore(inner, 8)
	require.NoError(t, err)

	inner.onDelete = func() {
		ok, err := store.Exists(ctx, catalog.EntityTypeCompany, "3")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, store.Delete(ctx, catalog.EntityTypeCompany, "3"))
	assert.Equal(t, 0, store.Len())

	ok, err := store.Exists(ctx, catalog.EntityTypeCompany, "3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedStore_PropagatesErrors(t *testing.T) {
	inner := &countingStore{err: errors.New("db down")}
	store, err := entityrepo.NewCachedStore(inner, 0)
	require.NoError(t, err)

	_, err = store.Exists(context.Background(), catalog.EntityTypeAnime, "1")
	assert.EqualError(t, err, "db down")
	assert.Equal(t, 0, store.Len())
}
