package entityrepo

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/janhq/catalog-api/internal/domain/catalog"
)

// CachedStore remembers positive existence checks. Entities are only removed
// through Delete, so a cached hit stays valid until then.
type CachedStore struct {
	catalog.EntityStore
	known *lru.Cache[catalog.Ref, struct{}]
}

// NewCachedStore wraps store with an LRU of the given size.
func NewCachedStore(store catalog.EntityStore, size int) (*CachedStore, error) {
	if size <= 0 {
		size = 1024
	}
	known, err := lru.New[catalog.Ref, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{EntityStore: store, known: known}, nil
}

func (s *CachedStore) Exists(ctx context.Context, t catalog.EntityType, id string) (bool, error) {
	ref := catalog.Ref{Type: t, ID: id}
	if s.known.Contains(ref) {
		return true, nil
	}
	ok, err := s.EntityStore.Exists(ctx, t, id)
	if err != nil || !ok {
		return ok, err
	}
	s.known.Add(ref, struct{}{})
	return true, nil
}

// Delete evicts the ref on both sides of the underlying delete so an Exists
// racing with it cannot leave a stale positive entry behind.
func (s *CachedStore) Delete(ctx context.Context, t catalog.EntityType, id string) error {
	ref := catalog.Ref{Type: t, ID: id}
	s.known.Remove(ref)
	err := s.EntityStore.Delete(ctx, t, id)
	s.known.Remove(ref)
	return err
}

// Len reports how many refs are cached.
func (s *CachedStore) Len() int {
	return s.known.Len()
}
