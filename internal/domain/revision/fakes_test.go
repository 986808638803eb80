package revision_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/patch"
)

type memoryEntities struct {
	mu       sync.Mutex
	rows     map[catalog.Ref]*catalog.Entity
	deleted  []catalog.Ref
	failOn   func(op string, e *catalog.Entity) error
	verified [][]catalog.Ref
}

func newMemoryEntities() *memoryEntities {
	return &memoryEntities{rows: map[catalog.Ref]*catalog.Entity{}}
}

func cloneEntity(e *catalog.Entity) *catalog.Entity {
	c := *e
	raw, _ := json.Marshal(e.Fields)
	c.Fields = map[string]any{}
	_ = json.Unmarshal(raw, &c.Fields)
	return &c
}

func (m *memoryEntities) put(e *catalog.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[e.Ref()] = cloneEntity(e)
}

func (m *memoryEntities) get(t catalog.EntityType, id string) (*catalog.Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[catalog.Ref{Type: t, ID: id}]
	if !ok {
		return nil, false
	}
	return cloneEntity(e), true
}

func (m *memoryEntities) count(t catalog.EntityType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for ref := range m.rows {
		if ref.Type == t {
			n++
		}
	}
	return n
}

func (m *memoryEntities) ids(t catalog.EntityType) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for ref := range m.rows {
		if ref.Type == t {
			out = append(out, ref.ID)
		}
	}
	sort.Strings(out)
	return out
}

func (m *memoryEntities) fail(op string, e *catalog.Entity) error {
	if m.failOn == nil {
		return nil
	}
	return m.failOn(op, e)
}

func (m *memoryEntities) Exists(_ context.Context, t catalog.EntityType, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[catalog.Ref{Type: t, ID: id}]
	return ok, nil
}

func (m *memoryEntities) FindByID(_ context.Context, t catalog.EntityType, id string) (*catalog.Entity, error) {
	e, ok := m.get(t, id)
	if !ok {
		return nil, catalog.ErrEntityNotFound
	}
	return e, nil
}

func (m *memoryEntities) Create(_ context.Context, e *catalog.Entity) error {
	if err := m.fail("create", e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[e.Ref()]; ok {
		return catalog.ErrEntityExists
	}
	m.rows[e.Ref()] = cloneEntity(e)
	return nil
}

func (m *memoryEntities) Update(_ context.Context, e *catalog.Entity, expectedVersion int64) error {
	if err := m.fail("update", e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[e.Ref()]
	if !ok {
		return catalog.ErrEntityNotFound
	}
	if stored.Version != expectedVersion {
		return catalog.ErrVersionMismatch
	}
	next := cloneEntity(e)
	next.Verified = stored.Verified
	m.rows[e.Ref()] = next
	return nil
}

func (m *memoryEntities) MarkVerified(_ context.Context, refs []catalog.Ref) error {
	if err := m.fail("verify", nil); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range refs {
		if e, ok := m.rows[ref]; ok {
			e.Verified = true
		}
	}
	m.verified = append(m.verified, refs)
	return nil
}

func (m *memoryEntities) Delete(_ context.Context, t catalog.EntityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := catalog.Ref{Type: t, ID: id}
	if _, ok := m.rows[ref]; !ok {
		return catalog.ErrEntityNotFound
	}
	delete(m.rows, ref)
	m.deleted = append(m.deleted, ref)
	return nil
}

type memoryPatches struct {
	mu         sync.Mutex
	rows       map[string]*patch.Patch
	failCreate error
}

func newMemoryPatches() *memoryPatches {
	return &memoryPatches{rows: map[string]*patch.Patch{}}
}

func (m *memoryPatches) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memoryPatches) Create(_ context.Context, p *patch.Patch) error {
	if m.failCreate != nil {
		return m.failCreate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID] = p.Clone()
	return nil
}

func (m *memoryPatches) FindByID(_ context.Context, id string) (*patch.Patch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, patch.ErrPatchNotFound
	}
	return p.Clone(), nil
}

func (m *memoryPatches) Update(_ context.Context, p *patch.Patch, expected patch.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[p.ID]
	if !ok {
		return patch.ErrPatchNotFound
	}
	if stored.Status != expected {
		return patch.ErrStatusChanged
	}
	m.rows[p.ID] = p.Clone()
	return nil
}

func (m *memoryPatches) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memoryPatches) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, p := range m.rows {
		if p.Status.IsTerminal() && p.UpdatedAt.Before(cutoff) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

type fakeTransactor struct {
	calls int
	err   error
}

func (f *fakeTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	if err := fn(ctx); err != nil {
		return err
	}
	return f.err
}

var errStore = errors.New("store write failed")
