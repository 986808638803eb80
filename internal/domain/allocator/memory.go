package allocator

import (
	"context"
	"sync"
)

// KeyedMutex is an in-process KeyLocker holding one lock per key. Entries are
// reference counted and dropped once no caller waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// WithLock runs fn while holding the lock for key. Waiting stops when ctx is
// cancelled.
func (k *KeyedMutex) WithLock(ctx context.Context, key string, fn func() error) error {
	lock := k.acquire(key)
	defer k.drop(key, lock)

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock.sem }()

	return fn()
}

func (k *KeyedMutex) acquire(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (k *KeyedMutex) drop(key string, lock *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(k.locks, key)
	}
}

// MemoryReservations is a process-local ReservationSet.
type MemoryReservations struct {
	mu   sync.Mutex
	sets map[string]map[int64]struct{}
}

// NewMemoryReservations constructs an empty reservation set.
func NewMemoryReservations() *MemoryReservations {
	return &MemoryReservations{sets: make(map[string]map[int64]struct{})}
}

func (m *MemoryReservations) Add(_ context.Context, collection string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[collection]
	if !ok {
		set = make(map[int64]struct{})
		m.sets[collection] = set
	}
	set[value] = struct{}{}
	return nil
}

func (m *MemoryReservations) Contains(_ context.Context, collection string, value int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[collection][value]
	return ok, nil
}

func (m *MemoryReservations) Remove(_ context.Context, collection string, value int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[collection]
	if _, ok := set[value]; !ok {
		return false, nil
	}
	delete(set, value)
	if len(set) == 0 {
		delete(m.sets, collection)
	}
	return true, nil
}

func (m *MemoryReservations) Highest(_ context.Context, collection string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		highest int64
		found   bool
	)
	for value := range m.sets[collection] {
		if !found || value > highest {
			highest = value
			found = true
		}
	}
	return highest, found, nil
}

func (m *MemoryReservations) Count(_ context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sets[collection]), nil
}

// MemoryCounters is a CounterStore kept in memory. Only collections passed to
// NewMemoryCounters are initialized.
type MemoryCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryCounters seeds counters for the given collections at zero.
func NewMemoryCounters(collections ...string) *MemoryCounters {
	values := make(map[string]int64, len(collections))
	for _, c := range collections {
		values[c] = 0
	}
	return &MemoryCounters{values: values}
}

// Set forces a counter value, creating the counter if needed.
func (m *MemoryCounters) Set(collection string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[collection] = value
}

func (m *MemoryCounters) Current(_ context.Context, collection string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[collection]
	if !ok {
		return 0, ErrCounterMissing
	}
	return value, nil
}

func (m *MemoryCounters) Advance(_ context.Context, collection string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.values[collection]
	if !ok {
		return ErrCounterMissing
	}
	if value > current {
		m.values[collection] = value
	}
	return nil
}
