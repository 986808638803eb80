// Package allocator hands out sequential per-collection identifiers using a
// durable counter plus a transient reservation set.
package allocator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
)

var (
	// ErrCounterMissing is returned by a CounterStore when no counter exists
	// for the collection.
	ErrCounterMissing = errors.New("identifier counter missing")
	// ErrReservationNotFound is returned when committing or releasing a value
	// that is not reserved.
	ErrReservationNotFound = errors.New("identifier reservation not found")
)

// Allocator reserves, commits and releases identifiers.
type Allocator interface {
	Reserve(ctx context.Context, collection string) (int64, error)
	Commit(ctx context.Context, collection string, id int64) error
	Release(ctx context.Context, collection string, id int64) error
	Outstanding(ctx context.Context, collection string) (int, error)
}

// CounterStore persists the highest committed identifier per collection.
type CounterStore interface {
	Current(ctx context.Context, collection string) (int64, error)
	// Advance stores value when it is greater than the current counter.
	Advance(ctx context.Context, collection string, value int64) error
}

// ReservationSet tracks identifiers handed out but not yet committed.
type ReservationSet interface {
	Add(ctx context.Context, collection string, value int64) error
	Contains(ctx context.Context, collection string, value int64) (bool, error)
	// Remove reports whether value was reserved.
	Remove(ctx context.Context, collection string, value int64) (bool, error)
	// Highest returns the largest reserved value, false when none is reserved.
	Highest(ctx context.Context, collection string) (int64, bool, error)
	Count(ctx context.Context, collection string) (int, error)
}

// KeyLocker serializes work per key.
type KeyLocker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Reservation names one reserved identifier.
type Reservation struct {
	Collection string `json:"collection"`
	Value      int64  `json:"value"`
}

// Hooks observe allocator activity. Nil fields are skipped.
type Hooks struct {
	OnReserve func(collection string)
	OnCommit  func(collection string)
	OnRelease func(collection string)
}

// Service is the Allocator built from a counter store, a reservation set and
// a per-collection lock.
type Service struct {
	counters     CounterStore
	reservations ReservationSet
	locker       KeyLocker
	hooks        Hooks
	log          zerolog.Logger
}

// NewService constructs the allocator.
func NewService(counters CounterStore, reservations ReservationSet, locker KeyLocker, log zerolog.Logger) *Service {
	return &Service{
		counters:     counters,
		reservations: reservations,
		locker:       locker,
		log:          log.With().Str("component", "allocator").Logger(),
	}
}

// WithHooks attaches observers and returns the service.
func (s *Service) WithHooks(hooks Hooks) *Service {
	s.hooks = hooks
	return s
}

// Reserve computes max(counter, highest reservation)+1 and reserves it.
func (s *Service) Reserve(ctx context.Context, collection string) (int64, error) {
	var next int64
	err := s.locker.WithLock(ctx, lockKey(collection), func() error {
		current, err := s.counters.Current(ctx, collection)
		if err != nil {
			if errors.Is(err, ErrCounterMissing) {
				return revErrors.AllocatorUninitialized(collection, err)
			}
			return fmt.Errorf("read counter %s: %w", collection, err)
		}

		highest, ok, err := s.reservations.Highest(ctx, collection)
		if err != nil {
			return fmt.Errorf("read reservations %s: %w", collection, err)
		}

		next = current
		if ok && highest > next {
			next = highest
		}
		next++

		if err := s.reservations.Add(ctx, collection, next); err != nil {
			return fmt.Errorf("reserve %s/%d: %w", collection, next, err)
		}
		return nil
	})
	if err != nil {
		var revErr *revErrors.RevisionError
		if errors.As(err, &revErr) && revErr.Code == revErrors.CodeAllocatorUninitialized {
			s.log.Error().Err(err).Str("collection", collection).Msg("allocator not initialized")
		}
		return 0, err
	}

	if s.hooks.OnReserve != nil {
		s.hooks.OnReserve(collection)
	}
	s.log.Debug().Str("collection", collection).Int64("id", next).Msg("identifier reserved")
	return next, nil
}

// Commit advances the durable counter to id and drops the reservation.
func (s *Service) Commit(ctx context.Context, collection string, id int64) error {
	err := s.locker.WithLock(ctx, lockKey(collection), func() error {
		if err := s.requireReserved(ctx, collection, id); err != nil {
			return err
		}
		if err := s.counters.Advance(ctx, collection, id); err != nil {
			return fmt.Errorf("advance counter %s to %d: %w", collection, id, err)
		}
		if _, err := s.reservations.Remove(ctx, collection, id); err != nil {
			return fmt.Errorf("drop reservation %s/%d: %w", collection, id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.hooks.OnCommit != nil {
		s.hooks.OnCommit(collection)
	}
	return nil
}

// Release drops the reservation and leaves the counter untouched. The value
// becomes a permanent gap unless it is the highest outstanding one.
func (s *Service) Release(ctx context.Context, collection string, id int64) error {
	err := s.locker.WithLock(ctx, lockKey(collection), func() error {
		removed, err := s.reservations.Remove(ctx, collection, id)
		if err != nil {
			return fmt.Errorf("release %s/%d: %w", collection, id, err)
		}
		if !removed {
			return fmt.Errorf("release %s/%d: %w", collection, id, ErrReservationNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.hooks.OnRelease != nil {
		s.hooks.OnRelease(collection)
	}
	return nil
}

// Outstanding returns the number of reserved, uncommitted values.
func (s *Service) Outstanding(ctx context.Context, collection string) (int, error) {
	return s.reservations.Count(ctx, collection)
}

func (s *Service) requireReserved(ctx context.Context, collection string, id int64) error {
	reserved, err := s.reservations.Contains(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("check reservation %s/%d: %w", collection, id, err)
	}
	if !reserved {
		return fmt.Errorf("commit %s/%d: %w", collection, id, ErrReservationNotFound)
	}
	return nil
}

func lockKey(collection string) string {
	return "catalog:ids:" + collection
}
