package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/janhq/catalog-api/internal/domain/allocator"
)

const reservationKeyPrefix = "catalog:reservations:"

// ReservationSet keeps reserved identifiers in one sorted set per collection,
// scored by value so the highest reservation is a single range read.
type ReservationSet struct {
	client redis.UniversalClient
}

// NewReservationSet creates a Redis backed allocator.ReservationSet.
func NewReservationSet(client redis.UniversalClient) *ReservationSet {
	return &ReservationSet{client: client}
}

var _ allocator.ReservationSet = (*ReservationSet)(nil)

func reservationKey(collection string) string {
	return reservationKeyPrefix + collection
}

func member(value int64) string {
	return strconv.FormatInt(value, 10)
}

func (s *ReservationSet) Add(ctx context.Context, collection string, value int64) error {
	err := s.client.ZAdd(ctx, reservationKey(collection), redis.Z{Score: float64(value), Member: member(value)}).Err()
	if err != nil {
		return fmt.Errorf("reserve %s/%d: %w", collection, value, err)
	}
	return nil
}

func (s *ReservationSet) Contains(ctx context.Context, collection string, value int64) (bool, error) {
	_, err := s.client.ZScore(ctx, reservationKey(collection), member(value)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup reservation %s/%d: %w", collection, value, err)
	}
	return true, nil
}

func (s *ReservationSet) Remove(ctx context.Context, collection string, value int64) (bool, error) {
	removed, err := s.client.ZRem(ctx, reservationKey(collection), member(value)).Result()
	if err != nil {
		return false, fmt.Errorf("remove reservation %s/%d: %w", collection, value, err)
	}
	return removed > 0, nil
}

func (s *ReservationSet) Highest(ctx context.Context, collection string) (int64, bool, error) {
	top, err := s.client.ZRevRangeWithScores(ctx, reservationKey(collection), 0, 0).Result()
	if err != nil {
		return 0, false, fmt.Errorf("read highest reservation of %s: %w", collection, err)
	}
	if len(top) == 0 {
		return 0, false, nil
	}
	return int64(top[0].Score), true, nil
}

func (s *ReservationSet) Count(ctx context.Context, collection string) (int, error) {
	n, err := s.client.ZCard(ctx, reservationKey(collection)).Result()
	if err != nil {
		return 0, fmt.Errorf("count reservations of %s: %w", collection, err)
	}
	return int(n), nil
}
