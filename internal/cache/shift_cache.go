package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"shift-allocation/internal/common/metrics"
	"shift-allocation/internal/domain"
)

// Invalidator is signalled after every mutation that changes which shifts of a
// restaurant are open.
type Invalidator interface {
	InvalidateShiftCache(ctx context.Context, restaurantID string) error
}

// ShiftCache keeps open shifts per restaurant for the visibility read paths.
// It is advisory: no workflow decision reads from it.
type ShiftCache struct {
	c *gocache.Cache
}

func NewShiftCache(ttl time.Duration) *ShiftCache {
	return &ShiftCache{c: gocache.New(ttl, 2*ttl)}
}

func openKey(restaurantID string) string { return "open:" + restaurantID }

// OpenShifts returns the cached open shifts of restaurantID, loading them on a miss.
func (s *ShiftCache) OpenShifts(ctx context.Context, restaurantID string, load func(ctx context.Context) ([]domain.Shift, error)) ([]domain.Shift, error) {
	if v, ok := s.c.Get(openKey(restaurantID)); ok {
		return v.([]domain.Shift), nil
	}
	shifts, err := load(ctx)
	if err != nil {
		return nil, err
	}
	s.c.SetDefault(openKey(restaurantID), shifts)
	return shifts, nil
}

func (s *ShiftCache) InvalidateShiftCache(_ context.Context, restaurantID string) error {
	s.evict(restaurantID, "local")
	return nil
}

func (s *ShiftCache) evict(restaurantID, origin string) {
	s.c.Delete(openKey(restaurantID))
	metrics.CacheInvalidations.WithLabelValues(origin).Inc()
}

func (s *ShiftCache) Len() int { return s.c.ItemCount() }

// Nop ignores invalidations; used when nothing is cached.
type Nop struct{}

func (Nop) InvalidateShiftCache(context.Context, string) error { return nil }
