package events

import (
	"context"

	"shift-allocation/internal/cache"
	"shift-allocation/internal/common/logger"
)

// Dispatcher runs the side effects that follow a committed transaction:
// publishing its events and invalidating the open-shift cache of every
// restaurant it touched. Failures are logged; the transaction already stands.
type Dispatcher struct {
	Publisher   Publisher
	Invalidator cache.Invalidator
	Log         *logger.Logger
}

func (d Dispatcher) Committed(ctx context.Context, b *Batch, restaurantIDs ...string) {
	seen := make(map[string]bool, len(restaurantIDs))
	for _, id := range restaurantIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if d.Invalidator == nil {
			continue
		}
		if err := d.Invalidator.InvalidateShiftCache(ctx, id); err != nil {
			d.Log.Warn("cache_invalidation_failed", map[string]any{"restaurant_id": id, "error": err.Error()})
		}
	}
	if b == nil || len(b.Events()) == 0 || d.Publisher == nil {
		return
	}
	if err := d.Publisher.Publish(ctx, b.Events()...); err != nil {
		d.Log.Warn("event_publish_failed", map[string]any{"events": len(b.Events()), "error": err.Error()})
	}
}
