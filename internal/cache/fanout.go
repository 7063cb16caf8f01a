package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"shift-allocation/internal/common/logger"
)

// Message is the invalidation broadcast on the cache exchange.
type Message struct {
	RestaurantID  string    `json:"restaurant_id"`
	Origin        string    `json:"origin"`
	InvalidatedAt time.Time `json:"invalidated_at"`
}

type Publisher interface {
	Publish(ctx context.Context, exchange, key string, body []byte, headers amqp.Table, contentType string, persistent bool) error
}

type Consumer interface {
	ConsumeExclusive(exchange, consumer string) (<-chan amqp.Delivery, error)
}

// Broadcaster evicts the local cache and tells every other engine process to
// do the same through a fanout exchange.
type Broadcaster struct {
	local    *ShiftCache
	client   Publisher
	exchange string
	origin   string
}

func NewBroadcaster(local *ShiftCache, client Publisher, exchange string) *Broadcaster {
	return &Broadcaster{local: local, client: client, exchange: exchange, origin: uuid.NewString()}
}

// Origin identifies this process on the exchange.
func (b *Broadcaster) Origin() string { return b.origin }

func (b *Broadcaster) InvalidateShiftCache(ctx context.Context, restaurantID string) error {
	b.local.evict(restaurantID, "local")
	body, err := json.Marshal(Message{RestaurantID: restaurantID, Origin: b.origin, InvalidatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	headers := amqp.Table{"x-source": "shift-allocation"}
	if err := b.client.Publish(ctx, b.exchange, "", body, headers, "application/json", false); err != nil {
		return fmt.Errorf("broadcast invalidation of %s: %w", restaurantID, err)
	}
	return nil
}

// Listener applies invalidations broadcast by other processes to the local cache.
type Listener struct {
	consumer Consumer
	local    *ShiftCache
	exchange string
	origin   string
	log      *logger.Logger
}

// NewListener skips messages from origin, which the local Broadcaster already applied.
func NewListener(consumer Consumer, local *ShiftCache, exchange, origin string, log *logger.Logger) *Listener {
	return &Listener{consumer: consumer, local: local, exchange: exchange, origin: origin, log: log}
}

// Listen consumes until ctx is done or the broker closes the delivery channel.
func (l *Listener) Listen(ctx context.Context) error {
	msgs, err := l.consumer.ConsumeExclusive(l.exchange, "shift-cache-"+l.origin)
	if err != nil {
		return err
	}
	l.log.Info("cache_listener_started", map[string]any{"exchange": l.exchange})
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return errors.New("cache invalidation deliveries closed")
			}
			if err := l.Handle(m.Body); err != nil {
				l.log.Error("cache_invalidation_malformed", err, nil)
			}
		}
	}
}

func (l *Listener) Handle(body []byte) error {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return fmt.Errorf("decode invalidation: %w", err)
	}
	if m.RestaurantID == "" {
		return errors.New("invalidation without restaurant_id")
	}
	if m.Origin == l.origin {
		return nil
	}
	l.local.evict(m.RestaurantID, "remote")
	l.log.Debug("cache_invalidated", map[string]any{"restaurant_id": m.RestaurantID, "origin": m.Origin})
	return nil
}
