package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"shift-allocation/internal/domain"
)

const source = "shift-allocation"

// Publisher delivers committed allocation events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events ...domain.AllocationEvent) error
}

// MessagePublisher is the broker surface used here; *rabbitmq.Client satisfies it.
type MessagePublisher interface {
	Publish(ctx context.Context, exchange, key string, body []byte, headers amqp.Table, contentType string, persistent bool) error
}

// AMQPPublisher writes each event to a topic exchange with the event type as
// routing key, so consumers can bind to "claim.*" or "swap.executed".
type AMQPPublisher struct {
	client   MessagePublisher
	exchange string
}

func NewAMQPPublisher(client MessagePublisher, exchange string) *AMQPPublisher {
	return &AMQPPublisher{client: client, exchange: exchange}
}

func (p *AMQPPublisher) Publish(ctx context.Context, events ...domain.AllocationEvent) error {
	var errs []error
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal event %s: %w", e.ID, err))
			continue
		}
		headers := amqp.Table{
			"x-source":        source,
			"x-event-id":      e.ID,
			"x-restaurant-id": e.RestaurantID,
		}
		if err := p.client.Publish(ctx, p.exchange, string(e.Type), body, headers, "application/json", true); err != nil {
			errs = append(errs, fmt.Errorf("publish event %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Nop drops events; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...domain.AllocationEvent) error { return nil }

// Writer is the transactional side of the event log.
type Writer interface {
	AppendEvent(ctx context.Context, e domain.AllocationEvent) error
}

// Batch collects the events appended inside one transaction so they can be
// published once the transaction has committed.
type Batch struct {
	events []domain.AllocationEvent
}

// Record assigns an id when missing, appends e to the log and remembers it.
func (b *Batch) Record(ctx context.Context, w Writer, e domain.AllocationEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := w.AppendEvent(ctx, e); err != nil {
		return fmt.Errorf("failed to append %s event: %w", e.Type, err)
	}
	b.events = append(b.events, e)
	return nil
}

func (b *Batch) Events() []domain.AllocationEvent { return b.events }

// Reset drops recorded events, for transactions that are retried.
func (b *Batch) Reset() { b.events = nil }
