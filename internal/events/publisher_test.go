package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-allocation/internal/domain"
)

type published struct {
	exchange, key string
	body          []byte
	headers       amqp.Table
	persistent    bool
}

type fakeBroker struct {
	sent []published
	fail map[string]error
}

func (f *fakeBroker) Publish(_ context.Context, exchange, key string, body []byte, headers amqp.Table, _ string, persistent bool) error {
	if err := f.fail[key]; err != nil {
		return err
	}
	f.sent = append(f.sent, published{exchange, key, body, headers, persistent})
	return nil
}

type fakeLog struct{ appended []domain.AllocationEvent }

func (f *fakeLog) AppendEvent(_ context.Context, e domain.AllocationEvent) error {
	f.appended = append(f.appended, e)
	return nil
}

func TestAMQPPublisherRoutesByEventType(t *testing.T) {
	broker := &fakeBroker{}
	p := NewAMQPPublisher(broker, "allocation_topic")
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(),
		domain.AllocationEvent{ID: "e1", Type: domain.EventClaimApproved, RestaurantID: "r1", ClaimID: "c1", OccurredAt: at},
		domain.AllocationEvent{ID: "e2", Type: domain.EventShiftConfirmed, RestaurantID: "r1", ShiftID: "s1", OccurredAt: at},
	)
	require.NoError(t, err)
	require.Len(t, broker.sent, 2)

	first := broker.sent[0]
	assert.Equal(t, "allocation_topic", first.exchange)
	assert.Equal(t, "claim.approved", first.key)
	assert.True(t, first.persistent)
	assert.Equal(t, "shift-allocation", first.headers["x-source"])
	assert.Equal(t, "e1", first.headers["x-event-id"])

	var decoded domain.AllocationEvent
	require.NoError(t, json.Unmarshal(first.body, &decoded))
	assert.Equal(t, "c1", decoded.ClaimID)
	assert.Equal(t, "shift.confirmed", broker.sent[1].key)
}

func TestAMQPPublisherKeepsGoingAfterFailure(t *testing.T) {
	broker := &fakeBroker{fail: map[string]error{"claim.created": errors.New("nack")}}
	p := NewAMQPPublisher(broker, "x")

	err := p.Publish(context.Background(),
		domain.AllocationEvent{ID: "e1", Type: domain.EventClaimCreated},
		domain.AllocationEvent{ID: "e2", Type: domain.EventClaimWithdrawn},
	)
	assert.ErrorContains(t, err, "publish event e1")
	assert.Len(t, broker.sent, 1)
}

func TestBatchRecordsAndAssignsIDs(t *testing.T) {
	var b Batch
	log := &fakeLog{}
	require.NoError(t, b.Record(context.Background(), log, domain.AllocationEvent{Type: domain.EventSwapCreated}))
	require.NoError(t, b.Record(context.Background(), log, domain.AllocationEvent{ID: "fixed", Type: domain.EventSwapExecuted}))

	require.Len(t, b.Events(), 2)
	assert.NotEmpty(t, b.Events()[0].ID)
	assert.Equal(t, "fixed", b.Events()[1].ID)
	assert.Equal(t, log.appended, b.Events())

	b.Reset()
	assert.Empty(t, b.Events())
	assert.NoError(t, Nop{}.Publish(context.Background(), log.appended...))
}
