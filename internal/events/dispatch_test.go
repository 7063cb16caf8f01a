package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/domain"
)

type recordingInvalidator struct {
	calls []string
	err   error
}

func (r *recordingInvalidator) InvalidateShiftCache(_ context.Context, restaurantID string) error {
	r.calls = append(r.calls, restaurantID)
	return r.err
}

func TestDispatcherInvalidatesEachRestaurantOnce(t *testing.T) {
	broker := &fakeBroker{}
	inv := &recordingInvalidator{}
	d := Dispatcher{Publisher: NewAMQPPublisher(broker, "x"), Invalidator: inv, Log: logger.Nop()}

	var b Batch
	require.NoError(t, b.Record(context.Background(), &fakeLog{}, domain.AllocationEvent{Type: domain.EventSwapExecuted}))
	d.Committed(context.Background(), &b, "r1", "r2", "r1", "")

	assert.Equal(t, []string{"r1", "r2"}, inv.calls)
	assert.Len(t, broker.sent, 1)
}

func TestDispatcherSwallowsSideEffectFailures(t *testing.T) {
	broker := &fakeBroker{fail: map[string]error{"swap.executed": errors.New("nack")}}
	inv := &recordingInvalidator{err: errors.New("broker down")}
	d := Dispatcher{Publisher: NewAMQPPublisher(broker, "x"), Invalidator: inv, Log: logger.Nop()}

	var b Batch
	require.NoError(t, b.Record(context.Background(), &fakeLog{}, domain.AllocationEvent{Type: domain.EventSwapExecuted}))
	assert.NotPanics(t, func() { d.Committed(context.Background(), &b, "r1") })
	assert.Equal(t, []string{"r1"}, inv.calls)

	assert.NotPanics(t, func() { Dispatcher{Log: logger.Nop()}.Committed(context.Background(), nil, "r1") })
}
