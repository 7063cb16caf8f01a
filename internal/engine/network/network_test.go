package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-allocation/internal/cache"
	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/repository"
	tu "shift-allocation/internal/testutil"
)

type fixture struct {
	store *repository.MemoryStore
	clock *tu.Clock
	cache *cache.ShiftCache
	svc   *VisibilityService
}

// X and Y are five miles apart in network n1, F is in n1 but about seventy
// miles north, Q is outside any network.
func newFixture(t *testing.T, n domain.Network, values ...any) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	n.ID = "n1"
	tu.Seed(store,
		n,
		tu.Restaurant("X", tu.Located(tu.LatX, tu.LonX), tu.InNetwork("n1")),
		tu.Restaurant("Y", tu.Located(tu.LatY, tu.LonY), tu.InNetwork("n1")),
		tu.Restaurant("F", tu.Located(41.0, tu.LonX), tu.InNetwork("n1")),
		tu.Restaurant("Q", tu.Located(tu.LatY, tu.LonY)),
		tu.Worker("w1", "u1", "X", tu.Reliability(4.0)),
		tu.Shift("y1", "Y", tu.At(tu.Day(3), 9, 0), tu.At(tu.Day(3), 17, 0), tu.PublishedAt(tu.Monday)),
	)
	tu.Seed(store, values...)
	f := &fixture{store: store, clock: tu.NewClock(tu.At(tu.Monday, 12, 0)), cache: cache.NewShiftCache(time.Minute)}
	f.svc = NewVisibilityService(store, NewReputationService(store), f.cache,
		Options{DefaultDelay: 24 * time.Hour, DefaultMaxDistanceMiles: 25}, f.clock.Now, logger.Nop())
	return f
}

func openNetwork() domain.Network { return domain.Network{AllowCrossRestaurantShifts: true} }

func TestVisibilityPhase(t *testing.T) {
	f := newFixture(t, openNetwork(), tu.Shift("q1", "Q", tu.At(tu.Day(3), 9, 0), tu.At(tu.Day(3), 17, 0)))
	ctx := context.Background()
	y1, _ := f.store.GetShift(ctx, "y1")

	phase, err := f.svc.GetShiftVisibilityPhase(ctx, y1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseOwnOnly, phase)

	f.clock.Advance(12 * time.Hour)
	phase, err = f.svc.GetShiftVisibilityPhase(ctx, y1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseNetwork, phase, "phase opens exactly at publishedAt plus the delay")

	q1, _ := f.store.GetShift(ctx, "q1")
	phase, err = f.svc.GetShiftVisibilityPhase(ctx, q1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseOwnOnly, phase, "restaurants outside a network never open up")

	y1.PublishedAt = nil
	phase, err = f.svc.GetShiftVisibilityPhase(ctx, y1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseOwnOnly, phase)
}

func TestNetworkDelayOverride(t *testing.T) {
	n := openNetwork()
	n.VisibilityDelayHours = domain.Float64Ptr(6)
	f := newFixture(t, n)

	v, err := f.svc.CanWorkerSeeShift(context.Background(), "w1", "y1")
	require.NoError(t, err)
	assert.True(t, v.IsVisible, v.Reason)
}

func TestCanWorkerSeeShift(t *testing.T) {
	tests := []struct {
		name    string
		network domain.Network
		seed    []any
		shiftID string
		advance time.Duration
		visible bool
		reason  string
	}{
		{name: "own restaurant is always visible", network: openNetwork(),
			seed:    []any{tu.Shift("x1", "X", tu.At(tu.Day(3), 9, 0), tu.At(tu.Day(3), 17, 0))},
			shiftID: "x1", visible: true},
		{name: "own restaurant unpublished", network: openNetwork(),
			seed:    []any{tu.Shift("x2", "X", tu.At(tu.Day(3), 9, 0), tu.At(tu.Day(3), 17, 0), tu.WithStatus(domain.ShiftUnpublished))},
			shiftID: "x2", reason: "not published"},
		{name: "network shift during own-only phase", network: openNetwork(),
			shiftID: "y1", reason: "home restaurant workers until 2025-06-03T00:00:00Z"},
		{name: "network shift after the delay", network: openNetwork(),
			shiftID: "y1", advance: 13 * time.Hour, visible: true},
		{name: "network closed to cross-restaurant shifts", network: domain.Network{},
			shiftID: "y1", advance: 13 * time.Hour, reason: "does not allow"},
		{name: "outside the network", network: openNetwork(),
			seed:    []any{tu.Shift("q1", "Q", tu.At(tu.Day(3), 9, 0), tu.At(tu.Day(3), 17, 0))},
			shiftID: "q1", advance: 13 * time.Hour, reason: "not in your network"},
		{name: "too far away", network: openNetwork(),
			seed:    []any{tu.Shift("f1", "F", tu.At(tu.Day(3), 9, 0), tu.At(tu.Day(3), 17, 0), tu.PublishedAt(tu.Monday))},
			shiftID: "f1", advance: 13 * time.Hour, reason: "miles away"},
		{name: "below the network reputation floor",
			network: domain.Network{AllowCrossRestaurantShifts: true, MinNetworkReputation: domain.Float64Ptr(85)},
			shiftID: "y1", advance: 13 * time.Hour, reason: "network reputation 80.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.network, tt.seed...)
			f.clock.Advance(tt.advance)

			v, err := f.svc.CanWorkerSeeShift(context.Background(), "w1", tt.shiftID)
			require.NoError(t, err)
			assert.Equal(t, tt.visible, v.IsVisible)
			if tt.reason != "" {
				assert.Contains(t, v.Reason, tt.reason)
			}
		})
	}
}

func TestCanWorkerSeeShiftUnknownIDs(t *testing.T) {
	f := newFixture(t, openNetwork())
	_, err := f.svc.CanWorkerSeeShift(context.Background(), "w9", "y1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = f.svc.CanWorkerSeeShift(context.Background(), "w1", "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

type failingReputation struct{}

func (failingReputation) CalculateNetworkReputation(context.Context, string) (domain.NetworkReputation, error) {
	return domain.NetworkReputation{}, errors.New("reputation backend down")
}

func TestReputationFailureIsReturned(t *testing.T) {
	n := domain.Network{AllowCrossRestaurantShifts: true, MinNetworkReputation: domain.Float64Ptr(50)}
	f := newFixture(t, n)
	f.svc.reputation = failingReputation{}
	f.clock.Advance(13 * time.Hour)

	_, err := f.svc.CanWorkerSeeShift(context.Background(), "w1", "y1")
	assert.ErrorContains(t, err, "reputation backend down")
}

func TestGetVisibleNetworkShiftsUsesCache(t *testing.T) {
	f := newFixture(t, openNetwork(),
		tu.Shift("y-taken", "Y", tu.At(tu.Day(3), 9, 0), tu.At(tu.Day(3), 17, 0), tu.AssignedTo("w9")),
		tu.Shift("f1", "F", tu.At(tu.Day(3), 9, 0), tu.At(tu.Day(3), 17, 0), tu.PublishedAt(tu.Monday)),
		tu.Shift("x1", "X", tu.At(tu.Day(3), 9, 0), tu.At(tu.Day(3), 17, 0)),
	)
	ctx := context.Background()

	got, err := f.svc.GetVisibleNetworkShifts(ctx, "w1", "X")
	require.NoError(t, err)
	assert.Empty(t, got, "still own-only")

	f.clock.Advance(13 * time.Hour)
	got, err = f.svc.GetVisibleNetworkShifts(ctx, "w1", "X")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "y1", got[0].ID)
	assert.Equal(t, 2, f.cache.Len(), "open shifts of Y and F are cached")

	f.store.PutShift(tu.Shift("y2", "Y", tu.At(tu.Day(4), 9, 0), tu.At(tu.Day(4), 17, 0), tu.PublishedAt(tu.Monday)))
	got, _ = f.svc.GetVisibleNetworkShifts(ctx, "w1", "X")
	assert.Len(t, got, 1, "served from cache until invalidated")

	require.NoError(t, f.cache.InvalidateShiftCache(ctx, "Y"))
	got, _ = f.svc.GetVisibleNetworkShifts(ctx, "w1", "X")
	assert.Len(t, got, 2)
}

func TestReputation(t *testing.T) {
	store := repository.NewMemoryStore()
	tu.Seed(store,
		tu.Worker("a1", "ua", "X", tu.Reliability(5.0)),
		tu.Worker("a2", "ua", "Y", tu.Reliability(4.0), tu.NoShows(1)),
		tu.Worker("b1", "ub", "X", tu.Reliability(1.0), tu.NoShows(3)),
	)
	svc := NewReputationService(store)

	rep, err := svc.CalculateNetworkReputation(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 85.0, rep.Score)
	assert.Equal(t, domain.ReputationGold, rep.Tier)

	rep, err = svc.CalculateNetworkReputation(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, rep.Score)
	assert.Equal(t, domain.ReputationBronze, rep.Tier)

	_, err = svc.CalculateNetworkReputation(context.Background(), "zz")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.ReputationTier
	}{
		{100, domain.ReputationPlatinum},
		{90, domain.ReputationPlatinum},
		{89.9, domain.ReputationGold},
		{75, domain.ReputationGold},
		{60, domain.ReputationSilver},
		{59.9, domain.ReputationBronze},
		{0, domain.ReputationBronze},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.score), "score %.1f", tt.score)
	}
}
