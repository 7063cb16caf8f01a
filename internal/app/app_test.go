package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/config"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/engine/authz"
)

const snapshotJSON = `{
  "restaurants": [{"id": "X", "name": "Downtown", "timezone": "UTC", "latitude": 40.0, "longitude": -75.0,
                   "allow_unsupervised_swaps": true}],
  "workers": [
    {"id": "a", "user_id": "ua", "restaurant_id": "X", "positions": ["server"], "reliability_score": 4.8,
     "tier": "PRIMARY", "status": "ACTIVE"},
    {"id": "b", "user_id": "ub", "restaurant_id": "X", "positions": ["server"], "reliability_score": 3.2,
     "tier": "PRIMARY", "status": "ACTIVE"}
  ],
  "shifts": [{"id": "s1", "restaurant_id": "X", "position": "server", "status": "PUBLISHED_UNASSIGNED",
              "start_time": "2025-06-05T09:00:00Z", "end_time": "2025-06-05T17:00:00Z",
              "published_at": "2025-06-02T08:00:00Z"}]
}`

func TestLoadSnapshotAndWire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(snapshotJSON), 0o600))

	store, err := LoadSnapshot(path)
	require.NoError(t, err)

	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	a := NewWithStore(config.Default(), logger.Nop(), store, func() time.Time { return now })
	ctx := context.Background()

	worker := authz.Actor{ID: "ub", Role: authz.RoleWorker, WorkerProfileIDs: []string{"b"}}
	claim, err := a.Claims.Claim(ctx, worker, "s1", "b", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimPending, claim.Status, "s1 has auto-approve off")

	manager := authz.Actor{ID: "m", Role: authz.RoleManager, RestaurantIDs: []string{"X"}}
	candidates, err := a.Matcher.FindCandidates(ctx, "s1", domain.CandidateOptions{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "a", candidates[0].WorkerID)

	claim, err = a.Claims.ApproveClaim(ctx, manager, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimApproved, claim.Status)

	shift, err := store.GetShift(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftConfirmed, shift.Status)

	_, err = a.CacheListener()
	assert.Error(t, err, "no broker in a dry run")
}

func TestLoadSnapshotErrors(t *testing.T) {
	_, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = LoadSnapshot(path)
	assert.ErrorContains(t, err, "bad.json")
}

func TestOptionsFromConfig(t *testing.T) {
	e := config.Default().Engine

	r := Rules(e)
	assert.Equal(t, 30*time.Minute, r.MinBreak)
	assert.Equal(t, 5*time.Minute, r.CommuteBuffer)
	assert.Equal(t, 50.0, r.MaxHoursPerWeek)

	assert.Equal(t, 48*time.Hour, SwapsPolicy(e).Expiry)
	assert.Equal(t, 24*time.Hour, VisibilityOptions(e).DefaultDelay)
	assert.Equal(t, 10, MatcherOptions(e).CandidateLimit)
	assert.True(t, ClaimsPolicy(e).AutoConfirmSameRestaurant)
	assert.Equal(t, []string{"ALCOHOL_SERVICE"}, ClaimsPolicy(e).PositionCertifications["bartender"])

	e.DefaultVisibilityDelayHours = 1.5
	assert.Equal(t, 90*time.Minute, VisibilityOptions(e).DefaultDelay)

	assert.Equal(t, 30*time.Second, CacheTTL(config.CacheConfig{}))
	assert.Equal(t, 5*time.Second, CacheTTL(config.CacheConfig{TTLSeconds: 5}))
}
