package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/engine/conflict"
	"shift-allocation/internal/engine/network"
	"shift-allocation/internal/repository"
	tu "shift-allocation/internal/testutil"
)

type visibilityMock struct {
	canSee func(ctx context.Context, workerID, shiftID string) (domain.Visibility, error)
	phase  func(ctx context.Context, shift domain.Shift) (domain.VisibilityPhase, error)
}

func (m *visibilityMock) CanWorkerSeeShift(ctx context.Context, workerID, shiftID string) (domain.Visibility, error) {
	return m.canSee(ctx, workerID, shiftID)
}

func (m *visibilityMock) GetVisibleNetworkShifts(context.Context, string, string) ([]domain.Shift, error) {
	return nil, nil
}

func (m *visibilityMock) GetShiftVisibilityPhase(ctx context.Context, shift domain.Shift) (domain.VisibilityPhase, error) {
	return m.phase(ctx, shift)
}

func visibleIn(phase domain.VisibilityPhase) *visibilityMock {
	return &visibilityMock{
		canSee: func(context.Context, string, string) (domain.Visibility, error) {
			return domain.Visibility{IsVisible: true}, nil
		},
		phase: func(context.Context, domain.Shift) (domain.VisibilityPhase, error) { return phase, nil },
	}
}

var positions = map[string][]string{"bartender": {"ALCOHOL_SERVICE"}}

// a, b and d work at X, c at Y; d is on approved leave on Thursday.
func newMatcher(t *testing.T, vis network.VisibilityProvider, values ...any) (*MatcherService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	tu.Seed(store,
		domain.Network{ID: "n1", AllowCrossRestaurantShifts: true},
		tu.Restaurant("X", tu.Located(tu.LatX, tu.LonX), tu.InNetwork("n1")),
		tu.Restaurant("Y", tu.Located(tu.LatY, tu.LonY), tu.InNetwork("n1")),
		tu.Worker("a", "ua", "X", tu.Reliability(4.8)),
		tu.Worker("b", "ub", "X", tu.Reliability(3.0), tu.NoShows(2)),
		tu.Worker("c", "uc", "Y", tu.Reliability(4.0)),
		tu.Worker("d", "ud", "X", tu.Reliability(4.0)),
		domain.TimeOffRequest{ID: "leave", WorkerProfileID: "d", StartTime: tu.At(tu.Day(3), 0, 0), EndTime: tu.At(tu.Day(4), 0, 0)},
		tu.Shift("s1", "X", tu.At(tu.Day(3), 9, 0), tu.At(tu.Day(3), 17, 0)),
	)
	tu.Seed(store, values...)
	detector := conflict.NewConflictService(store, conflict.DefaultRules(), logger.Nop())
	m := NewMatcherService(store, detector, vis, network.NewReputationService(store),
		Options{PositionCertifications: positions, DefaultMaxDistanceMiles: 25}, logger.Nop())
	return m, store
}

func TestPriorityScore(t *testing.T) {
	tests := []struct {
		name string
		in   PriorityInput
		want int
	}{
		{"own primary top performer", PriorityInput{SameRestaurant: true, Tier: domain.TierPrimary, Reliability: 4.8}, 1630},
		{"exactly 4.5 earns no top bonus", PriorityInput{SameRestaurant: true, Tier: domain.TierSecondary, Reliability: 4.5}, 1450},
		{"cross restaurant gold", PriorityInput{Tier: domain.TierPrimary, Reliability: 4.0, ReputationTier: domain.ReputationGold}, 575},
		{"reputation ignored at home", PriorityInput{SameRestaurant: true, Reliability: 1.0, ReputationTier: domain.ReputationPlatinum}, 1100},
		{"floored at zero", PriorityInput{Tier: domain.TierSecondary, Reliability: 0.2, NoShows: 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PriorityScore(tt.in))
		})
	}
}

func TestPriorityMonotonicInReliability(t *testing.T) {
	prev := -1
	for r := 0; r <= 50; r++ {
		in := PriorityInput{Tier: domain.TierSecondary, Reliability: float64(r) / 10, NoShows: 1}
		got := PriorityScore(in)
		assert.GreaterOrEqual(t, got, prev, "reliability %.1f", in.Reliability)
		prev = got
	}
}

func TestPriorityNoShowPenalty(t *testing.T) {
	base := PriorityInput{SameRestaurant: true, Tier: domain.TierPrimary, Reliability: 4.0}
	for n := 0; n < 20; n++ {
		in, next := base, base
		in.NoShows, next.NoShows = n, n+1
		assert.Equal(t, 25, PriorityScore(in)-PriorityScore(next), "no-shows %d", n)
	}
	base.NoShows = 1000
	assert.Equal(t, 0, PriorityScore(base))
}

func TestClaimTimeBonus(t *testing.T) {
	published := tu.At(tu.Monday, 8, 0)
	tests := []struct {
		name    string
		claimed time.Time
		want    int
	}{
		{"at publication", published, 60},
		{"59 minutes later", published.Add(59 * time.Minute), 60},
		{"ten hours later", published.Add(10 * time.Hour), 50},
		{"three days later", published.Add(72 * time.Hour), 0},
		{"before publication", published.Add(-time.Hour), 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClaimTimeBonus(&published, tt.claimed))
		})
	}
	assert.Equal(t, 0, ClaimTimeBonus(nil, published))
}

func TestCheckCertification(t *testing.T) {
	shift := tu.Shift("bar", "X", tu.At(tu.Day(3), 18, 0), tu.At(tu.Day(3), 23, 0), tu.Position("bartender"))
	expiresMidShift := tu.At(tu.Day(3), 20, 0)
	expiresLater := tu.At(tu.Day(30), 0, 0)

	tests := []struct {
		name   string
		worker domain.WorkerProfile
		want   CertificationCheck
	}{
		{"no position", tu.Worker("w", "u", "X"), CertificationCheck{MissingPosition: true}},
		{"position without certificate", tu.Worker("w", "u", "X", tu.Positions("bartender")),
			CertificationCheck{MissingCertifications: []string{"ALCOHOL_SERVICE"}}},
		{"certificate expires during the shift", tu.Worker("w", "u", "X", tu.Positions("bartender"), tu.Certified("ALCOHOL_SERVICE", &expiresMidShift)),
			CertificationCheck{MissingCertifications: []string{"ALCOHOL_SERVICE"}}},
		{"valid certificate", tu.Worker("w", "u", "X", tu.Positions("bartender"), tu.Certified("ALCOHOL_SERVICE", &expiresLater)),
			CertificationCheck{Satisfied: true}},
		{"cross-trained and certified", tu.Worker("w", "u", "Y", tu.CrossTrained("X", "bartender"), tu.Certified("ALCOHOL_SERVICE", nil)),
			CertificationCheck{Satisfied: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckCertification(tt.worker, shift, positions))
		})
	}
}

func TestValidateClaim(t *testing.T) {
	m, _ := newMatcher(t, visibleIn(domain.PhaseNetwork),
		tu.Shift("bar", "X", tu.At(tu.Day(3), 18, 0), tu.At(tu.Day(3), 23, 0), tu.Position("bartender")),
		tu.Shift("picky", "X", tu.At(tu.Day(4), 9, 0), tu.At(tu.Day(4), 17, 0), tu.MinReputation(4.5)),
	)
	ctx := context.Background()

	v, err := m.ValidateClaim(ctx, "s1", "a")
	require.NoError(t, err)
	assert.True(t, v.CanClaim)
	assert.Equal(t, 1630, v.PriorityScore)
	assert.Nil(t, v.NetworkReputation)

	v, err = m.ValidateClaim(ctx, "s1", "d")
	require.NoError(t, err)
	assert.False(t, v.CanClaim)
	require.Len(t, v.Conflicts, 1)
	assert.Equal(t, domain.ConflictTimeOff, v.Conflicts[0].Type)
	assert.True(t, v.Certification.Satisfied, "certification is evaluated alongside conflicts")
	assert.Equal(t, 1500, v.PriorityScore)

	v, err = m.ValidateClaim(ctx, "bar", "a")
	require.NoError(t, err)
	assert.False(t, v.CanClaim)
	assert.True(t, v.Certification.MissingPosition)

	v, err = m.ValidateClaim(ctx, "picky", "b")
	require.NoError(t, err)
	assert.False(t, v.CanClaim)
	assert.Equal(t, 4.5, *v.ReputationShortfall)

	v, err = m.ValidateClaim(ctx, "s1", "c")
	require.NoError(t, err)
	assert.True(t, v.CanClaim)
	require.NotNil(t, v.NetworkReputation)
	assert.Equal(t, domain.ReputationGold, v.NetworkReputation.Tier)
	assert.Equal(t, 575, v.PriorityScore)

	_, err = m.ValidateClaim(ctx, "s1", "ghost")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestValidateClaimVisibilityShortCircuits(t *testing.T) {
	calls := 0
	vis := &visibilityMock{canSee: func(context.Context, string, string) (domain.Visibility, error) {
		calls++
		return domain.Visibility{Reason: "shift is offered to home restaurant workers first"}, nil
	}}
	m, _ := newMatcher(t, vis)

	v, err := m.ValidateClaim(context.Background(), "s1", "c")
	require.NoError(t, err)
	assert.False(t, v.CanClaim)
	assert.Equal(t, "shift is offered to home restaurant workers first", v.VisibilityReason)
	assert.Empty(t, v.Conflicts)
	assert.Zero(t, v.PriorityScore)

	_, err = m.ValidateClaim(context.Background(), "s1", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "home workers skip the visibility gate")

	vis.canSee = func(context.Context, string, string) (domain.Visibility, error) {
		return domain.Visibility{}, errors.New("provider down")
	}
	v, err = m.ValidateClaim(context.Background(), "s1", "c")
	require.NoError(t, err)
	assert.False(t, v.CanClaim)
	assert.NotEmpty(t, v.VisibilityReason)
}

func candidateIDs(cs []RankedCandidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.WorkerID)
	}
	return out
}

func TestFindCandidates(t *testing.T) {
	tests := []struct {
		name  string
		phase domain.VisibilityPhase
		opts  domain.CandidateOptions
		want  []string
	}{
		{"home restaurant only", domain.PhaseNetwork, domain.CandidateOptions{}, []string{"a", "b", "d"}},
		{"network during own-only phase", domain.PhaseOwnOnly, domain.CandidateOptions{IncludeNetwork: true}, []string{"a", "b", "d"}},
		{"network phase", domain.PhaseNetwork, domain.CandidateOptions{IncludeNetwork: true}, []string{"a", "b", "c", "d"}},
		{"limited", domain.PhaseNetwork, domain.CandidateOptions{IncludeNetwork: true, Limit: 2}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newMatcher(t, visibleIn(tt.phase))
			got, err := m.FindCandidates(context.Background(), "s1", tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, candidateIDs(got))
		})
	}
}

func TestFindCandidatesNeverOffersWorkersOnLeave(t *testing.T) {
	m, _ := newMatcher(t, visibleIn(domain.PhaseNetwork))
	got, err := m.FindCandidates(context.Background(), "s1", domain.CandidateOptions{IncludeNetwork: true})
	require.NoError(t, err)
	for _, c := range got {
		if c.WorkerID == "d" {
			assert.False(t, c.Available)
			assert.False(t, c.CanClaim)
		} else {
			assert.True(t, c.Available, c.WorkerID)
		}
	}
}

func TestFindCandidatesRespectsNetworkSettings(t *testing.T) {
	m, store := newMatcher(t, visibleIn(domain.PhaseNetwork))
	store.PutNetwork(domain.Network{ID: "n1", AllowCrossRestaurantShifts: true, MaxDistanceMiles: domain.Float64Ptr(2)})

	got, err := m.FindCandidates(context.Background(), "s1", domain.CandidateOptions{IncludeNetwork: true})
	require.NoError(t, err)
	assert.NotContains(t, candidateIDs(got), "c", "Y is five miles away")

	store.PutNetwork(domain.Network{ID: "n1"})
	got, err = m.FindCandidates(context.Background(), "s1", domain.CandidateOptions{IncludeNetwork: true})
	require.NoError(t, err)
	assert.NotContains(t, candidateIDs(got), "c")
}

func TestFindCandidatesDedupesUsers(t *testing.T) {
	m, _ := newMatcher(t, visibleIn(domain.PhaseNetwork), tu.Worker("a-y", "ua", "Y", tu.Reliability(4.8)))
	got, err := m.FindCandidates(context.Background(), "s1", domain.CandidateOptions{IncludeNetwork: true})
	require.NoError(t, err)
	assert.NotContains(t, candidateIDs(got), "a-y")
}
