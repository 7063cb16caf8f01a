// Package matcher scores, validates and ranks workers for a shift.
package matcher

import (
	"context"
	"fmt"
	"sort"

	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/engine/conflict"
	"shift-allocation/internal/engine/network"
	"shift-allocation/internal/repository"
)

const defaultCandidateLimit = 10

type Matcher interface {
	CalculatePriority(ctx context.Context, shiftID, workerID string) (int, error)
	ValidateClaim(ctx context.Context, shiftID, workerID string) (ClaimValidation, error)
	FindCandidates(ctx context.Context, shiftID string, opts domain.CandidateOptions) ([]RankedCandidate, error)
}

type Options struct {
	// PositionCertifications maps a position to the certification types it requires.
	PositionCertifications  map[string][]string
	CandidateLimit          int
	DefaultMaxDistanceMiles float64
}

type ClaimValidation struct {
	CanClaim          bool                      `json:"can_claim"`
	PriorityScore     int                       `json:"priority_score"`
	Conflicts         []domain.Conflict         `json:"conflicts"`
	Certification     CertificationCheck        `json:"certification"`
	NetworkReputation *domain.NetworkReputation `json:"network_reputation,omitempty"`
	// VisibilityReason is set when the worker may not see the shift; nothing
	// else is evaluated then.
	VisibilityReason string `json:"visibility_reason,omitempty"`
	// ReputationShortfall is the shift's minimum reputation when the worker is below it.
	ReputationShortfall *float64 `json:"reputation_shortfall,omitempty"`
}

type RankedCandidate struct {
	WorkerID     string `json:"worker_id"`
	UserID       string `json:"user_id"`
	RestaurantID string `json:"restaurant_id"`
	// Available is false when any scheduling conflict was found.
	Available bool `json:"available"`
	ClaimValidation
}

type MatcherService struct {
	store      repository.Reader
	detector   conflict.Detector
	visibility network.VisibilityProvider
	reputation network.ReputationProvider
	opts       Options
	log        *logger.Logger
}

func NewMatcherService(store repository.Reader, detector conflict.Detector, visibility network.VisibilityProvider, reputation network.ReputationProvider, opts Options, log *logger.Logger) *MatcherService {
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = defaultCandidateLimit
	}
	return &MatcherService{store: store, detector: detector, visibility: visibility, reputation: reputation, opts: opts, log: log}
}

func (m *MatcherService) load(ctx context.Context, shiftID, workerID string) (domain.Shift, domain.WorkerProfile, error) {
	shift, err := m.store.GetShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, domain.WorkerProfile{}, err
	}
	worker, err := m.store.GetWorker(ctx, workerID)
	if err != nil {
		return domain.Shift{}, domain.WorkerProfile{}, err
	}
	return shift, worker, nil
}

func (m *MatcherService) CalculatePriority(ctx context.Context, shiftID, workerID string) (int, error) {
	shift, worker, err := m.load(ctx, shiftID, workerID)
	if err != nil {
		return 0, err
	}
	score, _ := m.priority(ctx, shift, worker)
	return score, nil
}

// priority looks up the network reputation for cross-restaurant workers. An
// unavailable reputation provider costs the bonus, not the claim.
func (m *MatcherService) priority(ctx context.Context, shift domain.Shift, worker domain.WorkerProfile) (int, *domain.NetworkReputation) {
	var rep *domain.NetworkReputation
	if worker.RestaurantID != shift.RestaurantID {
		r, err := m.reputation.CalculateNetworkReputation(ctx, worker.ID)
		if err != nil {
			m.log.Warn("reputation_unavailable", map[string]any{"worker_id": worker.ID, "shift_id": shift.ID, "error": err.Error()})
		} else {
			rep = &r
		}
	}
	return PriorityScore(InputFor(shift, worker, rep)), rep
}

func (m *MatcherService) ValidateClaim(ctx context.Context, shiftID, workerID string) (ClaimValidation, error) {
	shift, worker, err := m.load(ctx, shiftID, workerID)
	if err != nil {
		return ClaimValidation{}, err
	}
	return m.validate(ctx, shift, worker)
}

func (m *MatcherService) validate(ctx context.Context, shift domain.Shift, worker domain.WorkerProfile) (ClaimValidation, error) {
	if worker.RestaurantID != shift.RestaurantID {
		v, err := m.visibility.CanWorkerSeeShift(ctx, worker.ID, shift.ID)
		if err != nil {
			m.log.Warn("visibility_unavailable", map[string]any{"worker_id": worker.ID, "shift_id": shift.ID, "error": err.Error()})
			return ClaimValidation{VisibilityReason: "shift visibility could not be determined"}, nil
		}
		if !v.IsVisible {
			return ClaimValidation{VisibilityReason: v.Reason}, nil
		}
	}

	conflicts, err := m.detector.DetectConflicts(ctx, worker.ID, domain.WindowFor(shift))
	if err != nil {
		return ClaimValidation{}, fmt.Errorf("conflicts of worker %s for shift %s: %w", worker.ID, shift.ID, err)
	}
	out := ClaimValidation{
		Conflicts:     conflicts,
		Certification: CheckCertification(worker, shift, m.opts.PositionCertifications),
	}
	if shift.MinReputationScore != nil && worker.ReliabilityScore < *shift.MinReputationScore {
		out.ReputationShortfall = shift.MinReputationScore
	}
	out.PriorityScore, out.NetworkReputation = m.priority(ctx, shift, worker)
	out.CanClaim = len(conflicts) == 0 && out.Certification.Satisfied && out.ReputationShortfall == nil
	return out, nil
}

// FindCandidates ranks qualified workers of the shift's restaurant and, once
// the shift has reached the network phase, of nearby network restaurants.
// Workers the shift is hidden from are left out.
func (m *MatcherService) FindCandidates(ctx context.Context, shiftID string, opts domain.CandidateOptions) ([]RankedCandidate, error) {
	shift, err := m.store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	restaurant, err := m.store.GetRestaurant(ctx, shift.RestaurantID)
	if err != nil {
		return nil, err
	}
	pool, err := m.store.FindQualifiedWorkers(ctx, shift.RestaurantID, shift.Position)
	if err != nil {
		return nil, fmt.Errorf("failed to load workers of %s: %w", shift.RestaurantID, err)
	}
	if opts.IncludeNetwork {
		more, err := m.networkWorkers(ctx, shift, restaurant)
		if err != nil {
			return nil, err
		}
		pool = append(pool, more...)
	}

	seen := make(map[string]bool, len(pool))
	var out []RankedCandidate
	for _, w := range pool {
		if seen[w.UserID] || !w.Active() {
			continue
		}
		seen[w.UserID] = true
		v, err := m.validate(ctx, shift, w)
		if err != nil {
			return nil, err
		}
		if v.VisibilityReason != "" {
			continue
		}
		out = append(out, RankedCandidate{
			WorkerID:        w.ID,
			UserID:          w.UserID,
			RestaurantID:    w.RestaurantID,
			Available:       len(v.Conflicts) == 0,
			ClaimValidation: v,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Available != b.Available {
			return a.Available
		}
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		return a.WorkerID < b.WorkerID
	})
	limit := opts.Limit
	if limit <= 0 {
		limit = m.opts.CandidateLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MatcherService) networkWorkers(ctx context.Context, shift domain.Shift, home domain.Restaurant) ([]domain.WorkerProfile, error) {
	if home.NetworkID == nil {
		return nil, nil
	}
	n, err := m.store.GetNetwork(ctx, *home.NetworkID)
	if err != nil {
		return nil, err
	}
	if !n.AllowCrossRestaurantShifts {
		return nil, nil
	}
	phase, err := m.visibility.GetShiftVisibilityPhase(ctx, shift)
	if err != nil {
		return nil, fmt.Errorf("visibility phase of shift %s: %w", shift.ID, err)
	}
	if phase != domain.PhaseNetwork {
		return nil, nil
	}
	limit := m.opts.DefaultMaxDistanceMiles
	if n.MaxDistanceMiles != nil {
		limit = *n.MaxDistanceMiles
	}
	members, err := m.store.ListNetworkRestaurants(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list network %s: %w", n.ID, err)
	}
	var out []domain.WorkerProfile
	for _, r := range members {
		if r.ID == home.ID {
			continue
		}
		if miles, ok := domain.DistanceMiles(home, r); ok && miles > limit {
			continue
		}
		ws, err := m.store.FindQualifiedWorkers(ctx, r.ID, shift.Position)
		if err != nil {
			return nil, fmt.Errorf("failed to load workers of %s: %w", r.ID, err)
		}
		for _, w := range ws {
			if w.QualifiedFor(shift) {
				out = append(out, w)
			}
		}
	}
	return out, nil
}
