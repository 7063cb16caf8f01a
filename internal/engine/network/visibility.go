package network

import (
	"context"
	"fmt"
	"time"

	"shift-allocation/internal/cache"
	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/repository"
)

// VisibilityProvider gates which cross-restaurant shifts a worker may see.
type VisibilityProvider interface {
	CanWorkerSeeShift(ctx context.Context, workerID, shiftID string) (domain.Visibility, error)
	GetVisibleNetworkShifts(ctx context.Context, workerID, restaurantID string) ([]domain.Shift, error)
	GetShiftVisibilityPhase(ctx context.Context, shift domain.Shift) (domain.VisibilityPhase, error)
}

// Options hold the defaults used when a network leaves a setting unset.
type Options struct {
	DefaultDelay            time.Duration
	DefaultMaxDistanceMiles float64
}

type VisibilityService struct {
	store      repository.Reader
	reputation ReputationProvider
	cache      *cache.ShiftCache
	opts       Options
	now        func() time.Time
	log        *logger.Logger
}

func NewVisibilityService(store repository.Reader, reputation ReputationProvider, shiftCache *cache.ShiftCache, opts Options, now func() time.Time, log *logger.Logger) *VisibilityService {
	if now == nil {
		now = time.Now
	}
	return &VisibilityService{store: store, reputation: reputation, cache: shiftCache, opts: opts, now: now, log: log}
}

func (s *VisibilityService) delay(n *domain.Network) time.Duration {
	if n != nil && n.VisibilityDelayHours != nil {
		return time.Duration(*n.VisibilityDelayHours * float64(time.Hour))
	}
	return s.opts.DefaultDelay
}

// MaxDistanceMiles is the network radius, falling back to the default.
func (s *VisibilityService) MaxDistanceMiles(n domain.Network) float64 {
	if n.MaxDistanceMiles != nil {
		return *n.MaxDistanceMiles
	}
	return s.opts.DefaultMaxDistanceMiles
}

// networkOf returns the restaurant's network, or nil when it has none.
func (s *VisibilityService) networkOf(ctx context.Context, r domain.Restaurant) (*domain.Network, error) {
	if r.NetworkID == nil {
		return nil, nil
	}
	n, err := s.store.GetNetwork(ctx, *r.NetworkID)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetShiftVisibilityPhase is OWN_ONLY until publishedAt plus the network delay
// has passed, NETWORK afterwards. Unpublished shifts and restaurants outside a
// network stay OWN_ONLY.
func (s *VisibilityService) GetShiftVisibilityPhase(ctx context.Context, shift domain.Shift) (domain.VisibilityPhase, error) {
	r, err := s.store.GetRestaurant(ctx, shift.RestaurantID)
	if err != nil {
		return "", err
	}
	n, err := s.networkOf(ctx, r)
	if err != nil {
		return "", err
	}
	return s.phase(shift, n), nil
}

func (s *VisibilityService) phase(shift domain.Shift, n *domain.Network) domain.VisibilityPhase {
	if n == nil || shift.PublishedAt == nil {
		return domain.PhaseOwnOnly
	}
	if s.now().Before(shift.PublishedAt.Add(s.delay(n))) {
		return domain.PhaseOwnOnly
	}
	return domain.PhaseNetwork
}

func (s *VisibilityService) CanWorkerSeeShift(ctx context.Context, workerID, shiftID string) (domain.Visibility, error) {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return domain.Visibility{}, err
	}
	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return domain.Visibility{}, err
	}
	if shift.Status == domain.ShiftUnpublished {
		return hidden("shift is not published"), nil
	}
	if shift.RestaurantID == worker.RestaurantID {
		return domain.Visibility{IsVisible: true}, nil
	}
	rs, err := s.store.GetRestaurants(ctx, []string{shift.RestaurantID, worker.RestaurantID})
	if err != nil {
		return domain.Visibility{}, fmt.Errorf("failed to load restaurants: %w", err)
	}
	at, ok := rs[shift.RestaurantID]
	if !ok {
		return domain.Visibility{}, domain.NotFound("restaurant", shift.RestaurantID)
	}
	home, ok := rs[worker.RestaurantID]
	if !ok {
		return domain.Visibility{}, domain.NotFound("restaurant", worker.RestaurantID)
	}
	return s.evaluate(ctx, worker, shift, home, at)
}

// evaluate applies the network rules to a shift outside the worker's home restaurant.
func (s *VisibilityService) evaluate(ctx context.Context, worker domain.WorkerProfile, shift domain.Shift, home, at domain.Restaurant) (domain.Visibility, error) {
	if at.NetworkID == nil || home.NetworkID == nil || *at.NetworkID != *home.NetworkID {
		return hidden("restaurant is not in your network"), nil
	}
	n, err := s.networkOf(ctx, at)
	if err != nil {
		return domain.Visibility{}, err
	}
	if !n.AllowCrossRestaurantShifts {
		return hidden("network does not allow cross-restaurant shifts"), nil
	}
	if s.phase(shift, n) == domain.PhaseOwnOnly {
		opensAt := "once published"
		if shift.PublishedAt != nil {
			opensAt = shift.PublishedAt.Add(s.delay(n)).UTC().Format(time.RFC3339)
		}
		return hidden("shift is offered to home restaurant workers until " + opensAt), nil
	}
	if miles, ok := domain.DistanceMiles(home, at); ok {
		if limit := s.MaxDistanceMiles(*n); miles > limit {
			return hidden(fmt.Sprintf("restaurant is %.1f miles away, network limit is %.1f", miles, limit)), nil
		}
	} else {
		s.log.Debug("distance_check_skipped", map[string]any{"shift_id": shift.ID, "worker_id": worker.ID})
	}
	if n.MinNetworkReputation != nil {
		rep, err := s.reputation.CalculateNetworkReputation(ctx, worker.ID)
		if err != nil {
			return domain.Visibility{}, fmt.Errorf("reputation of worker %s: %w", worker.ID, err)
		}
		if rep.Score < *n.MinNetworkReputation {
			return hidden(fmt.Sprintf("network reputation %.1f is below the required %.1f", rep.Score, *n.MinNetworkReputation)), nil
		}
	}
	return domain.Visibility{IsVisible: true}, nil
}

// GetVisibleNetworkShifts lists open shifts at the other restaurants of the
// network of restaurantID that the worker may currently see. Open shifts are
// read through the advisory cache.
func (s *VisibilityService) GetVisibleNetworkShifts(ctx context.Context, workerID, restaurantID string) ([]domain.Shift, error) {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	home, err := s.store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if home.NetworkID == nil {
		return nil, nil
	}
	members, err := s.store.ListNetworkRestaurants(ctx, *home.NetworkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list network %s: %w", *home.NetworkID, err)
	}
	now := s.now()
	var out []domain.Shift
	for _, r := range members {
		if r.ID == restaurantID {
			continue
		}
		open, err := s.openShifts(ctx, r.ID, now)
		if err != nil {
			return nil, err
		}
		for _, sh := range open {
			if !sh.StartTime.After(now) {
				continue
			}
			v, err := s.evaluate(ctx, worker, sh, home, r)
			if err != nil {
				return nil, err
			}
			if v.IsVisible {
				out = append(out, sh)
			}
		}
	}
	return out, nil
}

func (s *VisibilityService) openShifts(ctx context.Context, restaurantID string, now time.Time) ([]domain.Shift, error) {
	load := func(ctx context.Context) ([]domain.Shift, error) {
		return s.store.FindOpenShifts(ctx, []string{restaurantID}, now)
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.OpenShifts(ctx, restaurantID, load)
}

func hidden(reason string) domain.Visibility {
	return domain.Visibility{IsVisible: false, Reason: reason}
}
