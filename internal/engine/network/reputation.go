package network

import (
	"context"
	"fmt"
	"math"

	"shift-allocation/internal/domain"
	"shift-allocation/internal/repository"
)

// ReputationProvider rates a worker across the whole network.
type ReputationProvider interface {
	CalculateNetworkReputation(ctx context.Context, workerID string) (domain.NetworkReputation, error)
}

// ReputationService derives reputation from every profile of the worker's user:
// mean reliability scaled to 0..100, minus five points per recorded no-show.
type ReputationService struct {
	store repository.Reader
}

func NewReputationService(store repository.Reader) *ReputationService {
	return &ReputationService{store: store}
}

func (s *ReputationService) CalculateNetworkReputation(ctx context.Context, workerID string) (domain.NetworkReputation, error) {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return domain.NetworkReputation{}, err
	}
	profiles, err := s.store.ListProfilesForUser(ctx, worker.UserID)
	if err != nil {
		return domain.NetworkReputation{}, fmt.Errorf("failed to load profiles of user %s: %w", worker.UserID, err)
	}
	if len(profiles) == 0 {
		profiles = []domain.WorkerProfile{worker}
	}
	var reliability float64
	var noShows int
	for _, p := range profiles {
		reliability += p.ReliabilityScore
		noShows += p.NoShowCount
	}
	score := reliability/float64(len(profiles))*20 - float64(noShows)*5
	score = math.Max(0, math.Min(100, score))
	return domain.NetworkReputation{Score: math.Round(score*10) / 10, Tier: TierFor(score)}, nil
}

// TierFor bands a 0..100 reputation score.
func TierFor(score float64) domain.ReputationTier {
	switch {
	case score >= 90:
		return domain.ReputationPlatinum
	case score >= 75:
		return domain.ReputationGold
	case score >= 60:
		return domain.ReputationSilver
	}
	return domain.ReputationBronze
}
