package matcher

import (
	"math"
	"time"

	"shift-allocation/internal/domain"
)

const (
	ownRestaurantBonus  = 1000
	primaryTierBonus    = 100
	reliabilityWeight   = 100
	topReliability      = 4.5
	topReliabilityBonus = 50
	noShowPenalty       = 25
	maxClaimTimeBonus   = 60
)

// PriorityInput is everything the base priority formula looks at.
type PriorityInput struct {
	SameRestaurant bool
	Tier           domain.WorkerTier
	Reliability    float64
	NoShows        int
	// ReputationTier only counts for cross-restaurant claims.
	ReputationTier domain.ReputationTier
}

func InputFor(shift domain.Shift, worker domain.WorkerProfile, rep *domain.NetworkReputation) PriorityInput {
	in := PriorityInput{
		SameRestaurant: worker.RestaurantID == shift.RestaurantID,
		Tier:           worker.Tier,
		Reliability:    worker.ReliabilityScore,
		NoShows:        worker.NoShowCount,
	}
	if rep != nil && !in.SameRestaurant {
		in.ReputationTier = rep.Tier
	}
	return in
}

// PriorityScore is the additive claim priority, never below zero. The claim
// time bonus is not part of it.
func PriorityScore(in PriorityInput) int {
	score := 0
	if in.SameRestaurant {
		score += ownRestaurantBonus
	}
	if in.Tier == domain.TierPrimary {
		score += primaryTierBonus
	}
	score += int(math.Round(in.Reliability * reliabilityWeight))
	if in.Reliability > topReliability {
		score += topReliabilityBonus
	}
	score -= noShowPenalty * in.NoShows
	if !in.SameRestaurant {
		score += ReputationBonus(in.ReputationTier)
	}
	if score < 0 {
		return 0
	}
	return score
}

func ReputationBonus(tier domain.ReputationTier) int {
	switch tier {
	case domain.ReputationPlatinum:
		return 100
	case domain.ReputationGold:
		return 75
	case domain.ReputationSilver:
		return 50
	case domain.ReputationBronze:
		return 25
	}
	return 0
}

// ClaimTimeBonus rewards early claims: 60 points at publication, one less per
// full hour after it, never below zero.
func ClaimTimeBonus(publishedAt *time.Time, claimedAt time.Time) int {
	if publishedAt == nil {
		return 0
	}
	hours := int(claimedAt.Sub(*publishedAt) / time.Hour)
	if hours < 0 {
		hours = 0
	}
	if hours >= maxClaimTimeBonus {
		return 0
	}
	return maxClaimTimeBonus - hours
}
