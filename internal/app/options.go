package app

import (
	"time"

	"shift-allocation/internal/config"
	"shift-allocation/internal/engine/claims"
	"shift-allocation/internal/engine/conflict"
	"shift-allocation/internal/engine/matcher"
	"shift-allocation/internal/engine/network"
	"shift-allocation/internal/engine/swaps"
)

func minutes(v float64) time.Duration { return time.Duration(v * float64(time.Minute)) }
func hours(v float64) time.Duration   { return time.Duration(v * float64(time.Hour)) }

func Rules(e config.EngineConfig) conflict.Rules {
	return conflict.Rules{
		MinBreak:        minutes(e.MinBreakMinutes),
		MaxHoursPerDay:  e.MaxHoursPerDay,
		MaxHoursPerWeek: e.MaxHoursPerWeek,
		CommuteSpeedMPH: e.CommuteSpeedMPH,
		CommuteBuffer:   minutes(e.CommuteBufferMinutes),
	}
}

func MatcherOptions(e config.EngineConfig) matcher.Options {
	return matcher.Options{
		PositionCertifications:  e.PositionCertifications,
		CandidateLimit:          e.CandidateLimit,
		DefaultMaxDistanceMiles: e.DefaultMaxNetworkDistanceMiles,
	}
}

func VisibilityOptions(e config.EngineConfig) network.Options {
	return network.Options{
		DefaultDelay:            hours(e.DefaultVisibilityDelayHours),
		DefaultMaxDistanceMiles: e.DefaultMaxNetworkDistanceMiles,
	}
}

func ClaimsPolicy(e config.EngineConfig) claims.Policy {
	return claims.Policy{
		DefaultAutoApproveThreshold: e.DefaultAutoApproveThreshold,
		AutoConfirmSameRestaurant:   e.AutoConfirmSameRestaurant,
		AutoConfirmCrossRestaurant:  e.AutoConfirmCrossRestaurant,
		PositionCertifications:      e.PositionCertifications,
	}
}

func SwapsPolicy(e config.EngineConfig) swaps.Policy {
	return swaps.Policy{
		Expiry:                      hours(e.SwapExpiryHours),
		DefaultAutoApproveThreshold: e.DefaultAutoApproveThreshold,
	}
}

// CacheTTL falls back to 30 seconds when unset.
func CacheTTL(c config.CacheConfig) time.Duration {
	if c.TTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}
