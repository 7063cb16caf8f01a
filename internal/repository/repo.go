package repository

import (
	"context"
	"time"

	"shift-allocation/internal/domain"
)

// Reader exposes the purpose-built queries the engine needs. Lookups of a
// single entity return a domain NotFound error when the id is unknown.
type Reader interface {
	GetShift(ctx context.Context, id string) (domain.Shift, error)
	GetWorker(ctx context.Context, id string) (domain.WorkerProfile, error)
	GetRestaurant(ctx context.Context, id string) (domain.Restaurant, error)
	// GetRestaurants returns the known restaurants keyed by id; unknown ids are absent.
	GetRestaurants(ctx context.Context, ids []string) (map[string]domain.Restaurant, error)
	GetNetwork(ctx context.Context, id string) (domain.Network, error)
	ListNetworkRestaurants(ctx context.Context, networkID string) ([]domain.Restaurant, error)
	ListProfilesForUser(ctx context.Context, userID string) ([]domain.WorkerProfile, error)

	// FindShiftsForUser returns shifts held (assigned or claimed) by any profile
	// of userID that intersect [from, to), ordered by start time.
	FindShiftsForUser(ctx context.Context, userID string, from, to time.Time) ([]domain.Shift, error)
	FindApprovedTimeOff(ctx context.Context, userID string, from, to time.Time) ([]domain.TimeOffRequest, error)
	// FindQualifiedWorkers returns active profiles able to work position at
	// restaurantID: home profiles holding it plus cross-trained ones.
	FindQualifiedWorkers(ctx context.Context, restaurantID, position string) ([]domain.WorkerProfile, error)
	// FindOpenShifts returns PUBLISHED_UNASSIGNED shifts starting after from.
	FindOpenShifts(ctx context.Context, restaurantIDs []string, from time.Time) ([]domain.Shift, error)

	GetClaim(ctx context.Context, id string) (domain.ShiftClaim, error)
	FindClaim(ctx context.Context, shiftID, workerID string) (domain.ShiftClaim, bool, error)
	// ListClaimsForShift orders by priority desc, then claimed_at asc.
	ListClaimsForShift(ctx context.Context, shiftID string) ([]domain.ShiftClaim, error)
	// ListClaimsByWorker orders by claimed_at desc.
	ListClaimsByWorker(ctx context.Context, workerID string) ([]domain.ShiftClaim, error)
	// ListPendingClaimsForRestaurant orders by shift start, priority desc, claimed_at asc.
	ListPendingClaimsForRestaurant(ctx context.Context, restaurantID string) ([]domain.ShiftClaim, error)

	GetSwap(ctx context.Context, id string) (domain.ShiftSwap, error)
	// ListOpenSwapsForShift returns swaps on the shift that are PENDING or ACCEPTED and not executed.
	ListOpenSwapsForShift(ctx context.Context, shiftID string) ([]domain.ShiftSwap, error)
	// ListSwapsForWorker returns swaps where the worker is source or target, newest first.
	ListSwapsForWorker(ctx context.Context, workerID string) ([]domain.ShiftSwap, error)
}

// Writer holds the mutations; they are only reachable inside a transaction.
type Writer interface {
	// LockShift reads the shift and holds a row lock until the transaction ends.
	LockShift(ctx context.Context, id string) (domain.Shift, error)
	UpdateShift(ctx context.Context, s domain.Shift) error

	// InsertClaim fails with a domain Conflict when (shift, worker) already has a claim.
	InsertClaim(ctx context.Context, c domain.ShiftClaim) error
	// ResolveClaim moves a PENDING claim to a terminal status. It reports false
	// when the claim was no longer PENDING.
	ResolveClaim(ctx context.Context, id string, to domain.ClaimStatus, actorID, reason *string, at time.Time) (bool, error)
	// RejectPendingClaims rejects every PENDING claim of the shift except one and
	// returns the ids it rejected.
	RejectPendingClaims(ctx context.Context, shiftID, exceptClaimID, actorID, reason string, at time.Time) ([]string, error)

	InsertSwap(ctx context.Context, s domain.ShiftSwap) error
	// UpdateSwap writes s only if the stored status still equals expected.
	UpdateSwap(ctx context.Context, s domain.ShiftSwap, expected domain.SwapStatus) (bool, error)

	AppendEvent(ctx context.Context, e domain.AllocationEvent) error
}

type Tx interface {
	Reader
	Writer
}

// Store is the data store collaborator. InTx runs fn as one all-or-nothing
// unit: any error returned by fn rolls every write back.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
