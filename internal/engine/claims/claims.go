// Package claims runs the workflow of a worker asking to take an open shift:
// claim, approve (by a manager or the auto-approve pipeline), reject and
// withdraw. Approval is the one exactly-once transition; it runs in a single
// transaction holding the shift's row lock.
package claims

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/common/metrics"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/engine/authz"
	"shift-allocation/internal/engine/conflict"
	"shift-allocation/internal/engine/matcher"
	"shift-allocation/internal/engine/network"
	"shift-allocation/internal/engine/shiftstate"
	"shift-allocation/internal/events"
	"shift-allocation/internal/repository"
)

const (
	SiblingRejectionReason = "another claim was approved"
	DefaultRejectionReason = "rejected by manager"
)

type Workflow interface {
	Claim(ctx context.Context, actor authz.Actor, shiftID, workerID, notes string) (domain.ShiftClaim, error)
	ApproveClaim(ctx context.Context, actor authz.Actor, claimID string) (domain.ShiftClaim, error)
	RejectClaim(ctx context.Context, actor authz.Actor, claimID string, reason *string) (domain.ShiftClaim, error)
	WithdrawClaim(ctx context.Context, actor authz.Actor, claimID, workerID string) (domain.ShiftClaim, error)

	GetClaimsForShift(ctx context.Context, actor authz.Actor, shiftID string) ([]domain.ShiftClaim, error)
	GetClaimsByWorker(ctx context.Context, actor authz.Actor, workerID string) ([]domain.ShiftClaim, error)
	GetPendingClaimsForRestaurant(ctx context.Context, actor authz.Actor, restaurantID string) ([]domain.ShiftClaim, error)
}

// Policy carries the engine defaults the workflow needs; restaurants override
// the auto-approve threshold through the store.
type Policy struct {
	DefaultAutoApproveThreshold float64
	AutoConfirmSameRestaurant   bool
	AutoConfirmCrossRestaurant  bool
	PositionCertifications      map[string][]string
}

func DefaultPolicy() Policy {
	return Policy{DefaultAutoApproveThreshold: 4.0, AutoConfirmSameRestaurant: true}
}

type Deps struct {
	Store      repository.Store
	Detector   conflict.Detector
	Matcher    matcher.Matcher
	Visibility network.VisibilityProvider
	States     shiftstate.StateMachine
	Dispatcher events.Dispatcher
	Authorize  authz.Policy
	Log        *logger.Logger
	Now        func() time.Time
	Policy     Policy
}

type Service struct {
	Deps
}

func New(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Authorize == nil {
		d.Authorize = authz.Default
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Dispatcher.Log == nil {
		d.Dispatcher.Log = d.Log
	}
	return &Service{Deps: d}
}

// approval is what the approve pipeline hands back to its caller.
type approval struct {
	claim    domain.ShiftClaim
	shift    domain.Shift
	rejected []string
}

func (s *Service) Claim(ctx context.Context, actor authz.Actor, shiftID, workerID, notes string) (domain.ShiftClaim, error) {
	worker, err := s.Store.GetWorker(ctx, workerID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	if err := s.Authorize(actor, authz.ActionClaim, authz.ForWorker(worker.RestaurantID, worker.ID)); err != nil {
		return domain.ShiftClaim{}, err
	}
	shift, err := s.Store.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	if err := s.checkEligible(ctx, shift, worker); err != nil {
		return domain.ShiftClaim{}, err
	}
	restaurant, err := s.Store.GetRestaurant(ctx, shift.RestaurantID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	base, err := s.Matcher.CalculatePriority(ctx, shift.ID, worker.ID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}

	now := s.Now()
	claim := domain.ShiftClaim{
		ID:              uuid.NewString(),
		ShiftID:         shift.ID,
		WorkerProfileID: worker.ID,
		PriorityScore:   base + matcher.ClaimTimeBonus(shift.PublishedAt, now),
		Status:          domain.ClaimPending,
		Notes:           notes,
		ClaimedAt:       now,
	}
	auto := s.autoApproves(shift, worker, restaurant)

	var batch events.Batch
	var result *approval
	err = s.Store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		batch.Reset()
		result = nil
		locked, err := tx.LockShift(ctx, shift.ID)
		if err != nil {
			return err
		}
		if locked.Status != domain.ShiftPublishedUnassigned {
			return domain.Conflictf("shift %s is no longer open", shift.ID).With("shift_id", shift.ID)
		}
		if err := tx.InsertClaim(ctx, claim); err != nil {
			return err
		}
		if err := batch.Record(ctx, tx, claimEvent(domain.EventClaimCreated, shift, claim, worker.ID, map[string]any{
			"priority_score": claim.PriorityScore,
		})); err != nil {
			return err
		}
		if !auto {
			return nil
		}
		a, err := s.approveInTx(ctx, tx, &batch, claim.ID, authz.SystemActorID)
		if err != nil {
			return err
		}
		result = &a
		return nil
	})
	if err != nil {
		return domain.ShiftClaim{}, err
	}

	s.Dispatcher.Committed(ctx, &batch, shift.RestaurantID)
	metrics.ClaimsCreated.Inc()
	s.Log.Info("claim_created", map[string]any{
		"claim_id": claim.ID, "shift_id": shift.ID, "worker_id": worker.ID, "priority_score": claim.PriorityScore,
	})
	if result == nil {
		return claim, nil
	}
	s.approved(result, true)
	return result.claim, nil
}

// checkEligible runs the claim preconditions that can be decided before the
// transaction. Only blocking conflicts stop a claim; commute, break and hours
// findings are left to full validation.
func (s *Service) checkEligible(ctx context.Context, shift domain.Shift, worker domain.WorkerProfile) error {
	if !worker.Active() {
		return domain.PermanentRulef("worker %s is not active", worker.ID).With("worker_id", worker.ID)
	}
	if shift.Status != domain.ShiftPublishedUnassigned {
		return domain.Conflictf("shift %s is %s and cannot be claimed", shift.ID, shift.Status).With("shift_id", shift.ID)
	}
	if _, found, err := s.Store.FindClaim(ctx, shift.ID, worker.ID); err != nil {
		return err
	} else if found {
		return domain.Conflictf("worker %s already claimed shift %s", worker.ID, shift.ID).
			With("shift_id", shift.ID).With("worker_id", worker.ID)
	}
	cert := matcher.CheckCertification(worker, shift, s.Policy.PositionCertifications)
	if cert.MissingPosition {
		return domain.PermanentRulef("worker %s is not qualified as %s", worker.ID, shift.Position).
			With("shift_id", shift.ID).With("worker_id", worker.ID)
	}
	if !cert.Satisfied {
		return domain.PermanentRulef("worker %s is missing certifications %v", worker.ID, cert.MissingCertifications).
			With("shift_id", shift.ID).With("worker_id", worker.ID)
	}
	if floor := shift.MinReputationScore; floor != nil && worker.ReliabilityScore < *floor {
		return domain.PermanentRulef("shift %s requires a reliability of %.1f, worker has %.1f", shift.ID, *floor, worker.ReliabilityScore).
			With("shift_id", shift.ID).With("worker_id", worker.ID)
	}
	if worker.RestaurantID != shift.RestaurantID {
		v, err := s.Visibility.CanWorkerSeeShift(ctx, worker.ID, shift.ID)
		if err != nil {
			s.Log.Warn("visibility_unavailable", map[string]any{"worker_id": worker.ID, "shift_id": shift.ID, "error": err.Error()})
			return domain.Forbiddenf("visibility of shift %s could not be determined", shift.ID).With("shift_id", shift.ID)
		}
		if !v.IsVisible {
			return domain.Forbiddenf("%s", v.Reason).With("shift_id", shift.ID).With("worker_id", worker.ID)
		}
	}
	conflicts, err := s.Detector.DetectConflicts(ctx, worker.ID, domain.WindowFor(shift))
	if err != nil {
		return err
	}
	if blocking := domain.BlockingConflicts(conflicts); len(blocking) > 0 {
		return &domain.SchedulingConflictError{WorkerID: worker.ID, Conflicts: blocking}
	}
	return nil
}

func (s *Service) autoApproves(shift domain.Shift, worker domain.WorkerProfile, restaurant domain.Restaurant) bool {
	if !shift.AutoApproveEnabled || worker.RestaurantID != shift.RestaurantID {
		return false
	}
	threshold := s.Policy.DefaultAutoApproveThreshold
	if restaurant.AutoApproveThreshold != nil {
		threshold = *restaurant.AutoApproveThreshold
	}
	return worker.ReliabilityScore >= threshold
}

func (s *Service) ApproveClaim(ctx context.Context, actor authz.Actor, claimID string) (domain.ShiftClaim, error) {
	claim, err := s.Store.GetClaim(ctx, claimID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	shift, err := s.Store.GetShift(ctx, claim.ShiftID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	if err := s.Authorize(actor, authz.ActionApproveClaim, authz.ForRestaurant(shift.RestaurantID)); err != nil {
		return domain.ShiftClaim{}, err
	}

	var batch events.Batch
	var result approval
	err = s.Store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		batch.Reset()
		a, err := s.approveInTx(ctx, tx, &batch, claimID, actor.ID)
		result = a
		return err
	})
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	s.Dispatcher.Committed(ctx, &batch, shift.RestaurantID)
	s.approved(&result, false)
	return result.claim, nil
}

// approveInTx is the approval pipeline: lock the shift, approve the claim,
// reject its siblings, assign the shift, then confirm it when policy allows.
// Any failure aborts the surrounding transaction.
func (s *Service) approveInTx(ctx context.Context, tx repository.Tx, batch *events.Batch, claimID, actorID string) (approval, error) {
	claim, err := tx.GetClaim(ctx, claimID)
	if err != nil {
		return approval{}, err
	}
	shift, err := tx.LockShift(ctx, claim.ShiftID)
	if err != nil {
		return approval{}, err
	}
	// re-read under the lock; a concurrent approval may have resolved it
	if claim, err = tx.GetClaim(ctx, claimID); err != nil {
		return approval{}, err
	}
	if claim.Status != domain.ClaimPending {
		return approval{}, alreadyResolved(claim)
	}
	if shift.Status != domain.ShiftPublishedUnassigned {
		return approval{}, domain.Conflictf("shift %s is %s and cannot be assigned", shift.ID, shift.Status).With("shift_id", shift.ID)
	}
	worker, err := tx.GetWorker(ctx, claim.WorkerProfileID)
	if err != nil {
		return approval{}, err
	}
	// the schedule may have changed since the claim was made
	conflicts, err := s.Detector.DetectConflictsIn(ctx, tx, worker.ID, domain.WindowFor(shift))
	if err != nil {
		return approval{}, err
	}
	if blocking := domain.BlockingConflicts(conflicts); len(blocking) > 0 {
		return approval{}, &domain.SchedulingConflictError{WorkerID: worker.ID, Conflicts: blocking}
	}

	now := s.Now()
	ok, err := tx.ResolveClaim(ctx, claim.ID, domain.ClaimApproved, &actorID, nil, now)
	if err != nil {
		return approval{}, err
	}
	if !ok {
		return approval{}, alreadyResolved(claim)
	}
	rejected, err := tx.RejectPendingClaims(ctx, shift.ID, claim.ID, actorID, SiblingRejectionReason, now)
	if err != nil {
		return approval{}, err
	}

	if shift, err = s.States.Assign(ctx, tx, shift.ID, worker.ID, actorID); err != nil {
		return approval{}, err
	}
	if err := batch.Record(ctx, tx, shiftEvent(domain.EventShiftAssigned, shift, worker.ID, actorID, now)); err != nil {
		return approval{}, err
	}
	if s.confirms(shift, worker) {
		if shift, err = s.States.Confirm(ctx, tx, shift.ID, actorID); err != nil {
			return approval{}, err
		}
		if err := batch.Record(ctx, tx, shiftEvent(domain.EventShiftConfirmed, shift, worker.ID, actorID, now)); err != nil {
			return approval{}, err
		}
	}

	if claim, err = tx.GetClaim(ctx, claim.ID); err != nil {
		return approval{}, err
	}
	e := claimEvent(domain.EventClaimApproved, shift, claim, worker.ID, map[string]any{"rejected_claims": rejected})
	e.ActorID = actorID
	if err := batch.Record(ctx, tx, e); err != nil {
		return approval{}, err
	}
	for _, id := range rejected {
		if err := batch.Record(ctx, tx, domain.AllocationEvent{
			Type: domain.EventClaimRejected, RestaurantID: shift.RestaurantID, ShiftID: shift.ID, ClaimID: id,
			ActorID: actorID, Payload: map[string]any{"reason": SiblingRejectionReason}, OccurredAt: now,
		}); err != nil {
			return approval{}, err
		}
	}
	return approval{claim: claim, shift: shift, rejected: rejected}, nil
}

func (s *Service) confirms(shift domain.Shift, worker domain.WorkerProfile) bool {
	if worker.RestaurantID == shift.RestaurantID {
		return s.Policy.AutoConfirmSameRestaurant
	}
	return s.Policy.AutoConfirmCrossRestaurant
}

func (s *Service) approved(a *approval, auto bool) {
	metrics.ClaimsApproved.WithLabelValues(strconv.FormatBool(auto)).Inc()
	metrics.ClaimsRejected.Add(float64(len(a.rejected)))
	s.Log.Info("claim_approved", map[string]any{
		"claim_id": a.claim.ID, "shift_id": a.shift.ID, "worker_id": a.claim.WorkerProfileID,
		"shift_status": string(a.shift.Status), "rejected": len(a.rejected), "auto": auto,
	})
}

func (s *Service) RejectClaim(ctx context.Context, actor authz.Actor, claimID string, reason *string) (domain.ShiftClaim, error) {
	claim, err := s.Store.GetClaim(ctx, claimID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	shift, err := s.Store.GetShift(ctx, claim.ShiftID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	if err := s.Authorize(actor, authz.ActionRejectClaim, authz.ForRestaurant(shift.RestaurantID)); err != nil {
		return domain.ShiftClaim{}, err
	}
	if reason == nil || *reason == "" {
		reason = domain.StringPtr(DefaultRejectionReason)
	}
	claim, err = s.resolve(ctx, shift, claim, domain.ClaimRejected, actor.ID, reason, domain.EventClaimRejected)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	metrics.ClaimsRejected.Inc()
	s.Log.Info("claim_rejected", map[string]any{"claim_id": claim.ID, "shift_id": shift.ID, "actor_id": actor.ID, "reason": *reason})
	return claim, nil
}

func (s *Service) WithdrawClaim(ctx context.Context, actor authz.Actor, claimID, workerID string) (domain.ShiftClaim, error) {
	claim, err := s.Store.GetClaim(ctx, claimID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	shift, err := s.Store.GetShift(ctx, claim.ShiftID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	if claim.WorkerProfileID != workerID {
		return domain.ShiftClaim{}, domain.Forbiddenf("claim %s does not belong to worker %s", claim.ID, workerID).With("claim_id", claim.ID)
	}
	worker, err := s.Store.GetWorker(ctx, workerID)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	if err := s.Authorize(actor, authz.ActionWithdrawClaim, authz.ForWorker(worker.RestaurantID, workerID)); err != nil {
		return domain.ShiftClaim{}, err
	}
	claim, err = s.resolve(ctx, shift, claim, domain.ClaimWithdrawn, workerID, nil, domain.EventClaimWithdrawn)
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	metrics.ClaimsWithdrawn.Inc()
	s.Log.Info("claim_withdrawn", map[string]any{"claim_id": claim.ID, "shift_id": shift.ID, "worker_id": workerID})
	return claim, nil
}

// resolve moves a PENDING claim to a terminal status and records the event.
func (s *Service) resolve(ctx context.Context, shift domain.Shift, claim domain.ShiftClaim, to domain.ClaimStatus, actorID string, reason *string, et domain.EventType) (domain.ShiftClaim, error) {
	var batch events.Batch
	var out domain.ShiftClaim
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		batch.Reset()
		ok, err := tx.ResolveClaim(ctx, claim.ID, to, &actorID, reason, s.Now())
		if err != nil {
			return err
		}
		if !ok {
			current, err := tx.GetClaim(ctx, claim.ID)
			if err != nil {
				return err
			}
			return alreadyResolved(current)
		}
		if out, err = tx.GetClaim(ctx, claim.ID); err != nil {
			return err
		}
		e := claimEvent(et, shift, out, out.WorkerProfileID, nil)
		e.ActorID = actorID
		if reason != nil {
			e.Payload = map[string]any{"reason": *reason}
		}
		return batch.Record(ctx, tx, e)
	})
	if err != nil {
		return domain.ShiftClaim{}, err
	}
	s.Dispatcher.Committed(ctx, &batch, shift.RestaurantID)
	return out, nil
}

func (s *Service) GetClaimsForShift(ctx context.Context, actor authz.Actor, shiftID string) ([]domain.ShiftClaim, error) {
	shift, err := s.Store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if err := s.Authorize(actor, authz.ActionViewShiftClaims, authz.ForRestaurant(shift.RestaurantID)); err != nil {
		return nil, err
	}
	return s.Store.ListClaimsForShift(ctx, shiftID)
}

func (s *Service) GetClaimsByWorker(ctx context.Context, actor authz.Actor, workerID string) ([]domain.ShiftClaim, error) {
	worker, err := s.Store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if err := s.Authorize(actor, authz.ActionViewWorkerItems, authz.ForWorker(worker.RestaurantID, worker.ID)); err != nil {
		return nil, err
	}
	return s.Store.ListClaimsByWorker(ctx, workerID)
}

func (s *Service) GetPendingClaimsForRestaurant(ctx context.Context, actor authz.Actor, restaurantID string) ([]domain.ShiftClaim, error) {
	if _, err := s.Store.GetRestaurant(ctx, restaurantID); err != nil {
		return nil, err
	}
	if err := s.Authorize(actor, authz.ActionViewShiftClaims, authz.ForRestaurant(restaurantID)); err != nil {
		return nil, err
	}
	return s.Store.ListPendingClaimsForRestaurant(ctx, restaurantID)
}

func alreadyResolved(c domain.ShiftClaim) error {
	return domain.Conflictf("claim %s is already %s", c.ID, c.Status).With("claim_id", c.ID)
}

func claimEvent(t domain.EventType, shift domain.Shift, c domain.ShiftClaim, workerID string, payload map[string]any) domain.AllocationEvent {
	at := c.ClaimedAt
	if c.ResolvedAt != nil {
		at = *c.ResolvedAt
	}
	return domain.AllocationEvent{
		Type: t, RestaurantID: shift.RestaurantID, ShiftID: shift.ID, ClaimID: c.ID,
		WorkerID: workerID, ActorID: workerID, Payload: payload, OccurredAt: at,
	}
}

func shiftEvent(t domain.EventType, shift domain.Shift, workerID, actorID string, at time.Time) domain.AllocationEvent {
	return domain.AllocationEvent{
		Type: t, RestaurantID: shift.RestaurantID, ShiftID: shift.ID, WorkerID: workerID, ActorID: actorID,
		Payload: map[string]any{"status": string(shift.Status)}, OccurredAt: at,
	}
}
