// Package swaps lets workers hand a held shift to a colleague, trade it for one
// of theirs, or drop it back into the open pool. Execution of a swap happens in
// one transaction so a trade never leaves only one side reassigned.
package swaps

import (
	"context"
	"time"

	"github.com/google/uuid"

	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/common/metrics"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/engine/authz"
	"shift-allocation/internal/engine/conflict"
	"shift-allocation/internal/engine/shiftstate"
	"shift-allocation/internal/events"
	"shift-allocation/internal/repository"
)

type Workflow interface {
	CreateSwap(ctx context.Context, actor authz.Actor, req domain.CreateSwapRequest) (domain.ShiftSwap, error)
	DropToPool(ctx context.Context, actor authz.Actor, shiftID, workerID, reason string) (domain.Shift, error)
	RespondToSwap(ctx context.Context, actor authz.Actor, swapID, workerID string, accept bool) (domain.ShiftSwap, error)
	ApproveSwap(ctx context.Context, actor authz.Actor, swapID string) (domain.ShiftSwap, error)
	RejectSwap(ctx context.Context, actor authz.Actor, swapID string, reason *string) (domain.ShiftSwap, error)
	CancelSwap(ctx context.Context, actor authz.Actor, swapID, workerID string) (domain.ShiftSwap, error)

	GetSwap(ctx context.Context, actor authz.Actor, swapID string) (domain.ShiftSwap, error)
	ListSwapsForWorker(ctx context.Context, actor authz.Actor, workerID string) ([]domain.ShiftSwap, error)
}

type Policy struct {
	Expiry                      time.Duration
	DefaultAutoApproveThreshold float64
}

func DefaultPolicy() Policy {
	return Policy{Expiry: 48 * time.Hour, DefaultAutoApproveThreshold: 4.0}
}

type Deps struct {
	Store      repository.Store
	Detector   conflict.Detector
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
	if d.Policy.Expiry <= 0 {
		d.Policy.Expiry = DefaultPolicy().Expiry
	}
	return &Service{Deps: d}
}

// parties are the entities a swap request refers to, loaded and checked.
type parties struct {
	source      domain.WorkerProfile
	sourceShift domain.Shift
	restaurant  domain.Restaurant
	target      *domain.WorkerProfile
	targetShift *domain.Shift
	touched     []string
}

func (s *Service) CreateSwap(ctx context.Context, actor authz.Actor, req domain.CreateSwapRequest) (domain.ShiftSwap, error) {
	if req.SourceShiftID == "" || req.SourceWorkerID == "" {
		return domain.ShiftSwap{}, domain.Validationf("source shift and source worker are required")
	}
	if req.TargetShiftID != nil && req.TargetWorkerID == nil {
		return domain.ShiftSwap{}, domain.Validationf("a trade needs the worker holding the target shift").With("shift_id", *req.TargetShiftID)
	}
	source, err := s.Store.GetWorker(ctx, req.SourceWorkerID)
	if err != nil {
		return domain.ShiftSwap{}, err
	}
	if err := s.Authorize(actor, authz.ActionCreateSwap, authz.ForWorker(source.RestaurantID, source.ID)); err != nil {
		return domain.ShiftSwap{}, err
	}
	p, err := s.loadParties(ctx, source, req)
	if err != nil {
		return domain.ShiftSwap{}, err
	}
	if err := s.checkOpenSwaps(ctx, p.sourceShift.ID); err != nil {
		return domain.ShiftSwap{}, err
	}

	now := s.Now()
	swap := domain.ShiftSwap{
		ID:               uuid.NewString(),
		SourceShiftID:    p.sourceShift.ID,
		SourceWorkerID:   source.ID,
		TargetShiftID:    req.TargetShiftID,
		TargetWorkerID:   req.TargetWorkerID,
		Status:           domain.SwapPending,
		RequiresApproval: s.requiresApproval(p),
		Reason:           req.Reason,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.Policy.Expiry),
	}

	var batch events.Batch
	err = s.Store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		batch.Reset()
		locked, err := tx.LockShift(ctx, swap.SourceShiftID)
		if err != nil {
			return err
		}
		if err := requireHeld(locked, source.ID); err != nil {
			return err
		}
		if err := tx.InsertSwap(ctx, swap); err != nil {
			return err
		}
		if err := batch.Record(ctx, tx, swapEvent(domain.EventSwapCreated, locked, swap, source.ID, now)); err != nil {
			return err
		}
		if swap.Kind() != domain.SwapPoolDrop || swap.RequiresApproval {
			return nil
		}
		swap, err = s.executeInTx(ctx, tx, &batch, swap, source.ID)
		return err
	})
	if err != nil {
		return domain.ShiftSwap{}, err
	}

	s.Dispatcher.Committed(ctx, &batch, p.touched...)
	metrics.SwapsCreated.WithLabelValues(string(swap.Kind())).Inc()
	s.Log.Info("swap_created", map[string]any{
		"swap_id": swap.ID, "kind": string(swap.Kind()), "shift_id": swap.SourceShiftID,
		"worker_id": source.ID, "requires_approval": swap.RequiresApproval,
	})
	if swap.Executed() {
		s.executed(swap)
	}
	return swap, nil
}

// loadParties validates the request against the current schedule: the source
// worker must hold the source shift, a named target must be qualified and free
// for it, and in a trade the source worker must be qualified and free for the
// target shift once both sides are given up.
func (s *Service) loadParties(ctx context.Context, source domain.WorkerProfile, req domain.CreateSwapRequest) (parties, error) {
	sourceShift, err := s.Store.GetShift(ctx, req.SourceShiftID)
	if err != nil {
		return parties{}, err
	}
	if err := requireHeld(sourceShift, source.ID); err != nil {
		return parties{}, err
	}
	restaurant, err := s.Store.GetRestaurant(ctx, sourceShift.RestaurantID)
	if err != nil {
		return parties{}, err
	}
	p := parties{source: source, sourceShift: sourceShift, restaurant: restaurant, touched: []string{sourceShift.RestaurantID}}
	if req.TargetWorkerID == nil {
		return p, nil
	}

	target, err := s.Store.GetWorker(ctx, *req.TargetWorkerID)
	if err != nil {
		return parties{}, err
	}
	if target.UserID == source.UserID {
		return parties{}, domain.Validationf("cannot swap a shift with yourself").With("worker_id", target.ID)
	}
	if !target.Active() {
		return parties{}, domain.PermanentRulef("worker %s is not active", target.ID).With("worker_id", target.ID)
	}
	if !target.QualifiedFor(sourceShift) {
		return parties{}, domain.PermanentRulef("worker %s is not qualified as %s", target.ID, sourceShift.Position).
			With("worker_id", target.ID).With("shift_id", sourceShift.ID)
	}
	p.target = &target

	incoming := domain.WindowFor(sourceShift)
	if req.TargetShiftID != nil {
		targetShift, err := s.Store.GetShift(ctx, *req.TargetShiftID)
		if err != nil {
			return parties{}, err
		}
		if targetShift.ID == sourceShift.ID {
			return parties{}, domain.Validationf("a trade needs two different shifts").With("shift_id", targetShift.ID)
		}
		if err := requireHeld(targetShift, target.ID); err != nil {
			return parties{}, err
		}
		if !source.QualifiedFor(targetShift) {
			return parties{}, domain.PermanentRulef("worker %s is not qualified as %s", source.ID, targetShift.Position).
				With("worker_id", source.ID).With("shift_id", targetShift.ID)
		}
		incoming.ExcludeShiftIDs = []string{targetShift.ID}
		outgoing := domain.WindowFor(targetShift)
		outgoing.ExcludeShiftIDs = []string{sourceShift.ID}
		if err := s.requireFree(ctx, source.ID, outgoing); err != nil {
			return parties{}, err
		}
		p.targetShift = &targetShift
		p.touched = append(p.touched, targetShift.RestaurantID)
	}
	if err := s.requireFree(ctx, target.ID, incoming); err != nil {
		return parties{}, err
	}
	return p, nil
}

func (s *Service) requireFree(ctx context.Context, workerID string, w domain.ProposedWindow) error {
	return s.requireFreeIn(ctx, s.Store, workerID, w)
}

// requireFreeIn refuses any conflict, informational ones included.
func (s *Service) requireFreeIn(ctx context.Context, r repository.Reader, workerID string, w domain.ProposedWindow) error {
	conflicts, err := s.Detector.DetectConflictsIn(ctx, r, workerID, w)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &domain.SchedulingConflictError{WorkerID: workerID, Conflicts: conflicts}
	}
	return nil
}

// checkOpenSwaps refuses a second live swap on the same shift. Pending swaps
// past their expiry do not count.
func (s *Service) checkOpenSwaps(ctx context.Context, shiftID string) error {
	open, err := s.Store.ListOpenSwapsForShift(ctx, shiftID)
	if err != nil {
		return err
	}
	now := s.Now()
	for _, sw := range open {
		if !sw.Expired(now) {
			return domain.Conflictf("shift %s already has open swap %s", shiftID, sw.ID).With("swap_id", sw.ID)
		}
	}
	return nil
}

// requiresApproval is true for cross-restaurant exchanges, at restaurants that
// disallow unsupervised swaps, and for requesters below the auto-approve threshold.
func (s *Service) requiresApproval(p parties) bool {
	home := p.sourceShift.RestaurantID
	if p.target != nil && p.target.RestaurantID != home {
		return true
	}
	if p.targetShift != nil && p.targetShift.RestaurantID != home {
		return true
	}
	if !p.restaurant.AllowUnsupervisedSwaps {
		return true
	}
	threshold := s.Policy.DefaultAutoApproveThreshold
	if p.restaurant.AutoApproveThreshold != nil {
		threshold = *p.restaurant.AutoApproveThreshold
	}
	return p.source.ReliabilityScore < threshold
}

// DropToPool releases a held shift straight back to the open pool. Swaps still
// open on the shift are cancelled with it.
func (s *Service) DropToPool(ctx context.Context, actor authz.Actor, shiftID, workerID, reason string) (domain.Shift, error) {
	worker, err := s.Store.GetWorker(ctx, workerID)
	if err != nil {
		return domain.Shift{}, err
	}
	if err := s.Authorize(actor, authz.ActionDropShift, authz.ForWorker(worker.RestaurantID, worker.ID)); err != nil {
		return domain.Shift{}, err
	}
	shift, err := s.Store.GetShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if err := requireHeld(shift, worker.ID); err != nil {
		return domain.Shift{}, err
	}

	var batch events.Batch
	var cancelled []string
	now := s.Now()
	err = s.Store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		batch.Reset()
		cancelled = nil
		released, err := s.States.ReleaseToPool(ctx, tx, shiftID, worker.ID, reason)
		if err != nil {
			return err
		}
		shift = released
		e := domain.AllocationEvent{
			Type: domain.EventShiftReleased, RestaurantID: shift.RestaurantID, ShiftID: shift.ID,
			WorkerID: worker.ID, ActorID: worker.ID, Payload: map[string]any{"reason": reason}, OccurredAt: now,
		}
		if err := batch.Record(ctx, tx, e); err != nil {
			return err
		}
		cancelled, err = s.cancelOpenSwaps(ctx, tx, &batch, shift, worker.ID, now)
		return err
	})
	if err != nil {
		return domain.Shift{}, err
	}
	s.Dispatcher.Committed(ctx, &batch, shift.RestaurantID)
	s.Log.Info("shift_dropped", map[string]any{"shift_id": shift.ID, "worker_id": worker.ID, "cancelled_swaps": len(cancelled)})
	return shift, nil
}

func (s *Service) cancelOpenSwaps(ctx context.Context, tx repository.Tx, batch *events.Batch, shift domain.Shift, actorID string, now time.Time) ([]string, error) {
	open, err := tx.ListOpenSwapsForShift(ctx, shift.ID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, sw := range open {
		prev := sw.Status
		sw.Status = domain.SwapCancelled
		sw.RespondedAt = &now
		ok, err := tx.UpdateSwap(ctx, sw, prev)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := batch.Record(ctx, tx, swapEvent(domain.EventSwapCancelled, shift, sw, actorID, now)); err != nil {
			return nil, err
		}
		ids = append(ids, sw.ID)
	}
	return ids, nil
}

// requireHeld accepts only PUBLISHED_CLAIMED or CONFIRMED shifts held by workerID.
func requireHeld(shift domain.Shift, workerID string) error {
	holder, ok := shift.HolderID()
	held := shift.Status == domain.ShiftPublishedClaimed || shift.Status == domain.ShiftConfirmed
	if !ok || !held || holder != workerID {
		return domain.Forbiddenf("worker %s does not hold shift %s", workerID, shift.ID).
			With("shift_id", shift.ID).With("worker_id", workerID)
	}
	return nil
}

func swapEvent(t domain.EventType, shift domain.Shift, sw domain.ShiftSwap, actorID string, at time.Time) domain.AllocationEvent {
	e := domain.AllocationEvent{
		Type: t, RestaurantID: shift.RestaurantID, ShiftID: shift.ID, SwapID: sw.ID,
		WorkerID: sw.SourceWorkerID, ActorID: actorID, OccurredAt: at,
		Payload: map[string]any{"kind": string(sw.Kind()), "status": string(sw.Status)},
	}
	if sw.TargetWorkerID != nil {
		e.Payload["target_worker_id"] = *sw.TargetWorkerID
	}
	if sw.TargetShiftID != nil {
		e.Payload["target_shift_id"] = *sw.TargetShiftID
	}
	return e
}
