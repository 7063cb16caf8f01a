package swaps

import (
	"context"
	"errors"
	"strings"

	"shift-allocation/internal/domain"
	"shift-allocation/internal/engine/authz"
	"shift-allocation/internal/events"
	"shift-allocation/internal/repository"
)

var errSwapExpired = errors.New("swap expired")

// transition is one guarded status change of a swap. apply mutates the swap
// loaded inside the transaction and may execute it.
type transition struct {
	event domain.EventType
	apply func(ctx context.Context, tx repository.Tx, batch *events.Batch, sw *domain.ShiftSwap) error
}

// run loads the swap under the source shift's lock, applies lazy expiry,
// performs t and commits. A swap found past its expiry is persisted as
// EXPIRED in a separate transaction and reported as a Conflict.
func (s *Service) run(ctx context.Context, swapID, actorID string, t transition) (domain.ShiftSwap, error) {
	var batch events.Batch
	var out domain.ShiftSwap
	var source domain.Shift
	now := s.Now()
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		batch.Reset()
		sw, err := tx.GetSwap(ctx, swapID)
		if err != nil {
			return err
		}
		if source, err = tx.LockShift(ctx, sw.SourceShiftID); err != nil {
			return err
		}
		if sw.Expired(now) {
			out = sw
			out.Status = domain.SwapExpired
			return errSwapExpired
		}
		prev := sw.Status
		if err := t.apply(ctx, tx, &batch, &sw); err != nil {
			return err
		}
		if sw.Executed() {
			out = sw
			return nil
		}
		ok, err := tx.UpdateSwap(ctx, sw, prev)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Conflictf("swap %s was changed concurrently", sw.ID).With("swap_id", sw.ID)
		}
		out = sw
		return batch.Record(ctx, tx, swapEvent(t.event, source, sw, actorID, now))
	})
	if errors.Is(err, errSwapExpired) {
		return domain.ShiftSwap{}, s.expired(ctx, out)
	}
	if err != nil {
		return domain.ShiftSwap{}, err
	}
	touched := []string{source.RestaurantID}
	if out.Executed() && out.TargetShiftID != nil {
		if target, err := s.Store.GetShift(ctx, *out.TargetShiftID); err == nil {
			touched = append(touched, target.RestaurantID)
		}
	}
	s.Dispatcher.Committed(ctx, &batch, touched...)
	s.Log.Info(strings.ReplaceAll(string(t.event), ".", "_"), map[string]any{
		"swap_id": out.ID, "actor_id": actorID, "status": string(out.Status),
	})
	if out.Executed() {
		s.executed(out)
	}
	return out, nil
}

// expired persists a lazily detected expiry in its own transaction and returns
// the Conflict reported to the caller.
func (s *Service) expired(ctx context.Context, sw domain.ShiftSwap) error {
	var batch events.Batch
	var source domain.Shift
	now := s.Now()
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		batch.Reset()
		var err error
		if source, err = tx.GetShift(ctx, sw.SourceShiftID); err != nil {
			return err
		}
		ok, err := tx.UpdateSwap(ctx, sw, domain.SwapPending)
		if err != nil || !ok {
			return err
		}
		return batch.Record(ctx, tx, swapEvent(domain.EventSwapExpired, source, sw, authz.SystemActorID, now))
	})
	if err != nil {
		s.Log.Warn("swap_expiry_not_persisted", map[string]any{"swap_id": sw.ID, "error": err.Error()})
	} else {
		s.Dispatcher.Committed(ctx, &batch, source.RestaurantID)
	}
	return domain.Conflictf("swap %s has expired", sw.ID).With("swap_id", sw.ID)
}

// RespondToSwap records the target worker's decision. An accepted swap that
// needs no further approval, or was approved by a manager beforehand, is
// executed right away.
func (s *Service) RespondToSwap(ctx context.Context, actor authz.Actor, swapID, workerID string, accept bool) (domain.ShiftSwap, error) {
	sw, err := s.Store.GetSwap(ctx, swapID)
	if err != nil {
		return domain.ShiftSwap{}, err
	}
	if sw.TargetWorkerID == nil {
		return domain.ShiftSwap{}, domain.Validationf("swap %s has no target worker to respond", sw.ID).With("swap_id", sw.ID)
	}
	if *sw.TargetWorkerID != workerID {
		return domain.ShiftSwap{}, domain.Forbiddenf("swap %s is not addressed to worker %s", sw.ID, workerID).With("swap_id", sw.ID)
	}
	target, err := s.Store.GetWorker(ctx, workerID)
	if err != nil {
		return domain.ShiftSwap{}, err
	}
	if err := s.Authorize(actor, authz.ActionRespondSwap, authz.ForWorker(target.RestaurantID, workerID)); err != nil {
		return domain.ShiftSwap{}, err
	}
	event := domain.EventSwapRejected
	if accept {
		event = domain.EventSwapAccepted
	}
	return s.run(ctx, swapID, workerID, transition{event: event, apply: func(ctx context.Context, tx repository.Tx, batch *events.Batch, sw *domain.ShiftSwap) error {
		if sw.Status != domain.SwapPending {
			return notIn(*sw, domain.SwapPending)
		}
		now := s.Now()
		sw.RespondedAt = &now
		if !accept {
			sw.Status = domain.SwapRejected
			return nil
		}
		sw.Status = domain.SwapAccepted
		if sw.RequiresApproval && (sw.ManagerApproved == nil || !*sw.ManagerApproved) {
			return nil
		}
		return s.acceptAndExecute(ctx, tx, batch, sw, workerID)
	}})
}

// acceptAndExecute writes the ACCEPTED status with its event, then executes.
func (s *Service) acceptAndExecute(ctx context.Context, tx repository.Tx, batch *events.Batch, sw *domain.ShiftSwap, actorID string) error {
	source, err := tx.GetShift(ctx, sw.SourceShiftID)
	if err != nil {
		return err
	}
	ok, err := tx.UpdateSwap(ctx, *sw, domain.SwapPending)
	if err != nil {
		return err
	}
	if !ok {
		return domain.Conflictf("swap %s was changed concurrently", sw.ID).With("swap_id", sw.ID)
	}
	if err := batch.Record(ctx, tx, swapEvent(domain.EventSwapAccepted, source, *sw, actorID, s.Now())); err != nil {
		return err
	}
	done, err := s.executeInTx(ctx, tx, batch, *sw, actorID)
	if err != nil {
		return err
	}
	*sw = done
	return nil
}

// ApproveSwap is the manager's sign-off. An ACCEPTED swap or a pending pool
// drop executes immediately; a direct or trade swap still awaiting its target
// is marked approved and executes once the target accepts.
func (s *Service) ApproveSwap(ctx context.Context, actor authz.Actor, swapID string) (domain.ShiftSwap, error) {
	if err := s.authorizeManager(ctx, actor, authz.ActionApproveSwap, swapID); err != nil {
		return domain.ShiftSwap{}, err
	}
	return s.run(ctx, swapID, actor.ID, transition{event: domain.EventSwapApproved, apply: func(ctx context.Context, tx repository.Tx, batch *events.Batch, sw *domain.ShiftSwap) error {
		if sw.Terminal() || sw.ManagerApproved != nil {
			return notIn(*sw, domain.SwapPending, domain.SwapAccepted)
		}
		approved := true
		sw.ManagerApproved = &approved
		sw.ApprovedBy = &actor.ID
		if sw.Status == domain.SwapPending && sw.Kind() != domain.SwapPoolDrop {
			return nil
		}
		source, err := tx.GetShift(ctx, sw.SourceShiftID)
		if err != nil {
			return err
		}
		if err := batch.Record(ctx, tx, swapEvent(domain.EventSwapApproved, source, *sw, actor.ID, s.Now())); err != nil {
			return err
		}
		done, err := s.executeInTx(ctx, tx, batch, *sw, actor.ID)
		if err != nil {
			return err
		}
		*sw = done
		return nil
	}})
}

func (s *Service) RejectSwap(ctx context.Context, actor authz.Actor, swapID string, reason *string) (domain.ShiftSwap, error) {
	if err := s.authorizeManager(ctx, actor, authz.ActionRejectSwap, swapID); err != nil {
		return domain.ShiftSwap{}, err
	}
	return s.run(ctx, swapID, actor.ID, transition{event: domain.EventSwapRejected, apply: func(_ context.Context, _ repository.Tx, _ *events.Batch, sw *domain.ShiftSwap) error {
		if sw.Terminal() {
			return notIn(*sw, domain.SwapPending, domain.SwapAccepted)
		}
		rejected := false
		now := s.Now()
		sw.Status = domain.SwapRejected
		sw.ManagerApproved = &rejected
		sw.ApprovedBy = &actor.ID
		sw.RespondedAt = &now
		if reason != nil && *reason != "" {
			sw.Reason = *reason
		}
		return nil
	}})
}

// CancelSwap withdraws a PENDING swap; only its originator may do so.
func (s *Service) CancelSwap(ctx context.Context, actor authz.Actor, swapID, workerID string) (domain.ShiftSwap, error) {
	sw, err := s.Store.GetSwap(ctx, swapID)
	if err != nil {
		return domain.ShiftSwap{}, err
	}
	if sw.SourceWorkerID != workerID {
		return domain.ShiftSwap{}, domain.Forbiddenf("only the requesting worker may cancel swap %s", sw.ID).With("swap_id", sw.ID)
	}
	worker, err := s.Store.GetWorker(ctx, workerID)
	if err != nil {
		return domain.ShiftSwap{}, err
	}
	if err := s.Authorize(actor, authz.ActionCancelSwap, authz.ForWorker(worker.RestaurantID, workerID)); err != nil {
		return domain.ShiftSwap{}, err
	}
	return s.run(ctx, swapID, workerID, transition{event: domain.EventSwapCancelled, apply: func(_ context.Context, _ repository.Tx, _ *events.Batch, sw *domain.ShiftSwap) error {
		if sw.Status != domain.SwapPending {
			return notIn(*sw, domain.SwapPending)
		}
		now := s.Now()
		sw.Status = domain.SwapCancelled
		sw.RespondedAt = &now
		return nil
	}})
}

func (s *Service) authorizeManager(ctx context.Context, actor authz.Actor, action authz.Action, swapID string) error {
	sw, err := s.Store.GetSwap(ctx, swapID)
	if err != nil {
		return err
	}
	source, err := s.Store.GetShift(ctx, sw.SourceShiftID)
	if err != nil {
		return err
	}
	return s.Authorize(actor, action, authz.ForRestaurant(source.RestaurantID))
}

// GetSwap reports the swap with lazy expiry applied to its status.
func (s *Service) GetSwap(ctx context.Context, actor authz.Actor, swapID string) (domain.ShiftSwap, error) {
	sw, err := s.Store.GetSwap(ctx, swapID)
	if err != nil {
		return domain.ShiftSwap{}, err
	}
	source, err := s.Store.GetShift(ctx, sw.SourceShiftID)
	if err != nil {
		return domain.ShiftSwap{}, err
	}
	workers := []string{sw.SourceWorkerID}
	if sw.TargetWorkerID != nil {
		workers = append(workers, *sw.TargetWorkerID)
	}
	if err := s.Authorize(actor, authz.ActionViewSwap, authz.ForWorker(source.RestaurantID, workers...)); err != nil {
		return domain.ShiftSwap{}, err
	}
	sw.Status = sw.EffectiveStatus(s.Now())
	return sw, nil
}

func (s *Service) ListSwapsForWorker(ctx context.Context, actor authz.Actor, workerID string) ([]domain.ShiftSwap, error) {
	worker, err := s.Store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if err := s.Authorize(actor, authz.ActionViewWorkerItems, authz.ForWorker(worker.RestaurantID, workerID)); err != nil {
		return nil, err
	}
	swaps, err := s.Store.ListSwapsForWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	for i := range swaps {
		swaps[i].Status = swaps[i].EffectiveStatus(now)
	}
	return swaps, nil
}

func notIn(sw domain.ShiftSwap, want ...domain.SwapStatus) error {
	return domain.Conflictf("swap %s is %s, expected %v", sw.ID, sw.Status, want).With("swap_id", sw.ID)
}
