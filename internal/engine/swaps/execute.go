package swaps

import (
	"context"
	"sort"

	"shift-allocation/internal/common/metrics"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/events"
	"shift-allocation/internal/repository"
)

// executeInTx applies the reassignment of sw and marks it executed. Both
// shifts of a trade are locked in id order before either is changed; an
// error anywhere leaves the caller's transaction to roll everything back.
func (s *Service) executeInTx(ctx context.Context, tx repository.Tx, batch *events.Batch, sw domain.ShiftSwap, actorID string) (domain.ShiftSwap, error) {
	ids := []string{sw.SourceShiftID}
	if sw.TargetShiftID != nil {
		ids = append(ids, *sw.TargetShiftID)
	}
	sort.Strings(ids)
	locked := make(map[string]domain.Shift, len(ids))
	for _, id := range ids {
		sh, err := tx.LockShift(ctx, id)
		if err != nil {
			return domain.ShiftSwap{}, err
		}
		locked[id] = sh
	}
	if err := requireHeld(locked[sw.SourceShiftID], sw.SourceWorkerID); err != nil {
		return domain.ShiftSwap{}, domain.Conflictf("shift %s changed hands since swap %s was requested", sw.SourceShiftID, sw.ID).
			With("swap_id", sw.ID)
	}

	if err := s.recheck(ctx, tx, sw, locked); err != nil {
		return domain.ShiftSwap{}, err
	}

	now := s.Now()
	var changed []domain.Shift
	switch sw.Kind() {
	case domain.SwapPoolDrop:
		sh, err := s.States.ReleaseToPool(ctx, tx, sw.SourceShiftID, sw.SourceWorkerID, sw.Reason)
		if err != nil {
			return domain.ShiftSwap{}, err
		}
		e := domain.AllocationEvent{
			Type: domain.EventShiftReleased, RestaurantID: sh.RestaurantID, ShiftID: sh.ID, SwapID: sw.ID,
			WorkerID: sw.SourceWorkerID, ActorID: actorID, Payload: map[string]any{"reason": sw.Reason}, OccurredAt: now,
		}
		if err := batch.Record(ctx, tx, e); err != nil {
			return domain.ShiftSwap{}, err
		}
		changed = append(changed, sh)
	case domain.SwapDirect:
		sh, err := s.States.Reassign(ctx, tx, sw.SourceShiftID, sw.SourceWorkerID, *sw.TargetWorkerID, actorID)
		if err != nil {
			return domain.ShiftSwap{}, err
		}
		changed = append(changed, sh)
	case domain.SwapTrade:
		if err := requireHeld(locked[*sw.TargetShiftID], *sw.TargetWorkerID); err != nil {
			return domain.ShiftSwap{}, domain.Conflictf("shift %s changed hands since swap %s was requested", *sw.TargetShiftID, sw.ID).
				With("swap_id", sw.ID)
		}
		first, err := s.States.Reassign(ctx, tx, sw.SourceShiftID, sw.SourceWorkerID, *sw.TargetWorkerID, actorID)
		if err != nil {
			return domain.ShiftSwap{}, err
		}
		second, err := s.States.Reassign(ctx, tx, *sw.TargetShiftID, *sw.TargetWorkerID, sw.SourceWorkerID, actorID)
		if err != nil {
			return domain.ShiftSwap{}, err
		}
		changed = append(changed, first, second)
	}

	prev := sw.Status
	sw.Status = domain.SwapAccepted
	sw.ExecutedAt = &now
	ok, err := tx.UpdateSwap(ctx, sw, prev)
	if err != nil {
		return domain.ShiftSwap{}, err
	}
	if !ok {
		return domain.ShiftSwap{}, domain.Conflictf("swap %s was changed concurrently", sw.ID).With("swap_id", sw.ID)
	}
	for _, sh := range changed {
		e := swapEvent(domain.EventSwapExecuted, sh, sw, actorID, now)
		if holder, held := sh.HolderID(); held {
			e.Payload["holder_id"] = holder
		}
		if err := batch.Record(ctx, tx, e); err != nil {
			return domain.ShiftSwap{}, err
		}
	}
	return sw, nil
}

// recheck runs the conflict rules again against the transaction's view of the
// schedule, for the receiving worker and for the source worker of a trade.
func (s *Service) recheck(ctx context.Context, tx repository.Tx, sw domain.ShiftSwap, locked map[string]domain.Shift) error {
	if sw.TargetWorkerID == nil {
		return nil
	}
	incoming := domain.WindowFor(locked[sw.SourceShiftID])
	if sw.TargetShiftID != nil {
		incoming.ExcludeShiftIDs = []string{*sw.TargetShiftID}
		outgoing := domain.WindowFor(locked[*sw.TargetShiftID])
		outgoing.ExcludeShiftIDs = []string{sw.SourceShiftID}
		if err := s.requireFreeIn(ctx, tx, sw.SourceWorkerID, outgoing); err != nil {
			return err
		}
	}
	return s.requireFreeIn(ctx, tx, *sw.TargetWorkerID, incoming)
}

func (s *Service) executed(sw domain.ShiftSwap) {
	metrics.SwapsExecuted.WithLabelValues(string(sw.Kind())).Inc()
	s.Log.Info("swap_executed", map[string]any{
		"swap_id": sw.ID, "kind": string(sw.Kind()), "shift_id": sw.SourceShiftID, "worker_id": sw.SourceWorkerID,
	})
}
