// Package shiftstate moves a shift through its assignment states. Every
// transition locks the shift row in the caller's transaction and writes the
// new state back; recording events is left to the workflow that owns the
// transaction.
package shiftstate

import (
	"context"

	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/repository"
)

type StateMachine interface {
	// Assign gives an open shift to workerID, leaving it PUBLISHED_CLAIMED.
	Assign(ctx context.Context, tx repository.Tx, shiftID, workerID, actorID string) (domain.Shift, error)
	// Confirm turns a PUBLISHED_CLAIMED shift into a CONFIRMED assignment.
	Confirm(ctx context.Context, tx repository.Tx, shiftID, actorID string) (domain.Shift, error)
	// Reassign moves a held shift from one worker to another without changing its status.
	Reassign(ctx context.Context, tx repository.Tx, shiftID, fromWorkerID, toWorkerID, actorID string) (domain.Shift, error)
	// ReleaseToPool returns a held shift to PUBLISHED_UNASSIGNED.
	ReleaseToPool(ctx context.Context, tx repository.Tx, shiftID, workerID, reason string) (domain.Shift, error)
}

type Machine struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Machine {
	return &Machine{log: log}
}

func (m *Machine) Assign(ctx context.Context, tx repository.Tx, shiftID, workerID, actorID string) (domain.Shift, error) {
	s, err := tx.LockShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if s.Status != domain.ShiftPublishedUnassigned {
		return domain.Shift{}, invalid(s, domain.ShiftPublishedClaimed)
	}
	s.Status = domain.ShiftPublishedClaimed
	s.ClaimedWorkerID = &workerID
	s.AssignedWorkerID = nil
	return m.write(ctx, tx, s, "shift_assigned", actorID)
}

func (m *Machine) Confirm(ctx context.Context, tx repository.Tx, shiftID, actorID string) (domain.Shift, error) {
	s, err := tx.LockShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if s.Status != domain.ShiftPublishedClaimed || s.ClaimedWorkerID == nil {
		return domain.Shift{}, invalid(s, domain.ShiftConfirmed)
	}
	s.Status = domain.ShiftConfirmed
	s.AssignedWorkerID = s.ClaimedWorkerID
	s.ClaimedWorkerID = nil
	return m.write(ctx, tx, s, "shift_confirmed", actorID)
}

func (m *Machine) Reassign(ctx context.Context, tx repository.Tx, shiftID, fromWorkerID, toWorkerID, actorID string) (domain.Shift, error) {
	s, err := tx.LockShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if err := requireHolder(s, fromWorkerID); err != nil {
		return domain.Shift{}, err
	}
	if s.Status == domain.ShiftConfirmed {
		s.AssignedWorkerID = &toWorkerID
	} else {
		s.ClaimedWorkerID = &toWorkerID
	}
	return m.write(ctx, tx, s, "shift_reassigned", actorID)
}

func (m *Machine) ReleaseToPool(ctx context.Context, tx repository.Tx, shiftID, workerID, reason string) (domain.Shift, error) {
	s, err := tx.LockShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if err := requireHolder(s, workerID); err != nil {
		return domain.Shift{}, err
	}
	s.Status = domain.ShiftPublishedUnassigned
	s.AssignedWorkerID = nil
	s.ClaimedWorkerID = nil
	m.log.Debug("shift_release_reason", map[string]any{"shift_id": s.ID, "reason": reason})
	return m.write(ctx, tx, s, "shift_released", workerID)
}

func (m *Machine) write(ctx context.Context, tx repository.Tx, s domain.Shift, action, actorID string) (domain.Shift, error) {
	if err := tx.UpdateShift(ctx, s); err != nil {
		return domain.Shift{}, err
	}
	holder, _ := s.HolderID()
	m.log.Info(action, map[string]any{"shift_id": s.ID, "status": string(s.Status), "worker_id": holder, "actor_id": actorID})
	return s, nil
}

// requireHolder accepts only PUBLISHED_CLAIMED and CONFIRMED shifts held by workerID.
func requireHolder(s domain.Shift, workerID string) error {
	if s.Status != domain.ShiftPublishedClaimed && s.Status != domain.ShiftConfirmed {
		return domain.Conflictf("shift %s is %s and cannot change hands", s.ID, s.Status).With("shift_id", s.ID)
	}
	if holder, ok := s.HolderID(); !ok || holder != workerID {
		return domain.Conflictf("shift %s is not held by worker %s", s.ID, workerID).With("shift_id", s.ID)
	}
	return nil
}

func invalid(s domain.Shift, to domain.ShiftStatus) error {
	return domain.Conflictf("shift %s cannot move from %s to %s", s.ID, s.Status, to).With("shift_id", s.ID)
}
