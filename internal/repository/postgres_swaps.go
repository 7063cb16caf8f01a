package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"shift-allocation/internal/domain"
)

const swapColumns = `sw.id, sw.source_shift_id, sw.source_worker_id, sw.target_shift_id, sw.target_worker_id,
	sw.status, sw.requires_approval, sw.reason, sw.created_at, sw.expires_at, sw.responded_at,
	sw.manager_approved, sw.approved_by, sw.executed_at`

func scanSwap(row pgx.Row) (domain.ShiftSwap, error) {
	var s domain.ShiftSwap
	var status string
	err := row.Scan(&s.ID, &s.SourceShiftID, &s.SourceWorkerID, &s.TargetShiftID, &s.TargetWorkerID,
		&status, &s.RequiresApproval, &s.Reason, &s.CreatedAt, &s.ExpiresAt, &s.RespondedAt,
		&s.ManagerApproved, &s.ApprovedBy, &s.ExecutedAt)
	s.Status = domain.SwapStatus(status)
	return s, err
}

func (q *queries) listSwaps(ctx context.Context, sql string, args ...any) ([]domain.ShiftSwap, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query swaps: %w", err)
	}
	defer rows.Close()
	var out []domain.ShiftSwap
	for rows.Next() {
		s, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swap: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *queries) GetSwap(ctx context.Context, id string) (domain.ShiftSwap, error) {
	s, err := scanSwap(q.db.QueryRow(ctx, `SELECT `+swapColumns+` FROM shift_swaps sw WHERE sw.id = $1`, id))
	if err != nil {
		return domain.ShiftSwap{}, notFoundOr(err, "swap", id)
	}
	return s, nil
}

func (q *queries) ListOpenSwapsForShift(ctx context.Context, shiftID string) ([]domain.ShiftSwap, error) {
	return q.listSwaps(ctx, `SELECT `+swapColumns+` FROM shift_swaps sw
		WHERE (sw.source_shift_id = $1 OR sw.target_shift_id = $1)
		  AND (sw.status = 'PENDING' OR (sw.status = 'ACCEPTED' AND sw.executed_at IS NULL))
		ORDER BY sw.created_at`, shiftID)
}

func (q *queries) ListSwapsForWorker(ctx context.Context, workerID string) ([]domain.ShiftSwap, error) {
	return q.listSwaps(ctx, `SELECT `+swapColumns+` FROM shift_swaps sw
		WHERE sw.source_worker_id = $1 OR sw.target_worker_id = $1
		ORDER BY sw.created_at DESC`, workerID)
}

func (q *queries) InsertSwap(ctx context.Context, s domain.ShiftSwap) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO shift_swaps (id, source_shift_id, source_worker_id, target_shift_id, target_worker_id,
			status, requires_approval, reason, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.SourceShiftID, s.SourceWorkerID, s.TargetShiftID, s.TargetWorkerID,
		string(s.Status), s.RequiresApproval, s.Reason, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert swap: %w", err)
	}
	return nil
}

func (q *queries) UpdateSwap(ctx context.Context, s domain.ShiftSwap, expected domain.SwapStatus) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE shift_swaps
		SET status = $2, responded_at = $3, manager_approved = $4, approved_by = $5, executed_at = $6, reason = $8
		WHERE id = $1 AND status = $7
	`, s.ID, string(s.Status), s.RespondedAt, s.ManagerApproved, s.ApprovedBy, s.ExecutedAt, string(expected), s.Reason)
	if err != nil {
		return false, fmt.Errorf("failed to update swap %s: %w", s.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}
