package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"shift-allocation/internal/domain"
)

const claimColumns = `c.id, c.shift_id, c.worker_profile_id, c.priority_score, c.status, c.notes,
	c.claimed_at, c.resolved_at, c.resolved_by, c.rejection_reason`

func scanClaim(row pgx.Row) (domain.ShiftClaim, error) {
	var c domain.ShiftClaim
	var status string
	err := row.Scan(&c.ID, &c.ShiftID, &c.WorkerProfileID, &c.PriorityScore, &status, &c.Notes,
		&c.ClaimedAt, &c.ResolvedAt, &c.ResolvedBy, &c.RejectionReason)
	c.Status = domain.ClaimStatus(status)
	return c, err
}

func (q *queries) listClaims(ctx context.Context, sql string, args ...any) ([]domain.ShiftClaim, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()
	var out []domain.ShiftClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *queries) GetClaim(ctx context.Context, id string) (domain.ShiftClaim, error) {
	c, err := scanClaim(q.db.QueryRow(ctx, `SELECT `+claimColumns+` FROM shift_claims c WHERE c.id = $1`, id))
	if err != nil {
		return domain.ShiftClaim{}, notFoundOr(err, "claim", id)
	}
	return c, nil
}

func (q *queries) FindClaim(ctx context.Context, shiftID, workerID string) (domain.ShiftClaim, bool, error) {
	c, err := scanClaim(q.db.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM shift_claims c WHERE c.shift_id = $1 AND c.worker_profile_id = $2`, shiftID, workerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ShiftClaim{}, false, nil
	}
	if err != nil {
		return domain.ShiftClaim{}, false, fmt.Errorf("failed to load claim: %w", err)
	}
	return c, true, nil
}

func (q *queries) ListClaimsForShift(ctx context.Context, shiftID string) ([]domain.ShiftClaim, error) {
	return q.listClaims(ctx, `SELECT `+claimColumns+` FROM shift_claims c WHERE c.shift_id = $1
		ORDER BY c.priority_score DESC, c.claimed_at ASC`, shiftID)
}

func (q *queries) ListClaimsByWorker(ctx context.Context, workerID string) ([]domain.ShiftClaim, error) {
	return q.listClaims(ctx, `SELECT `+claimColumns+` FROM shift_claims c WHERE c.worker_profile_id = $1
		ORDER BY c.claimed_at DESC`, workerID)
}

func (q *queries) ListPendingClaimsForRestaurant(ctx context.Context, restaurantID string) ([]domain.ShiftClaim, error) {
	return q.listClaims(ctx, `SELECT `+claimColumns+` FROM shift_claims c
		JOIN shifts s ON s.id = c.shift_id
		WHERE s.restaurant_id = $1 AND c.status = 'PENDING'
		ORDER BY s.start_time ASC, c.priority_score DESC, c.claimed_at ASC`, restaurantID)
}

func (q *queries) InsertClaim(ctx context.Context, c domain.ShiftClaim) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO shift_claims (id, shift_id, worker_profile_id, priority_score, status, notes, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.ShiftID, c.WorkerProfileID, c.PriorityScore, string(c.Status), c.Notes, c.ClaimedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.Conflictf("worker already claimed this shift").
			With("shift_id", c.ShiftID).With("worker_id", c.WorkerProfileID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

func (q *queries) ResolveClaim(ctx context.Context, id string, to domain.ClaimStatus, actorID, reason *string, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE shift_claims SET status = $2, resolved_by = $3, rejection_reason = $4, resolved_at = $5
		WHERE id = $1 AND status = 'PENDING'
	`, id, string(to), actorID, reason, at)
	if err != nil {
		return false, fmt.Errorf("failed to resolve claim %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) RejectPendingClaims(ctx context.Context, shiftID, exceptClaimID, actorID, reason string, at time.Time) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		UPDATE shift_claims SET status = 'REJECTED', resolved_by = $3, rejection_reason = $4, resolved_at = $5
		WHERE shift_id = $1 AND id <> $2 AND status = 'PENDING'
		RETURNING id
	`, shiftID, exceptClaimID, actorID, reason, at)
	if err != nil {
		return nil, fmt.Errorf("failed to reject sibling claims of shift %s: %w", shiftID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect rejected claims: %w", err)
	}
	return ids, nil
}
