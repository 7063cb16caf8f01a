package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"shift-allocation/internal/domain"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DBTX that can open transactions.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

const uniqueViolation = "23505"

type PostgresStore struct {
	*queries
	pool Pool
}

func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{queries: &queries{db: pool}, pool: pool}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(ctx, &queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queries implements Tx over either the pool or an open transaction.
type queries struct {
	db DBTX
}

func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound(entity, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", entity, id, err)
}

const shiftColumns = `s.id, s.restaurant_id, s.position, s.start_time, s.end_time, s.status,
	s.assigned_worker_id, s.claimed_worker_id, s.min_reputation_score, s.auto_approve_enabled, s.published_at`

func scanShift(row pgx.Row) (domain.Shift, error) {
	var s domain.Shift
	var status string
	err := row.Scan(&s.ID, &s.RestaurantID, &s.Position, &s.StartTime, &s.EndTime, &status,
		&s.AssignedWorkerID, &s.ClaimedWorkerID, &s.MinReputationScore, &s.AutoApproveEnabled, &s.PublishedAt)
	s.Status = domain.ShiftStatus(status)
	return s, err
}

func collectShifts(rows pgx.Rows) ([]domain.Shift, error) {
	defer rows.Close()
	var out []domain.Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shift: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *queries) GetShift(ctx context.Context, id string) (domain.Shift, error) {
	s, err := scanShift(q.db.QueryRow(ctx, `SELECT `+shiftColumns+` FROM shifts s WHERE s.id = $1`, id))
	if err != nil {
		return domain.Shift{}, notFoundOr(err, "shift", id)
	}
	return s, nil
}

func (q *queries) LockShift(ctx context.Context, id string) (domain.Shift, error) {
	s, err := scanShift(q.db.QueryRow(ctx, `SELECT `+shiftColumns+` FROM shifts s WHERE s.id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Shift{}, notFoundOr(err, "shift", id)
	}
	return s, nil
}

func (q *queries) UpdateShift(ctx context.Context, s domain.Shift) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE shifts SET status = $2, assigned_worker_id = $3, claimed_worker_id = $4, updated_at = now()
		WHERE id = $1
	`, s.ID, string(s.Status), s.AssignedWorkerID, s.ClaimedWorkerID)
	if err != nil {
		return fmt.Errorf("failed to update shift %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("shift", s.ID)
	}
	return nil
}

func (q *queries) FindShiftsForUser(ctx context.Context, userID string, from, to time.Time) ([]domain.Shift, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts s
		JOIN worker_profiles w ON w.id = COALESCE(s.assigned_worker_id, s.claimed_worker_id)
		WHERE w.user_id = $1 AND s.start_time < $3 AND s.end_time > $2
		ORDER BY s.start_time
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query shifts for user %s: %w", userID, err)
	}
	return collectShifts(rows)
}

func (q *queries) FindOpenShifts(ctx context.Context, restaurantIDs []string, from time.Time) ([]domain.Shift, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts s
		WHERE s.restaurant_id = ANY($1) AND s.status = 'PUBLISHED_UNASSIGNED' AND s.start_time > $2
		ORDER BY s.start_time
	`, restaurantIDs, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query open shifts: %w", err)
	}
	return collectShifts(rows)
}

const workerColumns = `w.id, w.user_id, w.restaurant_id, w.positions, w.certifications, w.cross_training,
	w.reliability_score, w.tier, w.no_show_count, w.status`

func scanWorker(row pgx.Row) (domain.WorkerProfile, error) {
	var w domain.WorkerProfile
	var certs, cross []byte
	var tier, status string
	if err := row.Scan(&w.ID, &w.UserID, &w.RestaurantID, &w.Positions, &certs, &cross,
		&w.ReliabilityScore, &tier, &w.NoShowCount, &status); err != nil {
		return w, err
	}
	w.Tier = domain.WorkerTier(tier)
	w.Status = domain.WorkerStatus(status)
	if len(certs) > 0 {
		if err := json.Unmarshal(certs, &w.Certifications); err != nil {
			return w, fmt.Errorf("decode certifications of worker %s: %w", w.ID, err)
		}
	}
	if len(cross) > 0 {
		if err := json.Unmarshal(cross, &w.CrossTraining); err != nil {
			return w, fmt.Errorf("decode cross training of worker %s: %w", w.ID, err)
		}
	}
	return w, nil
}

func collectWorkers(rows pgx.Rows) ([]domain.WorkerProfile, error) {
	defer rows.Close()
	var out []domain.WorkerProfile
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (q *queries) GetWorker(ctx context.Context, id string) (domain.WorkerProfile, error) {
	w, err := scanWorker(q.db.QueryRow(ctx, `SELECT `+workerColumns+` FROM worker_profiles w WHERE w.id = $1`, id))
	if err != nil {
		return domain.WorkerProfile{}, notFoundOr(err, "worker", id)
	}
	return w, nil
}

func (q *queries) ListProfilesForUser(ctx context.Context, userID string) ([]domain.WorkerProfile, error) {
	rows, err := q.db.Query(ctx, `SELECT `+workerColumns+` FROM worker_profiles w WHERE w.user_id = $1 ORDER BY w.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles of user %s: %w", userID, err)
	}
	return collectWorkers(rows)
}

func (q *queries) FindQualifiedWorkers(ctx context.Context, restaurantID, position string) ([]domain.WorkerProfile, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+workerColumns+`
		FROM worker_profiles w
		WHERE w.status = 'ACTIVE' AND (
			(w.restaurant_id = $1 AND $2 = ANY(w.positions))
			OR w.cross_training @> jsonb_build_array(jsonb_build_object('restaurant_id', $1::text, 'position', $2::text))
		)
		ORDER BY w.id
	`, restaurantID, position)
	if err != nil {
		return nil, fmt.Errorf("failed to query qualified workers: %w", err)
	}
	return collectWorkers(rows)
}

func (q *queries) FindApprovedTimeOff(ctx context.Context, userID string, from, to time.Time) ([]domain.TimeOffRequest, error) {
	rows, err := q.db.Query(ctx, `
		SELECT t.id, t.worker_profile_id, t.start_time, t.end_time
		FROM time_off_requests t
		JOIN worker_profiles w ON w.id = t.worker_profile_id
		WHERE w.user_id = $1 AND t.status = 'APPROVED' AND t.start_time < $3 AND t.end_time > $2
		ORDER BY t.start_time
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query time off for user %s: %w", userID, err)
	}
	defer rows.Close()
	var out []domain.TimeOffRequest
	for rows.Next() {
		var t domain.TimeOffRequest
		if err := rows.Scan(&t.ID, &t.WorkerProfileID, &t.StartTime, &t.EndTime); err != nil {
			return nil, fmt.Errorf("failed to scan time off: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const restaurantColumns = `r.id, r.name, r.network_id, r.latitude, r.longitude, r.timezone,
	r.auto_approve_threshold, r.allow_unsupervised_swaps`

func scanRestaurant(row pgx.Row) (domain.Restaurant, error) {
	var r domain.Restaurant
	err := row.Scan(&r.ID, &r.Name, &r.NetworkID, &r.Latitude, &r.Longitude, &r.Timezone,
		&r.AutoApproveThreshold, &r.AllowUnsupervisedSwaps)
	return r, err
}

func (q *queries) GetRestaurant(ctx context.Context, id string) (domain.Restaurant, error) {
	r, err := scanRestaurant(q.db.QueryRow(ctx, `SELECT `+restaurantColumns+` FROM restaurants r WHERE r.id = $1`, id))
	if err != nil {
		return domain.Restaurant{}, notFoundOr(err, "restaurant", id)
	}
	return r, nil
}

func (q *queries) queryRestaurants(ctx context.Context, sql string, arg any) ([]domain.Restaurant, error) {
	rows, err := q.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query restaurants: %w", err)
	}
	defer rows.Close()
	var out []domain.Restaurant
	for rows.Next() {
		r, err := scanRestaurant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan restaurant: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *queries) GetRestaurants(ctx context.Context, ids []string) (map[string]domain.Restaurant, error) {
	list, err := q.queryRestaurants(ctx, `SELECT `+restaurantColumns+` FROM restaurants r WHERE r.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Restaurant, len(list))
	for _, r := range list {
		out[r.ID] = r
	}
	return out, nil
}

func (q *queries) ListNetworkRestaurants(ctx context.Context, networkID string) ([]domain.Restaurant, error) {
	return q.queryRestaurants(ctx, `SELECT `+restaurantColumns+` FROM restaurants r WHERE r.network_id = $1 ORDER BY r.id`, networkID)
}

func (q *queries) GetNetwork(ctx context.Context, id string) (domain.Network, error) {
	var n domain.Network
	err := q.db.QueryRow(ctx, `
		SELECT id, name, allow_cross_restaurant_shifts, max_distance_miles, visibility_delay_hours, min_network_reputation
		FROM networks WHERE id = $1
	`, id).Scan(&n.ID, &n.Name, &n.AllowCrossRestaurantShifts, &n.MaxDistanceMiles, &n.VisibilityDelayHours, &n.MinNetworkReputation)
	if err != nil {
		return domain.Network{}, notFoundOr(err, "network", id)
	}
	return n, nil
}

func (q *queries) AppendEvent(ctx context.Context, e domain.AllocationEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO allocation_events (id, event_type, restaurant_id, shift_id, claim_id, swap_id, worker_id, actor_id, payload, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)
	`, e.ID, string(e.Type), e.RestaurantID, e.ShiftID, e.ClaimID, e.SwapID, e.WorkerID, e.ActorID, payload, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert allocation event: %w", err)
	}
	return nil
}
