package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-allocation/internal/domain"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresStore(mock)
}

func pattern(fragment string) string { return regexp.QuoteMeta(fragment) }

var shiftCols = []string{"id", "restaurant_id", "position", "start_time", "end_time", "status",
	"assigned_worker_id", "claimed_worker_id", "min_reputation_score", "auto_approve_enabled", "published_at"}

func TestPostgresGetShift(t *testing.T) {
	mock, store := newMock(t)
	start, end := at(9), at(17)
	holder := "w1"
	published := at(-72)

	mock.ExpectQuery(pattern("FROM shifts s WHERE s.id = $1")).
		WithArgs("s1").
		WillReturnRows(mock.NewRows(shiftCols).AddRow("s1", "X", "server", start, end, "CONFIRMED",
			&holder, (*string)(nil), (*float64)(nil), true, &published))

	s, err := store.GetShift(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftConfirmed, s.Status)
	assert.Equal(t, "w1", *s.AssignedWorkerID)
	assert.Nil(t, s.ClaimedWorkerID)
	assert.True(t, s.AutoApproveEnabled)
	assert.Equal(t, start, s.StartTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetShiftNotFound(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectQuery(pattern("FROM shifts s WHERE s.id = $1")).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetShift(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetWorkerDecodesJSON(t *testing.T) {
	mock, store := newMock(t)
	cols := []string{"id", "user_id", "restaurant_id", "positions", "certifications", "cross_training",
		"reliability_score", "tier", "no_show_count", "status"}
	mock.ExpectQuery(pattern("FROM worker_profiles w WHERE w.id = $1")).
		WithArgs("w1").
		WillReturnRows(mock.NewRows(cols).AddRow("w1", "u1", "X", []string{"server", "host"},
			[]byte(`[{"type":"food_handler"}]`), []byte(`[{"restaurant_id":"Y","position":"server"}]`),
			4.5, "PRIMARY", 1, "ACTIVE"))

	w, err := store.GetWorker(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"server", "host"}, w.Positions)
	require.Len(t, w.Certifications, 1)
	assert.Equal(t, "food_handler", w.Certifications[0].Type)
	assert.True(t, w.CanWork("Y", "server"))
	assert.Equal(t, domain.WorkerActive, w.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInTx(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		mock, store := newMock(t)
		sh := domain.Shift{ID: "s1", Status: domain.ShiftPublishedClaimed, ClaimedWorkerID: domain.StringPtr("w1")}

		mock.ExpectBegin()
		mock.ExpectExec(pattern("UPDATE shifts SET status = $2")).
			WithArgs("s1", "PUBLISHED_CLAIMED", (*string)(nil), sh.ClaimedWorkerID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.UpdateShift(ctx, sh)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on missing row", func(t *testing.T) {
		mock, store := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec(pattern("UPDATE shifts SET status = $2")).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		err := store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.UpdateShift(ctx, domain.Shift{ID: "gone", Status: domain.ShiftCancelled})
		})
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresInsertClaimDuplicate(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectExec(pattern("INSERT INTO shift_claims")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.InsertClaim(context.Background(), domain.ShiftClaim{ID: "c2", ShiftID: "s1", WorkerProfileID: "w1"})
	assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveClaimIsConditional(t *testing.T) {
	mock, store := newMock(t)
	when := at(1)
	actor := domain.StringPtr("m1")

	mock.ExpectExec(pattern("WHERE id = $1 AND status = 'PENDING'")).
		WithArgs("c1", "APPROVED", actor, (*string)(nil), when).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(pattern("WHERE id = $1 AND status = 'PENDING'")).
		WithArgs("c1", "REJECTED", actor, domain.StringPtr("late"), when).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := store.ResolveClaim(context.Background(), "c1", domain.ClaimApproved, actor, nil, when)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ResolveClaim(context.Background(), "c1", domain.ClaimRejected, actor, domain.StringPtr("late"), when)
	require.NoError(t, err)
	assert.False(t, ok, "a resolved claim is not resolved again")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRejectPendingClaims(t *testing.T) {
	mock, store := newMock(t)
	when := at(1)
	mock.ExpectQuery(pattern("RETURNING id")).
		WithArgs("s1", "c1", "m1", "another claim was approved", when).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("c2").AddRow("c3"))

	ids, err := store.RejectPendingClaims(context.Background(), "s1", "c1", "m1", "another claim was approved", when)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendEvent(t *testing.T) {
	mock, store := newMock(t)
	when := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(pattern("INSERT INTO allocation_events")).
		WithArgs("e1", "claim.created", "X", "s1", "c1", "", "w1", "w1", pgxmock.AnyArg(), when).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.AppendEvent(context.Background(), domain.AllocationEvent{
		ID: "e1", Type: domain.EventClaimCreated, RestaurantID: "X", ShiftID: "s1", ClaimID: "c1",
		WorkerID: "w1", ActorID: "w1", Payload: map[string]any{"priority_score": 1200}, OccurredAt: when,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateSwapKeepsReason(t *testing.T) {
	mock, store := newMock(t)
	responded := at(2)
	approved := false
	sw := domain.ShiftSwap{ID: "sw1", Status: domain.SwapRejected, RespondedAt: &responded,
		ManagerApproved: &approved, ApprovedBy: domain.StringPtr("m1"), Reason: "short staffed"}

	mock.ExpectExec(pattern("UPDATE shift_swaps")).
		WithArgs("sw1", "REJECTED", &responded, &approved, sw.ApprovedBy, (*time.Time)(nil), "ACCEPTED", "short staffed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := store.UpdateSwap(context.Background(), sw, domain.SwapAccepted)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
