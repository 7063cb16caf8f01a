package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/repository"
	tu "shift-allocation/internal/testutil"
)

// user u1 works at X (profile w1) and at Y (profile w1y), five miles apart.
// Z has no coordinates.
func newFixture(t *testing.T, values ...any) *ConflictService {
	t.Helper()
	store := repository.NewMemoryStore()
	tu.Seed(store,
		tu.Restaurant("X", tu.Located(tu.LatX, tu.LonX)),
		tu.Restaurant("Y", tu.Located(tu.LatY, tu.LonY)),
		tu.Restaurant("Z"),
		tu.Worker("w1", "u1", "X"),
		tu.Worker("w1y", "u1", "Y"),
		tu.Worker("w2", "u2", "X"),
	)
	tu.Seed(store, values...)
	return NewConflictService(store, DefaultRules(), logger.Nop())
}

func window(restaurantID string, start, end time.Time) domain.ProposedWindow {
	return domain.ProposedWindow{RestaurantID: restaurantID, StartTime: start, EndTime: end}
}

func types(conflicts []domain.Conflict) []domain.ConflictType {
	out := make([]domain.ConflictType, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, c.Type)
	}
	return out
}

func find(conflicts []domain.Conflict, t domain.ConflictType) (domain.Conflict, bool) {
	for _, c := range conflicts {
		if c.Type == t {
			return c, true
		}
	}
	return domain.Conflict{}, false
}

func TestOverlapAcrossProfilesOfSameUser(t *testing.T) {
	d := newFixture(t, tu.Shift("y-morning", "Y", tu.At(tu.Monday, 6, 0), tu.At(tu.Monday, 14, 0), tu.AssignedTo("w1y")))

	got, err := d.DetectConflicts(context.Background(), "w1", window("X", tu.At(tu.Monday, 9, 0), tu.At(tu.Monday, 17, 0)))
	require.NoError(t, err)

	c, ok := find(got, domain.ConflictOverlap)
	require.True(t, ok)
	assert.Equal(t, "y-morning", *c.ConflictingShiftID)
	_, commute := find(got, domain.ConflictCommute)
	assert.False(t, commute, "an overlapping pair is not also a commute conflict")
}

func TestOverlapProperty(t *testing.T) {
	existingStart, existingEnd := tu.At(tu.Monday, 10, 0), tu.At(tu.Monday, 14, 0)
	d := newFixture(t, tu.Shift("z", "Z", existingStart, existingEnd, tu.ClaimedBy("w1")))

	for offset := -12; offset <= 12; offset++ {
		start := existingStart.Add(time.Duration(offset) * 30 * time.Minute)
		end := start.Add(2 * time.Hour)
		got, err := d.DetectConflicts(context.Background(), "w1", window("X", start, end))
		require.NoError(t, err)

		_, reported := find(got, domain.ConflictOverlap)
		want := start.Before(existingEnd) && end.After(existingStart)
		assert.Equal(t, want, reported, "window %s-%s", start.Format("15:04"), end.Format("15:04"))
	}
}

func TestBackToBackIsNotOverlap(t *testing.T) {
	d := newFixture(t, tu.Shift("early", "X", tu.At(tu.Monday, 6, 0), tu.At(tu.Monday, 10, 0), tu.AssignedTo("w1")))

	got, err := d.DetectConflicts(context.Background(), "w1", window("X", tu.At(tu.Monday, 10, 0), tu.At(tu.Monday, 14, 0)))
	require.NoError(t, err)
	assert.Equal(t, []domain.ConflictType{domain.ConflictSameLocationBreak}, types(got))

	c := got[0]
	assert.Equal(t, 0.0, *c.Details.GapMinutes)
	assert.Equal(t, 30.0, *c.Details.RequiredMinutes)
}

func TestSameLocationBreakSatisfied(t *testing.T) {
	d := newFixture(t, tu.Shift("early", "X", tu.At(tu.Monday, 6, 0), tu.At(tu.Monday, 10, 0), tu.AssignedTo("w1")))

	got, err := d.DetectConflicts(context.Background(), "w1", window("X", tu.At(tu.Monday, 10, 30), tu.At(tu.Monday, 14, 0)))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCommute(t *testing.T) {
	existing := tu.Shift("y-morning", "Y", tu.At(tu.Monday, 6, 0), tu.At(tu.Monday, 14, 0), tu.AssignedTo("w1y"))

	tests := []struct {
		name  string
		start time.Time
		want  bool
	}{
		{"twenty minute gap is enough for five miles", tu.At(tu.Monday, 14, 20), false},
		{"five minute gap is not", tu.At(tu.Monday, 14, 5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFixture(t, existing)
			got, err := d.DetectConflicts(context.Background(), "w1", window("X", tt.start, tu.At(tu.Monday, 18, 0)))
			require.NoError(t, err)

			c, ok := find(got, domain.ConflictCommute)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, "y-morning", *c.ConflictingShiftID)
				assert.Equal(t, 5.0, *c.Details.GapMinutes)
				assert.Equal(t, 15.0, *c.Details.RequiredMinutes)
				assert.InDelta(t, 5.0, *c.Details.DistanceMiles, 0.05)
			}
			if !tt.want {
				assert.Empty(t, got)
			}
		})
	}
}

func TestCommuteSkippedWithoutCoordinates(t *testing.T) {
	d := newFixture(t, tu.Shift("z", "Z", tu.At(tu.Monday, 6, 0), tu.At(tu.Monday, 14, 0), tu.AssignedTo("w1")))

	got, err := d.DetectConflicts(context.Background(), "w1", window("X", tu.At(tu.Monday, 14, 1), tu.At(tu.Monday, 16, 0)))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMaxHoursWeek(t *testing.T) {
	var shifts []any
	for day := 0; day < 5; day++ {
		shifts = append(shifts, tu.Shift("wk"+string(rune('a'+day)), "X",
			tu.At(tu.Day(day), 8, 0), tu.At(tu.Day(day), 17, 0), tu.AssignedTo("w1")))
	}
	d := newFixture(t, shifts...)

	saturday := tu.Day(5)
	got, err := d.DetectConflicts(context.Background(), "w1", window("X", tu.At(saturday, 8, 0), tu.At(saturday, 16, 0)))
	require.NoError(t, err)
	require.Equal(t, []domain.ConflictType{domain.ConflictMaxHoursWeek}, types(got))
	assert.Equal(t, 53.0, *got[0].Details.TotalHours)
	assert.Equal(t, 50.0, *got[0].Details.LimitHours)

	nextSunday := tu.Day(6)
	got, err = d.DetectConflicts(context.Background(), "w1", window("X", tu.At(nextSunday, 8, 0), tu.At(nextSunday, 16, 0)))
	require.NoError(t, err)
	assert.Empty(t, got, "the week starts on Sunday")
}

func TestMaxHoursDayCountsCompletedShifts(t *testing.T) {
	d := newFixture(t, tu.Shift("done", "X", tu.At(tu.Monday, 5, 0), tu.At(tu.Monday, 11, 0),
		tu.AssignedTo("w1"), tu.WithStatus(domain.ShiftCompleted)))

	got, err := d.DetectConflicts(context.Background(), "w1", window("X", tu.At(tu.Monday, 12, 0), tu.At(tu.Monday, 19, 0)))
	require.NoError(t, err)
	require.Equal(t, []domain.ConflictType{domain.ConflictMaxHoursDay}, types(got))
	assert.Equal(t, 13.0, *got[0].Details.TotalHours)
}

func TestCancelledShiftsAreIgnored(t *testing.T) {
	d := newFixture(t, tu.Shift("gone", "X", tu.At(tu.Monday, 9, 0), tu.At(tu.Monday, 17, 0),
		tu.AssignedTo("w1"), tu.WithStatus(domain.ShiftCancelled)))

	got, err := d.DetectConflicts(context.Background(), "w1", window("X", tu.At(tu.Monday, 9, 0), tu.At(tu.Monday, 17, 0)))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTimeOff(t *testing.T) {
	d := newFixture(t, domain.TimeOffRequest{
		ID: "to1", WorkerProfileID: "w1y",
		StartTime: tu.At(tu.Monday, 0, 0), EndTime: tu.At(tu.Day(1), 0, 0),
	})

	got, err := d.DetectConflicts(context.Background(), "w1", window("X", tu.At(tu.Monday, 9, 0), tu.At(tu.Monday, 17, 0)))
	require.NoError(t, err)
	assert.Equal(t, []domain.ConflictType{domain.ConflictTimeOff}, types(got))
	assert.True(t, got[0].Type.Blocking())
}

func TestExcludedShiftsAreSkipped(t *testing.T) {
	own := tu.Shift("mine", "X", tu.At(tu.Monday, 9, 0), tu.At(tu.Monday, 17, 0), tu.AssignedTo("w1"))
	d := newFixture(t, own)

	w := domain.WindowFor(own)
	got, err := d.DetectConflicts(context.Background(), "w1", w)
	require.NoError(t, err)
	assert.Empty(t, got)

	w = window("X", own.StartTime, own.EndTime)
	w.ExcludeShiftIDs = []string{"mine"}
	got, err = d.DetectConflicts(context.Background(), "w1", w)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetectorErrors(t *testing.T) {
	d := newFixture(t, tu.Shift("ghost", "nowhere", tu.At(tu.Monday, 6, 0), tu.At(tu.Monday, 8, 0), tu.AssignedTo("w2")))
	start, end := tu.At(tu.Monday, 9, 0), tu.At(tu.Monday, 17, 0)

	tests := []struct {
		name   string
		worker string
		w      domain.ProposedWindow
		want   error
	}{
		{"inverted window", "w1", window("X", end, start), domain.ErrValidation},
		{"unknown restaurant", "w1", window("Q", start, end), domain.ErrValidation},
		{"unknown shift", "w1", domain.ProposedWindow{ShiftID: "nope", RestaurantID: "X", StartTime: start, EndTime: end}, domain.ErrValidation},
		{"unknown worker", "w9", window("X", start, end), domain.ErrNotFound},
		{"existing shift at unknown restaurant", "w2", window("X", start, end), domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.DetectConflicts(context.Background(), tt.worker, tt.w)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestEstimateCommute(t *testing.T) {
	r := DefaultRules()
	assert.Equal(t, 15*time.Minute, r.EstimateCommute(5))
	assert.Equal(t, 5*time.Minute, r.EstimateCommute(0))
}

func TestDetectConflictsInReadsThroughTransaction(t *testing.T) {
	store := repository.NewMemoryStore()
	tu.Seed(store, tu.Restaurant("X"), tu.Worker("w1", "u1", "X"),
		tu.Shift("open", "X", tu.At(tu.Monday, 9, 0), tu.At(tu.Monday, 17, 0)))
	d := NewConflictService(store, DefaultRules(), logger.Nop())
	w := window("X", tu.At(tu.Monday, 12, 0), tu.At(tu.Monday, 14, 0))

	err := store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		s, err := tx.LockShift(ctx, "open")
		require.NoError(t, err)
		s.Status = domain.ShiftConfirmed
		s.AssignedWorkerID = domain.StringPtr("w1")
		require.NoError(t, tx.UpdateShift(ctx, s))

		got, err := d.DetectConflictsIn(ctx, tx, "w1", w)
		require.NoError(t, err)
		assert.Equal(t, []domain.ConflictType{domain.ConflictOverlap}, types(got), "uncommitted assignment is visible")
		return errors.New("discard")
	})
	require.Error(t, err)

	got, err := d.DetectConflicts(context.Background(), "w1", w)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHoursFollowShiftStartDay(t *testing.T) {
	// 20:00 Monday to 08:00 Tuesday counts entirely toward Monday
	d := newFixture(t, tu.Shift("night", "X", tu.At(tu.Monday, 20, 0), tu.At(tu.Day(1), 8, 0), tu.AssignedTo("w1")))

	got, err := d.DetectConflicts(context.Background(), "w1", window("X", tu.At(tu.Day(1), 14, 0), tu.At(tu.Day(1), 22, 0)))
	require.NoError(t, err)
	assert.Empty(t, got, "Tuesday only holds the proposed eight hours")

	got, err = d.DetectConflicts(context.Background(), "w1", window("X", tu.At(tu.Monday, 8, 0), tu.At(tu.Monday, 10, 0)))
	require.NoError(t, err)
	assert.Equal(t, []domain.ConflictType{domain.ConflictMaxHoursDay}, types(got))
	assert.Equal(t, 14.0, *got[0].Details.TotalHours)
}
