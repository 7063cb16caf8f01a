package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shift-allocation/internal/common/logger"
	"shift-allocation/internal/common/metrics"
	"shift-allocation/internal/domain"
	"shift-allocation/internal/repository"
)

// Detector reports scheduling conflicts of a worker against a proposed window.
// DetectConflictsIn reads the schedule through r, so callers holding an open
// transaction can re-check against their own view of the data.
type Detector interface {
	DetectConflicts(ctx context.Context, workerID string, w domain.ProposedWindow) ([]domain.Conflict, error)
	DetectConflictsIn(ctx context.Context, r repository.Reader, workerID string, w domain.ProposedWindow) ([]domain.Conflict, error)
}

type ConflictService struct {
	store repository.Reader
	rules Rules
	log   *logger.Logger
}

func NewConflictService(store repository.Reader, rules Rules, log *logger.Logger) *ConflictService {
	return &ConflictService{store: store, rules: rules, log: log}
}

// DetectConflicts checks the window against every shift held by any profile of
// the worker's user. Each existing shift contributes at most one of OVERLAP,
// COMMUTE or SAME_LOCATION_BREAK; time off adds one conflict per request; the
// day and week hour ceilings add at most one conflict each.
// Hours are attributed to the day and week in which a shift starts, so a shift
// crossing midnight is not split between two days.
func (s *ConflictService) DetectConflicts(ctx context.Context, workerID string, w domain.ProposedWindow) ([]domain.Conflict, error) {
	return s.DetectConflictsIn(ctx, s.store, workerID, w)
}

func (s *ConflictService) DetectConflictsIn(ctx context.Context, r repository.Reader, workerID string, w domain.ProposedWindow) ([]domain.Conflict, error) {
	if !w.StartTime.Before(w.EndTime) {
		return nil, domain.Validationf("proposed window must start before it ends").With("worker_id", workerID)
	}
	if w.RestaurantID == "" {
		return nil, domain.Validationf("proposed window has no restaurant").With("worker_id", workerID)
	}
	worker, err := r.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if w.ShiftID != "" {
		if _, err := r.GetShift(ctx, w.ShiftID); err != nil {
			return nil, asValidation(err, "unknown shift %s", w.ShiftID)
		}
	}
	home, err := r.GetRestaurant(ctx, w.RestaurantID)
	if err != nil {
		return nil, asValidation(err, "unknown restaurant %s", w.RestaurantID)
	}
	loc, err := home.Location()
	if err != nil {
		return nil, domain.Validationf("restaurant %s has an invalid timezone %q", home.ID, home.Timezone)
	}

	dayStart, dayEnd := dayBounds(w.StartTime, loc)
	weekStart, weekEnd := weekBounds(w.StartTime, loc)
	from := minTime(weekStart, w.StartTime.Add(-24*time.Hour))
	to := maxTime(weekEnd, w.EndTime.Add(24*time.Hour))

	held, err := r.FindShiftsForUser(ctx, worker.UserID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule of user %s: %w", worker.UserID, err)
	}
	existing := excluding(held, w)

	restaurants, err := s.restaurantsOf(ctx, r, existing, home)
	if err != nil {
		return nil, err
	}

	var conflicts []domain.Conflict
	for _, sh := range existing {
		conflicts = append(conflicts, s.pairConflicts(w, home, sh, restaurants[sh.RestaurantID])...)
	}

	timeOff, err := r.FindApprovedTimeOff(ctx, worker.UserID, w.StartTime, w.EndTime)
	if err != nil {
		return nil, fmt.Errorf("failed to load time off of user %s: %w", worker.UserID, err)
	}
	for _, t := range timeOff {
		if domain.Overlaps(w.StartTime, w.EndTime, t.StartTime, t.EndTime) {
			conflicts = append(conflicts, domain.Conflict{
				Type: domain.ConflictTimeOff,
				Message: fmt.Sprintf("Approved time off from %s to %s",
					t.StartTime.In(loc).Format(time.RFC3339), t.EndTime.In(loc).Format(time.RFC3339)),
			})
		}
	}

	if c, ok := s.hoursConflict(domain.ConflictMaxHoursDay, existing, w, dayStart, dayEnd, s.rules.MaxHoursPerDay); ok {
		conflicts = append(conflicts, c)
	}
	if c, ok := s.hoursConflict(domain.ConflictMaxHoursWeek, existing, w, weekStart, weekEnd, s.rules.MaxHoursPerWeek); ok {
		conflicts = append(conflicts, c)
	}

	for _, c := range conflicts {
		metrics.ConflictsDetected.WithLabelValues(string(c.Type)).Inc()
	}
	return conflicts, nil
}

// pairConflicts applies the overlap, break and commute rules to one existing shift.
func (s *ConflictService) pairConflicts(w domain.ProposedWindow, home domain.Restaurant, sh domain.Shift, at domain.Restaurant) []domain.Conflict {
	if !sh.Status.Occupying() {
		return nil
	}
	id := domain.StringPtr(sh.ID)
	if domain.Overlaps(w.StartTime, w.EndTime, sh.StartTime, sh.EndTime) {
		return []domain.Conflict{{
			Type:               domain.ConflictOverlap,
			Message:            fmt.Sprintf("Overlaps with shift %s", sh.ID),
			ConflictingShiftID: id,
			Details:            domain.ConflictDetails{RestaurantID: sh.RestaurantID},
		}}
	}
	between, _ := gap(w.StartTime, w.EndTime, sh.StartTime, sh.EndTime)

	if sh.RestaurantID == w.RestaurantID {
		if between < s.rules.MinBreak {
			return []domain.Conflict{{
				Type:               domain.ConflictSameLocationBreak,
				Message:            fmt.Sprintf("Only %.0f minutes between shifts, %.0f required", between.Minutes(), s.rules.MinBreak.Minutes()),
				ConflictingShiftID: id,
				Details: domain.ConflictDetails{
					GapMinutes:      minutes(between),
					RequiredMinutes: minutes(s.rules.MinBreak),
					RestaurantID:    sh.RestaurantID,
				},
			}}
		}
		return nil
	}

	miles, ok := domain.DistanceMiles(home, at)
	if !ok {
		s.log.Debug("commute_check_skipped", map[string]any{
			"reason":        "missing coordinates",
			"restaurant_id": w.RestaurantID,
			"other_id":      sh.RestaurantID,
		})
		return nil
	}
	need := s.rules.EstimateCommute(miles)
	if between < need {
		return []domain.Conflict{{
			Type: domain.ConflictCommute,
			Message: fmt.Sprintf("Only %.0f minutes to travel %.1f miles, about %.0f minutes needed",
				between.Minutes(), miles, need.Minutes()),
			ConflictingShiftID: id,
			Details: domain.ConflictDetails{
				GapMinutes:      minutes(between),
				RequiredMinutes: minutes(need),
				DistanceMiles:   domain.Float64Ptr(domain.RoundHours(miles)),
				RestaurantID:    sh.RestaurantID,
			},
		}}
	}
	return nil
}

// hoursConflict sums the hours of shifts starting in [from, to) plus the
// proposed window and compares at full precision.
func (s *ConflictService) hoursConflict(t domain.ConflictType, existing []domain.Shift, w domain.ProposedWindow, from, to time.Time, limit float64) (domain.Conflict, bool) {
	total := w.Hours()
	for _, sh := range existing {
		if sh.Status.CountsTowardHours() && inRange(sh.StartTime, from, to) {
			total += sh.Hours()
		}
	}
	if total <= limit {
		return domain.Conflict{}, false
	}
	period := "day"
	if t == domain.ConflictMaxHoursWeek {
		period = "week"
	}
	return domain.Conflict{
		Type:    t,
		Message: fmt.Sprintf("Would work %.1f hours this %s, limit is %.1f", domain.RoundHours(total), period, limit),
		Details: domain.ConflictDetails{
			TotalHours: domain.Float64Ptr(domain.RoundHours(total)),
			LimitHours: domain.Float64Ptr(limit),
		},
	}, true
}

// restaurantsOf loads every restaurant referenced by the schedule. A shift at
// an unknown restaurant is a data error, never a skipped comparison.
func (s *ConflictService) restaurantsOf(ctx context.Context, r repository.Reader, shifts []domain.Shift, home domain.Restaurant) (map[string]domain.Restaurant, error) {
	ids := make([]string, 0, len(shifts))
	seen := map[string]bool{home.ID: true}
	for _, sh := range shifts {
		if !seen[sh.RestaurantID] {
			seen[sh.RestaurantID] = true
			ids = append(ids, sh.RestaurantID)
		}
	}
	found, err := r.GetRestaurants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load restaurants: %w", err)
	}
	if found == nil {
		found = map[string]domain.Restaurant{}
	}
	found[home.ID] = home
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, domain.Validationf("unknown restaurant %s", id).With("restaurant_id", id)
		}
	}
	return found, nil
}

func excluding(shifts []domain.Shift, w domain.ProposedWindow) []domain.Shift {
	skip := map[string]bool{}
	if w.ShiftID != "" {
		skip[w.ShiftID] = true
	}
	for _, id := range w.ExcludeShiftIDs {
		skip[id] = true
	}
	out := shifts[:0:0]
	for _, sh := range shifts {
		if !skip[sh.ID] {
			out = append(out, sh)
		}
	}
	return out
}

func asValidation(err error, format string, args ...any) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Validationf(format, args...)
	}
	return err
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
