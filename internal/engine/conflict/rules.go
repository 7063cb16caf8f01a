package conflict

import (
	"math"
	"time"

	"shift-allocation/internal/domain"
)

// Rules are the global detection thresholds.
type Rules struct {
	MinBreak        time.Duration
	MaxHoursPerDay  float64
	MaxHoursPerWeek float64
	CommuteSpeedMPH float64
	CommuteBuffer   time.Duration
}

func DefaultRules() Rules {
	return Rules{
		MinBreak:        30 * time.Minute,
		MaxHoursPerDay:  12,
		MaxHoursPerWeek: 50,
		CommuteSpeedMPH: 30,
		CommuteBuffer:   5 * time.Minute,
	}
}

// EstimateCommute converts a distance into travel time under the speed model.
func (r Rules) EstimateCommute(miles float64) time.Duration {
	travel := time.Duration(math.Round(miles / r.CommuteSpeedMPH * float64(time.Hour)))
	return travel + r.CommuteBuffer
}

// gap is the non-negative time between two disjoint intervals. ok is false
// when they overlap.
func gap(s1, e1, s2, e2 time.Time) (time.Duration, bool) {
	switch {
	case !e1.After(s2):
		return s2.Sub(e1), true
	case !e2.After(s1):
		return s1.Sub(e2), true
	}
	return 0, false
}

// dayBounds returns the local calendar day containing t.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// weekBounds returns the Sunday to Saturday local week containing t.
func weekBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	day, _ := dayBounds(t, loc)
	start := day.AddDate(0, 0, -int(day.Weekday()))
	return start, start.AddDate(0, 0, 7)
}

func inRange(t, from, to time.Time) bool { return !t.Before(from) && t.Before(to) }

// minutes reports d in minutes rounded to one decimal.
func minutes(d time.Duration) *float64 { return domain.Float64Ptr(math.Round(d.Minutes()*10) / 10) }
