package domain

import (
	"math"
	"time"
)

type ConflictType string

const (
	ConflictOverlap           ConflictType = "OVERLAP"
	ConflictCommute           ConflictType = "COMMUTE"
	ConflictSameLocationBreak ConflictType = "SAME_LOCATION_BREAK"
	ConflictMaxHoursDay       ConflictType = "MAX_HOURS_DAY"
	ConflictMaxHoursWeek      ConflictType = "MAX_HOURS_WEEK"
	ConflictTimeOff           ConflictType = "TIME_OFF"
)

// Blocking reports whether the conflict type always prevents taking the shift,
// as opposed to the informational commute/break/hours checks.
func (t ConflictType) Blocking() bool {
	return t == ConflictOverlap || t == ConflictTimeOff
}

type ConflictDetails struct {
	TotalHours      *float64 `json:"total_hours,omitempty"`
	LimitHours      *float64 `json:"limit_hours,omitempty"`
	GapMinutes      *float64 `json:"gap_minutes,omitempty"`
	RequiredMinutes *float64 `json:"required_minutes,omitempty"`
	DistanceMiles   *float64 `json:"distance_miles,omitempty"`
	RestaurantID    string   `json:"restaurant_id,omitempty"`
}

type Conflict struct {
	Type               ConflictType    `json:"type"`
	Message            string          `json:"message"`
	ConflictingShiftID *string         `json:"conflicting_shift_id,omitempty"`
	Details            ConflictDetails `json:"details"`
}

// BlockingConflicts filters conflicts down to the blocking types.
func BlockingConflicts(conflicts []Conflict) []Conflict {
	var out []Conflict
	for _, c := range conflicts {
		if c.Type.Blocking() {
			out = append(out, c)
		}
	}
	return out
}

// RoundHours rounds hours to one decimal for reporting.
func RoundHours(h float64) float64 { return math.Round(h*10) / 10 }

// Overlaps is the strict interval test: touching boundaries do not overlap.
func Overlaps(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && end1.After(start2)
}
