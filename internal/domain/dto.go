package domain

import "time"

// ProposedWindow is the time window checked by the conflict detector.
type ProposedWindow struct {
	ShiftID      string // optional, the shift being taken; excluded from the existing schedule
	RestaurantID string
	StartTime    time.Time
	EndTime      time.Time
	// ExcludeShiftIDs are existing shifts the worker is giving up (e.g. the other side of a trade).
	ExcludeShiftIDs []string
}

func (w ProposedWindow) Hours() float64 { return w.EndTime.Sub(w.StartTime).Hours() }

// WindowFor builds the proposed window of an existing shift.
func WindowFor(s Shift) ProposedWindow {
	return ProposedWindow{ShiftID: s.ID, RestaurantID: s.RestaurantID, StartTime: s.StartTime, EndTime: s.EndTime}
}

type CreateSwapRequest struct {
	SourceShiftID  string  `json:"source_shift_id"`
	SourceWorkerID string  `json:"source_worker_id"`
	TargetWorkerID *string `json:"target_worker_id,omitempty"`
	TargetShiftID  *string `json:"target_shift_id,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

type CandidateOptions struct {
	Limit          int  `json:"limit"`
	IncludeNetwork bool `json:"include_network"`
}
