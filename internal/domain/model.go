package domain

import "time"

type ShiftStatus string

const (
	ShiftUnpublished         ShiftStatus = "UNPUBLISHED"
	ShiftPublishedUnassigned ShiftStatus = "PUBLISHED_UNASSIGNED"
	ShiftPublishedClaimed    ShiftStatus = "PUBLISHED_CLAIMED"
	ShiftConfirmed           ShiftStatus = "CONFIRMED"
	ShiftInProgress          ShiftStatus = "IN_PROGRESS"
	ShiftCompleted           ShiftStatus = "COMPLETED"
	ShiftCancelled           ShiftStatus = "CANCELLED"
)

// Occupying reports whether a shift in this status blocks the worker's time.
func (s ShiftStatus) Occupying() bool {
	switch s {
	case ShiftPublishedClaimed, ShiftConfirmed, ShiftInProgress:
		return true
	}
	return false
}

// CountsTowardHours reports whether the shift's hours add to daily/weekly totals.
func (s ShiftStatus) CountsTowardHours() bool {
	return s.Occupying() || s == ShiftCompleted
}

type Shift struct {
	ID                 string      `json:"id"`
	RestaurantID       string      `json:"restaurant_id"`
	Position           string      `json:"position"`
	StartTime          time.Time   `json:"start_time"`
	EndTime            time.Time   `json:"end_time"`
	Status             ShiftStatus `json:"status"`
	AssignedWorkerID   *string     `json:"assigned_worker_id,omitempty"`
	ClaimedWorkerID    *string     `json:"claimed_worker_id,omitempty"`    // set only while PUBLISHED_CLAIMED
	MinReputationScore *float64    `json:"min_reputation_score,omitempty"` // floor on the worker's 0..5 reliability score
	AutoApproveEnabled bool        `json:"auto_approve_enabled"`
	PublishedAt        *time.Time  `json:"published_at,omitempty"`
}

func (s Shift) Duration() time.Duration { return s.EndTime.Sub(s.StartTime) }

// Hours is the shift length in hours at full precision.
func (s Shift) Hours() float64 { return s.Duration().Hours() }

// HolderID is the profile that currently occupies the shift, if any.
func (s Shift) HolderID() (string, bool) {
	switch {
	case s.AssignedWorkerID != nil:
		return *s.AssignedWorkerID, true
	case s.ClaimedWorkerID != nil:
		return *s.ClaimedWorkerID, true
	}
	return "", false
}

// IsAssignedTo reports whether workerID holds the shift as confirmed assignee.
func (s Shift) IsAssignedTo(workerID string) bool {
	return s.AssignedWorkerID != nil && *s.AssignedWorkerID == workerID
}

type WorkerTier string

const (
	TierPrimary   WorkerTier = "PRIMARY"
	TierSecondary WorkerTier = "SECONDARY"
)

type WorkerStatus string

const (
	WorkerActive   WorkerStatus = "ACTIVE"
	WorkerInactive WorkerStatus = "INACTIVE"
)

type Certification struct {
	Type      string     `json:"type"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ValidThrough reports whether the certification is still valid at t.
func (c Certification) ValidThrough(t time.Time) bool {
	return c.ExpiresAt == nil || c.ExpiresAt.After(t)
}

// CrossTraining grants a position at a restaurant outside the worker's home qualifications.
type CrossTraining struct {
	RestaurantID string `json:"restaurant_id"`
	Position     string `json:"position"`
}

type WorkerProfile struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	RestaurantID     string          `json:"restaurant_id"`
	Positions        []string        `json:"positions"`
	Certifications   []Certification `json:"certifications"`
	CrossTraining    []CrossTraining `json:"cross_training,omitempty"`
	ReliabilityScore float64         `json:"reliability_score"`
	Tier             WorkerTier      `json:"tier"`
	NoShowCount      int             `json:"no_show_count"`
	Status           WorkerStatus    `json:"status"`
}

// CanWork reports whether the worker holds position at restaurantID, either as a
// home qualification or through cross-training.
func (w WorkerProfile) CanWork(restaurantID, position string) bool {
	if (w.RestaurantID == restaurantID || restaurantID == "") && w.HoldsPosition(position) {
		return true
	}
	for _, ct := range w.CrossTraining {
		if ct.RestaurantID == restaurantID && ct.Position == position {
			return true
		}
	}
	return false
}

// HoldsPosition reports whether position is one of the worker's listed qualifications.
func (w WorkerProfile) HoldsPosition(position string) bool {
	for _, p := range w.Positions {
		if p == position {
			return true
		}
	}
	return false
}

// QualifiedFor reports whether the worker may take shift: a listed position
// qualifies anywhere in the network, cross-training only at its restaurant.
func (w WorkerProfile) QualifiedFor(shift Shift) bool {
	return w.HoldsPosition(shift.Position) || w.CanWork(shift.RestaurantID, shift.Position)
}

func (w WorkerProfile) Active() bool { return w.Status == WorkerActive }

type Restaurant struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	NetworkID              *string  `json:"network_id,omitempty"`
	Latitude               *float64 `json:"latitude,omitempty"`
	Longitude              *float64 `json:"longitude,omitempty"`
	Timezone               string   `json:"timezone"`
	AutoApproveThreshold   *float64 `json:"auto_approve_threshold,omitempty"`
	AllowUnsupervisedSwaps bool     `json:"allow_unsupervised_swaps"`
}

// HasLocation reports whether both coordinates are known.
func (r Restaurant) HasLocation() bool { return r.Latitude != nil && r.Longitude != nil }

// Location loads the restaurant's timezone, falling back to UTC when unset.
func (r Restaurant) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Timezone)
}

type Network struct {
	ID                         string   `json:"id"`
	Name                       string   `json:"name"`
	AllowCrossRestaurantShifts bool     `json:"allow_cross_restaurant_shifts"`
	MaxDistanceMiles           *float64 `json:"max_distance_miles,omitempty"`
	VisibilityDelayHours       *float64 `json:"visibility_delay_hours,omitempty"`
	MinNetworkReputation       *float64 `json:"min_network_reputation,omitempty"`
}

type TimeOffRequest struct {
	ID              string    `json:"id"`
	WorkerProfileID string    `json:"worker_profile_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
}

type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "PENDING"
	ClaimApproved  ClaimStatus = "APPROVED"
	ClaimRejected  ClaimStatus = "REJECTED"
	ClaimWithdrawn ClaimStatus = "WITHDRAWN"
)

func (s ClaimStatus) Terminal() bool { return s != ClaimPending }

type ShiftClaim struct {
	ID              string      `json:"id"`
	ShiftID         string      `json:"shift_id"`
	WorkerProfileID string      `json:"worker_profile_id"`
	PriorityScore   int         `json:"priority_score"`
	Status          ClaimStatus `json:"status"`
	Notes           string      `json:"notes,omitempty"`
	ClaimedAt       time.Time   `json:"claimed_at"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy      *string     `json:"resolved_by,omitempty"`
	RejectionReason *string     `json:"rejection_reason,omitempty"`
}

type SwapStatus string

const (
	SwapPending   SwapStatus = "PENDING"
	SwapAccepted  SwapStatus = "ACCEPTED"
	SwapRejected  SwapStatus = "REJECTED"
	SwapCancelled SwapStatus = "CANCELLED"
	SwapExpired   SwapStatus = "EXPIRED"
)

type SwapKind string

const (
	SwapDirect   SwapKind = "DIRECT"
	SwapTrade    SwapKind = "TRADE"
	SwapPoolDrop SwapKind = "POOL_DROP"
)

type ShiftSwap struct {
	ID               string     `json:"id"`
	SourceShiftID    string     `json:"source_shift_id"`
	SourceWorkerID   string     `json:"source_worker_id"`
	TargetShiftID    *string    `json:"target_shift_id,omitempty"`
	TargetWorkerID   *string    `json:"target_worker_id,omitempty"`
	Status           SwapStatus `json:"status"`
	RequiresApproval bool       `json:"requires_approval"`
	Reason           string     `json:"reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RespondedAt      *time.Time `json:"responded_at,omitempty"`
	ManagerApproved  *bool      `json:"manager_approved,omitempty"`
	ApprovedBy       *string    `json:"approved_by,omitempty"`
	ExecutedAt       *time.Time `json:"executed_at,omitempty"`
}

func (s ShiftSwap) Kind() SwapKind {
	switch {
	case s.TargetShiftID != nil && s.TargetWorkerID != nil:
		return SwapTrade
	case s.TargetWorkerID != nil:
		return SwapDirect
	}
	return SwapPoolDrop
}

// Expired reports whether a pending swap has passed its expiry at now.
func (s ShiftSwap) Expired(now time.Time) bool {
	return s.Status == SwapPending && !now.Before(s.ExpiresAt)
}

// EffectiveStatus applies lazy expiry without mutating the swap.
func (s ShiftSwap) EffectiveStatus(now time.Time) SwapStatus {
	if s.Expired(now) {
		return SwapExpired
	}
	return s.Status
}

// Executed reports whether the reassignment has already been applied.
func (s ShiftSwap) Executed() bool { return s.ExecutedAt != nil }

// Terminal reports whether no further transition is possible.
func (s ShiftSwap) Terminal() bool {
	switch s.Status {
	case SwapRejected, SwapCancelled, SwapExpired:
		return true
	case SwapAccepted:
		return s.Executed()
	}
	return false
}

type ReputationTier string

const (
	ReputationNone     ReputationTier = ""
	ReputationBronze   ReputationTier = "BRONZE"
	ReputationSilver   ReputationTier = "SILVER"
	ReputationGold     ReputationTier = "GOLD"
	ReputationPlatinum ReputationTier = "PLATINUM"
)

type NetworkReputation struct {
	Score float64        `json:"score"`
	Tier  ReputationTier `json:"tier"`
}

type VisibilityPhase string

const (
	PhaseOwnOnly VisibilityPhase = "OWN_ONLY"
	PhaseNetwork VisibilityPhase = "NETWORK"
)

type Visibility struct {
	IsVisible bool   `json:"is_visible"`
	Reason    string `json:"reason,omitempty"`
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string { return &s }

// Float64Ptr returns a pointer to a copy of f.
func Float64Ptr(f float64) *float64 { return &f }

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time { return &t }
