package domain

import "time"

type EventType string

const (
	EventClaimCreated   EventType = "claim.created"
	EventClaimApproved  EventType = "claim.approved"
	EventClaimRejected  EventType = "claim.rejected"
	EventClaimWithdrawn EventType = "claim.withdrawn"
	EventShiftAssigned  EventType = "shift.assigned"
	EventShiftConfirmed EventType = "shift.confirmed"
	EventShiftReleased  EventType = "shift.released"
	EventSwapCreated    EventType = "swap.created"
	EventSwapAccepted   EventType = "swap.accepted"
	EventSwapRejected   EventType = "swap.rejected"
	EventSwapCancelled  EventType = "swap.cancelled"
	EventSwapExpired    EventType = "swap.expired"
	EventSwapApproved   EventType = "swap.approved"
	EventSwapExecuted   EventType = "swap.executed"
)

// AllocationEvent is appended to the event log inside the mutating transaction
// and published to the broker after commit.
type AllocationEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	RestaurantID string         `json:"restaurant_id"`
	ShiftID      string         `json:"shift_id,omitempty"`
	ClaimID      string         `json:"claim_id,omitempty"`
	SwapID       string         `json:"swap_id,omitempty"`
	WorkerID     string         `json:"worker_id,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}
