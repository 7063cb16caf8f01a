// Package testutil builds the restaurants, workers and shifts shared by the
// engine tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"shift-allocation/internal/domain"
	"shift-allocation/internal/repository"
)

// Monday is 2025-06-02, the second day of a Sunday to Saturday week.
var Monday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

// At returns day plus hh:mm.
func At(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// Day returns Monday shifted by n days.
func Day(n int) time.Time { return Monday.AddDate(0, 0, n) }

// Restaurants five miles apart on the same meridian.
var (
	LatX, LonX = 40.0, -75.0
	LatY, LonY = 40.0724, -75.0
)

func Restaurant(id string, opts ...func(*domain.Restaurant)) domain.Restaurant {
	r := domain.Restaurant{ID: id, Name: id, Timezone: "UTC", AllowUnsupervisedSwaps: true}
	for _, o := range opts {
		o(&r)
	}
	return r
}

func Located(lat, lon float64) func(*domain.Restaurant) {
	return func(r *domain.Restaurant) { r.Latitude, r.Longitude = &lat, &lon }
}

func InNetwork(networkID string) func(*domain.Restaurant) {
	return func(r *domain.Restaurant) { r.NetworkID = &networkID }
}

func Threshold(v float64) func(*domain.Restaurant) {
	return func(r *domain.Restaurant) { r.AutoApproveThreshold = &v }
}

func Supervised() func(*domain.Restaurant) {
	return func(r *domain.Restaurant) { r.AllowUnsupervisedSwaps = false }
}

func Worker(id, userID, restaurantID string, opts ...func(*domain.WorkerProfile)) domain.WorkerProfile {
	w := domain.WorkerProfile{
		ID:               id,
		UserID:           userID,
		RestaurantID:     restaurantID,
		Positions:        []string{"server"},
		ReliabilityScore: 4.0,
		Tier:             domain.TierPrimary,
		Status:           domain.WorkerActive,
	}
	for _, o := range opts {
		o(&w)
	}
	return w
}

func Reliability(v float64) func(*domain.WorkerProfile) {
	return func(w *domain.WorkerProfile) { w.ReliabilityScore = v }
}

func NoShows(n int) func(*domain.WorkerProfile) {
	return func(w *domain.WorkerProfile) { w.NoShowCount = n }
}

func Positions(p ...string) func(*domain.WorkerProfile) {
	return func(w *domain.WorkerProfile) { w.Positions = p }
}

func Secondary() func(*domain.WorkerProfile) {
	return func(w *domain.WorkerProfile) { w.Tier = domain.TierSecondary }
}

func Certified(certType string, expires *time.Time) func(*domain.WorkerProfile) {
	return func(w *domain.WorkerProfile) {
		w.Certifications = append(w.Certifications, domain.Certification{Type: certType, ExpiresAt: expires})
	}
}

func CrossTrained(restaurantID, position string) func(*domain.WorkerProfile) {
	return func(w *domain.WorkerProfile) {
		w.CrossTraining = append(w.CrossTraining, domain.CrossTraining{RestaurantID: restaurantID, Position: position})
	}
}

// Shift builds an open server shift published three days before it starts.
func Shift(id, restaurantID string, start, end time.Time, opts ...func(*domain.Shift)) domain.Shift {
	published := start.Add(-72 * time.Hour)
	s := domain.Shift{
		ID:           id,
		RestaurantID: restaurantID,
		Position:     "server",
		StartTime:    start,
		EndTime:      end,
		Status:       domain.ShiftPublishedUnassigned,
		PublishedAt:  &published,
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// AssignedTo makes the shift CONFIRMED for workerID.
func AssignedTo(workerID string) func(*domain.Shift) {
	return func(s *domain.Shift) {
		s.Status = domain.ShiftConfirmed
		s.AssignedWorkerID = &workerID
	}
}

// ClaimedBy makes the shift PUBLISHED_CLAIMED by workerID.
func ClaimedBy(workerID string) func(*domain.Shift) {
	return func(s *domain.Shift) {
		s.Status = domain.ShiftPublishedClaimed
		s.ClaimedWorkerID = &workerID
	}
}

func WithStatus(st domain.ShiftStatus) func(*domain.Shift) {
	return func(s *domain.Shift) { s.Status = st }
}

func Position(p string) func(*domain.Shift) {
	return func(s *domain.Shift) { s.Position = p }
}

func AutoApprove() func(*domain.Shift) {
	return func(s *domain.Shift) { s.AutoApproveEnabled = true }
}

func PublishedAt(t time.Time) func(*domain.Shift) {
	return func(s *domain.Shift) { s.PublishedAt = &t }
}

func MinReputation(v float64) func(*domain.Shift) {
	return func(s *domain.Shift) { s.MinReputationScore = &v }
}

// Seed loads every value into store.
func Seed(store *repository.MemoryStore, values ...any) {
	for _, v := range values {
		switch x := v.(type) {
		case domain.Restaurant:
			store.PutRestaurant(x)
		case domain.Network:
			store.PutNetwork(x)
		case domain.WorkerProfile:
			store.PutWorker(x)
		case domain.Shift:
			store.PutShift(x)
		case domain.TimeOffRequest:
			store.PutTimeOff(x)
		case domain.ShiftClaim:
			store.PutClaim(x)
		case domain.ShiftSwap:
			store.PutSwap(x)
		default:
			panic("testutil: cannot seed value")
		}
	}
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	Events []domain.AllocationEvent
}

func (p *Publisher) Publish(_ context.Context, events ...domain.AllocationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, events...)
	return nil
}

// Types lists the published event types in order.
func (p *Publisher) Types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.Events))
	for _, e := range p.Events {
		out = append(out, e.Type)
	}
	return out
}

// Invalidator records invalidated restaurants.
type Invalidator struct {
	mu          sync.Mutex
	Restaurants []string
}

func (i *Invalidator) InvalidateShiftCache(_ context.Context, restaurantID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Restaurants = append(i.Restaurants, restaurantID)
	return nil
}

func (i *Invalidator) Calls() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.Restaurants...)
}
