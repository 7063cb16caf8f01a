package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"shift-allocation/internal/domain"
)

// MemoryStore keeps the whole data set in process. Transactions are fully
// serialized: InTx holds the write lock, works on a copy and swaps it in on
// success. Used by tests and by the CLI in dry-run mode.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memState struct {
	shifts      map[string]domain.Shift
	workers     map[string]domain.WorkerProfile
	restaurants map[string]domain.Restaurant
	networks    map[string]domain.Network
	timeOff     map[string]domain.TimeOffRequest
	claims      map[string]domain.ShiftClaim
	swaps       map[string]domain.ShiftSwap
	events      []domain.AllocationEvent
}

func newMemState() *memState {
	return &memState{
		shifts:      map[string]domain.Shift{},
		workers:     map[string]domain.WorkerProfile{},
		restaurants: map[string]domain.Restaurant{},
		networks:    map[string]domain.Network{},
		timeOff:     map[string]domain.TimeOffRequest{},
		claims:      map[string]domain.ShiftClaim{},
		swaps:       map[string]domain.ShiftSwap{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	return &memState{
		shifts:      cloneMap(s.shifts),
		workers:     cloneMap(s.workers),
		restaurants: cloneMap(s.restaurants),
		networks:    cloneMap(s.networks),
		timeOff:     cloneMap(s.timeOff),
		claims:      cloneMap(s.claims),
		swaps:       cloneMap(s.swaps),
		events:      append([]domain.AllocationEvent(nil), s.events...),
	}
}

// Seed helpers.

func (m *MemoryStore) PutShift(s domain.Shift) { m.put(func(st *memState) { st.shifts[s.ID] = s }) }
func (m *MemoryStore) PutWorker(w domain.WorkerProfile) {
	m.put(func(st *memState) { st.workers[w.ID] = w })
}
func (m *MemoryStore) PutRestaurant(r domain.Restaurant) {
	m.put(func(st *memState) { st.restaurants[r.ID] = r })
}
func (m *MemoryStore) PutNetwork(n domain.Network) {
	m.put(func(st *memState) { st.networks[n.ID] = n })
}
func (m *MemoryStore) PutTimeOff(t domain.TimeOffRequest) {
	m.put(func(st *memState) { st.timeOff[t.ID] = t })
}
func (m *MemoryStore) PutClaim(c domain.ShiftClaim) {
	m.put(func(st *memState) { st.claims[c.ID] = c })
}
func (m *MemoryStore) PutSwap(s domain.ShiftSwap) { m.put(func(st *memState) { st.swaps[s.ID] = s }) }

func (m *MemoryStore) put(fn func(*memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

// Events returns a copy of the appended event log.
func (m *MemoryStore) Events() []domain.AllocationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.AllocationEvent(nil), m.state.events...)
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) read() *memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Committed states are never mutated in place, so reads can use the snapshot
// pointer after releasing the lock.

func (m *MemoryStore) GetShift(ctx context.Context, id string) (domain.Shift, error) {
	return m.read().GetShift(ctx, id)
}
func (m *MemoryStore) GetWorker(ctx context.Context, id string) (domain.WorkerProfile, error) {
	return m.read().GetWorker(ctx, id)
}
func (m *MemoryStore) GetRestaurant(ctx context.Context, id string) (domain.Restaurant, error) {
	return m.read().GetRestaurant(ctx, id)
}
func (m *MemoryStore) GetRestaurants(ctx context.Context, ids []string) (map[string]domain.Restaurant, error) {
	return m.read().GetRestaurants(ctx, ids)
}
func (m *MemoryStore) GetNetwork(ctx context.Context, id string) (domain.Network, error) {
	return m.read().GetNetwork(ctx, id)
}
func (m *MemoryStore) ListNetworkRestaurants(ctx context.Context, networkID string) ([]domain.Restaurant, error) {
	return m.read().ListNetworkRestaurants(ctx, networkID)
}
func (m *MemoryStore) ListProfilesForUser(ctx context.Context, userID string) ([]domain.WorkerProfile, error) {
	return m.read().ListProfilesForUser(ctx, userID)
}
func (m *MemoryStore) FindShiftsForUser(ctx context.Context, userID string, from, to time.Time) ([]domain.Shift, error) {
	return m.read().FindShiftsForUser(ctx, userID, from, to)
}
func (m *MemoryStore) FindApprovedTimeOff(ctx context.Context, userID string, from, to time.Time) ([]domain.TimeOffRequest, error) {
	return m.read().FindApprovedTimeOff(ctx, userID, from, to)
}
func (m *MemoryStore) FindQualifiedWorkers(ctx context.Context, restaurantID, position string) ([]domain.WorkerProfile, error) {
	return m.read().FindQualifiedWorkers(ctx, restaurantID, position)
}
func (m *MemoryStore) FindOpenShifts(ctx context.Context, restaurantIDs []string, from time.Time) ([]domain.Shift, error) {
	return m.read().FindOpenShifts(ctx, restaurantIDs, from)
}
func (m *MemoryStore) GetClaim(ctx context.Context, id string) (domain.ShiftClaim, error) {
	return m.read().GetClaim(ctx, id)
}
func (m *MemoryStore) FindClaim(ctx context.Context, shiftID, workerID string) (domain.ShiftClaim, bool, error) {
	return m.read().FindClaim(ctx, shiftID, workerID)
}
func (m *MemoryStore) ListClaimsForShift(ctx context.Context, shiftID string) ([]domain.ShiftClaim, error) {
	return m.read().ListClaimsForShift(ctx, shiftID)
}
func (m *MemoryStore) ListClaimsByWorker(ctx context.Context, workerID string) ([]domain.ShiftClaim, error) {
	return m.read().ListClaimsByWorker(ctx, workerID)
}
func (m *MemoryStore) ListPendingClaimsForRestaurant(ctx context.Context, restaurantID string) ([]domain.ShiftClaim, error) {
	return m.read().ListPendingClaimsForRestaurant(ctx, restaurantID)
}
func (m *MemoryStore) GetSwap(ctx context.Context, id string) (domain.ShiftSwap, error) {
	return m.read().GetSwap(ctx, id)
}
func (m *MemoryStore) ListOpenSwapsForShift(ctx context.Context, shiftID string) ([]domain.ShiftSwap, error) {
	return m.read().ListOpenSwapsForShift(ctx, shiftID)
}
func (m *MemoryStore) ListSwapsForWorker(ctx context.Context, workerID string) ([]domain.ShiftSwap, error) {
	return m.read().ListSwapsForWorker(ctx, workerID)
}

// memState implements Tx.

func (s *memState) GetShift(_ context.Context, id string) (domain.Shift, error) {
	sh, ok := s.shifts[id]
	if !ok {
		return domain.Shift{}, domain.NotFound("shift", id)
	}
	return sh, nil
}

func (s *memState) GetWorker(_ context.Context, id string) (domain.WorkerProfile, error) {
	w, ok := s.workers[id]
	if !ok {
		return domain.WorkerProfile{}, domain.NotFound("worker", id)
	}
	return w, nil
}

func (s *memState) GetRestaurant(_ context.Context, id string) (domain.Restaurant, error) {
	r, ok := s.restaurants[id]
	if !ok {
		return domain.Restaurant{}, domain.NotFound("restaurant", id)
	}
	return r, nil
}

func (s *memState) GetRestaurants(_ context.Context, ids []string) (map[string]domain.Restaurant, error) {
	out := make(map[string]domain.Restaurant, len(ids))
	for _, id := range ids {
		if r, ok := s.restaurants[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (s *memState) GetNetwork(_ context.Context, id string) (domain.Network, error) {
	n, ok := s.networks[id]
	if !ok {
		return domain.Network{}, domain.NotFound("network", id)
	}
	return n, nil
}

func (s *memState) ListNetworkRestaurants(_ context.Context, networkID string) ([]domain.Restaurant, error) {
	var out []domain.Restaurant
	for _, r := range s.restaurants {
		if r.NetworkID != nil && *r.NetworkID == networkID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) ListProfilesForUser(_ context.Context, userID string) ([]domain.WorkerProfile, error) {
	var out []domain.WorkerProfile
	for _, w := range s.workers {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) profileIDs(userID string) map[string]bool {
	ids := map[string]bool{}
	for _, w := range s.workers {
		if w.UserID == userID {
			ids[w.ID] = true
		}
	}
	return ids
}

func (s *memState) FindShiftsForUser(_ context.Context, userID string, from, to time.Time) ([]domain.Shift, error) {
	ids := s.profileIDs(userID)
	var out []domain.Shift
	for _, sh := range s.shifts {
		holder, ok := sh.HolderID()
		if !ok || !ids[holder] {
			continue
		}
		if domain.Overlaps(sh.StartTime, sh.EndTime, from, to) {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memState) FindApprovedTimeOff(_ context.Context, userID string, from, to time.Time) ([]domain.TimeOffRequest, error) {
	ids := s.profileIDs(userID)
	var out []domain.TimeOffRequest
	for _, t := range s.timeOff {
		if ids[t.WorkerProfileID] && domain.Overlaps(t.StartTime, t.EndTime, from, to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memState) FindQualifiedWorkers(_ context.Context, restaurantID, position string) ([]domain.WorkerProfile, error) {
	var out []domain.WorkerProfile
	for _, w := range s.workers {
		if w.Status != domain.WorkerActive {
			continue
		}
		if w.CanWork(restaurantID, position) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) FindOpenShifts(_ context.Context, restaurantIDs []string, from time.Time) ([]domain.Shift, error) {
	want := map[string]bool{}
	for _, id := range restaurantIDs {
		want[id] = true
	}
	var out []domain.Shift
	for _, sh := range s.shifts {
		if sh.Status == domain.ShiftPublishedUnassigned && want[sh.RestaurantID] && sh.StartTime.After(from) {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memState) GetClaim(_ context.Context, id string) (domain.ShiftClaim, error) {
	c, ok := s.claims[id]
	if !ok {
		return domain.ShiftClaim{}, domain.NotFound("claim", id)
	}
	return c, nil
}

func (s *memState) FindClaim(_ context.Context, shiftID, workerID string) (domain.ShiftClaim, bool, error) {
	for _, c := range s.claims {
		if c.ShiftID == shiftID && c.WorkerProfileID == workerID {
			return c, true, nil
		}
	}
	return domain.ShiftClaim{}, false, nil
}

func byPriority(out []domain.ShiftClaim) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		return out[i].ClaimedAt.Before(out[j].ClaimedAt)
	})
}

func (s *memState) ListClaimsForShift(_ context.Context, shiftID string) ([]domain.ShiftClaim, error) {
	var out []domain.ShiftClaim
	for _, c := range s.claims {
		if c.ShiftID == shiftID {
			out = append(out, c)
		}
	}
	byPriority(out)
	return out, nil
}

func (s *memState) ListClaimsByWorker(_ context.Context, workerID string) ([]domain.ShiftClaim, error) {
	var out []domain.ShiftClaim
	for _, c := range s.claims {
		if c.WorkerProfileID == workerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.After(out[j].ClaimedAt) })
	return out, nil
}

func (s *memState) ListPendingClaimsForRestaurant(_ context.Context, restaurantID string) ([]domain.ShiftClaim, error) {
	var out []domain.ShiftClaim
	for _, c := range s.claims {
		sh, ok := s.shifts[c.ShiftID]
		if ok && c.Status == domain.ClaimPending && sh.RestaurantID == restaurantID {
			out = append(out, c)
		}
	}
	byPriority(out)
	sort.SliceStable(out, func(i, j int) bool {
		return s.shifts[out[i].ShiftID].StartTime.Before(s.shifts[out[j].ShiftID].StartTime)
	})
	return out, nil
}

func (s *memState) GetSwap(_ context.Context, id string) (domain.ShiftSwap, error) {
	sw, ok := s.swaps[id]
	if !ok {
		return domain.ShiftSwap{}, domain.NotFound("swap", id)
	}
	return sw, nil
}

func (s *memState) ListOpenSwapsForShift(_ context.Context, shiftID string) ([]domain.ShiftSwap, error) {
	var out []domain.ShiftSwap
	for _, sw := range s.swaps {
		onShift := sw.SourceShiftID == shiftID || (sw.TargetShiftID != nil && *sw.TargetShiftID == shiftID)
		open := sw.Status == domain.SwapPending || (sw.Status == domain.SwapAccepted && !sw.Executed())
		if onShift && open {
			out = append(out, sw)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memState) ListSwapsForWorker(_ context.Context, workerID string) ([]domain.ShiftSwap, error) {
	var out []domain.ShiftSwap
	for _, sw := range s.swaps {
		if sw.SourceWorkerID == workerID || (sw.TargetWorkerID != nil && *sw.TargetWorkerID == workerID) {
			out = append(out, sw)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memState) LockShift(ctx context.Context, id string) (domain.Shift, error) {
	return s.GetShift(ctx, id)
}

func (s *memState) UpdateShift(_ context.Context, sh domain.Shift) error {
	if _, ok := s.shifts[sh.ID]; !ok {
		return domain.NotFound("shift", sh.ID)
	}
	s.shifts[sh.ID] = sh
	return nil
}

func (s *memState) InsertClaim(_ context.Context, c domain.ShiftClaim) error {
	for _, existing := range s.claims {
		if existing.ShiftID == c.ShiftID && existing.WorkerProfileID == c.WorkerProfileID {
			return domain.Conflictf("worker already claimed this shift").
				With("shift_id", c.ShiftID).With("worker_id", c.WorkerProfileID)
		}
	}
	s.claims[c.ID] = c
	return nil
}

func (s *memState) ResolveClaim(_ context.Context, id string, to domain.ClaimStatus, actorID, reason *string, at time.Time) (bool, error) {
	c, ok := s.claims[id]
	if !ok {
		return false, domain.NotFound("claim", id)
	}
	if c.Status != domain.ClaimPending {
		return false, nil
	}
	c.Status = to
	c.ResolvedAt = &at
	c.ResolvedBy = actorID
	c.RejectionReason = reason
	s.claims[id] = c
	return true, nil
}

func (s *memState) RejectPendingClaims(_ context.Context, shiftID, exceptClaimID, actorID, reason string, at time.Time) ([]string, error) {
	var ids []string
	for id, c := range s.claims {
		if c.ShiftID != shiftID || id == exceptClaimID || c.Status != domain.ClaimPending {
			continue
		}
		c.Status = domain.ClaimRejected
		c.ResolvedAt = &at
		c.ResolvedBy = domain.StringPtr(actorID)
		c.RejectionReason = domain.StringPtr(reason)
		s.claims[id] = c
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memState) InsertSwap(_ context.Context, sw domain.ShiftSwap) error {
	if _, ok := s.swaps[sw.ID]; ok {
		return domain.Conflictf("swap already exists").With("swap_id", sw.ID)
	}
	s.swaps[sw.ID] = sw
	return nil
}

func (s *memState) UpdateSwap(_ context.Context, sw domain.ShiftSwap, expected domain.SwapStatus) (bool, error) {
	cur, ok := s.swaps[sw.ID]
	if !ok {
		return false, domain.NotFound("swap", sw.ID)
	}
	if cur.Status != expected {
		return false, nil
	}
	s.swaps[sw.ID] = sw
	return true, nil
}

func (s *memState) AppendEvent(_ context.Context, e domain.AllocationEvent) error {
	s.events = append(s.events, e)
	return nil
}
