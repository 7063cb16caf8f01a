package app

import (
	"encoding/json"
	"fmt"
	"os"

	"shift-allocation/internal/domain"
	"shift-allocation/internal/repository"
)

// Snapshot is the JSON document loaded by --seed for dry runs.
type Snapshot struct {
	Networks    []domain.Network        `json:"networks"`
	Restaurants []domain.Restaurant     `json:"restaurants"`
	Workers     []domain.WorkerProfile  `json:"workers"`
	Shifts      []domain.Shift          `json:"shifts"`
	TimeOff     []domain.TimeOffRequest `json:"time_off"`
	Claims      []domain.ShiftClaim     `json:"claims"`
	Swaps       []domain.ShiftSwap      `json:"swaps"`
}

// LoadSnapshot reads the file at path into a fresh MemoryStore.
func LoadSnapshot(path string) (*repository.MemoryStore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return s.Store(), nil
}

func (s Snapshot) Store() *repository.MemoryStore {
	m := repository.NewMemoryStore()
	for _, n := range s.Networks {
		m.PutNetwork(n)
	}
	for _, r := range s.Restaurants {
		m.PutRestaurant(r)
	}
	for _, w := range s.Workers {
		m.PutWorker(w)
	}
	for _, sh := range s.Shifts {
		m.PutShift(sh)
	}
	for _, t := range s.TimeOff {
		m.PutTimeOff(t)
	}
	for _, c := range s.Claims {
		m.PutClaim(c)
	}
	for _, sw := range s.Swaps {
		m.PutSwap(sw)
	}
	return m
}
