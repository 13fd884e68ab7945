package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/allocation"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/farmer"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/faults"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and serves tests and local development. Transitions
// apply the mutator under the lock; mutators must not perform external calls
// (ledger commits run outside the store, before or after the transition).
type Store struct {
	mu             sync.RWMutex
	allocations    map[string]allocation.Record
	topUps         map[string]allocation.TopUp
	farmers        map[string]farmer.Profile
	farmersByPhone map[string]string
}

var _ storage.AllocationStore = (*Store)(nil)
var _ storage.TopUpStore = (*Store)(nil)
var _ storage.FarmerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		allocations:    make(map[string]allocation.Record),
		topUps:         make(map[string]allocation.TopUp),
		farmers:        make(map[string]farmer.Profile),
		farmersByPhone: make(map[string]string),
	}
}

// AllocationStore implementation ---------------------------------------------

func (s *Store) CreateAllocation(_ context.Context, rec allocation.Record) (allocation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		return allocation.Record{}, fmt.Errorf("allocation id required")
	}
	if _, exists := s.allocations[rec.ID]; exists {
		return allocation.Record{}, fmt.Errorf("allocation %s already exists", rec.ID)
	}
	if rec.Status == "" {
		rec.Status = allocation.StatusPending
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.allocations[rec.ID] = rec
	return rec, nil
}

func (s *Store) GetAllocation(_ context.Context, id string) (allocation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.allocations[id]
	if !ok {
		return allocation.Record{}, faults.NotFound("allocation", id)
	}
	return rec, nil
}

func (s *Store) ListAllocationsByStatus(_ context.Context, status allocation.Status) ([]allocation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]allocation.Record, 0)
	for _, rec := range s.allocations {
		if status == "" || rec.Status == status {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *Store) ListAllocationsByFarmer(_ context.Context, farmerID string) ([]allocation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]allocation.Record, 0)
	for _, rec := range s.allocations {
		if farmerID == "" || rec.FarmerID == farmerID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *Store) TransitionAllocation(_ context.Context, id string, from, to allocation.Status, mutate func(*allocation.Record) error) (allocation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.allocations[id]
	if !ok {
		return allocation.Record{}, faults.NotFound("allocation", id)
	}
	if rec.Status != from {
		return allocation.Record{}, faults.Conflict("allocation", id)
	}
	if rec.Status.Terminal() && rec.Status != to {
		return allocation.Record{}, faults.InvalidState("allocation", id, string(rec.Status))
	}

	updated := rec
	if mutate != nil {
		if err := mutate(&updated); err != nil {
			return allocation.Record{}, err
		}
	}
	// The mutator never gets to override identity or the CAS outcome.
	updated.ID = rec.ID
	updated.FarmerID = rec.FarmerID
	updated.CreatedAt = rec.CreatedAt
	updated.Status = to
	updated.UpdatedAt = time.Now().UTC()

	s.allocations[id] = updated
	return updated, nil
}

// TopUpStore implementation ---------------------------------------------------

func (s *Store) CreateTopUp(_ context.Context, req allocation.TopUp) (allocation.TopUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		return allocation.TopUp{}, fmt.Errorf("top-up id required")
	}
	if _, exists := s.topUps[req.ID]; exists {
		return allocation.TopUp{}, fmt.Errorf("top-up %s already exists", req.ID)
	}
	if req.Status == "" {
		req.Status = allocation.StatusPending
	}

	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	s.topUps[req.ID] = req
	return req, nil
}

func (s *Store) GetTopUp(_ context.Context, id string) (allocation.TopUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.topUps[id]
	if !ok {
		return allocation.TopUp{}, faults.NotFound("top-up", id)
	}
	return req, nil
}

func (s *Store) ListTopUpsByStatus(_ context.Context, status allocation.Status) ([]allocation.TopUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]allocation.TopUp, 0)
	for _, req := range s.topUps {
		if status == "" || req.Status == status {
			result = append(result, req)
		}
	}
	return result, nil
}

func (s *Store) TransitionTopUp(_ context.Context, id string, from, to allocation.Status, mutate func(*allocation.TopUp) error) (allocation.TopUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.topUps[id]
	if !ok {
		return allocation.TopUp{}, faults.NotFound("top-up", id)
	}
	if req.Status != from {
		return allocation.TopUp{}, faults.Conflict("top-up", id)
	}
	if req.Status.Terminal() && req.Status != to {
		return allocation.TopUp{}, faults.InvalidState("top-up", id, string(req.Status))
	}

	updated := req
	if mutate != nil {
		if err := mutate(&updated); err != nil {
			return allocation.TopUp{}, err
		}
	}
	updated.ID = req.ID
	updated.BaseAllocationID = req.BaseAllocationID
	updated.FarmerID = req.FarmerID
	updated.CreatedAt = req.CreatedAt
	updated.Status = to
	updated.UpdatedAt = time.Now().UTC()

	s.topUps[id] = updated
	return updated, nil
}

// FarmerStore implementation --------------------------------------------------

func (s *Store) CreateFarmer(_ context.Context, profile farmer.Profile) (farmer.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.ID == "" {
		return farmer.Profile{}, fmt.Errorf("farmer id required")
	}
	if _, exists := s.farmers[profile.ID]; exists {
		return farmer.Profile{}, fmt.Errorf("farmer %s already exists", profile.ID)
	}

	phoneKey := strings.TrimSpace(profile.Phone)
	if phoneKey != "" {
		if existing, exists := s.farmersByPhone[phoneKey]; exists {
			return farmer.Profile{}, fmt.Errorf("phone %s already registered to farmer %s", profile.Phone, existing)
		}
	}

	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	s.farmers[profile.ID] = profile
	if phoneKey != "" {
		s.farmersByPhone[phoneKey] = profile.ID
	}
	return profile, nil
}

func (s *Store) GetFarmer(_ context.Context, id string) (farmer.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.farmers[id]
	if !ok {
		return farmer.Profile{}, faults.NotFound("farmer", id)
	}
	return profile, nil
}

func (s *Store) GetFarmerByPhone(_ context.Context, phone string) (farmer.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.farmersByPhone[strings.TrimSpace(phone)]; ok {
		return s.farmers[id], nil
	}
	return farmer.Profile{}, faults.NotFound("farmer with phone", phone)
}

func (s *Store) ListFarmers(_ context.Context) ([]farmer.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]farmer.Profile, 0, len(s.farmers))
	for _, profile := range s.farmers {
		result = append(result, profile)
	}
	return result, nil
}
