package storage

import (
	"context"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/allocation"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/farmer"
)

// AllocationStore is the authoritative registry of allocation records.
//
// TransitionAllocation is the single mutation entry point after creation: it
// verifies the current status equals from, applies mutate to a copy, and
// writes the result with the new status. If the current status differs the
// call fails with faults.ErrConflict and the record is untouched. The
// compare-and-swap is per record id; transitions on different ids never
// serialize against each other.
type AllocationStore interface {
	CreateAllocation(ctx context.Context, rec allocation.Record) (allocation.Record, error)
	GetAllocation(ctx context.Context, id string) (allocation.Record, error)
	ListAllocationsByStatus(ctx context.Context, status allocation.Status) ([]allocation.Record, error)
	ListAllocationsByFarmer(ctx context.Context, farmerID string) ([]allocation.Record, error)
	TransitionAllocation(ctx context.Context, id string, from, to allocation.Status, mutate func(*allocation.Record) error) (allocation.Record, error)
}

// TopUpStore persists top-up requests with the same transition semantics.
type TopUpStore interface {
	CreateTopUp(ctx context.Context, req allocation.TopUp) (allocation.TopUp, error)
	GetTopUp(ctx context.Context, id string) (allocation.TopUp, error)
	ListTopUpsByStatus(ctx context.Context, status allocation.Status) ([]allocation.TopUp, error)
	TransitionTopUp(ctx context.Context, id string, from, to allocation.Status, mutate func(*allocation.TopUp) error) (allocation.TopUp, error)
}

// FarmerStore persists farmer profiles.
type FarmerStore interface {
	CreateFarmer(ctx context.Context, profile farmer.Profile) (farmer.Profile, error)
	GetFarmer(ctx context.Context, id string) (farmer.Profile, error)
	GetFarmerByPhone(ctx context.Context, phone string) (farmer.Profile, error)
	ListFarmers(ctx context.Context) ([]farmer.Profile, error)
}
