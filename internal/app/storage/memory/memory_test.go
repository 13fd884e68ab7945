package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/allocation"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/farmer"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/faults"
)

func pendingAllocation(id string) allocation.Record {
	return allocation.Record{
		ID:              id,
		FarmerID:        "FARMER_NORTH_AB12",
		Zone:            "NORTH",
		LandSize:        10,
		AllocationIndex: 0.5,
		AllocatedVolume: 5,
		Period:          "DAY",
		Status:          allocation.StatusPending,
	}
}

func TestTransitionAllocationApplies(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateAllocation(ctx, pendingAllocation("AL_1")); err != nil {
		t.Fatalf("create allocation: %v", err)
	}

	updated, err := store.TransitionAllocation(ctx, "AL_1", allocation.StatusPending, allocation.StatusApproved, func(rec *allocation.Record) error {
		rec.TxRef = "tx-123"
		rec.ApprovedBy = "admin"
		return nil
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != allocation.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", updated.Status)
	}
	if updated.TxRef != "tx-123" {
		t.Fatalf("expected mutator changes applied, got txRef %q", updated.TxRef)
	}

	got, err := store.GetAllocation(ctx, "AL_1")
	if err != nil {
		t.Fatalf("get allocation: %v", err)
	}
	if got.Status != allocation.StatusApproved || got.TxRef != "tx-123" {
		t.Fatalf("expected persisted transition, got %+v", got)
	}
}

func TestTransitionAllocationGuards(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.TransitionAllocation(ctx, "missing", allocation.StatusPending, allocation.StatusApproved, nil); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.CreateAllocation(ctx, pendingAllocation("AL_2")); err != nil {
		t.Fatalf("create allocation: %v", err)
	}
	if _, err := store.TransitionAllocation(ctx, "AL_2", allocation.StatusPending, allocation.StatusRejected, nil); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// A terminal record never transitions again.
	if _, err := store.TransitionAllocation(ctx, "AL_2", allocation.StatusPending, allocation.StatusApproved, nil); !errors.Is(err, faults.ErrConflict) {
		t.Fatalf("expected ErrConflict on stale from, got %v", err)
	}
	if _, err := store.TransitionAllocation(ctx, "AL_2", allocation.StatusRejected, allocation.StatusApproved, nil); !errors.Is(err, faults.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on resurrection, got %v", err)
	}
}

func TestTransitionAllocationMutatorError(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateAllocation(ctx, pendingAllocation("AL_3")); err != nil {
		t.Fatalf("create allocation: %v", err)
	}

	boom := errors.New("boom")
	if _, err := store.TransitionAllocation(ctx, "AL_3", allocation.StatusPending, allocation.StatusApproved, func(*allocation.Record) error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutator error surfaced, got %v", err)
	}

	got, err := store.GetAllocation(ctx, "AL_3")
	if err != nil {
		t.Fatalf("get allocation: %v", err)
	}
	if got.Status != allocation.StatusPending {
		t.Fatalf("expected record untouched after mutator error, got %s", got.Status)
	}
}

func TestTransitionMutatorCannotForgeIdentity(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateAllocation(ctx, pendingAllocation("AL_4")); err != nil {
		t.Fatalf("create allocation: %v", err)
	}

	updated, err := store.TransitionAllocation(ctx, "AL_4", allocation.StatusPending, allocation.StatusApproved, func(rec *allocation.Record) error {
		rec.ID = "AL_FORGED"
		rec.FarmerID = "someone-else"
		rec.Status = allocation.StatusRejected
		return nil
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.ID != "AL_4" || updated.FarmerID != "FARMER_NORTH_AB12" {
		t.Fatalf("identity fields overridden: %+v", updated)
	}
	if updated.Status != allocation.StatusApproved {
		t.Fatalf("expected CAS target status, got %s", updated.Status)
	}
}

func TestConcurrentTransitionsExactlyOneWins(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateAllocation(ctx, pendingAllocation("AL_RACE")); err != nil {
		t.Fatalf("create allocation: %v", err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		to := allocation.StatusApproved
		if i%2 == 1 {
			to = allocation.StatusRejected
		}
		wg.Add(1)
		go func(to allocation.Status) {
			defer wg.Done()
			_, err := store.TransitionAllocation(ctx, "AL_RACE", allocation.StatusPending, to, nil)
			results <- err
		}(to)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, faults.ErrConflict) && !errors.Is(err, faults.ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", wins)
	}

	got, err := store.GetAllocation(ctx, "AL_RACE")
	if err != nil {
		t.Fatalf("get allocation: %v", err)
	}
	if !got.Status.Terminal() {
		t.Fatalf("expected terminal status, got %s", got.Status)
	}
}

func TestTopUpTransition(t *testing.T) {
	store := New()
	ctx := context.Background()

	req := allocation.TopUp{
		ID:               "ADD_1",
		BaseAllocationID: "AL_1",
		FarmerID:         "FARMER_NORTH_AB12",
		RequestedVolume:  3,
		Status:           allocation.StatusPending,
	}
	if _, err := store.CreateTopUp(ctx, req); err != nil {
		t.Fatalf("create top-up: %v", err)
	}

	updated, err := store.TransitionTopUp(ctx, "ADD_1", allocation.StatusPending, allocation.StatusApproved, func(r *allocation.TopUp) error {
		r.TxRef = "tx-addl"
		return nil
	})
	if err != nil {
		t.Fatalf("transition top-up: %v", err)
	}
	if updated.TxRef != "tx-addl" || updated.Status != allocation.StatusApproved {
		t.Fatalf("unexpected top-up after transition: %+v", updated)
	}

	if _, err := store.TransitionTopUp(ctx, "ADD_1", allocation.StatusApproved, allocation.StatusRejected, nil); !errors.Is(err, faults.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on terminal top-up, got %v", err)
	}
}

func TestFarmerPhoneUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()

	first := farmer.Profile{ID: "FARMER_NORTH_AB12", Phone: "0711000000", Zone: "NORTH"}
	if _, err := store.CreateFarmer(ctx, first); err != nil {
		t.Fatalf("create farmer: %v", err)
	}
	if _, err := store.CreateFarmer(ctx, farmer.Profile{ID: "FARMER_SOUTH_CD34", Phone: "0711000000", Zone: "SOUTH"}); err == nil {
		t.Fatalf("expected duplicate phone rejection")
	}

	byPhone, err := store.GetFarmerByPhone(ctx, "0711000000")
	if err != nil {
		t.Fatalf("get by phone: %v", err)
	}
	if byPhone.ID != first.ID {
		t.Fatalf("expected %s, got %s", first.ID, byPhone.ID)
	}

	if _, err := store.GetFarmer(ctx, "missing"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAllocationsByStatus(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, id := range []string{"AL_A", "AL_B", "AL_C"} {
		if _, err := store.CreateAllocation(ctx, pendingAllocation(id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := store.TransitionAllocation(ctx, "AL_B", allocation.StatusPending, allocation.StatusApproved, nil); err != nil {
		t.Fatalf("approve AL_B: %v", err)
	}

	pending, err := store.ListAllocationsByStatus(ctx, allocation.StatusPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	all, err := store.ListAllocationsByStatus(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
}
