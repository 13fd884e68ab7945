// Package approval drives pending allocations and top-ups through their
// terminal transition: ledger commit plus local state change on approve,
// local state change only on reject.
package approval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/allocation"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/faults"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/ledger"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/metrics"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/notify"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/storage"
	"github.com/AquaGrid-Network/allocation_layer/pkg/logger"
)

const topUpIDPrefix = "ADD_"

// Service orchestrates approval and rejection for both record kinds. The
// ledger commit always runs before the local transition and outside any
// store lock: on a transient ledger failure the record stays PENDING and the
// same approval may simply be retried.
type Service struct {
	store     storage.AllocationStore
	topUps    storage.TopUpStore
	gateway   ledger.Gateway
	publisher notify.Publisher
	approver  string
	log       *logger.Logger
}

// New constructs the orchestrator. approver is recorded on every terminal
// transition (the operator identity, "admin" by default).
func New(store storage.AllocationStore, topUps storage.TopUpStore, gateway ledger.Gateway, publisher notify.Publisher, approver string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("approval")
	}
	if approver == "" {
		approver = "admin"
	}
	return &Service{
		store:     store,
		topUps:    topUps,
		gateway:   gateway,
		publisher: publisher,
		approver:  approver,
		log:       log,
	}
}

// ApproveAllocation commits a pending allocation on the ledger and marks it
// APPROVED. Retry semantics: after faults.ErrLedgerUnavailable the record is
// still PENDING and the call may be repeated; after success a repeat fails
// with faults.ErrInvalidState. If the ledger write lands but a concurrent
// caller resolved the record first, faults.ErrPostCommitConflict is returned
// and logged for manual reconciliation.
func (s *Service) ApproveAllocation(ctx context.Context, id string) (allocation.Record, error) {
	rec, err := s.store.GetAllocation(ctx, id)
	if err != nil {
		return allocation.Record{}, err
	}
	if rec.Status != allocation.StatusPending {
		return allocation.Record{}, faults.InvalidState("allocation", id, string(rec.Status))
	}

	volume := int64(math.Floor(rec.AllocatedVolume))

	start := time.Now()
	txRef, err := s.gateway.CommitAllocation(ctx, rec.ID, rec.FarmerID, volume, rec.DecisionAt)
	if err != nil {
		metrics.LedgerCommit("allocation", commitOutcome(err), time.Since(start))
		return allocation.Record{}, fmt.Errorf("commit allocation %s: %w", id, err)
	}
	metrics.LedgerCommit("allocation", "committed", time.Since(start))

	now := time.Now().UTC()
	updated, err := s.store.TransitionAllocation(ctx, id, allocation.StatusPending, allocation.StatusApproved, func(r *allocation.Record) error {
		r.TxRef = txRef
		r.ApprovedBy = s.approver
		r.ApprovedAt = now
		r.TotalAllocatedVolume = r.AllocatedVolume + r.AdditionalApprovedVolume
		return nil
	})
	if err != nil {
		return allocation.Record{}, s.postCommitFailure("allocation", id, txRef, err)
	}

	s.publishCommitted(ctx, updated.FarmerID, volume, now, false)

	s.log.WithField("allocation_id", id).
		WithField("tx_ref", txRef).
		WithField("volume", volume).
		Info("allocation approved")
	return updated, nil
}

// RejectAllocation is a pure local transition; no ledger interaction, no
// notification.
func (s *Service) RejectAllocation(ctx context.Context, id string) (allocation.Record, error) {
	rec, err := s.store.GetAllocation(ctx, id)
	if err != nil {
		return allocation.Record{}, err
	}
	if rec.Status != allocation.StatusPending {
		return allocation.Record{}, faults.InvalidState("allocation", id, string(rec.Status))
	}

	now := time.Now().UTC()
	updated, err := s.store.TransitionAllocation(ctx, id, allocation.StatusPending, allocation.StatusRejected, func(r *allocation.Record) error {
		r.RejectedBy = s.approver
		r.RejectedAt = now
		return nil
	})
	if err != nil {
		return allocation.Record{}, err
	}

	s.log.WithField("allocation_id", id).Info("allocation rejected")
	return updated, nil
}

// CreateTopUp stages an incremental volume request against an APPROVED
// allocation owned by the requesting farmer.
func (s *Service) CreateTopUp(ctx context.Context, farmerID, baseAllocationID string, requestedVolume float64) (allocation.TopUp, error) {
	if requestedVolume <= 0 {
		return allocation.TopUp{}, fmt.Errorf("requested volume must be positive")
	}

	base, err := s.store.GetAllocation(ctx, baseAllocationID)
	if err != nil {
		return allocation.TopUp{}, err
	}
	if base.Status != allocation.StatusApproved {
		return allocation.TopUp{}, faults.InvalidState("allocation", baseAllocationID, string(base.Status))
	}
	if base.FarmerID != farmerID {
		return allocation.TopUp{}, fmt.Errorf("allocation %s does not belong to farmer %s", baseAllocationID, farmerID)
	}

	req := allocation.TopUp{
		ID:               topUpIDPrefix + uuid.NewString(),
		BaseAllocationID: base.ID,
		FarmerID:         farmerID,
		Zone:             base.Zone,
		BaseVolume:       base.AllocatedVolume,
		RequestedVolume:  requestedVolume,
		Status:           allocation.StatusPending,
		RequestedAt:      time.Now().UTC(),
	}
	req, err = s.topUps.CreateTopUp(ctx, req)
	if err != nil {
		return allocation.TopUp{}, fmt.Errorf("create top-up: %w", err)
	}

	s.log.WithField("topup_id", req.ID).
		WithField("allocation_id", base.ID).
		WithField("volume", requestedVolume).
		Info("top-up requested")
	return req, nil
}

// ApproveTopUp commits the additional volume on the ledger, resolves the
// request and folds the delta into the base record. The base update runs as
// its own compare-and-swap so a concurrent top-up on the same base cannot
// lose an increment.
func (s *Service) ApproveTopUp(ctx context.Context, id string) (allocation.TopUp, error) {
	req, err := s.topUps.GetTopUp(ctx, id)
	if err != nil {
		return allocation.TopUp{}, err
	}
	if req.Status != allocation.StatusPending {
		return allocation.TopUp{}, faults.InvalidState("top-up", id, string(req.Status))
	}

	base, err := s.store.GetAllocation(ctx, req.BaseAllocationID)
	if err != nil {
		if errors.Is(err, faults.ErrNotFound) {
			return allocation.TopUp{}, faults.InvalidState("top-up", id, "base allocation missing")
		}
		return allocation.TopUp{}, err
	}
	if base.Status != allocation.StatusApproved {
		return allocation.TopUp{}, faults.InvalidState("allocation", base.ID, string(base.Status))
	}

	volume := int64(math.Floor(req.RequestedVolume))
	now := time.Now().UTC()

	start := time.Now()
	txRef, err := s.gateway.CommitTopUp(ctx, base.ID, volume, now)
	if err != nil {
		metrics.LedgerCommit("topup", commitOutcome(err), time.Since(start))
		return allocation.TopUp{}, fmt.Errorf("commit top-up %s: %w", id, err)
	}
	metrics.LedgerCommit("topup", "committed", time.Since(start))

	updated, err := s.topUps.TransitionTopUp(ctx, id, allocation.StatusPending, allocation.StatusApproved, func(r *allocation.TopUp) error {
		r.TxRef = txRef
		r.ApprovedBy = s.approver
		r.ApprovedAt = now
		return nil
	})
	if err != nil {
		return allocation.TopUp{}, s.postCommitFailure("top-up", id, txRef, err)
	}

	// Base bookkeeping: the increment is applied inside the mutator so the
	// read and the write happen under the same per-record swap.
	if _, err := s.store.TransitionAllocation(ctx, base.ID, allocation.StatusApproved, allocation.StatusApproved, func(r *allocation.Record) error {
		r.AdditionalApprovedVolume += req.RequestedVolume
		r.TotalAllocatedVolume = r.AllocatedVolume + r.AdditionalApprovedVolume
		return nil
	}); err != nil {
		return allocation.TopUp{}, s.postCommitFailure("allocation", base.ID, txRef, err)
	}

	s.publishCommitted(ctx, req.FarmerID, volume, now, true)

	s.log.WithField("topup_id", id).
		WithField("allocation_id", base.ID).
		WithField("tx_ref", txRef).
		WithField("volume", volume).
		Info("top-up approved")
	return updated, nil
}

// RejectTopUp resolves a pending top-up locally.
func (s *Service) RejectTopUp(ctx context.Context, id string) (allocation.TopUp, error) {
	req, err := s.topUps.GetTopUp(ctx, id)
	if err != nil {
		return allocation.TopUp{}, err
	}
	if req.Status != allocation.StatusPending {
		return allocation.TopUp{}, faults.InvalidState("top-up", id, string(req.Status))
	}

	now := time.Now().UTC()
	updated, err := s.topUps.TransitionTopUp(ctx, id, allocation.StatusPending, allocation.StatusRejected, func(r *allocation.TopUp) error {
		r.RejectedBy = s.approver
		r.RejectedAt = now
		return nil
	})
	if err != nil {
		return allocation.TopUp{}, err
	}

	s.log.WithField("topup_id", id).Info("top-up rejected")
	return updated, nil
}

// ListPendingAllocations returns allocations awaiting a decision.
func (s *Service) ListPendingAllocations(ctx context.Context) ([]allocation.Record, error) {
	return s.store.ListAllocationsByStatus(ctx, allocation.StatusPending)
}

// ListPendingTopUps returns top-ups awaiting a decision.
func (s *Service) ListPendingTopUps(ctx context.Context) ([]allocation.TopUp, error) {
	return s.topUps.ListTopUpsByStatus(ctx, allocation.StatusPending)
}

// ListApproved returns approved allocations, optionally scoped to a farmer.
func (s *Service) ListApproved(ctx context.Context, farmerID string) ([]allocation.Record, error) {
	if farmerID == "" {
		return s.store.ListAllocationsByStatus(ctx, allocation.StatusApproved)
	}
	records, err := s.store.ListAllocationsByFarmer(ctx, farmerID)
	if err != nil {
		return nil, err
	}
	approved := records[:0]
	for _, rec := range records {
		if rec.Status == allocation.StatusApproved {
			approved = append(approved, rec)
		}
	}
	return approved, nil
}

// ListAllocationsByFarmer returns every allocation for a farmer, any status.
func (s *Service) ListAllocationsByFarmer(ctx context.Context, farmerID string) ([]allocation.Record, error) {
	return s.store.ListAllocationsByFarmer(ctx, farmerID)
}

// GetAllocation exposes a read-only view of one record.
func (s *Service) GetAllocation(ctx context.Context, id string) (allocation.Record, error) {
	return s.store.GetAllocation(ctx, id)
}

// postCommitFailure wraps a local transition failure that happened after a
// durable ledger write. Logged at error level: the chain holds a commit the
// local store does not reflect until someone reconciles.
func (s *Service) postCommitFailure(kind, id, txRef string, err error) error {
	wrapped := fmt.Errorf("%s %s committed as %s but local transition failed: %w: %w", kind, id, txRef, err, faults.ErrPostCommitConflict)
	s.log.WithError(err).
		WithField("kind", kind).
		WithField("id", id).
		WithField("tx_ref", txRef).
		Error("ledger commit not reflected locally; manual reconciliation required")
	return wrapped
}

func (s *Service) publishCommitted(ctx context.Context, farmerID string, volume int64, ts time.Time, additional bool) {
	if s.publisher == nil {
		return
	}
	msg := notify.VolumeCommitted{
		FarmerID:        farmerID,
		AllocatedVolume: volume,
		Timestamp:       ts.UnixMilli(),
		IsAdditional:    additional,
	}
	if err := s.publisher.Publish(ctx, farmerID, msg); err != nil {
		metrics.NotificationPublished("error")
		s.log.WithError(err).WithField("farmer_id", farmerID).Warn("committed volume publish failed")
		return
	}
	metrics.NotificationPublished("ok")
}

func commitOutcome(err error) string {
	switch {
	case errors.Is(err, faults.ErrLedgerRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}
