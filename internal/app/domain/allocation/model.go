// Package allocation holds the water allocation lifecycle models.
package allocation

import "time"

// Status enumerates the lifecycle states of an allocation or top-up record.
// PENDING is the only non-terminal state: a record moves to exactly one of
// APPROVED or REJECTED and never reverts.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Record represents a water allocation derived from one telemetry decision.
// AllocatedVolume is the base on-chain commitment; AdditionalApprovedVolume
// accumulates approved top-ups and never decreases. TxRef is set exactly
// once, on the transition to APPROVED.
type Record struct {
	ID              string  `json:"allocationId"`
	FarmerID        string  `json:"farmerId"`
	Zone            string  `json:"zone"`
	FertilityScore  float64 `json:"fertilityScore"`
	AllocationIndex float64 `json:"allocationIndex"`
	LandSize        float64 `json:"landSize"`
	AllocatedVolume float64 `json:"allocatedVolume"`

	AdditionalApprovedVolume float64 `json:"additionalApprovedVolume"`
	TotalAllocatedVolume     float64 `json:"totalAllocatedVolume"`

	Period string `json:"period"`
	Status Status `json:"status"`
	TxRef  string `json:"txRef,omitempty"`

	DecisionAt time.Time `json:"decisionTimestamp"`
	ApprovedBy string    `json:"approvedBy,omitempty"`
	ApprovedAt time.Time `json:"approvedAt,omitempty"`
	RejectedBy string    `json:"rejectedBy,omitempty"`
	RejectedAt time.Time `json:"rejectedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TopUp is an incremental volume request against an APPROVED allocation.
// Same lifecycle as Record; its TxRef references the top-up commit on the
// ledger, not the base allocation's.
type TopUp struct {
	ID               string  `json:"topUpId"`
	BaseAllocationID string  `json:"allocationId"`
	FarmerID         string  `json:"farmerId"`
	Zone             string  `json:"zone"`
	BaseVolume       float64 `json:"baseAllocatedVolume"`
	RequestedVolume  float64 `json:"requestedVolume"`

	Status Status `json:"status"`
	TxRef  string `json:"txRef,omitempty"`

	RequestedAt time.Time `json:"requestedAt"`
	ApprovedBy  string    `json:"approvedBy,omitempty"`
	ApprovedAt  time.Time `json:"approvedAt,omitempty"`
	RejectedBy  string    `json:"rejectedBy,omitempty"`
	RejectedAt  time.Time `json:"rejectedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
