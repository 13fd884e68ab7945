// Package notify delivers fire-and-forget signals to farmer devices.
// Publish failures never propagate into the operation that triggered them;
// callers log and move on.
package notify

import (
	"context"
	"sync"
)

// VolumeCommitted tells a device that a volume was committed on the ledger.
// It always carries only the newly committed volume (the base volume for an
// allocation, the delta for a top-up), never the cumulative total: devices
// accumulate their own running total, which keeps redelivery harmless only
// on the consumer's side.
type VolumeCommitted struct {
	FarmerID        string `json:"farmerId"`
	AllocatedVolume int64  `json:"allocatedVolume"`
	Timestamp       int64  `json:"timestamp"`
	IsAdditional    bool   `json:"isAdditional,omitempty"`
}

// DecisionPreview announces a freshly derived pending decision before any
// approval has happened.
type DecisionPreview struct {
	FarmerID        string  `json:"farmerId"`
	Zone            string  `json:"zone"`
	FertilityScore  float64 `json:"fertility_score"`
	AllocationIndex float64 `json:"allocation_index"`
	AllocatedVolume float64 `json:"allocatedVolume"`
	Period          string  `json:"period"`
}

// Publisher sends a payload to the farmer's channel. Implementations must be
// safe for concurrent use and must not block beyond a short internal timeout.
type Publisher interface {
	Publish(ctx context.Context, farmerID string, payload any) error
}

// Memory records published payloads for tests and local development.
type Memory struct {
	mu       sync.Mutex
	messages map[string][]any
}

var _ Publisher = (*Memory)(nil)

// NewMemory returns an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{messages: make(map[string][]any)}
}

func (m *Memory) Publish(_ context.Context, farmerID string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[farmerID] = append(m.messages[farmerID], payload)
	return nil
}

// Messages returns everything published to a farmer, in order.
func (m *Memory) Messages(farmerID string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.messages[farmerID]...)
}
