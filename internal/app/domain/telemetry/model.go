package telemetry

import "time"

// Event is one decoded sensor packet received from a device. Delivery is
// at-most-once and unordered across farmers; duplicate readings are possible
// and each one simply drives a fresh decision.
type Event struct {
	FarmerID     string  `json:"farmerId"`
	Temperature  float64 `json:"temperature"`
	Humidity     float64 `json:"humidity"`
	SoilMoisture float64 `json:"soil_moisture"`
	Sunlight     float64 `json:"sunlight"`
}

// Reading is an event annotated for the live admin view.
type Reading struct {
	Zone         string    `json:"zone"`
	FarmerID     string    `json:"farmerId"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	SoilMoisture float64   `json:"soil_moisture"`
	Sunlight     float64   `json:"sunlight"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// DecisionPreview is the last inference outcome, kept for the admin view
// before any approval happens.
type DecisionPreview struct {
	Zone            string    `json:"zone"`
	FarmerID        string    `json:"farmerId"`
	FertilityScore  float64   `json:"fertilityScore"`
	AllocationIndex float64   `json:"allocationIndex"`
	LandSize        float64   `json:"landSize"`
	AllocatedVolume float64   `json:"allocatedVolume"`
	Period          string    `json:"period"`
	DecisionAt      time.Time `json:"decisionTimestamp"`
}
