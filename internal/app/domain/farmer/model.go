package farmer

import "time"

// Profile holds the registered, slow-changing attributes of a farmer. The
// decision pipeline merges these with live telemetry to build inference
// features; telemetry for an unregistered farmer id is dropped.
type Profile struct {
	ID           string    `json:"farmerId"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Zone         string    `json:"zone"`
	LandSize     float64   `json:"landSize"`
	CropType     string    `json:"cropType"`
	PH           float64   `json:"ph"`
	SoilType     string    `json:"soilType"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
