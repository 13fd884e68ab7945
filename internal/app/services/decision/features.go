package decision

import (
	"strings"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/farmer"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/telemetry"
)

// Fixed values for inputs without live sensors; they match what the models
// were trained with.
const (
	defaultRainfall        = 20
	defaultFertilizerUsage = 3
)

// cropLabels holds the categorical encoding used when the allocation-index
// model was trained. Unknown crops map to the UNKNOWN label rather than
// failing the decision.
var cropLabels = map[string]string{
	"rice":      "rice",
	"wheat":     "wheat",
	"maize":     "maize",
	"sugarcane": "sugarcane",
}

// soilCodes is the numeric soil encoding from training. Unknown soils map
// to 0.
var soilCodes = map[string]float64{
	"clay":  1,
	"loam":  2,
	"sandy": 3,
	"silt":  4,
}

func cropLabel(raw string) string {
	if label, ok := cropLabels[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return label
	}
	return "UNKNOWN"
}

func soilCode(raw string) float64 {
	return soilCodes[strings.ToLower(strings.TrimSpace(raw))]
}

// FertilityFeatures is the input vector of the fertility model.
type FertilityFeatures struct {
	Temperature     float64 `json:"temperature"`
	Humidity        float64 `json:"humidity"`
	PH              float64 `json:"ph"`
	Rainfall        float64 `json:"rainfall"`
	SoilMoisture    float64 `json:"soil_moisture"`
	FertilizerUsage float64 `json:"fertilizer_usage"`
}

// IndexFeatures is the input vector of the allocation-index model. Label and
// SoilType carry the categorical encodings above.
type IndexFeatures struct {
	Humidity         float64 `json:"humidity"`
	SoilMoisture     float64 `json:"soil_moisture"`
	Temperature      float64 `json:"temperature"`
	SunlightExposure float64 `json:"sunlight_exposure"`
	LandArea         float64 `json:"land_area"`
	Label            string  `json:"label"`
	PH               float64 `json:"ph"`
	SoilType         float64 `json:"soil_type"`
}

// buildFeatures splits the merged telemetry and profile attributes into the
// two disjoint model inputs.
func buildFeatures(evt telemetry.Event, profile farmer.Profile) (FertilityFeatures, IndexFeatures) {
	fertility := FertilityFeatures{
		Temperature:     evt.Temperature,
		Humidity:        evt.Humidity,
		PH:              profile.PH,
		Rainfall:        defaultRainfall,
		SoilMoisture:    evt.SoilMoisture,
		FertilizerUsage: defaultFertilizerUsage,
	}
	index := IndexFeatures{
		Humidity:         evt.Humidity,
		SoilMoisture:     evt.SoilMoisture,
		Temperature:      evt.Temperature,
		SunlightExposure: evt.Sunlight,
		LandArea:         profile.LandSize,
		Label:            cropLabel(profile.CropType),
		PH:               profile.PH,
		SoilType:         soilCode(profile.SoilType),
	}
	return fertility, index
}
