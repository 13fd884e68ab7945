package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/allocation"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/telemetry"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/faults"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/metrics"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/notify"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/storage"
	"github.com/AquaGrid-Network/allocation_layer/pkg/logger"
)

const (
	allocationIDPrefix = "AL_"
	defaultPeriod      = "DAY"
	liveReadingLimit   = 5
)

// Service turns telemetry events into pending allocation records. A decision
// either completes wholly (both inference calls succeed) or produces no
// record at all.
type Service struct {
	farmers   storage.FarmerStore
	store     storage.AllocationStore
	fertility FertilityScorer
	index     IndexScorer
	publisher notify.Publisher
	log       *logger.Logger

	mu           sync.Mutex
	liveReadings []telemetry.Reading
	lastDecision *telemetry.DecisionPreview
}

// New constructs the decision pipeline.
func New(farmers storage.FarmerStore, store storage.AllocationStore, fertility FertilityScorer, index IndexScorer, publisher notify.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("decision")
	}
	return &Service{
		farmers:   farmers,
		store:     store,
		fertility: fertility,
		index:     index,
		publisher: publisher,
		log:       log,
	}
}

// Decide derives a pending allocation from one telemetry event. The second
// return value reports whether a record was created: telemetry from an
// unregistered farmer is skipped without error, since devices outside the
// registry must never produce state.
func (s *Service) Decide(ctx context.Context, evt telemetry.Event) (allocation.Record, bool, error) {
	profile, err := s.farmers.GetFarmer(ctx, evt.FarmerID)
	if err != nil {
		if errors.Is(err, faults.ErrNotFound) {
			s.log.WithField("farmer_id", evt.FarmerID).Warn("telemetry from unregistered farmer ignored")
			metrics.DecisionProcessed("skipped")
			return allocation.Record{}, false, nil
		}
		return allocation.Record{}, false, fmt.Errorf("farmer lookup: %w", err)
	}

	zone := profile.Zone
	if zone == "" {
		zone = "ZONE_UNKNOWN"
	}
	s.recordReading(evt, zone)

	fertilityFeatures, indexFeatures := buildFeatures(evt, profile)

	fertilityScore, err := s.fertility.ScoreFertility(ctx, fertilityFeatures)
	if err != nil {
		metrics.DecisionProcessed("inference_error")
		return allocation.Record{}, false, fmt.Errorf("fertility model: %w: %w", err, faults.ErrInference)
	}
	index, err := s.index.ScoreAllocationIndex(ctx, indexFeatures)
	if err != nil {
		metrics.DecisionProcessed("inference_error")
		return allocation.Record{}, false, fmt.Errorf("allocation index model: %w: %w", err, faults.ErrInference)
	}
	if index < 0 || index > 1 {
		metrics.DecisionProcessed("inference_error")
		return allocation.Record{}, false, fmt.Errorf("allocation index %v outside [0,1]: %w", index, faults.ErrInference)
	}

	now := time.Now().UTC()
	rec := allocation.Record{
		ID:              allocationIDPrefix + uuid.NewString(),
		FarmerID:        profile.ID,
		Zone:            zone,
		FertilityScore:  fertilityScore,
		AllocationIndex: index,
		LandSize:        profile.LandSize,
		AllocatedVolume: profile.LandSize * index,
		Period:          defaultPeriod,
		Status:          allocation.StatusPending,
		DecisionAt:      now,
	}

	rec, err = s.store.CreateAllocation(ctx, rec)
	if err != nil {
		return allocation.Record{}, false, fmt.Errorf("create allocation: %w", err)
	}
	metrics.DecisionProcessed("pending")

	s.setLastDecision(telemetry.DecisionPreview{
		Zone:            zone,
		FarmerID:        profile.ID,
		FertilityScore:  fertilityScore,
		AllocationIndex: index,
		LandSize:        profile.LandSize,
		AllocatedVolume: rec.AllocatedVolume,
		Period:          defaultPeriod,
		DecisionAt:      now,
	})

	s.log.WithField("allocation_id", rec.ID).
		WithField("farmer_id", rec.FarmerID).
		WithField("volume", rec.AllocatedVolume).
		Info("pending allocation created")

	if s.publisher != nil {
		preview := notify.DecisionPreview{
			FarmerID:        profile.ID,
			Zone:            zone,
			FertilityScore:  fertilityScore,
			AllocationIndex: index,
			AllocatedVolume: rec.AllocatedVolume,
			Period:          defaultPeriod,
		}
		if err := s.publisher.Publish(ctx, profile.ID, preview); err != nil {
			s.log.WithError(err).WithField("farmer_id", profile.ID).Warn("decision preview publish failed")
		}
	}

	return rec, true, nil
}

// LiveReadings returns the most recent telemetry readings, newest first.
func (s *Service) LiveReadings() []telemetry.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Reading(nil), s.liveReadings...)
}

// LastDecision returns the most recent decision preview, if any.
func (s *Service) LastDecision() (telemetry.DecisionPreview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDecision == nil {
		return telemetry.DecisionPreview{}, false
	}
	return *s.lastDecision, true
}

func (s *Service) recordReading(evt telemetry.Event, zone string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reading := telemetry.Reading{
		Zone:         zone,
		FarmerID:     evt.FarmerID,
		Temperature:  evt.Temperature,
		Humidity:     evt.Humidity,
		SoilMoisture: evt.SoilMoisture,
		Sunlight:     evt.Sunlight,
		ReceivedAt:   time.Now().UTC(),
	}
	s.liveReadings = append([]telemetry.Reading{reading}, s.liveReadings...)
	if len(s.liveReadings) > liveReadingLimit {
		s.liveReadings = s.liveReadings[:liveReadingLimit]
	}
}

func (s *Service) setLastDecision(preview telemetry.DecisionPreview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDecision = &preview
}
