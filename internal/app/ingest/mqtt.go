// Package ingest subscribes to farmer sensor telemetry and feeds the
// decision pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/telemetry"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/services/decision"
	"github.com/AquaGrid-Network/allocation_layer/pkg/logger"
)

const sensorTopicFilter = "farmer/+/sensor/data"

// maxTrackedFarmers bounds the limiter map; topic ids arrive from the broker
// unauthenticated, so the map must not grow with arbitrary ids.
const maxTrackedFarmers = 4096

// Config locates the broker and bounds per-farmer throughput.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Timeout   time.Duration

	// MinInterval is the smallest gap between processed readings for a
	// single farmer. Readings arriving faster are dropped.
	MinInterval time.Duration
}

// Service consumes sensor readings from MQTT and runs each one through
// the decision pipeline. Broker and pipeline failures are logged and the
// subscription stays up.
type Service struct {
	cfg      Config
	decision *decision.Service
	log      *logger.Logger

	mu       sync.Mutex
	client   mqtt.Client
	limiters map[string]*rate.Limiter
	running  bool
}

// New constructs the ingest service. Start connects.
func New(cfg Config, dec *decision.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ingest")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "allocation-ingest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	return &Service{
		cfg:      cfg,
		decision: dec,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Name implements system.Service.
func (s *Service) Name() string { return "telemetry-ingest" }

// Start connects to the broker and subscribes to the sensor topic.
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.cfg.BrokerURL == "" {
		return fmt.Errorf("mqtt broker url required")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(s.cfg.Timeout).
		SetOnConnectHandler(func(c mqtt.Client) {
			token := c.Subscribe(sensorTopicFilter, 1, s.handleMessage)
			if token.WaitTimeout(s.cfg.Timeout) && token.Error() != nil {
				s.log.WithError(token.Error()).Error("subscribe to sensor topic failed")
			}
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.Timeout) {
		return fmt.Errorf("mqtt connect timeout to %s", s.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	s.client = client
	s.running = true
	s.log.WithField("broker", s.cfg.BrokerURL).Info("telemetry ingest started")
	return nil
}

// Stop disconnects from the broker.
func (s *Service) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.client.Disconnect(250)
	s.client = nil
	s.running = false
	s.log.Info("telemetry ingest stopped")
	return nil
}

func (s *Service) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	farmerID, ok := farmerIDFromTopic(msg.Topic())
	if !ok {
		s.log.WithField("topic", msg.Topic()).Warn("unexpected sensor topic")
		return
	}
	if !s.allow(farmerID) {
		return
	}

	var evt telemetry.Event
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		s.log.WithError(err).
			WithField("farmer_id", farmerID).
			Warn("malformed sensor payload")
		return
	}
	evt.FarmerID = farmerID

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout*6)
	defer cancel()
	if _, _, err := s.decision.Decide(ctx, evt); err != nil {
		s.log.WithError(err).
			WithField("farmer_id", farmerID).
			Warn("decision pipeline failed for reading")
	}
}

// allow rate-limits per farmer so a chatty sensor cannot flood the
// inference services. At the cap an arbitrary limiter is evicted; the
// evicted farmer at worst gets one reading through early.
func (s *Service) allow(farmerID string) bool {
	s.mu.Lock()
	lim, ok := s.limiters[farmerID]
	if !ok {
		if len(s.limiters) >= maxTrackedFarmers {
			for id := range s.limiters {
				delete(s.limiters, id)
				break
			}
		}
		lim = rate.NewLimiter(rate.Every(s.cfg.MinInterval), 1)
		s.limiters[farmerID] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

func farmerIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "farmer" || parts[2] != "sensor" || parts[3] != "data" {
		return "", false
	}
	if parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
