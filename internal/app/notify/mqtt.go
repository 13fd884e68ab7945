package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/AquaGrid-Network/allocation_layer/pkg/logger"
)

// MQTTConfig locates the broker for outbound notifications.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Timeout   time.Duration
}

// MQTTPublisher publishes allocation payloads to farmer/<id>/allocation.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
	log     *logger.Logger
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTT connects to the broker. The client auto-reconnects; a broker
// outage degrades notifications, never approvals.
func NewMQTT(cfg MQTTConfig, log *logger.Logger) (*MQTTPublisher, error) {
	if log == nil {
		log = logger.NewDefault("notify-mqtt")
	}
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt broker url required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "allocation-notify"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect timeout to %s", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return &MQTTPublisher{client: client, timeout: cfg.Timeout, log: log}, nil
}

// Publish marshals the payload and publishes it at QoS 0. Errors are
// returned for the caller's log line only; nothing retries.
func (p *MQTTPublisher) Publish(_ context.Context, farmerID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	topic := fmt.Sprintf("farmer/%s/allocation", farmerID)
	token := p.client.Publish(topic, 0, false, body)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
