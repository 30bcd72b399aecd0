// Package mqttpub publishes cycle results to an MQTT broker.
package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/goei/pkg/report"
	"github.com/itohio/goei/pkg/scheduler"
)

// ErrTimeout is returned when the broker does not answer in time.
var ErrTimeout = errors.New("mqtt: timed out")

// Config describes the broker connection.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	Retained       bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	Device         string // Reported in every payload
	FrameStats     bool   // Include frame statistics in the payload
}

func (c *Config) ensureDefaults() {
	if c.ClientID == "" {
		c.ClientID = "goei"
	}
	if c.Topic == "" {
		c.Topic = "goei/inference"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 2 * time.Second
	}
	if c.Device == "" {
		c.Device = c.ClientID
	}
}

// Publisher is a scheduler.Reporter backed by an MQTT client.
type Publisher struct {
	client mqtt.Client
	cfg    Config
}

var _ scheduler.Reporter = (*Publisher)(nil)

// Connect connects to the broker, giving up after cfg.ConnectTimeout or when
// ctx is done.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	cfg.ensureDefaults()
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: no broker configured")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s failed: %w", cfg.Broker, err)
	}
	log.Printf("mqtt: connected to %s as %s", cfg.Broker, cfg.ClientID)

	return New(client, cfg), nil
}

// New wraps a connected client.
func New(client mqtt.Client, cfg Config) *Publisher {
	cfg.ensureDefaults()
	return &Publisher{client: client, cfg: cfg}
}

// Report publishes the JSON payload of c.
func (p *Publisher) Report(ctx context.Context, c scheduler.Cycle) error {
	payload, err := json.Marshal(report.NewPayload(p.cfg.Device, c, p.cfg.FrameStats))
	if err != nil {
		return fmt.Errorf("mqtt: json marshal error: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retained, payload)
	if err := wait(ctx, token, p.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("mqtt: publish to %s failed: %w", p.cfg.Topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-t.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
