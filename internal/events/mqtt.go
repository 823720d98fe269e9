package events

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// DefaultTopic is where identification events are published.
const DefaultTopic = "wildlife-id-bot/identifications"

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTPublisher publishes identification events as JSON.
type MQTTPublisher struct {
	client mqtt.Client
	cfg    MQTTConfig
	log    logger.Logger
}

// NewMQTTPublisher creates a publisher and starts connecting in the
// background. Publishing fails fast while the broker is unreachable.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if _, err := url.Parse(cfg.Broker); err != nil || cfg.Broker == "" {
		return nil, errors.Newf("invalid MQTT broker URL %q", cfg.Broker).
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}
	cfg = withMQTTDefaults(cfg)
	log := logger.Global().Module("events").With(logger.String("consumer", "mqtt"))

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("connected to MQTT broker", logger.String("broker", cfg.Broker))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("MQTT connection lost", logger.String("broker", cfg.Broker), logger.Error(err))
		})

	client := mqtt.NewClient(opts)
	client.Connect()
	return newMQTTPublisher(client, cfg, log), nil
}

func newMQTTPublisher(client mqtt.Client, cfg MQTTConfig, log logger.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, cfg: withMQTTDefaults(cfg), log: log}
}

func withMQTTDefaults(cfg MQTTConfig) MQTTConfig {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "wildlife-id-bot"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return cfg
}

// Name implements Consumer.
func (p *MQTTPublisher) Name() string { return "mqtt" }

// Accepts implements Consumer.
func (p *MQTTPublisher) Accepts(k Kind) bool { return k == KindIdentification }

// Process implements Consumer.
func (p *MQTTPublisher) Process(ctx context.Context, e Event) error {
	ev, ok := e.(Identification)
	if !ok {
		return nil
	}
	return p.Publish(ctx, ev)
}

// Publish sends one identification to the configured topic.
func (p *MQTTPublisher) Publish(ctx context.Context, ev Identification) error {
	if !p.client.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("events").
			Category(errors.CategoryMQTTPublish).
			Context("broker", p.cfg.Broker).
			Build()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.New(err).Component("events").Category(errors.CategoryMQTTPublish).Build()
	}

	timeout := p.cfg.PublishTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	start := time.Now()
	token := p.client.Publish(p.cfg.Topic, 0, p.cfg.Retain, payload)
	if !token.WaitTimeout(timeout) {
		return errors.Newf("MQTT publish timed out").
			Component("events").
			Category(errors.CategoryMQTTPublish).
			Context("topic", p.cfg.Topic).
			Timing("publish", time.Since(start)).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("events").
			Category(errors.CategoryMQTTPublish).
			Context("topic", p.cfg.Topic).
			Build()
	}
	p.log.Debug("identification published",
		logger.String("topic", p.cfg.Topic),
		logger.String("species", ev.ScientificName))
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
