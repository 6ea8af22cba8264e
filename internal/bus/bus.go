package bus

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeorc/edgeorc/internal/telemetry"
)

// Handler processes one inbound message payload for a subscribed topic.
// Parse failures must be logged and swallowed by the handler, never
// propagated as a fatal error.
type Handler func(topic string, payload []byte)

// Bus is the federation pub/sub surface every activity depends on. It is
// an interface so tests can substitute an in-process fake instead of a
// real broker connection.
type Bus interface {
	// Publish sends payload on topic with at-least-once delivery.
	Publish(topic string, payload []byte) error
	// Subscribe registers handler for topic; it may be called
	// concurrently with publishes on other topics.
	Subscribe(topic string, handler Handler) error
	// Close disconnects from the broker.
	Close()
}

// Config configures a broker connection.
type Config struct {
	BrokerAddress string
	ClientID      string
	// ConnectTimeout bounds the initial connect attempt.
	ConnectTimeout time.Duration
}

// MQTTBus is the production Bus backed by paho.mqtt.golang. Loss of the
// broker connection publishes the client's last-will notice on
// DisconnectTopic: recovery beyond reporting is out of
// scope.
type MQTTBus struct {
	client mqtt.Client
	logger *telemetry.Logger
}

// Dial connects to the broker described by cfg, registering a last-will
// message on DisconnectTopic.
func Dial(cfg Config, logger *telemetry.Logger) (*MQTTBus, error) {
	if logger == nil {
		logger = telemetry.Default("bus")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerAddress).
		SetClientID(cfg.ClientID).
		SetCleanSession(false). // session persistence across reconnects
		SetWill(DisconnectTopic, cfg.ClientID, AtLeastOnce, false).
		SetAutoReconnect(false). // broker-loss recovery is out of scope
		SetConnectTimeout(cfg.ConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, telemetry.TimeoutError(fmt.Sprintf("bus: connect to %s", cfg.BrokerAddress))
	}
	if err := token.Error(); err != nil {
		return nil, telemetry.WrapError(err, fmt.Sprintf("bus: connect to %s", cfg.BrokerAddress))
	}

	return &MQTTBus{client: client, logger: logger}, nil
}

// Publish implements Bus.
func (b *MQTTBus) Publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, AtLeastOnce, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *MQTTBus) Subscribe(topic string, handler Handler) error {
	token := b.client.Subscribe(topic, AtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("bus: subscribe to %s: %w", topic, err)
	}
	return nil
}

// Close implements Bus.
func (b *MQTTBus) Close() {
	b.client.Disconnect(250)
}
