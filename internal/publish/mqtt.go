package publish

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	maxPayloadSize    = 1 << 20
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
)

// MQTTConfig holds configuration for connecting to a broker.
type MQTTConfig struct {
	Broker   string // host:port or a full tcp:// or ssl:// URL
	ClientID string
	Username string // Optional
	Password string // Optional
	QoS      byte
	Retain   bool
	// TopicPrefix is prepended to every topic, e.g. "sonos".
	TopicPrefix string
}

// MQTTClient publishes to a broker. The bridge status topic carries a retained
// online message and a last-will offline message.
type MQTTClient struct {
	client pahomqtt.Client
	cfg    MQTTConfig
	logger *log.Logger
}

// Connect dials the broker and publishes the online status.
func Connect(cfg MQTTConfig, logger *log.Logger) (*MQTTClient, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "sonos"
	}

	c := &MQTTClient{cfg: cfg, logger: logger}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWill(c.StatusTopic(), statusPayload("offline"), 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.Printf("MQTT: connected to %s", cfg.Broker)
		c.client.Publish(c.StatusTopic(), 1, true, statusPayload("online"))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Printf("MQTT: connection lost: %v", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func statusPayload(status string) string {
	return fmt.Sprintf(`{"status":"%s","timestamp":"%s"}`, status, time.Now().UTC().Format(time.RFC3339))
}

// StatusTopic is the retained bridge status topic.
func (c *MQTTClient) StatusTopic() string {
	return c.cfg.TopicPrefix + "/bridge/status"
}

// Prefix returns the configured topic prefix.
func (c *MQTTClient) Prefix() string {
	return c.cfg.TopicPrefix
}

// Publish sends payload to topic with the configured QoS and retain flag.
func (c *MQTTClient) Publish(topic string, payload []byte) error {
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, c.cfg.QoS, c.cfg.Retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close publishes a graceful offline status and disconnects.
func (c *MQTTClient) Close() error {
	if c.client == nil {
		return nil
	}
	if c.client.IsConnectionOpen() {
		token := c.client.Publish(c.StatusTopic(), 1, true, statusPayload("offline"))
		token.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}
