package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const processTimeout = 10 * time.Second

// MQTTConsumer subscribes to the device telemetry topic tree and feeds
// every message through the ingestor. Topic layout: fleet/<device>/telemetry.
type MQTTConsumer struct {
	client   mqtt.Client
	topic    string
	ingestor *Ingestor
}

// NewMQTTConsumer prepares a consumer for the given broker and topic
// filter.
func NewMQTTConsumer(broker, clientID, topic string, ingestor *Ingestor) *MQTTConsumer {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second)
	return &MQTTConsumer{
		client:   mqtt.NewClient(opts),
		topic:    topic,
		ingestor: ingestor,
	}
}

// Start connects and subscribes. Message handling failures are logged per
// device and never stop the subscription.
func (c *MQTTConsumer) Start() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	token := c.client.Subscribe(c.topic, 1, c.handleMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", c.topic, token.Error())
	}
	log.WithField("topic", c.topic).Info("mqtt telemetry consumer started")
	return nil
}

func (c *MQTTConsumer) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	deviceID, err := deviceFromTopic(msg.Topic())
	if err != nil {
		log.WithError(err).Warn("ignoring message on unexpected topic")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()
	if _, err := c.ingestor.Ingest(ctx, deviceID, msg.Payload()); err != nil {
		log.WithError(err).WithField("device", deviceID).Warn("mqtt payload rejected")
	}
}

// Stop unsubscribes and disconnects.
func (c *MQTTConsumer) Stop() {
	if c.client.IsConnected() {
		c.client.Unsubscribe(c.topic)
		c.client.Disconnect(250)
	}
}

// deviceFromTopic extracts the device id from fleet/<device>/telemetry.
func deviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", fmt.Errorf("unexpected topic %q", topic)
	}
	return parts[1], nil
}
