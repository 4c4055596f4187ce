package notify

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTNotifier publishes notifications to a local broker topic so external
// displays or pagers can react to kiosk activity. QoS 0, fire and forget.
type MQTTNotifier struct {
	client   mqtt.Client
	topic    string
	sendWait time.Duration
	logger   zerolog.Logger
}

func NewMQTTNotifier(brokerURL, clientID, topic string, sendWait time.Duration, logger zerolog.Logger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(sendWait)

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(sendWait) || token.Error() != nil {
		return nil, fmt.Errorf("failed to connect notifier broker: %v", token.Error())
	}

	return &MQTTNotifier{
		client:   client,
		topic:    topic,
		sendWait: sendWait,
		logger:   logger.With().Str("component", "notifier").Logger(),
	}, nil
}

func (n *MQTTNotifier) Notify(event, message string) {
	payload := (&Event{Event: event, Message: message, Timestamp: time.Now()}).encode()
	if payload == nil {
		return
	}

	go func() {
		token := n.client.Publish(n.topic, 0, false, payload)
		if !token.WaitTimeout(n.sendWait) || token.Error() != nil {
			n.logger.Warn().Err(token.Error()).Str("event", event).Msg("notification publish failed")
		}
	}()
}

func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}
