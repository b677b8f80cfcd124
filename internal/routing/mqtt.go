package routing

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/model"
)

// Topic prefixes used by the MQTT sinks. Outbound messages land on
// `<prefix>/<chargePointID>/<messageType>`.
const (
	TopicPrefixCloud     = "evse"
	TopicPrefixOCPP      = "ocpp"
	TopicPrefixModbusTCP = "modbus"
)

const publishTimeout = 5 * time.Second

type mqttSink struct {
	name        string
	topicPrefix string
	client      mqtt.Client
}

// NewMQTTSink creates a sink publishing routed messages as JSON on
// `<prefix>/<chargePointID>/<messageType>`.
func NewMQTTSink(name, topicPrefix string, client mqtt.Client) Sink {
	return &mqttSink{
		name:        name,
		topicPrefix: topicPrefix,
		client:      client,
	}
}

func (s *mqttSink) Name() string {
	return s.name
}

func (s *mqttSink) Deliver(chargePointID string, msg model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "mqtt sink: failed to marshal message")
	}

	topic := s.topicPrefix + "/" + chargePointID + "/" + string(msg.Type)

	token := s.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("mqtt sink: publish to %s timed out", topic)
	}

	return errors.Wrap(token.Error(), "mqtt sink: publish failed")
}

// SubscribeCommands subscribes to inbound command envelopes for one charge
// point on `evse/<chargePointID>/commands` and forwards them to the handler.
// Malformed payloads are dropped with a warning.
func SubscribeCommands(client mqtt.Client, chargePointID string, handler func(model.Message) error) error {
	topic := TopicPrefixCloud + "/" + chargePointID + "/commands"

	token := client.Subscribe(topic, 1, func(_ mqtt.Client, raw mqtt.Message) {
		var msg model.Message

		if err := json.Unmarshal(raw.Payload(), &msg); err != nil {
			log.WithError(err).Warn("routing: dropping malformed inbound command")

			return
		}

		if err := handler(msg); err != nil {
			log.WithError(err).WithField("type", msg.Type).Warn("routing: inbound command rejected")
		}
	})

	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("routing: subscribe to %s timed out", topic)
	}

	return errors.Wrap(token.Error(), "routing: subscribe failed")
}
