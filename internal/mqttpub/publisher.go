// Package mqttpub publishes device telemetry and status to an MQTT broker
// under <topic>/<imei>/telemetry and <topic>/<imei>/status.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"avl-gateway/internal/pipeline"
)

const qos = 1

type Publisher struct {
	m      mqtt.Client
	topic  string
	logger *slog.Logger
}

type statusPayload struct {
	Online bool   `json:"online"`
	Remote string `json:"remote,omitempty"`
	At     string `json:"at"`
}

func (p *Publisher) gatewayTopic() string { return p.topic + "/gateway/status" }

// Connect starts the client in the background; the broker may come up later.
func Connect(broker, clientID, topic string, lg *slog.Logger) (*Publisher, error) {
	p := &Publisher{topic: topic, logger: lg.With("component", "mqttpub")}
	mopt := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetBinaryWill(p.gatewayTopic(), []byte{0x00}, qos, true).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(30 * time.Second).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(p.onConnectHandler).
		SetConnectionLostHandler(p.connectLostHandler)
	p.m = mqtt.NewClient(mopt)

	tok := p.m.Connect()
	if tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, tok.Error())
	}
	return p, nil
}

func New(m mqtt.Client, topic string, lg *slog.Logger) *Publisher {
	return &Publisher{m: m, topic: topic, logger: lg.With("component", "mqttpub")}
}

func (p *Publisher) onConnectHandler(c mqtt.Client) {
	p.logger.Info("mqtt connect")
	c.Publish(p.gatewayTopic(), qos, true, []byte{0x01})
}

func (p *Publisher) connectLostHandler(_ mqtt.Client, err error) {
	p.logger.Warn("mqtt disconnect", "err", err)
}

func (p *Publisher) Name() string { return "mqtt" }

func (p *Publisher) Publish(ctx context.Context, ev pipeline.Event) error {
	var (
		topic    string
		payload  any
		retained bool
	)
	switch ev.Kind {
	case pipeline.EventTracking:
		if ev.Tracking == nil {
			return nil
		}
		topic, payload = p.topic+"/"+ev.DeviceID+"/telemetry", ev.Tracking
	case pipeline.EventConnect, pipeline.EventDisconnect:
		topic, retained = p.topic+"/"+ev.DeviceID+"/status", true
		payload = statusPayload{
			Online: ev.Kind == pipeline.EventConnect,
			Remote: ev.Remote,
			At:     ev.At.UTC().Format(time.RFC3339),
		}
	default:
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	tok := p.m.Publish(topic, qos, retained, b)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", topic, ctx.Err())
	}
}

func (p *Publisher) Close() {
	p.m.Disconnect(250)
}
