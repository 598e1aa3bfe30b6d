package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sweeney/psu-off/internal/power"
)

const (
	bufferCapacity = 100
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// RealPublisher talks to an actual MQTT broker. Messages published while
// the broker is unreachable are buffered and replayed on reconnect.
type RealPublisher struct {
	client      paho.Client
	eventsTopic string
	systemTopic string
	logger      *slog.Logger

	mu     sync.Mutex
	buffer *ringBuffer
	subs   map[string]Handler
}

// NewRealPublisher connects to broker. If the broker is not reachable yet the
// publisher is still returned and keeps retrying in the background.
func NewRealPublisher(broker, prefix string, logger *slog.Logger) (*RealPublisher, error) {
	if broker == "" {
		return nil, fmt.Errorf("mqtt: no broker configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &RealPublisher{
		eventsTopic: EventsTopic(prefix),
		systemTopic: SystemTopic(prefix),
		logger:      logger.With("component", "mqtt"),
		buffer:      newRingBuffer(bufferCapacity),
		subs:        make(map[string]Handler),
	}
	p.buffer.logger = p.logger

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("psu-off-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(p.systemTopic, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("broker connection lost", "error", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.logger.Warn("broker not reachable yet, buffering events", "broker", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.logger.Info("connected to broker")

	p.mu.Lock()
	pending := p.buffer.drainAll()
	subs := make(map[string]Handler, len(p.subs))
	for t, h := range p.subs {
		subs[t] = h
	}
	p.mu.Unlock()

	for t, h := range subs {
		p.subscribe(c, t, h)
	}
	if len(pending) > 0 {
		p.logger.Info("replaying buffered messages", "count", len(pending))
	}
	for _, m := range pending {
		// Don't block the paho callback goroutine on acks.
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	c.Publish(p.systemTopic, 1, false, mustSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}))
}

func mustSystemPayload(e SystemEvent) []byte {
	b, _ := FormatSystemPayload(e)
	return b
}

func (p *RealPublisher) subscribe(c paho.Client, topic string, h Handler) {
	token := c.Subscribe(topic, 0, func(_ paho.Client, m paho.Message) {
		h(m.Payload())
	})
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn("subscribe timeout", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("subscribe failed", "topic", topic, "error", err)
		}
	}()
}

// Subscribe registers handler for topic. Subscriptions are restored after
// every reconnect.
func (p *RealPublisher) Subscribe(topic string, handler Handler) error {
	if topic == "" {
		return fmt.Errorf("mqtt: empty topic")
	}
	p.mu.Lock()
	p.subs[topic] = handler
	p.mu.Unlock()
	if p.client.IsConnectionOpen() {
		p.subscribe(p.client, topic, handler)
	}
	return nil
}

// Publish sends a power event. QoS 1, not retained.
func (p *RealPublisher) Publish(event power.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.eventsTopic, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.systemTopic, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.push(m)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		p.mu.Lock()
		p.buffer.push(m)
		p.mu.Unlock()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}
