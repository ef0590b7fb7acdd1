package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/fireflies/internal/logic"
)

const (
	clientID        = "fireflies"
	bufferCapacity  = 1000
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	retryInterval   = 5 * time.Second
	disconnectQuiet = 1000 // ms
)

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	logger *slog.Logger

	mu            sync.Mutex
	buf           *ringBuffer
	connectedOnce bool
}

// NewRealPublisher creates a publisher for the given broker. A broker that is
// unreachable at startup is not an error: the client keeps retrying in the
// background and messages are buffered until it connects.
func NewRealPublisher(broker string, logger *slog.Logger) (*RealPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &RealPublisher{
		logger: logger,
		buf:    newRingBuffer(bufferCapacity),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "broker", broker, "error", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect replays anything buffered while offline. After the first
// connection it also announces the reconnect.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.connectedOnce
	p.connectedOnce = true
	msgs, dropped := p.buf.drainAll()
	p.mu.Unlock()

	go func() {
		if reconnect {
			p.logger.Info("mqtt reconnected")
			payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
			if err == nil {
				p.send(c, TopicSystem, 1, false, payload)
			}
		}
		p.replay(c, msgs, dropped)
	}()
}

func (p *RealPublisher) replay(c paho.Client, msgs []bufferedMsg, dropped int) {
	for _, m := range msgs {
		p.send(c, m.topic, m.qos, m.retained, m.payload)
	}
	if len(msgs) > 0 {
		p.logger.Info("replayed buffered mqtt messages", "count", len(msgs), "dropped", dropped)
	}
}

func (p *RealPublisher) send(c paho.Client, topic string, qos byte, retained bool, payload []byte) {
	token := c.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("mqtt replay timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("mqtt replay failed", "topic", topic, "error", err)
	}
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		evicted := p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		// The link may have come up after the check above, with onConnect
		// draining before the push. Flush here so the message does not wait
		// for the next reconnect.
		var late []bufferedMsg
		var dropped int
		if p.client.IsConnectionOpen() {
			late, dropped = p.buf.drainAll()
		}
		p.mu.Unlock()
		if evicted {
			p.logger.Warn("mqtt offline buffer full, dropping oldest messages", "capacity", bufferCapacity)
		}
		if len(late) > 0 {
			go p.replay(p.client, late, dropped)
		}
		return ErrBuffered
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Publish sends a firefly event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(Topic, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker. Messages still buffered are discarded.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	n := p.buf.len()
	p.mu.Unlock()
	if n > 0 {
		p.logger.Warn("discarding buffered mqtt messages", "count", n)
	}
	p.client.Disconnect(disconnectQuiet)
	return nil
}
