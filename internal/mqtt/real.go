package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/mux-scanner/internal/control"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 256

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    *zap.Logger

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	replaying bool // buffered messages are being sent; new ones queue behind them
	everUp    bool
}

func newPublisher(topics Topics, log *zap.Logger, bufferSize int) *RealPublisher {
	return &RealPublisher{
		topics: topics,
		log:    log,
		buf:    newRingBuffer(bufferSize),
	}
}

// NewRealPublisher creates a publisher for broker. The first connection
// attempt is made in the background; paho keeps retrying.
func NewRealPublisher(broker, clientID string, topics Topics, log *zap.Logger) *RealPublisher {
	p := newPublisher(topics, log, DefaultBufferSize)

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		log.Warn("mqtt last will disabled", zap.Error(err))
	} else {
		opts.SetBinaryWill(topics.System, will, 1, true)
	}

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// onConnect replays the buffer in order. publish keeps buffering until the
// buffer has been emptied, so nothing overtakes an older message.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.replaying = true
	reconnect := p.everUp
	p.everUp = true
	queued := p.buf.len()
	p.mu.Unlock()

	p.log.Info("mqtt connected", zap.Int("replaying", queued))

	if reconnect {
		payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		if err != nil {
			p.log.Warn("format reconnect event", zap.Error(err))
		} else {
			p.replay(c, bufferedMsg{topic: p.topics.System, payload: payload, qos: 1})
		}
	}

	for {
		p.mu.Lock()
		if !p.connected {
			p.replaying = false
			p.mu.Unlock()
			return
		}
		pending := p.buf.drainAll()
		if len(pending) == 0 {
			p.replaying = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		for _, msg := range pending {
			p.replay(c, msg)
		}
	}
}

func (p *RealPublisher) replay(c paho.Client, msg bufferedMsg) {
	token := c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.log.Warn("mqtt replay timeout", zap.String("topic", msg.topic))
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn("mqtt replay", zap.String("topic", msg.topic), zap.Error(err))
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Warn("mqtt connection lost", zap.Error(err))
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// PublishReport sends a monitor pass, QoS 0, not retained.
func (p *RealPublisher) PublishReport(report control.Report) error {
	payload, err := FormatReportPayload(report)
	if err != nil {
		return fmt.Errorf("format report payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.Report, payload: payload})
}

// PublishCalibration sends a sweep result, QoS 1, retained so new
// subscribers see the current selection.
func (p *RealPublisher) PublishCalibration(sweep control.Sweep) error {
	payload, err := FormatCalibrationPayload(sweep)
	if err != nil {
		return fmt.Errorf("format calibration payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.Calibration, payload: payload, qos: 1, retained: true})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.connected || p.replaying {
		if p.buf.push(msg) {
			p.log.Warn("mqtt buffer full, dropping oldest", zap.Int("capacity", p.buf.capacity))
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
