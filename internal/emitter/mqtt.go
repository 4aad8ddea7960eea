package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/e7canasta/acc-pipeline/internal/acc"
	"github.com/e7canasta/acc-pipeline/internal/config"
	"github.com/e7canasta/acc-pipeline/internal/params"
)

// Publisher is the subset of mqtt.Client used for publishing.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is one telemetry payload.
type Message struct {
	Type       string    `json:"type"` // "display", "transition"
	MessageID  string    `json:"message_id"`
	InstanceID string    `json:"instance_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	Display    *DisplayPayload `json:"display,omitempty"`
	Transition *acc.Transition `json:"transition,omitempty"`
}

// DisplayPayload mirrors what the display renders, plus the control state.
type DisplayPayload struct {
	Distance    float64 `json:"distance"`
	Speed       float64 `json:"speed"`
	Enabled     bool    `json:"enabled"`
	TargetSpeed float64 `json:"target_speed"`
	Command     float64 `json:"command"`
}

type outbound struct {
	topic string
	qos   byte
	msg   Message
}

// MQTTEmitter publishes pipeline telemetry.
//
// It implements acc.Observer. Callbacks never block the pipeline: messages
// go through a bounded queue and are dropped when it is full. Display
// snapshots are additionally rate limited; transitions are not.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for control plane

	pub     Publisher
	limiter *rate.Limiter
	queue   chan outbound
	wg      sync.WaitGroup

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
	closed    bool
	sessionID string

	dropped atomic.Uint64
	limited atomic.Uint64
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.MQTT.TelemetryRateHz), cfg.MQTT.TelemetryBurstSize),
		queue:     make(chan outbound, 32),
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.Attach(e.Client)
	e.setConnected(true)
	return nil
}

// Attach sets the publisher used by the publish loop.
func (e *MQTTEmitter) Attach(pub Publisher) {
	e.mu.Lock()
	e.pub = pub
	e.mu.Unlock()
}

// Start runs the publish loop until ctx is done or Disconnect is called.
func (e *MQTTEmitter) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case out, ok := <-e.queue:
				if !ok {
					return
				}
				if err := e.publish(out); err != nil {
					slog.Debug("telemetry publish failed", "topic", out.topic, "error", err)
				}
			}
		}
	}()
}

// OnSnapshot publishes an accepted display snapshot, rate limited.
func (e *MQTTEmitter) OnSnapshot(rec params.Record) {
	if !e.limiter.Allow() {
		e.limited.Add(1)
		return
	}

	e.enqueue(e.cfg.MQTT.QoS["display"], Message{
		Type: "display",
		Display: &DisplayPayload{
			Distance:    rec.Distance,
			Speed:       rec.Speed,
			Enabled:     rec.Enabled,
			TargetSpeed: rec.TargetSpeed,
			Command:     rec.Command,
		},
	})
}

// OnTransition publishes a supervisor state change.
func (e *MQTTEmitter) OnTransition(t acc.Transition) {
	e.mu.Lock()
	if t.To == acc.StateOn {
		e.sessionID = t.SessionID
	} else {
		e.sessionID = ""
	}
	e.mu.Unlock()

	tr := t
	e.enqueue(e.cfg.MQTT.QoS["transition"], Message{
		Type:       "transition",
		SessionID:  t.SessionID,
		Transition: &tr,
	})
}

func (e *MQTTEmitter) enqueue(qos byte, msg Message) {
	msg.MessageID = uuid.NewString()
	msg.InstanceID = e.cfg.InstanceID
	msg.Timestamp = time.Now()

	// Held across the send so Disconnect cannot close the queue under us.
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.dropped.Add(1)
		return
	}
	if msg.SessionID == "" {
		msg.SessionID = e.sessionID
	}

	select {
	case e.queue <- outbound{topic: e.topic(msg.Type), qos: qos, msg: msg}:
	default:
		e.dropped.Add(1)
	}
}

// topic builds acc/telemetry/{instance_id}/{type}
func (e *MQTTEmitter) topic(kind string) string {
	return fmt.Sprintf("%s/%s", e.cfg.MQTT.Topics.Telemetry, kind)
}

func (e *MQTTEmitter) publish(out outbound) error {
	e.mu.RLock()
	pub := e.pub
	connected := e.connected
	e.mu.RUnlock()

	if pub == nil || !connected {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(out.msg)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	token := pub.Publish(out.topic, out.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[out.topic]++
	e.mu.Unlock()
	return nil
}

// PublishHealth publishes a health message
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	e.mu.RLock()
	pub := e.pub
	connected := e.connected
	e.mu.RUnlock()

	if pub == nil || !connected {
		return fmt.Errorf("mqtt not connected")
	}

	token := pub.Publish(e.cfg.MQTT.Topics.Health, e.cfg.MQTT.QoS["health"], false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Disconnect stops the publish loop and closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	e.wg.Wait()

	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
		Dropped:   e.dropped.Load(),
		Limited:   e.limited.Load(),
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
	Dropped   uint64            `json:"dropped"` // queue full
	Limited   uint64            `json:"limited"` // display snapshots over rate
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
