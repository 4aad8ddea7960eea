package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/acc-pipeline/internal/config"
)

// Client is the subset of mqtt.Client used by the control plane.
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus  func() map[string]interface{}
	OnEnable     func() error
	OnDisable    func() error
	OnSetSafe    func(safe bool) error
	OnRaiseFault func() error
	OnClearFault func() error
	OnSetGains   func(k1, k2, k3 float64) error
	OnSetCruise  func(speed float64) error
	OnShutdown   func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg      *config.Config
	client   Client
	commands chan Command

	// shutdownDelay lets the shutdown response leave before teardown starts.
	shutdownDelay time.Duration

	mu        sync.Mutex
	stopped   bool
	callbacks CommandCallbacks
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:           cfg,
		client:        client,
		commands:      make(chan Command, 10),
		shutdownDelay: 500 * time.Millisecond,
		callbacks:     callbacks,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)

	return nil
}

// Stop stops the control plane handler
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}

	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		close(h.commands)
	}
	h.mu.Unlock()

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	h.dispatch(msg.Payload())
}

func (h *Handler) dispatch(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.notImplemented()
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "enable":
		resp.run(h.callbacks.OnEnable, map[string]interface{}{"requested": "enable"})

	case "disable":
		resp.run(h.callbacks.OnDisable, map[string]interface{}{"requested": "disable"})

	case "set_safe", "clear_safe":
		safe := cmd.Command == "set_safe"
		if h.callbacks.OnSetSafe == nil {
			resp.notImplemented()
			break
		}
		resp.run(func() error { return h.callbacks.OnSetSafe(safe) },
			map[string]interface{}{"safe_to_actuate": safe})

	case "raise_fault":
		resp.run(h.callbacks.OnRaiseFault, map[string]interface{}{"fault_detected": true})

	case "clear_fault":
		resp.run(h.callbacks.OnClearFault, map[string]interface{}{"fault_detected": false})

	case "set_gains":
		if h.callbacks.OnSetGains == nil {
			resp.notImplemented()
			break
		}
		k1, ok1 := cmd.Params["k1"].(float64)
		k2, ok2 := cmd.Params["k2"].(float64)
		k3, ok3 := cmd.Params["k3"].(float64)
		if !ok1 || !ok2 || !ok3 {
			resp.Status = "error"
			resp.Error = "missing or invalid 'k1', 'k2', 'k3' parameters (expected float)"
			break
		}
		resp.run(func() error { return h.callbacks.OnSetGains(k1, k2, k3) },
			map[string]interface{}{"k1": k1, "k2": k2, "k3": k3})

	case "set_cruise":
		if h.callbacks.OnSetCruise == nil {
			resp.notImplemented()
			break
		}
		speed, ok := cmd.Params["speed"].(float64)
		if !ok {
			resp.Status = "error"
			resp.Error = "missing or invalid 'speed' parameter (expected float)"
			break
		}
		resp.run(func() error { return h.callbacks.OnSetCruise(speed) },
			map[string]interface{}{"cruise_speed": speed})

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.notImplemented()
			break
		}
		slog.Warn("shutdown command received via MQTT control plane")
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		// Send response BEFORE triggering shutdown
		h.sendResponse(resp)

		go func() {
			time.Sleep(h.shutdownDelay)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (r *Response) run(fn func() error, data map[string]interface{}) {
	if fn == nil {
		r.notImplemented()
		return
	}
	if err := fn(); err != nil {
		r.Status = "error"
		r.Error = err.Error()
		return
	}
	r.Status = "success"
	r.Data = data
}

func (r *Response) notImplemented() {
	r.Status = "error"
	r.Error = r.CommandAck + " not implemented"
}

// sendResponse publishes a response on the health topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Health
	qos := h.cfg.MQTT.QoS["health"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
