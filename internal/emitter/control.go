package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sentinelshield/sentinel/internal/config"
)

// Command represents a control plane command.
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a command response, published on the health topic.
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// CommandCallbacks contains the callbacks the orchestrator wires in.
// A nil callback means the command is not supported on this instance.
type CommandCallbacks struct {
	OnGetStatus    func() map[string]any
	OnPause        func() error
	OnResume       func() error
	OnClearAlerts  func() error
	OnRecentAlerts func(count int) []map[string]any
	OnResetStats   func() error
	OnSaveSnapshot func() (string, error)
	OnShutdown     func() error
}

// ControlHandler subscribes to the control topic and dispatches commands.
type ControlHandler struct {
	cfg       *config.Config
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks
}

// NewControlHandler creates a control plane handler on an existing client.
func NewControlHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *ControlHandler {
	return &ControlHandler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start subscribes to the control topic and begins processing commands.
func (h *ControlHandler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	var qos byte
	if q, ok := h.cfg.MQTT.QoS["control"]; ok {
		qos = q
	}

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)

	slog.Info("control plane handler started")
	return nil
}

// Stop unsubscribes and stops command processing.
func (h *ControlHandler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
		token.Wait()
	}

	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

func (h *ControlHandler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *ControlHandler) processCommands(ctx context.Context) {
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

func (h *ControlHandler) handleCommand(cmd Command) {
	var resp Response
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "pause":
		h.simple(&resp, h.callbacks.OnPause, map[string]any{"pipeline_active": false})

	case "resume":
		h.simple(&resp, h.callbacks.OnResume, map[string]any{"pipeline_active": true})

	case "clear_alerts":
		h.simple(&resp, h.callbacks.OnClearAlerts, map[string]any{"alerts_cleared": true})

	case "recent_alerts":
		if h.callbacks.OnRecentAlerts != nil {
			count := 10
			if v, ok := cmd.Params["count"].(float64); ok && v > 0 {
				count = int(v)
			}
			resp.Status = "success"
			resp.Data = map[string]any{
				"alerts": h.callbacks.OnRecentAlerts(count),
			}
		} else {
			resp.Status = "error"
			resp.Error = "recent_alerts not implemented"
		}

	case "reset_stats":
		h.simple(&resp, h.callbacks.OnResetStats, map[string]any{"stats_reset": true})

	case "save_snapshot":
		if h.callbacks.OnSaveSnapshot != nil {
			path, err := h.callbacks.OnSaveSnapshot()
			if err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]any{"path": path}
			}
		} else {
			resp.Status = "error"
			resp.Error = "save_snapshot not implemented"
		}

	case "shutdown":
		if h.callbacks.OnShutdown != nil {
			slog.Warn("shutdown command received via MQTT control plane")
			resp.Status = "success"
			resp.Data = map[string]any{
				"shutdown_initiated": true,
			}
			// Ack before shutting down so the response actually goes out
			h.sendResponse(resp)

			go func() {
				time.Sleep(500 * time.Millisecond)
				if err := h.callbacks.OnShutdown(); err != nil {
					slog.Error("shutdown callback failed", "error", err)
				}
			}()
			return
		}
		resp.Status = "error"
		resp.Error = "shutdown not implemented"

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

// simple handles the no-argument command pattern.
func (h *ControlHandler) simple(resp *Response, cb func() error, data map[string]any) {
	if cb == nil {
		resp.Status = "error"
		resp.Error = fmt.Sprintf("%s not implemented", resp.CommandAck)
		return
	}
	if err := cb(); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return
	}
	resp.Status = "success"
	resp.Data = data
}

func (h *ControlHandler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Health
	var qos byte
	if q, ok := h.cfg.MQTT.QoS["health"]; ok {
		qos = q
	}

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
