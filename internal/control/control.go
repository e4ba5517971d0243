// Package control implements the two external surfaces named by the
// component design's boundary behavior: a gorilla/websocket UI/control
// channel pushing typed {type,data} packets and accepting a small
// command vocabulary, and a handful of net/http single-shot action
// endpoints. Both are deliberately thin — the core is reachable from
// either only through the AutoRunner and PacketBot APIs already defined
// elsewhere.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/liqi-mitm/core/internal/autorun"
	"github.com/liqi-mitm/core/internal/gamestate"
	"github.com/liqi-mitm/core/internal/packetbot"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Packet is the {type, data} envelope every message on the control
// channel uses, both directions.
type Packet struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// autorunControlData is the payload shape for the "autorun_control"
// packet type: action names one of the command vocabulary's verbs.
type autorunControlData struct {
	Action string `json:"action"`
	Force  bool   `json:"force,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// EmailNotifier is the external SMTP collaborator the control channel
// defers to for notify_test_email; nil disables the feature.
type EmailNotifier interface {
	SendTestEmail(ctx context.Context) error
}

// Server is the UI/control-channel WebSocket server and the net/http
// single-shot action surface.
type Server struct {
	Runner   *autorun.AutoRunner
	Bot      *packetbot.Bot
	State    func() gamestate.Snapshot
	Notifier EmailNotifier
	Logger   *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// New returns a Server. runner, bot, and state must be non-nil; notifier may
// be nil.
func New(runner *autorun.AutoRunner, bot *packetbot.Bot, state func() gamestate.Snapshot, notifier EmailNotifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Runner:   runner,
		Bot:      bot,
		State:    state,
		Notifier: notifier,
		Logger:   logger,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[string]*client),
	}
}

// BroadcastStatus pushes a status_update packet to every connected
// client; wired as autorun.BroadcastFunc.
func (s *Server) BroadcastStatus(st autorun.Status) {
	s.broadcast("status_update", st)
}

// BroadcastGameState pushes a game_state packet to every connected
// client; wired as gamestate.BroadcastFunc.
func (s *Server) BroadcastGameState(snap gamestate.Snapshot) {
	s.broadcast("game_state", snap)
}

func (s *Server) broadcast(typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.Logger.Error("control.broadcast.marshal_failed", "type", typ, "err", err)
		return
	}
	raw, err := json.Marshal(Packet{Type: typ, Data: data})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		select {
		case c.send <- raw:
		default:
			s.Logger.Warn("control.client.send_buffer_full", "client_id", id)
		}
	}
}

// ServeHTTP upgrades the connection and runs the client's read/write
// loops until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("control.upgrade.failed", "err", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, 32)}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.Logger.Info("control.client.connected", "client_id", c.id)
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		close(c.send)
		conn.Close()
		s.Logger.Info("control.client.disconnected", "client_id", c.id)
	}()

	go s.writeLoop(c)
	s.readLoop(r.Context(), c)
}

func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var pkt Packet
		if err := json.Unmarshal(data, &pkt); err != nil {
			s.sendError(c, "invalid_packet", err.Error())
			continue
		}
		s.handlePacket(ctx, c, pkt)
	}
}

func (s *Server) handlePacket(ctx context.Context, c *client, pkt Packet) {
	switch pkt.Type {
	case "keep_alive":
		s.sendTo(c, "keep_alive", map[string]any{"timestamp": time.Now().UnixMilli()})
	case "request_update":
		s.BroadcastStatus(s.Runner.Status())
		s.BroadcastGameState(s.State())
	case "edit_config":
		// Config editing is the external file-watching collaborator's job;
		// the control channel only acknowledges so the UI doesn't hang.
		s.sendTo(c, "edit_config_ack", nil)
	case "open_config_dir":
		s.sendTo(c, "open_config_dir_ack", nil)
	case "msgbox_result":
		// The UI reports how the user dismissed a dialog; nothing in the
		// core currently blocks on it, so this is logged only.
		s.Logger.Info("control.msgbox_result", "data", string(pkt.Data))
	case "autorun_control":
		s.handleAutorunControl(ctx, c, pkt.Data)
	default:
		s.sendError(c, "unknown_type", fmt.Sprintf("unknown packet type %q", pkt.Type))
	}
}

func (s *Server) handleAutorunControl(ctx context.Context, c *client, raw json.RawMessage) {
	var d autorunControlData
	if err := json.Unmarshal(raw, &d); err != nil {
		s.sendError(c, "invalid_autorun_control", err.Error())
		return
	}

	switch d.Action {
	case "probe":
		probe := s.Runner.RefreshProbe(ctx)
		s.sendTo(c, "autorun_control_result", map[string]any{"action": "probe", "ok": probe.OK, "reason": probe.Reason})
	case "start":
		if err := s.Runner.Start(ctx); err != nil {
			s.sendError(c, "autorun_start_failed", err.Error())
			return
		}
		s.sendTo(c, "autorun_control_result", map[string]any{"action": "start", "ok": true})
	case "stop":
		s.Runner.Stop()
		s.sendTo(c, "autorun_control_result", map[string]any{"action": "stop", "ok": true})
	case "set_mode":
		s.Runner.SetMode(autorun.Mode(d.Mode))
		s.sendTo(c, "autorun_control_result", map[string]any{"action": "set_mode", "ok": true, "mode": d.Mode})
	case "step":
		if err := s.Runner.StepOnce(ctx); err != nil {
			s.sendError(c, "autorun_step_failed", err.Error())
			return
		}
		s.sendTo(c, "autorun_control_result", map[string]any{"action": "step", "ok": true})
	case "notify_test_email":
		if s.Notifier == nil {
			s.sendError(c, "notify_unavailable", "no email notifier configured")
			return
		}
		if err := s.Notifier.SendTestEmail(ctx); err != nil {
			s.sendError(c, "notify_failed", err.Error())
			return
		}
		s.sendTo(c, "autorun_control_result", map[string]any{"action": "notify_test_email", "ok": true})
	default:
		s.sendError(c, "unknown_action", fmt.Sprintf("unknown autorun_control action %q", d.Action))
	}
}

func (s *Server) sendTo(c *client, typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	raw, err := json.Marshal(Packet{Type: typ, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
		s.Logger.Warn("control.client.send_buffer_full", "client_id", c.id)
	}
}

func (s *Server) sendError(c *client, code, message string) {
	s.sendTo(c, "error", map[string]string{"code": code, "message": message})
}

// packetbotResult renders a packetbot.Result as a JSON-friendly map,
// omitting the raw response frame (wire-level detail the HTTP surface
// doesn't need to expose).
func packetbotResult(r packetbot.Result) map[string]any {
	return map[string]any{"ok": r.OK, "reason": r.Reason}
}
