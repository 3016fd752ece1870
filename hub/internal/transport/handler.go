// Package transport owns the websocket upgrade and the per-connection
// read/dispatch loop that drives a session.Registry.
package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bken/hub/internal/protocol"
	"bken/hub/internal/session"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeTimeout = 5 * time.Second

// maxSessionIDLen and maxMessageIDLen bound the client-supplied identifiers
// per spec.md §3 ("SessionId ... up to 64 bytes", "MessageId ... up to 63
// bytes").
const (
	maxSessionIDLen = 64
	maxMessageIDLen = 63
)

// Handler owns websocket transport for the hub.
type Handler struct {
	registry *session.Registry
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to registry.
func NewHandler(registry *session.Registry) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the upgrade route on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	remoteAddr := c.RealIP()
	slog.Debug("ws upgrade request", "remote", remoteAddr)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("ws upgrade failed", "remote", remoteAddr, "err", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn, remoteAddr)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(1 << 20)

	client := h.registry.Accept()
	clientID := client.ID

	slog.Info("ws connected", "client_id", clientID, "remote", remoteAddr)

	defer func() {
		sessionID, members, hadSession := h.registry.Disconnect(clientID)
		slog.Info("ws disconnected", "client_id", clientID, "remote", remoteAddr, "had_session", hadSession)
		if hadSession && len(members) > 0 {
			h.registry.Publish(members, "", protocol.ServerMessage{
				EventType: protocol.EventSessionMembers,
				PlayerID:  clientID,
				Data:      session.SessionMembersFrame(sessionID, members),
			})
		}
	}()

	go func() {
		for out := range client.Send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(out); err != nil {
				slog.Debug("ws write error", "client_id", clientID, "event_type", out.EventType, "err", err)
				return
			}
		}
		slog.Debug("ws send channel closed", "client_id", clientID)
	}()

	h.registry.SendTo(clientID, protocol.ServerMessage{
		EventType: protocol.EventWelcome,
		PlayerID:  clientID,
		Data:      json.RawMessage("{}"),
	})

	for {
		var in protocol.ClientMessage
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws unexpected close", "client_id", clientID, "err", err)
			}
			return
		}
		slog.Debug("ws recv", "client_id", clientID, "command", in.Command, "session_id", in.SessionID)
		h.handleInbound(clientID, in)
	}
}

func (h *Handler) handleInbound(clientID string, in protocol.ClientMessage) {
	switch in.Command {
	case protocol.CmdJoinSession:
		if in.SessionID == "" {
			slog.Debug("join_session missing session_id", "client_id", clientID)
			return
		}
		if len(in.SessionID) > maxSessionIDLen {
			slog.Debug("join_session session_id too long", "client_id", clientID, "len", len(in.SessionID))
			return
		}
		members, ok := h.registry.JoinSession(clientID, in.SessionID)
		if !ok {
			return
		}
		h.registry.Publish(members, "", protocol.ServerMessage{
			EventType: protocol.EventSessionMembers,
			PlayerID:  clientID,
			Data:      session.SessionMembersFrame(in.SessionID, members),
		})

	case protocol.CmdLeaveSession:
		sessionID, members, ok := h.registry.LeaveSession(clientID)
		if !ok {
			return
		}
		h.registry.Publish(members, "", protocol.ServerMessage{
			EventType: protocol.EventSessionMembers,
			PlayerID:  clientID,
			Data:      session.SessionMembersFrame(sessionID, members),
		})

	case protocol.CmdActorSync, protocol.CmdPlayerSync:
		_, members, ok := h.registry.SessionMembers(clientID)
		if !ok {
			return
		}
		// Fan out to every member including the sender; the client filters
		// self-originated frames on ingress (spec.md §9, "self-echo tolerance").
		h.registry.Publish(members, "", protocol.ServerMessage{
			EventType: protocol.EventActorSync,
			SenderID:  clientID,
			Data:      in.Data,
		})

	case protocol.CmdRegisteredMessage:
		if in.MessageID == "" {
			slog.Debug("registered_message missing message_id", "client_id", clientID)
			return
		}
		if len(in.MessageID) > maxMessageIDLen {
			slog.Debug("registered_message message_id too long", "client_id", clientID, "len", len(in.MessageID))
			return
		}
		_, members, ok := h.registry.SessionMembers(clientID)
		if !ok {
			return
		}
		// Members-minus-self: the client already self-filters, so excluding
		// the sender here just saves a wasted delivery.
		h.registry.Publish(members, clientID, protocol.ServerMessage{
			EventType: protocol.EventRegisteredMsg,
			SenderID:  clientID,
			MessageID: in.MessageID,
			Data:      in.Data,
		})

	default:
		slog.Warn("ws unknown command", "client_id", clientID, "command", in.Command)
	}
}
