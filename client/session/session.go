// Package session holds the client-core singleton: the one mutex-guarded
// object that every host-facing entry point in abi.go reads or mutates.
//
// It exists as a singleton because the host-loaded library receives control
// from arbitrary recompiled call sites with no state parameter to thread
// through. Each method acquires the one mutex itself; there are no shared
// read-guarded or write-guarded access helpers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bken/client/marshal"
	"bken/client/protocol"
	"bken/client/transport"
)

// Sentinel errors, the StateError kinds from the error handling design.
var (
	ErrAlreadyConnected = errors.New("session: already connected")
	ErrNotConnected     = errors.New("session: not connected")
	ErrNotInSession     = errors.New("session: not in a session")
)

// RemoteActor is a peer's last-known snapshot.
type RemoteActor struct {
	ID         string
	Data       marshal.ActorData
	LastUpdate time.Time
}

// QueuedMessage is one pending registered_message payload.
type QueuedMessage struct {
	MessageID string
	Data      []byte
}

// Session is the per-process client-core singleton.
type Session struct {
	mu sync.Mutex

	transport *transport.Transport

	connected        bool
	clientID         string
	currentSessionID string
	inSession        bool
	sessionMembers   []string
	remoteActors     map[string]RemoteActor
	messageQueue     []QueuedMessage
}

var (
	instance     *Session
	instanceOnce sync.Once
)

// Get returns the process-wide Session, constructing it on first call.
func Get() *Session {
	instanceOnce.Do(func() {
		instance = newSession()
	})
	return instance
}

func newSession() *Session {
	return &Session{
		transport:    transport.New(),
		remoteActors: make(map[string]RemoteActor),
	}
}

// Connect registers the inbound handler and establishes the transport. It
// fails with ErrAlreadyConnected if already connected.
func (s *Session) Connect(ctx context.Context, url string) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.resetLocked()
	s.mu.Unlock()

	s.transport.SetOnMessage(s.handleInbound)
	if err := s.transport.Connect(ctx, url); err != nil {
		return err
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Disconnect closes the transport if connected. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	wasConnected := s.connected
	s.mu.Unlock()

	if wasConnected {
		if err := s.transport.Disconnect(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.connected = false
	s.currentSessionID = ""
	s.inSession = false
	s.sessionMembers = nil
	s.remoteActors = make(map[string]RemoteActor)
	s.messageQueue = nil
	s.mu.Unlock()
	return nil
}

// resetLocked clears reconnect state. Caller holds s.mu.
func (s *Session) resetLocked() {
	s.clientID = ""
	s.currentSessionID = ""
	s.inSession = false
	s.sessionMembers = nil
	s.remoteActors = make(map[string]RemoteActor)
	s.messageQueue = nil
}

// JoinSession sends a join_session command and optimistically records id as
// the current session; authoritative membership arrives on the next
// session_members event.
func (s *Session) JoinSession(id string) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.currentSessionID = id
	s.inSession = true
	s.mu.Unlock()

	return s.sendFrame(protocol.ClientMessage{Command: protocol.CmdJoinSession, SessionID: id})
}

// LeaveSession sends a leave_session command for the current session, if
// any. It deliberately does not clear currentSessionId locally: that is
// left for the hub's subsequent session_members to resolve (see the open
// question recorded in the project design notes).
func (s *Session) LeaveSession() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if !s.inSession {
		s.mu.Unlock()
		return ErrNotInSession
	}
	sessionID := s.currentSessionID
	s.mu.Unlock()

	return s.sendFrame(protocol.ClientMessage{Command: protocol.CmdLeaveSession, SessionID: sessionID})
}

// SendActorSync emits an actor_sync command carrying data. It is sent
// regardless of session membership; the hub filters to co-members.
func (s *Session) SendActorSync(data marshal.ActorData) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	clientID := s.clientID
	s.mu.Unlock()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal actor data: %w", err)
	}
	return s.sendFrame(protocol.ClientMessage{
		Command:  protocol.CmdActorSync,
		SenderID: clientID,
		Data:     payload,
	})
}

// SendMessage emits a registered_message command. It is a silent no-op if
// the client is not currently in a session.
func (s *Session) SendMessage(messageID string, data []byte) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if !s.inSession {
		s.mu.Unlock()
		return nil
	}
	clientID := s.clientID
	s.mu.Unlock()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal message payload: %w", err)
	}
	return s.sendFrame(protocol.ClientMessage{
		Command:   protocol.CmdRegisteredMessage,
		SenderID:  clientID,
		MessageID: messageID,
		Data:      payload,
	})
}

func (s *Session) sendFrame(msg protocol.ClientMessage) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal client message: %w", err)
	}
	return s.transport.Send(frame)
}

// ClientID returns the hub-assigned identifier, empty until welcome.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// CurrentSessionID returns the locally tracked session id and whether one
// is set.
func (s *Session) CurrentSessionID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSessionID, s.inSession
}

// SessionMembers returns a copy of the last membership list delivered by
// the hub.
func (s *Session) SessionMembers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sessionMembers))
	copy(out, s.sessionMembers)
	return out
}

// RemoteActorIDs returns a copy of the remote-actor map's keys.
func (s *Session) RemoteActorIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.remoteActors))
	for id := range s.remoteActors {
		out = append(out, id)
	}
	return out
}

// RemoteActor returns a copy of the peer's last-known snapshot, if present.
func (s *Session) RemoteActor(id string) (RemoteActor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ra, ok := s.remoteActors[id]
	return ra, ok
}

// PendingMessageSize returns the byte length of the head of the message
// queue, or 0 if empty.
func (s *Session) PendingMessageSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messageQueue) == 0 {
		return 0
	}
	return len(s.messageQueue[0].Data)
}

// PopMessage pops the queue head iff bufLen >= len(head.Data). On success it
// returns the head's message id and data and removes it from the queue; on
// a size mismatch the head is left in place and ok is false.
func (s *Session) PopMessage(bufLen int) (messageID string, data []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messageQueue) == 0 {
		return "", nil, false
	}
	head := s.messageQueue[0]
	if bufLen < len(head.Data) {
		return "", nil, false
	}
	s.messageQueue = s.messageQueue[1:]
	return head.MessageID, head.Data, true
}

// handleInbound parses one inbound frame and updates state under the
// mutex. Invoked from the transport's reader goroutine.
func (s *Session) handleInbound(frame []byte) {
	if len(frame) == 0 {
		return
	}
	var msg protocol.ServerMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		slog.Debug("dropping malformed frame", "err", err)
		return
	}

	switch msg.EventType {
	case protocol.EventWelcome:
		s.mu.Lock()
		s.clientID = msg.PlayerID
		s.mu.Unlock()
		slog.Info("welcomed by hub", "client_id", msg.PlayerID)

	case protocol.EventSessionMembers:
		var data protocol.SessionMembersData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			slog.Debug("dropping malformed session_members", "err", err)
			return
		}
		s.applySessionMembers(data)

	case protocol.EventActorSync:
		s.mu.Lock()
		self := msg.SenderID == s.clientID
		s.mu.Unlock()
		if self {
			return
		}
		var data marshal.ActorData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			slog.Debug("dropping malformed actor_sync", "err", err)
			return
		}
		s.mu.Lock()
		s.remoteActors[msg.SenderID] = RemoteActor{ID: msg.SenderID, Data: data, LastUpdate: time.Now()}
		s.mu.Unlock()

	case protocol.EventRegisteredMsg:
		s.mu.Lock()
		self := msg.SenderID == s.clientID
		s.mu.Unlock()
		if self {
			return
		}
		var data []byte
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			slog.Debug("dropping malformed registered_message", "err", err)
			return
		}
		s.mu.Lock()
		s.messageQueue = append(s.messageQueue, QueuedMessage{MessageID: msg.MessageID, Data: data})
		s.mu.Unlock()

	default:
		slog.Debug("dropping unknown event_type", "event_type", msg.EventType)
	}
}

// applySessionMembers diffs the new membership against the old, evicting
// remoteActors entries for ids that disappeared.
func (s *Session) applySessionMembers(data protocol.SessionMembersData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newSet := make(map[string]bool, len(data.Members))
	for _, id := range data.Members {
		newSet[id] = true
	}
	for _, id := range s.sessionMembers {
		if !newSet[id] {
			delete(s.remoteActors, id)
		}
	}

	s.sessionMembers = append([]string(nil), data.Members...)
	s.currentSessionID = data.SessionID
	s.inSession = true
}
