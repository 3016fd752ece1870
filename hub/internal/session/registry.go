// Package session holds the hub's connection/session state machine: which
// client belongs to which session, and the fan-out plumbing used to deliver
// events to the right set of connections.
package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"bken/hub/internal/protocol"

	"github.com/google/uuid"
)

// SendTimeout bounds how long a write to one subscriber may block before the
// hub gives up on that recipient for this message.
const SendTimeout = 50 * time.Millisecond

// sendBuffer is the per-connection outbox channel depth.
const sendBuffer = 64

// Conn is one accepted connection's outbox, handed to the transport layer so
// it can pump frames to the underlying socket.
type Conn struct {
	ID   string
	Send chan protocol.ServerMessage
}

type connState struct {
	id      string
	session string // "" if not in a session
	send    chan protocol.ServerMessage
}

// Registry is the hub's global in-memory connection/session state.
// connections maps ClientId -> session ("" means unassigned); sessions maps
// SessionId -> ordered, duplicate-free membership list. Both invariants
// (spec.md §3) are maintained together under one mutex so a reader never
// observes one map mid-update relative to the other.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*connState
	sessions map[string][]string // sessionID -> ordered ClientIds
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]*connState),
		sessions: make(map[string][]string),
	}
}

// Accept registers a new connection and returns its handle. The caller must
// eventually call Disconnect to release it.
func (r *Registry) Accept() *Conn {
	id := uuid.NewString()
	c := &connState{id: id, send: make(chan protocol.ServerMessage, sendBuffer)}

	r.mu.Lock()
	r.conns[id] = c
	total := len(r.conns)
	r.mu.Unlock()

	slog.Info("client connected", "client_id", id, "total_clients", total)
	return &Conn{ID: id, Send: c.send}
}

// ConnCount reports the number of currently accepted connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SessionCount reports the number of non-empty sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// JoinSession adds clientID to sessionID, creating it if needed, and returns
// the resulting membership snapshot (ordered, duplicate-free). The caller
// composes and publishes the session_members frame after the lock is
// released.
func (r *Registry) JoinSession(clientID, sessionID string) (members []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.conns[clientID]
	if !exists {
		return nil, false
	}
	if c.session != "" && c.session != sessionID {
		r.removeFromSessionLocked(clientID, c.session)
	}
	c.session = sessionID

	members = r.sessions[sessionID]
	found := false
	for _, m := range members {
		if m == clientID {
			found = true
			break
		}
	}
	if !found {
		members = append(members, clientID)
		r.sessions[sessionID] = members
	}

	out := make([]string, len(members))
	copy(out, members)
	slog.Debug("join_session", "client_id", clientID, "session_id", sessionID, "members", len(out))
	return out, true
}

// LeaveSession removes clientID from its current session, if any, and
// returns the session id and the remaining membership snapshot. ok is false
// if the client was not in a session.
func (r *Registry) LeaveSession(clientID string) (sessionID string, members []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.conns[clientID]
	if !exists || c.session == "" {
		return "", nil, false
	}
	sessionID = c.session
	c.session = ""
	r.removeFromSessionLocked(clientID, sessionID)

	remaining := r.sessions[sessionID]
	out := make([]string, len(remaining))
	copy(out, remaining)
	slog.Debug("leave_session", "client_id", clientID, "session_id", sessionID, "remaining", len(out))
	return sessionID, out, true
}

// Disconnect removes clientID entirely: drops it from its session (if any)
// and closes its outbox. Returns the vacated session id and the remaining
// membership so the caller can publish a final session_members frame.
func (r *Registry) Disconnect(clientID string) (sessionID string, members []string, hadSession bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.conns[clientID]
	if !exists {
		return "", nil, false
	}
	sessionID = c.session
	if sessionID != "" {
		r.removeFromSessionLocked(clientID, sessionID)
		hadSession = true
	}
	delete(r.conns, clientID)
	close(c.send)

	if hadSession {
		remaining := r.sessions[sessionID]
		members = make([]string, len(remaining))
		copy(members, remaining)
	}
	slog.Info("client disconnected", "client_id", clientID, "had_session", hadSession, "remaining_clients", len(r.conns))
	return sessionID, members, hadSession
}

// SessionMembers returns a snapshot of clientID's current session and its
// membership. ok is false if the client is not in a session.
func (r *Registry) SessionMembers(clientID string) (sessionID string, members []string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.conns[clientID]
	if !exists || c.session == "" {
		return "", nil, false
	}
	members = make([]string, len(r.sessions[c.session]))
	copy(members, r.sessions[c.session])
	return c.session, members, true
}

// removeFromSessionLocked deletes clientID from sessions[sessionID],
// removing the session entirely if it becomes empty. Caller holds r.mu.
func (r *Registry) removeFromSessionLocked(clientID, sessionID string) {
	members := r.sessions[sessionID]
	for i, m := range members {
		if m == clientID {
			members = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(r.sessions, sessionID)
		return
	}
	r.sessions[sessionID] = members
}

// SendTo delivers msg to one connection's outbox, best-effort. It never
// blocks longer than SendTimeout and never panics on a closed channel.
func (r *Registry) SendTo(clientID string, msg protocol.ServerMessage) bool {
	r.mu.RLock()
	c, ok := r.conns[clientID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return trySend(c.send, msg)
}

// Publish delivers msg to every connection in members except exceptClientID
// (pass "" to include everyone). Lookups happen under a read lock; the
// actual sends happen after it is released.
func (r *Registry) Publish(members []string, exceptClientID string, msg protocol.ServerMessage) {
	r.mu.RLock()
	targets := make([]chan protocol.ServerMessage, 0, len(members))
	for _, id := range members {
		if exceptClientID != "" && id == exceptClientID {
			continue
		}
		if c, ok := r.conns[id]; ok {
			targets = append(targets, c.send)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, ch := range targets {
		if trySend(ch, msg) {
			sent++
		}
	}
	slog.Debug("publish", "event_type", msg.EventType, "recipients", sent, "total", len(targets))
}

func trySend(ch chan protocol.ServerMessage, msg protocol.ServerMessage) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case ch <- msg:
		return true
	case <-time.After(SendTimeout):
		slog.Debug("trySend timeout", "event_type", msg.EventType)
		return false
	}
}

// SessionMembersFrame builds the data payload for a session_members event.
func SessionMembersFrame(sessionID string, members []string) json.RawMessage {
	data, err := json.Marshal(protocol.SessionMembersData{SessionID: sessionID, Members: members})
	if err != nil {
		slog.Error("marshal session_members data", "err", err)
		return json.RawMessage("{}")
	}
	return data
}
