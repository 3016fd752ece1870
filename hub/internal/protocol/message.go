// Package protocol defines the hub-side JSON wire envelopes exchanged over
// the websocket connection. The client module declares its own,
// independently typed mirror of these same shapes; see client/protocol for
// the rationale.
package protocol

import "encoding/json"

// Event types carried in ServerMessage.EventType.
const (
	EventWelcome        = "welcome"
	EventSessionMembers = "session_members"
	EventActorSync      = "actor_sync"
	EventRegisteredMsg  = "registered_message"
)

// Command values carried in ClientMessage.Command.
const (
	CmdJoinSession       = "join_session"
	CmdLeaveSession      = "leave_session"
	CmdActorSync         = "actor_sync"
	CmdPlayerSync        = "player_sync" // alias for CmdActorSync
	CmdRegisteredMessage = "registered_message"
)

// ClientMessage is the inbound envelope sent by a connected client.
type ClientMessage struct {
	Command   string          `json:"command"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	// registered_message carries these at the top level rather than inside Data.
	SenderID  string `json:"sender_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ServerMessage is the outbound envelope delivered to one or more clients.
type ServerMessage struct {
	EventType string          `json:"event_type"`
	PlayerID  string          `json:"player_id,omitempty"`
	SenderID  string          `json:"sender_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SessionMembersData is the Data payload of a session_members event.
type SessionMembersData struct {
	SessionID string   `json:"session_id"`
	Members   []string `json:"members"`
}
