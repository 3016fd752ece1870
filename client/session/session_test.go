package session

import (
	"encoding/json"
	"testing"

	"bken/client/marshal"
	"bken/client/protocol"
)

func newTestSession() *Session {
	return newSession()
}

func welcomeFrame(t *testing.T, s *Session, clientID string) {
	t.Helper()
	frame, err := json.Marshal(protocol.ServerMessage{EventType: protocol.EventWelcome, PlayerID: clientID})
	if err != nil {
		t.Fatal(err)
	}
	s.handleInbound(frame)
}

func TestWelcomeSetsClientID(t *testing.T) {
	s := newTestSession()
	welcomeFrame(t, s, "client-a")
	if got := s.ClientID(); got != "client-a" {
		t.Fatalf("ClientID = %q, want client-a", got)
	}
}

func TestActorSyncFromSelfIsIgnored(t *testing.T) {
	s := newTestSession()
	welcomeFrame(t, s, "client-a")

	data, _ := json.Marshal(marshal.ActorData{CurrentBoots: 1})
	frame, _ := json.Marshal(protocol.ServerMessage{
		EventType: protocol.EventActorSync,
		SenderID:  "client-a",
		Data:      data,
	})
	s.handleInbound(frame)

	if _, ok := s.RemoteActor("client-a"); ok {
		t.Error("self-originated actor_sync should not populate remoteActors")
	}
}

func TestActorSyncFromPeerIsStored(t *testing.T) {
	s := newTestSession()
	welcomeFrame(t, s, "client-a")

	want := marshal.ActorData{CurrentBoots: 1, CurrentShield: 2}
	want.WorldPosition = [3]float32{1, 2, 3}
	data, _ := json.Marshal(want)
	frame, _ := json.Marshal(protocol.ServerMessage{
		EventType: protocol.EventActorSync,
		SenderID:  "client-b",
		Data:      data,
	})
	s.handleInbound(frame)

	ra, ok := s.RemoteActor("client-b")
	if !ok {
		t.Fatal("expected remote actor for client-b")
	}
	if ra.Data != want {
		t.Fatalf("got %+v, want %+v", ra.Data, want)
	}
}

func TestSessionMembersShrinkEvictsRemoteActor(t *testing.T) {
	s := newTestSession()
	welcomeFrame(t, s, "client-a")

	// Seed membership with a and b, then populate b's remote actor.
	members1, _ := json.Marshal(protocol.SessionMembersData{SessionID: "room-1", Members: []string{"client-a", "client-b"}})
	frame1, _ := json.Marshal(protocol.ServerMessage{EventType: protocol.EventSessionMembers, Data: members1})
	s.handleInbound(frame1)

	data, _ := json.Marshal(marshal.ActorData{})
	actorFrame, _ := json.Marshal(protocol.ServerMessage{EventType: protocol.EventActorSync, SenderID: "client-b", Data: data})
	s.handleInbound(actorFrame)

	if _, ok := s.RemoteActor("client-b"); !ok {
		t.Fatal("expected client-b to be tracked before membership shrink")
	}

	members2, _ := json.Marshal(protocol.SessionMembersData{SessionID: "room-1", Members: []string{"client-a"}})
	frame2, _ := json.Marshal(protocol.ServerMessage{EventType: protocol.EventSessionMembers, Data: members2})
	s.handleInbound(frame2)

	if _, ok := s.RemoteActor("client-b"); ok {
		t.Error("client-b should have been evicted from remoteActors after membership shrink")
	}
}

func TestRegisteredMessageFromSelfIsIgnored(t *testing.T) {
	s := newTestSession()
	welcomeFrame(t, s, "client-a")

	data, _ := json.Marshal([]byte{1, 2, 3})
	frame, _ := json.Marshal(protocol.ServerMessage{
		EventType: protocol.EventRegisteredMsg,
		SenderID:  "client-a",
		MessageID: "shout",
		Data:      data,
	})
	s.handleInbound(frame)

	if s.PendingMessageSize() != 0 {
		t.Error("self-originated registered_message should not be queued")
	}
}

func TestRegisteredMessageFromPeerIsQueued(t *testing.T) {
	s := newTestSession()
	welcomeFrame(t, s, "client-a")

	data, _ := json.Marshal([]byte{1, 2, 3})
	frame, _ := json.Marshal(protocol.ServerMessage{
		EventType: protocol.EventRegisteredMsg,
		SenderID:  "client-b",
		MessageID: "shout",
		Data:      data,
	})
	s.handleInbound(frame)

	if size := s.PendingMessageSize(); size != 3 {
		t.Fatalf("PendingMessageSize = %d, want 3", size)
	}
}

func TestPopMessageShortBufferLeavesQueueIntact(t *testing.T) {
	s := newTestSession()
	welcomeFrame(t, s, "client-a")

	data, _ := json.Marshal([]byte{1, 2, 3})
	frame, _ := json.Marshal(protocol.ServerMessage{
		EventType: protocol.EventRegisteredMsg,
		SenderID:  "client-b",
		MessageID: "shout",
		Data:      data,
	})
	s.handleInbound(frame)

	if _, _, ok := s.PopMessage(2); ok {
		t.Error("PopMessage with an undersized buffer should not succeed")
	}
	if size := s.PendingMessageSize(); size != 3 {
		t.Fatalf("queue head should be unchanged; PendingMessageSize = %d, want 3", size)
	}

	id, payload, ok := s.PopMessage(3)
	if !ok {
		t.Fatal("PopMessage with an exact-size buffer should succeed")
	}
	if id != "shout" || len(payload) != 3 {
		t.Fatalf("got id=%q payload=%v", id, payload)
	}
	if s.PendingMessageSize() != 0 {
		t.Error("queue should be empty after a successful pop")
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	s := newTestSession()
	s.handleInbound([]byte("not json"))
	if s.ClientID() != "" {
		t.Error("malformed frame should not affect state")
	}
}

func TestEmptyFrameIsDropped(t *testing.T) {
	s := newTestSession()
	s.handleInbound(nil)
	s.handleInbound([]byte{})
}
