package practice

import (
	"encoding/json"
	"testing"
	"time"
)

func waitForRegistration(t *testing.T, hub *Hub, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !hub.RoomEmpty(sessionID) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("client did not register in session %s", sessionID)
}

func receiveMessage(t *testing.T, client *Client) *WSMessage {
	t.Helper()
	select {
	case raw := <-client.Send:
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal hub message: %v", err)
		}
		return &msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hub message")
		return nil
	}
}

func TestHubBroadcastReachesRoomOnly(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	inRoom := &Client{Hub: hub, Send: make(chan []byte, 8), SessionID: "a"}
	other := &Client{Hub: hub, Send: make(chan []byte, 8), SessionID: "b"}
	hub.Register(inRoom)
	hub.Register(other)
	waitForRegistration(t, hub, "a")
	waitForRegistration(t, hub, "b")

	hub.Broadcast("a", MsgTypeCount, CountData{Label: "5"})

	msg := receiveMessage(t, inRoom)
	if msg.Type != MsgTypeCount || msg.SessionID != "a" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var data CountData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal count data: %v", err)
	}
	if data.Label != "5" {
		t.Fatalf("expected label 5, got %q", data.Label)
	}

	select {
	case raw := <-other.Send:
		t.Fatalf("client in another room received: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterEmptiesRoom(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{Hub: hub, Send: make(chan []byte, 8), SessionID: "a"}
	hub.Register(client)
	waitForRegistration(t, hub, "a")

	hub.Unregister(client)
	deadline := time.Now().Add(time.Second)
	for !hub.RoomEmpty("a") {
		if time.Now().After(deadline) {
			t.Fatal("room did not empty after unregister")
		}
		time.Sleep(time.Millisecond)
	}

	// The send channel is closed on unregister.
	if _, ok := <-client.Send; ok {
		t.Fatal("expected closed send channel")
	}
}
