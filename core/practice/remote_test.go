package practice

import (
	"testing"
	"time"
)

func TestRemoteTransportNotReadyWithoutReport(t *testing.T) {
	tr := NewRemoteTransport()
	if _, ok := tr.Position(); ok {
		t.Fatal("expected transport not ready before any report")
	}
}

func TestRemoteTransportExtrapolatesWhilePlaying(t *testing.T) {
	base := time.Now()
	tr := NewRemoteTransport()
	tr.now = func() time.Time { return base }

	tr.Report(5.0, 100.0, true)

	base = base.Add(500 * time.Millisecond)
	pos, ok := tr.Position()
	if !ok {
		t.Fatal("expected transport ready")
	}
	if diff := pos - 5.5; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected extrapolated position 5.5, got %v", pos)
	}

	now := tr.Now()
	if diff := now - 100.5; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected extrapolated clock 100.5, got %v", now)
	}
}

func TestRemoteTransportHoldsWhilePaused(t *testing.T) {
	base := time.Now()
	tr := NewRemoteTransport()
	tr.now = func() time.Time { return base }

	tr.Report(5.0, 100.0, false)

	base = base.Add(time.Second)
	pos, ok := tr.Position()
	if !ok {
		t.Fatal("expected transport ready")
	}
	if pos != 5.0 {
		t.Fatalf("paused position must not advance, got %v", pos)
	}
}

func TestRemoteTransportStaleReport(t *testing.T) {
	base := time.Now()
	tr := NewRemoteTransport()
	tr.now = func() time.Time { return base }

	tr.Report(5.0, 100.0, true)

	base = base.Add(3 * time.Second)
	if _, ok := tr.Position(); ok {
		t.Fatal("expected transport not ready on a stale report")
	}

	// A fresh report revives it.
	tr.Report(8.0, 103.0, true)
	if pos, ok := tr.Position(); !ok || pos != 8.0 {
		t.Fatalf("expected position 8.0 after fresh report, got %v ok=%v", pos, ok)
	}
}

func TestWSPlayerBroadcastsTriggerAndCancel(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{Hub: hub, Send: make(chan []byte, 8), SessionID: "s1"}
	hub.Register(client)
	waitForRegistration(t, hub, "s1")

	tr := NewRemoteTransport()
	tr.Report(0, 10.0, true)
	p := &wsPlayer{sessionID: "s1", hub: hub, clock: tr}

	v, err := p.PlayAt("3", 10.5, 1.8)
	if err != nil {
		t.Fatalf("PlayAt: %v", err)
	}

	msg := receiveMessage(t, client)
	if msg.Type != MsgTypeTrigger {
		t.Fatalf("expected trigger message, got %s", msg.Type)
	}

	v.Stop()
	msg = receiveMessage(t, client)
	if msg.Type != MsgTypeCancel {
		t.Fatalf("expected cancel message, got %s", msg.Type)
	}

	// A second Stop must not send another cancel.
	v.Stop()
	select {
	case raw := <-client.Send:
		t.Fatalf("unexpected extra message after repeated Stop: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWSVoiceDone(t *testing.T) {
	base := time.Now()
	tr := NewRemoteTransport()
	tr.now = func() time.Time { return base }
	tr.Report(0, 10.0, true)

	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	p := &wsPlayer{sessionID: "s1", hub: hub, clock: tr}
	v, _ := p.PlayAt("1", 10.5, 1.0)
	done := v.(interface{ Done() bool })

	if done.Done() {
		t.Fatal("voice must not be done right after scheduling")
	}

	base = base.Add(5 * time.Second)
	if !done.Done() {
		t.Fatal("voice must be done well past its trigger instant")
	}
}
