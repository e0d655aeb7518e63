package mcp

import (
	"context"
	"testing"
	"time"
)

func TestRequestChannelSendReceiveReply(t *testing.T) {
	rc := NewRequestChannel[string, int](1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		env := <-rc.Recv()
		if env.Req != "ping" {
			t.Errorf("unexpected request: %q", env.Req)
		}
		rc.Reply(env, 42)
	}()

	resp, err := rc.Send(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if resp != 42 {
		t.Errorf("resp = %d, want 42", resp)
	}
	<-done
}

func TestRequestChannelSendContextCancelled(t *testing.T) {
	rc := NewRequestChannel[string, int](0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rc.Send(ctx, "ping"); err == nil {
		t.Error("expected context cancellation error")
	}
}

func TestRequestChannelCloseRejectsNewSends(t *testing.T) {
	rc := NewRequestChannel[string, int](1)
	rc.Close()

	if _, err := rc.Send(context.Background(), "ping"); err != ErrChannelClosed {
		t.Errorf("expected ErrChannelClosed, got %v", err)
	}
}

func TestEventChannelPublishNonBlocking(t *testing.T) {
	ec := NewEventChannel[string](1)

	if !ec.Publish("first") {
		t.Fatal("expected first publish to succeed")
	}
	if ec.Publish("second") {
		t.Error("expected second publish to be dropped when full")
	}

	select {
	case ev := <-ec.Events():
		if ev != "first" {
			t.Errorf("unexpected event: %q", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventChannelDefaultCapacity(t *testing.T) {
	ec := NewEventChannel[int](0)
	if cap(ec.ch) != DefaultEventChannelCapacity {
		t.Errorf("cap = %d, want %d", cap(ec.ch), DefaultEventChannelCapacity)
	}
}
