package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/storage"
	"github.com/ashita-ai/mission-control/internal/testutil"
)

// testLogger returns a logger for tests that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBrokerFanOut(t *testing.T) {
	broker := &Broker{
		subscribers: make(map[chan []byte]struct{}),
		logger:      testLogger(),
	}

	// Subscribe two clients.
	ch1 := broker.Subscribe()
	ch2 := broker.Subscribe()

	// Broadcast an event.
	event := formatSSE("kill_switch", `{"table":"kill_switch","op":"UPDATE"}`)
	broker.broadcast(event)

	// Both should receive it.
	select {
	case got := <-ch1:
		if string(got) != string(event) {
			t.Errorf("ch1: got %q, want %q", got, event)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch1: timed out waiting for event")
	}

	select {
	case got := <-ch2:
		if string(got) != string(event) {
			t.Errorf("ch2: got %q, want %q", got, event)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2: timed out waiting for event")
	}

	// Unsubscribe ch1 and broadcast again; only ch2 should receive.
	broker.Unsubscribe(ch1)
	event2 := formatSSE("audit_log", `{"table":"audit_log","op":"INSERT"}`)
	broker.broadcast(event2)

	select {
	case got := <-ch2:
		if string(got) != string(event2) {
			t.Errorf("ch2: got %q, want %q", got, event2)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2: timed out waiting for event after ch1 unsubscribed")
	}

	broker.Unsubscribe(ch2)
}

func TestFormatSSE(t *testing.T) {
	got := string(formatSSE("agents", `{"id":"123"}`))
	want := "event: agents\ndata: {\"id\":\"123\"}\n\n"
	if got != want {
		t.Errorf("formatSSE: got %q, want %q", got, want)
	}
}

func TestBrokerSlowSubscriber(t *testing.T) {
	broker := &Broker{
		subscribers: make(map[chan []byte]struct{}),
		logger:      testLogger(),
	}

	// Create a slow subscriber (small buffer that we won't read from).
	slow := broker.Subscribe()
	fast := broker.Subscribe()

	// Fill the slow subscriber's buffer.
	for range 65 {
		broker.broadcast(formatSSE("test", "fill"))
	}

	// Fast subscriber should still get events.
	event := formatSSE("test", "after-fill")
	broker.broadcast(event)

	select {
	case <-fast:
		// Got a buffered event, so the fast subscriber is not blocked.
	case <-time.After(100 * time.Millisecond):
		t.Fatal("fast subscriber should receive events even when slow subscriber is blocked")
	}

	broker.Unsubscribe(slow)
	broker.Unsubscribe(fast)
}

func TestEventName(t *testing.T) {
	if got := eventName(storage.ChannelChanges, `{"table":"agents","op":"update","id":"x"}`); got != "agents" {
		t.Errorf("eventName: got %q, want agents", got)
	}
	if got := eventName(storage.ChannelChanges, "not json"); got != storage.ChannelChanges {
		t.Errorf("eventName fallback: got %q, want %q", got, storage.ChannelChanges)
	}
}

func TestBrokerStartRelaysStoreChanges(t *testing.T) {
	st := testutil.NewSQLite(t)
	broker := NewBroker(st, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		broker.Start(ctx)
		close(done)
	}()

	// Listen happens inside Start; retry the write until the event arrives.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-ch:
			if !strings.HasPrefix(string(ev), "event: kill_switch\n") {
				t.Fatalf("unexpected event %q", ev)
			}
			cancel()
			<-done
			return
		case <-tick.C:
			_, _ = st.ProvisionRunState(ctx, model.RunState{
				ID:          uuid.New(),
				Status:      model.RunStatusRunning,
				TriggeredAt: time.Now(),
				TriggeredBy: model.SystemActor,
				Reason:      "test",
			})
		case <-deadline:
			t.Fatal("timed out waiting for change event")
		}
	}
}

// flakySource fails its first wait, then delivers one payload.
type flakySource struct {
	waits int
}

func (f *flakySource) Listen(context.Context, string) error { return nil }

func (f *flakySource) WaitForNotification(ctx context.Context) (string, string, error) {
	f.waits++
	switch f.waits {
	case 1:
		return "", "", errors.New("connection reset")
	case 2:
		return storage.ChannelChanges, `{"table":"kill_switch","op":"update","id":"1"}`, nil
	}
	<-ctx.Done()
	return "", "", ctx.Err()
}

func TestBrokerRecoversAfterFeedError(t *testing.T) {
	src := &flakySource{}
	broker := NewBroker(src, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		broker.Start(ctx)
		close(done)
	}()

	start := time.Now()
	select {
	case got := <-ch:
		if !strings.HasPrefix(string(got), "event: kill_switch\n") {
			t.Errorf("got %q, want a kill_switch event", got)
		}
		if time.Since(start) < brokerRetryDelay/2 {
			t.Errorf("broker retried without pausing")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event after feed error")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
