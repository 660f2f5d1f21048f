package core

import (
	"context"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// noEvent fails if an event of the given kind shows up within wait.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		case <-timer.C:
			return
		}
	}
}

// waitClosed fails unless ch is closed within two seconds.
func waitClosed(t *testing.T, ch <-chan *Event) {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("event channel was not closed")
		}
	}
}

func startHub(t *testing.T, capacity int) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(capacity, nil, nil)
	go hub.Run(ctx)
	return hub
}

// join registers a connection for id and waits for its join-success.
func join(t *testing.T, hub *Hub, room, id string) (*Client, *Event) {
	t.Helper()

	c := NewClient("conn-" + id)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandJoinRoom, Room: room, UserID: id, UserName: id}
	return c, mustEvent(t, c.Events, EventJoinSuccess)
}
