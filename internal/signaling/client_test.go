package signaling

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wiremesh/internal/proto"
)

// fakeRelay answers join-room with join-success and echoes the ticket in the room id.
func fakeRelay(t *testing.T) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"something-new"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`not json`))

		var join proto.JoinRoom
		if err := wsjson.Read(ctx, conn, &join); err != nil {
			return
		}
		_ = wsjson.Write(ctx, conn, proto.JoinSuccess{
			Type:     proto.TypeJoinSuccess,
			RoomID:   join.RoomID + ":" + r.URL.Query().Get("ticket"),
			YourID:   join.UserID,
			YourRole: "owner",
		})
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestClientJoinRoundTrip(t *testing.T) {
	ts := fakeRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(ts.URL, "http", "ws", 1)
	c, err := Dial(ctx, url, "t0k", time.Second, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.Send(ctx, proto.JoinRoom{Type: proto.TypeJoinRoom, RoomID: "r", UserID: "u"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-c.Incoming():
		ok, isJoin := msg.(proto.JoinSuccess)
		if !isJoin {
			t.Fatalf("expected join-success first, got %T", msg)
		}
		if ok.RoomID != "r:t0k" || ok.YourID != "u" {
			t.Fatalf("unexpected join-success: %+v", ok)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	if err := c.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	if err := c.Send(ctx, proto.ChatMessage{Type: proto.TypeChatMessage}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}

	for range c.Incoming() {
	}
}

func TestDialTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// Accept but never answer the handshake.
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	start := time.Now()
	_, err = Dial(context.Background(), "ws://"+ln.Addr().String()+"/ws", "", 100*time.Millisecond, nil)
	if !errors.Is(err, ErrConnectionTimeout) {
		t.Fatalf("expected ErrConnectionTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("dial did not honor the timeout")
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), "ws://"+addr, "", time.Second, nil)
	if err == nil || errors.Is(err, ErrConnectionTimeout) {
		t.Fatalf("expected a plain connection error, got %v", err)
	}
}
