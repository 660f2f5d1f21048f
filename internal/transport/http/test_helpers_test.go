package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiremesh/internal/auth"
	"github.com/vovakirdan/wiremesh/internal/config"
	"github.com/vovakirdan/wiremesh/internal/core"
	"github.com/vovakirdan/wiremesh/internal/proto"
	"github.com/vovakirdan/wiremesh/internal/store"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func startTestServer(t *testing.T, cfg config.Config, tickets *auth.Tickets, audit store.AuditStore) *httptest.Server {
	t.Helper()

	disabledLogger := zerolog.New(nil)

	hub := core.NewHub(cfg.RoomCapacity, audit, &disabledLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(hub, tickets, audit, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts
}

func wsURL(ts *httptest.Server) string {
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()

	if err := wsjson.Write(ctx, conn, v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads envelopes until one of type T arrives.
func readUntil[T proto.ServerMessage](t *testing.T, ctx context.Context, conn *websocket.Conn) T {
	t.Helper()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var zero T
			t.Fatalf("read while waiting for %T: %v", zero, err)
		}
		msg, err := proto.DecodeServer(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if v, ok := msg.(T); ok {
			return v
		}
	}
}

func joinWS(t *testing.T, ctx context.Context, url, room, user string) (*websocket.Conn, proto.JoinSuccess) {
	t.Helper()

	conn := dial(t, ctx, url)
	send(t, ctx, conn, proto.JoinRoom{Type: proto.TypeJoinRoom, RoomID: room, UserID: user, UserName: strings.ToUpper(user)})
	return conn, readUntil[proto.JoinSuccess](t, ctx, conn)
}
