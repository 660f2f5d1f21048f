package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wiremesh/internal/auth"
	"github.com/vovakirdan/wiremesh/internal/core"
	"github.com/vovakirdan/wiremesh/internal/proto"
)

func issueTicket(t *testing.T, baseURL, userID string) string {
	t.Helper()

	body := bytes.NewBufferString(`{"userId":"` + userID + `"}`)
	resp, err := http.Post(baseURL+"/api/tickets", "application/json", body)
	if err != nil {
		t.Fatalf("post ticket: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var out TicketResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if out.Ticket == "" || out.ExpiresAt == "" {
		t.Fatalf("empty ticket response: %+v", out)
	}
	return out.Ticket
}

func TestTicketRequiredForWebSocket(t *testing.T) {
	cfg := testConfig()
	tickets := auth.NewTickets("test-secret", "wiremesh", "relay", time.Minute)
	ts := startTestServer(t, cfg, tickets, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(ts), nil)
	if err == nil {
		t.Fatal("expected dial without ticket to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	forged, _, _ := auth.NewTickets("wrong-secret", "wiremesh", "relay", time.Minute).Issue("alice", "")
	if _, _, err := websocket.Dial(ctx, wsURL(ts)+"?ticket="+forged, nil); err == nil {
		t.Fatal("expected forged ticket to be rejected")
	}
}

func TestTicketSubjectMustMatchUserID(t *testing.T) {
	tickets := auth.NewTickets("test-secret", "", "", time.Minute)
	ts := startTestServer(t, testConfig(), tickets, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ticket := issueTicket(t, ts.URL, "alice")
	conn := dial(t, ctx, wsURL(ts)+"?ticket="+ticket)

	send(t, ctx, conn, proto.JoinRoom{Type: proto.TypeJoinRoom, RoomID: "r", UserID: "mallory"})
	if errMsg := readUntil[proto.Error](t, ctx, conn); errMsg.Code != core.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", errMsg)
	}

	send(t, ctx, conn, proto.JoinRoom{Type: proto.TypeJoinRoom, RoomID: "r", UserID: "alice"})
	if ok := readUntil[proto.JoinSuccess](t, ctx, conn); ok.YourID != "alice" {
		t.Fatalf("unexpected join-success: %+v", ok)
	}
}

func TestTicketRequestValidation(t *testing.T) {
	tickets := auth.NewTickets("test-secret", "", "", time.Minute)
	ts := startTestServer(t, testConfig(), tickets, nil)

	resp, err := http.Post(ts.URL+"/api/tickets", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTicketEndpointAbsentWithoutSecret(t *testing.T) {
	ts := startTestServer(t, testConfig(), nil, nil)

	resp, err := http.Post(ts.URL+"/api/tickets", "application/json", bytes.NewBufferString(`{"userId":"a"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
