package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiremesh/internal/auth"
	"github.com/vovakirdan/wiremesh/internal/config"
	"github.com/vovakirdan/wiremesh/internal/core"
	"github.com/vovakirdan/wiremesh/internal/proto"
	"github.com/vovakirdan/wiremesh/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub       *core.Hub
	tickets   *auth.Tickets
	origins   []string
	maxBytes  int64
	rateLimit int
	log       *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. A nil tickets disables ticket checks.
func NewWSHandler(hub *core.Hub, tickets *auth.Tickets, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:       hub,
		tickets:   tickets,
		origins:   cfg.AllowedOrigins,
		maxBytes:  cfg.MaxMessageBytes,
		rateLimit: cfg.RateLimitPerMinute,
		log:       logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	var subject string
	if h.tickets != nil {
		claims, err := h.tickets.Validate(r.URL.Query().Get("ticket"))
		if err != nil {
			h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws ticket rejected")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(stdhttp.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "invalid ticket"})
			return
		}
		subject = claims.Subject
	}

	opts := &websocket.AcceptOptions{InsecureSkipVerify: true}
	if len(h.origins) > 0 {
		opts = &websocket.AcceptOptions{OriginPatterns: h.origins}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxBytes > 0 {
		conn.SetReadLimit(h.maxBytes)
	}

	client := core.NewClient(utils.NewID())
	client.Subject = subject
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	h.log.Debug().Str("conn_id", client.ID).Str("remote", r.RemoteAddr).Msg("ws connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.rateLimit)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if !limiter.allow() {
			if err := h.reply(ctx, conn, proto.Error{
				Type:    proto.TypeError,
				Code:    core.ErrCodeRateLimited,
				Message: "rate limit exceeded",
			}); err != nil {
				return err
			}
			continue
		}

		msg, err := proto.DecodeClient(data)
		if err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("malformed envelope")
			if err := h.reply(ctx, conn, *badRequest("malformed message")); err != nil {
				return err
			}
			continue
		}
		if ignored, ok := msg.(proto.Ignored); ok {
			h.log.Debug().Str("conn_id", client.ID).Str("type", ignored.Type).Msg("ignoring unknown envelope")
			continue
		}

		cmd, protoErr := clientToCommand(msg)
		if protoErr != nil {
			if err := h.reply(ctx, conn, *protoErr); err != nil {
				return err
			}
			continue
		}
		if cmd == nil {
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			msg := serverFromEvent(event)
			if _, skip := msg.(proto.Ignored); skip {
				continue
			}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) reply(ctx context.Context, conn *websocket.Conn, msg proto.Error) error {
	return wsjson.Write(ctx, conn, msg)
}
