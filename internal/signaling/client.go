// Package signaling is the participant side of the relay connection.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiremesh/internal/proto"
)

const maxMessageSize = 64 * 1024

var (
	// ErrConnectionTimeout is returned when the relay does not accept the
	// connection in time.
	ErrConnectionTimeout = errors.New("relay connection timed out")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("relay connection closed")
)

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	incoming chan proto.ServerMessage
	log      *zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial connects to serverURL. ticket, when set, is passed as the ticket query
// parameter.
func Dial(ctx context.Context, serverURL, ticket string, timeout time.Duration, logger *zerolog.Logger) (*Client, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if ticket != "" {
		q := u.Query()
		q.Set("ticket", ticket)
		u.RawQuery = q.Encode()
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, timeout)
	defer cancelDial()

	conn, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrConnectionTimeout, timeout)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		incoming: make(chan proto.ServerMessage, 64),
		log:      logger,
		ctx:      runCtx,
		cancel:   cancel,
	}
	go c.readPump()

	logger.Debug().Str("url", u.Redacted()).Msg("relay connected")
	return c, nil
}

// readPump decodes relay envelopes until the connection ends.
func (c *Client) readPump() {
	defer close(c.incoming)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Debug().Err(err).Msg("relay read ended")
			}
			return
		}

		msg, err := proto.DecodeServer(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed relay envelope")
			continue
		}
		if ignored, ok := msg.(proto.Ignored); ok {
			c.log.Debug().Str("type", ignored.Type).Msg("ignoring unknown relay envelope")
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// Send writes one envelope.
func (c *Client) Send(ctx context.Context, msg proto.ClientMessage) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("send %T: %w", msg, err)
	}
	return nil
}

// Incoming returns decoded relay envelopes. It is closed when the connection ends.
func (c *Client) Incoming() <-chan proto.ServerMessage {
	return c.incoming
}

// Close closes the connection without waiting for the relay.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.CloseNow()
	})
	return err
}
