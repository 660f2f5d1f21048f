package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vovakirdan/wiremesh/internal/proto"
	"github.com/vovakirdan/wiremesh/internal/signaling"
	"github.com/vovakirdan/wiremesh/internal/utils"
)

// ws_smoke joins a room, sends one chat line and waits for the relay to echo
// it back.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "display name")
	room := flag.String("room", "general", "room id")
	ticket := flag.String("ticket", "", "join ticket when the relay requires one")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	relay, err := signaling.Dial(ctx, *addr, *ticket, *timeout, nil)
	if err != nil {
		return err
	}
	defer relay.Close()

	id := utils.NewID()
	if err := relay.Send(ctx, proto.JoinRoom{Type: proto.TypeJoinRoom, RoomID: *room, UserID: id, UserName: *user}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no echo: %w", ctx.Err())
		case msg, ok := <-relay.Incoming():
			if !ok {
				return fmt.Errorf("relay closed the connection")
			}
			switch m := msg.(type) {
			case proto.JoinSuccess:
				fmt.Printf("Joined: room=%s id=%s role=%s participants=%d\n", m.RoomID, m.YourID, m.YourRole, len(m.Users))
				chat := proto.ChatMessage{Type: proto.TypeChatMessage, Message: *text, Sender: *user}
				if err := relay.Send(ctx, chat); err != nil {
					return err
				}
			case proto.UserJoined:
				fmt.Printf("Join: user=%s role=%s\n", m.User.ID, m.User.Role)
			case proto.UserLeft:
				fmt.Printf("Left: user=%s\n", m.UserID)
			case proto.Error:
				return fmt.Errorf("relay error %s: %s", m.Code, m.Message)
			case proto.ChatMessage:
				fmt.Printf("Chat: user=%s sender=%s text=%q ts=%d\n", m.UserID, m.Sender, m.Message, m.Timestamp)
				if m.UserID == id {
					return nil
				}
			}
		}
	}
}
