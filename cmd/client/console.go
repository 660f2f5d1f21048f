package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vovakirdan/wiremesh/internal/policy"
	"github.com/vovakirdan/wiremesh/internal/session"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  <text>               chat with the room
  /dm <id> <text>      direct message over the peer link
  /mute [id]           toggle your microphone, or mute a participant
  /camera [id]         toggle your camera, or turn off a participant's
  /screen [id]         toggle screen sharing, or stop a participant's
  /kick <id>           remove a participant
  /promote <id>        grant admin
  /demote <id>         revoke admin
  /who                 list participants
  /quit                leave the room`

type inputKind int

const (
	inputChat inputKind = iota
	inputDirect
	inputToggleMic
	inputToggleCamera
	inputToggleScreen
	inputCommand
	inputWho
	inputHelp
	inputQuit
)

type input struct {
	kind    inputKind
	command policy.Command
	target  string
	text    string
}

// parseLine turns one line of user input into an action.
func parseLine(line string) (input, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return input{kind: inputChat, text: line}, nil
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	targeted := func(cmd policy.Command, own inputKind) (input, error) {
		if len(args) == 0 {
			return input{kind: own}, nil
		}
		return input{kind: inputCommand, command: cmd, target: args[0]}, nil
	}
	needsTarget := func(cmd policy.Command) (input, error) {
		if len(args) != 1 {
			return input{}, fmt.Errorf("usage: %s <id>", name)
		}
		return input{kind: inputCommand, command: cmd, target: args[0]}, nil
	}

	switch name {
	case "/mute":
		return targeted(policy.CommandMuteUser, inputToggleMic)
	case "/camera":
		return targeted(policy.CommandDisableCamera, inputToggleCamera)
	case "/screen":
		return targeted(policy.CommandStopScreenShare, inputToggleScreen)
	case "/kick":
		return needsTarget(policy.CommandKickUser)
	case "/promote":
		return needsTarget(policy.CommandPromoteToAdmin)
	case "/demote":
		return needsTarget(policy.CommandDemoteAdmin)
	case "/dm":
		if len(args) < 2 {
			return input{}, errors.New("usage: /dm <id> <text>")
		}
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(line, name)), args[0]))
		return input{kind: inputDirect, target: args[0], text: text}, nil
	case "/who":
		return input{kind: inputWho}, nil
	case "/help":
		return input{kind: inputHelp}, nil
	case "/quit", "/leave":
		return input{kind: inputQuit}, nil
	default:
		return input{}, fmt.Errorf("unknown command %s, try /help", name)
	}
}

type console struct {
	ctl *session.Controller
	out io.Writer
}

// loop reads stdin and renders session events until the user quits, the
// session ends or ctx is cancelled.
func (c *console) loop(ctx context.Context, scanner *bufio.Scanner, runErr <-chan error) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			c.drain()
			return err
		case ev := <-c.ctl.Events():
			c.render(ev)
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := c.execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintf(c.out, "! %v\n", err)
			}
		}
	}
}

// drain renders events still buffered when the session ends.
func (c *console) drain() {
	for {
		select {
		case ev := <-c.ctl.Events():
			c.render(ev)
		default:
			return
		}
	}
}

func (c *console) execute(ctx context.Context, line string) error {
	in, err := parseLine(line)
	if err != nil {
		return err
	}

	switch in.kind {
	case inputChat:
		return c.ctl.SendChat(ctx, in.text)
	case inputDirect:
		direct, err := c.ctl.SendDirect(ctx, in.target, in.text)
		if err == nil && !direct {
			fmt.Fprintln(c.out, "* peer link not open, sent through the relay")
		}
		return err
	case inputToggleMic:
		live, err := c.ctl.ToggleMicrophone()
		if err == nil {
			fmt.Fprintf(c.out, "* microphone %s\n", onOff(live))
		}
		return err
	case inputToggleCamera:
		live, err := c.ctl.ToggleCamera()
		if err == nil {
			fmt.Fprintf(c.out, "* camera %s\n", onOff(live))
		}
		return err
	case inputToggleScreen:
		sharing, err := c.ctl.ToggleScreenShare()
		fmt.Fprintf(c.out, "* screen share %s\n", onOff(sharing))
		return err
	case inputCommand:
		return c.ctl.Command(ctx, in.command, in.target)
	case inputWho:
		self := c.ctl.SelfID()
		for _, u := range c.ctl.Roster() {
			marker := ""
			if u.ID == self {
				marker = " (you)"
			}
			fmt.Fprintf(c.out, "  %s %s [%s]%s\n", u.ID, u.Name, u.Role, marker)
		}
		return nil
	case inputHelp:
		fmt.Fprintln(c.out, helpText)
		return nil
	default:
		return errQuit
	}
}

func (c *console) render(ev session.Event) {
	switch ev.Kind {
	case session.EventJoined:
		fmt.Fprintf(c.out, "* joined %s as %s (%s)\n", ev.Text, ev.UserID, ev.Role)
	case session.EventParticipantJoined:
		fmt.Fprintf(c.out, "* %s (%s) joined\n", ev.Name, ev.UserID)
	case session.EventParticipantLeft:
		fmt.Fprintf(c.out, "* %s (%s) left\n", ev.Name, ev.UserID)
	case session.EventRoleChanged:
		fmt.Fprintf(c.out, "* %s is now %s\n", ev.UserID, ev.Role)
	case session.EventChat:
		prefix := ""
		if ev.Direct {
			prefix = "(direct) "
		}
		fmt.Fprintf(c.out, "[%s] %s%s: %s\n", ev.Time.Format("15:04:05"), prefix, ev.Name, ev.Text)
	case session.EventNotice:
		fmt.Fprintf(c.out, "* %s\n", ev.Text)
	case session.EventError:
		fmt.Fprintf(c.out, "! %s\n", ev.Text)
	case session.EventRemoteTrack:
		fmt.Fprintf(c.out, "* receiving %s from %s\n", ev.Text, ev.UserID)
	case session.EventPeerState:
		fmt.Fprintf(c.out, "* link to %s %s\n", ev.UserID, ev.Text)
	case session.EventKicked:
		fmt.Fprintln(c.out, "* you were removed from the room")
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
