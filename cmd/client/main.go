package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vovakirdan/wiremesh/internal/chat"
	"github.com/vovakirdan/wiremesh/internal/config"
	"github.com/vovakirdan/wiremesh/internal/log"
	"github.com/vovakirdan/wiremesh/internal/media"
	"github.com/vovakirdan/wiremesh/internal/peer"
	"github.com/vovakirdan/wiremesh/internal/session"
	"github.com/vovakirdan/wiremesh/internal/signaling"
	"github.com/vovakirdan/wiremesh/internal/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		roomID   string
		userID   string
		userName string
		noAudio  bool
		noVideo  bool
		noScreen bool
	)
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "wiremesh-client",
		Short: "Headless participant for wiremesh rooms",
		Long: `Joins a room, reads chat lines from stdin and prints room activity.

Examples:
  wiremesh-client --room standup --name alice
  wiremesh-client --room standup --server wss://relay.example.com/ws --ticket $TICKET`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient(v)
			if err != nil {
				return err
			}
			logger := log.New("wiremesh-client", cfg.LogLevel)

			suite, err := chat.ParseSuite(cfg.Cipher)
			if err != nil {
				return err
			}
			api, err := peer.NewAPI()
			if err != nil {
				return fmt.Errorf("cannot join: %w", err)
			}

			if userID == "" {
				userID = utils.NewID()
			}
			if userName == "" {
				userName = userID
			}
			devices := media.SyntheticDevices{Audio: !noAudio, Video: !noVideo, ScreenShare: !noScreen}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			relay, err := signaling.Dial(ctx, cfg.ServerURL, cfg.Ticket, cfg.ConnectTimeout, logger)
			if err != nil {
				return err
			}

			stream, mode := media.Open(devices, logger)
			ctl, err := session.New(session.Config{
				RoomID:     roomID,
				UserID:     userID,
				UserName:   userName,
				Relay:      relay,
				Media:      stream,
				Chat:       chat.NewChannel(suite, logger),
				ICEServers: cfg.WebRTCICEServers(),
				PeerFactory: func(pc peer.Config) (session.Peers, error) {
					pc.API = api
					return peer.NewManager(pc)
				},
				Logger: logger,
			})
			if err != nil {
				stream.Close()
				_ = relay.Close()
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "media: %s\n", mode)

			runErr := make(chan error, 1)
			go func() { runErr <- ctl.Run(ctx) }()
			if err := ctl.Join(ctx); err != nil {
				ctl.Close()
				return fmt.Errorf("join room: %w", err)
			}

			c := &console{ctl: ctl, out: out}
			err = c.loop(ctx, bufio.NewScanner(cmd.InOrStdin()), runErr)
			ctl.Close()
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&roomID, "room", "", "room to join (created when absent)")
	flags.StringVar(&userID, "user-id", "", "participant id (random when empty)")
	flags.StringVar(&userName, "name", "", "display name")
	flags.BoolVar(&noAudio, "no-audio", false, "join without a microphone")
	flags.BoolVar(&noVideo, "no-video", false, "join without a camera")
	flags.BoolVar(&noScreen, "no-screen", false, "disable screen sharing")
	flags.String("server", "", "relay WebSocket URL")
	flags.String("ticket", "", "join ticket issued by the relay")
	flags.Duration("connect-timeout", 0, "relay connection timeout")
	flags.StringSlice("ice-server", nil, "STUN/TURN URL, repeatable")
	flags.String("turn-username", "", "TURN username")
	flags.String("turn-credential", "", "TURN credential")
	flags.String("cipher", "", "chat cipher (aes-gcm, xchacha20-poly1305)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("room")

	for key, flag := range map[string]string{
		"server_url":      "server",
		"ticket":          "ticket",
		"connect_timeout": "connect-timeout",
		"ice_servers":     "ice-server",
		"turn_username":   "turn-username",
		"turn_credential": "turn-credential",
		"cipher":          "cipher",
		"log_level":       "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}
