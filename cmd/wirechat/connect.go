package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-session/internal/chat"
	"github.com/vovakirdan/wirechat-session/internal/session"
	"github.com/vovakirdan/wirechat-session/internal/transport/ws"
)

func newConnectCommand(opts *rootOptions) *cobra.Command {
	var (
		serverURL string
		token     string
		userID    string
		rooms     []string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open an interactive chat session",
		Long: `Open an interactive chat session. Plain lines are sent to the current room.

Commands:
  /join <room>     join a room and make it current
  /leave [room]    leave a room (default: current)
  /room <room>     switch the current room
  /read            mark the current room read
  /list            list conversations
  /history         show cached messages of the current room
  /who             show online users and who is typing
  /retry [id]      list undelivered messages or resend one
  /quit            disconnect and exit`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if token == "" && userID != "" {
				minted, err := mintToken(opts, userID, "", 24*time.Hour)
				if err != nil {
					return err
				}
				token = minted
			}
			if token == "" {
				return errors.New("either --token or --user is required")
			}

			s := session.New(cfg.Session(), ws.NewDialer(cfg.ServerURL, opts.logger), session.WithLogger(opts.logger))
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			runErr := make(chan error, 1)
			go func() { runErr <- s.Run(ctx) }()

			c := newConsole(s, cmd.OutOrStdout())
			c.attach()
			for _, room := range rooms {
				if _, err := c.handle("/join " + room); err != nil {
					return err
				}
			}
			if err := s.Start(chat.Credentials{Token: token, UserID: userID}); err != nil {
				return err
			}

			if err := c.loop(ctx, cmd.InOrStdin()); err != nil {
				return err
			}
			if err := s.Stop(); err != nil {
				opts.logger.Debug().Err(err).Msg("stop session")
			}
			cancel()
			return <-runErr
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "server WebSocket URL (overrides server_url)")
	cmd.Flags().StringVar(&token, "token", "", "access token")
	cmd.Flags().StringVar(&userID, "user", "", "user id; mints a dev server token when --token is empty")
	cmd.Flags().StringSliceVar(&rooms, "room", nil, "rooms to join on start")
	return cmd
}

// console renders session activity and turns input lines into session calls.
type console struct {
	s *session.Session

	mu   sync.Mutex
	out  io.Writer
	room string
}

func newConsole(s *session.Session, out io.Writer) *console {
	return &console{s: s, out: out}
}

// attach registers listeners. They run on the session loop and only print.
func (c *console) attach() {
	c.s.OnStateChange(func(sc session.StateChange) {
		switch {
		case sc.To == chat.StateReconnecting:
			c.printf("* %s (attempt %d, retry in %s)\n", sc.To, sc.Attempt, sc.Delay.Round(time.Millisecond))
		case sc.Err != nil:
			c.printf("* %s: %v\n", sc.To, sc.Err)
		default:
			c.printf("* %s\n", sc.To)
		}
	})
	c.s.OnPendingRetry(func(in chat.Intent) {
		c.printf("! message %s to %s not delivered, /retry %s\n", in.ClientTempID, in.RoomID, in.ClientTempID)
	})
	c.s.SubscribeAll(func(ev chat.Event) {
		switch ev.Kind {
		case chat.EventNewMessage:
			m := ev.Message
			sender := m.SenderName
			if sender == "" {
				sender = m.SenderID
			}
			c.printf("[%s] %s: %s\n", m.RoomID, sender, m.Content)
		case chat.EventTyping:
			if ev.Typing.IsTyping {
				c.printf("[%s] %s is typing...\n", ev.Typing.RoomID, ev.Typing.UserID)
			}
		case chat.EventPresence:
			status := "offline"
			if ev.Presence.Online {
				status = "online"
			}
			c.printf("* %s is %s\n", ev.Presence.UserID, status)
		case chat.EventError:
			c.printf("! server error: %v\n", ev.Error)
		}
	})
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *console) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			quit, err := c.handle(line)
			if err != nil {
				c.printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handle executes one input line and reports whether the user asked to quit.
func (c *console) handle(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		if c.room == "" {
			return false, errors.New("join a room first")
		}
		_, err := c.s.SendMessage(c.room, line)
		return false, err
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return true, nil
	case "join":
		if arg == "" {
			return false, errors.New("usage: /join <room>")
		}
		if err := c.s.Join(arg); err != nil {
			return false, err
		}
		c.room = arg
	case "leave":
		if arg == "" {
			arg = c.room
		}
		if err := c.s.Leave(arg); err != nil {
			return false, err
		}
		if arg == c.room {
			c.room = ""
		}
	case "room":
		if arg == "" {
			c.printf("current room: %s\n", c.room)
			return false, nil
		}
		c.room = arg
	case "read":
		return false, c.s.MarkRead(c.room)
	case "list":
		for _, conv := range c.s.Conversations() {
			last := ""
			if conv.LastMessage != nil {
				last = conv.LastMessage.Content
			}
			c.printf("%-16s unread=%-3d %s\n", conv.RoomID, conv.UnreadCount, last)
		}
	case "history":
		for _, m := range c.s.Messages(c.room) {
			c.printf("%s %-10s %s: %s\n", m.SentAt.Format(time.TimeOnly), m.Status, m.SenderID, m.Content)
		}
	case "who":
		c.printf("online: %s\n", strings.Join(c.s.Online(), ", "))
		if c.room != "" {
			var typing []string
			for _, e := range c.s.Typing(c.room) {
				typing = append(typing, e.UserID)
			}
			c.printf("typing in %s: %s\n", c.room, strings.Join(typing, ", "))
		}
	case "retry":
		if arg == "" {
			for _, in := range c.s.PendingRetry() {
				c.printf("%s [%s] %s\n", in.ClientTempID, in.RoomID, in.Content)
			}
			return false, nil
		}
		return false, c.s.Retry(arg)
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}
