// Package cli implements a line-oriented terminal transport. Each input line
// is one chat message from the local user.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"basil/pkg/bus"
	"basil/pkg/channel"
	"basil/pkg/logger"
)

const (
	channelName = "cli"
	defaultChat = "cli"
	defaultUser = "you"
)

// Options configures the terminal adapter.
type Options struct {
	Me     string
	User   string
	Chat   string
	In     io.Reader
	Out    io.Writer
	Outbox bus.Sender

	// Group makes unaddressed lines reach watchers only, as in a shared room.
	Group bool
	// Plain disables ANSI styling.
	Plain bool

	Log *slog.Logger
}

// Adapter reads chat lines from In and writes replies to Out.
type Adapter struct {
	opts  Options
	theme theme
	log   *slog.Logger

	mu sync.Mutex
}

// NewAdapter fills defaults for unset options.
func NewAdapter(opts Options) *Adapter {
	if opts.User == "" {
		opts.User = defaultUser
		if name := strings.TrimSpace(os.Getenv("USER")); name != "" {
			opts.User = name
		}
	}
	if opts.Chat == "" {
		opts.Chat = defaultChat
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	th := defaultTheme()
	if opts.Plain {
		th = plainTheme()
	}

	return &Adapter{
		opts:  opts,
		theme: th,
		log:   logger.Component(opts.Log, "channel.cli"),
	}
}

// Name returns the channel identifier used in messages and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run dispatches one message per input line until input ends, the user types
// /quit, or ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, router channel.Router) error {
	if router == nil {
		return errors.New("router is required")
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	a.printf("%s %s\n", a.theme.banner.Render(a.opts.Me), a.theme.bannerMeta.Render("chatting in "+a.opts.Chat))
	a.printf("%s\n", a.theme.hint.Render("! or @"+a.opts.Me+" addresses the bot, /quit leaves"))
	a.prompt()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				return nil
			}

			body := strings.TrimSpace(line)
			switch body {
			case "":
				a.prompt()
				continue
			case "/quit", "/exit":
				return nil
			}

			msg := a.message(body)
			a.log.Debug("Received message", "chat", msg.Chat, "to", msg.To, "text", channel.Preview(msg.Text, 80))

			if reply := router.Dispatch(ctx, msg); reply != nil {
				if err := a.Send(ctx, *reply); err != nil {
					a.log.Error("Failed to write reply", "error", err)
				}
			}
			a.prompt()
		}
	}
}

// Send writes one reply to the terminal.
func (a *Adapter) Send(_ context.Context, reply bus.Reply) error {
	text := a.theme.botText.Render(reply.Format())
	if reply.To == "" {
		text = a.theme.said.Render(reply.Text)
	}

	return a.printf("%s %s\n", a.theme.botName.Render(a.opts.Me+">"), text)
}

func (a *Adapter) message(body string) bus.Message {
	to, text := channel.ParseBody(body, a.opts.Me)

	return bus.Message{
		Channel:  channelName,
		From:     a.opts.User,
		FromName: a.opts.User,
		To:       channel.Addressee(to, a.opts.Me, !a.opts.Group),
		Chat:     a.opts.Chat,
		Text:     text,
		Server:   a.opts.Outbox,
	}
}

func (a *Adapter) prompt() {
	_ = a.printf("%s ", a.theme.prompt.Render(a.opts.User+">"))
}

func (a *Adapter) printf(format string, args ...any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := fmt.Fprintf(a.opts.Out, format, args...)
	return err
}
