// Package mailbox feeds email checkers from a maildir-style spool.
//
// Files dropped into <dir>/new are parsed as RFC 822 messages, dispatched
// in name order, then moved to <dir>/cur. Files that fail to parse are moved
// to <dir>/failed.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"basil/pkg/bus"
	"basil/pkg/channel"
	"basil/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

const (
	channelName     = "mailbox"
	defaultDebounce = 200 * time.Millisecond
	maxBodyBytes    = 1 << 20
)

// Adapter watches a spool directory and hands each mail to the router.
type Adapter struct {
	dir      string
	outbox   bus.Sender
	debounce time.Duration
	log      *slog.Logger
}

// NewAdapter builds a spool watcher rooted at dir. Replies returned by email
// checkers that name a chat are sent through outbox.
func NewAdapter(dir string, outbox bus.Sender, log *slog.Logger) (*Adapter, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("channels.mailbox.dir is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		dir:      dir,
		outbox:   outbox,
		debounce: defaultDebounce,
		log:      logger.Component(log, "channel.mailbox"),
	}, nil
}

// Name returns the channel identifier used in logs.
func (a *Adapter) Name() string {
	return channelName
}

// Send always fails; the spool only receives.
func (a *Adapter) Send(context.Context, bus.Reply) error {
	return channel.ErrReceiveOnly
}

// Run drains mail already in the spool, then processes new arrivals until
// ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, router channel.Router) error {
	if router == nil {
		return errors.New("router is required")
	}

	for _, sub := range []string{"new", "cur", "failed"} {
		if err := os.MkdirAll(filepath.Join(a.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create mailbox %s dir: %w", sub, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create mailbox watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(a.newDir()); err != nil {
		return fmt.Errorf("watch %s: %w", a.newDir(), err)
	}

	a.log.Info("Mailbox channel started", "dir", a.dir)
	a.drain(ctx, router)

	scan := make(chan struct{}, 1)
	var mu sync.Mutex
	var timer *time.Timer
	scheduleScan := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(a.debounce, func() {
			select {
			case scan <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleScan()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("Mailbox watch error", "error", err)
		case <-scan:
			a.drain(ctx, router)
		}
	}
}

// drain processes every file currently in new, in name order.
func (a *Adapter) drain(ctx context.Context, router channel.Router) {
	entries, err := os.ReadDir(a.newDir())
	if err != nil {
		a.log.Error("Failed to list mailbox", "error", err)
		return
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		a.process(ctx, router, name)
	}
}

func (a *Adapter) process(ctx context.Context, router channel.Router, name string) {
	path := filepath.Join(a.newDir(), name)
	log := a.log.With("file", name)

	email, err := parseFile(path)
	if err != nil {
		log.Error("Failed to parse mail", "error", err)
		a.move(log, path, "failed", name)
		return
	}

	log.Info("Received mail", "from", email.From, "subject", channel.Preview(email.Subject, 120))
	reply := router.DispatchEmail(ctx, email)
	a.move(log, path, "cur", name)

	if reply == nil {
		return
	}
	if reply.Chat == "" || a.outbox == nil {
		log.Debug("Dropping email reply without a chat", "text", channel.Preview(reply.Text, 120))
		return
	}
	if err := a.outbox.Send(ctx, *reply); err != nil {
		log.Error("Failed to queue email reply", "error", err)
	}
}

func (a *Adapter) move(log *slog.Logger, path, sub, name string) {
	if err := os.Rename(path, filepath.Join(a.dir, sub, name)); err != nil {
		log.Error("Failed to move mail", "to", sub, "error", err)
	}
}

func (a *Adapter) newDir() string {
	return filepath.Join(a.dir, "new")
}

func parseFile(path string) (bus.Email, error) {
	f, err := os.Open(path)
	if err != nil {
		return bus.Email{}, err
	}
	defer f.Close()

	email, err := Parse(f)
	if err != nil {
		return bus.Email{}, err
	}
	if email.ID == "" {
		email.ID = filepath.Base(path)
	}

	return email, nil
}

// Parse reads one RFC 822 message. Subject encoded words are decoded and the
// body is read as plain text.
func Parse(r io.Reader) (bus.Email, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return bus.Email{}, fmt.Errorf("read message: %w", err)
	}

	body, err := io.ReadAll(io.LimitReader(msg.Body, maxBodyBytes))
	if err != nil {
		return bus.Email{}, fmt.Errorf("read body: %w", err)
	}

	decoder := new(mime.WordDecoder)
	subject, err := decoder.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		subject = msg.Header.Get("Subject")
	}

	date, err := msg.Header.Date()
	if err != nil {
		date = time.Time{}
	}

	from, fromName := address(msg.Header.Get("From"))
	to, _ := address(msg.Header.Get("To"))

	return bus.Email{
		ID:       strings.Trim(msg.Header.Get("Message-Id"), "<> "),
		From:     from,
		FromName: fromName,
		To:       to,
		Subject:  strings.TrimSpace(subject),
		Body:     strings.TrimSpace(string(body)),
		Date:     date,
	}, nil
}

// address splits a header value into the bare address and the display
// name. An unparsable value is returned as the address with no name.
func address(value string) (string, string) {
	parsed, err := mail.ParseAddress(value)
	if err != nil {
		return strings.TrimSpace(value), ""
	}
	return parsed.Address, strings.TrimSpace(parsed.Name)
}
