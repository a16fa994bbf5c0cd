package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"basil/pkg/bus"
	"basil/pkg/channel"
	"basil/pkg/config"
	"basil/pkg/logger"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/samber/lo"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

var errNotStarted = errors.New("telegram bot not started")

// Adapter bridges Telegram updates into bus messages and sends replies back.
type Adapter struct {
	cfg       config.TelegramConfig
	me        string
	outbox    bus.Sender
	allowFrom map[string]struct{}
	log       *slog.Logger

	mu          sync.RWMutex
	bot         *telego.Bot
	botUsername string
}

// NewAdapter validates Telegram configuration and constructs an adapter.
// Messages it dispatches reply through outbox.
func NewAdapter(cfg config.TelegramConfig, me string, outbox bus.Sender, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		me:        me,
		outbox:    outbox,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       logger.Component(log, "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in messages and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and dispatches each text message.
func (a *Adapter) Run(ctx context.Context, router channel.Router) error {
	if router == nil {
		return errors.New("router is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot identity: %w", err)
	}

	a.mu.Lock()
	a.bot = bot
	a.botUsername = me.Username
	a.mu.Unlock()

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "bot", me.Username)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			if update.Message == nil {
				continue
			}

			msg, ok := a.translate(update.Message)
			if !ok {
				continue
			}
			a.log.Info("Received message", "chat", msg.Chat, "from", msg.From, "to", msg.To, "text", channel.Preview(msg.Text, messagePreviewLimit))

			stopTyping := a.startTypingIndicator(ctx, bot, update.Message.Chat.ID)
			reply := router.Dispatch(ctx, msg)
			stopTyping()

			if reply == nil {
				continue
			}
			if err := a.Send(ctx, *reply); err != nil {
				a.log.Error("Failed to send telegram message", "chat", reply.Chat, "error", err)
			}
		}
	}
}

// Send delivers one reply to the Telegram chat named by reply.Chat.
func (a *Adapter) Send(ctx context.Context, reply bus.Reply) error {
	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()
	if bot == nil {
		return errNotStarted
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(reply.Chat), 10, 64)
	if err != nil {
		return fmt.Errorf("parse telegram chat id %q: %w", reply.Chat, err)
	}

	text := reply.Format()
	a.log.Info("Sending message", "chat", reply.Chat, "text", channel.Preview(text, messagePreviewLimit))

	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	return nil
}

// translate converts one Telegram message into a bus message. It reports false
// for updates that carry no text or come from a sender outside allow_from.
func (a *Adapter) translate(message *telego.Message) (bus.Message, bool) {
	body := strings.TrimSpace(message.Text)
	if body == "" {
		return bus.Message{}, false
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.Message{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.Message{}, false
	}

	a.mu.RLock()
	botUsername := a.botUsername
	a.mu.RUnlock()

	to, text := a.parseBody(body, botUsername)
	to = channel.Addressee(to, a.me, message.Chat.Type == telego.ChatTypePrivate)

	from := message.From.Username
	if from == "" {
		from = senderID
	}

	return bus.Message{
		Channel:  channelName,
		From:     from,
		FromName: displayName(message.From),
		To:       to,
		Chat:     strconv.FormatInt(message.Chat.ID, 10),
		Text:     text,
		Server:   a.outbox,
	}, true
}

// parseBody applies the shared addressing rules plus Telegram's own: bot
// commands ("/build web", "/build@bot web") and @-mentions of the bot are
// addressed to me.
func (a *Adapter) parseBody(body, botUsername string) (string, string) {
	if command, ok := strings.CutPrefix(body, "/"); ok && command != "" {
		name, rest, _ := strings.Cut(command, " ")
		name, target, mentioned := strings.Cut(name, "@")
		if mentioned && !strings.EqualFold(target, botUsername) {
			return target, strings.TrimSpace(name + " " + rest)
		}
		return a.me, strings.TrimSpace(name + " " + rest)
	}

	to, text := channel.ParseBody(body, a.me)
	if botUsername != "" && strings.EqualFold(to, botUsername) {
		to = a.me
	}

	return to, text
}

// senderAllowed reports whether allow_from admits senderID. An empty list
// admits everyone.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set, nil when
// nothing usable is configured.
func allowFromSet(allowFrom []string) map[string]struct{} {
	ids := lo.Compact(lo.Map(allowFrom, func(id string, _ int) string {
		return strings.TrimSpace(id)
	}))
	if len(ids) == 0 {
		return nil
	}
	return lo.Keyify(ids)
}

func displayName(user *telego.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		return user.Username
	}
	return name
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
