package plugins

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"basil/pkg/bus"
	"basil/pkg/history"
	"basil/pkg/plugin"
)

const (
	defaultRecap = 10
	maxRecap     = 50
)

func recapPlugin(chatHistory HistoryReader) func(*plugin.Registry) error {
	return func(reg *plugin.Registry) error {
		reg.RespondTo(plugin.Text(`recap(?: (\d+))?`), func(ctx context.Context, ec plugin.ExecContext) (*bus.Reply, error) {
			if !ec.Message.HasChat() {
				return nil, errors.New("recap needs a chat")
			}

			n := defaultRecap
			if raw := ec.Group(1); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil {
					return nil, fmt.Errorf("parse recap count: %w", err)
				}
				n = min(max(parsed, 1), maxRecap)
			}

			// The request is normally stored already; fetch one extra so it can be
			// dropped. When storing it failed, the newest entry is a real message.
			entries, err := chatHistory.Recent(ctx, ec.Message.Chat, n+1)
			if err != nil {
				return nil, fmt.Errorf("load chat history: %w", err)
			}
			if len(entries) > 0 && isRequest(entries[len(entries)-1], ec.Message) {
				entries = entries[:len(entries)-1]
			}
			if len(entries) > n {
				entries = entries[len(entries)-n:]
			}
			if len(entries) == 0 {
				return ec.Reply("nothing to recap yet."), nil
			}

			var b strings.Builder
			for i, entry := range entries {
				if i > 0 {
					b.WriteByte('\n')
				}
				name := entry.FromName
				if name == "" {
					name = entry.From
				}
				fmt.Fprintf(&b, "[%s] %s: %s", entry.At.Local().Format("15:04"), name, entry.Text)
			}

			return say(ec.Message, b.String()), nil
		}).Describe("replay the last few messages of this chat")

		return nil
	}
}

func isRequest(entry history.Entry, msg bus.Message) bool {
	return entry.From == msg.From && entry.Text == msg.Text
}
