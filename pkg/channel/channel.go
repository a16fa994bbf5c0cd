package channel

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"basil/pkg/bus"
)

// ErrReceiveOnly is returned by adapters that cannot deliver replies.
var ErrReceiveOnly = errors.New("channel is receive-only")

// Router dispatches translated transport events into the handler registry.
type Router interface {
	Dispatch(ctx context.Context, msg bus.Message) *bus.Reply
	DispatchEmail(ctx context.Context, email bus.Email) *bus.Reply
}

// Adapter bridges one external transport (for example Telegram) into basil.
type Adapter interface {
	Name() string
	Run(ctx context.Context, router Router) error
	Send(ctx context.Context, reply bus.Reply) error
}

var (
	bangBody    = regexp.MustCompile(`^! *(.*)`)
	evalBody    = regexp.MustCompile(`^> *(.*)`)
	mentionBody = regexp.MustCompile(`^@(\w+)[,;:]? +(.*)`)
	nameBody    = regexp.MustCompile(`^(\w+)[,;:] +(.*)`)
)

// ParseBody splits a raw chat line into addressee and text.
//
//	"! ping"         -> (me, "ping")
//	"> 1+1"          -> (me, "eval 1+1")
//	"@alice, hi"     -> ("alice", "hi")
//	"alice: hi"      -> ("alice", "hi")
//	anything else    -> ("", body)
func ParseBody(body, me string) (to, text string) {
	if m := bangBody.FindStringSubmatch(body); m != nil {
		return me, m[1]
	}
	if m := evalBody.FindStringSubmatch(body); m != nil {
		return me, "eval " + m[1]
	}
	if m := mentionBody.FindStringSubmatch(body); m != nil {
		return m[1], m[2]
	}
	if m := nameBody.FindStringSubmatch(body); m != nil {
		return m[1], m[2]
	}

	return "", body
}

// Addressee resolves the final To for a parsed body. Unaddressed lines in a
// private chat are implicitly meant for me.
func Addressee(to, me string, private bool) string {
	if strings.TrimSpace(to) == "" && private {
		return me
	}

	return to
}

// Preview returns a bounded log-safe preview of message text. limit counts
// bytes; the cut backs off to a rune boundary so the result stays valid UTF-8.
func Preview(text string, limit int) string {
	trimmed := strings.TrimSpace(text)
	if limit <= 0 || len(trimmed) <= limit {
		return trimmed
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "..."
}
