package plugins

import (
	"context"
	"strings"

	"basil/pkg/bus"
	"basil/pkg/plugin"

	"github.com/samber/lo"
)

func registerHelp(reg *plugin.Registry) error {
	reg.RespondTo(plugin.Text("help"), func(_ context.Context, ec plugin.ExecContext) (*bus.Reply, error) {
		return say(ec.Message, helpText(reg)), nil
	}).Describe("list the commands I respond to")

	return nil
}

// helpText lists described responders in execution order.
func helpText(reg *plugin.Registry) string {
	lines := lo.FilterMap(reg.List(plugin.KindResponder), func(h *plugin.Handler, _ int) (string, bool) {
		if h.Description() == "" {
			return "", false
		}
		return "* " + h.Trigger().Source() + " - " + h.Description(), true
	})
	if len(lines) == 0 {
		return "I don't respond to anything yet."
	}

	return "I respond to:\n" + strings.Join(lines, "\n")
}
