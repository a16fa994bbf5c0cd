package cmd

import (
	"fmt"
	"io"
	"strconv"

	"basil/pkg/plugin"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var pluginKinds = []plugin.Kind{plugin.KindResponder, plugin.KindWatcher, plugin.KindEmailChecker}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List loaded handlers in execution order",
	Long:  "Loads plugins exactly as run does and prints every registered handler, then any plugin that failed to load.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		printPlugins(cmd.OutOrStdout(), a.registry, a.report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}

func printPlugins(w io.Writer, reg *plugin.Registry, report plugin.Report) {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114"))
	failed := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	rows := lo.FlatMap(pluginKinds, func(kind plugin.Kind, _ int) [][]string {
		return lo.Map(reg.List(kind), func(h *plugin.Handler, i int) []string {
			return []string{strconv.Itoa(i + 1), string(kind), handlerTrigger(h), h.Description()}
		})
	})

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "KIND", "TRIGGER", "DESCRIPTION").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return lipgloss.NewStyle()
		})

	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d plugin(s) loaded: %v\n", len(report.Loaded), report.Loaded)
	for _, loadErr := range report.Failed {
		fmt.Fprintln(w, failed.Render(loadErr.Error()))
	}
}

func handlerTrigger(h *plugin.Handler) string {
	if h.Kind() == plugin.KindEmailChecker && h.Strategy() != nil {
		return fmt.Sprint(h.Strategy())
	}
	return h.Trigger().Source()
}
