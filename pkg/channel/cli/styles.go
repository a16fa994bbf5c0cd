package cli

import "github.com/charmbracelet/lipgloss"

// theme groups the styles used when echoing chat lines to the terminal.
type theme struct {
	banner     lipgloss.Style
	bannerMeta lipgloss.Style
	prompt     lipgloss.Style
	botName    lipgloss.Style
	botText    lipgloss.Style
	said       lipgloss.Style
	hint       lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		banner: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("28")),
		bannerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("151")),
		prompt: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")),
		botName: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("114")),
		botText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		said: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("180")),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")),
	}
}

// plainTheme renders without escape codes, for non-terminal output.
func plainTheme() theme {
	plain := lipgloss.NewStyle()
	return theme{
		banner:     plain,
		bannerMeta: plain,
		prompt:     plain,
		botName:    plain,
		botText:    plain,
		said:       plain,
		hint:       plain,
	}
}
