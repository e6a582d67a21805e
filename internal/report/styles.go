// Package report renders run reports and item lists for the terminal.
package report

import "github.com/charmbracelet/lipgloss"

// One Dark Pro color palette
var (
	ColorFgPrimary = lipgloss.Color("#ABB2BF")
	ColorFgMuted   = lipgloss.Color("#636B78")
	ColorRed       = lipgloss.Color("#E06C75")
	ColorGreen     = lipgloss.Color("#98C379")
	ColorYellow    = lipgloss.Color("#E5C07B")
	ColorBlue      = lipgloss.Color("#61AFEF")
	ColorMagenta   = lipgloss.Color("#C678DD")
	ColorBorder    = lipgloss.Color("#3F4451")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta).
			Bold(true)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			Width(11)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorFgPrimary)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorFgMuted)
)

// outcomeStyles colors outcomes and item statuses.
var outcomeStyles = map[string]lipgloss.Style{
	"stable":    lipgloss.NewStyle().Foreground(ColorFgMuted),
	"synced":    lipgloss.NewStyle().Foreground(ColorGreen),
	"pulled":    lipgloss.NewStyle().Foreground(ColorBlue),
	"conflict":  lipgloss.NewStyle().Foreground(ColorYellow).Bold(true),
	"not_found": lipgloss.NewStyle().Foreground(ColorFgMuted).Italic(true),
	"error":     lipgloss.NewStyle().Foreground(ColorRed),
	"skipped":   lipgloss.NewStyle().Foreground(ColorFgMuted),
	"completed": lipgloss.NewStyle().Foreground(ColorGreen),
	"cancelled": lipgloss.NewStyle().Foreground(ColorYellow),
	"failed":    lipgloss.NewStyle().Foreground(ColorRed).Bold(true),
}

func styled(key string) string {
	if s, ok := outcomeStyles[key]; ok {
		return s.Render(key)
	}
	return key
}
