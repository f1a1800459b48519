package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

type Kind int

const (
	KindIdle Kind = iota
	KindConnecting
	KindConnected
	KindStopping
	KindError
)

var (
	PanelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	LabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	ValueStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	ErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	HelpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	MutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	UnreadStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)

	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	SegmentBaseStyle = lipgloss.NewStyle().Padding(0, 1)
	SegmentOnStyle   = SegmentBaseStyle.Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10"))
	SegmentOffStyle  = SegmentBaseStyle.Foreground(lipgloss.Color("245")).Background(lipgloss.Color("236"))

	badgeBase = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("0"))
)

var statusColors = map[string]lipgloss.Color{
	"pending":  lipgloss.Color("11"),
	"approved": lipgloss.Color("12"),
	"rejected": lipgloss.Color("9"),
	"paid":     lipgloss.Color("10"),
	"overdue":  lipgloss.Color("13"),
}

// Badge renders a connection status label colored by kind.
func Badge(label string, kind Kind) string {
	style := badgeBase
	switch kind {
	case KindConnected:
		style = style.Background(lipgloss.Color("10"))
	case KindConnecting, KindStopping:
		style = style.Background(lipgloss.Color("11"))
	case KindError:
		style = style.Background(lipgloss.Color("9")).Foreground(lipgloss.Color("15"))
	default:
		style = style.Background(lipgloss.Color("245"))
	}
	return style.Render(label)
}

// InvoiceStatus colors an invoice status word; unknown statuses stay plain.
func InvoiceStatus(status string) string {
	color, ok := statusColors[strings.ToLower(strings.TrimSpace(status))]
	if !ok {
		return status
	}
	return lipgloss.NewStyle().Foreground(color).Render(status)
}

func Frame(content string, width int) string {
	innerWidth := max(width-PanelStyle.GetHorizontalFrameSize(), 1)
	return PanelStyle.Width(innerWidth).Render(content)
}

// TruncateDisplayWidth cuts value to width terminal cells, ending in an
// ellipsis when anything was dropped.
func TruncateDisplayWidth(value string, width int) string {
	if width <= 0 {
		return ""
	}
	if ansi.StringWidth(value) <= width {
		return value
	}
	if width == 1 {
		return "…"
	}
	limit := max(width-ansi.StringWidth("…"), 0)
	var b strings.Builder
	current := 0
	for _, r := range value {
		w := ansi.StringWidth(string(r))
		if current+w > limit {
			break
		}
		b.WriteRune(r)
		current += w
	}
	return b.String() + "…"
}

// PadRight pads value with spaces to width cells.
func PadRight(value string, width int) string {
	gap := width - ansi.StringWidth(value)
	if gap <= 0 {
		return value
	}
	return value + strings.Repeat(" ", gap)
}
