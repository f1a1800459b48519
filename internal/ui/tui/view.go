package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"invoicedash/internal/app"
	"invoicedash/internal/client"
	"invoicedash/internal/ui/tui/theme"
)

const (
	invoiceRowLimit      = 10
	notificationRowLimit = 5
	categoryLimit        = 4
	minLogPanelHeight    = 3
	nonLogLayoutReserve  = 30
	numberColumnWidth    = 12
	statusColumnWidth    = 10
	amountColumnWidth    = 14
	dueColumnWidth       = 11
	minVendorColumnWidth = 8
	selectedMarker       = "› "
)

func (m *model) View() string {
	if m.width == 0 {
		return "initializing..."
	}
	width := m.contentWidth()

	sections := []string{
		m.renderHeader(),
		m.renderCards(width),
		m.renderCategories(width),
		m.renderFilterBar(),
		m.renderInvoices(width),
	}
	if m.prompt.active() {
		sections = append(sections, m.renderPrompt())
	}
	sections = append(sections, m.renderSidePanels(width))
	if m.errText != "" {
		sections = append(sections, theme.ErrorStyle.Render(theme.TruncateDisplayWidth(m.errText, width)))
	}
	if m.showLogs {
		sections = append(sections, theme.TitleStyle.Render("Logs")+"\n"+m.logView.View())
	}
	sections = append(sections, theme.HelpStyle.Render(m.help.View(m.keys)))
	return theme.Frame(strings.Join(sections, "\n\n"), m.width)
}

func (m *model) contentWidth() int {
	// Frame's width already includes the panel padding.
	return max(m.width-theme.PanelStyle.GetHorizontalFrameSize()-theme.PanelStyle.GetHorizontalPadding(), 1)
}

func (m *model) resizeLogs() {
	m.logView.Width = m.contentWidth()
	height := m.height - nonLogLayoutReserve
	if m.help.ShowAll {
		height -= 2
	}
	m.logView.Height = max(height, minLogPanelHeight)
}

func (m *model) renderHeader() string {
	title := theme.TitleStyle.Render("Invoice Dashboard (" + m.buildVersion + ")")
	header := title + "  " + theme.Badge(m.status, m.kind)
	if m.hasSnapshot && !m.snapshot.UpdatedAt.IsZero() {
		header += "  " + theme.MutedStyle.Render("updated "+m.snapshot.UpdatedAt.Format("15:04:05"))
	}
	if m.hasSnapshot && !m.snapshot.SessionExpires.IsZero() {
		label := "session until " + m.snapshot.SessionExpires.Local().Format("15:04")
		if !m.snapshot.SessionExpires.After(m.now()) {
			label = "session expired"
		}
		header += "  " + theme.MutedStyle.Render(label)
	}
	return header
}

func (m *model) renderCards(width int) string {
	s := m.snapshot.Summary
	cards := []string{
		card("Total", formatAmount(s.TotalAmount), fmt.Sprintf("%d invoices", s.InvoiceCount)),
		card("Paid", formatAmount(s.PaidAmount), fmt.Sprintf("%.0f%% of total", s.PaidPercent)),
		card("Pending", formatAmount(s.PendingAmount), fmt.Sprintf("%d awaiting approval", s.PendingApprovals)),
		card("Overdue", formatAmount(s.OverdueAmount), fmt.Sprintf("%d invoices", s.OverdueCount)),
		card("Approval rate", fmt.Sprintf("%.0f%%", s.ApprovalRate), fmt.Sprintf("%d unread", s.UnreadNotifications)),
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top, cards...)
	if lipgloss.Width(row) <= width {
		return row
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, cards[:3]...),
		lipgloss.JoinHorizontal(lipgloss.Top, cards[3:]...),
	)
}

func card(label string, value string, detail string) string {
	return theme.CardStyle.Render(
		theme.LabelStyle.Render(label) + "\n" +
			theme.ValueStyle.Render(value) + "\n" +
			theme.MutedStyle.Render(detail),
	)
}

func (m *model) renderCategories(width int) string {
	names := m.snapshot.Summary.SortedCategories()
	if len(names) == 0 {
		return theme.MutedStyle.Render("No categories yet.")
	}
	parts := make([]string, 0, categoryLimit)
	for i, name := range names {
		if i == categoryLimit {
			break
		}
		parts = append(parts, name+" "+formatAmount(m.snapshot.Summary.CategoryTotals[name]))
	}
	const label = "Top categories: "
	line := theme.TruncateDisplayWidth(strings.Join(parts, "  ·  "), width-len(label))
	return theme.LabelStyle.Render(label) + line
}

func (m *model) renderFilterBar() string {
	parts := make([]string, 0, len(app.StatusFilters)+1)
	parts = append(parts, theme.LabelStyle.Render("Status:"))
	for i, status := range app.StatusFilters {
		label := status
		count := m.snapshot.Summary.InvoiceCount
		switch status {
		case "":
			label = "all"
		case client.StatusOverdue:
			count = m.snapshot.Summary.OverdueCount
		default:
			count = m.snapshot.Summary.StatusCounts[status]
		}
		if m.hasSnapshot {
			label = fmt.Sprintf("%s %d", label, count)
		}
		if i == m.filter {
			parts = append(parts, theme.SegmentOnStyle.Render(label))
		} else {
			parts = append(parts, theme.SegmentOffStyle.Render(label))
		}
	}
	return strings.Join(parts, " ")
}

func (m *model) renderInvoices(width int) string {
	if !m.hasSnapshot {
		return theme.MutedStyle.Render("Loading invoices...")
	}
	invoices := m.visibleInvoices()
	if len(invoices) == 0 {
		return theme.MutedStyle.Render("No invoices match the current filter.")
	}

	vendorWidth := max(width-lipgloss.Width(selectedMarker)-numberColumnWidth-statusColumnWidth-amountColumnWidth-dueColumnWidth-4, minVendorColumnWidth)
	lines := []string{theme.LabelStyle.Render("  " + invoiceRow("Number", "Vendor", "Status", "Amount", "Due", vendorWidth))}
	// Keep the selected row inside the visible window.
	start := max(m.cursor-invoiceRowLimit+1, 0)
	end := min(start+invoiceRowLimit, len(invoices))
	if start > 0 {
		lines = append(lines, theme.MutedStyle.Render(fmt.Sprintf("  … %d above", start)))
	}
	for i := start; i < end; i++ {
		invoice := invoices[i]
		due := "-"
		if !invoice.DueDate.IsZero() {
			due = invoice.DueDate.Format("2006-01-02")
		}
		amount := formatAmount(invoice.Amount.Float64())
		if invoice.Currency != "" {
			amount += " " + invoice.Currency
		}
		marker := "  "
		if i == m.cursor {
			marker = theme.UnreadStyle.Render(selectedMarker)
		}
		lines = append(lines, marker+invoiceRow(invoice.Number, invoice.Vendor, invoice.Status, amount, due, vendorWidth))
	}
	if end < len(invoices) {
		lines = append(lines, theme.MutedStyle.Render(fmt.Sprintf("  … %d more", len(invoices)-end)))
	}
	return strings.Join(lines, "\n")
}

func (m *model) renderPrompt() string {
	return theme.LabelStyle.Render(m.prompt.label) + "\n" +
		m.prompt.input.View() + "\n" +
		theme.MutedStyle.Render("enter to submit · esc to cancel")
}

func invoiceRow(number string, vendor string, status string, amount string, due string, vendorWidth int) string {
	cell := func(value string, w int) string {
		return theme.PadRight(theme.TruncateDisplayWidth(value, w), w)
	}
	return strings.Join([]string{
		cell(number, numberColumnWidth),
		cell(vendor, vendorWidth),
		// Colorized after padding so escape codes do not skew the column.
		theme.InvoiceStatus(cell(status, statusColumnWidth)),
		cell(amount, amountColumnWidth),
		cell(due, dueColumnWidth),
	}, " ")
}

func (m *model) renderSidePanels(width int) string {
	colWidth := max((width-2)/2, 20)

	notifications := []string{theme.TitleStyle.Render("Notifications")}
	if len(m.snapshot.Notifications) == 0 {
		notifications = append(notifications, theme.MutedStyle.Render("none"))
	}
	for i, n := range m.snapshot.Notifications {
		if i == notificationRowLimit {
			break
		}
		notifications = append(notifications, notificationLine(n, colWidth))
	}

	activity := []string{theme.TitleStyle.Render("Live activity")}
	if len(m.activity) == 0 {
		activity = append(activity, theme.MutedStyle.Render("waiting for events"))
	}
	for _, line := range m.activity {
		activity = append(activity, theme.TruncateDisplayWidth(line, colWidth))
	}

	left := lipgloss.NewStyle().Width(colWidth).Render(strings.Join(notifications, "\n"))
	right := lipgloss.NewStyle().Width(colWidth).Render(strings.Join(activity, "\n"))
	if colWidth*2+2 > width {
		return left + "\n\n" + right
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
}

func notificationLine(n client.Notification, width int) string {
	text := n.Title
	if text == "" {
		text = n.Message
	}
	marker := "  "
	if !n.Read {
		marker = theme.UnreadStyle.Render("• ")
	}
	return marker + theme.TruncateDisplayWidth(text, width-2)
}

func formatAmount(v float64) string {
	whole := fmt.Sprintf("%.2f", v)
	intPart, frac, _ := strings.Cut(whole, ".")
	negative := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if negative {
		out = "-" + out
	}
	return out
}
