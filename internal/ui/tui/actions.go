package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"invoicedash/internal/app"
	"invoicedash/internal/client"
	"invoicedash/internal/logging"
)

const (
	promptCharLimit = 512
	promptMinWidth  = 20
)

type promptKind int

const (
	promptNone promptKind = iota
	promptApprove
	promptReject
	promptDelete
	promptUpload
)

type prompt struct {
	kind    promptKind
	invoice client.Invoice
	label   string
	input   textinput.Model
}

func (p prompt) active() bool {
	return p.kind != promptNone
}

type actionDoneMsg struct {
	label string
	err   error
}

func invoiceLabel(invoice client.Invoice) string {
	if invoice.Number != "" {
		return invoice.Number
	}
	return fmt.Sprintf("#%d", invoice.ID)
}

func (m *model) visibleInvoices() []client.Invoice {
	return app.FilterInvoices(m.snapshot.Invoices, app.Filter{Status: m.statusFilter()}, m.now())
}

func (m *model) clampCursor() {
	m.cursor = min(m.cursor, len(m.visibleInvoices())-1)
	m.cursor = max(m.cursor, 0)
}

func (m *model) moveCursor(delta int) {
	m.cursor += delta
	m.clampCursor()
}

func (m *model) selectedInvoice() (client.Invoice, bool) {
	invoices := m.visibleInvoices()
	if len(invoices) == 0 {
		return client.Invoice{}, false
	}
	m.clampCursor()
	return invoices[m.cursor], true
}

func (m *model) openPrompt(kind promptKind) tea.Cmd {
	invoice, ok := m.selectedInvoice()
	if !ok {
		m.errText = "no invoice selected"
		return nil
	}
	name := invoiceLabel(invoice)
	input := textinput.New()
	input.CharLimit = promptCharLimit
	input.Width = max(m.contentWidth()-4, promptMinWidth)

	var label string
	switch kind {
	case promptApprove:
		label = "Approve " + name + ". Comment (optional):"
	case promptReject:
		label = "Reject " + name + ". Reason:"
	case promptDelete:
		label = "Delete " + name + "? Type y to confirm:"
		input.CharLimit = 3
	case promptUpload:
		label = "Attach a document to " + name + ". File path:"
		input.Placeholder = "~/invoices/scan.pdf"
	}
	m.prompt = prompt{kind: kind, invoice: invoice, label: label, input: input}
	m.errText = ""
	return m.prompt.input.Focus()
}

func (m *model) closePrompt() {
	m.prompt.input.Blur()
	m.prompt = prompt{}
}

func (m *model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.closePrompt()
		return m, nil
	case tea.KeyEnter:
		return m, m.submitPrompt()
	}
	var cmd tea.Cmd
	m.prompt.input, cmd = m.prompt.input.Update(msg)
	return m, cmd
}

func (m *model) submitPrompt() tea.Cmd {
	p := m.prompt
	value := strings.TrimSpace(p.input.Value())
	id := p.invoice.ID
	name := invoiceLabel(p.invoice)

	switch p.kind {
	case promptApprove:
		m.closePrompt()
		return m.actionCmd("approved "+name, func(ctx context.Context, a app.Actions) error {
			return a.ApproveInvoice(ctx, id, value)
		})
	case promptReject:
		if value == "" {
			m.errText = app.ErrReasonRequired.Error()
			return nil
		}
		m.closePrompt()
		return m.actionCmd("rejected "+name, func(ctx context.Context, a app.Actions) error {
			return a.RejectInvoice(ctx, id, value)
		})
	case promptDelete:
		m.closePrompt()
		if v := strings.ToLower(value); v != "y" && v != "yes" {
			m.logger.Info("invoice delete cancelled", logging.Field("invoice_id", id))
			return nil
		}
		return m.actionCmd("deleted "+name, func(ctx context.Context, a app.Actions) error {
			return a.DeleteInvoice(ctx, id)
		})
	case promptUpload:
		if value == "" {
			m.errText = "a file path is required"
			return nil
		}
		path := expandHome(value)
		m.closePrompt()
		return m.actionCmd("attached document to "+name, func(ctx context.Context, a app.Actions) error {
			return a.UploadInvoiceDocument(ctx, id, path)
		})
	}
	m.closePrompt()
	return nil
}

func (m *model) markFirstUnreadCmd() tea.Cmd {
	for _, n := range m.snapshot.Notifications {
		if n.Read {
			continue
		}
		id := n.ID
		return m.actionCmd(fmt.Sprintf("marked notification %d read", id), func(ctx context.Context, a app.Actions) error {
			return a.MarkNotificationRead(ctx, id)
		})
	}
	m.errText = "no unread notifications"
	return nil
}

func (m *model) markAllReadCmd() tea.Cmd {
	return m.actionCmd("marked all notifications read", func(ctx context.Context, a app.Actions) error {
		return a.MarkAllNotificationsRead(ctx)
	})
}

func (m *model) signOutCmd() tea.Cmd {
	return m.actionCmd("signed out", func(_ context.Context, a app.Actions) error {
		return a.SignOut()
	})
}

// actionCmd runs fn against the running dashboard off the update loop.
func (m *model) actionCmd(label string, fn func(context.Context, app.Actions) error) tea.Cmd {
	actions, ok := m.runner.Actions()
	if !ok {
		m.errText = "dashboard is not running"
		return nil
	}
	parent := m.runCtx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, actionTimeout)
		defer cancel()
		return actionDoneMsg{label: label, err: fn(ctx, actions)}
	}
}

func (m *model) applyActionResult(msg actionDoneMsg) {
	if msg.err != nil {
		m.logger.Warn("dashboard action failed", logging.Field("action", msg.label), logging.Field("error", msg.err))
		m.errText = msg.err.Error()
		return
	}
	m.errText = ""
	m.pushActivity(m.now().Format("15:04:05") + "  " + msg.label)
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
