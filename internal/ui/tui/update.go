package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"invoicedash/internal/app"
	"invoicedash/internal/config"
	"invoicedash/internal/logging"
	"invoicedash/internal/realtime"
	"invoicedash/internal/runstatus"
	"invoicedash/internal/ui/tui/theme"
)

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLogs()
		return m, nil
	case logMsg:
		wasAtBottom := m.logView.AtBottom()
		m.logText = appendLogLinesWithLimit(m.logText, string(msg), logLineLimit)
		m.logView.SetContent(m.logText)
		if wasAtBottom {
			m.logView.GotoBottom()
		}
		return m, waitForLog(m.logCh)
	case statusMsg:
		m.applyRuntimeStatus(string(msg))
		return m, waitForStatus(m.statusCh)
	case snapshotMsg:
		m.snapshot = app.Snapshot(msg)
		m.hasSnapshot = true
		m.clampCursor()
		return m, waitForSnapshot(m.snapshotCh)
	case eventMsg:
		m.recordActivity(msg)
		return m, waitForEvent(m.eventCh)
	case startResultMsg:
		if msg.err != nil {
			m.running = false
			m.status = "Disconnected (error)"
			m.kind = theme.KindError
			m.errText = msg.err.Error()
			return m, nil
		}
		m.running = true
		return m, nil
	case runDoneMsg:
		// A restart may already have replaced the service that exited.
		m.running = m.runner.IsRunning()
		if m.running {
			return m, nil
		}
		switch {
		case errors.Is(msg.err, app.ErrSignedOut):
			m.applyRuntimeStatus(runstatus.SignedOut)
			m.errText = ""
		case errors.Is(msg.err, app.ErrAuthenticationFailed), errors.Is(msg.err, app.ErrNotAuthenticated):
			m.applyRuntimeStatus(runstatus.DisconnectedAuth)
			m.errText = msg.err.Error()
		case msg.err != nil:
			m.status = "Disconnected (error)"
			m.kind = theme.KindError
			m.errText = msg.err.Error()
		case m.kind != theme.KindConnecting:
			m.status = runstatus.Disconnected
			m.kind = theme.KindIdle
		}
		return m, nil
	case actionDoneMsg:
		m.applyActionResult(msg)
		return m, nil
	case tea.KeyMsg:
		if m.prompt.active() {
			return m.handlePromptKey(msg)
		}
		return m.handleKeyMsg(msg)
	}
	if m.prompt.active() {
		var cmd tea.Cmd
		m.prompt.input, cmd = m.prompt.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Restart):
		m.logger.Info("reconnect requested")
		m.activity = nil
		return m, m.startCmd(true)
	case key.Matches(msg, m.keys.Filter):
		m.cycleFilter()
		return m, nil
	case key.Matches(msg, m.keys.Debug):
		m.debugOn = !m.debugOn
		m.logger.SetDebugEnabled(m.debugOn)
		m.logger.Info("debug logging toggled", logging.Field("enabled", m.debugOn))
		m.persistSettings()
		return m, nil
	case key.Matches(msg, m.keys.Logs):
		m.showLogs = !m.showLogs
		m.resizeLogs()
		return m, nil
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resizeLogs()
		return m, nil
	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)
		return m, nil
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)
		return m, nil
	case key.Matches(msg, m.keys.Approve):
		return m, m.openPrompt(promptApprove)
	case key.Matches(msg, m.keys.Reject):
		return m, m.openPrompt(promptReject)
	case key.Matches(msg, m.keys.Delete):
		return m, m.openPrompt(promptDelete)
	case key.Matches(msg, m.keys.Upload):
		return m, m.openPrompt(promptUpload)
	case key.Matches(msg, m.keys.Read):
		return m, m.markFirstUnreadCmd()
	case key.Matches(msg, m.keys.ReadAll):
		return m, m.markAllReadCmd()
	case key.Matches(msg, m.keys.SignOut):
		m.logger.Info("sign out requested")
		return m, m.signOutCmd()
	case key.Matches(msg, m.keys.LogUp), key.Matches(msg, m.keys.LogDown):
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) applyRuntimeStatus(status string) {
	m.status = status
	switch runstatus.PhaseOf(status) {
	case runstatus.PhaseStarting:
		m.kind = theme.KindConnecting
	case runstatus.PhaseLive:
		m.kind = theme.KindConnected
		m.errText = ""
	case runstatus.PhaseStopped:
		m.kind = theme.KindIdle
	case runstatus.PhaseNeedsLogin:
		m.kind = theme.KindError
	}
}

func (m *model) cycleFilter() {
	m.filter = (m.filter + 1) % len(app.StatusFilters)
	m.cursor = 0
	m.logger.Debug("status filter changed", logging.Field("status", m.statusFilter()))
	m.persistSettings()
}

func (m *model) statusFilter() string {
	return app.StatusFilters[m.filter]
}

func (m *model) persistSettings() {
	opts := m.opts
	opts.Debug = m.debugOn
	if err := m.saveSettings(config.SettingsFromOptions(opts, m.statusFilter())); err != nil {
		m.logger.Warn("failed to save settings", logging.Field("error", err))
	}
}

func (m *model) recordActivity(msg eventMsg) {
	var line string
	switch e := msg.event.(type) {
	case realtime.InvoiceEvent:
		line = fmt.Sprintf("invoice #%d %s", e.InvoiceID, e.Action())
	case realtime.NotificationEvent:
		line = "notification " + e.Action()
	case realtime.UserEvent:
		line = "account " + e.Action()
	default:
		line = msg.event.Raw().Type
	}
	m.pushActivity(msg.at.Format("15:04:05") + "  " + strings.TrimSpace(line))
}

func (m *model) pushActivity(line string) {
	m.activity = append([]string{line}, m.activity...)
	if len(m.activity) > activityLimit {
		m.activity = m.activity[:activityLimit]
	}
}

func appendLogLinesWithLimit(current string, next string, limit int) string {
	if limit <= 0 {
		return ""
	}
	lines := splitLogLines(current)
	lines = append(lines, splitLogLines(next)...)
	if len(lines) > limit {
		lines = append([]string(nil), lines[len(lines)-limit:]...)
	}
	return strings.Join(lines, "\n")
}

func splitLogLines(input string) []string {
	if input == "" {
		return nil
	}
	normalized := strings.ReplaceAll(input, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
