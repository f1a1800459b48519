package tui

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"invoicedash/internal/app"
	"invoicedash/internal/config"
	"invoicedash/internal/logging"
	"invoicedash/internal/realtime"
	"invoicedash/internal/runtime"
	"invoicedash/internal/ui/tui/theme"
)

const (
	logChannelBufferSize      = 512
	snapshotChannelBufferSize = 4
	statusChannelBufferSize   = 16
	eventChannelBufferSize    = 32
	logLineLimit              = 2000
	activityLimit             = 8
	restartTimeout            = 5 * time.Second
	shutdownTimeout           = 3 * time.Second
	actionTimeout             = 30 * time.Second
	defaultLogViewHeight      = 8
)

type logMsg string
type statusMsg string
type snapshotMsg app.Snapshot

type eventMsg struct {
	event realtime.Classified
	at    time.Time
}

type runDoneMsg struct {
	err error
}

type startResultMsg struct {
	err error
}

type runner interface {
	Start(opts config.Options, logger *logging.Logger, hooks runtime.StartHooks) error
	Restart(opts config.Options, logger *logging.Logger, hooks runtime.StartHooks, timeout time.Duration) error
	StopAndWait(timeout time.Duration) bool
	IsRunning() bool
	Actions() (app.Actions, bool)
}

type model struct {
	buildVersion string
	opts         config.Options
	runner       runner
	logger       *logging.Logger
	unsubscribe  func()
	runCtx       context.Context
	rootCancel   context.CancelFunc
	program      *tea.Program
	saveSettings func(config.DashboardSettings) error
	now          func() time.Time

	logCh      chan string
	statusCh   chan string
	snapshotCh chan app.Snapshot
	eventCh    chan eventMsg

	status      string
	kind        theme.Kind
	running     bool
	errText     string
	snapshot    app.Snapshot
	hasSnapshot bool
	filter      int
	cursor      int
	prompt      prompt
	activity    []string
	debugOn     bool
	showLogs    bool

	keys    keyMap
	help    help.Model
	logText string
	logView viewport.Model
	width   int
	height  int

	cleanupOnce sync.Once
}

// Run drives the interactive dashboard until the user quits or rootCtx ends.
func Run(rootCtx context.Context, buildVersion string, opts config.Options, logger *logging.Logger) error {
	if logger == nil {
		panic("tui.Run: logger must not be nil")
	}
	var statusFilter string
	if saved, err := config.LoadSettings(); err == nil {
		statusFilter = saved.StatusFilter
	}

	logger.SetTerminalOutputEnabled(false)
	defer logger.SetTerminalOutputEnabled(true)

	m := newModel(rootCtx, buildVersion, opts, logger, statusFilter)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(rootCtx))
	m.program = program
	_, runErr := program.Run()
	m.cleanup()
	if runErr != nil && rootCtx.Err() == nil {
		return runErr
	}
	return nil
}

func newModel(rootCtx context.Context, buildVersion string, opts config.Options, logger *logging.Logger, statusFilter string) *model {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	runCtx, runCancel := context.WithCancel(rootCtx)

	helpView := help.New()
	helpView.Styles.ShortKey = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)
	helpView.Styles.FullKey = helpView.Styles.ShortKey
	helpView.Styles.ShortDesc = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpView.Styles.FullDesc = helpView.Styles.ShortDesc
	helpView.Styles.ShortSeparator = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	helpView.Styles.FullSeparator = helpView.Styles.ShortSeparator

	m := &model{
		buildVersion: buildVersion,
		opts:         opts,
		runner:       runtime.NewController(runCtx),
		logger:       logger,
		runCtx:       runCtx,
		rootCancel:   runCancel,
		saveSettings: config.SaveSettings,
		now:          time.Now,
		logCh:        make(chan string, logChannelBufferSize),
		statusCh:     make(chan string, statusChannelBufferSize),
		snapshotCh:   make(chan app.Snapshot, snapshotChannelBufferSize),
		eventCh:      make(chan eventMsg, eventChannelBufferSize),
		status:       "Starting",
		kind:         theme.KindConnecting,
		filter:       filterIndex(statusFilter),
		debugOn:      opts.Debug,
		showLogs:     true,
		keys:         newKeyMap(),
		help:         helpView,
		logView:      viewport.New(80, defaultLogViewHeight),
	}

	m.unsubscribe = logger.Subscribe(func(event logging.Event) {
		offer(m.logCh, logging.FormatEventANSI(event))
	})
	return m
}

func filterIndex(status string) int {
	idx := slices.Index(app.StatusFilters, strings.ToLower(strings.TrimSpace(status)))
	return max(idx, 0)
}

// offer enqueues v, dropping the oldest queued value when ch is full.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func waitFor[T any](ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(v)
	}
}

func waitForLog(ch <-chan string) tea.Cmd {
	return waitFor(ch, func(line string) tea.Msg { return logMsg(line) })
}

func waitForStatus(ch <-chan string) tea.Cmd {
	return waitFor(ch, func(status string) tea.Msg { return statusMsg(status) })
}

func waitForSnapshot(ch <-chan app.Snapshot) tea.Cmd {
	return waitFor(ch, func(s app.Snapshot) tea.Msg { return snapshotMsg(s) })
}

func waitForEvent(ch <-chan eventMsg) tea.Cmd {
	return waitFor(ch, func(e eventMsg) tea.Msg { return e })
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(
		waitForLog(m.logCh),
		waitForStatus(m.statusCh),
		waitForSnapshot(m.snapshotCh),
		waitForEvent(m.eventCh),
		m.startCmd(false),
	)
}

func (m *model) hooks() runtime.StartHooks {
	return runtime.StartHooks{
		OnSnapshot: func(s app.Snapshot) { offer(m.snapshotCh, s) },
		OnStatus:   func(status string) { offer(m.statusCh, status) },
		OnEvent: func(e realtime.Classified) {
			offer(m.eventCh, eventMsg{event: e, at: m.now()})
		},
		OnExit: m.onRuntimeExit,
	}
}

func (m *model) startCmd(restart bool) tea.Cmd {
	opts := m.opts
	opts.Debug = m.debugOn
	if err := config.ValidateRequired(opts); err != nil {
		m.status = "Not configured"
		m.kind = theme.KindError
		m.errText = err.Error()
		return nil
	}
	m.status = "Connecting..."
	m.kind = theme.KindConnecting
	m.errText = ""

	hooks := m.hooks()
	return func() tea.Msg {
		var err error
		if restart {
			err = m.runner.Restart(opts, m.logger, hooks, restartTimeout)
		} else {
			err = m.runner.Start(opts, m.logger, hooks)
		}
		return startResultMsg{err: err}
	}
}

func (m *model) onRuntimeExit(runErr error) {
	if m.program == nil {
		return
	}
	m.program.Send(runDoneMsg{err: runErr})
}

func (m *model) cleanup() {
	m.cleanupOnce.Do(func() {
		m.logger.Debug("tui cleanup started")
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		if m.rootCancel != nil {
			m.rootCancel()
		}
		if !m.runner.StopAndWait(shutdownTimeout) {
			m.logger.Warn("dashboard did not stop in time")
		}
		m.logger.Debug("tui cleanup complete")
	})
}
