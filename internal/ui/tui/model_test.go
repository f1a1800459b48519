package tui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"invoicedash/internal/app"
	"invoicedash/internal/client"
	"invoicedash/internal/config"
	"invoicedash/internal/logging"
	"invoicedash/internal/realtime"
	"invoicedash/internal/runstatus"
	"invoicedash/internal/runtime"
	"invoicedash/internal/ui/tui/theme"
)

type fakeRunner struct {
	mu       sync.Mutex
	starts   int
	restarts int
	running  bool
	startErr error
	hooks    runtime.StartHooks
	actions  *fakeActions
}

func (f *fakeRunner) Start(_ config.Options, _ *logging.Logger, hooks runtime.StartHooks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.hooks = hooks
	f.running = f.startErr == nil
	return f.startErr
}

func (f *fakeRunner) Restart(_ config.Options, _ *logging.Logger, hooks runtime.StartHooks, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	f.hooks = hooks
	f.running = f.startErr == nil
	return f.startErr
}

func (f *fakeRunner) StopAndWait(time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return true
}

func (f *fakeRunner) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRunner) Actions() (app.Actions, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running || f.actions == nil {
		return nil, false
	}
	return f.actions, true
}

type fakeActions struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeActions) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeActions) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeActions) ApproveInvoice(_ context.Context, id int64, comment string) error {
	return f.record("approve %d %q", id, comment)
}

func (f *fakeActions) RejectInvoice(_ context.Context, id int64, reason string) error {
	return f.record("reject %d %q", id, reason)
}

func (f *fakeActions) DeleteInvoice(_ context.Context, id int64) error {
	return f.record("delete %d", id)
}

func (f *fakeActions) UploadInvoiceDocument(_ context.Context, id int64, path string) error {
	return f.record("upload %d %s", id, path)
}

func (f *fakeActions) MarkNotificationRead(_ context.Context, id int64) error {
	return f.record("read %d", id)
}

func (f *fakeActions) MarkAllNotificationsRead(context.Context) error {
	return f.record("read all")
}

func (f *fakeActions) SignOut() error {
	return f.record("sign out")
}

type modelHarness struct {
	m      *model
	runner *fakeRunner
	saved  []config.DashboardSettings
}

func newHarness(t *testing.T, opts config.Options) *modelHarness {
	t.Helper()
	h := &modelHarness{runner: &fakeRunner{}}
	h.m = newModel(context.Background(), "test", opts, logging.Discard(), "")
	h.m.runner = h.runner
	h.m.saveSettings = func(s config.DashboardSettings) error {
		h.saved = append(h.saved, s)
		return nil
	}
	h.m.now = func() time.Time { return time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC) }
	t.Cleanup(h.m.cleanup)
	return h
}

func mustEvent(t *testing.T, eventType string, payload any) realtime.Event {
	t.Helper()
	event, err := realtime.NewEvent(eventType, payload)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	return event
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func typed(text string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)}
}

func (h *modelHarness) send(msg tea.Msg) tea.Cmd {
	_, cmd := h.m.Update(msg)
	return cmd
}

func TestModel_StartUsesRunner(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	cmd := h.m.startCmd(false)
	if cmd == nil {
		t.Fatalf("startCmd() = nil for valid options")
	}
	if h.m.kind != theme.KindConnecting {
		t.Fatalf("kind = %v, want connecting", h.m.kind)
	}
	h.send(cmd())
	if !h.m.running || h.runner.starts != 1 {
		t.Fatalf("running=%v starts=%d", h.m.running, h.runner.starts)
	}
}

func TestModel_StartRejectsInvalidOptions(t *testing.T) {
	opts := config.DefaultOptions()
	opts.BaseURL = ""
	h := newHarness(t, opts)
	if cmd := h.m.startCmd(false); cmd != nil {
		t.Fatalf("startCmd() returned a command for invalid options")
	}
	if h.m.kind != theme.KindError || !strings.Contains(h.m.errText, "base URL") {
		t.Fatalf("kind=%v errText=%q", h.m.kind, h.m.errText)
	}
}

func TestModel_StartFailureShowsError(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	h.runner.startErr = errors.New("dial refused")
	h.send(h.m.startCmd(false)())
	if h.m.running || h.m.kind != theme.KindError || h.m.errText != "dial refused" {
		t.Fatalf("running=%v kind=%v errText=%q", h.m.running, h.m.kind, h.m.errText)
	}
}

func TestModel_RestartKey(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	cmd := h.send(runeKey('r'))
	if cmd == nil {
		t.Fatalf("restart key produced no command")
	}
	h.send(cmd())
	if h.runner.restarts != 1 {
		t.Fatalf("restarts = %d, want 1", h.runner.restarts)
	}

	// The exit of the replaced service must not mark the new one stopped.
	h.send(runDoneMsg{})
	if !h.m.running || h.m.kind != theme.KindConnecting {
		t.Fatalf("after stale exit running=%v kind=%v", h.m.running, h.m.kind)
	}
}

func TestModel_RunDoneWithError(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	h.send(runDoneMsg{err: errors.New("failed to load dashboard: boom")})
	if h.m.running || h.m.kind != theme.KindError || h.m.status != "Disconnected (error)" {
		t.Fatalf("running=%v kind=%v status=%q", h.m.running, h.m.kind, h.m.status)
	}
}

func TestModel_RunDoneAfterAuthFailureKeepsLoginStatus(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	h.send(statusMsg(runstatus.DisconnectedAuth))
	h.send(runDoneMsg{err: fmt.Errorf("%w: 401 Unauthorized", app.ErrAuthenticationFailed)})
	if h.m.status != runstatus.DisconnectedAuth || runstatus.PhaseOf(h.m.status) != runstatus.PhaseNeedsLogin {
		t.Fatalf("status = %q, want %q", h.m.status, runstatus.DisconnectedAuth)
	}
	if h.m.kind != theme.KindError || !strings.Contains(h.m.errText, "authentication") {
		t.Fatalf("kind=%v errText=%q", h.m.kind, h.m.errText)
	}
}

func TestModel_RunDoneAfterSignOut(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	h.send(runDoneMsg{err: app.ErrSignedOut})
	if h.m.status != runstatus.SignedOut || h.m.errText != "" {
		t.Fatalf("status=%q errText=%q", h.m.status, h.m.errText)
	}
}

func TestModel_AppliesRuntimeStatus(t *testing.T) {
	tests := []struct {
		status string
		want   theme.Kind
	}{
		{status: runstatus.Authenticated, want: theme.KindConnecting},
		{status: runstatus.DataLoaded, want: theme.KindConnecting},
		{status: runstatus.Connected, want: theme.KindConnected},
		{status: runstatus.Reconnecting, want: theme.KindConnecting},
		{status: runstatus.Disconnected, want: theme.KindIdle},
		{status: runstatus.DisconnectedAuth, want: theme.KindError},
	}
	h := newHarness(t, config.DefaultOptions())
	for _, tt := range tests {
		h.send(statusMsg(tt.status))
		if h.m.kind != tt.want || h.m.status != tt.status {
			t.Fatalf("status %q: kind=%v label=%q", tt.status, h.m.kind, h.m.status)
		}
	}
}

func TestModel_FilterCyclesAndPersists(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	h.send(runeKey('f'))
	if got := h.m.statusFilter(); got != client.StatusPending {
		t.Fatalf("filter = %q, want pending", got)
	}
	if len(h.saved) != 1 || h.saved[0].StatusFilter != client.StatusPending {
		t.Fatalf("saved = %#v", h.saved)
	}
	for range len(app.StatusFilters) - 1 {
		h.send(runeKey('f'))
	}
	if got := h.m.statusFilter(); got != "" {
		t.Fatalf("filter after full cycle = %q, want all", got)
	}
}

func TestModel_DebugTogglePersists(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	h.send(runeKey('d'))
	if !h.m.logger.DebugEnabled() {
		t.Fatalf("debug logging not enabled")
	}
	if len(h.saved) != 1 || !h.saved[0].Debug {
		t.Fatalf("saved = %#v", h.saved)
	}
	h.send(runeKey('d'))
	if h.m.logger.DebugEnabled() {
		t.Fatalf("debug logging still enabled after second toggle")
	}
}

func TestModel_QuitKey(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	cmd := h.send(runeKey('q'))
	if cmd == nil {
		t.Fatalf("quit key produced no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("quit key did not quit")
	}
}

func TestModel_HooksFeedChannels(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	hooks := h.m.hooks()
	hooks.OnStatus(runstatus.Connected)
	hooks.OnSnapshot(app.Snapshot{Invoices: []client.Invoice{{ID: 7}}})
	hooks.OnEvent(realtime.Classify(mustEvent(t, "invoice.created", map[string]any{"id": 7})))

	h.send(waitForStatus(h.m.statusCh)())
	h.send(waitForSnapshot(h.m.snapshotCh)())
	h.send(waitForEvent(h.m.eventCh)())

	if h.m.kind != theme.KindConnected {
		t.Fatalf("kind = %v, want connected", h.m.kind)
	}
	if !h.m.hasSnapshot || len(h.m.snapshot.Invoices) != 1 {
		t.Fatalf("snapshot not applied: %#v", h.m.snapshot)
	}
	if len(h.m.activity) != 1 || h.m.activity[0] != "09:30:00  invoice #7 created" {
		t.Fatalf("activity = %q", h.m.activity)
	}
}

func TestModel_ActivityNewestFirstAndCapped(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	for i := range activityLimit + 3 {
		event := realtime.Classify(mustEvent(t, "notification.created", map[string]any{"id": i}))
		h.send(eventMsg{event: event, at: h.m.now().Add(time.Duration(i) * time.Second)})
	}
	if len(h.m.activity) != activityLimit {
		t.Fatalf("activity len = %d, want %d", len(h.m.activity), activityLimit)
	}
	if !strings.HasPrefix(h.m.activity[0], "09:30:10") {
		t.Fatalf("newest activity = %q", h.m.activity[0])
	}
}

func TestModel_LogsAreAppendedAndBounded(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	h.send(tea.WindowSizeMsg{Width: 100, Height: 40})
	h.m.logger.Info("hello from the dashboard")
	cmd := waitForLog(h.m.logCh)
	h.send(cmd())
	if !strings.Contains(ansi.Strip(h.m.logText), "hello from the dashboard") {
		t.Fatalf("logText = %q", h.m.logText)
	}

	got := appendLogLinesWithLimit("a\nb", "c\r\nd\n", 3)
	if got != "b\nc\nd" {
		t.Fatalf("appendLogLinesWithLimit() = %q", got)
	}
	if got := appendLogLinesWithLimit("", "x", 0); got != "" {
		t.Fatalf("zero limit = %q", got)
	}
}

func TestView_RendersSummaryAndFilteredInvoices(t *testing.T) {
	h := newHarness(t, config.DefaultOptions())
	h.send(tea.WindowSizeMsg{Width: 140, Height: 60})

	invoices := []client.Invoice{
		{ID: 1, Number: "INV-001", Vendor: "Acme Corp", Status: client.StatusPaid, Amount: 1250, Currency: "USD"},
		{ID: 2, Number: "INV-002", Vendor: "Globex", Status: client.StatusPending, Amount: 40},
	}
	snapshot := app.Snapshot{
		Invoices:       invoices,
		Notifications:  []client.Notification{{ID: 1, Title: "Approval requested by finance"}},
		Summary:        app.Summarize(invoices, h.m.now()),
		UpdatedAt:      h.m.now(),
		SessionExpires: h.m.now().Add(-time.Minute),
	}
	h.send(snapshotMsg(snapshot))

	view := ansi.Strip(h.m.View())
	for _, want := range []string{"1,290.00", "INV-001", "INV-002", "Approval requested", "updated 09:30:00", "session expired", "all 2", "paid 1", "uncategorized 1,290.00"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	h.m.filter = 4 // paid
	view = ansi.Strip(h.m.View())
	if !strings.Contains(view, "INV-001") || strings.Contains(view, "INV-002 ") {
		t.Fatalf("paid filter view:\n%s", view)
	}
}

func actionHarness(t *testing.T) (*modelHarness, *fakeActions) {
	t.Helper()
	h := newHarness(t, config.DefaultOptions())
	h.send(tea.WindowSizeMsg{Width: 140, Height: 60})
	actions := &fakeActions{}
	h.runner.running = true
	h.runner.actions = actions
	h.send(snapshotMsg(app.Snapshot{
		Invoices: []client.Invoice{
			{ID: 11, Number: "INV-011", Status: client.StatusPending},
			{ID: 12, Number: "INV-012", Status: client.StatusPending},
		},
		Notifications: []client.Notification{
			{ID: 5, Title: "seen", Read: true},
			{ID: 6, Title: "fresh"},
		},
	}))
	return h, actions
}

// finish runs an action command and feeds its result back to the model.
func (h *modelHarness) finish(t *testing.T, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatalf("no command to run (errText=%q)", h.m.errText)
	}
	msg := cmd()
	if _, ok := msg.(actionDoneMsg); !ok {
		t.Fatalf("command returned %T, want actionDoneMsg", msg)
	}
	h.send(msg)
}

func TestModel_ApproveSelectedInvoice(t *testing.T) {
	h, actions := actionHarness(t)
	h.send(runeKey('j'))
	h.send(runeKey('a'))
	if !h.m.prompt.active() {
		t.Fatalf("approve key did not open a prompt")
	}
	if view := ansi.Strip(h.m.View()); !strings.Contains(view, "Approve INV-012") {
		t.Fatalf("prompt not rendered:\n%s", view)
	}
	h.send(typed("checked totals"))
	h.finish(t, h.send(tea.KeyMsg{Type: tea.KeyEnter}))

	if got := actions.recorded(); !slices.Equal(got, []string{`approve 12 "checked totals"`}) {
		t.Fatalf("calls = %q", got)
	}
	if h.m.prompt.active() || h.m.errText != "" {
		t.Fatalf("prompt=%v errText=%q", h.m.prompt.active(), h.m.errText)
	}
	if len(h.m.activity) != 1 || h.m.activity[0] != "09:30:00  approved INV-012" {
		t.Fatalf("activity = %q", h.m.activity)
	}
}

func TestModel_RejectNeedsReason(t *testing.T) {
	h, actions := actionHarness(t)
	h.send(runeKey('x'))
	if cmd := h.send(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatalf("empty reason produced a command")
	}
	if !h.m.prompt.active() || h.m.errText != app.ErrReasonRequired.Error() {
		t.Fatalf("prompt=%v errText=%q", h.m.prompt.active(), h.m.errText)
	}
	h.send(typed("duplicate"))
	h.finish(t, h.send(tea.KeyMsg{Type: tea.KeyEnter}))
	if got := actions.recorded(); !slices.Equal(got, []string{`reject 11 "duplicate"`}) {
		t.Fatalf("calls = %q", got)
	}
}

func TestModel_DeleteNeedsConfirmation(t *testing.T) {
	h, actions := actionHarness(t)
	h.send(runeKey('D'))
	h.send(typed("n"))
	if cmd := h.send(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatalf("unconfirmed delete produced a command")
	}
	if h.m.prompt.active() {
		t.Fatalf("prompt still open after answering")
	}

	h.send(runeKey('D'))
	h.send(typed("yes"))
	h.finish(t, h.send(tea.KeyMsg{Type: tea.KeyEnter}))
	if got := actions.recorded(); !slices.Equal(got, []string{"delete 11"}) {
		t.Fatalf("calls = %q", got)
	}
}

func TestModel_EscapeCancelsPrompt(t *testing.T) {
	h, actions := actionHarness(t)
	h.send(runeKey('u'))
	h.send(typed("q"))
	if h.m.prompt.input.Value() != "q" {
		t.Fatalf("prompt input = %q; keys should go to the prompt", h.m.prompt.input.Value())
	}
	h.send(tea.KeyMsg{Type: tea.KeyEsc})
	if h.m.prompt.active() || len(actions.recorded()) != 0 {
		t.Fatalf("prompt=%v calls=%q", h.m.prompt.active(), actions.recorded())
	}
}

func TestModel_UploadSendsPath(t *testing.T) {
	h, actions := actionHarness(t)
	h.send(runeKey('u'))
	h.send(typed("/tmp/scan.pdf"))
	h.finish(t, h.send(tea.KeyMsg{Type: tea.KeyEnter}))
	if got := actions.recorded(); !slices.Equal(got, []string{"upload 11 /tmp/scan.pdf"}) {
		t.Fatalf("calls = %q", got)
	}
}

func TestModel_NotificationAndSessionKeys(t *testing.T) {
	h, actions := actionHarness(t)
	h.finish(t, h.send(runeKey('m')))
	h.finish(t, h.send(runeKey('M')))
	h.finish(t, h.send(runeKey('o')))
	want := []string{"read 6", "read all", "sign out"}
	if got := actions.recorded(); !slices.Equal(got, want) {
		t.Fatalf("calls = %q, want %q", got, want)
	}

	h.send(snapshotMsg(app.Snapshot{Notifications: []client.Notification{{ID: 5, Read: true}}}))
	if cmd := h.send(runeKey('m')); cmd != nil || h.m.errText != "no unread notifications" {
		t.Fatalf("cmd=%v errText=%q", cmd != nil, h.m.errText)
	}
}

func TestModel_ActionFailureShowsError(t *testing.T) {
	h, actions := actionHarness(t)
	actions.err = errors.New("approve invoice 11: 403 Forbidden")
	h.send(runeKey('a'))
	h.finish(t, h.send(tea.KeyMsg{Type: tea.KeyEnter}))
	if !strings.Contains(h.m.errText, "403") || len(h.m.activity) != 0 {
		t.Fatalf("errText=%q activity=%q", h.m.errText, h.m.activity)
	}
}

func TestModel_ActionsNeedRunningDashboard(t *testing.T) {
	h, actions := actionHarness(t)
	h.runner.running = false
	if cmd := h.send(runeKey('M')); cmd != nil {
		t.Fatalf("action command returned while stopped")
	}
	if h.m.errText != "dashboard is not running" || len(actions.recorded()) != 0 {
		t.Fatalf("errText=%q calls=%q", h.m.errText, actions.recorded())
	}
}

func TestModel_CursorStaysInsideFilteredInvoices(t *testing.T) {
	h, _ := actionHarness(t)
	for range 5 {
		h.send(runeKey('j'))
	}
	if h.m.cursor != 1 {
		t.Fatalf("cursor = %d, want 1", h.m.cursor)
	}
	h.send(snapshotMsg(app.Snapshot{Invoices: []client.Invoice{{ID: 11, Status: client.StatusPending}}}))
	if h.m.cursor != 0 {
		t.Fatalf("cursor after shrink = %d, want 0", h.m.cursor)
	}
	h.m.filter = 4 // paid
	h.send(runeKey('a'))
	if h.m.prompt.active() || h.m.errText != "no invoice selected" {
		t.Fatalf("prompt=%v errText=%q", h.m.prompt.active(), h.m.errText)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[float64]string{
		0:          "0.00",
		999.5:      "999.50",
		1000:       "1,000.00",
		1234567.89: "1,234,567.89",
		-2500:      "-2,500.00",
	}
	for in, want := range tests {
		if got := formatAmount(in); got != want {
			t.Fatalf("formatAmount(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFilterIndex(t *testing.T) {
	if got := filterIndex(" Paid "); app.StatusFilters[got] != client.StatusPaid {
		t.Fatalf("filterIndex(paid) = %d", got)
	}
	if got := filterIndex("bogus"); got != 0 {
		t.Fatalf("filterIndex(bogus) = %d, want 0", got)
	}
}
