package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"invoicedash/internal/client"
	"invoicedash/internal/config"
	"invoicedash/internal/logging"
	"invoicedash/internal/realtime"
	"invoicedash/internal/runctx"
	"invoicedash/internal/runstatus"
	"invoicedash/internal/session"
)

const (
	loginMaxTries        = 5
	loginInitialInterval = time.Second
	loginMaxInterval     = 15 * time.Second
)

const (
	scopeInvoices uint32 = 1 << iota
	scopeApprovals
	scopeNotifications
	// scopeSignedOut ends the run; it is never refetched.
	scopeSignedOut

	scopeAll = scopeInvoices | scopeApprovals | scopeNotifications
)

// API is the subset of the HTTP client the dashboard drives.
type API interface {
	Login(ctx context.Context, email string, password string) (session.Pair, error)
	Logout() error
	ListInvoices(ctx context.Context, filter client.InvoiceFilter) ([]client.Invoice, error)
	ListPendingApprovals(ctx context.Context) ([]client.Approval, error)
	ListNotifications(ctx context.Context, unreadOnly bool) ([]client.Notification, error)
	ApproveInvoice(ctx context.Context, id int64, comment string) (client.Invoice, error)
	RejectInvoice(ctx context.Context, id int64, reason string) (client.Invoice, error)
	DeleteInvoice(ctx context.Context, id int64) error
	UploadInvoiceDocument(ctx context.Context, id int64, filename string, content io.Reader) (client.Invoice, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Channel is the subset of the realtime channel the dashboard drives.
type Channel interface {
	On(listener realtime.Listener) func()
	OnStateChange(fn func(realtime.State)) func()
	Start()
	Stop()
	Running() bool
	Send(event realtime.Event) bool
}

type Snapshot struct {
	Invoices      []client.Invoice
	Approvals     []client.Approval
	Notifications []client.Notification
	Summary       Summary
	UpdatedAt     time.Time

	// SessionExpires is the access token's exp claim, zero when unknown.
	SessionExpires time.Time
}

type Callbacks struct {
	OnSnapshot     func(Snapshot)
	OnStatusChange func(string)
	OnEvent        func(realtime.Classified)
}

type DashboardApp struct {
	opts    config.Options
	api     API
	creds   session.Store
	channel Channel
	logger  *logging.Logger
	hooks   Callbacks
	status  runtimeStatusState
	trigger *runctx.Trigger

	now        func() time.Time
	loginRetry func() backoff.BackOff

	mu       sync.Mutex
	snapshot Snapshot
}

func New(opts config.Options, api API, creds session.Store, channel Channel, logger *logging.Logger, hooks Callbacks) *DashboardApp {
	if api == nil {
		panic("app.New: api must not be nil")
	}
	if creds == nil {
		panic("app.New: credential store must not be nil")
	}
	if channel == nil {
		panic("app.New: channel must not be nil")
	}
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	return &DashboardApp{
		opts:       opts,
		api:        api,
		creds:      creds,
		channel:    channel,
		logger:     logger.Scope("app"),
		hooks:      hooks,
		trigger:    runctx.NewTrigger(),
		now:        time.Now,
		loginRetry: defaultLoginBackOff,
	}
}

func defaultLoginBackOff() backoff.BackOff {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = loginInitialInterval
	retry.MaxInterval = loginMaxInterval
	retry.Reset()
	return retry
}

func (a *DashboardApp) Run() error {
	return a.RunContext(context.Background())
}

// RunContext authenticates, loads the dashboard, then keeps it current from
// realtime events until ctx is canceled.
func (a *DashboardApp) RunContext(ctx context.Context) error {
	a.logger.Info("dashboard starting", logging.Field("base_url", a.opts.BaseURL))

	if err := a.ensureSession(ctx); err != nil {
		return err
	}
	a.setRuntimeStatus(runstatus.Authenticated)

	if err := a.refetch(ctx, scopeAll); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return a.fetchFailed(err)
	}
	a.setRuntimeStatus(runstatus.DataLoaded)

	trigger := a.trigger
	unsubscribe := a.channel.On(func(event realtime.Event) {
		a.handleEvent(event, trigger)
	})
	defer unsubscribe()

	var everConnected, finished atomic.Bool
	unsubscribeState := a.channel.OnStateChange(func(state realtime.State) {
		if ctx.Err() != nil || finished.Load() {
			return
		}
		switch state {
		case realtime.Connected:
			if everConnected.Swap(true) {
				// Events sent while disconnected are lost; reload everything.
				a.logger.Info("realtime reconnected; refreshing dashboard")
				trigger.Notify(scopeAll)
			}
			a.setRuntimeStatus(runstatus.Connected)
		case realtime.Disconnected:
			if !a.channel.Running() {
				a.logger.Warn("realtime updates stopped; restart to reconnect")
				a.setRuntimeStatus(runstatus.Disconnected)
				return
			}
			a.setRuntimeStatus(runstatus.Reconnecting)
		}
	})

	a.channel.Start()
	defer func() {
		// The final status is already set; Stop must not report over it.
		finished.Store(true)
		unsubscribeState()
		a.channel.Stop()
	}()

	for {
		scope, ok := trigger.Wait(ctx, "dashboard refetch worker", a.logger)
		if !ok {
			a.setRuntimeStatus(runstatus.Disconnected)
			a.logger.Info("dashboard stopped")
			return nil
		}
		if scope&scopeSignedOut != 0 {
			a.setRuntimeStatus(runstatus.SignedOut)
			return ErrSignedOut
		}
		if err := a.refetch(ctx, scope); err != nil {
			if ctx.Err() != nil {
				continue
			}
			if client.StatusCode(err) == http.StatusUnauthorized {
				return a.fetchFailed(err)
			}
			a.logger.Warn("dashboard refresh failed", logging.Field("error", err))
		}
	}
}

// Snapshot returns the most recently published dashboard state.
func (a *DashboardApp) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot
}

func (a *DashboardApp) ensureSession(ctx context.Context) error {
	if pair := a.creds.Credentials(); !pair.Empty() {
		if session.ExpiresWithin(pair.AccessToken, 0, a.now()) {
			a.logger.Info("stored access token has expired; it will be refreshed on the first request")
		} else if exp, ok := session.AccessExpiry(pair.AccessToken); ok {
			a.logger.Debug("using stored credentials", logging.Field("access_expires", exp.Format(time.RFC3339)))
		} else {
			a.logger.Debug("using stored credentials")
		}
		return nil
	}

	email := strings.TrimSpace(a.opts.Email)
	if email == "" {
		a.setRuntimeStatus(runstatus.DisconnectedAuth)
		return ErrNotAuthenticated
	}

	_, err := backoff.Retry(ctx, func() (session.Pair, error) {
		pair, loginErr := a.api.Login(ctx, email, a.opts.Password)
		if loginErr != nil {
			if client.StatusCode(loginErr) != 0 {
				return session.Pair{}, backoff.Permanent(loginErr)
			}
			return session.Pair{}, loginErr
		}
		return pair, nil
	},
		backoff.WithBackOff(a.loginRetry()),
		backoff.WithMaxTries(loginMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn("login failed; retrying",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()))
		}),
	)
	if err == nil {
		return nil
	}
	if code := client.StatusCode(err); code >= http.StatusBadRequest && code < http.StatusInternalServerError {
		a.setRuntimeStatus(runstatus.DisconnectedAuth)
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return fmt.Errorf("login failed: %w", err)
}

func (a *DashboardApp) fetchFailed(err error) error {
	if client.StatusCode(err) == http.StatusUnauthorized {
		a.setRuntimeStatus(runstatus.DisconnectedAuth)
		a.logger.Error("session rejected by the API; log in again", logging.Field("error", err))
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	a.setRuntimeStatus(runstatus.Disconnected)
	return fmt.Errorf("failed to load dashboard: %w", err)
}

func (a *DashboardApp) handleEvent(event realtime.Event, trigger *runctx.Trigger) {
	classified := realtime.Classify(event)
	switch e := classified.(type) {
	case realtime.InvoiceEvent:
		a.logger.Debug("invoice event", logging.Field("action", e.Action()), logging.Field("invoice_id", e.InvoiceID))
		trigger.Notify(scopeInvoices | scopeApprovals)
	case realtime.NotificationEvent:
		a.logger.Debug("notification event", logging.Field("action", e.Action()), logging.Field("notification_id", e.NotificationID))
		trigger.Notify(scopeNotifications)
	case realtime.UserEvent:
		a.logger.Info("account event", logging.Field("action", e.Action()))
	default:
		a.logger.Debug("ignoring realtime event", logging.Field("type", event.Type))
		return
	}
	if a.hooks.OnEvent != nil {
		a.hooks.OnEvent(classified)
	}
}

func (a *DashboardApp) refetch(ctx context.Context, scope uint32) error {
	next := a.Snapshot()
	if scope&scopeInvoices != 0 {
		invoices, err := a.api.ListInvoices(ctx, client.InvoiceFilter{Ordering: "-created_at"})
		if err != nil {
			return fmt.Errorf("list invoices: %w", err)
		}
		next.Invoices = invoices
	}
	if scope&scopeApprovals != 0 {
		approvals, err := a.api.ListPendingApprovals(ctx)
		if err != nil {
			return fmt.Errorf("list approvals: %w", err)
		}
		next.Approvals = approvals
	}
	if scope&scopeNotifications != 0 {
		notifications, err := a.api.ListNotifications(ctx, false)
		if err != nil {
			return fmt.Errorf("list notifications: %w", err)
		}
		next.Notifications = notifications
	}

	now := a.now()
	next.Summary = Summarize(next.Invoices, now)
	next.Summary.PendingApprovals = len(next.Approvals)
	for _, n := range next.Notifications {
		if !n.Read {
			next.Summary.UnreadNotifications++
		}
	}
	next.UpdatedAt = now
	next.SessionExpires = time.Time{}
	if exp, ok := session.AccessExpiry(a.creds.Credentials().AccessToken); ok {
		next.SessionExpires = exp
	}

	a.mu.Lock()
	a.snapshot = next
	a.mu.Unlock()
	a.logger.Debug("dashboard refreshed",
		logging.Field("invoices", len(next.Invoices)),
		logging.Field("approvals", len(next.Approvals)),
		logging.Field("notifications", len(next.Notifications)),
	)
	if a.hooks.OnSnapshot != nil {
		a.hooks.OnSnapshot(next)
	}
	return nil
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (a *DashboardApp) setRuntimeStatus(status string) {
	previous, next, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	if a.hooks.OnStatusChange != nil {
		a.hooks.OnStatusChange(status)
	}
}
