package runtime

import (
	"context"
	"net/http"

	"github.com/cenkalti/backoff/v5"

	"invoicedash/internal/app"
	"invoicedash/internal/client"
	"invoicedash/internal/config"
	"invoicedash/internal/logging"
	"invoicedash/internal/realtime"
	"invoicedash/internal/session"
)

type Service interface {
	RunContext(ctx context.Context) error
}

type dashboardService struct {
	dashboard *app.DashboardApp
	store     session.Store
	logger    *logging.Logger
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	endpoints, err := config.BuildEndpoints(opts.BaseURL, opts.RealtimeURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed API endpoints",
		logging.Field("base_url", endpoints.BaseURL),
		logging.Field("login_url", endpoints.LoginURL),
		logging.Field("refresh_url", endpoints.RefreshURL),
		logging.Field("realtime_url", endpoints.RealtimeURL),
	)

	store := OpenCredentialStore(opts.CredentialsFile, logger)
	httpClient := &http.Client{Timeout: opts.HTTPTimeout}
	apiClient := client.New(httpClient, endpoints, store, logger, client.WithRefreshTimeout(opts.RefreshTimeout))
	channel := realtime.New(realtime.Options{
		URL:    endpoints.RealtimeURL,
		Token:  session.AccessToken(store),
		Policy: ReconnectPolicy(opts),
		Logger: logger,
	})

	dashboard := app.New(opts, apiClient, store, channel, logger, app.Callbacks{
		OnSnapshot:     hooks.OnSnapshot,
		OnStatusChange: hooks.OnStatus,
		OnEvent:        hooks.OnEvent,
	})
	return &dashboardService{dashboard: dashboard, store: store, logger: logger}, nil
}

// OpenCredentialStore opens the credentials file, falling back to the
// default location and then to an in-memory store.
func OpenCredentialStore(path string, logger *logging.Logger) session.Store {
	if path == "" {
		defaultPath, err := config.DefaultCredentialsPath()
		if err != nil {
			logger.Warn("no credentials file location; keeping tokens in memory", logging.Field("error", err))
			return session.NewMemoryStore(session.Pair{})
		}
		path = defaultPath
	}
	store, err := session.OpenFileStore(path, logger)
	if err != nil {
		logger.Warn("failed to open credentials file; keeping tokens in memory",
			logging.Field("path", path),
			logging.Field("error", err),
		)
		return session.NewMemoryStore(session.Pair{})
	}
	logger.Debug("using credentials file", logging.Field("path", store.Path()))
	return store
}

func ReconnectPolicy(opts config.Options) backoff.BackOff {
	policy := realtime.FixedDelay(opts.ReconnectDelay)
	if opts.ReconnectPolicy == config.ReconnectExponential {
		policy = realtime.Exponential(opts.ReconnectDelay, opts.ReconnectMaxDelay)
	}
	if opts.ReconnectMaxAttempts > 0 {
		return realtime.Limited(policy, opts.ReconnectMaxAttempts)
	}
	return policy
}

func (s *dashboardService) Actions() app.Actions {
	return s.dashboard
}

func (s *dashboardService) RunContext(ctx context.Context) error {
	if fileStore, ok := s.store.(*session.FileStore); ok {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			err := fileStore.Watch(watchCtx, func(pair session.Pair) {
				if pair.Empty() {
					s.logger.Warn("signed out in another process")
					return
				}
				s.logger.Info("credentials updated by another process")
			})
			if err != nil {
				s.logger.Warn("credentials watch stopped", logging.Field("error", err))
			}
		}()
	}
	return s.dashboard.RunContext(ctx)
}
