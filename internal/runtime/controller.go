package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"invoicedash/internal/app"
	"invoicedash/internal/config"
	"invoicedash/internal/logging"
	"invoicedash/internal/realtime"
)

// Controller runs at most one dashboard service in the background.
type Controller struct {
	rootCtx    context.Context
	newService func(config.Options, *logging.Logger, StartHooks) (Service, error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	service Service
	lastErr error
	wg      sync.WaitGroup
}

type StartHooks struct {
	OnSnapshot func(app.Snapshot)
	OnStatus   func(string)
	OnEvent    func(realtime.Classified)
	OnExit     func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx, newService: NewServiceWithHooks}
}

func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("dashboard is already running")
	}
	logger.Debug("runtime start requested",
		logging.Field("base_url", opts.BaseURL),
		logging.Field("ws_url", opts.RealtimeURL),
		logging.Field("reconnect_policy", opts.ReconnectPolicy),
	)

	service, err := c.newService(opts, logger, hooks)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.rootCtx)
	c.cancel = cancel
	c.running = true
	c.service = service
	c.lastErr = nil
	c.wg.Go(func() {
		defer cancel()
		runErr := service.RunContext(ctx)
		switch {
		case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
			logger.Debug("runtime service exited due to context cancellation", logging.Field("error", runErr))
			runErr = nil
		case runErr != nil:
			logger.Warn("runtime service exited with error", logging.Field("error", runErr))
		default:
			logger.Info("runtime service exited")
		}
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.service = nil
		c.lastErr = runErr
		c.mu.Unlock()

		if hooks.OnExit != nil {
			hooks.OnExit(runErr)
		}
	})
	return nil
}

// Restart stops the running service, waits up to timeout for it to exit,
// then starts a fresh one.
func (c *Controller) Restart(opts config.Options, logger *logging.Logger, hooks StartHooks, timeout time.Duration) error {
	if !c.StopAndWait(timeout) {
		return fmt.Errorf("dashboard did not stop within %s", timeout)
	}
	return c.Start(opts, logger, hooks)
}

func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) Wait(timeout time.Duration) bool {
	waitDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitDone)
	}()
	if timeout <= 0 {
		<-waitDone
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waitDone:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Actions returns the user operations of the running dashboard, or false
// when nothing is running.
func (c *Controller) Actions() (app.Actions, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil, false
	}
	provider, ok := c.service.(interface{ Actions() app.Actions })
	if !ok {
		return nil, false
	}
	return provider.Actions(), true
}

// LastError is the error the most recent run ended with, nil while running
// or after a clean stop.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
