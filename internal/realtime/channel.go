package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"invoicedash/internal/logging"
)

type Options struct {
	URL string
	// Token is evaluated before every connection attempt.
	Token     func() string
	Dialer    Dialer
	Policy    backoff.BackOff
	Scheduler Scheduler
	Logger    *logging.Logger
}

// Channel keeps one realtime connection open while running, reconnecting
// after the policy delay whenever it drops.
type Channel struct {
	url       string
	token     func() string
	dialer    Dialer
	scheduler Scheduler
	logger    *logging.Logger

	mu         sync.Mutex
	policy     backoff.BackOff
	state      State
	running    bool
	gen        uint64
	runCtx     context.Context
	cancel     context.CancelFunc
	conn       Conn
	timer      Timer
	nextID     int
	listeners  []listenerEntry
	stateHooks []stateHookEntry

	writeMu sync.Mutex
	// notifyMu serializes state hook calls.
	notifyMu sync.Mutex
}

type listenerEntry struct {
	id int
	fn Listener
}

type stateHookEntry struct {
	id int
	fn func(State)
}

func New(opts Options) *Channel {
	if opts.Logger == nil {
		panic("realtime.New: logger must not be nil")
	}
	c := &Channel{
		url:       opts.URL,
		token:     opts.Token,
		dialer:    opts.Dialer,
		scheduler: opts.Scheduler,
		logger:    opts.Logger.Scope("realtime"),
		policy:    opts.Policy,
		state:     Disconnected,
	}
	if c.token == nil {
		c.token = func() string { return "" }
	}
	if c.dialer == nil {
		c.dialer = WebsocketDialer{}
	}
	if c.scheduler == nil {
		c.scheduler = systemScheduler{}
	}
	if c.policy == nil {
		c.policy = FixedDelay(DefaultReconnectDelay)
	}
	return c
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether the channel is between Start and Stop and has not
// given up reconnecting.
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// On registers a listener for inbound events and returns its unsubscribe
// function. Listeners run in registration order on the read goroutine.
func (c *Channel) On(listener Listener) func() {
	if listener == nil {
		panic("realtime.Channel.On: listener must not be nil")
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: listener})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, entry := range c.listeners {
				if entry.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Channel) OnStateChange(fn func(State)) func() {
	if fn == nil {
		panic("realtime.Channel.OnStateChange: callback must not be nil")
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.stateHooks = append(c.stateHooks, stateHookEntry{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, entry := range c.stateHooks {
				if entry.id == id {
					c.stateHooks = append(c.stateHooks[:i:i], c.stateHooks[i+1:]...)
					return
				}
			}
		})
	}
}

// Start begins connecting. Calling Start on a running channel is a no-op.
func (c *Channel) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.gen++
	gen := c.gen
	c.runCtx, c.cancel = context.WithCancel(context.Background())
	c.policy.Reset()
	hooks := c.setStateLocked(Connecting)
	c.mu.Unlock()

	c.emitState(hooks, Connecting)
	go c.connect(gen)
}

// Stop cancels any pending reconnect and closes the connection. The channel
// can be started again afterwards.
func (c *Channel) Stop() {
	c.mu.Lock()
	c.running = false
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	hooks := c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		c.logger.Debug("realtime channel stopped")
	}
	c.emitState(hooks, Disconnected)
}

// Send writes event when connected and reports whether it was written.
// Events sent while not connected are dropped.
func (c *Channel) Send(event Event) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected && conn != nil
	c.mu.Unlock()
	if !connected {
		c.logger.Debug("dropping outbound realtime event: not connected", logging.Field("type", event.Type))
		return false
	}

	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Warn("failed to encode outbound realtime event", logging.Field("type", event.Type), logging.Field("error", err))
		return false
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		// The read loop sees the closed connection and runs the reconnect path.
		c.logger.Warn("realtime send failed", logging.Field("type", event.Type), logging.Field("error", err))
		_ = conn.Close()
		return false
	}
	return true
}

func (c *Channel) connect(gen uint64) {
	c.mu.Lock()
	if !c.running || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx := c.runCtx
	hooks := c.setStateLocked(Connecting)
	c.mu.Unlock()
	c.emitState(hooks, Connecting)

	target, err := withToken(c.url, c.token())
	if err != nil {
		c.logger.Error("realtime URL rejected", logging.Field("error", err))
		c.connectFailed(gen)
		return
	}
	c.logger.Debug("connecting realtime channel", logging.Field("url", c.url))

	conn, err := c.dialer.Dial(ctx, target)
	if err != nil {
		c.logger.Warn("realtime connect failed", logging.Field("error", err))
		c.connectFailed(gen)
		return
	}

	c.mu.Lock()
	if !c.running || c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.policy.Reset()
	hooks = c.setStateLocked(Connected)
	c.mu.Unlock()

	c.logger.Info("realtime channel connected")
	c.emitState(hooks, Connected)
	go c.readLoop(conn, gen)
}

func (c *Channel) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, gen, err)
			return
		}
		c.dispatch(conn, data)
	}
}

func (c *Channel) dispatch(conn Conn, data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Debug("discarding malformed realtime frame", logging.Field("error", err), logging.Field("payload", logging.FormatHTTPPayload(data)))
		return
	}
	if event.Type == "" {
		c.logger.Debug("discarding realtime frame without type", logging.Field("payload", logging.FormatHTTPPayload(data)))
		return
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	listeners := make([]Listener, 0, len(c.listeners))
	for _, entry := range c.listeners {
		listeners = append(listeners, entry.fn)
	}
	c.mu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

func (c *Channel) dropped(conn Conn, gen uint64, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Stop already closed it.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	hooks := c.setStateLocked(Disconnected)
	c.mu.Unlock()

	_ = conn.Close()
	if websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn("realtime channel disconnected", logging.Field("error", cause))
	} else {
		c.logger.Info("realtime channel closed", logging.Field("reason", cause))
	}
	c.emitState(hooks, Disconnected)
	c.scheduleReconnect(gen)
}

func (c *Channel) connectFailed(gen uint64) {
	c.mu.Lock()
	if !c.running || c.gen != gen {
		c.mu.Unlock()
		return
	}
	hooks := c.setStateLocked(Disconnected)
	c.mu.Unlock()
	c.emitState(hooks, Disconnected)
	c.scheduleReconnect(gen)
}

func (c *Channel) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if !c.running || c.gen != gen {
		c.mu.Unlock()
		return
	}
	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		c.running = false
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		hooks := make([]func(State), 0, len(c.stateHooks))
		for _, entry := range c.stateHooks {
			hooks = append(hooks, entry.fn)
		}
		c.mu.Unlock()
		c.logger.Warn("realtime reconnect attempts exhausted")
		// Repeat Disconnected so observers can see Running() turned false.
		c.emitState(hooks, Disconnected)
		return
	}
	c.timer = c.scheduler.AfterFunc(delay, func() { c.connect(gen) })
	c.mu.Unlock()

	c.logger.Debug("realtime reconnect scheduled", logging.Field("delay", delay.Round(time.Millisecond).String()))
}

// setStateLocked records next and returns the hooks to notify, or nil when
// the state did not change.
func (c *Channel) setStateLocked(next State) []func(State) {
	if c.state == next {
		return nil
	}
	c.state = next
	hooks := make([]func(State), 0, len(c.stateHooks))
	for _, entry := range c.stateHooks {
		hooks = append(hooks, entry.fn)
	}
	return hooks
}

// emitState calls hooks with state unless the channel has already moved on
// to another state, so observers never see a stale state after a newer one.
// Hooks must not call Start or Stop.
func (c *Channel) emitState(hooks []func(State), state State) {
	if len(hooks) == 0 {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	current := c.state
	c.mu.Unlock()
	if current != state {
		c.logger.Debug("skipping stale realtime state notification",
			logging.Field("state", state.String()),
			logging.Field("current", current.String()),
		)
		return
	}
	for _, hook := range hooks {
		hook(state)
	}
}
