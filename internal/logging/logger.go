package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is a cheap handle onto a shared output core. Scoped loggers tag
// their events with a component name and share the debug toggle, the file
// sink and the subscribers of their parent.
type Logger struct {
	core      *core
	component string
}

type core struct {
	debugEnabled atomic.Bool
	terminalOut  atomic.Bool
	pretty       bool
	out          io.Writer

	mu          sync.RWMutex
	file        *rotatingFile
	persist     slog.Handler
	nextID      int
	subscribers map[int]func(Event)
}

type Event struct {
	Time      time.Time
	Level     slog.Level
	Component string
	Message   string
	Fields    map[string]any
}

func New(debug bool) *Logger {
	c := &core{
		pretty:      shouldPrettyPrint(),
		out:         os.Stderr,
		subscribers: map[int]func(Event){},
	}
	c.debugEnabled.Store(debug)
	c.terminalOut.Store(true)
	return &Logger{core: c}
}

// Discard returns a logger that writes nowhere; tests use it.
func Discard() *Logger {
	logger := New(false)
	logger.core.terminalOut.Store(false)
	logger.core.out = io.Discard
	return logger
}

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Scope returns a logger whose events carry component; nested scopes are
// joined with a dot.
func (l *Logger) Scope(component string) *Logger {
	if l == nil {
		return nil
	}
	if l.component != "" {
		component = l.component + "." + component
	}
	return &Logger{core: l.core, component: component}
}

func (l *Logger) Component() string {
	if l == nil {
		return ""
	}
	return l.component
}

func (l *Logger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	// Debug lines always reach the file sink; the toggle only gates display.
	l.log(slog.LevelDebug, msg, fields, l.core.debugEnabled.Load())
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelInfo, msg, fields, true)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelWarn, msg, fields, true)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelError, msg, fields, true)
}

func (l *Logger) SetDebugEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.core.debugEnabled.Store(enabled)
}

func (l *Logger) DebugEnabled() bool {
	if l == nil {
		return false
	}
	return l.core.debugEnabled.Load()
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.core.terminalOut.Store(enabled)
}

// EnableFilePersistence starts writing every event, debug included, as JSON
// lines under DefaultLogDirPath. maxBytes <= 0 selects the default file size.
func (l *Logger) EnableFilePersistence(maxBytes int64) error {
	if l == nil {
		return nil
	}
	dir, err := DefaultLogDirPath()
	if err != nil {
		return err
	}
	file, err := openRotatingFile(dir, maxBytes)
	if err != nil {
		return err
	}
	l.core.attachFile(file)
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.core.attachFile(nil)
}

// Subscribe registers fn for every published event and returns a function
// that removes it again.
func (l *Logger) Subscribe(fn func(Event)) func() {
	if l == nil {
		panic("logging.Logger.Subscribe: logger must not be nil")
	}
	if fn == nil {
		panic("logging.Logger.Subscribe: callback must not be nil")
	}
	c := l.core
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// attachFile swaps the persistence target and closes the previous one.
func (c *core) attachFile(file *rotatingFile) error {
	var handler slog.Handler
	if file != nil {
		handler = slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	c.mu.Lock()
	old := c.file
	c.file = file
	c.persist = handler
	c.mu.Unlock()
	if old == nil {
		return nil
	}
	return old.Close()
}

func (l *Logger) log(level slog.Level, msg string, attrs []slog.Attr, publish bool) {
	event := Event{
		Time:      time.Now(),
		Level:     level,
		Component: l.component,
		Message:   msg,
		Fields:    attrsToMap(attrs),
	}
	c := l.core
	c.mu.RLock()
	persist := c.persist
	callbacks := make([]func(Event), 0, len(c.subscribers))
	if publish {
		for _, cb := range c.subscribers {
			callbacks = append(callbacks, cb)
		}
	}
	c.mu.RUnlock()

	if persist != nil {
		_ = persist.Handle(context.Background(), persistRecord(event))
	}
	if !publish {
		return
	}
	if c.terminalOut.Load() {
		c.emit(event)
	}
	for _, cb := range callbacks {
		cb(event)
	}
}

func (c *core) emit(event Event) {
	if c.pretty {
		_, _ = io.WriteString(c.out, FormatEventANSI(event))
		return
	}
	_, _ = io.WriteString(c.out, FormatEventLine(event))
}

// persistRecord converts an already redacted event into a slog record with
// its fields in key order.
func persistRecord(event Event) slog.Record {
	record := slog.NewRecord(event.Time, event.Level, event.Message, 0)
	if event.Component != "" {
		record.AddAttrs(slog.String("component", event.Component))
	}
	keys := make([]string, 0, len(event.Fields))
	for key := range event.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		record.AddAttrs(slog.Any(key, jsonFieldValue(event.Fields[key])))
	}
	return record
}
