package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	defaultLogFileMaxBytes = 5 * 1024 * 1024
	defaultLogFilesKept    = 20
	logFilePrefix          = "dashboard-"
	logFileSuffix          = ".jsonl"
)

func DefaultLogDirPath() (string, error) {
	root, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "invoicedash", "logs"), nil
}

// rotatingFile is an io.Writer over a series of size-capped files named
// dashboard-<start>-<part>.jsonl. Each Write call lands whole in one file.
type rotatingFile struct {
	mu       sync.Mutex
	dir      string
	started  string
	maxBytes int64
	keep     int
	part     int
	file     *os.File
	size     int64
	closed   bool
}

func openRotatingFile(dir string, maxBytes int64) (*rotatingFile, error) {
	if maxBytes <= 0 {
		maxBytes = defaultLogFileMaxBytes
	}
	f := &rotatingFile{
		dir:      dir,
		started:  time.Now().UTC().Format("20060102-150405"),
		maxBytes: maxBytes,
		keep:     defaultLogFilesKept,
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextFileLocked(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *rotatingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	if f.file == nil || (f.size > 0 && f.size+int64(len(p)) > f.maxBytes) {
		if err := f.nextFileLocked(); err != nil {
			return 0, err
		}
	}
	n, err := f.file.Write(p)
	f.size += int64(n)
	return n, err
}

func (f *rotatingFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.size = 0
	return err
}

func (f *rotatingFile) nextFileLocked() error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if f.file != nil {
		_ = f.file.Close()
		f.file = nil
		f.size = 0
	}
	f.part++
	name := fmt.Sprintf("%s%s-%03d%s", logFilePrefix, f.started, f.part, logFileSuffix)
	file, err := os.OpenFile(filepath.Join(f.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	f.file = file
	f.size = info.Size()
	f.pruneLocked()
	return nil
}

// pruneLocked keeps the newest files; names sort by start time.
func (f *rotatingFile) pruneLocked() {
	if f.keep <= 0 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(f.dir, logFilePrefix+"*"+logFileSuffix))
	if err != nil || len(matches) <= f.keep {
		return
	}
	sort.Strings(matches)
	for _, path := range matches[:len(matches)-f.keep] {
		_ = os.Remove(path)
	}
}

func jsonFieldValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case error:
		return v.Error()
	case slog.Level:
		return v.String()
	case time.Duration:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return value
	}
}
