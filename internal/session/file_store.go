package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"invoicedash/internal/logging"
)

// FileStore keeps the pair in memory and mirrors it to a 0600 JSON file so
// other processes (a second terminal, a login script) share one session.
type FileStore struct {
	path     string
	lockPath string
	logger   *logging.Logger

	mu   sync.RWMutex
	pair Pair
}

func OpenFileStore(path string, logger *logging.Logger) (*FileStore, error) {
	if logger == nil {
		panic("session.OpenFileStore: logger must not be nil")
	}
	if path == "" {
		return nil, errors.New("credentials file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create credentials directory: %w", err)
	}
	s := &FileStore{
		path:     path,
		lockPath: path + ".lock",
		logger:   logger.Scope("credentials"),
	}
	pair, err := s.readFile()
	if err != nil {
		return nil, err
	}
	s.pair = pair
	return s, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Credentials() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

func (s *FileStore) Set(pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeFile(pair); err != nil {
		return err
	}
	s.pair = pair
	return nil
}

func (s *FileStore) SetAccessToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.pair
	next.AccessToken = token
	if err := s.writeFile(next); err != nil {
		return err
	}
	s.pair = next
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = Pair{}
	lock := s.fileLock()
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock credentials file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials file: %w", err)
	}
	return nil
}

// Reload re-reads the file and reports whether the pair changed.
func (s *FileStore) Reload() (Pair, bool, error) {
	pair, err := s.readFile()
	if err != nil {
		return Pair{}, false, err
	}
	s.mu.Lock()
	changed := pair != s.pair
	s.pair = pair
	s.mu.Unlock()
	return pair, changed, nil
}

// Watch reloads the pair whenever the file is written, replaced or removed
// by another process, and calls onChange with the new pair. It blocks until
// ctx is done.
func (s *FileStore) Watch(ctx context.Context, onChange func(Pair)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic renames replace the file inode.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch credentials directory %s: %w", dir, err)
	}
	s.logger.Debug("watching credentials file", logging.Field("path", s.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pair, changed, reloadErr := s.Reload()
			if reloadErr != nil {
				s.logger.Warn("failed to reload credentials file", logging.Field("error", reloadErr))
				continue
			}
			if !changed {
				continue
			}
			s.logger.Debug("credentials changed on disk",
				logging.Field("op", event.Op.String()),
				logging.Field("signed_in", !pair.Empty()),
			)
			if onChange != nil {
				onChange(pair)
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("credentials watcher error", logging.Field("error", watchErr))
		}
	}
}

// fileLock returns a fresh handle each call; flock locks belong to the open
// file description, so a shared handle would let a reader release a writer's lock.
func (s *FileStore) fileLock() *flock.Flock {
	return flock.New(s.lockPath)
}

func (s *FileStore) readFile() (Pair, error) {
	lock := s.fileLock()
	if err := lock.RLock(); err != nil {
		return Pair{}, fmt.Errorf("lock credentials file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Pair{}, nil
	}
	if err != nil {
		return Pair{}, fmt.Errorf("read credentials file: %w", err)
	}
	var pair Pair
	if err := json.Unmarshal(data, &pair); err != nil {
		return Pair{}, fmt.Errorf("decode credentials file: %w", err)
	}
	return pair, nil
}

func (s *FileStore) writeFile(pair Pair) error {
	payload, err := json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return err
	}
	lock := s.fileLock()
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock credentials file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}
