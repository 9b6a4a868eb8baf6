package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// staleLockAge is how old a lock file must be before it is taken over. The holder
// refreshes its lock well within this age.
const staleLockAge = 10 * time.Minute

// FileStore keeps each secret in its own file under a directory.
type FileStore struct {
	dir    string
	cipher *Cipher
	// refresh is how often a held lock file is touched.
	refresh time.Duration

	mu     sync.Mutex
	lockID string
	stop   chan struct{}
	done   chan struct{}
}

var (
	_ Store  = (*FileStore)(nil)
	_ Locker = (*FileStore)(nil)
)

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string, c *Cipher) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("secret directory is empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secret directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, cipher: c, refresh: staleLockAge / 5}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)+".key"), nil
}

func (s *FileStore) Load(_ context.Context, key string) (string, bool, error) {
	p, err := s.path(key)
	if err != nil {
		return "", false, err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read secret %s: %w", key, err)
	}
	plain, err := s.cipher.Decrypt(raw)
	if err != nil {
		return "", false, fmt.Errorf("secret %s: %w", key, err)
	}
	return strings.TrimRight(string(plain), "\n"), true, nil
}

// Save writes value atomically.
func (s *FileStore) Save(_ context.Context, key, value string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	data, err := s.cipher.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret %s: %w", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return fmt.Errorf("failed to create secret directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".secret-*")
	if err != nil {
		return fmt.Errorf("failed to write secret %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write secret %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write secret %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to write secret %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) lockPath() string { return filepath.Join(s.dir, ".lock") }

// Lock marks the directory as in use by this process until Unlock. A lock file is taken
// over only when it has not been refreshed for staleLockAge and its process is gone.
func (s *FileStore) Lock(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockPath := s.lockPath()
	if info, err := os.Stat(lockPath); err == nil {
		holder, _ := readLockFile(lockPath)
		if time.Since(info.ModTime()) <= staleLockAge || processAlive(holder.pid) {
			return fmt.Errorf("secret store is locked by another process (lock file: %s). "+
				"If this is an error, remove the lock file manually", lockPath)
		}
		_ = os.Remove(lockPath)
	}

	id := uuid.NewString()
	content := fmt.Sprintf("pid=%d\nid=%s\ntime=%s\n", os.Getpid(), id, time.Now().UTC().Format(time.RFC3339))
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	s.lockID = id
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.keepAlive(lockPath, id, s.stop, s.done)
	return nil
}

// keepAlive touches the lock file until stop is closed or the file no longer belongs to
// this store.
func (s *FileStore) keepAlive(lockPath, id string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			holder, err := readLockFile(lockPath)
			if err != nil || holder.id != id {
				return
			}
			now := time.Now()
			_ = os.Chtimes(lockPath, now, now)
		}
	}
}

// Unlock releases a lock taken by this store. A lock file written by someone else is
// never removed.
func (s *FileStore) Unlock(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop, s.done = nil, nil
	}
	id := s.lockID
	s.lockID = ""

	if id == "" {
		return nil
	}
	holder, err := readLockFile(s.lockPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lock file: %w", err)
	}
	if holder.id != id {
		return fmt.Errorf("lock file %s was taken over by process %d", s.lockPath(), holder.pid)
	}
	if err := os.Remove(s.lockPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

type lockHolder struct {
	pid int
	id  string
}

func readLockFile(path string) (lockHolder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return lockHolder{}, err
	}
	var h lockHolder
	for _, line := range strings.Split(string(raw), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "pid":
			h.pid, _ = strconv.Atoi(v)
		case "id":
			h.id = v
		}
	}
	return h, nil
}
