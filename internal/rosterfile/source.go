package rosterfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/roster"
)

const defaultDebounce = 250 * time.Millisecond

// Source feeds a roster registry from the YAML files in a directory and
// keeps it current while the files change.
type Source struct {
	dir      string
	reg      *roster.Registry
	log      *zap.Logger
	debounce time.Duration

	mu       sync.Mutex
	accounts map[string]string // file -> account ID
	timers   map[string]*time.Timer

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a source for dir. A zero debounce uses a short default.
func New(dir string, reg *roster.Registry, logger *zap.Logger, debounce time.Duration) *Source {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Source{
		dir:      dir,
		reg:      reg,
		log:      logger.Named("rosterfile"),
		debounce: debounce,
		accounts: make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}
}

func isRosterFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadAll applies every roster file in the directory. Files that fail to
// load are skipped and reported together.
func (s *Source) LoadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read roster dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isRosterFile(e.Name()) {
			paths = append(paths, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var errs []error
	for _, p := range paths {
		if err := s.Sync(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sync brings the registry in line with one file. A missing file removes
// the account it used to describe.
func (s *Source) Sync(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		if id, ok := s.accounts[path]; ok {
			delete(s.accounts, path)
			s.reg.RemoveAccount(id)
			s.log.Info("roster file removed", zap.String("file", path), zap.String("account", id))
		}
		return nil
	}
	if err != nil {
		return err
	}

	if prev, ok := s.accounts[path]; ok && prev != f.Account.ID {
		s.reg.RemoveAccount(prev)
	}
	s.accounts[path] = f.Account.ID

	dir := filepath.Dir(path)
	acc := f.RosterAccount(dir)
	s.reg.UpsertAccount(acc)
	if acc.Connected && acc.HasRoster {
		s.reg.SetRoster(acc.ID, f.RosterContacts(dir))
	}
	s.log.Debug("roster file applied",
		zap.String("file", path),
		zap.String("account", acc.ID),
		zap.Int("contacts", len(f.Contacts)))
	return nil
}

// Start loads the directory and watches it for changes until Stop.
func (s *Source) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create roster dir: %w", err)
	}
	if err := s.LoadAll(); err != nil {
		s.log.Warn("some roster files failed to load", zap.Error(err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.mu.Lock()
	if s.timers == nil {
		s.timers = make(map[string]*time.Timer)
	}
	s.mu.Unlock()
	s.watcher = watcher
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.watch(ctx)
	s.log.Info("watching roster files", zap.String("dir", s.dir))
	return nil
}

func (s *Source) watch(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if isRosterFile(evt.Name) && !evt.Has(fsnotify.Chmod) {
				s.schedule(evt.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("roster watcher error", zap.Error(err))
		}
	}
}

// schedule coalesces bursts of writes to one file into a single Sync.
func (s *Source) schedule(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers == nil {
		return
	}
	if t, ok := s.timers[path]; ok {
		t.Stop()
	}
	s.timers[path] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.timers, path)
		s.mu.Unlock()
		if err := s.Sync(path); err != nil {
			s.log.Warn("failed to apply roster file", zap.String("file", path), zap.Error(err))
		}
	})
}

// Stop ends watching. Accounts already fed to the registry stay there.
func (s *Source) Stop() {
	if s.watcher == nil {
		return
	}
	close(s.done)
	s.watcher.Close()
	s.wg.Wait()

	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.mu.Unlock()
	s.watcher = nil
}
