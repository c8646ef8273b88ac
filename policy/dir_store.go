package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce waits for editors to finish writing before a directory is rescanned
const reloadDebounce = 250 * time.Millisecond

// DirStore implements Store over a directory of YAML policy documents.
// Every *.yaml and *.yml file is parsed on Reload; files that fail to parse are
// logged and skipped so one bad document cannot take the others down.
type DirStore struct {
	dir    string
	opts   LoadOptions
	logger *slog.Logger

	mu       sync.RWMutex
	mem      *InMemoryStore
	files    map[versionKey]string
	onChange []func()
}

// NewDirStore creates a store over dir and loads it
func NewDirStore(dir string, opts LoadOptions) (*DirStore, error) {
	s := &DirStore{
		dir:    dir,
		opts:   opts,
		logger: opts.logger(),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// OnChange registers a callback run after every reload triggered by Watch
func (s *DirStore) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Reload rescans the directory and atomically replaces the loaded policies
func (s *DirStore) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read policy directory: %w", err)
	}

	mem := NewInMemoryStore()
	files := make(map[versionKey]string)

	for _, entry := range entries {
		if entry.IsDir() || !isPolicyFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		p, err := LoadFile(path, s.opts)
		if err != nil {
			s.logger.Warn("skipping policy file", "path", path, "error", err)
			continue
		}
		if err := mem.Put(context.Background(), p); err != nil {
			s.logger.Warn("skipping policy file", "path", path, "error", err)
			continue
		}
		files[versionKey{p.PolicyID, p.Version}] = path
	}

	s.mu.Lock()
	s.mem = mem
	s.files = files
	s.mu.Unlock()

	s.logger.Info("policy directory loaded", "dir", s.dir, "policies", len(files))
	return nil
}

func (s *DirStore) current() *InMemoryStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mem
}

// Put writes the policy's source document to <policy_id>_<version>.yaml
func (s *DirStore) Put(ctx context.Context, p *Policy) error {
	if p == nil {
		return fmt.Errorf("policy cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey{p.PolicyID, p.Version}
	if existing, err := s.mem.Get(ctx, p.PolicyID, p.Version); err == nil {
		if existing.Hash() != p.Hash() {
			return fmt.Errorf("policy %s %s: %w", p.PolicyID, p.Version, ErrImmutable)
		}
		return nil
	}

	path := filepath.Join(s.dir, fileName(p.PolicyID, p.Version))
	if err := os.WriteFile(path, p.Document(), 0o644); err != nil {
		return fmt.Errorf("failed to write policy file: %w", err)
	}

	if err := s.mem.Put(ctx, p); err != nil {
		return err
	}
	s.files[key] = path
	return nil
}

// Get retrieves a policy version
func (s *DirStore) Get(ctx context.Context, policyID, version string) (*Policy, error) {
	return s.current().Get(ctx, policyID, version)
}

// Latest retrieves the highest version of a policy
func (s *DirStore) Latest(ctx context.Context, policyID string) (*Policy, error) {
	return s.current().Latest(ctx, policyID)
}

// List returns all loaded policy versions
func (s *DirStore) List(ctx context.Context) ([]Ref, error) {
	return s.current().List(ctx)
}

// Delete removes the policy file and its loaded version
func (s *DirStore) Delete(ctx context.Context, policyID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey{policyID, version}
	path, ok := s.files[key]
	if !ok {
		return fmt.Errorf("policy %s %s: %w", policyID, version, ErrNotFound)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove policy file: %w", err)
	}
	delete(s.files, key)
	return s.mem.Delete(ctx, policyID, version)
}

// Watch reloads the directory whenever a policy file changes. Blocks until ctx is cancelled.
func (s *DirStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", s.dir, err)
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPolicyFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, s.reloadAndNotify)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("policy watcher error", "error", err)
		}
	}
}

func (s *DirStore) reloadAndNotify() {
	if err := s.Reload(); err != nil {
		s.logger.Error("policy hot-reload failed", "dir", s.dir, "error", err)
		return
	}

	s.mu.RLock()
	callbacks := append([]func(){}, s.onChange...)
	s.mu.RUnlock()

	for _, fn := range callbacks {
		fn()
	}
}

func isPolicyFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func fileName(policyID, version string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			if r == '/' || r == '\\' || r == os.PathSeparator {
				return '_'
			}
			return r
		}, s)
	}
	return clean(policyID) + "_" + clean(version) + ".yaml"
}
