package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const fileExt = ".json"

// FileKV stores one file per key in a directory. Writes are atomic
// (temp file + rename). Other processes sharing the directory act as other
// tabs: their writes reach OnExternalChange subscribers via fsnotify.
type FileKV struct {
	dir  string
	mu   sync.Mutex
	subs subscribers

	watchOnce sync.Once
	watcher   *fsnotify.Watcher
	done      chan struct{}

	// Names of files this process wrote and has not yet seen an event for.
	own map[string]int
}

// NewFileKV opens (creating if needed) a directory-backed store.
func NewFileKV(dir string) (*FileKV, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileKV{
		dir:  dir,
		done: make(chan struct{}),
		own:  make(map[string]int),
	}, nil
}

// Dir returns the backing directory.
func (f *FileKV) Dir() string {
	return f.dir
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileExt)
}

func keyFromName(name string) (string, bool) {
	if !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
	if err != nil {
		return "", false
	}
	return key, true
}

func (f *FileKV) Get(key string) (string, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), nil
}

func (f *FileKV) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}

	target := f.path(key)
	f.markOwn(target, 1)
	if err := os.Rename(tmpName, target); err != nil {
		f.markOwn(target, -1)
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.path(key)
	f.markOwn(target, 1)
	if err := os.Remove(target); err != nil {
		f.markOwn(target, -1)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Keys(prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list storage dir: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, ok := keyFromName(e.Name())
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// OnExternalChange subscribes to changes made by other processes. The
// directory watcher starts on the first subscription.
func (f *FileKV) OnExternalChange(prefix string, fn func(string)) func() {
	f.watchOnce.Do(func() {
		if err := f.startWatcher(); err != nil {
			slog.Warn("file storage watcher unavailable", "dir", f.dir, "error", err)
		}
	})
	return f.subs.add(prefix, fn)
}

func (f *FileKV) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(f.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", f.dir, err)
	}
	f.mu.Lock()
	f.watcher = w
	f.mu.Unlock()
	go f.watchLoop(w)
	return nil
}

func (f *FileKV) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(event.Name)
			key, ok := keyFromName(name)
			if !ok || f.consumeOwn(name) {
				continue
			}
			f.subs.notify(key)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("file storage watcher error", "dir", f.dir, "error", err)
		}
	}
}

// markOwn adjusts the pending self-write count for path. Must hold f.mu.
func (f *FileKV) markOwn(path string, delta int) {
	if f.watcher == nil {
		return
	}
	name := filepath.Base(path)
	f.own[name] += delta
	if f.own[name] <= 0 {
		delete(f.own, name)
	}
}

// consumeOwn reports whether the event was caused by this process.
func (f *FileKV) consumeOwn(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.own[name] > 0 {
		f.own[name]--
		if f.own[name] == 0 {
			delete(f.own, name)
		}
		return true
	}
	return false
}

// Close stops the directory watcher.
func (f *FileKV) Close() error {
	select {
	case <-f.done:
		return nil
	default:
	}
	close(f.done)
	f.mu.Lock()
	w := f.watcher
	f.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}
