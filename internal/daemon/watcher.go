// Package daemon provides file system watching over the venue cache.
//
// The watch command uses it to re-project the RDF export whenever the
// sync engine (possibly running in another process) rewrites cached
// records.
package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ortler/ortler/internal/cache"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new record was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing record was modified.
	OpModify
	// OpDelete indicates a record was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// CacheEvent represents a change to one cached record.
type CacheEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	// Kind is the record namespace the file belongs to.
	Kind cache.Kind
	// Key is the record key, or the side-table filename for "_" files.
	Key string
	// Op is the operation that occurred.
	Op EventOp
}

// Watched record directories under the cache root. metadata.json and
// official_reviews.json live at the root itself.
var watchedKinds = []cache.Kind{
	cache.KindProfile,
	cache.KindSubmission,
	cache.KindGroup,
	cache.KindAssignment,
	cache.KindAIReview,
	cache.KindTask,
}

// Watcher watches the cache directory tree for record changes. It uses
// fsnotify for cross-platform file system event monitoring.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan CacheEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewWatcher creates a new Watcher instance. The watcher must be started
// with Start() before it will emit events.
func NewWatcher() (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher: watcher,
		events:  make(chan CacheEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the cache directory for changes. The cache root
// and every kind directory that exists are monitored; kind directories
// created later are picked up when the root emits their create event.
func (w *Watcher) Start(cacheDir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	abs, err := filepath.Abs(cacheDir)
	if err != nil {
		return fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	w.dir = abs

	if err := w.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch cache directory %s: %w", abs, err)
	}
	for _, kind := range watchedKinds {
		dir := filepath.Join(abs, string(kind))
		// Missing kind directories are fine; they appear on first sync.
		if err := w.watcher.Add(dir); err != nil {
			continue
		}
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel that emits CacheEvent notifications.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Events() <-chan CacheEvent {
	return w.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning reports whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// A newly created kind directory needs its own watch.
			if event.Has(fsnotify.Create) && w.isKindDir(event.Name) {
				_ = w.watcher.Add(event.Name)
				continue
			}
			if cacheEvent, ok := w.convertEvent(event); ok {
				select {
				case w.events <- cacheEvent:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *Watcher) isKindDir(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, kind := range watchedKinds {
		if abs == filepath.Join(w.dir, string(kind)) {
			return true
		}
	}
	return false
}

// convertEvent converts an fsnotify event to a CacheEvent. Temp files
// from the store's atomic writes are ignored; only the rename into place
// counts.
func (w *Watcher) convertEvent(event fsnotify.Event) (CacheEvent, bool) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
		return CacheEvent{}, false
	}

	kind, ok := w.kindOf(event.Name)
	if !ok {
		return CacheEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// A rename of the old path reads as delete; the new path
		// triggers its own create.
		op = OpDelete
	default:
		return CacheEvent{}, false
	}

	key := strings.TrimSuffix(name, ".json")
	return CacheEvent{
		Path: event.Name,
		Kind: kind,
		Key:  key,
		Op:   op,
	}, true
}

func (w *Watcher) kindOf(path string) (cache.Kind, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	dir := filepath.Dir(abs)
	if dir == w.dir {
		// Root-level aggregates (metadata.json, official_reviews.json).
		return "", true
	}
	for _, kind := range watchedKinds {
		if dir == filepath.Join(w.dir, string(kind)) {
			return kind, true
		}
	}
	return "", false
}

// Debounce coalesces bursts of cache events into single notifications.
// The sync engine rewrites many records in quick succession; consumers
// like the export loop only care that something changed.
func Debounce(events <-chan CacheEvent, window time.Duration) <-chan []CacheEvent {
	out := make(chan []CacheEvent)
	go func() {
		defer close(out)
		var pending []CacheEvent
		var timer *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case e, ok := <-events:
				if !ok {
					if len(pending) > 0 {
						out <- pending
					}
					return
				}
				pending = append(pending, e)
				if timer == nil {
					timer = time.NewTimer(window)
					fire = timer.C
				} else {
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(window)
				}

			case <-fire:
				out <- pending
				pending = nil
				timer = nil
				fire = nil
			}
		}
	}()
	return out
}
