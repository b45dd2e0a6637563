package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"watchrun/internal/log"

	"github.com/fsnotify/fsnotify"
)

// eventBuffer absorbs bursts between the OS thread and the main loop.
const eventBuffer = 256

// Watcher monitors paths for changes using fsnotify. fsnotify watches a
// single directory at a time, so directory roots are walked and every
// subdirectory registered, and directories created while watching are
// registered as they appear.
type Watcher struct {
	// Roots registered via Add
	roots []string

	// Channel delivering change events to the main loop
	eventChan chan Event

	// Channel to signal stop
	stopChan chan struct{}

	// Closed by the event goroutine on exit; Stop waits for it before
	// closing eventChan so the goroutine never sends on a closed channel
	done chan struct{}

	// fsnotify watcher instance
	fsWatcher *fsnotify.Watcher

	// Lock for running state and the roots list
	mutex sync.RWMutex

	// Whether the watcher is running
	running bool
}

// New creates a new watcher backed by fsnotify
func New() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		roots:     []string{},
		eventChan: make(chan Event, eventBuffer),
		stopChan:  make(chan struct{}),
		fsWatcher: fsWatcher,
	}, nil
}

// Add registers a file or directory to watch. Directories are watched
// recursively. The path must exist; a missing or unreadable path is a
// configuration error and the caller must not start the loop.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("cannot watch %s: %w", path, err)
	}

	if info.IsDir() {
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			return w.fsWatcher.Add(p)
		})
		if err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
	} else if err := w.fsWatcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w.mutex.Lock()
	w.roots = append(w.roots, abs)
	w.mutex.Unlock()

	log.LogWithFields(log.F("path", abs)).Debug("Watching path")
	return nil
}

// Events returns the channel that delivers change events
func (w *Watcher) Events() <-chan Event {
	return w.eventChan
}

// Start begins delivering events on the Events channel
func (w *Watcher) Start() error {
	w.mutex.Lock()
	if w.running {
		w.mutex.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	w.mutex.Unlock()

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-w.fsWatcher.Events:
				if !ok {
					return
				}

				// New directories need their own watch to keep the
				// tree coverage recursive
				if event.Op.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := w.fsWatcher.Add(event.Name); err != nil {
							log.LogWithFields(log.F("path", event.Name), log.F("error", err)).Warn("Could not watch new directory")
						}
					}
				}

				ev := Event{
					Op:    event.Op,
					Paths: []string{event.Name},
				}

				// Send non-blockingly so a stalled consumer cannot wedge
				// the OS event thread; drops are reported, never silent
				select {
				case w.eventChan <- ev:
				default:
					log.LogWithFields(log.F("path", event.Name)).Warn("Event channel is full, dropped event")
				}

			case err, ok := <-w.fsWatcher.Errors:
				if !ok {
					return
				}
				log.LogWithFields(log.F("error", err)).Error("fsnotify watcher error")

			case <-w.stopChan:
				return
			}
		}
	}()

	return nil
}

// Stop halts watching and closes the Events channel. The debounce loop
// observes the closed channel and reports it to its caller.
func (w *Watcher) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.running {
		return
	}

	close(w.stopChan)

	if err := w.fsWatcher.Close(); err != nil {
		log.LogWithFields(log.F("error", err)).Error("Error closing fsnotify watcher")
	}

	<-w.done
	w.running = false
	close(w.eventChan)
}

// Roots returns the list of registered watch roots
func (w *Watcher) Roots() []string {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	rootsCopy := make([]string, len(w.roots))
	copy(rootsCopy, w.roots)
	return rootsCopy
}
