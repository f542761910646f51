package tools

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watcher keeps the discovered catalog fresh: an optional fsnotify
// watch over the discovery roots triggers debounced rescans, and an
// optional interval runs autoscans regardless of events. Manual Scan
// calls remain available alongside either mechanism.
type Watcher struct {
	discovery *Discovery
	interval  time.Duration
	watch     bool
	logger    *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timer   *time.Timer
	done    chan struct{}
	stopped chan struct{}
	started bool
}

// NewWatcher wires rescan triggers for a discovery pass. interval <= 0
// disables autoscan; watch false disables the filesystem watch.
func NewWatcher(discovery *Discovery, interval time.Duration, watch bool, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		discovery: discovery,
		interval:  interval,
		watch:     watch,
		logger:    logger.With("component", "tools"),
	}
}

// Start runs the initial scan and launches the background triggers.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.done = make(chan struct{})
	w.stopped = make(chan struct{})
	w.mu.Unlock()

	if _, err := w.discovery.Scan(); err != nil {
		w.logger.Warn("initial discovery scan failed", "error", err)
	}

	if w.watch {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn("filesystem watch unavailable", "error", err)
		} else {
			w.mu.Lock()
			w.fsw = fsw
			w.mu.Unlock()
			w.addWatches(fsw)
			go w.watchLoop(fsw)
		}
	}

	go w.autoscanLoop()
	return nil
}

// Stop halts background triggers and waits for the loops to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	close(w.done)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	<-w.stopped
}

// addWatches registers the roots and their subdirectories.
func (w *Watcher) addWatches(fsw *fsnotify.Watcher) {
	for _, root := range w.discovery.Roots() {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}
		_ = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if entry.IsDir() {
				if werr := fsw.Add(path); werr != nil {
					w.logger.Warn("watch add failed", "path", path, "error", werr)
				}
			}
			return nil
		})
	}
}

func (w *Watcher) watchLoop(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = fsw.Add(event.Name)
				}
			}
			w.scheduleScan()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("discovery watch error", "error", err)
		}
	}
}

// scheduleScan debounces bursts of filesystem events into one rescan.
func (w *Watcher) scheduleScan() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		if _, err := w.discovery.Scan(); err != nil {
			w.logger.Warn("discovery rescan failed", "error", err)
		}
	})
}

func (w *Watcher) autoscanLoop() {
	defer close(w.stopped)
	if w.interval <= 0 {
		<-w.done
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := w.discovery.Scan(); err != nil {
				w.logger.Warn("discovery autoscan failed", "error", err)
			}
		}
	}
}
