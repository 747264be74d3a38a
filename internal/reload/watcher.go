// Package reload applies configuration changes to a running ragchat
// process, triggered by SIGHUP, the admin API, or a polled config file.
package reload

import (
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// PollInterval is how often to check for file changes.
	// Defaults to 5 seconds if zero.
	PollInterval time.Duration
}

func (c WatcherConfig) pollIntervalOrDefault() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// EventType describes the type of file change event.
type EventType string

const (
	// EventModified indicates the config file was modified.
	EventModified EventType = "modified"
)

// Event represents a file change notification.
type Event struct {
	Type       EventType
	ConfigPath string
}

// Watcher polls a configuration file and reports content changes. Editors
// that rewrite a file without changing it do not produce events.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins polling the config file for changes. Safe to call multiple
// times; only the first call starts the goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.poll(ctx)
	})
}

// Events returns the channel of file change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher and waits for the poll goroutine to exit. Safe to
// call multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.pollIntervalOrDefault())
	defer ticker.Stop()

	last, _ := w.fingerprint(fingerprint{})

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			current, ok := w.fingerprint(last)
			if !ok || current.sum == last.sum {
				last.modTime = current.modTime
				continue
			}
			last = current
			select {
			case w.events <- Event{Type: EventModified, ConfigPath: w.cfg.ConfigPath}:
			default:
				// A reload is already pending.
			}
		}
	}
}

type fingerprint struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// fingerprint hashes the config file when its size or modification time
// differs from prev. ok is false when the file cannot be read.
func (w *Watcher) fingerprint(prev fingerprint) (fingerprint, bool) {
	info, err := os.Stat(w.cfg.ConfigPath)
	if err != nil {
		return prev, false
	}
	fp := fingerprint{modTime: info.ModTime(), size: info.Size(), sum: prev.sum}
	if fp.modTime.Equal(prev.modTime) && fp.size == prev.size {
		return fp, true
	}
	raw, err := os.ReadFile(w.cfg.ConfigPath)
	if err != nil {
		return prev, false
	}
	fp.sum = sha256.Sum256(raw)
	return fp, true
}
