package flag

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ashita-ai/mission-control/internal/model"
)

// Event is a change of the flag file.
type Event struct {
	Status model.RunStatus
	Err    error
}

// Watcher reports the flag file's run status whenever it changes. The
// parent directory is watched so rename-based writes are seen.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	events   chan Event
	debounce time.Duration
}

// NewWatcher creates a watcher for the flag file at path.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("flag: resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("flag: create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		events:   make(chan Event, 10),
		debounce: 100 * time.Millisecond,
	}, nil
}

// Events returns the channel of flag changes. It is closed when the
// watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins watching until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("flag: watch %s: %w", dir, err)
	}
	go w.run(ctx)
	return nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.events)

	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				pending = time.Now()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.send(ctx, Event{Err: fmt.Errorf("flag: %s removed", w.path)})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.send(ctx, Event{Err: err})

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			st, err := ReadFile(w.path)
			w.send(ctx, Event{Status: st, Err: err})
		}
	}
}

func (w *Watcher) send(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
