// Package watcher is the tester-side queue loop: it observes the queue
// directory for fully written bundles, extracts each into an ephemeral
// workspace, hands the workspace to the commander, and reclaims it.
//
// There is no portable "closed after write" notification, so arrival is
// detected in two layers: filesystem events (with a periodic directory
// scan as fallback) nominate candidates, and a candidate is processed only
// after its size and mtime have been stable for a settle interval. The
// storer additionally uploads under a temporary name and renames into
// place, so a visible bundle is normally already complete.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/vmcheck/courier/internal/notify"
	"github.com/vmcheck/courier/internal/ziputil"
)

// Commander runs the external test-execution program against an extracted
// bundle workspace.
type Commander func(ctx context.Context, workspace string) error

type Options struct {
	QueueDir string
	TmpDir   string

	// Settle is how long a file's size and mtime must stay unchanged
	// before it is considered fully written.
	Settle time.Duration

	// Poll is the directory scan interval; it also drives settle checks.
	Poll time.Duration

	// DisableEvents forces pure polling on platforms without a usable
	// native watch facility.
	DisableEvents bool
}

type candidate struct {
	size    int64
	modTime time.Time
	stable  time.Time
}

type Watcher struct {
	opts      Options
	commander Commander
	sink      notify.Sink
	log       *slog.Logger

	processed mapset.Set[string]
	pending   map[string]*candidate
}

func New(opts Options, commander Commander, sink notify.Sink, log *slog.Logger) *Watcher {
	if opts.Settle == 0 {
		opts.Settle = 2 * time.Second
	}
	if opts.Poll == 0 {
		opts.Poll = time.Second
	}
	return &Watcher{
		opts:      opts,
		commander: commander,
		sink:      sink,
		log:       log,
		processed: mapset.NewSet[string](),
		pending:   make(map[string]*candidate),
	}
}

// Run watches the queue directory until ctx is cancelled. Bundles are
// processed one at a time, in the order they become stable.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.opts.QueueDir, 0755); err != nil {
		return fmt.Errorf("failed to create queue dir: %w", err)
	}
	if err := os.MkdirAll(w.opts.TmpDir, 0755); err != nil {
		return fmt.Errorf("failed to create tmp dir: %w", err)
	}

	var events chan fsnotify.Event
	if !w.opts.DisableEvents {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			w.log.Warn("file events unavailable, polling only", slog.Any("error", err))
		} else {
			defer fsw.Close()
			if err := fsw.Add(w.opts.QueueDir); err != nil {
				return fmt.Errorf("failed to watch queue dir: %w", err)
			}
			events = make(chan fsnotify.Event)
			go func() {
				defer close(events)
				for {
					select {
					case ev, ok := <-fsw.Events:
						if !ok {
							return
						}
						events <- ev
					case err, ok := <-fsw.Errors:
						if !ok {
							return
						}
						w.log.Warn("watch error", slog.Any("error", err))
					}
				}
			}()
		}
	}

	w.log.Info("watching queue", slog.String("dir", w.opts.QueueDir))
	ticker := time.NewTicker(w.opts.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.nominate(filepath.Base(ev.Name))
			}
		case <-ticker.C:
			w.scan()
			for _, name := range w.settled() {
				w.process(ctx, name)
			}
		}
	}
}

// nominate marks a queue file as a processing candidate.
func (w *Watcher) nominate(name string) {
	if !isBundleName(name) || w.processed.Contains(name) {
		return
	}
	if _, ok := w.pending[name]; ok {
		return
	}
	w.pending[name] = &candidate{}
}

func isBundleName(name string) bool {
	// In-flight uploads use dot-prefixed temporary names.
	return strings.HasSuffix(name, ".zip") && !strings.HasPrefix(name, ".")
}

// scan nominates queue entries the event stream may have missed.
func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.opts.QueueDir)
	if err != nil {
		w.log.Warn("failed to scan queue dir", slog.Any("error", err))
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.nominate(e.Name())
		}
	}
}

// settled returns candidates whose size and mtime have not changed for the
// settle interval and drops them from the pending set.
func (w *Watcher) settled() []string {
	now := time.Now()
	var ready []string
	for name, c := range w.pending {
		info, err := os.Stat(filepath.Join(w.opts.QueueDir, name))
		if err != nil {
			delete(w.pending, name)
			continue
		}
		if info.Size() != c.size || !info.ModTime().Equal(c.modTime) {
			c.size = info.Size()
			c.modTime = info.ModTime()
			c.stable = now
			continue
		}
		if now.Sub(c.stable) >= w.opts.Settle {
			ready = append(ready, name)
		}
	}
	for _, name := range ready {
		delete(w.pending, name)
	}
	return ready
}

// process extracts one bundle into a fresh workspace, runs the commander,
// and removes the workspace unconditionally. Failures are logged and
// scoped to this one bundle; there are no retries.
func (w *Watcher) process(ctx context.Context, name string) {
	w.processed.Add(name)
	w.sink.BundleReceived(name)

	bundlePath := filepath.Join(w.opts.QueueDir, name)
	workspace := filepath.Join(w.opts.TmpDir, "courier-"+uuid.NewString()[:8])
	if err := os.MkdirAll(workspace, 0755); err != nil {
		w.sink.BundleFinished(name, fmt.Errorf("failed to create workspace: %w", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			w.log.Warn("failed to remove workspace",
				slog.String("workspace", workspace), slog.Any("error", err))
		}
	}()

	if err := ziputil.ExtractSafely(bundlePath, workspace); err != nil {
		w.sink.BundleFinished(name, fmt.Errorf("failed to extract bundle: %w", err))
		return
	}
	w.sink.BundleExtracted(name)

	err := w.commander(ctx, workspace)
	w.sink.BundleFinished(name, err)
}
