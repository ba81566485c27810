// Package passwatch watches a directory of calibration passes and processes each pass once it is marked complete.
//
// A pass is a subdirectory of the watched root holding the images of one capture session. The capturing side
// writes a sentinel file named SentinelName into the pass directory when it is done.
package passwatch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// SentinelName marks a pass directory as complete.
const SentinelName = ".complete"

// DefaultRescanInterval is how often the root is rescanned in case a filesystem event was missed.
const DefaultRescanInterval = 30 * time.Second

// eventSettleTime is how long the root must be quiet after a filesystem event before it is scanned.
const eventSettleTime = 100 * time.Millisecond

// Pass is a completed calibration pass.
type Pass struct {
	ID  string
	Dir string
}

// Handler processes a completed pass.
type Handler func(ctx context.Context, p Pass) error

// Watcher finds completed passes under a root directory and hands each to a Handler once.
type Watcher struct {
	root           string
	handler        Handler
	logger         logging.Logger
	rescanInterval time.Duration

	mu    sync.Mutex
	known map[string]bool

	fsw     *fsnotify.Watcher
	workers *goutils.StoppableWorkers
}

// NewWatcher creates root if needed and starts watching it. Passes are only processed by Scan or after Start.
func NewWatcher(root string, handler Handler, logger logging.Logger) (*Watcher, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cannot create pass root %q", root)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:           root,
		handler:        handler,
		logger:         logger,
		rescanInterval: DefaultRescanInterval,
		known:          map[string]bool{},
		fsw:            fsw,
	}
	if err := fsw.Add(root); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "cannot watch %q", root), fsw.Close())
	}
	return w, nil
}

// SetRescanInterval changes how often the root is rescanned. It must be called before Start.
func (w *Watcher) SetRescanInterval(d time.Duration) {
	w.rescanInterval = d
}

// Scan processes every complete pass not seen before, in name order. A pass is only handed to the handler once,
// even if the handler fails. Handler errors are combined into the returned error.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return errors.Wrapf(err, "cannot list %q", w.root)
	}
	var errs error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if !entry.IsDir() {
			continue
		}
		p := Pass{ID: entry.Name(), Dir: filepath.Join(w.root, entry.Name())}
		if !w.claim(p) {
			w.watchPending(p)
			continue
		}
		w.logger.Infof("found completed pass %s", p.ID)
		if err := w.handler(ctx, p); err != nil {
			w.logger.Errorw("error processing pass", "pass", p.ID, "error", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "pass %s", p.ID))
		}
	}
	return errs
}

// claim reports whether p is complete and has not been claimed before, and claims it.
func (w *Watcher) claim(p Pass) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.known[p.ID] {
		return false
	}
	if _, err := os.Stat(filepath.Join(p.Dir, SentinelName)); err != nil {
		return false
	}
	w.known[p.ID] = true
	return true
}

// watchPending watches a pass directory that is not complete yet so the sentinel write is noticed.
func (w *Watcher) watchPending(p Pass) {
	w.mu.Lock()
	known := w.known[p.ID]
	w.mu.Unlock()
	if known {
		return
	}
	if err := w.fsw.Add(p.Dir); err != nil {
		w.logger.Debugw("cannot watch pass directory", "dir", p.Dir, "error", err)
	}
}

// Processed returns the IDs of the passes handed to the handler so far.
func (w *Watcher) Processed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.known))
	for id := range w.known {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start processes passes in the background: once immediately, then shortly after something changes under the root
// and at every rescan interval.
func (w *Watcher) Start() {
	w.workers = goutils.NewBackgroundStoppableWorkers(w.watch)
}

func (w *Watcher) watch(ctx context.Context) {
	// errors are logged per pass
	scan := func() { goutils.UncheckedError(w.Scan(ctx)) }
	scan()

	changed := make(chan struct{}, 1)
	debounced := debounce.New(eventSettleTime)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	ticker := time.NewTicker(w.rescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.logger.Debugw("pass root changed", "event", event.String())
			debounced(notify)
		case <-changed:
			scan()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("watch error", "error", err)
		case <-ticker.C:
			scan()
		}
	}
}

// Close stops the background processing and releases the filesystem watch.
func (w *Watcher) Close() error {
	if w.workers != nil {
		w.workers.Stop()
	}
	return w.fsw.Close()
}
