// Package watcher turns filesystem notifications below a synchronized root
// into calls of the object store lifecycle hooks.
package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/common/logger"
	vfs "asisaid.cn/versync/internal/fs"
	"asisaid.cn/versync/internal/metrics"
)

// Op is the kind of a filesystem event.
type Op string

const (
	OpCreate Op = "CREATE"
	OpModify Op = "MODIFY"
	OpRemove Op = "REMOVE"
)

// Event is a filesystem change below the root.
type Event struct {
	Op       Op        `json:"op"`
	Path     string    `json:"path"` // relative to the root, slash separated
	Time     time.Time `json:"time"`
	Attempts int       `json:"attempts"`
}

// Store is the part of an object store the watcher drives.
type Store interface {
	RootDir() string
	HashFile(relativePath string) (string, error)
	Record(ctx context.Context, relativePath, contentHash string) error
	OnRemoveFile(ctx context.Context, relativePath string) error
	Skips(relativePath string, matcher *vfs.IgnoreMatcher) bool
}

// Options configures a Watcher.
type Options struct {
	QueueSize    int
	BatchSize    int // events taken off the queue per round
	PollInterval time.Duration
	MaxRetries   int
	Ignore       []string
	Metrics      *metrics.Metrics
}

// Watcher feeds filesystem events into a Store. Events are queued and
// applied one at a time by a single worker.
type Watcher struct {
	store   Store
	opts    Options
	fsw     *fsnotify.Watcher
	queue   *EventQueue
	matcher *vfs.IgnoreMatcher
	metrics *metrics.Metrics
	logger  *zap.Logger

	handleMu sync.Mutex // held while an event is applied
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a watcher for the root of st. It does not watch anything
// until Start is called.
func New(st Store, opts Options) (*Watcher, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.E("watcher.New", errors.ErrStorage, err)
	}

	return &Watcher{
		store:   st,
		opts:    opts,
		fsw:     fsw,
		queue:   NewEventQueue(opts.QueueSize),
		matcher: vfs.NewIgnoreMatcher(opts.Ignore),
		metrics: opts.Metrics,
		logger:  logger.WithRoot("Watcher", st.RootDir()),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start watches every directory below the root and starts processing
// events in the background.
func (w *Watcher) Start(ctx context.Context) error {
	patterns, err := vfs.ParseIgnoreFile(filepath.Join(w.store.RootDir(), vfs.IgnoreFileName))
	if err != nil {
		return errors.E("Watcher.Start", errors.ErrInvalidInput, err)
	}
	if len(patterns) > 0 {
		w.matcher = vfs.NewIgnoreMatcher(append(append([]string{}, w.opts.Ignore...), patterns...))
	}

	if err := w.watchTree(w.store.RootDir(), false); err != nil {
		return err
	}

	w.logger.Info("starting watcher",
		zap.Int("queue_size", w.opts.QueueSize),
		zap.Duration("poll_interval", w.opts.PollInterval),
	)

	w.wg.Add(2)
	go w.readEvents(ctx)
	go w.processEvents(ctx)
	return nil
}

// Stop stops watching and waits for the workers to exit. Queued events
// that were not applied yet are dropped.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.logger.Info("stopping watcher", zap.Int("pending", w.queue.Len()))
		close(w.stopCh)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

// Pause waits for the event being applied and holds back further events
// until Resume is called. Events keep being queued meanwhile.
func (w *Watcher) Pause() {
	w.handleMu.Lock()
}

// Resume lets queued events be applied again.
func (w *Watcher) Resume() {
	w.handleMu.Unlock()
}

// QueueSize returns the number of events waiting to be applied.
func (w *Watcher) QueueSize() int {
	return w.queue.Len()
}

// Handle applies a single event to the store.
func (w *Watcher) Handle(ctx context.Context, event *Event) error {
	var err error
	switch event.Op {
	case OpRemove:
		err = w.store.OnRemoveFile(ctx, event.Path)
		if errors.IsNotFound(err) {
			err = nil // never recorded
		}
	case OpCreate, OpModify:
		err = w.update(ctx, event)
	default:
		return errors.E("Watcher.Handle", errors.ErrInvalidInput, nil, "unknown op "+string(event.Op))
	}
	if err != nil {
		return err
	}

	w.metrics.ObserveWatcherEvent(strings.ToLower(string(event.Op)))
	return nil
}

func (w *Watcher) update(ctx context.Context, event *Event) error {
	absPath := filepath.Join(w.store.RootDir(), filepath.FromSlash(event.Path))
	t, err := vfs.Stat(absPath)
	if err != nil {
		return err
	}
	if t == vfs.TypeMissing {
		// Gone again, the remove event follows
		w.logger.Debug("path vanished before it was recorded", zap.String("path", event.Path))
		return nil
	}

	hash, err := w.store.HashFile(event.Path)
	if err != nil {
		return err
	}

	if err := w.store.Record(ctx, event.Path, hash); err != nil {
		return err
	}
	if event.Op == OpCreate && t == vfs.TypeDirectory {
		return w.watchTree(absPath, true)
	}
	return nil
}

// watchTree adds dir and every directory below it to the watch set. With
// enqueue set, a create event is queued for each entry found, which covers
// entries created before the watch was in place.
func (w *Watcher) watchTree(dir string, enqueue bool) error {
	root := w.store.RootDir()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn("could not walk path", zap.String("path", path), zap.Error(err))
			return nil
		}

		rel, err := vfs.Rel(root, path)
		if err != nil {
			return err
		}
		if rel != "." && w.store.Skips(rel, w.matcher) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return errors.E("Watcher.watchTree", errors.ErrStorage, err, rel)
			}
		}
		if enqueue && path != dir {
			w.enqueue(&Event{Op: OpCreate, Path: rel, Time: time.Now()})
		}
		return nil
	})
}

func (w *Watcher) readEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event, ok := w.translate(ev); ok {
				w.enqueue(event)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		events := w.queue.PopN(w.opts.BatchSize)
		if len(events) == 0 {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(w.opts.PollInterval):
			}
			continue
		}
		w.applyBatch(ctx, events)
	}
}

// applyBatch applies events in order. The handle lock is taken per event
// so a merge waits for one event at most.
func (w *Watcher) applyBatch(ctx context.Context, events []*Event) {
	for _, event := range events {
		w.handleMu.Lock()
		err := w.Handle(ctx, event)
		w.handleMu.Unlock()
		if err != nil {
			w.handleError(event, err)
		}
	}
}

// translate maps a notification to an event on a recorded path.
func (w *Watcher) translate(ev fsnotify.Event) (*Event, bool) {
	rel, err := vfs.Rel(w.store.RootDir(), ev.Name)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, false
	}
	if w.store.Skips(rel, w.matcher) {
		return nil, false
	}

	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = OpRemove
	default:
		return nil, false // chmod
	}
	return &Event{Op: op, Path: rel, Time: time.Now()}, true
}

func (w *Watcher) enqueue(event *Event) {
	if err := w.queue.Push(event); err != nil {
		w.metrics.ObserveWatcherDrop()
		w.logger.Error("failed to queue event",
			zap.String("op", string(event.Op)),
			zap.String("path", event.Path),
			zap.Error(err),
		)
	}
}

// handleError re-queues a failed event until it ran out of attempts.
func (w *Watcher) handleError(event *Event, err error) {
	event.Attempts++
	w.logger.Warn("failed to apply event",
		zap.String("op", string(event.Op)),
		zap.String("path", event.Path),
		zap.Int("attempts", event.Attempts),
		zap.Error(err),
	)

	if event.Attempts < w.opts.MaxRetries {
		w.enqueue(event)
		return
	}
	w.metrics.ObserveWatcherDrop()
	w.logger.Error("max retries exceeded, dropping event",
		zap.String("op", string(event.Op)),
		zap.String("path", event.Path),
	)
}
