package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/export"
	"github.com/g-uva/GreenDIGIT-CIM/pkg/source"
)

// Lifecycle states. A stop request moves running -> draining; the loop
// finishes its current batch, flushes anything pending and moves
// draining -> stopped. There is no forced mid-batch cancellation.
const (
	StateRunning  = "running"
	StateDraining = "draining"
	StateStopped  = "stopped"
)

const (
	eventStop    = "stop"
	eventDrained = "drained"
)

// Default loop timings, matching the original daemon.
const (
	DefaultBatchWindow  = 2 * time.Second
	DefaultIdleSleep    = 200 * time.Millisecond
	DefaultErrorBackoff = 1 * time.Second
)

// Exporter is the slice of the batch exporter the watcher drives.
type Exporter interface {
	Incremental(ctx context.Context, limit int64) (*export.Result, error)
}

// Config holds the watcher's loop timings.
type Config struct {
	// BatchWindow is the minimum time between incremental exports while
	// events keep arriving; bursts within the window coalesce into one batch.
	BatchWindow time.Duration

	// IdleSleep is how long the loop sleeps when nothing arrived and nothing
	// is pending, to avoid busy-spinning.
	IdleSleep time.Duration

	// ErrorBackoff is the fixed delay after a failed poll or export before
	// the loop continues.
	ErrorBackoff time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Stats is a point-in-time snapshot of the watcher, served by the admin
// endpoint.
type Stats struct {
	State             string    `json:"state"`
	Pending           int       `json:"pending_events"`
	LastFlush         time.Time `json:"last_flush"`
	StartedAt         time.Time `json:"started_at"`
	BatchesExported   int       `json:"batches_exported"`
	DocumentsExported int       `json:"documents_exported"`
	RowsAttempted     int       `json:"rows_attempted"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
}

// Watcher consumes the source's insert-event feed and triggers incremental
// exports in time-boxed batches. It runs as a single loop: exports block the
// loop until they complete, so at most one export is in flight per watcher
// and watermark advancement never interleaves.
type Watcher struct {
	feed     source.ChangeFeed
	exporter Exporter
	cfg      Config
	logger   *slog.Logger

	lifecycle *fsm.FSM
	stopCh    chan struct{}

	mu        sync.Mutex
	pending   int
	lastFlush time.Time
	stats     Stats
}

// New creates a watcher over an open change feed. Zero config fields take
// the package defaults.
func New(feed source.ChangeFeed, exporter Exporter, cfg Config) *Watcher {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = DefaultBatchWindow
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Watcher{
		feed:     feed,
		exporter: exporter,
		cfg:      cfg,
		logger:   cfg.Logger,
		stopCh:   make(chan struct{}),
	}
	w.lifecycle = fsm.NewFSM(
		StateRunning,
		fsm.Events{
			{Name: eventStop, Src: []string{StateRunning}, Dst: StateDraining},
			{Name: eventDrained, Src: []string{StateDraining}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_" + StateDraining: func(_ context.Context, _ *fsm.Event) {
				close(w.stopCh)
			},
		},
	)
	return w
}

// Run executes the poll loop until Stop is called or ctx is cancelled.
// It returns nil on a clean drain; loop errors are logged and retried, never
// returned.
func (w *Watcher) Run(ctx context.Context) error {
	now := time.Now()
	w.mu.Lock()
	w.lastFlush = now
	w.stats.StartedAt = now
	w.mu.Unlock()

	w.logger.Info("watcher started",
		"batch_window", w.cfg.BatchWindow,
		"idle_sleep", w.cfg.IdleSleep,
		"error_backoff", w.cfg.ErrorBackoff,
	)

	for w.lifecycle.Current() == StateRunning {
		if ctx.Err() != nil {
			w.Stop()
			break
		}
		if err := w.step(ctx); err != nil {
			w.recordError(err)
			w.logger.Warn("watcher iteration failed, backing off", "error", err)
			w.sleep(w.cfg.ErrorBackoff)
		}
	}

	// Draining: flush whatever is still pending. The drain uses a fresh
	// context so a cancelled parent cannot cut the final batch short.
	if w.pendingCount() > 0 {
		if err := w.flush(context.Background()); err != nil {
			w.logger.Error("final flush failed during drain", "error", err)
		}
	}
	_ = w.lifecycle.Event(context.Background(), eventDrained)
	w.logger.Info("watcher stopped")
	return nil
}

// Stop requests a cooperative shutdown. The loop observes it at the top of
// the next iteration; the in-flight batch, if any, finishes first. Safe to
// call more than once.
func (w *Watcher) Stop() {
	if err := w.lifecycle.Event(context.Background(), eventStop); err != nil {
		return // already draining or stopped
	}
	w.logger.Info("stop requested, draining")
}

// RequestFlush marks the pending counter so the next loop iteration runs an
// incremental export immediately. Used by the admin endpoint: the export
// still happens on the watcher's own loop, preserving the one-export-in-
// flight bound.
func (w *Watcher) RequestFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending++
	w.lastFlush = time.Time{}
}

// Status returns a snapshot for the admin endpoint.
func (w *Watcher) Status() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.State = w.lifecycle.Current()
	s.Pending = w.pending
	s.LastFlush = w.lastFlush
	return s
}

// step is one loop iteration: poll for one event, flush if the batch window
// elapsed with events pending, otherwise idle briefly.
func (w *Watcher) step(ctx context.Context) error {
	_, ok, err := w.feed.TryNext(ctx)
	if err != nil {
		return err
	}
	if ok {
		w.mu.Lock()
		w.pending++
		w.mu.Unlock()
	}

	w.mu.Lock()
	due := w.pending > 0 && time.Since(w.lastFlush) >= w.cfg.BatchWindow
	idle := !ok && w.pending == 0
	w.mu.Unlock()

	switch {
	case due:
		return w.flush(ctx)
	case idle:
		w.sleep(w.cfg.IdleSleep)
	}
	return nil
}

func (w *Watcher) flush(ctx context.Context) error {
	res, err := w.exporter.Incremental(ctx, 0)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = 0
	w.lastFlush = time.Now()
	w.stats.BatchesExported++
	w.stats.DocumentsExported += res.Documents
	w.stats.RowsAttempted += res.RowsAttempted
	w.stats.ConsecutiveErrors = 0
	w.stats.LastError = ""
	return nil
}

func (w *Watcher) pendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

func (w *Watcher) recordError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.ConsecutiveErrors++
	w.stats.LastError = err.Error()
}

// sleep waits for d or until a stop is requested, whichever comes first.
func (w *Watcher) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.stopCh:
	}
}
