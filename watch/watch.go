// Package watch emits periodic system status snapshots through a
// grip logger, on the same session and wire format as package meter.
// Where a meter tracks one operation, a watcher samples the process:
// memory, collector activity, scheduler load, and machine load, at a
// fixed period, for correlation with the operations running at the
// time.
package watch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tychoish/grip"
	"github.com/tychoish/grip/level"
	"github.com/tychoish/grip/message"

	"github.com/tychoish/meter"
	"github.com/tychoish/meter/event"
	"github.com/tychoish/meter/status"
)

// Tag identifies encoded watcher payloads on the wire.
const Tag = 'W'

// Marker categorizes watcher emissions, following the meter marker
// vocabulary.
const Marker = "watch"

// Watcher periodically samples system status and publishes it. The
// zero value is not usable; construct with New or NewWithOptions.
// Sampling is safe to drive concurrently from the background loop
// and direct Tick calls.
type Watcher struct {
	event.Data

	logger   grip.Logger
	opts     meter.Options
	coll     *status.Collector
	category string

	sampleMu sync.Mutex

	bgMu   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a watcher categorized by the sender's name, sampling
// with the process-wide options.
func New(logger grip.Logger) *Watcher {
	return NewWithOptions(logger, meter.CurrentOptions())
}

// NewWithOptions returns a watcher with explicit options. Invalid
// options are reported and replaced with the defaults, never raised.
func NewWithOptions(logger grip.Logger, opts meter.Options) *Watcher {
	w := &Watcher{
		logger:   logger,
		category: logger.Sender().Name(),
	}
	if err := opts.Validate(); err != nil {
		logger.Log(level.Error, message.MakeStack(2,
			fmt.Sprintf("%s Watch %s: %s", strings.ToUpper(meter.MarkerMisuse), w.category, err.Error())))
		opts = meter.DefaultOptions()
	}
	w.opts = opts
	w.coll = status.NewCollector(opts.Status)
	w.Session = meter.SessionID()
	return w
}

// Tick takes and publishes one sample: a human-readable summary at
// info level and, when trace is enabled, the encoded payload. Each
// published sample advances the watcher's position. Ticks are
// skipped entirely when info is gated off.
func (w *Watcher) Tick() {
	w.sampleMu.Lock()
	defer w.sampleMu.Unlock()

	if !w.enabled(level.Info) {
		return
	}

	st, err := w.coll.Collect()
	if err != nil {
		w.logger.Log(level.Error, message.MakeStack(2,
			fmt.Sprintf("%s Watch %s: %v", strings.ToUpper(meter.MarkerBug), w.category, err)))
	}
	if st != nil {
		w.Status = *st
	}
	w.Time = meter.Now()
	w.Position = meter.NextPosition(w.category)

	snap := w.Data
	w.logger.Log(level.Info, newWatchText(w.category, snap, w.opts.UUIDSize))
	if w.enabled(level.Trace) {
		w.logger.Log(level.Trace, newWatchData(w.category, snap))
	}
}

// Start launches the background sampling loop, ticking every watch
// period until the context is canceled or the watcher is closed.
// Starting a running watcher does nothing.
func (w *Watcher) Start(ctx context.Context) {
	w.bgMu.Lock()
	defer w.bgMu.Unlock()
	if w.cancel != nil {
		return
	}

	bgctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(bgctx, w.done)
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.opts.WatchPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick()
		}
	}
}

// Close stops the background loop and blocks until it exits. Closing
// a watcher that is not running, or closing twice, does nothing. The
// watcher can be started again afterward. Always returns nil.
func (w *Watcher) Close() error {
	w.bgMu.Lock()
	defer w.bgMu.Unlock()
	if w.cancel == nil {
		return nil
	}

	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil
	return nil
}

// Running reports whether the background loop is active.
func (w *Watcher) Running() bool {
	w.bgMu.Lock()
	defer w.bgMu.Unlock()
	return w.cancel != nil
}

// Category returns the watcher's event-stream category.
func (w *Watcher) Category() string { return w.category }

func (w *Watcher) enabled(p level.Priority) bool {
	return p != level.Invalid && p >= w.logger.Sender().Priority()
}

// DecodeLine parses one encoded watcher payload into a detached
// snapshot. The payload may be embedded anywhere in a larger line.
func DecodeLine(line string) (*Watcher, error) {
	if payload, ok := event.Extract(line, event.DefaultOpen, Tag, event.DefaultClose); ok {
		line = payload
	}
	w := &Watcher{}
	if err := event.Decode(line, event.DefaultOpen, Tag, event.DefaultClose, w); err != nil {
		return nil, err
	}
	return w, nil
}
