// Package meter instruments operations as first-class events. An
// operation is created, started, optionally reports progress, and
// ends in exactly one of three outcomes: success, expected refusal,
// or failure. Every transition publishes through a grip logger as a
// human-readable line, and when trace is enabled, as a compact
// machine-parsable encoding that package event reads back.
//
// Misuse of the lifecycle is never fatal. Calling operations out of
// order, passing invalid arguments, or abandoning a meter produces
// an error-level report with the caller's stack, and the meter
// carries on. Instrumentation must not take down the code it
// observes.
//
//	m := meter.NewNamed(logger, "resolve")
//	defer m.Close()
//	m.Iterations(int64(len(batch))).Limit(time.Second).Start()
//	for range batch {
//		m.Inc().Progress()
//	}
//	m.OK()
package meter

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tychoish/grip"
	"github.com/tychoish/grip/level"

	"github.com/tychoish/meter/event"
	"github.com/tychoish/meter/status"
)

// Meter tracks one operation from creation to a single terminal
// outcome. Meters are not safe for concurrent use by multiple
// goroutines; derive a Sub meter per goroutine instead.
type Meter struct {
	event.Data

	logger grip.Logger
	opts   Options
	coll   *status.Collector

	category string
	name     string
	desc     string

	limit    int64
	expected int64
	current  int64

	createTime int64
	startTime  int64
	stopTime   int64

	lastEmitTime int64
	lastEmitIter int64

	out outcome
	ctx *event.Context

	parent  *Meter
	running *atomic.Int64
}

// New returns a meter in the created state, categorized by the
// sender's name, publishing through logger.
func New(logger grip.Logger) *Meter { return NewNamed(logger, "") }

// NewNamed returns a meter for one named operation within the
// sender's category.
func NewNamed(logger grip.Logger, name string) *Meter {
	return newMeter(logger, CurrentOptions(), nil, logger.Sender().Name(), name)
}

// NewWithOptions returns a named meter with explicit options instead
// of the process-wide defaults. Invalid options are reported as
// misuse and replaced with the defaults, never raised.
func NewWithOptions(logger grip.Logger, name string, opts Options) *Meter {
	m := newMeter(logger, opts, nil, logger.Sender().Name(), name)
	if err := m.opts.Validate(); err != nil {
		m.opts = DefaultOptions()
		m.coll = status.NewCollector(m.opts.Status)
		m.misuse("New", err.Error())
	}
	return m
}

func newMeter(logger grip.Logger, opts Options, coll *status.Collector, category, name string) *Meter {
	if coll == nil {
		coll = status.NewCollector(opts.Status)
	}
	m := &Meter{
		logger:   logger,
		opts:     opts,
		coll:     coll,
		category: category,
		name:     name,
		ctx:      &event.Context{},
		running:  new(atomic.Int64),
	}
	m.Session = SessionID()
	m.Position = NextPosition(m.key())
	m.createTime = now()
	m.Time = m.createTime
	return m
}

// Sub derives a child meter for a stage of this operation. The child
// shares the category, appends its own name segment, inherits a copy
// of the annotation context, and participates in nesting accounting:
// a parent that terminates while children are still running is
// flagged as out-of-order.
func (m *Meter) Sub(name string) *Meter {
	if name == "" {
		m.misuse("Sub", "empty stage name")
	}
	child := newMeter(m.logger, m.opts, m.coll, m.category, m.joinName(name))
	child.parent = m
	child.ctx = m.ctx.Clone()
	return child
}

func (m *Meter) joinName(name string) string {
	if m.name == "" {
		return name
	}
	return m.name + "/" + name
}

// key is the event-stream identity: the category, or category and
// name joined, scoping both position counters and rendered lines.
func (m *Meter) key() string {
	if m.name == "" {
		return m.category
	}
	return m.category + "/" + m.name
}

// M sets the free-text description carried by subsequent emissions.
func (m *Meter) M(text string) *Meter { m.desc = text; return m }

// Mf formats and sets the description.
func (m *Meter) Mf(format string, args ...any) *Meter {
	m.desc = fmt.Sprintf(format, args...)
	return m
}

// Limit declares the expected duration of the operation. Terminal
// and progress emissions past the limit are tagged slow, with
// successful-but-slow completions promoted to warning level.
func (m *Meter) Limit(d time.Duration) *Meter {
	if d <= 0 {
		m.misuse("Limit", "non-positive time limit")
		return m
	}
	m.limit = int64(d)
	return m
}

// Iterations declares the expected amount of work, enabling ratio
// and throughput figures on progress and terminal lines.
func (m *Meter) Iterations(n int64) *Meter {
	if n <= 0 {
		m.misuse("Iterations", "non-positive expected iterations")
		return m
	}
	m.expected = n
	return m
}

// Ctx attaches a key/value annotation. Annotations ride on the next
// emission and reset afterward, except for failures, which keep them
// so the failure line shows everything the operation had recorded.
func (m *Meter) Ctx(key, value string) *Meter {
	if key == "" {
		m.misuse("Ctx", "empty context key")
		return m
	}
	m.ctx.Set(key, value)
	return m
}

// CtxFlag attaches a bare valueless annotation.
func (m *Meter) CtxFlag(key string) *Meter {
	if key == "" {
		m.misuse("CtxFlag", "empty context key")
		return m
	}
	m.ctx.SetNull(key)
	return m
}

// CtxInt attaches an integer annotation.
func (m *Meter) CtxInt(key string, value int64) *Meter {
	if key == "" {
		m.misuse("CtxInt", "empty context key")
		return m
	}
	m.ctx.Set(key, strconv.FormatInt(value, 10))
	return m
}

// CtxFloat attaches a floating point annotation.
func (m *Meter) CtxFloat(key string, value float64) *Meter {
	if key == "" {
		m.misuse("CtxFloat", "empty context key")
		return m
	}
	m.ctx.Set(key, strconv.FormatFloat(value, 'g', -1, 64))
	return m
}

// CtxBool attaches a boolean annotation.
func (m *Meter) CtxBool(key string, value bool) *Meter {
	if key == "" {
		m.misuse("CtxBool", "empty context key")
		return m
	}
	m.ctx.Set(key, strconv.FormatBool(value))
	return m
}

// Unctx removes an annotation before an emission consumes it.
func (m *Meter) Unctx(key string) *Meter {
	m.ctx.Delete(key)
	return m
}

// Start transitions the meter to started and emits the start event
// at debug level. Starting twice is flagged as misuse; the original
// start time is preserved.
func (m *Meter) Start() *Meter {
	defer m.guard("Start")()
	if m.startTime != 0 {
		m.misuse("Start", "meter already started")
	} else {
		m.startTime = now()
		m.lastEmitTime = m.startTime
		if m.parent != nil {
			m.parent.running.Add(1)
		}
	}
	if m.enabled(level.Debug) {
		m.emit(level.Debug, MarkerStart)
	}
	return m
}

// Inc records one unit of completed work.
func (m *Meter) Inc() *Meter {
	defer m.guard("Inc")()
	if m.startTime == 0 {
		m.misuse("Inc", "meter never started")
	}
	m.current++
	return m
}

// IncBy records n units of completed work.
func (m *Meter) IncBy(n int64) *Meter {
	defer m.guard("IncBy")()
	if m.startTime == 0 {
		m.misuse("IncBy", "meter never started")
	}
	if n <= 0 {
		m.misuse("IncBy", "non-positive increment")
		return m
	}
	m.current += n
	return m
}

// IncTo sets the absolute iteration count. Non-positive and backward
// values are flagged as misuse.
func (m *Meter) IncTo(n int64) *Meter {
	defer m.guard("IncTo")()
	if m.startTime == 0 {
		m.misuse("IncTo", "meter never started")
	}
	switch {
	case n <= 0:
		m.misuse("IncTo", "non-positive iteration count")
	case n < m.current:
		m.misuse("IncTo", "iteration count moved backward")
	}
	// the assignment happens even for flagged values; callers
	// depend on the counter matching what they last reported
	m.current = n
	return m
}

// Progress emits a progress event, rate-limited so it can be called
// on every iteration of a hot loop: an emission happens only when
// the iteration count changed and the configured period elapsed
// since the previous one. Suppressed calls are nearly free.
func (m *Meter) Progress() *Meter {
	defer m.guard("Progress")()
	switch {
	case m.stopTime != 0:
		m.misuse("Progress", "meter already stopped")
		return m
	case m.startTime == 0:
		m.misuse("Progress", "meter never started")
		return m
	}

	at := now()
	if m.current == m.lastEmitIter || at-m.lastEmitTime < int64(m.opts.ProgressPeriod) {
		return m
	}
	if !m.enabled(level.Info) {
		return m
	}

	m.lastEmitIter = m.current
	m.lastEmitTime = at

	marker := MarkerProgress
	if m.limit > 0 && at-m.startTime >= m.limit {
		marker = MarkerProgressSlow
	}
	m.emit(level.Info, marker)
	return m
}

// OK records the success outcome, optionally qualified by one flow
// path token: a string, an enum-like value, or an error qualifier
// recorded by type. Emits at info level, or at warning with the slow
// marker when the operation ran past its declared limit.
func (m *Meter) OK(path ...any) *Meter {
	defer m.guard("OK")()
	var token string
	if len(path) > 0 {
		if path[0] == nil {
			m.misuse("OK", "nil path qualifier")
		} else {
			token = pathToken(path[0])
		}
	}
	if !m.terminalGate("OK") {
		return m
	}
	m.out.recordOK(token)
	marker, lvl := MarkerOK, level.Info
	if m.slow() {
		marker, lvl = MarkerSlow, level.Warning
	}
	if m.enabled(lvl) {
		m.emit(lvl, marker)
	}
	return m
}

// Reject records the expected-refusal outcome with its cause token.
// Rejections are anticipated flow, not errors, and emit at info
// level regardless of pacing or limits.
func (m *Meter) Reject(cause any) *Meter {
	defer m.guard("Reject")()
	var token string
	if cause == nil {
		m.misuse("Reject", "nil cause")
	} else {
		token = pathToken(cause)
	}
	if !m.terminalGate("Reject") {
		return m
	}
	m.out.recordReject(token)
	if m.enabled(level.Info) {
		m.emit(level.Info, MarkerReject)
	}
	return m
}

// Fail records the unexpected-failure outcome and emits at error
// level. A nil cause is flagged and recorded with the
// unknown-failure placeholder. The annotation context is preserved
// rather than cleared.
func (m *Meter) Fail(cause error) *Meter {
	defer m.guard("Fail")()
	if cause == nil {
		m.misuse("Fail", "nil cause")
	}
	if !m.terminalGate("Fail") {
		return m
	}
	m.out.recordFail(cause)
	if m.enabled(level.Error) {
		m.emit(level.Error, MarkerFail)
	}
	return m
}

// terminalGate applies the shared terminal transition rules. A meter
// that already stopped stays stopped and nothing is emitted. A meter
// that never started records its stop quietly so later calls report
// already-stopped instead of compounding. Terminating with running
// sub-meters is flagged but proceeds: the operation did finish.
func (m *Meter) terminalGate(op string) bool {
	switch {
	case m.stopTime != 0:
		m.misuse(op, "meter already stopped")
		return false
	case m.startTime == 0:
		m.misuse(op, "meter never started")
		m.stopTime = now()
		return false
	}
	if m.running.Load() > 0 {
		m.misuse(op, "sub-meters still running")
	}
	m.stopTime = now()
	if m.parent != nil {
		m.parent.running.Add(-1)
	}
	return true
}

func (m *Meter) slow() bool {
	return m.limit > 0 && m.stopTime-m.startTime >= m.limit
}

// emit publishes one emission at lvl. Callers check enabled first so
// status collection and rendering never run for output the sender
// would drop. The annotation context resets after emission unless
// the outcome is a failure.
func (m *Meter) emit(lvl level.Priority, marker string) {
	m.collectStatus(marker)
	m.Time = now()
	snap := m.snapshot()
	m.logger.Log(lvl, newMeterText(marker, snap))
	if m.enabled(level.Trace) {
		m.logger.Log(level.Trace, newMeterData(marker, snap))
	}
	if m.out.kind != outcomeFail {
		m.ctx.Reset()
	}
}

func (m *Meter) collectStatus(op string) {
	st, err := m.coll.Collect()
	if err != nil {
		m.bug(op, err)
	}
	if st != nil {
		m.Status = *st
	}
}

// enabled mirrors the send.ShouldLog comparison so gating decisions
// match what the sender itself would do.
func (m *Meter) enabled(p level.Priority) bool {
	return p != level.Invalid && p >= m.logger.Sender().Priority()
}

// snapshot freezes the meter state for rendering after the meter
// moves on.
func (m *Meter) snapshot() *Meter {
	snap := new(Meter)
	*snap = *m
	snap.ctx = m.ctx.Clone()
	return snap
}

// emissionElapsed is the duration the current emission reports:
// bounded by the stop time once the meter terminated.
func (m *Meter) emissionElapsed() int64 {
	if m.stopTime != 0 {
		return m.stopTime - m.startTime
	}
	return m.Time - m.startTime
}

// guard converts panics out of the instrumentation itself into bug
// reports. Deferred by every lifecycle operation.
func (m *Meter) guard(op string) func() {
	return func() {
		if p := recover(); p != nil {
			m.bug(op, p)
		}
	}
}

// Category returns the event-stream category, taken from the
// sender's name at construction.
func (m *Meter) Category() string { return m.category }

// Name returns the operation name within the category, or the empty
// string for category-level meters.
func (m *Meter) Name() string { return m.name }

// Description returns the current free-text description.
func (m *Meter) Description() string { return m.desc }

// TimeLimit returns the declared duration expectation, zero when
// none was set.
func (m *Meter) TimeLimit() time.Duration { return time.Duration(m.limit) }

// Iteration returns the current completed-work counter.
func (m *Meter) Iteration() int64 { return m.current }

// Expected returns the declared amount of work, zero when none was
// set.
func (m *Meter) Expected() int64 { return m.expected }

// Started reports whether Start ran.
func (m *Meter) Started() bool { return m.startTime != 0 }

// Stopped reports whether the meter reached a terminal state.
func (m *Meter) Stopped() bool { return m.stopTime != 0 }

// Succeeded reports whether the recorded outcome is success.
func (m *Meter) Succeeded() bool { return m.out.kind == outcomeOK }

// Path returns the success flow qualifier, empty for plain success
// or any other outcome.
func (m *Meter) Path() string { return m.out.path }

// Rejection returns the refusal token, empty unless the meter was
// rejected.
func (m *Meter) Rejection() string { return m.out.reject }

// Failure returns the failure class and message, both empty unless
// the meter failed.
func (m *Meter) Failure() (string, string) { return m.out.class, m.out.text }

// Cause returns the recorded failure cause, nil unless the meter
// failed. The error is the value passed to Fail, suitable for
// errors.Is checks against sentinel causes.
func (m *Meter) Cause() error { return m.out.cause }

// Context returns the live annotation context.
func (m *Meter) Context() *event.Context { return m.ctx }

// Elapsed returns the operation's running time: zero before start,
// the running duration while started, and the final duration once
// stopped.
func (m *Meter) Elapsed() time.Duration {
	switch {
	case m.startTime == 0:
		return 0
	case m.stopTime != 0:
		return time.Duration(m.stopTime - m.startTime)
	default:
		return time.Duration(now() - m.startTime)
	}
}
