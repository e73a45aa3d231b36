package meter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tychoish/fun/assert"
	"github.com/tychoish/fun/assert/check"
	"github.com/tychoish/grip"
	"github.com/tychoish/grip/level"
	"github.com/tychoish/grip/send"
)

func testLogger(t *testing.T, name string, p level.Priority) (grip.Logger, *send.InternalSender) {
	t.Helper()
	s := send.MakeInternal()
	s.SetName(name)
	s.SetPriority(p)
	return grip.NewLogger(s), s
}

func drain(s *send.InternalSender) []*send.InternalMessage {
	out := []*send.InternalMessage{}
	for {
		m, ok := s.GetMessageSafe()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

func countContains(msgs []*send.InternalMessage, token string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m.Rendered, token) {
			n++
		}
	}
	return n
}

func encodedLines(msgs []*send.InternalMessage) []string {
	out := []string{}
	for _, m := range msgs {
		if strings.HasPrefix(m.Rendered, "[M{") {
			out = append(out, m.Rendered)
		}
	}
	return out
}

func TestLifecycle(t *testing.T) {
	t.Run("HappyPath", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-happy", level.Trace)

		m := NewNamed(logger, "compute").M("crunch the batch").Limit(time.Hour).Iterations(3)
		m.Start()
		m.Inc().Inc().Inc()
		m.OK()

		msgs := drain(sink)
		assert.Equal(t, len(msgs), 4)
		check.True(t, strings.HasPrefix(msgs[0].Rendered, "START svc-happy/compute"))
		check.True(t, strings.HasPrefix(msgs[1].Rendered, "[M{"))
		check.True(t, strings.HasPrefix(msgs[2].Rendered, "OK svc-happy/compute"))
		check.True(t, strings.HasPrefix(msgs[3].Rendered, "[M{"))
		check.Equal(t, msgs[0].Priority, level.Debug)
		check.Equal(t, msgs[2].Priority, level.Info)

		start, err := DecodeLine(msgs[1].Rendered)
		assert.NotError(t, err)
		final, err := DecodeLine(msgs[3].Rendered)
		assert.NotError(t, err)

		check.Equal(t, start.Session, SessionID())
		check.Equal(t, final.Session, start.Session)
		check.Equal(t, final.Position, start.Position)
		check.Equal(t, final.Category(), "svc-happy")
		check.Equal(t, final.Name(), "compute")
		check.Equal(t, final.Description(), "crunch the batch")
		check.Equal(t, final.Iteration(), 3)
		check.Equal(t, final.Expected(), 3)
		check.Equal(t, final.TimeLimit(), time.Hour)
		check.True(t, start.Started())
		check.True(t, !start.Stopped())
		check.True(t, final.Stopped())
		check.True(t, final.Succeeded())
	})
	t.Run("OutcomeTokens", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-tokens", level.Info)

		NewNamed(logger, "path").Start().OK("cache-hit")
		NewNamed(logger, "stringer").Start().OK(time.Nanosecond)
		NewNamed(logger, "refusal").Start().Reject("quota-exhausted")
		NewNamed(logger, "referr").Start().Reject(errors.New("nope"))

		msgs := drain(sink)
		assert.Equal(t, len(msgs), 4)
		check.True(t, strings.Contains(msgs[0].Rendered, "[cache-hit]"))
		check.True(t, strings.Contains(msgs[1].Rendered, "[1ns]"))
		check.True(t, strings.Contains(msgs[2].Rendered, "REJECT svc-tokens/refusal [quota-exhausted]"))
		check.True(t, strings.Contains(msgs[3].Rendered, "[*errors.errorString]"))
	})
	t.Run("FailRecordsCause", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-fail", level.Trace)

		boom := errors.New("backend exploded")
		m := NewNamed(logger, "compute")
		m.Start()
		m.Fail(boom)
		assert.True(t, errors.Is(m.Cause(), boom))

		msgs := drain(sink)
		assert.Equal(t, len(msgs), 4)
		check.Equal(t, msgs[2].Priority, level.Error)
		check.True(t, strings.Contains(msgs[2].Rendered, "FAIL svc-fail/compute"))
		check.True(t, strings.Contains(msgs[2].Rendered, "backend exploded"))

		dec, err := DecodeLine(msgs[3].Rendered)
		assert.NotError(t, err)
		class, text := dec.Failure()
		check.Equal(t, class, "*errors.errorString")
		check.Equal(t, text, "backend exploded")
		check.True(t, dec.Stopped())
		check.True(t, !dec.Succeeded())
	})
	t.Run("LevelGateSkipsEmission", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-gated", level.Error)

		m := NewNamed(logger, "quiet")
		m.Start().Inc().Progress()
		m.OK()

		check.Equal(t, len(drain(sink)), 0)
		check.True(t, m.Stopped())
		check.True(t, m.Succeeded())
	})
}

func TestMisuse(t *testing.T) {
	t.Run("TerminalBeforeStart", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-misuse-early", level.Info)

		m := NewNamed(logger, "op")
		m.OK()

		msgs := drain(sink)
		assert.Equal(t, len(msgs), 1)
		check.Equal(t, countContains(msgs, "MISUSE"), 1)
		check.True(t, strings.Contains(msgs[0].Rendered, "never started"))
		check.Equal(t, msgs[0].Priority, level.Error)
	})
	t.Run("DoubleTerminal", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-misuse-double", level.Info)

		m := NewNamed(logger, "op")
		m.Start().OK()
		m.OK()

		msgs := drain(sink)
		assert.Equal(t, len(msgs), 2)
		check.Equal(t, countContains(msgs, "MISUSE"), 1)
		check.True(t, strings.Contains(msgs[1].Rendered, "already stopped"))
	})
	t.Run("FailAfterOK", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-misuse-failok", level.Info)

		m := NewNamed(logger, "op")
		m.Start().OK()
		m.Fail(errors.New("too late"))

		msgs := drain(sink)
		check.Equal(t, countContains(msgs, "MISUSE"), 1)
		check.True(t, m.Succeeded())
	})
	t.Run("DoubleStart", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-misuse-restart", level.Info)

		m := NewNamed(logger, "op")
		m.Start()
		before := m.startTime
		m.Start()

		check.Equal(t, m.startTime, before)
		msgs := drain(sink)
		assert.Equal(t, len(msgs), 1)
		check.Equal(t, countContains(msgs, "MISUSE"), 1)
	})
	t.Run("BadArguments", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-misuse-args", level.Info)

		m := NewNamed(logger, "op")
		m.Limit(-time.Second).Iterations(0).Ctx("", "dropped")
		check.Equal(t, m.TimeLimit(), 0)
		check.Equal(t, m.Expected(), 0)
		check.Equal(t, m.Context().Len(), 0)

		msgs := drain(sink)
		check.Equal(t, countContains(msgs, "MISUSE"), 3)
	})
	t.Run("IncToMovesBackwardButApplies", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-misuse-incto", level.Info)

		m := NewNamed(logger, "op").Start()
		m.IncTo(5)
		m.IncTo(3)
		check.Equal(t, m.Iteration(), 3)

		msgs := drain(sink)
		check.Equal(t, countContains(msgs, "moved backward"), 1)
	})
	t.Run("RejectNilCause", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-misuse-nilreject", level.Info)

		m := NewNamed(logger, "op").Start()
		m.Reject(nil)

		msgs := drain(sink)
		check.Equal(t, countContains(msgs, "MISUSE"), 1)
		check.True(t, m.Stopped())
		check.Equal(t, m.Rejection(), "")
	})
}

func TestProgress(t *testing.T) {
	t.Run("PacingGate", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-progress", level.Info)
		opts := DefaultOptions()
		opts.ProgressPeriod = 20 * time.Millisecond

		m := NewWithOptions(logger, "batch", opts).Iterations(10).Start()

		m.Progress()
		m.Inc().Progress()
		check.Equal(t, len(drain(sink)), 0)

		time.Sleep(30 * time.Millisecond)
		m.Progress()
		msgs := drain(sink)
		assert.Equal(t, len(msgs), 1)
		check.True(t, strings.HasPrefix(msgs[0].Rendered, "PROGRESS svc-progress/batch"))
		check.True(t, strings.Contains(msgs[0].Rendered, "1/10"))

		m.Progress()
		check.Equal(t, len(drain(sink)), 0)

		m.Inc().Progress()
		check.Equal(t, len(drain(sink)), 0)

		time.Sleep(30 * time.Millisecond)
		m.Progress()
		msgs = drain(sink)
		assert.Equal(t, len(msgs), 1)
		check.True(t, strings.Contains(msgs[0].Rendered, "2/10"))
	})
	t.Run("SlowMarker", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-progress-slow", level.Info)
		opts := DefaultOptions()
		opts.ProgressPeriod = time.Millisecond

		m := NewWithOptions(logger, "batch", opts).Limit(5 * time.Millisecond).Start()
		time.Sleep(15 * time.Millisecond)
		m.Inc().Progress()

		msgs := drain(sink)
		assert.Equal(t, len(msgs), 1)
		check.True(t, strings.HasPrefix(msgs[0].Rendered, "PROGRESS-SLOW"))
	})
	t.Run("GatedLevelDefersEmission", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-progress-gated", level.Info)
		opts := DefaultOptions()
		opts.ProgressPeriod = time.Millisecond

		m := NewWithOptions(logger, "batch", opts).Start()
		time.Sleep(5 * time.Millisecond)

		sink.SetPriority(level.Error)
		m.Inc().Progress()
		check.Equal(t, len(drain(sink)), 0)

		// the suppressed call left pacing untouched, so enabling
		// the level emits on the next call
		sink.SetPriority(level.Info)
		m.Progress()
		msgs := drain(sink)
		assert.Equal(t, len(msgs), 1)
		check.True(t, strings.HasPrefix(msgs[0].Rendered, "PROGRESS"))
	})
}

func TestSlowDetection(t *testing.T) {
	t.Run("PastLimitWarns", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-slow", level.Info)

		m := NewNamed(logger, "op").Limit(10 * time.Millisecond).Start()
		time.Sleep(25 * time.Millisecond)
		m.OK()

		msgs := drain(sink)
		assert.Equal(t, len(msgs), 1)
		check.Equal(t, msgs[0].Priority, level.Warning)
		check.True(t, strings.HasPrefix(msgs[0].Rendered, "OK-SLOW svc-slow/op"))
		check.True(t, strings.Contains(msgs[0].Rendered, "(limit 10ms)"))
	})
	t.Run("WithinLimitStaysInfo", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-fast", level.Info)

		m := NewNamed(logger, "op").Limit(time.Hour).Start()
		m.OK()

		msgs := drain(sink)
		assert.Equal(t, len(msgs), 1)
		check.Equal(t, msgs[0].Priority, level.Info)
		check.True(t, strings.HasPrefix(msgs[0].Rendered, "OK svc-fast/op"))
	})
}

func TestAnnotationContext(t *testing.T) {
	t.Run("ConsumedByEmission", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-ctx", level.Trace)

		m := NewNamed(logger, "op").Ctx("stage", "resolve").CtxFlag("dryrun")
		m.Start()
		check.Equal(t, m.Context().Len(), 0)

		msgs := drain(sink)
		assert.Equal(t, len(msgs), 2)
		check.True(t, strings.Contains(msgs[1].Rendered, "ctx=[stage:resolve,dryrun]"))
	})
	t.Run("FailurePreservesContext", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-ctx-fail", level.Trace)

		m := NewNamed(logger, "op").Start()
		drain(sink)

		m.CtxInt("attempt", 3)
		m.Fail(errors.New("boom"))
		check.Equal(t, m.Context().Len(), 1)

		msgs := drain(sink)
		assert.Equal(t, len(msgs), 2)
		check.True(t, strings.Contains(msgs[1].Rendered, "ctx=[attempt:3]"))
	})
	t.Run("TypedSettersAndRemoval", func(t *testing.T) {
		logger, _ := testLogger(t, "svc-ctx-typed", level.Info)

		m := NewNamed(logger, "op")
		m.CtxInt("n", 42).CtxBool("flag", true).CtxFloat("ratio", 0.5).Ctx("s", "v")
		m.Unctx("n")

		check.Equal(t, m.Context().Len(), 3)
		v, ok := m.Context().Get("flag")
		check.True(t, ok)
		check.Equal(t, v, "true")
	})
}

func TestCloseWithoutOutcome(t *testing.T) {
	logger, sink := testLogger(t, "svc-close", level.Trace)

	m := NewNamed(logger, "op").Start()
	drain(sink)

	assert.NotError(t, m.Close())
	assert.True(t, errors.Is(m.Cause(), ErrClosedWithoutOutcome))
	msgs := drain(sink)
	assert.Equal(t, len(msgs), 2)
	check.Equal(t, msgs[0].Priority, level.Error)
	check.True(t, strings.Contains(msgs[0].Rendered, "FAIL svc-close/op [closed-without-outcome]"))

	dec, err := DecodeLine(msgs[1].Rendered)
	assert.NotError(t, err)
	class, text := dec.Failure()
	check.Equal(t, class, "closed-without-outcome")
	check.Equal(t, text, "")

	// closing a finished meter stays quiet
	assert.NotError(t, m.Close())
	check.Equal(t, len(drain(sink)), 0)
}

func TestSubMeters(t *testing.T) {
	t.Run("NamesAndInheritance", func(t *testing.T) {
		logger, _ := testLogger(t, "svc-sub", level.Error)

		parent := NewNamed(logger, "ingest").Ctx("tenant", "acme")
		child := parent.Sub("parse")
		check.Equal(t, child.Category(), "svc-sub")
		check.Equal(t, child.Name(), "ingest/parse")

		v, ok := child.Context().Get("tenant")
		check.True(t, ok)
		check.Equal(t, v, "acme")

		// the inherited annotations are a copy
		child.Ctx("file", "a.json")
		check.Equal(t, parent.Context().Len(), 1)
	})
	t.Run("OutOfOrderTermination", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-sub-order", level.Info)

		parent := NewNamed(logger, "ingest").Start()
		child := parent.Sub("parse").Start()

		parent.OK()
		msgs := drain(sink)
		check.Equal(t, countContains(msgs, "sub-meters still running"), 1)
		check.True(t, parent.Stopped())

		child.OK()
		check.Equal(t, countContains(drain(sink), "MISUSE"), 0)
	})
	t.Run("OrderedTerminationIsQuiet", func(t *testing.T) {
		logger, sink := testLogger(t, "svc-sub-clean", level.Info)

		parent := NewNamed(logger, "ingest").Start()
		child := parent.Sub("parse").Start()
		child.OK()
		parent.OK()

		check.Equal(t, countContains(drain(sink), "MISUSE"), 0)
	})
}

func TestPanicGuard(t *testing.T) {
	logger, sink := testLogger(t, "svc-guard", level.Info)

	m := NewNamed(logger, "op")
	m.coll = nil // forces a nil dereference inside the emission path
	m.Start()
	m.OK()

	msgs := drain(sink)
	check.True(t, countContains(msgs, "BUG") >= 1)
}

func TestEndToEndDecoding(t *testing.T) {
	logger, sink := testLogger(t, "svc-e2e", level.Trace)

	first := New(logger).M("warm the cache")
	first.Start()
	first.OK()

	second := NewNamed(logger, "compute").Iterations(2)
	second.Start()
	second.Inc().Inc()
	second.Fail(errors.New("downstream timeout"))

	third := NewNamed(logger, "compute")
	third.Start()
	third.Reject("quota")

	msgs := drain(sink)
	lines := encodedLines(msgs)
	assert.Equal(t, len(lines), 6)

	byKey := map[string][]*Meter{}
	for _, line := range lines {
		dec, err := DecodeLine(line)
		assert.NotError(t, err)
		check.Equal(t, dec.Session, SessionID())
		key := dec.Category()
		if dec.Name() != "" {
			key += "/" + dec.Name()
		}
		byKey[key] = append(byKey[key], dec)
	}

	assert.Equal(t, len(byKey["svc-e2e"]), 2)
	assert.Equal(t, len(byKey["svc-e2e/compute"]), 4)

	check.Equal(t, byKey["svc-e2e"][0].Position, 1)
	check.Equal(t, byKey["svc-e2e/compute"][0].Position, 1)
	check.Equal(t, byKey["svc-e2e/compute"][2].Position, 2)

	final := byKey["svc-e2e/compute"][1]
	check.True(t, final.Stopped())
	check.True(t, final.createTime <= final.startTime)
	check.True(t, final.startTime <= final.stopTime)
	class, _ := final.Failure()
	check.Equal(t, class, "*errors.errorString")

	rejected := byKey["svc-e2e/compute"][3]
	check.Equal(t, rejected.Rejection(), "quota")
}

func TestMeterWireRoundTrip(t *testing.T) {
	logger, sink := testLogger(t, "svc-wire", level.Trace)

	m := NewNamed(logger, "transform").
		M("value with ; and = inside").
		Limit(250 * time.Millisecond).
		Iterations(7)
	m.Start()
	m.IncBy(4)
	m.Ctx("shard", "eu-1").OK("fast-path")

	msgs := drain(sink)
	lines := encodedLines(msgs)
	assert.Equal(t, len(lines), 2)

	dec, err := DecodeLine(lines[1])
	assert.NotError(t, err)
	check.Equal(t, dec.Category(), m.Category())
	check.Equal(t, dec.Name(), m.Name())
	check.Equal(t, dec.Description(), m.Description())
	check.Equal(t, dec.TimeLimit(), m.TimeLimit())
	check.Equal(t, dec.Iteration(), 4)
	check.Equal(t, dec.Expected(), 7)
	check.Equal(t, dec.Position, m.Position)
	check.Equal(t, dec.Path(), "fast-path")
	check.True(t, dec.Succeeded())

	v, ok := dec.Context().Get("shard")
	check.True(t, ok)
	check.Equal(t, v, "eu-1")
}
