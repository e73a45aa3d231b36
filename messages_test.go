package meter

import (
	"errors"
	"testing"
	"time"

	"github.com/tychoish/fun/assert"
	"github.com/tychoish/fun/assert/check"

	"github.com/tychoish/meter/event"
)

func TestHumanLine(t *testing.T) {
	const start = int64(5_000_000)

	base := func() *Meter {
		return &Meter{category: "svc", name: "op", ctx: &event.Context{}}
	}

	t.Run("Start", func(t *testing.T) {
		m := base()
		m.desc = "fetch"
		m.startTime = start
		m.Time = start
		check.Equal(t, m.humanLine(MarkerStart), "START svc/op: fetch")
	})
	t.Run("SuccessWithPath", func(t *testing.T) {
		m := base()
		m.out.recordOK("cache")
		m.startTime = start
		m.stopTime = start + (150 * time.Millisecond).Nanoseconds()
		m.Time = m.stopTime
		check.Equal(t, m.humanLine(MarkerOK), "OK svc/op [cache]; 150ms")
	})
	t.Run("SlowSuccessShowsLimit", func(t *testing.T) {
		m := base()
		m.out.recordOK("")
		m.limit = (100 * time.Millisecond).Nanoseconds()
		m.startTime = start
		m.stopTime = start + (350 * time.Millisecond).Nanoseconds()
		m.Time = m.stopTime
		check.Equal(t, m.humanLine(MarkerSlow), "OK-SLOW svc/op; 350ms (limit 100ms)")
	})
	t.Run("FailureShowsClassAndMessage", func(t *testing.T) {
		m := base()
		m.desc = "fetch"
		m.out.recordFail(errors.New("boom"))
		m.startTime = start
		m.stopTime = start + (150 * time.Millisecond).Nanoseconds()
		m.Time = m.stopTime
		check.Equal(t, m.humanLine(MarkerFail),
			"FAIL svc/op [*errors.errorString: boom]: fetch; 150ms")
	})
	t.Run("ProgressShowsRatioAndThroughput", func(t *testing.T) {
		m := base()
		m.current = 30
		m.expected = 100
		m.startTime = start
		m.Time = start + (2 * time.Second).Nanoseconds()
		check.Equal(t, m.humanLine(MarkerProgress), "PROGRESS svc/op; 30/100 (30%); 2s; 15/s")
	})
	t.Run("RejectionToken", func(t *testing.T) {
		m := base()
		m.out.recordReject("quota")
		m.startTime = start
		m.stopTime = start + time.Millisecond.Nanoseconds()
		m.Time = m.stopTime
		check.Equal(t, m.humanLine(MarkerReject), "REJECT svc/op [quota]; 1ms")
	})
}

func TestComposers(t *testing.T) {
	snap := &Meter{category: "svc", ctx: &event.Context{}}
	snap.Session = "abc"
	snap.Position = 7
	snap.Time = 42
	snap.createTime = 1

	t.Run("TextSchemaAndRaw", func(t *testing.T) {
		msg := newMeterText(MarkerStart, snap)
		check.Equal(t, msg.Schema(), "meter.event.0")
		check.True(t, msg.Loggable())
		check.True(t, msg.Structured())

		payload, ok := msg.Raw().(Payload)
		assert.True(t, ok)
		check.Equal(t, payload.Marker, MarkerStart)
		check.Equal(t, payload.Category, "svc")
		check.Equal(t, payload.Session, "abc")
		check.Equal(t, payload.Position, 7)

		msg.IncludeMetadata = true
		_, ok = msg.Raw().(*meterText)
		check.True(t, ok)
	})
	t.Run("DataEncodesWireLine", func(t *testing.T) {
		msg := newMeterData(MarkerStart, snap)
		check.Equal(t, msg.String(), "[M{s=abc;p=7;t=42;c=svc;t0=1}]")
		check.Equal(t, msg.Schema(), "meter.wire.0")

		payload, ok := msg.Raw().(Payload)
		assert.True(t, ok)
		check.Equal(t, payload.Encoded, msg.String())
	})
	t.Run("MarshalDocument", func(t *testing.T) {
		doc, err := newMeterText(MarkerOK, snap).MarshalDocument()
		assert.NotError(t, err)
		assert.True(t, doc != nil)
	})
}

func TestPathToken(t *testing.T) {
	check.Equal(t, pathToken("plain"), "plain")
	check.Equal(t, pathToken(time.Second), "1s")
	check.Equal(t, pathToken(errors.New("x")), "*errors.errorString")
	check.Equal(t, pathToken(42), "42")
}
