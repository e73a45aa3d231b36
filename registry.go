package meter

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tychoish/fun/adt"
)

// epoch anchors every timestamp the package records. Timestamps are
// monotonic readings relative to process start, so events order
// correctly within a session even when the wall clock steps.
var epoch = time.Now()

// Now returns the monotonic clock reading stamped on events,
// exported for producers emitting their own events alongside meters
// and watchers.
func Now() int64 { return time.Since(epoch).Nanoseconds() }

func now() int64 { return Now() }

var (
	session   = &adt.Once[string]{}
	positions = &adt.Map[string, *atomic.Int64]{}
)

func init() {
	session.Set(func() string { return uuid.NewString() })
	positions.Default.SetConstructor(func() *atomic.Int64 { return new(atomic.Int64) })
}

// SessionID returns the identifier shared by every event this
// process emits, assigned on first use and stable afterward.
func SessionID() string { return session.Resolve() }

// NextPosition increments and returns the event counter for one
// stream key. Counters start at 1 and restart there rather than
// overflow, so a position of zero always means unset.
func NextPosition(key string) int64 {
	ctr := positions.Get(key)
	for {
		cur := ctr.Load()
		next := cur + 1
		if cur == math.MaxInt64 {
			next = 1
		}
		if ctr.CompareAndSwap(cur, next) {
			return next
		}
	}
}
