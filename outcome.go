package meter

import (
	"errors"
	"fmt"

	"github.com/tychoish/fun/ers"
)

// ErrClosedWithoutOutcome is the failure cause recorded when a meter
// is closed before any terminal operation ran.
var ErrClosedWithoutOutcome = ers.New("closed-without-outcome")

// ErrUnknownFailure stands in for a nil cause passed to Fail.
var ErrUnknownFailure = ers.New("unknown-failure")

type outcomeKind int8

const (
	outcomeNone outcomeKind = iota
	outcomeOK
	outcomeReject
	outcomeFail
)

// outcome records how an operation ended. Recording a kind
// overwrites the previous contents wholesale, so the descriptor
// fields are always consistent with the kind.
type outcome struct {
	kind   outcomeKind
	path   string
	reject string
	class  string
	text   string
	cause  error
}

func (o *outcome) recordOK(path string)      { *o = outcome{kind: outcomeOK, path: path} }
func (o *outcome) recordReject(token string) { *o = outcome{kind: outcomeReject, reject: token} }

// recordFail captures cause as a class/message pair. The sentinel
// causes collapse to a single fixed token with no message.
func (o *outcome) recordFail(cause error) {
	if cause == nil {
		cause = ErrUnknownFailure
	}
	switch {
	case errors.Is(cause, ErrClosedWithoutOutcome):
		*o = outcome{kind: outcomeFail, class: ErrClosedWithoutOutcome.Error(), cause: cause}
	case errors.Is(cause, ErrUnknownFailure):
		*o = outcome{kind: outcomeFail, class: ErrUnknownFailure.Error(), cause: cause}
	default:
		*o = outcome{kind: outcomeFail, class: fmt.Sprintf("%T", cause), text: cause.Error(), cause: cause}
	}
}

// pathToken renders an outcome qualifier: strings pass through,
// enum-like values render their symbolic form, errors report their
// type, and anything else its default textual form.
func pathToken(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case error:
		return fmt.Sprintf("%T", val)
	default:
		return fmt.Sprint(val)
	}
}
