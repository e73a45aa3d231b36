package event

import (
	"fmt"

	"github.com/tychoish/fun/ers"
)

// ErrUnknownProperty is returned by ReadProperty implementations for
// names they do not own, so that wrapping types can delegate and the
// decoder can reject names nobody claims.
var ErrUnknownProperty = ers.New("unknown event property")

// Message is the contract between the codec and the event types
// built on it. WriteProperties appends every non-default field to
// the Writer. ReadProperty consumes all values of one named property
// from the Reader, returning ErrUnknownProperty for names the
// implementation does not own. Types that embed Data implement both
// by handling their own fields and delegating the rest.
type Message interface {
	WriteProperties(*Writer)
	ReadProperty(*Reader, string) error
}

// Encode renders m as one event line wrapped by the given marks and
// tagged with the event type tag.
func Encode(openMark, tag, closeMark rune, m Message) string {
	w := &Writer{}
	w.Begin(openMark, tag)
	m.WriteProperties(w)
	return w.End(closeMark)
}

// Decode parses one full event line into m, which must match the
// event type for tag. Trailing content after the envelope is an
// error; use Extract first when the line carries more than the
// event.
func Decode(text string, openMark, tag, closeMark rune, m Message) error {
	return NewReader(text).Decode(openMark, tag, closeMark, m)
}

// Decode drives a complete parse of the Reader's current line into
// m, enforcing the envelope on both ends.
func (r *Reader) Decode(openMark, tag, closeMark rune, m Message) error {
	if err := r.Begin(openMark, tag); err != nil {
		return err
	}
	for r.HasMore() {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		if err := m.ReadProperty(r, name); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
	}
	if err := r.End(closeMark); err != nil {
		return err
	}
	if r.pos != len(r.text) {
		return r.failf("trailing content after event")
	}
	return nil
}
