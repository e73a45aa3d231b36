package event

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tychoish/fun/ers"
)

// ErrMalformed is the sentinel matched by every decode failure, for
// use with errors.Is. The concrete error is always a *MalformedError
// carrying the cursor position and a reason.
var ErrMalformed = ers.New("malformed event")

// MalformedError reports a decode failure: a structural character
// missing or misplaced, a truncated line, a bad identifier, or an
// unparsable number. Decode failures are never recovered silently; a
// corrupted line must not be misread as valid data.
type MalformedError struct {
	Pos    int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed event at %d: %s", e.Pos, e.Reason)
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

// Reader decodes one encoded event line through a pull interface:
// the caller asks for the next property name and then for its typed
// values, while the Reader tracks the cursor and the delimiter state
// between calls. ReadName consumes the property separator before
// every property but the first; value reads consume the assignment
// before a property's first value and the tuple separator before
// subsequent ones.
//
// Reset repoints an existing Reader at a new line so one instance
// can decode many lines without reallocation. No state carries over
// between lines.
type Reader struct {
	text      string
	pos       int
	firstProp bool
	firstVal  bool
}

// NewReader returns a Reader positioned at the start of text.
func NewReader(text string) *Reader {
	r := &Reader{}
	r.Reset(text)
	return r
}

// Reset repoints the Reader at a new line and clears parse state.
func (r *Reader) Reset(text string) {
	r.text = text
	r.pos = 0
	r.firstProp = true
	r.firstVal = false
}

func (r *Reader) failf(format string, args ...any) error {
	return &MalformedError{Pos: r.pos, Reason: fmt.Sprintf(format, args...)}
}

func (r *Reader) peek() (byte, bool) {
	if r.pos >= len(r.text) {
		return 0, false
	}
	return r.text[r.pos], true
}

func (r *Reader) expect(c byte) error {
	b, ok := r.peek()
	if !ok {
		return r.failf("unexpected end of input, expected %q", c)
	}
	if b != c {
		return r.failf("expected %q, found %q", c, b)
	}
	r.pos++
	return nil
}

// Begin consumes the envelope opening: the open mark, the event-type
// tag, and the property block opening.
func (r *Reader) Begin(mark, tag rune) error {
	if err := r.expect(byte(mark)); err != nil {
		return err
	}
	if err := r.expect(byte(tag)); err != nil {
		return err
	}
	if err := r.expect(BlockOpen); err != nil {
		return err
	}
	r.firstProp = true
	return nil
}

// End consumes the property block close and the envelope close mark.
func (r *Reader) End(mark rune) error {
	if err := r.expect(BlockClose); err != nil {
		return err
	}
	return r.expect(byte(mark))
}

// HasMore reports whether another property begins before the end of
// the property block.
func (r *Reader) HasMore() bool {
	b, ok := r.peek()
	return ok && b != BlockClose
}

// MoreValues reports whether the current property has another tuple
// member to read.
func (r *Reader) MoreValues() bool {
	b, ok := r.peek()
	return ok && b == ValueSep
}

// ReadName returns the next property's identifier, consuming the
// separator first except before the first property.
func (r *Reader) ReadName() (string, error) {
	if !r.firstProp {
		if err := r.expect(PropertySep); err != nil {
			return "", err
		}
	}
	r.firstProp = false

	start := r.pos
	b, ok := r.peek()
	if !ok {
		return "", r.failf("unexpected end of input in identifier")
	}
	if !identStart(b) {
		return "", r.failf("invalid identifier start %q", b)
	}
	r.pos++
	for {
		b, ok = r.peek()
		if !ok || !identPart(b) {
			break
		}
		r.pos++
	}
	r.firstVal = true
	return r.text[start:r.pos], nil
}

// value consumes the delimiter that introduces the next value of the
// current property.
func (r *Reader) value() error {
	if r.firstVal {
		r.firstVal = false
		return r.expect(ValueAssign)
	}
	return r.expect(ValueSep)
}

// token scans one escaped value, stopping before any byte in stops.
func (r *Reader) token(stops string) (string, error) {
	start := r.pos
	escaped := false
	for {
		b, ok := r.peek()
		if !ok {
			return "", r.failf("unexpected end of input in value")
		}
		if b == Escape {
			escaped = true
			r.pos += 2
			if r.pos > len(r.text) {
				return "", r.failf("unexpected end of input after escape")
			}
			continue
		}
		if strings.IndexByte(stops, b) >= 0 {
			break
		}
		r.pos++
	}
	raw := r.text[start:r.pos]
	if !escaped {
		return raw, nil
	}
	return unescape(raw), nil
}

func unescape(s string) string {
	out := strings.Builder{}
	out.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == Escape && i+1 < len(s) {
			i++
		}
		out.WriteByte(s[i])
	}
	return out.String()
}

// ReadString returns the next value of the current property with
// escapes resolved.
func (r *Reader) ReadString() (string, error) {
	if err := r.value(); err != nil {
		return "", err
	}
	return r.token(scalarStops)
}

// ReadInt64 parses the next value as a signed integer.
func (r *Reader) ReadInt64() (int64, error) {
	raw, err := r.ReadString()
	if err != nil {
		return 0, err
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, r.failf("invalid integer %q", raw)
	}
	return val, nil
}

// ReadInt64OrZero parses the next value as a signed integer, mapping
// the empty value to zero. Producers may blank optional fields
// rather than omit them, and a blank must not fail the decode.
func (r *Reader) ReadInt64OrZero() (int64, error) {
	raw, err := r.ReadString()
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, r.failf("invalid integer %q", raw)
	}
	return val, nil
}

// ReadFloat64 parses the next value as a floating point number.
func (r *Reader) ReadFloat64() (float64, error) {
	raw, err := r.ReadString()
	if err != nil {
		return 0, err
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, r.failf("invalid number %q", raw)
	}
	return val, nil
}

// ReadFloat64OrZero parses the next value as a floating point
// number, mapping the empty value to zero.
func (r *Reader) ReadFloat64OrZero() (float64, error) {
	raw, err := r.ReadString()
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, r.failf("invalid number %q", raw)
	}
	return val, nil
}

// ReadBool parses the next value as a boolean.
func (r *Reader) ReadBool() (bool, error) {
	raw, err := r.ReadString()
	if err != nil {
		return false, err
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, r.failf("invalid boolean %q", raw)
	}
	return val, nil
}

// ReadMap parses the next value as an ordered map. An entry without
// the key/value separator decodes as a null-valued entry.
func (r *Reader) ReadMap() (*Context, error) {
	if err := r.value(); err != nil {
		return nil, err
	}
	if err := r.expect(MapOpen); err != nil {
		return nil, err
	}
	out := &Context{}
	for {
		b, ok := r.peek()
		if !ok {
			return nil, r.failf("unexpected end of input in map")
		}
		if b == MapClose {
			r.pos++
			return out, nil
		}
		if out.Len() > 0 {
			if err := r.expect(MapSep); err != nil {
				return nil, err
			}
		}
		key, err := r.token(mapKeyStops)
		if err != nil {
			return nil, err
		}
		b, ok = r.peek()
		if !ok {
			return nil, r.failf("unexpected end of input in map")
		}
		if b != MapAssign {
			out.SetNull(key)
			continue
		}
		r.pos++
		val, err := r.token(mapValueStops)
		if err != nil {
			return nil, err
		}
		out.Set(key, val)
	}
}

// Extract returns the first encoded event for tag embedded in line,
// envelope included, honoring escapes. The second return is false
// when the line carries no such event. Extract lets tooling pull the
// machine-parsable record back out of a log stream that mixes it
// with human-readable text.
func Extract(line string, openMark, tag, closeMark rune) (string, bool) {
	prefix := string(openMark) + string(tag) + string(BlockOpen)
	start := strings.Index(line, prefix)
	if start < 0 {
		return "", false
	}
	for i := start + len(prefix); i < len(line); i++ {
		switch line[i] {
		case Escape:
			i++
		case BlockClose:
			if strings.HasPrefix(line[i+1:], string(closeMark)) {
				return line[start : i+1+len(string(closeMark))], true
			}
			return "", false
		}
	}
	return "", false
}
