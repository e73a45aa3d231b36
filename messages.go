package meter

import (
	"fmt"
	"strings"
	"time"

	"github.com/tychoish/birch"
	"github.com/tychoish/fun/adt"
	"github.com/tychoish/grip/level"
	"github.com/tychoish/grip/message"

	"github.com/tychoish/meter/event"
)

// Tag identifies encoded meter payloads on the wire.
const Tag = 'M'

// Marker tokens categorize every emission. Human-readable lines open
// with the upcased token and the structured payload carries it
// verbatim, so sinks can route on semantics instead of scraping
// message text.
const (
	MarkerStart        = "start"
	MarkerProgress     = "progress"
	MarkerProgressSlow = "progress-slow"
	MarkerOK           = "ok"
	MarkerSlow         = "ok-slow"
	MarkerReject       = "reject"
	MarkerFail         = "fail"
	MarkerMisuse       = "misuse"
	MarkerBug          = "bug"
)

// Payload is the structured form of a meter emission, exposed
// through the composer Raw method for document-oriented senders.
type Payload struct {
	Marker      string        `bson:"marker" json:"marker" yaml:"marker"`
	Category    string        `bson:"category" json:"category" yaml:"category"`
	Name        string        `bson:"name,omitempty" json:"name,omitempty" yaml:"name,omitempty"`
	Description string        `bson:"description,omitempty" json:"description,omitempty" yaml:"description,omitempty"`
	Session     string        `bson:"session" json:"session" yaml:"session"`
	Position    int64         `bson:"position" json:"position" yaml:"position"`
	Elapsed     time.Duration `bson:"elapsed,omitempty" json:"elapsed,omitempty" yaml:"elapsed,omitempty"`
	Iteration   int64         `bson:"iteration,omitempty" json:"iteration,omitempty" yaml:"iteration,omitempty"`
	Expected    int64         `bson:"expected,omitempty" json:"expected,omitempty" yaml:"expected,omitempty"`
	Path        string        `bson:"path,omitempty" json:"path,omitempty" yaml:"path,omitempty"`
	Reject      string        `bson:"reject,omitempty" json:"reject,omitempty" yaml:"reject,omitempty"`
	FailClass   string        `bson:"fail_class,omitempty" json:"fail_class,omitempty" yaml:"fail_class,omitempty"`
	FailMessage string        `bson:"fail_message,omitempty" json:"fail_message,omitempty" yaml:"fail_message,omitempty"`
	Encoded     string        `bson:"encoded,omitempty" json:"encoded,omitempty" yaml:"encoded,omitempty"`
}

func (p Payload) MarshalDocument() (*birch.Document, error) {
	return birch.DC.Elements(
		birch.EC.String("marker", p.Marker),
		birch.EC.String("category", p.Category),
		birch.EC.String("name", p.Name),
		birch.EC.String("description", p.Description),
		birch.EC.String("session", p.Session),
		birch.EC.Int64("position", p.Position),
		birch.EC.Duration("elapsed", p.Elapsed),
		birch.EC.Int64("iteration", p.Iteration),
		birch.EC.Int64("expected", p.Expected),
		birch.EC.String("path", p.Path),
		birch.EC.String("reject", p.Reject),
		birch.EC.String("fail_class", p.FailClass),
		birch.EC.String("fail_message", p.FailMessage),
		birch.EC.String("encoded", p.Encoded),
	), nil
}

// meterText is the human-readable emission and meterData the wire
// encoding of the same snapshot. They are distinct messages so
// senders can route encoded payloads independently of narrative
// logging.
type meterText struct {
	Payload      Payload `bson:"payload" json:"payload" yaml:"payload"`
	message.Base `bson:"metadata,omitempty" json:"metadata,omitempty" yaml:"metadata,omitempty"`

	rendered adt.Once[string]
}

func newMeterText(marker string, snap *Meter) *meterText {
	m := &meterText{Payload: snap.payload(marker)}
	m.rendered.Set(func() string { return snap.humanLine(marker) })
	return m
}

func (m *meterText) Loggable() bool   { return m.Payload.Marker != "" }
func (m *meterText) Structured() bool { return true }
func (m *meterText) Schema() string   { return "meter.event.0" }
func (m *meterText) String() string   { return m.rendered.Resolve() }

func (m *meterText) Raw() any {
	if m.IncludeMetadata {
		return m
	}
	return m.Payload
}

func (m *meterText) MarshalDocument() (*birch.Document, error) {
	return m.Payload.MarshalDocument()
}

type meterData struct {
	Payload      Payload `bson:"payload" json:"payload" yaml:"payload"`
	message.Base `bson:"metadata,omitempty" json:"metadata,omitempty" yaml:"metadata,omitempty"`

	line string
}

func newMeterData(marker string, snap *Meter) *meterData {
	m := &meterData{line: event.Encode(event.DefaultOpen, Tag, event.DefaultClose, snap)}
	m.Payload = snap.payload(marker)
	m.Payload.Encoded = m.line
	return m
}

func (m *meterData) Loggable() bool   { return m.line != "" }
func (m *meterData) Structured() bool { return true }
func (m *meterData) Schema() string   { return "meter.wire.0" }
func (m *meterData) String() string   { return m.line }

func (m *meterData) Raw() any {
	if m.IncludeMetadata {
		return m
	}
	return m.Payload
}

func (m *meterData) MarshalDocument() (*birch.Document, error) {
	return m.Payload.MarshalDocument()
}

var (
	_ message.Composer        = &meterText{}
	_ message.Composer        = &meterData{}
	_ birch.DocumentMarshaler = &meterText{}
	_ birch.DocumentMarshaler = &meterData{}
	_ birch.DocumentMarshaler = Payload{}
)

func (m *Meter) payload(marker string) Payload {
	p := Payload{
		Marker:      marker,
		Category:    m.category,
		Name:        m.name,
		Description: m.desc,
		Session:     m.Session,
		Position:    m.Position,
		Iteration:   m.current,
		Expected:    m.expected,
	}
	if m.startTime != 0 {
		p.Elapsed = time.Duration(m.emissionElapsed())
	}
	switch m.out.kind {
	case outcomeOK:
		p.Path = m.out.path
	case outcomeReject:
		p.Reject = m.out.reject
	case outcomeFail:
		p.FailClass = m.out.class
		p.FailMessage = m.out.text
	}
	return p
}

// humanLine renders one narrative line: upcased marker, stream key,
// outcome qualifier, description, and the work and timing figures
// that are populated.
func (m *Meter) humanLine(marker string) string {
	buf := &strings.Builder{}
	buf.WriteString(strings.ToUpper(marker))
	buf.WriteByte(' ')
	buf.WriteString(m.key())

	switch m.out.kind {
	case outcomeOK:
		if m.out.path != "" {
			fmt.Fprintf(buf, " [%s]", m.out.path)
		}
	case outcomeReject:
		if m.out.reject != "" {
			fmt.Fprintf(buf, " [%s]", m.out.reject)
		}
	case outcomeFail:
		if m.out.text != "" {
			fmt.Fprintf(buf, " [%s: %s]", m.out.class, m.out.text)
		} else {
			fmt.Fprintf(buf, " [%s]", m.out.class)
		}
	}

	if m.desc != "" {
		buf.WriteString(": ")
		buf.WriteString(m.desc)
	}

	if m.current > 0 || m.expected > 0 {
		if m.expected > 0 {
			fmt.Fprintf(buf, "; %d/%d (%.0f%%)", m.current, m.expected,
				100*float64(m.current)/float64(m.expected))
		} else {
			fmt.Fprintf(buf, "; %d", m.current)
		}
	}

	if m.startTime != 0 && marker != MarkerStart {
		elapsed := time.Duration(m.emissionElapsed())
		fmt.Fprintf(buf, "; %s", elapsed.Round(time.Microsecond))
		if m.current > 0 && elapsed > 0 {
			fmt.Fprintf(buf, "; %.4g/s", float64(m.current)/elapsed.Seconds())
		}
		if m.limit > 0 && (marker == MarkerSlow || marker == MarkerProgressSlow) {
			fmt.Fprintf(buf, " (limit %s)", time.Duration(m.limit))
		}
	}

	return buf.String()
}

// misuse reports an API contract violation at error level with the
// caller's stack. Misuse never panics and never stops the meter.
func (m *Meter) misuse(op, problem string) {
	m.logger.Log(level.Error, message.MakeStack(2,
		fmt.Sprintf("%s %s %s: %s", strings.ToUpper(MarkerMisuse), op, m.key(), problem)))
}

// bug reports a defect in the instrumentation itself, most often a
// recovered panic out of status collection or rendering.
func (m *Meter) bug(op string, cause any) {
	m.logger.Log(level.Error, message.MakeStack(2,
		fmt.Sprintf("%s %s %s: %v", strings.ToUpper(MarkerBug), op, m.key(), cause)))
}
