package watch

import (
	"fmt"
	"strings"

	"github.com/tychoish/birch"
	"github.com/tychoish/fun/adt"
	"github.com/tychoish/grip/message"

	"github.com/tychoish/meter/event"
)

// Payload is the structured form of one watcher sample.
type Payload struct {
	Marker        string  `bson:"marker" json:"marker" yaml:"marker"`
	Category      string  `bson:"category" json:"category" yaml:"category"`
	Session       string  `bson:"session" json:"session" yaml:"session"`
	Position      int64   `bson:"position" json:"position" yaml:"position"`
	HeapUsed      int64   `bson:"heap_used,omitempty" json:"heap_used,omitempty" yaml:"heap_used,omitempty"`
	HeapCommitted int64   `bson:"heap_committed,omitempty" json:"heap_committed,omitempty" yaml:"heap_committed,omitempty"`
	Goroutines    int64   `bson:"goroutines,omitempty" json:"goroutines,omitempty" yaml:"goroutines,omitempty"`
	GCCount       int64   `bson:"gc_count,omitempty" json:"gc_count,omitempty" yaml:"gc_count,omitempty"`
	ProcessUsed   int64   `bson:"process_used,omitempty" json:"process_used,omitempty" yaml:"process_used,omitempty"`
	SystemUsed    int64   `bson:"system_used,omitempty" json:"system_used,omitempty" yaml:"system_used,omitempty"`
	SystemTotal   int64   `bson:"system_total,omitempty" json:"system_total,omitempty" yaml:"system_total,omitempty"`
	Load          float64 `bson:"load,omitempty" json:"load,omitempty" yaml:"load,omitempty"`
	Encoded       string  `bson:"encoded,omitempty" json:"encoded,omitempty" yaml:"encoded,omitempty"`
}

func (p Payload) MarshalDocument() (*birch.Document, error) {
	return birch.DC.Elements(
		birch.EC.String("marker", p.Marker),
		birch.EC.String("category", p.Category),
		birch.EC.String("session", p.Session),
		birch.EC.Int64("position", p.Position),
		birch.EC.Int64("heap_used", p.HeapUsed),
		birch.EC.Int64("heap_committed", p.HeapCommitted),
		birch.EC.Int64("goroutines", p.Goroutines),
		birch.EC.Int64("gc_count", p.GCCount),
		birch.EC.Int64("process_used", p.ProcessUsed),
		birch.EC.Int64("system_used", p.SystemUsed),
		birch.EC.Int64("system_total", p.SystemTotal),
		birch.EC.Double("load", p.Load),
		birch.EC.String("encoded", p.Encoded),
	), nil
}

func makePayload(category string, data event.Data) Payload {
	return Payload{
		Marker:        Marker,
		Category:      category,
		Session:       data.Session,
		Position:      data.Position,
		HeapUsed:      data.Status.HeapUsed,
		HeapCommitted: data.Status.HeapCommitted,
		Goroutines:    data.Status.Goroutines,
		GCCount:       data.Status.GCCount,
		ProcessUsed:   data.Status.ProcessUsed,
		SystemUsed:    data.Status.SystemUsed,
		SystemTotal:   data.Status.SystemTotal,
		Load:          data.Status.Load,
	}
}

type watchText struct {
	Payload      Payload `bson:"payload" json:"payload" yaml:"payload"`
	message.Base `bson:"metadata,omitempty" json:"metadata,omitempty" yaml:"metadata,omitempty"`

	rendered adt.Once[string]
}

func newWatchText(category string, data event.Data, uuidSize int) *watchText {
	m := &watchText{Payload: makePayload(category, data)}
	m.rendered.Set(func() string { return humanLine(data, uuidSize) })
	return m
}

func (m *watchText) Loggable() bool   { return m.Payload.Marker != "" }
func (m *watchText) Structured() bool { return true }
func (m *watchText) Schema() string   { return "watch.event.0" }
func (m *watchText) String() string   { return m.rendered.Resolve() }

func (m *watchText) Raw() any {
	if m.IncludeMetadata {
		return m
	}
	return m.Payload
}

func (m *watchText) MarshalDocument() (*birch.Document, error) {
	return m.Payload.MarshalDocument()
}

type watchData struct {
	Payload      Payload `bson:"payload" json:"payload" yaml:"payload"`
	message.Base `bson:"metadata,omitempty" json:"metadata,omitempty" yaml:"metadata,omitempty"`

	line string
}

func newWatchData(category string, data event.Data) *watchData {
	m := &watchData{line: event.Encode(event.DefaultOpen, Tag, event.DefaultClose, &data)}
	m.Payload = makePayload(category, data)
	m.Payload.Encoded = m.line
	return m
}

func (m *watchData) Loggable() bool   { return m.line != "" }
func (m *watchData) Structured() bool { return true }
func (m *watchData) Schema() string   { return "watch.wire.0" }
func (m *watchData) String() string   { return m.line }

func (m *watchData) Raw() any {
	if m.IncludeMetadata {
		return m
	}
	return m.Payload
}

func (m *watchData) MarshalDocument() (*birch.Document, error) {
	return m.Payload.MarshalDocument()
}

var (
	_ message.Composer        = &watchText{}
	_ message.Composer        = &watchData{}
	_ birch.DocumentMarshaler = &watchText{}
	_ birch.DocumentMarshaler = &watchData{}
	_ birch.DocumentMarshaler = Payload{}
)

// humanLine renders one sample as a narrative summary, leading with
// the truncated session identifier and including only the measurement
// groups that produced values.
func humanLine(data event.Data, uuidSize int) string {
	buf := &strings.Builder{}
	buf.WriteString(strings.ToUpper(Marker))
	buf.WriteByte(' ')
	buf.WriteString(sessionPrefix(data.Session, uuidSize))

	st := data.Status
	if st.HeapUsed > 0 || st.HeapCommitted > 0 {
		fmt.Fprintf(buf, "; heap %s/%s", fmtBytes(st.HeapUsed), fmtBytes(st.HeapCommitted))
	}
	if st.ProcessUsed > 0 {
		fmt.Fprintf(buf, "; proc %s", fmtBytes(st.ProcessUsed))
	}
	if st.SystemUsed > 0 || st.SystemTotal > 0 {
		fmt.Fprintf(buf, "; sys %s/%s", fmtBytes(st.SystemUsed), fmtBytes(st.SystemTotal))
	}
	if st.Load > 0 {
		fmt.Fprintf(buf, "; load %.2f", st.Load)
	}
	if st.Goroutines > 0 {
		fmt.Fprintf(buf, "; go %d", st.Goroutines)
	}
	if st.GCCount > 0 {
		fmt.Fprintf(buf, "; gc %d", st.GCCount)
	}

	return buf.String()
}

func sessionPrefix(session string, size int) string {
	if size <= 0 || size >= len(session) {
		return session
	}
	return session[:size]
}

func fmtBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for rest := n / unit; rest >= unit; rest /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
