package meter

import (
	"sync/atomic"

	"github.com/tychoish/meter/event"
)

// Wire properties carried beyond the base identity keys: c category,
// n name, d description, l time limit, i current|expected iteration
// pair, t0/t1/t2 create, start, and stop times, ok success path, r
// rejection token, f failure class|message pair, and ctx the
// annotation map. Unset fields are omitted entirely.

// WriteProperties implements event.Message.
func (m *Meter) WriteProperties(w *event.Writer) {
	m.Data.WriteProperties(w)
	if m.category != "" {
		w.Str("c", m.category)
	}
	if m.name != "" {
		w.Str("n", m.name)
	}
	if m.desc != "" {
		w.Str("d", m.desc)
	}
	if m.limit != 0 {
		w.Int64("l", m.limit)
	}
	if m.current != 0 || m.expected != 0 {
		w.Int64s("i", m.current, m.expected)
	}
	if m.createTime != 0 {
		w.Int64("t0", m.createTime)
	}
	if m.startTime != 0 {
		w.Int64("t1", m.startTime)
	}
	if m.stopTime != 0 {
		w.Int64("t2", m.stopTime)
	}
	switch m.out.kind {
	case outcomeOK:
		if m.out.path != "" {
			w.Str("ok", m.out.path)
		}
	case outcomeReject:
		w.Str("r", m.out.reject)
	case outcomeFail:
		if m.out.text != "" {
			w.Strs("f", m.out.class, m.out.text)
		} else {
			w.Str("f", m.out.class)
		}
	}
	if m.ctx.Len() > 0 {
		w.Map("ctx", m.ctx)
	}
}

// ReadProperty implements event.Message. A stopped meter with no
// failure or rejection property decodes as a success, matching what
// the writer omits.
func (m *Meter) ReadProperty(r *event.Reader, name string) error {
	var err error
	switch name {
	case "c":
		m.category, err = r.ReadString()
	case "n":
		m.name, err = r.ReadString()
	case "d":
		m.desc, err = r.ReadString()
	case "l":
		m.limit, err = r.ReadInt64()
	case "i":
		if m.current, err = r.ReadInt64OrZero(); err != nil {
			return err
		}
		if r.MoreValues() {
			m.expected, err = r.ReadInt64OrZero()
		}
	case "t0":
		m.createTime, err = r.ReadInt64()
	case "t1":
		m.startTime, err = r.ReadInt64()
	case "t2":
		if m.stopTime, err = r.ReadInt64(); err == nil && m.out.kind == outcomeNone {
			m.out.kind = outcomeOK
		}
	case "ok":
		if m.out.path, err = r.ReadString(); err == nil {
			m.out.kind = outcomeOK
		}
	case "r":
		if m.out.reject, err = r.ReadString(); err == nil {
			m.out.kind = outcomeReject
		}
	case "f":
		if m.out.class, err = r.ReadString(); err != nil {
			return err
		}
		if r.MoreValues() {
			if m.out.text, err = r.ReadString(); err != nil {
				return err
			}
		}
		m.out.kind = outcomeFail
	case "ctx":
		m.ctx, err = r.ReadMap()
	default:
		return m.Data.ReadProperty(r, name)
	}
	return err
}

// DecodeLine parses one encoded meter payload, as produced by the
// trace emissions, into a detached snapshot for analysis. The
// payload may be embedded anywhere in a larger log line.
func DecodeLine(line string) (*Meter, error) {
	if payload, ok := event.Extract(line, event.DefaultOpen, Tag, event.DefaultClose); ok {
		line = payload
	}
	m := &Meter{ctx: &event.Context{}, running: new(atomic.Int64)}
	if err := event.Decode(line, event.DefaultOpen, Tag, event.DefaultClose, m); err != nil {
		return nil, err
	}
	return m, nil
}
