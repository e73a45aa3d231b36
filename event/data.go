package event

// Data is the identity every event shares: the process session, the
// per-stream sequence position, and the instant the event describes,
// plus the optional runtime status snapshot. Event types embed Data
// and delegate the property names they do not recognize to it, so
// the shared fields keep one wire schema across all event types.
type Data struct {
	// Session identifies the producing process. Every event from
	// one process carries the same value.
	Session string

	// Position orders events within one logical stream, starting
	// at 1.
	Position int64

	// Time is the monotonic clock reading for the instant the
	// event describes, in nanoseconds.
	Time int64

	Status Status
}

// WriteProperties implements Message for the shared fields. Unset
// fields are omitted.
func (d *Data) WriteProperties(w *Writer) {
	if d.Session != "" {
		w.Str("s", d.Session)
	}
	if d.Position != 0 {
		w.Int64("p", d.Position)
	}
	if d.Time != 0 {
		w.Int64("t", d.Time)
	}
	d.Status.writeProperties(w)
}

// ReadProperty implements Message for the shared fields.
func (d *Data) ReadProperty(r *Reader, name string) error {
	var err error
	switch name {
	case "s":
		d.Session, err = r.ReadString()
	case "p":
		d.Position, err = r.ReadInt64()
	case "t":
		d.Time, err = r.ReadInt64()
	default:
		return d.Status.readProperty(r, name)
	}
	return err
}
