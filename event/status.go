package event

// Status is the optional bundle of runtime measurements attached to
// an event. Each group is omitted from the wire when entirely unset,
// so a disabled collector costs nothing in the output. A few fields
// only carry data when the producing process runs on a managed
// runtime; the collectors in this module leave them zero.
type Status struct {
	// collected heap, bytes
	HeapCommitted int64
	HeapUsed      int64
	HeapMax       int64

	// memory outside the collected heap (stacks, allocator and
	// collector metadata), bytes
	NonHeapCommitted int64
	NonHeapUsed      int64
	NonHeapMax       int64

	// objects waiting on finalization
	PendingFinalizers int64

	// code loading and JIT activity, managed runtimes only
	ClassesLoaded   int64
	ClassesTotal    int64
	ClassesUnloaded int64
	CompileTime     int64

	// collector cycles and total pause time in nanoseconds
	GCCount int64
	GCTime  int64

	// scheduler activity
	Goroutines int64
	CgoCalls   int64

	// process memory as seen by the operating system, bytes
	ProcessUsed  int64
	ProcessTotal int64
	ProcessMax   int64

	// host memory, bytes
	SystemUsed  int64
	SystemTotal int64

	// one minute load average; zero or negative means the reading
	// was unavailable and the field is omitted
	Load float64
}

func (s *Status) writeProperties(w *Writer) {
	if nonzero(s.HeapCommitted, s.HeapUsed, s.HeapMax) {
		w.Int64s("h", s.HeapCommitted, s.HeapUsed, s.HeapMax)
	}
	if nonzero(s.NonHeapCommitted, s.NonHeapUsed, s.NonHeapMax) {
		w.Int64s("nh", s.NonHeapCommitted, s.NonHeapUsed, s.NonHeapMax)
	}
	if s.PendingFinalizers != 0 {
		w.Int64("fc", s.PendingFinalizers)
	}
	if nonzero(s.ClassesLoaded, s.ClassesTotal, s.ClassesUnloaded) {
		w.Int64s("cl", s.ClassesLoaded, s.ClassesTotal, s.ClassesUnloaded)
	}
	if s.CompileTime != 0 {
		w.Int64("ct", s.CompileTime)
	}
	if nonzero(s.GCCount, s.GCTime) {
		w.Int64s("gc", s.GCCount, s.GCTime)
	}
	if nonzero(s.Goroutines, s.CgoCalls) {
		w.Int64s("go", s.Goroutines, s.CgoCalls)
	}
	if nonzero(s.ProcessUsed, s.ProcessTotal, s.ProcessMax) {
		w.Int64s("pm", s.ProcessUsed, s.ProcessTotal, s.ProcessMax)
	}
	if nonzero(s.SystemUsed, s.SystemTotal) {
		w.Int64s("sm", s.SystemUsed, s.SystemTotal)
	}
	if s.Load > 0 {
		w.Float64("ld", s.Load)
	}
}

func (s *Status) readProperty(r *Reader, name string) error {
	switch name {
	case "h":
		return readLegs(r, &s.HeapCommitted, &s.HeapUsed, &s.HeapMax)
	case "nh":
		return readLegs(r, &s.NonHeapCommitted, &s.NonHeapUsed, &s.NonHeapMax)
	case "fc":
		return readLegs(r, &s.PendingFinalizers)
	case "cl":
		return readLegs(r, &s.ClassesLoaded, &s.ClassesTotal, &s.ClassesUnloaded)
	case "ct":
		return readLegs(r, &s.CompileTime)
	case "gc":
		return readLegs(r, &s.GCCount, &s.GCTime)
	case "go":
		return readLegs(r, &s.Goroutines, &s.CgoCalls)
	case "pm":
		return readLegs(r, &s.ProcessUsed, &s.ProcessTotal, &s.ProcessMax)
	case "sm":
		return readLegs(r, &s.SystemUsed, &s.SystemTotal)
	case "ld":
		var err error
		s.Load, err = r.ReadFloat64OrZero()
		return err
	default:
		return ErrUnknownProperty
	}
}

// readLegs reads the members of a numeric tuple, tolerating blank
// members and tuples shorter than the current schema so that lines
// from older producers still decode.
func readLegs(r *Reader, legs ...*int64) error {
	for idx, leg := range legs {
		if idx > 0 && !r.MoreValues() {
			return nil
		}
		val, err := r.ReadInt64OrZero()
		if err != nil {
			return err
		}
		*leg = val
	}
	return nil
}

func nonzero(vals ...int64) bool {
	for _, v := range vals {
		if v != 0 {
			return true
		}
	}
	return false
}
