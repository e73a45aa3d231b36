package meter

import "fmt"

// Close implements io.Closer as the safety net for abandoned meters:
// closing before a terminal outcome records a failure with the
// closed-without-outcome cause. Closing a finished meter does
// nothing. Always returns nil so it can sit in a defer without
// ceremony.
func (m *Meter) Close() error {
	if m.stopTime == 0 {
		m.Fail(ErrClosedWithoutOutcome)
	}
	return nil
}

// Run times op under the meter: Start, then op, then OK on a nil
// error and Fail otherwise. The error passes through unchanged. A
// panic inside op is recorded as the failure cause and re-raised.
func (m *Meter) Run(op func() error) error {
	m.Start()
	defer m.failOnPanic()
	if err := op(); err != nil {
		m.Fail(err)
		return err
	}
	m.OK()
	return nil
}

// Call times a value-returning operation, recording the outcome the
// same way Run does.
func Call[T any](m *Meter, op func() (T, error)) (T, error) {
	m.Start()
	defer m.failOnPanic()
	out, err := op()
	if err != nil {
		m.Fail(err)
		return out, err
	}
	m.OK()
	return out, nil
}

// SafeCall is Call for callers that normalize errors at a boundary:
// the meter records the original cause, and the caller receives
// wrap(err) in its place. A nil wrap behaves like Call.
func SafeCall[T any](m *Meter, wrap func(error) error, op func() (T, error)) (T, error) {
	out, err := Call(m, op)
	if err != nil && wrap != nil {
		return out, wrap(err)
	}
	return out, err
}

// failOnPanic records a panic as the meter's failure and lets it
// continue unwinding.
func (m *Meter) failOnPanic() {
	if p := recover(); p != nil {
		m.Fail(panicError(p))
		panic(p)
	}
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", p)
}
