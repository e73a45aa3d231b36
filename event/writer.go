package event

import (
	"strconv"
	"strings"
)

// Writer builds one encoded event line. Begin opens the envelope,
// the typed property methods append name/value pairs, and End closes
// the envelope and returns the finished line. The zero value is
// ready to use, and a single Writer may be reused for any number of
// events without reallocating its buffer.
//
// Property methods return the Writer so a wire schema reads as one
// chained expression, in the manner of birch's element constructors.
type Writer struct {
	buf   strings.Builder
	props int
}

// Begin opens the envelope with the given mark and event-type tag
// and discards any previous content.
func (w *Writer) Begin(mark, tag rune) *Writer {
	w.buf.Reset()
	w.props = 0
	w.buf.WriteRune(mark)
	w.buf.WriteRune(tag)
	w.buf.WriteByte(BlockOpen)
	return w
}

// End closes the envelope and returns the encoded line.
func (w *Writer) End(mark rune) string {
	w.buf.WriteByte(BlockClose)
	w.buf.WriteRune(mark)
	return w.buf.String()
}

func (w *Writer) name(name string) {
	if w.props > 0 {
		w.buf.WriteByte(PropertySep)
	}
	w.props++
	w.buf.WriteString(name)
	w.buf.WriteByte(ValueAssign)
}

func (w *Writer) escaped(val string) {
	for i := 0; i < len(val); i++ {
		if reserved(val[i]) {
			w.buf.WriteByte(Escape)
		}
		w.buf.WriteByte(val[i])
	}
}

// Str appends a single string-valued property.
func (w *Writer) Str(name, value string) *Writer {
	w.name(name)
	w.escaped(value)
	return w
}

// Strs appends a tuple property with one member per value.
func (w *Writer) Strs(name string, values ...string) *Writer {
	w.name(name)
	for idx, val := range values {
		if idx > 0 {
			w.buf.WriteByte(ValueSep)
		}
		w.escaped(val)
	}
	return w
}

// Int64 appends a single integer-valued property.
func (w *Writer) Int64(name string, value int64) *Writer {
	w.name(name)
	w.buf.WriteString(strconv.FormatInt(value, 10))
	return w
}

// Int64s appends a tuple property of integers.
func (w *Writer) Int64s(name string, values ...int64) *Writer {
	w.name(name)
	for idx, val := range values {
		if idx > 0 {
			w.buf.WriteByte(ValueSep)
		}
		w.buf.WriteString(strconv.FormatInt(val, 10))
	}
	return w
}

// Float64 appends a floating point property, rendered in the
// shortest form that parses back to the same value.
func (w *Writer) Float64(name string, value float64) *Writer {
	w.name(name)
	w.buf.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
	return w
}

// Bool appends a boolean property.
func (w *Writer) Bool(name string, value bool) *Writer {
	w.name(name)
	w.buf.WriteString(strconv.FormatBool(value))
	return w
}

// Map appends an ordered map property. Entries render in insertion
// order and a null-valued entry renders as its key alone. A nil or
// empty Context renders as an empty map.
func (w *Writer) Map(name string, value *Context) *Writer {
	w.name(name)
	w.buf.WriteByte(MapOpen)
	first := true
	value.Observe(func(key string, val *string) {
		if !first {
			w.buf.WriteByte(MapSep)
		}
		first = false
		w.escaped(key)
		if val != nil {
			w.buf.WriteByte(MapAssign)
			w.escaped(*val)
		}
	})
	w.buf.WriteByte(MapClose)
	return w
}
