package event

import (
	"github.com/tychoish/fun/dt"
)

// Context is an insertion-ordered set of free-form annotations
// attached to an event. Values may be null, which is distinct from
// the empty string; null entries render on the wire as a bare key
// with no value. Setting a key that already exists replaces its
// value in place without changing the entry's position.
//
// The zero value is ready to use. A Context belongs to one event at
// a time and is not safe for concurrent use.
type Context struct {
	entries []dt.Pair[string, *string]
}

// Set adds or replaces the entry for key.
func (c *Context) Set(key, value string) { c.put(key, &value) }

// SetNull adds or replaces the entry for key with the null value.
func (c *Context) SetNull(key string) { c.put(key, nil) }

func (c *Context) put(key string, value *string) {
	for idx := range c.entries {
		if c.entries[idx].Key == key {
			c.entries[idx].Value = value
			return
		}
	}
	c.entries = append(c.entries, dt.MakePair(key, value))
}

// Delete removes the entry for key, preserving the order of the
// remaining entries. Absent keys are a no-op.
func (c *Context) Delete(key string) {
	for idx := range c.entries {
		if c.entries[idx].Key == key {
			c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
			return
		}
	}
}

// Get returns the value stored for key. Null-valued entries report
// present with the empty string; use IsNull to tell them apart.
func (c *Context) Get(key string) (string, bool) {
	for idx := range c.entries {
		if c.entries[idx].Key == key {
			if c.entries[idx].Value == nil {
				return "", true
			}
			return *c.entries[idx].Value, true
		}
	}
	return "", false
}

// IsNull reports whether key is present and holds the null value.
func (c *Context) IsNull(key string) bool {
	for idx := range c.entries {
		if c.entries[idx].Key == key {
			return c.entries[idx].Value == nil
		}
	}
	return false
}

// Len returns the number of entries. Safe on a nil Context.
func (c *Context) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Clone returns an independent copy. Later mutation of either side
// does not affect the other.
func (c *Context) Clone() *Context {
	out := &Context{}
	if c.Len() == 0 {
		return out
	}
	out.entries = make([]dt.Pair[string, *string], len(c.entries))
	copy(out.entries, c.entries)
	return out
}

// Reset drops every entry, keeping the backing storage for reuse.
func (c *Context) Reset() {
	if c != nil {
		c.entries = c.entries[:0]
	}
}

// Observe calls fn for every entry in insertion order. The value is
// nil for null entries.
func (c *Context) Observe(fn func(key string, value *string)) {
	if c == nil {
		return
	}
	for _, kv := range c.entries {
		fn(kv.Key, kv.Value)
	}
}
