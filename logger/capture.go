package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Entry is one record seen by a Capture handler.
type Entry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Capture is an slog.Handler that keeps every record in memory so tests can
// assert on what reached the diagnostic channel.
type Capture struct {
	store *captureStore
	attrs []slog.Attr
}

type captureStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewCapture returns a logger backed by a fresh Capture and the Capture itself.
func NewCapture() (*slog.Logger, *Capture) {
	c := &Capture{store: &captureStore{}}
	return slog.New(c), c
}

func (c *Capture) Enabled(context.Context, slog.Level) bool { return true }

func (c *Capture) Handle(_ context.Context, r slog.Record) error {
	e := Entry{Level: r.Level, Message: r.Message, Attrs: make(map[string]any, len(c.attrs)+r.NumAttrs())}
	for _, a := range c.attrs {
		e.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs[a.Key] = a.Value.Any()
		return true
	})

	c.store.mu.Lock()
	c.store.entries = append(c.store.entries, e)
	c.store.mu.Unlock()
	return nil
}

func (c *Capture) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(c.attrs)+len(attrs))
	merged = append(merged, c.attrs...)
	merged = append(merged, attrs...)
	return &Capture{store: c.store, attrs: merged}
}

// WithGroup is a no-op: captured attributes are flat.
func (c *Capture) WithGroup(string) slog.Handler { return c }

// Entries returns a copy of everything captured so far.
func (c *Capture) Entries() []Entry {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	out := make([]Entry, len(c.store.entries))
	copy(out, c.store.entries)
	return out
}

// Messages returns the captured messages in order.
func (c *Capture) Messages() []string {
	entries := c.Entries()
	msgs := make([]string, len(entries))
	for i, e := range entries {
		msgs[i] = e.Message
	}
	return msgs
}

// Contains reports whether any captured message contains substr.
func (c *Capture) Contains(substr string) bool {
	for _, m := range c.Messages() {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// Find returns the captured entries whose message equals msg.
func (c *Capture) Find(msg string) []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}
