package logging

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Channels routes per-node debug output to sinks by channel name. A channel
// with no sinks is disabled and its messages are dropped without formatting.
type Channels struct {
	mu    sync.RWMutex
	sinks map[string][]io.Writer
}

// NewChannels returns a registry with every channel disabled.
func NewChannels() *Channels {
	return &Channels{sinks: make(map[string][]io.Writer)}
}

// Add binds w to the named channel. The same writer may be bound to several
// channels.
func (c *Channels) Add(name string, w io.Writer) {
	if w == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks[name] = append(c.sinks[name], w)
}

// Remove unbinds w from the named channel and reports whether it was bound.
func (c *Channels) Remove(name string, w io.Writer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sinks := c.sinks[name]
	for i, s := range sinks {
		if s == w {
			c.sinks[name] = append(sinks[:i], sinks[i+1:]...)
			if len(c.sinks[name]) == 0 {
				delete(c.sinks, name)
			}
			return true
		}
	}
	return false
}

// Enabled reports whether any sink is bound to the channel.
func (c *Channels) Enabled(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sinks[name]) > 0
}

// Names returns the enabled channel names in sorted order.
func (c *Channels) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.sinks))
	for name := range c.sinks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Printf writes "DEBUG (<node>): <msg>" to every sink bound to the channel.
// A trailing newline is added when the message lacks one.
func (c *Channels) Printf(name string, node int, format string, args ...any) {
	c.mu.RLock()
	sinks := append([]io.Writer{}, c.sinks[name]...)
	c.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	line := fmt.Sprintf("DEBUG (%d): %s", node, msg)
	for _, w := range sinks {
		_, _ = io.WriteString(w, line)
	}
}
