// Package catalog defines the fixed ordered list of items a subject records
// and how many times each item is repeated.
package catalog

import (
	"fmt"
	"strings"
)

// DefaultRuns is the number of passes over the item list in a session.
const DefaultRuns = 3

// Commands are the spoken command words recorded after the letters, in order.
var commands = []string{"Done", "Enter", "Delete", "Repeat", "Backspace", "Again", "Undo", "Tutorial", "Screening"}

// Catalog is an immutable item list plus repetition count. Construct it once
// at startup and share the pointer.
type Catalog struct {
	items []string
	runs  int
}

// Default returns the standard catalogue: A-Z followed by the nine commands,
// repeated DefaultRuns times.
func Default() *Catalog {
	c, _ := New(DefaultRuns)
	return c
}

// New builds the standard item list with the given number of runs.
func New(runs int) (*Catalog, error) {
	if runs < 1 {
		return nil, fmt.Errorf("runs must be at least 1, got %d", runs)
	}
	items := make([]string, 0, 26+len(commands))
	for r := 'A'; r <= 'Z'; r++ {
		items = append(items, string(r))
	}
	items = append(items, commands...)
	return &Catalog{items: items, runs: runs}, nil
}

// Len returns the number of items in one run.
func (c *Catalog) Len() int { return len(c.items) }

// Runs returns how many passes a session makes over the items.
func (c *Catalog) Runs() int { return c.runs }

// TotalSlots returns Len() * Runs().
func (c *Catalog) TotalSlots() int { return len(c.items) * c.runs }

// Item returns the item at index i. It panics when i is out of range, as a
// slice index would.
func (c *Catalog) Item(i int) string { return c.items[i] }

// Items returns a copy of the ordered item list.
func (c *Catalog) Items() []string {
	out := make([]string, len(c.items))
	copy(out, c.items)
	return out
}

// Index reports the position of item, matching case-insensitively.
func (c *Catalog) Index(item string) (int, bool) {
	for i, it := range c.items {
		if strings.EqualFold(it, item) {
			return i, true
		}
	}
	return -1, false
}

// Contains reports whether item is in the catalogue (case-insensitive).
func (c *Catalog) Contains(item string) bool {
	_, ok := c.Index(item)
	return ok
}

// Commands returns the command words in catalogue order.
func Commands() []string {
	out := make([]string, len(commands))
	copy(out, commands)
	return out
}
