// Package session tracks the position of a recording session over the
// (run, item) slots of a catalogue.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/audiolibrelab/voicecollect/internal/catalog"
)

// ErrSessionComplete is returned when advancing a finished session.
var ErrSessionComplete = errors.New("session complete")

// Position identifies the next slot to capture. Run is 1-based, ItemIndex
// 0-based.
type Position struct {
	Run       int `json:"run"`
	ItemIndex int `json:"item_index"`
}

func (p Position) String() string {
	return fmt.Sprintf("run %d item %d", p.Run, p.ItemIndex)
}

// Slot is a position together with the item it names.
type Slot struct {
	Position
	Item string `json:"item"`
}

// Sequencer owns a Position and its transition rules. It is safe for
// concurrent use.
type Sequencer struct {
	cat *catalog.Catalog

	mu       sync.RWMutex
	pos      Position
	complete bool
}

// NewSequencer starts a sequencer at run 1, item 0.
func NewSequencer(cat *catalog.Catalog) *Sequencer {
	return &Sequencer{cat: cat, pos: Position{Run: 1}}
}

// Resume starts a sequencer at pos, which must be in bounds.
func Resume(cat *catalog.Catalog, pos Position) (*Sequencer, error) {
	if pos.Run < 1 || pos.Run > cat.Runs() || pos.ItemIndex < 0 || pos.ItemIndex >= cat.Len() {
		return nil, fmt.Errorf("position %s out of bounds", pos)
	}
	return &Sequencer{cat: cat, pos: pos}, nil
}

// Catalog returns the catalogue the sequencer walks.
func (s *Sequencer) Catalog() *catalog.Catalog { return s.cat }

// Position returns the current position.
func (s *Sequencer) Position() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}

// Current returns the slot to capture next.
func (s *Sequencer) Current() Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Slot{Position: s.pos, Item: s.cat.Item(s.pos.ItemIndex)}
}

// Complete reports whether the last slot of the last run has been accepted.
func (s *Sequencer) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete
}

// Advance moves past the current slot. Advancing from the final slot marks
// the session complete and returns done=true; further calls return
// ErrSessionComplete.
func (s *Sequencer) Advance() (done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return true, ErrSessionComplete
	}

	switch {
	case s.pos.ItemIndex < s.cat.Len()-1:
		s.pos.ItemIndex++
	case s.pos.Run < s.cat.Runs():
		s.pos.Run++
		s.pos.ItemIndex = 0
	default:
		s.complete = true
		return true, nil
	}
	return false, nil
}

// Redo steps back one slot and returns the slot that was stepped back to,
// which is the slot whose sample is being abandoned. At the very first slot,
// or once complete, it does nothing and returns ok=false.
func (s *Sequencer) Redo() (Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return Slot{}, false
	}

	switch {
	case s.pos.ItemIndex > 0:
		s.pos.ItemIndex--
	case s.pos.Run > 1:
		s.pos.Run--
		s.pos.ItemIndex = s.cat.Len() - 1
	default:
		return Slot{}, false
	}
	return Slot{Position: s.pos, Item: s.cat.Item(s.pos.ItemIndex)}, true
}

// CompletedSlots returns the number of slots accepted so far.
func (s *Sequencer) CompletedSlots() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.complete {
		return s.cat.TotalSlots()
	}
	return (s.pos.Run-1)*s.cat.Len() + s.pos.ItemIndex
}

// Progress returns the completed share of the session as a percentage.
func (s *Sequencer) Progress() float64 {
	total := s.cat.TotalSlots()
	if total == 0 {
		return 0
	}
	return float64(s.CompletedSlots()) / float64(total) * 100
}
