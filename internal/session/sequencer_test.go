package session

import (
	"errors"
	"testing"

	"github.com/audiolibrelab/voicecollect/internal/catalog"
)

func TestAdvanceThroughWholeSession(t *testing.T) {
	seq := NewSequencer(catalog.Default())

	for i := 0; i < 104; i++ {
		done, err := seq.Advance()
		if err != nil || done {
			t.Fatalf("Advance %d: done=%v err=%v", i+1, done, err)
		}
	}

	if got := seq.Position(); got != (Position{Run: 3, ItemIndex: 34}) {
		t.Fatalf("Expected run 3 item 34 after 104 advances, got %s", got)
	}
	if seq.Current().Item != "Screening" {
		t.Errorf("Expected last item Screening, got %s", seq.Current().Item)
	}

	done, err := seq.Advance()
	if err != nil || !done {
		t.Fatalf("Expected completion on 105th advance, got done=%v err=%v", done, err)
	}
	if !seq.Complete() {
		t.Error("Expected sequencer to be complete")
	}

	done, err = seq.Advance()
	if !errors.Is(err, ErrSessionComplete) || !done {
		t.Errorf("Expected ErrSessionComplete after completion, got done=%v err=%v", done, err)
	}
	if _, ok := seq.Redo(); ok {
		t.Error("Expected Redo to be refused once complete")
	}
}

func TestAdvanceRollsOverRuns(t *testing.T) {
	seq, err := Resume(catalog.Default(), Position{Run: 1, ItemIndex: 34})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if _, err := seq.Advance(); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if got := seq.Position(); got != (Position{Run: 2, ItemIndex: 0}) {
		t.Errorf("Expected run 2 item 0, got %s", got)
	}
}

func TestRedo(t *testing.T) {
	cat := catalog.Default()

	cases := []struct {
		name  string
		start Position
		want  Position
		ok    bool
	}{
		{"first slot is a no-op", Position{Run: 1, ItemIndex: 0}, Position{Run: 1, ItemIndex: 0}, false},
		{"within a run", Position{Run: 1, ItemIndex: 5}, Position{Run: 1, ItemIndex: 4}, true},
		{"across runs", Position{Run: 2, ItemIndex: 0}, Position{Run: 1, ItemIndex: 34}, true},
		{"last run", Position{Run: 3, ItemIndex: 0}, Position{Run: 2, ItemIndex: 34}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seq, err := Resume(cat, tc.start)
			if err != nil {
				t.Fatalf("Resume failed: %v", err)
			}
			slot, ok := seq.Redo()
			if ok != tc.ok {
				t.Fatalf("Redo ok=%v, want %v", ok, tc.ok)
			}
			if got := seq.Position(); got != tc.want {
				t.Errorf("Position after Redo = %s, want %s", got, tc.want)
			}
			if ok && slot.Position != tc.want {
				t.Errorf("Redo returned slot %s, want %s", slot.Position, tc.want)
			}
			if ok && slot.Item != cat.Item(tc.want.ItemIndex) {
				t.Errorf("Redo returned item %q, want %q", slot.Item, cat.Item(tc.want.ItemIndex))
			}
		})
	}
}

func TestProgressMonotonic(t *testing.T) {
	seq := NewSequencer(catalog.Default())

	last := seq.Progress()
	if last != 0 {
		t.Fatalf("Expected 0%% at start, got %v", last)
	}
	for {
		done, err := seq.Advance()
		if err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
		p := seq.Progress()
		if p < last {
			t.Fatalf("Progress decreased from %v to %v", last, p)
		}
		last = p
		if done {
			break
		}
	}
	if last != 100 {
		t.Errorf("Expected exactly 100%% at completion, got %v", last)
	}
}

func TestProgressNonIncreasingUnderRedo(t *testing.T) {
	seq, err := Resume(catalog.Default(), Position{Run: 2, ItemIndex: 3})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	before := seq.Progress()
	seq.Redo()
	if after := seq.Progress(); after > before {
		t.Errorf("Progress increased under Redo: %v -> %v", before, after)
	}
	if got := seq.CompletedSlots(); got != 37 {
		t.Errorf("Expected 37 completed slots, got %d", got)
	}
}

func TestResumeRejectsOutOfBounds(t *testing.T) {
	cat := catalog.Default()
	for _, pos := range []Position{{Run: 0}, {Run: 4}, {Run: 1, ItemIndex: -1}, {Run: 1, ItemIndex: 35}} {
		if _, err := Resume(cat, pos); err == nil {
			t.Errorf("Expected Resume(%s) to fail", pos)
		}
	}
}
