package catalog

import "testing"

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	if c.Len() != 35 {
		t.Fatalf("Expected 35 items, got %d", c.Len())
	}
	if c.Runs() != 3 {
		t.Errorf("Expected 3 runs, got %d", c.Runs())
	}
	if c.TotalSlots() != 105 {
		t.Errorf("Expected 105 slots, got %d", c.TotalSlots())
	}
	if c.Item(0) != "A" || c.Item(25) != "Z" {
		t.Errorf("Expected letters first, got %q..%q", c.Item(0), c.Item(25))
	}
	if c.Item(26) != "Done" || c.Item(34) != "Screening" {
		t.Errorf("Expected commands last, got %q..%q", c.Item(26), c.Item(34))
	}
}

func TestItemsReturnsCopy(t *testing.T) {
	c := Default()
	items := c.Items()
	items[0] = "mutated"

	if c.Item(0) != "A" {
		t.Errorf("Catalog was mutated through Items(): %q", c.Item(0))
	}
}

func TestIndexIsCaseInsensitive(t *testing.T) {
	c := Default()

	cases := []struct {
		item string
		want int
		ok   bool
	}{
		{"a", 0, true},
		{"BACKSPACE", 30, true},
		{"screening", 34, true},
		{"Hello", -1, false},
	}
	for _, tc := range cases {
		got, ok := c.Index(tc.item)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Index(%q) = %d, %v; want %d, %v", tc.item, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNewRejectsZeroRuns(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("Expected error for zero runs")
	}
}
