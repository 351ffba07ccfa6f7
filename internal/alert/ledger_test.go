package alert

import (
	"fmt"
	"testing"
	"time"
)

func makeRecord(i int) Record {
	return Record{
		ID:        fmt.Sprintf("alert-%03d", i),
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		Labels:    []string{"pistol"},
		Scores:    []float64{0.97},
	}
}

// TestLedgerCapacityEviction validates the bounded history: appending
// past capacity evicts oldest-first and never grows beyond the cap.
//
// Scenario:
//  1. Append 150 records
//  2. Assert: Len() == 100
//  3. Assert: oldest surviving record is #50, newest is #149
func TestLedgerCapacityEviction(t *testing.T) {
	l := NewLedger()

	for i := 0; i < 150; i++ {
		l.Append(makeRecord(i))
	}

	if l.Len() != LedgerCapacity {
		t.Fatalf("Len() = %d, want %d", l.Len(), LedgerCapacity)
	}

	all := l.Recent(LedgerCapacity)
	if got := all[0].ID; got != "alert-050" {
		t.Errorf("oldest surviving record = %s, want alert-050", got)
	}
	if got := all[len(all)-1].ID; got != "alert-149" {
		t.Errorf("newest record = %s, want alert-149", got)
	}
}

// TestLedgerRecentNewestLast validates ordering and count clamping.
func TestLedgerRecentNewestLast(t *testing.T) {
	l := NewLedger()
	for i := 0; i < 20; i++ {
		l.Append(makeRecord(i))
	}

	recent := l.Recent(5)
	if len(recent) != 5 {
		t.Fatalf("Recent(5) returned %d records", len(recent))
	}
	for i, r := range recent {
		want := fmt.Sprintf("alert-%03d", 15+i)
		if r.ID != want {
			t.Errorf("recent[%d].ID = %s, want %s", i, r.ID, want)
		}
	}

	// count larger than held records clamps
	if got := len(l.Recent(1000)); got != 20 {
		t.Errorf("Recent(1000) returned %d records, want 20", got)
	}

	// non-positive count returns nothing
	if l.Recent(0) != nil {
		t.Error("Recent(0) should return nil")
	}
}

// TestLedgerRecentReturnsCopies validates isolation: mutating a returned
// record must not leak into ledger state.
func TestLedgerRecentReturnsCopies(t *testing.T) {
	l := NewLedger()
	l.Append(makeRecord(0))

	got := l.Recent(1)
	got[0].Labels[0] = "mutated"

	again := l.Recent(1)
	if again[0].Labels[0] != "pistol" {
		t.Errorf("ledger state mutated through Recent() result: label = %s", again[0].Labels[0])
	}
}

// TestLedgerClear validates that Clear empties the history.
func TestLedgerClear(t *testing.T) {
	l := NewLedger()
	for i := 0; i < 10; i++ {
		l.Append(makeRecord(i))
	}

	l.Clear()

	if l.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", l.Len())
	}
	if l.Recent(10) != nil {
		t.Error("Recent() after Clear should return nil")
	}

	// Ledger stays usable after Clear
	l.Append(makeRecord(99))
	if l.Len() != 1 {
		t.Errorf("Len() after post-Clear append = %d, want 1", l.Len())
	}
}
