package alert

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// TestArchiveStoreAndCount validates the basic append path.
func TestArchiveStoreAndCount(t *testing.T) {
	a := openTestArchive(t)

	for i := 0; i < 3; i++ {
		if err := a.Store(makeRecord(i)); err != nil {
			t.Fatalf("Store(%d) failed: %v", i, err)
		}
	}

	n, err := a.Count()
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

// TestArchiveSinceRoundTrip validates persistence fidelity and the
// time filter.
func TestArchiveSinceRoundTrip(t *testing.T) {
	a := openTestArchive(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	early := Record{
		ID:             "alert-early",
		Timestamp:      base,
		Labels:         []string{"pistol"},
		Scores:         []float64{0.97},
		ScreenshotPath: "alerts/alert_20250601_120000.jpg",
	}
	late := Record{
		ID:        "alert-late",
		Timestamp: base.Add(time.Hour),
		Labels:    []string{"rifle", "pistol"},
		Scores:    []float64{0.91, 0.85},
	}

	if err := a.Store(early); err != nil {
		t.Fatalf("Store(early) failed: %v", err)
	}
	if err := a.Store(late); err != nil {
		t.Fatalf("Store(late) failed: %v", err)
	}

	got, err := a.Since(base.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("Since() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Since() returned %d records, want 1", len(got))
	}

	rec := got[0]
	if rec.ID != "alert-late" {
		t.Errorf("ID = %q", rec.ID)
	}
	if !rec.Timestamp.Equal(late.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, late.Timestamp)
	}
	if len(rec.Labels) != 2 || rec.Labels[0] != "rifle" {
		t.Errorf("Labels = %v", rec.Labels)
	}
	if len(rec.Scores) != 2 || rec.Scores[0] != 0.91 {
		t.Errorf("Scores = %v", rec.Scores)
	}
}

// TestArchiveDuplicateIDRejected validates the primary key constraint:
// the same alert id cannot be archived twice.
func TestArchiveDuplicateIDRejected(t *testing.T) {
	a := openTestArchive(t)

	rec := makeRecord(1)
	if err := a.Store(rec); err != nil {
		t.Fatalf("first Store() failed: %v", err)
	}
	if err := a.Store(rec); err == nil {
		t.Error("duplicate Store() succeeded, want constraint error")
	}
}

// TestArchiveReopen validates durability across handles.
func TestArchiveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")

	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	if err := a.Store(makeRecord(1)); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	b, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer b.Close()

	n, err := b.Count()
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() after reopen = %d, want 1", n)
	}
}
