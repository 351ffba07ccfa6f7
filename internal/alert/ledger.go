package alert

import "sync"

// LedgerCapacity bounds the in-memory alert history. Oldest records are
// evicted first once the capacity is exceeded.
const LedgerCapacity = 100

// Ledger is a bounded, thread-safe, append-only log of accepted alerts,
// newest last. Shared between the pipeline goroutine (appends) and
// presentation goroutines (Recent/Len reads).
type Ledger struct {
	mu      sync.Mutex
	records []Record
	cap     int
}

// NewLedger creates an empty ledger with LedgerCapacity slots.
func NewLedger() *Ledger {
	return &Ledger{cap: LedgerCapacity}
}

// Append adds a record at the tail, evicting from the head when the
// capacity is exceeded. O(1) amortized.
func (l *Ledger) Append(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, r)
	if len(l.records) > l.cap {
		// Shift instead of reslice so evicted records are released
		overflow := len(l.records) - l.cap
		n := copy(l.records, l.records[overflow:])
		for i := n; i < len(l.records); i++ {
			l.records[i] = Record{}
		}
		l.records = l.records[:n]
	}
}

// Recent returns up to count most-recent records, newest last, as
// independent copies. Caller mutation cannot affect ledger state.
func (l *Ledger) Recent(count int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count <= 0 || len(l.records) == 0 {
		return nil
	}
	if count > len(l.records) {
		count = len(l.records)
	}

	out := make([]Record, 0, count)
	for _, r := range l.records[len(l.records)-count:] {
		out = append(out, r.clone())
	}
	return out
}

// Clear empties the ledger.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}

// Len returns the current record count.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
