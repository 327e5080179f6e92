package engine

import (
	"github.com/joluben/sigsim/internal/domain"
)

// logRing is a fixed-capacity circular buffer of log entries. Writes evict
// the oldest entry once the buffer is full. Not safe for concurrent use;
// the owning project guards it together with its subscriber list.
type logRing struct {
	entries []domain.LogEntry
	head    int // next write position
	count   int
}

func newLogRing(capacity int) *logRing {
	return &logRing{entries: make([]domain.LogEntry, capacity)}
}

func (r *logRing) push(entry domain.LogEntry) {
	r.entries[r.head] = entry
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

func (r *logRing) len() int { return r.count }

// newestFirst returns up to limit entries, most recent first. limit <= 0
// means all buffered entries.
func (r *logRing) newestFirst(limit int) []domain.LogEntry {
	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]domain.LogEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.head - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// tail returns the last n entries in chronological order, oldest first.
func (r *logRing) tail(n int) []domain.LogEntry {
	if n > r.count {
		n = r.count
	}
	out := make([]domain.LogEntry, 0, n)
	for i := n; i >= 1; i-- {
		idx := (r.head - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}
