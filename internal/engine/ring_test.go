package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joluben/sigsim/internal/domain"
)

func ringEntry(seq int) domain.LogEntry {
	return domain.LogEntry{
		Timestamp: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
		DeviceID:  "dev-001",
		EventType: domain.EventInfo,
		Message:   fmt.Sprintf("entry-%03d", seq),
	}
}

func TestLogRing_FillsUpToCapacity(t *testing.T) {
	r := newLogRing(5)
	assert.Zero(t, r.len())

	for i := 0; i < 3; i++ {
		r.push(ringEntry(i))
	}
	assert.Equal(t, 3, r.len())
}

func TestLogRing_EvictsOldestWhenFull(t *testing.T) {
	r := newLogRing(5)
	for i := 0; i < 8; i++ {
		r.push(ringEntry(i))
	}

	require.Equal(t, 5, r.len())
	got := r.newestFirst(0)
	require.Len(t, got, 5)
	// Entries 0-2 were overwritten; the survivors come back newest first.
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("entry-%03d", 7-i), e.Message)
	}
}

func TestLogRing_NewestFirstHonorsLimit(t *testing.T) {
	r := newLogRing(10)
	for i := 0; i < 6; i++ {
		r.push(ringEntry(i))
	}

	got := r.newestFirst(2)
	require.Len(t, got, 2)
	assert.Equal(t, "entry-005", got[0].Message)
	assert.Equal(t, "entry-004", got[1].Message)

	assert.Len(t, r.newestFirst(50), 6, "limit past the buffered count returns everything")
}

func TestLogRing_TailIsChronological(t *testing.T) {
	r := newLogRing(5)
	for i := 0; i < 9; i++ {
		r.push(ringEntry(i))
	}

	got := r.tail(3)
	require.Len(t, got, 3)
	assert.Equal(t, "entry-006", got[0].Message)
	assert.Equal(t, "entry-007", got[1].Message)
	assert.Equal(t, "entry-008", got[2].Message)
}

func TestLogRing_TailClampsToCount(t *testing.T) {
	r := newLogRing(10)
	r.push(ringEntry(0))
	r.push(ringEntry(1))

	got := r.tail(20)
	require.Len(t, got, 2)
	assert.Equal(t, "entry-000", got[0].Message)
	assert.Equal(t, "entry-001", got[1].Message)
}

func TestLogRing_EmptyReads(t *testing.T) {
	r := newLogRing(4)
	assert.Empty(t, r.newestFirst(0))
	assert.Empty(t, r.tail(10))
}
