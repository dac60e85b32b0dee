package ingest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDeduper(t *testing.T, ttlSec, capacity int, path string) (*Deduper, *time.Time) {
	t.Helper()
	d := NewDeduper(ttlSec, capacity, path, zap.NewNop().Sugar())
	now := time.Now()
	d.now = func() time.Time { return now }
	return d, &now
}

func TestDedupeDropsWithinTTL(t *testing.T) {
	d, now := newTestDeduper(t, 2, 16, "")

	assert.True(t, d.Accept("X"))
	assert.False(t, d.Accept("X"))

	// The drop must not refresh the window: entry still expires at +2s
	// from the first accept.
	*now = now.Add(1500 * time.Millisecond)
	assert.False(t, d.Accept("X"))
	*now = now.Add(800 * time.Millisecond)
	assert.True(t, d.Accept("X"))
}

func TestDedupeEmptyIDAlwaysAccepts(t *testing.T) {
	d, _ := newTestDeduper(t, 60, 16, "")
	assert.True(t, d.Accept(""))
	assert.True(t, d.Accept(""))
}

func TestDedupeCapacityEvictsOldest(t *testing.T) {
	d, _ := newTestDeduper(t, 3600, 3, "")

	require.True(t, d.Accept("a"))
	require.True(t, d.Accept("b"))
	require.True(t, d.Accept("c"))
	require.True(t, d.Accept("d")) // evicts a

	assert.Equal(t, 3, d.Len())
	assert.True(t, d.Accept("a"), "evicted id must be accepted again")
	assert.False(t, d.Accept("c"))
}

func TestDedupePersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd_seen.json")

	d1, _ := newTestDeduper(t, 3600, 16, path)
	require.True(t, d1.Accept("keep-me"))
	d1.Persist()

	d2, _ := newTestDeduper(t, 3600, 16, path)
	assert.False(t, d2.Accept("keep-me"), "restored entry must still dedupe")
	assert.True(t, d2.Accept("fresh"))
}

func TestDedupePersistenceFiltersExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd_seen.json")

	d1, _ := newTestDeduper(t, 3600, 16, path)
	require.True(t, d1.Accept("old"))
	d1.Persist()

	d2 := NewDeduper(3600, 16, path, zap.NewNop().Sugar())
	later := time.Now().Add(2 * time.Hour)
	d2.now = func() time.Time { return later }
	// Restored entry is past its TTL by the time it is consulted.
	assert.True(t, d2.Accept("old"), "expired restore must not dedupe")
}
