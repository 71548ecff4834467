package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostTracker_AccumulatesPerServiceDay(t *testing.T) {
	clock := newFakeClock()
	tracker := NewCostTracker(100, nil)
	tracker.now = clock.Now

	tracker.Track("openai", 0.002, "u1")
	tracker.Track("openai", 0.003, "u2")
	tracker.Track("openai", 0.001, "u1")
	tracker.Track("vision", 0.010, "u1")

	rec := tracker.Today("openai")
	assert.InDelta(t, 0.006, rec.TotalUSD, 1e-9)
	assert.Equal(t, 3, rec.RequestCount)
	assert.Equal(t, 2, rec.DistinctUsers)

	rec = tracker.Today("vision")
	assert.InDelta(t, 0.010, rec.TotalUSD, 1e-9)
	assert.Equal(t, 1, rec.RequestCount)
}

func TestCostTracker_NewDayStartsFresh(t *testing.T) {
	clock := newFakeClock()
	tracker := NewCostTracker(100, nil)
	tracker.now = clock.Now

	tracker.Track("openai", 1.0, "")
	clock.Advance(24 * time.Hour)

	rec := tracker.Today("openai")
	assert.Zero(t, rec.TotalUSD)
	assert.Zero(t, rec.RequestCount)

	// Yesterday's record is retained in the snapshot.
	records := tracker.Snapshot()
	require.Len(t, records, 1)
	assert.InDelta(t, 1.0, records[0].TotalUSD, 1e-9)
}

func TestCostTracker_AlarmFiresOncePerDay(t *testing.T) {
	clock := newFakeClock()
	var fired []CostRecord
	tracker := NewCostTracker(0.005, func(rec CostRecord, threshold float64) {
		fired = append(fired, rec)
	})
	tracker.now = clock.Now

	tracker.Track("openai", 0.002, "u1")
	assert.Empty(t, fired)

	tracker.Track("openai", 0.004, "u1")
	require.Len(t, fired, 1)
	assert.Equal(t, "openai", fired[0].Service)
	assert.InDelta(t, 0.006, fired[0].TotalUSD, 1e-9)

	// Further spend the same day does not re-fire.
	tracker.Track("openai", 1.0, "u1")
	assert.Len(t, fired, 1)

	// A new day re-arms the alarm.
	clock.Advance(24 * time.Hour)
	tracker.Track("openai", 0.006, "u1")
	assert.Len(t, fired, 2)
}

func TestCostTracker_SnapshotSorted(t *testing.T) {
	clock := newFakeClock()
	tracker := NewCostTracker(100, nil)
	tracker.now = clock.Now

	tracker.Track("vision", 0.1, "")
	tracker.Track("openai", 0.2, "")
	clock.Advance(24 * time.Hour)
	tracker.Track("openai", 0.3, "")

	records := tracker.Snapshot()
	require.Len(t, records, 3)
	// Newest day first, then service name.
	assert.Equal(t, "2026-03-02", records[0].Day)
	assert.Equal(t, "openai", records[1].Service)
	assert.Equal(t, "vision", records[2].Service)
}
