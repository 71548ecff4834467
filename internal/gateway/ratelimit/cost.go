package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// costRetention bounds how long daily records are kept in memory.
const costRetention = 35 * 24 * time.Hour

// CostRecord accumulates spend for one (service, day) pair.
type CostRecord struct {
	Service       string
	Day           string
	TotalUSD      float64
	RequestCount  int
	DistinctUsers int
}

// AlarmFunc is invoked once per (service, day) when spend crosses the
// configured threshold. It must not block.
type AlarmFunc func(rec CostRecord, thresholdUSD float64)

// costEntry is the mutable backing state for a CostRecord.
type costEntry struct {
	record CostRecord
	users  map[string]struct{}
	day    time.Time
}

// CostTracker keeps per-service daily spend. Tracking is advisory: it
// never denies a request, it only fires the alarm callback.
type CostTracker struct {
	mu        sync.Mutex
	entries   map[string]*costEntry
	threshold float64
	onAlarm   AlarmFunc
	alarmed   map[string]bool

	now func() time.Time
}

// NewCostTracker creates a tracker that fires onAlarm when a service's
// daily total crosses thresholdUSD. A nil onAlarm disables the alarm.
func NewCostTracker(thresholdUSD float64, onAlarm AlarmFunc) *CostTracker {
	return &CostTracker{
		entries:   make(map[string]*costEntry),
		threshold: thresholdUSD,
		onAlarm:   onAlarm,
		alarmed:   make(map[string]bool),
		now:       time.Now,
	}
}

// Track records amountUSD of spend against service for today. userID may
// be empty for unattributed spend.
func (t *CostTracker) Track(service string, amountUSD float64, userID string) {
	now := t.now()
	day := now.Format("2006-01-02")
	key := service + "|" + day

	var fire *CostRecord

	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &costEntry{
			record: CostRecord{Service: service, Day: day},
			users:  make(map[string]struct{}),
			day:    now,
		}
		t.entries[key] = e
		t.pruneLocked(now)
	}

	e.record.TotalUSD += amountUSD
	e.record.RequestCount++
	if userID != "" {
		e.users[userID] = struct{}{}
		e.record.DistinctUsers = len(e.users)
	}

	if t.onAlarm != nil && t.threshold > 0 && e.record.TotalUSD >= t.threshold && !t.alarmed[key] {
		t.alarmed[key] = true
		rec := e.record
		fire = &rec
	}
	t.mu.Unlock()

	if fire != nil {
		t.onAlarm(*fire, t.threshold)
	}
}

// Snapshot returns a copy of all retained records, newest day first.
func (t *CostTracker) Snapshot() []CostRecord {
	t.mu.Lock()
	records := make([]CostRecord, 0, len(t.entries))
	for _, e := range t.entries {
		records = append(records, e.record)
	}
	t.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Day != records[j].Day {
			return records[i].Day > records[j].Day
		}
		return records[i].Service < records[j].Service
	})
	return records
}

// Today returns the current record for service, or a zero record.
func (t *CostTracker) Today(service string) CostRecord {
	day := t.now().Format("2006-01-02")
	key := service + "|" + day

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		return e.record
	}
	return CostRecord{Service: service, Day: day}
}

// pruneLocked drops records older than the retention window. Caller
// holds t.mu.
func (t *CostTracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-costRetention)
	for key, e := range t.entries {
		if e.day.Before(cutoff) {
			delete(t.entries, key)
			delete(t.alarmed, key)
		}
	}
}
