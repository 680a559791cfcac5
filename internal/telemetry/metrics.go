// Package telemetry collects per-query retrieval metrics in a bounded ring
// buffer, surfaced through the stats CLI and the MCP index_status tool.
package telemetry

import (
	"sync"
	"time"

	"github.com/lexrag/lexrag/internal/search"
)

// DefaultCapacity is the number of recent queries retained.
const DefaultCapacity = 512

// QueryRecord is one query's captured metrics.
type QueryRecord struct {
	Timestamp   time.Time
	Duration    time.Duration
	ResultCount int
	Degraded    bool
}

// Collector accumulates query records in a fixed-size ring buffer.
// Safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	records []QueryRecord
	next    int
	filled  bool

	total       int64
	degraded    int64
	zeroResults int64
}

var _ search.QueryRecorder = (*Collector)(nil)

// NewCollector creates a collector. capacity <= 0 uses the default.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Collector{records: make([]QueryRecord, capacity)}
}

// RecordQuery stores one query's stats, overwriting the oldest entry once
// the buffer is full.
func (c *Collector) RecordQuery(stats search.QueryStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[c.next] = QueryRecord{
		Timestamp:   time.Now(),
		Duration:    stats.Duration,
		ResultCount: stats.ResultCount,
		Degraded:    stats.Degraded,
	}
	c.next++
	if c.next == len(c.records) {
		c.next = 0
		c.filled = true
	}

	c.total++
	if stats.Degraded {
		c.degraded++
	}
	if stats.ResultCount == 0 {
		c.zeroResults++
	}
}

// Snapshot is an aggregated view over the collector's lifetime counters and
// the retained window.
type Snapshot struct {
	TotalQueries    int64         `json:"total_queries"`
	DegradedQueries int64         `json:"degraded_queries"`
	ZeroResults     int64         `json:"zero_result_queries"`
	WindowSize      int           `json:"window_size"`
	AvgDuration     time.Duration `json:"avg_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	AvgResultCount  float64       `json:"avg_result_count"`
}

// Snapshot aggregates the retained records.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.next
	if c.filled {
		window = len(c.records)
	}

	snap := Snapshot{
		TotalQueries:    c.total,
		DegradedQueries: c.degraded,
		ZeroResults:     c.zeroResults,
		WindowSize:      window,
	}
	if window == 0 {
		return snap
	}

	var totalDur time.Duration
	var totalResults int
	for i := 0; i < window; i++ {
		r := c.records[i]
		totalDur += r.Duration
		totalResults += r.ResultCount
		if r.Duration > snap.MaxDuration {
			snap.MaxDuration = r.Duration
		}
	}
	snap.AvgDuration = totalDur / time.Duration(window)
	snap.AvgResultCount = float64(totalResults) / float64(window)
	return snap
}
