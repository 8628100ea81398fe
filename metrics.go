// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter.
type Counter struct {
	value int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// EngineMetrics holds per-engine frame processing counters.
type EngineMetrics struct {
	FramesTotal   Counter // frames handed to Process
	FramesDropped Counter // frames that produced no response
	Exceptions    Counter // responses carrying an exception code
	Reads         Counter // successful read operations against the store
	Writes        Counter // successful write operations against the store
}

// Collect returns all counters as a map (compatible with expvar/prometheus).
func (m *EngineMetrics) Collect() map[string]int64 {
	return map[string]int64{
		"frames_total":   m.FramesTotal.Value(),
		"frames_dropped": m.FramesDropped.Value(),
		"exceptions":     m.Exceptions.Value(),
		"reads":          m.Reads.Value(),
		"writes":         m.Writes.Value(),
	}
}

// Reset resets all counters.
func (m *EngineMetrics) Reset() {
	m.FramesTotal.Reset()
	m.FramesDropped.Reset()
	m.Exceptions.Reset()
	m.Reads.Reset()
	m.Writes.Reset()
}

// latencyBuckets pairs each histogram upper bound (milliseconds) with its
// label; the final bucket also absorbs anything slower.
var latencyBuckets = []struct {
	bound float64
	label string
}{
	{1, "1ms"}, {5, "5ms"}, {10, "10ms"}, {25, "25ms"}, {50, "50ms"},
	{100, "100ms"}, {250, "250ms"}, {500, "500ms"}, {1000, "1s"}, {5000, "5s+"},
}

// LatencyHistogram tracks latency distribution. The engine itself does not
// time anything (it has no suspension points); transport loops observe their
// per-frame turnaround here.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets []int64 // count per latencyBuckets entry
	sum     float64 // sum of all observations
	count   int64   // total count
	min     float64 // minimum observed value
	max     float64 // maximum observed value
}

// NewLatencyHistogram creates a new latency histogram with default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(latencyBuckets)),
		min:     -1,
		max:     -1,
	}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++

	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	for i, b := range latencyBuckets {
		if ms <= b.bound {
			h.buckets[i]++
			return
		}
	}
	// Greater than all bounds
	h.buckets[len(h.buckets)-1]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64),
	}

	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}

	for i, count := range h.buckets {
		stats.Buckets[latencyBuckets[i].label] = count
	}

	return stats
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Buckets map[string]int64
}
