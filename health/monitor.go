package health

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultCapacity = 1000

	// errorRateThresholdPct is the error rate at or above which a shop is
	// reported unhealthy.
	errorRateThresholdPct = 10.0

	// freshnessWindow bounds how stale the newest metric may be before the
	// pipeline is considered stalled.
	freshnessWindow = 24 * time.Hour
)

// Metric is one webhook processing outcome. Attempts counts how many
// delivery attempts ran before the final outcome, so retried deliveries
// still produce exactly one metric.
type Metric struct {
	Timestamp time.Time
	Shop      string
	Topic     string
	Success   bool
	Duration  time.Duration
	Error     string
	Attempts  int
}

// Stats aggregates the retained metrics for one scope.
type Stats struct {
	Total             int
	Successful        int
	Failed            int
	AvgProcessingTime time.Duration
	ErrorRatePct      float64
	LastProcessedAt   time.Time
}

// TopicStats aggregates per webhook topic.
type TopicStats struct {
	Total    int
	Failed   int
	AvgTime  time.Duration
	LastSeen time.Time
}

// Monitor retains a bounded window of processing metrics in memory. When
// the window is full the oldest entry is evicted. Safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	metrics  []Metric
	start    int
	count    int
	capacity int
	now      func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		metrics:  make([]Metric, defaultCapacity),
		capacity: defaultCapacity,
		now:      time.Now,
	}
}

// WithCapacity resizes the retention window. Existing metrics are dropped.
func (m *Monitor) WithCapacity(n int) *Monitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = make([]Metric, n)
	m.capacity = n
	m.start = 0
	m.count = 0
	return m
}

func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Record appends a metric, evicting the oldest when the window is full.
// A zero Timestamp is stamped with the current time.
func (m *Monitor) Record(metric Metric) {
	if metric.Timestamp.IsZero() {
		metric.Timestamp = m.now().UTC()
	}
	if metric.Attempts < 1 {
		metric.Attempts = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count < m.capacity {
		m.metrics[(m.start+m.count)%m.capacity] = metric
		m.count++
		return
	}
	m.metrics[m.start] = metric
	m.start = (m.start + 1) % m.capacity
}

// snapshot returns retained metrics oldest first, filtered by shop.
// Empty shop matches all shops. Caller must not hold mu.
func (m *Monitor) snapshot(shop string) []Metric {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Metric, 0, m.count)
	for i := 0; i < m.count; i++ {
		metric := m.metrics[(m.start+i)%m.capacity]
		if shop != "" && metric.Shop != shop {
			continue
		}
		out = append(out, metric)
	}
	return out
}

// Status aggregates the retained metrics for a shop. Empty shop aggregates
// across all shops.
func (m *Monitor) Status(shop string) Stats {
	metrics := m.snapshot(shop)

	var stats Stats
	var totalDur time.Duration
	for _, metric := range metrics {
		stats.Total++
		if metric.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		totalDur += metric.Duration
		if metric.Timestamp.After(stats.LastProcessedAt) {
			stats.LastProcessedAt = metric.Timestamp
		}
	}
	if stats.Total > 0 {
		stats.AvgProcessingTime = totalDur / time.Duration(stats.Total)
		stats.ErrorRatePct = float64(stats.Failed) / float64(stats.Total) * 100
	}
	return stats
}

// Healthy reports whether the webhook pipeline looks sound for a shop: the
// error rate is under threshold and, when any metrics exist, the newest one
// is inside the freshness window. A shop with no metrics is healthy.
func (m *Monitor) Healthy(shop string) bool {
	stats := m.Status(shop)
	if stats.Total == 0 {
		return true
	}
	if stats.ErrorRatePct >= errorRateThresholdPct {
		return false
	}
	return m.now().UTC().Sub(stats.LastProcessedAt) <= freshnessWindow
}

// RecentFailures returns up to limit failed metrics, newest first.
func (m *Monitor) RecentFailures(shop string, limit int) []Metric {
	metrics := m.snapshot(shop)
	out := make([]Metric, 0, limit)
	for i := len(metrics) - 1; i >= 0 && len(out) < limit; i-- {
		if !metrics[i].Success {
			out = append(out, metrics[i])
		}
	}
	return out
}

// StatsByTopic aggregates the retained metrics per webhook topic.
func (m *Monitor) StatsByTopic(shop string) map[string]TopicStats {
	metrics := m.snapshot(shop)
	durations := make(map[string]time.Duration)
	out := make(map[string]TopicStats)
	for _, metric := range metrics {
		ts := out[metric.Topic]
		ts.Total++
		if !metric.Success {
			ts.Failed++
		}
		durations[metric.Topic] += metric.Duration
		if metric.Timestamp.After(ts.LastSeen) {
			ts.LastSeen = metric.Timestamp
		}
		out[metric.Topic] = ts
	}
	for topic, ts := range out {
		ts.AvgTime = durations[topic] / time.Duration(ts.Total)
		out[topic] = ts
	}
	return out
}

// Report renders a plain-text health summary for a shop.
func (m *Monitor) Report(shop string) string {
	stats := m.Status(shop)
	var b strings.Builder

	scope := shop
	if scope == "" {
		scope = "all shops"
	}
	fmt.Fprintf(&b, "Webhook health for %s\n", scope)

	if stats.Total == 0 {
		b.WriteString("No webhook activity recorded.\n")
		return b.String()
	}

	state := "HEALTHY"
	if !m.Healthy(shop) {
		state = "UNHEALTHY"
	}
	fmt.Fprintf(&b, "Status: %s\n", state)
	fmt.Fprintf(&b, "Processed: %d (%d ok, %d failed, %.1f%% error rate)\n",
		stats.Total, stats.Successful, stats.Failed, stats.ErrorRatePct)
	fmt.Fprintf(&b, "Avg processing time: %s\n", stats.AvgProcessingTime)
	fmt.Fprintf(&b, "Last processed: %s\n", stats.LastProcessedAt.Format(time.RFC3339))

	byTopic := m.StatsByTopic(shop)
	topics := make([]string, 0, len(byTopic))
	for topic := range byTopic {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		ts := byTopic[topic]
		fmt.Fprintf(&b, "  %s: %d processed, %d failed, avg %s\n",
			topic, ts.Total, ts.Failed, ts.AvgTime)
	}

	for _, f := range m.RecentFailures(shop, 5) {
		fmt.Fprintf(&b, "  FAIL %s %s (%d attempts): %s\n",
			f.Timestamp.Format(time.RFC3339), f.Topic, f.Attempts, f.Error)
	}
	return b.String()
}

// Reset discards all retained metrics.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = 0
	m.count = 0
}
