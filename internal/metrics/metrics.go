package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter names incremented by the service layer.
const (
	CounterEventsPublished   = "events_published"
	CounterTicketsIssued     = "tickets_issued"
	CounterTicketsCheckedIn  = "tickets_checked_in"
	CounterPaymentsInitiated = "payments_initiated"
	CounterPaymentsCompleted = "payments_completed"
	CounterPaymentsFailed    = "payments_failed"
	CounterWebhooksReceived  = "webhooks_received"
)

// TimerMetric is the exported view of one timer
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
}

type timer struct {
	count       int64
	totalTimeMs int64
}

// Metrics is an in-process collector exposed on /metrics. Counters and
// gauges are cheap enough to update on every operation.
type Metrics struct {
	mu           sync.RWMutex
	counters     map[string]*int64
	gauges       map[string]*int64
	timers       map[string]*timer
	healthChecks map[string]*int64
	startTime    time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:     make(map[string]*int64),
		gauges:       make(map[string]*int64),
		timers:       make(map[string]*timer),
		healthChecks: make(map[string]*int64),
		startTime:    time.Now(),
	}
}

// IncrementCounter adds one to the named counter
func (m *Metrics) IncrementCounter(name string) {
	atomic.AddInt64(m.counter(name), 1)
}

// SetGauge sets the named gauge to a point-in-time value
func (m *Metrics) SetGauge(name string, value int64) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = new(int64)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	atomic.StoreInt64(g, value)
}

// RecordTimer records one duration observation for the named timer
func (m *Metrics) RecordTimer(name string, duration time.Duration) {
	m.mu.Lock()
	t, ok := m.timers[name]
	if !ok {
		t = &timer{}
		m.timers[name] = t
	}
	m.mu.Unlock()
	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.totalTimeMs, duration.Milliseconds())
}

// SetHealthCheck records a named dependency as healthy or not
func (m *Metrics) SetHealthCheck(name string, healthy bool) {
	m.mu.Lock()
	h, ok := m.healthChecks[name]
	if !ok {
		h = new(int64)
		m.healthChecks[name] = h
	}
	m.mu.Unlock()
	var v int64
	if healthy {
		v = 1
	}
	atomic.StoreInt64(h, v)
}

func (m *Metrics) counter(name string) *int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = new(int64)
		m.counters[name] = c
	}
	return c
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counters := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		counters[name] = atomic.LoadInt64(c)
	}
	return counters
}

// GetGauges returns all gauges
func (m *Metrics) GetGauges() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gauges := make(map[string]int64, len(m.gauges))
	for name, g := range m.gauges {
		gauges[name] = atomic.LoadInt64(g)
	}
	return gauges
}

// GetTimers returns all timers
func (m *Metrics) GetTimers() map[string]TimerMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	timers := make(map[string]TimerMetric, len(m.timers))
	for name, t := range m.timers {
		count := atomic.LoadInt64(&t.count)
		totalTime := atomic.LoadInt64(&t.totalTimeMs)

		var average float64
		if count > 0 {
			average = float64(totalTime) / float64(count)
		}

		timers[name] = TimerMetric{
			Count:         count,
			TotalTimeMs:   totalTime,
			AverageTimeMs: average,
		}
	}
	return timers
}

// GetHealthChecks returns all health checks
func (m *Metrics) GetHealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	checks := make(map[string]bool, len(m.healthChecks))
	for name, h := range m.healthChecks {
		checks[name] = atomic.LoadInt64(h) > 0
	}
	return checks
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns all metrics in a structured format
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"gauges":         m.GetGauges(),
		"timers":         m.GetTimers(),
		"health_checks":  m.GetHealthChecks(),
	}
}
