package authkit

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed logins across every flow.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts credential-stage login failures.
	MetricLoginFailure
	// MetricChallengeIssued counts two-factor handshakes started.
	MetricChallengeIssued
	// MetricOTPIssued counts one-time codes generated.
	MetricOTPIssued
	// MetricOTPInvalid counts missing, expired, or mismatched codes.
	MetricOTPInvalid
	// MetricOTPExhausted counts codes that burned all attempts.
	MetricOTPExhausted
	// MetricRefreshSuccess counts completed rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh tokens.
	MetricRefreshFailure
	// MetricPasswordChangeSuccess counts completed password changes.
	MetricPasswordChangeSuccess
	// MetricPasswordChangeFailure counts rejected password changes.
	MetricPasswordChangeFailure
	// MetricResetRequested counts reset grants issued.
	MetricResetRequested
	// MetricResetSuccess counts completed resets.
	MetricResetSuccess
	// MetricResetFailure counts rejected reset tokens.
	MetricResetFailure
	// MetricAccountCreated counts accounts created through the engine.
	MetricAccountCreated
	// MetricAccountDuplicate counts creates rejected as duplicates.
	MetricAccountDuplicate
	// MetricLogout counts single-token logouts.
	MetricLogout
	// MetricLogoutAll counts whole-account logouts.
	MetricLogoutAll
	// MetricSweeperRuns counts background sweep passes.
	MetricSweeperRuns
	// MetricSweeperPurged counts records removed by the sweeper.
	MetricSweeperPurged
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed array of atomic counters. A nil or disabled Metrics
// is safe to use everywhere.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
