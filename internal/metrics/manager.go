// Package metrics exposes the Prometheus instruments of the counting engine
// and its HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager holds every instrument. A nil *Manager is valid and records nothing,
// so library users that do not scrape metrics can pass nil.
type Manager struct {
	// counters
	CounterFrames     prometheus.Counter
	CounterSideFaults *prometheus.CounterVec
	CounterReps       *prometheus.CounterVec
	CounterSets       *prometheus.CounterVec
	CounterSessions   *prometheus.CounterVec
	CounterRequests   *prometheus.CounterVec

	// gauges
	GaugeLiveSessions prometheus.Gauge

	// histograms
	HistRepRange        *prometheus.HistogramVec
	HistRequestDuration prometheus.Histogram
}

// NewTestManager returns a manager on a private registry.
func NewTestManager() *Manager {
	return NewManager("rehabreps", "test", prometheus.NewRegistry())
}

// NewTestManagerAndRegistry returns a manager and the registry it registered with.
func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("rehabreps", "test", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	return &Manager{
		CounterFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames",
			Help:      "The total number of landmark frames processed",
		}),
		CounterSideFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "side_faults",
			Help:      "Tracked sides whose landmarks were missing or degenerate in a frame",
		}, []string{"reason"}),
		CounterReps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reps",
			Help:      "Completed rep cycles",
		}, []string{"exercise", "side", "counted"}),
		CounterSets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sets_completed",
			Help:      "Completed sets",
		}, []string{"exercise"}),
		CounterSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Session lifecycle transitions",
		}, []string{"status"}),
		CounterRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request",
			Help:      "The total number of incoming requests",
		}, []string{"method", "status"}),
		GaugeLiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "live_sessions",
			Help:      "Sessions currently held in memory",
		}),
		HistRepRange: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rep_range_degrees",
			Help:      "Range of motion achieved per completed rep",
			Buckets:   []float64{10, 20, 30, 45, 60, 75, 90, 110, 130, 150, 180},
		}, []string{"exercise"}),
		HistRequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Total duration of requests in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

// Frame counts one processed frame.
func (m *Manager) Frame() {
	if m == nil {
		return
	}
	m.CounterFrames.Inc()
}

// SideFault counts a side whose angle could not be measured, by reason ("missing", "degenerate").
func (m *Manager) SideFault(reason string) {
	if m == nil {
		return
	}
	m.CounterSideFaults.WithLabelValues(reason).Inc()
}

// Rep records one finished cycle.
func (m *Manager) Rep(exercise, side string, counted bool, span float64) {
	if m == nil {
		return
	}
	m.CounterReps.WithLabelValues(exercise, side, strconv.FormatBool(counted)).Inc()
	if counted {
		m.HistRepRange.WithLabelValues(exercise).Observe(span)
	}
}

// SetCompleted counts a finished set.
func (m *Manager) SetCompleted(exercise string) {
	if m == nil {
		return
	}
	m.CounterSets.WithLabelValues(exercise).Inc()
}

// Session counts a lifecycle transition ("started", "completed", "aborted").
func (m *Manager) Session(status string) {
	if m == nil {
		return
	}
	m.CounterSessions.WithLabelValues(status).Inc()
}

// LiveSessions sets the in-memory session gauge.
func (m *Manager) LiveSessions(n int) {
	if m == nil {
		return
	}
	m.GaugeLiveSessions.Set(float64(n))
}

// Request records one HTTP request.
func (m *Manager) Request(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.CounterRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HistRequestDuration.Observe(d.Seconds())
}
