package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"attendance/internal/attendance"
)

// Engine holds the collectors for session and attendance activity.
type Engine struct {
	PresenceEvents      *prometheus.CounterVec
	RecordsMarked       *prometheus.CounterVec
	ForceLogouts        prometheus.Counter
	ActiveTimers        prometheus.Gauge
	PersistenceFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Engine {
	m := &Engine{
		PresenceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_presence_events_total",
			Help: "Presence events handled, by event.",
		}, []string{"event"}),
		RecordsMarked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_records_marked_total",
			Help: "Attendance records written, by status and marker.",
		}, []string{"status", "marked_by"}),
		ForceLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_force_logouts_total",
			Help: "Force-logout notifications sent on device transfer.",
		}),
		ActiveTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attendance_active_timers",
			Help: "Countdown timers currently running in this process.",
		}),
		PersistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_persistence_failures_total",
			Help: "Failed storage operations, by operation.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.PresenceEvents, m.RecordsMarked, m.ForceLogouts, m.ActiveTimers, m.PersistenceFailures)
	}
	return m
}

// RecordWritten counts a persisted attendance record.
func (m *Engine) RecordWritten(_ context.Context, rec attendance.Record) {
	m.RecordsMarked.WithLabelValues(string(rec.Status), string(rec.MarkedBy)).Inc()
}

// Event counts one presence event.
func (m *Engine) Event(name string) {
	m.PresenceEvents.WithLabelValues(name).Inc()
}

// Failure counts a failed storage operation.
func (m *Engine) Failure(op string) {
	m.PersistenceFailures.WithLabelValues(op).Inc()
}
