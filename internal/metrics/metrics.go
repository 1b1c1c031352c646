package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	JobsSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobrunner_jobs_submitted_total",
			Help: "Total number of jobs accepted by the submission endpoint",
		},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobrunner_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"status"}, // completed, failed
	)

	JobsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobrunner_jobs_evicted_total",
			Help: "Total number of finished job records removed after their TTL",
		},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobrunner_events_published_total",
			Help: "Total number of events delivered to channel subscribers",
		},
		[]string{"event"},
	)

	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobrunner_events_dropped_total",
			Help: "Events discarded because a subscriber's send buffer was full",
		},
		[]string{"event"},
	)

	// Gauges
	ActiveDrivers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobrunner_active_drivers",
			Help: "Number of job lifecycle drivers currently running",
		},
	)

	StoredJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobrunner_stored_jobs",
			Help: "Number of job records held in memory",
		},
	)

	ChannelConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobrunner_channel_connections",
			Help: "Number of open event channel connections",
		},
	)
)

// RecordJobFinished increments the terminal-state counter for status.
func RecordJobFinished(status string) {
	JobsFinishedTotal.WithLabelValues(status).Inc()
}

// RecordEvent counts a delivered or dropped event.
func RecordEvent(event string, delivered bool) {
	if delivered {
		EventsPublishedTotal.WithLabelValues(event).Inc()
		return
	}
	EventsDroppedTotal.WithLabelValues(event).Inc()
}
