package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OpenNotes tracks the number of DocumentSnapshots currently cached.
	OpenNotes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notecove_open_notes",
			Help: "Number of notes currently held in the document cache",
		},
	)

	RegisteredSDs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notecove_registered_storage_directories",
			Help: "Number of storage directories currently registered",
		},
	)

	LocalUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecove_local_updates_total",
			Help: "Total number of local updates applied",
		},
	)

	RemoteUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notecove_remote_updates_total",
			Help: "Total number of remote updates applied, by outcome",
		},
		[]string{"outcome"}, // applied, sequence_violation
	)

	LocalUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notecove_local_update_duration_seconds",
			Help:    "Time to append and apply a local update",
			Buckets: prometheus.DefBuckets,
		},
	)

	LoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notecove_load_duration_seconds",
			Help:    "Time to cold-load a note from snapshot + log tail",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notecove_snapshot_write_duration_seconds",
			Help:    "Time to write a snapshot, including the status flip",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotGCDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecove_snapshot_gc_deleted_total",
			Help: "Total number of log files deleted by garbage collection",
		},
	)

	ActivityCompactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecove_activity_compactions_total",
			Help: "Total number of activity log compactions performed",
		},
	)

	ActivityGapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecove_activity_gaps_total",
			Help: "Total number of activity-log gaps detected, triggering a full scan",
		},
	)

	WatcherEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notecove_watcher_events_total",
			Help: "Total number of normalized filesystem events observed, by kind",
		},
		[]string{"kind"}, // log, snapshot, activity, poll
	)

	ReloadQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notecove_reload_queue_depth",
			Help: "Number of reload tasks currently pending or waiting",
		},
	)

	ReloadOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notecove_reload_outcomes_total",
			Help: "Total number of reload tasks resolved, by outcome",
		},
		[]string{"outcome"}, // applied, stale
	)

	StaleSyncs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notecove_stale_syncs",
			Help: "Number of reload tasks currently parked in the stale-sync list",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OpenNotes,
		RegisteredSDs,
		LocalUpdatesTotal,
		RemoteUpdatesTotal,
		LocalUpdateDuration,
		LoadDuration,
		SnapshotWriteDuration,
		SnapshotGCDeletedTotal,
		ActivityCompactionsTotal,
		ActivityGapsTotal,
		WatcherEventsTotal,
		ReloadQueueDepth,
		ReloadOutcomesTotal,
		StaleSyncs,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
