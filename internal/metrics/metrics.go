package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_orchestrator_tasks_created_total",
		Help: "Total number of download tasks created, counting every tree node",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_orchestrator_tasks_completed_total",
		Help: "Total number of root download tasks that reached completed",
	})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "download_orchestrator_commands_total",
		Help: "Bulk commands executed, by command and outcome",
	}, []string{"command", "outcome"})

	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "download_orchestrator_jobs_started_total",
		Help: "Jobs started by the scheduler, by kind",
	}, []string{"kind"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "download_orchestrator_jobs_finished_total",
		Help: "Jobs finished, by kind and final status",
	}, []string{"kind", "status"})

	ActiveJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "download_orchestrator_active_jobs",
		Help: "Jobs currently queued or running, by kind",
	}, []string{"kind"})

	DownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_orchestrator_downloads_total",
		Help: "Total number of file download attempts",
	})

	DownloadsSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_orchestrator_downloads_success_total",
		Help: "Total number of successful file downloads",
	})

	DownloadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_orchestrator_downloads_failed_total",
		Help: "Total number of failed file downloads",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "download_orchestrator_download_duration_seconds",
		Help:    "File download duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_orchestrator_download_bytes_total",
		Help: "Total bytes downloaded",
	})

	MergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "download_orchestrator_merges_total",
		Help: "File merge jobs, by outcome",
	}, []string{"outcome"})

	ProbeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "download_orchestrator_probe_attempts_total",
		Help: "Connectivity probe attempts, by outcome",
	}, []string{"outcome"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "download_orchestrator_events_published_total",
		Help: "Events published on the in-process bus, by type",
	}, []string{"event"})
)
