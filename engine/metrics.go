package engine

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal          *prometheus.CounterVec
	taskDurationSeconds *prometheus.HistogramVec
	navigationsTotal    *prometheus.CounterVec
	blockedPagesTotal   *prometheus.CounterVec
	activeTasksGauge    prometheus.Gauge
	queuedTasksGauge    prometheus.Gauge
	browsersGauge       prometheus.Gauge
	contextsGauge       prometheus.Gauge

	metricsOnce sync.Once
)

// InitMetrics registers the engine collectors with the default registry.
// It is safe to call multiple times.
func InitMetrics() {
	metricsOnce.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopcrawl_tasks_total",
				Help: "Crawl tasks executed, labeled by type, platform and outcome.",
			},
			[]string{"type", "platform", "status"},
		)
		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopcrawl_task_duration_seconds",
				Help:    "Crawl task wall time, labeled by type.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"type"},
		)
		navigationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopcrawl_navigations_total",
				Help: "Page navigations, labeled by platform and outcome.",
			},
			[]string{"platform", "status"},
		)
		blockedPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopcrawl_blocked_pages_total",
				Help: "Pages that matched a block or verification pattern.",
			},
			[]string{"platform"},
		)
		activeTasksGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shopcrawl_active_tasks",
			Help: "Tasks currently executing.",
		})
		queuedTasksGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shopcrawl_queued_tasks",
			Help: "Tasks waiting for an execution slot.",
		})
		browsersGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shopcrawl_browsers",
			Help: "Pooled browser processes.",
		})
		contextsGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shopcrawl_browser_contexts",
			Help: "Open browser contexts.",
		})
	})
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func observeTask(taskType, platform string, ok bool, elapsed time.Duration) {
	status := "success"
	if !ok {
		status = "failure"
	}
	tasksTotal.WithLabelValues(taskType, platform, status).Inc()
	taskDurationSeconds.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

func observeNavigation(platform string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	navigationsTotal.WithLabelValues(platform, status).Inc()
}
