package worker

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Локальный реестр воркера, чтобы не зависеть от глобального prometheus.DefaultRegistry
	registry = prometheus.NewRegistry()

	tasksReceived = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "intervention_tasks_received_total",
			Help: "Total number of intervention tasks received by the worker.",
		},
	)
	tasksFailed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "intervention_tasks_failed_total",
			Help: "Total number of intervention tasks failed, partitioned by failure reason.",
		},
		[]string{"reason"},
	)
	tasksSucceeded = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "intervention_tasks_succeeded_total",
			Help: "Total number of intervention tasks successfully processed.",
		},
	)
	taskDuration = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intervention_task_duration_seconds",
			Help:    "Duration of the intervention pipeline (text, image, commit).",
			Buckets: prometheus.DefBuckets,
		},
	)
	imagesSkipped = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "intervention_images_skipped_total",
			Help: "Total number of interventions committed without an illustration.",
		},
	)
)

// StartMetricsServer поднимает HTTP-сервер с /metrics для Prometheus.
// Запускается в отдельной горутине, ошибки только логируются.
func StartMetricsServer(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		addr := ":" + port
		log.Printf("[Metrics] Сервер метрик воркера запущен на %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("[Metrics] Сервер метрик остановлен: %v", err)
		}
	}()
}

func metricsTaskReceived()            { tasksReceived.Inc() }
func metricsTaskFailed(reason string) { tasksFailed.WithLabelValues(reason).Inc() }
func metricsTaskSucceeded()           { tasksSucceeded.Inc() }
func metricsImageSkipped()            { imagesSkipped.Inc() }

func metricsObserveTaskDuration(d time.Duration) {
	taskDuration.Observe(d.Seconds())
}
