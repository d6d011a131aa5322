package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics набор метрик сервиса, зарегистрированных в одном реестре
type Metrics struct {
	// RequestsTotal общее количество запросов
	RequestsTotal *prometheus.CounterVec

	// RequestDuration продолжительность запросов
	RequestDuration *prometheus.HistogramVec

	// DataPointsReceived попытки приема показаний, включая невалидные
	DataPointsReceived prometheus.Counter

	// AnomaliesDetected обнаруженные аномалии
	AnomaliesDetected prometheus.Counter

	// ActiveAnomalies текущее число активных аномалий
	ActiveAnomalies prometheus.Gauge

	// ClassificationDegraded классификации без достоверного вердикта
	ClassificationDegraded *prometheus.CounterVec

	// ModelLoaded 1, если модель загружена
	ModelLoaded prometheus.Gauge

	// MirrorQueueSize размер очереди записи в Redis
	MirrorQueueSize prometheus.Gauge

	// RedisOperations операции с Redis
	RedisOperations *prometheus.CounterVec
}

// New регистрирует метрики в reg. Для тестов передается prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		DataPointsReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "data_points_received_total",
				Help: "Total number of data points received by the application",
			},
		),
		AnomaliesDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "anomalies_detected_total",
				Help: "Total number of anomalies detected",
			},
		),
		ActiveAnomalies: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_anomalies",
				Help: "Current number of active anomalies being reported",
			},
		),
		ClassificationDegraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classification_degraded_total",
				Help: "Classifications that fell back to normal without a model verdict",
			},
			[]string{"reason"},
		),
		ModelLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "model_loaded",
				Help: "1 if the anomaly detection model is loaded",
			},
		),
		MirrorQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_queue_size",
				Help: "Current size of the Redis mirror queue",
			},
		),
		RedisOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redis_operations_total",
				Help: "Total number of Redis operations",
			},
			[]string{"operation", "status"},
		),
	}
}

// ReadingReceived учитывает попытку приема показания
func (m *Metrics) ReadingReceived() {
	m.DataPointsReceived.Inc()
}

// AnomalyDetected учитывает новую аномалию
func (m *Metrics) AnomalyDetected() {
	m.AnomaliesDetected.Inc()
}

// SetActiveAnomalies обновляет gauge активных аномалий
func (m *Metrics) SetActiveAnomalies(n int) {
	m.ActiveAnomalies.Set(float64(n))
}

// Degraded учитывает классификацию без вердикта модели
func (m *Metrics) Degraded(reason string) {
	m.ClassificationDegraded.WithLabelValues(reason).Inc()
}

// RedisOperation учитывает операцию с Redis
func (m *Metrics) RedisOperation(operation, status string) {
	m.RedisOperations.WithLabelValues(operation, status).Inc()
}

// SetModelLoaded выставляет состояние модели
func (m *Metrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoaded.Set(1)
		return
	}
	m.ModelLoaded.Set(0)
}
