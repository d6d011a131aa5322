package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"building-monitor/internal/metrics"
	"building-monitor/internal/models"
	"building-monitor/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// Mirror зеркало в Redis, доступное для чтения
type Mirror interface {
	RecentAnomalies(ctx context.Context, limit int) ([]models.Reading, error)
	Ping(ctx context.Context) error
	GetStats() map[string]interface{}
}

// Handler обработчик HTTP запросов
type Handler struct {
	monitor *pipeline.Monitor
	mirror  Mirror
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler создает новый обработчик. mirror может быть nil.
func NewHandler(monitor *pipeline.Monitor, mirror Mirror, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		monitor: monitor,
		mirror:  mirror,
		metrics: m,
		logger:  logger,
	}
}

// Routes собирает маршруты вместе с middleware
func (h *Handler) Routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/sensor_data", h.SubmitReading)
	mux.HandleFunc("/sensor_data/batch", h.BatchSubmitReadings)
	mux.HandleFunc("/data", h.GetData)
	mux.HandleFunc("/analytics", h.GetAnalytics)
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/stats", h.GetStats)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return RequestID(Logging(h.logger)(Recovery(h.logger)(mux)))
}

func (h *Handler) observe(r *http.Request, endpoint string, start time.Time, status int) {
	h.metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	h.metrics.RequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
}

// SubmitReading обрабатывает POST /sensor_data
func (h *Handler) SubmitReading(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		h.observe(r, "/sensor_data", start, http.StatusMethodNotAllowed)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Невалидный JSON тоже считается попыткой и отклоняется как пустой
	raw, err := decodePayload(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Debug("invalid sensor payload", zap.Error(err))
	}

	out := h.monitor.Ingest(raw)
	status := statusFor(out)
	h.observe(r, "/sensor_data", start, status)

	if !out.OK() {
		if out.Kind == pipeline.Failed {
			h.logger.Error("sensor data processing failed", zap.Error(out.Err))
		}
		writeJSON(w, status, models.ErrorResponse{Status: "error", Message: out.Message})
		return
	}

	writeJSON(w, status, models.IngestResponse{
		Status:    "success",
		Message:   out.Message,
		IsAnomaly: out.IsAnomaly,
	})
}

// BatchSubmitReadings обрабатывает POST /sensor_data/batch
func (h *Handler) BatchSubmitReadings(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		h.observe(r, "/sensor_data/batch", start, http.StatusMethodNotAllowed)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var batch []map[string]any
	if err := dec.Decode(&batch); err != nil {
		h.observe(r, "/sensor_data/batch", start, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Status: "error", Message: "Invalid JSON"})
		return
	}

	resp := models.BatchResponse{Status: "success", Total: len(batch)}
	for _, raw := range batch {
		out := h.monitor.Ingest(raw)
		if !out.OK() {
			continue
		}
		resp.Accepted++
		if out.IsAnomaly {
			resp.Anomalies++
		}
	}

	h.observe(r, "/sensor_data/batch", start, http.StatusOK)
	writeJSON(w, http.StatusOK, resp)
}

// GetData обрабатывает GET /data
func (h *Handler) GetData(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodGet {
		h.observe(r, "/data", start, http.StatusMethodNotAllowed)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.monitor.Snapshot()
	h.observe(r, "/data", start, http.StatusOK)
	writeJSON(w, http.StatusOK, snapshot)
}

// GetAnalytics обрабатывает GET /analytics: аномалии из зеркала в Redis
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if h.mirror == nil {
		h.observe(r, "/analytics", start, http.StatusServiceUnavailable)
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Status: "error", Message: "Redis mirror is disabled"})
		return
	}

	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.observe(r, "/analytics", start, http.StatusBadRequest)
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Status: "error", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	anomalies, err := h.mirror.RecentAnomalies(r.Context(), limit)
	if err != nil {
		h.metrics.RedisOperation("get_anomalies", "error")
		h.logger.Warn("failed to read anomalies from redis", zap.Error(err))
		h.observe(r, "/analytics", start, http.StatusInternalServerError)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Status: "error", Message: "Failed to retrieve analytics"})
		return
	}

	h.metrics.RedisOperation("get_anomalies", "success")
	h.observe(r, "/analytics", start, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anomaly_count": len(anomalies),
		"anomalies":     anomalies,
	})
}

// HealthCheck обрабатывает GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	stats := h.monitor.Stats()

	status := "healthy"
	httpStatus := http.StatusOK
	if !stats.ModelLoaded {
		status = "degraded"
	}

	body := map[string]interface{}{
		"model_loaded": stats.ModelLoaded,
		"timestamp":    time.Now(),
	}

	if h.mirror != nil {
		redisOK := h.mirror.Ping(r.Context()) == nil
		body["redis"] = redisOK
		if !redisOK {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	body["status"] = status

	h.observe(r, "/health", start, httpStatus)
	writeJSON(w, httpStatus, body)
}

// GetStats обрабатывает GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body := map[string]interface{}{
		"monitor":   h.monitor.Stats(),
		"timestamp": time.Now(),
	}
	if h.mirror != nil {
		body["redis"] = h.mirror.GetStats()
	}

	h.observe(r, "/stats", start, http.StatusOK)
	writeJSON(w, http.StatusOK, body)
}

func decodePayload(body io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

func statusFor(out pipeline.Outcome) int {
	switch out.Kind {
	case pipeline.Accepted:
		return http.StatusOK
	case pipeline.Rejected:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
