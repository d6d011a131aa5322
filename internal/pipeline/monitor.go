// Package pipeline принимает показания датчиков: валидация, метка времени,
// классификация, запись в историю и трекер аномалий.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"building-monitor/internal/classifier"
	"building-monitor/internal/history"
	"building-monitor/internal/models"
	"building-monitor/internal/tracker"
)

const (
	MessageNoData        = "No JSON data received"
	MessageMissingFields = "Missing required sensor data fields"
	MessageProcessed     = "Data received and processed"
	MessageInternal      = "Internal error while processing data"
)

var (
	// ErrValidation пустой запрос или нет обязательных полей
	ErrValidation = errors.New("validation failed")
	// ErrInternal непредвиденный сбой при записи показания
	ErrInternal = errors.New("internal error")
)

// Recorder счетчики для наблюдаемости
type Recorder interface {
	ReadingReceived()
	AnomalyDetected()
	SetActiveAnomalies(n int)
	Degraded(reason string)
}

// Sink получатель принятых показаний (например, зеркало в Redis).
// Publish не должен блокировать.
type Sink interface {
	Publish(r models.Reading) bool
}

type nopRecorder struct{}

func (nopRecorder) ReadingReceived() {}
func (nopRecorder) AnomalyDetected() {}
func (nopRecorder) SetActiveAnomalies(int) {}
func (nopRecorder) Degraded(string) {}

// Option настраивает Monitor
type Option func(*Monitor)

// WithHistorySize задает емкость истории
func WithHistorySize(n int) Option {
	return func(m *Monitor) { m.history = history.New(n) }
}

// WithRecorder подключает счетчики
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithSink подключает получателя принятых показаний
func WithSink(s Sink) Option {
	return func(m *Monitor) { m.sink = s }
}

// WithLogger задает логгер
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithClock подменяет часы, используется в тестах
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor владеет историей, трекером аномалий и классификатором.
// Запись сериализована, чтение видит согласованный снимок.
type Monitor struct {
	classifier *classifier.Classifier
	history    *history.Buffer
	tracker    *tracker.Tracker
	recorder   Recorder
	sink       Sink
	logger     *zap.Logger
	now        func() time.Time

	mu            sync.RWMutex
	lastTimestamp int64
	received      atomic.Uint64

	// recordHook вызывается внутри фазы записи, только для тестов
	recordHook func()
}

// New создает монитор поверх классификатора
func New(c *classifier.Classifier, opts ...Option) *Monitor {
	m := &Monitor{
		classifier: c,
		history:    history.New(history.DefaultCapacity),
		tracker:    tracker.New(),
		recorder:   nopRecorder{},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OutcomeKind итог обработки показания
type OutcomeKind int

const (
	Accepted OutcomeKind = iota
	Rejected
	Failed
)

// Outcome результат Ingest
type Outcome struct {
	Kind      OutcomeKind
	IsAnomaly bool
	Message   string
	Reading   models.Reading
	Degraded  bool
	Err       error
}

// OK true, если показание принято
func (o Outcome) OK() bool {
	return o.Kind == Accepted
}

// Ingest обрабатывает одно показание. Ошибки не паникуют наружу,
// а возвращаются в Outcome.
func (m *Monitor) Ingest(raw map[string]any) (out Outcome) {
	m.received.Add(1)
	m.recorder.ReadingReceived()

	if err := validate(raw); err != nil {
		msg := MessageMissingFields
		if len(raw) == 0 {
			msg = MessageNoData
		}
		return Outcome{Kind: Rejected, Message: msg, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("failed to process sensor data", zap.Any("panic", r))
			out = Outcome{
				Kind:    Failed,
				Message: MessageInternal,
				Err:     fmt.Errorf("%w: %v", ErrInternal, r),
			}
		}
	}()

	result, features := m.classifier.ClassifyFields(raw)
	if result.IsDegraded() {
		m.recorder.Degraded(degradedReason(m.classifier))
	}

	reading := models.Reading{
		Temperature: features[0],
		Humidity:    features[1],
		Pressure:    features[2],
		Vibration:   features[3],
		IsAnomaly:   result.IsAnomaly(),
		Status:      result.Status(),
	}
	reading = m.record(reading)

	if reading.IsAnomaly {
		m.logger.Warn("anomaly detected",
			zap.Int64("timestamp", reading.Timestamp),
			zap.Float64("temperature", reading.Temperature),
			zap.Float64("humidity", reading.Humidity),
			zap.Float64("pressure", reading.Pressure),
			zap.Float64("vibration", reading.Vibration))
	}

	if m.sink != nil {
		m.sink.Publish(reading)
	}

	return Outcome{
		Kind:      Accepted,
		IsAnomaly: reading.IsAnomaly,
		Message:   MessageProcessed,
		Reading:   reading,
		Degraded:  result.IsDegraded(),
	}
}

// record единственная секция, меняющая историю и трекер.
// Здесь же показанию присваивается метка времени.
func (m *Monitor) record(r models.Reading) models.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recordHook != nil {
		m.recordHook()
	}

	// Метка времени выдается под блокировкой и не убывает в порядке записи
	r.Timestamp = max(m.now().UnixMilli(), m.lastTimestamp)
	m.lastTimestamp = r.Timestamp

	m.history.Append(r)

	var active int
	if r.IsAnomaly {
		active = m.tracker.RecordAnomaly(r)
		m.recorder.AnomalyDetected()
	} else {
		_, active = m.tracker.RecordNormal(r)
	}
	m.recorder.SetActiveAnomalies(active)

	return r
}

func validate(raw map[string]any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrValidation)
	}
	for _, name := range models.FeatureNames {
		if _, ok := raw[name]; !ok {
			return fmt.Errorf("%w: missing field %q", ErrValidation, name)
		}
	}
	return nil
}

func degradedReason(c *classifier.Classifier) string {
	if !c.Loaded() {
		return "model_not_loaded"
	}
	return "prediction_error"
}

// Snapshot согласованный снимок истории и активных аномалий
func (m *Monitor) Snapshot() models.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return models.Snapshot{
		RecentData: m.history.Snapshot(),
		Anomalies:  m.tracker.Snapshot(),
	}
}

// ActiveCount число активных аномалий
func (m *Monitor) ActiveCount() int {
	return m.tracker.ActiveCount()
}

// Stats сводка для /stats и метрик
type Stats struct {
	ReadingsReceived  uint64 `json:"readings_received"`
	AnomaliesDetected uint64 `json:"anomalies_detected"`
	ActiveAnomalies   int    `json:"active_anomalies"`
	HistoryLength     int    `json:"history_length"`
	HistoryCapacity   int    `json:"history_capacity"`
	ModelLoaded       bool   `json:"model_loaded"`
}

// Stats возвращает статистику монитора
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		ReadingsReceived:  m.received.Load(),
		AnomaliesDetected: m.tracker.Detected(),
		ActiveAnomalies:   m.tracker.ActiveCount(),
		HistoryLength:     m.history.Len(),
		HistoryCapacity:   m.history.Cap(),
		ModelLoaded:       m.classifier.Loaded(),
	}
}
