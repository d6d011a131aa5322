package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"building-monitor/internal/models"
)

// Store куда пишутся показания
type Store interface {
	StoreReading(ctx context.Context, r models.Reading) error
	StoreAnomaly(ctx context.Context, r models.Reading) error
}

// OpRecorder учитывает результаты операций
type OpRecorder interface {
	RedisOperation(operation, status string)
}

// Writer асинхронно зеркалирует показания пулом воркеров.
// Ошибки записи не влияют на прием показаний.
type Writer struct {
	store    Store
	recorder OpRecorder
	logger   *zap.Logger
	timeout  time.Duration

	queue  chan models.Reading
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWriter создает writer с очередью queueSize
func NewWriter(store Store, queueSize int, recorder OpRecorder, logger *zap.Logger) *Writer {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		store:    store,
		recorder: recorder,
		logger:   logger,
		timeout:  2 * time.Second,
		queue:    make(chan models.Reading, queueSize),
	}
}

// Start запускает обработчики в goroutines
func (w *Writer) Start(workers int) {
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
}

// Stop закрывает очередь и ждет, пока воркеры допишут остаток
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
}

// Publish ставит показание в очередь. Если очередь полна, показание
// пропускается и возвращается false.
func (w *Writer) Publish(r models.Reading) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return false
	}

	select {
	case w.queue <- r:
		return true
	default:
		w.observe("enqueue", "dropped")
		return false
	}
}

// QueueSize текущий размер очереди
func (w *Writer) QueueSize() int {
	return len(w.queue)
}

func (w *Writer) run() {
	defer w.wg.Done()

	for r := range w.queue {
		w.write(r)
	}
}

func (w *Writer) write(r models.Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.store.StoreReading(ctx, r); err != nil {
		w.observe("store_reading", "error")
		w.logger.Debug("failed to mirror reading", zap.Int64("timestamp", r.Timestamp), zap.Error(err))
	} else {
		w.observe("store_reading", "success")
	}

	if !r.IsAnomaly {
		return
	}
	if err := w.store.StoreAnomaly(ctx, r); err != nil {
		w.observe("store_anomaly", "error")
		w.logger.Warn("failed to mirror anomaly", zap.Int64("timestamp", r.Timestamp), zap.Error(err))
	} else {
		w.observe("store_anomaly", "success")
	}
}

func (w *Writer) observe(op, status string) {
	if w.recorder != nil {
		w.recorder.RedisOperation(op, status)
	}
}
